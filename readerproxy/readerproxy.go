// Package readerproxy implements the writer-side per-reader protocol
// state machine: the set of sequence numbers sent, acknowledged and
// requested for one matched reader, plus its heartbeat timing.
//
// A ReaderProxy holds no lock of its own — the RTPS stateful writer is a
// single-threaded state machine (mutations of change set, reader
// proxies and heartbeat timers are all serialised by the writer's own
// lock), so synchronising here too would just be redundant. Callers
// outside rtpswriter that need concurrent access must provide their own
// serialisation.
package readerproxy

import (
	"time"

	"github.com/nimbus-dds/writer/guid"
	"github.com/nimbus-dds/writer/internal/ring"
	"github.com/nimbus-dds/writer/locator"
	"github.com/nimbus-dds/writer/qos"
	"github.com/nimbus-dds/writer/seqnum"
)

// ReaderProxy is the writer's view of one matched reader.
type ReaderProxy struct {
	RemoteReaderGUID guid.GUID
	ExpectsInlineQoS bool
	Reliability      qos.ReliabilityKind
	Durability       qos.DurabilityKind

	UnicastLocators   []locator.Locator
	MulticastLocators []locator.Locator

	firstRelevantSampleSeqNum seqnum.SequenceNumber
	highestSentSeqNum         seqnum.SequenceNumber
	highestAckedSeqNum        seqnum.SequenceNumber

	requested *ring.Ring[seqnum.SequenceNumber]

	LastReceivedAcknackCount  int32
	LastReceivedNackFragCount int32

	Heartbeat HeartbeatMachine
}

const initialRequestedSize = 16

// New constructs a ReaderProxy for a freshly matched reader.
// firstRelevantSampleSeqNum should be the writer's current max sequence
// number for a Volatile reader, or seqnum.Zero for a reader with any
// other durability (per spec §3: a durable reader may catch up on
// history the writer already holds).
func New(
	remoteReaderGUID guid.GUID,
	expectsInlineQoS bool,
	reliability qos.ReliabilityKind,
	durability qos.DurabilityKind,
	unicastLocators, multicastLocators []locator.Locator,
	firstRelevantSampleSeqNum seqnum.SequenceNumber,
) *ReaderProxy {
	return &ReaderProxy{
		RemoteReaderGUID:          remoteReaderGUID,
		ExpectsInlineQoS:          expectsInlineQoS,
		Reliability:               reliability,
		Durability:                durability,
		UnicastLocators:           unicastLocators,
		MulticastLocators:         multicastLocators,
		firstRelevantSampleSeqNum: firstRelevantSampleSeqNum,
		requested:                 ring.New[seqnum.SequenceNumber](initialRequestedSize),
	}
}

// Descriptor is the subset of a ReaderProxy's fields a caller supplies
// when matching a reader, before first_relevant_sample_seq_num is
// derived from the writer's current state.
type Descriptor struct {
	RemoteReaderGUID  guid.GUID
	ExpectsInlineQoS  bool
	Reliability       qos.ReliabilityKind
	Durability        qos.DurabilityKind
	UnicastLocators   []locator.Locator
	MulticastLocators []locator.Locator
}

// FromDescriptor builds a ReaderProxy for a freshly matched reader,
// deriving first_relevant_sample_seq_num the way add_matched_reader
// does: a Volatile reader only ever sees samples published after it
// joined, so it starts at the writer's current max sequence number;
// any other durability may catch up on history the writer still holds,
// so it starts at seqnum.Zero.
func FromDescriptor(d Descriptor, currentMaxSeqNum seqnum.SequenceNumber) *ReaderProxy {
	first := seqnum.Zero
	if d.Durability == qos.Volatile {
		first = currentMaxSeqNum
	}
	return New(d.RemoteReaderGUID, d.ExpectsInlineQoS, d.Reliability, d.Durability, d.UnicastLocators, d.MulticastLocators, first)
}

// FirstRelevantSampleSeqNum returns the smallest sequence number this
// reader may ever receive. It never decreases.
func (p *ReaderProxy) FirstRelevantSampleSeqNum() seqnum.SequenceNumber {
	return p.firstRelevantSampleSeqNum
}

// HighestSentSeqNum returns the highest sequence number for which a
// DATA/DATA_FRAG or GAP has been sent to this reader.
func (p *ReaderProxy) HighestSentSeqNum() seqnum.SequenceNumber {
	return p.highestSentSeqNum
}

// SetHighestSentSeqNum advances highest_sent_seq_num. It panics if n
// would make the field decrease, since every caller in the send loops
// only ever advances it.
func (p *ReaderProxy) SetHighestSentSeqNum(n seqnum.SequenceNumber) {
	if n < p.highestSentSeqNum {
		panic("readerproxy: highest sent sequence number must not decrease")
	}
	p.highestSentSeqNum = n
}

// HighestAckedSeqNum returns the highest sequence number confirmed
// received (cumulative ACK base minus one).
func (p *ReaderProxy) HighestAckedSeqNum() seqnum.SequenceNumber {
	return p.highestAckedSeqNum
}

// NextUnsentChange returns the smallest sequence number s such that
// s > highest_sent_seq_num and s <= max, where max is the largest
// sequence number currently held by the writer's change set (hasMax is
// false when the set is empty). It returns false when
// highest_sent_seq_num already covers every change, matching the
// "including s for which no change exists" clause: the caller is
// expected to emit a GAP for such s rather than find a change.
func (p *ReaderProxy) NextUnsentChange(max seqnum.SequenceNumber, hasMax bool) (seqnum.SequenceNumber, bool) {
	if !hasMax || p.highestSentSeqNum >= max {
		return 0, false
	}
	return p.highestSentSeqNum + 1, true
}

// UnsentChanges reports whether NextUnsentChange would return true.
func (p *ReaderProxy) UnsentChanges(max seqnum.SequenceNumber, hasMax bool) bool {
	_, ok := p.NextUnsentChange(max, hasMax)
	return ok
}

// UnackedChanges reports whether this reader has not yet acknowledged
// up to seqNumMax.
func (p *ReaderProxy) UnackedChanges(seqNumMax seqnum.SequenceNumber) bool {
	return p.highestAckedSeqNum < seqNumMax
}

// AckedChangesSet sets highest_acked_seq_num to n. It is a no-op if n
// does not exceed the current value: callers are guarded by the
// monotone ACKNACK count, but the invariant is enforced here too.
func (p *ReaderProxy) AckedChangesSet(n seqnum.SequenceNumber) {
	if n > p.highestAckedSeqNum {
		p.highestAckedSeqNum = n
	}
}

// RequestedChangesSet unions seqNums into the requested set, dropping
// any sequence number this reader could never have received (at or
// below first_relevant_sample_seq_num).
func (p *ReaderProxy) RequestedChangesSet(seqNums []seqnum.SequenceNumber) {
	for _, n := range seqNums {
		if n <= p.firstRelevantSampleSeqNum {
			continue
		}
		idx := p.requested.Search(n)
		if idx < p.requested.Len() && p.requested.Get(idx) == n {
			continue
		}
		p.requested.Insert(idx, n)
	}
}

// RequestedChanges returns the currently requested sequence numbers in
// ascending order, without draining them.
func (p *ReaderProxy) RequestedChanges() []seqnum.SequenceNumber {
	return p.requested.Slice()
}

// NextRequestedChange removes and returns the smallest requested
// sequence number.
func (p *ReaderProxy) NextRequestedChange() (seqnum.SequenceNumber, bool) {
	return p.requested.PopMin()
}

// Snapshot is a read-only copy of a ReaderProxy's state, safe to hand to
// a metrics collector without exposing live mutable state or requiring
// the collector to take the writer's lock for longer than the copy.
type Snapshot struct {
	RemoteReaderGUID          guid.GUID
	Reliability               qos.ReliabilityKind
	Durability                qos.DurabilityKind
	FirstRelevantSampleSeqNum seqnum.SequenceNumber
	HighestSentSeqNum         seqnum.SequenceNumber
	HighestAckedSeqNum        seqnum.SequenceNumber
	RequestedCount            int
	HeartbeatCount            int32
	LastReceivedAcknackCount  int32
	LastReceivedNackFragCount int32
}

// Snapshot copies p's current state.
func (p *ReaderProxy) Snapshot() Snapshot {
	return Snapshot{
		RemoteReaderGUID:          p.RemoteReaderGUID,
		Reliability:               p.Reliability,
		Durability:                p.Durability,
		FirstRelevantSampleSeqNum: p.firstRelevantSampleSeqNum,
		HighestSentSeqNum:         p.highestSentSeqNum,
		HighestAckedSeqNum:        p.highestAckedSeqNum,
		RequestedCount:            p.requested.Len(),
		HeartbeatCount:            p.Heartbeat.count,
		LastReceivedAcknackCount:  p.LastReceivedAcknackCount,
		LastReceivedNackFragCount: p.LastReceivedNackFragCount,
	}
}

// HeartbeatMachine tracks the local timing state behind periodic,
// final and liveliness heartbeat emission for one reader proxy.
type HeartbeatMachine struct {
	lastEmissionTime time.Time
	count            int32
}

// IsTimeForHeartbeat reports whether period has elapsed since the last
// emitted heartbeat (or whether none has ever been emitted).
func (h *HeartbeatMachine) IsTimeForHeartbeat(now time.Time, period time.Duration) bool {
	if h.lastEmissionTime.IsZero() {
		return true
	}
	return now.Sub(h.lastEmissionTime) >= period
}

// Heartbeat is the HEARTBEAT submessage's protocol-relevant fields.
// Wire encoding belongs to the wire package; this is what the reader
// proxy hands it.
type Heartbeat struct {
	WriterID  guid.EntityID
	FirstSN   seqnum.SequenceNumber
	LastSN    seqnum.SequenceNumber
	Count     int32
	FinalFlag bool
}

// GenerateNewHeartbeat increments the emission count, records now as
// the last emission time, and returns the HEARTBEAT to send.
// finalFlag=true means no ACKNACK response is required (an idle or
// liveliness heartbeat); false means the reader must ACKNACK.
func (h *HeartbeatMachine) GenerateNewHeartbeat(
	writerID guid.EntityID,
	firstSN, lastSN seqnum.SequenceNumber,
	now time.Time,
	finalFlag bool,
) Heartbeat {
	h.count++
	h.lastEmissionTime = now
	return Heartbeat{
		WriterID:  writerID,
		FirstSN:   firstSN,
		LastSN:    lastSN,
		Count:     h.count,
		FinalFlag: finalFlag,
	}
}

// Count returns the number of heartbeats emitted so far.
func (h *HeartbeatMachine) Count() int32 {
	return h.count
}
