package rtpswriter

import (
	"context"
	"time"

	"github.com/nimbus-dds/writer/change"
	"github.com/nimbus-dds/writer/guid"
	"github.com/nimbus-dds/writer/locator"
	"github.com/nimbus-dds/writer/qos"
	"github.com/nimbus-dds/writer/readerproxy"
	"github.com/nimbus-dds/writer/seqnum"
	"github.com/nimbus-dds/writer/wire"
)

// WriteMessage runs one send pass over every matched reader, dispatching
// best-effort readers through the §4.4.1 loop and reliable readers
// through the §4.4.2 state machine. Readers are snapshotted up front and
// served one after another; a failing send to one reader ends only that
// reader's pass, and the loop goes on to the next.
func (w *StatefulWriter) WriteMessage(ctx context.Context, t Transport, clock Clock) {
	for _, rp := range w.readerList() {
		if rp.Reliability == qos.BestEffort {
			w.sendBestEffort(ctx, t, rp)
		} else {
			w.sendReliable(ctx, t, rp, clock)
		}
	}
}

func locatorsFor(rp *readerproxy.ReaderProxy) []locator.Locator {
	if len(rp.UnicastLocators) > 0 {
		return rp.UnicastLocators
	}
	return rp.MulticastLocators
}

// sendAll writes each datagram in order, stopping at the first failure.
// It reports success so the caller can decide whether to advance
// protocol state.
func (w *StatefulWriter) sendAll(ctx context.Context, t Transport, rp *readerproxy.ReaderProxy, datagrams [][]byte) bool {
	locs := locatorsFor(rp)
	for _, d := range datagrams {
		if err := t.Write(ctx, d, locs); err != nil {
			w.logger.Warn().
				Err(err).
				Str("reader", rp.RemoteReaderGUID.String()).
				Msg("transport write failed")
			return false
		}
	}
	return true
}

func toWireTime(t time.Time) wire.Time {
	const unixToRTPSFractionScale = 1 << 32
	secs := t.Unix()
	frac := uint32((uint64(t.Nanosecond()) * unixToRTPSFractionScale) / 1e9)
	return wire.Time{Seconds: int32(secs), Fraction: frac}
}

func appendSourceTimestamp(msg *wire.Message, c change.CacheChange) {
	if ts, ok := c.SourceTimestamp(); ok {
		msg.AppendInfoTimestamp(toWireTime(ts), false)
		return
	}
	msg.AppendInfoTimestamp(wire.TimeInvalid, true)
}

func (w *StatefulWriter) inlineQoSFor(rp *readerproxy.ReaderProxy) []byte {
	if !rp.ExpectsInlineQoS || w.inlineQoSEncoder == nil {
		return nil
	}
	b, err := w.inlineQoSEncoder.EncodeInlineQoS(w.offered)
	if err != nil {
		w.logger.Warn().Err(err).Str("reader", rp.RemoteReaderGUID.String()).Msg("inline qos encode failed")
		return nil
	}
	return b
}

// buildDataDatagrams renders the CacheChange as one DATA datagram, or,
// if it exceeds dataMaxSizeSerialized, as one DATA_FRAG datagram per
// fragment. heartbeat, when non-nil, is invoked exactly once and only
// in the unfragmented branch: §4.4.3 never appends a heartbeat to a
// fragment burst.
func (w *StatefulWriter) buildDataDatagrams(
	prefix guid.GuidPrefix,
	rp *readerproxy.ReaderProxy,
	c change.CacheChange,
	heartbeat func() readerproxy.Heartbeat,
) [][]byte {
	data := c.Data()
	readerID := rp.RemoteReaderGUID.EntityID
	writerID := w.guid.EntityID
	keyFlag := c.Kind().IsKey()
	inlineQoS := w.inlineQoSFor(rp)

	numFragments := 1
	if len(data) > 0 {
		numFragments = (len(data) + w.dataMaxSizeSerialized - 1) / w.dataMaxSizeSerialized
	}
	if numFragments <= 1 {
		msg := wire.NewMessage(prefix)
		msg.AppendInfoDestination(rp.RemoteReaderGUID.Prefix)
		appendSourceTimestamp(msg, c)
		msg.AppendData(wire.DataSubmessage{
			ReaderID:          readerID,
			WriterID:          writerID,
			WriterSN:          c.SequenceNumber(),
			KeyFlag:           keyFlag,
			InlineQoS:         inlineQoS,
			SerializedPayload: data,
		})
		if heartbeat != nil {
			hb := heartbeat()
			msg.AppendHeartbeat(toWireHeartbeat(hb))
		}
		return [][]byte{msg.Bytes()}
	}

	datagrams := make([][]byte, 0, numFragments)
	for i := 0; i < numFragments; i++ {
		start := i * w.dataMaxSizeSerialized
		end := start + w.dataMaxSizeSerialized
		if end > len(data) {
			end = len(data)
		}
		msg := wire.NewMessage(prefix)
		msg.AppendInfoDestination(rp.RemoteReaderGUID.Prefix)
		appendSourceTimestamp(msg, c)
		msg.AppendDataFrag(wire.DataFragSubmessage{
			ReaderID:              readerID,
			WriterID:              writerID,
			WriterSN:              c.SequenceNumber(),
			FragmentStartingNum:   uint32(i + 1),
			FragmentsInSubmessage: 1,
			// The configured fragment size is reported for every
			// fragment, even the last, shorter one.
			FragmentSize:      uint16(w.dataMaxSizeSerialized),
			DataSize:          uint32(len(data)),
			KeyFlag:           keyFlag,
			InlineQoS:         inlineQoS,
			SerializedPayload: data[start:end],
		})
		datagrams = append(datagrams, msg.Bytes())
	}
	return datagrams
}

func toWireHeartbeat(hb readerproxy.Heartbeat) wire.HeartbeatSubmessage {
	return wire.HeartbeatSubmessage{
		ReaderID: guid.EntityIDUnknown,
		WriterID: hb.WriterID,
		FirstSN:  hb.FirstSN,
		LastSN:   hb.LastSN,
		Count:    hb.Count,
		Final:    hb.FinalFlag,
	}
}

// buildGapDatagram wraps a single GAP submessage in an INFO_DST-addressed
// datagram.
func (w *StatefulWriter) buildGapDatagram(prefix guid.GuidPrefix, rp *readerproxy.ReaderProxy, g wire.GapSubmessage) []byte {
	msg := wire.NewMessage(prefix)
	msg.AppendInfoDestination(rp.RemoteReaderGUID.Prefix)
	msg.AppendGap(g)
	return msg.Bytes()
}

// sendBestEffort implements §4.4.1: walk every unsent change, emitting a
// GAP over any range with no change, a DATA/DATA_FRAG burst for a
// change that exists and is above the reader's
// first_relevant_sample_seq_num, or a GAP for one that was removed or
// is not relevant to this reader. The loop stops
// the moment a transport write fails, leaving HighestSentSeqNum exactly
// where the last successful step left it.
func (w *StatefulWriter) sendBestEffort(ctx context.Context, t Transport, rp *readerproxy.ReaderProxy) {
	prefix := t.GuidPrefix()
	for {
		var (
			datagrams [][]byte
			isGap     bool
		)

		w.mu.Lock()
		maxSeq, hasMax := w.changes.Max()
		s, ok := rp.NextUnsentChange(maxSeq, hasMax)
		if !ok {
			w.mu.Unlock()
			return
		}
		highestSent := rp.HighestSentSeqNum()
		switch {
		case s > highestSent+1:
			datagrams = [][]byte{w.buildGapDatagram(prefix, rp, wire.GapSubmessage{
				ReaderID: rp.RemoteReaderGUID.EntityID,
				WriterID: w.guid.EntityID,
				GapStart: highestSent + 1,
				GapList:  seqnum.NewSet(s),
			})}
			isGap = true
		default:
			if c, exists := w.changes.Get(s); exists && s > rp.FirstRelevantSampleSeqNum() {
				datagrams = w.buildDataDatagrams(prefix, rp, c, nil)
			} else {
				datagrams = [][]byte{w.buildGapDatagram(prefix, rp, wire.GapSubmessage{
					ReaderID: guid.EntityIDUnknown,
					WriterID: w.guid.EntityID,
					GapStart: s,
					GapList:  seqnum.NewSet(s + 1),
				})}
				isGap = true
			}
		}
		w.mu.Unlock()

		if !w.sendAll(ctx, t, rp, datagrams) {
			return
		}

		w.mu.Lock()
		rp.SetHighestSentSeqNum(s)
		if isGap && w.metrics != nil {
			w.metrics.AddGap(rp.RemoteReaderGUID)
		}
		w.reportMetricsLocked(rp)
		w.mu.Unlock()
	}
}

// sendReliable implements §4.4.2: if the reader has unsent changes,
// drive it toward the writer's current max (Branch A); otherwise emit a
// final (all-acked) or periodic heartbeat as appropriate (Branch B/C).
// The "middle part" then drains any explicitly requested (NACK'd)
// changes, unless a transport write in Branch A failed, in which case
// the pass ends there.
func (w *StatefulWriter) sendReliable(ctx context.Context, t Transport, rp *readerproxy.ReaderProxy, clock Clock) {
	prefix := t.GuidPrefix()
	now := clock.Now()

	w.mu.Lock()
	maxSeq, hasMax := w.changes.Max()
	minSeq, _ := w.changes.Min()
	unsent := rp.UnsentChanges(maxSeq, hasMax)
	unacked := hasMax && rp.UnackedChanges(maxSeq)
	w.mu.Unlock()

	switch {
	case unsent:
		if !w.sendReliableUnsent(ctx, t, rp, clock, minSeq, maxSeq) {
			return
		}
	case !unacked:
		w.maybeHeartbeat(ctx, t, rp, minSeq, maxSeq, now, true)
	default:
		w.maybeHeartbeat(ctx, t, rp, minSeq, maxSeq, now, false)
	}

	w.drainRequestedChanges(ctx, t, rp, clock, minSeq, maxSeq)
}

// maybeHeartbeat emits a heartbeat if the reader's period has elapsed.
// final=true is the idle (all-acked) form, gated additionally on the
// reader not being Volatile: a volatile reader that has caught up needs
// no further liveliness signal from this writer.
func (w *StatefulWriter) maybeHeartbeat(ctx context.Context, t Transport, rp *readerproxy.ReaderProxy, minSeq, maxSeq seqnum.SequenceNumber, now time.Time, final bool) {
	w.mu.Lock()
	if final && rp.Durability == qos.Volatile {
		w.mu.Unlock()
		return
	}
	if !rp.Heartbeat.IsTimeForHeartbeat(now, w.heartbeatPeriod) {
		w.mu.Unlock()
		return
	}
	hb := rp.Heartbeat.GenerateNewHeartbeat(w.guid.EntityID, firstSNOf(minSeq), lastSNOf(maxSeq), now, final)
	w.mu.Unlock()

	msg := wire.NewMessage(t.GuidPrefix())
	msg.AppendInfoDestination(rp.RemoteReaderGUID.Prefix)
	msg.AppendHeartbeat(toWireHeartbeat(hb))

	if w.sendAll(ctx, t, rp, [][]byte{msg.Bytes()}) {
		w.mu.Lock()
		w.reportMetricsLocked(rp)
		w.mu.Unlock()
	}
}

func firstSNOf(minSeq seqnum.SequenceNumber) seqnum.SequenceNumber {
	if minSeq == 0 {
		return seqnum.First
	}
	return minSeq
}

func lastSNOf(maxSeq seqnum.SequenceNumber) seqnum.SequenceNumber {
	return maxSeq
}

// sendReliableUnsent is Branch A of §4.4.2: walk unsent changes toward
// the writer's max. A range with no backing change is reported as a
// single GAP+HEARTBEAT datagram; a change that exists is sent through
// sendChangeReliable. It returns false the moment a transport write
// fails.
func (w *StatefulWriter) sendReliableUnsent(ctx context.Context, t Transport, rp *readerproxy.ReaderProxy, clock Clock, minSeq, maxSeq seqnum.SequenceNumber) bool {
	prefix := t.GuidPrefix()
	for {
		w.mu.Lock()
		curMax, hasMax := w.changes.Max()
		s, ok := rp.NextUnsentChange(curMax, hasMax)
		if !ok {
			w.mu.Unlock()
			return true
		}
		highestSent := rp.HighestSentSeqNum()
		if s <= highestSent+1 {
			w.mu.Unlock()
			if !w.sendChangeReliable(ctx, t, rp, clock, minSeq, maxSeq, s) {
				return false
			}
			w.mu.Lock()
			rp.SetHighestSentSeqNum(s)
			w.reportMetricsLocked(rp)
			w.mu.Unlock()
			continue
		}

		hb := rp.Heartbeat.GenerateNewHeartbeat(w.guid.EntityID, firstSNOf(minSeq), lastSNOf(maxSeq), clock.Now(), false)
		msg := wire.NewMessage(prefix)
		msg.AppendInfoDestination(rp.RemoteReaderGUID.Prefix)
		msg.AppendGap(wire.GapSubmessage{
			ReaderID: rp.RemoteReaderGUID.EntityID,
			WriterID: w.guid.EntityID,
			GapStart: highestSent + 1,
			GapList:  seqnum.NewSet(s),
		})
		msg.AppendHeartbeat(toWireHeartbeat(hb))
		w.mu.Unlock()

		if !w.sendAll(ctx, t, rp, [][]byte{msg.Bytes()}) {
			return false
		}

		w.mu.Lock()
		rp.SetHighestSentSeqNum(s)
		if w.metrics != nil {
			w.metrics.AddGap(rp.RemoteReaderGUID)
		}
		w.reportMetricsLocked(rp)
		w.mu.Unlock()
	}
}

// sendChangeReliable is §4.4.3: send the change at sequence number s if
// it both exists and is relevant to this reader (s is above its
// first_relevant_sample_seq_num), attaching a heartbeat unless the
// change had to be fragmented; otherwise report it as a GAP.
func (w *StatefulWriter) sendChangeReliable(ctx context.Context, t Transport, rp *readerproxy.ReaderProxy, clock Clock, minSeq, maxSeq, s seqnum.SequenceNumber) bool {
	prefix := t.GuidPrefix()

	w.mu.Lock()
	c, exists := w.changes.Get(s)
	relevant := exists && s > rp.FirstRelevantSampleSeqNum()
	var datagrams [][]byte
	isGap := false
	if relevant {
		heartbeat := func() readerproxy.Heartbeat {
			return rp.Heartbeat.GenerateNewHeartbeat(w.guid.EntityID, firstSNOf(minSeq), lastSNOf(maxSeq), clock.Now(), false)
		}
		datagrams = w.buildDataDatagrams(prefix, rp, c, heartbeat)
	} else {
		datagrams = [][]byte{w.buildGapDatagram(prefix, rp, wire.GapSubmessage{
			ReaderID: guid.EntityIDUnknown,
			WriterID: w.guid.EntityID,
			GapStart: s,
			GapList:  seqnum.NewSet(s + 1),
		})}
		isGap = true
	}
	w.mu.Unlock()

	if !w.sendAll(ctx, t, rp, datagrams) {
		return false
	}

	w.mu.Lock()
	if isGap && w.metrics != nil {
		w.metrics.AddGap(rp.RemoteReaderGUID)
	}
	w.mu.Unlock()
	return true
}

// drainRequestedChanges is §4.4.2's middle part: every change explicitly
// requested via an inbound ACKNACK/NACK_FRAG is retransmitted, whichever
// branch ran above (sendReliable skips it when a Branch A write failed).
// On a failed transport write the change is put back into the requested
// set and the drain stops.
func (w *StatefulWriter) drainRequestedChanges(ctx context.Context, t Transport, rp *readerproxy.ReaderProxy, clock Clock, minSeq, maxSeq seqnum.SequenceNumber) {
	for {
		w.mu.Lock()
		s, ok := rp.NextRequestedChange()
		w.mu.Unlock()
		if !ok {
			return
		}
		if !w.sendChangeReliable(ctx, t, rp, clock, minSeq, maxSeq, s) {
			w.mu.Lock()
			rp.RequestedChangesSet([]seqnum.SequenceNumber{s})
			w.mu.Unlock()
			return
		}
		if w.metrics != nil {
			w.metrics.AddRetransmit(rp.RemoteReaderGUID)
		}
		w.mu.Lock()
		w.reportMetricsLocked(rp)
		w.mu.Unlock()
	}
}
