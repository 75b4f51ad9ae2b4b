package rtpswriter_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbus-dds/writer/change"
	"github.com/nimbus-dds/writer/guid"
	"github.com/nimbus-dds/writer/locator"
	"github.com/nimbus-dds/writer/qos"
	"github.com/nimbus-dds/writer/readerproxy"
	"github.com/nimbus-dds/writer/rtpswriter"
	"github.com/nimbus-dds/writer/wire"
)

// fakeTransport records every datagram handed to Write, in order
// (locators are ignored), and can be told to fail the next N writes to
// exercise the "state not advanced on failure" policy.
type fakeTransport struct {
	mu         sync.Mutex
	prefix     guid.GuidPrefix
	datagrams  [][]byte
	failNext   int
	failAlways bool
}

func newFakeTransport(prefix guid.GuidPrefix) *fakeTransport {
	return &fakeTransport{prefix: prefix}
}

func (f *fakeTransport) Write(_ context.Context, buffer []byte, _ []locator.Locator) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAlways || f.failNext > 0 {
		if f.failNext > 0 {
			f.failNext--
		}
		return errWriteFailed
	}
	cp := make([]byte, len(buffer))
	copy(cp, buffer)
	f.datagrams = append(f.datagrams, cp)
	return nil
}

func (f *fakeTransport) GuidPrefix() guid.GuidPrefix { return f.prefix }

func (f *fakeTransport) parsedDatagrams(t *testing.T) []wire.Parsed {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]wire.Parsed, 0, len(f.datagrams))
	for _, d := range f.datagrams {
		p, err := wire.Parse(d)
		require.NoError(t, err)
		out = append(out, p)
	}
	return out
}

var errWriteFailed = errors.New("fake transport write failed")

// fakeClock is a manually advanced Clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testWriterGUID() guid.GUID {
	return guid.New(guid.GuidPrefix{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, guid.EntityID{0, 0, 1, 2})
}

func testReaderGUID() guid.GUID {
	return guid.New(guid.GuidPrefix{9, 8, 7, 6, 5, 4, 3, 2, 1, 0, 0, 0}, guid.EntityID{0, 0, 3, 4})
}

func newTestWriter(t *testing.T, offered qos.RequestedOffered, dataMaxSize int) *rtpswriter.StatefulWriter {
	t.Helper()
	return rtpswriter.NewWriter(rtpswriter.Config{
		GUID:                  testWriterGUID(),
		DataMaxSizeSerialized: dataMaxSize,
		Offered:               offered,
	})
}

func matchReader(t *testing.T, w *rtpswriter.StatefulWriter, reliability qos.ReliabilityKind, durability qos.DurabilityKind) {
	t.Helper()
	offered := qos.RequestedOffered{
		Durability:         qos.Durability{Kind: qos.Volatile},
		Presentation:       qos.DefaultPresentation(),
		Deadline:           qos.DefaultDeadline(),
		LatencyBudget:      qos.DefaultLatencyBudget(),
		Liveliness:         qos.DefaultLiveliness(),
		Reliability:        qos.Reliability{Kind: reliability, MaxBlockingTime: qos.Infinite},
		DestinationOrder:   qos.DefaultDestinationOrder(),
		Ownership:          qos.DefaultOwnership(),
		DataRepresentation: qos.DefaultDataRepresentation(),
	}
	err := w.Match(rtpswriter.MatchRequest{
		Descriptor: readerproxy.Descriptor{
			RemoteReaderGUID: testReaderGUID(),
			Reliability:      reliability,
			Durability:       durability,
		},
		Requested: offered,
	})
	require.NoError(t, err)
}

// Scenario 1: a single best-effort sample is delivered as one DATA.
func TestBestEffort_SingleSample(t *testing.T) {
	offered := offeredQoS(qos.BestEffort)
	w := newTestWriter(t, offered, 1024)
	matchReader(t, w, qos.BestEffort, qos.Volatile)

	ctx := context.Background()
	_, err := w.AddChange(ctx, change.Alive, change.InstanceHandle{}, []byte("hello"), qos.XCDR)
	require.NoError(t, err)

	transport := newFakeTransport(testWriterGUID().Prefix)
	w.WriteMessage(ctx, transport, newFakeClock())

	transport.mu.Lock()
	numDatagrams := len(transport.datagrams)
	transport.mu.Unlock()
	assert.Equal(t, 1, numDatagrams, "expected exactly one DATA datagram")

	snap, ok := w.ReaderSnapshot(testReaderGUID())
	require.True(t, ok)
	assert.EqualValues(t, 1, snap.HighestSentSeqNum)
}

// Scenario 2: a sample removed before it is sent, while a later sample
// still exists, is reported as a GAP; the following sample is still
// delivered and HighestSentSeqNum reaches it.
func TestBestEffort_RemovedSampleProducesGap(t *testing.T) {
	offered := offeredQoS(qos.BestEffort)
	w := newTestWriter(t, offered, 1024)
	matchReader(t, w, qos.BestEffort, qos.Volatile)

	ctx := context.Background()
	first, err := w.AddChange(ctx, change.Alive, change.InstanceHandle{}, []byte("x"), qos.XCDR)
	require.NoError(t, err)
	second, err := w.AddChange(ctx, change.Alive, change.InstanceHandle{}, []byte("y"), qos.XCDR)
	require.NoError(t, err)
	w.RemoveChange(first)

	transport := newFakeTransport(testWriterGUID().Prefix)
	w.WriteMessage(ctx, transport, newFakeClock())

	transport.mu.Lock()
	numDatagrams := len(transport.datagrams)
	transport.mu.Unlock()
	assert.Equal(t, 2, numDatagrams, "expected one GAP and one DATA datagram")

	snap, ok := w.ReaderSnapshot(testReaderGUID())
	require.True(t, ok)
	assert.EqualValues(t, second, snap.HighestSentSeqNum)
}

// Scenario 3: a reliable reader NACKs an unacknowledged change and the
// writer retransmits it on the next send pass.
func TestReliable_NackTriggeredRetransmit(t *testing.T) {
	offered := offeredQoS(qos.Reliable)
	w := newTestWriter(t, offered, 1024)
	matchReader(t, w, qos.Reliable, qos.Volatile)

	ctx := context.Background()
	_, err := w.AddChange(ctx, change.Alive, change.InstanceHandle{}, []byte("payload"), qos.XCDR)
	require.NoError(t, err)

	transport := newFakeTransport(testWriterGUID().Prefix)
	clock := newFakeClock()
	w.WriteMessage(ctx, transport, clock)

	snap, ok := w.ReaderSnapshot(testReaderGUID())
	require.True(t, ok)
	require.EqualValues(t, 1, snap.HighestSentSeqNum)

	transport.mu.Lock()
	sentBeforeAck := len(transport.datagrams)
	transport.mu.Unlock()

	datagram := buildAckNack(t, testWriterGUID(), testReaderGUID(), 1, []int64{1}, 1)
	require.NoError(t, w.ProcessMessage(ctx, datagram, transport, clock))

	snap, ok = w.ReaderSnapshot(testReaderGUID())
	require.True(t, ok)
	assert.EqualValues(t, 0, snap.RequestedCount, "requested change should be drained by the immediate reliable pass triggered inline")

	transport.mu.Lock()
	sentAfterAck := len(transport.datagrams)
	transport.mu.Unlock()
	assert.Greater(t, sentAfterAck, sentBeforeAck, "expected a retransmit datagram after the nack")
}

// Scenario 4: a 2500-byte payload with dataMaxSizeSerialized=1024
// fragments into exactly 3 DATA_FRAG datagrams.
func TestReliable_Fragmentation(t *testing.T) {
	offered := offeredQoS(qos.Reliable)
	w := newTestWriter(t, offered, 1024)
	matchReader(t, w, qos.Reliable, qos.Volatile)

	ctx := context.Background()
	payload := make([]byte, 2500)
	for i := range payload {
		payload[i] = byte(i)
	}
	_, err := w.AddChange(ctx, change.Alive, change.InstanceHandle{}, payload, qos.XCDR)
	require.NoError(t, err)

	transport := newFakeTransport(testWriterGUID().Prefix)
	w.WriteMessage(ctx, transport, newFakeClock())

	transport.mu.Lock()
	numDatagrams := len(transport.datagrams)
	transport.mu.Unlock()
	assert.Equal(t, 3, numDatagrams)
}

// Scenario 5: a Volatile reader matched after a sample already exists
// never sees that sample (it starts at the writer's current max).
func TestVolatileLateJoin_SkipsHistory(t *testing.T) {
	offered := offeredQoS(qos.Reliable)
	w := newTestWriter(t, offered, 1024)

	ctx := context.Background()
	_, err := w.AddChange(ctx, change.Alive, change.InstanceHandle{}, []byte("old"), qos.XCDR)
	require.NoError(t, err)

	matchReader(t, w, qos.Reliable, qos.Volatile)

	snap, ok := w.ReaderSnapshot(testReaderGUID())
	require.True(t, ok)
	assert.EqualValues(t, 1, snap.FirstRelevantSampleSeqNum)
}

// Scenario 6: an incompatible Reliability policy refuses the match and
// names policy id 11.
func TestMatch_IncompatibleReliability(t *testing.T) {
	offered := offeredQoS(qos.BestEffort)
	w := newTestWriter(t, offered, 1024)

	err := w.Match(rtpswriter.MatchRequest{
		Descriptor: readerproxy.Descriptor{RemoteReaderGUID: testReaderGUID(), Reliability: qos.Reliable, Durability: qos.Volatile},
		Requested:  offeredQoS(qos.Reliable),
	})
	require.Error(t, err)
	var incompatible *qos.Incompatible
	require.ErrorAs(t, err, &incompatible)
	assert.Equal(t, qos.ReliabilityID, incompatible.PolicyID)
}

// Open question resolution: AddChange rejects any ChangeKind outside
// the defined set.
func TestAddChange_RejectsInvalidKind(t *testing.T) {
	w := newTestWriter(t, offeredQoS(qos.BestEffort), 1024)
	_, err := w.AddChange(context.Background(), change.ChangeKind(99), change.InstanceHandle{}, nil, qos.XCDR)
	require.ErrorIs(t, err, change.ErrInvalidKind)
}

// AddChange maps the changeset's own resource-exhaustion error onto the
// rtpswriter-level sentinel, so callers can check errors.Is against the
// package boundary they actually depend on instead of reaching into
// changeset.
func TestAddChange_MapsResourceExhausted(t *testing.T) {
	offered := offeredQoS(qos.Reliable)
	offered.Reliability.MaxBlockingTime = qos.Finite(20 * time.Millisecond)
	w := rtpswriter.NewWriter(rtpswriter.Config{
		GUID:                  testWriterGUID(),
		DataMaxSizeSerialized: 1024,
		Offered:               offered,
		ResourceLimits:        qos.ResourceLimits{MaxSamples: qos.Limited(1), MaxInstances: qos.Unlimited, MaxSamplesPerInstance: qos.Unlimited},
	})

	ctx := context.Background()
	_, err := w.AddChange(ctx, change.Alive, change.InstanceHandle{1}, []byte("a"), qos.XCDR)
	require.NoError(t, err)

	_, err = w.AddChange(ctx, change.Alive, change.InstanceHandle{2}, []byte("b"), qos.XCDR)
	require.ErrorIs(t, err, rtpswriter.ErrResourceExhausted)
}

func offeredQoS(reliability qos.ReliabilityKind) qos.RequestedOffered {
	return qos.RequestedOffered{
		Durability:         qos.Durability{Kind: qos.Volatile},
		Presentation:       qos.DefaultPresentation(),
		Deadline:           qos.DefaultDeadline(),
		LatencyBudget:      qos.DefaultLatencyBudget(),
		Liveliness:         qos.DefaultLiveliness(),
		Reliability:        qos.Reliability{Kind: reliability, MaxBlockingTime: qos.Infinite},
		DestinationOrder:   qos.DefaultDestinationOrder(),
		Ownership:          qos.DefaultOwnership(),
		DataRepresentation: qos.DefaultDataRepresentation(),
	}
}

// buildAckNack hand-assembles a minimal RTPS datagram carrying one
// ACKNACK submessage, matching wire.Parse's expected layout exactly.
// The wire package exposes no ACKNACK encoder (writers never emit one),
// so the inbound-path tests build the bytes directly.
func buildAckNack(t *testing.T, writerGUID, readerGUID guid.GUID, count int32, requested []int64, base int64) []byte {
	t.Helper()

	datagram := make([]byte, 0, 64)
	datagram = append(datagram, "RTPS"...)
	datagram = append(datagram, 2, 4, 0, 0)
	datagram = append(datagram, readerGUID.Prefix[:]...)

	var sub bytes.Buffer
	sub.Write(readerGUID.EntityID[:])
	sub.Write(writerGUID.EntityID[:])
	sub.Write(encodeSeqNum(base))
	var numBits uint32
	for _, n := range requested {
		if d := uint32(n - base); d+1 > numBits {
			numBits = d + 1
		}
	}
	numBitsBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(numBitsBuf, numBits)
	sub.Write(numBitsBuf)
	words := make([]byte, ((numBits+31)/32)*4)
	for _, n := range requested {
		bitIndex := uint32(n - base)
		offset := (bitIndex / 32) * 4
		val := binary.LittleEndian.Uint32(words[offset : offset+4])
		val |= 1 << (31 - bitIndex%32)
		binary.LittleEndian.PutUint32(words[offset:offset+4], val)
	}
	sub.Write(words)
	countBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(countBuf, uint32(count))
	sub.Write(countBuf)

	var hdr [4]byte
	hdr[0] = wire.KindAckNack
	hdr[1] = 0x01 // little-endian flag
	binary.LittleEndian.PutUint16(hdr[2:4], uint16(sub.Len()))
	datagram = append(datagram, hdr[:]...)
	datagram = append(datagram, sub.Bytes()...)
	return datagram
}

func encodeSeqNum(n int64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(int32(n>>32)))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(n))
	return buf
}
