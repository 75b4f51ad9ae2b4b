package readerproxy

import (
	"testing"
	"time"

	"github.com/nimbus-dds/writer/guid"
	"github.com/nimbus-dds/writer/qos"
	"github.com/nimbus-dds/writer/seqnum"
)

func testGUID() guid.GUID {
	return guid.New(guid.GuidPrefix{1, 2, 3}, guid.EntityID{4, 5, 6, 7})
}

func TestNew_VolatileStartsAtCurrentMax(t *testing.T) {
	p := New(testGUID(), false, qos.Reliable, qos.Volatile, nil, nil, 5)
	if p.FirstRelevantSampleSeqNum() != 5 {
		t.Fatalf("expected first relevant sample seq num 5, got %d", p.FirstRelevantSampleSeqNum())
	}
}

func TestNew_TransientLocalStartsAtZero(t *testing.T) {
	p := New(testGUID(), false, qos.Reliable, qos.TransientLocal, nil, nil, seqnum.Zero)
	if p.FirstRelevantSampleSeqNum() != seqnum.Zero {
		t.Fatalf("expected first relevant sample seq num 0, got %d", p.FirstRelevantSampleSeqNum())
	}
}

func TestNextUnsentChange(t *testing.T) {
	p := New(testGUID(), false, qos.Reliable, qos.Volatile, nil, nil, 0)

	s, ok := p.NextUnsentChange(3, true)
	if !ok || s != 1 {
		t.Fatalf("expected next unsent 1, got %d (ok=%v)", s, ok)
	}

	p.SetHighestSentSeqNum(3)
	if _, ok := p.NextUnsentChange(3, true); ok {
		t.Fatal("expected no unsent changes once highest sent reaches max")
	}
	if _, ok := p.NextUnsentChange(0, false); ok {
		t.Fatal("expected no unsent changes when the change set is empty")
	}
}

func TestUnsentChanges(t *testing.T) {
	p := New(testGUID(), false, qos.Reliable, qos.Volatile, nil, nil, 0)
	if !p.UnsentChanges(1, true) {
		t.Fatal("expected unsent changes to be true")
	}
	p.SetHighestSentSeqNum(1)
	if p.UnsentChanges(1, true) {
		t.Fatal("expected unsent changes to be false once caught up")
	}
}

func TestSetHighestSentSeqNum_PanicsOnDecrease(t *testing.T) {
	p := New(testGUID(), false, qos.Reliable, qos.Volatile, nil, nil, 0)
	p.SetHighestSentSeqNum(5)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on decreasing highest sent seq num")
		}
	}()
	p.SetHighestSentSeqNum(3)
}

func TestUnackedChanges(t *testing.T) {
	p := New(testGUID(), false, qos.Reliable, qos.Volatile, nil, nil, 0)
	if !p.UnackedChanges(5) {
		t.Fatal("expected unacked changes when nothing has been acked")
	}
	p.AckedChangesSet(5)
	if p.UnackedChanges(5) {
		t.Fatal("expected no unacked changes once acked through 5")
	}
}

func TestAckedChangesSet_NeverDecreases(t *testing.T) {
	p := New(testGUID(), false, qos.Reliable, qos.Volatile, nil, nil, 0)
	p.AckedChangesSet(5)
	p.AckedChangesSet(3)
	if p.HighestAckedSeqNum() != 5 {
		t.Fatalf("expected highest acked to stay at 5, got %d", p.HighestAckedSeqNum())
	}
}

func TestRequestedChangesSet_FiltersIrrelevantAndDedupes(t *testing.T) {
	p := New(testGUID(), false, qos.Reliable, qos.Volatile, nil, nil, 2)
	p.RequestedChangesSet([]seqnum.SequenceNumber{1, 2, 3, 5, 3})
	got := p.RequestedChanges()
	want := []seqnum.SequenceNumber{3, 5}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestNextRequestedChange_DrainsSmallestFirst(t *testing.T) {
	p := New(testGUID(), false, qos.Reliable, qos.Volatile, nil, nil, 0)
	p.RequestedChangesSet([]seqnum.SequenceNumber{5, 1, 3})

	var got []seqnum.SequenceNumber
	for {
		n, ok := p.NextRequestedChange()
		if !ok {
			break
		}
		got = append(got, n)
	}
	want := []seqnum.SequenceNumber{1, 3, 5}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if len(p.RequestedChanges()) != 0 {
		t.Fatal("expected requested set to be drained")
	}
}

func TestHighestAckedNeverExceedsHighestSent(t *testing.T) {
	p := New(testGUID(), false, qos.Reliable, qos.Volatile, nil, nil, 0)
	p.SetHighestSentSeqNum(1)
	p.SetHighestSentSeqNum(2)
	p.AckedChangesSet(2)
	if p.HighestAckedSeqNum() > p.HighestSentSeqNum() {
		t.Fatalf("invariant violated: acked %d > sent %d", p.HighestAckedSeqNum(), p.HighestSentSeqNum())
	}
}

func TestHeartbeatMachine_IsTimeForHeartbeat(t *testing.T) {
	var h HeartbeatMachine
	now := time.Now()
	if !h.IsTimeForHeartbeat(now, 200*time.Millisecond) {
		t.Fatal("expected true before any heartbeat has been emitted")
	}

	h.GenerateNewHeartbeat(guid.EntityID{}, 1, 1, now, false)
	if h.IsTimeForHeartbeat(now.Add(100*time.Millisecond), 200*time.Millisecond) {
		t.Fatal("expected false before the period elapses")
	}
	if !h.IsTimeForHeartbeat(now.Add(200*time.Millisecond), 200*time.Millisecond) {
		t.Fatal("expected true once the period has elapsed")
	}
}

func TestHeartbeatMachine_GenerateNewHeartbeat_IncrementsCount(t *testing.T) {
	var h HeartbeatMachine
	now := time.Now()
	hb1 := h.GenerateNewHeartbeat(guid.EntityID{}, 1, 3, now, false)
	hb2 := h.GenerateNewHeartbeat(guid.EntityID{}, 1, 3, now, true)
	if hb1.Count != 1 || hb2.Count != 2 {
		t.Fatalf("expected counts 1, 2, got %d, %d", hb1.Count, hb2.Count)
	}
	if !hb2.FinalFlag {
		t.Fatal("expected final flag to be carried through")
	}
	if h.Count() != 2 {
		t.Fatalf("expected Count() == 2, got %d", h.Count())
	}
}

func TestFromDescriptor_VolatileStartsAtCurrentMax(t *testing.T) {
	d := Descriptor{RemoteReaderGUID: testGUID(), Reliability: qos.Reliable, Durability: qos.Volatile}
	p := FromDescriptor(d, 7)
	if p.FirstRelevantSampleSeqNum() != 7 {
		t.Fatalf("expected first relevant sample seq num 7, got %d", p.FirstRelevantSampleSeqNum())
	}
}

func TestFromDescriptor_TransientLocalStartsAtZero(t *testing.T) {
	d := Descriptor{RemoteReaderGUID: testGUID(), Reliability: qos.Reliable, Durability: qos.TransientLocal}
	p := FromDescriptor(d, 7)
	if p.FirstRelevantSampleSeqNum() != seqnum.Zero {
		t.Fatalf("expected first relevant sample seq num 0, got %d", p.FirstRelevantSampleSeqNum())
	}
}

func TestSnapshot_CopiesState(t *testing.T) {
	p := New(testGUID(), false, qos.Reliable, qos.Volatile, nil, nil, 0)
	p.SetHighestSentSeqNum(3)
	p.AckedChangesSet(2)
	p.RequestedChangesSet([]seqnum.SequenceNumber{3})

	snap := p.Snapshot()
	if snap.HighestSentSeqNum != 3 || snap.HighestAckedSeqNum != 2 || snap.RequestedCount != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	p.SetHighestSentSeqNum(4)
	if snap.HighestSentSeqNum != 3 {
		t.Fatal("expected snapshot to be a frozen copy, unaffected by later mutation")
	}
}
