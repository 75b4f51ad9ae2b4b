package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/nimbus-dds/writer/guid"
	"github.com/nimbus-dds/writer/readerproxy"
)

func testGUID() guid.GUID {
	return guid.New(guid.GuidPrefix{1, 2, 3}, guid.EntityID{4, 5, 6, 7})
}

func collectAll(t *testing.T, c *Collector) []*dto.Metric {
	t.Helper()
	ch := make(chan prometheus.Metric, 64)
	go func() {
		c.Collect(ch)
		close(ch)
	}()
	var out []*dto.Metric
	for m := range ch {
		var dm dto.Metric
		if err := m.Write(&dm); err != nil {
			t.Fatalf("unexpected error writing metric: %v", err)
		}
		out = append(out, &dm)
	}
	return out
}

func TestCollector_DescribeEmitsFiveDescs(t *testing.T) {
	c := NewCollector(nil)
	ch := make(chan *prometheus.Desc, 16)
	c.Describe(ch)
	close(ch)
	var n int
	for range ch {
		n++
	}
	if n != 5 {
		t.Fatalf("expected 5 descriptors, got %d", n)
	}
}

func TestCollector_UntrackedReaderEmitsNothing(t *testing.T) {
	c := NewCollector(nil)
	if got := collectAll(t, c); len(got) != 0 {
		t.Fatalf("expected no metrics for an empty collector, got %d", len(got))
	}
}

func TestCollector_TrackAndUpdate(t *testing.T) {
	c := NewCollector(nil)
	g := testGUID()
	c.Track(g)
	c.Update(g, readerproxy.Snapshot{HighestSentSeqNum: 3, HighestAckedSeqNum: 2, HeartbeatCount: 1})
	c.AddGap(g)
	c.AddGap(g)
	c.AddRetransmit(g)

	metrics := collectAll(t, c)
	if len(metrics) != 5 {
		t.Fatalf("expected 5 metrics for 1 tracked reader, got %d", len(metrics))
	}
}

func TestCollector_Untrack(t *testing.T) {
	c := NewCollector(nil)
	g := testGUID()
	c.Track(g)
	c.Untrack(g)
	if got := collectAll(t, c); len(got) != 0 {
		t.Fatalf("expected no metrics after untrack, got %d", len(got))
	}
}

func TestCollector_AddGapOnUntrackedReaderIsNoop(t *testing.T) {
	c := NewCollector(nil)
	c.AddGap(testGUID())
	if got := collectAll(t, c); len(got) != 0 {
		t.Fatalf("expected no metrics, got %d", len(got))
	}
}
