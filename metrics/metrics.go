// Package metrics exposes a stateful writer's per-reader protocol
// counters to Prometheus: highest sent/acked sequence number,
// heartbeat count, GAP count and NACK-triggered retransmit count.
//
// Grounded on runZeroInc-sockstats's TCPInfoCollector: a mutex-guarded
// map keyed by the tracked resource, a Describe/Collect pair, and a
// snapshot-then-emit Collect body so the Prometheus pull path never
// blocks a writer's send loop for longer than copying a few ints.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nimbus-dds/writer/guid"
	"github.com/nimbus-dds/writer/readerproxy"
)

type readerState struct {
	labels          []string
	snapshot        readerproxy.Snapshot
	gapCount        uint64
	retransmitCount uint64
}

// Collector is a prometheus.Collector reporting on every reader
// currently tracked via Track/Update.
type Collector struct {
	mu      sync.Mutex
	readers map[guid.GUID]*readerState

	highestSent  *prometheus.Desc
	highestAcked *prometheus.Desc
	heartbeats   *prometheus.Desc
	gaps         *prometheus.Desc
	retransmits  *prometheus.Desc
}

// NewCollector constructs a Collector. constLabels are attached to
// every metric (e.g. the local writer's GUID), matching
// NewTCPInfoCollector's constLabels parameter.
func NewCollector(constLabels prometheus.Labels) *Collector {
	labelNames := []string{"reader_guid"}
	return &Collector{
		readers: make(map[guid.GUID]*readerState),
		highestSent: prometheus.NewDesc(
			"rtpswriter_reader_highest_sent_seq_num",
			"Highest sequence number sent to this reader.",
			labelNames, constLabels,
		),
		highestAcked: prometheus.NewDesc(
			"rtpswriter_reader_highest_acked_seq_num",
			"Highest sequence number acknowledged by this reader.",
			labelNames, constLabels,
		),
		heartbeats: prometheus.NewDesc(
			"rtpswriter_reader_heartbeat_count_total",
			"Heartbeats emitted to this reader.",
			labelNames, constLabels,
		),
		gaps: prometheus.NewDesc(
			"rtpswriter_reader_gap_count_total",
			"GAP submessages emitted to this reader.",
			labelNames, constLabels,
		),
		retransmits: prometheus.NewDesc(
			"rtpswriter_reader_retransmit_count_total",
			"NACK-triggered retransmissions sent to this reader.",
			labelNames, constLabels,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.highestSent
	descs <- c.highestAcked
	descs <- c.heartbeats
	descs <- c.gaps
	descs <- c.retransmits
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, rs := range c.readers {
		metrics <- prometheus.MustNewConstMetric(
			c.highestSent, prometheus.GaugeValue, float64(rs.snapshot.HighestSentSeqNum), rs.labels...)
		metrics <- prometheus.MustNewConstMetric(
			c.highestAcked, prometheus.GaugeValue, float64(rs.snapshot.HighestAckedSeqNum), rs.labels...)
		metrics <- prometheus.MustNewConstMetric(
			c.heartbeats, prometheus.CounterValue, float64(rs.snapshot.HeartbeatCount), rs.labels...)
		metrics <- prometheus.MustNewConstMetric(
			c.gaps, prometheus.CounterValue, float64(rs.gapCount), rs.labels...)
		metrics <- prometheus.MustNewConstMetric(
			c.retransmits, prometheus.CounterValue, float64(rs.retransmitCount), rs.labels...)
	}
}

func (c *Collector) stateLocked(g guid.GUID) *readerState {
	rs, ok := c.readers[g]
	if !ok {
		rs = &readerState{labels: []string{g.String()}}
		c.readers[g] = rs
	}
	return rs
}

// Track begins reporting on reader g, with a zero-valued snapshot
// until the first Update.
func (c *Collector) Track(g guid.GUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateLocked(g)
}

// Untrack stops reporting on reader g, e.g. on DeleteMatchedReader.
func (c *Collector) Untrack(g guid.GUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.readers, g)
}

// Update replaces the latest snapshot reported for reader g. Callers
// should pass a ReaderProxy.Snapshot() taken under the writer's own
// lock, so Collect never observes a torn read.
func (c *Collector) Update(g guid.GUID, snap readerproxy.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateLocked(g).snapshot = snap
}

// AddGap records that a GAP submessage was emitted to reader g. A GAP
// for a reader not currently tracked is silently dropped.
func (c *Collector) AddGap(g guid.GUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rs, ok := c.readers[g]; ok {
		rs.gapCount++
	}
}

// AddRetransmit records a NACK-triggered retransmission sent to reader g.
func (c *Collector) AddRetransmit(g guid.GUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rs, ok := c.readers[g]; ok {
		rs.retransmitCount++
	}
}
