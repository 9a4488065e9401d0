package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultNamespace  = "blast"
	subsystemTransfer = "transfer"
)

// Session outcomes recorded by ObserveSession.
const (
	OutcomeCompleted = "completed"
	OutcomeExpired   = "expired"
	OutcomeAbandoned = "abandoned"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
)

// TransferCollector keeps track of frame level statistics for either side of
// a transfer and exposes them via Prometheus compatible collectors. A nil
// collector ignores every observation.
type TransferCollector struct {
	mu        sync.RWMutex
	namespace string
	registry  *prometheus.Registry
	sessions  *prometheus.CounterVec

	startTime       time.Time
	bytesSent       uint64
	bytesRetransmit uint64
	bytesReceived   uint64
	diskReadBytes   uint64
	diskWriteBytes  uint64
	framesSent      uint64
	framesReceived  uint64
	retransmissions uint64
	nackRounds      uint64
	nackedSegments  uint64
	corruptSegments uint64
	noiseFrames     uint64
	queueDepth      int
	outcomes        map[string]uint64
}

// TransferSnapshot represents a point-in-time view of the collected metrics.
type TransferSnapshot struct {
	Elapsed         time.Duration
	BytesSent       uint64
	BytesReceived   uint64
	BytesRetransmit uint64
	DiskReadBytes   uint64
	DiskWriteBytes  uint64
	FramesSent      uint64
	FramesReceived  uint64
	Retransmissions uint64
	NackRounds      uint64
	NackedSegments  uint64
	CorruptSegments uint64
	NoiseFrames     uint64
	QueueDepth      int
	Outcomes        map[string]uint64
	ThroughputBps   float64
	GoodputBps      float64
	ThroughputMbps  float64
	GoodputMbps     float64
	RetransmitRate  float64
}

// NewTransferCollector creates a collector and wires up prometheus collectors.
func NewTransferCollector(namespace string) *TransferCollector {
	if strings.TrimSpace(namespace) == "" {
		namespace = defaultNamespace
	}
	reg := prometheus.NewRegistry()
	tc := &TransferCollector{
		namespace: namespace,
		registry:  reg,
		outcomes:  make(map[string]uint64),
	}
	tc.registerMetrics()
	return tc
}

// Registry returns the prometheus registry managed by this collector.
func (c *TransferCollector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// ObserveSend records one frame of the given size. Retransmitted frames are
// accounted separately to derive goodput vs throughput.
func (c *TransferCollector) ObserveSend(bytes int, retransmit bool) {
	if c == nil || bytes <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ensureStartTimeLocked()
	c.framesSent++
	if retransmit {
		c.bytesRetransmit += uint64(bytes)
		c.retransmissions++
		return
	}
	c.bytesSent += uint64(bytes)
}

// ObserveReceive records one accepted frame.
func (c *TransferCollector) ObserveReceive(bytes int) {
	if c == nil || bytes <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ensureStartTimeLocked()
	c.framesReceived++
	c.bytesReceived += uint64(bytes)
}

func (c *TransferCollector) ObserveDiskRead(bytes int) {
	if c == nil || bytes <= 0 {
		return
	}
	c.mu.Lock()
	c.diskReadBytes += uint64(bytes)
	c.mu.Unlock()
}

func (c *TransferCollector) ObserveDiskWrite(bytes int) {
	if c == nil || bytes <= 0 {
		return
	}
	c.mu.Lock()
	c.diskWriteBytes += uint64(bytes)
	c.mu.Unlock()
}

// ObserveNackRound records one NACK round naming missing segments.
func (c *TransferCollector) ObserveNackRound(missing int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.nackRounds++
	if missing > 0 {
		c.nackedSegments += uint64(missing)
	}
	c.mu.Unlock()
}

// ObserveCorrupt records a segment discarded for a digest mismatch.
func (c *TransferCollector) ObserveCorrupt() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.corruptSegments++
	c.mu.Unlock()
}

// ObserveNoise records a datagram that could not be decoded.
func (c *TransferCollector) ObserveNoise() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.noiseFrames++
	c.mu.Unlock()
}

func (c *TransferCollector) SetQueueDepth(n int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.queueDepth = n
	c.mu.Unlock()
}

func (c *TransferCollector) ObserveSession(outcome string) {
	if c == nil {
		return
	}
	c.sessions.WithLabelValues(outcome).Inc()
	c.mu.Lock()
	c.outcomes[outcome]++
	c.mu.Unlock()
}

// Snapshot creates a read-only view of the collected metrics.
func (c *TransferCollector) Snapshot() TransferSnapshot {
	if c == nil {
		return TransferSnapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.buildSnapshotLocked(time.Now())
}

func (c *TransferCollector) buildSnapshotLocked(now time.Time) TransferSnapshot {
	primaryBytes := c.bytesSent
	retransBytes := c.bytesRetransmit
	if c.bytesReceived > primaryBytes {
		primaryBytes = c.bytesReceived
		retransBytes = 0
	}

	elapsed := time.Duration(0)
	if !c.startTime.IsZero() {
		elapsed = now.Sub(c.startTime)
	}

	throughput := rateFromBytes(primaryBytes+retransBytes, elapsed)
	goodput := rateFromBytes(primaryBytes, elapsed)

	var retransRatio float64
	if primaryBytes+retransBytes > 0 {
		retransRatio = float64(retransBytes) / float64(primaryBytes+retransBytes)
	}

	outcomes := make(map[string]uint64, len(c.outcomes))
	for k, v := range c.outcomes {
		outcomes[k] = v
	}

	return TransferSnapshot{
		Elapsed:         elapsed,
		BytesSent:       c.bytesSent,
		BytesReceived:   c.bytesReceived,
		BytesRetransmit: c.bytesRetransmit,
		DiskReadBytes:   c.diskReadBytes,
		DiskWriteBytes:  c.diskWriteBytes,
		FramesSent:      c.framesSent,
		FramesReceived:  c.framesReceived,
		Retransmissions: c.retransmissions,
		NackRounds:      c.nackRounds,
		NackedSegments:  c.nackedSegments,
		CorruptSegments: c.corruptSegments,
		NoiseFrames:     c.noiseFrames,
		QueueDepth:      c.queueDepth,
		Outcomes:        outcomes,
		ThroughputBps:   throughput,
		GoodputBps:      goodput,
		ThroughputMbps:  throughput * 8 / 1e6,
		GoodputMbps:     goodput * 8 / 1e6,
		RetransmitRate:  retransRatio,
	}
}

func (c *TransferCollector) registerMetrics() {
	makeGauge := func(name, help string, valueFn func(TransferSnapshot) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: c.namespace,
			Subsystem: subsystemTransfer,
			Name:      name,
			Help:      help,
		}, func() float64 {
			c.mu.RLock()
			defer c.mu.RUnlock()
			return valueFn(c.buildSnapshotLocked(time.Now()))
		})
	}

	makeCounter := func(name, help string, field *uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: c.namespace,
			Subsystem: subsystemTransfer,
			Name:      name,
			Help:      help,
		}, func() float64 {
			c.mu.RLock()
			defer c.mu.RUnlock()
			return float64(*field)
		})
	}

	c.sessions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: c.namespace,
		Subsystem: subsystemTransfer,
		Name:      "sessions_total",
		Help:      "Transfer sessions by outcome.",
	}, []string{"outcome"})
	c.registry.MustRegister(c.sessions)

	c.registry.MustRegister(makeGauge(
		"throughput_bytes_per_second",
		"Current transfer throughput including retransmissions.",
		func(s TransferSnapshot) float64 { return s.ThroughputBps },
	))
	c.registry.MustRegister(makeGauge(
		"goodput_bytes_per_second",
		"Effective data rate after excluding retransmissions.",
		func(s TransferSnapshot) float64 { return s.GoodputBps },
	))
	c.registry.MustRegister(makeGauge(
		"retransmission_ratio",
		"Ratio of retransmitted bytes to total transmitted bytes.",
		func(s TransferSnapshot) float64 { return s.RetransmitRate },
	))
	c.registry.MustRegister(makeGauge(
		"admission_queue_depth",
		"Requests waiting for the responder.",
		func(s TransferSnapshot) float64 { return float64(s.QueueDepth) },
	))

	c.registry.MustRegister(makeCounter("bytes_sent_total", "Payload bytes sent in first transmissions.", &c.bytesSent))
	c.registry.MustRegister(makeCounter("bytes_retransmitted_total", "Payload bytes resent after NACKs.", &c.bytesRetransmit))
	c.registry.MustRegister(makeCounter("bytes_received_total", "Payload bytes accepted from the peer.", &c.bytesReceived))
	c.registry.MustRegister(makeCounter("disk_read_bytes_total", "Bytes read from the file store.", &c.diskReadBytes))
	c.registry.MustRegister(makeCounter("disk_write_bytes_total", "Bytes written to the file store.", &c.diskWriteBytes))
	c.registry.MustRegister(makeCounter("frames_sent_total", "Frames transmitted.", &c.framesSent))
	c.registry.MustRegister(makeCounter("frames_received_total", "Frames accepted.", &c.framesReceived))
	c.registry.MustRegister(makeCounter("retransmissions_total", "Segments resent after NACKs.", &c.retransmissions))
	c.registry.MustRegister(makeCounter("nack_rounds_total", "NACK rounds sent or served.", &c.nackRounds))
	c.registry.MustRegister(makeCounter("nacked_segments_total", "Segments named in NACKs.", &c.nackedSegments))
	c.registry.MustRegister(makeCounter("corrupt_segments_total", "Segments discarded for a digest mismatch.", &c.corruptSegments))
	c.registry.MustRegister(makeCounter("noise_frames_total", "Datagrams discarded as undecodable.", &c.noiseFrames))
}

func (c *TransferCollector) ensureStartTimeLocked() {
	if c.startTime.IsZero() {
		c.startTime = time.Now()
	}
}

func rateFromBytes(bytes uint64, elapsed time.Duration) float64 {
	if bytes == 0 || elapsed <= 0 {
		return 0
	}
	return float64(bytes) / elapsed.Seconds()
}
