package gateway

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines the interface for collecting session metrics
type MetricsCollector interface {
	RecordSnapshotApplied(duplicate bool)
	RecordProtocolError()
	RecordConnectAttempt(success bool, duration time.Duration)
	RecordReconnectScheduled(attempt int, delay time.Duration)
	RecordPublish(action string, success bool)
	RecordAnswerSuppressed()
}

// NoOpMetricsCollector is a no-op implementation for when metrics aren't needed
type NoOpMetricsCollector struct{}

func (n *NoOpMetricsCollector) RecordSnapshotApplied(duplicate bool)                      {}
func (n *NoOpMetricsCollector) RecordProtocolError()                                      {}
func (n *NoOpMetricsCollector) RecordConnectAttempt(success bool, duration time.Duration) {}
func (n *NoOpMetricsCollector) RecordReconnectScheduled(attempt int, delay time.Duration) {}
func (n *NoOpMetricsCollector) RecordPublish(action string, success bool)                 {}
func (n *NoOpMetricsCollector) RecordAnswerSuppressed()                                   {}

// Stats is a point-in-time copy of the counters.
type Stats struct {
	SnapshotsApplied   int64 `json:"snapshots_applied"`
	DuplicateSnapshots int64 `json:"duplicate_snapshots"`
	ProtocolErrors     int64 `json:"protocol_errors"`
	Connects           int64 `json:"connects"`
	ConnectFailures    int64 `json:"connect_failures"`
	Reconnects         int64 `json:"reconnects_scheduled"`
	LastBackoffMillis  int64 `json:"last_backoff_ms"`
	Publishes          int64 `json:"publishes"`
	PublishFailures    int64 `json:"publish_failures"`
	AnswersSuppressed  int64 `json:"answers_suppressed"`
}

// CounterMetrics implements MetricsCollector with atomic counters.
type CounterMetrics struct {
	snapshots       atomic.Int64
	duplicates      atomic.Int64
	protocolErrors  atomic.Int64
	connects        atomic.Int64
	connectFailures atomic.Int64
	reconnects      atomic.Int64
	lastBackoff     atomic.Int64
	publishes       atomic.Int64
	publishFailures atomic.Int64
	suppressed      atomic.Int64
}

func NewCounterMetrics() *CounterMetrics {
	return &CounterMetrics{}
}

func (m *CounterMetrics) RecordSnapshotApplied(duplicate bool) {
	m.snapshots.Add(1)
	if duplicate {
		m.duplicates.Add(1)
	}
}

func (m *CounterMetrics) RecordProtocolError() {
	m.protocolErrors.Add(1)
}

func (m *CounterMetrics) RecordConnectAttempt(success bool, duration time.Duration) {
	if success {
		m.connects.Add(1)
		return
	}
	m.connectFailures.Add(1)
}

func (m *CounterMetrics) RecordReconnectScheduled(attempt int, delay time.Duration) {
	m.reconnects.Add(1)
	m.lastBackoff.Store(delay.Milliseconds())
}

func (m *CounterMetrics) RecordPublish(action string, success bool) {
	if success {
		m.publishes.Add(1)
		return
	}
	m.publishFailures.Add(1)
}

func (m *CounterMetrics) RecordAnswerSuppressed() {
	m.suppressed.Add(1)
}

// Stats returns the current counter values.
func (m *CounterMetrics) Stats() Stats {
	return Stats{
		SnapshotsApplied:   m.snapshots.Load(),
		DuplicateSnapshots: m.duplicates.Load(),
		ProtocolErrors:     m.protocolErrors.Load(),
		Connects:           m.connects.Load(),
		ConnectFailures:    m.connectFailures.Load(),
		Reconnects:         m.reconnects.Load(),
		LastBackoffMillis:  m.lastBackoff.Load(),
		Publishes:          m.publishes.Load(),
		PublishFailures:    m.publishFailures.Load(),
		AnswersSuppressed:  m.suppressed.Load(),
	}
}
