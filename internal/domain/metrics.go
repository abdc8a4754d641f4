package domain

import (
	"sync/atomic"
	"time"
)

// EngineMetrics counts execution and node activity across the engine's
// lifetime. All fields are updated atomically; read them through Snapshot.
type EngineMetrics struct {
	ExecutionsStarted   int64 `json:"executions_started"`
	ExecutionsCompleted int64 `json:"executions_completed"`
	ExecutionsFailed    int64 `json:"executions_failed"`
	ExecutionsCancelled int64 `json:"executions_cancelled"`
	ExecutionsRecovered int64 `json:"executions_recovered"`

	NodesDispatched int64 `json:"nodes_dispatched"`
	NodesSucceeded  int64 `json:"nodes_succeeded"`
	NodesFailed     int64 `json:"nodes_failed"`
	NodesSkipped    int64 `json:"nodes_skipped"`
	NodesSuspended  int64 `json:"nodes_suspended"`
	NodesResumed    int64 `json:"nodes_resumed"`
	RetryAttempts   int64 `json:"retry_attempts"`

	TotalNodeTimeNs int64 `json:"total_node_time_ns"`
	NodeRunCount    int64 `json:"node_run_count"`
}

func NewEngineMetrics() *EngineMetrics {
	return &EngineMetrics{}
}

func (m *EngineMetrics) IncrementExecutionsStarted() {
	atomic.AddInt64(&m.ExecutionsStarted, 1)
}

func (m *EngineMetrics) IncrementExecutionsRecovered() {
	atomic.AddInt64(&m.ExecutionsRecovered, 1)
}

// RecordExecutionFinished buckets a terminal execution by its status.
func (m *EngineMetrics) RecordExecutionFinished(status ExecutionStatus) {
	switch status {
	case ExecutionStatusCompleted:
		atomic.AddInt64(&m.ExecutionsCompleted, 1)
	case ExecutionStatusFailed:
		atomic.AddInt64(&m.ExecutionsFailed, 1)
	case ExecutionStatusCancelled:
		atomic.AddInt64(&m.ExecutionsCancelled, 1)
	}
}

func (m *EngineMetrics) IncrementNodesDispatched() {
	atomic.AddInt64(&m.NodesDispatched, 1)
}

func (m *EngineMetrics) IncrementNodesSucceeded() {
	atomic.AddInt64(&m.NodesSucceeded, 1)
}

func (m *EngineMetrics) IncrementNodesFailed() {
	atomic.AddInt64(&m.NodesFailed, 1)
}

func (m *EngineMetrics) IncrementNodesSkipped() {
	atomic.AddInt64(&m.NodesSkipped, 1)
}

func (m *EngineMetrics) IncrementNodesSuspended() {
	atomic.AddInt64(&m.NodesSuspended, 1)
}

func (m *EngineMetrics) IncrementNodesResumed() {
	atomic.AddInt64(&m.NodesResumed, 1)
}

// AddRetryAttempts records the retries a node consumed beyond its first
// attempt.
func (m *EngineMetrics) AddRetryAttempts(attempts int) {
	if attempts > 1 {
		atomic.AddInt64(&m.RetryAttempts, int64(attempts-1))
	}
}

func (m *EngineMetrics) AddNodeTime(duration time.Duration) {
	atomic.AddInt64(&m.TotalNodeTimeNs, int64(duration))
	atomic.AddInt64(&m.NodeRunCount, 1)
}

func (m *EngineMetrics) AverageNodeTime() time.Duration {
	totalNs := atomic.LoadInt64(&m.TotalNodeTimeNs)
	count := atomic.LoadInt64(&m.NodeRunCount)
	if count == 0 {
		return 0
	}
	return time.Duration(totalNs / count)
}

func (m *EngineMetrics) Snapshot() EngineMetrics {
	return EngineMetrics{
		ExecutionsStarted:   atomic.LoadInt64(&m.ExecutionsStarted),
		ExecutionsCompleted: atomic.LoadInt64(&m.ExecutionsCompleted),
		ExecutionsFailed:    atomic.LoadInt64(&m.ExecutionsFailed),
		ExecutionsCancelled: atomic.LoadInt64(&m.ExecutionsCancelled),
		ExecutionsRecovered: atomic.LoadInt64(&m.ExecutionsRecovered),
		NodesDispatched:     atomic.LoadInt64(&m.NodesDispatched),
		NodesSucceeded:      atomic.LoadInt64(&m.NodesSucceeded),
		NodesFailed:         atomic.LoadInt64(&m.NodesFailed),
		NodesSkipped:        atomic.LoadInt64(&m.NodesSkipped),
		NodesSuspended:      atomic.LoadInt64(&m.NodesSuspended),
		NodesResumed:        atomic.LoadInt64(&m.NodesResumed),
		RetryAttempts:       atomic.LoadInt64(&m.RetryAttempts),
		TotalNodeTimeNs:     atomic.LoadInt64(&m.TotalNodeTimeNs),
		NodeRunCount:        atomic.LoadInt64(&m.NodeRunCount),
	}
}

func (m *EngineMetrics) Reset() {
	atomic.StoreInt64(&m.ExecutionsStarted, 0)
	atomic.StoreInt64(&m.ExecutionsCompleted, 0)
	atomic.StoreInt64(&m.ExecutionsFailed, 0)
	atomic.StoreInt64(&m.ExecutionsCancelled, 0)
	atomic.StoreInt64(&m.ExecutionsRecovered, 0)
	atomic.StoreInt64(&m.NodesDispatched, 0)
	atomic.StoreInt64(&m.NodesSucceeded, 0)
	atomic.StoreInt64(&m.NodesFailed, 0)
	atomic.StoreInt64(&m.NodesSkipped, 0)
	atomic.StoreInt64(&m.NodesSuspended, 0)
	atomic.StoreInt64(&m.NodesResumed, 0)
	atomic.StoreInt64(&m.RetryAttempts, 0)
	atomic.StoreInt64(&m.TotalNodeTimeNs, 0)
	atomic.StoreInt64(&m.NodeRunCount, 0)
}
