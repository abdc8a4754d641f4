package ports

import (
	"context"

	"github.com/eleven-am/loom/internal/domain"
)

// ExecutionLog is the per-execution append-only event buffer. Appends are
// thread-safe under concurrent node completions; entries are never mutated
// or deleted by the engine.
type ExecutionLog interface {
	Append(eventType domain.EventType, nodeID string, level domain.LogLevel, message string, data map[string]interface{})
	// Entries replays the buffered log in sequence order.
	Entries() []domain.ExecutionLogEntry
	// Follow replays the buffer and then tails new entries until ctx is done
	// or the execution reaches a terminal status.
	Follow(ctx context.Context) <-chan domain.ExecutionLogEntry
	Summary() domain.ExecutionSummary
	Close()
}
