package execlog

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/eleven-am/loom/internal/domain"
)

// Buffer is a bounded, append-only log for one execution. Oldest entries
// are evicted past the configured capacity. The sequence counter orders
// entries independently of wall-clock skew across concurrent node runners.
// A Buffer's lifecycle is tied to its Execution: the coordinator owns it
// and closes it when the execution reaches a terminal status.
type Buffer struct {
	executionID string
	capacity    int
	sanitizer   *Sanitizer
	clock       clock.PassiveClock

	mu      sync.Mutex
	entries []domain.ExecutionLogEntry
	head    int
	size    int
	seq     uint64
	subs    map[int]chan domain.ExecutionLogEntry
	nextSub int
	closed  bool

	totalNodes int
	started    time.Time
	ended      *time.Time
	running    map[string]bool
	completed  int
	failed     int
	skipped    int
	durations  []time.Duration
}

func NewBuffer(executionID string, totalNodes, capacity int, sanitizer *Sanitizer, clk clock.PassiveClock) *Buffer {
	if capacity <= 0 {
		capacity = domain.DefaultEngineConfig().LogBufferCapacity
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if sanitizer == nil {
		sanitizer = NewSanitizer(nil)
	}
	return &Buffer{
		executionID: executionID,
		capacity:    capacity,
		sanitizer:   sanitizer,
		clock:       clk,
		entries:     make([]domain.ExecutionLogEntry, 0, min(capacity, 256)),
		subs:        make(map[int]chan domain.ExecutionLogEntry),
		totalNodes:  totalNodes,
		running:     make(map[string]bool),
	}
}

func (b *Buffer) Append(eventType domain.EventType, nodeID string, level domain.LogLevel, message string, data map[string]interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.seq++
	entry := domain.ExecutionLogEntry{
		ExecutionID: b.executionID,
		Seq:         b.seq,
		EventType:   eventType,
		NodeID:      nodeID,
		Level:       level,
		Message:     message,
		Data:        b.sanitizer.Sanitize(data),
		Timestamp:   b.clock.Now(),
	}

	b.push(entry)
	b.track(entry)

	for _, sub := range b.subs {
		select {
		case sub <- entry:
		default:
			// Slow follower: drop rather than block an append under lock.
		}
	}
}

func (b *Buffer) push(entry domain.ExecutionLogEntry) {
	if b.size < b.capacity {
		b.entries = append(b.entries, entry)
		b.size++
		return
	}
	b.entries[b.head] = entry
	b.head = (b.head + 1) % b.capacity
}

func (b *Buffer) track(entry domain.ExecutionLogEntry) {
	switch entry.EventType {
	case domain.EventExecutionStarted:
		b.started = entry.Timestamp
	case domain.EventStepStarted:
		b.running[entry.NodeID] = true
	case domain.EventStepCompleted:
		delete(b.running, entry.NodeID)
		if skipped, _ := entry.Data["skipped"].(bool); skipped {
			b.skipped++
			return
		}
		b.completed++
		if ms, ok := entry.Data["duration_ms"].(int64); ok {
			b.durations = append(b.durations, time.Duration(ms)*time.Millisecond)
		}
	case domain.EventStepError:
		delete(b.running, entry.NodeID)
		b.failed++
		if ms, ok := entry.Data["duration_ms"].(int64); ok {
			b.durations = append(b.durations, time.Duration(ms)*time.Millisecond)
		}
	case domain.EventExecutionCompleted:
		ended := entry.Timestamp
		b.ended = &ended
	}
}

func (b *Buffer) Entries() []domain.ExecutionLogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]domain.ExecutionLogEntry, 0, b.size)
	for i := 0; i < b.size; i++ {
		out = append(out, b.entries[(b.head+i)%len(b.entries)])
	}
	return out
}

// Follow replays buffered entries and then tails the live stream. The
// returned channel closes when ctx is done or the buffer is closed.
func (b *Buffer) Follow(ctx context.Context) <-chan domain.ExecutionLogEntry {
	out := make(chan domain.ExecutionLogEntry)

	b.mu.Lock()
	replay := make([]domain.ExecutionLogEntry, 0, b.size)
	for i := 0; i < b.size; i++ {
		replay = append(replay, b.entries[(b.head+i)%len(b.entries)])
	}
	var tail chan domain.ExecutionLogEntry
	var id int
	if !b.closed {
		tail = make(chan domain.ExecutionLogEntry, b.capacity)
		id = b.nextSub
		b.nextSub++
		b.subs[id] = tail
	}
	b.mu.Unlock()

	go func() {
		defer close(out)
		defer func() {
			if tail != nil {
				b.mu.Lock()
				delete(b.subs, id)
				b.mu.Unlock()
			}
		}()

		for _, entry := range replay {
			select {
			case out <- entry:
			case <-ctx.Done():
				return
			}
		}
		if tail == nil {
			return
		}
		for {
			select {
			case entry, ok := <-tail:
				if !ok {
					return
				}
				select {
				case out <- entry:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

func (b *Buffer) Summary() domain.ExecutionSummary {
	b.mu.Lock()
	defer b.mu.Unlock()

	summary := domain.ExecutionSummary{
		ExecutionID: b.executionID,
		TotalNodes:  b.totalNodes,
		Completed:   b.completed,
		Failed:      b.failed,
		Skipped:     b.skipped,
		InProgress:  len(b.running),
	}

	end := b.clock.Now()
	if b.ended != nil {
		end = *b.ended
	}
	if !b.started.IsZero() {
		summary.TotalDuration = end.Sub(b.started)
	}

	if len(b.durations) > 0 {
		var total time.Duration
		summary.MinNodeDuration = b.durations[0]
		for _, d := range b.durations {
			total += d
			if d < summary.MinNodeDuration {
				summary.MinNodeDuration = d
			}
			if d > summary.MaxNodeDuration {
				summary.MaxNodeDuration = d
			}
		}
		summary.AvgNodeDuration = total / time.Duration(len(b.durations))
	}

	return summary
}

// Close stops all followers. Buffered entries remain readable.
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub)
		delete(b.subs, id)
	}
}
