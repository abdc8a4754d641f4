package domain

import (
	"time"
)

type EventType string

const (
	EventExecutionStarted   EventType = "started"
	EventExecutionProgress  EventType = "progress"
	EventStepStarted        EventType = "step_started"
	EventStepCompleted      EventType = "step_completed"
	EventStepError          EventType = "step_error"
	EventExecutionCompleted EventType = "completed"
)

type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// ExecutionLogEntry is an append-only record of one engine event. Entries
// for a given execution are ordered by Seq, assigned by the log buffer,
// independent of wall-clock skew across concurrent node runners.
type ExecutionLogEntry struct {
	ExecutionID string                 `json:"execution_id"`
	Seq         uint64                 `json:"seq"`
	EventType   EventType              `json:"event_type"`
	NodeID      string                 `json:"node_id,omitempty"`
	Level       LogLevel               `json:"level"`
	Message     string                 `json:"message"`
	Data        map[string]interface{} `json:"data,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}
