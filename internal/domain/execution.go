package domain

import (
	"time"
)

type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "PENDING"
	ExecutionStatusRunning   ExecutionStatus = "RUNNING"
	ExecutionStatusCompleted ExecutionStatus = "COMPLETED"
	ExecutionStatusFailed    ExecutionStatus = "FAILED"
	ExecutionStatusCancelled ExecutionStatus = "CANCELLED"
)

func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

type NodeRunStatus string

const (
	NodeRunPending NodeRunStatus = "PENDING"
	NodeRunRunning NodeRunStatus = "RUNNING"
	NodeRunSuccess NodeRunStatus = "SUCCESS"
	NodeRunError   NodeRunStatus = "ERROR"
	NodeRunSkipped NodeRunStatus = "SKIPPED"
)

func (s NodeRunStatus) Terminal() bool {
	return s == NodeRunSuccess || s == NodeRunError || s == NodeRunSkipped
}

// NodeRunRecord tracks one node's progress through an execution. Written by
// the coordinator only; a single writer per node slot.
type NodeRunRecord struct {
	NodeID        string                 `json:"node_id"`
	Status        NodeRunStatus          `json:"status"`
	AttemptCount  int                    `json:"attempt_count"`
	InputSnapshot map[string]interface{} `json:"input_snapshot,omitempty"`
	OutputData    map[string]interface{} `json:"output_data,omitempty"`
	Error         *RunnerError           `json:"error,omitempty"`
	StartedAt     *time.Time             `json:"started_at,omitempty"`
	EndedAt       *time.Time             `json:"ended_at,omitempty"`
}

func (r *NodeRunRecord) Duration() time.Duration {
	if r.StartedAt == nil || r.EndedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(*r.StartedAt)
}

// Execution is one run of a workflow. Immutable once Status is terminal.
type Execution struct {
	ID             string                    `json:"id"`
	WorkflowID     string                    `json:"workflow_id"`
	TriggerPayload map[string]interface{}    `json:"trigger_payload,omitempty"`
	Status         ExecutionStatus           `json:"status"`
	StartedAt      time.Time                 `json:"started_at"`
	EndedAt        *time.Time                `json:"ended_at,omitempty"`
	NodeRuns       map[string]*NodeRunRecord `json:"node_runs"`
	Error          string                    `json:"error,omitempty"`
}

// ExecutionSummary is derived from log and run records on read.
type ExecutionSummary struct {
	ExecutionID       string        `json:"execution_id"`
	TotalNodes        int           `json:"total_nodes"`
	Completed         int           `json:"completed"`
	Failed            int           `json:"failed"`
	InProgress        int           `json:"in_progress"`
	Skipped           int           `json:"skipped"`
	TotalDuration     time.Duration `json:"total_duration_ms"`
	AvgNodeDuration   time.Duration `json:"avg_node_duration_ms"`
	MinNodeDuration   time.Duration `json:"min_node_duration_ms"`
	MaxNodeDuration   time.Duration `json:"max_node_duration_ms"`
}

// SuspensionToken is the persisted continuation for a suspended node, so a
// process restart can still resume it from durable state.
type SuspensionToken struct {
	ExecutionID string        `json:"execution_id"`
	NodeID      string        `json:"node_id"`
	Port        string        `json:"port"`
	SuspendedAt time.Time     `json:"suspended_at"`
	ResumeAfter time.Duration `json:"resume_after,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}
