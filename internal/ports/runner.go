package ports

import (
	"context"
	"time"

	"github.com/eleven-am/loom/internal/domain"
)

// Runner executes one node kind. Implementations declare their port contract
// up front; the registry rejects workflows that wire undeclared ports.
// Runners must treat inputs as read-only: the coordinator fans the same
// logical value out to every connected downstream input.
type Runner interface {
	Kind() (domain.NodeType, string)
	InputPorts() []string
	OutputPorts() []string
	ValidateParameters(params map[string]interface{}) error
	Execute(ctx context.Context, params map[string]interface{}, inputs map[string]interface{}) (*RunnerResult, error)
}

// RunnerResult is the outcome of one successful node attempt. Exactly one
// of Outputs, Suspension, or Loop is expected to be meaningful; plain nodes
// return Outputs only.
type RunnerResult struct {
	// Outputs maps output port name to the value emitted on that port.
	// Ports absent from the map did not fire; their downstream branch is
	// marked SKIPPED by the coordinator.
	Outputs map[string]interface{}

	// Suspension, when non-nil, tells the coordinator this node is waiting
	// on a timer or an external resume signal. The runner has returned
	// control; the node stays RUNNING-but-suspended until resumed.
	Suspension *Suspension

	// Loop, when non-nil, hands the coordinator a collection to iterate the
	// node's downstream subgraph over.
	Loop *LoopDirective

	Warnings []string
}

type Suspension struct {
	// ResumeAfter schedules a timer resume. Zero means external-only.
	ResumeAfter time.Duration
	// Timeout bounds the suspension window. Zero inherits the engine default.
	Timeout time.Duration
	// ResumePayload is emitted on a timer resume when no external payload
	// arrived first.
	ResumePayload interface{}
}

type LoopDirective struct {
	Items []interface{}
	// BoundHit is set when the collection was truncated at max_iterations.
	BoundHit bool
}
