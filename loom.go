// Package loom provides a node-based workflow execution engine for Go
// applications.
//
// Loom workflows are directed graphs of typed nodes: triggers, actions,
// flow control (IF, SWITCH, FILTER, LOOP, MERGE, WAIT), AI agents, external
// provider calls, human approval gates, tools, and memory. It provides:
//   - Two-phase workflow loading: name-or-ID authoring resolved into a
//     validated, ID-only execution graph
//   - Per-node retry budgets with a workflow-level continue-vs-stop policy
//   - Suspend/resume for waits and human approval, durable across restarts
//   - Per-execution bounded log buffers with replay and tail-follow
//   - CRON trigger scheduling
//
// Basic usage:
//
//	manager, err := loom.New(loom.DefaultConfig().WithDataDir("./data"))
//	if err != nil { ... }
//	manager.Start(context.Background())
//
//	workflow, err := manager.RegisterWorkflow(&loom.RawWorkflow{
//	    Name: "fetch-and-branch",
//	    Nodes: []loom.RawNode{
//	        {Name: "start", Type: loom.NodeTypeTrigger, Subtype: loom.SubtypeManual},
//	        {Name: "fetch", Type: loom.NodeTypeAction, Subtype: loom.SubtypeHTTPRequest,
//	            Parameters: map[string]interface{}{"url": "https://example.com"}},
//	    },
//	    Connections: loom.RawConnections{
//	        "start": {"main": {{Node: "fetch"}}},
//	    },
//	})
//	if err != nil { ... }
//
//	executionID, err := manager.StartExecution(context.Background(), workflow.ID, nil)
package loom

import (
	"errors"

	"github.com/eleven-am/loom/internal/domain"
)

// DefaultConfig returns the engine configuration defaults. Chain the
// Config builder methods to customize.
func DefaultConfig() *Config {
	return domain.DefaultConfig()
}

// IsValidationError reports whether err is a workflow-load validation
// failure (ambiguous names, dangling references, unknown node kinds, bad
// parameters).
func IsValidationError(err error) bool {
	return domain.IsValidationError(err)
}

// IsNotFound reports whether err indicates a missing workflow, execution,
// node, or stored key.
func IsNotFound(err error) bool {
	return domain.IsNotFound(err)
}

// IsRunnerError reports whether err carries structured node-failure detail.
func IsRunnerError(err error) bool {
	return domain.IsRunnerError(err)
}

// AsRunnerError extracts the structured failure detail from err, wrapping
// unstructured errors as internal failures.
func AsRunnerError(err error) *RunnerError {
	return domain.AsRunnerError(err)
}

// ErrNotFound is the sentinel wrapped by all not-found failures.
var ErrNotFound = domain.ErrNotFound

// ErrInvalidInput is the sentinel wrapped by all bad-input failures.
var ErrInvalidInput = domain.ErrInvalidInput

// ErrAlreadyStarted is returned when starting a started manager or engine.
var ErrAlreadyStarted = domain.ErrAlreadyStarted

// ErrNotStarted is returned when using a manager or engine before Start.
var ErrNotStarted = domain.ErrNotStarted

// IsAlreadyStarted reports whether err came from starting a started
// manager or engine.
func IsAlreadyStarted(err error) bool {
	return errors.Is(err, domain.ErrAlreadyStarted)
}
