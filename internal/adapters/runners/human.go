package runners

import (
	"context"
	"time"

	"github.com/eleven-am/loom/internal/domain"
	"github.com/eleven-am/loom/internal/ports"
)

// HumanInLoopRunner suspends until a human reply arrives through
// ResumeSuspendedNode. An optional timeout bounds the wait; exceeding it is
// a suspension timeout handled under the node's error policy.
type HumanInLoopRunner struct{}

func NewHumanInLoopRunner() *HumanInLoopRunner { return &HumanInLoopRunner{} }

func (h *HumanInLoopRunner) Kind() (domain.NodeType, string) {
	return domain.NodeTypeHumanInLoop, domain.SubtypeApproval
}

func (h *HumanInLoopRunner) InputPorts() []string {
	return []string{domain.PortMain}
}

func (h *HumanInLoopRunner) OutputPorts() []string {
	return []string{domain.PortMain}
}

func (h *HumanInLoopRunner) ValidateParameters(params map[string]interface{}) error {
	if seconds, ok := intParam(params, "timeout_seconds"); ok && seconds <= 0 {
		return &domain.ParameterError{Parameter: "timeout_seconds", Reason: "must be positive"}
	}
	return nil
}

func (h *HumanInLoopRunner) Execute(ctx context.Context, params map[string]interface{}, inputs map[string]interface{}) (*ports.RunnerResult, error) {
	suspension := &ports.Suspension{}
	if seconds, ok := intParam(params, "timeout_seconds"); ok {
		suspension.Timeout = time.Duration(seconds) * time.Second
	}
	return &ports.RunnerResult{Suspension: suspension}, nil
}
