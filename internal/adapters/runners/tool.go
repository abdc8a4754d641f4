package runners

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/eleven-am/loom/internal/domain"
	"github.com/eleven-am/loom/internal/ports"
)

// ToolRunner invokes a named in-process callable. Tools are registered at
// process start, alongside the node registry.
type ToolRunner struct {
	mu    sync.RWMutex
	tools map[string]ports.ToolFunc
}

func NewToolRunner() *ToolRunner {
	return &ToolRunner{tools: make(map[string]ports.ToolFunc)}
}

func (t *ToolRunner) RegisterTool(name string, fn ports.ToolFunc) error {
	if name == "" || fn == nil {
		return domain.ErrInvalidInput
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.tools[name]; exists {
		return fmt.Errorf("tool %q: already registered", name)
	}
	t.tools[name] = fn
	return nil
}

func (t *ToolRunner) Tools() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.tools))
	for name := range t.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (t *ToolRunner) Kind() (domain.NodeType, string) {
	return domain.NodeTypeTool, domain.SubtypeFunction
}

func (t *ToolRunner) InputPorts() []string {
	return []string{domain.PortMain}
}

func (t *ToolRunner) OutputPorts() []string {
	return []string{domain.PortMain}
}

func (t *ToolRunner) ValidateParameters(params map[string]interface{}) error {
	name, ok := stringParam(params, "tool")
	if !ok || name == "" {
		return &domain.ParameterError{Parameter: "tool", Reason: "tool name is required"}
	}
	return nil
}

func (t *ToolRunner) Execute(ctx context.Context, params map[string]interface{}, inputs map[string]interface{}) (*ports.RunnerResult, error) {
	name, _ := stringParam(params, "tool")

	t.mu.RLock()
	fn, ok := t.tools[name]
	t.mu.RUnlock()
	if !ok {
		return nil, &domain.RunnerError{
			Reason:   domain.ReasonBadParameters,
			Message:  fmt.Sprintf("tool %q is not registered", name),
			Solution: "register the tool before starting the engine",
		}
	}

	args, _ := mapParam(params, "args")
	if args == nil {
		args, _ = inputs[domain.PortMain].(map[string]interface{})
	}

	result, err := fn(ctx, args)
	if err != nil {
		return nil, domain.NewRunnerError(domain.ReasonInternal, fmt.Sprintf("tool %q failed: %v", name, err), err)
	}

	return &ports.RunnerResult{
		Outputs: map[string]interface{}{
			domain.PortMain: map[string]interface{}{
				"tool":   name,
				"result": result,
			},
		},
	}, nil
}
