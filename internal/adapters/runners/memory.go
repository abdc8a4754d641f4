package runners

import (
	"context"
	"fmt"

	"github.com/eleven-am/loom/internal/domain"
	"github.com/eleven-am/loom/internal/ports"
)

// MemoryRunner reads and writes the external persistence backend on behalf
// of MEMORY nodes.
type MemoryRunner struct {
	backend ports.MemoryBackend
}

func NewMemoryRunner(backend ports.MemoryBackend) *MemoryRunner {
	return &MemoryRunner{backend: backend}
}

const (
	memoryOpStore    = "store"
	memoryOpRetrieve = "retrieve"
	memoryOpUpdate   = "update"
	memoryOpDelete   = "delete"
)

func (m *MemoryRunner) Kind() (domain.NodeType, string) {
	return domain.NodeTypeMemory, domain.SubtypeKeyValue
}

func (m *MemoryRunner) InputPorts() []string {
	return []string{domain.PortMain}
}

func (m *MemoryRunner) OutputPorts() []string {
	return []string{domain.PortMain}
}

func (m *MemoryRunner) ValidateParameters(params map[string]interface{}) error {
	op, ok := stringParam(params, "operation")
	if !ok {
		return &domain.ParameterError{Parameter: "operation", Reason: "operation is required"}
	}
	switch op {
	case memoryOpStore, memoryOpRetrieve, memoryOpUpdate, memoryOpDelete:
		return nil
	default:
		return &domain.ParameterError{Parameter: "operation", Reason: fmt.Sprintf("unknown memory operation %q", op)}
	}
}

func (m *MemoryRunner) Execute(ctx context.Context, params map[string]interface{}, inputs map[string]interface{}) (*ports.RunnerResult, error) {
	if m.backend == nil {
		return nil, domain.NewRunnerError(domain.ReasonMemoryBackend, "no memory backend is configured", nil)
	}

	rc, _ := domain.GetRunContext(ctx)
	userID, nodeID := "", ""
	if rc != nil {
		userID, nodeID = rc.UserID, rc.NodeID
	}
	if key, ok := stringParam(params, "key"); ok {
		nodeID = key
	}

	op, _ := stringParam(params, "operation")

	payload, _ := inputs[domain.PortMain].(map[string]interface{})
	if values, ok := mapParam(params, "payload"); ok {
		payload = values
	}

	switch op {
	case memoryOpStore:
		if err := m.backend.Store(ctx, userID, nodeID, payload); err != nil {
			return nil, memoryError(op, err)
		}
		return memoryOutput(op, payload), nil
	case memoryOpUpdate:
		if err := m.backend.Update(ctx, userID, nodeID, payload); err != nil {
			return nil, memoryError(op, err)
		}
		return memoryOutput(op, payload), nil
	case memoryOpRetrieve:
		stored, err := m.backend.Retrieve(ctx, userID, nodeID)
		if err != nil {
			if domain.IsNotFound(err) {
				return memoryOutput(op, nil), nil
			}
			return nil, memoryError(op, err)
		}
		return memoryOutput(op, stored), nil
	case memoryOpDelete:
		if err := m.backend.Delete(ctx, userID, nodeID); err != nil {
			return nil, memoryError(op, err)
		}
		return memoryOutput(op, nil), nil
	}
	return nil, domain.NewRunnerError(domain.ReasonBadParameters, fmt.Sprintf("unknown memory operation %q", op), nil)
}

func memoryOutput(op string, payload map[string]interface{}) *ports.RunnerResult {
	return &ports.RunnerResult{
		Outputs: map[string]interface{}{
			domain.PortMain: map[string]interface{}{
				"operation": op,
				"memory":    payload,
			},
		},
	}
}

func memoryError(op string, err error) *domain.RunnerError {
	return &domain.RunnerError{
		Reason:  domain.ReasonMemoryBackend,
		Message: fmt.Sprintf("memory %s failed: %v", op, err),
		Err:     err,
	}
}
