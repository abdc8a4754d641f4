package ports

import (
	"context"

	"github.com/eleven-am/loom/internal/domain"
)

// Engine drives resolved workflows to a terminal state.
type Engine interface {
	Start(ctx context.Context) error
	Stop() error

	StartExecution(ctx context.Context, workflow *domain.ResolvedWorkflow, triggerPayload map[string]interface{}) (string, error)
	CancelExecution(executionID string) error
	ResumeSuspendedNode(executionID, nodeID string, payload map[string]interface{}) error

	GetExecution(executionID string) (*domain.Execution, error)
	GetExecutionLog(executionID string) (ExecutionLog, error)
}
