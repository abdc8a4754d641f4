package ports

import (
	"github.com/eleven-am/loom/internal/domain"
)

// Registry maps (type, subtype) to a runner. Populated at process start and
// read-only during execution.
type Registry interface {
	Register(runner Runner) error
	Get(nodeType domain.NodeType, subtype string) (Runner, error)
	Has(nodeType domain.NodeType, subtype string) bool
	List() []string
}

type RunnerRegistrationError struct {
	Kind   string
	Reason string
}

func (e *RunnerRegistrationError) Error() string {
	return "runner registration failed for '" + e.Kind + "': " + e.Reason
}
