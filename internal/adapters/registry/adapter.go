package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/eleven-am/loom/internal/domain"
	"github.com/eleven-am/loom/internal/ports"
)

// Adapter is the static (type, subtype) -> runner table. It is populated at
// process start and read-only during execution; the RWMutex only guards the
// registration phase.
type Adapter struct {
	runners map[string]ports.Runner
	mu      sync.RWMutex
	logger  *slog.Logger
}

func NewAdapter(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		runners: make(map[string]ports.Runner),
		logger:  logger.With("component", "node-registry"),
	}
}

func kindKey(nodeType domain.NodeType, subtype string) string {
	return string(nodeType) + "/" + subtype
}

func (a *Adapter) Register(runner ports.Runner) error {
	if runner == nil {
		return &ports.RunnerRegistrationError{Kind: "<nil>", Reason: "runner cannot be nil"}
	}
	nodeType, subtype := runner.Kind()
	key := kindKey(nodeType, subtype)
	if nodeType == "" || subtype == "" {
		return &ports.RunnerRegistrationError{Kind: key, Reason: "type and subtype are required"}
	}
	if len(runner.OutputPorts()) == 0 {
		return &ports.RunnerRegistrationError{Kind: key, Reason: "runner declares no output ports"}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.runners[key]; exists {
		return &ports.RunnerRegistrationError{Kind: key, Reason: "already registered"}
	}
	a.runners[key] = runner
	a.logger.Debug("runner registered", "kind", key, "output_ports", runner.OutputPorts())
	return nil
}

func (a *Adapter) Get(nodeType domain.NodeType, subtype string) (ports.Runner, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	runner, ok := a.runners[kindKey(nodeType, subtype)]
	if !ok {
		return nil, fmt.Errorf("runner for (%s, %s): %w", nodeType, subtype, domain.ErrNotFound)
	}
	return runner, nil
}

func (a *Adapter) Has(nodeType domain.NodeType, subtype string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	_, ok := a.runners[kindKey(nodeType, subtype)]
	return ok
}

func (a *Adapter) List() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	kinds := make([]string, 0, len(a.runners))
	for key := range a.runners {
		kinds = append(kinds, key)
	}
	sort.Strings(kinds)
	return kinds
}

// ValidateWorkflow checks every node against the registry: the (type,
// subtype) pair must be registered, parameters must satisfy the runner's
// contract, and wired output ports must be declared by the runner.
func (a *Adapter) ValidateWorkflow(w *domain.ResolvedWorkflow) error {
	for _, id := range w.Order {
		node := w.Nodes[id]
		runner, err := a.Get(node.Type, node.Subtype)
		if err != nil {
			return &domain.UnknownNodeTypeError{NodeID: id, Type: node.Type, Subtype: node.Subtype}
		}
		if err := runner.ValidateParameters(node.Parameters); err != nil {
			if _, ok := err.(domain.ValidationError); ok {
				return err
			}
			return &domain.ParameterError{NodeID: id, Parameter: "parameters", Reason: err.Error()}
		}
		declared := make(map[string]bool)
		for _, port := range runner.OutputPorts() {
			declared[port] = true
		}
		for port := range w.Adjacency[id] {
			if !declared[port] && !dynamicPort(node, port) {
				return &domain.ParameterError{
					NodeID:    id,
					Parameter: "connections",
					Reason:    fmt.Sprintf("output port %q is not declared by runner (%s, %s)", port, node.Type, node.Subtype),
				}
			}
		}
	}
	return nil
}

// dynamicPort allows SWITCH runners their case_<label> ports, which depend
// on node parameters rather than the runner's static declaration.
func dynamicPort(node *domain.Node, port string) bool {
	if !node.IsFlow(domain.SubtypeSwitch) {
		return false
	}
	return len(port) > len("case_") && port[:len("case_")] == "case_"
}
