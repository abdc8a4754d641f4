package resolver

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/eleven-am/loom/internal/domain"
)

// Resolver performs the two-phase workflow build: authors may reference
// nodes by name or by ID, but the coordinator only ever sees IDs. The
// rewrite happens exactly once, at load time.
type Resolver struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		logger: logger.With("component", "resolver"),
	}
}

// Resolve validates a raw workflow and produces the ID-only adjacency
// structure. Nodes without IDs get generated ones, and every name-based
// connection reference is rewritten to the generated or declared ID.
func (r *Resolver) Resolve(raw *domain.RawWorkflow) (*domain.ResolvedWorkflow, error) {
	if raw == nil {
		return nil, domain.ErrInvalidInput
	}
	if len(raw.Nodes) == 0 {
		return nil, &domain.DanglingReferenceError{References: []string{"<workflow has no nodes>"}}
	}

	workflowID := raw.ID
	if workflowID == "" {
		workflowID = uuid.New().String()
	}

	resolved := &domain.ResolvedWorkflow{
		ID:         workflowID,
		Name:       raw.Name,
		UserID:     raw.UserID,
		Settings:   raw.Settings,
		Nodes:      make(map[string]*domain.Node, len(raw.Nodes)),
		Adjacency:  make(map[string]map[string][]domain.Target),
		Inbound:    make(map[string]map[string]int),
		StaticData: raw.StaticData,
	}
	if resolved.Settings.ErrorPolicy == "" {
		resolved.Settings.ErrorPolicy = domain.ErrorPolicyStop
	}

	byName := make(map[string][]string, len(raw.Nodes))
	byID := make(map[string]bool, len(raw.Nodes))

	for i := range raw.Nodes {
		rn := &raw.Nodes[i]
		id := rn.ID
		if id == "" {
			id = uuid.New().String()
		}
		node := &domain.Node{
			ID:         id,
			Name:       rn.Name,
			Type:       rn.Type,
			Subtype:    rn.Subtype,
			Parameters: rn.Parameters,
			Critical:   rn.Critical,
			Retry:      rn.Retry,
		}
		if byID[id] {
			return nil, &domain.AmbiguousReferenceError{Name: id, NodeIDs: []string{id, id}}
		}
		byID[id] = true
		byName[rn.Name] = append(byName[rn.Name], id)
		resolved.Nodes[id] = node
		resolved.Order = append(resolved.Order, id)
		if node.IsTrigger() {
			resolved.TriggerIDs = append(resolved.TriggerIDs, id)
		}
	}

	for name, ids := range byName {
		if len(ids) > 1 {
			sort.Strings(ids)
			return nil, &domain.AmbiguousReferenceError{Name: name, NodeIDs: ids}
		}
	}

	lookup := func(ref string) (string, bool) {
		if byID[ref] {
			return ref, true
		}
		if ids, ok := byName[ref]; ok {
			return ids[0], true
		}
		return "", false
	}

	var dangling []string
	for sourceRef, outputs := range raw.Connections {
		sourceID, ok := lookup(sourceRef)
		if !ok {
			dangling = append(dangling, sourceRef)
			continue
		}
		for port, targets := range outputs {
			if port == "" {
				port = domain.PortMain
			}
			for _, target := range targets {
				targetID, ok := lookup(target.Node)
				if !ok {
					dangling = append(dangling, target.Node)
					continue
				}
				targetPort := target.Port
				if targetPort == "" {
					targetPort = domain.PortMain
				}
				if resolved.Adjacency[sourceID] == nil {
					resolved.Adjacency[sourceID] = make(map[string][]domain.Target)
				}
				resolved.Adjacency[sourceID][port] = append(resolved.Adjacency[sourceID][port], domain.Target{
					NodeID: targetID,
					Port:   targetPort,
					Index:  target.Index,
				})
				if resolved.Inbound[targetID] == nil {
					resolved.Inbound[targetID] = make(map[string]int)
				}
				resolved.Inbound[targetID][targetPort]++
			}
		}
	}

	if len(dangling) > 0 {
		sort.Strings(dangling)
		return nil, &domain.DanglingReferenceError{References: dedupe(dangling)}
	}

	r.collectWarnings(resolved)

	r.logger.Debug("workflow resolved",
		"workflow_id", resolved.ID,
		"nodes", len(resolved.Nodes),
		"triggers", len(resolved.TriggerIDs),
		"warnings", len(resolved.Warnings),
	)

	return resolved, nil
}

// collectWarnings flags non-trigger nodes with no inbound edges and nodes
// unreachable from any trigger. Both are warnings, not load failures.
func (r *Resolver) collectWarnings(w *domain.ResolvedWorkflow) {
	for _, id := range w.Order {
		node := w.Nodes[id]
		if node.IsTrigger() {
			continue
		}
		if len(w.Inbound[id]) == 0 {
			w.Warnings = append(w.Warnings, fmt.Sprintf("node %s (%s) has no inbound connections", id, node.Name))
		}
	}

	reachable := make(map[string]bool)
	var visit func(id string)
	visit = func(id string) {
		if reachable[id] {
			return
		}
		reachable[id] = true
		for _, targets := range w.Adjacency[id] {
			for _, t := range targets {
				visit(t.NodeID)
			}
		}
	}
	for _, id := range w.TriggerIDs {
		visit(id)
	}
	for _, id := range w.Order {
		if !reachable[id] {
			node := w.Nodes[id]
			w.Warnings = append(w.Warnings, fmt.Sprintf("node %s (%s) is unreachable from any trigger", id, node.Name))
		}
	}
}

func dedupe(refs []string) []string {
	seen := make(map[string]bool, len(refs))
	out := refs[:0]
	for _, ref := range refs {
		if seen[ref] {
			continue
		}
		seen[ref] = true
		out = append(out, ref)
	}
	return out
}
