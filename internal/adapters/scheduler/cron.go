package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/eleven-am/loom/internal/domain"
	"github.com/eleven-am/loom/internal/ports"
)

// Scheduler fires workflow executions from CRON trigger nodes. One cron
// runner serves every registered workflow; each CRON trigger node becomes
// one entry.
type Scheduler struct {
	engine ports.Engine
	logger *slog.Logger
	cron   *cron.Cron

	mu      sync.Mutex
	entries map[string][]cron.EntryID
	started bool
}

func New(engine ports.Engine, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		engine:  engine,
		logger:  logger.With("component", "scheduler"),
		cron:    cron.New(),
		entries: make(map[string][]cron.EntryID),
	}
}

func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return domain.ErrAlreadyStarted
	}
	s.cron.Start()
	s.started = true
	return nil
}

func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return domain.ErrNotStarted
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.started = false
	return nil
}

// Register adds one cron entry per CRON trigger node in the workflow.
// Re-registering a workflow replaces its entries.
func (s *Scheduler) Register(workflow *domain.ResolvedWorkflow) error {
	if workflow == nil {
		return domain.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(workflow.ID)

	var ids []cron.EntryID
	for _, triggerID := range workflow.TriggerIDs {
		node := workflow.Node(triggerID)
		if node == nil || node.Subtype != domain.SubtypeCron {
			continue
		}
		spec, ok := node.Parameters["cron"].(string)
		if !ok || spec == "" {
			return &domain.ParameterError{NodeID: node.ID, Parameter: "cron", Reason: "cron expression is required"}
		}

		wf := workflow
		nodeID := node.ID
		entryID, err := s.cron.AddFunc(spec, func() {
			s.fire(wf, nodeID)
		})
		if err != nil {
			for _, id := range ids {
				s.cron.Remove(id)
			}
			return fmt.Errorf("cron trigger %s: %w", node.ID, err)
		}
		ids = append(ids, entryID)
	}

	if len(ids) > 0 {
		s.entries[workflow.ID] = ids
		s.logger.Info("scheduled cron triggers", "workflow_id", workflow.ID, "entries", len(ids))
	}
	return nil
}

func (s *Scheduler) Unregister(workflowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(workflowID)
}

func (s *Scheduler) removeLocked(workflowID string) {
	for _, id := range s.entries[workflowID] {
		s.cron.Remove(id)
	}
	delete(s.entries, workflowID)
}

func (s *Scheduler) fire(workflow *domain.ResolvedWorkflow, nodeID string) {
	payload := map[string]interface{}{
		"trigger":  "cron",
		"node_id":  nodeID,
		"fired_at": time.Now().UTC().Format(time.RFC3339),
	}
	executionID, err := s.engine.StartExecution(context.Background(), workflow, payload)
	if err != nil {
		s.logger.Error("cron trigger failed to start execution",
			"workflow_id", workflow.ID, "node_id", nodeID, "error", err)
		return
	}
	s.logger.Info("cron trigger fired",
		"workflow_id", workflow.ID, "node_id", nodeID, "execution_id", executionID)
}
