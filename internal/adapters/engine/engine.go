package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/eleven-am/loom/internal/adapters/execlog"
	"github.com/eleven-am/loom/internal/adapters/storage"
	"github.com/eleven-am/loom/internal/domain"
	"github.com/eleven-am/loom/internal/ports"
)

// Engine runs resolved workflows. Each execution gets its own coordinator
// goroutine; the engine tracks them, enforces the concurrency cap, and
// answers queries.
type Engine struct {
	config    domain.EngineConfig
	registry  ports.Registry
	storage   ports.Storage
	logger    *slog.Logger
	clock     clock.WithDelayedExecution
	sanitizer *execlog.Sanitizer
	metrics   *domain.EngineMetrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.RWMutex
	started      bool
	coordinators map[string]*coordinator
}

func New(config domain.EngineConfig, registry ports.Registry, store ports.Storage, logger *slog.Logger, clk clock.WithDelayedExecution) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Engine{
		config:       config,
		registry:     registry,
		storage:      store,
		logger:       logger.With("component", "engine"),
		clock:        clk,
		sanitizer:    execlog.NewSanitizer(config.SensitiveParameterKeys),
		metrics:      domain.NewEngineMetrics(),
		coordinators: make(map[string]*coordinator),
	}
}

// Metrics returns a point-in-time copy of the engine's counters.
func (e *Engine) Metrics() domain.EngineMetrics {
	return e.metrics.Snapshot()
}

func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return domain.ErrAlreadyStarted
	}
	e.ctx, e.cancel = context.WithCancel(context.WithoutCancel(ctx))
	e.started = true
	e.logger.Info("engine started",
		"worker_count", e.config.WorkerCount,
		"max_concurrent_runs", e.config.MaxConcurrentRuns,
	)
	return nil
}

func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return domain.ErrNotStarted
	}
	e.started = false
	cancel := e.cancel
	e.mu.Unlock()

	cancel()
	e.wg.Wait()
	e.logger.Info("engine stopped")
	return nil
}

func (e *Engine) StartExecution(ctx context.Context, workflow *domain.ResolvedWorkflow, triggerPayload map[string]interface{}) (string, error) {
	if workflow == nil {
		return "", fmt.Errorf("workflow: %w", domain.ErrInvalidInput)
	}
	if len(workflow.TriggerIDs) == 0 {
		return "", fmt.Errorf("workflow %s has no trigger nodes: %w", workflow.ID, domain.ErrInvalidInput)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return "", domain.ErrNotStarted
	}
	if e.activeLocked() >= e.config.MaxConcurrentRuns {
		return "", fmt.Errorf("max concurrent executions (%d) reached: %w", e.config.MaxConcurrentRuns, domain.ErrInvalidInput)
	}

	exec := &domain.Execution{
		ID:             uuid.NewString(),
		WorkflowID:     workflow.ID,
		TriggerPayload: triggerPayload,
		Status:         domain.ExecutionStatusPending,
		StartedAt:      e.clock.Now(),
		NodeRuns:       make(map[string]*domain.NodeRunRecord, len(workflow.Nodes)),
	}

	buffer := execlog.NewBuffer(exec.ID, len(workflow.Nodes), e.config.LogBufferCapacity, e.sanitizer, e.clock)
	coord := newCoordinator(e, workflow, exec, buffer)
	e.coordinators[exec.ID] = coord

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		coord.run()
	}()

	e.logger.Info("execution started", "execution_id", exec.ID, "workflow_id", workflow.ID)
	return exec.ID, nil
}

func (e *Engine) CancelExecution(executionID string) error {
	coord, err := e.coordinator(executionID)
	if err != nil {
		return err
	}
	snapshot := coord.snapshot()
	if snapshot != nil && snapshot.Status.Terminal() {
		return nil
	}
	coord.post(evCancel{})
	return nil
}

func (e *Engine) ResumeSuspendedNode(executionID, nodeID string, payload map[string]interface{}) error {
	coord, err := e.coordinator(executionID)
	if err != nil {
		return err
	}
	if coord.wf.Node(nodeID) == nil {
		return fmt.Errorf("node %s: %w", nodeID, domain.ErrNotFound)
	}
	coord.post(evResume{nodeID: nodeID, payload: payload, external: true})
	return nil
}

func (e *Engine) GetExecution(executionID string) (*domain.Execution, error) {
	e.mu.RLock()
	coord, ok := e.coordinators[executionID]
	e.mu.RUnlock()
	if ok {
		if snapshot := coord.snapshot(); snapshot != nil {
			return snapshot, nil
		}
	}

	// Fall back to durable state for executions that predate this process.
	data, err := e.storage.Get(context.Background(), storage.ExecutionKey(executionID))
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, fmt.Errorf("execution %s: %w", executionID, domain.ErrNotFound)
		}
		return nil, err
	}
	var exec domain.Execution
	if err := json.Unmarshal(data, &exec); err != nil {
		return nil, fmt.Errorf("execution %s: corrupt snapshot: %w", executionID, err)
	}
	return &exec, nil
}

func (e *Engine) GetExecutionLog(executionID string) (ports.ExecutionLog, error) {
	coord, err := e.coordinator(executionID)
	if err != nil {
		return nil, err
	}
	return coord.log, nil
}

// RecoverExecutions restarts coordinators for executions that were
// non-terminal when the previous process died. Recorded node outcomes are
// replayed instead of re-executed; suspended nodes get their timers
// re-armed from the persisted tokens.
func (e *Engine) RecoverExecutions(ctx context.Context, workflows map[string]*domain.ResolvedWorkflow) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return domain.ErrNotStarted
	}

	snapshots, err := e.storage.List(ctx, storage.ExecutionPrefix())
	if err != nil {
		return fmt.Errorf("list executions: %w", err)
	}
	tokens, err := e.loadSuspensionTokens(ctx)
	if err != nil {
		return err
	}

	recovered := 0
	for _, data := range snapshots {
		var exec domain.Execution
		if err := json.Unmarshal(data, &exec); err != nil {
			e.logger.Warn("skipping corrupt execution snapshot", "error", err)
			continue
		}
		if exec.Status.Terminal() {
			continue
		}
		if _, running := e.coordinators[exec.ID]; running {
			continue
		}
		workflow, ok := workflows[exec.WorkflowID]
		if !ok {
			e.logger.Warn("cannot recover execution, workflow not registered",
				"execution_id", exec.ID, "workflow_id", exec.WorkflowID)
			continue
		}

		buffer := execlog.NewBuffer(exec.ID, len(workflow.Nodes), e.config.LogBufferCapacity, e.sanitizer, e.clock)
		coord := newCoordinator(e, workflow, &domain.Execution{
			ID:             exec.ID,
			WorkflowID:     exec.WorkflowID,
			TriggerPayload: exec.TriggerPayload,
			Status:         exec.Status,
			StartedAt:      exec.StartedAt,
			NodeRuns:       make(map[string]*domain.NodeRunRecord, len(workflow.Nodes)),
		}, buffer)
		coord.rehydrate(&exec, tokens[exec.ID])
		e.coordinators[exec.ID] = coord

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			coord.run()
		}()
		e.metrics.IncrementExecutionsRecovered()
		recovered++
	}

	if recovered > 0 {
		e.logger.Info("recovered executions", "count", recovered)
	}
	return nil
}

func (e *Engine) loadSuspensionTokens(ctx context.Context) (map[string][]domain.SuspensionToken, error) {
	raw, err := e.storage.List(ctx, storage.SuspensionPrefix())
	if err != nil {
		return nil, fmt.Errorf("list suspension tokens: %w", err)
	}
	tokens := make(map[string][]domain.SuspensionToken)
	for _, data := range raw {
		var token domain.SuspensionToken
		if err := json.Unmarshal(data, &token); err != nil {
			e.logger.Warn("skipping corrupt suspension token", "error", err)
			continue
		}
		tokens[token.ExecutionID] = append(tokens[token.ExecutionID], token)
	}
	return tokens, nil
}

func (e *Engine) coordinator(executionID string) (*coordinator, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	coord, ok := e.coordinators[executionID]
	if !ok {
		return nil, fmt.Errorf("execution %s: %w", executionID, domain.ErrNotFound)
	}
	return coord, nil
}

func (e *Engine) activeLocked() int {
	active := 0
	for _, coord := range e.coordinators {
		snapshot := coord.snapshot()
		if snapshot == nil || !snapshot.Status.Terminal() {
			active++
		}
	}
	return active
}
