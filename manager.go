package loom

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"k8s.io/utils/clock"

	"github.com/eleven-am/loom/internal/adapters/engine"
	"github.com/eleven-am/loom/internal/adapters/registry"
	"github.com/eleven-am/loom/internal/adapters/resolver"
	"github.com/eleven-am/loom/internal/adapters/runners"
	"github.com/eleven-am/loom/internal/adapters/scheduler"
	"github.com/eleven-am/loom/internal/adapters/storage"
	"github.com/eleven-am/loom/internal/domain"
	"github.com/eleven-am/loom/internal/ports"
)

// Option customizes the collaborators a Manager wires into its runners.
type Option func(*options)

type options struct {
	aiClient    ports.AIModelClient
	credentials ports.CredentialProvider
	httpClient  *http.Client
	clock       clock.WithDelayedExecution
}

// WithAIClient supplies the model client used by AI_AGENT nodes.
func WithAIClient(client ports.AIModelClient) Option {
	return func(o *options) { o.aiClient = client }
}

// WithCredentialProvider supplies per-user credentials for EXTERNAL_ACTION
// nodes.
func WithCredentialProvider(provider ports.CredentialProvider) Option {
	return func(o *options) { o.credentials = provider }
}

// WithHTTPClient overrides the client used by HTTP_REQUEST and
// EXTERNAL_ACTION nodes.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// WithClock substitutes the engine clock; tests pass a fake.
func WithClock(clk clock.WithDelayedExecution) Option {
	return func(o *options) { o.clock = clk }
}

// Manager is the public face of the engine: it loads workflows, starts and
// queries executions, and owns the lifecycle of the storage, scheduler, and
// engine underneath.
type Manager struct {
	config    *domain.Config
	logger    *slog.Logger
	resolver  *resolver.Resolver
	registry  *registry.Adapter
	store     *storage.Adapter
	engine    *engine.Engine
	scheduler *scheduler.Scheduler
	tools     *runners.ToolRunner

	mu        sync.RWMutex
	workflows map[string]*domain.ResolvedWorkflow
	started   bool
}

// New builds a Manager from config, registering the built-in runner set.
func New(config *Config, opts ...Option) (*Manager, error) {
	if config == nil {
		config = domain.DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store, err := storage.Open(config.DataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	reg := registry.NewAdapter(logger)
	tools := runners.NewToolRunner()
	memoryBackend := storage.NewMemoryBackend(store, 0)

	builtins := []ports.Runner{
		runners.NewManualTrigger(),
		runners.NewWebhookTrigger(),
		runners.NewCronTrigger(),
		runners.NewHTTPRequestRunner(o.httpClient),
		runners.NewLogRunner(logger),
		runners.NewSetRunner(),
		runners.NewIfRunner(),
		runners.NewSwitchRunner(),
		runners.NewFilterRunner(),
		runners.NewLoopRunner(config.Engine.LoopMaxIterations),
		runners.NewMergeRunner(),
		runners.NewWaitRunner(),
		runners.NewHumanInLoopRunner(),
		runners.NewAIAgentRunner(o.aiClient),
		runners.NewExternalActionRunner(o.credentials, o.httpClient),
		runners.NewMemoryRunner(memoryBackend),
		tools,
	}
	for _, runner := range builtins {
		if err := reg.Register(runner); err != nil {
			store.Close()
			return nil, err
		}
	}

	eng := engine.New(config.Engine, reg, store, logger, o.clock)

	return &Manager{
		config:    config,
		logger:    logger.With("component", "manager"),
		resolver:  resolver.New(logger),
		registry:  reg,
		store:     store,
		engine:    eng,
		scheduler: scheduler.New(eng, logger),
		tools:     tools,
		workflows: make(map[string]*domain.ResolvedWorkflow),
	}, nil
}

// Start brings up the engine and scheduler, then recovers executions that
// were in flight when the previous process died. Workflows registered
// before Start participate in recovery.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return domain.ErrAlreadyStarted
	}
	m.started = true
	workflows := make(map[string]*domain.ResolvedWorkflow, len(m.workflows))
	for id, wf := range m.workflows {
		workflows[id] = wf
	}
	m.mu.Unlock()

	if err := m.engine.Start(ctx); err != nil {
		return err
	}
	if err := m.engine.RecoverExecutions(ctx, workflows); err != nil {
		m.logger.Error("execution recovery failed", "error", err)
	}
	if err := m.scheduler.Start(); err != nil {
		return err
	}
	for _, wf := range workflows {
		if err := m.scheduler.Register(wf); err != nil {
			m.logger.Error("failed to schedule workflow", "workflow_id", wf.ID, "error", err)
		}
	}

	m.logger.Info("manager started", "workflows", len(workflows))
	return nil
}

// Stop shuts the scheduler and engine down, then closes storage. In-flight
// coordinators finish draining before Stop returns.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return domain.ErrNotStarted
	}
	m.started = false
	m.mu.Unlock()

	if err := m.scheduler.Stop(); err != nil {
		m.logger.Warn("scheduler stop", "error", err)
	}
	if err := m.engine.Stop(); err != nil {
		m.logger.Warn("engine stop", "error", err)
	}
	if err := m.store.Close(); err != nil {
		return fmt.Errorf("close storage: %w", err)
	}
	m.logger.Info("manager stopped")
	return nil
}

// RegisterWorkflow resolves and validates a raw workflow. On success the
// resolved workflow is retained for execution and its CRON triggers are
// scheduled. Validation failures leave no trace.
func (m *Manager) RegisterWorkflow(raw *RawWorkflow) (*ResolvedWorkflow, error) {
	workflow, err := m.resolver.Resolve(raw)
	if err != nil {
		return nil, err
	}
	if err := m.registry.ValidateWorkflow(workflow); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.workflows[workflow.ID] = workflow
	started := m.started
	m.mu.Unlock()

	if started {
		if err := m.scheduler.Register(workflow); err != nil {
			m.logger.Error("failed to schedule workflow", "workflow_id", workflow.ID, "error", err)
		}
	}

	m.logger.Info("workflow registered",
		"workflow_id", workflow.ID,
		"name", workflow.Name,
		"nodes", len(workflow.Nodes),
		"warnings", len(workflow.Warnings),
	)
	return workflow, nil
}

// UnregisterWorkflow forgets a workflow and unschedules its CRON triggers.
// Running executions of it are unaffected.
func (m *Manager) UnregisterWorkflow(workflowID string) {
	m.mu.Lock()
	delete(m.workflows, workflowID)
	m.mu.Unlock()
	m.scheduler.Unregister(workflowID)
}

// GetWorkflow returns a registered workflow by ID.
func (m *Manager) GetWorkflow(workflowID string) (*ResolvedWorkflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	workflow, ok := m.workflows[workflowID]
	if !ok {
		return nil, fmt.Errorf("workflow %s: %w", workflowID, domain.ErrNotFound)
	}
	return workflow, nil
}

// ListWorkflows returns the IDs of every registered workflow.
func (m *Manager) ListWorkflows() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.workflows))
	for id := range m.workflows {
		ids = append(ids, id)
	}
	return ids
}

// RegisterTool makes an in-process callable available to TOOL nodes.
func (m *Manager) RegisterTool(name string, fn ToolFunc) error {
	return m.tools.RegisterTool(name, fn)
}

// RegisterRunner adds a custom node runner to the registry.
func (m *Manager) RegisterRunner(runner Runner) error {
	return m.registry.Register(runner)
}

// StartExecution begins a run of a registered workflow and returns its
// execution ID. The trigger payload is delivered to every trigger node on
// its main port.
func (m *Manager) StartExecution(ctx context.Context, workflowID string, triggerPayload map[string]interface{}) (string, error) {
	workflow, err := m.GetWorkflow(workflowID)
	if err != nil {
		return "", err
	}
	return m.engine.StartExecution(ctx, workflow, triggerPayload)
}

// CancelExecution requests cooperative cancellation: no further nodes are
// dispatched and in-flight nodes get a grace window to finish.
func (m *Manager) CancelExecution(executionID string) error {
	return m.engine.CancelExecution(executionID)
}

// ResumeSuspendedNode delivers an external resume payload to a suspended
// WAIT or HUMAN_IN_THE_LOOP node.
func (m *Manager) ResumeSuspendedNode(executionID, nodeID string, payload map[string]interface{}) error {
	return m.engine.ResumeSuspendedNode(executionID, nodeID, payload)
}

// GetExecution returns an execution's status and every node run record.
func (m *Manager) GetExecution(executionID string) (*Execution, error) {
	return m.engine.GetExecution(executionID)
}

// GetExecutionLogEntries replays the retained log entries of an execution.
func (m *Manager) GetExecutionLogEntries(executionID string) ([]ExecutionLogEntry, error) {
	log, err := m.engine.GetExecutionLog(executionID)
	if err != nil {
		return nil, err
	}
	return log.Entries(), nil
}

// StreamLogs replays the retained entries and then follows the live tail
// until ctx is done or the execution finishes.
func (m *Manager) StreamLogs(ctx context.Context, executionID string) (<-chan ExecutionLogEntry, error) {
	log, err := m.engine.GetExecutionLog(executionID)
	if err != nil {
		return nil, err
	}
	return log.Follow(ctx), nil
}

// Metrics returns a point-in-time copy of the engine's lifetime counters.
func (m *Manager) Metrics() EngineMetrics {
	return m.engine.Metrics()
}

// GetExecutionSummary aggregates node counts and durations for an
// execution.
func (m *Manager) GetExecutionSummary(executionID string) (*ExecutionSummary, error) {
	log, err := m.engine.GetExecutionLog(executionID)
	if err != nil {
		return nil, err
	}
	summary := log.Summary()
	return &summary, nil
}
