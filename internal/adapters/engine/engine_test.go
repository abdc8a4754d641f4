package engine

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/clock"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/eleven-am/loom/internal/adapters/registry"
	"github.com/eleven-am/loom/internal/adapters/resolver"
	"github.com/eleven-am/loom/internal/adapters/runners"
	"github.com/eleven-am/loom/internal/adapters/storage"
	"github.com/eleven-am/loom/internal/domain"
	"github.com/eleven-am/loom/internal/ports"
)

type stubRunner struct {
	subtype string
	execute func(ctx context.Context, params, inputs map[string]interface{}) (*ports.RunnerResult, error)
}

func (s *stubRunner) Kind() (domain.NodeType, string) { return domain.NodeTypeAction, s.subtype }
func (s *stubRunner) InputPorts() []string            { return []string{domain.PortMain} }
func (s *stubRunner) OutputPorts() []string           { return []string{domain.PortMain} }

func (s *stubRunner) ValidateParameters(params map[string]interface{}) error { return nil }

func (s *stubRunner) Execute(ctx context.Context, params, inputs map[string]interface{}) (*ports.RunnerResult, error) {
	return s.execute(ctx, params, inputs)
}

// doubler multiplies a numeric input by two; the loop scenario's body node.
func doubler() *stubRunner {
	return &stubRunner{subtype: "DOUBLE", execute: func(ctx context.Context, params, inputs map[string]interface{}) (*ports.RunnerResult, error) {
		n, _ := toFloat(inputs[domain.PortMain])
		return &ports.RunnerResult{
			Outputs: map[string]interface{}{domain.PortMain: n * 2},
		}, nil
	}}
}

// tagged emits a fixed string on main, so tests can tell arrivals apart.
func tagged(subtype, value string) *stubRunner {
	return &stubRunner{subtype: subtype, execute: func(ctx context.Context, params, inputs map[string]interface{}) (*ports.RunnerResult, error) {
		return &ports.RunnerResult{
			Outputs: map[string]interface{}{domain.PortMain: value},
		}, nil
	}}
}

func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

func failing(attempts *int) *stubRunner {
	return &stubRunner{subtype: "FAIL", execute: func(ctx context.Context, params, inputs map[string]interface{}) (*ports.RunnerResult, error) {
		if attempts != nil {
			*attempts++
		}
		return nil, domain.NewRunnerError(domain.ReasonNetwork, "induced failure", nil)
	}}
}

func blocking() *stubRunner {
	return &stubRunner{subtype: "BLOCK", execute: func(ctx context.Context, params, inputs map[string]interface{}) (*ports.RunnerResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
}

func testRegistry(t *testing.T, extra ...ports.Runner) *registry.Adapter {
	t.Helper()
	reg := registry.NewAdapter(testLogger())
	builtins := []ports.Runner{
		runners.NewManualTrigger(),
		runners.NewHTTPRequestRunner(nil),
		runners.NewLogRunner(testLogger()),
		runners.NewSetRunner(),
		runners.NewIfRunner(),
		runners.NewLoopRunner(1000),
		runners.NewMergeRunner(),
		runners.NewWaitRunner(),
		runners.NewHumanInLoopRunner(),
	}
	for _, runner := range append(builtins, extra...) {
		require.NoError(t, reg.Register(runner))
	}
	return reg
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, config domain.EngineConfig, reg *registry.Adapter, clk clock.WithDelayedExecution) (*Engine, *storage.Adapter) {
	t.Helper()
	store, err := storage.Open("", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	e := New(config, reg, store, testLogger(), clk)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { e.Stop() })
	return e, store
}

func fastConfig() domain.EngineConfig {
	config := domain.DefaultEngineConfig()
	config.DefaultRetryPolicy = domain.RetryPolicy{MaxRetries: 0, RetryDelay: time.Millisecond}
	config.CancelGraceTimeout = 25 * time.Millisecond
	return config
}

func resolve(t *testing.T, raw *domain.RawWorkflow) *domain.ResolvedWorkflow {
	t.Helper()
	workflow, err := resolver.New(testLogger()).Resolve(raw)
	require.NoError(t, err)
	return workflow
}

func waitTerminal(t *testing.T, e *Engine, executionID string) *domain.Execution {
	t.Helper()
	var exec *domain.Execution
	require.Eventually(t, func() bool {
		var err error
		exec, err = e.GetExecution(executionID)
		return err == nil && exec.Status.Terminal()
	}, 5*time.Second, 5*time.Millisecond)
	return exec
}

func ifCondition(field string, value interface{}) map[string]interface{} {
	return map[string]interface{}{
		"condition": map[string]interface{}{
			"field":    field,
			"operator": "equals",
			"value":    value,
		},
	}
}

func TestScenarioConditionalBranch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	reg := testRegistry(t)
	e, _ := newTestEngine(t, fastConfig(), reg, nil)

	workflow := resolve(t, &domain.RawWorkflow{
		Name: "scenario-a",
		Nodes: []domain.RawNode{
			{ID: "t", Name: "start", Type: domain.NodeTypeTrigger, Subtype: domain.SubtypeManual},
			{ID: "http", Name: "fetch", Type: domain.NodeTypeAction, Subtype: domain.SubtypeHTTPRequest,
				Parameters: map[string]interface{}{"url": server.URL}},
			{ID: "gate", Name: "check", Type: domain.NodeTypeFlow, Subtype: domain.SubtypeIf,
				Parameters: ifCondition("status", 200)},
			{ID: "ok", Name: "log-ok", Type: domain.NodeTypeAction, Subtype: domain.SubtypeLog},
			{ID: "bad", Name: "log-bad", Type: domain.NodeTypeAction, Subtype: domain.SubtypeLog},
		},
		Connections: domain.RawConnections{
			"t":    {"main": {{Node: "http"}}},
			"http": {"main": {{Node: "gate"}}},
			"gate": {
				"true":  {{Node: "ok"}},
				"false": {{Node: "bad"}},
			},
		},
	})

	executionID, err := e.StartExecution(context.Background(), workflow, map[string]interface{}{"who": "test"})
	require.NoError(t, err)

	exec := waitTerminal(t, e, executionID)
	assert.Equal(t, domain.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, domain.NodeRunSuccess, exec.NodeRuns["t"].Status)
	assert.Equal(t, domain.NodeRunSuccess, exec.NodeRuns["http"].Status)
	assert.Equal(t, domain.NodeRunSuccess, exec.NodeRuns["gate"].Status)
	assert.Equal(t, domain.NodeRunSuccess, exec.NodeRuns["ok"].Status)
	assert.Equal(t, domain.NodeRunSkipped, exec.NodeRuns["bad"].Status)

	metrics := e.Metrics()
	assert.Equal(t, int64(1), metrics.ExecutionsStarted)
	assert.Equal(t, int64(4), metrics.NodesDispatched)
	assert.Equal(t, int64(1), metrics.NodesSkipped)
	require.Eventually(t, func() bool {
		return e.Metrics().ExecutionsCompleted == 1
	}, time.Second, 5*time.Millisecond)
}

func TestScenarioLoopDoubles(t *testing.T) {
	reg := testRegistry(t, doubler())
	e, _ := newTestEngine(t, fastConfig(), reg, nil)

	workflow := resolve(t, &domain.RawWorkflow{
		Name: "scenario-b",
		Nodes: []domain.RawNode{
			{ID: "t", Name: "start", Type: domain.NodeTypeTrigger, Subtype: domain.SubtypeManual},
			{ID: "loop", Name: "each", Type: domain.NodeTypeFlow, Subtype: domain.SubtypeLoop,
				Parameters: map[string]interface{}{"collection_field": "items"}},
			{ID: "double", Name: "double", Type: domain.NodeTypeAction, Subtype: "DOUBLE"},
			{ID: "sink", Name: "collect", Type: domain.NodeTypeAction, Subtype: domain.SubtypeLog},
		},
		Connections: domain.RawConnections{
			"t":    {"main": {{Node: "loop"}}},
			"loop": {"item": {{Node: "double"}}, "main": {{Node: "sink"}}},
		},
	})

	executionID, err := e.StartExecution(context.Background(), workflow, map[string]interface{}{
		"items": []interface{}{1, 2, 3},
	})
	require.NoError(t, err)

	exec := waitTerminal(t, e, executionID)
	require.Equal(t, domain.ExecutionStatusCompleted, exec.Status)

	results := exec.NodeRuns["loop"].OutputData[domain.PortMain].([]interface{})
	assert.Equal(t, []interface{}{float64(2), float64(4), float64(6)}, results)

	// The body node ran once per element, outside normal scheduling.
	assert.Equal(t, domain.NodeRunSuccess, exec.NodeRuns["double"].Status)
	assert.Equal(t, 3, exec.NodeRuns["double"].AttemptCount)
	assert.Equal(t, domain.NodeRunSuccess, exec.NodeRuns["sink"].Status)
}

func TestLoopBodyFanInHonorsConnectionIndices(t *testing.T) {
	reg := testRegistry(t, tagged("TAGA", "from-a"), tagged("TAGB", "from-b"))
	e, _ := newTestEngine(t, fastConfig(), reg, nil)

	// Body branch "a" finishes first but is wired to slot 1; "b" lands in
	// slot 0. The joined slots must follow the declared indices, not
	// completion order.
	workflow := resolve(t, &domain.RawWorkflow{
		Name: "loop-fan-in",
		Nodes: []domain.RawNode{
			{ID: "t", Name: "start", Type: domain.NodeTypeTrigger, Subtype: domain.SubtypeManual},
			{ID: "loop", Name: "each", Type: domain.NodeTypeFlow, Subtype: domain.SubtypeLoop,
				Parameters: map[string]interface{}{"collection_field": "items"}},
			{ID: "a", Name: "a", Type: domain.NodeTypeAction, Subtype: "TAGA"},
			{ID: "b", Name: "b", Type: domain.NodeTypeAction, Subtype: "TAGB"},
			{ID: "join", Name: "join", Type: domain.NodeTypeFlow, Subtype: domain.SubtypeMerge},
		},
		Connections: domain.RawConnections{
			"t":    {"main": {{Node: "loop"}}},
			"loop": {"item": {{Node: "a"}, {Node: "b"}}},
			"a":    {"main": {{Node: "join", Index: 1}}},
			"b":    {"main": {{Node: "join", Index: 0}}},
		},
	})

	executionID, err := e.StartExecution(context.Background(), workflow, map[string]interface{}{
		"items": []interface{}{1},
	})
	require.NoError(t, err)

	exec := waitTerminal(t, e, executionID)
	require.Equal(t, domain.ExecutionStatusCompleted, exec.Status)

	results := exec.NodeRuns["loop"].OutputData[domain.PortMain].([]interface{})
	require.Len(t, results, 1)
	merged := results[0].(map[string]interface{})
	assert.Equal(t, []interface{}{"from-b", "from-a"}, merged["inputs"])
}

func TestScenarioMergeWaitAllWithSkippedBranch(t *testing.T) {
	reg := testRegistry(t)
	e, _ := newTestEngine(t, fastConfig(), reg, nil)

	workflow := resolve(t, &domain.RawWorkflow{
		Name: "scenario-d",
		Nodes: []domain.RawNode{
			{ID: "t", Name: "start", Type: domain.NodeTypeTrigger, Subtype: domain.SubtypeManual},
			{ID: "gate", Name: "gate", Type: domain.NodeTypeFlow, Subtype: domain.SubtypeIf,
				Parameters: ifCondition("go", true)},
			{ID: "a", Name: "a", Type: domain.NodeTypeAction, Subtype: domain.SubtypeSet,
				Parameters: map[string]interface{}{"values": map[string]interface{}{"from": "a"}}},
			{ID: "b", Name: "b", Type: domain.NodeTypeAction, Subtype: domain.SubtypeSet,
				Parameters: map[string]interface{}{"values": map[string]interface{}{"from": "b"}}},
			{ID: "merge", Name: "join", Type: domain.NodeTypeFlow, Subtype: domain.SubtypeMerge},
			{ID: "sink", Name: "sink", Type: domain.NodeTypeAction, Subtype: domain.SubtypeLog},
		},
		Connections: domain.RawConnections{
			"t": {"main": {{Node: "gate"}}},
			"gate": {
				"true":  {{Node: "a"}},
				"false": {{Node: "b"}},
			},
			"a":     {"main": {{Node: "merge", Index: 0}}},
			"b":     {"main": {{Node: "merge", Index: 1}}},
			"merge": {"main": {{Node: "sink"}}},
		},
	})

	executionID, err := e.StartExecution(context.Background(), workflow, map[string]interface{}{"go": true})
	require.NoError(t, err)

	exec := waitTerminal(t, e, executionID)
	require.Equal(t, domain.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, domain.NodeRunSkipped, exec.NodeRuns["b"].Status)
	assert.Equal(t, domain.NodeRunSuccess, exec.NodeRuns["merge"].Status)
	assert.Equal(t, domain.NodeRunSuccess, exec.NodeRuns["sink"].Status)

	// The skipped branch arrives as an empty slot, not a hang.
	out := exec.NodeRuns["merge"].OutputData[domain.PortMain].(map[string]interface{})
	slots := out["inputs"].([]interface{})
	require.Len(t, slots, 2)
	assert.NotNil(t, slots[0])
	assert.Nil(t, slots[1])
}

func TestMergeFirstWins(t *testing.T) {
	reg := testRegistry(t)
	e, _ := newTestEngine(t, fastConfig(), reg, nil)

	workflow := resolve(t, &domain.RawWorkflow{
		Name: "first-wins",
		Nodes: []domain.RawNode{
			{ID: "t", Name: "start", Type: domain.NodeTypeTrigger, Subtype: domain.SubtypeManual},
			{ID: "a", Name: "a", Type: domain.NodeTypeAction, Subtype: domain.SubtypeSet,
				Parameters: map[string]interface{}{"values": map[string]interface{}{"from": "a"}}},
			{ID: "b", Name: "b", Type: domain.NodeTypeAction, Subtype: domain.SubtypeSet,
				Parameters: map[string]interface{}{"values": map[string]interface{}{"from": "b"}}},
			{ID: "merge", Name: "join", Type: domain.NodeTypeFlow, Subtype: domain.SubtypeMerge,
				Parameters: map[string]interface{}{"mode": "first_wins"}},
		},
		Connections: domain.RawConnections{
			"t": {"main": {{Node: "a"}, {Node: "b"}}},
			"a": {"main": {{Node: "merge", Index: 0}}},
			"b": {"main": {{Node: "merge", Index: 1}}},
		},
	})

	executionID, err := e.StartExecution(context.Background(), workflow, nil)
	require.NoError(t, err)

	exec := waitTerminal(t, e, executionID)
	require.Equal(t, domain.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, domain.NodeRunSuccess, exec.NodeRuns["merge"].Status)

	out := exec.NodeRuns["merge"].OutputData[domain.PortMain].(map[string]interface{})
	assert.Equal(t, "a", out["from"])
}

func TestRetryBudgetIsAttemptsPlusOne(t *testing.T) {
	attempts := 0
	reg := testRegistry(t, failing(&attempts))
	e, _ := newTestEngine(t, fastConfig(), reg, nil)

	workflow := resolve(t, &domain.RawWorkflow{
		Name:     "retry",
		Settings: domain.Settings{ErrorPolicy: domain.ErrorPolicyContinue},
		Nodes: []domain.RawNode{
			{ID: "t", Name: "start", Type: domain.NodeTypeTrigger, Subtype: domain.SubtypeManual},
			{ID: "flaky", Name: "flaky", Type: domain.NodeTypeAction, Subtype: "FAIL",
				Retry: &domain.RetryPolicy{MaxRetries: 2, RetryDelay: time.Millisecond}},
			{ID: "after", Name: "after", Type: domain.NodeTypeAction, Subtype: domain.SubtypeLog},
		},
		Connections: domain.RawConnections{
			"t":     {"main": {{Node: "flaky"}}},
			"flaky": {"main": {{Node: "after"}}},
		},
	})

	executionID, err := e.StartExecution(context.Background(), workflow, nil)
	require.NoError(t, err)

	exec := waitTerminal(t, e, executionID)
	assert.Equal(t, domain.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, domain.NodeRunError, exec.NodeRuns["flaky"].Status)
	assert.Equal(t, 3, exec.NodeRuns["flaky"].AttemptCount)
	require.NotNil(t, exec.NodeRuns["flaky"].Error)
	assert.Equal(t, domain.ReasonNetwork, exec.NodeRuns["flaky"].Error.Reason)

	// continue policy: downstream of the failure is skipped, not failed.
	assert.Equal(t, domain.NodeRunSkipped, exec.NodeRuns["after"].Status)
}

func TestErrorPolicyPartition(t *testing.T) {
	reg := testRegistry(t, failing(nil))

	build := func(policy domain.ErrorPolicy) *domain.ResolvedWorkflow {
		return resolve(t, &domain.RawWorkflow{
			Name:     "partition",
			Settings: domain.Settings{ErrorPolicy: policy},
			Nodes: []domain.RawNode{
				{ID: "t", Name: "start", Type: domain.NodeTypeTrigger, Subtype: domain.SubtypeManual},
				{ID: "bad", Name: "bad", Type: domain.NodeTypeAction, Subtype: "FAIL"},
				{ID: "downstream", Name: "downstream", Type: domain.NodeTypeAction, Subtype: domain.SubtypeLog},
				{ID: "sibling", Name: "sibling", Type: domain.NodeTypeAction, Subtype: domain.SubtypeSet,
					Parameters: map[string]interface{}{"values": map[string]interface{}{"ok": true}}},
			},
			Connections: domain.RawConnections{
				"t":   {"main": {{Node: "bad"}, {Node: "sibling"}}},
				"bad": {"main": {{Node: "downstream"}}},
			},
		})
	}

	t.Run("continue isolates the failed subtree", func(t *testing.T) {
		e, _ := newTestEngine(t, fastConfig(), reg, nil)
		executionID, err := e.StartExecution(context.Background(), build(domain.ErrorPolicyContinue), nil)
		require.NoError(t, err)

		exec := waitTerminal(t, e, executionID)
		assert.Equal(t, domain.ExecutionStatusCompleted, exec.Status)
		assert.Equal(t, domain.NodeRunError, exec.NodeRuns["bad"].Status)
		assert.Equal(t, domain.NodeRunSkipped, exec.NodeRuns["downstream"].Status)
		assert.Equal(t, domain.NodeRunSuccess, exec.NodeRuns["sibling"].Status)
	})

	t.Run("stop halts dispatch", func(t *testing.T) {
		e, _ := newTestEngine(t, fastConfig(), reg, nil)
		executionID, err := e.StartExecution(context.Background(), build(domain.ErrorPolicyStop), nil)
		require.NoError(t, err)

		exec := waitTerminal(t, e, executionID)
		assert.Equal(t, domain.ExecutionStatusFailed, exec.Status)
		assert.NotEmpty(t, exec.Error)
		assert.Equal(t, domain.NodeRunError, exec.NodeRuns["bad"].Status)
		assert.Equal(t, domain.NodeRunPending, exec.NodeRuns["downstream"].Status)
	})
}

func TestCriticalNodeFailureIsFatalUnderContinue(t *testing.T) {
	reg := testRegistry(t, failing(nil))
	e, _ := newTestEngine(t, fastConfig(), reg, nil)

	workflow := resolve(t, &domain.RawWorkflow{
		Name:     "critical",
		Settings: domain.Settings{ErrorPolicy: domain.ErrorPolicyContinue},
		Nodes: []domain.RawNode{
			{ID: "t", Name: "start", Type: domain.NodeTypeTrigger, Subtype: domain.SubtypeManual},
			{ID: "vital", Name: "vital", Type: domain.NodeTypeAction, Subtype: "FAIL", Critical: true},
		},
		Connections: domain.RawConnections{
			"t": {"main": {{Node: "vital"}}},
		},
	})

	executionID, err := e.StartExecution(context.Background(), workflow, nil)
	require.NoError(t, err)

	exec := waitTerminal(t, e, executionID)
	assert.Equal(t, domain.ExecutionStatusFailed, exec.Status)
}

func TestCancellationDrainsInFlight(t *testing.T) {
	reg := testRegistry(t, blocking())
	e, _ := newTestEngine(t, fastConfig(), reg, nil)

	workflow := resolve(t, &domain.RawWorkflow{
		Name: "cancel",
		Nodes: []domain.RawNode{
			{ID: "t", Name: "start", Type: domain.NodeTypeTrigger, Subtype: domain.SubtypeManual},
			{ID: "slow", Name: "slow", Type: domain.NodeTypeAction, Subtype: "BLOCK"},
			{ID: "never", Name: "never", Type: domain.NodeTypeAction, Subtype: domain.SubtypeLog},
		},
		Connections: domain.RawConnections{
			"t":    {"main": {{Node: "slow"}}},
			"slow": {"main": {{Node: "never"}}},
		},
	})

	executionID, err := e.StartExecution(context.Background(), workflow, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		exec, err := e.GetExecution(executionID)
		return err == nil && exec.NodeRuns["slow"].Status == domain.NodeRunRunning
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, e.CancelExecution(executionID))

	exec := waitTerminal(t, e, executionID)
	assert.Equal(t, domain.ExecutionStatusCancelled, exec.Status)
	assert.Equal(t, domain.NodeRunError, exec.NodeRuns["slow"].Status)
	require.NotNil(t, exec.NodeRuns["slow"].Error)
	assert.Equal(t, domain.ReasonCancelled, exec.NodeRuns["slow"].Error.Reason)
	assert.Equal(t, domain.NodeRunPending, exec.NodeRuns["never"].Status)

	// Cancelling a finished execution is a no-op.
	assert.NoError(t, e.CancelExecution(executionID))
}

func TestHumanApprovalResume(t *testing.T) {
	reg := testRegistry(t)
	e, store := newTestEngine(t, fastConfig(), reg, nil)

	workflow := resolve(t, &domain.RawWorkflow{
		Name: "approval",
		Nodes: []domain.RawNode{
			{ID: "t", Name: "start", Type: domain.NodeTypeTrigger, Subtype: domain.SubtypeManual},
			{ID: "approve", Name: "approve", Type: domain.NodeTypeHumanInLoop, Subtype: domain.SubtypeApproval},
			{ID: "sink", Name: "sink", Type: domain.NodeTypeAction, Subtype: domain.SubtypeLog},
		},
		Connections: domain.RawConnections{
			"t":       {"main": {{Node: "approve"}}},
			"approve": {"main": {{Node: "sink"}}},
		},
	})

	executionID, err := e.StartExecution(context.Background(), workflow, nil)
	require.NoError(t, err)

	// The suspension token is persisted before the node is resumable.
	require.Eventually(t, func() bool {
		_, err := store.Get(context.Background(), storage.SuspensionKey(executionID, "approve"))
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)

	decision := map[string]interface{}{"approved": true}
	require.NoError(t, e.ResumeSuspendedNode(executionID, "approve", decision))

	exec := waitTerminal(t, e, executionID)
	require.Equal(t, domain.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, domain.NodeRunSuccess, exec.NodeRuns["approve"].Status)

	out := exec.NodeRuns["approve"].OutputData[domain.PortMain].(map[string]interface{})
	assert.Equal(t, true, out["approved"])

	// The continuation token is cleared after resume.
	_, err = store.Get(context.Background(), storage.SuspensionKey(executionID, "approve"))
	assert.True(t, domain.IsNotFound(err))
}

func TestWaitResumesOnTimer(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	reg := testRegistry(t)
	e, store := newTestEngine(t, fastConfig(), reg, clk)

	workflow := resolve(t, &domain.RawWorkflow{
		Name: "wait",
		Nodes: []domain.RawNode{
			{ID: "t", Name: "start", Type: domain.NodeTypeTrigger, Subtype: domain.SubtypeManual},
			{ID: "wait", Name: "wait", Type: domain.NodeTypeFlow, Subtype: domain.SubtypeWait,
				Parameters: map[string]interface{}{"duration_seconds": 60}},
			{ID: "sink", Name: "sink", Type: domain.NodeTypeAction, Subtype: domain.SubtypeLog},
		},
		Connections: domain.RawConnections{
			"t":    {"main": {{Node: "wait"}}},
			"wait": {"main": {{Node: "sink"}}},
		},
	})

	payload := map[string]interface{}{"carried": "through"}
	executionID, err := e.StartExecution(context.Background(), workflow, payload)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := store.Get(context.Background(), storage.SuspensionKey(executionID, "wait"))
		return err == nil && clk.HasWaiters()
	}, 2*time.Second, 5*time.Millisecond)

	clk.Step(61 * time.Second)

	exec := waitTerminal(t, e, executionID)
	require.Equal(t, domain.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, domain.NodeRunSuccess, exec.NodeRuns["wait"].Status)

	// A timer resume emits the wait node's input payload.
	out := exec.NodeRuns["wait"].OutputData[domain.PortMain].(map[string]interface{})
	assert.Equal(t, "through", out["carried"])
	assert.Equal(t, domain.NodeRunSuccess, exec.NodeRuns["sink"].Status)
}

func TestSuspensionTimeoutReportsNodeBound(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	reg := testRegistry(t)
	e, store := newTestEngine(t, fastConfig(), reg, clk)

	workflow := resolve(t, &domain.RawWorkflow{
		Name: "approval-timeout",
		Nodes: []domain.RawNode{
			{ID: "t", Name: "start", Type: domain.NodeTypeTrigger, Subtype: domain.SubtypeManual},
			{ID: "approve", Name: "approve", Type: domain.NodeTypeHumanInLoop, Subtype: domain.SubtypeApproval,
				Parameters: map[string]interface{}{"timeout_seconds": 60}},
			{ID: "sink", Name: "sink", Type: domain.NodeTypeAction, Subtype: domain.SubtypeLog},
		},
		Connections: domain.RawConnections{
			"t":       {"main": {{Node: "approve"}}},
			"approve": {"main": {{Node: "sink"}}},
		},
	})

	executionID, err := e.StartExecution(context.Background(), workflow, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := store.Get(context.Background(), storage.SuspensionKey(executionID, "approve"))
		return err == nil && clk.HasWaiters()
	}, 2*time.Second, 5*time.Millisecond)

	clk.Step(61 * time.Second)

	exec := waitTerminal(t, e, executionID)
	assert.Equal(t, domain.ExecutionStatusFailed, exec.Status)
	record := exec.NodeRuns["approve"]
	assert.Equal(t, domain.NodeRunError, record.Status)
	require.NotNil(t, record.Error)
	assert.Equal(t, domain.ReasonSuspensionTimeout, record.Error.Reason)

	// The error names the node's own one-minute window, not the engine
	// default.
	assert.Contains(t, record.Error.Message, "1m0s")
}

func TestDeadlockedGraphFailsWithInvariantError(t *testing.T) {
	reg := testRegistry(t)
	e, _ := newTestEngine(t, fastConfig(), reg, nil)

	// The merge waits on two arrivals but one upstream is unreachable from
	// any trigger: it can never become ready.
	workflow := resolve(t, &domain.RawWorkflow{
		Name: "deadlock",
		Nodes: []domain.RawNode{
			{ID: "t", Name: "start", Type: domain.NodeTypeTrigger, Subtype: domain.SubtypeManual},
			{ID: "a", Name: "a", Type: domain.NodeTypeAction, Subtype: domain.SubtypeSet,
				Parameters: map[string]interface{}{"values": map[string]interface{}{"x": 1}}},
			{ID: "orphan", Name: "orphan", Type: domain.NodeTypeAction, Subtype: domain.SubtypeSet,
				Parameters: map[string]interface{}{"values": map[string]interface{}{"y": 2}}},
			{ID: "merge", Name: "join", Type: domain.NodeTypeFlow, Subtype: domain.SubtypeMerge},
		},
		Connections: domain.RawConnections{
			"t":      {"main": {{Node: "a"}}},
			"a":      {"main": {{Node: "merge", Index: 0}}},
			"orphan": {"main": {{Node: "merge", Index: 1}}},
		},
	})
	require.NotEmpty(t, workflow.Warnings)

	executionID, err := e.StartExecution(context.Background(), workflow, nil)
	require.NoError(t, err)

	exec := waitTerminal(t, e, executionID)
	assert.Equal(t, domain.ExecutionStatusFailed, exec.Status)
	assert.Contains(t, exec.Error, "never become ready")
	assert.Equal(t, domain.NodeRunPending, exec.NodeRuns["merge"].Status)
}

func TestExecutionTimeout(t *testing.T) {
	reg := testRegistry(t, blocking())
	e, _ := newTestEngine(t, fastConfig(), reg, nil)

	workflow := resolve(t, &domain.RawWorkflow{
		Name:     "timeout",
		Settings: domain.Settings{Timeout: 30 * time.Millisecond},
		Nodes: []domain.RawNode{
			{ID: "t", Name: "start", Type: domain.NodeTypeTrigger, Subtype: domain.SubtypeManual},
			{ID: "slow", Name: "slow", Type: domain.NodeTypeAction, Subtype: "BLOCK"},
		},
		Connections: domain.RawConnections{
			"t": {"main": {{Node: "slow"}}},
		},
	})

	executionID, err := e.StartExecution(context.Background(), workflow, nil)
	require.NoError(t, err)

	exec := waitTerminal(t, e, executionID)
	assert.Equal(t, domain.ExecutionStatusFailed, exec.Status)
	assert.Contains(t, exec.Error, "timeout")
}

func TestParallelExecutionCompletes(t *testing.T) {
	reg := testRegistry(t)
	e, _ := newTestEngine(t, fastConfig(), reg, nil)

	workflow := resolve(t, &domain.RawWorkflow{
		Name:     "parallel",
		Settings: domain.Settings{ParallelExecution: true},
		Nodes: []domain.RawNode{
			{ID: "t", Name: "start", Type: domain.NodeTypeTrigger, Subtype: domain.SubtypeManual},
			{ID: "a", Name: "a", Type: domain.NodeTypeAction, Subtype: domain.SubtypeSet,
				Parameters: map[string]interface{}{"values": map[string]interface{}{"a": 1}}},
			{ID: "b", Name: "b", Type: domain.NodeTypeAction, Subtype: domain.SubtypeSet,
				Parameters: map[string]interface{}{"values": map[string]interface{}{"b": 2}}},
			{ID: "merge", Name: "join", Type: domain.NodeTypeFlow, Subtype: domain.SubtypeMerge},
		},
		Connections: domain.RawConnections{
			"t": {"main": {{Node: "a"}, {Node: "b"}}},
			"a": {"main": {{Node: "merge", Index: 0}}},
			"b": {"main": {{Node: "merge", Index: 1}}},
		},
	})

	executionID, err := e.StartExecution(context.Background(), workflow, nil)
	require.NoError(t, err)

	exec := waitTerminal(t, e, executionID)
	assert.Equal(t, domain.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, domain.NodeRunSuccess, exec.NodeRuns["merge"].Status)
}

func TestMaxConcurrentRuns(t *testing.T) {
	reg := testRegistry(t, blocking())
	config := fastConfig()
	config.MaxConcurrentRuns = 1
	e, _ := newTestEngine(t, config, reg, nil)

	workflow := resolve(t, &domain.RawWorkflow{
		Name: "busy",
		Nodes: []domain.RawNode{
			{ID: "t", Name: "start", Type: domain.NodeTypeTrigger, Subtype: domain.SubtypeManual},
			{ID: "slow", Name: "slow", Type: domain.NodeTypeAction, Subtype: "BLOCK"},
		},
		Connections: domain.RawConnections{
			"t": {"main": {{Node: "slow"}}},
		},
	})

	first, err := e.StartExecution(context.Background(), workflow, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		exec, err := e.GetExecution(first)
		return err == nil && exec.NodeRuns["slow"].Status == domain.NodeRunRunning
	}, 2*time.Second, 5*time.Millisecond)

	_, err = e.StartExecution(context.Background(), workflow, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	require.NoError(t, e.CancelExecution(first))
	waitTerminal(t, e, first)
}

func TestEngineLifecycle(t *testing.T) {
	reg := testRegistry(t)
	store, err := storage.Open("", testLogger())
	require.NoError(t, err)
	defer store.Close()

	e := New(fastConfig(), reg, store, testLogger(), nil)

	_, err = e.StartExecution(context.Background(), nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	workflow := resolve(t, &domain.RawWorkflow{
		Name: "lifecycle",
		Nodes: []domain.RawNode{
			{ID: "t", Name: "start", Type: domain.NodeTypeTrigger, Subtype: domain.SubtypeManual},
		},
	})
	_, err = e.StartExecution(context.Background(), workflow, nil)
	assert.ErrorIs(t, err, domain.ErrNotStarted)

	require.NoError(t, e.Start(context.Background()))
	assert.ErrorIs(t, e.Start(context.Background()), domain.ErrAlreadyStarted)

	require.NoError(t, e.Stop())
	assert.ErrorIs(t, e.Stop(), domain.ErrNotStarted)
}

func TestGetExecutionUnknownIsNotFound(t *testing.T) {
	reg := testRegistry(t)
	e, _ := newTestEngine(t, fastConfig(), reg, nil)

	_, err := e.GetExecution("no-such-execution")
	assert.True(t, domain.IsNotFound(err))

	assert.Error(t, e.CancelExecution("no-such-execution"))
	assert.Error(t, e.ResumeSuspendedNode("no-such-execution", "n", nil))
}

func TestExecutionLogCarriesLifecycleEvents(t *testing.T) {
	reg := testRegistry(t)
	e, _ := newTestEngine(t, fastConfig(), reg, nil)

	workflow := resolve(t, &domain.RawWorkflow{
		Name: "logged",
		Nodes: []domain.RawNode{
			{ID: "t", Name: "start", Type: domain.NodeTypeTrigger, Subtype: domain.SubtypeManual},
			{ID: "set", Name: "set", Type: domain.NodeTypeAction, Subtype: domain.SubtypeSet,
				Parameters: map[string]interface{}{"values": map[string]interface{}{"x": 1}}},
		},
		Connections: domain.RawConnections{
			"t": {"main": {{Node: "set"}}},
		},
	})

	executionID, err := e.StartExecution(context.Background(), workflow, nil)
	require.NoError(t, err)
	waitTerminal(t, e, executionID)

	log, err := e.GetExecutionLog(executionID)
	require.NoError(t, err)

	entries := log.Entries()
	require.NotEmpty(t, entries)
	assert.Equal(t, domain.EventExecutionStarted, entries[0].EventType)
	assert.Equal(t, domain.EventExecutionCompleted, entries[len(entries)-1].EventType)

	var lastSeq uint64
	for _, entry := range entries {
		assert.Greater(t, entry.Seq, lastSeq)
		lastSeq = entry.Seq
	}

	summary := log.Summary()
	assert.Equal(t, 2, summary.TotalNodes)
	assert.Equal(t, 2, summary.Completed)
	assert.Equal(t, 0, summary.Failed)
}

func TestRecoverExecutionsResumesPendingWork(t *testing.T) {
	reg := testRegistry(t)
	e, store := newTestEngine(t, fastConfig(), reg, nil)

	workflow := resolve(t, &domain.RawWorkflow{
		ID:   "wf-recover",
		Name: "recover",
		Nodes: []domain.RawNode{
			{ID: "t", Name: "start", Type: domain.NodeTypeTrigger, Subtype: domain.SubtypeManual},
			{ID: "a", Name: "a", Type: domain.NodeTypeAction, Subtype: domain.SubtypeSet,
				Parameters: map[string]interface{}{"values": map[string]interface{}{"x": 1}}},
			{ID: "sink", Name: "sink", Type: domain.NodeTypeAction, Subtype: domain.SubtypeLog},
		},
		Connections: domain.RawConnections{
			"t": {"main": {{Node: "a"}}},
			"a": {"main": {{Node: "sink"}}},
		},
	})

	// A snapshot from a process that died mid-run: trigger done, "a" was
	// RUNNING when the crash hit, sink untouched.
	started := time.Now().Add(-time.Minute)
	snapshot := &domain.Execution{
		ID:         "exec-recovered",
		WorkflowID: "wf-recover",
		Status:     domain.ExecutionStatusRunning,
		StartedAt:  started,
		NodeRuns: map[string]*domain.NodeRunRecord{
			"t": {
				NodeID:       "t",
				Status:       domain.NodeRunSuccess,
				AttemptCount: 1,
				OutputData:   map[string]interface{}{domain.PortMain: map[string]interface{}{"seed": true}},
			},
			"a":    {NodeID: "a", Status: domain.NodeRunRunning},
			"sink": {NodeID: "sink", Status: domain.NodeRunPending},
		},
	}
	data, err := json.Marshal(snapshot)
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), storage.ExecutionKey(snapshot.ID), data))

	require.NoError(t, e.RecoverExecutions(context.Background(), map[string]*domain.ResolvedWorkflow{
		"wf-recover": workflow,
	}))

	exec := waitTerminal(t, e, snapshot.ID)
	assert.Equal(t, domain.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, domain.NodeRunSuccess, exec.NodeRuns["a"].Status)
	assert.Equal(t, domain.NodeRunSuccess, exec.NodeRuns["sink"].Status)

	// Replay must not re-run the already-completed trigger.
	assert.Equal(t, 1, exec.NodeRuns["t"].AttemptCount)
}
