package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"k8s.io/utils/clock"

	"github.com/eleven-am/loom/internal/adapters/execlog"
	"github.com/eleven-am/loom/internal/adapters/runners"
	"github.com/eleven-am/loom/internal/adapters/storage"
	"github.com/eleven-am/loom/internal/domain"
)

// arrival is one value landing on a node's input port. A skipped arrival
// means the upstream branch did not fire; it satisfies readiness without
// carrying data, which keeps wait-for-all merges from deadlocking.
type arrival struct {
	value   interface{}
	skipped bool
	index   int
}

type suspensionState struct {
	payload interface{}
	// timeout is the effective bound armed for this suspension: the node's
	// own window when set, the engine default otherwise.
	timeout      time.Duration
	resumeTimer  clock.Timer
	timeoutTimer clock.Timer
}

type nodeState struct {
	node       *domain.Node
	arrivals   map[string][]arrival
	dispatched bool
	suspended  *suspensionState
}

type evNodeDone struct {
	nodeID  string
	outcome attemptOutcome
	// bodyRuns carries loop-body node records produced off-coordinator, so
	// the coordinator stays the single writer of the run-record map.
	bodyRuns map[string]*domain.NodeRunRecord
}

type evResume struct {
	nodeID   string
	payload  map[string]interface{}
	external bool
}

type evSuspensionTimeout struct{ nodeID string }

type evCancel struct{}

type evExecutionTimeout struct{}

type evDrainTimeout struct{}

// coordinator drives one Execution to a terminal state. It owns all
// mutable per-execution state: workers and timers communicate through the
// events channel only, making the coordinator the single writer.
type coordinator struct {
	engine *Engine
	wf     *domain.ResolvedWorkflow
	logger *slog.Logger
	clock  clock.WithDelayedExecution
	log    *execlog.Buffer

	mu   sync.RWMutex
	exec *domain.Execution

	events chan interface{}
	ctx    context.Context
	cancel context.CancelFunc

	states         map[string]*nodeState
	ready          []string
	runningCount   int
	suspendedCount int
	loopBody       map[string]string

	draining        bool
	cancelRequested bool
	fatal           error

	recovered     bool
	pendingTokens []domain.SuspensionToken
}

func newCoordinator(engine *Engine, wf *domain.ResolvedWorkflow, exec *domain.Execution, log *execlog.Buffer) *coordinator {
	ctx, cancel := context.WithCancel(engine.ctx)

	c := &coordinator{
		engine:   engine,
		wf:       wf,
		logger:   engine.logger.With("component", "coordinator", "execution_id", exec.ID, "workflow_id", wf.ID),
		clock:    engine.clock,
		log:      log,
		exec:     exec,
		events:   make(chan interface{}, 2*len(wf.Nodes)+32),
		ctx:      ctx,
		cancel:   cancel,
		states:   make(map[string]*nodeState, len(wf.Nodes)),
		loopBody: make(map[string]string),
	}

	for _, id := range wf.Order {
		node := wf.Nodes[id]
		c.states[id] = &nodeState{
			node:     node,
			arrivals: make(map[string][]arrival),
		}
		exec.NodeRuns[id] = &domain.NodeRunRecord{
			NodeID: id,
			Status: domain.NodeRunPending,
		}
		if node.IsFlow(domain.SubtypeLoop) {
			for bodyID := range loopBodyNodes(wf, id) {
				c.loopBody[bodyID] = id
			}
		}
	}

	return c
}

func (c *coordinator) run() {
	defer c.cancel()

	c.setStatus(domain.ExecutionStatusRunning)
	c.engine.metrics.IncrementExecutionsStarted()
	c.log.Append(domain.EventExecutionStarted, "", domain.LevelInfo, "execution started", map[string]interface{}{
		"workflow_id": c.wf.ID,
		"node_count":  len(c.wf.Nodes),
	})
	c.persist()

	if timeout := c.wf.Settings.Timeout; timeout > 0 {
		timer := c.clock.AfterFunc(timeout, func() {
			c.post(evExecutionTimeout{})
		})
		defer timer.Stop()
	}

	if c.recovered {
		c.replayRecords()
	} else {
		c.seedTriggers()
	}

	done := c.ctx.Done()
	for {
		c.dispatchReady()
		if c.finished() {
			break
		}
		select {
		case ev := <-c.events:
			c.handle(ev)
		case <-done:
			// Engine shutdown: force-drain instead of waiting out grace
			// timers that may never fire.
			done = nil
			if c.fatal == nil {
				c.cancelRequested = true
			}
			c.draining = true
			c.forceDrain()
		}
	}

	c.finalize()
}

// post delivers an event without blocking the caller; the channel is sized
// for the worst case, so a full buffer means the coordinator already
// finished and the event no longer matters.
func (c *coordinator) post(ev interface{}) {
	select {
	case c.events <- ev:
	default:
	}
}

func (c *coordinator) seedTriggers() {
	payload := c.triggerPayload()
	for _, id := range c.wf.TriggerIDs {
		st := c.states[id]
		st.arrivals[domain.PortMain] = append(st.arrivals[domain.PortMain], arrival{value: payload})
		c.ready = append(c.ready, id)
	}
}

func (c *coordinator) triggerPayload() interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.exec.TriggerPayload == nil {
		return nil
	}
	return c.exec.TriggerPayload
}

// dispatchReady drains the FIFO ready queue within the concurrency budget:
// one in-flight node in serial mode, up to the worker limit in parallel
// mode. Draining executions dispatch nothing.
func (c *coordinator) dispatchReady() {
	limit := 1
	if c.wf.Settings.ParallelExecution {
		limit = c.engine.config.WorkerCount
	}

	for len(c.ready) > 0 && !c.draining && c.runningCount < limit {
		id := c.ready[0]
		c.ready = c.ready[1:]
		c.dispatch(c.states[id])
	}
}

func (c *coordinator) dispatch(st *nodeState) {
	runner, err := c.engine.registry.Get(st.node.Type, st.node.Subtype)
	if err != nil {
		// Load-time validation makes this unreachable for loaded
		// workflows; fail the node rather than crash the run.
		c.completeNode(st, attemptOutcome{
			err:      domain.NewRunnerError(domain.ReasonInternal, err.Error(), err),
			attempts: 1,
			started:  c.clock.Now(),
			ended:    c.clock.Now(),
		}, nil)
		return
	}

	inputs := c.buildInputs(st)
	now := c.clock.Now()

	c.mu.Lock()
	record := c.exec.NodeRuns[st.node.ID]
	record.Status = domain.NodeRunRunning
	record.StartedAt = &now
	record.InputSnapshot = snapshotInputs(inputs)
	c.mu.Unlock()

	c.log.Append(domain.EventStepStarted, st.node.ID, domain.LevelInfo,
		fmt.Sprintf("node %s started", st.node.Name),
		map[string]interface{}{
			"node_name":  st.node.Name,
			"node_type":  string(st.node.Type),
			"subtype":    st.node.Subtype,
			"parameters": st.node.Parameters,
			"inputs":     snapshotInputs(inputs),
		})

	policy := effectiveRetryPolicy(st.node, c.wf.Settings, c.engine.config.DefaultRetryPolicy)
	rc := &domain.RunContext{
		ExecutionID: c.exec.ID,
		WorkflowID:  c.wf.ID,
		NodeID:      st.node.ID,
		NodeName:    st.node.Name,
		UserID:      c.wf.UserID,
	}

	c.runningCount++
	c.engine.metrics.IncrementNodesDispatched()
	go func() {
		outcome := runAttempts(c.ctx, c.clock, runner, st.node, inputs, rc, policy, c.engine.config.NodeExecutionTimeout)

		var bodyRuns map[string]*domain.NodeRunRecord
		if outcome.err == nil && outcome.result != nil && outcome.result.Loop != nil {
			outcome, bodyRuns = c.runLoop(st.node, outcome, rc)
		}

		c.events <- evNodeDone{nodeID: st.node.ID, outcome: outcome, bodyRuns: bodyRuns}
	}()
}

// buildInputs assembles the runner-facing input map. Single-edge ports get
// the bare value; fan-in ports get an ordered slot slice with nil standing
// in for skipped branches. A first-wins merge gets the first real arrival
// unwrapped.
func (c *coordinator) buildInputs(st *nodeState) map[string]interface{} {
	inputs := make(map[string]interface{})

	firstWins := st.node.IsFlow(domain.SubtypeMerge) &&
		runners.MergeMode(st.node.Parameters) == runners.MergeModeFirstWins

	for port, arrivals := range st.arrivals {
		expected := c.wf.InboundCount(st.node.ID, port)
		if expected == 0 {
			// Trigger seed.
			expected = len(arrivals)
		}

		if firstWins {
			for _, a := range arrivals {
				if !a.skipped {
					inputs[port] = a.value
					break
				}
			}
			continue
		}

		if expected <= 1 {
			if len(arrivals) > 0 && !arrivals[0].skipped {
				inputs[port] = arrivals[0].value
			} else {
				inputs[port] = nil
			}
			continue
		}

		slots := make([]interface{}, expected)
		filled := make([]bool, expected)
		for _, a := range arrivals {
			idx := a.index
			if idx < 0 || idx >= expected || filled[idx] {
				idx = -1
				for i := range filled {
					if !filled[i] {
						idx = i
						break
					}
				}
				if idx < 0 {
					continue
				}
			}
			filled[idx] = true
			if !a.skipped {
				slots[idx] = a.value
			}
		}
		inputs[port] = slots
	}

	return inputs
}

func (c *coordinator) handle(ev interface{}) {
	switch e := ev.(type) {
	case evNodeDone:
		c.runningCount--
		c.completeNode(c.states[e.nodeID], e.outcome, e.bodyRuns)
	case evResume:
		c.resumeNode(c.states[e.nodeID], e.payload, e.external)
	case evSuspensionTimeout:
		c.timeoutSuspension(c.states[e.nodeID])
	case evCancel:
		c.beginCancel()
	case evExecutionTimeout:
		c.beginTimeout()
	case evDrainTimeout:
		c.forceDrain()
	}
}

func (c *coordinator) completeNode(st *nodeState, outcome attemptOutcome, bodyRuns map[string]*domain.NodeRunRecord) {
	if bodyRuns != nil {
		c.mu.Lock()
		for id, record := range bodyRuns {
			c.exec.NodeRuns[id] = record
		}
		c.mu.Unlock()
	}

	if outcome.err == nil && outcome.result != nil && outcome.result.Suspension != nil {
		c.suspendNode(st, outcome)
		return
	}

	if outcome.err != nil {
		c.failNode(st, outcome)
		return
	}

	outputs := map[string]interface{}{}
	if outcome.result != nil && outcome.result.Outputs != nil {
		outputs = outcome.result.Outputs
	}

	now := c.clock.Now()
	c.mu.Lock()
	record := c.exec.NodeRuns[st.node.ID]
	record.Status = domain.NodeRunSuccess
	record.AttemptCount = outcome.attempts
	record.OutputData = outputs
	record.EndedAt = &now
	c.mu.Unlock()

	data := map[string]interface{}{
		"node_name":   st.node.Name,
		"outputs":     outputs,
		"attempts":    outcome.attempts,
		"duration_ms": outcome.ended.Sub(outcome.started).Milliseconds(),
	}
	if outcome.result != nil {
		for _, warning := range outcome.result.Warnings {
			c.log.Append(domain.EventExecutionProgress, st.node.ID, domain.LevelWarn, warning, nil)
		}
	}
	c.log.Append(domain.EventStepCompleted, st.node.ID, domain.LevelInfo,
		fmt.Sprintf("node %s completed", st.node.Name), data)

	c.engine.metrics.IncrementNodesSucceeded()
	c.engine.metrics.AddRetryAttempts(outcome.attempts)
	c.engine.metrics.AddNodeTime(outcome.ended.Sub(outcome.started))

	c.persist()
	c.propagateOutputs(st, outputs)
}

func (c *coordinator) failNode(st *nodeState, outcome attemptOutcome) {
	runnerErr := domain.AsRunnerError(outcome.err)
	now := c.clock.Now()

	c.mu.Lock()
	record := c.exec.NodeRuns[st.node.ID]
	record.Status = domain.NodeRunError
	record.AttemptCount = outcome.attempts
	record.Error = runnerErr
	record.EndedAt = &now
	c.mu.Unlock()

	c.log.Append(domain.EventStepError, st.node.ID, domain.LevelError,
		fmt.Sprintf("node %s failed: %s", st.node.Name, runnerErr.Reason),
		map[string]interface{}{
			"node_name":   st.node.Name,
			"error":       runnerErr.Message,
			"reason":      runnerErr.Reason,
			"solution":    runnerErr.Solution,
			"attempts":    outcome.attempts,
			"duration_ms": outcome.ended.Sub(outcome.started).Milliseconds(),
		})
	c.engine.metrics.IncrementNodesFailed()
	c.engine.metrics.AddRetryAttempts(outcome.attempts)
	c.persist()

	fatal := st.node.Critical || c.wf.Settings.ErrorPolicy == domain.ErrorPolicyStop
	if fatal {
		c.fatal = fmt.Errorf("node %s (%s) failed: %w", st.node.ID, st.node.Name, runnerErr)
		c.draining = true
		c.logger.Error("node failure is fatal, draining execution",
			"node_id", st.node.ID,
			"critical", st.node.Critical,
			"error_policy", string(c.wf.Settings.ErrorPolicy),
			"error", runnerErr.Message,
		)
		return
	}

	// continue policy: everything fed exclusively by this node is skipped.
	c.propagateSkips(st)
}

func (c *coordinator) suspendNode(st *nodeState, outcome attemptOutcome) {
	suspension := outcome.result.Suspension
	c.suspendedCount++
	c.engine.metrics.IncrementNodesSuspended()

	state := &suspensionState{payload: suspension.ResumePayload}
	st.suspended = state

	token := domain.SuspensionToken{
		ExecutionID: c.exec.ID,
		NodeID:      st.node.ID,
		Port:        domain.PortMain,
		SuspendedAt: c.clock.Now(),
		ResumeAfter: suspension.ResumeAfter,
		Timeout:     suspension.Timeout,
	}
	c.persistSuspension(token)

	nodeID := st.node.ID
	if suspension.ResumeAfter > 0 {
		state.resumeTimer = c.clock.AfterFunc(suspension.ResumeAfter, func() {
			c.post(evResume{nodeID: nodeID})
		})
	}
	timeout := suspension.Timeout
	if timeout <= 0 && suspension.ResumeAfter <= 0 {
		timeout = c.engine.config.SuspensionTimeout
	}
	if timeout > 0 {
		state.timeout = timeout
		state.timeoutTimer = c.clock.AfterFunc(timeout, func() {
			c.post(evSuspensionTimeout{nodeID: nodeID})
		})
	}

	c.log.Append(domain.EventExecutionProgress, st.node.ID, domain.LevelInfo,
		fmt.Sprintf("node %s suspended", st.node.Name),
		map[string]interface{}{
			"node_name":    st.node.Name,
			"resume_after": suspension.ResumeAfter.String(),
			"timeout":      timeout.String(),
		})
	c.persist()
}

func (c *coordinator) resumeNode(st *nodeState, payload map[string]interface{}, external bool) {
	if st == nil || st.suspended == nil {
		return
	}
	state := st.suspended
	st.suspended = nil
	c.suspendedCount--
	c.engine.metrics.IncrementNodesResumed()
	stopTimers(state)
	c.clearSuspension(st.node.ID)

	var value interface{}
	if external {
		value = mapToInterface(payload)
	} else {
		value = state.payload
	}

	now := c.clock.Now()
	c.mu.Lock()
	record := c.exec.NodeRuns[st.node.ID]
	record.Status = domain.NodeRunSuccess
	if record.AttemptCount == 0 {
		record.AttemptCount = 1
	}
	outputs := map[string]interface{}{domain.PortMain: value}
	record.OutputData = outputs
	record.EndedAt = &now
	started := record.StartedAt
	c.mu.Unlock()

	durationMS := int64(0)
	if started != nil {
		durationMS = now.Sub(*started).Milliseconds()
	}
	c.log.Append(domain.EventStepCompleted, st.node.ID, domain.LevelInfo,
		fmt.Sprintf("node %s resumed", st.node.Name),
		map[string]interface{}{
			"node_name":   st.node.Name,
			"external":    external,
			"outputs":     outputs,
			"duration_ms": durationMS,
		})
	c.persist()

	c.propagateOutputs(st, outputs)
}

func (c *coordinator) timeoutSuspension(st *nodeState) {
	if st == nil || st.suspended == nil {
		return
	}
	state := st.suspended
	st.suspended = nil
	c.suspendedCount--
	stopTimers(state)
	c.clearSuspension(st.node.ID)

	timeout := state.timeout
	if timeout <= 0 {
		timeout = c.engine.config.SuspensionTimeout
	}
	err := &domain.SuspensionTimeoutError{NodeID: st.node.ID, Timeout: timeout}
	now := c.clock.Now()
	c.failNode(st, attemptOutcome{
		err:      err,
		attempts: 1,
		started:  now,
		ended:    now,
	})
}

// propagateOutputs fans a completed node's port values out to every
// connected downstream input. Ports the node did not emit on propagate as
// skipped, which is how the untaken branch of an IF ends up SKIPPED.
func (c *coordinator) propagateOutputs(st *nodeState, outputs map[string]interface{}) {
	for port, targets := range c.wf.Adjacency[st.node.ID] {
		if st.node.IsFlow(domain.SubtypeLoop) && port == domain.PortItem {
			// Body nodes already ran under the loop executor.
			continue
		}
		value, fired := outputs[port]
		for _, target := range targets {
			c.deliver(target, arrival{value: value, skipped: !fired, index: target.Index})
		}
	}
}

func (c *coordinator) propagateSkips(st *nodeState) {
	for port, targets := range c.wf.Adjacency[st.node.ID] {
		if st.node.IsFlow(domain.SubtypeLoop) && port == domain.PortItem {
			c.skipLoopBody(st.node.ID)
			continue
		}
		for _, target := range targets {
			c.deliver(target, arrival{skipped: true, index: target.Index})
		}
	}
}

func (c *coordinator) deliver(target domain.Target, a arrival) {
	if _, isBody := c.loopBody[target.NodeID]; isBody {
		return
	}
	st, ok := c.states[target.NodeID]
	if !ok || st.dispatched {
		return
	}
	st.arrivals[target.Port] = append(st.arrivals[target.Port], a)
	c.evaluateReadiness(st)
}

func (c *coordinator) evaluateReadiness(st *nodeState) {
	if st.dispatched {
		return
	}

	firstWins := st.node.IsFlow(domain.SubtypeMerge) &&
		runners.MergeMode(st.node.Parameters) == runners.MergeModeFirstWins

	arrived := 0
	realArrivals := 0
	expectedTotal := 0
	for port, expected := range c.wf.Inbound[st.node.ID] {
		expectedTotal += expected
		for _, a := range st.arrivals[port] {
			arrived++
			if !a.skipped {
				realArrivals++
			}
		}
	}

	if firstWins {
		if realArrivals > 0 {
			c.enqueue(st)
			return
		}
		if expectedTotal > 0 && arrived >= expectedTotal {
			c.skipNode(st)
		}
		return
	}

	if expectedTotal == 0 || arrived < expectedTotal {
		return
	}
	if realArrivals == 0 {
		c.skipNode(st)
		return
	}
	c.enqueue(st)
}

// enqueue marks the node ineligible for further readiness checks and puts
// it on the FIFO ready queue; dispatch order is arrival order.
func (c *coordinator) enqueue(st *nodeState) {
	st.dispatched = true
	c.ready = append(c.ready, st.node.ID)
}

func (c *coordinator) skipNode(st *nodeState) {
	st.dispatched = true

	now := c.clock.Now()
	c.mu.Lock()
	record := c.exec.NodeRuns[st.node.ID]
	record.Status = domain.NodeRunSkipped
	record.StartedAt = &now
	record.EndedAt = &now
	c.mu.Unlock()

	c.log.Append(domain.EventStepCompleted, st.node.ID, domain.LevelInfo,
		fmt.Sprintf("node %s skipped", st.node.Name),
		map[string]interface{}{
			"node_name": st.node.Name,
			"skipped":   true,
		})
	c.engine.metrics.IncrementNodesSkipped()
	c.persist()

	c.propagateSkips(st)
}

func (c *coordinator) beginCancel() {
	if c.cancelRequested {
		return
	}
	c.cancelRequested = true
	c.draining = true
	c.log.Append(domain.EventExecutionProgress, "", domain.LevelWarn, "cancellation requested, draining in-flight nodes", nil)

	if c.runningCount > 0 || c.suspendedCount > 0 {
		c.clock.AfterFunc(c.engine.config.CancelGraceTimeout, func() {
			c.post(evDrainTimeout{})
		})
	}
}

func (c *coordinator) beginTimeout() {
	if c.draining {
		return
	}
	c.fatal = domain.NewRunnerError(domain.ReasonInternal,
		fmt.Sprintf("execution exceeded timeout of %s", c.wf.Settings.Timeout), nil)
	c.draining = true
	c.log.Append(domain.EventExecutionProgress, "", domain.LevelError, "execution timeout, draining in-flight nodes", nil)

	if c.runningCount > 0 || c.suspendedCount > 0 {
		c.clock.AfterFunc(c.engine.config.CancelGraceTimeout, func() {
			c.post(evDrainTimeout{})
		})
	}
}

// forceDrain gives up on in-flight work after the grace timeout: running
// and suspended nodes are marked failed-as-cancelled so the execution can
// reach its terminal status.
func (c *coordinator) forceDrain() {
	if !c.draining {
		return
	}
	c.cancel()

	now := c.clock.Now()
	c.mu.Lock()
	for id, st := range c.states {
		record := c.exec.NodeRuns[id]
		if record.Status != domain.NodeRunRunning {
			continue
		}
		record.Status = domain.NodeRunError
		record.Error = &domain.RunnerError{
			Reason:  domain.ReasonCancelled,
			Message: "node did not finish before the drain grace timeout",
		}
		record.EndedAt = &now
		if st.suspended != nil {
			stopTimers(st.suspended)
			st.suspended = nil
		}
	}
	c.mu.Unlock()

	c.runningCount = 0
	c.suspendedCount = 0
	c.persist()
}

func (c *coordinator) finished() bool {
	if c.runningCount > 0 || c.suspendedCount > 0 {
		return false
	}
	if c.draining {
		return true
	}
	return len(c.ready) == 0
}

func (c *coordinator) finalize() {
	if !c.draining && !c.cancelRequested && c.fatal == nil {
		if err := c.detectDeadlock(); err != nil {
			c.fatal = err
		}
	}

	status := domain.ExecutionStatusCompleted
	if c.cancelRequested {
		status = domain.ExecutionStatusCancelled
	} else if c.fatal != nil {
		status = domain.ExecutionStatusFailed
	}

	now := c.clock.Now()
	c.mu.Lock()
	c.exec.Status = status
	c.exec.EndedAt = &now
	if c.fatal != nil {
		c.exec.Error = c.fatal.Error()
	}
	c.mu.Unlock()

	data := map[string]interface{}{"status": string(status)}
	level := domain.LevelInfo
	if status == domain.ExecutionStatusFailed {
		level = domain.LevelError
		data["error"] = c.fatal.Error()
	}
	c.log.Append(domain.EventExecutionCompleted, "", level,
		fmt.Sprintf("execution %s", string(status)), data)

	c.engine.metrics.RecordExecutionFinished(status)
	c.persist()
	c.log.Close()

	c.logger.Info("execution finished", "status", string(status))
}

// detectDeadlock runs once the queue is empty and nothing is in flight: a
// node with partial arrivals at that point will never become ready.
func (c *coordinator) detectDeadlock() error {
	for _, id := range c.wf.Order {
		if _, isBody := c.loopBody[id]; isBody {
			continue
		}
		st := c.states[id]
		if st.dispatched || len(st.arrivals) == 0 {
			continue
		}
		for port, expected := range c.wf.Inbound[id] {
			if len(st.arrivals[port]) < expected {
				return &domain.CoordinatorInvariantError{NodeID: id, Port: port}
			}
		}
	}
	return nil
}

func (c *coordinator) setStatus(status domain.ExecutionStatus) {
	c.mu.Lock()
	c.exec.Status = status
	c.mu.Unlock()
}

// snapshot returns a deep copy of the execution for queries, so readers
// never observe the coordinator's in-place mutations.
func (c *coordinator) snapshot() *domain.Execution {
	c.mu.RLock()
	data, err := json.Marshal(c.exec)
	c.mu.RUnlock()
	if err != nil {
		return nil
	}
	var copied domain.Execution
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil
	}
	return &copied
}

func (c *coordinator) persist() {
	c.mu.RLock()
	data, err := json.Marshal(c.exec)
	c.mu.RUnlock()
	if err != nil {
		c.logger.Error("failed to serialize execution", "error", err)
		return
	}
	if err := c.engine.storage.Put(c.engine.ctx, storage.ExecutionKey(c.exec.ID), data); err != nil {
		c.logger.Error("failed to persist execution", "error", err)
	}
}

func (c *coordinator) persistSuspension(token domain.SuspensionToken) {
	data, err := json.Marshal(token)
	if err != nil {
		c.logger.Error("failed to serialize suspension token", "node_id", token.NodeID, "error", err)
		return
	}
	if err := c.engine.storage.Put(c.engine.ctx, storage.SuspensionKey(token.ExecutionID, token.NodeID), data); err != nil {
		c.logger.Error("failed to persist suspension token", "node_id", token.NodeID, "error", err)
	}
}

func (c *coordinator) clearSuspension(nodeID string) {
	if err := c.engine.storage.Delete(c.engine.ctx, storage.SuspensionKey(c.exec.ID, nodeID)); err != nil && !domain.IsNotFound(err) {
		c.logger.Error("failed to clear suspension token", "node_id", nodeID, "error", err)
	}
}

func stopTimers(state *suspensionState) {
	if state.resumeTimer != nil {
		state.resumeTimer.Stop()
	}
	if state.timeoutTimer != nil {
		state.timeoutTimer.Stop()
	}
}

func snapshotInputs(inputs map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(inputs))
	for port, value := range inputs {
		out[port] = value
	}
	return out
}

func mapToInterface(payload map[string]interface{}) interface{} {
	if payload == nil {
		return nil
	}
	return payload
}
