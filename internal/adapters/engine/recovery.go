package engine

import (
	"github.com/eleven-am/loom/internal/domain"
)

// rehydrate rebuilds coordinator state from a persisted snapshot. Terminal
// node records keep their outcomes; their outputs are replayed through
// propagation so downstream readiness is reconstructed without re-running
// anything. Nodes caught mid-run by the crash are reset to PENDING and will
// re-execute once their inputs are rebuilt.
func (c *coordinator) rehydrate(snapshot *domain.Execution, tokens []domain.SuspensionToken) {
	c.recovered = true

	suspended := make(map[string]domain.SuspensionToken, len(tokens))
	for _, token := range tokens {
		suspended[token.NodeID] = token
	}

	c.mu.Lock()
	for id, record := range snapshot.NodeRuns {
		if _, known := c.states[id]; !known {
			continue
		}
		if record.Status == domain.NodeRunRunning {
			if _, isSuspended := suspended[id]; !isSuspended {
				record = &domain.NodeRunRecord{NodeID: id, Status: domain.NodeRunPending}
			}
		}
		c.exec.NodeRuns[id] = record
	}
	c.mu.Unlock()

	// Terminal and suspended nodes must be ineligible for dispatch before
	// any replayed output reaches them.
	for id, st := range c.states {
		record := c.exec.NodeRuns[id]
		if record.Status.Terminal() {
			st.dispatched = true
		}
		if _, isSuspended := suspended[id]; isSuspended {
			st.dispatched = true
		}
	}

	c.pendingTokens = tokens
}

// replayRecords re-runs propagation for every recorded terminal outcome, in
// workflow order, then restores suspensions. Called from run() in place of
// trigger seeding on a recovered execution.
func (c *coordinator) replayRecords() {
	for _, id := range c.wf.Order {
		if _, isBody := c.loopBody[id]; isBody {
			continue
		}
		st := c.states[id]
		record := c.nodeRecord(id)
		switch record.Status {
		case domain.NodeRunSuccess:
			outputs := record.OutputData
			if outputs == nil {
				outputs = map[string]interface{}{}
			}
			c.propagateOutputs(st, outputs)
		case domain.NodeRunSkipped:
			c.propagateSkips(st)
		case domain.NodeRunError:
			if st.node.Critical || c.wf.Settings.ErrorPolicy == domain.ErrorPolicyStop {
				c.fatal = record.Error
				c.draining = true
				continue
			}
			c.propagateSkips(st)
		}
	}

	// Triggers that never recorded an outcome are seeded normally.
	payload := c.triggerPayload()
	for _, id := range c.wf.TriggerIDs {
		st := c.states[id]
		if st.dispatched {
			continue
		}
		st.arrivals[domain.PortMain] = append(st.arrivals[domain.PortMain], arrival{value: payload})
		c.enqueue(st)
	}

	for _, token := range c.pendingTokens {
		c.restoreSuspension(token)
	}
	c.pendingTokens = nil
}

// restoreSuspension re-arms a suspended node's timers relative to its
// original suspension time, so restarts never extend a wait.
func (c *coordinator) restoreSuspension(token domain.SuspensionToken) {
	st, ok := c.states[token.NodeID]
	if !ok {
		return
	}

	// The in-memory resume payload did not survive the restart; rebuild it
	// from the node's replayed input, which is what WAIT emits on a timer
	// resume.
	var payload interface{}
	if inputs := c.buildInputs(st); inputs != nil {
		payload = inputs[domain.PortMain]
	}

	state := &suspensionState{payload: payload}
	st.suspended = state
	c.suspendedCount++

	now := c.clock.Now()
	nodeID := token.NodeID
	if token.ResumeAfter > 0 {
		remaining := token.SuspendedAt.Add(token.ResumeAfter).Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		state.resumeTimer = c.clock.AfterFunc(remaining, func() {
			c.post(evResume{nodeID: nodeID})
		})
	}
	timeout := token.Timeout
	if timeout <= 0 && token.ResumeAfter <= 0 {
		timeout = c.engine.config.SuspensionTimeout
	}
	if timeout > 0 {
		remaining := token.SuspendedAt.Add(timeout).Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		state.timeout = timeout
		state.timeoutTimer = c.clock.AfterFunc(remaining, func() {
			c.post(evSuspensionTimeout{nodeID: nodeID})
		})
	}
}

func (c *coordinator) nodeRecord(id string) *domain.NodeRunRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.exec.NodeRuns[id]
}
