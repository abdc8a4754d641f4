package engine

import (
	"fmt"

	"github.com/eleven-am/loom/internal/domain"
	"github.com/eleven-am/loom/internal/ports"
)

// loopBodyNodes collects the subgraph reachable from a LOOP node's item
// port. Body nodes run under the loop executor, once per element, and are
// excluded from normal coordinator scheduling.
func loopBodyNodes(wf *domain.ResolvedWorkflow, loopID string) map[string]struct{} {
	body := make(map[string]struct{})
	queue := make([]string, 0, 4)
	for _, target := range wf.Targets(loopID, domain.PortItem) {
		if target.NodeID != loopID {
			queue = append(queue, target.NodeID)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id == loopID {
			continue
		}
		if _, seen := body[id]; seen {
			continue
		}
		body[id] = struct{}{}
		for _, targets := range wf.Adjacency[id] {
			for _, target := range targets {
				queue = append(queue, target.NodeID)
			}
		}
	}
	return body
}

// skipLoopBody marks every body node of a skipped loop as SKIPPED.
func (c *coordinator) skipLoopBody(loopID string) {
	now := c.clock.Now()
	for id, owner := range c.loopBody {
		if owner != loopID {
			continue
		}
		c.mu.Lock()
		record := c.exec.NodeRuns[id]
		if !record.Status.Terminal() {
			record.Status = domain.NodeRunSkipped
			record.StartedAt = &now
			record.EndedAt = &now
		}
		c.mu.Unlock()
	}
}

// runLoop iterates the loop body once per element, in order, collecting
// each iteration's terminal output into the aggregated list emitted on the
// loop's main port. Runs inside the loop node's worker goroutine; body run
// records travel back to the coordinator with the node-done event.
func (c *coordinator) runLoop(loopNode *domain.Node, outcome attemptOutcome, rc *domain.RunContext) (attemptOutcome, map[string]*domain.NodeRunRecord) {
	directive := outcome.result.Loop
	body := loopBodyNodes(c.wf, loopNode.ID)

	if len(body) == 0 {
		outcome.result = &ports.RunnerResult{
			Outputs:  map[string]interface{}{domain.PortMain: directive.Items},
			Warnings: outcome.result.Warnings,
		}
		outcome.ended = c.clock.Now()
		return outcome, nil
	}

	inbound := loopInbound(c.wf, loopNode.ID, body)
	terminal := loopTerminal(c.wf, body)
	records := make(map[string]*domain.NodeRunRecord, len(body))
	results := make([]interface{}, 0, len(directive.Items))

	for _, item := range directive.Items {
		if c.ctx.Err() != nil {
			outcome.err = domain.NewRunnerError(domain.ReasonCancelled, "loop interrupted by cancellation", c.ctx.Err())
			outcome.ended = c.clock.Now()
			return outcome, records
		}

		result, err := c.runLoopIteration(loopNode, item, body, inbound, terminal, records, rc)
		if err != nil {
			outcome.err = err
			outcome.ended = c.clock.Now()
			return outcome, records
		}
		results = append(results, result)
	}

	outcome.result = &ports.RunnerResult{
		Outputs:  map[string]interface{}{domain.PortMain: results},
		Warnings: outcome.result.Warnings,
	}
	outcome.ended = c.clock.Now()
	return outcome, records
}

// runLoopIteration walks the body subgraph serially for one element. A body
// node failure under the continue policy skips its body descendants and
// yields a nil iteration result; under stop, or for a critical node, the
// failure aborts the loop.
func (c *coordinator) runLoopIteration(loopNode *domain.Node, item interface{}, body map[string]struct{}, inbound map[string]map[string]int, terminal string, records map[string]*domain.NodeRunRecord, loopRC *domain.RunContext) (interface{}, error) {
	arrivals := make(map[string]map[string][]arrival, len(body))
	for id := range body {
		arrivals[id] = make(map[string][]arrival)
	}

	var ready []string
	queued := make(map[string]bool, len(body))

	var deliverFn func(domain.Target, arrival)
	skipDescendants := func(nodeID string) {
		for _, targets := range c.wf.Adjacency[nodeID] {
			for _, target := range targets {
				deliverFn(target, arrival{skipped: true, index: target.Index})
			}
		}
	}
	deliverFn = func(target domain.Target, a arrival) {
		if _, inBody := body[target.NodeID]; !inBody || queued[target.NodeID] {
			return
		}
		arrivals[target.NodeID][target.Port] = append(arrivals[target.NodeID][target.Port], a)
		arrived, real, expected := 0, 0, 0
		for port, count := range inbound[target.NodeID] {
			expected += count
			for _, got := range arrivals[target.NodeID][port] {
				arrived++
				if !got.skipped {
					real++
				}
			}
		}
		if arrived < expected {
			return
		}
		queued[target.NodeID] = true
		if real == 0 {
			c.recordBodySkip(target.NodeID, records)
			skipDescendants(target.NodeID)
			return
		}
		ready = append(ready, target.NodeID)
	}

	for _, target := range c.wf.Targets(loopNode.ID, domain.PortItem) {
		deliverFn(target, arrival{value: item, index: target.Index})
	}

	var iterationResult interface{}

	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		node := c.wf.Nodes[id]

		runner, err := c.engine.registry.Get(node.Type, node.Subtype)
		if err != nil {
			return nil, domain.NewRunnerError(domain.ReasonInternal, err.Error(), err)
		}

		inputs := make(map[string]interface{})
		for port, got := range arrivals[id] {
			expected := inbound[id][port]
			if expected <= 1 {
				if len(got) > 0 && !got[0].skipped {
					inputs[port] = got[0].value
				} else {
					inputs[port] = nil
				}
				continue
			}
			slots := make([]interface{}, expected)
			filled := make([]bool, expected)
			for _, a := range got {
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

		policy := effectiveRetryPolicy(node, c.wf.Settings, c.engine.config.DefaultRetryPolicy)
		bodyRC := &domain.RunContext{
			ExecutionID: loopRC.ExecutionID,
			WorkflowID:  loopRC.WorkflowID,
			NodeID:      node.ID,
			NodeName:    node.Name,
			UserID:      loopRC.UserID,
		}
		result := runAttempts(c.ctx, c.clock, runner, node, inputs, bodyRC, policy, c.engine.config.NodeExecutionTimeout)
		c.recordBodyRun(node, result, records)

		if result.err != nil {
			if node.Critical || c.wf.Settings.ErrorPolicy == domain.ErrorPolicyStop {
				runnerErr := domain.AsRunnerError(result.err)
				return nil, fmt.Errorf("loop body node %s (%s) failed: %w", node.ID, node.Name, runnerErr)
			}
			skipDescendants(id)
			continue
		}

		outputs := map[string]interface{}{}
		if result.result != nil && result.result.Outputs != nil {
			outputs = result.result.Outputs
		}
		if id == terminal {
			iterationResult = outputs[domain.PortMain]
		}
		for port, targets := range c.wf.Adjacency[id] {
			value, fired := outputs[port]
			for _, target := range targets {
				deliverFn(target, arrival{value: value, skipped: !fired, index: target.Index})
			}
		}
	}

	return iterationResult, nil
}

func (c *coordinator) recordBodyRun(node *domain.Node, result attemptOutcome, records map[string]*domain.NodeRunRecord) {
	record, ok := records[node.ID]
	if !ok {
		record = &domain.NodeRunRecord{NodeID: node.ID}
		started := result.started
		record.StartedAt = &started
		records[node.ID] = record
	}
	record.AttemptCount += result.attempts
	ended := result.ended
	record.EndedAt = &ended
	if result.err != nil {
		record.Status = domain.NodeRunError
		record.Error = domain.AsRunnerError(result.err)
		return
	}
	record.Status = domain.NodeRunSuccess
	record.Error = nil
	if result.result != nil {
		record.OutputData = result.result.Outputs
	}
}

func (c *coordinator) recordBodySkip(nodeID string, records map[string]*domain.NodeRunRecord) {
	if _, ok := records[nodeID]; ok {
		return
	}
	now := c.clock.Now()
	records[nodeID] = &domain.NodeRunRecord{
		NodeID:    nodeID,
		Status:    domain.NodeRunSkipped,
		StartedAt: &now,
		EndedAt:   &now,
	}
}

// loopInbound restricts inbound edge counts to edges originating inside the
// body or from the loop's item port, so body readiness never waits on
// arrivals the loop executor will not produce.
func loopInbound(wf *domain.ResolvedWorkflow, loopID string, body map[string]struct{}) map[string]map[string]int {
	inbound := make(map[string]map[string]int, len(body))
	count := func(target domain.Target) {
		if _, inBody := body[target.NodeID]; !inBody {
			return
		}
		ports, ok := inbound[target.NodeID]
		if !ok {
			ports = make(map[string]int)
			inbound[target.NodeID] = ports
		}
		ports[target.Port]++
	}
	for _, target := range wf.Targets(loopID, domain.PortItem) {
		count(target)
	}
	for id := range body {
		for _, targets := range wf.Adjacency[id] {
			for _, target := range targets {
				count(target)
			}
		}
	}
	return inbound
}

// loopTerminal picks the body node with no outgoing edges into the body;
// its main output is the per-iteration result. Ties break on workflow
// order.
func loopTerminal(wf *domain.ResolvedWorkflow, body map[string]struct{}) string {
	for _, id := range wf.Order {
		if _, inBody := body[id]; !inBody {
			continue
		}
		internal := false
		for _, targets := range wf.Adjacency[id] {
			for _, target := range targets {
				if _, inBody := body[target.NodeID]; inBody {
					internal = true
				}
			}
		}
		if !internal {
			return id
		}
	}
	return ""
}
