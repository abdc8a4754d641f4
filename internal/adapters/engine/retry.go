package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"dario.cat/mergo"
	"k8s.io/utils/clock"

	"github.com/eleven-am/loom/internal/domain"
	"github.com/eleven-am/loom/internal/ports"
)

// effectiveRetryPolicy layers workflow settings over the engine default,
// field-wise, with unset settings fields inheriting from the default. A
// node-level policy is explicit: its MaxRetries is taken verbatim, so a
// node can declare zero retries over a retrying workflow, and a positive
// RetryDelay replaces the inherited delay.
func effectiveRetryPolicy(node *domain.Node, settings domain.Settings, base domain.RetryPolicy) domain.RetryPolicy {
	policy := base
	if err := mergo.Merge(&policy, settings.RetryPolicy, mergo.WithOverride); err != nil {
		return base
	}
	if node.Retry != nil {
		policy.MaxRetries = node.Retry.MaxRetries
		if node.Retry.RetryDelay > 0 {
			policy.RetryDelay = node.Retry.RetryDelay
		}
	}
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	return policy
}

type attemptOutcome struct {
	result   *ports.RunnerResult
	err      error
	attempts int
	started  time.Time
	ended    time.Time
}

// runAttempts drives one node through its retry budget: at most
// MaxRetries+1 attempts, with the configured delay between them. A nil
// outcome error means the final attempt succeeded.
func runAttempts(ctx context.Context, clk clock.Clock, runner ports.Runner, node *domain.Node, inputs map[string]interface{}, rc *domain.RunContext, policy domain.RetryPolicy, timeout time.Duration) attemptOutcome {
	outcome := attemptOutcome{started: clk.Now()}

	for attempt := 1; attempt <= policy.MaxRetries+1; attempt++ {
		outcome.attempts = attempt
		rc.Attempt = attempt

		outcome.result, outcome.err = runOnce(ctx, runner, node, inputs, rc, timeout)
		if outcome.err == nil {
			break
		}
		if attempt > policy.MaxRetries {
			break
		}
		if ctx.Err() != nil {
			break
		}
		if policy.RetryDelay > 0 {
			if !sleepOrDone(ctx, clk, policy.RetryDelay) {
				break
			}
		}
	}

	outcome.ended = clk.Now()
	return outcome
}

// runOnce executes a single attempt with a bounded context and panic
// containment: a panicking runner fails its node, not the coordinator.
func runOnce(ctx context.Context, runner ports.Runner, node *domain.Node, inputs map[string]interface{}, rc *domain.RunContext, timeout time.Duration) (result *ports.RunnerResult, err error) {
	attemptCtx := domain.WithRunContext(ctx, rc)
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(attemptCtx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = domain.NewRunnerError(domain.ReasonInternal,
				fmt.Sprintf("runner panicked: %v", r),
				fmt.Errorf("panic: %v\n%s", r, debug.Stack()))
		}
	}()

	return runner.Execute(attemptCtx, node.Parameters, inputs)
}

// sleepOrDone waits for the retry delay, returning false when the context
// is cancelled first.
func sleepOrDone(ctx context.Context, clk clock.Clock, delay time.Duration) bool {
	timer := clk.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C():
		return true
	case <-ctx.Done():
		return false
	}
}
