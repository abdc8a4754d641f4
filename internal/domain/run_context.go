package domain

import "context"

type contextKey string

const runContextKey contextKey = "loom:run_context"

// RunContext carries per-attempt metadata into node runners.
type RunContext struct {
	ExecutionID string
	WorkflowID  string
	NodeID      string
	NodeName    string
	UserID      string
	Attempt     int
}

func WithRunContext(ctx context.Context, rc *RunContext) context.Context {
	return context.WithValue(ctx, runContextKey, rc)
}

func GetRunContext(ctx context.Context) (*RunContext, bool) {
	rc, ok := ctx.Value(runContextKey).(*RunContext)
	return rc, ok
}
