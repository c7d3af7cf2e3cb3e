package executor

import "context"

// MockExecutor is a deterministic, in-memory LLMExecutor used by tests and
// local development, mirroring the teacher's pattern of injecting a
// sessionExecutor interface into the worker pool (pkg/queue/pool.go) so
// production code never depends on a concrete backend.
type MockExecutor struct {
	// Fn, if set, is invoked for every Execute call, letting tests script
	// arbitrary outcomes keyed on the request.
	Fn func(ctx context.Context, req Request) (Result, error)
}

// Execute returns a canned successful result unless Fn is set.
func (m *MockExecutor) Execute(ctx context.Context, req Request) (Result, error) {
	if m.Fn != nil {
		return m.Fn(ctx, req)
	}
	used := req.TokenBudget / 4
	if used == 0 {
		used = 1
	}
	return Result{
		OK:           true,
		Output:       "mock execution of: " + req.Task,
		InputTokens:  used / 2,
		OutputTokens: used - used/2,
		DurationMs:   10,
	}, nil
}
