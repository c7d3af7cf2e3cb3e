// Package executor defines the external-collaborator contracts spec §6
// assigns to the LLM executor and the workspace isolator, plus concrete
// backend implementations and a circuit breaker wrapper used by the Agent
// Execution Worker.
package executor

import "context"

// Request is the input to one LLM executor invocation (spec §6 "Contract
// with the LLM executor").
type Request struct {
	AgentID      string
	Task         string
	WorkspacePath string
	TokenBudget  int
	ModelHint    string
}

// Result is the output of one LLM executor invocation. Idempotence is not
// assumed by the caller; the Agent Execution Worker invokes Execute exactly
// once per pending-claim.
type Result struct {
	OK            bool
	Output        string
	Error         string
	InputTokens   int
	OutputTokens  int
	DurationMs    int
	CostUSD       *float64
}

// TotalTokens is the sum charged against the agent's budget; the executor
// must not exceed the requested TokenBudget by more than a bounded
// overhead, and any overage is still charged to used (spec §6).
func (r Result) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}

// LLMExecutor is the out-of-scope external collaborator contract: given a
// task description, workspace and token budget, execute the task and
// report tokens consumed plus a result payload.
type LLMExecutor interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// Workspace describes an isolated, mutable filesystem area allocated for
// one agent (spec §6 "Contract with the workspace isolator").
type Workspace struct {
	Path string
	Tag  string
}

// WorkspaceIsolator is the out-of-scope external collaborator contract for
// per-agent workspace lifecycle. The Agent Execution Worker creates the
// workspace when it starts a claimed agent, not at spawn; if creation
// fails, the agent is marked failed.
type WorkspaceIsolator interface {
	CreateWorkspace(ctx context.Context, agentID string) (Workspace, error)
	DeleteWorkspace(ctx context.Context, agentID string) error
}
