// Package worker implements the two background workers that drive steady
// state forward: the Agent Execution Worker, which dispatches pending
// agents to the LLM executor, and the Workflow Poller, which reconciles
// terminal agents bound to workflow nodes (spec §4.7, §4.8).
//
// Both follow the teacher's pkg/queue/worker.go shape: a single-threaded
// select loop over a stop channel, jittered sleep on "nothing to do", and a
// context-with-timeout per unit of work.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/agentsmith/fleet/pkg/apperr"
	"github.com/agentsmith/fleet/pkg/budget"
	"github.com/agentsmith/fleet/pkg/executor"
	"github.com/agentsmith/fleet/pkg/lifecycle"
	"github.com/agentsmith/fleet/pkg/store"
	"github.com/uptrace/bun"
)

// ErrNoAgentsAvailable is returned internally by claim when there is
// nothing pending, so the loop can distinguish "idle" from "error".
var ErrNoAgentsAvailable = errors.New("no agents available to claim")

// ExecutionWorkerConfig configures the Agent Execution Worker's loop.
type ExecutionWorkerConfig struct {
	PollInterval       time.Duration
	PollIntervalJitter time.Duration
	BatchSize          int
	ClaimTimeout       time.Duration
}

// DefaultExecutionWorkerConfig mirrors the teacher's DefaultQueueConfig
// defaults in spirit: short poll interval, small jittered batch.
func DefaultExecutionWorkerConfig() ExecutionWorkerConfig {
	return ExecutionWorkerConfig{
		PollInterval:       2 * time.Second,
		PollIntervalJitter: 500 * time.Millisecond,
		BatchSize:          5,
		ClaimTimeout:       5 * time.Minute,
	}
}

// ExecutionWorker claims pending agents, invokes the LLM executor, and
// records the outcome (spec §4.8).
type ExecutionWorker struct {
	id        string
	db        *bun.DB
	lifecycle *lifecycle.Service
	budget    *budget.Service
	exec      executor.LLMExecutor
	workspace executor.WorkspaceIsolator
	cfg       ExecutionWorkerConfig

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu      sync.Mutex
	claimed int
}

// NewExecutionWorker constructs an ExecutionWorker.
func NewExecutionWorker(id string, db *bun.DB, lc *lifecycle.Service, b *budget.Service, exec executor.LLMExecutor, ws executor.WorkspaceIsolator, cfg ExecutionWorkerConfig) *ExecutionWorker {
	return &ExecutionWorker{
		id: id, db: db, lifecycle: lc, budget: b, exec: exec, workspace: ws, cfg: cfg,
		stopCh: make(chan struct{}),
	}
}

// Start runs the poll loop until Stop is called or ctx is cancelled.
func (w *ExecutionWorker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the loop to exit and waits for the in-flight tick to finish.
func (w *ExecutionWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *ExecutionWorker) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
		}

		claimedAny, err := w.tick(ctx)
		if err != nil {
			slog.Error("execution worker tick failed", "worker_id", w.id, "error", err)
		}

		sleep := w.cfg.PollInterval
		if !claimedAny {
			sleep += time.Duration(rand.Int64N(int64(w.cfg.PollIntervalJitter) + 1))
		}
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-time.After(sleep):
		}
	}
}

// tick claims up to BatchSize pending agents and processes each. It returns
// true if at least one agent was claimed.
func (w *ExecutionWorker) tick(ctx context.Context) (bool, error) {
	agents, err := w.claim(ctx)
	if err != nil {
		if errors.Is(err, ErrNoAgentsAvailable) {
			return false, nil
		}
		return false, err
	}

	for _, a := range agents {
		w.mu.Lock()
		w.claimed++
		w.mu.Unlock()
		w.process(ctx, a)
		w.mu.Lock()
		w.claimed--
		w.mu.Unlock()
	}
	return len(agents) > 0, nil
}

// claim flips up to BatchSize pending agents to executing using
// SELECT ... FOR UPDATE SKIP LOCKED, the same pattern the teacher's
// worker.go uses for session claiming (spec §4.8 step 1).
func (w *ExecutionWorker) claim(ctx context.Context) ([]*store.Agent, error) {
	var claimed []*store.Agent
	err := w.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var ids []string
		err := tx.NewRaw(`
			SELECT id FROM agents
			WHERE status = ?
			ORDER BY created_at ASC
			LIMIT ?
			FOR UPDATE SKIP LOCKED
		`, store.AgentStatusPending, w.cfg.BatchSize).Scan(ctx, &ids)
		if err != nil {
			return fmt.Errorf("claiming pending agents: %w", err)
		}
		if len(ids) == 0 {
			return ErrNoAgentsAvailable
		}

		_, err = tx.NewUpdate().
			Model((*store.Agent)(nil)).
			Set("status = ?", store.AgentStatusExecuting).
			Where("id IN (?)", bun.In(ids)).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("marking agents executing: %w", err)
		}

		return tx.NewSelect().Model(&claimed).Where("id IN (?)", bun.In(ids)).Scan(ctx)
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// process invokes the executor for one claimed agent and records the
// outcome, triggering the budget-reclamation and workflow cascades via
// lifecycle.UpdateStatus (spec §4.8 step 3). Token consumption, the
// result/error/duration columns and the status transition are separate
// writes, not one transaction.
func (w *ExecutionWorker) process(ctx context.Context, agent *store.Agent) {
	callCtx, cancel := context.WithTimeout(ctx, w.cfg.ClaimTimeout)
	defer cancel()

	var ws executor.Workspace
	if w.workspace != nil {
		var err error
		ws, err = w.workspace.CreateWorkspace(callCtx, agent.ID)
		if err != nil {
			w.recordFailure(ctx, agent, apperr.ErrWorkspaceUnavailable.Error())
			return
		}
		defer func() {
			if delErr := w.workspace.DeleteWorkspace(context.Background(), agent.ID); delErr != nil {
				slog.Warn("deleting workspace failed", "agent_id", agent.ID, "error", delErr)
			}
		}()
	}

	budgetRow, err := w.budget.Get(ctx, agent.ID)
	if err != nil {
		slog.Error("loading budget for execution", "agent_id", agent.ID, "error", err)
		return
	}

	start := time.Now()
	result, err := w.exec.Execute(callCtx, executor.Request{
		AgentID:       agent.ID,
		Task:          agent.Task,
		WorkspacePath: ws.Path,
		TokenBudget:   budgetRow.Available(),
	})
	duration := time.Since(start)

	if err != nil || callCtx.Err() != nil {
		reason := "executor timed out or was cancelled"
		if err != nil {
			reason = err.Error()
		}
		w.recordFailure(ctx, agent, reason)
		return
	}

	if err := w.budget.Consume(ctx, agent.ID, result.TotalTokens()); err != nil {
		w.recordFailure(ctx, agent, fmt.Sprintf("recording token consumption: %v", err))
		return
	}

	durationMs := int(duration.Milliseconds())
	status := store.AgentStatusCompleted
	if !result.OK {
		status = store.AgentStatusFailed
	}

	if err := w.finalize(ctx, agent.ID, status, result.Output, result.Error, durationMs); err != nil {
		slog.Error("finalizing agent execution", "agent_id", agent.ID, "error", err)
		return
	}

	if err := w.lifecycle.UpdateStatus(ctx, agent.ID, status); err != nil {
		slog.Error("transitioning agent after execution", "agent_id", agent.ID, "status", status, "error", err)
	}
}

func (w *ExecutionWorker) recordFailure(ctx context.Context, agent *store.Agent, reason string) {
	if err := w.finalize(ctx, agent.ID, store.AgentStatusFailed, "", reason, 0); err != nil {
		slog.Error("recording execution failure", "agent_id", agent.ID, "error", err)
		return
	}
	if err := w.lifecycle.UpdateStatus(ctx, agent.ID, store.AgentStatusFailed); err != nil {
		slog.Error("transitioning agent to failed", "agent_id", agent.ID, "error", err)
	}
}

func (w *ExecutionWorker) finalize(ctx context.Context, agentID, status, result, errMsg string, durationMs int) error {
	q := w.db.NewUpdate().Model((*store.Agent)(nil)).Where("id = ?", agentID).
		Set("execution_duration_ms = ?", durationMs)
	if result != "" {
		q = q.Set("result = ?", result)
	}
	if errMsg != "" {
		q = q.Set("error = ?", errMsg)
	}
	_, err := q.Exec(ctx)
	if err != nil {
		return fmt.Errorf("persisting execution outcome for %s: %w", agentID, err)
	}
	return nil
}

// Health reports how many agents this worker currently has in flight. The
// /health endpoint does not call it.
func (w *ExecutionWorker) Health() map[string]any {
	w.mu.Lock()
	defer w.mu.Unlock()
	return map[string]any{"worker_id": w.id, "in_flight": w.claimed}
}
