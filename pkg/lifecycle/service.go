// Package lifecycle implements the Agent Lifecycle Service: spawn, status
// transitions and subtree termination, plus the cascades each terminal
// transition fires into budget reclamation and workflow re-evaluation
// (spec §4.1).
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentsmith/fleet/pkg/apperr"
	"github.com/agentsmith/fleet/pkg/budget"
	"github.com/agentsmith/fleet/pkg/hierarchy"
	"github.com/agentsmith/fleet/pkg/store"
	"github.com/agentsmith/fleet/pkg/telemetry"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel/trace"
)

// TerminalHook is invoked after an agent's status transition to a terminal
// state has committed. The workflow engine registers one of these to
// re-evaluate any graph the agent is bound to (spec §4.6); the poller
// exists to catch the cases where no hook fires synchronously.
type TerminalHook func(ctx context.Context, agentID string, status string)

// Service implements spawn/update_status/terminate_tree.
type Service struct {
	db        *bun.DB
	hierarchy *hierarchy.Service
	budget    *budget.Service
	maxDepth  int

	terminalHooks []TerminalHook

	metrics *telemetry.Metrics
	tracer  trace.Tracer
}

// New constructs a lifecycle Service. maxDepth bounds spawn (spec §9(c));
// zero means unbounded.
func New(db *bun.DB, h *hierarchy.Service, b *budget.Service, maxDepth int) *Service {
	return &Service{db: db, hierarchy: h, budget: b, maxDepth: maxDepth}
}

// WithTelemetry attaches metrics and a tracer; both are nil-safe
// (SPEC_FULL §5 "Prometheus metrics", "Tracing spans").
func (s *Service) WithTelemetry(m *telemetry.Metrics, tracer trace.Tracer) *Service {
	s.metrics = m
	s.tracer = tracer
	return s
}

// OnTerminal registers a hook fired (outside the committing transaction)
// whenever an agent reaches a terminal status.
func (s *Service) OnTerminal(hook TerminalHook) {
	s.terminalHooks = append(s.terminalHooks, hook)
}

// SpawnRequest describes a request to create a new agent.
type SpawnRequest struct {
	Role     string
	Task     string
	Budget   int
	ParentID *string
}

// Spawn creates a new pending agent with its own budget row, validating
// parent liveness, available parent budget, cycle-freedom and depth before
// committing (spec §4.1).
func (s *Service) Spawn(ctx context.Context, req SpawnRequest) (string, error) {
	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "lifecycle.Spawn")
		defer span.End()
	}
	if req.Role == "" {
		return "", apperr.NewValidationError("role", "is required")
	}
	if req.Task == "" {
		return "", apperr.NewValidationError("task", "is required")
	}
	if req.Budget <= 0 {
		return "", apperr.NewValidationError("budget", "must be positive")
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	depth := 0

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if req.ParentID != nil {
			parent := new(store.Agent)
			if err := tx.NewSelect().Model(parent).Where("id = ?", *req.ParentID).For("UPDATE").Scan(ctx); err != nil {
				return fmt.Errorf("loading parent %s: %w", *req.ParentID, apperr.ErrNotFound)
			}
			if parent.IsTerminal() {
				return fmt.Errorf("parent %s is terminal: %w", *req.ParentID, apperr.ErrInvalidTransition)
			}

			cycle, err := s.hierarchy.WouldCreateCycle(ctx, *req.ParentID, id)
			if err != nil {
				return err
			}
			if cycle {
				return fmt.Errorf("spawning %s under %s would create a cycle: %w", id, *req.ParentID, apperr.ErrCycleDetected)
			}

			depth = parent.DepthLevel + 1
			if s.maxDepth > 0 && depth > s.maxDepth {
				return fmt.Errorf("depth %d exceeds configured maximum %d: %w", depth, s.maxDepth, apperr.ErrInvalidTransition)
			}
		}

		agent := &store.Agent{
			ID:           id,
			Role:         req.Role,
			Task:         req.Task,
			Status:       store.AgentStatusPending,
			ControlState: store.ControlStateRunning,
			DepthLevel:   depth,
			ParentID:     req.ParentID,
			CreatedAt:    now,
		}
		if _, err := tx.NewInsert().Model(agent).Exec(ctx); err != nil {
			return fmt.Errorf("inserting agent %s: %w", id, err)
		}

		txBudget := s.budget.WithTx(tx)
		if err := txBudget.Create(ctx, id, req.Budget); err != nil {
			return err
		}

		if req.ParentID != nil {
			if err := txBudget.ReserveForChild(ctx, *req.ParentID, req.Budget); err != nil {
				return err
			}
			edge := &store.HierarchyEdge{ParentID: *req.ParentID, ChildID: id}
			if _, err := tx.NewInsert().Model(edge).Exec(ctx); err != nil {
				return fmt.Errorf("inserting hierarchy edge for %s: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if req.ParentID != nil {
		s.hierarchy.InvalidateAgent(ctx, *req.ParentID)
	}
	if s.metrics != nil {
		s.metrics.AgentsSpawned.WithLabelValues(req.Role).Inc()
		s.metrics.AgentDepth.Observe(float64(depth))
		s.metrics.BudgetAllocated.WithLabelValues(id).Set(float64(req.Budget))
	}
	slog.Info("agent spawned", "agent_id", id, "role", req.Role, "parent_id", req.ParentID, "budget", req.Budget, "depth", depth)
	return id, nil
}

// legalTransitions encodes which source statuses may move to which target
// statuses. Terminal statuses have no outgoing entries (I5).
var legalTransitions = map[string]map[string]bool{
	store.AgentStatusPending: {
		store.AgentStatusExecuting: true,
		store.AgentStatusFailed:    true,
		store.AgentStatusTerminated: true,
	},
	store.AgentStatusExecuting: {
		store.AgentStatusCompleted:  true,
		store.AgentStatusFailed:     true,
		store.AgentStatusTerminated: true,
	},
}

// UpdateStatus transitions agentID to newStatus, enforcing the transition
// table above, and fires the budget-reclamation and workflow-reevaluation
// cascades when the transition lands on a terminal status (spec §4.1).
func (s *Service) UpdateStatus(ctx context.Context, agentID, newStatus string) error {
	var becameTerminal bool

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		agent := new(store.Agent)
		if err := tx.NewSelect().Model(agent).Where("id = ?", agentID).For("UPDATE").Scan(ctx); err != nil {
			return fmt.Errorf("loading agent %s: %w", agentID, apperr.ErrNotFound)
		}

		if agent.IsTerminal() {
			return fmt.Errorf("agent %s is already terminal: %w", agentID, apperr.ErrInvalidTransition)
		}
		if !legalTransitions[agent.Status][newStatus] {
			return fmt.Errorf("agent %s cannot move from %s to %s: %w", agentID, agent.Status, newStatus, apperr.ErrInvalidTransition)
		}

		update := tx.NewUpdate().Model((*store.Agent)(nil)).Where("id = ? AND status = ?", agentID, agent.Status).Set("status = ?", newStatus)
		if store.AgentTerminalStatuses[newStatus] {
			now := time.Now().UTC()
			update = update.Set("completed_at = ?", now)
			becameTerminal = true
		}
		res, err := update.Exec(ctx)
		if err != nil {
			return fmt.Errorf("updating agent %s status: %w", agentID, err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return fmt.Errorf("agent %s status changed concurrently: %w", agentID, apperr.ErrStoreConflict)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.AgentTransitions.WithLabelValues(newStatus).Inc()
	}
	if becameTerminal {
		s.fireTerminalCascade(ctx, agentID, newStatus)
	}
	return nil
}

func (s *Service) fireTerminalCascade(ctx context.Context, agentID, status string) {
	if err := s.budget.Reclaim(ctx, agentID); err != nil {
		slog.Error("budget reclamation failed", "agent_id", agentID, "error", err)
	}
	s.hierarchy.InvalidateAgent(ctx, agentID)
	for _, hook := range s.terminalHooks {
		hook(ctx, agentID, status)
	}
}

// TerminateTree transitions id and every non-terminal descendant to
// terminated, firing the usual cascades for each (spec §4.1).
func (s *Service) TerminateTree(ctx context.Context, rootID string, reason string) error {
	descendants, err := s.hierarchy.Descendants(ctx, rootID)
	if err != nil {
		return err
	}
	ids := append([]string{rootID}, descendants...)

	var terminated []string
	for _, id := range ids {
		agent := new(store.Agent)
		if err := s.db.NewSelect().Model(agent).Where("id = ?", id).Scan(ctx); err != nil {
			continue
		}
		if agent.IsTerminal() {
			continue
		}
		if err := s.forceTerminate(ctx, id, reason); err != nil {
			slog.Error("force-terminate failed", "agent_id", id, "error", err)
			continue
		}
		terminated = append(terminated, id)
	}

	for _, id := range terminated {
		s.fireTerminalCascade(ctx, id, store.AgentStatusTerminated)
	}
	slog.Info("tree terminated", "root_id", rootID, "count", len(terminated), "reason", reason)
	return nil
}

// forceTerminate moves id straight to terminated regardless of its current
// non-terminal status, used only by TerminateTree since that is the one
// path allowed to terminate an agent mid-execution from the outside
// (spec §5 "Cancellation").
func (s *Service) forceTerminate(ctx context.Context, id, reason string) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		now := time.Now().UTC()
		errMsg := reason
		res, err := tx.NewUpdate().
			Model((*store.Agent)(nil)).
			Where("id = ? AND status NOT IN (?)", id, bun.In([]string{
				store.AgentStatusCompleted, store.AgentStatusFailed, store.AgentStatusTerminated,
			})).
			Set("status = ?", store.AgentStatusTerminated).
			Set("control_state = ?", store.ControlStateTerminated).
			Set("completed_at = ?", now).
			Set("error = ?", errMsg).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("force-terminating %s: %w", id, err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return fmt.Errorf("agent %s already terminal: %w", id, apperr.ErrInvalidTransition)
		}
		return nil
	})
}

// Get returns the current state of an agent.
func (s *Service) Get(ctx context.Context, id string) (*store.Agent, error) {
	agent := new(store.Agent)
	if err := s.db.NewSelect().Model(agent).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, fmt.Errorf("loading agent %s: %w", id, apperr.ErrNotFound)
	}
	return agent, nil
}
