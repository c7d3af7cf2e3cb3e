// Package budget implements transactional allocation, reservation,
// consumption and exactly-once reclamation of per-agent token budgets
// (spec §4.3, §4.4).
package budget

import (
	"context"
	"fmt"

	"github.com/agentsmith/fleet/pkg/apperr"
	"github.com/agentsmith/fleet/pkg/store"
	"github.com/agentsmith/fleet/pkg/telemetry"
	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel/trace"
)

// Service operates on budget rows. Simple mutations take s.db, which may be
// a *bun.Tx obtained via WithTx so they share a caller's larger transaction
// (lifecycle's spawn, for instance). Reclaim always starts its own
// transaction off root, since it is fired as an independent cascade from a
// status transition that has already committed.
type Service struct {
	db   bun.IDB
	root *bun.DB

	metrics *telemetry.Metrics
	tracer  trace.Tracer
}

// New constructs a budget Service bound to db.
func New(db *bun.DB) *Service {
	return &Service{db: db, root: db}
}

// WithTelemetry attaches metrics and a tracer; both are nil-safe, mirroring
// the hierarchy Service's optional Cache (SPEC_FULL §5 "Prometheus
// metrics", "Tracing spans").
func (s *Service) WithTelemetry(m *telemetry.Metrics, tracer trace.Tracer) *Service {
	s.metrics = m
	s.tracer = tracer
	return s
}

// WithTx returns a Service bound to tx instead of the Service's own db,
// letting a caller already holding a transaction reuse the same budget
// logic without nesting transactions. Reclaim still runs against root.
func (s *Service) WithTx(tx bun.IDB) *Service {
	return &Service{db: tx, root: s.root, metrics: s.metrics, tracer: s.tracer}
}

// Create inserts a new budget row for agentID with the given allocation.
// Called once, at spawn, inside the same transaction as the agent insert.
func (s *Service) Create(ctx context.Context, agentID string, allocated int) error {
	b := &store.Budget{AgentID: agentID, Allocated: allocated, Used: 0, Reserved: 0, Reclaimed: false}
	_, err := s.db.NewInsert().Model(b).Exec(ctx)
	if err != nil {
		return fmt.Errorf("creating budget for %s: %w", agentID, err)
	}
	return nil
}

// Get returns the budget row for agentID.
func (s *Service) Get(ctx context.Context, agentID string) (*store.Budget, error) {
	b := new(store.Budget)
	err := s.db.NewSelect().Model(b).Where("agent_id = ?", agentID).Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading budget for %s: %w", agentID, apperr.ErrNotFound)
	}
	return b, nil
}

// ReserveForChild increments parentID's reserved by amount, failing with
// ErrBudgetExhausted if that would violate used+reserved<=allocated. Must
// be called in the same transaction as the child's own budget insert so a
// failure here rolls back the whole spawn (spec §4.3).
func (s *Service) ReserveForChild(ctx context.Context, parentID string, amount int) error {
	res, err := s.db.NewUpdate().
		Model((*store.Budget)(nil)).
		Set("reserved = reserved + ?", amount).
		Where("agent_id = ? AND used + reserved + ? <= allocated", parentID, amount).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("reserving budget for parent %s: %w", parentID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("parent %s has insufficient available budget: %w", parentID, apperr.ErrBudgetExhausted)
	}
	return nil
}

// Consume records tokens spent by agentID, failing with ErrBudgetExhausted
// if used+reserved+tokens would exceed allocated (spec §4.3).
func (s *Service) Consume(ctx context.Context, agentID string, tokens int) error {
	if tokens < 0 {
		tokens = 0
	}
	res, err := s.db.NewUpdate().
		Model((*store.Budget)(nil)).
		Set("used = used + ?", tokens).
		Where("agent_id = ? AND used + reserved + ? <= allocated", agentID, tokens).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("consuming budget for %s: %w", agentID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("agent %s has insufficient budget for %d tokens: %w", agentID, tokens, apperr.ErrBudgetExhausted)
	}
	return nil
}

// Reclaim returns a terminated child's unused tokens to its parent's
// reserved balance, exactly once (spec §4.4). It is safe to call this more
// than once for the same childID — every call after the first is a no-op
// because of the reclaimed guard, and it is safe for it to race with the
// store-side trigger (migrations/0001_init.up.sql) for the same reason.
func (s *Service) Reclaim(ctx context.Context, childID string) error {
	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "budget.Reclaim")
		defer span.End()
	}

	alreadyReclaimed := false
	err := s.root.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		child := new(store.Budget)
		err := tx.NewSelect().Model(child).Where("agent_id = ?", childID).For("UPDATE").Scan(ctx)
		if err != nil {
			return fmt.Errorf("locking budget for %s: %w", childID, err)
		}
		if child.Reclaimed {
			alreadyReclaimed = true
			return nil
		}

		agent := new(store.Agent)
		if err := tx.NewSelect().Model(agent).Where("id = ?", childID).Scan(ctx); err != nil {
			return fmt.Errorf("loading agent %s: %w", childID, err)
		}

		unused := child.Allocated - child.Used

		if agent.ParentID != nil {
			_, err := tx.NewUpdate().
				Model((*store.Budget)(nil)).
				Set("reserved = reserved - ?", unused).
				Where("agent_id = ?", *agent.ParentID).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("decrementing parent reserved for %s: %w", *agent.ParentID, err)
			}
		}

		_, err = tx.NewUpdate().
			Model((*store.Budget)(nil)).
			Set("reclaimed = true").
			Where("agent_id = ?", childID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("marking %s reclaimed: %w", childID, err)
		}
		return nil
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.Reclamations.WithLabelValues("error").Inc()
		}
		return err
	}
	if s.metrics != nil {
		outcome := "reclaimed"
		if alreadyReclaimed {
			outcome = "noop"
		}
		s.metrics.Reclamations.WithLabelValues(outcome).Inc()
	}
	return nil
}
