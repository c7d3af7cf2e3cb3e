package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/agentsmith/fleet/pkg/store"
	"github.com/agentsmith/fleet/pkg/workflow"
	"github.com/uptrace/bun"
)

// Poller periodically reconciles agents that are terminal but whose bound
// workflow node hasn't advanced yet -- closing the loop for the case where
// the terminal transition happened outside the engine's direct code path
// (crash recovery, external termination) (spec §4.7).
type Poller struct {
	db       *bun.DB
	engine   *workflow.Engine
	interval time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPoller constructs a Poller. A zero interval defaults to 5s, per
// spec §4.7.
func NewPoller(db *bun.DB, engine *workflow.Engine, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{db: db, engine: engine, interval: interval, stopCh: make(chan struct{})}
}

// Start runs the poll loop until Stop is called or ctx is cancelled.
func (p *Poller) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.run(ctx)
}

// Stop signals the loop to exit and waits for the in-flight tick to finish.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.tick(ctx); err != nil {
				slog.Error("workflow poller tick failed", "error", err)
			}
		}
	}
}

// strandedNode is one row of the join between workflow_nodes and agents
// that the poller needs to reconcile: a node still marked executing whose
// bound agent has already reached a terminal status.
type strandedNode struct {
	AgentID string `bun:"agent_id"`
	Status  string `bun:"status"`
	Result  *string `bun:"result"`
	Error   *string `bun:"error"`
}

func (p *Poller) tick(ctx context.Context) error {
	var stranded []strandedNode
	err := p.db.NewSelect().
		TableExpr("workflow_nodes AS wn").
		Column("a.status", "a.result", "a.error").
		ColumnExpr("a.id AS agent_id").
		Join("JOIN agents AS a ON a.id = wn.agent_id").
		Where("wn.execution_status = ?", store.NodeStatusExecuting).
		Where("a.status IN (?)", bun.In([]string{
			store.AgentStatusCompleted, store.AgentStatusFailed, store.AgentStatusTerminated,
		})).
		Scan(ctx, &stranded)
	if err != nil {
		return err
	}

	for _, n := range stranded {
		switch n.Status {
		case store.AgentStatusCompleted:
			if err := p.engine.ProcessCompletedNode(ctx, n.AgentID, n.Result); err != nil {
				slog.Error("poller process_completed_node failed", "agent_id", n.AgentID, "error", err)
			}
		case store.AgentStatusFailed, store.AgentStatusTerminated:
			errMsg := ""
			if n.Error != nil {
				errMsg = *n.Error
			}
			if err := p.engine.ProcessFailedNode(ctx, n.AgentID, errMsg); err != nil {
				slog.Error("poller process_failed_node failed", "agent_id", n.AgentID, "error", err)
			}
		}
	}
	return nil
}
