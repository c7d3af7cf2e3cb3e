package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentsmith/fleet/pkg/apperr"
	"github.com/agentsmith/fleet/pkg/lifecycle"
	"github.com/agentsmith/fleet/pkg/store"
	"github.com/agentsmith/fleet/pkg/telemetry"
	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel/trace"
)

// Engine implements DAG validation and event-driven execution of workflow
// graphs (spec §4.6). It spawns nodes through the lifecycle Service so
// every spawned node is a first-class Agent subject to the same budget and
// hierarchy invariants as any other.
type Engine struct {
	db        *bun.DB
	lifecycle *lifecycle.Service

	metrics *telemetry.Metrics
	tracer  trace.Tracer
}

// WithTelemetry attaches metrics and a tracer; both are nil-safe
// (SPEC_FULL §5 "Prometheus metrics", "Tracing spans").
func (e *Engine) WithTelemetry(m *telemetry.Metrics, tracer trace.Tracer) *Engine {
	e.metrics = m
	e.tracer = tracer
	return e
}

// NewEngine constructs a workflow Engine and registers it as a terminal
// hook on the lifecycle service, so every agent terminal transition that
// is bound to a workflow node drives the engine forward without waiting
// for the poller (spec §4.7 "closes the loop when the executor isn't the
// one transitioning the agent" -- the poller is the fallback, this is the
// fast path).
func NewEngine(db *bun.DB, lc *lifecycle.Service) *Engine {
	e := &Engine{db: db, lifecycle: lc}
	lc.OnTerminal(func(ctx context.Context, agentID, status string) {
		e.onAgentTerminal(ctx, agentID, status)
	})
	return e
}

func (e *Engine) onAgentTerminal(ctx context.Context, agentID, status string) {
	node := new(store.WorkflowNode)
	err := e.db.NewSelect().Model(node).Where("agent_id = ?", agentID).Scan(ctx)
	if err != nil {
		return // agent is not bound to a workflow node
	}
	if store.NodeTerminalStatuses[node.ExecutionStatus] {
		return // already reconciled, e.g. by the poller
	}

	switch status {
	case store.AgentStatusCompleted:
		agent, err := e.lifecycle.Get(ctx, agentID)
		if err != nil {
			slog.Error("loading terminal agent for workflow reconciliation", "agent_id", agentID, "error", err)
			return
		}
		if err := e.ProcessCompletedNode(ctx, agentID, agent.Result); err != nil {
			slog.Error("process_completed_node failed", "agent_id", agentID, "error", err)
		}
	case store.AgentStatusFailed, store.AgentStatusTerminated:
		agent, err := e.lifecycle.Get(ctx, agentID)
		errMsg := ""
		if err == nil && agent.Error != nil {
			errMsg = *agent.Error
		}
		if err := e.ProcessFailedNode(ctx, agentID, errMsg); err != nil {
			slog.Error("process_failed_node failed", "agent_id", agentID, "error", err)
		}
	}
}

// Validate runs Kahn's algorithm over the graph's nodes, checking
// dependency integrity and acyclicity, and persists the outcome
// (spec §4.6 "Validation").
func (e *Engine) Validate(ctx context.Context, graphID string) error {
	var nodes []*store.WorkflowNode
	if err := e.db.NewSelect().Model(&nodes).Where("workflow_graph_id = ?", graphID).Scan(ctx); err != nil {
		return fmt.Errorf("loading nodes for graph %s: %w", graphID, err)
	}

	byID := make(map[string]*store.WorkflowNode, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	var validationErr string
	for _, n := range nodes {
		for _, dep := range n.Dependencies {
			if _, ok := byID[dep]; !ok {
				validationErr = fmt.Sprintf("node %s depends on unknown node %s", n.ID, dep)
				break
			}
		}
		if validationErr != "" {
			break
		}
	}

	if validationErr == "" {
		if cyc := findCycle(nodes); cyc != "" {
			validationErr = cyc
		}
	}

	now := time.Now().UTC()
	update := e.db.NewUpdate().Model((*store.WorkflowGraph)(nil)).Where("id = ?", graphID)
	if validationErr != "" {
		update = update.Set("validation_status = ?", store.ValidationStatusInvalid).Set("validation_errors = ?", validationErr)
	} else {
		update = update.Set("validation_status = ?", store.ValidationStatusValidated).Set("validated_at = ?", now)
	}
	if _, err := update.Exec(ctx); err != nil {
		return fmt.Errorf("persisting validation result for graph %s: %w", graphID, err)
	}

	if validationErr != "" {
		return fmt.Errorf("%s: %w", validationErr, apperr.ErrGraphInvalid)
	}
	return nil
}

// findCycle runs Kahn's algorithm: repeatedly remove zero-in-degree nodes;
// if any remain once no more can be removed, they form a cycle. Grounded
// on the pack's DAG scheduler (other_examples' ai-agents-orchestrator
// dag_scheduler.go), adapted from a runtime ready-queue into a pure
// validation pass.
func findCycle(nodes []*store.WorkflowNode) string {
	inDegree := make(map[string]int, len(nodes))
	dependents := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		if _, ok := inDegree[n.ID]; !ok {
			inDegree[n.ID] = 0
		}
		for _, dep := range n.Dependencies {
			inDegree[n.ID]++
			dependents[dep] = append(dependents[dep], n.ID)
		}
	}

	queue := make([]string, 0)
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, dep := range dependents[id] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if visited != len(nodes) {
		return "circular dependency detected among workflow nodes"
	}
	return ""
}

// ExecuteWorkflow spawns the initial frontier -- nodes with no
// dependencies -- under parentAgentID. It deliberately spawns only that
// frontier and nothing else: pre-spawning the whole graph ("spawn bomb")
// is explicitly forbidden (spec §4.6).
func (e *Engine) ExecuteWorkflow(ctx context.Context, graphID, parentAgentID string) error {
	graph := new(store.WorkflowGraph)
	if err := e.db.NewSelect().Model(graph).Where("id = ?", graphID).Scan(ctx); err != nil {
		return fmt.Errorf("loading graph %s: %w", graphID, apperr.ErrNotFound)
	}
	if graph.ValidationStatus != store.ValidationStatusValidated {
		return fmt.Errorf("graph %s is not validated: %w", graphID, apperr.ErrGraphInvalid)
	}

	if _, err := e.db.NewUpdate().
		Model((*store.WorkflowGraph)(nil)).
		Where("id = ?", graphID).
		Set("root_agent_id = ?", parentAgentID).
		Exec(ctx); err != nil {
		return fmt.Errorf("binding graph %s to root agent %s: %w", graphID, parentAgentID, err)
	}

	var frontier []*store.WorkflowNode
	err := e.db.NewSelect().Model(&frontier).
		Where("workflow_graph_id = ? AND execution_status = ?", graphID, store.NodeStatusPending).
		Where("dependencies = '[]'::jsonb").
		Scan(ctx)
	if err != nil {
		return fmt.Errorf("loading initial frontier for graph %s: %w", graphID, err)
	}

	for _, node := range frontier {
		if err := e.spawnNode(ctx, node, parentAgentID, ""); err != nil {
			return err
		}
	}
	return nil
}

// spawnNode spawns node as an agent and binds node.agent_id, transitioning
// it to executing. enhancedTask, if non-empty, replaces node.TaskDescription
// in the spawned agent's task (used to inject dependency outputs).
func (e *Engine) spawnNode(ctx context.Context, node *store.WorkflowNode, parentAgentID, enhancedTask string) error {
	task := node.TaskDescription
	if enhancedTask != "" {
		task = enhancedTask
	}

	agentID, err := e.lifecycle.Spawn(ctx, lifecycle.SpawnRequest{
		Role:     node.Role,
		Task:     task,
		Budget:   node.BudgetAllocation,
		ParentID: &parentAgentID,
	})
	if err != nil {
		return fmt.Errorf("spawning node %s: %w", node.ID, err)
	}

	now := time.Now().UTC()
	_, err = e.db.NewUpdate().
		Model((*store.WorkflowNode)(nil)).
		Where("id = ?", node.ID).
		Set("agent_id = ?", agentID).
		Set("execution_status = ?", store.NodeStatusExecuting).
		Set("spawn_timestamp = ?", now).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("binding node %s to agent %s: %w", node.ID, agentID, err)
	}
	return nil
}

// ProcessCompletedNode marks the node bound to agentID as completed,
// computes the newly-ready frontier, spawns it with dependency results
// injected, and closes out the graph if every node has reached a terminal
// execution status (spec §4.6 "Node completion").
func (e *Engine) ProcessCompletedNode(ctx context.Context, agentID string, result *string) error {
	if e.tracer != nil {
		var span trace.Span
		ctx, span = e.tracer.Start(ctx, "workflow.ProcessCompletedNode")
		defer span.End()
	}
	var node store.WorkflowNode
	res, err := e.db.NewUpdate().
		Model(&node).
		Where("agent_id = ? AND execution_status = ?", agentID, store.NodeStatusExecuting).
		Set("execution_status = ?", store.NodeStatusCompleted).
		Set("completion_timestamp = ?", time.Now().UTC()).
		Set("result = ?", result).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("marking node for agent %s completed: %w", agentID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil // already reconciled -- process_completed_node is idempotent
	}

	return e.advanceFrontierAndMaybeFinish(ctx, node.WorkflowGraphID)
}

// ProcessFailedNode marks the node bound to agentID as failed, cascades
// skip to every downstream-only dependent, and fails the graph immediately
// (fail-fast; spec §9(a) confirms no partial-tolerance policy exists).
func (e *Engine) ProcessFailedNode(ctx context.Context, agentID, errMsg string) error {
	var node store.WorkflowNode
	res, err := e.db.NewUpdate().
		Model(&node).
		Where("agent_id = ? AND execution_status = ?", agentID, store.NodeStatusExecuting).
		Set("execution_status = ?", store.NodeStatusFailed).
		Set("completion_timestamp = ?", time.Now().UTC()).
		Set("error_message = ?", errMsg).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("marking node for agent %s failed: %w", agentID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}

	if err := e.cascadeSkip(ctx, node.WorkflowGraphID, node.ID); err != nil {
		return err
	}

	_, err = e.db.NewUpdate().
		Model((*store.WorkflowGraph)(nil)).
		Where("id = ? AND status = ?", node.WorkflowGraphID, store.GraphStatusActive).
		Set("status = ?", store.GraphStatusFailed).
		Set("completed_at = ?", time.Now().UTC()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failing graph %s: %w", node.WorkflowGraphID, err)
	}
	return nil
}

// cascadeSkip marks every node transitively downstream of failedNodeID as
// skipped (BFS over the dependency edges), grounded on the pack's
// DAG-scheduler cascadeSkip (other_examples dag_scheduler.go).
func (e *Engine) cascadeSkip(ctx context.Context, graphID, failedNodeID string) error {
	var nodes []*store.WorkflowNode
	if err := e.db.NewSelect().Model(&nodes).Where("workflow_graph_id = ?", graphID).Scan(ctx); err != nil {
		return fmt.Errorf("loading nodes for cascade skip on graph %s: %w", graphID, err)
	}

	dependents := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		for _, dep := range n.Dependencies {
			dependents[dep] = append(dependents[dep], n.ID)
		}
	}

	toSkip := make(map[string]bool)
	queue := []string{failedNodeID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, dep := range dependents[id] {
			if toSkip[dep] {
				continue
			}
			toSkip[dep] = true
			queue = append(queue, dep)
		}
	}

	if len(toSkip) == 0 {
		return nil
	}
	ids := make([]string, 0, len(toSkip))
	for id := range toSkip {
		ids = append(ids, id)
	}

	_, err := e.db.NewUpdate().
		Model((*store.WorkflowNode)(nil)).
		Where("id IN (?) AND execution_status = ?", bun.In(ids), store.NodeStatusPending).
		Set("execution_status = ?", store.NodeStatusSkipped).
		Set("error_message = ?", fmt.Sprintf("upstream node %s failed", failedNodeID)).
		Set("completion_timestamp = ?", time.Now().UTC()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("cascading skip from node %s: %w", failedNodeID, err)
	}
	return nil
}

// advanceFrontierAndMaybeFinish computes nodes whose dependencies are all
// completed, spawns them with dependency outputs injected, and finalizes
// the graph if every node is now terminal.
func (e *Engine) advanceFrontierAndMaybeFinish(ctx context.Context, graphID string) error {
	graph := new(store.WorkflowGraph)
	if err := e.db.NewSelect().Model(graph).Where("id = ?", graphID).Scan(ctx); err != nil {
		return fmt.Errorf("loading graph %s: %w", graphID, err)
	}
	if graph.Status != store.GraphStatusActive {
		return nil
	}

	var nodes []*store.WorkflowNode
	if err := e.db.NewSelect().Model(&nodes).Where("workflow_graph_id = ?", graphID).Scan(ctx); err != nil {
		return fmt.Errorf("loading nodes for graph %s: %w", graphID, err)
	}

	byID := make(map[string]*store.WorkflowNode, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	allTerminal := true
	anyFailed := false
	for _, n := range nodes {
		if !store.NodeTerminalStatuses[n.ExecutionStatus] {
			allTerminal = false
		}
		if n.ExecutionStatus == store.NodeStatusFailed {
			anyFailed = true
		}
	}

	for _, n := range nodes {
		if n.ExecutionStatus != store.NodeStatusPending {
			continue
		}
		ready := true
		for _, dep := range n.Dependencies {
			depNode, ok := byID[dep]
			if !ok || depNode.ExecutionStatus != store.NodeStatusCompleted {
				ready = false
				break
			}
		}
		if !ready {
			continue
		}
		if graph.RootAgentID == nil {
			return fmt.Errorf("graph %s has no bound root agent: %w", graphID, apperr.ErrGraphInvalid)
		}
		enhanced := buildEnhancedTask(n, byID)
		if err := e.spawnNode(ctx, n, *graph.RootAgentID, enhanced); err != nil {
			return err
		}
	}

	if e.metrics != nil {
		counts := make(map[string]int)
		for _, n := range nodes {
			counts[n.ExecutionStatus]++
		}
		for status, c := range counts {
			e.metrics.WorkflowNodeStates.WithLabelValues(graphID, status).Set(float64(c))
		}
	}

	if allTerminal {
		status := store.GraphStatusCompleted
		if anyFailed {
			status = store.GraphStatusFailed
		}
		_, err := e.db.NewUpdate().
			Model((*store.WorkflowGraph)(nil)).
			Where("id = ? AND status = ?", graphID, store.GraphStatusActive).
			Set("status = ?", status).
			Set("completed_at = ?", time.Now().UTC()).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("finalizing graph %s: %w", graphID, err)
		}
		if e.metrics != nil {
			e.metrics.WorkflowOutcomes.WithLabelValues(status).Inc()
		}
	}
	return nil
}

// TerminateWorkflow marks the graph failed and every still-executing node
// skipped, terminating each node's bound agent (spec §4.6 "Termination").
func (e *Engine) TerminateWorkflow(ctx context.Context, graphID, reason string) error {
	var nodes []*store.WorkflowNode
	if err := e.db.NewSelect().Model(&nodes).
		Where("workflow_graph_id = ? AND execution_status = ?", graphID, store.NodeStatusExecuting).
		Scan(ctx); err != nil {
		return fmt.Errorf("loading executing nodes for graph %s: %w", graphID, err)
	}

	for _, n := range nodes {
		if n.AgentID != nil {
			if err := e.lifecycle.TerminateTree(ctx, *n.AgentID, reason); err != nil {
				slog.Error("terminating node's agent", "node_id", n.ID, "agent_id", *n.AgentID, "error", err)
			}
		}
		_, err := e.db.NewUpdate().
			Model((*store.WorkflowNode)(nil)).
			Where("id = ?", n.ID).
			Set("execution_status = ?", store.NodeStatusSkipped).
			Set("error_message = ?", reason).
			Set("completion_timestamp = ?", time.Now().UTC()).
			Exec(ctx)
		if err != nil {
			slog.Error("marking node skipped during termination", "node_id", n.ID, "error", err)
		}
	}

	_, err := e.db.NewUpdate().
		Model((*store.WorkflowGraph)(nil)).
		Where("id = ?", graphID).
		Set("status = ?", store.GraphStatusFailed).
		Set("completed_at = ?", time.Now().UTC()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failing terminated graph %s: %w", graphID, err)
	}
	return nil
}

// Progress returns node counts by execution status (spec §4.6 "Progress").
func (e *Engine) Progress(ctx context.Context, graphID string) (map[string]int, error) {
	var rows []struct {
		ExecutionStatus string `bun:"execution_status"`
		Count           int    `bun:"count"`
	}
	err := e.db.NewSelect().
		Model((*store.WorkflowNode)(nil)).
		Column("execution_status").
		ColumnExpr("count(*) AS count").
		Where("workflow_graph_id = ?", graphID).
		Group("execution_status").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("computing progress for graph %s: %w", graphID, err)
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.ExecutionStatus] = r.Count
	}
	return out, nil
}
