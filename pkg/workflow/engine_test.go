package workflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentsmith/fleet/pkg/apperr"
	"github.com/agentsmith/fleet/pkg/budget"
	"github.com/agentsmith/fleet/pkg/hierarchy"
	"github.com/agentsmith/fleet/pkg/lifecycle"
	"github.com/agentsmith/fleet/pkg/store"
	"github.com/agentsmith/fleet/pkg/workflow"
	"github.com/agentsmith/fleet/test/testutil"
	"github.com/google/uuid"
)

func newEngine(t *testing.T) (*store.DB, *lifecycle.Service, *workflow.Engine) {
	t.Helper()
	db := testutil.NewDB(t)
	h := hierarchy.New(db.Bun, nil)
	b := budget.New(db.Bun)
	lc := lifecycle.New(db.Bun, h, b, 0)
	engine := workflow.NewEngine(db.Bun, lc)
	return db, lc, engine
}

type nodeSpec struct {
	id   string
	deps []string
}

// insertGraph persists a WorkflowGraph and its nodes directly, bypassing
// template instantiation so tests can shape arbitrary dependency graphs.
func insertGraph(t *testing.T, db *store.DB, specs []nodeSpec) string {
	t.Helper()
	graphID := uuid.NewString()
	now := time.Now().UTC()
	graph := &store.WorkflowGraph{
		ID: graphID, Name: "test-graph", Status: store.GraphStatusActive,
		ValidationStatus: store.ValidationStatusPending, TotalNodes: len(specs), CreatedAt: now,
	}
	_, err := db.Bun.NewInsert().Model(graph).Exec(t.Context())
	require.NoError(t, err)

	nodes := make([]*store.WorkflowNode, 0, len(specs))
	for i, spec := range specs {
		nodes = append(nodes, &store.WorkflowNode{
			ID: spec.id, WorkflowGraphID: graphID, Role: "worker",
			TaskDescription: "do " + spec.id, BudgetAllocation: 100,
			Dependencies: spec.deps, ExecutionStatus: store.NodeStatusPending, Position: i,
		})
	}
	_, err = db.Bun.NewInsert().Model(&nodes).Exec(t.Context())
	require.NoError(t, err)
	return graphID
}

func nodeStatus(t *testing.T, db *store.DB, nodeID string) string {
	t.Helper()
	node := new(store.WorkflowNode)
	require.NoError(t, db.Bun.NewSelect().Model(node).Where("id = ?", nodeID).Scan(t.Context()))
	return node.ExecutionStatus
}

func TestValidate_DetectsMissingDependency(t *testing.T) {
	db, _, engine := newEngine(t)
	graphID := insertGraph(t, db, []nodeSpec{
		{id: "a"},
		{id: "b", deps: []string{"ghost"}},
	})

	err := engine.Validate(t.Context(), graphID)
	require.ErrorIs(t, err, apperr.ErrGraphInvalid)

	graph := new(store.WorkflowGraph)
	require.NoError(t, db.Bun.NewSelect().Model(graph).Where("id = ?", graphID).Scan(t.Context()))
	assert.Equal(t, store.ValidationStatusInvalid, graph.ValidationStatus)
}

func TestValidate_DetectsCycle(t *testing.T) {
	db, _, engine := newEngine(t)
	graphID := insertGraph(t, db, []nodeSpec{
		{id: "a", deps: []string{"b"}},
		{id: "b", deps: []string{"a"}},
	})

	err := engine.Validate(t.Context(), graphID)
	require.ErrorIs(t, err, apperr.ErrGraphInvalid)
}

func TestValidate_AcceptsDiamond(t *testing.T) {
	db, _, engine := newEngine(t)
	graphID := insertGraph(t, db, []nodeSpec{
		{id: "a"},
		{id: "b", deps: []string{"a"}},
		{id: "c", deps: []string{"a"}},
		{id: "d", deps: []string{"b", "c"}},
	})

	require.NoError(t, engine.Validate(t.Context(), graphID))
}

// TestExecuteWorkflow_SpawnsOnlyInitialFrontier is the spawn-bomb regression
// (spec §8 scenario 5): a graph with one root and three dependents must
// spawn exactly the root node, never the whole graph up front.
func TestExecuteWorkflow_SpawnsOnlyInitialFrontier(t *testing.T) {
	db, lc, engine := newEngine(t)
	ctx := t.Context()

	root, err := lc.Spawn(ctx, lifecycle.SpawnRequest{Role: "root", Task: "t", Budget: 1000})
	require.NoError(t, err)

	graphID := insertGraph(t, db, []nodeSpec{
		{id: "a"},
		{id: "b", deps: []string{"a"}},
		{id: "c", deps: []string{"a"}},
		{id: "d", deps: []string{"b", "c"}},
	})
	require.NoError(t, engine.Validate(ctx, graphID))
	require.NoError(t, engine.ExecuteWorkflow(ctx, graphID, root))

	var nodes []*store.WorkflowNode
	require.NoError(t, db.Bun.NewSelect().Model(&nodes).Where("workflow_graph_id = ?", graphID).Scan(ctx))

	spawned := 0
	for _, n := range nodes {
		if n.ExecutionStatus == store.NodeStatusExecuting {
			spawned++
			assert.Equal(t, "a", n.ID)
		} else {
			assert.Equal(t, store.NodeStatusPending, n.ExecutionStatus)
		}
	}
	assert.Equal(t, 1, spawned, "only the dependency-free frontier node may be spawned")
}

// TestWorkflow_LinearThreeScenario exercises spec §8 scenario 3: completing
// each node in a linear chain advances the frontier one node at a time and
// injects the prior node's result into the next node's task.
func TestWorkflow_LinearThreeScenario(t *testing.T) {
	db, lc, engine := newEngine(t)
	ctx := t.Context()

	root, err := lc.Spawn(ctx, lifecycle.SpawnRequest{Role: "root", Task: "t", Budget: 1000})
	require.NoError(t, err)

	graphID := insertGraph(t, db, []nodeSpec{
		{id: "research"},
		{id: "draft", deps: []string{"research"}},
		{id: "review", deps: []string{"draft"}},
	})
	require.NoError(t, engine.Validate(ctx, graphID))
	require.NoError(t, engine.ExecuteWorkflow(ctx, graphID, root))

	researchNode := new(store.WorkflowNode)
	require.NoError(t, db.Bun.NewSelect().Model(researchNode).Where("id = ?", "research").Scan(ctx))
	require.NotNil(t, researchNode.AgentID)

	researchResult := `"the findings"`
	require.NoError(t, lc.UpdateStatus(ctx, *researchNode.AgentID, store.AgentStatusExecuting))
	require.NoError(t, setAgentResult(t, db, *researchNode.AgentID, researchResult))
	require.NoError(t, lc.UpdateStatus(ctx, *researchNode.AgentID, store.AgentStatusCompleted))

	assert.Equal(t, store.NodeStatusCompleted, nodeStatus(t, db, "research"))

	draftNode := new(store.WorkflowNode)
	require.NoError(t, db.Bun.NewSelect().Model(draftNode).Where("id = ?", "draft").Scan(ctx))
	require.Equal(t, store.NodeStatusExecuting, draftNode.ExecutionStatus)
	require.NotNil(t, draftNode.AgentID)

	draftAgent, err := lc.Get(ctx, *draftNode.AgentID)
	require.NoError(t, err)
	assert.Contains(t, draftAgent.Task, "Dependency outputs")
	assert.Contains(t, draftAgent.Task, researchResult)

	require.NoError(t, lc.UpdateStatus(ctx, *draftNode.AgentID, store.AgentStatusExecuting))
	require.NoError(t, setAgentResult(t, db, *draftNode.AgentID, `"a draft"`))
	require.NoError(t, lc.UpdateStatus(ctx, *draftNode.AgentID, store.AgentStatusCompleted))

	reviewNode := new(store.WorkflowNode)
	require.NoError(t, db.Bun.NewSelect().Model(reviewNode).Where("id = ?", "review").Scan(ctx))
	require.NotNil(t, reviewNode.AgentID)
	require.NoError(t, lc.UpdateStatus(ctx, *reviewNode.AgentID, store.AgentStatusExecuting))
	require.NoError(t, setAgentResult(t, db, *reviewNode.AgentID, `"approved"`))
	require.NoError(t, lc.UpdateStatus(ctx, *reviewNode.AgentID, store.AgentStatusCompleted))

	graph := new(store.WorkflowGraph)
	require.NoError(t, db.Bun.NewSelect().Model(graph).Where("id = ?", graphID).Scan(ctx))
	assert.Equal(t, store.GraphStatusCompleted, graph.Status)
}

// TestWorkflow_DiamondScenario exercises spec §8 scenario 4: a diamond
// only spawns its join node once every branch feeding it has completed.
func TestWorkflow_DiamondScenario(t *testing.T) {
	db, lc, engine := newEngine(t)
	ctx := t.Context()

	root, err := lc.Spawn(ctx, lifecycle.SpawnRequest{Role: "root", Task: "t", Budget: 1000})
	require.NoError(t, err)

	graphID := insertGraph(t, db, []nodeSpec{
		{id: "a"},
		{id: "b", deps: []string{"a"}},
		{id: "c", deps: []string{"a"}},
		{id: "d", deps: []string{"b", "c"}},
	})
	require.NoError(t, engine.Validate(ctx, graphID))
	require.NoError(t, engine.ExecuteWorkflow(ctx, graphID, root))

	completeNode(t, ctx, db, lc, "a")

	bNode := new(store.WorkflowNode)
	require.NoError(t, db.Bun.NewSelect().Model(bNode).Where("id = ?", "b").Scan(ctx))
	cNode := new(store.WorkflowNode)
	require.NoError(t, db.Bun.NewSelect().Model(cNode).Where("id = ?", "c").Scan(ctx))
	require.Equal(t, store.NodeStatusExecuting, bNode.ExecutionStatus)
	require.Equal(t, store.NodeStatusExecuting, cNode.ExecutionStatus)
	assert.Equal(t, store.NodeStatusPending, nodeStatus(t, db, "d"))

	completeNode(t, ctx, db, lc, "b")
	assert.Equal(t, store.NodeStatusPending, nodeStatus(t, db, "d"), "d must wait for both b and c")

	completeNode(t, ctx, db, lc, "c")
	assert.Equal(t, store.NodeStatusExecuting, nodeStatus(t, db, "d"), "d spawns once both branches complete")
}

// TestWorkflow_FailFastCascadesSkip exercises the fail-fast policy (spec
// §9(a)): a failed node skips every downstream dependent and fails the
// graph immediately.
func TestWorkflow_FailFastCascadesSkip(t *testing.T) {
	db, lc, engine := newEngine(t)
	ctx := t.Context()

	root, err := lc.Spawn(ctx, lifecycle.SpawnRequest{Role: "root", Task: "t", Budget: 1000})
	require.NoError(t, err)

	graphID := insertGraph(t, db, []nodeSpec{
		{id: "a"},
		{id: "b", deps: []string{"a"}},
		{id: "c", deps: []string{"b"}},
	})
	require.NoError(t, engine.Validate(ctx, graphID))
	require.NoError(t, engine.ExecuteWorkflow(ctx, graphID, root))

	aNode := new(store.WorkflowNode)
	require.NoError(t, db.Bun.NewSelect().Model(aNode).Where("id = ?", "a").Scan(ctx))
	require.NotNil(t, aNode.AgentID)

	require.NoError(t, lc.UpdateStatus(ctx, *aNode.AgentID, store.AgentStatusExecuting))
	require.NoError(t, lc.UpdateStatus(ctx, *aNode.AgentID, store.AgentStatusFailed))

	assert.Equal(t, store.NodeStatusFailed, nodeStatus(t, db, "a"))
	assert.Equal(t, store.NodeStatusSkipped, nodeStatus(t, db, "b"))
	assert.Equal(t, store.NodeStatusSkipped, nodeStatus(t, db, "c"))

	graph := new(store.WorkflowGraph)
	require.NoError(t, db.Bun.NewSelect().Model(graph).Where("id = ?", graphID).Scan(ctx))
	assert.Equal(t, store.GraphStatusFailed, graph.Status)
}

func TestTerminateWorkflow_TerminatesExecutingNodes(t *testing.T) {
	db, lc, engine := newEngine(t)
	ctx := t.Context()

	root, err := lc.Spawn(ctx, lifecycle.SpawnRequest{Role: "root", Task: "t", Budget: 1000})
	require.NoError(t, err)

	graphID := insertGraph(t, db, []nodeSpec{{id: "a"}})
	require.NoError(t, engine.Validate(ctx, graphID))
	require.NoError(t, engine.ExecuteWorkflow(ctx, graphID, root))

	require.NoError(t, engine.TerminateWorkflow(ctx, graphID, "operator cancel"))

	assert.Equal(t, store.NodeStatusSkipped, nodeStatus(t, db, "a"))

	graph := new(store.WorkflowGraph)
	require.NoError(t, db.Bun.NewSelect().Model(graph).Where("id = ?", graphID).Scan(ctx))
	assert.Equal(t, store.GraphStatusFailed, graph.Status)
}

func completeNode(t *testing.T, ctx context.Context, db *store.DB, lc *lifecycle.Service, nodeID string) {
	t.Helper()
	node := new(store.WorkflowNode)
	require.NoError(t, db.Bun.NewSelect().Model(node).Where("id = ?", nodeID).Scan(ctx))
	require.NotNil(t, node.AgentID)
	require.NoError(t, lc.UpdateStatus(ctx, *node.AgentID, store.AgentStatusExecuting))
	require.NoError(t, setAgentResult(t, db, *node.AgentID, `"done"`))
	require.NoError(t, lc.UpdateStatus(ctx, *node.AgentID, store.AgentStatusCompleted))
}

func setAgentResult(t *testing.T, db *store.DB, agentID, result string) error {
	t.Helper()
	_, err := db.Bun.NewUpdate().Model((*store.Agent)(nil)).Where("id = ?", agentID).Set("result = ?", result).Exec(t.Context())
	return err
}
