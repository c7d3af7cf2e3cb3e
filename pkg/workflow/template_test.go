package workflow_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentsmith/fleet/pkg/apperr"
	"github.com/agentsmith/fleet/pkg/store"
	"github.com/agentsmith/fleet/pkg/workflow"
	"github.com/agentsmith/fleet/test/testutil"
)

func linearTemplateRequest() workflow.CreateTemplateRequest {
	return workflow.CreateTemplateRequest{
		Name:                 "linear-three",
		Description:          "research -> draft -> review",
		TotalEstimatedBudget: 3000,
		ComplexityRating:     2,
		MinBudgetRequired:    900,
		NodeTemplates: []store.NodeTemplate{
			{NodeID: "research", Role: "researcher", TaskTemplate: "research {TASK}", BudgetPercentage: 40, Position: 0},
			{NodeID: "draft", Role: "writer", TaskTemplate: "draft {TASK}", BudgetPercentage: 30, Dependencies: []string{"research"}, Position: 1},
			{NodeID: "review", Role: "reviewer", TaskTemplate: "review {TASK}", BudgetPercentage: 30, Dependencies: []string{"draft"}, Position: 2},
		},
		EdgePatterns: []store.EdgePattern{
			{SourceNodeID: "research", TargetNodeID: "draft"},
			{SourceNodeID: "draft", TargetNodeID: "review"},
		},
	}
}

func TestTemplateService_Create_RejectsEmptyNodeTemplates(t *testing.T) {
	db := testutil.NewDB(t)
	svc := workflow.NewTemplateService(db.Bun)

	req := linearTemplateRequest()
	req.NodeTemplates = nil
	_, err := svc.Create(t.Context(), req)
	require.Error(t, err)
}

func TestTemplateService_InstantiateTemplate_BuildsValidatedGraph(t *testing.T) {
	db := testutil.NewDB(t)
	svc := workflow.NewTemplateService(db.Bun)
	ctx := t.Context()

	tmpl, err := svc.Create(ctx, linearTemplateRequest())
	require.NoError(t, err)

	graph, err := svc.InstantiateTemplate(ctx, tmpl.ID, "run-1", "the quarterly report", 3000)
	require.NoError(t, err)
	assert.Equal(t, store.ValidationStatusValidated, graph.ValidationStatus)
	assert.Equal(t, 3, graph.TotalNodes)

	var nodes []*store.WorkflowNode
	require.NoError(t, db.Bun.NewSelect().Model(&nodes).Where("workflow_graph_id = ?", graph.ID).Scan(ctx))
	require.Len(t, nodes, 3)

	budgetByRole := map[string]int{}
	for _, n := range nodes {
		budgetByRole[n.Role] = n.BudgetAllocation
		assert.Contains(t, n.TaskDescription, "the quarterly report")
	}
	assert.Equal(t, 1200, budgetByRole["researcher"])
	assert.Equal(t, 900, budgetByRole["writer"])
	assert.Equal(t, 900, budgetByRole["reviewer"])
}

func TestTemplateService_InstantiateTemplate_RejectsInsufficientBudget(t *testing.T) {
	db := testutil.NewDB(t)
	svc := workflow.NewTemplateService(db.Bun)
	ctx := t.Context()

	tmpl, err := svc.Create(ctx, linearTemplateRequest())
	require.NoError(t, err)

	_, err = svc.InstantiateTemplate(ctx, tmpl.ID, "run-2", "x", 100)
	require.ErrorIs(t, err, apperr.ErrInsufficientBudget)
}

func TestTemplateService_InstantiateTemplate_RejectsUnknownDependency(t *testing.T) {
	db := testutil.NewDB(t)
	svc := workflow.NewTemplateService(db.Bun)
	ctx := t.Context()

	req := linearTemplateRequest()
	req.NodeTemplates[1].Dependencies = []string{"nonexistent"}
	tmpl, err := svc.Create(ctx, req)
	require.NoError(t, err)

	_, err = svc.InstantiateTemplate(ctx, tmpl.ID, "run-3", "x", 3000)
	require.ErrorIs(t, err, apperr.ErrDependencyMissing)
}
