// Package workflow implements the Workflow Service (template CRUD,
// instantiation) and the Workflow Engine (DAG validation, event-driven node
// spawning, result propagation, cascade failure) -- spec §4.6.
package workflow

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/agentsmith/fleet/pkg/apperr"
	"github.com/agentsmith/fleet/pkg/store"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// TemplateService implements template CRUD and template->graph
// instantiation (spec §4.6 "Template instantiation").
type TemplateService struct {
	db *bun.DB
}

// NewTemplateService constructs a TemplateService.
func NewTemplateService(db *bun.DB) *TemplateService {
	return &TemplateService{db: db}
}

// CreateTemplateRequest describes a new workflow template.
type CreateTemplateRequest struct {
	Name                 string
	Description          string
	Category             *string
	NodeTemplates        []store.NodeTemplate
	EdgePatterns         []store.EdgePattern
	TotalEstimatedBudget int
	ComplexityRating     float64
	MinBudgetRequired    int
	CreatedBy            *string
}

// Create validates and persists a new workflow template.
func (s *TemplateService) Create(ctx context.Context, req CreateTemplateRequest) (*store.WorkflowTemplate, error) {
	if req.Name == "" {
		return nil, apperr.NewValidationError("name", "is required")
	}
	if req.TotalEstimatedBudget <= 0 {
		return nil, apperr.NewValidationError("total_estimated_budget", "must be positive")
	}
	if req.MinBudgetRequired <= 0 || req.MinBudgetRequired > req.TotalEstimatedBudget {
		return nil, apperr.NewValidationError("min_budget_required", "must be in (0, total_estimated_budget]")
	}
	if len(req.NodeTemplates) == 0 {
		return nil, apperr.NewValidationError("node_templates", "must not be empty")
	}

	now := time.Now().UTC()
	tmpl := &store.WorkflowTemplate{
		ID:                   uuid.NewString(),
		Name:                 req.Name,
		Description:          req.Description,
		Category:             req.Category,
		NodeTemplates:        req.NodeTemplates,
		EdgePatterns:         req.EdgePatterns,
		TotalEstimatedBudget: req.TotalEstimatedBudget,
		ComplexityRating:     req.ComplexityRating,
		MinBudgetRequired:    req.MinBudgetRequired,
		Enabled:              true,
		CreatedBy:            req.CreatedBy,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if _, err := s.db.NewInsert().Model(tmpl).Exec(ctx); err != nil {
		return nil, fmt.Errorf("creating workflow template %s: %w", req.Name, err)
	}
	return tmpl, nil
}

// Get loads a template by id.
func (s *TemplateService) Get(ctx context.Context, id string) (*store.WorkflowTemplate, error) {
	tmpl := new(store.WorkflowTemplate)
	if err := s.db.NewSelect().Model(tmpl).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, fmt.Errorf("loading template %s: %w", id, apperr.ErrNotFound)
	}
	return tmpl, nil
}

// List returns enabled templates, optionally filtered by category.
func (s *TemplateService) List(ctx context.Context, category *string) ([]*store.WorkflowTemplate, error) {
	q := s.db.NewSelect().Model((*store.WorkflowTemplate)(nil)).Where("enabled = true")
	if category != nil {
		q = q.Where("category = ?", *category)
	}
	var templates []*store.WorkflowTemplate
	if err := q.Order("name ASC").Scan(ctx, &templates); err != nil {
		return nil, fmt.Errorf("listing templates: %w", err)
	}
	return templates, nil
}

// InstantiateTemplate materializes a WorkflowGraph and its WorkflowNodes
// from a template, distributing budget by each node's budget_percentage
// and substituting {TASK} in each node's task_template (spec §4.6
// "Template instantiation"). The graph is validated before returning.
func (s *TemplateService) InstantiateTemplate(ctx context.Context, templateID, graphName, task string, budget int) (*store.WorkflowGraph, error) {
	tmpl, err := s.Get(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if budget < tmpl.MinBudgetRequired {
		return nil, fmt.Errorf("budget %d below template minimum %d: %w", budget, tmpl.MinBudgetRequired, apperr.ErrInsufficientBudget)
	}

	now := time.Now().UTC()
	graph := &store.WorkflowGraph{
		ID:               uuid.NewString(),
		Name:             graphName,
		TemplateID:       &tmpl.ID,
		Status:           store.GraphStatusActive,
		ValidationStatus: store.ValidationStatusPending,
		TotalNodes:       len(tmpl.NodeTemplates),
		TotalEdges:       len(tmpl.EdgePatterns),
		EstimatedBudget:  &budget,
		CreatedAt:        now,
	}

	localToPersisted := make(map[string]string, len(tmpl.NodeTemplates))
	for _, nt := range tmpl.NodeTemplates {
		localToPersisted[nt.NodeID] = uuid.NewString()
	}

	nodes := make([]*store.WorkflowNode, 0, len(tmpl.NodeTemplates))
	for _, nt := range tmpl.NodeTemplates {
		deps := make([]string, 0, len(nt.Dependencies))
		for _, d := range nt.Dependencies {
			persisted, ok := localToPersisted[d]
			if !ok {
				return nil, fmt.Errorf("node %s depends on unknown node %s: %w", nt.NodeID, d, apperr.ErrDependencyMissing)
			}
			deps = append(deps, persisted)
		}
		nodeBudget := int(math.Floor(float64(budget) * nt.BudgetPercentage / 100.0))
		if nodeBudget <= 0 {
			nodeBudget = 1
		}
		nodes = append(nodes, &store.WorkflowNode{
			ID:               localToPersisted[nt.NodeID],
			WorkflowGraphID:  graph.ID,
			Role:             nt.Role,
			TaskDescription:  strings.ReplaceAll(nt.TaskTemplate, "{TASK}", task),
			BudgetAllocation: nodeBudget,
			Dependencies:     deps,
			ExecutionStatus:  store.NodeStatusPending,
			Position:         nt.Position,
		})
	}

	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(graph).Exec(ctx); err != nil {
			return fmt.Errorf("inserting workflow graph: %w", err)
		}
		if _, err := tx.NewInsert().Model(&nodes).Exec(ctx); err != nil {
			return fmt.Errorf("inserting workflow nodes: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{db: s.db}
	if err := engine.Validate(ctx, graph.ID); err != nil {
		return nil, err
	}

	if _, err := s.db.NewUpdate().
		Model((*store.WorkflowTemplate)(nil)).
		Set("usage_count = usage_count + 1").
		Where("id = ?", tmpl.ID).
		Exec(ctx); err != nil {
		return nil, fmt.Errorf("incrementing template usage count: %w", err)
	}

	return s.GetGraph(ctx, graph.ID)
}

// GetGraph reloads a graph by id.
func (s *TemplateService) GetGraph(ctx context.Context, graphID string) (*store.WorkflowGraph, error) {
	graph := new(store.WorkflowGraph)
	if err := s.db.NewSelect().Model(graph).Where("id = ?", graphID).Scan(ctx); err != nil {
		return nil, fmt.Errorf("loading graph %s: %w", graphID, apperr.ErrNotFound)
	}
	return graph, nil
}
