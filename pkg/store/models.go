// Package store is the authoritative persistence layer for the
// orchestration core. Every type here is a bun model backed by a Postgres
// table created by the embedded migrations in migrate.go; the service
// packages (lifecycle, hierarchy, budget, mqueue, workflow) query through
// the *bun.DB held by this package's DB, opening a *bun.Tx where several
// writes must commit together.
package store

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"
)

// Agent statuses (spec §3).
const (
	AgentStatusPending   = "pending"
	AgentStatusExecuting = "executing"
	AgentStatusCompleted = "completed"
	AgentStatusFailed    = "failed"
	AgentStatusTerminated = "terminated"
)

// Agent control states (spec §3); orthogonal to Status. Forced termination
// sets ControlStateTerminated; no code path sets paused or terminating.
const (
	ControlStateRunning     = "running"
	ControlStatePaused      = "paused"
	ControlStateTerminating = "terminating"
	ControlStateTerminated  = "terminated"
)

// AgentTerminalStatuses are absorbing; once reached no further transition
// is legal (I5).
var AgentTerminalStatuses = map[string]bool{
	AgentStatusCompleted:  true,
	AgentStatusFailed:     true,
	AgentStatusTerminated: true,
}

// Agent is an orchestrator-tracked unit of work with a budget, a status and
// an optional parent (spec §3 "Agent").
type Agent struct {
	bun.BaseModel `bun:"table:agents,alias:a"`

	ID                  string     `bun:"id,pk"`
	Role                string     `bun:"role,notnull"`
	Task                string     `bun:"task,notnull"`
	Status              string     `bun:"status,notnull"`
	ControlState        string     `bun:"control_state,notnull"`
	DepthLevel          int        `bun:"depth_level,notnull"`
	ParentID            *string    `bun:"parent_id"`
	TokensUsed          int        `bun:"tokens_used,notnull"`
	ExecutionDurationMs *int       `bun:"execution_duration_ms"`
	Result              *string    `bun:"result"`
	Error               *string    `bun:"error"`
	CreatedAt           time.Time  `bun:"created_at,notnull"`
	CompletedAt         *time.Time `bun:"completed_at"`
}

// IsTerminal reports whether the agent's status is absorbing.
func (a *Agent) IsTerminal() bool {
	return AgentTerminalStatuses[a.Status]
}

// Budget is the 1:1 per-agent token accounting row (spec §3 "Budget").
type Budget struct {
	bun.BaseModel `bun:"table:budgets,alias:b"`

	AgentID   string `bun:"agent_id,pk"`
	Allocated int    `bun:"allocated,notnull"`
	Used      int    `bun:"used,notnull"`
	Reserved  int    `bun:"reserved,notnull"`
	Reclaimed bool   `bun:"reclaimed,notnull"`
}

// Available returns the tokens the agent may still reserve or consume.
func (b *Budget) Available() int {
	return b.Allocated - b.Used - b.Reserved
}

// HierarchyEdge is a redundant, query-optimized view of Agent.ParentID
// (spec §3 "Hierarchy edge"); the authoritative link remains Agent.ParentID.
type HierarchyEdge struct {
	bun.BaseModel `bun:"table:hierarchy_edges,alias:h"`

	ParentID string `bun:"parent_id,notnull"`
	ChildID  string `bun:"child_id,pk"`
}

// Message queue statuses (spec §4.5).
const (
	MessageStatusPending   = "pending"
	MessageStatusDelivered = "delivered"
	MessageStatusProcessed = "processed"
)

// Message is one entry in the durable agent-to-agent queue (spec §3
// "Message").
type Message struct {
	bun.BaseModel `bun:"table:messages,alias:m"`

	ID          string          `bun:"id,pk"`
	SenderID    string          `bun:"sender_id,notnull"`
	RecipientID string          `bun:"recipient_id,notnull"`
	Payload     json.RawMessage `bun:"payload,type:jsonb,notnull"`
	Priority    int             `bun:"priority,notnull"`
	Status      string          `bun:"status,notnull"`
	CreatedAt   time.Time       `bun:"created_at,notnull"`
	DeliveredAt *time.Time      `bun:"delivered_at"`
	ProcessedAt *time.Time      `bun:"processed_at"`
}

// NodeTemplate is one node blueprint within a WorkflowTemplate (spec §3
// "NodeTemplate").
type NodeTemplate struct {
	NodeID           string   `json:"node_id"`
	Role             string   `json:"role"`
	TaskTemplate     string   `json:"task_template"`
	BudgetPercentage float64  `json:"budget_percentage"`
	Dependencies     []string `json:"dependencies"`
	Position         int      `json:"position"`
}

// EdgePattern is a redundant, visualization-only edge between two local
// node ids (spec §3 "EdgePattern").
type EdgePattern struct {
	SourceNodeID string `json:"source_node_id"`
	TargetNodeID string `json:"target_node_id"`
}

// WorkflowTemplate is a reusable workflow-graph blueprint (spec §3
// "WorkflowTemplate").
type WorkflowTemplate struct {
	bun.BaseModel `bun:"table:workflow_templates,alias:wt"`

	ID                   string     `bun:"id,pk"`
	Name                 string     `bun:"name,notnull,unique"`
	Description          string     `bun:"description"`
	Category             *string    `bun:"category"`
	NodeTemplates         []NodeTemplate `bun:"node_templates,type:jsonb,notnull"`
	EdgePatterns          []EdgePattern  `bun:"edge_patterns,type:jsonb,notnull"`
	TotalEstimatedBudget int        `bun:"total_estimated_budget,notnull"`
	ComplexityRating     float64    `bun:"complexity_rating,notnull"`
	MinBudgetRequired    int        `bun:"min_budget_required,notnull"`
	UsageCount           int        `bun:"usage_count,notnull"`
	SuccessRate          *float64   `bun:"success_rate"`
	Enabled              bool       `bun:"enabled,notnull"`
	CreatedBy            *string    `bun:"created_by"`
	CreatedAt            time.Time  `bun:"created_at,notnull"`
	UpdatedAt            time.Time  `bun:"updated_at,notnull"`
}

// Workflow graph statuses (spec §3 "WorkflowGraph").
const (
	GraphStatusActive    = "active"
	GraphStatusPaused    = "paused"
	GraphStatusCompleted = "completed"
	GraphStatusFailed    = "failed"
)

// Workflow graph validation statuses.
const (
	ValidationStatusPending   = "pending"
	ValidationStatusValidated = "validated"
	ValidationStatusInvalid   = "invalid"
)

// GraphTerminalStatuses are absorbing end states for a workflow graph.
var GraphTerminalStatuses = map[string]bool{
	GraphStatusCompleted: true,
	GraphStatusFailed:    true,
}

// WorkflowGraph is an instantiated, executable DAG (spec §3 "WorkflowGraph").
type WorkflowGraph struct {
	bun.BaseModel `bun:"table:workflow_graphs,alias:wg"`

	ID               string     `bun:"id,pk"`
	Name             string     `bun:"name,notnull"`
	Description      *string    `bun:"description"`
	TemplateID       *string    `bun:"template_id"`
	RootAgentID      *string    `bun:"root_agent_id"`
	Status           string     `bun:"status,notnull"`
	ValidationStatus string     `bun:"validation_status,notnull"`
	ValidationErrors *string    `bun:"validation_errors"`
	TotalNodes       int        `bun:"total_nodes,notnull"`
	TotalEdges       int        `bun:"total_edges,notnull"`
	EstimatedBudget  *int       `bun:"estimated_budget"`
	ComplexityRating *float64   `bun:"complexity_rating"`
	CreatedAt        time.Time  `bun:"created_at,notnull"`
	ValidatedAt      *time.Time `bun:"validated_at"`
	CompletedAt      *time.Time `bun:"completed_at"`
}

// Workflow node execution statuses (spec §3 "WorkflowNode").
const (
	NodeStatusPending   = "pending"
	NodeStatusReady     = "ready"
	NodeStatusSpawning  = "spawning"
	NodeStatusExecuting = "executing"
	NodeStatusCompleted = "completed"
	NodeStatusFailed    = "failed"
	NodeStatusSkipped   = "skipped"
)

// NodeTerminalStatuses are absorbing end states for a workflow node.
var NodeTerminalStatuses = map[string]bool{
	NodeStatusCompleted: true,
	NodeStatusFailed:    true,
	NodeStatusSkipped:   true,
}

// WorkflowNode is one node of an instantiated graph; it becomes an Agent
// when the engine spawns it (spec §3 "WorkflowNode").
type WorkflowNode struct {
	bun.BaseModel `bun:"table:workflow_nodes,alias:wn"`

	ID                  string          `bun:"id,pk"`
	WorkflowGraphID     string          `bun:"workflow_graph_id,notnull"`
	AgentID             *string         `bun:"agent_id"`
	Role                string          `bun:"role,notnull"`
	TaskDescription     string          `bun:"task_description,notnull"`
	BudgetAllocation    int             `bun:"budget_allocation,notnull"`
	Dependencies        []string        `bun:"dependencies,type:jsonb,notnull"`
	ExecutionStatus     string          `bun:"execution_status,notnull"`
	SpawnTimestamp      *time.Time      `bun:"spawn_timestamp"`
	CompletionTimestamp *time.Time      `bun:"completion_timestamp"`
	Result              *string         `bun:"result"`
	ErrorMessage        *string         `bun:"error_message"`
	Position            int             `bun:"position,notnull"`
	Metadata            json.RawMessage `bun:"metadata,type:jsonb"`
}
