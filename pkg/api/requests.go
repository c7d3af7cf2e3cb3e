package api

// spawnAgentRequest is the body of POST /api/v1/agents.
type spawnAgentRequest struct {
	Role     string  `json:"role" binding:"required"`
	Task     string  `json:"task" binding:"required"`
	Budget   int     `json:"budget" binding:"required,min=1"`
	ParentID *string `json:"parent_id"`
}

// updateStatusRequest is the body of POST /api/v1/agents/:id/status.
type updateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// terminateRequest is the body of POST /api/v1/agents/:id/terminate and
// /api/v1/workflow-graphs/:id/terminate.
type terminateRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// sendMessageRequest is the body of POST /api/v1/messages.
type sendMessageRequest struct {
	SenderID    string `json:"sender_id" binding:"required"`
	RecipientID string `json:"recipient_id" binding:"required"`
	Payload     any    `json:"payload" binding:"required"`
	Priority    int    `json:"priority"`
}

// broadcastMessageRequest is the body of POST /api/v1/messages/broadcast.
type broadcastMessageRequest struct {
	SenderID     string   `json:"sender_id" binding:"required"`
	RecipientIDs []string `json:"recipient_ids" binding:"required,min=1"`
	Payload      any      `json:"payload" binding:"required"`
	Priority     int      `json:"priority"`
}

// createTemplateRequest is the body of POST /api/v1/workflow-templates.
type createTemplateRequest struct {
	Name               string                  `json:"name" binding:"required"`
	Category           string                  `json:"category"`
	MinBudgetRequired  int                     `json:"min_budget_required" binding:"required,min=1"`
	Nodes              []templateNodeRequest   `json:"nodes" binding:"required,min=1"`
}

type templateNodeRequest struct {
	LocalID            string   `json:"local_id" binding:"required"`
	Role               string   `json:"role" binding:"required"`
	TaskTemplate        string   `json:"task_template" binding:"required"`
	BudgetPercentage    float64  `json:"budget_percentage" binding:"required"`
	DependsOnLocalIDs  []string `json:"depends_on_local_ids"`
}

// instantiateTemplateRequest is the body of
// POST /api/v1/workflow-templates/:id/instantiate.
type instantiateTemplateRequest struct {
	GraphName string `json:"graph_name" binding:"required"`
	Task      string `json:"task" binding:"required"`
	Budget    int    `json:"budget" binding:"required,min=1"`
}

// executeWorkflowRequest is the body of POST /api/v1/workflow-graphs/:id/execute.
type executeWorkflowRequest struct {
	ParentAgentID string `json:"parent_agent_id" binding:"required"`
}
