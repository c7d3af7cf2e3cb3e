package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentsmith/fleet/pkg/lifecycle"
	"github.com/agentsmith/fleet/pkg/store"
)

func (s *Server) spawnAgentHandler(c *gin.Context) {
	var req spawnAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := s.lifecycle.Spawn(c.Request.Context(), lifecycle.SpawnRequest{
		Role:     req.Role,
		Task:     req.Task,
		Budget:   req.Budget,
		ParentID: req.ParentID,
	})
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (s *Server) getAgentHandler(c *gin.Context) {
	agent, err := s.lifecycle.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

func (s *Server) updateAgentStatusHandler(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.lifecycle.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status); err != nil {
		mapServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) terminateTreeHandler(c *gin.Context) {
	var req terminateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.lifecycle.TerminateTree(c.Request.Context(), c.Param("id"), req.Reason); err != nil {
		mapServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getAncestorsHandler(c *gin.Context) {
	ancestors, err := s.hierarchy.Ancestors(c.Request.Context(), c.Param("id"))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ancestors": ancestors})
}

func (s *Server) getDescendantsHandler(c *gin.Context) {
	descendants, err := s.hierarchy.Descendants(c.Request.Context(), c.Param("id"))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"descendants": descendants})
}

func (s *Server) getBudgetHandler(c *gin.Context) {
	b, err := s.budget.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (s *Server) sendMessageHandler(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := s.queue.Send(c.Request.Context(), req.SenderID, req.RecipientID, req.Payload, req.Priority)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (s *Server) broadcastMessageHandler(c *gin.Context) {
	var req broadcastMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ids, err := s.queue.Broadcast(c.Request.Context(), req.SenderID, req.RecipientIDs, req.Payload, req.Priority)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ids": ids})
}

func (s *Server) receiveMessagesHandler(c *gin.Context) {
	limit := 10
	if v := c.Query("limit"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			limit = n
		}
	}
	messages, err := s.queue.Receive(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (s *Server) markProcessedHandler(c *gin.Context) {
	if err := s.queue.MarkProcessed(c.Request.Context(), c.Param("id")); err != nil {
		mapServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) createTemplateHandler(c *gin.Context) {
	var req createTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	nodeTemplates := make([]store.NodeTemplate, 0, len(req.Nodes))
	for i, n := range req.Nodes {
		nodeTemplates = append(nodeTemplates, store.NodeTemplate{
			NodeID:           n.LocalID,
			Role:             n.Role,
			TaskTemplate:     n.TaskTemplate,
			BudgetPercentage: n.BudgetPercentage,
			Dependencies:     n.DependsOnLocalIDs,
			Position:         i,
		})
	}

	var category *string
	if req.Category != "" {
		category = &req.Category
	}

	total := 0
	for _, n := range req.Nodes {
		total += int(n.BudgetPercentage)
	}

	tmpl, err := s.templates.Create(c.Request.Context(), workflowCreateTemplateRequest(req, nodeTemplates, category, total))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tmpl)
}

func (s *Server) listTemplatesHandler(c *gin.Context) {
	var category *string
	if v := c.Query("category"); v != "" {
		category = &v
	}
	templates, err := s.templates.List(c.Request.Context(), category)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"templates": templates})
}

func (s *Server) getTemplateHandler(c *gin.Context) {
	tmpl, err := s.templates.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, tmpl)
}

func (s *Server) instantiateTemplateHandler(c *gin.Context) {
	var req instantiateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	graph, err := s.templates.InstantiateTemplate(c.Request.Context(), c.Param("id"), req.GraphName, req.Task, req.Budget)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, graph)
}

func (s *Server) executeWorkflowHandler(c *gin.Context) {
	var req executeWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.workflows.ExecuteWorkflow(c.Request.Context(), c.Param("id"), req.ParentAgentID); err != nil {
		mapServiceError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) getGraphHandler(c *gin.Context) {
	graph, err := s.templates.GetGraph(c.Request.Context(), c.Param("id"))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, graph)
}

func (s *Server) progressHandler(c *gin.Context) {
	progress, err := s.workflows.Progress(c.Request.Context(), c.Param("id"))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"progress": progress})
}

func (s *Server) terminateWorkflowHandler(c *gin.Context) {
	var req terminateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.workflows.TerminateWorkflow(c.Request.Context(), c.Param("id"), req.Reason); err != nil {
		mapServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
