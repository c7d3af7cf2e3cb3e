// Package api exposes the control-layer HTTP surface: spawning agents,
// inspecting hierarchy/budget state, sending messages, and driving workflow
// graphs through templates. It deliberately stops at a JSON control plane —
// no dashboard, no CLI, no server-push channel (spec §7 Non-goals).
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentsmith/fleet/pkg/budget"
	"github.com/agentsmith/fleet/pkg/config"
	"github.com/agentsmith/fleet/pkg/hierarchy"
	"github.com/agentsmith/fleet/pkg/lifecycle"
	"github.com/agentsmith/fleet/pkg/mqueue"
	"github.com/agentsmith/fleet/pkg/store"
	"github.com/agentsmith/fleet/pkg/telemetry"
	"github.com/agentsmith/fleet/pkg/tracker"
	"github.com/agentsmith/fleet/pkg/workflow"
)

// Server is the control-layer HTTP server, mirroring the teacher's
// pkg/api.Server role as a single struct wiring every service into routes,
// rebuilt on gin-gonic/gin rather than echo per the module's dependency set.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server

	cfg       *config.Config
	db        *store.DB
	lifecycle *lifecycle.Service
	hierarchy *hierarchy.Service
	budget    *budget.Service
	queue     *mqueue.Service
	templates *workflow.TemplateService
	workflows *workflow.Engine
	metrics   *telemetry.Metrics
	tracker   *tracker.Adaptor
}

// NewServer constructs the server and registers every route. metrics and
// trackerAdaptor may both be nil: /metrics falls back to the process-wide
// default registerer, and the tracker webhook route is omitted entirely
// when no adaptor is configured (spec §6 "work-tracker adaptor" is an
// optional external collaborator).
func NewServer(
	cfg *config.Config,
	db *store.DB,
	lc *lifecycle.Service,
	h *hierarchy.Service,
	b *budget.Service,
	q *mqueue.Service,
	templates *workflow.TemplateService,
	wf *workflow.Engine,
	metrics *telemetry.Metrics,
	trackerAdaptor *tracker.Adaptor,
) *Server {
	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(gin.Recovery(), requestLogger())

	s := &Server{
		engine:    e,
		cfg:       cfg,
		db:        db,
		lifecycle: lc,
		hierarchy: h,
		budget:    b,
		queue:     q,
		templates: templates,
		workflows: wf,
		metrics:   metrics,
		tracker:   trackerAdaptor,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.healthHandler)
	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))
	} else {
		s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	v1 := s.engine.Group("/api/v1")

	v1.POST("/agents", s.spawnAgentHandler)
	v1.GET("/agents/:id", s.getAgentHandler)
	v1.POST("/agents/:id/status", s.updateAgentStatusHandler)
	v1.POST("/agents/:id/terminate", s.terminateTreeHandler)
	v1.GET("/agents/:id/ancestors", s.getAncestorsHandler)
	v1.GET("/agents/:id/descendants", s.getDescendantsHandler)
	v1.GET("/agents/:id/budget", s.getBudgetHandler)

	v1.POST("/messages", s.sendMessageHandler)
	v1.POST("/messages/broadcast", s.broadcastMessageHandler)
	v1.GET("/agents/:id/messages", s.receiveMessagesHandler)
	v1.POST("/messages/:id/processed", s.markProcessedHandler)

	v1.POST("/workflow-templates", s.createTemplateHandler)
	v1.GET("/workflow-templates", s.listTemplatesHandler)
	v1.GET("/workflow-templates/:id", s.getTemplateHandler)
	v1.POST("/workflow-templates/:id/instantiate", s.instantiateTemplateHandler)

	v1.POST("/workflow-graphs/:id/execute", s.executeWorkflowHandler)
	v1.GET("/workflow-graphs/:id", s.getGraphHandler)
	v1.GET("/workflow-graphs/:id/progress", s.progressHandler)
	v1.POST("/workflow-graphs/:id/terminate", s.terminateWorkflowHandler)

	if s.tracker != nil {
		v1.POST("/webhooks/tracker", s.trackerWebhookHandler)
	}
}

// trackerWebhookHandler receives an inbound work-tracker webhook, verifies
// its signature, and translates it into a spawn request per the adaptor's
// configured rule set (spec §6).
func (s *Server) trackerWebhookHandler(c *gin.Context) {
	rawBody, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reading request body"})
		return
	}

	var payload map[string]any
	if len(rawBody) > 0 {
		if err := json.Unmarshal(rawBody, &payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
			return
		}
	}

	headers := make(map[string]string, len(c.Request.Header))
	for k := range c.Request.Header {
		headers[k] = c.Request.Header.Get(k)
	}

	agentID, err := s.tracker.HandleEvent(c.Request.Context(), tracker.Event{Headers: headers, Body: payload}, rawBody)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	if agentID == "" {
		c.JSON(http.StatusOK, gin.H{"matched": false})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"matched": true, "agent_id": agentID})
}

// Start starts the HTTP server (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.engine}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	if err := s.db.Health(ctx); err != nil {
		dbStatus = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": dbStatus,
			"error":    err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": dbStatus,
		"config":   s.cfg.Stats(),
	})
}
