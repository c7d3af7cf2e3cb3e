// fleet runs the orchestration core: the HTTP control plane plus the
// background workers that advance agents and workflow graphs forward
// (spec §2 "Dependency order, leaves first").
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/agentsmith/fleet/pkg/api"
	"github.com/agentsmith/fleet/pkg/budget"
	"github.com/agentsmith/fleet/pkg/config"
	"github.com/agentsmith/fleet/pkg/executor"
	"github.com/agentsmith/fleet/pkg/hierarchy"
	"github.com/agentsmith/fleet/pkg/lifecycle"
	"github.com/agentsmith/fleet/pkg/mqueue"
	"github.com/agentsmith/fleet/pkg/store"
	"github.com/agentsmith/fleet/pkg/telemetry"
	"github.com/agentsmith/fleet/pkg/tracker"
	"github.com/agentsmith/fleet/pkg/worker"
	"github.com/agentsmith/fleet/pkg/workflow"
)

func main() {
	configPath := flag.String("config", getEnv("FLEET_CONFIG", "./deploy/config/fleet.yaml"), "path to the fleet YAML config")
	debug := flag.Bool("debug", getEnv("FLEET_DEBUG", "") != "", "log every SQL statement executed by the store")
	flag.Parse()

	if err := godotenv.Load(getEnv("FLEET_ENV_FILE", ".env")); err != nil {
		slog.Warn("no .env file loaded, continuing with process environment", "error", err)
	}

	if err := run(*configPath, *debug); err != nil {
		slog.Error("fleet exited with error", "error", err)
		os.Exit(1)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func run(configPath string, debug bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	db, err := store.NewDB(ctx, &cfg.Database, debug)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Error("closing store", "error", err)
		}
	}()

	var cache *hierarchy.Cache
	if cfg.Hierarchy.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Hierarchy.RedisAddr})
		cache = hierarchy.NewCache(rdb, cfg.Hierarchy.CacheTTLDuration())
	}

	var metrics *telemetry.Metrics
	if cfg.Telemetry.MetricsEnabled {
		metrics = telemetry.New()
	}

	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		Enabled:     cfg.Telemetry.TracingEnabled,
		ServiceName: cfg.Telemetry.ServiceName,
		Writer:      os.Stderr,
	})
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			slog.Error("shutting down tracer provider", "error", err)
		}
	}()
	tracer := telemetry.Tracer("github.com/agentsmith/fleet")

	hierarchySvc := hierarchy.New(db.Bun, cache)
	budgetSvc := budget.New(db.Bun).WithTelemetry(metrics, tracer)
	lifecycleSvc := lifecycle.New(db.Bun, hierarchySvc, budgetSvc, cfg.Hierarchy.MaxDepth).WithTelemetry(metrics, tracer)
	queueSvc := mqueue.New(db.Bun).WithTelemetry(metrics)
	templateSvc := workflow.NewTemplateService(db.Bun)
	engine := workflow.NewEngine(db.Bun, lifecycleSvc).WithTelemetry(metrics, tracer)

	var trackerAdaptor *tracker.Adaptor
	var trackerClient *tracker.OutboundClient
	if cfg.Tracker.Enabled {
		trackerAdaptor = tracker.New(lifecycleSvc, cfg.Tracker.WebhookSecret)
		trackerClient = tracker.NewOutboundClient(cfg.Tracker.OutboundBaseURL)
		lifecycleSvc.OnTerminal(func(ctx context.Context, agentID string, status string) {
			agent, err := lifecycleSvc.Get(ctx, agentID)
			if err != nil {
				slog.Error("loading terminal agent for tracker notification", "agent_id", agentID, "error", err)
				return
			}
			if agent.ParentID != nil {
				return // only root agents are reported back to the tracker (spec §6)
			}
			if err := trackerClient.PostRootStatus(ctx, tracker.RootStatusPayload{
				AgentID: agentID,
				Status:  status,
			}); err != nil {
				slog.Error("posting root status to tracker", "agent_id", agentID, "error", err)
			}
		})
	}

	llmExec, err := buildExecutor(cfg.LLM)
	if err != nil {
		return fmt.Errorf("building LLM executor: %w", err)
	}
	workspaceIsolator := executor.NewLocalWorkspaceIsolator(cfg.LLM.WorkspaceBasePath)

	execWorkers := make([]*worker.ExecutionWorker, 0, cfg.Executor.WorkerCount)
	execCfg := worker.ExecutionWorkerConfig{
		PollInterval:       cfg.Executor.PollIntervalDuration(),
		PollIntervalJitter: cfg.Executor.PollIntervalJitterDuration(),
		BatchSize:          cfg.Executor.BatchSize,
		ClaimTimeout:       cfg.Executor.ClaimTimeoutDuration(),
	}
	for i := 0; i < cfg.Executor.WorkerCount; i++ {
		w := worker.NewExecutionWorker(
			fmt.Sprintf("exec-%d", i),
			db.Bun, lifecycleSvc, budgetSvc, llmExec, workspaceIsolator, execCfg,
		)
		w.Start(ctx)
		execWorkers = append(execWorkers, w)
	}

	poller := worker.NewPoller(db.Bun, engine, cfg.Poller.IntervalDuration())
	poller.Start(ctx)

	retention := mqueue.NewRetentionSweeper(queueSvc, cfg.Retention.CronSpec, cfg.Retention.RetentionDuration())
	if err := retention.Start(ctx); err != nil {
		return fmt.Errorf("starting retention sweeper: %w", err)
	}

	srv := api.NewServer(cfg, db, lifecycleSvc, hierarchySvc, budgetSvc, queueSvc, templateSvc, engine, metrics, trackerAdaptor)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	serveErrCh := make(chan error, 1)
	go func() {
		slog.Info("fleet HTTP server listening", "addr", addr)
		if err := srv.Start(addr); err != nil {
			serveErrCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-serveErrCh:
		if err != nil {
			slog.Error("HTTP server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown", "error", err)
	}

	poller.Stop()
	retention.Stop()
	for _, w := range execWorkers {
		w.Stop()
	}
	return nil
}

// buildExecutor selects the configured LLM executor backend and wraps it
// with a circuit breaker, mirroring the teacher's factory-by-config-string
// pattern (pkg/agent/factory.go picks a controller by config the same way).
func buildExecutor(cfg config.ExecutorYAML) (executor.LLMExecutor, error) {
	var inner executor.LLMExecutor
	switch cfg.Backend {
	case "anthropic":
		inner = executor.NewAnthropicExecutor(cfg.APIKey, cfg.Model)
	case "openai":
		inner = executor.NewOpenAIExecutor(cfg.APIKey, cfg.Model)
	case "mock":
		inner = &executor.MockExecutor{}
	default:
		return nil, fmt.Errorf("unknown executor backend %q", cfg.Backend)
	}

	failures := cfg.BreakerFailureCount
	if failures == 0 {
		failures = 5
	}
	return executor.NewBreakerExecutor(cfg.Backend, inner, failures), nil
}
