// Package config loads and validates the orchestration core's process
// configuration: database connection, worker tuning, retention, hierarchy
// depth, and the LLM executor/workspace isolator settings (spec §6
// "Process inputs"). Loading follows the teacher's layering: a yaml.v3
// document, defaults merged in with dario.cat/mergo, ${VAR} expansion, then
// go-playground/validator struct validation.
package config

import "time"

// ExecutionWorkerYAML configures the Agent Execution Worker.
type ExecutionWorkerYAML struct {
	PollIntervalMS       int `yaml:"poll_interval_ms" validate:"required,min=10"`
	PollIntervalJitterMS int `yaml:"poll_interval_jitter_ms"`
	BatchSize            int `yaml:"batch_size" validate:"required,min=1"`
	ClaimTimeoutSeconds  int `yaml:"claim_timeout_seconds" validate:"required,min=1"`
	WorkerCount          int `yaml:"worker_count" validate:"required,min=1"`
}

// PollIntervalDuration converts PollIntervalMS to a time.Duration.
func (e ExecutionWorkerYAML) PollIntervalDuration() time.Duration {
	return time.Duration(e.PollIntervalMS) * time.Millisecond
}

// PollIntervalJitterDuration converts PollIntervalJitterMS to a
// time.Duration.
func (e ExecutionWorkerYAML) PollIntervalJitterDuration() time.Duration {
	return time.Duration(e.PollIntervalJitterMS) * time.Millisecond
}

// ClaimTimeoutDuration converts ClaimTimeoutSeconds to a time.Duration.
func (e ExecutionWorkerYAML) ClaimTimeoutDuration() time.Duration {
	return time.Duration(e.ClaimTimeoutSeconds) * time.Second
}

// PollerYAML configures the Workflow Poller.
type PollerYAML struct {
	IntervalMS int `yaml:"interval_ms" validate:"required,min=100"`
}

// IntervalDuration converts IntervalMS to a time.Duration.
func (p PollerYAML) IntervalDuration() time.Duration {
	return time.Duration(p.IntervalMS) * time.Millisecond
}

// RetentionYAML configures the message-queue retention sweep.
type RetentionYAML struct {
	CronSpec        string `yaml:"cron_spec" validate:"required"`
	RetentionHours int    `yaml:"retention_hours" validate:"required,min=1"`
}

// RetentionDuration converts RetentionHours to a time.Duration.
func (r RetentionYAML) RetentionDuration() time.Duration {
	return time.Duration(r.RetentionHours) * time.Hour
}

// HierarchyYAML configures hierarchy depth enforcement and the optional
// Redis ancestor cache.
type HierarchyYAML struct {
	MaxDepth      int    `yaml:"max_depth" validate:"min=0"`
	RedisAddr     string `yaml:"redis_addr"`
	CacheTTLSeconds int  `yaml:"cache_ttl_seconds"`
}

// CacheTTLDuration converts CacheTTLSeconds to a time.Duration.
func (h HierarchyYAML) CacheTTLDuration() time.Duration {
	return time.Duration(h.CacheTTLSeconds) * time.Second
}

// ExecutorYAML configures the LLM executor backend and the workspace
// isolator's base path.
type ExecutorYAML struct {
	Backend             string `yaml:"backend" validate:"required,oneof=mock anthropic openai"`
	Model               string `yaml:"model"`
	APIKey              string `yaml:"api_key"`
	BreakerFailureCount uint32 `yaml:"breaker_failure_count"`
	WorkspaceBasePath   string `yaml:"workspace_base_path" validate:"required"`
}

// HTTPYAML configures the control-layer HTTP server.
type HTTPYAML struct {
	Port int `yaml:"port" validate:"required,min=1,max=65535"`
}

// TelemetryYAML configures Prometheus metrics and OpenTelemetry tracing
// (SPEC_FULL §5 "Prometheus metrics", "Tracing spans").
type TelemetryYAML struct {
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	TracingEnabled bool   `yaml:"tracing_enabled"`
	ServiceName    string `yaml:"service_name" validate:"required"`
}

// TrackerYAML configures the work-tracker webhook adaptor (spec §6
// "Contract with the work-tracker adaptor").
type TrackerYAML struct {
	Enabled         bool   `yaml:"enabled"`
	WebhookSecret   string `yaml:"webhook_secret"`
	OutboundBaseURL string `yaml:"outbound_base_url"`
}
