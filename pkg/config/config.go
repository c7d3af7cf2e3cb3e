package config

import (
	"fmt"

	"github.com/agentsmith/fleet/pkg/store"
)

// Config is the umbrella process configuration, mirroring the teacher's
// pkg/config.Config's role as a single struct exposing every loaded
// sub-config (pkg/config/config.go in the teacher holds AgentRegistry,
// ChainRegistry, etc; this one holds the orchestration core's equivalents).
type Config struct {
	configDir string

	Database  store.Config
	Executor  ExecutionWorkerYAML
	Poller    PollerYAML
	Retention RetentionYAML
	Hierarchy HierarchyYAML
	LLM       ExecutorYAML
	HTTP      HTTPYAML
	Telemetry TelemetryYAML
	Tracker   TrackerYAML
}

// ConfigDir returns the directory the configuration was loaded from.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Stats returns a short human-readable summary, mirroring the teacher's
// Config.Stats() used in startup logging.
func (c *Config) Stats() string {
	return fmt.Sprintf(
		"workers=%d batch_size=%d poller_interval_ms=%d max_depth=%d llm_backend=%s",
		c.Executor.WorkerCount, c.Executor.BatchSize, c.Poller.IntervalMS, c.Hierarchy.MaxDepth, c.LLM.Backend,
	)
}
