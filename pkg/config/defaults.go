package config

// Default returns the baked-in configuration merged beneath whatever a
// user-supplied YAML document overrides, mirroring the teacher's
// DefaultQueueConfig (pkg/config/queue.go).
func Default() Config {
	return Config{
		Executor: ExecutionWorkerYAML{
			PollIntervalMS:       2000,
			PollIntervalJitterMS: 500,
			BatchSize:            5,
			ClaimTimeoutSeconds:  300,
			WorkerCount:          2,
		},
		Poller: PollerYAML{
			IntervalMS: 5000,
		},
		Retention: RetentionYAML{
			CronSpec:       "0 * * * *",
			RetentionHours: 72,
		},
		Hierarchy: HierarchyYAML{
			MaxDepth:        10,
			CacheTTLSeconds: 60,
		},
		LLM: ExecutorYAML{
			Backend:           "mock",
			WorkspaceBasePath: "/tmp/fleet-workspaces",
		},
		HTTP: HTTPYAML{
			Port: 8080,
		},
		Telemetry: TelemetryYAML{
			MetricsEnabled: true,
			TracingEnabled: false,
			ServiceName:    "fleet",
		},
		Tracker: TrackerYAML{
			Enabled: false,
		},
	}
}
