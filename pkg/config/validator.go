package config

import (
	"fmt"

	"github.com/agentsmith/fleet/pkg/store"
)

// loadDatabaseConfigFromEnv loads the database connection config from the
// environment. Connection secrets are process bootstrap, not orchestration
// policy, so unlike the rest of Config they never come from the YAML file.
func loadDatabaseConfigFromEnv() *store.Config {
	return store.LoadConfigFromEnv()
}

// Validator runs the configuration's validation steps in a fixed order,
// mirroring the teacher's pkg/config/validator.go idiom of validating each
// sub-config independently and reporting which stage failed.
type Validator struct {
	cfg *Config
}

// ValidateAll runs struct-tag validation over every sub-config, then the
// database config's own semantic Validate, stopping at the first failure.
func (v *Validator) ValidateAll() error {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"executor", func() error { return validateStruct("executor", v.cfg.Executor) }},
		{"poller", func() error { return validateStruct("poller", v.cfg.Poller) }},
		{"retention", func() error { return validateStruct("retention", v.cfg.Retention) }},
		{"hierarchy", func() error { return validateStruct("hierarchy", v.cfg.Hierarchy) }},
		{"llm", func() error { return validateStruct("llm", v.cfg.LLM) }},
		{"http", func() error { return validateStruct("http", v.cfg.HTTP) }},
		{"telemetry", func() error { return validateStruct("telemetry", v.cfg.Telemetry) }},
		{"tracker", func() error { return validateStruct("tracker", v.cfg.Tracker) }},
		{"database", func() error { return v.cfg.Database.Validate() }},
	}

	for _, step := range steps {
		if err := step.fn(); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}

	if v.cfg.LLM.Backend != "mock" && v.cfg.LLM.APIKey == "" {
		return fmt.Errorf("llm: api_key is required for backend %q", v.cfg.LLM.Backend)
	}
	return nil
}
