package config

import (
	"fmt"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// yamlDocument is the on-disk shape; Config itself carries the resolved
// store.Config, which has its own env-driven loader (store.LoadConfigFromEnv)
// since connection secrets are process bootstrap, not orchestration policy.
type yamlDocument struct {
	Executor  ExecutionWorkerYAML `yaml:"executor"`
	Poller    PollerYAML          `yaml:"poller"`
	Retention RetentionYAML       `yaml:"retention"`
	Hierarchy HierarchyYAML       `yaml:"hierarchy"`
	LLM       ExecutorYAML        `yaml:"llm"`
	HTTP      HTTPYAML            `yaml:"http"`
	Telemetry TelemetryYAML       `yaml:"telemetry"`
	Tracker   TrackerYAML         `yaml:"tracker"`
}

// Load reads configPath, expands ${VAR} references, merges it over the
// built-in defaults, validates the result and loads the database config
// from the environment, mirroring the teacher's Initialize control flow
// (pkg/config/loader.go + config.go).
func Load(configPath string) (*Config, error) {
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return nil, &Error{Stage: "reading config file", Err: err}
	}
	raw = ExpandEnv(raw)

	var doc yamlDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, &Error{Stage: "parsing config yaml", Err: err}
	}

	defaults := Default()
	merged := yamlDocument{
		Executor:  defaults.Executor,
		Poller:    defaults.Poller,
		Retention: defaults.Retention,
		Hierarchy: defaults.Hierarchy,
		LLM:       defaults.LLM,
		HTTP:      defaults.HTTP,
		Telemetry: defaults.Telemetry,
		Tracker:   defaults.Tracker,
	}
	if err := mergo.Merge(&merged, doc, mergo.WithOverride); err != nil {
		return nil, &Error{Stage: "merging config defaults", Err: err}
	}

	cfg := &Config{
		configDir: filepath.Dir(configPath),
		Executor:  merged.Executor,
		Poller:    merged.Poller,
		Retention: merged.Retention,
		Hierarchy: merged.Hierarchy,
		LLM:       merged.LLM,
		HTTP:      merged.HTTP,
		Telemetry: merged.Telemetry,
		Tracker:   merged.Tracker,
	}
	cfg.Database = *loadDatabaseConfigFromEnv()

	if err := (&Validator{cfg: cfg}).ValidateAll(); err != nil {
		return nil, &Error{Stage: "validating config", Err: err}
	}
	return cfg, nil
}

var validate = validator.New()

func validateStruct(name string, v any) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
