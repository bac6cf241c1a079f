// Package config loads and validates engine configuration from YAML, with
// defaults applied for every omitted field so a zero-config start always
// works.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// EngineConfig holds scheduler, executor and recovery knobs. The reference
// bounds (3 concurrent steps, 3 recovery attempts, 15 plan steps) are
// workload-dependent, so all of them are configuration, not constants.
type EngineConfig struct {
	MaxConcurrency      int      `yaml:"max_concurrency"`
	GraphTimeout        Duration `yaml:"graph_timeout"`
	StepTimeout         Duration `yaml:"step_timeout"`
	MaxRecoveryAttempts int      `yaml:"max_recovery_attempts"`
	DecomposeMax        int      `yaml:"decompose_max"`
	MaxPlanSteps        int      `yaml:"max_plan_steps"`
	MaxTurns            int      `yaml:"max_turns"`
}

// ModelConfig selects and tunes the language-model provider.
type ModelConfig struct {
	Provider    string  `yaml:"provider"` // "anthropic", "openai", "mock"
	Name        string  `yaml:"name"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	// APIKey overrides the provider's environment variable when set.
	APIKey string `yaml:"api_key"`
}

// LoggingConfig tunes structured log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// AuditConfig selects an audit sink for execution history.
type AuditConfig struct {
	// Backend is "none", "memory" or "sqlite".
	Backend string `yaml:"backend"`
	// Path is the database file for the sqlite backend.
	Path string `yaml:"path"`
}

// Config is the root configuration document.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Model   ModelConfig   `yaml:"model"`
	Logging LoggingConfig `yaml:"logging"`
	Audit   AuditConfig   `yaml:"audit"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Engine: EngineConfig{
			MaxConcurrency:      3,
			GraphTimeout:        Duration(5 * time.Minute),
			StepTimeout:         Duration(60 * time.Second),
			MaxRecoveryAttempts: 3,
			DecomposeMax:        4,
			MaxPlanSteps:        15,
			MaxTurns:            12,
		},
		Model: ModelConfig{
			Provider:    "anthropic",
			Temperature: 0.7,
			MaxTokens:   4096,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Audit:   AuditConfig{Backend: "none"},
	}
}

// Load reads a YAML config file, fills omitted fields from Default and
// validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes into a validated Config.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyDefaults restores defaults for fields an explicit YAML value zeroed
// out or omitted inside a partially specified section.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Engine.MaxConcurrency == 0 {
		c.Engine.MaxConcurrency = def.Engine.MaxConcurrency
	}
	if c.Engine.GraphTimeout == 0 {
		c.Engine.GraphTimeout = def.Engine.GraphTimeout
	}
	if c.Engine.StepTimeout == 0 {
		c.Engine.StepTimeout = def.Engine.StepTimeout
	}
	if c.Engine.MaxRecoveryAttempts == 0 {
		c.Engine.MaxRecoveryAttempts = def.Engine.MaxRecoveryAttempts
	}
	if c.Engine.DecomposeMax == 0 {
		c.Engine.DecomposeMax = def.Engine.DecomposeMax
	}
	if c.Engine.MaxPlanSteps == 0 {
		c.Engine.MaxPlanSteps = def.Engine.MaxPlanSteps
	}
	if c.Engine.MaxTurns == 0 {
		c.Engine.MaxTurns = def.Engine.MaxTurns
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = def.Logging.Format
	}
	if c.Audit.Backend == "" {
		c.Audit.Backend = def.Audit.Backend
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Engine.MaxConcurrency < 1 {
		return fmt.Errorf("config: engine.max_concurrency must be >= 1, got %d", c.Engine.MaxConcurrency)
	}
	if c.Engine.MaxRecoveryAttempts < 0 {
		return fmt.Errorf("config: engine.max_recovery_attempts must be >= 0, got %d", c.Engine.MaxRecoveryAttempts)
	}
	if c.Engine.DecomposeMax < 2 {
		return fmt.Errorf("config: engine.decompose_max must be >= 2, got %d", c.Engine.DecomposeMax)
	}
	if c.Engine.MaxPlanSteps < 1 {
		return fmt.Errorf("config: engine.max_plan_steps must be >= 1, got %d", c.Engine.MaxPlanSteps)
	}
	if c.Engine.MaxTurns < 1 {
		return fmt.Errorf("config: engine.max_turns must be >= 1, got %d", c.Engine.MaxTurns)
	}
	switch c.Model.Provider {
	case "", "anthropic", "openai", "mock":
	default:
		return fmt.Errorf("config: unknown model provider %q", c.Model.Provider)
	}
	switch c.Audit.Backend {
	case "", "none", "memory", "sqlite":
	default:
		return fmt.Errorf("config: unknown audit backend %q", c.Audit.Backend)
	}
	if c.Audit.Backend == "sqlite" && c.Audit.Path == "" {
		return fmt.Errorf("config: audit.path required for sqlite backend")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Logging.Level)
	}
	return nil
}
