// Package config loads proofforge settings from a YAML file with
// environment-variable overrides. A missing file is not an error: the
// defaults describe a working setup for everything except credentials.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full application configuration.
type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Search    SearchConfig    `yaml:"search"`
	Compiler  CompilerConfig  `yaml:"compiler"`
	Synthesis SynthesisConfig `yaml:"synthesis"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Output    OutputConfig    `yaml:"output"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LLMConfig configures the two chat clients. The strict client handles
// judgment calls (grounding, consistency, repair); the creative client
// handles first-attempt synthesis.
type LLMConfig struct {
	BaseURL             string  `yaml:"base_url"`
	APIKeyEnv           string  `yaml:"api_key_env"`
	Model               string  `yaml:"model"`
	StrictTemperature   float64 `yaml:"strict_temperature"`
	CreativeTemperature float64 `yaml:"creative_temperature"`
	TimeoutSeconds      int     `yaml:"timeout_seconds"`
}

// SearchConfig configures the reference-library search client.
type SearchConfig struct {
	BaseURL           string `yaml:"base_url"`
	NumResults        int    `yaml:"num_results"`
	TimeoutSeconds    int    `yaml:"timeout_seconds"`
	MaxRetries        int    `yaml:"max_retries"`
	RetryDelaySeconds int    `yaml:"retry_delay_seconds"`
}

// CompilerConfig configures the Lean sandbox.
type CompilerConfig struct {
	ProjectDir     string `yaml:"project_dir"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// SynthesisConfig configures the per-node worker race.
type SynthesisConfig struct {
	Workers     int      `yaml:"workers"`
	Attempts    int      `yaml:"attempts"`
	BaseImports []string `yaml:"base_imports"`
}

// KnowledgeConfig configures the persistent cache.
type KnowledgeConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

// OutputConfig configures where run artifacts land.
type OutputConfig struct {
	Dir string `yaml:"dir"`
}

// LoggingConfig configures categorized file logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the standard configuration.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			BaseURL:             "https://api.openai.com/v1",
			APIKeyEnv:           "PROOFFORGE_API_KEY",
			Model:               "gpt-4o",
			StrictTemperature:   0.1,
			CreativeTemperature: 0.6,
			TimeoutSeconds:      300,
		},
		Search: SearchConfig{
			BaseURL:           "https://leansearch.net/search",
			NumResults:        8,
			TimeoutSeconds:    30,
			MaxRetries:        3,
			RetryDelaySeconds: 2,
		},
		Compiler: CompilerConfig{
			ProjectDir:     "lean_sandbox",
			TimeoutSeconds: 120,
		},
		Synthesis: SynthesisConfig{
			Workers:  3,
			Attempts: 3,
			BaseImports: []string{
				"import Mathlib.Tactic",
				"import Mathlib.Analysis.Calculus.Deriv.Basic",
				"import Mathlib.Analysis.SpecialFunctions.Trigonometric.Basic",
				"import Mathlib.Analysis.SpecialFunctions.Log.Basic",
				"import Mathlib.Analysis.SpecialFunctions.Exp",
				"import PhysLean",
			},
		},
		Knowledge: KnowledgeConfig{
			Enabled: true,
			DBPath:  "data/knowledge.db",
		},
		Output: OutputConfig{
			Dir: "results",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from path, merging it over the defaults. A
// missing file returns the defaults unchanged. Environment overrides are
// applied last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides lets the environment win over the file for the knobs
// that vary per deployment.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PROOFFORGE_LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("PROOFFORGE_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("PROOFFORGE_SEARCH_URL"); v != "" {
		c.Search.BaseURL = v
	}
	if v := os.Getenv("PROOFFORGE_SANDBOX_DIR"); v != "" {
		c.Compiler.ProjectDir = v
	}
	if v := os.Getenv("PROOFFORGE_KNOWLEDGE_DB"); v != "" {
		c.Knowledge.DBPath = v
	}
	if v := os.Getenv("PROOFFORGE_OUTPUT_DIR"); v != "" {
		c.Output.Dir = v
	}
	if v := os.Getenv("PROOFFORGE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("PROOFFORGE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Synthesis.Workers = n
		}
	}
}

// APIKey resolves the LLM credential from the configured environment
// variable.
func (c *Config) APIKey() string {
	return os.Getenv(c.LLM.APIKeyEnv)
}

// LLMTimeout returns the chat request timeout as a duration.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

// SearchTimeout returns the search request timeout as a duration.
func (c *Config) SearchTimeout() time.Duration {
	return time.Duration(c.Search.TimeoutSeconds) * time.Second
}

// SearchRetryDelay returns the pause between search retries.
func (c *Config) SearchRetryDelay() time.Duration {
	return time.Duration(c.Search.RetryDelaySeconds) * time.Second
}

// CompileTimeout returns the per-check compile limit as a duration.
func (c *Config) CompileTimeout() time.Duration {
	return time.Duration(c.Compiler.TimeoutSeconds) * time.Second
}
