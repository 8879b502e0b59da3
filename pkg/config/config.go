// Package config loads the host's hierarchical configuration: global
// defaults, per-agent overrides, and the env-var > key-value store > file >
// built-in default resolution precedence described by the runtime spec.
package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// ProviderConfig holds credentials and endpoint overrides for one LLM or
// embedding provider.
type ProviderConfig struct {
	APIKey  string `mapstructure:"api_key" env:"API_KEY"`
	APIBase string `mapstructure:"api_base" env:"API_BASE"`
}

// RouterConfig configures the LLM router's fallback chain and cool-down.
type RouterConfig struct {
	// FallbackChain is an ordered list of "provider/model" strings tried in
	// order when the primary is unavailable or cooling down.
	FallbackChain         []string      `mapstructure:"fallback_chain"`
	RateLimitCooldownSecs int           `mapstructure:"rate_limit_cooldown_secs"`
	MaxFallbackAttempts   int           `mapstructure:"max_fallback_attempts"`
	ComplexityRouting     bool          `mapstructure:"complexity_routing"`
	LightModel            string        `mapstructure:"light_model"`
	StandardModel         string        `mapstructure:"standard_model"`
	HeavyModel            string        `mapstructure:"heavy_model"`
}

// AgentDefaults mirrors the teacher's Agents.Defaults block, generalized to
// the process tree (Channel/Branch/Worker/Compactor/Cortex) of this runtime.
type AgentDefaults struct {
	Model                string `mapstructure:"model"`
	MaxTokens            int    `mapstructure:"max_tokens"`
	MaxToolIterations    int    `mapstructure:"max_tool_iterations"` // Channel
	BranchMaxIterations  int    `mapstructure:"branch_max_iterations"`
	WorkerMaxIterations  int    `mapstructure:"worker_max_iterations"`
	MaxConcurrentBranch  int    `mapstructure:"max_concurrent_branches"`
	MaxConcurrentWorkers int    `mapstructure:"max_concurrent_workers"`
	InboundQueueSize     int    `mapstructure:"inbound_queue_size"`
	RestrictToWorkspace  bool   `mapstructure:"restrict_to_workspace"`
}

// MemoryConfig configures hybrid recall and maintenance.
type MemoryConfig struct {
	SemanticSearch   bool    `mapstructure:"semantic_search"`
	KnowledgeExtract bool    `mapstructure:"knowledge_extract"`
	EmbeddingModel   string  `mapstructure:"embedding_model"`
	DecayLambda      float64 `mapstructure:"decay_lambda"`
	DecayFloor       float64 `mapstructure:"decay_floor"`
	PruneThreshold   float64 `mapstructure:"prune_threshold"`
	MergeThreshold   float64 `mapstructure:"merge_threshold"`
}

// CompactionConfig configures the tiered compaction policy (§4.3).
type CompactionConfig struct {
	BackgroundRatio float64 `mapstructure:"background_ratio"`
	UrgentRatio     float64 `mapstructure:"urgent_ratio"`
	EmergencyRatio  float64 `mapstructure:"emergency_ratio"`
	RetentionFloor  int     `mapstructure:"retention_floor"`
}

// CortexConfig configures bulletin and maintenance cadence.
type CortexConfig struct {
	BulletinIntervalMins    int `mapstructure:"bulletin_interval_mins"`
	MaintenanceIntervalMins int `mapstructure:"maintenance_interval_mins"`
}

// AgentConfig is one agent's full configuration: identity, workspace,
// defaults, and bindings that route inbound messages to it.
type AgentConfig struct {
	Name      string        `mapstructure:"name"`
	Workspace string        `mapstructure:"workspace"`
	Defaults  AgentDefaults `mapstructure:"defaults"`
}

// Config is the immutable, process-wide configuration snapshot handed to
// every running process. Hot reload produces a new Config and atomically
// swaps the pointer held by the host; it never mutates a live Config.
type Config struct {
	Agents    []AgentConfig              `mapstructure:"agents"`
	Providers map[string]ProviderConfig  `mapstructure:"providers"`
	Router    RouterConfig               `mapstructure:"router"`
	Memory    MemoryConfig               `mapstructure:"memory"`
	Compaction CompactionConfig          `mapstructure:"compaction"`
	Cortex    CortexConfig               `mapstructure:"cortex"`
	LogLevel  string                     `mapstructure:"log_level" env:"LOG_LEVEL"`
	DataDir   string                     `mapstructure:"data_dir" env:"DATA_DIR"`
}

func defaults() *Config {
	return &Config{
		LogLevel: "info",
		DataDir:  "./data",
		Providers: map[string]ProviderConfig{
			"anthropic": {},
			"openai":    {},
		},
		Router: RouterConfig{
			RateLimitCooldownSecs: 60,
			MaxFallbackAttempts:   3,
			LightModel:            "claude-haiku-3-5-20241022",
			StandardModel:         "claude-sonnet-4-5-20250929",
			HeavyModel:            "claude-opus-4-20250514",
		},
		Memory: MemoryConfig{
			SemanticSearch:   true,
			KnowledgeExtract: true,
			EmbeddingModel:   "text-embedding-3-small",
			DecayLambda:      0.02,
			DecayFloor:       0.05,
			PruneThreshold:   0.1,
			MergeThreshold:   0.92,
		},
		Compaction: CompactionConfig{
			BackgroundRatio: 0.80,
			UrgentRatio:     0.85,
			EmergencyRatio:  0.95,
			RetentionFloor:  20,
		},
		Cortex: CortexConfig{
			BulletinIntervalMins:    60,
			MaintenanceIntervalMins: 180,
		},
	}
}

// Load resolves configuration from (in increasing precedence): built-in
// defaults, an optional file at path, and environment variables prefixed
// COREAGENT_. A key-value runtime-settings override (for secrets/hot
// settings persisted by the host) can be layered in afterward via
// ApplyRuntimeOverrides.
func Load(path string) (*Config, error) {
	cfg := defaults()

	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "reading config file %s", path)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, errors.Wrap(err, "parsing config file")
		}
	}

	v.SetEnvPrefix("COREAGENT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "parsing environment overrides")
	}

	if len(cfg.Agents) == 0 {
		cfg.Agents = []AgentConfig{{
			Name:      "default",
			Workspace: fmt.Sprintf("%s/default", cfg.DataDir),
			Defaults: AgentDefaults{
				Model:                cfg.Router.StandardModel,
				MaxTokens:            180000,
				MaxToolIterations:    5,
				BranchMaxIterations:  10,
				WorkerMaxIterations:  50,
				MaxConcurrentBranch:  3,
				MaxConcurrentWorkers: 5,
				InboundQueueSize:     256,
				RestrictToWorkspace:  true,
			},
		}}
	}

	return cfg, nil
}

// RuntimeOverrides is a key-value map sourced from the agent's persisted
// settings store; its values sit between the file and the built-in default
// in precedence, but below environment variables.
type RuntimeOverrides map[string]string

// ApplyRuntimeOverrides layers key-value overrides onto a loaded Config.
// Only a small set of hot-reloadable knobs are recognized; unknown keys are
// ignored rather than erroring, since the store may carry keys for a newer
// binary version.
func ApplyRuntimeOverrides(cfg *Config, overrides RuntimeOverrides) *Config {
	next := *cfg
	if v, ok := overrides["log_level"]; ok && v != "" {
		next.LogLevel = v
	}
	if v, ok := overrides["router.max_fallback_attempts"]; ok {
		fmt.Sscanf(v, "%d", &next.Router.MaxFallbackAttempts)
	}
	return &next
}

// WorkspacePath returns the filesystem root for agent a's data partition.
func (c *Config) WorkspacePath(agentName string) string {
	for _, a := range c.Agents {
		if a.Name == agentName {
			return a.Workspace
		}
	}
	return fmt.Sprintf("%s/%s", c.DataDir, agentName)
}
