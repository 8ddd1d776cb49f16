package store

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type TierConfig struct {
	RPM    int      `yaml:"rpm"`
	RPD    int      `yaml:"rpd"`
	TPM    int      `yaml:"tpm"`
	Models []string `yaml:"models"`
}

type Config struct {
	Mode           string   `yaml:"mode"`
	PollSeconds    int      `yaml:"poll_seconds"`
	UniverseStatic []string `yaml:"universe_static"`
	LLM            struct {
		Provider        string  `yaml:"provider"`
		Model           string  `yaml:"model"` // optional explicit model, pins its tier
		CredentialsEnv  string  `yaml:"credentials_env"`
		HealthThreshold float64 `yaml:"health_threshold"`
		MaxCycles       int     `yaml:"max_cycles"`
		PoolWaitSeconds int     `yaml:"pool_wait_seconds"`
		CycleWaitSeconds int    `yaml:"cycle_wait_seconds"`
		WorkflowCalls   int     `yaml:"workflow_calls"` // estimated LLM calls per workflow unit
		MaxTokens       int     `yaml:"max_tokens"`
		Temperature     float32 `yaml:"temperature"`
		System          string  `yaml:"system"`
		Discovery       struct {
			Enabled        bool `yaml:"enabled"`
			RefreshMinutes int  `yaml:"refresh_minutes"`
		} `yaml:"discovery"`
	} `yaml:"llm"`
	Tiers struct {
		Flash TierConfig `yaml:"flash"`
		Pro   TierConfig `yaml:"pro"`
	} `yaml:"tiers"`
	Admission struct {
		HeadroomPct     float64 `yaml:"headroom_pct"`
		LLMRPMBudget    int     `yaml:"llm_rpm_budget"`
		BrokerRPMBudget int     `yaml:"broker_rpm_budget"`
		LLMUnitCalls    int     `yaml:"llm_unit_calls"`
		BrokerUnitCalls int     `yaml:"broker_unit_calls"`
	} `yaml:"admission"`
}

func (c *Config) Validate() error {
	if c.Mode != "DRY_RUN" && c.Mode != "LIVE" {
		return fmt.Errorf("invalid mode '%s': must be 'DRY_RUN' or 'LIVE'", c.Mode)
	}
	if c.LLM.Provider != "GEMINI" && c.LLM.Provider != "NOOP" {
		return fmt.Errorf("invalid llm.provider '%s': must be 'GEMINI' or 'NOOP'", c.LLM.Provider)
	}
	if len(c.UniverseStatic) == 0 {
		return errors.New("universe_static cannot be empty")
	}
	if c.LLM.HealthThreshold < 0 || c.LLM.HealthThreshold > 1 {
		return fmt.Errorf("llm.health_threshold must be between 0-1, got %.2f", c.LLM.HealthThreshold)
	}
	if c.LLM.MaxCycles < 1 {
		return fmt.Errorf("llm.max_cycles must be >= 1, got %d", c.LLM.MaxCycles)
	}
	if c.Admission.HeadroomPct <= 0 || c.Admission.HeadroomPct > 1 {
		return fmt.Errorf("admission.headroom_pct must be in (0,1], got %.2f", c.Admission.HeadroomPct)
	}
	for name, t := range map[string]TierConfig{"flash": c.Tiers.Flash, "pro": c.Tiers.Pro} {
		if t.RPM <= 0 || t.RPD <= 0 {
			return fmt.Errorf("tiers.%s: rpm and rpd must be positive", name)
		}
	}
	return nil
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	applyDefaults(&c)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &c, nil
}

func applyDefaults(c *Config) {
	if c.PollSeconds == 0 {
		c.PollSeconds = 15
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "NOOP"
	}
	if c.LLM.CredentialsEnv == "" {
		c.LLM.CredentialsEnv = "GEMINI_API_KEYS"
	}
	if c.LLM.HealthThreshold == 0 {
		c.LLM.HealthThreshold = 0.3
	}
	if c.LLM.MaxCycles == 0 {
		c.LLM.MaxCycles = 3
	}
	if c.LLM.PoolWaitSeconds == 0 {
		c.LLM.PoolWaitSeconds = 10
	}
	if c.LLM.CycleWaitSeconds == 0 {
		c.LLM.CycleWaitSeconds = 60
	}
	if c.LLM.WorkflowCalls == 0 {
		c.LLM.WorkflowCalls = 8
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 512
	}
	if c.LLM.Discovery.RefreshMinutes == 0 {
		c.LLM.Discovery.RefreshMinutes = 60
	}

	// Gemini free-tier published limits.
	if c.Tiers.Flash.RPM == 0 {
		c.Tiers.Flash = TierConfig{RPM: 10, RPD: 250, TPM: 250000}
	}
	if c.Tiers.Pro.RPM == 0 {
		c.Tiers.Pro = TierConfig{RPM: 5, RPD: 100, TPM: 250000}
	}

	if c.Admission.HeadroomPct == 0 {
		c.Admission.HeadroomPct = 0.8
	}
	// LLMRPMBudget stays 0 (untracked) unless set: the sensible budget is
	// pool-wide (per-tier RPM times credential count), which config alone
	// cannot know.
	if c.Admission.BrokerRPMBudget == 0 {
		c.Admission.BrokerRPMBudget = 180 // Zerodha documented throttle: 3 req/sec
	}
	if c.Admission.LLMUnitCalls == 0 {
		c.Admission.LLMUnitCalls = c.LLM.WorkflowCalls
	}
	if c.Admission.BrokerUnitCalls == 0 {
		c.Admission.BrokerUnitCalls = 3
	}
}

// LoadCredentials reads the comma-separated credential list from the
// environment variable named by the config. Order is preserved; it is the
// deterministic tie-break order for equally healthy credentials.
func (c *Config) LoadCredentials() ([]string, error) {
	raw := os.Getenv(c.LLM.CredentialsEnv)
	if raw == "" {
		return nil, fmt.Errorf("%s is empty: expected comma-separated API keys", c.LLM.CredentialsEnv)
	}
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%s contains no usable keys", c.LLM.CredentialsEnv)
	}
	return keys, nil
}
