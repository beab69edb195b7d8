// ABOUTME: Configuration loading and parsing for the multi-agent engine
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rcs/ollama-discord/internal/coordination"
)

// Storage backend names accepted in global.storage.backend.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Config is the complete engine configuration: the agent roster plus the
// shared coordination and storage parameters.
type Config struct {
	Agents  []AgentConfig `yaml:"agents"`
	Global  GlobalConfig  `yaml:"global"`
	Logging LoggingConfig `yaml:"logging"`
}

// AgentConfig declares one agent. The persona (system prompt, model,
// endpoint) lives in a separate TOML file so prompts can be edited without
// touching the roster.
type AgentConfig struct {
	Name          string   `yaml:"name"`
	PersonaFile   string   `yaml:"persona_file"`
	Channels      []string `yaml:"channels"`
	Enabled       *bool    `yaml:"enabled"`
	Priority      int      `yaml:"priority"`
	AlwaysRespond bool     `yaml:"always_respond"`

	matcher *coordination.ChannelMatcher
}

// IsEnabled reports whether the agent should be started. Agents are
// enabled unless the config says otherwise.
func (a *AgentConfig) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// Matcher returns the agent's compiled channel matcher. Valid only after
// Load has succeeded.
func (a *AgentConfig) Matcher() *coordination.ChannelMatcher {
	return a.matcher
}

// GlobalConfig holds the parameters shared by every agent.
type GlobalConfig struct {
	MaxConcurrentResponses int           `yaml:"max_concurrent_responses"`
	MaxHistory             int           `yaml:"max_history"`
	ContextDepth           int           `yaml:"context_depth"`
	RateLimitPerMinute     int           `yaml:"rate_limit_per_minute"`
	ResponseDelay          string        `yaml:"response_delay"`
	Storage                StorageConfig `yaml:"storage"`

	CooldownPeriod  time.Duration `yaml:"-"`
	SessionTimeout  time.Duration `yaml:"-"`
	DelayMin        time.Duration `yaml:"-"`
	DelayMax        time.Duration `yaml:"-"`
	Retention       time.Duration `yaml:"-"`
	CleanupInterval time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	CooldownPeriodRaw  string `yaml:"cooldown_period"`
	SessionTimeoutRaw  string `yaml:"session_timeout"`
	RetentionRaw       string `yaml:"retention"`
	CleanupIntervalRaw string `yaml:"cleanup_interval"`
}

// StorageConfig selects and locates the conversation backend.
type StorageConfig struct {
	Backend      string `yaml:"backend"`
	DataDir      string `yaml:"data_dir"`
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values, defaults are
// applied, and validation failures are fatal.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Global.MaxConcurrentResponses == 0 {
		c.Global.MaxConcurrentResponses = 1
	}
	if c.Global.MaxHistory == 0 {
		c.Global.MaxHistory = 50
	}
	if c.Global.ContextDepth == 0 {
		c.Global.ContextDepth = 20
	}
	if c.Global.ResponseDelay == "" {
		c.Global.ResponseDelay = "1-3"
	}
	if c.Global.CooldownPeriodRaw == "" {
		c.Global.CooldownPeriodRaw = "30s"
	}
	if c.Global.SessionTimeoutRaw == "" {
		c.Global.SessionTimeoutRaw = "30m"
	}
	if c.Global.RetentionRaw == "" {
		c.Global.RetentionRaw = "168h"
	}
	if c.Global.CleanupIntervalRaw == "" {
		c.Global.CleanupIntervalRaw = "1h"
	}
	if c.Global.Storage.Backend == "" {
		c.Global.Storage.Backend = BackendFile
	}
	if c.Global.Storage.DataDir == "" {
		c.Global.Storage.DataDir = "data/conversations"
	}
	if c.Global.Storage.DatabasePath == "" {
		c.Global.Storage.DatabasePath = "data/conversations.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables become empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// parseDurations converts the raw duration strings into time.Duration
// values, including the response-delay range.
func parseDurations(cfg *Config) error {
	var err error

	cfg.Global.CooldownPeriod, err = time.ParseDuration(cfg.Global.CooldownPeriodRaw)
	if err != nil {
		return fmt.Errorf("parsing cooldown_period %q: %w", cfg.Global.CooldownPeriodRaw, err)
	}

	cfg.Global.SessionTimeout, err = time.ParseDuration(cfg.Global.SessionTimeoutRaw)
	if err != nil {
		return fmt.Errorf("parsing session_timeout %q: %w", cfg.Global.SessionTimeoutRaw, err)
	}

	cfg.Global.Retention, err = time.ParseDuration(cfg.Global.RetentionRaw)
	if err != nil {
		return fmt.Errorf("parsing retention %q: %w", cfg.Global.RetentionRaw, err)
	}

	cfg.Global.CleanupInterval, err = time.ParseDuration(cfg.Global.CleanupIntervalRaw)
	if err != nil {
		return fmt.Errorf("parsing cleanup_interval %q: %w", cfg.Global.CleanupIntervalRaw, err)
	}

	cfg.Global.DelayMin, cfg.Global.DelayMax, err = parseDelayRange(cfg.Global.ResponseDelay)
	if err != nil {
		return fmt.Errorf("parsing response_delay %q: %w", cfg.Global.ResponseDelay, err)
	}

	return nil
}

// parseDelayRange parses "min-max" in seconds ("1-3", "0.5-2"). A single
// number means a fixed delay.
func parseDelayRange(s string) (time.Duration, time.Duration, error) {
	parts := strings.SplitN(s, "-", 2)

	min, err := parseSeconds(parts[0])
	if err != nil {
		return 0, 0, err
	}
	max := min
	if len(parts) == 2 {
		max, err = parseSeconds(parts[1])
		if err != nil {
			return 0, 0, err
		}
	}

	if min < 0 || max < min {
		return 0, 0, fmt.Errorf("range must satisfy 0 <= min <= max")
	}
	return min, max, nil
}

func parseSeconds(s string) (time.Duration, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	return time.Duration(f * float64(time.Second)), nil
}

// Validate checks that all required configuration fields are present and
// valid, and compiles each agent's channel matcher. Returns an error
// describing the first validation failure encountered.
func (c *Config) Validate() error {
	if len(c.Agents) == 0 {
		return fmt.Errorf("at least one agent is required")
	}

	seen := make(map[string]bool)
	for i := range c.Agents {
		agent := &c.Agents[i]

		if agent.Name == "" {
			return fmt.Errorf("agents[%d]: name is required", i)
		}
		if seen[agent.Name] {
			return fmt.Errorf("duplicate agent name %q", agent.Name)
		}
		seen[agent.Name] = true

		if agent.PersonaFile == "" {
			return fmt.Errorf("agent %q: persona_file is required", agent.Name)
		}
		if len(agent.Channels) == 0 {
			return fmt.Errorf("agent %q: at least one channel pattern is required", agent.Name)
		}

		matcher, err := coordination.NewChannelMatcher(agent.Channels)
		if err != nil {
			return fmt.Errorf("agent %q: %w", agent.Name, err)
		}
		agent.matcher = matcher
	}

	if c.Global.MaxConcurrentResponses < 1 {
		return fmt.Errorf("global.max_concurrent_responses must be >= 1")
	}
	if c.Global.MaxHistory < 1 {
		return fmt.Errorf("global.max_history must be >= 1")
	}
	if c.Global.ContextDepth < 1 {
		return fmt.Errorf("global.context_depth must be >= 1")
	}
	if c.Global.RateLimitPerMinute < 0 {
		return fmt.Errorf("global.rate_limit_per_minute must be >= 0")
	}
	if c.Global.CooldownPeriod < 0 {
		return fmt.Errorf("global.cooldown_period must be >= 0")
	}
	if c.Global.SessionTimeout <= 0 {
		return fmt.Errorf("global.session_timeout must be > 0")
	}
	if c.Global.Retention < 0 {
		return fmt.Errorf("global.retention must be >= 0")
	}
	if c.Global.CleanupInterval <= 0 {
		return fmt.Errorf("global.cleanup_interval must be > 0")
	}

	switch c.Global.Storage.Backend {
	case BackendFile, BackendSQLite:
	default:
		return fmt.Errorf("global.storage.backend must be %q or %q", BackendFile, BackendSQLite)
	}

	return nil
}

// EnabledAgents returns the agents that should be started.
func (c *Config) EnabledAgents() []AgentConfig {
	var out []AgentConfig
	for _, a := range c.Agents {
		if a.IsEnabled() {
			out = append(out, a)
		}
	}
	return out
}

// AgentsForChannel returns the enabled agents whose patterns match the
// channel, highest priority first. Ties keep roster order.
func (c *Config) AgentsForChannel(channel string) []AgentConfig {
	var out []AgentConfig
	for _, a := range c.Agents {
		if a.IsEnabled() && a.matcher.Matches(channel) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out
}
