// Package config provides configuration loading and management for Hivemind.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete Hivemind configuration
type Config struct {
	LLM      LLMConfig      `yaml:"llm"`
	Bus      BusConfig      `yaml:"bus"`
	Board    BoardConfig    `yaml:"board"`
	Security SecurityConfig `yaml:"security"`
	Proposal ProposalConfig `yaml:"proposal"`
	Push     PushConfig     `yaml:"push"`
	Instance InstanceConfig `yaml:"instance"`
}

// LLMConfig configures the LLM provider settings
type LLMConfig struct {
	// DefaultProvider is the primary provider backing every worker's LLM slot
	// (one of: gemini, openai, anthropic, grok).
	DefaultProvider string `yaml:"default_provider"`
	// Endpoint overrides the provider API endpoint (empty = provider default)
	Endpoint string `yaml:"endpoint"`
	// Model is the model identifier to request
	Model string `yaml:"model"`
	// Temperature controls randomness (0.0-1.0)
	Temperature float64 `yaml:"temperature"`
	// Timeout is the maximum time to wait for completions
	Timeout time.Duration `yaml:"timeout"`
	// MaxConcurrent bounds concurrent requests per provider
	MaxConcurrent int `yaml:"max_concurrent"`
}

// BusConfig configures the message bus
type BusConfig struct {
	// Backend selects the bus implementation ("durable" or "memory")
	Backend string `yaml:"backend"`
	// RedisURL is the durable backend address (host:port)
	RedisURL string `yaml:"redis_url"`
	// RedisDB is the logical database number
	RedisDB int `yaml:"redis_db"`
	// HighWaterMark is the per-queue depth above which Send fails
	HighWaterMark int `yaml:"high_water_mark"`
	// HistoryLimit bounds the audit history
	HistoryLimit int `yaml:"history_limit"`
}

// BoardConfig configures the knowledge board
type BoardConfig struct {
	// DefaultTTL applies to posts created without an explicit TTL
	DefaultTTL time.Duration `yaml:"default_ttl"`
	// SweepInterval is the background GC cadence (0 disables the sweeper)
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// SecurityConfig configures the security pipeline thresholds
type SecurityConfig struct {
	// BlockThreshold is the standard-endpoint block score
	BlockThreshold float64 `yaml:"block_threshold"`
	// QuarantineThreshold is the standard-endpoint quarantine score
	QuarantineThreshold float64 `yaml:"quarantine_threshold"`
	// CriticalBlockThreshold applies to critical / code-generating endpoints
	CriticalBlockThreshold float64 `yaml:"critical_block_threshold"`
	// CriticalQuarantineThreshold applies to critical / code-generating endpoints
	CriticalQuarantineThreshold float64 `yaml:"critical_quarantine_threshold"`
	// ImageMaxBytes caps accepted image payloads
	ImageMaxBytes int64 `yaml:"image_max_bytes"`
	// ContextIdleTTL purges idle security contexts
	ContextIdleTTL time.Duration `yaml:"context_idle_ttl"`
	// ShareContexts persists contexts to the bus backend for cross-instance use
	ShareContexts bool `yaml:"share_contexts"`
}

// ProposalConfig configures the proposal engine
type ProposalConfig struct {
	// MaxFixAttempts bounds the auto-fix loop (1-10)
	MaxFixAttempts int `yaml:"max_fix_attempts"`
	// SandboxRoot is the directory holding per-proposal sandboxes
	SandboxRoot string `yaml:"sandbox_root"`
}

// PushConfig configures the push channel
type PushConfig struct {
	// MaxConnectionsPerTopic is the hard connection cap (<= 100)
	MaxConnectionsPerTopic int `yaml:"max_connections_per_topic"`
	// IntervalFloor is the minimum topic polling cadence
	IntervalFloor time.Duration `yaml:"interval_floor"`
	// PingInterval is the heartbeat cadence
	PingInterval time.Duration `yaml:"ping_interval"`
}

// InstanceConfig configures instance lifecycle behaviour
type InstanceConfig struct {
	// RegistrationTTL bounds the instance record in the bus backend
	RegistrationTTL time.Duration `yaml:"registration_ttl"`
	// HeartbeatInterval refreshes the registration TTL
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	// ShutdownTimeout bounds the graceful shutdown sequence
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// SessionTTL applies to sessions persisted during shutdown
	SessionTTL time.Duration `yaml:"session_ttl"`
}

// Known provider and backend names.
const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGrok      = "grok"

	BackendDurable = "durable"
	BackendMemory  = "memory"
)

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			DefaultProvider: ProviderAnthropic,
			Model:           "claude-sonnet-4-5",
			Temperature:     0.2,
			Timeout:         2 * time.Minute,
			MaxConcurrent:   8,
		},
		Bus: BusConfig{
			Backend:       BackendDurable,
			RedisURL:      "localhost:6379",
			HighWaterMark: 1000,
			HistoryLimit:  10000,
		},
		Board: BoardConfig{
			DefaultTTL:    24 * time.Hour,
			SweepInterval: 10 * time.Minute,
		},
		Security: SecurityConfig{
			BlockThreshold:              70,
			QuarantineThreshold:         50,
			CriticalBlockThreshold:      30,
			CriticalQuarantineThreshold: 20,
			ImageMaxBytes:               100 * 1024 * 1024,
			ContextIdleTTL:              24 * time.Hour,
		},
		Proposal: ProposalConfig{
			MaxFixAttempts: 5,
			SandboxRoot:    "sandbox",
		},
		Push: PushConfig{
			MaxConnectionsPerTopic: 100,
			IntervalFloor:          time.Second,
			PingInterval:           30 * time.Second,
		},
		Instance: InstanceConfig{
			RegistrationTTL:   300 * time.Second,
			HeartbeatInterval: 60 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			SessionTTL:        time.Hour,
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	switch c.LLM.DefaultProvider {
	case ProviderGemini, ProviderOpenAI, ProviderAnthropic, ProviderGrok:
	default:
		return fmt.Errorf("llm.default_provider must be one of gemini, openai, anthropic, grok; got %q", c.LLM.DefaultProvider)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 1 {
		return fmt.Errorf("llm.temperature must be between 0 and 1")
	}
	if c.LLM.MaxConcurrent < 1 {
		return fmt.Errorf("llm.max_concurrent must be at least 1")
	}
	switch c.Bus.Backend {
	case BackendDurable, BackendMemory:
	default:
		return fmt.Errorf("bus.backend must be %q or %q; got %q", BackendDurable, BackendMemory, c.Bus.Backend)
	}
	if c.Bus.Backend == BackendDurable && c.Bus.RedisURL == "" {
		return fmt.Errorf("bus.redis_url is required for the durable backend")
	}
	if c.Bus.HighWaterMark < 1 {
		return fmt.Errorf("bus.high_water_mark must be positive")
	}
	if c.Proposal.MaxFixAttempts < 1 || c.Proposal.MaxFixAttempts > 10 {
		return fmt.Errorf("proposal.max_fix_attempts must be between 1 and 10")
	}
	if c.Push.MaxConnectionsPerTopic < 1 || c.Push.MaxConnectionsPerTopic > 100 {
		return fmt.Errorf("push.max_connections_per_topic must be between 1 and 100")
	}
	if c.Push.IntervalFloor < time.Second {
		return fmt.Errorf("push.interval_floor must be at least 1s")
	}
	if c.Security.ImageMaxBytes <= 0 {
		return fmt.Errorf("security.image_max_bytes must be positive")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.LLM.DefaultProvider != "" {
		c.LLM.DefaultProvider = other.LLM.DefaultProvider
	}
	if other.LLM.Endpoint != "" {
		c.LLM.Endpoint = other.LLM.Endpoint
	}
	if other.LLM.Model != "" {
		c.LLM.Model = other.LLM.Model
	}
	if other.LLM.Temperature != 0 {
		c.LLM.Temperature = other.LLM.Temperature
	}
	if other.LLM.Timeout != 0 {
		c.LLM.Timeout = other.LLM.Timeout
	}
	if other.LLM.MaxConcurrent != 0 {
		c.LLM.MaxConcurrent = other.LLM.MaxConcurrent
	}

	if other.Bus.Backend != "" {
		c.Bus.Backend = other.Bus.Backend
	}
	if other.Bus.RedisURL != "" {
		c.Bus.RedisURL = other.Bus.RedisURL
	}
	if other.Bus.RedisDB != 0 {
		c.Bus.RedisDB = other.Bus.RedisDB
	}
	if other.Bus.HighWaterMark != 0 {
		c.Bus.HighWaterMark = other.Bus.HighWaterMark
	}
	if other.Bus.HistoryLimit != 0 {
		c.Bus.HistoryLimit = other.Bus.HistoryLimit
	}

	if other.Board.DefaultTTL != 0 {
		c.Board.DefaultTTL = other.Board.DefaultTTL
	}
	if other.Board.SweepInterval != 0 {
		c.Board.SweepInterval = other.Board.SweepInterval
	}

	if other.Security.BlockThreshold != 0 {
		c.Security.BlockThreshold = other.Security.BlockThreshold
	}
	if other.Security.QuarantineThreshold != 0 {
		c.Security.QuarantineThreshold = other.Security.QuarantineThreshold
	}
	if other.Security.CriticalBlockThreshold != 0 {
		c.Security.CriticalBlockThreshold = other.Security.CriticalBlockThreshold
	}
	if other.Security.CriticalQuarantineThreshold != 0 {
		c.Security.CriticalQuarantineThreshold = other.Security.CriticalQuarantineThreshold
	}
	if other.Security.ImageMaxBytes != 0 {
		c.Security.ImageMaxBytes = other.Security.ImageMaxBytes
	}
	if other.Security.ContextIdleTTL != 0 {
		c.Security.ContextIdleTTL = other.Security.ContextIdleTTL
	}
	if other.Security.ShareContexts {
		c.Security.ShareContexts = true
	}

	if other.Proposal.MaxFixAttempts != 0 {
		c.Proposal.MaxFixAttempts = other.Proposal.MaxFixAttempts
	}
	if other.Proposal.SandboxRoot != "" {
		c.Proposal.SandboxRoot = other.Proposal.SandboxRoot
	}

	if other.Push.MaxConnectionsPerTopic != 0 {
		c.Push.MaxConnectionsPerTopic = other.Push.MaxConnectionsPerTopic
	}
	if other.Push.IntervalFloor != 0 {
		c.Push.IntervalFloor = other.Push.IntervalFloor
	}
	if other.Push.PingInterval != 0 {
		c.Push.PingInterval = other.Push.PingInterval
	}

	if other.Instance.RegistrationTTL != 0 {
		c.Instance.RegistrationTTL = other.Instance.RegistrationTTL
	}
	if other.Instance.HeartbeatInterval != 0 {
		c.Instance.HeartbeatInterval = other.Instance.HeartbeatInterval
	}
	if other.Instance.ShutdownTimeout != 0 {
		c.Instance.ShutdownTimeout = other.Instance.ShutdownTimeout
	}
	if other.Instance.SessionTTL != 0 {
		c.Instance.SessionTTL = other.Instance.SessionTTL
	}
}
