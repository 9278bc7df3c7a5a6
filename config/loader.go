package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	// ProjectConfigFile is the name of the project-level config file
	ProjectConfigFile = "hivemind.yaml"
	// UserConfigDir is the directory for user-level config
	UserConfigDir = ".config/hivemind"
	// UserConfigFile is the name of the user-level config file
	UserConfigFile = "config.yaml"
)

// Loader handles configuration loading with layered precedence
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a new configuration loader
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. User config (~/.config/hivemind/config.yaml)
// 3. Project config (hivemind.yaml in current or parent directories)
// 4. Environment variables
func (l *Loader) Load() (*Config, error) {
	config := DefaultConfig()

	userConfigPath := l.userConfigPath()
	if userConfig, err := LoadFromFile(userConfigPath); err == nil {
		l.logger.Debug("Loaded user config", slog.String("path", userConfigPath))
		config.Merge(userConfig)
	} else if !os.IsNotExist(err) {
		l.logger.Warn("Failed to load user config", slog.String("path", userConfigPath), slog.String("error", err.Error()))
	}

	projectConfigPath := l.findProjectConfig()
	if projectConfigPath != "" {
		if projectConfig, err := LoadFromFile(projectConfigPath); err == nil {
			l.logger.Debug("Loaded project config", slog.String("path", projectConfigPath))
			config.Merge(projectConfig)
		} else {
			l.logger.Warn("Failed to load project config", slog.String("path", projectConfigPath), slog.String("error", err.Error()))
		}
	} else {
		l.logger.Debug("No project config found")
	}

	l.applyEnv(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnv overlays environment variables onto the config.
func (l *Loader) applyEnv(config *Config) {
	if v := os.Getenv("HIVEMIND_LLM_PROVIDER"); v != "" {
		config.LLM.DefaultProvider = v
	}
	if v := os.Getenv("HIVEMIND_LLM_MODEL"); v != "" {
		config.LLM.Model = v
	}
	if v := os.Getenv("HIVEMIND_BUS_BACKEND"); v != "" {
		config.Bus.Backend = v
	}
	if v := os.Getenv("HIVEMIND_REDIS_URL"); v != "" {
		config.Bus.RedisURL = v
	}
	if v := os.Getenv("HIVEMIND_PUSH_INTERVAL_S"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 1 {
			config.Push.IntervalFloor = time.Duration(secs) * time.Second
		} else {
			l.logger.Warn("Ignoring invalid HIVEMIND_PUSH_INTERVAL_S", slog.String("value", v))
		}
	}
	if v := os.Getenv("HIVEMIND_MAX_CONNECTIONS_PER_TOPIC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Push.MaxConnectionsPerTopic = n
		}
	}
	if v := os.Getenv("HIVEMIND_AUTOFIX_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Proposal.MaxFixAttempts = n
		}
	}
	if v := os.Getenv("HIVEMIND_IMAGE_MAX_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.Security.ImageMaxBytes = n
		}
	}
}

// userConfigPath returns the path to the user-level config file
func (l *Loader) userConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}

// findProjectConfig searches for hivemind.yaml in the current directory and parents
func (l *Loader) findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		candidate := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
