// Package config handles configuration loading for conclave.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/ShayCichocki/conclave/pkg/models"
)

// Config holds all configuration for conclave.
type Config struct {
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Document     DocumentConfig     `mapstructure:"document"`
	Budgets      BudgetsConfig      `mapstructure:"budgets"`
	Runtime      RuntimeConfig      `mapstructure:"runtime"`
	State        StateConfig        `mapstructure:"state"`
}

// OrchestratorConfig holds control-loop settings.
type OrchestratorConfig struct {
	// MaxConcurrent caps the number of workers running at once.
	MaxConcurrent int `mapstructure:"max_concurrent"`
	// PollInterval is how often the control loop re-reads the document.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// SpawnAttempts is how many times a worker spawn is retried before
	// the task is marked failed.
	SpawnAttempts int `mapstructure:"spawn_attempts"`
	// SpawnBackoff is the initial backoff between spawn attempts.
	SpawnBackoff time.Duration `mapstructure:"spawn_backoff"`
	// TaskRetries is how many automatic retries a failed task gets.
	TaskRetries int `mapstructure:"task_retries"`
}

// DocumentConfig holds shared-document settings.
type DocumentConfig struct {
	// Dir is where job documents are created.
	Dir string `mapstructure:"dir"`
	// LockAttempts is how many times lock acquisition is retried.
	LockAttempts int `mapstructure:"lock_attempts"`
	// LockBackoff is the initial backoff between lock attempts.
	LockBackoff time.Duration `mapstructure:"lock_backoff"`
	// MaxBytes caps the encoded document size.
	MaxBytes int `mapstructure:"max_bytes"`
}

// BudgetsConfig holds per-priority wall-clock budgets for tasks.
type BudgetsConfig struct {
	Critical time.Duration `mapstructure:"critical"`
	High     time.Duration `mapstructure:"high"`
	Medium   time.Duration `mapstructure:"medium"`
	Low      time.Duration `mapstructure:"low"`
}

// For returns the wall-clock budget for the given priority.
func (b BudgetsConfig) For(p models.Priority) time.Duration {
	switch p {
	case models.PriorityCritical:
		return b.Critical
	case models.PriorityHigh:
		return b.High
	case models.PriorityLow:
		return b.Low
	default:
		return b.Medium
	}
}

// RuntimeConfig holds worker runtime settings.
type RuntimeConfig struct {
	// Kind selects the runtime adapter: "docker" or "process".
	Kind string `mapstructure:"kind"`
	// Image is the container image workers run in (docker runtime).
	Image string `mapstructure:"image"`
	// Command is the worker entrypoint (process runtime).
	Command string `mapstructure:"command"`
	// MemoryLimitMB caps worker memory (docker runtime, 0 for no cap).
	MemoryLimitMB int64 `mapstructure:"memory_limit_mb"`
	// CPULimit caps worker CPUs (docker runtime, 0 for no cap).
	CPULimit float64 `mapstructure:"cpu_limit"`
}

// StateConfig holds worker-record store settings.
type StateConfig struct {
	// DBPath is the sqlite database path ("" disables the store).
	DBPath string `mapstructure:"db_path"`
	// RetentionDays is how long terminal worker records are kept.
	RetentionDays int `mapstructure:"retention_days"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (CONCLAVE_*)
// 2. Project config (.conclave.yaml in current directory or parent)
// 3. User config (~/.config/conclave/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			// Merge project config (takes precedence)
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	bindEnv(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Document.Dir = os.ExpandEnv(cfg.Document.Dir)
	cfg.State.DBPath = os.ExpandEnv(cfg.State.DBPath)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	bindEnv(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Document.Dir = os.ExpandEnv(cfg.Document.Dir)
	cfg.State.DBPath = os.ExpandEnv(cfg.State.DBPath)

	return cfg, nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("orchestrator.max_concurrent", cfg.Orchestrator.MaxConcurrent)
	v.Set("orchestrator.poll_interval", cfg.Orchestrator.PollInterval.String())
	v.Set("orchestrator.spawn_attempts", cfg.Orchestrator.SpawnAttempts)
	v.Set("orchestrator.spawn_backoff", cfg.Orchestrator.SpawnBackoff.String())
	v.Set("orchestrator.task_retries", cfg.Orchestrator.TaskRetries)
	v.Set("document.dir", cfg.Document.Dir)
	v.Set("document.lock_attempts", cfg.Document.LockAttempts)
	v.Set("document.lock_backoff", cfg.Document.LockBackoff.String())
	v.Set("document.max_bytes", cfg.Document.MaxBytes)
	v.Set("budgets.critical", cfg.Budgets.Critical.String())
	v.Set("budgets.high", cfg.Budgets.High.String())
	v.Set("budgets.medium", cfg.Budgets.Medium.String())
	v.Set("budgets.low", cfg.Budgets.Low.String())
	v.Set("runtime.kind", cfg.Runtime.Kind)
	v.Set("runtime.image", cfg.Runtime.Image)
	v.Set("runtime.command", cfg.Runtime.Command)
	v.Set("runtime.memory_limit_mb", cfg.Runtime.MemoryLimitMB)
	v.Set("runtime.cpu_limit", cfg.Runtime.CPULimit)
	v.Set("state.db_path", cfg.State.DBPath)
	v.Set("state.retention_days", cfg.State.RetentionDays)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// bindEnv maps CONCLAVE_* environment variables onto config keys.
func bindEnv(v *viper.Viper) {
	v.BindEnv("orchestrator.max_concurrent", "CONCLAVE_MAX_CONCURRENT")
	v.BindEnv("orchestrator.poll_interval", "CONCLAVE_POLL_INTERVAL")
	v.BindEnv("document.dir", "CONCLAVE_DOCUMENT_DIR")
	v.BindEnv("runtime.kind", "CONCLAVE_RUNTIME")
	v.BindEnv("runtime.image", "CONCLAVE_WORKER_IMAGE")
	v.BindEnv("runtime.command", "CONCLAVE_WORKER_COMMAND")
	v.BindEnv("state.db_path", "CONCLAVE_STATE_DB")
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("orchestrator.max_concurrent", 4)
	v.SetDefault("orchestrator.poll_interval", "2s")
	v.SetDefault("orchestrator.spawn_attempts", 3)
	v.SetDefault("orchestrator.spawn_backoff", "500ms")
	v.SetDefault("orchestrator.task_retries", 1)

	v.SetDefault("document.dir", ".")
	v.SetDefault("document.lock_attempts", 20)
	v.SetDefault("document.lock_backoff", "50ms")
	v.SetDefault("document.max_bytes", 8<<20)

	v.SetDefault("budgets.critical", "30m")
	v.SetDefault("budgets.high", "20m")
	v.SetDefault("budgets.medium", "15m")
	v.SetDefault("budgets.low", "10m")

	v.SetDefault("runtime.kind", "process")
	v.SetDefault("runtime.image", "conclave-worker:latest")
	v.SetDefault("runtime.command", "")
	v.SetDefault("runtime.memory_limit_mb", 0)
	v.SetDefault("runtime.cpu_limit", 0)

	v.SetDefault("state.db_path", "")
	v.SetDefault("state.retention_days", 14)
}

// getUserConfigDir returns the XDG config directory for conclave.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "conclave")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "conclave")
	}
	return filepath.Join(home, ".config", "conclave")
}

// findProjectConfig searches for .conclave.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".conclave.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Orchestrator: OrchestratorConfig{
			MaxConcurrent: 4,
			PollInterval:  2 * time.Second,
			SpawnAttempts: 3,
			SpawnBackoff:  500 * time.Millisecond,
			TaskRetries:   1,
		},
		Document: DocumentConfig{
			Dir:          ".",
			LockAttempts: 20,
			LockBackoff:  50 * time.Millisecond,
			MaxBytes:     8 << 20,
		},
		Budgets: BudgetsConfig{
			Critical: 30 * time.Minute,
			High:     20 * time.Minute,
			Medium:   15 * time.Minute,
			Low:      10 * time.Minute,
		},
		Runtime: RuntimeConfig{
			Kind:  "process",
			Image: "conclave-worker:latest",
		},
		State: StateConfig{
			RetentionDays: 14,
		},
	}
}
