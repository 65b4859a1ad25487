package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/conclave/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify conclave configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/conclave/config.yaml
Project-specific overrides can be placed in .conclave.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	fmt.Printf("orchestrator.max_concurrent: %d\n", cfg.Orchestrator.MaxConcurrent)
	fmt.Printf("orchestrator.poll_interval: %s\n", cfg.Orchestrator.PollInterval)
	fmt.Printf("orchestrator.task_retries: %d\n", cfg.Orchestrator.TaskRetries)
	fmt.Printf("document.dir: %s\n", cfg.Document.Dir)
	fmt.Printf("document.max_bytes: %d\n", cfg.Document.MaxBytes)
	fmt.Printf("budgets.critical: %s\n", cfg.Budgets.Critical)
	fmt.Printf("budgets.high: %s\n", cfg.Budgets.High)
	fmt.Printf("budgets.medium: %s\n", cfg.Budgets.Medium)
	fmt.Printf("budgets.low: %s\n", cfg.Budgets.Low)
	fmt.Printf("runtime.kind: %s\n", cfg.Runtime.Kind)
	fmt.Printf("runtime.image: %s\n", cfg.Runtime.Image)
	fmt.Printf("runtime.command: %s\n", cfg.Runtime.Command)
	fmt.Printf("state.db_path: %s\n", cfg.State.DBPath)
	fmt.Printf("state.retention_days: %d\n", cfg.State.RetentionDays)
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(cfg *config.Config, key string) {
	value, err := getConfigValue(cfg, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(value)
}

// setConfigKey sets a configuration value and saves the config.
func setConfigKey(cfg *config.Config, key, value string) {
	if err := setConfigValue(cfg, key, value); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Set %s = %s\n", key, value)
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch key {
	case "orchestrator.max_concurrent":
		return strconv.Itoa(cfg.Orchestrator.MaxConcurrent), nil
	case "orchestrator.poll_interval":
		return cfg.Orchestrator.PollInterval.String(), nil
	case "orchestrator.task_retries":
		return strconv.Itoa(cfg.Orchestrator.TaskRetries), nil
	case "document.dir":
		return cfg.Document.Dir, nil
	case "document.max_bytes":
		return strconv.Itoa(cfg.Document.MaxBytes), nil
	case "budgets.critical":
		return cfg.Budgets.Critical.String(), nil
	case "budgets.high":
		return cfg.Budgets.High.String(), nil
	case "budgets.medium":
		return cfg.Budgets.Medium.String(), nil
	case "budgets.low":
		return cfg.Budgets.Low.String(), nil
	case "runtime.kind":
		return cfg.Runtime.Kind, nil
	case "runtime.image":
		return cfg.Runtime.Image, nil
	case "runtime.command":
		return cfg.Runtime.Command, nil
	case "state.db_path":
		return cfg.State.DBPath, nil
	case "state.retention_days":
		return strconv.Itoa(cfg.State.RetentionDays), nil
	default:
		return "", fmt.Errorf("unknown config key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	switch key {
	case "orchestrator.max_concurrent":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return fmt.Errorf("max_concurrent must be a positive integer, got %q", value)
		}
		cfg.Orchestrator.MaxConcurrent = n
	case "orchestrator.poll_interval":
		d, err := time.ParseDuration(value)
		if err != nil || d <= 0 {
			return fmt.Errorf("poll_interval must be a positive duration, got %q", value)
		}
		cfg.Orchestrator.PollInterval = d
	case "orchestrator.task_retries":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("task_retries must be a non-negative integer, got %q", value)
		}
		cfg.Orchestrator.TaskRetries = n
	case "document.dir":
		cfg.Document.Dir = value
	case "document.max_bytes":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return fmt.Errorf("max_bytes must be a positive integer, got %q", value)
		}
		cfg.Document.MaxBytes = n
	case "budgets.critical", "budgets.high", "budgets.medium", "budgets.low":
		d, err := time.ParseDuration(value)
		if err != nil || d < 0 {
			return fmt.Errorf("budget must be a duration, got %q", value)
		}
		switch key {
		case "budgets.critical":
			cfg.Budgets.Critical = d
		case "budgets.high":
			cfg.Budgets.High = d
		case "budgets.medium":
			cfg.Budgets.Medium = d
		case "budgets.low":
			cfg.Budgets.Low = d
		}
	case "runtime.kind":
		if value != "docker" && value != "process" {
			return fmt.Errorf("runtime.kind must be docker or process, got %q", value)
		}
		cfg.Runtime.Kind = value
	case "runtime.image":
		cfg.Runtime.Image = value
	case "runtime.command":
		cfg.Runtime.Command = value
	case "state.db_path":
		cfg.State.DBPath = value
	case "state.retention_days":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return fmt.Errorf("retention_days must be a positive integer, got %q", value)
		}
		cfg.State.RetentionDays = n
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
	return nil
}
