package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/conclave/internal/config"
	"github.com/ShayCichocki/conclave/internal/runtime"
	"github.com/ShayCichocki/conclave/internal/state"
)

var rootCmd = &cobra.Command{
	Use:   "conclave",
	Short: "Crash-safe multi-worker job orchestrator",
	Long: `Conclave runs ceremonies: jobs decomposed into dependent tasks,
each executed by an isolated ephemeral worker. Workers never talk to
each other; all coordination flows through a single shared job document
on disk, so a crashed orchestrator can always be resumed from the
document alone.

Core capabilities:
- Validates the task dependency graph before anything runs
- Schedules ready tasks by priority under a concurrency cap
- Spawns workers as containers or local processes
- Tracks worker lifecycles and enforces wall-clock budgets
- Resumes interrupted jobs from the document and surviving workers`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(versionCmd)
}

// buildRuntime constructs the worker runtime selected by configuration.
func buildRuntime(cfg *config.Config) (runtime.Runtime, error) {
	command := strings.Fields(cfg.Runtime.Command)
	switch cfg.Runtime.Kind {
	case "docker":
		return runtime.NewDockerRuntime(cfg.Runtime.Image, command)
	case "process":
		logDir := filepath.Join(cfg.Document.Dir, "logs")
		return runtime.NewProcessRuntime(command, logDir)
	default:
		return nil, fmt.Errorf("unknown runtime kind %q (want docker or process)", cfg.Runtime.Kind)
	}
}

// openStateDB opens the job index database if one is configured.
// Returns nil when disabled; the orchestrator treats that as "no mirror".
func openStateDB(cfg *config.Config) (*state.DB, error) {
	path := cfg.State.DBPath
	if path == "" {
		return nil, nil
	}
	db, err := state.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate state database: %w", err)
	}
	return db, nil
}

// resolveDocument turns a job id or document path argument into a
// document path. Bare job ids are looked up in the state database first,
// then in the configured document directory.
func resolveDocument(cfg *config.Config, arg string) (string, error) {
	if strings.ContainsAny(arg, "/.") {
		return arg, nil
	}

	if cfg.State.DBPath != "" {
		if db, err := state.Open(cfg.State.DBPath); err == nil {
			defer db.Close()
			if err := db.Migrate(); err == nil {
				if ref, err := db.GetJobRef(arg); err == nil && ref != nil {
					return ref.DocumentPath, nil
				}
			}
		}
	}

	candidate := filepath.Join(cfg.Document.Dir, arg+".md")
	if _, err := os.Stat(candidate); err == nil {
		return candidate, nil
	}
	return "", fmt.Errorf("no job %q found (tried %s)", arg, candidate)
}
