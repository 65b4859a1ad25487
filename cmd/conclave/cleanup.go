package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/conclave/internal/config"
)

var cleanupDays int

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Purge old worker records from the index",
	Long: `Delete finished worker records older than the retention window.

Only records in a finished state are removed; live workers are never
touched. Job documents are not affected.`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupDays, "days", 0, "Retention in days (default from config)")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.State.DBPath == "" {
		fmt.Println("job index disabled (state.db_path is empty), nothing to clean")
		return nil
	}

	days := cleanupDays
	if days <= 0 {
		days = cfg.State.RetentionDays
	}
	if days <= 0 {
		return fmt.Errorf("retention must be positive, got %d days", days)
	}

	db, err := openStateDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := db.PurgeOldRecords(time.Duration(days) * 24 * time.Hour)
	if err != nil {
		return fmt.Errorf("purge records: %w", err)
	}
	fmt.Printf("purged %d worker records older than %d days\n", n, days)
	return nil
}
