package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/conclave/internal/config"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List known jobs from the index",
	Long: `List every job recorded in the job index database, newest first.

The index is a convenience mirror; the documents remain the source of
truth. Jobs run with the index disabled (state.db_path empty) do not
appear here.`,
	RunE: runJobs,
}

func runJobs(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.State.DBPath == "" {
		fmt.Println("job index disabled (state.db_path is empty)")
		return nil
	}

	db, err := openStateDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	refs, err := db.ListJobRefs()
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	if len(refs) == 0 {
		fmt.Println("no jobs recorded yet")
		return nil
	}

	fmt.Printf("%-14s %-12s %-12s %-17s %s\n", "JOB", "STATUS", "INITIATOR", "CREATED", "DOCUMENT")
	for _, ref := range refs {
		fmt.Printf("%-14s %-12s %-12s %-17s %s\n",
			ref.JobID, ref.Status, ref.Initiator,
			ref.CreatedAt.Local().Format("2006-01-02 15:04"), ref.DocumentPath)
	}
	return nil
}
