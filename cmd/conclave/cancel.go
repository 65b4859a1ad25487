package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/conclave/internal/config"
	"github.com/ShayCichocki/conclave/internal/document"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id | document.md>",
	Short: "Request cancellation of a running job",
	Long: `Set the cancellation flag in a job's document.

Any process may request cancellation; the orchestrator running the job
notices the flag on its next pass, terminates in-flight workers, and
marks the job failed with reason "Cancelled". Cancelling a job that has
already finished is a no-op.`,
	Args: cobra.ExactArgs(1),
	RunE: runCancel,
}

func runCancel(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	docPath, err := resolveDocument(cfg, args[0])
	if err != nil {
		return err
	}

	acc := document.NewAccessor(docPath)
	doc, err := acc.Update(context.Background(), func(d *document.Document) error {
		if d.Job.Status.Terminal() {
			return fmt.Errorf("job %s is already %s", d.Job.ID, d.Job.Status)
		}
		if d.Job.CancelRequested {
			return nil
		}
		d.Job.CancelRequested = true
		d.AppendEvent("cli", "cancellation requested")
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Printf("cancellation requested for job %s\n", doc.Job.ID)
	return nil
}
