package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/conclave/internal/config"
	"github.com/ShayCichocki/conclave/internal/document"
	"github.com/ShayCichocki/conclave/internal/orchestrator"
	"github.com/ShayCichocki/conclave/pkg/models"
)

var (
	statusEvents int
	statusWatch  bool
)

var statusCmd = &cobra.Command{
	Use:   "status <job-id | document.md>",
	Short: "Show a job's current state from its document",
	Long: `Display the current state of a job.

The document is read without taking the lock, so status never interferes
with a running orchestrator or its workers. Pass a job id (resolved via
the job index) or a path to the document itself.`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusEvents, "events", 10, "Number of recent events to show (0 for none)")
	statusCmd.Flags().BoolVar(&statusWatch, "watch", false, "Follow the document live in a TUI")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	docPath, err := resolveDocument(cfg, args[0])
	if err != nil {
		return err
	}

	if statusWatch {
		return watchDocument(docPath)
	}

	doc, err := document.NewAccessor(docPath).Read()
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}

	snap := snapshotOf(doc)
	printSnapshot(snap)

	if statusEvents > 0 && len(doc.Events) > 0 {
		events := doc.Events
		if len(events) > statusEvents {
			events = events[len(events)-statusEvents:]
		}
		fmt.Println("\nRecent events:")
		for _, ev := range events {
			fmt.Printf("  %s  %-14s %s\n", ev.At.Local().Format("15:04:05"), ev.Actor, ev.Message)
		}
	}
	return nil
}

// snapshotOf mirrors the orchestrator's snapshot shape for offline reads.
func snapshotOf(doc *document.Document) *orchestrator.JobSnapshot {
	snap := &orchestrator.JobSnapshot{
		Job:    doc.Job,
		Counts: doc.Job.Counts(),
		Events: doc.Events,
	}
	for _, t := range doc.Job.Tasks {
		switch t.Status {
		case models.TaskStatusFailed:
			snap.FailedTasks = append(snap.FailedTasks, t.ID)
		case models.TaskStatusBlocked:
			snap.BlockedTasks = append(snap.BlockedTasks, t.ID)
		}
	}
	return snap
}

func statusColor(s models.JobStatus) func(format string, a ...interface{}) string {
	switch s {
	case models.JobStatusComplete:
		return color.GreenString
	case models.JobStatusFailed:
		return color.RedString
	case models.JobStatusInProgress:
		return color.CyanString
	default:
		return fmt.Sprintf
	}
}

func taskStatusColor(s models.TaskStatus) func(format string, a ...interface{}) string {
	switch s {
	case models.TaskStatusComplete:
		return color.GreenString
	case models.TaskStatusFailed, models.TaskStatusBlocked:
		return color.RedString
	case models.TaskStatusInProgress:
		return color.CyanString
	case models.TaskStatusAssigned:
		return color.YellowString
	default:
		return fmt.Sprintf
	}
}

func printSnapshot(snap *orchestrator.JobSnapshot) {
	job := snap.Job
	fmt.Printf("Job:       %s\n", job.ID)
	fmt.Printf("Status:    %s\n", statusColor(job.Status)("%s", job.Status))
	fmt.Printf("Initiator: %s\n", job.Initiator)
	if job.Intent != "" {
		fmt.Printf("Intent:    %s\n", job.Intent)
	}
	if job.FailureReason != "" {
		fmt.Printf("Reason:    %s\n", color.RedString("%s", job.FailureReason))
	}
	if job.CompletedAt != nil {
		fmt.Printf("Duration:  %s\n", job.CompletedAt.Sub(job.CreatedAt).Round(time.Second))
	}

	var parts []string
	for _, st := range []models.TaskStatus{
		models.TaskStatusComplete, models.TaskStatusInProgress, models.TaskStatusAssigned,
		models.TaskStatusPending, models.TaskStatusFailed, models.TaskStatusBlocked,
		models.TaskStatusSkipped,
	} {
		if n := snap.Counts[st]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, st))
		}
	}
	fmt.Printf("Tasks:     %s\n", strings.Join(parts, ", "))

	fmt.Println()
	for _, t := range job.Tasks {
		assignee := t.Assignee
		if assignee == "" {
			assignee = "-"
		}
		fmt.Printf("  %-12s %-22s %-9s %-16s %s\n",
			t.ID, taskStatusColor(t.Status)("%s", t.Status), t.Priority, assignee, t.Name)
	}
}
