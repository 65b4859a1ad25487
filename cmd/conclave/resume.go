package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/conclave/internal/config"
	"github.com/ShayCichocki/conclave/internal/orchestrator"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <job-id | document.md>",
	Short: "Resume an interrupted job from its document",
	Long: `Reattach a control loop to a job whose orchestrator died.

The document is the source of truth: completed tasks stay completed,
workers that survived the crash are adopted, and tasks whose worker is
gone are scheduled again. Resuming a job that already reached a terminal
status is an error.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func runResume(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	docPath, err := resolveDocument(cfg, args[0])
	if err != nil {
		return err
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	db, err := openStateDB(cfg)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	logger := orchestrator.NewDebugLoggerForDir(cfg.Document.Dir)
	defer logger.Close()

	opts := []orchestrator.Option{orchestrator.WithLogger(logger)}
	if db != nil {
		opts = append(opts, orchestrator.WithStateDB(db))
	}
	o := orchestrator.New(cfg, rt, opts...)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	h, err := o.Resume(ctx, docPath)
	if err != nil {
		return err
	}
	fmt.Printf("job %s resumed from %s\n", h.JobID, h.DocumentPath)

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		color.Yellow("cancellation requested, terminating workers (Ctrl+C again to detach)")
		if err := o.Cancel(context.Background(), h); err != nil {
			fmt.Fprintf(os.Stderr, "cancel: %v\n", err)
		}
		<-sigs
		color.Yellow("detaching; resume later with: conclave resume %s", h.DocumentPath)
		stop()
	}()

	streamEvents(o, h)
	return reportOutcome(o, h)
}
