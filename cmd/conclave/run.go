package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/conclave/internal/config"
	"github.com/ShayCichocki/conclave/internal/jobfile"
	"github.com/ShayCichocki/conclave/internal/orchestrator"
	"github.com/ShayCichocki/conclave/pkg/models"
)

var runInitiator string

var runCmd = &cobra.Command{
	Use:   "run <job-file.yaml>",
	Short: "Run a job from a YAML task definition",
	Long: `Run a job defined in a YAML file.

The file names the job's intent, shared context, and every task with its
dependencies. The task graph is validated before anything starts; a
graph with duplicate ids, unknown dependencies, or a cycle is rejected
without creating a document.

Progress streams to the terminal until the job reaches a terminal
status. Ctrl+C requests cancellation: in-flight workers are terminated
and the job is marked failed. A second Ctrl+C detaches immediately,
leaving the document resumable with 'conclave resume'.`,
	Args: cobra.ExactArgs(1),
	RunE: runJob,
}

func init() {
	runCmd.Flags().StringVar(&runInitiator, "initiator", "", "Override the initiator recorded in the document")
}

func runJob(cmd *cobra.Command, args []string) error {
	jf, err := jobfile.Load(args[0])
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
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

	initiator := runInitiator
	if initiator == "" {
		initiator = jf.Initiator
	}
	if initiator == "" {
		if u, err := user.Current(); err == nil {
			initiator = u.Username
		} else {
			initiator = "unknown"
		}
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

	h, err := o.StartJob(ctx, jf.Models(), jf.SharedContext, jf.Intent, initiator)
	if err != nil {
		return err
	}
	fmt.Printf("job %s started, document at %s\n", h.JobID, h.DocumentPath)

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

// streamEvents prints orchestrator events until the job's loop exits.
func streamEvents(o *orchestrator.Orchestrator, h *orchestrator.JobHandle) {
	events := o.Events()
	for {
		select {
		case ev := <-events:
			printEvent(ev)
		case <-h.Done():
			// Drain anything already queued.
			for {
				select {
				case ev := <-events:
					printEvent(ev)
				default:
					return
				}
			}
		}
	}
}

func printEvent(ev orchestrator.Event) {
	ts := ev.Timestamp.Local().Format("15:04:05")
	switch ev.Type {
	case orchestrator.EventTaskCompleted:
		color.Green("%s  %s complete (%s)", ts, ev.TaskID, ev.WorkerID)
	case orchestrator.EventTaskFailed:
		color.Red("%s  %s failed: %s", ts, ev.TaskID, ev.Message)
	case orchestrator.EventTaskBlocked:
		color.Red("%s  %s blocked (%s)", ts, ev.TaskID, ev.Message)
	case orchestrator.EventTaskRetried:
		color.Yellow("%s  %s will retry: %s", ts, ev.TaskID, ev.Message)
	case orchestrator.EventWorkerTimeout:
		color.Yellow("%s  %s timed out on %s", ts, ev.WorkerID, ev.TaskID)
	case orchestrator.EventTaskAssigned:
		fmt.Printf("%s  %s assigned to %s\n", ts, ev.TaskID, ev.WorkerID)
	case orchestrator.EventWorkerSpawned:
		fmt.Printf("%s  %s spawned for %s\n", ts, ev.WorkerID, ev.TaskID)
	case orchestrator.EventJobStarted:
		fmt.Printf("%s  job %s running\n", ts, ev.JobID)
	case orchestrator.EventJobDone:
		fmt.Printf("%s  job %s done: %s\n", ts, ev.JobID, ev.Message)
	}
}

// reportOutcome prints the final task table and sets the exit status.
func reportOutcome(o *orchestrator.Orchestrator, h *orchestrator.JobHandle) error {
	snap, err := o.GetStatus(h)
	if err != nil {
		return fmt.Errorf("read final status: %w", err)
	}

	fmt.Println()
	printSnapshot(snap)

	if snap.Job.Status == models.JobStatusFailed {
		return fmt.Errorf("job %s failed: %s", snap.Job.ID, snap.Job.FailureReason)
	}
	return nil
}
