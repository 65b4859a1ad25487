package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/conclave/internal/config"
	"github.com/ShayCichocki/conclave/internal/tui"
)

var watchCmd = &cobra.Command{
	Use:   "watch <job-id | document.md>",
	Short: "Watch a job's document live",
	Long: `Open a live terminal view of a job.

The view re-reads the document whenever it changes on disk, so it can
follow a job run by any orchestrator process on this machine. Press q
to quit; the job keeps running.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	docPath, err := resolveDocument(cfg, args[0])
	if err != nil {
		return err
	}
	return watchDocument(docPath)
}

// watchDocument runs the live document view until the user quits.
func watchDocument(docPath string) error {
	watcher, err := tui.NewWatcher(docPath)
	if err != nil {
		// Fall back to tick-based refresh.
		watcher = nil
	}
	m := tui.NewWatchModel(docPath, watcher)
	defer m.Close()

	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("watch view: %w", err)
	}
	return nil
}
