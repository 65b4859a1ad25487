// Package tui provides the read-only terminal view for the watch command.
//
// The view renders the shared job document: job status, the task table,
// and the tail of the event log. It re-reads the document whenever the
// file changes on disk and on a steady tick, so it works both for jobs
// run by this process and for jobs run by another orchestrator on the
// same machine. Users can only quit with 'q' or Ctrl+C.
package tui

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"

	"github.com/ShayCichocki/conclave/internal/document"
	"github.com/ShayCichocki/conclave/pkg/models"
)

const eventTail = 12

// docMsg carries a freshly read document.
type docMsg struct {
	doc *document.Document
	err error
}

// fileChangedMsg signals the watched document was rewritten.
type fileChangedMsg struct{}

// tickMsg drives the fallback refresh.
type tickMsg time.Time

// WatchModel is the bubbletea model for the watch command.
type WatchModel struct {
	path    string
	watcher *fsnotify.Watcher

	doc     *document.Document
	readErr error
	width   int
	height  int
}

// NewWatchModel creates a watch view for the document at path. The
// fsnotify watcher is optional; pass nil to rely on the refresh tick.
func NewWatchModel(path string, watcher *fsnotify.Watcher) WatchModel {
	return WatchModel{path: path, watcher: watcher, width: 80, height: 24}
}

// NewWatcher builds a file watcher for the document's directory. The
// directory is watched rather than the file because updates land via
// rename, which invalidates a watch on the file itself.
func NewWatcher(docPath string) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(docPath)); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(m.readDoc, m.waitForChange, tick())
}

func (m WatchModel) readDoc() tea.Msg {
	doc, err := document.NewAccessor(m.path).Read()
	return docMsg{doc: doc, err: err}
}

// waitForChange blocks on the next relevant filesystem event.
func (m WatchModel) waitForChange() tea.Msg {
	if m.watcher == nil {
		return nil
	}
	base := filepath.Base(m.path)
	for {
		select {
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				return fileChangedMsg{}
			}
		case _, ok := <-m.watcher.Errors:
			if !ok {
				return nil
			}
		}
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case docMsg:
		m.doc = msg.doc
		m.readErr = msg.err

	case fileChangedMsg:
		return m, tea.Batch(m.readDoc, m.waitForChange)

	case tickMsg:
		return m, tea.Batch(m.readDoc, tick())
	}
	return m, nil
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#45B7D1"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("250"))
	sectionStyle = lipgloss.NewStyle().MarginTop(1)
)

// statusColors maps task and job statuses to display colors.
var statusColors = map[string]string{
	"preparing":   "243",
	"pending":     "243",
	"assigned":    "#FFC857",
	"in_progress": "#45B7D1",
	"complete":    "#96E6A1",
	"failed":      "#FF6B6B",
	"blocked":     "#FF8E53",
	"skipped":     "245",
}

func statusCell(s string) string {
	color, ok := statusColors[s]
	if !ok {
		color = "250"
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Render(s)
}

func (m WatchModel) View() string {
	if m.readErr != nil {
		return errStyle.Render(fmt.Sprintf("cannot read %s: %v", m.path, m.readErr)) +
			dimStyle.Render("\n\nq to quit")
	}
	if m.doc == nil {
		return dimStyle.Render("loading " + m.path + " ...")
	}

	job := m.doc.Job
	var b strings.Builder

	title := fmt.Sprintf("%s  %s", job.ID, statusCell(string(job.Status)))
	b.WriteString(titleStyle.Render("conclave watch") + "  " + title + "\n")
	if job.Intent != "" {
		b.WriteString(dimStyle.Render(job.Intent) + "\n")
	}
	if job.FailureReason != "" {
		b.WriteString(errStyle.Render(job.FailureReason) + "\n")
	}

	b.WriteString(sectionStyle.Render(m.taskTable(job)) + "\n")
	b.WriteString(sectionStyle.Render(m.eventLog()) + "\n")
	b.WriteString(dimStyle.Render("q to quit"))
	return b.String()
}

func (m WatchModel) taskTable(job *models.Job) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-12s %-12s %-9s %-16s %-8s %s",
		"TASK", "STATUS", "PRIORITY", "ASSIGNEE", "ATTEMPTS", "NAME")) + "\n")
	for _, t := range job.Tasks {
		assignee := t.Assignee
		if assignee == "" {
			assignee = "-"
		}
		b.WriteString(fmt.Sprintf("%-12s %-23s %-9s %-16s %-8d %s\n",
			truncate(t.ID, 12), statusCell(string(t.Status)), t.Priority,
			truncate(assignee, 16), t.Attempts, truncate(t.Name, m.nameWidth())))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m WatchModel) eventLog() string {
	events := m.doc.Events
	if len(events) > eventTail {
		events = events[len(events)-eventTail:]
	}
	var b strings.Builder
	b.WriteString(headerStyle.Render("EVENTS") + "\n")
	if len(events) == 0 {
		b.WriteString(dimStyle.Render("(none)"))
		return b.String()
	}
	for _, ev := range events {
		line := fmt.Sprintf("%s  %-14s %s",
			ev.At.Local().Format("15:04:05"), truncate(ev.Actor, 14), ev.Message)
		b.WriteString(truncate(line, m.width-2) + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m WatchModel) nameWidth() int {
	w := m.width - 64
	if w < 10 {
		w = 10
	}
	return w
}

func truncate(s string, n int) string {
	if n <= 3 || len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// Close releases the file watcher, if any.
func (m WatchModel) Close() {
	if m.watcher != nil {
		m.watcher.Close()
	}
}
