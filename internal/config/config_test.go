package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ShayCichocki/conclave/pkg/models"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Orchestrator.MaxConcurrent != 4 {
		t.Errorf("max_concurrent = %d, want 4", cfg.Orchestrator.MaxConcurrent)
	}
	if cfg.Orchestrator.PollInterval != 2*time.Second {
		t.Errorf("poll_interval = %v, want 2s", cfg.Orchestrator.PollInterval)
	}
	if cfg.Orchestrator.TaskRetries != 1 {
		t.Errorf("task_retries = %d, want 1", cfg.Orchestrator.TaskRetries)
	}
	if cfg.Runtime.Kind != "process" {
		t.Errorf("runtime kind = %q, want process", cfg.Runtime.Kind)
	}
	if cfg.State.DBPath != "" {
		t.Errorf("state db should be disabled by default, got %q", cfg.State.DBPath)
	}
}

func TestLoadFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
orchestrator:
  max_concurrent: 8
  poll_interval: 500ms
document:
  dir: /tmp/jobs
  max_bytes: 1048576
budgets:
  critical: 1h
runtime:
  kind: docker
  image: conclave-worker:v2
  memory_limit_mb: 512
state:
  db_path: /tmp/conclave.db
  retention_days: 7
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.Orchestrator.MaxConcurrent != 8 {
		t.Errorf("max_concurrent = %d, want 8", cfg.Orchestrator.MaxConcurrent)
	}
	if cfg.Orchestrator.PollInterval != 500*time.Millisecond {
		t.Errorf("poll_interval = %v, want 500ms", cfg.Orchestrator.PollInterval)
	}
	if cfg.Document.Dir != "/tmp/jobs" {
		t.Errorf("document dir = %q", cfg.Document.Dir)
	}
	if cfg.Budgets.Critical != time.Hour {
		t.Errorf("critical budget = %v, want 1h", cfg.Budgets.Critical)
	}
	// Unset keys keep defaults.
	if cfg.Budgets.Medium != 15*time.Minute {
		t.Errorf("medium budget = %v, want default 15m", cfg.Budgets.Medium)
	}
	if cfg.Runtime.Kind != "docker" || cfg.Runtime.Image != "conclave-worker:v2" {
		t.Errorf("runtime = %+v", cfg.Runtime)
	}
	if cfg.Runtime.MemoryLimitMB != 512 {
		t.Errorf("memory_limit_mb = %d, want 512", cfg.Runtime.MemoryLimitMB)
	}
	if cfg.State.RetentionDays != 7 {
		t.Errorf("retention_days = %d, want 7", cfg.State.RetentionDays)
	}
}

func TestEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("runtime:\n  kind: process\n"), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CONCLAVE_RUNTIME", "docker")
	t.Setenv("CONCLAVE_MAX_CONCURRENT", "12")

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.Runtime.Kind != "docker" {
		t.Errorf("env override ignored: runtime kind = %q", cfg.Runtime.Kind)
	}
	if cfg.Orchestrator.MaxConcurrent != 12 {
		t.Errorf("env override ignored: max_concurrent = %d", cfg.Orchestrator.MaxConcurrent)
	}
}

func TestBudgetFor(t *testing.T) {
	b := BudgetsConfig{
		Critical: 4 * time.Minute,
		High:     3 * time.Minute,
		Medium:   2 * time.Minute,
		Low:      time.Minute,
	}

	cases := []struct {
		priority models.Priority
		want     time.Duration
	}{
		{models.PriorityCritical, 4 * time.Minute},
		{models.PriorityHigh, 3 * time.Minute},
		{models.PriorityMedium, 2 * time.Minute},
		{models.PriorityLow, time.Minute},
		{models.Priority("bogus"), 2 * time.Minute},
	}
	for _, tc := range cases {
		if got := b.For(tc.priority); got != tc.want {
			t.Errorf("For(%s) = %v, want %v", tc.priority, got, tc.want)
		}
	}
}

func TestExpandEnvInPaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("document:\n  dir: ${CONCLAVE_TEST_HOME}/jobs\n"), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CONCLAVE_TEST_HOME", "/srv/conclave")

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.Document.Dir != "/srv/conclave/jobs" {
		t.Errorf("document dir = %q, want /srv/conclave/jobs", cfg.Document.Dir)
	}
}
