package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

// ProcessRuntime runs each worker as a local child process. It is the
// default runtime for development and tests. Unlike the docker runtime its
// worker list does not survive an orchestrator restart, so resume only
// recovers document state.
type ProcessRuntime struct {
	command []string
	logDir  string

	mu    sync.Mutex
	procs map[string]*proc
}

type proc struct {
	handle  Handle
	cmd     *exec.Cmd
	logPath string
	done    chan struct{}
	// exitCode is valid once done is closed.
	exitCode int
}

var _ Runtime = (*ProcessRuntime)(nil)

// NewProcessRuntime creates a runtime that starts workers by running the
// given command. Worker output is captured under logDir, one file per
// worker.
func NewProcessRuntime(command []string, logDir string) (*ProcessRuntime, error) {
	if len(command) == 0 {
		return nil, errors.New("process runtime requires a worker command")
	}
	if logDir == "" {
		logDir = os.TempDir()
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	return &ProcessRuntime{
		command: command,
		logDir:  logDir,
		procs:   make(map[string]*proc),
	}, nil
}

// Spawn starts one worker process with the assignment passed via environment.
func (r *ProcessRuntime) Spawn(ctx context.Context, spec Spec) (Handle, error) {
	logPath := filepath.Join(r.logDir, spec.WorkerID+".log")
	logFile, err := os.Create(logPath)
	if err != nil {
		return Handle{}, &SpawnFailureError{TaskID: spec.TaskID, Err: err}
	}

	cmd := exec.Command(r.command[0], r.command[1:]...)
	cmd.Env = append(os.Environ(),
		"CONCLAVE_DOCUMENT="+spec.DocumentPath,
		"CONCLAVE_JOB_ID="+spec.JobID,
		"CONCLAVE_TASK_ID="+spec.TaskID,
		"CONCLAVE_WORKER_ID="+spec.WorkerID,
	)
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		_ = os.Remove(logPath)
		return Handle{}, &SpawnFailureError{TaskID: spec.TaskID, Err: err}
	}

	h := Handle{WorkerID: spec.WorkerID, JobID: spec.JobID, TaskID: spec.TaskID}
	p := &proc{handle: h, cmd: cmd, logPath: logPath, done: make(chan struct{})}

	r.mu.Lock()
	r.procs[spec.WorkerID] = p
	r.mu.Unlock()

	go func() {
		err := cmd.Wait()
		_ = logFile.Close()

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			p.exitCode = exitErr.ExitCode()
		} else if err != nil {
			p.exitCode = -1
		}
		close(p.done)
	}()

	return h, nil
}

// Status reports whether the worker process is still running.
func (r *ProcessRuntime) Status(ctx context.Context, h Handle) (Status, error) {
	r.mu.Lock()
	p, ok := r.procs[h.WorkerID]
	r.mu.Unlock()
	if !ok {
		return Status{State: StatusNotFound}, nil
	}

	select {
	case <-p.done:
		return Status{State: StatusExited, ExitCode: p.exitCode}, nil
	default:
		return Status{State: StatusRunning}, nil
	}
}

// Logs returns the worker's captured output so far.
func (r *ProcessRuntime) Logs(ctx context.Context, h Handle) (io.ReadCloser, error) {
	r.mu.Lock()
	p, ok := r.procs[h.WorkerID]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("logs: unknown worker %s", h.WorkerID)
	}
	f, err := os.Open(p.logPath)
	if err != nil {
		return nil, fmt.Errorf("open worker log: %w", err)
	}
	return f, nil
}

// Terminate sends SIGTERM, waits up to grace, then kills the process.
func (r *ProcessRuntime) Terminate(ctx context.Context, h Handle, grace time.Duration) error {
	r.mu.Lock()
	p, ok := r.procs[h.WorkerID]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	select {
	case <-p.done:
		return nil
	default:
	}

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Already gone.
		return nil
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
	case <-ctx.Done():
	}

	_ = p.cmd.Process.Kill()
	<-p.done
	return nil
}

// List returns handles for all workers spawned for the job in this process.
func (r *ProcessRuntime) List(ctx context.Context, jobID string) ([]Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var handles []Handle
	for _, p := range r.procs {
		if p.handle.JobID == jobID {
			handles = append(handles, p.handle)
		}
	}
	return handles, nil
}
