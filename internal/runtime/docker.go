package runtime

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
)

const (
	labelManaged = "conclave.managed"
	labelJob     = "conclave.job"
	labelTask    = "conclave.task"
	labelWorker  = "conclave.worker"

	containerDocDir = "/ceremony"
)

// DockerRuntime runs each worker in its own container. Workers get the
// job document bind-mounted read-write, no network, and a read-only root
// filesystem.
type DockerRuntime struct {
	cli   *client.Client
	image string
	cmd   []string
}

var _ Runtime = (*DockerRuntime)(nil)

// NewDockerRuntime creates a runtime talking to the local docker daemon.
// Workers run the given image; cmd overrides the image entrypoint when
// non-empty.
func NewDockerRuntime(imageRef string, cmd []string) (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &DockerRuntime{cli: cli, image: imageRef, cmd: cmd}, nil
}

func containerName(workerID string) string {
	return "conclave-worker-" + workerID
}

// Spawn creates and starts one worker container. The image is pulled on
// first use if the daemon does not have it.
func (r *DockerRuntime) Spawn(ctx context.Context, spec Spec) (Handle, error) {
	docDir, err := filepath.Abs(filepath.Dir(spec.DocumentPath))
	if err != nil {
		return Handle{}, &SpawnFailureError{TaskID: spec.TaskID, Err: err}
	}
	docFile := filepath.Base(spec.DocumentPath)

	env := []string{
		"CONCLAVE_DOCUMENT=" + filepath.Join(containerDocDir, docFile),
		"CONCLAVE_JOB_ID=" + spec.JobID,
		"CONCLAVE_TASK_ID=" + spec.TaskID,
		"CONCLAVE_WORKER_ID=" + spec.WorkerID,
	}
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	cfg := &container.Config{
		Image: r.image,
		Cmd:   r.cmd,
		Env:   env,
		Labels: map[string]string{
			labelManaged: "true",
			labelJob:     spec.JobID,
			labelTask:    spec.TaskID,
			labelWorker:  spec.WorkerID,
		},
	}

	hostCfg := &container.HostConfig{
		// Workers communicate only through the shared document.
		NetworkMode: "none",
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: docDir,
				Target: containerDocDir,
			},
		},
		Resources: container.Resources{
			Memory:   spec.Limits.MemoryBytes,
			NanoCPUs: int64(spec.Limits.CPUs * 1e9),
		},
		ReadonlyRootfs: true,
		Tmpfs: map[string]string{
			"/tmp": "rw,noexec,nosuid,size=64m",
		},
	}

	name := containerName(spec.WorkerID)
	resp, err := r.cli.ContainerCreate(ctx, cfg, hostCfg, &network.NetworkingConfig{}, nil, name)
	if client.IsErrNotFound(err) {
		reader, pullErr := r.cli.ImagePull(ctx, r.image, image.PullOptions{})
		if pullErr != nil {
			return Handle{}, &SpawnFailureError{TaskID: spec.TaskID, Err: fmt.Errorf("pull image %s: %w", r.image, pullErr)}
		}
		_, _ = io.Copy(io.Discard, reader)
		_ = reader.Close()
		resp, err = r.cli.ContainerCreate(ctx, cfg, hostCfg, &network.NetworkingConfig{}, nil, name)
	}
	if err != nil {
		return Handle{}, &SpawnFailureError{TaskID: spec.TaskID, Err: fmt.Errorf("create container: %w", err)}
	}

	if err := r.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = r.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return Handle{}, &SpawnFailureError{TaskID: spec.TaskID, Err: fmt.Errorf("start container: %w", err)}
	}

	return Handle{WorkerID: spec.WorkerID, JobID: spec.JobID, TaskID: spec.TaskID}, nil
}

// Status inspects the worker's container.
func (r *DockerRuntime) Status(ctx context.Context, h Handle) (Status, error) {
	inspect, err := r.cli.ContainerInspect(ctx, containerName(h.WorkerID))
	if err != nil {
		if client.IsErrNotFound(err) {
			return Status{State: StatusNotFound}, nil
		}
		return Status{}, fmt.Errorf("inspect container: %w", err)
	}
	if inspect.State != nil && inspect.State.Running {
		return Status{State: StatusRunning}, nil
	}
	exitCode := 0
	if inspect.State != nil {
		exitCode = inspect.State.ExitCode
	}
	return Status{State: StatusExited, ExitCode: exitCode}, nil
}

// Logs streams the container's combined stdout and stderr.
func (r *DockerRuntime) Logs(ctx context.Context, h Handle) (io.ReadCloser, error) {
	reader, err := r.cli.ContainerLogs(ctx, containerName(h.WorkerID), container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("container logs: %w", err)
	}
	return reader, nil
}

// Terminate stops the container with the given grace period, then removes
// it. Removing an already-gone container is not an error.
func (r *DockerRuntime) Terminate(ctx context.Context, h Handle, grace time.Duration) error {
	name := containerName(h.WorkerID)

	graceSeconds := int(grace / time.Second)
	if err := r.cli.ContainerStop(ctx, name, container.StopOptions{Timeout: &graceSeconds}); err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("stop container: %w", err)
	}
	if err := r.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}

// List returns handles for every conclave-managed container of the job,
// running or exited. This is the runtime side of crash recovery: a fresh
// control loop reattaches to these workers.
func (r *DockerRuntime) List(ctx context.Context, jobID string) ([]Handle, error) {
	args := filters.NewArgs()
	args.Add("label", labelManaged+"=true")
	args.Add("label", labelJob+"="+jobID)

	containers, err := r.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	var handles []Handle
	for _, c := range containers {
		workerID := c.Labels[labelWorker]
		if workerID == "" {
			continue
		}
		handles = append(handles, Handle{
			WorkerID: workerID,
			JobID:    jobID,
			TaskID:   c.Labels[labelTask],
		})
	}
	return handles, nil
}
