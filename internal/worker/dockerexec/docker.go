// Package dockerexec implements the worker.Executor interface on the
// host Docker daemon. Each job's trainer runs in its own container and
// reports progress as JSON lines on stdout, which the executor parses
// into the job's event stream.
package dockerexec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"

	"trainhub/internal/job"
	"trainhub/internal/worker"
)

// Executor runs trainers as Docker containers.
type Executor struct {
	client *client.Client
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	runs   map[string]*containerRun
	closed bool
	wg     sync.WaitGroup
}

type containerRun struct {
	em         *worker.Emitter
	done       chan struct{}
	cancelOnce sync.Once

	cancelRequested atomic.Bool

	// containerID is set once the container is created; guarded by mu
	// on the Executor because cancellation can race creation.
	containerID string
}

// New creates a docker executor talking to the daemon configured in the
// environment.
func New(cfg Config, logger *slog.Logger) (*Executor, error) {
	if cfg.TrainerImage == "" {
		return nil, errors.New("trainer image is required")
	}
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		client: dockerClient,
		cfg:    cfg.withDefaults(),
		logger: logger.With("component", "dockerexec"),
		runs:   make(map[string]*containerRun),
	}, nil
}

// Start creates and starts the job's trainer container, then watches it
// until exit. Launch failures surface as a failed event with code
// WorkerStartFailed.
func (e *Executor) Start(ctx context.Context, j job.Job) <-chan job.Event {
	out := make(chan job.Event, e.cfg.EventBuffer)
	em := worker.NewEmitter(out)
	r := &containerRun{em: em, done: make(chan struct{})}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.emitStartFailure(em, j.ID, errors.New("executor is shutting down"))
		return out
	}
	e.runs[j.ID] = r
	e.wg.Add(1)
	e.mu.Unlock()

	go e.run(j, r)
	return out
}

func (e *Executor) run(j job.Job, r *containerRun) {
	logger := e.logger.With("jobId", j.ID)
	defer func() {
		e.mu.Lock()
		delete(e.runs, j.ID)
		e.mu.Unlock()
		close(r.done)
		e.wg.Done()
	}()

	// The run outlives the submitting request.
	ctx := context.Background()

	containerID, err := e.launch(ctx, j)
	if err != nil {
		logger.Error("failed to launch trainer container", "error", err)
		e.emitStartFailure(r.em, j.ID, err)
		return
	}
	logger.Info("trainer container started", "containerId", containerID[:12])

	e.mu.Lock()
	r.containerID = containerID
	cancelled := r.cancelRequested.Load()
	e.mu.Unlock()
	if cancelled {
		// Cancel arrived while the container was being created.
		e.stopContainer(ctx, containerID)
	}

	e.supervise(ctx, logger, j.ID, containerID, r)
	e.removeContainer(ctx, containerID)
}

// launch pulls the trainer image if needed, then creates and starts the
// container.
func (e *Executor) launch(ctx context.Context, j job.Job) (string, error) {
	if err := e.pullImageIfNeeded(ctx, e.cfg.TrainerImage); err != nil {
		return "", fmt.Errorf("failed to pull trainer image: %w", err)
	}

	configJSON, err := json.Marshal(j.Config)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job config: %w", err)
	}

	containerConfig := &container.Config{
		Image: e.cfg.TrainerImage,
		Env: []string{
			fmt.Sprintf("JOB_ID=%s", j.ID),
			fmt.Sprintf("JOB_CONFIG=%s", configJSON),
			fmt.Sprintf("DATASET=%s", j.Config.Dataset),
		},
		Labels: map[string]string{
			"job.id":     j.ID,
			"managed-by": "trainhub",
		},
	}

	hostConfig := &container.HostConfig{
		ExtraHosts: e.cfg.ExtraHosts,
		Resources: container.Resources{
			NanoCPUs: int64(j.Config.Resources.CPU * 1e9),
			Memory:   int64(j.Config.Resources.MemoryMB) * 1024 * 1024,
		},
	}

	containerName := fmt.Sprintf("train-%s", j.ID)
	resp, err := e.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, containerName)
	if err != nil {
		return "", err
	}
	if err := e.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		e.removeContainer(ctx, resp.ID)
		return "", err
	}
	return resp.ID, nil
}

// supervise streams report lines until the container exits, then closes
// the event sequence with the terminal event the exit implies, unless
// the trainer already reported its own.
func (e *Executor) supervise(ctx context.Context, logger *slog.Logger, jobID, containerID string, r *containerRun) {
	logCtx, logCancel := context.WithCancel(ctx)
	logDone := make(chan struct{})
	go func() {
		defer close(logDone)
		e.streamReports(logCtx, logger, jobID, containerID, r.em)
	}()

	exitCode, exitErr := e.waitForExit(ctx, containerID)

	// Give the log stream a moment to flush the last lines.
	time.Sleep(500 * time.Millisecond)
	logCancel()
	<-logDone

	ev := job.Event{JobID: jobID, Time: time.Now()}
	switch {
	case r.cancelRequested.Load():
		ev.Type = job.EventCancelled
	case exitErr != nil:
		ev.Type = job.EventFailed
		ev.Err = &job.Error{Code: job.CodeWorkerCrashed, Message: exitErr.Error()}
	case exitCode == 0:
		ev.Type = job.EventCompleted
	default:
		ev.Type = job.EventFailed
		ev.Err = &job.Error{
			Code:    job.CodeWorkerCrashed,
			Message: fmt.Sprintf("trainer exited with code %d", exitCode),
		}
	}
	// No-op when the trainer's own completed/failed line got there
	// first; the Emitter enforces terminal-once.
	if r.em.Emit(ev) {
		logger.Info("trainer exited", "exitCode", exitCode, "terminal", ev.Type)
	}
}

// streamReports reads the container's multiplexed log stream and
// forwards every line that parses as a report. Non-report output is
// ordinary trainer logging and is dropped.
func (e *Executor) streamReports(ctx context.Context, logger *slog.Logger, jobID, containerID string, em *worker.Emitter) {
	logs, err := e.client.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		Follow:     true,
	})
	if err != nil {
		logger.Error("failed to attach to trainer logs", "error", err)
		return
	}
	defer logs.Close()

	header := make([]byte, 8)
	var buf []byte
	for ctx.Err() == nil {
		if _, err := io.ReadFull(logs, header); err != nil {
			if err != io.EOF && ctx.Err() == nil {
				logger.Debug("log stream ended", "error", err)
			}
			return
		}
		size := int(header[4])<<24 | int(header[5])<<16 | int(header[6])<<8 | int(header[7])
		if size == 0 {
			continue
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(logs, payload); err != nil {
			logger.Debug("failed to read log payload", "error", err)
			return
		}

		buf = append(buf, payload...)
		for {
			i := bytes.IndexByte(buf, '\n')
			if i < 0 {
				break
			}
			line := buf[:i]
			buf = buf[i+1:]
			if ev, ok := parseReportLine(jobID, line); ok {
				ev.Time = time.Now()
				em.Emit(ev)
			}
		}
	}
}

func (e *Executor) waitForExit(ctx context.Context, containerID string) (int, error) {
	statusCh, errCh := e.client.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case <-ctx.Done():
		return -1, ctx.Err()
	case err := <-errCh:
		return -1, err
	case status := <-statusCh:
		if status.Error != nil {
			return int(status.StatusCode), fmt.Errorf("%s", status.Error.Message)
		}
		return int(status.StatusCode), nil
	}
}

// RequestCancel stops the job's container: SIGTERM, then SIGKILL once
// the grace period ends. A watchdog synthesizes the cancelled event if
// the daemon never reports the exit.
func (e *Executor) RequestCancel(jobID string) {
	e.mu.Lock()
	r, ok := e.runs[jobID]
	var containerID string
	if ok {
		r.cancelRequested.Store(true)
		containerID = r.containerID
	}
	e.mu.Unlock()
	if !ok {
		return
	}

	r.cancelOnce.Do(func() {
		e.logger.Info("cancellation requested", "jobId", jobID, "grace", e.cfg.CancelGrace)
		if containerID != "" {
			e.stopContainer(context.Background(), containerID)
		}
		go func() {
			select {
			case <-r.done:
			case <-time.After(2 * e.cfg.CancelGrace):
				e.logger.Warn("grace period elapsed, abandoning container", "jobId", jobID)
				r.em.Emit(job.Event{Type: job.EventCancelled, JobID: jobID, Time: time.Now()})
			}
		}()
	})
}

func (e *Executor) stopContainer(ctx context.Context, containerID string) {
	grace := int(e.cfg.CancelGrace.Seconds())
	if err := e.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &grace}); err != nil {
		e.logger.Warn("failed to stop container", "containerId", containerID[:12], "error", err)
	}
}

func (e *Executor) removeContainer(ctx context.Context, containerID string) {
	if containerID == "" {
		return
	}
	_ = e.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
}

func (e *Executor) pullImageIfNeeded(ctx context.Context, imageName string) error {
	_, err := e.client.ImageInspect(ctx, imageName)
	if err == nil {
		return nil
	}

	reader, err := e.client.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

func (e *Executor) emitStartFailure(em *worker.Emitter, jobID string, err error) {
	em.Emit(job.Event{
		Type:  job.EventFailed,
		JobID: jobID,
		Time:  time.Now(),
		Err: &job.Error{
			Code:    job.CodeWorkerStartFailed,
			Message: err.Error(),
		},
	})
}

// Ready verifies the Docker daemon is reachable.
func (e *Executor) Ready(ctx context.Context) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return errors.New("docker executor is closed")
	}
	if _, err := e.client.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon unreachable: %w", err)
	}
	return nil
}

// Close stops accepting new jobs, waits for container watchers bounded
// by ctx, then releases the client. Containers themselves are not
// stopped; their jobs keep running on the daemon.
func (e *Executor) Close(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		e.client.Close()
		return fmt.Errorf("close: %w", ctx.Err())
	}
	return e.client.Close()
}

var _ worker.Executor = (*Executor)(nil)
