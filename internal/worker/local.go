package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"trainhub/internal/job"
)

const (
	defaultCancelGrace = 10 * time.Second
	defaultEventBuffer = 64
)

// LocalConfig tunes the in-process executor.
type LocalConfig struct {
	// CancelGrace bounds how long a cancelled job may keep running
	// before the supervisor abandons it and synthesizes the cancelled
	// acknowledgment.
	CancelGrace time.Duration

	// EventBuffer is the per-job event channel capacity. A slow
	// consumer applies backpressure to the trainer once it fills.
	EventBuffer int
}

func (c *LocalConfig) withDefaults() LocalConfig {
	out := *c
	if out.CancelGrace <= 0 {
		out.CancelGrace = defaultCancelGrace
	}
	if out.EventBuffer <= 0 {
		out.EventBuffer = defaultEventBuffer
	}
	return out
}

// LocalExecutor runs each job's trainer in a supervised goroutine. It is
// the development and test backend; production deployments use the
// docker executor.
type LocalExecutor struct {
	trainer Trainer
	cfg     LocalConfig
	logger  *slog.Logger

	mu     sync.Mutex
	runs   map[string]*localRun
	closed bool
	wg     sync.WaitGroup
}

type localRun struct {
	cancel     context.CancelFunc
	em         *Emitter
	done       chan struct{}
	cancelOnce sync.Once
}

// NewLocal returns an executor that runs jobs with the given trainer.
func NewLocal(trainer Trainer, cfg LocalConfig, logger *slog.Logger) *LocalExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalExecutor{
		trainer: trainer,
		cfg:     cfg.withDefaults(),
		logger:  logger.With("component", "worker"),
		runs:    make(map[string]*localRun),
	}
}

// Start launches the job's trainer in its own goroutine. The returned
// channel carries the job's ordered events and closes after the
// terminal one.
func (e *LocalExecutor) Start(ctx context.Context, j job.Job) <-chan job.Event {
	out := make(chan job.Event, e.cfg.EventBuffer)
	em := NewEmitter(out)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		em.Emit(job.Event{
			Type:  job.EventFailed,
			JobID: j.ID,
			Time:  time.Now(),
			Err: &job.Error{
				Code:    job.CodeWorkerStartFailed,
				Message: "executor is shutting down",
			},
		})
		return out
	}
	// The run context is detached from the caller's: a job outlives the
	// HTTP request that submitted it.
	runCtx, cancel := context.WithCancel(context.Background())
	r := &localRun{cancel: cancel, em: em, done: make(chan struct{})}
	e.runs[j.ID] = r
	e.wg.Add(1)
	e.mu.Unlock()

	go e.supervise(runCtx, j, r)
	return out
}

func (e *LocalExecutor) supervise(ctx context.Context, j job.Job, r *localRun) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("trainer panicked", "jobId", j.ID, "panic", rec)
			r.em.Emit(job.Event{
				Type:  job.EventFailed,
				JobID: j.ID,
				Time:  time.Now(),
				Err: &job.Error{
					Code:    job.CodeWorkerCrashed,
					Message: fmt.Sprintf("worker panicked: %v", rec),
				},
			})
		}
		e.mu.Lock()
		delete(e.runs, j.ID)
		e.mu.Unlock()
		close(r.done)
		e.wg.Done()
	}()

	report := func(ev job.Event) {
		ev.JobID = j.ID
		ev.Time = time.Now()
		r.em.Emit(ev)
	}

	result, err := e.trainer.Run(ctx, j, report)
	r.em.Emit(e.terminalEvent(j.ID, result, err))
}

// terminalEvent maps the trainer's return into the job's terminal event.
// Cooperative cancellation, diagnosed training failures, and unexpected
// exits each carry a distinct code.
func (e *LocalExecutor) terminalEvent(jobID string, result *Result, err error) job.Event {
	ev := job.Event{JobID: jobID, Time: time.Now()}
	switch {
	case err == nil:
		ev.Type = job.EventCompleted
		if result != nil {
			ev.Metrics = result.Metrics
			ev.Artifacts = result.Artifacts
		}
	case errors.Is(err, context.Canceled):
		ev.Type = job.EventCancelled
	default:
		ev.Type = job.EventFailed
		var te *TrainError
		if errors.As(err, &te) {
			ev.Err = &job.Error{Code: te.Code, Message: te.Message, Phase: te.Phase}
		} else {
			ev.Err = &job.Error{Code: job.CodeWorkerCrashed, Message: err.Error()}
		}
	}
	return ev
}

// RequestCancel cancels the job's run context, then arms a watchdog: if
// the trainer has not exited when the grace period ends, the supervisor
// abandons it and emits the cancelled event itself. Idempotent; unknown
// jobs are a no-op.
func (e *LocalExecutor) RequestCancel(jobID string) {
	e.mu.Lock()
	r, ok := e.runs[jobID]
	e.mu.Unlock()
	if !ok {
		return
	}

	r.cancelOnce.Do(func() {
		e.logger.Info("cancellation requested", "jobId", jobID, "grace", e.cfg.CancelGrace)
		r.cancel()
		go func() {
			select {
			case <-r.done:
			case <-time.After(e.cfg.CancelGrace):
				e.logger.Warn("grace period elapsed, abandoning worker", "jobId", jobID)
				r.em.Emit(job.Event{Type: job.EventCancelled, JobID: jobID, Time: time.Now()})
			}
		}()
	})
}

// Ready reports whether the executor can accept work.
func (e *LocalExecutor) Ready(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New("local executor is closed")
	}
	return nil
}

// Close stops accepting new jobs and waits for running ones to finish,
// bounded by ctx.
func (e *LocalExecutor) Close(ctx context.Context) error {
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
		return nil
	case <-ctx.Done():
		return fmt.Errorf("close: %w", ctx.Err())
	}
}

