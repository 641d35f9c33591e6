// Package queue implements admission control and job lifecycle
// coordination. The Manager is the sole mutator of job status: it
// creates records on submission, enforces the concurrency ceiling,
// starts and cancels worker executors, and finalizes jobs when their
// event sequence ends.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"trainhub/internal/apperrors"
	"trainhub/internal/broadcast"
	"trainhub/internal/dispatcher"
	"trainhub/internal/job"
	"trainhub/internal/progress"
	"trainhub/internal/worker"
)

// MetricsRecorder is an optional interface for recording job metrics.
type MetricsRecorder interface {
	RecordJobSubmitted(ctx context.Context, model string)
	RecordJobFinished(ctx context.Context, model string, status job.Status, durationSeconds float64)
	RecordQueueDepth(ctx context.Context, queued, active int64)
}

// Config holds manager configuration.
type Config struct {
	// MaxConcurrentJobs is the admission ceiling (default 2). Jobs
	// beyond it wait in FIFO order.
	MaxConcurrentJobs int
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentJobs <= 0 {
		c.MaxConcurrentJobs = 2
	}
	return c
}

// Manager owns the job record store and coordinates every component
// around it.
type Manager struct {
	cfg     Config
	store   *job.Store
	exec    worker.Executor
	disp    dispatcher.Dispatcher
	bcast   *broadcast.Broadcaster
	metrics MetricsRecorder
	logger  *slog.Logger

	mu      sync.Mutex
	waiting []string // queued job IDs in submission order
	active  map[string]struct{}
	closed  bool

	pumps sync.WaitGroup
}

// New creates a manager. metrics may be nil.
func New(cfg Config, store *job.Store, exec worker.Executor, disp dispatcher.Dispatcher, bcast *broadcast.Broadcaster, metrics MetricsRecorder) *Manager {
	return &Manager{
		cfg:     cfg.withDefaults(),
		store:   store,
		exec:    exec,
		disp:    disp,
		bcast:   bcast,
		metrics: metrics,
		logger:  slog.With("component", "queue"),
		active:  make(map[string]struct{}),
	}
}

// Submit validates and admits a job. The job starts immediately when a
// slot is free, otherwise it waits queued in FIFO order. Returns the
// job snapshot after admission.
func (m *Manager) Submit(ctx context.Context, req job.Request) (job.Job, error) {
	job.ApplyDefaults(&req)
	if err := job.Validate(&req); err != nil {
		return job.Job{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return job.Job{}, apperrors.Conflict("service", req.ID, "service is shutting down")
	}

	now := time.Now().UTC()
	rec := &job.Job{
		ID:        req.ID,
		Name:      req.Name,
		Status:    job.StatusPending,
		Config:    req,
		CreatedAt: now,
	}
	if err := m.store.Create(rec); err != nil {
		return job.Job{}, err
	}

	// pending is only ever observable as history: admission happens in
	// the same critical section as creation.
	snap, err := m.store.Transition(req.ID, job.StatusQueued, nil)
	if err != nil {
		return job.Job{}, err
	}

	if len(m.active) < m.cfg.MaxConcurrentJobs {
		snap, err = m.begin(req.ID)
		if err != nil {
			return job.Job{}, err
		}
	} else {
		m.waiting = append(m.waiting, req.ID)
		m.logger.Info("job queued", "jobId", req.ID, "position", len(m.waiting))
	}

	if m.metrics != nil {
		m.metrics.RecordJobSubmitted(ctx, req.Training.Model)
	}
	m.reportDepthLocked(ctx)
	return snap, nil
}

// begin moves a queued job to training and starts its pump. Caller
// holds m.mu.
func (m *Manager) begin(jobID string) (job.Job, error) {
	snap, err := m.store.Transition(jobID, job.StatusTraining, func(j *job.Job) {
		now := time.Now().UTC()
		j.StartedAt = &now
	})
	if err != nil {
		return job.Job{}, err
	}
	m.active[jobID] = struct{}{}
	m.pumps.Add(1)
	go m.runJob(snap)
	m.logger.Info("job started", "jobId", jobID, "active", len(m.active))
	return snap, nil
}

// runJob consumes one job's event sequence from the executor until its
// terminal event, feeding the aggregator, dispatcher, and broadcaster.
func (m *Manager) runJob(j job.Job) {
	defer m.pumps.Done()

	startedAt := j.CreatedAt
	if j.StartedAt != nil {
		startedAt = *j.StartedAt
	}
	agg := progress.NewAggregator(j.Config.BestMetric, startedAt)

	events := m.exec.Start(context.Background(), j)
	for ev := range events {
		if ev.Type.Terminal() {
			m.finish(j, ev)
		} else {
			m.applyProgress(j, ev, agg)
		}
	}
}

func (m *Manager) applyProgress(j job.Job, ev job.Event, agg *progress.Aggregator) {
	var notify bool
	snap, err := m.store.Update(j.ID, func(rec *job.Job) {
		notify = agg.Apply(ev, rec)
	})
	if err != nil {
		// The job was finalized under us (forced cancel); the pump is
		// just draining stragglers now.
		return
	}
	if !notify {
		return
	}

	m.bcast.Publish(ev)
	if cb := j.Config.Callback; cb != nil {
		m.dispatch(&dispatcher.Delivery{
			JobID:   j.ID,
			URL:     cb.URL,
			Secret:  cb.Secret,
			Payload: job.ProgressNotification(snap),
		})
	}
}

// finish records the terminal event, notifies, and admits the next
// queued job.
func (m *Manager) finish(j job.Job, ev job.Event) {
	status := terminalStatus(ev.Type)
	snap, err := m.store.Transition(j.ID, status, func(rec *job.Job) {
		now := time.Now().UTC()
		rec.CompletedAt = &now
		switch ev.Type {
		case job.EventCompleted:
			rec.Progress.Percentage = 100
			rec.Progress.ETASeconds = nil
			rec.Artifacts = ev.Artifacts
			if len(ev.Metrics) > 0 {
				if rec.Metrics.Current == nil {
					rec.Metrics.Current = make(map[string]float64, len(ev.Metrics))
				}
				for k, v := range ev.Metrics {
					rec.Metrics.Current[k] = v
				}
			}
		case job.EventFailed:
			rec.Error = ev.Err
		}
	})
	if err != nil {
		// Already finalized, e.g. a synthesized cancel beat a late
		// failure from the abandoned worker.
		m.logger.Debug("terminal event on finalized job", "jobId", j.ID, "event", ev.Type)
		return
	}
	m.logger.Info("job finished", "jobId", j.ID, "status", status)

	m.bcast.Publish(ev)
	if cb := j.Config.Callback; cb != nil {
		m.dispatch(&dispatcher.Delivery{
			JobID:   j.ID,
			URL:     cb.URL,
			Secret:  cb.Secret,
			Payload: job.TerminalNotification(snap),
		})
	}

	if m.metrics != nil && snap.StartedAt != nil {
		m.metrics.RecordJobFinished(context.Background(), j.Config.Training.Model,
			status, time.Since(*snap.StartedAt).Seconds())
	}

	m.mu.Lock()
	delete(m.active, j.ID)
	m.admitNext()
	m.reportDepthLocked(context.Background())
	m.mu.Unlock()
}

func terminalStatus(t job.EventType) job.Status {
	switch t {
	case job.EventCompleted:
		return job.StatusCompleted
	case job.EventCancelled:
		return job.StatusCancelled
	default:
		return job.StatusFailed
	}
}

// admitNext starts waiting jobs while slots are free. Caller holds m.mu.
func (m *Manager) admitNext() {
	for len(m.waiting) > 0 && len(m.active) < m.cfg.MaxConcurrentJobs && !m.closed {
		next := m.waiting[0]
		m.waiting = m.waiting[1:]
		if _, err := m.begin(next); err != nil {
			// Cancelled while waiting; its record is already terminal.
			m.logger.Debug("skipping unstartable job", "jobId", next, "error", err)
		}
	}
}

// Cancel stops a job. A queued job is finalized directly and never
// produces a single progress event; a training job gets a cooperative
// cancellation request through its executor and finalizes when the
// cancelled acknowledgment comes back through the pump.
func (m *Manager) Cancel(ctx context.Context, jobID string) (job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, err := m.store.Get(jobID)
	if err != nil {
		return job.Job{}, err
	}

	switch snap.Status {
	case job.StatusQueued:
		m.removeWaiting(jobID)
		snap, err = m.store.Transition(jobID, job.StatusCancelled, func(j *job.Job) {
			now := time.Now().UTC()
			j.CancelRequested = true
			j.CompletedAt = &now
		})
		if err != nil {
			return job.Job{}, err
		}
		m.logger.Info("queued job cancelled", "jobId", jobID)

		m.bcast.Publish(job.Event{Type: job.EventCancelled, JobID: jobID, Time: time.Now()})
		if cb := snap.Config.Callback; cb != nil {
			m.dispatch(&dispatcher.Delivery{
				JobID:   jobID,
				URL:     cb.URL,
				Secret:  cb.Secret,
				Payload: job.TerminalNotification(snap),
			})
		}
		return snap, nil

	case job.StatusTraining:
		snap, err = m.store.Update(jobID, func(j *job.Job) {
			j.CancelRequested = true
		})
		if err != nil {
			return job.Job{}, err
		}
		m.exec.RequestCancel(jobID)
		return snap, nil

	default:
		return job.Job{}, apperrors.Conflict("job", jobID,
			fmt.Sprintf("job %s is already %s", jobID, snap.Status))
	}
}

func (m *Manager) removeWaiting(jobID string) {
	for i, id := range m.waiting {
		if id == jobID {
			m.waiting = append(m.waiting[:i], m.waiting[i+1:]...)
			return
		}
	}
}

// Get returns a job snapshot.
func (m *Manager) Get(jobID string) (job.Job, error) {
	return m.store.Get(jobID)
}

// List returns job snapshots, newest first.
func (m *Manager) List(filter job.ListFilter) []job.Job {
	return m.store.List(filter)
}

// Stats summarizes the system's current shape.
type Stats struct {
	Counts     map[job.Status]int `json:"counts"`
	Active     int                `json:"active"`
	QueueDepth int                `json:"queueDepth"`
	Dispatcher dispatcher.Stats   `json:"dispatcher"`
}

// Stats reports per-status counts plus admission and delivery state.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	active := len(m.active)
	depth := len(m.waiting)
	m.mu.Unlock()
	return Stats{
		Counts:     m.store.CountByStatus(),
		Active:     active,
		QueueDepth: depth,
		Dispatcher: m.disp.Stats(),
	}
}

// Restore loads jobs from a snapshot taken before a restart. Jobs that
// were mid-training are marked failed: their workers died with the old
// process. Queued and pending jobs rejoin the admission queue.
func (m *Manager) Restore(jobs []job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var requeue []string
	for i := range jobs {
		rec := jobs[i]
		switch rec.Status {
		case job.StatusTraining:
			rec.Status = job.StatusFailed
			now := time.Now().UTC()
			rec.CompletedAt = &now
			rec.Error = &job.Error{
				Code:    job.CodeWorkerCrashed,
				Message: "orchestrator restarted during execution",
			}
		case job.StatusPending, job.StatusQueued:
			rec.Status = job.StatusQueued
			requeue = append(requeue, rec.ID)
		}
		if err := m.store.Create(&rec); err != nil {
			return fmt.Errorf("failed to restore job %s: %w", rec.ID, err)
		}
	}
	m.waiting = append(m.waiting, requeue...)
	m.admitNext()

	m.logger.Info("restored jobs from snapshot", "total", len(jobs), "requeued", len(requeue))
	return nil
}

// Snapshot returns every job for persistence.
func (m *Manager) Snapshot() []job.Job {
	return m.store.All()
}

// Close stops admitting jobs and waits for running pumps to drain,
// bounded by ctx. Executor shutdown is the caller's next phase.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.pumps.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("close: %w", ctx.Err())
	}
}

func (m *Manager) dispatch(d *dispatcher.Delivery) {
	// Drops are logged and counted by the dispatcher itself.
	_ = m.disp.Dispatch(d)
}

// reportDepthLocked records admission gauges. Caller holds m.mu.
func (m *Manager) reportDepthLocked(ctx context.Context) {
	if m.metrics == nil {
		return
	}
	m.metrics.RecordQueueDepth(ctx, int64(len(m.waiting)), int64(len(m.active)))
}
