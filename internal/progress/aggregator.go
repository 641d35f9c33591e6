// Package progress turns raw worker events into job-record mutations and
// decides when the rest of the system should be told about them.
package progress

import (
	"time"

	"trainhub/internal/job"
)

// Aggregator tracks notification cadence for a single job. It is owned by
// the queue manager's per-job event pump and is not safe for concurrent
// use; all mutation of the job record happens inside the store's critical
// section via Apply's mutate callback.
type Aggregator struct {
	bestKey   string
	startedAt time.Time
	now       func() time.Time

	lastNotifiedPct  float64
	lastNotifiedStep int
	lastPhase        job.Phase
}

// notifyPercentDelta is the minimum absolute percentage-point advance
// between throttled progress notifications.
const notifyPercentDelta = 5.0

// NewAggregator returns an aggregator for one job. bestKey names the
// metric whose best observed value is tracked; startedAt anchors the ETA
// extrapolation.
func NewAggregator(bestKey string, startedAt time.Time) *Aggregator {
	return &Aggregator{
		bestKey:   bestKey,
		startedAt: startedAt,
		now:       time.Now,
	}
}

// Apply folds a worker event into the job record and reports whether a
// notification (callback + broadcast) should go out. Callers pass the
// job under the store's write lock so reads never see a half-applied
// update.
//
// A notification fires when the phase just changed, when percentage has
// advanced at least five points since the last notification, or when at
// least one full step has completed since the last notification.
func (a *Aggregator) Apply(ev job.Event, j *job.Job) bool {
	switch ev.Type {
	case job.EventPhaseChanged:
		j.Progress.Phase = ev.Phase
		a.lastPhase = ev.Phase
		return true
	case job.EventProgress:
		return a.applyProgress(ev, j)
	default:
		// Terminal events are the queue manager's concern.
		return false
	}
}

func (a *Aggregator) applyProgress(ev job.Event, j *job.Job) bool {
	// Percentage never moves backwards while the job is training, even
	// if the worker replays or reorders its own reporting.
	if ev.Percentage > j.Progress.Percentage {
		j.Progress.Percentage = ev.Percentage
	}
	j.Progress.CurrentStep = ev.Step
	j.Progress.TotalSteps = ev.TotalSteps
	if ev.Phase != "" {
		j.Progress.Phase = ev.Phase
	}
	j.Progress.ETASeconds = a.eta(j.Progress.Percentage)

	if len(ev.Metrics) > 0 {
		if j.Metrics.Current == nil {
			j.Metrics.Current = make(map[string]float64, len(ev.Metrics))
		}
		for k, v := range ev.Metrics {
			j.Metrics.Current[k] = v
		}
		a.updateBest(ev, j)
	}

	phaseChanged := ev.Phase != "" && ev.Phase != a.lastPhase
	if phaseChanged {
		a.lastPhase = ev.Phase
	}

	notify := phaseChanged ||
		j.Progress.Percentage-a.lastNotifiedPct >= notifyPercentDelta ||
		ev.Step-a.lastNotifiedStep >= 1
	if notify {
		a.lastNotifiedPct = j.Progress.Percentage
		a.lastNotifiedStep = ev.Step
	}
	return notify
}

// updateBest replaces metrics.best only on strict improvement, so the
// earliest observation wins a tie.
func (a *Aggregator) updateBest(ev job.Event, j *job.Job) {
	v, ok := ev.Metrics[a.bestKey]
	if !ok {
		return
	}
	if j.Metrics.Best != nil && v <= j.Metrics.Best.Value {
		return
	}
	j.Metrics.Best = &job.BestMetric{Key: a.bestKey, Value: v, Step: ev.Step}
}

// eta linearly extrapolates remaining seconds from elapsed time and the
// fraction complete. Undefined at zero progress.
func (a *Aggregator) eta(percentage float64) *float64 {
	f := percentage / 100
	if f <= 0 {
		return nil
	}
	elapsed := a.now().Sub(a.startedAt).Seconds()
	remaining := elapsed * (1 - f) / f
	if remaining < 0 {
		remaining = 0
	}
	return &remaining
}
