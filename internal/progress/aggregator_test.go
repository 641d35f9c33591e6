package progress

import (
	"math"
	"testing"
	"time"

	"trainhub/internal/job"
)

func newTestAggregator(bestKey string, elapsed time.Duration) *Aggregator {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := NewAggregator(bestKey, start)
	a.now = func() time.Time { return start.Add(elapsed) }
	return a
}

func progressEvent(step, total int, pct float64, metrics map[string]float64) job.Event {
	return job.Event{
		Type:       job.EventProgress,
		JobID:      "j1",
		Step:       step,
		TotalSteps: total,
		Percentage: pct,
		Metrics:    metrics,
		Phase:      job.PhaseTraining,
	}
}

func TestETAExtrapolation(t *testing.T) {
	t.Parallel()

	// 25% done after 100s: remaining = 100 * 0.75/0.25 = 300s.
	a := newTestAggregator("map50", 100*time.Second)
	j := &job.Job{ID: "j1", Status: job.StatusTraining}

	a.Apply(progressEvent(25, 100, 25, nil), j)
	if j.Progress.ETASeconds == nil {
		t.Fatal("expected an ETA")
	}
	if got := *j.Progress.ETASeconds; math.Abs(got-300) > 0.001 {
		t.Errorf("eta = %f, want 300", got)
	}
}

func TestETAUndefinedAtZeroProgress(t *testing.T) {
	t.Parallel()

	a := newTestAggregator("map50", time.Minute)
	j := &job.Job{ID: "j1", Status: job.StatusTraining}

	a.Apply(progressEvent(0, 100, 0, nil), j)
	if j.Progress.ETASeconds != nil {
		t.Errorf("eta = %f, want nil", *j.Progress.ETASeconds)
	}
}

func TestBestMetricStrictImprovement(t *testing.T) {
	t.Parallel()

	a := newTestAggregator("map50", time.Second)
	j := &job.Job{ID: "j1", Status: job.StatusTraining}

	a.Apply(progressEvent(1, 10, 10, map[string]float64{"map50": 0.5}), j)
	if j.Metrics.Best == nil || j.Metrics.Best.Value != 0.5 || j.Metrics.Best.Step != 1 {
		t.Fatalf("best = %+v", j.Metrics.Best)
	}

	// A tie keeps the earlier observation.
	a.Apply(progressEvent(2, 10, 20, map[string]float64{"map50": 0.5}), j)
	if j.Metrics.Best.Step != 1 {
		t.Errorf("tie replaced best: %+v", j.Metrics.Best)
	}

	// A regression keeps the earlier observation.
	a.Apply(progressEvent(3, 10, 30, map[string]float64{"map50": 0.4}), j)
	if j.Metrics.Best.Value != 0.5 {
		t.Errorf("regression replaced best: %+v", j.Metrics.Best)
	}

	// A strict improvement replaces it.
	a.Apply(progressEvent(4, 10, 40, map[string]float64{"map50": 0.6}), j)
	if j.Metrics.Best.Value != 0.6 || j.Metrics.Best.Step != 4 {
		t.Errorf("improvement not recorded: %+v", j.Metrics.Best)
	}

	// Current metrics always track the latest report.
	if j.Metrics.Current["map50"] != 0.6 {
		t.Errorf("current = %v", j.Metrics.Current)
	}
}

func TestPercentageNeverDecreases(t *testing.T) {
	t.Parallel()

	a := newTestAggregator("map50", time.Second)
	j := &job.Job{ID: "j1", Status: job.StatusTraining}

	a.Apply(progressEvent(5, 10, 50, nil), j)
	a.Apply(progressEvent(5, 10, 30, nil), j)
	if j.Progress.Percentage != 50 {
		t.Errorf("percentage = %f, want 50", j.Progress.Percentage)
	}
}

func TestNotifyOncePerStep(t *testing.T) {
	t.Parallel()

	// 20 steps, 5 points each: one notification per step, no more.
	a := newTestAggregator("map50", time.Second)
	j := &job.Job{ID: "j1", Status: job.StatusTraining}

	notifies := 0
	for step := 1; step <= 20; step++ {
		if a.Apply(progressEvent(step, 20, float64(step)*5, nil), j) {
			notifies++
		}
		// Duplicate report for the same step must stay silent.
		if a.Apply(progressEvent(step, 20, float64(step)*5, nil), j) {
			notifies++
		}
	}
	if notifies != 20 {
		t.Errorf("notifies = %d, want 20", notifies)
	}
}

func TestNotifyOnPhaseChange(t *testing.T) {
	t.Parallel()

	a := newTestAggregator("map50", time.Second)
	j := &job.Job{ID: "j1", Status: job.StatusTraining}

	if !a.Apply(job.Event{Type: job.EventPhaseChanged, JobID: "j1", Phase: job.PhaseDownloading}, j) {
		t.Error("phase change must notify")
	}
	if j.Progress.Phase != job.PhaseDownloading {
		t.Errorf("phase = %s", j.Progress.Phase)
	}

	// A progress event carrying a new phase also notifies, even with no
	// step or percentage advance.
	ev := progressEvent(0, 20, 0, nil)
	ev.Phase = job.PhasePreparing
	if !a.Apply(ev, j) {
		t.Error("progress with new phase must notify")
	}
}

func TestTerminalEventsAreIgnored(t *testing.T) {
	t.Parallel()

	a := newTestAggregator("map50", time.Second)
	j := &job.Job{ID: "j1", Status: job.StatusTraining}

	if a.Apply(job.Event{Type: job.EventCompleted, JobID: "j1"}, j) {
		t.Error("completed is not an aggregator notification")
	}
}
