package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"trainhub/internal/job"
)

// trainerFunc adapts a function to the Trainer interface.
type trainerFunc func(ctx context.Context, j job.Job, report ReportFunc) (*Result, error)

func (f trainerFunc) Run(ctx context.Context, j job.Job, report ReportFunc) (*Result, error) {
	return f(ctx, j, report)
}

func testJob(epochs int) job.Job {
	return job.Job{
		ID:     "j1",
		Status: job.StatusTraining,
		Config: job.Request{
			ID:       "j1",
			Training: job.TrainingConfig{Epochs: epochs},
		},
	}
}

// drain collects every event until the channel closes.
func drain(t *testing.T, ch <-chan job.Event) []job.Event {
	t.Helper()
	var events []job.Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("event channel never closed; got %d events", len(events))
		}
	}
}

func TestLocalExecutorCompletes(t *testing.T) {
	t.Parallel()

	e := NewLocal(&SimTrainer{}, LocalConfig{}, nil)
	events := drain(t, e.Start(context.Background(), testJob(5)))

	if len(events) == 0 {
		t.Fatal("no events")
	}
	last := events[len(events)-1]
	if last.Type != job.EventCompleted {
		t.Fatalf("last event = %s", last.Type)
	}
	if last.Artifacts["weights"] == "" {
		t.Error("completed event has no artifacts")
	}
	if last.Metrics["map50"] == 0 {
		t.Error("completed event has no final metrics")
	}

	// One terminal event, at the end, and nothing out of order before it.
	var progressSteps []int
	for i, ev := range events {
		if ev.Type.Terminal() && i != len(events)-1 {
			t.Fatalf("terminal event at index %d of %d", i, len(events))
		}
		if ev.JobID != "j1" {
			t.Errorf("event %d has jobId %q", i, ev.JobID)
		}
		if ev.Type == job.EventProgress {
			progressSteps = append(progressSteps, ev.Step)
		}
	}
	if len(progressSteps) != 5 {
		t.Fatalf("progress events = %d, want 5", len(progressSteps))
	}
	for i, step := range progressSteps {
		if step != i+1 {
			t.Errorf("progress step %d = %d", i, step)
		}
	}
	if events[0].Type != job.EventPhaseChanged || events[0].Phase != job.PhaseDownloading {
		t.Errorf("first event = %s/%s", events[0].Type, events[0].Phase)
	}
}

func TestSimTrainerMetricsPerEvent(t *testing.T) {
	t.Parallel()

	// Progress events queue up behind a slow consumer, so each one
	// must carry its own metrics snapshot rather than a view of a map
	// later steps keep writing.
	var events []job.Event
	s := &SimTrainer{}
	if _, err := s.Run(context.Background(), testJob(4), func(ev job.Event) {
		events = append(events, ev)
	}); err != nil {
		t.Fatal(err)
	}

	seen := 0
	for _, ev := range events {
		if ev.Type != job.EventProgress {
			continue
		}
		seen++
		f := float64(ev.Step) / 4
		if got, want := ev.Metrics["map50"], simMetricCurve(0.85, f); got != want {
			t.Errorf("step %d map50 = %f, want %f", ev.Step, got, want)
		}
	}
	if seen != 4 {
		t.Fatalf("progress events = %d, want 4", seen)
	}
}

func TestLocalExecutorTrainError(t *testing.T) {
	t.Parallel()

	e := NewLocal(&SimTrainer{FailAtStep: 3, FailCode: "DatasetCorrupt"}, LocalConfig{}, nil)
	events := drain(t, e.Start(context.Background(), testJob(10)))

	last := events[len(events)-1]
	if last.Type != job.EventFailed {
		t.Fatalf("last event = %s", last.Type)
	}
	if last.Err == nil || last.Err.Code != "DatasetCorrupt" {
		t.Errorf("error = %+v", last.Err)
	}
	if last.Err.Phase != job.PhaseTraining {
		t.Errorf("phase = %s", last.Err.Phase)
	}
}

func TestLocalExecutorPanicIsWorkerCrashed(t *testing.T) {
	t.Parallel()

	e := NewLocal(trainerFunc(func(ctx context.Context, j job.Job, report ReportFunc) (*Result, error) {
		panic("segfault in native layer")
	}), LocalConfig{}, nil)
	events := drain(t, e.Start(context.Background(), testJob(1)))

	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].Type != job.EventFailed || events[0].Err.Code != job.CodeWorkerCrashed {
		t.Errorf("event = %+v", events[0])
	}
}

func TestLocalExecutorCooperativeCancel(t *testing.T) {
	t.Parallel()

	e := NewLocal(&SimTrainer{StepDuration: 20 * time.Millisecond}, LocalConfig{CancelGrace: 5 * time.Second}, nil)
	ch := e.Start(context.Background(), testJob(1000))

	// Let it get going, then cancel twice to check idempotence.
	var seen []job.Event
	for ev := range ch {
		seen = append(seen, ev)
		if ev.Type == job.EventProgress && ev.Step >= 2 {
			e.RequestCancel("j1")
			e.RequestCancel("j1")
			break
		}
	}
	rest := drain(t, ch)

	last := rest[len(rest)-1]
	if last.Type != job.EventCancelled {
		t.Fatalf("last event = %s", last.Type)
	}
}

func TestLocalExecutorForceCancelAfterGrace(t *testing.T) {
	t.Parallel()

	e := NewLocal(&SimTrainer{StepDuration: 10 * time.Millisecond, Stubborn: true},
		LocalConfig{CancelGrace: 50 * time.Millisecond}, nil)
	ch := e.Start(context.Background(), testJob(100000))

	for ev := range ch {
		if ev.Type == job.EventProgress {
			e.RequestCancel("j1")
			break
		}
	}

	start := time.Now()
	events := drain(t, ch)
	last := events[len(events)-1]
	if last.Type != job.EventCancelled {
		t.Fatalf("last event = %s", last.Type)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("force cancel took %s", elapsed)
	}
}

func TestLocalExecutorCancelUnknownJobIsNoop(t *testing.T) {
	t.Parallel()

	e := NewLocal(&SimTrainer{}, LocalConfig{}, nil)
	e.RequestCancel("nope")
}

func TestLocalExecutorStartAfterClose(t *testing.T) {
	t.Parallel()

	e := NewLocal(&SimTrainer{}, LocalConfig{}, nil)
	if err := e.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := e.Ready(context.Background()); err == nil {
		t.Error("Ready should fail after Close")
	}

	events := drain(t, e.Start(context.Background(), testJob(1)))
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].Type != job.EventFailed || events[0].Err.Code != job.CodeWorkerStartFailed {
		t.Errorf("event = %+v", events[0])
	}
}

func TestLocalExecutorCloseWaitsForJobs(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	e := NewLocal(trainerFunc(func(ctx context.Context, j job.Job, report ReportFunc) (*Result, error) {
		<-release
		return &Result{}, nil
	}), LocalConfig{}, nil)
	ch := e.Start(context.Background(), testJob(1))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := e.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}

	close(release)
	drain(t, ch)
	if err := e.Close(context.Background()); err != nil {
		t.Errorf("second close: %v", err)
	}
}
