package worker

import (
	"context"
	"fmt"
	"math"
	"time"

	"trainhub/internal/job"
)

// ReportFunc receives phase and progress events from a running trainer.
// The executor fills in JobID and Time before forwarding.
type ReportFunc func(ev job.Event)

// Result is what a trainer hands back on successful completion.
type Result struct {
	Metrics   map[string]float64
	Artifacts map[string]string
}

// TrainError is a structured training failure. Trainers return it to
// distinguish a diagnosed failure (bad dataset, diverged loss) from an
// unexpected crash.
type TrainError struct {
	Code    string
	Message string
	Phase   job.Phase
}

func (e *TrainError) Error() string {
	return fmt.Sprintf("training failed in phase %s: %s", e.Phase, e.Message)
}

// Trainer is the model-fitting loop itself, opaque to the rest of the
// system. It reports progress through report and honors ctx
// cancellation by returning ctx.Err().
type Trainer interface {
	Run(ctx context.Context, j job.Job, report ReportFunc) (*Result, error)
}

// SimTrainer fakes a training run: it walks the download/prepare/train
// phases, emits one progress event per epoch with a plausible metric
// ramp, and finishes with synthetic artifact paths. It backs the local
// executor in development and in tests.
type SimTrainer struct {
	// StepDuration is how long each simulated epoch takes. Zero means
	// as fast as the scheduler allows.
	StepDuration time.Duration

	// FailAtStep makes the run return a TrainError when the given
	// epoch is reached. Zero disables it.
	FailAtStep int
	FailCode   string

	// Stubborn makes the trainer ignore ctx cancellation, forcing the
	// executor down its grace-expiry path.
	Stubborn bool
}

func (s *SimTrainer) Run(ctx context.Context, j job.Job, report ReportFunc) (*Result, error) {
	total := j.Config.Training.Epochs

	for _, phase := range []job.Phase{job.PhaseDownloading, job.PhasePreparing} {
		if err := s.wait(ctx); err != nil {
			return nil, err
		}
		report(job.Event{Type: job.EventPhaseChanged, Phase: phase})
	}
	report(job.Event{Type: job.EventPhaseChanged, Phase: job.PhaseTraining})

	var final map[string]float64
	for step := 1; step <= total; step++ {
		if err := s.wait(ctx); err != nil {
			return nil, err
		}
		if s.FailAtStep > 0 && step >= s.FailAtStep {
			code := s.FailCode
			if code == "" {
				code = job.CodeWorkerCrashed
			}
			return nil, &TrainError{Code: code, Message: fmt.Sprintf("simulated failure at epoch %d", step), Phase: job.PhaseTraining}
		}

		// Each report gets its own map: events sit in the executor's
		// buffer while later steps run, so sharing one would let the
		// consumer read a map the loop is still writing.
		f := float64(step) / float64(total)
		metrics := map[string]float64{
			"map50":      simMetricCurve(0.85, f),
			"map50_95":   simMetricCurve(0.62, f),
			"precision":  simMetricCurve(0.9, f),
			"recall":     simMetricCurve(0.87, f),
			"train_loss": 2.5 * math.Exp(-3*f),
		}
		final = metrics

		phase := job.PhaseTraining
		if step == total {
			phase = job.PhaseValidating
		}
		report(job.Event{
			Type:       job.EventProgress,
			Phase:      phase,
			Step:       step,
			TotalSteps: total,
			Percentage: f * 100,
			Metrics:    metrics,
			Telemetry:  &job.Telemetry{CPUPercent: 72.5, MemoryMB: 2048},
		})
	}

	return &Result{
		Metrics: final,
		Artifacts: map[string]string{
			"weights": fmt.Sprintf("models/%s/weights/best.pt", j.ID),
			"results": fmt.Sprintf("models/%s/results.csv", j.ID),
		},
	}, nil
}

// simMetricCurve approaches ceiling asymptotically as training advances.
func simMetricCurve(ceiling, fraction float64) float64 {
	return ceiling * (1 - math.Exp(-4*fraction))
}

func (s *SimTrainer) wait(ctx context.Context) error {
	if s.Stubborn {
		if s.StepDuration > 0 {
			time.Sleep(s.StepDuration)
		}
		return nil
	}
	if s.StepDuration <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.StepDuration):
		return nil
	}
}
