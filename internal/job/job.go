// Package job defines the training job domain model: configuration,
// lifecycle statuses, progress, metrics, and the events workers emit.
package job

import "time"

// Status is a job's top-level lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusTraining  Status = "training"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether a job in this status can never change again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// transitions encodes the lifecycle state machine. Validation is the only
// path a status change takes, so no edge can ever leave a terminal state.
var transitions = map[Status][]Status{
	StatusPending:  {StatusQueued},
	StatusQueued:   {StatusTraining, StatusCancelled},
	StatusTraining: {StatusCompleted, StatusFailed, StatusCancelled},
}

// CanTransition reports whether the state machine allows moving from s to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Phase is the sub-phase of a training run, reported via Progress.
// Validation runs under status=training; it is a display phase, not a
// top-level status.
type Phase string

const (
	PhaseDownloading Phase = "downloading"
	PhasePreparing   Phase = "preparing"
	PhaseTraining    Phase = "training"
	PhaseValidating  Phase = "validating"
)

// Error codes recorded on failed jobs. Trainer-specific codes (dataset or
// resource errors) pass through unchanged alongside these.
const (
	CodeWorkerStartFailed         = "WorkerStartFailed"
	CodeWorkerCrashed             = "WorkerCrashed"
	CodeCancelled                 = "Cancelled"
	CodeCallbackDeliveryExhausted = "CallbackDeliveryExhausted"
)

// TrainingConfig holds the model/hyperparameter selection for a run.
type TrainingConfig struct {
	Model        string  `json:"model"`
	Epochs       int     `json:"epochs"`
	BatchSize    int     `json:"batchSize"`
	ImageSize    int     `json:"imageSize"`
	LearningRate float64 `json:"learningRate"`
	Optimizer    string  `json:"optimizer"`
}

// ResourceHints are advisory resource requests forwarded to the worker.
type ResourceHints struct {
	CPU      float64 `json:"cpu,omitempty"`      // cores
	MemoryMB int     `json:"memoryMb,omitempty"` // MB
	GPU      bool    `json:"gpu,omitempty"`
}

// Callback is the caller-supplied webhook destination for a job.
type Callback struct {
	URL    string `json:"url"`
	Secret string `json:"secret,omitempty"` // HMAC signing key
}

// Request is a job submission. It becomes the job's immutable config.
type Request struct {
	ID         string         `json:"id"`
	Name       string         `json:"name,omitempty"`
	Training   TrainingConfig `json:"training"`
	Dataset    string         `json:"dataset"` // opaque dataset reference
	Resources  ResourceHints  `json:"resources,omitempty"`
	BestMetric string         `json:"bestMetric,omitempty"` // metric key tracked for "best"
	Callback   *Callback      `json:"callback,omitempty"`
}

// Progress is the mutable progress block of a job.
type Progress struct {
	Percentage  float64  `json:"percentage"`
	CurrentStep int      `json:"currentStep"`
	TotalSteps  int      `json:"totalSteps"`
	Phase       Phase    `json:"phase,omitempty"`
	ETASeconds  *float64 `json:"etaSeconds,omitempty"`
}

// BestMetric records the best observation of the designated metric.
type BestMetric struct {
	Key   string  `json:"key"`
	Value float64 `json:"value"`
	Step  int     `json:"step"`
}

// Metrics holds the latest and best reported training metrics.
// Metric sets vary by model type, so Current is an open mapping.
type Metrics struct {
	Current map[string]float64 `json:"current,omitempty"`
	Best    *BestMetric        `json:"best,omitempty"`
}

// Error is the structured failure recorded on a failed job.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Phase   Phase  `json:"phase,omitempty"`
}

// Job is one admitted unit of long-running computation. Instances handed
// out by the store are snapshots; mutating them has no effect on the
// authoritative record.
type Job struct {
	ID     string  `json:"id"`
	Name   string  `json:"name,omitempty"`
	Status Status  `json:"status"`
	Config Request `json:"config"`

	Progress Progress `json:"progress"`
	Metrics  Metrics  `json:"metrics"`
	Error    *Error   `json:"error,omitempty"`

	CancelRequested   bool              `json:"cancelRequested,omitempty"`
	CallbackExhausted bool              `json:"callbackExhausted,omitempty"`
	Artifacts         map[string]string `json:"artifacts,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// clone returns a deep copy so store readers never see later mutations.
func (j *Job) clone() Job {
	c := *j
	if j.Progress.ETASeconds != nil {
		eta := *j.Progress.ETASeconds
		c.Progress.ETASeconds = &eta
	}
	if j.Metrics.Current != nil {
		c.Metrics.Current = make(map[string]float64, len(j.Metrics.Current))
		for k, v := range j.Metrics.Current {
			c.Metrics.Current[k] = v
		}
	}
	if j.Metrics.Best != nil {
		best := *j.Metrics.Best
		c.Metrics.Best = &best
	}
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	if j.Artifacts != nil {
		c.Artifacts = make(map[string]string, len(j.Artifacts))
		for k, v := range j.Artifacts {
			c.Artifacts[k] = v
		}
	}
	if j.StartedAt != nil {
		ts := *j.StartedAt
		c.StartedAt = &ts
	}
	if j.CompletedAt != nil {
		ts := *j.CompletedAt
		c.CompletedAt = &ts
	}
	return c
}
