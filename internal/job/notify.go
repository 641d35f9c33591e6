package job

import "time"

// Callback kinds sent over a job's life: zero or more progress
// notifications, then exactly one terminal notification.
const (
	CallbackProgress  = "training_progress"
	CallbackCompleted = "training_completed"
	CallbackFailed    = "training_failed"
)

// Notification is the payload of one outbound webhook POST.
type Notification struct {
	Kind  string    `json:"kind"`
	JobID string    `json:"jobId"`
	Name  string    `json:"name,omitempty"`
	Time  time.Time `json:"time"`

	Progress *Progress `json:"progress,omitempty"`
	Metrics  *Metrics  `json:"metrics,omitempty"`

	// Terminal notifications only.
	Artifacts map[string]string `json:"artifacts,omitempty"`
	Error     *Error            `json:"error,omitempty"`
}

// ProgressNotification builds a training_progress payload from a snapshot.
func ProgressNotification(j Job) *Notification {
	progress := j.Progress
	metrics := j.Metrics
	return &Notification{
		Kind:     CallbackProgress,
		JobID:    j.ID,
		Name:     j.Name,
		Time:     time.Now().UTC(),
		Progress: &progress,
		Metrics:  &metrics,
	}
}

// TerminalNotification builds the single end-of-life payload for a job.
// Completed jobs produce training_completed; failed and cancelled jobs
// produce training_failed (cancellation carries code Cancelled).
func TerminalNotification(j Job) *Notification {
	n := &Notification{
		JobID: j.ID,
		Name:  j.Name,
		Time:  time.Now().UTC(),
	}
	switch j.Status {
	case StatusCompleted:
		n.Kind = CallbackCompleted
		metrics := j.Metrics
		n.Metrics = &metrics
		n.Artifacts = j.Artifacts
	case StatusCancelled:
		n.Kind = CallbackFailed
		n.Error = &Error{Code: CodeCancelled, Message: "job cancelled by caller"}
	default:
		n.Kind = CallbackFailed
		n.Error = j.Error
	}
	return n
}
