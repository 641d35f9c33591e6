package job

import "time"

// EventType discriminates worker and stream events.
type EventType string

const (
	EventPhaseChanged EventType = "phase_changed"
	EventProgress     EventType = "progress"
	EventCompleted    EventType = "completed"
	EventFailed       EventType = "failed"
	EventCancelled    EventType = "cancelled"

	// Stream-only events; never produced by workers.
	EventHeartbeat EventType = "heartbeat"
	EventSnapshot  EventType = "snapshot"
)

// Terminal reports whether this event ends a job's event sequence.
func (t EventType) Terminal() bool {
	return t == EventCompleted || t == EventFailed || t == EventCancelled
}

// Telemetry is resource usage sampled by the worker.
type Telemetry struct {
	CPUPercent float64 `json:"cpuPercent,omitempty"`
	MemoryMB   float64 `json:"memoryMb,omitempty"`
}

// Event is one entry in a job's ordered event sequence, produced by the
// worker executor and fanned out to stream subscribers. Fields beyond
// Type/JobID/Time are populated per type:
//
//	phase_changed: Phase
//	progress:      Phase, Step, TotalSteps, Percentage, Metrics, Telemetry
//	completed:     Metrics (final), Artifacts
//	failed:        Err
//	cancelled:     -
//	snapshot:      Snapshot (stream subscribe replay)
type Event struct {
	Type  EventType `json:"type"`
	JobID string    `json:"jobId"`
	Time  time.Time `json:"time"`

	Phase      Phase              `json:"phase,omitempty"`
	Step       int                `json:"step,omitempty"`
	TotalSteps int                `json:"totalSteps,omitempty"`
	Percentage float64            `json:"percentage,omitempty"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
	Telemetry  *Telemetry         `json:"telemetry,omitempty"`
	Artifacts  map[string]string  `json:"artifacts,omitempty"`
	Err        *Error             `json:"error,omitempty"`
	Snapshot   *Job               `json:"snapshot,omitempty"`
}
