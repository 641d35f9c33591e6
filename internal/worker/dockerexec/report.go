package dockerexec

import (
	"encoding/json"

	"trainhub/internal/job"
)

// reportLine is one JSON line on the trainer container's stdout. The
// trainer entrypoint prints one object per line; anything that does not
// parse is treated as ordinary log output and ignored.
type reportLine struct {
	Event      string             `json:"event"`
	Phase      string             `json:"phase,omitempty"`
	Step       int                `json:"step,omitempty"`
	TotalSteps int                `json:"totalSteps,omitempty"`
	Percentage float64            `json:"percentage,omitempty"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
	CPUPercent float64            `json:"cpuPercent,omitempty"`
	MemoryMB   float64            `json:"memoryMb,omitempty"`
	Artifacts  map[string]string  `json:"artifacts,omitempty"`
	Code       string             `json:"code,omitempty"`
	Message    string             `json:"message,omitempty"`
}

// parseReportLine decodes one stdout line into a worker event. The
// second return is false for non-report output and for terminal lines'
// unknown event names.
func parseReportLine(jobID string, raw []byte) (job.Event, bool) {
	var line reportLine
	if err := json.Unmarshal(raw, &line); err != nil {
		return job.Event{}, false
	}

	ev := job.Event{JobID: jobID}
	switch line.Event {
	case "phase":
		ev.Type = job.EventPhaseChanged
		ev.Phase = job.Phase(line.Phase)
	case "progress":
		ev.Type = job.EventProgress
		ev.Phase = job.Phase(line.Phase)
		ev.Step = line.Step
		ev.TotalSteps = line.TotalSteps
		ev.Percentage = line.Percentage
		ev.Metrics = line.Metrics
		if line.CPUPercent > 0 || line.MemoryMB > 0 {
			ev.Telemetry = &job.Telemetry{CPUPercent: line.CPUPercent, MemoryMB: line.MemoryMB}
		}
	case "completed":
		ev.Type = job.EventCompleted
		ev.Metrics = line.Metrics
		ev.Artifacts = line.Artifacts
	case "failed":
		ev.Type = job.EventFailed
		ev.Err = &job.Error{
			Code:    errorCode(line.Code),
			Message: line.Message,
			Phase:   job.Phase(line.Phase),
		}
	default:
		return job.Event{}, false
	}
	return ev, true
}

func errorCode(code string) string {
	if code == "" {
		return job.CodeWorkerCrashed
	}
	return code
}
