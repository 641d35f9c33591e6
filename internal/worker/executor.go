// Package worker runs a single job's training in isolation and reports
// its life as an ordered event stream.
package worker

import (
	"context"

	"trainhub/internal/job"
)

// Executor supervises job execution. Implementations own the isolation
// unit (a goroutine for the local executor, a container for the docker
// one) and translate whatever happens inside it into the job's event
// sequence.
//
// Events for one job are strictly ordered, end with exactly one terminal
// event, and the channel closes after that terminal event. No event is
// ever emitted after the terminal one, even when the isolation unit is
// force-terminated.
type Executor interface {
	// Start begins executing the job asynchronously and returns its
	// event channel. Start itself never fails: a job that cannot even
	// launch yields a failed event carrying code WorkerStartFailed.
	Start(ctx context.Context, j job.Job) <-chan job.Event

	// RequestCancel asks the job to stop cooperatively. Idempotent,
	// and a no-op for unknown or already-finished jobs. If the job is
	// still producing events once the grace period elapses, the
	// executor force-terminates it and synthesizes the cancelled
	// acknowledgment itself.
	RequestCancel(jobID string)

	// Ready checks whether the execution backend can accept work.
	Ready(ctx context.Context) error

	// Close waits for in-flight jobs to finish, up to ctx's deadline.
	Close(ctx context.Context) error
}
