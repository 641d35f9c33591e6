package worker

import (
	"sync"

	"trainhub/internal/job"
)

// Emitter serializes event delivery for one job and enforces the
// terminal-once contract: after any terminal event the channel is
// closed and every later emit is dropped. Both the supervising
// goroutine and the cancellation watchdog go through it, so an
// isolation unit that outlives its grace period can never slip an
// event past the synthesized cancelled acknowledgment.
type Emitter struct {
	mu   sync.Mutex
	out  chan job.Event
	done bool
}

// NewEmitter wraps out, which must be consumed until closed.
func NewEmitter(out chan job.Event) *Emitter {
	return &Emitter{out: out}
}

// Emit delivers ev unless a terminal event has already gone out.
// Reports whether the event was delivered.
func (m *Emitter) Emit(ev job.Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done {
		return false
	}
	m.out <- ev
	if ev.Type.Terminal() {
		close(m.out)
		m.done = true
	}
	return true
}
