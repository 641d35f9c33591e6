// Package broadcast fans job events out to live-stream subscribers.
package broadcast

import (
	"log/slog"
	"sync"
	"time"

	"trainhub/internal/job"
)

const (
	defaultHeartbeat  = 30 * time.Second
	defaultBufferSize = 16
)

// Config tunes the broadcaster.
type Config struct {
	// Heartbeat is the keepalive interval for idle streams (default 30s).
	Heartbeat time.Duration

	// BufferSize is the per-subscriber event buffer (default 16). A
	// subscriber that falls behind loses progress and heartbeat events
	// first; critical events push out the oldest buffered one instead
	// of being lost.
	BufferSize int
}

func (c Config) withDefaults() Config {
	if c.Heartbeat <= 0 {
		c.Heartbeat = defaultHeartbeat
	}
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	return c
}

// SnapshotFunc looks up the current state of a job for replay to new
// subscribers.
type SnapshotFunc func(jobID string) (job.Job, bool)

// Broadcaster delivers each job's event sequence to any number of
// subscribers. New subscribers first receive a snapshot event carrying
// the job's last known state, so a client connecting mid-run or after
// completion still learns the outcome. A topic closes after its
// terminal event; late subscribers to a finished job get the snapshot
// and an immediately closed channel.
type Broadcaster struct {
	cfg      Config
	snapshot SnapshotFunc
	logger   *slog.Logger

	mu     sync.Mutex
	topics map[string]map[*subscriber]struct{}
	closed bool

	// done remembers jobs whose terminal event has already been
	// published, so a Subscribe racing that publish can tell its
	// pre-lock snapshot is stale.
	done map[string]struct{}

	stopHeartbeat chan struct{}
}

type subscriber struct {
	ch chan job.Event
}

// New creates a broadcaster. snapshot may be nil to disable replay.
func New(cfg Config, snapshot SnapshotFunc) *Broadcaster {
	b := &Broadcaster{
		cfg:           cfg.withDefaults(),
		snapshot:      snapshot,
		logger:        slog.With("component", "broadcast"),
		topics:        make(map[string]map[*subscriber]struct{}),
		done:          make(map[string]struct{}),
		stopHeartbeat: make(chan struct{}),
	}
	go b.heartbeatLoop()
	return b
}

// Subscribe attaches to a job's event stream. The returned cancel
// function must be called when the consumer is done; it is safe to call
// after the channel has closed.
func (b *Broadcaster) Subscribe(jobID string) (<-chan job.Event, func()) {
	sub := &subscriber{ch: make(chan job.Event, b.cfg.BufferSize)}

	replay, terminal := b.snapshotEvent(jobID)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	if _, finished := b.done[jobID]; finished && !terminal {
		// The terminal event landed between the snapshot read and the
		// lock. Its topic is gone, so registering would strand the
		// subscriber; take a fresh snapshot, which now carries the
		// final state.
		b.mu.Unlock()
		replay, _ = b.snapshotEvent(jobID)
		terminal = true
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			close(sub.ch)
			return sub.ch, func() {}
		}
	}
	if replay != nil {
		sub.ch <- *replay
	}
	if terminal {
		// The run is over; there is nothing further to stream.
		close(sub.ch)
		b.mu.Unlock()
		return sub.ch, func() {}
	}
	subs := b.topics[jobID]
	if subs == nil {
		subs = make(map[*subscriber]struct{})
		b.topics[jobID] = subs
	}
	subs[sub] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.topics[jobID]; ok {
			if _, present := subs[sub]; present {
				delete(subs, sub)
				if len(subs) == 0 {
					delete(b.topics, jobID)
				}
				close(sub.ch)
			}
		}
	}
	return sub.ch, cancel
}

// Publish fans an event out to the job's subscribers. A terminal event
// closes the topic afterwards.
func (b *Broadcaster) Publish(ev job.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.topics[ev.JobID]
	for sub := range subs {
		b.offer(sub, ev)
	}
	if ev.Type.Terminal() {
		for sub := range subs {
			close(sub.ch)
		}
		delete(b.topics, ev.JobID)
		b.done[ev.JobID] = struct{}{}
	}
}

// snapshotEvent builds the replay event for a new subscriber and reports
// whether the job has already reached a terminal state.
func (b *Broadcaster) snapshotEvent(jobID string) (*job.Event, bool) {
	if b.snapshot == nil {
		return nil, false
	}
	snap, ok := b.snapshot(jobID)
	if !ok {
		return nil, false
	}
	return &job.Event{
		Type:     job.EventSnapshot,
		JobID:    jobID,
		Time:     time.Now(),
		Snapshot: &snap,
	}, snap.Status.Terminal()
}

// offer delivers without blocking. Droppable events are lost when the
// subscriber's buffer is full; anything else evicts the oldest buffered
// event to make room.
func (b *Broadcaster) offer(sub *subscriber, ev job.Event) {
	select {
	case sub.ch <- ev:
		return
	default:
	}
	if droppable(ev.Type) {
		return
	}
	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- ev:
	default:
		b.logger.Warn("subscriber lost a critical event", "jobId", ev.JobID, "type", ev.Type)
	}
}

// droppable events are the high-volume ones a slow consumer can afford
// to miss.
func droppable(t job.EventType) bool {
	return t == job.EventProgress || t == job.EventHeartbeat
}

// SubscriberCount reports how many streams are attached to the job.
func (b *Broadcaster) SubscriberCount(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[jobID])
}

func (b *Broadcaster) heartbeatLoop() {
	ticker := time.NewTicker(b.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopHeartbeat:
			return
		case <-ticker.C:
			now := time.Now()
			b.mu.Lock()
			for jobID, subs := range b.topics {
				ev := job.Event{Type: job.EventHeartbeat, JobID: jobID, Time: now}
				for sub := range subs {
					b.offer(sub, ev)
				}
			}
			b.mu.Unlock()
		}
	}
}

// Close shuts down the broadcaster and closes every subscriber channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.stopHeartbeat)
	for jobID, subs := range b.topics {
		for sub := range subs {
			close(sub.ch)
		}
		delete(b.topics, jobID)
	}
}
