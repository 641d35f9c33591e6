package dispatcher

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"trainhub/pkg/circuitbreaker"
	"trainhub/pkg/webhook"
)

// MemoryDispatcher is an in-memory async notification dispatcher. Each
// worker owns its own bounded queue and deliveries are routed by job ID
// hash, so notifications for one job always go through the same worker
// in order. If a queue is full the notification is dropped (logged +
// metric incremented) rather than blocking the orchestration path.
type MemoryDispatcher struct {
	queues   []chan *Delivery
	sender   *webhook.Sender
	breakers *circuitbreaker.Registry
	config   MemoryConfig
	logger   *slog.Logger
	metrics  MetricsRecorder

	// onExhausted, when set, is invoked after a delivery fails every
	// attempt. Used to record CallbackDeliveryExhausted on the job.
	onExhausted func(jobID string)

	queued       atomic.Int64
	delivered    atomic.Int64
	failed       atomic.Int64
	dropped      atomic.Int64
	retriesTotal atomic.Int64

	wg       sync.WaitGroup
	shutdown chan struct{}
	closed   atomic.Bool
}

// MetricsRecorder is an optional interface for recording dispatcher
// metrics.
type MetricsRecorder interface {
	RecordCallbackDelivered(ctx context.Context, durationSeconds float64)
	RecordCallbackFailed(ctx context.Context)
	RecordCallbackDropped(ctx context.Context)
	RecordCallbackQueueDepth(ctx context.Context, depth int64)
}

// NewMemory creates a new in-memory dispatcher. onExhausted may be nil.
func NewMemory(cfg MemoryConfig, metrics MetricsRecorder, onExhausted func(jobID string)) *MemoryDispatcher {
	cfg = cfg.withDefaults()

	d := &MemoryDispatcher{
		queues:      make([]chan *Delivery, cfg.Workers),
		sender:      webhook.NewSender(cfg.HTTPTimeout),
		breakers:    circuitbreaker.NewRegistry(defaultBreakerThreshold, defaultBreakerCooldown),
		config:      cfg,
		logger:      slog.With("component", "dispatcher"),
		metrics:     metrics,
		onExhausted: onExhausted,
		shutdown:    make(chan struct{}),
	}

	d.wg.Add(cfg.Workers)
	for i := range d.queues {
		d.queues[i] = make(chan *Delivery, cfg.QueueSize)
		go d.worker(d.queues[i])
	}

	if metrics != nil {
		go d.reportQueueDepth()
	}

	d.logger.Info("dispatcher started", "workers", cfg.Workers, "queueSize", cfg.QueueSize)
	return d
}

// Dispatch routes the delivery to the worker owning its job's queue.
func (d *MemoryDispatcher) Dispatch(del *Delivery) error {
	if d.closed.Load() {
		return fmt.Errorf("dispatcher is closed")
	}

	queue := d.queues[jobShard(del.JobID, len(d.queues))]
	select {
	case queue <- del:
		d.queued.Add(1)
		return nil
	default:
		d.dropped.Add(1)
		if d.metrics != nil {
			d.metrics.RecordCallbackDropped(context.Background())
		}
		d.logger.Warn("notification dropped, queue full",
			"jobId", del.JobID,
			"destination", extractHost(del.URL),
			"kind", del.Payload.Kind,
		)
		return ErrBufferFull
	}
}

// jobShard maps a job ID to a worker index. FNV-1a keeps the mapping
// stable so one job's notifications never interleave across workers.
func jobShard(jobID string, workers int) int {
	h := fnv.New32a()
	h.Write([]byte(jobID))
	return int(h.Sum32() % uint32(workers))
}

// Stats returns current dispatcher statistics.
func (d *MemoryDispatcher) Stats() Stats {
	depth := 0
	for _, q := range d.queues {
		depth += len(q)
	}
	total, open := d.breakers.Counts()
	return Stats{
		QueueDepth:    depth,
		Queued:        d.queued.Load(),
		Delivered:     d.delivered.Load(),
		Failed:        d.failed.Load(),
		Dropped:       d.dropped.Load(),
		RetriesTotal:  d.retriesTotal.Load(),
		BreakersTotal: total,
		BreakersOpen:  open,
	}
}

// Close gracefully shuts down the dispatcher.
func (d *MemoryDispatcher) Close(ctx context.Context) error {
	if d.closed.Swap(true) {
		return nil // already closed
	}

	d.logger.Info("dispatcher shutting down", "queued", d.Stats().QueueDepth)
	close(d.shutdown)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("dispatcher shutdown complete",
			"delivered", d.delivered.Load(),
			"failed", d.failed.Load(),
			"dropped", d.dropped.Load(),
		)
		return nil
	case <-ctx.Done():
		d.logger.Warn("dispatcher shutdown timed out", "remaining", d.Stats().QueueDepth)
		return ctx.Err()
	}
}

func (d *MemoryDispatcher) worker(queue <-chan *Delivery) {
	defer d.wg.Done()

	for {
		select {
		case <-d.shutdown:
			// Drain remaining notifications before exiting.
			for {
				select {
				case del := <-queue:
					d.deliver(del)
				default:
					return
				}
			}
		case del := <-queue:
			d.deliver(del)
		}
	}
}

// deliver attempts a delivery with retry under the destination's
// circuit breaker. An open breaker fails the delivery immediately:
// holding it for later would reorder the job's notifications.
func (d *MemoryDispatcher) deliver(del *Delivery) {
	host := extractHost(del.URL)
	breaker := d.breakers.Get(host)

	if !breaker.Allow() {
		d.giveUp(del, host, fmt.Errorf("circuit open for %s", host))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	if err := d.sendWithRetry(ctx, del); err != nil {
		breaker.Failure()
		d.giveUp(del, host, err)
		return
	}

	breaker.Success()
	d.delivered.Add(1)
	if d.metrics != nil {
		d.metrics.RecordCallbackDelivered(ctx, time.Since(start).Seconds())
	}
}

func (d *MemoryDispatcher) giveUp(del *Delivery, host string, err error) {
	d.failed.Add(1)
	if d.metrics != nil {
		d.metrics.RecordCallbackFailed(context.Background())
	}
	d.logger.Warn("delivery failed",
		"jobId", del.JobID,
		"destination", host,
		"kind", del.Payload.Kind,
		"error", err,
	)
	if d.onExhausted != nil {
		d.onExhausted(del.JobID)
	}
}

func (d *MemoryDispatcher) sendWithRetry(ctx context.Context, del *Delivery) error {
	delivery := webhook.Delivery{
		Kind:   del.Payload.Kind,
		JobID:  del.JobID,
		Secret: del.Secret,
		Body:   del.Payload,
	}

	for attempt := 1; ; attempt++ {
		err := d.sender.Send(ctx, del.URL, delivery)
		if err == nil {
			return nil
		}
		// 4xx means the receiver rejected the payload; retrying the
		// same bytes cannot help.
		if webhook.IsClientError(err) {
			return err
		}
		if d.config.Retry.Exhausted(attempt) {
			return err
		}

		d.retriesTotal.Add(1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.config.Retry.Delay(attempt)):
		}
	}
}

// reportQueueDepth periodically reports the total queue depth metric.
func (d *MemoryDispatcher) reportQueueDepth() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-d.shutdown:
			return
		case <-ticker.C:
			d.metrics.RecordCallbackQueueDepth(context.Background(), int64(d.Stats().QueueDepth))
		}
	}
}

// extractHost extracts the host from a URL for circuit breaker keying.
func extractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return parsed.Host
}

// Verify MemoryDispatcher implements Dispatcher
var _ Dispatcher = (*MemoryDispatcher)(nil)
