// Package dispatcher provides async webhook delivery with buffering,
// retry, and per-destination circuit breaking.
package dispatcher

import (
	"context"
	"errors"

	"trainhub/internal/job"
)

// ErrBufferFull is returned when a delivery queue is full and the
// notification is dropped.
var ErrBufferFull = errors.New("dispatcher buffer full, notification dropped")

// Dispatcher handles async delivery of job notifications.
type Dispatcher interface {
	// Dispatch queues a notification for async delivery. Non-blocking.
	// Returns ErrBufferFull if it cannot be queued. Notifications for
	// the same job are delivered in Dispatch order.
	Dispatch(d *Delivery) error

	// Stats returns current dispatcher statistics.
	Stats() Stats

	// Close gracefully shuts down, attempting to deliver queued
	// notifications. The context deadline bounds the drain.
	Close(ctx context.Context) error
}

// Delivery is one notification bound for a callback URL.
type Delivery struct {
	JobID   string
	URL     string
	Secret  string // HMAC key; empty = unsigned
	Payload *job.Notification
}

// Stats holds dispatcher statistics.
type Stats struct {
	QueueDepth    int   // notifications currently queued
	Queued        int64 // total accepted
	Delivered     int64 // successful deliveries
	Failed        int64 // failed after exhausting retries
	Dropped       int64 // dropped due to full buffer or open breaker
	RetriesTotal  int64 // total retry attempts
	BreakersTotal int   // known destinations
	BreakersOpen  int   // destinations currently failing
}
