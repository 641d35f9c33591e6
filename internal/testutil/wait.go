// Package testutil provides polling helpers shared by the package tests.
package testutil

import (
	"sync/atomic"
	"testing"
	"time"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultInterval = 10 * time.Millisecond
)

// WaitOption tunes the polling loop.
type WaitOption func(*waitOptions)

type waitOptions struct {
	timeout  time.Duration
	interval time.Duration
}

// WithTimeout sets the maximum wait time (default: 10s).
func WithTimeout(d time.Duration) WaitOption {
	return func(o *waitOptions) { o.timeout = d }
}

// WithInterval sets the polling interval (default: 10ms).
func WithInterval(d time.Duration) WaitOption {
	return func(o *waitOptions) { o.interval = d }
}

// WaitFor polls until condition returns true. Returns false on timeout.
func WaitFor(tb testing.TB, condition func() bool, opts ...WaitOption) bool {
	tb.Helper()

	o := waitOptions{timeout: defaultTimeout, interval: defaultInterval}
	for _, opt := range opts {
		opt(&o)
	}

	deadline := time.Now().Add(o.timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(o.interval)
	}
	return condition()
}

// MustWaitFor polls until condition returns true, failing the test on
// timeout.
func MustWaitFor(tb testing.TB, condition func() bool, opts ...WaitOption) {
	tb.Helper()
	if !WaitFor(tb, condition, opts...) {
		tb.Fatal("timed out waiting for condition")
	}
}

// MustWaitForCount polls until counter reaches at least target, failing
// the test on timeout.
func MustWaitForCount(tb testing.TB, counter *atomic.Int64, target int64, opts ...WaitOption) {
	tb.Helper()
	MustWaitFor(tb, func() bool { return counter.Load() >= target }, opts...)
}
