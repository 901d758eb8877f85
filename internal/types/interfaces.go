// internal/types/interfaces.go
package types

import (
	"context"
	"time"
)

// StatusWriter records lifecycle rows in the system status table.
type StatusWriter interface {
	WriteStatus(ctx context.Context, status SystemStatus, at time.Time) error
}

// Counter increments a named health counter.
type Counter interface {
	Inc(name string)
}

// Health counter names.
const (
	CounterQueueFull        = "queue_full"
	CounterFlushRetry       = "flush_retry"
	CounterJournaledBatch   = "journaled_batch"
	CounterDroppedMouseSpan = "dropped_mouse_span"
	CounterTimestampClamped = "timestamp_clamped"
	CounterArbiterReset     = "arbiter_reset"
	CounterSuspendGap       = "suspend_gap"
	CounterDroppedEvent     = "dropped_event"
)

// NopCounter discards increments.
type NopCounter struct{}

func (NopCounter) Inc(string) {}
