// Package facade is the bounded hand-off between raw input producers (device
// readers, probes) and the goroutines that aggregate their events.
package facade

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/user/activitytracker/internal/types"
)

// Facade is a bounded FIFO with a fixed overflow policy. Any number of
// producers may Push; one consumer ranges over C.
type Facade[T any] struct {
	name   string
	ch     chan T
	policy types.OverflowPolicy
	health types.Counter

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

func New[T any](name string, capacity int, policy types.OverflowPolicy, health types.Counter) *Facade[T] {
	if capacity <= 0 {
		capacity = 1
	}
	if health == nil {
		health = types.NopCounter{}
	}
	return &Facade[T]{name: name, ch: make(chan T, capacity), policy: policy, health: health}
}

func (f *Facade[T]) Name() string { return f.name }

// Push hands v to the consumer. With types.Block it waits for room until ctx
// ends; with types.DropNewest a full facade discards v and returns
// types.ErrQueueFull.
func (f *Facade[T]) Push(ctx context.Context, v T) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return types.ErrClosed
	}
	if f.policy == types.DropNewest {
		select {
		case f.ch <- v:
			return nil
		default:
			f.dropped.Add(1)
			f.health.Inc(types.CounterDroppedEvent)
			return types.ErrQueueFull
		}
	}
	select {
	case f.ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// C is closed after Close, once buffered values are consumed.
func (f *Facade[T]) C() <-chan T { return f.ch }

// Close stops accepting values. Blocked pushes must have returned (their
// contexts cancelled) before Close can take the lock.
func (f *Facade[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.ch)
}

func (f *Facade[T]) Len() int { return len(f.ch) }

// Dropped counts values discarded by DropNewest.
func (f *Facade[T]) Dropped() int64 { return f.dropped.Load() }
