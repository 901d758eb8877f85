// Package aggregate folds raw keyboard and mouse events into bursts:
// typing sessions and debounced mouse spans.
package aggregate

import (
	"sync"
	"time"

	"github.com/coder/quartz"
)

type span struct {
	start, last time.Time
	events      int
}

// burst groups events that arrive within quiet of each other. A burst ends
// when no event arrives for quiet, or immediately once it holds max events
// (max <= 0 means unbounded). Timer creation and cancellation happen under
// mu, so at most one timer is pending.
type burst struct {
	clock quartz.Clock
	quiet time.Duration
	max   int
	tags  []string
	emit  func(span)

	mu    sync.Mutex
	cur   *span
	timer *quartz.Timer
	gen   uint64
}

func (b *burst) add(at time.Time) {
	b.mu.Lock()
	if b.cur == nil {
		b.cur = &span{start: at}
	}
	if at.Before(b.cur.last) {
		at = b.cur.last
	}
	b.cur.last = at
	b.cur.events++

	b.stopTimer()
	if b.max > 0 && b.cur.events >= b.max {
		done := b.take()
		b.mu.Unlock()
		b.emit(done)
		return
	}
	gen := b.gen
	b.timer = b.clock.AfterFunc(b.quiet, func() { b.expire(gen) }, b.tags...)
	b.mu.Unlock()
}

// expire ends the burst armed by generation gen. A timer that fired while
// add was replacing it sees a newer generation and does nothing.
func (b *burst) expire(gen uint64) {
	b.mu.Lock()
	if gen != b.gen || b.cur == nil {
		b.mu.Unlock()
		return
	}
	b.timer = nil
	done := b.take()
	b.mu.Unlock()
	b.emit(done)
}

// flush ends the open burst, if any, without waiting for the timer.
func (b *burst) flush() bool {
	b.mu.Lock()
	b.stopTimer()
	if b.cur == nil {
		b.mu.Unlock()
		return false
	}
	done := b.take()
	b.mu.Unlock()
	b.emit(done)
	return true
}

// Caller must hold mu.
func (b *burst) stopTimer() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.gen++
}

// Caller must hold mu.
func (b *burst) take() span {
	s := *b.cur
	b.cur = nil
	return s
}
