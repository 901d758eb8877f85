// Package keepalive credits open sessions with elapsed time on a fixed pulse.
//
// A Ledger belongs to one open session. Every pulse credits the time since
// the previous credit to both the session's open log segment and its daily
// summary, so at any instant t:
//
//	credited <= t - start <= credited + pulse
//
// The bound holds while pulses arrive on time. A single credit is capped at
// Options.MaxCredit (3x pulse unless configured), so after a suspend or a
// stalled arbiter the time beyond the cap is forfeited, counted as
// suspend_gap, and the session is undercounted by more than one pulse. A
// negative MaxCredit removes the cap and keeps the bound unconditionally.
//
// Closing a ledger credits the remainder. Intervals that cross local
// midnight are split: the open segment is finalized at midnight and a new
// one is opened for the new date.
package keepalive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"
	"github.com/hashicorp/go-multierror"

	"github.com/user/activitytracker/internal/types"
	"github.com/user/activitytracker/internal/tz"
)

// Sink receives the writes produced by crediting.
type Sink interface {
	OpenLog(ctx context.Context, log types.SummaryLog) error
	ExtendLog(ctx context.Context, kind types.Kind, id types.LogID, end time.Time, delta time.Duration) error
	CloseLog(ctx context.Context, kind types.Kind, id types.LogID, end time.Time) error
	AddDaily(ctx context.Context, kind types.Kind, identity, label, date string, delta time.Duration) error
}

// Slot identifies a concurrently open session: the focused program or tab,
// and the video overlay.
type Slot int

const (
	SlotFocus Slot = iota
	SlotVideo
	numSlots
)

func (s Slot) String() string {
	if s == SlotVideo {
		return "video"
	}
	return "focus"
}

// Ledger tracks the time credited to one open session.
type Ledger struct {
	session *types.Session
	slot    Slot

	mu            sync.Mutex
	logID         types.LogID
	logDate       string
	logOpen       bool
	segmentStart  time.Time
	creditedUntil time.Time
	credited      time.Duration
	closed        bool
}

func (l *Ledger) Session() *types.Session { return l.session }

// Credited is the time credited so far.
func (l *Ledger) Credited() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.credited
}

func (l *Ledger) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

type Options struct {
	Pulse time.Duration
	// MaxCredit caps one credit. Longer gaps (suspend, a stalled arbiter)
	// are forfeited beyond the cap and counted. Zero means 3x Pulse; a
	// negative value disables the cap.
	MaxCredit time.Duration
	Zone      *tz.Zone
	Clock     quartz.Clock
	Logger    *slog.Logger
	Health    types.Counter
}

// Engine owns the current ledgers and the pulse ticker.
type Engine struct {
	opts  Options
	sink  Sink
	slots [numSlots]atomic.Pointer[Ledger]
}

func New(sink Sink, opts Options) *Engine {
	if opts.Pulse <= 0 {
		opts.Pulse = 10 * time.Second
	}
	if opts.MaxCredit == 0 {
		opts.MaxCredit = 3 * opts.Pulse
	}
	if opts.Zone == nil {
		opts.Zone = tz.UTC()
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Health == nil {
		opts.Health = types.NopCounter{}
	}
	return &Engine{opts: opts, sink: sink}
}

func (e *Engine) Pulse() time.Duration { return e.opts.Pulse }

// Open starts a ledger for s in slot and makes it current. Nothing is
// written until the first positive credit.
func (e *Engine) Open(slot Slot, s *types.Session) (*Ledger, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	l := &Ledger{
		session:       s,
		slot:          slot,
		logID:         types.NewLogID(),
		segmentStart:  s.Start,
		creditedUntil: s.Start,
	}
	if prev := e.slots[slot].Swap(l); prev != nil && !prev.Closed() {
		e.opts.Logger.Warn("keep-alive ledger replaced while open", "slot", slot, "session", prev.session.ID)
	}
	return l, nil
}

// Current returns the ledger in slot, or nil.
func (e *Engine) Current(slot Slot) *Ledger { return e.slots[slot].Load() }

// Credit credits every current ledger up to at. The arbiter calls it for each
// keep-alive pulse.
func (e *Engine) Credit(ctx context.Context, at time.Time) error {
	var result *multierror.Error
	for i := range e.slots {
		l := e.slots[i].Load()
		if l == nil {
			continue
		}
		l.mu.Lock()
		var err error
		if !l.closed {
			err = e.credit(ctx, l, at)
		}
		l.mu.Unlock()
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("credit %s session %s: %w", Slot(i), l.session.ID, err))
		}
	}
	return result.ErrorOrNil()
}

// Close credits the remainder up to end, finalizes the open segment and
// releases the slot. Closing an already closed ledger is a no-op.
func (e *Engine) Close(ctx context.Context, l *Ledger, end time.Time) (time.Duration, error) {
	if l == nil {
		return 0, types.ErrMissingLedger
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return l.credited, nil
	}
	l.closed = true
	e.slots[l.slot].CompareAndSwap(l, nil)

	if err := e.credit(ctx, l, end); err != nil {
		return l.credited, fmt.Errorf("close session %s: %w", l.session.ID, err)
	}
	if l.logOpen {
		if err := e.sink.CloseLog(ctx, l.session.Kind, l.logID, l.creditedUntil); err != nil {
			return l.credited, fmt.Errorf("close session %s: %w", l.session.ID, err)
		}
	}
	return l.credited, nil
}

// credit moves l.creditedUntil to to. Caller must hold l.mu.
func (e *Engine) credit(ctx context.Context, l *Ledger, to time.Time) error {
	to = to.UTC()
	from := l.creditedUntil
	if !to.After(from) {
		return nil
	}
	if gap := to.Sub(from); e.opts.MaxCredit > 0 && gap > e.opts.MaxCredit {
		e.opts.Health.Inc(types.CounterSuspendGap)
		e.opts.Logger.Warn("keep-alive gap exceeds cap, forfeiting",
			"session", l.session.ID, "gap", gap, "credited", e.opts.MaxCredit)
		from = to.Add(-e.opts.MaxCredit)
		l.creditedUntil = from
	}
	for _, span := range e.opts.Zone.Split(from, to) {
		if err := e.creditSpan(ctx, l, span); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) creditSpan(ctx context.Context, l *Ledger, span tz.Span) error {
	s := l.session
	delta := span.Duration()

	if l.logOpen && span.Date != l.logDate {
		if err := e.sink.CloseLog(ctx, s.Kind, l.logID, span.Start); err != nil {
			return err
		}
		e.opts.Logger.Debug("session crossed midnight", "session", s.ID, "date", span.Date)
		l.logOpen = false
		l.logID = types.NewLogID()
		l.segmentStart = span.Start
	}

	if !l.logOpen {
		start := l.segmentStart
		if e.opts.Zone.Date(start) != span.Date {
			start = span.Start
		}
		err := e.sink.OpenLog(ctx, types.SummaryLog{
			ID:                 l.logID,
			SessionID:          s.ID,
			Kind:               s.Kind,
			Identity:           s.Identity(),
			Title:              s.Title(),
			Detail:             s.Detail(),
			Productive:         s.Productive,
			Start:              start,
			End:                span.End,
			GatheringDateLocal: span.Date,
			Duration:           delta,
			Session:            s,
		})
		if err != nil {
			return err
		}
		l.logOpen = true
		l.logDate = span.Date
	} else if err := e.sink.ExtendLog(ctx, s.Kind, l.logID, span.End, delta); err != nil {
		return err
	}

	if err := e.sink.AddDaily(ctx, s.Kind, s.Identity(), s.Label(), span.Date, delta); err != nil {
		return err
	}
	l.credited += delta
	l.creditedUntil = span.End
	return nil
}

// Run submits a pulse every Pulse until ctx is done. submit normally sends a
// keep-alive event to the arbiter, which calls Credit from its own goroutine.
func (e *Engine) Run(ctx context.Context, submit func(context.Context, time.Time) error) error {
	ticker := e.opts.Clock.NewTicker(e.opts.Pulse, "keepalive")
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			err := submit(ctx, e.opts.Clock.Now().UTC())
			if err == nil {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, types.ErrClosed) {
				return nil
			}
			e.opts.Logger.Warn("keep-alive pulse not delivered", "error", err)
		}
	}
}
