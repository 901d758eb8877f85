// Package arbiter owns the current session. It is the single consumer of
// every activity event and the only writer of session boundaries.
package arbiter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"
	"github.com/hashicorp/go-multierror"

	"github.com/user/activitytracker/internal/keepalive"
	"github.com/user/activitytracker/internal/types"
	"github.com/user/activitytracker/internal/tz"
)

// Ledgers opens, credits and closes keep-alive ledgers. *keepalive.Engine
// implements it.
type Ledgers interface {
	Open(slot keepalive.Slot, s *types.Session) (*keepalive.Ledger, error)
	Close(ctx context.Context, l *keepalive.Ledger, end time.Time) (time.Duration, error)
	Credit(ctx context.Context, at time.Time) error
}

type state int

const (
	stateUnknown state = iota
	stateApplication
	stateChrome
)

func (s state) String() string {
	switch s {
	case stateApplication:
		return "application"
	case stateChrome:
		return "chrome"
	}
	return "unknown"
}

type Options struct {
	// Buffer is the event channel capacity. Default 256.
	Buffer       int
	Productivity *Productivity
	Zone         *tz.Zone
	Clock        quartz.Clock
	Logger       *slog.Logger
	Health       types.Counter
}

// Arbiter serializes activity events into non-overlapping sessions.
type Arbiter struct {
	opts    Options
	ledgers Ledgers
	status  types.StatusWriter
	events  chan Event
	// stopping unblocks waiting submitters; closed, under mu, refuses new
	// events once Run has begun its final close.
	stopping chan struct{}
	mu       sync.RWMutex
	closed   bool

	// Owned by the Run goroutine.
	state         state
	activeApp     *types.WindowInfo
	lastTab       *types.TabInfo
	focusSession  *types.Session
	focus         *keepalive.Ledger
	videoSession  *types.Session
	video         *keepalive.Ledger
	focusBoundary time.Time
	videoBoundary time.Time

	cell atomic.Pointer[cell]
}

type cell struct {
	state string
	focus *keepalive.Ledger
	video *keepalive.Ledger
}

func New(ledgers Ledgers, status types.StatusWriter, opts Options) *Arbiter {
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	if opts.Productivity == nil {
		opts.Productivity = NewProductivity(nil, nil, nil)
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
	a := &Arbiter{
		opts:     opts,
		ledgers:  ledgers,
		status:   status,
		events:   make(chan Event, opts.Buffer),
		stopping: make(chan struct{}),
	}
	a.cell.Store(&cell{state: stateUnknown.String()})
	return a
}

// Submit queues ev, blocking while the channel is full. It returns
// types.ErrClosed once the arbiter has begun shutting down. An event for
// which Submit returned nil is always handled before the final close.
func (a *Arbiter) Submit(ctx context.Context, ev Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return types.ErrClosed
	}
	select {
	case a.events <- ev:
		return nil
	case <-a.stopping:
		return types.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown queues a shutdown event behind everything already submitted and
// waits for it: open sessions are closed at at and the shutdown status row
// is written.
func (a *Arbiter) Shutdown(ctx context.Context, at time.Time) error {
	ack := make(chan error, 1)
	if err := a.Submit(ctx, Event{Kind: EventShutdown, At: at, ack: ack}); err != nil {
		return err
	}
	select {
	case err := <-ack:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run consumes events until a shutdown event is handled. If ctx ends first,
// open sessions are closed at the current time.
func (a *Arbiter) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-a.events:
			if ev.Kind != EventShutdown {
				a.handle(ctx, ev)
				continue
			}
			extra := a.stopIntake(ctx)
			a.handle(ctx, ev)
			for _, ack := range extra {
				ack <- nil
			}
			return nil
		case <-ctx.Done():
			a.opts.Logger.Warn("arbiter stopped without shutdown event")
			ctx = context.WithoutCancel(ctx)
			extra := a.stopIntake(ctx)
			err := a.closeAll(ctx, a.opts.Clock.Now().UTC())
			for _, ack := range extra {
				ack <- err
			}
			return err
		}
	}
}

// stopIntake refuses further events and handles those already accepted. It
// returns the acks of any duplicate shutdown events for the caller to answer
// once sessions are closed.
func (a *Arbiter) stopIntake(ctx context.Context) []chan error {
	close(a.stopping)
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	var acks []chan error
	for {
		select {
		case ev := <-a.events:
			if ev.Kind == EventShutdown {
				if ev.ack != nil {
					acks = append(acks, ev.ack)
				}
				continue
			}
			a.handle(ctx, ev)
		default:
			return acks
		}
	}
}

// handle applies one event. It reports whether the arbiter should stop.
func (a *Arbiter) handle(ctx context.Context, ev Event) bool {
	switch ev.Kind {
	case EventApplicationFocus:
		if ev.Window != nil {
			a.onFocus(ctx, *ev.Window, a.clamp(ev, &a.focusBoundary))
		}
	case EventTabChange:
		if ev.Tab != nil {
			a.onTab(ctx, *ev.Tab, a.clamp(ev, &a.focusBoundary))
		}
	case EventPlayerStateChange:
		if ev.Video != nil {
			a.onPlayer(ctx, *ev.Video, a.clamp(ev, &a.videoBoundary))
		}
	case EventKeepAlivePulse:
		at := a.opts.Zone.Normalize(ev.At)
		if err := a.ledgers.Credit(ctx, at); err != nil {
			a.opts.Logger.Warn("keep-alive credit failed", "error", err)
		}
		// Credited time belongs to the open sessions; later transitions
		// cannot start before it.
		for _, b := range []*time.Time{&a.focusBoundary, &a.videoBoundary} {
			if at.After(*b) {
				*b = at
			}
		}
	case EventShutdown:
		at := a.clamp(ev, &a.focusBoundary)
		if at.Before(a.videoBoundary) {
			at = a.videoBoundary
		}
		err := a.closeAll(ctx, at)
		if ev.ack != nil {
			ev.ack <- err
		}
		return true
	default:
		a.opts.Logger.Warn("unknown event", "kind", ev.Kind)
	}
	return false
}

// clamp normalizes the event time to UTC and raises it to boundary when a
// stale producer reports a time before the latest transition.
func (a *Arbiter) clamp(ev Event, boundary *time.Time) time.Time {
	at := a.opts.Zone.Normalize(ev.At)
	if at.Before(*boundary) {
		a.opts.Health.Inc(types.CounterTimestampClamped)
		a.opts.Logger.Warn("out-of-order event clamped",
			"event", ev.Kind, "at", at, "boundary", *boundary, "behind", boundary.Sub(at))
		return *boundary
	}
	return at
}

func (a *Arbiter) onFocus(ctx context.Context, w types.WindowInfo, at time.Time) {
	if a.opts.Productivity.IsBrowser(w) {
		if a.state == stateChrome {
			a.activeApp = &w
			return
		}
		a.closeFocusOrReset(ctx, at)
		a.state = stateChrome
		a.activeApp = &w
		if a.lastTab != nil {
			a.openFocus(types.NewChromeSession(*a.lastTab, at))
		}
		a.publish()
		return
	}

	if a.state == stateApplication && a.activeApp != nil && a.activeApp.SameWindow(w) {
		return
	}
	a.closeFocusOrReset(ctx, at)
	a.state = stateApplication
	a.activeApp = &w
	a.openFocus(types.NewProgramSession(w, at))
	a.publish()
}

func (a *Arbiter) onTab(ctx context.Context, tab types.TabInfo, at time.Time) {
	if a.state != stateChrome {
		a.lastTab = &tab
		return
	}
	if a.focusSession != nil && a.lastTab != nil && *a.lastTab == tab {
		return
	}
	a.lastTab = &tab
	a.closeFocusOrReset(ctx, at)
	a.state = stateChrome
	a.openFocus(types.NewChromeSession(tab, at))
	a.publish()
}

func (a *Arbiter) onPlayer(ctx context.Context, v types.VideoInfo, at time.Time) {
	cur := a.videoSession
	same := cur != nil && cur.Video.Platform == v.Platform && cur.Video.VideoID == types.Truncate(v.VideoID)
	switch v.State {
	case types.PlayerPlaying:
		if same {
			return
		}
		if err := a.closeVideo(ctx, at); err != nil {
			a.opts.Logger.Error("close video session failed", "error", err)
			a.opts.Health.Inc(types.CounterArbiterReset)
		}
		s := types.NewVideoSession(v, at)
		a.videoSession = s
		l, err := a.ledgers.Open(keepalive.SlotVideo, s)
		if err != nil {
			a.opts.Logger.Error("open video session failed", "error", err)
		}
		a.video = l
		a.opts.Logger.Debug("video session opened", "platform", v.Platform, "video", v.VideoID, "at", at)
	case types.PlayerPaused:
		if !same {
			return
		}
		if err := a.closeVideo(ctx, at); err != nil {
			a.opts.Logger.Error("close video session failed", "error", err)
			a.opts.Health.Inc(types.CounterArbiterReset)
		}
	default:
		a.opts.Logger.Warn("unknown player state", "state", v.State)
		return
	}
	a.publish()
}

func (a *Arbiter) openFocus(s *types.Session) {
	s.Productive = a.opts.Productivity.Classify(s)
	a.focusSession = s
	l, err := a.ledgers.Open(keepalive.SlotFocus, s)
	if err != nil {
		a.opts.Logger.Error("open session failed", "kind", s.Kind, "session", s.ID, "error", err)
	}
	a.focus = l
	if s.Start.After(a.focusBoundary) {
		a.focusBoundary = s.Start
	}
	a.opts.Logger.Debug("session opened", "kind", s.Kind, "identity", s.Identity(), "at", s.Start)
}

func (a *Arbiter) closeFocusOrReset(ctx context.Context, at time.Time) {
	if err := a.closeFocus(ctx, at); err != nil {
		a.reset(err)
	}
}

func (a *Arbiter) closeFocus(ctx context.Context, at time.Time) error {
	s, l := a.focusSession, a.focus
	a.focusSession, a.focus = nil, nil
	if s == nil {
		return nil
	}
	if l == nil {
		return fmt.Errorf("close %s session %s: %w", s.Kind, s.ID, types.ErrMissingLedger)
	}
	credited, err := a.ledgers.Close(ctx, l, at)
	if err != nil {
		return err
	}
	if at.After(a.focusBoundary) {
		a.focusBoundary = at
	}
	a.opts.Logger.Debug("session closed", "kind", s.Kind, "identity", s.Identity(), "at", at, "credited", credited)
	return nil
}

func (a *Arbiter) closeVideo(ctx context.Context, at time.Time) error {
	s, l := a.videoSession, a.video
	a.videoSession, a.video = nil, nil
	if s == nil {
		return nil
	}
	if l == nil {
		return fmt.Errorf("close video session %s: %w", s.ID, types.ErrMissingLedger)
	}
	if _, err := a.ledgers.Close(ctx, l, at); err != nil {
		return err
	}
	if at.After(a.videoBoundary) {
		a.videoBoundary = at
	}
	return nil
}

// reset drops the focus state after a failed close. The next event starts
// from a clean state.
func (a *Arbiter) reset(err error) {
	a.opts.Health.Inc(types.CounterArbiterReset)
	a.opts.Logger.Error("arbiter reset", "state", a.state, "error", err)
	a.state = stateUnknown
	a.activeApp = nil
	a.focusSession, a.focus = nil, nil
}

func (a *Arbiter) closeAll(ctx context.Context, at time.Time) error {
	var result *multierror.Error
	if err := a.closeFocus(ctx, at); err != nil {
		result = multierror.Append(result, err)
	}
	if err := a.closeVideo(ctx, at); err != nil {
		result = multierror.Append(result, err)
	}
	a.state = stateUnknown
	a.activeApp = nil
	a.publish()
	if a.status != nil {
		if err := a.status.WriteStatus(ctx, types.StatusShutdown, at); err != nil {
			result = multierror.Append(result, fmt.Errorf("write shutdown status: %w", err))
		}
	}
	return result.ErrorOrNil()
}

func (a *Arbiter) publish() {
	a.cell.Store(&cell{state: a.state.String(), focus: a.focus, video: a.video})
}

// SessionView is a read-only view of an open session.
type SessionView struct {
	Session  *types.Session `json:"session"`
	Credited time.Duration  `json:"credited"`
}

// Snapshot is the arbiter state as seen by readers outside the Run goroutine.
type Snapshot struct {
	State string       `json:"state"`
	Focus *SessionView `json:"focus,omitempty"`
	Video *SessionView `json:"video,omitempty"`
}

// Current returns the latest published state. Safe for concurrent use.
func (a *Arbiter) Current() Snapshot {
	c := a.cell.Load()
	snap := Snapshot{State: c.state}
	if c.focus != nil {
		snap.Focus = &SessionView{Session: c.focus.Session(), Credited: c.focus.Credited()}
	}
	if c.video != nil {
		snap.Video = &SessionView{Session: c.video.Session(), Credited: c.video.Credited()}
	}
	return snap
}
