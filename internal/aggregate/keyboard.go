package aggregate

import (
	"context"
	"log/slog"
	"time"

	"github.com/coder/quartz"

	"github.com/user/activitytracker/internal/types"
)

// TypingWriter persists finished typing sessions. *store.LoggingDAO
// implements it.
type TypingWriter interface {
	InsertTyping(ctx context.Context, s types.TypingSession) error
}

type KeyboardOptions struct {
	// Idle ends a typing session. Default 1s.
	Idle   time.Duration
	Clock  quartz.Clock
	Logger *slog.Logger
}

// Keyboard turns keystroke timestamps into typing sessions spanning the
// first and last keystroke of each burst.
type Keyboard struct {
	b      burst
	sink   TypingWriter
	logger *slog.Logger
}

func NewKeyboard(sink TypingWriter, opts KeyboardOptions) *Keyboard {
	if opts.Idle <= 0 {
		opts.Idle = time.Second
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	k := &Keyboard{sink: sink, logger: opts.Logger}
	k.b = burst{
		clock: opts.Clock,
		quiet: opts.Idle,
		tags:  []string{"aggregate", "keyboard"},
		emit:  k.write,
	}
	return k
}

// Add records one keystroke.
func (k *Keyboard) Add(ev types.KeyEvent) { k.b.add(ev.At.UTC()) }

// Flush completes the open typing session immediately. It reports whether
// there was one.
func (k *Keyboard) Flush() bool { return k.b.flush() }

// Run adds events from in until it is closed or ctx ends, then completes
// the open session.
func (k *Keyboard) Run(ctx context.Context, in <-chan types.KeyEvent) error {
	defer k.Flush()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-in:
			if !ok {
				return nil
			}
			k.Add(ev)
		}
	}
}

func (k *Keyboard) write(s span) {
	ts := types.TypingSession{ID: types.NewRowID(), Start: s.start, End: s.last}
	if err := k.sink.InsertTyping(context.Background(), ts); err != nil {
		k.logger.Warn("typing session not recorded", "start", ts.Start, "end", ts.End, "error", err)
		return
	}
	k.logger.Debug("typing session", "start", ts.Start, "end", ts.End, "keystrokes", s.events)
}
