package peripheral

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/coder/quartz"

	"github.com/user/activitytracker/internal/types"
)

// Pusher accepts events for aggregation. *facade.Facade implements it.
type Pusher[T any] interface {
	Push(ctx context.Context, v T) error
}

// KeyboardReader emits one KeyEvent per key press or repeat and calls
// Hotkey when Q is pressed while either Alt key is held.
type KeyboardReader struct {
	src    io.Reader
	out    Pusher[types.KeyEvent]
	Hotkey func()
	clock  quartz.Clock
	logger *slog.Logger

	leftAlt, rightAlt bool
}

func NewKeyboardReader(src io.Reader, out Pusher[types.KeyEvent], clock quartz.Clock, logger *slog.Logger) *KeyboardReader {
	if clock == nil {
		clock = quartz.NewReal()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KeyboardReader{src: src, out: out, clock: clock, logger: logger}
}

// Run reads until the source ends or ctx is done. A source that is an
// io.Closer is closed when ctx ends to unblock the read.
func (k *KeyboardReader) Run(ctx context.Context) error {
	if c, ok := k.src.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { c.Close() })
		defer stop()
	}
	for {
		ev, err := readEvent(k.src)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if ev.Type != evKey {
			continue
		}
		if k.handle(ev) {
			at := ev.time()
			if at.IsZero() {
				at = k.clock.Now().UTC()
			}
			if err := k.out.Push(ctx, types.KeyEvent{At: at}); err != nil && ctx.Err() == nil {
				k.logger.Debug("keystroke dropped", "error", err)
			}
		}
	}
}

// handle tracks modifier state and reports whether ev counts as a keystroke.
func (k *KeyboardReader) handle(ev inputEvent) bool {
	switch ev.Code {
	case keyLeftAlt:
		k.leftAlt = ev.Value != valueRelease
	case keyRightAlt:
		k.rightAlt = ev.Value != valueRelease
	case keyQ:
		if ev.Value == valuePress && (k.leftAlt || k.rightAlt) && k.Hotkey != nil {
			k.logger.Info("shutdown hotkey pressed")
			k.Hotkey()
		}
	}
	return ev.Value == valuePress || ev.Value == valueRepeat
}
