package peripheral

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/coder/quartz"

	"github.com/user/activitytracker/internal/types"
)

// MouseReader emits relative motion, wheel and button presses.
type MouseReader struct {
	src    io.Reader
	out    Pusher[types.MouseEvent]
	clock  quartz.Clock
	logger *slog.Logger
}

func NewMouseReader(src io.Reader, out Pusher[types.MouseEvent], clock quartz.Clock, logger *slog.Logger) *MouseReader {
	if clock == nil {
		clock = quartz.NewReal()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MouseReader{src: src, out: out, clock: clock, logger: logger}
}

func (m *MouseReader) Run(ctx context.Context) error {
	if c, ok := m.src.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { c.Close() })
		defer stop()
	}
	for {
		ev, err := readEvent(m.src)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		kind, ok := classifyMouse(ev)
		if !ok {
			continue
		}
		at := ev.time()
		if at.IsZero() {
			at = m.clock.Now().UTC()
		}
		// Mouse events are lossy; a full facade drops them.
		_ = m.out.Push(ctx, types.MouseEvent{At: at, Kind: kind})
	}
}

func classifyMouse(ev inputEvent) (types.MouseEventKind, bool) {
	switch ev.Type {
	case evRel:
		if ev.Code == relWheel || ev.Code == relHWheel {
			return types.MouseScroll, true
		}
		return types.MouseMove, true
	case evKey:
		if ev.Code >= btnMouse && ev.Code <= btnTask && ev.Value == valuePress {
			return types.MouseClick, true
		}
	}
	return 0, false
}
