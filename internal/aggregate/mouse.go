package aggregate

import (
	"context"
	"log/slog"
	"time"

	"github.com/coder/quartz"

	"github.com/user/activitytracker/internal/types"
)

type MouseWriter interface {
	InsertMouse(ctx context.Context, s types.MouseMoveSpan) error
}

type MouseOptions struct {
	// Debounce ends a span after this much quiet. Default 300ms.
	Debounce time.Duration
	// MaxEvents closes a span early. Default 1000.
	MaxEvents int
	Clock     quartz.Clock
	Logger    *slog.Logger
}

// Mouse debounces mouse events into spans.
type Mouse struct {
	b      burst
	sink   MouseWriter
	logger *slog.Logger
}

func NewMouse(sink MouseWriter, opts MouseOptions) *Mouse {
	if opts.Debounce <= 0 {
		opts.Debounce = 300 * time.Millisecond
	}
	if opts.MaxEvents <= 0 {
		opts.MaxEvents = 1000
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	m := &Mouse{sink: sink, logger: opts.Logger}
	m.b = burst{
		clock: opts.Clock,
		quiet: opts.Debounce,
		max:   opts.MaxEvents,
		tags:  []string{"aggregate", "mouse"},
		emit:  m.write,
	}
	return m
}

func (m *Mouse) Add(ev types.MouseEvent) { m.b.add(ev.At.UTC()) }

// Flush closes the open span immediately.
func (m *Mouse) Flush() bool { return m.b.flush() }

func (m *Mouse) Run(ctx context.Context, in <-chan types.MouseEvent) error {
	defer m.Flush()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-in:
			if !ok {
				return nil
			}
			m.Add(ev)
		}
	}
}

// write ends the span at its last event, not when the debounce timer fired,
// so the trailing quiet period is never recorded as movement.
func (m *Mouse) write(s span) {
	ms := types.MouseMoveSpan{ID: types.NewRowID(), Start: s.start, End: s.last, Events: s.events}
	if err := m.sink.InsertMouse(context.Background(), ms); err != nil {
		m.logger.Debug("mouse span dropped", "start", ms.Start, "events", ms.Events, "error", err)
	}
}
