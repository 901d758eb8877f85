package probe

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/coder/quartz"

	"github.com/user/activitytracker/internal/types"
)

// WindowSink receives foreground changes. *facade.Facade[types.WindowInfo]
// implements it.
type WindowSink interface {
	Push(ctx context.Context, w types.WindowInfo) error
}

type PollerOptions struct {
	// Interval between probes. Default 1s.
	Interval time.Duration
	Clock    quartz.Clock
	Logger   *slog.Logger
}

// Poller probes the foreground window at a fixed cadence and pushes it
// whenever it changes, stamped with the observation time.
type Poller struct {
	probe  Probe
	out    WindowSink
	opts   PollerOptions
	last   *types.WindowInfo
	errMsg string
}

func NewPoller(p Probe, out WindowSink, opts PollerOptions) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Poller{probe: p, out: out, opts: opts}
}

func (p *Poller) Run(ctx context.Context) error {
	ticker := p.opts.Clock.NewTicker(p.opts.Interval, "probe", "poll")
	defer ticker.Stop()
	p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	w, err := p.probe.ReadForeground(ctx)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, ErrNoWindow) {
			return
		}
		// Log each distinct failure once; probes fail the same way every tick.
		if msg := err.Error(); msg != p.errMsg {
			p.errMsg = msg
			p.opts.Logger.Warn("foreground probe failed", "error", err)
		}
		return
	}
	p.errMsg = ""
	if p.last != nil && p.last.SameWindow(w) {
		return
	}
	if w.ObservedAt.IsZero() {
		w.ObservedAt = p.opts.Clock.Now().UTC()
	}
	if err := p.out.Push(ctx, w); err != nil {
		// Not remembered, so the next tick retries.
		if ctx.Err() == nil {
			p.opts.Logger.Warn("foreground change dropped", "process", w.ProcessName, "error", err)
		}
		return
	}
	p.last = &w
}
