package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/user/activitytracker/internal/arbiter"
	"github.com/user/activitytracker/internal/peripheral"
	"github.com/user/activitytracker/internal/probe"
	"github.com/user/activitytracker/internal/types"
)

// Run starts every component and blocks until ctx ends, RequestShutdown is
// called or a fatal storage error occurs. Shutdown stops producers, drains
// the aggregators, stops the keep-alive engine, closes the open sessions and
// flushes the queues, all within the configured grace period.
func (d *Daemon) Run(ctx context.Context) error {
	logger := d.opts.Logger
	base := context.WithoutCancel(ctx)

	// Storage outlives everything else.
	storeCtx, stopStore := context.WithCancel(base)
	defer stopStore()
	var storeGroup errgroup.Group
	for _, q := range d.queues.all() {
		q := q
		storeGroup.Go(func() error {
			if err := q.Run(storeCtx); err != nil {
				d.fail(fmt.Errorf("queue %s: %w", q.Name(), err))
				return err
			}
			return nil
		})
	}

	if err := d.status.WriteStatus(ctx, types.StatusProgramStarted, d.opts.Clock.Now()); err != nil {
		logger.Error("write program_started", "error", err)
	}

	arbDone := make(chan error, 1)
	go func() { arbDone <- d.arbiter.Run(base) }()

	var aggGroup errgroup.Group
	aggGroup.Go(func() error { return d.program.Run(base, d.windows.C()) })
	aggGroup.Go(func() error { return d.keyboard.Run(base, d.keys.C()) })
	aggGroup.Go(func() error { return d.mouse.Run(base, d.moves.C()) })

	kaCtx, stopKeepAlive := context.WithCancel(base)
	defer stopKeepAlive()
	kaDone := make(chan error, 1)
	go func() {
		kaDone <- d.engine.Run(kaCtx, func(ctx context.Context, at time.Time) error {
			return d.arbiter.Submit(ctx, arbiter.KeepAlivePulse(at))
		})
	}()

	prodCtx, stopProducers := context.WithCancel(ctx)
	defer stopProducers()
	producers, prodCtx := errgroup.WithContext(prodCtx)
	d.startProducers(prodCtx, producers)

	select {
	case <-ctx.Done():
		logger.Info("shutting down", "reason", context.Cause(ctx))
	case <-d.stop:
		logger.Info("shutting down", "reason", "requested")
	case <-prodCtx.Done():
		logger.Info("shutting down", "reason", "producer failed")
	}

	grace, cancel := context.WithTimeout(base, d.cfg.ShutdownGrace)
	defer cancel()
	var result *multierror.Error
	wait := func(step string, fn func() error) {
		done := make(chan error, 1)
		go func() { done <- fn() }()
		select {
		case err := <-done:
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("%s: %w", step, err))
			}
		case <-grace.Done():
			result = multierror.Append(result, fmt.Errorf("%s: abandoned after %s", step, d.cfg.ShutdownGrace))
		}
	}

	stopProducers()
	wait("stop producers", producers.Wait)
	d.windows.Close()
	d.keys.Close()
	d.moves.Close()
	wait("drain trackers", aggGroup.Wait)
	stopKeepAlive()
	wait("stop keep-alive", func() error { return <-kaDone })
	wait("close sessions", func() error {
		if err := d.arbiter.Shutdown(grace, d.opts.Clock.Now()); err != nil {
			return err
		}
		return <-arbDone
	})
	wait("save health counters", func() error {
		return d.status.SaveCounters(grace, d.health.Snapshot(), d.opts.Clock.Now())
	})
	for _, q := range d.queues.all() {
		q := q
		wait("flush "+q.Name(), func() error { return q.Close(grace) })
	}
	stopStore()
	wait("stop storage", storeGroup.Wait)

	d.fatalMu.Lock()
	if d.fatal != nil {
		result = multierror.Append(result, d.fatal)
	}
	d.fatalMu.Unlock()
	for _, q := range d.queues.all() {
		if q.Failed() {
			result = multierror.Append(result, fmt.Errorf("%w: queue %s journaled %d batches", ErrUncleanShutdown, q.Name(), q.Journaled()))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		logger.Error("shutdown finished with errors", "error", err)
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// startProducers launches the foreground poller, input readers, bridge and
// scheduler. Inputs that cannot be opened are logged and skipped.
func (d *Daemon) startProducers(ctx context.Context, g *errgroup.Group) {
	logger := d.opts.Logger
	cfg := d.cfg

	p := d.opts.Probe
	if p == nil && !cfg.Tracking.DisableForeground {
		var err error
		if p, err = probe.New(); err != nil {
			logger.Warn("foreground tracking disabled", "error", err)
		}
	}
	if p != nil {
		poller := probe.NewPoller(p, d.windows, probe.PollerOptions{
			Interval: cfg.Tracking.PollInterval,
			Clock:    d.opts.Clock,
			Logger:   logger.With("component", "probe"),
		})
		g.Go(func() error { return poller.Run(ctx) })
	}

	if src := d.openDevice(d.opts.Keyboard, cfg.Tracking.KeyboardDevice, "-event-kbd"); src != nil {
		r := peripheral.NewKeyboardReader(src, d.keys, d.opts.Clock, logger)
		r.Hotkey = d.RequestShutdown
		g.Go(func() error { return d.readerDone("keyboard", r.Run(ctx)) })
	}
	if src := d.openDevice(d.opts.Mouse, cfg.Tracking.MouseDevice, "-event-mouse"); src != nil {
		r := peripheral.NewMouseReader(src, d.moves, d.opts.Clock, logger)
		g.Go(func() error { return d.readerDone("mouse", r.Run(ctx)) })
	}

	if d.bridge != nil {
		g.Go(func() error { return d.bridge.ListenAndServe(ctx, cfg.Bridge.Listen) })
	}
	g.Go(func() error { return d.sched.Run(ctx) })
}

func (d *Daemon) openDevice(override io.Reader, path, suffix string) io.Reader {
	if override != nil {
		return override
	}
	if path == "" {
		var err error
		if path, err = peripheral.Discover(afero.NewOsFs(), suffix); err != nil {
			d.opts.Logger.Info("input device not found", "kind", suffix, "error", err)
			return nil
		}
	}
	f, err := os.Open(path)
	if err != nil {
		d.opts.Logger.Warn("input device unavailable", "path", path, "error", err)
		return nil
	}
	return f
}

// readerDone logs a device reader failure without stopping the daemon.
func (d *Daemon) readerDone(name string, err error) error {
	if err != nil && !errors.Is(err, os.ErrClosed) {
		d.opts.Logger.Warn("input reader stopped", "device", name, "error", err)
	}
	return nil
}
