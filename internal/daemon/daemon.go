// Package daemon wires storage, the arbiter, the keep-alive engine and every
// producer from configuration, and runs them with an ordered shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/afero"

	"github.com/user/activitytracker/internal/aggregate"
	"github.com/user/activitytracker/internal/arbiter"
	"github.com/user/activitytracker/internal/bridge"
	"github.com/user/activitytracker/internal/config"
	"github.com/user/activitytracker/internal/facade"
	"github.com/user/activitytracker/internal/keepalive"
	"github.com/user/activitytracker/internal/probe"
	"github.com/user/activitytracker/internal/scheduler"
	"github.com/user/activitytracker/internal/store"
	"github.com/user/activitytracker/internal/tracker"
	"github.com/user/activitytracker/internal/types"
	"github.com/user/activitytracker/internal/tz"
)

// ErrUncleanShutdown is returned by Run when a flush failed or a batch had to
// be journaled.
var ErrUncleanShutdown = errors.New("shutdown did not drain cleanly")

// Options override the platform inputs. Zero values select the real ones.
type Options struct {
	Clock quartz.Clock
	// Probe replaces the platform foreground probe.
	Probe probe.Probe
	// Keyboard and Mouse replace the evdev devices.
	Keyboard io.Reader
	Mouse    io.Reader
	// Fs holds the recovery journal. Default is the OS filesystem.
	Fs       afero.Fs
	Registry *prometheus.Registry
	Logger   *slog.Logger
}

type queues struct {
	mouse, logs, summaries, status *store.Queue
}

// in shutdown order
func (q queues) all() []*store.Queue {
	return []*store.Queue{q.mouse, q.logs, q.summaries, q.status}
}

type Daemon struct {
	cfg      *config.Config
	opts     Options
	zone     *tz.Zone
	db       *store.DB
	health   *store.Health
	journal  *store.Journal
	queues   queues
	logs     *store.LoggingDAO
	status   *store.StatusDAO
	engine   *keepalive.Engine
	arbiter  *arbiter.Arbiter
	windows  *facade.Facade[types.WindowInfo]
	keys     *facade.Facade[types.KeyEvent]
	moves    *facade.Facade[types.MouseEvent]
	program  *tracker.Program
	keyboard *aggregate.Keyboard
	mouse    *aggregate.Mouse
	bridge   *bridge.Server
	sched    *scheduler.Scheduler

	stop     chan struct{}
	stopOnce sync.Once
	fatalMu  sync.Mutex
	fatal    error
}

// New opens storage, replays any recovery journal left by a previous run and
// builds every component. Nothing runs until Run.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Daemon, error) {
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
		opts.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	logger := opts.Logger

	zone, err := tz.Load(cfg.TimeZone.Name, cfg.TimeZone.Offset, cfg.TimeZone.OffsetDST)
	if err != nil {
		return nil, err
	}
	zone.SetStrict(cfg.Development)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dsn := cfg.WriterURL()
	if dsn == "" {
		dsn = cfg.DatabasePath()
	}
	db, err := store.Open(ctx, dsn)
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		cfg:     cfg,
		opts:    opts,
		zone:    zone,
		db:      db,
		health:  store.NewHealth(opts.Registry, logger),
		journal: store.NewJournal(opts.Fs, cfg.JournalDir(), cfg.Queue.JournalMaxBytes),
		stop:    make(chan struct{}),
	}

	n, err := d.journal.Replay(ctx, db)
	switch {
	case err != nil:
		logger.Warn("journal replay incomplete, pending batches kept", "replayed_ops", n, "error", err)
	case n > 0:
		logger.Info("replayed recovery journal", "ops", n)
	}

	counts, err := store.NewReader(db, zone).Counters(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load health counters: %w", err)
	}
	d.health.Restore(counts)

	d.queues = queues{
		mouse:     d.newQueue("mouse", types.DropNewest),
		logs:      d.newQueue("logs", types.Block),
		summaries: d.newQueue("summaries", types.Block),
		status:    d.newQueue("status", types.Block),
	}
	d.logs = store.NewLoggingDAO(db, zone, d.queues.logs, d.queues.mouse)
	summaries := store.NewSummaryDAO(db, zone, d.queues.summaries, opts.Clock)
	d.status = store.NewStatusDAO(db, zone, d.queues.status)

	d.engine = keepalive.New(store.SessionSink{Logs: d.logs, Summaries: summaries}, keepalive.Options{
		Pulse:     cfg.Tracking.PulseWidth,
		MaxCredit: cfg.Tracking.MaxCredit,
		Zone:      zone,
		Clock:     opts.Clock,
		Logger:    logger.With("component", "keepalive"),
		Health:    d.health,
	})
	d.arbiter = arbiter.New(d.engine, d.status, arbiter.Options{
		Buffer:       cfg.Tracking.EventBuffer,
		Productivity: arbiter.NewProductivity(cfg.Productivity.Programs, cfg.Productivity.Domains, cfg.Productivity.Browsers),
		Zone:         zone,
		Clock:        opts.Clock,
		Logger:       logger.With("component", "arbiter"),
		Health:       d.health,
	})

	d.windows = facade.New[types.WindowInfo]("foreground", 64, types.Block, d.health)
	d.keys = facade.New[types.KeyEvent]("keyboard", 1024, types.Block, d.health)
	d.moves = facade.New[types.MouseEvent]("mouse", 4096, types.DropNewest, d.health)
	d.program = tracker.NewProgram(d.arbiter, logger.With("component", "tracker"))
	d.keyboard = aggregate.NewKeyboard(d.logs, aggregate.KeyboardOptions{
		Idle: cfg.Tracking.KeyboardIdle, Clock: opts.Clock, Logger: logger,
	})
	d.mouse = aggregate.NewMouse(d.logs, aggregate.MouseOptions{
		Debounce: cfg.Tracking.MouseDebounce, MaxEvents: cfg.Tracking.MouseMaxEvents, Clock: opts.Clock, Logger: logger,
	})

	if cfg.Bridge.Enabled {
		d.bridge = bridge.NewServer(d.arbiter, store.NewReader(db, zone), d.health, bridge.Options{
			AllowedOrigins: cfg.Bridge.AllowedOrigins,
			Gatherer:       opts.Registry,
			Clock:          opts.Clock,
			Logger:         logger.With("component", "bridge"),
		})
	}

	d.sched = scheduler.New(zone.Location(), logger)
	if err := d.sched.Add(scheduler.Heartbeat(cfg.Heartbeat, d.status, d.status, d.health, opts.Clock)); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

func (d *Daemon) newQueue(name string, policy types.OverflowPolicy) *store.Queue {
	q := d.cfg.Queue
	return store.NewQueue(d.db, store.QueueOptions{
		Name:           name,
		Capacity:       q.Capacity,
		BatchSize:      q.BatchSize,
		FlushInterval:  q.FlushInterval,
		EnqueueTimeout: q.EnqueueTimeout,
		Policy:         policy,
		Retry: &store.RetryPolicy{
			MaxAttempts:  q.Retry.MaxAttempts,
			InitialDelay: q.Retry.InitialDelay,
			MaxDelay:     q.Retry.MaxDelay,
			Multiplier:   q.Retry.Multiplier,
		},
		Journal: d.journal,
		Health:  d.health,
		Clock:   d.opts.Clock,
		Logger:  d.opts.Logger.With("component", "store", "queue", name),
	})
}

// Arbiter exposes the arbiter for snapshots.
func (d *Daemon) Arbiter() *arbiter.Arbiter { return d.arbiter }

// Handler is the bridge's HTTP handler, or nil when the bridge is disabled.
func (d *Daemon) Handler() *bridge.Server { return d.bridge }

// RequestShutdown starts a graceful shutdown. Safe to call more than once
// and from any goroutine.
func (d *Daemon) RequestShutdown() {
	d.stopOnce.Do(func() { close(d.stop) })
}

func (d *Daemon) fail(err error) {
	d.fatalMu.Lock()
	if d.fatal == nil {
		d.fatal = err
	}
	d.fatalMu.Unlock()
	d.RequestShutdown()
}

// Close releases the database.
func (d *Daemon) Close() error { return d.db.Close() }
