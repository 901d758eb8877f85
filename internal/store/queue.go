package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"

	"github.com/user/activitytracker/internal/types"
)

// QueueOptions configures a Queue. Zero values take the defaults noted.
type QueueOptions struct {
	Name           string
	Capacity       int           // 40
	BatchSize      int           // 100
	FlushInterval  time.Duration // 1s
	EnqueueTimeout time.Duration // 2s
	Policy         types.OverflowPolicy
	Retry          *RetryPolicy
	Journal        *Journal
	Health         *Health
	Clock          quartz.Clock
	Logger         *slog.Logger
}

func (o *QueueOptions) setDefaults() {
	if o.Capacity <= 0 {
		o.Capacity = 40
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = time.Second
	}
	if o.EnqueueTimeout <= 0 {
		o.EnqueueTimeout = 2 * time.Second
	}
	if o.Retry == nil {
		o.Retry = DefaultRetryPolicy()
	}
	if o.Health == nil {
		o.Health = NewHealth(nil, o.Logger)
	}
	if o.Clock == nil {
		o.Clock = quartz.NewReal()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Queue buffers writes for one DAO and flushes them in a single transaction
// when the buffer reaches the batch threshold or the flush interval elapses.
// A batch that still fails after retries goes to the recovery journal. While
// the queue has journaled batches outstanding, each flush first replays them
// oldest first; if that fails the new batch is journaled behind them, so ops
// of one queue always reach the database in order.
type Queue struct {
	opts      QueueOptions
	db        BatchApplier
	items     chan Op
	lever     chan struct{}
	closing   chan struct{}
	done      chan struct{}
	threshold int

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	runErr    error

	failed    atomic.Bool
	journaled atomic.Int64
	// backlog is set while journal files written by this queue are pending.
	backlog atomic.Bool
}

func NewQueue(db BatchApplier, opts QueueOptions) *Queue {
	opts.setDefaults()
	q := &Queue{
		opts:      opts,
		db:        db,
		items:     make(chan Op, opts.Capacity),
		lever:     make(chan struct{}, 1),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
		threshold: min(opts.BatchSize, opts.Capacity),
	}
	if opts.Journal != nil {
		files, err := opts.Journal.PendingFor(opts.Name)
		if err != nil {
			opts.Logger.Warn("cannot list journal backlog", "queue", opts.Name, "error", err)
		}
		q.backlog.Store(err != nil || len(files) > 0)
	}
	return q
}

func (q *Queue) Name() string { return q.opts.Name }

// Len is the number of buffered ops.
func (q *Queue) Len() int { return len(q.items) }

// Failed reports whether any flush ended in the journal.
func (q *Queue) Failed() bool { return q.failed.Load() }

// Journaled is the number of batches written to the journal.
func (q *Queue) Journaled() int64 { return q.journaled.Load() }

// Enqueue buffers op. When the buffer is full a Block queue waits up to
// EnqueueTimeout for room; a DropNewest queue returns types.ErrQueueFull at
// once.
func (q *Queue) Enqueue(ctx context.Context, op Op) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return fmt.Errorf("queue %s: %w", q.opts.Name, types.ErrClosed)
	}

	select {
	case q.items <- op:
		q.maybeFlush()
		return nil
	default:
	}

	q.opts.Health.Inc(types.CounterQueueFull)
	q.pull()
	if q.opts.Policy == types.DropNewest {
		return fmt.Errorf("queue %s: %w", q.opts.Name, types.ErrQueueFull)
	}

	timer := q.opts.Clock.NewTimer(q.opts.EnqueueTimeout, "store", "enqueue")
	defer timer.Stop()
	select {
	case q.items <- op:
		q.maybeFlush()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("queue %s: %w", q.opts.Name, types.ErrQueueFull)
	}
}

func (q *Queue) maybeFlush() {
	if len(q.items) >= q.threshold {
		q.pull()
	}
}

// pull asks the run loop to flush now.
func (q *Queue) pull() {
	select {
	case q.lever <- struct{}{}:
	default:
	}
}

// Run flushes until Close is called or ctx is done, then drains what is
// left. It returns an error only when the journal is exhausted.
func (q *Queue) Run(ctx context.Context) error {
	defer close(q.done)
	ticker := q.opts.Clock.NewTicker(q.opts.FlushInterval, "store", q.opts.Name)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-ticker.C:
			err = q.flush(ctx)
		case <-q.lever:
			err = q.flush(ctx)
		case <-q.closing:
			q.runErr = q.drain(context.WithoutCancel(ctx))
			return q.runErr
		case <-ctx.Done():
			q.markClosed()
			q.runErr = q.drain(context.WithoutCancel(ctx))
			return q.runErr
		}
		if errors.Is(err, types.ErrJournalFull) {
			q.markClosed()
			q.runErr = err
			return err
		}
	}
}

func (q *Queue) markClosed() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// Close stops accepting ops, waits for the run loop to flush the remainder
// and returns its error. ctx bounds the wait.
func (q *Queue) Close(ctx context.Context) error {
	q.closeOnce.Do(func() {
		q.markClosed()
		close(q.closing)
	})
	select {
	case <-q.done:
		return q.runErr
	case <-ctx.Done():
		return fmt.Errorf("queue %s: close: %w", q.opts.Name, ctx.Err())
	}
}

func (q *Queue) drain(ctx context.Context) error {
	for len(q.items) > 0 {
		if err := q.flush(ctx); err != nil {
			return err
		}
	}
	return nil
}

// take removes up to Capacity buffered ops.
func (q *Queue) take() []Op {
	n := len(q.items)
	if n == 0 {
		return nil
	}
	batch := make([]Op, 0, n)
	for i := 0; i < n; i++ {
		select {
		case op := <-q.items:
			batch = append(batch, op)
		default:
			return batch
		}
	}
	return batch
}

func (q *Queue) flush(ctx context.Context) error {
	batch := q.take()
	for len(batch) > 0 {
		n := min(len(batch), q.opts.BatchSize)
		if err := q.write(ctx, batch[:n]); err != nil {
			return err
		}
		batch = batch[n:]
	}
	return nil
}

func (q *Queue) write(ctx context.Context, batch []Op) error {
	if q.backlog.Load() {
		if err := q.replayBacklog(ctx); err != nil {
			return q.journal(batch, fmt.Errorf("journal backlog not replayed: %w", err))
		}
	}

	err := q.opts.Retry.Execute(ctx, func() error {
		return q.db.ApplyBatch(ctx, batch)
	}, func(err error, next time.Duration) {
		q.opts.Health.Inc(types.CounterFlushRetry)
		q.opts.Logger.Warn("flush failed, retrying", "queue", q.opts.Name, "ops", len(batch), "retry_in", next, "error", err)
	})
	if err == nil {
		q.opts.Health.Recover()
		return nil
	}
	return q.journal(batch, err)
}

// replayBacklog applies this queue's journal files with the retry policy and
// clears the backlog flag once none remain.
func (q *Queue) replayBacklog(ctx context.Context) error {
	err := q.opts.Retry.Execute(ctx, func() error {
		n, err := q.opts.Journal.ReplayQueue(ctx, q.db, q.opts.Name)
		if n > 0 {
			q.opts.Logger.Info("replayed journal backlog", "queue", q.opts.Name, "ops", n)
		}
		return err
	}, func(err error, next time.Duration) {
		q.opts.Health.Inc(types.CounterFlushRetry)
		q.opts.Logger.Warn("journal backlog replay failed, retrying", "queue", q.opts.Name, "retry_in", next, "error", err)
	})
	if err != nil {
		return err
	}
	q.backlog.Store(false)
	return nil
}

// journal records a batch that could not be written.
func (q *Queue) journal(batch []Op, cause error) error {
	q.failed.Store(true)
	q.opts.Health.Degrade(fmt.Sprintf("%s flush: %v", q.opts.Name, cause))
	if q.opts.Journal == nil {
		q.opts.Logger.Error("flush failed, batch lost", "queue", q.opts.Name, "ops", len(batch), "error", cause)
		return nil
	}
	path, jerr := q.opts.Journal.Write(q.opts.Name, batch)
	if jerr != nil {
		q.opts.Logger.Error("journal write failed", "queue", q.opts.Name, "ops", len(batch), "error", jerr)
		return fmt.Errorf("queue %s: %w", q.opts.Name, jerr)
	}
	q.backlog.Store(true)
	q.journaled.Add(1)
	q.opts.Health.Inc(types.CounterJournaledBatch)
	q.opts.Logger.Error("flush failed, batch journaled", "queue", q.opts.Name, "ops", len(batch), "path", path, "error", cause)
	return nil
}
