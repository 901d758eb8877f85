package store

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/quartz"

	"github.com/user/activitytracker/internal/types"
	"github.com/user/activitytracker/internal/tz"
)

// SummaryDAO queues upsert-and-add increments of the daily summaries.
type SummaryDAO struct {
	*Reader
	q     *Queue
	clock quartz.Clock
}

func NewSummaryDAO(db *DB, zone *tz.Zone, q *Queue, clock quartz.Clock) *SummaryDAO {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &SummaryDAO{Reader: NewReader(db, zone), q: q, clock: clock}
}

// AddDaily adds delta to the (identity, date) row of kind, creating it on
// first use. Negative deltas are refused.
func (d *SummaryDAO) AddDaily(ctx context.Context, kind types.Kind, identity, label, date string, delta time.Duration) error {
	if delta < 0 {
		return fmt.Errorf("add %s to %s/%s: %w", delta, identity, date, types.ErrNegativeDelta)
	}
	if delta == 0 {
		return nil
	}
	if _, err := tableFor(kind); err != nil {
		return err
	}
	if date == "" {
		return fmt.Errorf("add daily for %s: missing date", identity)
	}
	return d.q.Enqueue(ctx, Op{
		Kind: OpAddDaily, SessionKind: kind,
		Identity: identity, Label: label, Date: date,
		Delta: delta, At: d.clock.Now().UTC(),
	})
}

// SessionSink joins the two DAOs behind the keep-alive engine's sink.
type SessionSink struct {
	Logs      *LoggingDAO
	Summaries *SummaryDAO
}

func (s SessionSink) OpenLog(ctx context.Context, log types.SummaryLog) error {
	return s.Logs.OpenLog(ctx, log)
}

func (s SessionSink) ExtendLog(ctx context.Context, kind types.Kind, id types.LogID, end time.Time, delta time.Duration) error {
	return s.Logs.ExtendLog(ctx, kind, id, end, delta)
}

func (s SessionSink) CloseLog(ctx context.Context, kind types.Kind, id types.LogID, end time.Time) error {
	return s.Logs.CloseLog(ctx, kind, id, end)
}

func (s SessionSink) AddDaily(ctx context.Context, kind types.Kind, identity, label, date string, delta time.Duration) error {
	return s.Summaries.AddDaily(ctx, kind, identity, label, date, delta)
}
