package store

import (
	"context"
	"fmt"
	"time"

	"github.com/user/activitytracker/internal/types"
	"github.com/user/activitytracker/internal/tz"
)

// LoggingDAO queues session log writes and the append-only typing and mouse
// rows. Typing sessions share the blocking log queue; mouse spans use their
// own queue so a burst can be shed without stalling anything else.
type LoggingDAO struct {
	*Reader
	logs       *Queue
	peripheral *Queue
}

// NewLoggingDAO wires the session log queue and the mouse queue. The mouse
// queue is expected to use types.DropNewest.
func NewLoggingDAO(db *DB, zone *tz.Zone, logs, peripheral *Queue) *LoggingDAO {
	return &LoggingDAO{Reader: NewReader(db, zone), logs: logs, peripheral: peripheral}
}

// OpenLog queues the first row of a session segment.
func (d *LoggingDAO) OpenLog(ctx context.Context, log types.SummaryLog) error {
	if log.Session == nil {
		return fmt.Errorf("open log %s: missing session", log.ID)
	}
	if err := log.Session.Validate(); err != nil {
		return fmt.Errorf("open log %s: %w", log.ID, err)
	}
	if log.End.Before(log.Start) {
		return fmt.Errorf("open log %s: end %s before start %s", log.ID, log.End, log.Start)
	}
	if log.Duration < 0 {
		return fmt.Errorf("open log %s: %w", log.ID, types.ErrNegativeDelta)
	}
	log.Kind = log.Session.Kind
	log.Start, log.End = log.Start.UTC(), log.End.UTC()
	log.StartLocal = d.zone.Local(log.Start)
	log.EndLocal = d.zone.Local(log.End)
	if log.GatheringDateLocal == "" {
		log.GatheringDateLocal = d.zone.Date(log.Start)
	}
	return d.logs.Enqueue(ctx, Op{Kind: OpInsertLog, SessionKind: log.Kind, Log: &log})
}

// ExtendLog moves the end of an open segment and adds delta to its duration.
func (d *LoggingDAO) ExtendLog(ctx context.Context, kind types.Kind, id types.LogID, end time.Time, delta time.Duration) error {
	if delta < 0 {
		return fmt.Errorf("extend log %s: %w", id, types.ErrNegativeDelta)
	}
	end = end.UTC()
	return d.logs.Enqueue(ctx, Op{
		Kind: OpExtendLog, SessionKind: kind, LogID: id,
		End: end, EndLocal: d.zone.Local(end), Delta: delta,
	})
}

// CloseLog finalizes a segment at end.
func (d *LoggingDAO) CloseLog(ctx context.Context, kind types.Kind, id types.LogID, end time.Time) error {
	end = end.UTC()
	return d.logs.Enqueue(ctx, Op{
		Kind: OpCloseLog, SessionKind: kind, LogID: id,
		End: end, EndLocal: d.zone.Local(end),
	})
}

func (d *LoggingDAO) InsertTyping(ctx context.Context, s types.TypingSession) error {
	if s.End.Before(s.Start) {
		return fmt.Errorf("typing session ends before it starts")
	}
	if s.ID == "" {
		s.ID = types.NewRowID()
	}
	s.Start, s.End = s.Start.UTC(), s.End.UTC()
	return d.logs.Enqueue(ctx, Op{
		Kind: OpInsertTyping, Typing: &s,
		StartLocal: d.zone.Local(s.Start), EndLocal: d.zone.Local(s.End),
		Date: d.zone.Date(s.Start),
	})
}

// InsertMouse queues a mouse span. Spans are dropped, and counted, when the
// mouse queue is full.
func (d *LoggingDAO) InsertMouse(ctx context.Context, s types.MouseMoveSpan) error {
	if s.End.Before(s.Start) {
		return fmt.Errorf("mouse span ends before it starts")
	}
	if s.ID == "" {
		s.ID = types.NewRowID()
	}
	s.Start, s.End = s.Start.UTC(), s.End.UTC()
	err := d.peripheral.Enqueue(ctx, Op{
		Kind: OpInsertMouse, Mouse: &s,
		StartLocal: d.zone.Local(s.Start), EndLocal: d.zone.Local(s.End),
	})
	if err != nil && d.peripheral.opts.Policy == types.DropNewest {
		d.peripheral.opts.Health.Inc(types.CounterDroppedMouseSpan)
	}
	return err
}
