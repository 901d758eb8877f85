package store

import (
	"context"
	"time"

	"github.com/user/activitytracker/internal/types"
	"github.com/user/activitytracker/internal/tz"
)

// StatusDAO records lifecycle rows and persists health counters.
type StatusDAO struct {
	*Reader
	q *Queue
}

func NewStatusDAO(db *DB, zone *tz.Zone, q *Queue) *StatusDAO {
	return &StatusDAO{Reader: NewReader(db, zone), q: q}
}

func (d *StatusDAO) WriteStatus(ctx context.Context, status types.SystemStatus, at time.Time) error {
	at = at.UTC()
	return d.q.Enqueue(ctx, Op{
		Kind:   OpInsertStatus,
		RowID:  types.NewRowID(),
		Status: &types.StatusRow{Status: status, At: at, AtLocal: d.zone.Local(at)},
	})
}

// SaveCounters overwrites the persisted value of every counter in counts.
// counts are totals; the daemon restores them with Health.Restore at start.
func (d *StatusDAO) SaveCounters(ctx context.Context, counts map[string]int64, at time.Time) error {
	for name, n := range counts {
		if err := d.q.Enqueue(ctx, Op{Kind: OpSetCounter, Counter: name, Count: n, At: at.UTC()}); err != nil {
			return err
		}
	}
	return nil
}
