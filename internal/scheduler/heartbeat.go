package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"github.com/hashicorp/go-multierror"

	"github.com/user/activitytracker/internal/types"
)

// CounterStore persists health counter totals. *store.StatusDAO implements it.
type CounterStore interface {
	SaveCounters(ctx context.Context, counts map[string]int64, at time.Time) error
}

// CounterSource reports health counter totals. *store.Health implements it.
type CounterSource interface {
	Snapshot() map[string]int64
}

// Heartbeat returns the job that writes an online status row and persists
// the health counters.
func Heartbeat(schedule string, status types.StatusWriter, counters CounterStore, health CounterSource, clock quartz.Clock) Job {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return Job{
		Name:     "heartbeat",
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			now := clock.Now().UTC()
			var result *multierror.Error
			if err := status.WriteStatus(ctx, types.StatusOnline, now); err != nil {
				result = multierror.Append(result, fmt.Errorf("online status: %w", err))
			}
			if counts := health.Snapshot(); len(counts) > 0 {
				if err := counters.SaveCounters(ctx, counts, now); err != nil {
					result = multierror.Append(result, fmt.Errorf("health counters: %w", err))
				}
			}
			return result.ErrorOrNil()
		},
	}
}
