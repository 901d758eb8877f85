package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/require"

	"github.com/user/activitytracker/internal/testutil"
	"github.com/user/activitytracker/internal/types"
)

func TestSchedulerFiresJob(t *testing.T) {
	var fires atomic.Int32
	sched := New(nil, nil)
	err := sched.Add(Job{Name: "every-second", Schedule: "* * * * * *", Run: func(context.Context) error {
		fires.Add(1)
		return nil
	}})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Wait up to 2.5 seconds for at least one fire
	deadline := time.After(2500 * time.Millisecond)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			t.Fatalf("job did not fire within 2.5s, fires=%d", fires.Load())
		case <-ticker.C:
			if fires.Load() > 0 {
				return
			}
		}
	}
}

func TestSchedulerRejectsInvalidSchedule(t *testing.T) {
	sched := New(time.UTC, nil)
	err := sched.Add(Job{Name: "bad", Schedule: "every minute", Run: func(context.Context) error { return nil }})
	if err == nil {
		t.Fatal("expected error for invalid schedule")
	}
	if err := sched.Add(Job{Name: "nil", Schedule: "@every 1m"}); err == nil {
		t.Fatal("expected error for job without function")
	}
	require.NoError(t, Validate("0 * * * * *"))
	require.NoError(t, Validate("*/5 * * * *"))
}

func TestSchedulerRunReturnsOnCancel(t *testing.T) {
	sched := New(nil, nil)
	require.NoError(t, sched.Add(Job{Name: "hourly", Schedule: "@hourly", Run: func(context.Context) error { return nil }}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, sched.Run(ctx))
}

type counterStore struct {
	mu     sync.Mutex
	counts map[string]int64
	at     time.Time
	err    error
}

func (c *counterStore) SaveCounters(_ context.Context, counts map[string]int64, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts, c.at = counts, at
	return c.err
}

type staticCounters map[string]int64

func (s staticCounters) Snapshot() map[string]int64 { return s }

func TestHeartbeat(t *testing.T) {
	mClock := quartz.NewMock(t)
	status := &testutil.StatusRecorder{}
	store := &counterStore{}
	job := Heartbeat("0 * * * * *", status, store, staticCounters{types.CounterFlushRetry: 3}, mClock)
	require.Equal(t, "heartbeat", job.Name)

	require.NoError(t, job.Run(context.Background()))
	rows := status.Rows()
	require.Len(t, rows, 1)
	require.Equal(t, types.StatusOnline, rows[0].Status)
	require.True(t, rows[0].At.Equal(mClock.Now()))
	require.EqualValues(t, 3, store.counts[types.CounterFlushRetry])
}

func TestHeartbeatSkipsEmptyCountersAndReportsErrors(t *testing.T) {
	status := &testutil.StatusRecorder{}
	store := &counterStore{err: errors.New("queue closed")}

	job := Heartbeat("@every 1m", status, store, staticCounters{}, quartz.NewMock(t))
	require.NoError(t, job.Run(context.Background()))
	require.Nil(t, store.counts)

	job = Heartbeat("@every 1m", status, store, staticCounters{types.CounterQueueFull: 1}, quartz.NewMock(t))
	require.ErrorContains(t, job.Run(context.Background()), "health counters")
	require.Len(t, status.Rows(), 2)
}
