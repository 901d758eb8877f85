package keepalive

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/user/activitytracker/internal/testutil"
	"github.com/user/activitytracker/internal/types"
	"github.com/user/activitytracker/internal/tz"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var t0 = time.Date(2025, 5, 3, 10, 0, 0, 0, time.UTC)

func codeSession(start time.Time) *types.Session {
	return types.NewProgramSession(types.WindowInfo{ExePath: "/usr/bin/code", ProcessName: "code", WindowTitle: "main.go"}, start)
}

func newEngine(t *testing.T, sink Sink, zone *tz.Zone) *Engine {
	t.Helper()
	return New(sink, Options{Pulse: 10 * time.Second, Zone: zone, Clock: quartz.NewMock(t)})
}

func TestPulsesCreditElapsedTime(t *testing.T) {
	ctx := context.Background()
	sink := testutil.NewMemorySink()
	e := newEngine(t, sink, tz.UTC())

	s := codeSession(t0)
	l, err := e.Open(SlotFocus, s)
	require.NoError(t, err)

	require.NoError(t, e.Credit(ctx, t0.Add(10*time.Second)))
	require.NoError(t, e.Credit(ctx, t0.Add(20*time.Second)))
	credited, err := e.Close(ctx, l, t0.Add(25*time.Second))
	require.NoError(t, err)
	require.Equal(t, 25*time.Second, credited)

	logs := sink.Logs()
	require.Len(t, logs, 1)
	require.Equal(t, 25*time.Second, logs[0].Duration)
	require.True(t, logs[0].Start.Equal(t0))
	require.True(t, logs[0].End.Equal(t0.Add(25*time.Second)))
	require.True(t, logs[0].Closed)
	require.Equal(t, 25*time.Second, sink.Daily(types.KindProgram, "/usr/bin/code", "2025-05-03"))
	require.Nil(t, e.Current(SlotFocus))
}

func TestMidnightSplit(t *testing.T) {
	ctx := context.Background()
	zone, err := tz.Load("", "+09:00", "")
	require.NoError(t, err)
	sink := testutil.NewMemorySink()
	e := newEngine(t, sink, zone)

	loc := zone.Location()
	start := time.Date(2025, 5, 3, 23, 59, 50, 0, loc).UTC()
	midnight := time.Date(2025, 5, 4, 0, 0, 0, 0, loc).UTC()
	end := time.Date(2025, 5, 4, 0, 0, 10, 0, loc).UTC()

	l, err := e.Open(SlotFocus, codeSession(start))
	require.NoError(t, err)
	require.NoError(t, e.Credit(ctx, midnight))
	_, err = e.Close(ctx, l, end)
	require.NoError(t, err)

	logs := sink.Logs()
	require.Len(t, logs, 2)
	require.Equal(t, "2025-05-03", logs[0].GatheringDateLocal)
	require.True(t, logs[0].Start.Equal(start))
	require.True(t, logs[0].End.Equal(midnight))
	require.Equal(t, 10*time.Second, logs[0].Duration)
	require.True(t, logs[0].Closed)

	require.Equal(t, "2025-05-04", logs[1].GatheringDateLocal)
	require.True(t, logs[1].Start.Equal(midnight))
	require.True(t, logs[1].End.Equal(end))
	require.Equal(t, 10*time.Second, logs[1].Duration)
	require.True(t, logs[1].Closed)
	require.Equal(t, logs[0].SessionID, logs[1].SessionID)

	require.Equal(t, 10*time.Second, sink.Daily(types.KindProgram, "/usr/bin/code", "2025-05-03"))
	require.Equal(t, 10*time.Second, sink.Daily(types.KindProgram, "/usr/bin/code", "2025-05-04"))
}

func TestMidnightSplitWithinOneCredit(t *testing.T) {
	ctx := context.Background()
	zone := tz.UTC()
	sink := testutil.NewMemorySink()
	e := newEngine(t, sink, zone)

	start := time.Date(2025, 5, 3, 23, 59, 55, 0, time.UTC)
	l, err := e.Open(SlotFocus, codeSession(start))
	require.NoError(t, err)
	_, err = e.Close(ctx, l, start.Add(10*time.Second))
	require.NoError(t, err)

	logs := sink.Logs()
	require.Len(t, logs, 2)
	require.Equal(t, 5*time.Second, logs[0].Duration)
	require.Equal(t, 5*time.Second, logs[1].Duration)
}

func TestCloseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	sink := testutil.NewMemorySink()
	e := newEngine(t, sink, tz.UTC())

	l, err := e.Open(SlotFocus, codeSession(t0))
	require.NoError(t, err)
	first, err := e.Close(ctx, l, t0.Add(7*time.Second))
	require.NoError(t, err)
	calls := sink.Calls()

	second, err := e.Close(ctx, l, t0.Add(30*time.Second))
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, calls, sink.Calls(), "second close wrote nothing")
	require.True(t, l.Closed())
}

func TestNoCreditAfterClose(t *testing.T) {
	ctx := context.Background()
	sink := testutil.NewMemorySink()
	e := newEngine(t, sink, tz.UTC())

	l, err := e.Open(SlotFocus, codeSession(t0))
	require.NoError(t, err)
	_, err = e.Close(ctx, l, t0.Add(5*time.Second))
	require.NoError(t, err)
	require.NoError(t, e.Credit(ctx, t0.Add(10*time.Second)))
	require.Equal(t, 5*time.Second, l.Credited())
	require.Equal(t, 5*time.Second, sink.Daily(types.KindProgram, "/usr/bin/code", "2025-05-03"))
}

func TestCloseMissingLedger(t *testing.T) {
	e := newEngine(t, testutil.NewMemorySink(), tz.UTC())
	_, err := e.Close(context.Background(), nil, t0)
	require.ErrorIs(t, err, types.ErrMissingLedger)
}

func TestZeroDurationWritesNothing(t *testing.T) {
	ctx := context.Background()
	sink := testutil.NewMemorySink()
	e := newEngine(t, sink, tz.UTC())

	l, err := e.Open(SlotFocus, codeSession(t0))
	require.NoError(t, err)
	_, err = e.Close(ctx, l, t0)
	require.NoError(t, err)
	require.Zero(t, sink.Calls())

	// An end before the start credits nothing either.
	l, err = e.Open(SlotFocus, codeSession(t0))
	require.NoError(t, err)
	_, err = e.Close(ctx, l, t0.Add(-time.Second))
	require.NoError(t, err)
	require.Zero(t, sink.Calls())
}

func TestSuspendGapIsCapped(t *testing.T) {
	ctx := context.Background()
	sink := testutil.NewMemorySink()
	health := &testutil.CounterRecorder{}
	e := New(sink, Options{Pulse: 10 * time.Second, Zone: tz.UTC(), Clock: quartz.NewMock(t), Health: health})

	l, err := e.Open(SlotFocus, codeSession(t0))
	require.NoError(t, err)
	require.NoError(t, e.Credit(ctx, t0.Add(10*time.Second)))
	require.NoError(t, e.Credit(ctx, t0.Add(time.Hour)))
	require.Equal(t, 40*time.Second, l.Credited())
	require.Equal(t, 1, health.Count(types.CounterSuspendGap))

	logs := sink.Logs()
	require.Len(t, logs, 1)
	require.True(t, logs[0].End.Equal(t0.Add(time.Hour)))
	require.LessOrEqual(t, logs[0].Duration, logs[0].End.Sub(logs[0].Start))
}

func TestUncappedCreditKeepsBoundAcrossSuspend(t *testing.T) {
	ctx := context.Background()
	sink := testutil.NewMemorySink()
	health := &testutil.CounterRecorder{}
	e := New(sink, Options{Pulse: 10 * time.Second, MaxCredit: -1, Zone: tz.UTC(), Clock: quartz.NewMock(t), Health: health})

	l, err := e.Open(SlotFocus, codeSession(t0))
	require.NoError(t, err)
	require.NoError(t, e.Credit(ctx, t0.Add(10*time.Second)))
	require.NoError(t, e.Credit(ctx, t0.Add(time.Hour)))
	require.Equal(t, time.Hour, l.Credited())
	require.Zero(t, health.Count(types.CounterSuspendGap))
}

func TestVideoSlotIsCreditedIndependently(t *testing.T) {
	ctx := context.Background()
	sink := testutil.NewMemorySink()
	e := newEngine(t, sink, tz.UTC())

	focus, err := e.Open(SlotFocus, codeSession(t0))
	require.NoError(t, err)
	video, err := e.Open(SlotVideo, types.NewVideoSession(types.VideoInfo{Platform: types.PlatformYouTube, VideoID: "abc", MediaName: "talk", State: types.PlayerPlaying}, t0.Add(5*time.Second)))
	require.NoError(t, err)

	require.NoError(t, e.Credit(ctx, t0.Add(10*time.Second)))
	require.Equal(t, 10*time.Second, focus.Credited())
	require.Equal(t, 5*time.Second, video.Credited())
	require.Equal(t, 5*time.Second, sink.Daily(types.KindVideo, "youtube:abc", "2025-05-03"))
}

func TestCreditErrorsAreReturned(t *testing.T) {
	sink := testutil.NewMemorySink()
	sink.Err = errors.New("queue closed")
	e := newEngine(t, sink, tz.UTC())
	_, err := e.Open(SlotFocus, codeSession(t0))
	require.NoError(t, err)
	require.ErrorContains(t, e.Credit(context.Background(), t0.Add(time.Second)), "queue closed")
}

// credited <= t - start <= credited + pulse whenever pulses arrive at most
// one pulse width apart.
func TestKeepAliveBound(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))
	pulse := 10 * time.Second

	for trial := 0; trial < 50; trial++ {
		sink := testutil.NewMemorySink()
		e := newEngine(t, sink, tz.UTC())
		l, err := e.Open(SlotFocus, codeSession(t0))
		require.NoError(t, err)

		now := t0
		for i := 0; i < 20; i++ {
			step := time.Duration(rng.Int63n(int64(pulse-time.Millisecond))) + time.Millisecond
			// Between pulses the bound must hold for any instant.
			probe := now.Add(time.Duration(rng.Int63n(int64(step))))
			elapsed := probe.Sub(t0)
			require.LessOrEqual(t, l.Credited(), elapsed)
			require.LessOrEqual(t, elapsed, l.Credited()+pulse)

			now = now.Add(step)
			require.NoError(t, e.Credit(ctx, now))
		}
		end := now.Add(time.Duration(rng.Int63n(int64(pulse))))
		credited, err := e.Close(ctx, l, end)
		require.NoError(t, err)
		require.Equal(t, end.Sub(t0), credited)

		var total time.Duration
		for _, lg := range sink.Logs() {
			total += lg.Duration
		}
		require.Equal(t, credited, total)
		require.Equal(t, credited, sink.Daily(types.KindProgram, "/usr/bin/code", "2025-05-03"))
	}
}

func TestRunSubmitsPulses(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	clock := quartz.NewMock(t)
	e := New(testutil.NewMemorySink(), Options{Pulse: 10 * time.Second, Clock: clock})

	trap := clock.Trap().NewTicker("keepalive")
	defer trap.Close()

	pulses := make(chan time.Time, 4)
	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- e.Run(runCtx, func(_ context.Context, at time.Time) error {
			pulses <- at
			return nil
		})
	}()
	trap.MustWait(ctx).MustRelease(ctx)

	start := clock.Now()
	clock.Advance(10 * time.Second).MustWait(ctx)
	select {
	case at := <-pulses:
		require.Equal(t, start.Add(10*time.Second).UTC(), at)
	case <-ctx.Done():
		t.Fatal("no pulse submitted")
	}

	stop()
	require.NoError(t, <-done)
}
