package probe

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/user/activitytracker/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestParseActiveWindow(t *testing.T) {
	id, err := parseActiveWindow([]byte("_NET_ACTIVE_WINDOW(WINDOW): window id # 0x3a00007\n"))
	require.NoError(t, err)
	require.Equal(t, "0x3a00007", id)

	id, err = parseActiveWindow([]byte("_NET_ACTIVE_WINDOW(WINDOW): window id # 0x1200003, 0x0"))
	require.NoError(t, err)
	require.Equal(t, "0x1200003", id)

	_, err = parseActiveWindow([]byte("_NET_ACTIVE_WINDOW(WINDOW): window id # 0x0"))
	require.ErrorIs(t, err, ErrNoWindow)

	_, err = parseActiveWindow([]byte("_NET_ACTIVE_WINDOW:  not found."))
	require.Error(t, err)
}

func TestParseProps(t *testing.T) {
	props := parseProps([]byte(strings.Join([]string{
		"_NET_WM_PID(CARDINAL) = 4242",
		`_NET_WM_NAME(UTF8_STRING) = "main.go - \"project\" - Code"`,
		`WM_NAME(STRING) = "fallback"`,
		"garbage line",
	}, "\n")))
	require.Equal(t, "4242", props["_NET_WM_PID"])
	require.Equal(t, `main.go - "project" - Code`, props["_NET_WM_NAME"])
	require.Equal(t, "fallback", props["WM_NAME"])
	require.Len(t, props, 3)
}

func TestX11ReadForeground(t *testing.T) {
	mClock := quartz.NewMock(t)
	x := &X11{
		Clock: mClock,
		Run: func(_ context.Context, name string, args ...string) ([]byte, error) {
			require.Equal(t, "xprop", name)
			if args[0] == "-root" {
				return []byte("_NET_ACTIVE_WINDOW(WINDOW): window id # 0x4c00004"), nil
			}
			require.Equal(t, "0x4c00004", args[1])
			return []byte("_NET_WM_PID(CARDINAL) = 77\n_NET_WM_NAME(UTF8_STRING) = \"~ - alacritty\"\n"), nil
		},
		Lookup: func(_ context.Context, pid int32) (string, string, error) {
			require.EqualValues(t, 77, pid)
			return "alacritty", "/usr/bin/alacritty", nil
		},
	}
	w, err := x.ReadForeground(context.Background())
	require.NoError(t, err)
	require.Equal(t, types.WindowInfo{
		OS: "linux", ProcessName: "alacritty", ExePath: "/usr/bin/alacritty",
		PID: 77, WindowTitle: "~ - alacritty", ObservedAt: mClock.Now().UTC(),
	}, w)
}

func TestX11CommandFailure(t *testing.T) {
	x := &X11{
		Clock: quartz.NewMock(t),
		Run: func(context.Context, string, ...string) ([]byte, error) {
			return nil, errors.New("exec: \"xprop\": executable file not found in $PATH")
		},
	}
	_, err := x.ReadForeground(context.Background())
	require.ErrorContains(t, err, "xprop active window")
}

type windows struct {
	mu  sync.Mutex
	got []types.WindowInfo
}

func (w *windows) Push(_ context.Context, v types.WindowInfo) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.got = append(w.got, v)
	return nil
}

func (w *windows) titles() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.got))
	for _, v := range w.got {
		out = append(out, v.WindowTitle)
	}
	return out
}

func TestPollerPushesChanges(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	mClock := quartz.NewMock(t)
	trap := mClock.Trap().NewTicker("probe", "poll")
	defer trap.Close()

	var mu sync.Mutex
	seq := []types.WindowInfo{
		{ProcessName: "code", WindowTitle: "a.go"},
		{ProcessName: "code", WindowTitle: "a.go"},
		{ProcessName: "vlc", WindowTitle: "Movie.mkv - VLC media player"},
		{},
		{ProcessName: "code", WindowTitle: "b.go"},
	}
	errs := []error{nil, nil, nil, ErrNoWindow, nil}
	i, calls := 0, 0
	probed := func() int {
		mu.Lock()
		defer mu.Unlock()
		return calls
	}
	probe := ProbeFunc(func(context.Context) (types.WindowInfo, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		w, err := seq[i], errs[i]
		if i < len(seq)-1 {
			i++
		}
		return w, err
	})

	out := &windows{}
	p := NewPoller(probe, out, PollerOptions{Clock: mClock, Interval: time.Second})
	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- p.Run(runCtx) }()
	trap.MustWait(ctx).MustRelease(ctx)

	for n := 1; n <= 4; n++ {
		mClock.Advance(time.Second).MustWait(ctx)
		require.Eventually(t, func() bool { return probed() == n+1 }, 5*time.Second, 10*time.Millisecond)
	}
	require.Eventually(t, func() bool { return len(out.titles()) == 3 }, 5*time.Second, 10*time.Millisecond)
	stop()
	require.NoError(t, <-done)

	require.Equal(t, []string{"a.go", "Movie.mkv - VLC media player", "b.go"}, out.titles())
	out.mu.Lock()
	defer out.mu.Unlock()
	require.Equal(t, mClock.Now().UTC(), out.got[2].ObservedAt)
	require.True(t, out.got[0].ObservedAt.Before(out.got[2].ObservedAt))
}

type refusing struct{ calls int }

func (r *refusing) Push(context.Context, types.WindowInfo) error {
	r.calls++
	if r.calls == 1 {
		return types.ErrQueueFull
	}
	return nil
}

func TestPollerRetriesDroppedChange(t *testing.T) {
	probe := ProbeFunc(func(context.Context) (types.WindowInfo, error) {
		return types.WindowInfo{ProcessName: "code", WindowTitle: "a.go"}, nil
	})
	out := &refusing{}
	p := NewPoller(probe, out, PollerOptions{Clock: quartz.NewMock(t)})
	p.poll(context.Background())
	p.poll(context.Background())
	p.poll(context.Background())
	require.Equal(t, 2, out.calls)
}
