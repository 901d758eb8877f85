package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/user/activitytracker/internal/arbiter"
	"github.com/user/activitytracker/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type submitted struct {
	mu     sync.Mutex
	events []arbiter.Event
}

func (s *submitted) Submit(_ context.Context, ev arbiter.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *submitted) kinds() []arbiter.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]arbiter.EventKind, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Kind)
	}
	return out
}

var t0 = time.Date(2025, 5, 3, 10, 0, 0, 0, time.UTC)

func window(process, title string, sec int) types.WindowInfo {
	return types.WindowInfo{ProcessName: process, WindowTitle: title, ObservedAt: t0.Add(time.Duration(sec) * time.Second)}
}

func TestVLCMedia(t *testing.T) {
	require.Nil(t, vlcMedia(types.WindowInfo{ProcessName: "mpv", WindowTitle: "a.mkv - mpv"}))
	require.Nil(t, vlcMedia(types.WindowInfo{ProcessName: "vlc", WindowTitle: "VLC media player"}))
	m := vlcMedia(types.WindowInfo{ProcessName: "vlc.exe", WindowTitle: "Movie.mkv - VLC media player"})
	require.NotNil(t, m)
	require.Equal(t, "Movie.mkv", m.MediaName)
	require.Equal(t, types.PlatformVLC, m.Platform)
	require.Equal(t, types.PlayerPlaying, m.State)
}

func TestProgramSubmitsFocusChanges(t *testing.T) {
	out := &submitted{}
	p := NewProgram(out, nil)
	ctx := context.Background()

	p.Handle(ctx, window("code", "a.go", 0))
	p.Handle(ctx, window("code", "a.go", 1))
	p.Handle(ctx, window("terminal", "zsh", 2))

	require.Equal(t, []arbiter.EventKind{arbiter.EventApplicationFocus, arbiter.EventApplicationFocus}, out.kinds())
	require.Equal(t, "zsh", out.events[1].Window.WindowTitle)
	require.True(t, out.events[1].At.Equal(t0.Add(2*time.Second)))
}

func TestProgramVLCOverlay(t *testing.T) {
	out := &submitted{}
	p := NewProgram(out, nil)
	ctx := context.Background()

	p.Handle(ctx, window("vlc", "Movie.mkv - VLC media player", 0))
	p.Handle(ctx, window("vlc", "Other.mkv - VLC media player", 5))
	p.Handle(ctx, window("code", "b.go", 9))

	require.Equal(t, []arbiter.EventKind{
		arbiter.EventApplicationFocus,
		arbiter.EventPlayerStateChange,
		arbiter.EventPlayerStateChange,
		arbiter.EventApplicationFocus,
		arbiter.EventPlayerStateChange,
		arbiter.EventPlayerStateChange,
		arbiter.EventApplicationFocus,
	}, out.kinds())

	ev := out.events
	require.Equal(t, types.PlayerPlaying, ev[1].Video.State)
	require.Equal(t, "Movie.mkv", ev[2].Video.VideoID)
	require.Equal(t, types.PlayerPaused, ev[2].Video.State)
	require.Equal(t, "Other.mkv", ev[4].Video.VideoID)
	require.Equal(t, types.PlayerPlaying, ev[4].Video.State)
	require.Equal(t, types.PlayerPaused, ev[5].Video.State)
	require.True(t, ev[5].At.Equal(ev[6].At))
}

func TestProgramRunDrainsUntilClosed(t *testing.T) {
	out := &submitted{}
	p := NewProgram(out, nil)
	in := make(chan types.WindowInfo, 3)
	in <- window("code", "a.go", 0)
	in <- window("terminal", "zsh", 1)
	close(in)
	require.NoError(t, p.Run(context.Background(), in))
	require.Len(t, out.kinds(), 2)
}
