// Package tracker turns normalized producer events into arbiter transitions.
package tracker

import (
	"context"
	"log/slog"
	"strings"

	"github.com/user/activitytracker/internal/arbiter"
	"github.com/user/activitytracker/internal/types"
)

// Submitter accepts arbiter events. *arbiter.Arbiter implements it.
type Submitter interface {
	Submit(ctx context.Context, ev arbiter.Event) error
}

// Program consumes foreground-window changes and submits ApplicationFocus
// events. A focused VLC window also reports its media as a playing video
// until focus or media changes.
type Program struct {
	out    Submitter
	logger *slog.Logger
	last   *types.WindowInfo
	media  *types.VideoInfo
}

func NewProgram(out Submitter, logger *slog.Logger) *Program {
	if logger == nil {
		logger = slog.Default()
	}
	return &Program{out: out, logger: logger}
}

// Run handles windows until in is closed or ctx ends.
func (p *Program) Run(ctx context.Context, in <-chan types.WindowInfo) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case w, ok := <-in:
			if !ok {
				return nil
			}
			p.Handle(ctx, w)
		}
	}
}

// Handle processes one observed window. Repeats of the focused window are
// ignored.
func (p *Program) Handle(ctx context.Context, w types.WindowInfo) {
	if p.last != nil && p.last.SameWindow(w) {
		return
	}
	at := w.ObservedAt
	p.last = &w

	media := vlcMedia(w)
	if p.media != nil && (media == nil || !p.media.SameMedia(*media)) {
		paused := *p.media
		paused.State = types.PlayerPaused
		p.submit(ctx, arbiter.PlayerStateChange(paused, at))
		p.media = nil
	}
	p.logger.Debug("foreground changed", "process", w.ProcessName, "title", w.WindowTitle)
	p.submit(ctx, arbiter.ApplicationFocus(w, at))
	if media != nil && p.media == nil {
		p.media = media
		p.submit(ctx, arbiter.PlayerStateChange(*media, at))
	}
}

func (p *Program) submit(ctx context.Context, ev arbiter.Event) {
	if err := p.out.Submit(ctx, ev); err != nil && ctx.Err() == nil {
		p.logger.Warn("focus event not delivered", "event", ev.Kind, "error", err)
	}
}

const vlcSuffix = " - VLC media player"

// vlcMedia returns the media playing in a focused VLC window, or nil.
func vlcMedia(w types.WindowInfo) *types.VideoInfo {
	name := strings.TrimSuffix(strings.ToLower(w.ProcessName), ".exe")
	if name != "vlc" {
		return nil
	}
	title := strings.TrimSpace(strings.TrimSuffix(w.WindowTitle, vlcSuffix))
	if title == "" || title == strings.TrimPrefix(vlcSuffix, " - ") {
		return nil
	}
	return &types.VideoInfo{
		Platform:  types.PlatformVLC,
		VideoID:   title,
		MediaName: title,
		State:     types.PlayerPlaying,
	}
}
