package bridge

import (
	"fmt"
	"time"

	"github.com/user/activitytracker/internal/arbiter"
	"github.com/user/activitytracker/internal/types"
	"github.com/user/activitytracker/internal/tz"
)

// Payloads sent by the browser extension. Timestamps must carry a zone.

type tabChange struct {
	TabTitle  string `json:"tabTitle" validate:"max=2048"`
	URL       string `json:"url" validate:"required,max=8192"`
	StartTime string `json:"startTime" validate:"required"`
}

type youtubeTabChange struct {
	tabChange
	VideoID     string `json:"videoId" validate:"required"`
	Channel     string `json:"channel"`
	PlayerState string `json:"playerState" validate:"required,oneof=playing paused"`
}

type youtubePlayerChange struct {
	TabTitle    string `json:"tabTitle"`
	URL         string `json:"url"`
	EventTime   string `json:"eventTime" validate:"required"`
	VideoID     string `json:"videoId" validate:"required"`
	Channel     string `json:"channel"`
	PlayerState string `json:"playerState" validate:"required,oneof=playing paused"`
}

type netflixTabChange struct {
	tabChange
	VideoID     string `json:"videoId"`
	ShowName    string `json:"showName"`
	PlayerState string `json:"playerState" validate:"omitempty,oneof=playing paused"`
}

type netflixPlayerChange struct {
	TabTitle    string `json:"tabTitle"`
	URL         string `json:"url"`
	EventTime   string `json:"eventTime" validate:"required"`
	VideoID     string `json:"videoId" validate:"required"`
	ShowName    string `json:"showName"`
	PlayerState string `json:"playerState" validate:"required,oneof=playing paused"`
}

func parseTime(field, s string) (time.Time, error) {
	t, err := tz.ParseAware(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", field, err)
	}
	return t, nil
}

func (p tabChange) events() ([]arbiter.Event, error) {
	at, err := parseTime("startTime", p.StartTime)
	if err != nil {
		return nil, err
	}
	return []arbiter.Event{arbiter.TabChange(types.TabInfo{Title: p.TabTitle, URL: p.URL}, at)}, nil
}

func (p youtubeTabChange) events() ([]arbiter.Event, error) {
	evs, err := p.tabChange.events()
	if err != nil {
		return nil, err
	}
	v := types.VideoInfo{
		Platform:  types.PlatformYouTube,
		VideoID:   p.VideoID,
		MediaName: p.TabTitle,
		Channel:   p.Channel,
		State:     types.PlayerState(p.PlayerState),
	}
	return append(evs, arbiter.PlayerStateChange(v, evs[0].At)), nil
}

func (p youtubePlayerChange) events() ([]arbiter.Event, error) {
	at, err := parseTime("eventTime", p.EventTime)
	if err != nil {
		return nil, err
	}
	v := types.VideoInfo{
		Platform:  types.PlatformYouTube,
		VideoID:   p.VideoID,
		MediaName: p.TabTitle,
		Channel:   p.Channel,
		State:     types.PlayerState(p.PlayerState),
	}
	return []arbiter.Event{arbiter.PlayerStateChange(v, at)}, nil
}

func (p netflixTabChange) events() ([]arbiter.Event, error) {
	evs, err := p.tabChange.events()
	if err != nil {
		return nil, err
	}
	// The browse page reports no title; only a watch page carries a video.
	if p.VideoID == "" || p.PlayerState == "" {
		return evs, nil
	}
	v := types.VideoInfo{
		Platform:  types.PlatformNetflix,
		VideoID:   p.VideoID,
		MediaName: p.ShowName,
		State:     types.PlayerState(p.PlayerState),
	}
	return append(evs, arbiter.PlayerStateChange(v, evs[0].At)), nil
}

func (p netflixPlayerChange) events() ([]arbiter.Event, error) {
	at, err := parseTime("eventTime", p.EventTime)
	if err != nil {
		return nil, err
	}
	v := types.VideoInfo{
		Platform:  types.PlatformNetflix,
		VideoID:   p.VideoID,
		MediaName: p.ShowName,
		State:     types.PlayerState(p.PlayerState),
	}
	return []arbiter.Event{arbiter.PlayerStateChange(v, at)}, nil
}
