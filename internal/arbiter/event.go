package arbiter

import (
	"time"

	"github.com/user/activitytracker/internal/types"
)

type EventKind int

const (
	EventApplicationFocus EventKind = iota + 1
	EventTabChange
	EventPlayerStateChange
	EventKeepAlivePulse
	EventShutdown
)

func (k EventKind) String() string {
	switch k {
	case EventApplicationFocus:
		return "application_focus"
	case EventTabChange:
		return "tab_change"
	case EventPlayerStateChange:
		return "player_state_change"
	case EventKeepAlivePulse:
		return "keep_alive_pulse"
	case EventShutdown:
		return "shutdown"
	}
	return "unknown"
}

// Event is one input to the arbiter. At is the instant the change happened
// and becomes the session boundary.
type Event struct {
	Kind   EventKind
	At     time.Time
	Window *types.WindowInfo
	Tab    *types.TabInfo
	Video  *types.VideoInfo

	ack chan error
}

func ApplicationFocus(w types.WindowInfo, at time.Time) Event {
	return Event{Kind: EventApplicationFocus, At: at, Window: &w}
}

func TabChange(tab types.TabInfo, at time.Time) Event {
	return Event{Kind: EventTabChange, At: at, Tab: &tab}
}

func PlayerStateChange(v types.VideoInfo, at time.Time) Event {
	return Event{Kind: EventPlayerStateChange, At: at, Video: &v}
}

func KeepAlivePulse(at time.Time) Event {
	return Event{Kind: EventKeepAlivePulse, At: at}
}
