// internal/types/models.go
package types

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxStringLen bounds every persisted string column.
const MaxStringLen = 120

// Truncate cuts s to MaxStringLen runes.
func Truncate(s string) string {
	if utf8.RuneCountInString(s) <= MaxStringLen {
		return s
	}
	r := []rune(s)
	return string(r[:MaxStringLen])
}

// Kind tags the variant carried by a Session.
type Kind int

const (
	KindProgram Kind = iota + 1
	KindChrome
	KindVideo
)

var kindNames = map[Kind]string{
	KindProgram: "program",
	KindChrome:  "chrome",
	KindVideo:   "video",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind accepts "program", "chrome" (or "domain") and "video".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "program":
		return KindProgram, nil
	case "chrome", "domain":
		return KindChrome, nil
	case "video":
		return KindVideo, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

type Platform string

const (
	PlatformYouTube Platform = "youtube"
	PlatformNetflix Platform = "netflix"
	PlatformVLC     Platform = "vlc"
)

type PlayerState string

const (
	PlayerPlaying PlayerState = "playing"
	PlayerPaused  PlayerState = "paused"
)

// WindowInfo is one observation of the foreground window.
type WindowInfo struct {
	OS          string    `json:"os"`
	ProcessName string    `json:"process_name"`
	ExePath     string    `json:"exe_path"`
	PID         int       `json:"pid"`
	WindowTitle string    `json:"window_title"`
	ObservedAt  time.Time `json:"observed_at"`
}

// SameWindow reports whether two observations describe the same focus target.
func (w WindowInfo) SameWindow(o WindowInfo) bool {
	return w.ExePath == o.ExePath && w.ProcessName == o.ProcessName && w.WindowTitle == o.WindowTitle
}

// TabInfo is the active browser tab as reported by the extension.
type TabInfo struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Domain returns the tab's host without a leading "www.".
func (t TabInfo) Domain() string {
	u, err := url.Parse(t.URL)
	if err != nil || u.Host == "" {
		return t.URL
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// VideoInfo is a player state report from a video platform.
type VideoInfo struct {
	Platform  Platform    `json:"platform"`
	VideoID   string      `json:"video_id"`
	MediaName string      `json:"media_name"`
	Channel   string      `json:"channel,omitempty"`
	State     PlayerState `json:"state"`
}

// SameMedia reports whether two reports are for the same video.
func (v VideoInfo) SameMedia(o VideoInfo) bool {
	return v.Platform == o.Platform && v.VideoID == o.VideoID
}

type KeyEvent struct {
	At time.Time
}

type MouseEventKind int

const (
	MouseMove MouseEventKind = iota
	MouseClick
	MouseScroll
)

type MouseEvent struct {
	At   time.Time
	Kind MouseEventKind
}

// TypingSession is a burst of keystrokes separated by less than the idle timeout.
type TypingSession struct {
	ID    RowID     `json:"id"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// MouseMoveSpan is a debounced burst of mouse events.
type MouseMoveSpan struct {
	ID     RowID     `json:"id"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Events int       `json:"events"`
}

type SystemStatus string

const (
	StatusProgramStarted SystemStatus = "program_started"
	StatusOnline         SystemStatus = "online"
	StatusShutdown       SystemStatus = "shutdown"
)

type StatusRow struct {
	Status  SystemStatus `json:"status"`
	At      time.Time    `json:"at"`
	AtLocal time.Time    `json:"at_local"`
}

// SummaryLog is one persisted session segment. A session that crosses local
// midnight is stored as one SummaryLog per local date.
type SummaryLog struct {
	ID                 LogID         `json:"id"`
	SessionID          SessionID     `json:"session_id"`
	Kind               Kind          `json:"kind"`
	Identity           string        `json:"identity"`
	Title              string        `json:"title"`
	Detail             string        `json:"detail"`
	Productive         bool          `json:"productive"`
	Start              time.Time     `json:"start"`
	End                time.Time     `json:"end"`
	StartLocal         time.Time     `json:"start_local"`
	EndLocal           time.Time     `json:"end_local"`
	GatheringDateLocal string        `json:"gathering_date_local"`
	Duration           time.Duration `json:"duration"`
	Closed             bool          `json:"closed"`

	// Session carries the variant fields on insert; nil on reads.
	Session *Session `json:"session,omitempty"`
}

// DailySummary is the accumulated time for one identity on one local date.
type DailySummary struct {
	Kind               Kind      `json:"kind"`
	Identity           string    `json:"identity"`
	Label              string    `json:"label"`
	HoursSpent         float64   `json:"hours_spent"`
	GatheringDateLocal string    `json:"gathering_date_local"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// OverflowPolicy decides what a full bounded queue does with a new item.
// Dropping the oldest item is never offered.
type OverflowPolicy int

const (
	// Block waits for room, applying back-pressure to the producer.
	Block OverflowPolicy = iota
	// DropNewest discards the incoming item.
	DropNewest
)

func (p OverflowPolicy) String() string {
	if p == DropNewest {
		return "drop-newest"
	}
	return "block"
}
