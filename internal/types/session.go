// internal/types/session.go
package types

import (
	"fmt"
	"time"
)

type ProgramSession struct {
	ExePath     string `json:"exe_path"`
	ProcessName string `json:"process_name"`
	WindowTitle string `json:"window_title"`
	Detail      string `json:"detail"`
}

type ChromeSession struct {
	Domain   string `json:"domain"`
	TabTitle string `json:"tab_title"`
	URL      string `json:"url"`
}

type VideoSession struct {
	Platform  Platform    `json:"platform"`
	VideoID   string      `json:"video_id"`
	MediaName string      `json:"media_name"`
	Channel   string      `json:"channel"`
	State     PlayerState `json:"state"`
}

// Session is a tagged variant: exactly one of Program, Chrome or Video is set,
// matching Kind. Fields are fixed once the session is opened.
type Session struct {
	ID         SessionID       `json:"id"`
	Kind       Kind            `json:"kind"`
	Program    *ProgramSession `json:"program,omitempty"`
	Chrome     *ChromeSession  `json:"chrome,omitempty"`
	Video      *VideoSession   `json:"video,omitempty"`
	Productive bool            `json:"productive"`
	Start      time.Time       `json:"start"`
}

func NewProgramSession(w WindowInfo, start time.Time) *Session {
	return &Session{
		ID:   NewSessionID(),
		Kind: KindProgram,
		Program: &ProgramSession{
			ExePath:     Truncate(w.ExePath),
			ProcessName: Truncate(w.ProcessName),
			WindowTitle: Truncate(w.WindowTitle),
			Detail:      Truncate(w.WindowTitle),
		},
		Start: start,
	}
}

func NewChromeSession(tab TabInfo, start time.Time) *Session {
	return &Session{
		ID:   NewSessionID(),
		Kind: KindChrome,
		Chrome: &ChromeSession{
			Domain:   Truncate(tab.Domain()),
			TabTitle: Truncate(tab.Title),
			URL:      Truncate(tab.URL),
		},
		Start: start,
	}
}

func NewVideoSession(v VideoInfo, start time.Time) *Session {
	return &Session{
		ID:   NewSessionID(),
		Kind: KindVideo,
		Video: &VideoSession{
			Platform:  v.Platform,
			VideoID:   Truncate(v.VideoID),
			MediaName: Truncate(v.MediaName),
			Channel:   Truncate(v.Channel),
			State:     v.State,
		},
		Start: start,
	}
}

// Validate checks that the variant matches Kind.
func (s *Session) Validate() error {
	var ok bool
	switch s.Kind {
	case KindProgram:
		ok = s.Program != nil && s.Chrome == nil && s.Video == nil
	case KindChrome:
		ok = s.Chrome != nil && s.Program == nil && s.Video == nil
	case KindVideo:
		ok = s.Video != nil && s.Program == nil && s.Chrome == nil
	default:
		return fmt.Errorf("%w: %d", ErrUnknownKind, int(s.Kind))
	}
	if !ok {
		return fmt.Errorf("session %s: variant does not match kind %s", s.ID, s.Kind)
	}
	return nil
}

// Identity is the key the session's time is summed under per day:
// exe path for programs, domain for tabs, platform and video id for videos.
func (s *Session) Identity() string {
	switch s.Kind {
	case KindProgram:
		return s.Program.ExePath
	case KindChrome:
		return s.Chrome.Domain
	case KindVideo:
		return string(s.Video.Platform) + ":" + s.Video.VideoID
	}
	return ""
}

// Label is the human readable name stored next to the identity.
func (s *Session) Label() string {
	switch s.Kind {
	case KindProgram:
		return s.Program.ProcessName
	case KindChrome:
		return s.Chrome.Domain
	case KindVideo:
		return s.Video.MediaName
	}
	return ""
}

// Title and Detail feed the per-kind log columns.
func (s *Session) Title() string {
	switch s.Kind {
	case KindProgram:
		return s.Program.WindowTitle
	case KindChrome:
		return s.Chrome.TabTitle
	case KindVideo:
		return s.Video.MediaName
	}
	return ""
}

func (s *Session) Detail() string {
	switch s.Kind {
	case KindProgram:
		return s.Program.Detail
	case KindChrome:
		return s.Chrome.URL
	case KindVideo:
		return s.Video.Channel
	}
	return ""
}
