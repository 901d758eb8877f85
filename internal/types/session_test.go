// internal/types/session_test.go
package types

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var start = time.Date(2025, 5, 3, 10, 0, 0, 0, time.UTC)

func TestNewSessionID(t *testing.T) {
	id := NewSessionID()
	if len(string(id)) != 36 {
		t.Errorf("expected UUID format, got %s", id)
	}
	if NewSessionID() == id {
		t.Error("expected distinct ids")
	}
}

func TestSessionVariants(t *testing.T) {
	tests := []struct {
		name     string
		s        *Session
		kind     Kind
		identity string
		label    string
	}{
		{
			name:     "program",
			s:        NewProgramSession(WindowInfo{ExePath: "/usr/bin/code", ProcessName: "code", WindowTitle: "main.go"}, start),
			kind:     KindProgram,
			identity: "/usr/bin/code",
			label:    "code",
		},
		{
			name:     "chrome",
			s:        NewChromeSession(TabInfo{Title: "PRs", URL: "https://www.GitHub.com/pulls"}, start),
			kind:     KindChrome,
			identity: "github.com",
			label:    "github.com",
		},
		{
			name:     "video",
			s:        NewVideoSession(VideoInfo{Platform: PlatformYouTube, VideoID: "abc", MediaName: "Talk"}, start),
			kind:     KindVideo,
			identity: "youtube:abc",
			label:    "Talk",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.s.Validate(); err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if tt.s.Kind != tt.kind {
				t.Errorf("kind = %s, want %s", tt.s.Kind, tt.kind)
			}
			if got := tt.s.Identity(); got != tt.identity {
				t.Errorf("Identity() = %q, want %q", got, tt.identity)
			}
			if got := tt.s.Label(); got != tt.label {
				t.Errorf("Label() = %q, want %q", got, tt.label)
			}
		})
	}
}

func TestSessionValidateMismatch(t *testing.T) {
	s := NewProgramSession(WindowInfo{ExePath: "x"}, start)
	s.Chrome = &ChromeSession{Domain: "github.com"}
	if err := s.Validate(); err == nil {
		t.Error("expected mismatch error")
	}
	s = &Session{Kind: Kind(42)}
	if err := s.Validate(); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("é", MaxStringLen+5)
	got := NewProgramSession(WindowInfo{WindowTitle: long}, start).Program.WindowTitle
	if n := len([]rune(got)); n != MaxStringLen {
		t.Errorf("expected %d runes, got %d", MaxStringLen, n)
	}
	if Truncate("short") != "short" {
		t.Error("short strings must be unchanged")
	}
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{"program": KindProgram, "Domain": KindChrome, " video ": KindVideo} {
		got, err := ParseKind(in)
		if err != nil || got != want {
			t.Errorf("ParseKind(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseKind("podcast"); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
}
