// Package tz projects UTC instants into the configured local zone.
//
// Everything the tracker stores is a UTC instant plus its projection into one
// configured zone; the projection is computed at insert time and never read
// back for arithmetic.
package tz

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/user/activitytracker/internal/types"
)

// DateLayout is the format of gathering_date_local values.
const DateLayout = "2006-01-02"

// Zone is the configured local time zone.
type Zone struct {
	loc    *time.Location
	strict bool
}

// New wraps loc. A nil loc means UTC.
func New(loc *time.Location) *Zone {
	if loc == nil {
		loc = time.UTC
	}
	return &Zone{loc: loc}
}

// UTC returns a zone whose local projection is UTC itself.
func UTC() *Zone { return New(time.UTC) }

// Load resolves the zone from an IANA name, falling back to a fixed offset.
// offset and offsetDST accept "+9", "-07", "+05:30". When no IANA name is
// given the standard offset is used; offsetDST is used only if offset is empty.
func Load(name, offset, offsetDST string) (*Zone, error) {
	if name != "" {
		loc, err := time.LoadLocation(name)
		if err == nil {
			return New(loc), nil
		}
		if offset == "" && offsetDST == "" {
			return nil, fmt.Errorf("load time zone %q: %w", name, err)
		}
	}
	raw := offset
	if raw == "" {
		raw = offsetDST
	}
	if raw == "" {
		return New(time.Local), nil
	}
	secs, err := ParseOffset(raw)
	if err != nil {
		return nil, err
	}
	label := name
	if label == "" {
		label = "UTC" + raw
	}
	return New(time.FixedZone(label, secs)), nil
}

// ParseOffset converts "+9", "-7", "+05:30" or "5.5" into seconds east of UTC.
func ParseOffset(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty offset")
	}
	sign := 1
	switch s[0] {
	case '+':
		s = s[1:]
	case '-':
		sign = -1
		s = s[1:]
	}
	var secs int
	if h, m, ok := strings.Cut(s, ":"); ok {
		hh, err := strconv.Atoi(h)
		if err != nil {
			return 0, fmt.Errorf("parse offset hours %q: %w", h, err)
		}
		mm, err := strconv.Atoi(m)
		if err != nil || mm < 0 || mm >= 60 {
			return 0, fmt.Errorf("parse offset minutes %q", m)
		}
		secs = hh*3600 + mm*60
	} else {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("parse offset %q: %w", s, err)
		}
		secs = int(f * 3600)
	}
	if secs > 14*3600 {
		return 0, fmt.Errorf("offset %q out of range", s)
	}
	return sign * secs, nil
}

// SetStrict makes Normalize panic on non-UTC input instead of converting it.
// Development builds enable it.
func (z *Zone) SetStrict(strict bool) { z.strict = strict }

func (z *Zone) Location() *time.Location { return z.loc }

func (z *Zone) String() string { return z.loc.String() }

// Normalize returns t as a UTC instant. Timestamps that arrive in another
// location indicate a producer bug: strict zones panic, others convert.
func (z *Zone) Normalize(t time.Time) time.Time {
	if t.Location() != time.UTC && z.strict {
		panic(fmt.Sprintf("tz: timestamp %s is not UTC", t.Format(time.RFC3339Nano)))
	}
	return t.UTC()
}

// Local projects t into the configured zone.
func (z *Zone) Local(t time.Time) time.Time { return t.In(z.loc) }

// Date is the local calendar date of t.
func (z *Zone) Date(t time.Time) string { return t.In(z.loc).Format(DateLayout) }

// StartOfDay is the UTC instant of local midnight on t's local date.
func (z *Zone) StartOfDay(t time.Time) time.Time {
	l := t.In(z.loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, z.loc).UTC()
}

// NextMidnight is the UTC instant of the local midnight following t.
func (z *Zone) NextMidnight(t time.Time) time.Time {
	l := t.In(z.loc)
	return time.Date(l.Year(), l.Month(), l.Day()+1, 0, 0, 0, 0, z.loc).UTC()
}

// DayBounds returns [start, end) of t's local day as UTC instants.
func (z *Zone) DayBounds(t time.Time) (time.Time, time.Time) {
	return z.StartOfDay(t), z.NextMidnight(t)
}

// DateBounds returns [start, end) for a YYYY-MM-DD local date.
func (z *Zone) DateBounds(date string) (time.Time, time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, date, z.loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse date %q: %w", date, err)
	}
	start, end := z.DayBounds(d)
	return start, end, nil
}

// Span is a piece of an interval that lies within a single local date.
type Span struct {
	Start time.Time
	End   time.Time
	Date  string
}

func (s Span) Duration() time.Duration { return s.End.Sub(s.Start) }

// Split cuts [start, end) at every local midnight it crosses. An empty or
// inverted interval yields nil.
func (z *Zone) Split(start, end time.Time) []Span {
	if !end.After(start) {
		return nil
	}
	var spans []Span
	cur := start
	for cur.Before(end) {
		next := z.NextMidnight(cur)
		if next.After(end) {
			next = end
		}
		spans = append(spans, Span{Start: cur.UTC(), End: next.UTC(), Date: z.Date(cur)})
		cur = next
	}
	return spans
}

// ParseAware parses an RFC 3339 timestamp that carries an explicit offset
// and returns it in UTC. Naive timestamps are rejected with
// types.ErrNaiveTimestamp.
func ParseAware(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		for _, layout := range []string{"2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05.999999999", "2006-01-02T15:04:05"} {
			if _, nerr := time.Parse(layout, s); nerr == nil {
				return time.Time{}, fmt.Errorf("%w: %q", types.ErrNaiveTimestamp, s)
			}
		}
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}
