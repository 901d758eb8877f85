// Package testutil holds in-memory fakes shared by package tests.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/user/activitytracker/internal/types"
)

type DailyKey struct {
	Kind     types.Kind
	Identity string
	Date     string
}

// MemorySink records session log and summary writes in memory.
type MemorySink struct {
	mu    sync.Mutex
	logs  map[types.LogID]*types.SummaryLog
	order []types.LogID
	daily map[DailyKey]time.Duration
	calls int
	// Err, when set, is returned by every call.
	Err error
}

func NewMemorySink() *MemorySink {
	return &MemorySink{
		logs:  make(map[types.LogID]*types.SummaryLog),
		daily: make(map[DailyKey]time.Duration),
	}
}

func (m *MemorySink) OpenLog(_ context.Context, log types.SummaryLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.Err != nil {
		return m.Err
	}
	log.Kind = log.Session.Kind
	log.Identity = log.Session.Identity()
	m.logs[log.ID] = &log
	m.order = append(m.order, log.ID)
	return nil
}

func (m *MemorySink) ExtendLog(_ context.Context, _ types.Kind, id types.LogID, end time.Time, delta time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.Err != nil {
		return m.Err
	}
	l, ok := m.logs[id]
	if !ok {
		return nil
	}
	l.End = end
	l.Duration += delta
	return nil
}

func (m *MemorySink) CloseLog(_ context.Context, _ types.Kind, id types.LogID, end time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.Err != nil {
		return m.Err
	}
	if l, ok := m.logs[id]; ok {
		l.End = end
		l.Closed = true
	}
	return nil
}

func (m *MemorySink) AddDaily(_ context.Context, kind types.Kind, identity, _ string, date string, delta time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.Err != nil {
		return m.Err
	}
	if delta < 0 {
		return types.ErrNegativeDelta
	}
	m.daily[DailyKey{Kind: kind, Identity: identity, Date: date}] += delta
	return nil
}

// Logs returns every log in insertion order.
func (m *MemorySink) Logs() []types.SummaryLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.SummaryLog, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.logs[id])
	}
	return out
}

// LogsOfKind returns the logs of one kind ordered by start.
func (m *MemorySink) LogsOfKind(kind types.Kind) []types.SummaryLog {
	var out []types.SummaryLog
	for _, l := range m.Logs() {
		if l.Kind == kind {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

func (m *MemorySink) Daily(kind types.Kind, identity, date string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.daily[DailyKey{Kind: kind, Identity: identity, Date: date}]
}

// DailyTotals returns a copy of every summary row.
func (m *MemorySink) DailyTotals() map[DailyKey]time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[DailyKey]time.Duration, len(m.daily))
	for k, v := range m.daily {
		out[k] = v
	}
	return out
}

// Calls is the number of sink calls made.
func (m *MemorySink) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// StatusRecorder records status rows.
type StatusRecorder struct {
	mu   sync.Mutex
	rows []types.StatusRow
}

func (s *StatusRecorder) WriteStatus(_ context.Context, status types.SystemStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, types.StatusRow{Status: status, At: at})
	return nil
}

func (s *StatusRecorder) Rows() []types.StatusRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.StatusRow(nil), s.rows...)
}

// CounterRecorder counts increments by name.
type CounterRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *CounterRecorder) Inc(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[name]++
}

func (c *CounterRecorder) Count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[name]
}
