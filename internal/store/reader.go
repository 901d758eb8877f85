package store

import (
	"context"
	"fmt"
	"time"

	"github.com/user/activitytracker/internal/types"
	"github.com/user/activitytracker/internal/tz"
)

// Reader runs the read paths. Reads see flushed rows only.
type Reader struct {
	db   *DB
	zone *tz.Zone
}

func NewReader(db *DB, zone *tz.Zone) *Reader {
	if zone == nil {
		zone = tz.UTC()
	}
	return &Reader{db: db, zone: zone}
}

type logRow struct {
	ID                 string  `db:"id"`
	SessionID          string  `db:"session_id"`
	Identity           string  `db:"identity"`
	Title              string  `db:"title"`
	Detail             string  `db:"detail"`
	Productive         bool    `db:"productive"`
	StartTime          string  `db:"start_time"`
	EndTime            string  `db:"end_time"`
	StartTimeLocal     string  `db:"start_time_local"`
	EndTimeLocal       string  `db:"end_time_local"`
	GatheringDateLocal string  `db:"gathering_date_local"`
	DurationSeconds    float64 `db:"duration_seconds"`
	Closed             bool    `db:"closed"`
}

func (r logRow) toLog(kind types.Kind) (types.SummaryLog, error) {
	l := types.SummaryLog{
		ID:                 types.LogID(r.ID),
		SessionID:          types.SessionID(r.SessionID),
		Kind:               kind,
		Identity:           r.Identity,
		Title:              r.Title,
		Detail:             r.Detail,
		Productive:         r.Productive,
		GatheringDateLocal: r.GatheringDateLocal,
		Duration:           time.Duration(r.DurationSeconds * float64(time.Second)),
		Closed:             r.Closed,
	}
	var err error
	for _, f := range []struct {
		dst *time.Time
		src string
	}{
		{&l.Start, r.StartTime}, {&l.End, r.EndTime},
		{&l.StartLocal, r.StartTimeLocal}, {&l.EndLocal, r.EndTimeLocal},
	} {
		if *f.dst, err = parseTS(f.src); err != nil {
			return types.SummaryLog{}, fmt.Errorf("log %s: %w", r.ID, err)
		}
	}
	return l, nil
}

func (r *Reader) selectLogs(ctx context.Context, kind types.Kind, where string, args ...any) ([]types.SummaryLog, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	query := `SELECT id, session_id, ` + t.logSelect + `, productive, start_time, end_time,
		start_time_local, end_time_local, gathering_date_local, duration_seconds, closed
		FROM ` + t.logs + ` WHERE ` + where + ` ORDER BY start_time DESC`
	var rows []logRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("select %s: %w", t.logs, err)
	}
	out := make([]types.SummaryLog, 0, len(rows))
	for _, row := range rows {
		l, err := row.toLog(kind)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

// Past24h returns the log segments that started within 24h of now, newest first.
func (r *Reader) Past24h(ctx context.Context, kind types.Kind, now time.Time) ([]types.SummaryLog, error) {
	return r.selectLogs(ctx, kind, "start_time >= ?", formatTS(now.UTC().Add(-24*time.Hour)))
}

// Today returns the log segments that started on now's local date.
func (r *Reader) Today(ctx context.Context, kind types.Kind, now time.Time) ([]types.SummaryLog, error) {
	start, end := r.zone.DayBounds(now)
	return r.selectLogs(ctx, kind, "start_time >= ? AND start_time < ?", formatTS(start), formatTS(end))
}

// LogsForSession returns every segment of one session, newest first.
func (r *Reader) LogsForSession(ctx context.Context, kind types.Kind, id types.SessionID) ([]types.SummaryLog, error) {
	return r.selectLogs(ctx, kind, "session_id = ?", string(id))
}

type summaryRow struct {
	Identity           string  `db:"identity"`
	Label              string  `db:"label"`
	HoursSpent         float64 `db:"hours_spent"`
	GatheringDateLocal string  `db:"gathering_date_local"`
	UpdatedAt          string  `db:"updated_at"`
}

// SummariesForDate returns the daily rows of one local date, largest first.
func (r *Reader) SummariesForDate(ctx context.Context, kind types.Kind, date string) ([]types.DailySummary, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	label := t.identity
	if t.label != "" {
		label = t.label
	}
	query := `SELECT ` + t.identity + ` AS identity, ` + label + ` AS label, hours_spent, gathering_date_local, updated_at
		FROM ` + t.daily + ` WHERE gathering_date_local = ? ORDER BY hours_spent DESC`
	var rows []summaryRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), date); err != nil {
		return nil, fmt.Errorf("select %s: %w", t.daily, err)
	}
	out := make([]types.DailySummary, 0, len(rows))
	for _, row := range rows {
		updated, err := parseTS(row.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("summary %s: %w", row.Identity, err)
		}
		out = append(out, types.DailySummary{
			Kind:               kind,
			Identity:           row.Identity,
			Label:              row.Label,
			HoursSpent:         row.HoursSpent,
			GatheringDateLocal: row.GatheringDateLocal,
			UpdatedAt:          updated,
		})
	}
	return out, nil
}

// SummariesToday returns the daily rows for now's local date.
func (r *Reader) SummariesToday(ctx context.Context, kind types.Kind, now time.Time) ([]types.DailySummary, error) {
	return r.SummariesForDate(ctx, kind, r.zone.Date(now))
}

// RecentStatus returns the latest status rows, newest first.
func (r *Reader) RecentStatus(ctx context.Context, limit int) ([]types.StatusRow, error) {
	var rows []struct {
		Status    string `db:"status"`
		CreatedAt string `db:"created_at"`
		Local     string `db:"created_at_local"`
	}
	query := r.db.Rebind(`SELECT status, created_at, created_at_local FROM system_status ORDER BY created_at DESC LIMIT ?`)
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("select system_status: %w", err)
	}
	out := make([]types.StatusRow, 0, len(rows))
	for _, row := range rows {
		at, err := parseTS(row.CreatedAt)
		if err != nil {
			return nil, err
		}
		local, err := parseTS(row.Local)
		if err != nil {
			return nil, err
		}
		out = append(out, types.StatusRow{Status: types.SystemStatus(row.Status), At: at, AtLocal: local})
	}
	return out, nil
}

// Counters returns the persisted health counters.
func (r *Reader) Counters(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Name  string `db:"name"`
		Count int64  `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &rows, `SELECT name, count FROM health_counters`); err != nil {
		return nil, fmt.Errorf("select health_counters: %w", err)
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Name] = row.Count
	}
	return out, nil
}
