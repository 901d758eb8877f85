package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/user/activitytracker/internal/types"
)

// tsLayout is fixed width so UTC columns compare lexically.
const tsLayout = "2006-01-02T15:04:05.000000Z07:00"

func formatTS(t time.Time) string { return t.Format(tsLayout) }

func parseTS(s string) (time.Time, error) {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type OpKind string

const (
	OpInsertLog    OpKind = "insert_log"
	OpExtendLog    OpKind = "extend_log"
	OpCloseLog     OpKind = "close_log"
	OpAddDaily     OpKind = "add_daily"
	OpInsertTyping OpKind = "insert_typing"
	OpInsertMouse  OpKind = "insert_mouse"
	OpInsertStatus OpKind = "insert_status"
	OpSetCounter   OpKind = "set_counter"
)

// Op is one queued write. Local projections are computed when the op is
// built so a replayed journal writes the same values.
type Op struct {
	Kind OpKind `json:"op"`

	SessionKind types.Kind        `json:"kind,omitempty"`
	Log         *types.SummaryLog `json:"log,omitempty"`
	LogID       types.LogID       `json:"log_id,omitempty"`
	End         time.Time         `json:"end,omitempty"`
	EndLocal    time.Time         `json:"end_local,omitempty"`
	Delta       time.Duration     `json:"delta,omitempty"`

	Identity string `json:"identity,omitempty"`
	Label    string `json:"label,omitempty"`
	Date     string `json:"date,omitempty"`

	Typing *types.TypingSession `json:"typing,omitempty"`
	Mouse  *types.MouseMoveSpan `json:"mouse,omitempty"`
	Status *types.StatusRow     `json:"status,omitempty"`
	RowID  types.RowID          `json:"row_id,omitempty"`

	Counter string    `json:"counter,omitempty"`
	Count   int64     `json:"count,omitempty"`
	At      time.Time `json:"at,omitempty"`
	// Projections of Typing/Mouse bounds.
	StartLocal time.Time `json:"start_local,omitempty"`
}

func apply(ctx context.Context, tx *sqlx.Tx, op *Op) error {
	switch op.Kind {
	case OpInsertLog:
		return insertLog(ctx, tx, op.Log)
	case OpExtendLog:
		t, err := tableFor(op.SessionKind)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, tx.Rebind(`UPDATE `+t.logs+`
			SET end_time = ?, end_time_local = ?, duration_seconds = duration_seconds + ?
			WHERE id = ?`),
			formatTS(op.End), formatTS(op.EndLocal), op.Delta.Seconds(), string(op.LogID))
		return err
	case OpCloseLog:
		t, err := tableFor(op.SessionKind)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, tx.Rebind(`UPDATE `+t.logs+`
			SET end_time = ?, end_time_local = ?, closed = 1
			WHERE id = ?`),
			formatTS(op.End), formatTS(op.EndLocal), string(op.LogID))
		return err
	case OpAddDaily:
		return addDaily(ctx, tx, op)
	case OpInsertTyping:
		s := op.Typing
		_, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO typing_sessions
			(id, start_time, end_time, start_time_local, end_time_local, gathering_date_local)
			VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`),
			string(s.ID), formatTS(s.Start), formatTS(s.End),
			formatTS(op.StartLocal), formatTS(op.EndLocal), op.Date)
		return err
	case OpInsertMouse:
		s := op.Mouse
		_, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO mouse_moves
			(id, start_time, end_time, start_time_local, end_time_local, event_count)
			VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`),
			string(s.ID), formatTS(s.Start), formatTS(s.End),
			formatTS(op.StartLocal), formatTS(op.EndLocal), s.Events)
		return err
	case OpInsertStatus:
		s := op.Status
		_, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO system_status
			(id, status, created_at, created_at_local)
			VALUES (?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`),
			string(op.RowID), string(s.Status), formatTS(s.At), formatTS(s.AtLocal))
		return err
	case OpSetCounter:
		_, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO health_counters (name, count, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT (name) DO UPDATE SET count = excluded.count, updated_at = excluded.updated_at`),
			op.Counter, op.Count, formatTS(op.At))
		return err
	}
	return fmt.Errorf("unknown op %q", op.Kind)
}

func insertLog(ctx context.Context, tx *sqlx.Tx, l *types.SummaryLog) error {
	if l == nil || l.Session == nil {
		return fmt.Errorf("insert log: missing session")
	}
	s := l.Session
	args := map[string]any{
		"id":                   string(l.ID),
		"session_id":           string(l.SessionID),
		"productive":           boolInt(l.Productive),
		"start_time":           formatTS(l.Start),
		"end_time":             formatTS(l.End),
		"start_time_local":     formatTS(l.StartLocal),
		"end_time_local":       formatTS(l.EndLocal),
		"gathering_date":       l.Start.UTC().Format("2006-01-02"),
		"gathering_date_local": l.GatheringDateLocal,
		"duration_seconds":     l.Duration.Seconds(),
		"closed":               boolInt(l.Closed),
	}
	const common = `productive, start_time, end_time, start_time_local, end_time_local,
		gathering_date, gathering_date_local, duration_seconds, closed`
	const commonVals = `:productive, :start_time, :end_time, :start_time_local, :end_time_local,
		:gathering_date, :gathering_date_local, :duration_seconds, :closed`

	var query string
	switch s.Kind {
	case types.KindProgram:
		args["exe_path_as_id"] = types.Truncate(s.Program.ExePath)
		args["process_name"] = types.Truncate(s.Program.ProcessName)
		args["window_title"] = types.Truncate(s.Program.WindowTitle)
		args["detail"] = types.Truncate(s.Program.Detail)
		query = `INSERT INTO program_logs (id, session_id, exe_path_as_id, process_name, window_title, detail, ` + common + `)
			VALUES (:id, :session_id, :exe_path_as_id, :process_name, :window_title, :detail, ` + commonVals + `)`
	case types.KindChrome:
		args["domain"] = types.Truncate(s.Chrome.Domain)
		args["tab_title"] = types.Truncate(s.Chrome.TabTitle)
		args["url"] = types.Truncate(s.Chrome.URL)
		query = `INSERT INTO domain_logs (id, session_id, domain, tab_title, url, ` + common + `)
			VALUES (:id, :session_id, :domain, :tab_title, :url, ` + commonVals + `)`
	case types.KindVideo:
		args["video_key"] = types.Truncate(s.Identity())
		args["platform"] = string(s.Video.Platform)
		args["media_name"] = types.Truncate(s.Video.MediaName)
		args["channel"] = types.Truncate(s.Video.Channel)
		args["player_state"] = string(s.Video.State)
		query = `INSERT INTO video_logs (id, session_id, video_key, platform, media_name, channel, player_state, ` + common + `)
			VALUES (:id, :session_id, :video_key, :platform, :media_name, :channel, :player_state, ` + commonVals + `)`
	default:
		return fmt.Errorf("%w: %d", types.ErrUnknownKind, int(s.Kind))
	}
	_, err := tx.NamedExecContext(ctx, query+` ON CONFLICT (id) DO NOTHING`, args)
	return err
}

// addDaily is the upsert-and-add. The conflict clause makes the read and
// the increment one statement, so concurrent writers cannot lose updates.
func addDaily(ctx context.Context, tx *sqlx.Tx, op *Op) error {
	t, err := tableFor(op.SessionKind)
	if err != nil {
		return err
	}
	if op.Delta < 0 {
		return types.ErrNegativeDelta
	}
	cols := t.identity + ", hours_spent, gathering_date_local, updated_at"
	vals := "?, ?, ?, ?"
	args := []any{types.Truncate(op.Identity), op.Delta.Hours(), op.Date, formatTS(op.At)}
	if t.label != "" {
		cols += ", " + t.label
		vals += ", ?"
		args = append(args, types.Truncate(op.Label))
	}
	query := `INSERT INTO ` + t.daily + ` (` + cols + `) VALUES (` + vals + `)
		ON CONFLICT (` + t.identity + `, gathering_date_local) DO UPDATE
		SET hours_spent = ` + t.daily + `.hours_spent + excluded.hours_spent, updated_at = excluded.updated_at`
	_, err = tx.ExecContext(ctx, tx.Rebind(query), args...)
	return err
}
