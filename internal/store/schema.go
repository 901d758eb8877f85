package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/user/activitytracker/internal/types"
)

// Timestamps are TEXT in a fixed-width layout so UTC columns sort
// lexically. Booleans are INTEGER 0/1.
const schemaTemplate = `
CREATE TABLE IF NOT EXISTS program_logs (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	exe_path_as_id TEXT NOT NULL,
	process_name TEXT NOT NULL,
	window_title TEXT NOT NULL,
	detail TEXT NOT NULL,
	productive INTEGER NOT NULL DEFAULT 0,
	start_time TEXT NOT NULL,
	end_time TEXT NOT NULL,
	start_time_local TEXT NOT NULL,
	end_time_local TEXT NOT NULL,
	gathering_date TEXT NOT NULL,
	gathering_date_local TEXT NOT NULL,
	duration_seconds {{FLOAT}} NOT NULL DEFAULT 0,
	closed INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_program_logs_start ON program_logs(start_time);

CREATE TABLE IF NOT EXISTS domain_logs (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	domain TEXT NOT NULL,
	tab_title TEXT NOT NULL,
	url TEXT NOT NULL,
	productive INTEGER NOT NULL DEFAULT 0,
	start_time TEXT NOT NULL,
	end_time TEXT NOT NULL,
	start_time_local TEXT NOT NULL,
	end_time_local TEXT NOT NULL,
	gathering_date TEXT NOT NULL,
	gathering_date_local TEXT NOT NULL,
	duration_seconds {{FLOAT}} NOT NULL DEFAULT 0,
	closed INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_domain_logs_start ON domain_logs(start_time);

CREATE TABLE IF NOT EXISTS video_logs (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	video_key TEXT NOT NULL,
	platform TEXT NOT NULL,
	media_name TEXT NOT NULL,
	channel TEXT NOT NULL,
	player_state TEXT NOT NULL,
	productive INTEGER NOT NULL DEFAULT 0,
	start_time TEXT NOT NULL,
	end_time TEXT NOT NULL,
	start_time_local TEXT NOT NULL,
	end_time_local TEXT NOT NULL,
	gathering_date TEXT NOT NULL,
	gathering_date_local TEXT NOT NULL,
	duration_seconds {{FLOAT}} NOT NULL DEFAULT 0,
	closed INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_video_logs_start ON video_logs(start_time);

CREATE TABLE IF NOT EXISTS daily_program_summaries (
	exe_path_as_id TEXT NOT NULL,
	program_name TEXT NOT NULL,
	hours_spent {{FLOAT}} NOT NULL DEFAULT 0,
	gathering_date_local TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (exe_path_as_id, gathering_date_local)
);

CREATE TABLE IF NOT EXISTS daily_chrome_summaries (
	domain TEXT NOT NULL,
	hours_spent {{FLOAT}} NOT NULL DEFAULT 0,
	gathering_date_local TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (domain, gathering_date_local)
);

CREATE TABLE IF NOT EXISTS daily_video_summaries (
	video_key TEXT NOT NULL,
	media_name TEXT NOT NULL,
	hours_spent {{FLOAT}} NOT NULL DEFAULT 0,
	gathering_date_local TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (video_key, gathering_date_local)
);

CREATE TABLE IF NOT EXISTS typing_sessions (
	id TEXT PRIMARY KEY,
	start_time TEXT NOT NULL,
	end_time TEXT NOT NULL,
	start_time_local TEXT NOT NULL,
	end_time_local TEXT NOT NULL,
	gathering_date_local TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS mouse_moves (
	id TEXT PRIMARY KEY,
	start_time TEXT NOT NULL,
	end_time TEXT NOT NULL,
	start_time_local TEXT NOT NULL,
	end_time_local TEXT NOT NULL,
	event_count INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS system_status (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL,
	created_at_local TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_system_status_created ON system_status(created_at);

CREATE TABLE IF NOT EXISTS health_counters (
	name TEXT PRIMARY KEY,
	count INTEGER NOT NULL,
	updated_at TEXT NOT NULL
);
`

func (d dialect) schema() string {
	float := "REAL"
	if d == dialectPostgres {
		float = "DOUBLE PRECISION"
	}
	return strings.ReplaceAll(schemaTemplate, "{{FLOAT}}", float)
}

func (db *DB) ensureSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(db.dialect.schema(), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// kindTable names the tables and identity columns of one session kind.
type kindTable struct {
	logs     string
	daily    string
	identity string
	label    string
	// logSelect aliases the kind's columns to identity, title, detail.
	logSelect string
}

var kindTables = map[types.Kind]kindTable{
	types.KindProgram: {
		logs: "program_logs", daily: "daily_program_summaries",
		identity: "exe_path_as_id", label: "program_name",
		logSelect: "exe_path_as_id AS identity, window_title AS title, detail AS detail",
	},
	types.KindChrome: {
		logs: "domain_logs", daily: "daily_chrome_summaries",
		identity:  "domain",
		logSelect: "domain AS identity, tab_title AS title, url AS detail",
	},
	types.KindVideo: {
		logs: "video_logs", daily: "daily_video_summaries",
		identity: "video_key", label: "media_name",
		logSelect: "video_key AS identity, media_name AS title, channel AS detail",
	},
}

func tableFor(k types.Kind) (kindTable, error) {
	t, ok := kindTables[k]
	if !ok {
		return kindTable{}, fmt.Errorf("%w: %d", types.ErrUnknownKind, int(k))
	}
	return t, nil
}
