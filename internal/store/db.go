// Package store persists sessions, summaries and status rows through
// batched, journaled write queues.
package store

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

func (d dialect) driver() string {
	if d == dialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

func (d dialect) String() string { return d.driver() }

// DB is the storage handle shared by every DAO.
type DB struct {
	*sqlx.DB
	dialect dialect
}

// Open connects to dsn and ensures the schema exists. postgres:// and
// postgresql:// URLs (including "postgresql+asyncpg://" style driver
// suffixes) select Postgres; sqlite:// URLs, file: URIs and bare paths
// select SQLite.
func Open(ctx context.Context, dsn string) (*DB, error) {
	d, conn, err := parseDSN(dsn)
	if err != nil {
		return nil, err
	}
	sdb, err := sqlx.Open(d.driver(), conn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", d, err)
	}
	if d == dialectSQLite {
		// One writer connection; WAL lets readers proceed.
		sdb.SetMaxOpenConns(1)
	} else {
		sdb.SetMaxOpenConns(8)
		sdb.SetConnMaxIdleTime(5 * time.Minute)
	}

	db := &DB{DB: sdb, dialect: d}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		sdb.Close()
		return nil, fmt.Errorf("ping %s database: %w", d, err)
	}
	if err := db.ensureSchema(ctx); err != nil {
		sdb.Close()
		return nil, err
	}
	return db, nil
}

func parseDSN(dsn string) (dialect, string, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return 0, "", fmt.Errorf("empty database url")
	}
	scheme, rest, hasScheme := strings.Cut(dsn, "://")
	if !hasScheme {
		if strings.HasPrefix(dsn, "file:") {
			return dialectSQLite, withPragmas(dsn), nil
		}
		return dialectSQLite, withPragmas("file:" + dsn), nil
	}
	base, _, _ := strings.Cut(strings.ToLower(scheme), "+")
	switch base {
	case "postgres", "postgresql":
		u, err := url.Parse("postgres://" + rest)
		if err != nil {
			return 0, "", fmt.Errorf("parse database url: %w", err)
		}
		return dialectPostgres, u.String(), nil
	case "sqlite", "sqlite3":
		return dialectSQLite, withPragmas("file:" + rest), nil
	}
	return 0, "", fmt.Errorf("unsupported database scheme %q", scheme)
}

func withPragmas(uri string) string {
	sep := "?"
	if strings.Contains(uri, "?") {
		sep = "&"
	}
	return uri + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// ApplyBatch writes ops in a single transaction.
func (db *DB) ApplyBatch(ctx context.Context, ops []Op) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	for i := range ops {
		if err := apply(ctx, tx, &ops[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply %s: %w", ops[i].Kind, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
