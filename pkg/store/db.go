// Package store is the structured persistence layer: a single SQLite
// database (WAL mode, one writer) holding memories, associations,
// conversation turns, compaction summaries, cron jobs/executions, and
// bindings, plus an FTS5 virtual table backing the lexical leg of hybrid
// recall. Concurrent readers are safe; writes are serialized through a
// single *sqlx.DB connection the way the teacher's db package does.
package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// Open opens or creates the agent's SQLite database at dbPath and applies
// the pragmas required for safe single-writer/multi-reader operation.
func Open(ctx context.Context, dbPath string) (*sqlx.DB, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "creating database directory")
		}
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "pinging database")
	}
	if err := configure(ctx, db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "configuring database")
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "running migrations")
	}
	return db, nil
}

func configure(ctx context.Context, db *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=1000",
		"PRAGMA temp_store=memory",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return errors.Wrapf(err, "executing pragma: %s", p)
		}
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	var journalMode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journalMode); err != nil {
		return errors.Wrap(err, "querying journal mode")
	}
	if strings.ToLower(journalMode) != "wal" {
		return errors.Errorf("WAL mode not enabled, got %s", journalMode)
	}
	return nil
}

type migration struct {
	version     int64
	description string
	up          func(*sql.Tx) error
}

var migrations = []migration{
	{20260101000001, "initial schema", upInitialSchema},
}

func migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME NOT NULL,
			description TEXT
		)
	`); err != nil {
		return errors.Wrap(err, "creating schema_migrations table")
	}

	var versions []int64
	if err := db.SelectContext(ctx, &versions, "SELECT version FROM schema_migrations"); err != nil {
		return errors.Wrap(err, "reading applied migrations")
	}
	applied := make(map[int64]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}

	sorted := make([]migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].version < sorted[j].version })

	for _, m := range sorted {
		if applied[m.version] {
			continue
		}
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return errors.Wrap(err, "beginning migration transaction")
		}
		if err := m.up(tx.Tx); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "applying migration %d: %s", m.version, m.description)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
			m.version, time.Now(), m.description,
		); err != nil {
			tx.Rollback()
			return errors.Wrap(err, "recording migration")
		}
		if err := tx.Commit(); err != nil {
			return errors.Wrap(err, "committing migration")
		}
	}
	return nil
}

func upInitialSchema(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			last_accessed_at DATETIME NOT NULL,
			access_count INTEGER NOT NULL DEFAULT 0,
			content TEXT NOT NULL,
			memory_type TEXT NOT NULL,
			importance REAL NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			channel_id TEXT NOT NULL DEFAULT '',
			specialist TEXT NOT NULL DEFAULT '',
			indexed INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_channel ON memories(channel_id)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_specialist ON memories(specialist)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_importance ON memories(importance)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
			content, content='memories', content_rowid='rowid'
		)`,
		`CREATE TRIGGER IF NOT EXISTS memories_ai AFTER INSERT ON memories BEGIN
			INSERT INTO memories_fts(rowid, content) VALUES (new.rowid, new.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS memories_ad AFTER DELETE ON memories BEGIN
			INSERT INTO memories_fts(memories_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS memories_au AFTER UPDATE ON memories BEGIN
			INSERT INTO memories_fts(memories_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
			INSERT INTO memories_fts(rowid, content) VALUES (new.rowid, new.content);
		END`,
		`CREATE TABLE IF NOT EXISTS associations (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
			target_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
			relation TEXT NOT NULL,
			weight REAL NOT NULL DEFAULT 1.0,
			created_at DATETIME NOT NULL,
			UNIQUE(source_id, target_id, relation)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_assoc_source ON associations(source_id)`,
		`CREATE INDEX IF NOT EXISTS idx_assoc_target ON associations(target_id)`,
		`CREATE TABLE IF NOT EXISTS conversation_turns (
			channel_id TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			inbound TEXT NOT NULL DEFAULT '',
			outbound TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			PRIMARY KEY (channel_id, sequence)
		)`,
		`CREATE TABLE IF NOT EXISTS compaction_summaries (
			id TEXT PRIMARY KEY,
			channel_id TEXT NOT NULL,
			start_sequence INTEGER NOT NULL,
			end_sequence INTEGER NOT NULL,
			summary_text TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_compaction_channel ON compaction_summaries(channel_id)`,
		`CREATE TABLE IF NOT EXISTS cron_jobs (
			id TEXT PRIMARY KEY,
			agent_name TEXT NOT NULL,
			prompt TEXT NOT NULL,
			interval_secs INTEGER NOT NULL,
			delivery_target TEXT NOT NULL,
			active_start_hour INTEGER NOT NULL DEFAULT -1,
			active_end_hour INTEGER NOT NULL DEFAULT -1,
			enabled INTEGER NOT NULL DEFAULT 1,
			consecutive_fail INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cron_executions (
			id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL REFERENCES cron_jobs(id) ON DELETE CASCADE,
			ran_at DATETIME NOT NULL,
			success INTEGER NOT NULL,
			summary TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cron_exec_job ON cron_executions(job_id)`,
		`CREATE TABLE IF NOT EXISTS bindings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			platform TEXT NOT NULL DEFAULT '',
			channel_or_chat_id TEXT NOT NULL DEFAULT '',
			sender_id TEXT NOT NULL DEFAULT '',
			agent_name TEXT NOT NULL,
			specialist TEXT NOT NULL DEFAULT '',
			thread_id TEXT NOT NULL DEFAULT ''
		)`,
	}
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			return errors.Wrapf(err, "executing: %s", s)
		}
	}
	return nil
}
