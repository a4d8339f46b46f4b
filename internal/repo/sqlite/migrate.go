package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations must stay in ascending Version order. Timestamps are stored as
// UTC unix nanoseconds.
var migrations = []migration{
	{1, "targets and subscriptions", `
CREATE TABLE targets (
	url      TEXT PRIMARY KEY,
	expected TEXT NOT NULL DEFAULT '',
	position INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE webhook_subscriptions (
	id       TEXT PRIMARY KEY,
	name     TEXT NOT NULL,
	url      TEXT NOT NULL,
	secret   TEXT NOT NULL DEFAULT '',
	events   TEXT NOT NULL DEFAULT '[]',
	active   INTEGER NOT NULL DEFAULT 1,
	position INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE settings (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	data       TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);`},
	{2, "time series", `
CREATE TABLE history (
	id               TEXT PRIMARY KEY,
	target           TEXT NOT NULL,
	status           TEXT NOT NULL,
	response_time_ms INTEGER NOT NULL,
	detail           TEXT NOT NULL,
	ts               INTEGER NOT NULL
);
CREATE INDEX idx_history_target_ts ON history (target, ts DESC);
CREATE INDEX idx_history_ts ON history (ts);

CREATE TABLE performance (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	target           TEXT NOT NULL,
	status           TEXT NOT NULL,
	response_time_ms INTEGER NOT NULL,
	ts               INTEGER NOT NULL
);
CREATE INDEX idx_performance_ts ON performance (ts);`},
	{3, "certificates and auth log", `
CREATE TABLE certificates (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	target       TEXT NOT NULL,
	valid_from   INTEGER NOT NULL,
	valid_to     INTEGER NOT NULL,
	issuer       TEXT NOT NULL,
	last_checked INTEGER NOT NULL
);
CREATE INDEX idx_certificates_target ON certificates (target, last_checked DESC);

CREATE TABLE auth_attempts (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	remote_addr TEXT NOT NULL,
	path        TEXT NOT NULL,
	success     INTEGER NOT NULL,
	ts          INTEGER NOT NULL
);
CREATE INDEX idx_auth_attempts_ts ON auth_attempts (ts);`},
}

// Migrate applies pending migrations. Applied versions are tracked in
// _migrations.
func (s *Store) Migrate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS _migrations (
	version     INTEGER PRIMARY KEY,
	description TEXT NOT NULL,
	applied_at  TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	for _, m := range migrations {
		var one int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM _migrations WHERE version = ?`, m.Version).Scan(&one)
		if err == nil {
			continue
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		err = s.tx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO _migrations (version, description) VALUES (?, ?)`, m.Version, m.Description)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
	}
	return nil
}
