// Package sqlite is the default storage adapter, backed by modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	_ "modernc.org/sqlite" // pure-Go driver

	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/repo"
)

var _ repo.Store = (*Store)(nil)

type Store struct {
	db *sql.DB
	mu sync.Mutex // serializes migrations
}

// Open opens (or creates) the database at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// single writer; WAL lets readers proceed
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %q: %w", path, err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}
	s := &Store{db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func ts(t time.Time) int64 { return t.UTC().UnixNano() }

func fromTS(n int64) time.Time { return time.Unix(0, n).UTC() }

// ---- ConfigSource / ConfigWriter ----

func (s *Store) LoadTargets(ctx context.Context) ([]domain.Target, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT url, expected FROM targets ORDER BY position, url`)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer rows.Close()
	var out []domain.Target
	for rows.Next() {
		var t domain.Target
		if err := rows.Scan(&t.URL, &t.ExpectedContent); err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) AddTarget(ctx context.Context, t domain.Target) error {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO targets (url, expected, position)
VALUES (?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM targets))
ON CONFLICT(url) DO NOTHING`, t.URL, t.ExpectedContent)
	if err != nil {
		return fmt.Errorf("insert target: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repo.ErrDuplicate
	}
	return nil
}

func (s *Store) RemoveTarget(ctx context.Context, url string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM targets WHERE url = ?`, url)
	if err != nil {
		return fmt.Errorf("delete target: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *Store) ReplaceTargets(ctx context.Context, targets []domain.Target) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM targets`); err != nil {
			return fmt.Errorf("clear targets: %w", err)
		}
		for i, t := range targets {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO targets (url, expected, position) VALUES (?, ?, ?)`,
				t.URL, t.ExpectedContent, i+1); err != nil {
				return fmt.Errorf("insert target %s: %w", t.URL, err)
			}
		}
		return nil
	})
}

func (s *Store) LoadSubscriptions(ctx context.Context) ([]domain.WebhookSubscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, url, secret, events, active FROM webhook_subscriptions ORDER BY position, id`)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()
	var out []domain.WebhookSubscription
	for rows.Next() {
		var (
			sub    domain.WebhookSubscription
			events string
		)
		if err := rows.Scan(&sub.ID, &sub.Name, &sub.URL, &sub.Secret, &events, &sub.Active); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		set, err := domain.ParseEventList(events)
		if err != nil {
			return nil, fmt.Errorf("subscription %s: %w", sub.ID, err)
		}
		sub.Events = set
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *Store) ReplaceSubscriptions(ctx context.Context, subs []domain.WebhookSubscription) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM webhook_subscriptions`); err != nil {
			return fmt.Errorf("clear subscriptions: %w", err)
		}
		for i, sub := range subs {
			if sub.ID == "" {
				sub.ID = uuid.NewString()
			}
			events, err := json.Marshal(sub.Events)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
INSERT INTO webhook_subscriptions (id, name, url, secret, events, active, position)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
				sub.ID, sub.Name, sub.URL, sub.Secret, string(events), sub.Active, i+1); err != nil {
				return fmt.Errorf("insert subscription %s: %w", sub.Name, err)
			}
		}
		return nil
	})
}

func (s *Store) LoadSettings(ctx context.Context) (domain.Settings, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM settings WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DefaultSettings(), nil
	}
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	var st domain.Settings
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return domain.Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return st.WithDefaults(), nil
}

func (s *Store) SaveSettings(ctx context.Context, st domain.Settings) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO settings (id, data, updated_at) VALUES (1, ?, ?)
ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		string(data), ts(time.Now()))
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// ---- Recorder ----

func (s *Store) AppendHistory(ctx context.Context, e domain.HistoryEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO history (id, target, status, response_time_ms, detail, ts)
VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Target, string(e.Status), e.ResponseTimeMs, e.Detail, ts(e.Timestamp))
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

func (s *Store) AppendPerformance(ctx context.Context, p domain.PerformanceSample) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO performance (target, status, response_time_ms, ts) VALUES (?, ?, ?, ?)`,
		p.Target, string(p.Status), p.ResponseTimeMs, ts(p.Timestamp))
	if err != nil {
		return fmt.Errorf("insert performance: %w", err)
	}
	return nil
}

func (s *Store) RecentHistory(ctx context.Context, target string, limit int) ([]domain.HistoryEntry, error) {
	q := `SELECT id, target, status, response_time_ms, detail, ts FROM history`
	var args []any
	if target != "" {
		q += ` WHERE target = ?`
		args = append(args, target)
	}
	q += ` ORDER BY ts DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("recent history: %w", err)
	}
	defer rows.Close()
	var out []domain.HistoryEntry
	for rows.Next() {
		var (
			e      domain.HistoryEntry
			status string
			at     int64
		)
		if err := rows.Scan(&e.ID, &e.Target, &status, &e.ResponseTimeMs, &e.Detail, &at); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.Status = domain.StatusKind(status)
		e.Timestamp = fromTS(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ---- CertificateStore ----

func (s *Store) UpsertCertificate(ctx context.Context, rec domain.CertificateRecord) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO certificates (target, valid_from, valid_to, issuer, last_checked)
VALUES (?, ?, ?, ?, ?)`,
		rec.Target, ts(rec.ValidFrom), ts(rec.ValidTo), rec.Issuer, ts(rec.LastChecked))
	if err != nil {
		return fmt.Errorf("insert certificate: %w", err)
	}
	return nil
}

func (s *Store) LatestCertificate(ctx context.Context, target string) (*domain.CertificateRecord, error) {
	var from, to, checked int64
	rec := domain.CertificateRecord{Target: target}
	err := s.db.QueryRowContext(ctx, `
SELECT valid_from, valid_to, issuer, last_checked
  FROM certificates
 WHERE target = ?
 ORDER BY last_checked DESC, id DESC
 LIMIT 1`, target).Scan(&from, &to, &rec.Issuer, &checked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest certificate: %w", err)
	}
	rec.ValidFrom, rec.ValidTo, rec.LastChecked = fromTS(from), fromTS(to), fromTS(checked)
	return &rec, nil
}

// ---- AuthLog ----

func (s *Store) RecordAuthAttempt(ctx context.Context, a domain.AuthAttempt) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO auth_attempts (remote_addr, path, success, ts) VALUES (?, ?, ?, ?)`,
		a.RemoteAddr, a.Path, a.Success, ts(a.Timestamp))
	if err != nil {
		return fmt.Errorf("insert auth attempt: %w", err)
	}
	return nil
}

// ---- Purger ----

// Purge runs every table's delete even when an earlier one fails.
func (s *Store) Purge(ctx context.Context, c domain.PurgeCutoffs) (domain.PurgeResult, error) {
	var (
		res  domain.PurgeResult
		errs error
		n    int64
		err  error
	)
	n, err = s.exec(ctx, "performance", `DELETE FROM performance WHERE ts < ?`, ts(c.Performance))
	res.Performance, errs = n, multierr.Append(errs, err)

	n, err = s.exec(ctx, "history", `DELETE FROM history WHERE ts < ?`, ts(c.History))
	res.History, errs = n, multierr.Append(errs, err)

	n, err = s.exec(ctx, "certificates", `
DELETE FROM certificates
 WHERE id NOT IN (
   SELECT id FROM (
     SELECT id, ROW_NUMBER() OVER (PARTITION BY target ORDER BY last_checked DESC, id DESC) AS rn
       FROM certificates
   ) WHERE rn = 1
 )`)
	res.Certificates, errs = n, multierr.Append(errs, err)

	n, err = s.exec(ctx, "auth_attempts", `DELETE FROM auth_attempts WHERE ts < ?`, ts(c.AuthAttempts))
	res.AuthAttempts, errs = n, multierr.Append(errs, err)

	return res, errs
}

func (s *Store) exec(ctx context.Context, table, q string, args ...any) (int64, error) {
	r, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("purge %s: %w", table, err)
	}
	return r.RowsAffected()
}

func (s *Store) tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original: %w)", rbErr, err)
		}
		return err
	}
	return tx.Commit()
}
