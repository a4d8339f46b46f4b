package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/repo"
)

var _ repo.Store = (*Store)(nil)

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// New connects, pings and applies the schema.
func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	s := &Store{pool: pool, log: log}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS targets (
  url      TEXT PRIMARY KEY,
  expected TEXT NOT NULL DEFAULT '',
  position INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS webhook_subscriptions (
  id       TEXT PRIMARY KEY,
  name     TEXT NOT NULL,
  url      TEXT NOT NULL,
  secret   TEXT NOT NULL DEFAULT '',
  events   TEXT NOT NULL DEFAULT '[]',
  active   BOOLEAN NOT NULL DEFAULT TRUE,
  position INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS settings (
  id         SMALLINT PRIMARY KEY CHECK (id = 1),
  data       JSONB NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS history (
  id               TEXT PRIMARY KEY,
  target           TEXT NOT NULL,
  status           TEXT NOT NULL,
  response_time_ms BIGINT NOT NULL,
  detail           TEXT NOT NULL,
  ts               TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_target_ts ON history (target, ts DESC);
CREATE INDEX IF NOT EXISTS idx_history_ts        ON history (ts);

CREATE TABLE IF NOT EXISTS performance (
  id               BIGSERIAL PRIMARY KEY,
  target           TEXT NOT NULL,
  status           TEXT NOT NULL,
  response_time_ms BIGINT NOT NULL,
  ts               TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_performance_ts ON performance (ts);

CREATE TABLE IF NOT EXISTS certificates (
  id           BIGSERIAL PRIMARY KEY,
  target       TEXT NOT NULL,
  valid_from   TIMESTAMPTZ NOT NULL,
  valid_to     TIMESTAMPTZ NOT NULL,
  issuer       TEXT NOT NULL,
  last_checked TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_certificates_target ON certificates (target, last_checked DESC);

CREATE TABLE IF NOT EXISTS auth_attempts (
  id          BIGSERIAL PRIMARY KEY,
  remote_addr TEXT NOT NULL,
  path        TEXT NOT NULL,
  success     BOOLEAN NOT NULL,
  ts          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_auth_attempts_ts ON auth_attempts (ts);
`

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// ---- ConfigSource / ConfigWriter ----

func (s *Store) LoadTargets(ctx context.Context) ([]domain.Target, error) {
	rows, err := s.pool.Query(ctx, `SELECT url, expected FROM targets ORDER BY position, url`)
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
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO targets (url, expected, position)
		 VALUES ($1, $2, (SELECT COALESCE(MAX(position), 0) + 1 FROM targets))
		 ON CONFLICT (url) DO NOTHING`,
		t.URL, t.ExpectedContent)
	if err != nil {
		return fmt.Errorf("insert target: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrDuplicate
	}
	return nil
}

func (s *Store) RemoveTarget(ctx context.Context, url string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM targets WHERE url = $1`, url)
	if err != nil {
		return fmt.Errorf("delete target: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *Store) ReplaceTargets(ctx context.Context, targets []domain.Target) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM targets`); err != nil {
			return fmt.Errorf("clear targets: %w", err)
		}
		for i, t := range targets {
			if _, err := tx.Exec(ctx,
				`INSERT INTO targets (url, expected, position) VALUES ($1, $2, $3)`,
				t.URL, t.ExpectedContent, i+1); err != nil {
				return fmt.Errorf("insert target %s: %w", t.URL, err)
			}
		}
		return nil
	})
}

func (s *Store) LoadSubscriptions(ctx context.Context) ([]domain.WebhookSubscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, url, secret, events, active
		   FROM webhook_subscriptions
		  ORDER BY position, id`)
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
		if sub.Events, err = domain.ParseEventList(events); err != nil {
			return nil, fmt.Errorf("subscription %s: %w", sub.ID, err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *Store) ReplaceSubscriptions(ctx context.Context, subs []domain.WebhookSubscription) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM webhook_subscriptions`); err != nil {
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
			if _, err := tx.Exec(ctx,
				`INSERT INTO webhook_subscriptions (id, name, url, secret, events, active, position)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				sub.ID, sub.Name, sub.URL, sub.Secret, string(events), sub.Active, i+1); err != nil {
				return fmt.Errorf("insert subscription %s: %w", sub.Name, err)
			}
		}
		return nil
	})
}

func (s *Store) LoadSettings(ctx context.Context) (domain.Settings, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM settings WHERE id = 1`).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DefaultSettings(), nil
	}
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	var st domain.Settings
	if err := json.Unmarshal(data, &st); err != nil {
		return domain.Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return st.WithDefaults(), nil
}

func (s *Store) SaveSettings(ctx context.Context, st domain.Settings) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO settings (id, data, updated_at) VALUES (1, $1, now())
		 ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		string(data))
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
	_, err := s.pool.Exec(ctx,
		`INSERT INTO history (id, target, status, response_time_ms, detail, ts)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.Target, string(e.Status), e.ResponseTimeMs, e.Detail, e.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

func (s *Store) AppendPerformance(ctx context.Context, p domain.PerformanceSample) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO performance (target, status, response_time_ms, ts) VALUES ($1, $2, $3, $4)`,
		p.Target, string(p.Status), p.ResponseTimeMs, p.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("insert performance: %w", err)
	}
	return nil
}

func (s *Store) RecentHistory(ctx context.Context, target string, limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, target, status, response_time_ms, detail, ts
		   FROM history
		  WHERE ($1 = '' OR target = $1)
		  ORDER BY ts DESC
		  LIMIT $2`,
		target, limit)
	if err != nil {
		return nil, fmt.Errorf("recent history: %w", err)
	}
	defer rows.Close()

	var out []domain.HistoryEntry
	for rows.Next() {
		var (
			e      domain.HistoryEntry
			status string
		)
		if err := rows.Scan(&e.ID, &e.Target, &status, &e.ResponseTimeMs, &e.Detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.Status = domain.StatusKind(status)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ---- CertificateStore ----

func (s *Store) UpsertCertificate(ctx context.Context, rec domain.CertificateRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO certificates (target, valid_from, valid_to, issuer, last_checked)
		 VALUES ($1, $2, $3, $4, $5)`,
		rec.Target, rec.ValidFrom.UTC(), rec.ValidTo.UTC(), rec.Issuer, rec.LastChecked.UTC())
	if err != nil {
		return fmt.Errorf("insert certificate: %w", err)
	}
	return nil
}

func (s *Store) LatestCertificate(ctx context.Context, target string) (*domain.CertificateRecord, error) {
	rec := domain.CertificateRecord{Target: target}
	err := s.pool.QueryRow(ctx,
		`SELECT valid_from, valid_to, issuer, last_checked
		   FROM certificates
		  WHERE target = $1
		  ORDER BY last_checked DESC, id DESC
		  LIMIT 1`, target).Scan(&rec.ValidFrom, &rec.ValidTo, &rec.Issuer, &rec.LastChecked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest certificate: %w", err)
	}
	return &rec, nil
}

// ---- AuthLog ----

func (s *Store) RecordAuthAttempt(ctx context.Context, a domain.AuthAttempt) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO auth_attempts (remote_addr, path, success, ts) VALUES ($1, $2, $3, $4)`,
		a.RemoteAddr, a.Path, a.Success, a.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("insert auth attempt: %w", err)
	}
	return nil
}

// ---- Purger ----

func (s *Store) Purge(ctx context.Context, c domain.PurgeCutoffs) (domain.PurgeResult, error) {
	var (
		res  domain.PurgeResult
		errs error
	)
	del := func(table, q string, args ...any) int64 {
		tag, err := s.pool.Exec(ctx, q, args...)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("purge %s: %w", table, err))
			return 0
		}
		return tag.RowsAffected()
	}
	res.Performance = del("performance", `DELETE FROM performance WHERE ts < $1`, c.Performance.UTC())
	res.History = del("history", `DELETE FROM history WHERE ts < $1`, c.History.UTC())
	res.Certificates = del("certificates",
		`DELETE FROM certificates c
		  WHERE EXISTS (
		    SELECT 1 FROM certificates n
		     WHERE n.target = c.target
		       AND (n.last_checked > c.last_checked OR (n.last_checked = c.last_checked AND n.id > c.id))
		  )`)
	res.AuthAttempts = del("auth_attempts", `DELETE FROM auth_attempts WHERE ts < $1`, c.AuthAttempts.UTC())

	if errs != nil {
		s.log.Warn("purge_partial_failure", zap.Error(errs))
	}
	return res, errs
}
