package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/repo"
)

// Store keeps everything in process memory. Used for tests and for
// running without a database.
type Store struct {
	mu       sync.RWMutex
	targets  []domain.Target
	subs     []domain.WebhookSubscription
	settings domain.Settings
	history  []domain.HistoryEntry
	perf     []domain.PerformanceSample
	certs    []domain.CertificateRecord
	auth     []domain.AuthAttempt
}

func New() *Store {
	return &Store{settings: domain.DefaultSettings()}
}

func (m *Store) LoadTargets(ctx context.Context) ([]domain.Target, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Target(nil), m.targets...), nil
}

func (m *Store) LoadSubscriptions(ctx context.Context) ([]domain.WebhookSubscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.WebhookSubscription(nil), m.subs...), nil
}

func (m *Store) LoadSettings(ctx context.Context) (domain.Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings.WithDefaults(), nil
}

func (m *Store) AddTarget(ctx context.Context, t domain.Target) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cur := range m.targets {
		if cur.URL == t.URL {
			return repo.ErrDuplicate
		}
	}
	m.targets = append(m.targets, t)
	return nil
}

func (m *Store) RemoveTarget(ctx context.Context, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, cur := range m.targets {
		if cur.URL == url {
			m.targets = append(m.targets[:i], m.targets[i+1:]...)
			return nil
		}
	}
	return repo.ErrNotFound
}

func (m *Store) ReplaceTargets(ctx context.Context, ts []domain.Target) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets = append([]domain.Target(nil), ts...)
	return nil
}

func (m *Store) ReplaceSubscriptions(ctx context.Context, subs []domain.WebhookSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = make([]domain.WebhookSubscription, 0, len(subs))
	for _, s := range subs {
		if s.ID == "" {
			s.ID = uuid.NewString()
		}
		m.subs = append(m.subs, s)
	}
	return nil
}

func (m *Store) SaveSettings(ctx context.Context, s domain.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = s
	return nil
}

func (m *Store) AppendHistory(ctx context.Context, e domain.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	m.history = append(m.history, e)
	return nil
}

func (m *Store) AppendPerformance(ctx context.Context, s domain.PerformanceSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.perf = append(m.perf, s)
	return nil
}

// RecentHistory returns the newest entries first. An empty target matches
// every target.
func (m *Store) RecentHistory(ctx context.Context, target string, limit int) ([]domain.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.HistoryEntry
	for i := len(m.history) - 1; i >= 0; i-- {
		e := m.history[i]
		if target != "" && e.Target != target {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Store) UpsertCertificate(ctx context.Context, rec domain.CertificateRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.certs = append(m.certs, rec)
	return nil
}

func (m *Store) LatestCertificate(ctx context.Context, target string) (*domain.CertificateRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *domain.CertificateRecord
	for i := range m.certs {
		c := &m.certs[i]
		if c.Target != target {
			continue
		}
		if best == nil || !c.LastChecked.Before(best.LastChecked) {
			best = c
		}
	}
	if best == nil {
		return nil, repo.ErrNotFound
	}
	rec := *best
	return &rec, nil
}

func (m *Store) RecordAuthAttempt(ctx context.Context, a domain.AuthAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auth = append(m.auth, a)
	return nil
}

func (m *Store) Purge(ctx context.Context, c domain.PurgeCutoffs) (domain.PurgeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res domain.PurgeResult

	keptPerf := m.perf[:0]
	for _, s := range m.perf {
		if s.Timestamp.Before(c.Performance) {
			res.Performance++
			continue
		}
		keptPerf = append(keptPerf, s)
	}
	m.perf = keptPerf

	keptHist := m.history[:0]
	for _, e := range m.history {
		if e.Timestamp.Before(c.History) {
			res.History++
			continue
		}
		keptHist = append(keptHist, e)
	}
	m.history = keptHist

	keptAuth := m.auth[:0]
	for _, a := range m.auth {
		if a.Timestamp.Before(c.AuthAttempts) {
			res.AuthAttempts++
			continue
		}
		keptAuth = append(keptAuth, a)
	}
	m.auth = keptAuth

	// newest certificate per target
	sort.SliceStable(m.certs, func(i, j int) bool {
		return m.certs[i].LastChecked.After(m.certs[j].LastChecked)
	})
	seen := make(map[string]struct{}, len(m.certs))
	keptCerts := m.certs[:0]
	for _, rec := range m.certs {
		if _, dup := seen[rec.Target]; dup {
			res.Certificates++
			continue
		}
		seen[rec.Target] = struct{}{}
		keptCerts = append(keptCerts, rec)
	}
	m.certs = keptCerts
	return res, nil
}

func (m *Store) Close() error { return nil }
