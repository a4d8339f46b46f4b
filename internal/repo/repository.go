package repo

import (
	"context"
	"errors"

	"github.com/hamed0406/sitewatch/internal/domain"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

// Ports (interfaces) consumed by the engine. Adapters live in memory/,
// sqlite/ and postgres/.

// ConfigSource is read once at the start of every cycle.
type ConfigSource interface {
	LoadTargets(ctx context.Context) ([]domain.Target, error)
	LoadSubscriptions(ctx context.Context) ([]domain.WebhookSubscription, error)
	LoadSettings(ctx context.Context) (domain.Settings, error)
}

type Recorder interface {
	AppendHistory(ctx context.Context, e domain.HistoryEntry) error
	AppendPerformance(ctx context.Context, s domain.PerformanceSample) error
	RecentHistory(ctx context.Context, target string, limit int) ([]domain.HistoryEntry, error)
}

type CertificateStore interface {
	UpsertCertificate(ctx context.Context, rec domain.CertificateRecord) error
	// LatestCertificate returns ErrNotFound when nothing is stored.
	LatestCertificate(ctx context.Context, target string) (*domain.CertificateRecord, error)
}

// Purger deletes rows older than the cutoffs and keeps only the newest
// certificate per target.
type Purger interface {
	Purge(ctx context.Context, c domain.PurgeCutoffs) (domain.PurgeResult, error)
}

type AuthLog interface {
	RecordAuthAttempt(ctx context.Context, a domain.AuthAttempt) error
}

// ConfigWriter is used by configuration management (monitor file, admin API).
type ConfigWriter interface {
	AddTarget(ctx context.Context, t domain.Target) error
	RemoveTarget(ctx context.Context, url string) error
	ReplaceTargets(ctx context.Context, ts []domain.Target) error
	ReplaceSubscriptions(ctx context.Context, subs []domain.WebhookSubscription) error
	SaveSettings(ctx context.Context, s domain.Settings) error
}

// Store is everything a storage adapter provides.
type Store interface {
	ConfigSource
	ConfigWriter
	Recorder
	CertificateStore
	Purger
	AuthLog
	Close() error
}
