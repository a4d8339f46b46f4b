// Package retention purges old time-series and security-log rows.
package retention

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/metrics"
	"github.com/hamed0406/sitewatch/internal/repo"
)

const day = 24 * time.Hour

type Service struct {
	purger repo.Purger
	logger *zap.Logger
}

func New(purger repo.Purger, logger *zap.Logger) *Service {
	return &Service{purger: purger, logger: logger}
}

// Cutoffs returns the oldest timestamp kept per table. Non-positive
// retention values fall back to the defaults.
func Cutoffs(s domain.Settings, now time.Time) domain.PurgeCutoffs {
	keep := s.RetentionDays
	if keep <= 0 {
		keep = domain.DefaultRetentionDays
	}
	auth := s.AuthRetentionDays
	if auth <= 0 {
		auth = domain.DefaultAuthRetentionDays
	}
	data := now.Add(-time.Duration(keep) * day)
	return domain.PurgeCutoffs{
		Performance:  data,
		History:      data,
		AuthAttempts: now.Add(-time.Duration(auth) * day),
	}
}

// Run deletes rows older than the configured horizons. A partial result is
// returned alongside the error when some tables could not be purged.
func (s *Service) Run(ctx context.Context, settings domain.Settings, now time.Time) (domain.PurgeResult, error) {
	c := Cutoffs(settings, now)
	res, err := s.purger.Purge(ctx, c)

	metrics.RetentionDeletedTotal.WithLabelValues("performance").Add(float64(res.Performance))
	metrics.RetentionDeletedTotal.WithLabelValues("history").Add(float64(res.History))
	metrics.RetentionDeletedTotal.WithLabelValues("certificates").Add(float64(res.Certificates))
	metrics.RetentionDeletedTotal.WithLabelValues("auth_attempts").Add(float64(res.AuthAttempts))

	if err != nil {
		s.logger.Error("retention_failed", zap.Error(err))
		return res, fmt.Errorf("purge: %w", err)
	}
	s.logger.Info("retention_done",
		zap.Time("data_cutoff", c.History),
		zap.Time("auth_cutoff", c.AuthAttempts),
		zap.Int64("performance", res.Performance),
		zap.Int64("history", res.History),
		zap.Int64("certificates", res.Certificates),
		zap.Int64("auth_attempts", res.AuthAttempts),
	)
	return res, nil
}
