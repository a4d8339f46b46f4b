package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/repo"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "sitewatch.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLite_MigrateIsIdempotent(t *testing.T) {
	s := openTemp(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestSQLite_TargetsKeepOrder(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	if err := s.ReplaceTargets(ctx, []domain.Target{{URL: "https://b.example.com"}, {URL: "https://a.example.com", ExpectedContent: "hi"}}); err != nil {
		t.Fatal(err)
	}
	if err := s.AddTarget(ctx, domain.Target{URL: "https://c.example.com"}); err != nil {
		t.Fatal(err)
	}
	if err := s.AddTarget(ctx, domain.Target{URL: "https://c.example.com"}); !errors.Is(err, repo.ErrDuplicate) {
		t.Fatalf("want ErrDuplicate, got %v", err)
	}
	got, err := s.LoadTargets(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0].URL != "https://b.example.com" || got[1].ExpectedContent != "hi" || got[2].URL != "https://c.example.com" {
		t.Fatalf("targets %+v", got)
	}
	if err := s.RemoveTarget(ctx, "https://nope.example.com"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestSQLite_SubscriptionsEvents(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	err := s.ReplaceSubscriptions(ctx, []domain.WebhookSubscription{{
		Name:   "ops",
		URL:    "https://hooks.example.com",
		Secret: "k",
		Events: domain.NewEventSet(domain.EventOffline, domain.EventSSLExpire),
		Active: true,
	}})
	if err != nil {
		t.Fatal(err)
	}
	// rows written by older deployments hold a comma separated list
	if _, err := s.db.ExecContext(ctx, `INSERT INTO webhook_subscriptions (id, name, url, events, active, position) VALUES ('legacy', 'legacy', 'https://x', 'Back Online, Offline', 0, 9)`); err != nil {
		t.Fatal(err)
	}

	subs, err := s.LoadSubscriptions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 2 {
		t.Fatalf("want 2 subscriptions, got %d", len(subs))
	}
	if subs[0].ID == "" || subs[0].Secret != "k" || !subs[0].Active {
		t.Fatalf("subscription %+v", subs[0])
	}
	if !subs[0].Events.Has(domain.EventSSLExpire) || subs[0].Events.Has(domain.EventOnline) {
		t.Fatalf("events %v", subs[0].Events.Strings())
	}
	if !subs[1].Events.Has(domain.EventOnline) || !subs[1].Events.Has(domain.EventOffline) || subs[1].Active {
		t.Fatalf("legacy subscription %+v", subs[1])
	}
}

func TestSQLite_Settings(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	def, err := s.LoadSettings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if def.CheckInterval != domain.DefaultCheckInterval {
		t.Fatalf("defaults not applied: %+v", def)
	}

	st := domain.DefaultSettings()
	st.ConsecutiveChecks = 4
	st.NotificationMethod = domain.NotifyWebhook
	st.EmailEvents = domain.NewEventSet(domain.EventPerformance)
	if err := s.SaveSettings(ctx, st); err != nil {
		t.Fatal(err)
	}
	got, err := s.LoadSettings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.ConsecutiveChecks != 4 || got.NotificationMethod != domain.NotifyWebhook || !got.EmailEvents.Has(domain.EventPerformance) || got.EmailEvents.Has(domain.EventOnline) {
		t.Fatalf("settings %+v", got)
	}
}

func TestSQLite_PurgeBoundary(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	cutoff := now.AddDate(0, 0, -90)

	for _, at := range []time.Time{cutoff.Add(-time.Millisecond), cutoff, now} {
		if err := s.AppendHistory(ctx, domain.HistoryEntry{Target: "a", Status: domain.StatusOnline, Timestamp: at}); err != nil {
			t.Fatal(err)
		}
		if err := s.AppendPerformance(ctx, domain.PerformanceSample{Target: "a", Status: domain.StatusOnline, Timestamp: at}); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 3; i++ {
		_ = s.UpsertCertificate(ctx, domain.CertificateRecord{Target: "a", Issuer: "ca", ValidTo: now.AddDate(0, 1, 0), LastChecked: now.Add(time.Duration(i) * time.Hour)})
	}
	_ = s.UpsertCertificate(ctx, domain.CertificateRecord{Target: "b", Issuer: "ca", LastChecked: now})
	_ = s.RecordAuthAttempt(ctx, domain.AuthAttempt{RemoteAddr: "1.2.3.4", Path: "/api/start", Timestamp: now.AddDate(0, 0, -40)})
	_ = s.RecordAuthAttempt(ctx, domain.AuthAttempt{RemoteAddr: "1.2.3.4", Path: "/api/start", Success: true, Timestamp: now})

	res, err := s.Purge(ctx, domain.PurgeCutoffs{Performance: cutoff, History: cutoff, AuthAttempts: now.AddDate(0, 0, -30)})
	if err != nil {
		t.Fatal(err)
	}
	want := domain.PurgeResult{Performance: 1, History: 1, Certificates: 2, AuthAttempts: 1}
	if res != want {
		t.Fatalf("purge %+v, want %+v", res, want)
	}

	hist, err := s.RecentHistory(ctx, "a", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 || !hist[1].Timestamp.Equal(cutoff) {
		t.Fatalf("history after purge %+v", hist)
	}
	rec, err := s.LatestCertificate(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if !rec.LastChecked.Equal(now.Add(2 * time.Hour)) {
		t.Fatalf("newest certificate should survive, got %v", rec.LastChecked)
	}
	if _, err := s.LatestCertificate(ctx, "c"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}
