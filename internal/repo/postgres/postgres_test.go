package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/repo"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping Postgres integration test")
	}
	store, err := New(context.Background(), dsn, zap.NewNop())
	if err != nil {
		t.Fatalf("New store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPostgresStore_TargetsAndHistory(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	// Use a unique URL per run to avoid collisions with previous runs.
	uniqueURL := fmt.Sprintf("https://example.com/test-%d", time.Now().UTC().UnixNano())

	if err := store.AddTarget(ctx, domain.Target{URL: uniqueURL, ExpectedContent: "ok"}); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	defer store.RemoveTarget(ctx, uniqueURL)
	if err := store.AddTarget(ctx, domain.Target{URL: uniqueURL}); !errors.Is(err, repo.ErrDuplicate) {
		t.Fatalf("want ErrDuplicate, got %v", err)
	}

	list, err := store.LoadTargets(ctx)
	if err != nil {
		t.Fatalf("LoadTargets: %v", err)
	}
	found := false
	for _, x := range list {
		if x.URL == uniqueURL && x.ExpectedContent == "ok" {
			found = true
		}
	}
	if !found {
		t.Fatalf("added target not found in list; got %d rows", len(list))
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	if err := store.AppendHistory(ctx, domain.HistoryEntry{Target: uniqueURL, Status: domain.StatusDNSError, Detail: "x", Timestamp: now}); err != nil {
		t.Fatalf("AppendHistory: %v", err)
	}
	hist, err := store.RecentHistory(ctx, uniqueURL, 10)
	if err != nil {
		t.Fatalf("RecentHistory: %v", err)
	}
	if len(hist) != 1 || hist[0].Status != domain.StatusDNSError || !hist[0].Timestamp.Equal(now) {
		t.Fatalf("history %+v", hist)
	}
}

func TestPostgresStore_CertificatesCollapse(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	target := fmt.Sprintf("https://cert-%d.example.com", time.Now().UnixNano())
	base := time.Now().UTC().Truncate(time.Second)

	for i := 0; i < 3; i++ {
		if err := store.UpsertCertificate(ctx, domain.CertificateRecord{Target: target, Issuer: "ca", ValidTo: base.AddDate(0, 2, 0), LastChecked: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatal(err)
		}
	}
	old := base.AddDate(-1, 0, 0)
	res, err := store.Purge(ctx, domain.PurgeCutoffs{Performance: old, History: old, AuthAttempts: old})
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if res.Certificates < 2 {
		t.Fatalf("want at least 2 certificate rows collapsed, got %d", res.Certificates)
	}
	rec, err := store.LatestCertificate(ctx, target)
	if err != nil {
		t.Fatal(err)
	}
	if !rec.LastChecked.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("newest record should survive, got %v", rec.LastChecked)
	}
}
