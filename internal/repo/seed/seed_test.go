package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/repo/memory"
)

const sample = `
targets:
  - https://Example.com/
  - "https://shop.example.com|Add to cart"
  - url: http://api.example.com:80/health
    expected: ok
  - https://example.com
subscriptions:
  - name: ops
    url: https://hooks.example.com/ops
    secret: s3cret
    events: [offline, ssl_expire]
  - name: all
    url: https://hooks.example.com/all
    active: false
settings:
  check_interval: 30s
  consecutive_checks: 3
  notification_method: webhook
  email_events: ["Back Online", "Offline"]
`

func TestParse_Sample(t *testing.T) {
	m, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []domain.Target{
		{URL: "https://example.com"},
		{URL: "https://shop.example.com", ExpectedContent: "Add to cart"},
		{URL: "http://api.example.com/health", ExpectedContent: "ok"},
	}
	if len(m.Targets) != len(want) {
		t.Fatalf("targets %+v", m.Targets)
	}
	for i := range want {
		if m.Targets[i] != want[i] {
			t.Fatalf("target %d: got %+v want %+v", i, m.Targets[i], want[i])
		}
	}

	if len(m.Subscriptions) != 2 {
		t.Fatalf("subscriptions %+v", m.Subscriptions)
	}
	ops, all := m.Subscriptions[0], m.Subscriptions[1]
	if !ops.Active || ops.Secret != "s3cret" || ops.Events.Has(domain.EventOnline) || !ops.Events.Has(domain.EventSSLExpire) {
		t.Fatalf("ops subscription %+v", ops)
	}
	if all.Active || len(all.Events) != len(domain.AllEvents()) {
		t.Fatalf("all subscription %+v", all)
	}

	s := m.Settings
	if s == nil {
		t.Fatal("settings missing")
	}
	if s.CheckInterval != 30*time.Second || s.ConsecutiveChecks != 3 || s.NotificationMethod != domain.NotifyWebhook {
		t.Fatalf("settings %+v", s)
	}
	if s.Timeout != domain.DefaultTimeout {
		t.Fatalf("defaults not applied: timeout %v", s.Timeout)
	}
	if !s.EmailEvents.Has(domain.EventOnline) || s.EmailEvents.Has(domain.EventPerformance) {
		t.Fatalf("email events %v", s.EmailEvents.Strings())
	}
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]string{
		"bad url":       "targets: [ftp://example.com]",
		"unknown event": "subscriptions: [{url: https://h, events: [reboot]}]",
		"unknown key":   "targets: []\nretries: 3",
		"bad method":    "settings: {notification_method: pager}",
	}
	for name, doc := range cases {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestApply_OnlyPresentSections(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	_ = store.ReplaceSubscriptions(ctx, []domain.WebhookSubscription{{Name: "keep", URL: "https://k"}})

	m, err := Parse([]byte("targets:\n  - https://example.com\n"))
	if err != nil {
		t.Fatal(err)
	}
	if err := Apply(ctx, m, store); err != nil {
		t.Fatal(err)
	}
	targets, _ := store.LoadTargets(ctx)
	subs, _ := store.LoadSubscriptions(ctx)
	if len(targets) != 1 || len(subs) != 1 || subs[0].Name != "keep" {
		t.Fatalf("targets %+v subs %+v", targets, subs)
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitor.yaml")
	if err := os.WriteFile(path, []byte("targets: [https://a.example.com]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Monitor, 16)
	done := make(chan error, 1)
	onChange := func(m *Monitor) {
		select {
		case got <- m:
		default:
		}
	}
	go func() { done <- Watch(ctx, path, zap.NewNop(), onChange) }()

	// give the watcher time to register
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("targets: [https://b.example.com]\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	timeout := time.After(3 * time.Second)
	for reloaded := false; !reloaded; {
		select {
		case m := <-got:
			// a truncating write can surface as an empty file first
			reloaded = len(m.Targets) == 1 && m.Targets[0].URL == "https://b.example.com"
		case <-timeout:
			t.Fatal("no reload observed")
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Watch: %v", err)
	}
}
