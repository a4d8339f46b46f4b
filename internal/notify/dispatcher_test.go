package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/sitewatch/internal/domain"
)

var errBoom = errors.New("boom")

type recordingNotifier struct {
	mu     sync.Mutex
	n      int
	titles []string
	err    error
}

func (r *recordingNotifier) Send(ctx context.Context, title, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.n++
	r.titles = append(r.titles, title)
	return r.err
}

func testSettings(method domain.NotifyMethod, events ...domain.EventTag) domain.Settings {
	s := domain.DefaultSettings()
	s.NotificationMethod = method
	s.EmailEvents = domain.NewEventSet(events...)
	s.Email.Host = "smtp.example.com"
	s.Email.User = "alerts@example.com"
	s.Email.Password = "secret"
	return s
}

func newTestDispatcher(mail *recordingNotifier) *Dispatcher {
	return NewDispatcher(zap.NewNop(), "mon-test", WithMailer(func(domain.EmailSettings) Notifier { return mail }))
}

var dnsEvent = domain.NotificationEvent{
	Status:    domain.StatusDNSError,
	Target:    "https://example.com",
	Detail:    "DNS Resolution Failed: NXDOMAIN",
	Timestamp: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
}

func TestDispatch_SubscriptionFiltering(t *testing.T) {
	onlineHook, offlineHook := &capture{}, &capture{}
	onlineSrv := captureServer(t, http.StatusOK, onlineHook)
	defer onlineSrv.Close()
	offlineSrv := captureServer(t, http.StatusOK, offlineHook)
	defer offlineSrv.Close()

	subs := []domain.WebhookSubscription{
		{ID: "1", Name: "online-only", URL: onlineSrv.URL, Events: domain.NewEventSet(domain.EventOnline), Active: true},
		{ID: "2", Name: "outages", URL: offlineSrv.URL, Secret: "s", Events: domain.NewEventSet(domain.EventOffline), Active: true},
	}
	d := newTestDispatcher(&recordingNotifier{})
	s := testSettings(domain.NotifyWebhook)

	for _, st := range []domain.StatusKind{domain.StatusDNSError, domain.StatusTimeoutError, domain.StatusConnectionError, domain.StatusStatusError, domain.StatusSSLError} {
		ev := dnsEvent
		ev.Status = st
		if err := d.Dispatch(context.Background(), s, subs, ev); err != nil {
			t.Fatalf("Dispatch %s: %v", st, err)
		}
	}
	if n := len(onlineHook.all()); n != 0 {
		t.Fatalf("online-only subscription received %d outage payloads", n)
	}
	got := offlineHook.all()
	if len(got) != 5 {
		t.Fatalf("offline subscription want 5 payloads, got %d", len(got))
	}
	for _, r := range got {
		if r.signature != Sign("s", r.body) {
			t.Fatal("signature mismatch")
		}
	}
	var p Payload
	if err := json.Unmarshal(got[0].body, &p); err != nil {
		t.Fatal(err)
	}
	if p.Event != "DNS Error" || p.MonitorID != "mon-test" || p.Timestamp != "2025-01-02T03:04:05" {
		t.Fatalf("unexpected payload %+v", p)
	}
}

func TestDispatch_InactiveSubscriptionSkipped(t *testing.T) {
	c := &capture{}
	srv := captureServer(t, http.StatusOK, c)
	defer srv.Close()

	subs := []domain.WebhookSubscription{{Name: "off", URL: srv.URL, Events: domain.AllEvents(), Active: false}}
	if err := newTestDispatcher(&recordingNotifier{}).Dispatch(context.Background(), testSettings(domain.NotifyBoth, domain.EventOffline), subs, dnsEvent); err != nil {
		t.Fatal(err)
	}
	if len(c.all()) != 0 {
		t.Fatal("inactive subscription should not receive payloads")
	}
}

func TestDispatch_MethodGating(t *testing.T) {
	c := &capture{}
	srv := captureServer(t, http.StatusOK, c)
	defer srv.Close()
	subs := []domain.WebhookSubscription{{Name: "all", URL: srv.URL, Events: domain.AllEvents(), Active: true}}

	cases := []struct {
		method    domain.NotifyMethod
		wantMail  int
		wantHooks int
	}{
		{domain.NotifyEmail, 1, 0},
		{domain.NotifyWebhook, 0, 1},
		{domain.NotifyBoth, 1, 1},
		{domain.NotifyNone, 0, 0},
	}
	for _, tc := range cases {
		mail := &recordingNotifier{}
		before := len(c.all())
		err := newTestDispatcher(mail).Dispatch(context.Background(), testSettings(tc.method, domain.EventOffline), subs, dnsEvent)
		if err != nil {
			t.Fatalf("%s: %v", tc.method, err)
		}
		if mail.n != tc.wantMail {
			t.Fatalf("%s: want %d emails, got %d", tc.method, tc.wantMail, mail.n)
		}
		if got := len(c.all()) - before; got != tc.wantHooks {
			t.Fatalf("%s: want %d webhooks, got %d", tc.method, tc.wantHooks, got)
		}
	}
}

func TestDispatch_EmailEventFilter(t *testing.T) {
	mail := &recordingNotifier{}
	d := newTestDispatcher(mail)
	s := testSettings(domain.NotifyEmail, domain.EventOnline)

	if err := d.Dispatch(context.Background(), s, nil, dnsEvent); err != nil {
		t.Fatal(err)
	}
	if mail.n != 0 {
		t.Fatal("email subscribed to online only must not receive DNS Error")
	}

	online := dnsEvent
	online.Status = domain.StatusOnline
	if err := d.Dispatch(context.Background(), s, nil, online); err != nil {
		t.Fatal(err)
	}
	if mail.n != 1 || mail.titles[0] != "Sitewatch: Online - https://example.com" {
		t.Fatalf("unexpected mail: n=%d titles=%v", mail.n, mail.titles)
	}
}

func TestDispatch_ErrorsCombinedAllChannelsTried(t *testing.T) {
	bad := &capture{}
	badSrv := captureServer(t, http.StatusInternalServerError, bad)
	defer badSrv.Close()
	good := &capture{}
	goodSrv := captureServer(t, http.StatusOK, good)
	defer goodSrv.Close()

	mail := &recordingNotifier{err: errBoom}
	subs := []domain.WebhookSubscription{
		{Name: "bad", URL: badSrv.URL, Events: domain.AllEvents(), Active: true},
		{Name: "good", URL: goodSrv.URL, Events: domain.AllEvents(), Active: true},
	}
	err := newTestDispatcher(mail).Dispatch(context.Background(), testSettings(domain.NotifyBoth, domain.EventOffline), subs, dnsEvent)
	if err == nil {
		t.Fatal("expected combined error")
	}
	if !errors.Is(err, errBoom) || !strings.Contains(err.Error(), "webhook bad") {
		t.Fatalf("error should name every failing channel: %v", err)
	}
	if mail.n != 1 || len(bad.all()) != 1 || len(good.all()) != 1 {
		t.Fatal("every channel should be attempted exactly once")
	}
}

func TestDispatch_ChatFollowsEmailFilter(t *testing.T) {
	chat := &recordingNotifier{}
	d := NewDispatcher(zap.NewNop(), "", WithChat(chat, nil), WithMailer(func(domain.EmailSettings) Notifier { return &recordingNotifier{} }))
	if err := d.Dispatch(context.Background(), testSettings(domain.NotifyEmail, domain.EventOffline), nil, dnsEvent); err != nil {
		t.Fatal(err)
	}
	if chat.n != 1 {
		t.Fatalf("chat channel want 1 message, got %d", chat.n)
	}
}

func TestSendTest_MarksPayload(t *testing.T) {
	c := &capture{}
	srv := captureServer(t, http.StatusOK, c)
	defer srv.Close()

	d := newTestDispatcher(&recordingNotifier{})
	if err := d.SendTest(context.Background(), domain.WebhookSubscription{Name: "t", URL: srv.URL, Secret: "k"}); err != nil {
		t.Fatal(err)
	}
	got := c.all()
	var p Payload
	if err := json.Unmarshal(got[0].body, &p); err != nil {
		t.Fatal(err)
	}
	if !p.Test || p.Event != "test" {
		t.Fatalf("test payload not marked: %+v", p)
	}
	if got[0].signature != Sign("k", got[0].body) {
		t.Fatal("test payload should be signed")
	}
}

func TestStatusMessage_CertificateExpiry(t *testing.T) {
	days := 2
	exp := time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC)
	subject, body := StatusMessage(domain.DefaultSettings(), domain.NotificationEvent{
		Status:         domain.StatusSSLExpiration,
		Target:         "https://example.com",
		Timestamp:      exp.Add(-48 * time.Hour),
		DaysRemaining:  &days,
		ExpirationDate: &exp,
	})
	if subject != "Sitewatch: SSL Certificate Expiration Alert for https://example.com" {
		t.Fatalf("subject %q", subject)
	}
	if !strings.Contains(body, "Days Remaining: 2") || !strings.Contains(body, "Expiration Date: 2025-02-03 00:00:00") {
		t.Fatalf("body %q", body)
	}
}
