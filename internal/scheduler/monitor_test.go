package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/sitewatch/internal/certs"
	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/probe"
	"github.com/hamed0406/sitewatch/internal/repo/memory"
)

// --- fakes ---

// scripted returns the queued statuses per target, then repeats the last.
type scripted struct {
	mu    sync.Mutex
	queue map[string][]domain.StatusKind
	calls int
}

func (s *scripted) Probe(ctx context.Context, t domain.Target, p probe.Params) domain.CheckOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	q := s.queue[t.URL]
	st := domain.StatusOnline
	if len(q) > 0 {
		st = q[0]
		if len(q) > 1 {
			s.queue[t.URL] = q[1:]
		}
	}
	return domain.CheckOutcome{Status: st, ResponseTimeMs: 12, Detail: string(st)}
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []domain.NotificationEvent
}

func (r *recordingDispatcher) Dispatch(ctx context.Context, s domain.Settings, subs []domain.WebhookSubscription, ev domain.NotificationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingDispatcher) all() []domain.NotificationEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.NotificationEvent(nil), r.events...)
}

type countingRetainer struct {
	mu   sync.Mutex
	runs []time.Time
}

func (c *countingRetainer) Run(ctx context.Context, s domain.Settings, now time.Time) (domain.PurgeResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs = append(c.runs, now)
	return domain.PurgeResult{}, nil
}

type failingRecorder struct{}

var errDisk = errors.New("disk full")

func (failingRecorder) AppendHistory(ctx context.Context, e domain.HistoryEntry) error { return errDisk }
func (failingRecorder) AppendPerformance(ctx context.Context, s domain.PerformanceSample) error {
	return errDisk
}
func (failingRecorder) RecentHistory(ctx context.Context, target string, limit int) ([]domain.HistoryEntry, error) {
	return nil, errDisk
}

type fixedCerts struct {
	rec   domain.CertificateRecord
	err   error
	calls int
}

func (f *fixedCerts) Evaluate(ctx context.Context, target string, interval, timeout time.Duration, now time.Time) certs.Result {
	f.calls++
	rec := f.rec
	return certs.Result{Record: &rec, Live: true, Err: f.err}
}

func (f *fixedCerts) Forget(keep map[string]struct{}) {}

type chanObserver chan domain.Snapshot

func (c chanObserver) Publish(s domain.Snapshot) {
	select {
	case c <- s:
	default:
	}
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newStore(t *testing.T, targets ...string) *memory.Store {
	t.Helper()
	ctx := context.Background()
	s := memory.New()
	for _, u := range targets {
		if err := s.AddTarget(ctx, domain.Target{URL: u}); err != nil {
			t.Fatal(err)
		}
	}
	st := domain.DefaultSettings()
	st.CheckInterval = 10 * time.Millisecond
	if err := s.SaveSettings(ctx, st); err != nil {
		t.Fatal(err)
	}
	return s
}

// --- tests ---

func TestRunCycle_NotifiesAtThreshold(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, "http://a.example.com")
	prober := &scripted{queue: map[string][]domain.StatusKind{
		"http://a.example.com": {domain.StatusOnline, domain.StatusDNSError, domain.StatusDNSError, domain.StatusOnline},
	}}
	disp := &recordingDispatcher{}
	m := New(Deps{Logger: zap.NewNop(), Config: store, Recorder: store, Prober: prober, Dispatcher: disp})

	for i := 0; i < 2; i++ {
		m.RunCycle(ctx)
	}
	m.Wait()
	if n := len(disp.all()); n != 0 {
		t.Fatalf("no notification expected before the threshold, got %d", n)
	}

	m.RunCycle(ctx)
	m.Wait()
	got := disp.all()
	if len(got) != 1 || got[0].Status != domain.StatusDNSError {
		t.Fatalf("want one DNS Error notification, got %+v", got)
	}

	m.RunCycle(ctx)
	m.Wait()
	got = disp.all()
	if len(got) != 2 || got[1].Status != domain.StatusOnline {
		t.Fatalf("want recovery notification, got %+v", got)
	}

	hist, _ := store.RecentHistory(ctx, "http://a.example.com", 0)
	// first observation plus two notifications
	if len(hist) != 3 {
		t.Fatalf("want 3 history entries, got %d", len(hist))
	}
}

func TestSnapshot_BeforeFirstCycle(t *testing.T) {
	store := newStore(t, "https://b.example.com", "https://a.example.com")
	m := New(Deps{Config: store, Recorder: store, Prober: &scripted{}})

	snap := m.Snapshot(context.Background())
	if len(snap.Rows) != 2 {
		t.Fatalf("rows %+v", snap.Rows)
	}
	for i, want := range []string{"https://b.example.com", "https://a.example.com"} {
		r := snap.Rows[i]
		if r.Target != want || r.Status != domain.StatusNotCheckedYet || r.Detail != "Waiting for first check" || r.LastCheck != "N/A" {
			t.Fatalf("row %d: %+v", i, r)
		}
	}
	if snap.Running {
		t.Fatal("monitor is not running")
	}
}

func TestRunCycle_PublishesAndPrunes(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, "http://a.example.com", "http://b.example.com")
	m := New(Deps{Config: store, Recorder: store, Prober: &scripted{}, Concurrency: 2})
	obs := make(chanObserver, 4)
	m.AddObserver(obs)

	m.RunCycle(ctx)
	snap := <-obs
	if len(snap.Rows) != 2 || snap.Rows[0].Status != domain.StatusOnline || snap.Rows[0].ResponseTimeMs != 12 {
		t.Fatalf("snapshot %+v", snap.Rows)
	}

	if err := store.RemoveTarget(ctx, "http://b.example.com"); err != nil {
		t.Fatal(err)
	}
	m.RunCycle(ctx)
	snap = <-obs
	if len(snap.Rows) != 1 || snap.Rows[0].Target != "http://a.example.com" {
		t.Fatalf("removed target still listed: %+v", snap.Rows)
	}
	if _, ok := m.Tracker().State("http://b.example.com"); ok {
		t.Fatal("state of removed target should be dropped")
	}
}

func TestRunCycle_RetentionOncePerDay(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, "http://a.example.com")
	clk := &clock{t: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)}
	ret := &countingRetainer{}
	m := New(Deps{Config: store, Recorder: store, Prober: &scripted{}, Retention: ret, Now: clk.now})

	m.RunCycle(ctx)
	clk.advance(time.Hour)
	m.RunCycle(ctx)
	clk.advance(23 * time.Hour)
	m.RunCycle(ctx)

	if len(ret.runs) != 2 {
		t.Fatalf("want retention on first cycle and after 24h, got %d runs", len(ret.runs))
	}
}

func TestRunCycle_StorageErrorsDoNotAbort(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, "http://a.example.com")
	settings, _ := store.LoadSettings(ctx)
	settings.ConsecutiveChecks = 1
	_ = store.SaveSettings(ctx, settings)

	prober := &scripted{queue: map[string][]domain.StatusKind{"http://a.example.com": {domain.StatusTimeoutError}}}
	disp := &recordingDispatcher{}
	m := New(Deps{Config: store, Recorder: failingRecorder{}, Prober: prober, Dispatcher: disp})

	m.RunCycle(ctx)
	m.Wait()
	if got := disp.all(); len(got) != 1 || got[0].Status != domain.StatusTimeoutError {
		t.Fatalf("notification should still be sent, got %+v", got)
	}
	if snap := m.Snapshot(ctx); snap.Rows[0].Status != domain.StatusTimeoutError {
		t.Fatalf("snapshot %+v", snap.Rows)
	}
}

func TestRunCycle_CertificateExpiryOncePerWindow(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, "https://a.example.com", "http://plain.example.com")
	clk := &clock{t: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)}
	cs := &fixedCerts{rec: domain.CertificateRecord{Target: "https://a.example.com", ValidTo: clk.t.Add(36 * time.Hour), Issuer: "Test CA"}}
	disp := &recordingDispatcher{}
	m := New(Deps{Config: store, Recorder: store, Prober: &scripted{}, Certs: cs, Dispatcher: disp, Now: clk.now})

	m.RunCycle(ctx)
	clk.advance(time.Minute)
	m.RunCycle(ctx)
	m.Wait()

	if cs.calls != 2 {
		t.Fatalf("certificates evaluated for https targets only; calls=%d", cs.calls)
	}
	var expiry []domain.NotificationEvent
	for _, ev := range disp.all() {
		if ev.Status == domain.StatusSSLExpiration {
			expiry = append(expiry, ev)
		}
	}
	if len(expiry) != 1 || *expiry[0].DaysRemaining != 1 {
		t.Fatalf("want one expiry alert with 1 day left, got %+v", expiry)
	}
	row := m.Snapshot(ctx).Rows[0]
	if row.Certificate == nil || row.Certificate.Issuer != "Test CA" {
		t.Fatalf("certificate dimension missing: %+v", row)
	}

	hist, _ := store.RecentHistory(ctx, "https://a.example.com", 0)
	var recorded []domain.HistoryEntry
	for _, h := range hist {
		if h.Status == domain.StatusSSLExpiration {
			recorded = append(recorded, h)
		}
	}
	if len(recorded) != 1 || recorded[0].Detail != "SSL certificate expires in 1 days" {
		t.Fatalf("want one expiry history entry, got %+v", recorded)
	}
}

func TestRunCycle_HistoryKeepsNotifiedDetail(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, "http://a.example.com")
	outcomes := []domain.CheckOutcome{
		{Status: domain.StatusContentError, Detail: "Expected text 'Welcome' not found in response", MatchedText: "Welcome"},
		{Status: domain.StatusContentError, Detail: "Expected text 'Welcome' not found in response", MatchedText: "Welcome"},
		{Status: domain.StatusOnline, Detail: "Status Code: 200", MatchedText: "Welcome"},
	}
	var mu sync.Mutex
	prober := probe.ProberFunc(func(ctx context.Context, t domain.Target, p probe.Params) domain.CheckOutcome {
		mu.Lock()
		defer mu.Unlock()
		out := outcomes[0]
		if len(outcomes) > 1 {
			outcomes = outcomes[1:]
		}
		return out
	})
	disp := &recordingDispatcher{}
	m := New(Deps{Config: store, Recorder: store, Prober: prober, Dispatcher: disp})

	for i := 0; i < 3; i++ {
		m.RunCycle(ctx)
	}
	m.Wait()

	got := disp.all()
	if len(got) != 2 || got[1].Detail != "Expected text 'Welcome' is back" {
		t.Fatalf("unexpected notifications %+v", got)
	}
	hist, _ := store.RecentHistory(ctx, "http://a.example.com", 1)
	if len(hist) != 1 || hist[0].Status != domain.StatusOnline || hist[0].Detail != "Expected text 'Welcome' is back" {
		t.Fatalf("history should record the notified detail, got %+v", hist)
	}
}

// gatedDispatcher holds DNS Error sends until release is closed.
type gatedDispatcher struct {
	recordingDispatcher
	release chan struct{}
}

func (g *gatedDispatcher) Dispatch(ctx context.Context, s domain.Settings, subs []domain.WebhookSubscription, ev domain.NotificationEvent) error {
	if ev.Status == domain.StatusDNSError {
		<-g.release
	}
	return g.recordingDispatcher.Dispatch(ctx, s, subs, ev)
}

func TestDispatch_OrderedPerTarget(t *testing.T) {
	ctx := context.Background()
	disp := &gatedDispatcher{release: make(chan struct{})}
	m := New(Deps{Config: memory.New(), Recorder: memory.New(), Prober: &scripted{}, Dispatcher: disp})
	s := domain.DefaultSettings()

	m.dispatch(ctx, s, nil, domain.NotificationEvent{Status: domain.StatusDNSError, Target: "https://a.example.com"})
	m.dispatch(ctx, s, nil, domain.NotificationEvent{Status: domain.StatusOnline, Target: "https://a.example.com"})
	m.dispatch(ctx, s, nil, domain.NotificationEvent{Status: domain.StatusOnline, Target: "https://b.example.com"})

	// another target is not held up by a slow send
	deadline := time.Now().Add(3 * time.Second)
	for len(disp.all()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("send for b.example.com never delivered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if got := disp.all(); len(got) != 1 || got[0].Target != "https://b.example.com" {
		t.Fatalf("recovery must wait for the outage send, got %+v", got)
	}

	close(disp.release)
	m.Wait()
	got := disp.all()
	if len(got) != 3 || got[1].Status != domain.StatusDNSError || got[2].Status != domain.StatusOnline {
		t.Fatalf("want outage before recovery, got %+v", got)
	}
	if len(m.sendTail) != 0 {
		t.Fatalf("send queue not drained: %d", len(m.sendTail))
	}
}

func TestRunCycle_CertificateFailureKeepsHTTPStatus(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, "https://a.example.com")
	cs := &fixedCerts{
		rec: domain.CertificateRecord{Target: "https://a.example.com", ValidTo: time.Now().Add(90 * 24 * time.Hour)},
		err: errors.New("handshake failed"),
	}
	m := New(Deps{Config: store, Recorder: store, Prober: &scripted{}, Certs: cs})

	m.RunCycle(ctx)
	row := m.Snapshot(ctx).Rows[0]
	if row.Status != domain.StatusOnline {
		t.Fatalf("certificate failure must not change the HTTP status, got %s", row.Status)
	}
	if row.Certificate == nil || row.Certificate.Error == "" || row.Certificate.DaysRemaining < 80 {
		t.Fatalf("want stale certificate with error, got %+v", row.Certificate)
	}
}

func TestStartStop_Idempotent(t *testing.T) {
	store := newStore(t, "http://a.example.com")
	m := New(Deps{Config: store, Recorder: store, Prober: &scripted{}})
	obs := make(chanObserver, 1)
	m.AddObserver(obs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !m.Start(ctx) {
		t.Fatal("first Start should start the loop")
	}
	if m.Start(ctx) {
		t.Fatal("second Start should be a no-op")
	}
	if !m.IsRunning() {
		t.Fatal("IsRunning should be true")
	}

	select {
	case <-obs:
	case <-time.After(2 * time.Second):
		t.Fatal("no cycle observed")
	}

	if !m.Stop() {
		t.Fatal("first Stop should stop the loop")
	}
	if m.Stop() {
		t.Fatal("second Stop should be a no-op")
	}
	m.Wait()
	if m.IsRunning() {
		t.Fatal("IsRunning should be false after Stop")
	}

	// restart after a stop
	if !m.Start(ctx) {
		t.Fatal("Start after Stop should start again")
	}
	cancel()
	m.Wait()
	if m.IsRunning() {
		t.Fatal("cancelled context should end the loop")
	}
}
