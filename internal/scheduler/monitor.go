package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hamed0406/sitewatch/internal/certs"
	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/metrics"
	"github.com/hamed0406/sitewatch/internal/probe"
	"github.com/hamed0406/sitewatch/internal/repo"
	"github.com/hamed0406/sitewatch/internal/tracker"
)

// CleanupEvery is how often retention runs from the loop.
const CleanupEvery = 24 * time.Hour

const dispatchTimeout = 2 * time.Minute

// Dispatcher delivers one notification event.
type Dispatcher interface {
	Dispatch(ctx context.Context, s domain.Settings, subs []domain.WebhookSubscription, ev domain.NotificationEvent) error
}

// Retainer purges old rows.
type Retainer interface {
	Run(ctx context.Context, s domain.Settings, now time.Time) (domain.PurgeResult, error)
}

// CertificateSource is the cadence-gated certificate view.
type CertificateSource interface {
	Evaluate(ctx context.Context, target string, interval, timeout time.Duration, now time.Time) certs.Result
	Forget(keep map[string]struct{})
}

// Observer receives every published snapshot. Publish must not block.
type Observer interface {
	Publish(domain.Snapshot)
}

// Deps are the collaborators of a Monitor. Certs, Dispatcher and Retention
// are optional.
type Deps struct {
	Logger      *zap.Logger
	Config      repo.ConfigSource
	Recorder    repo.Recorder
	Prober      probe.Prober
	Certs       CertificateSource
	Tracker     *tracker.Tracker
	Dispatcher  Dispatcher
	Retention   Retainer
	Concurrency int
	Now         func() time.Time
}

// Monitor runs the monitoring loop: one cycle per check interval.
type Monitor struct {
	logger      *zap.Logger
	config      repo.ConfigSource
	recorder    repo.Recorder
	prober      probe.Prober
	certs       CertificateSource
	tracker     *tracker.Tracker
	dispatcher  Dispatcher
	retention   Retainer
	concurrency int
	now         func() time.Time

	mu        sync.Mutex
	running   bool
	stop      chan struct{}
	done      chan struct{}
	observers []Observer

	cycleMu     sync.Mutex // one cycle at a time
	lastCleanup time.Time
	settings    domain.Settings
	targets     []domain.Target
	subs        []domain.WebhookSubscription

	snapshot atomic.Pointer[domain.Snapshot]
	sends    sync.WaitGroup
	sendMu   sync.Mutex
	sendTail map[string]chan struct{} // last queued send per target
}

func New(d Deps) *Monitor {
	if d.Concurrency < 1 {
		d.Concurrency = 1
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Tracker == nil {
		d.Tracker = tracker.New()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Monitor{
		logger:      d.Logger,
		config:      d.Config,
		recorder:    d.Recorder,
		prober:      d.Prober,
		certs:       d.Certs,
		tracker:     d.Tracker,
		dispatcher:  d.Dispatcher,
		retention:   d.Retention,
		concurrency: d.Concurrency,
		now:         d.Now,
		settings:    domain.DefaultSettings(),
		sendTail:    make(map[string]chan struct{}),
	}
}

// AddObserver registers o for future snapshots.
func (m *Monitor) AddObserver(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

// Start launches the loop. It returns false if the loop is already running.
func (m *Monitor) Start(ctx context.Context) bool {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return false
	}
	m.running = true
	prev := m.done
	stop := make(chan struct{})
	done := make(chan struct{})
	m.stop, m.done = stop, done
	m.mu.Unlock()

	metrics.MonitorRunning.Set(1)
	m.logger.Info("monitor_started")
	go m.loop(ctx, stop, prev, done)
	return true
}

// Stop asks the loop to exit before its next cycle. A cycle in flight runs
// to completion. It returns false if the loop was not running.
func (m *Monitor) Stop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return false
	}
	m.running = false
	close(m.stop)
	metrics.MonitorRunning.Set(0)
	m.logger.Info("monitor_stop_requested")
	return true
}

func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Wait blocks until the loop has exited and queued notifications are sent.
func (m *Monitor) Wait() {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done != nil {
		<-done
	}
	m.sends.Wait()
}

func (m *Monitor) loop(ctx context.Context, stop, prev, done chan struct{}) {
	defer close(done)
	defer func() {
		m.mu.Lock()
		if m.stop == stop && m.running {
			// ctx cancelled without Stop
			m.running = false
			metrics.MonitorRunning.Set(0)
		}
		m.mu.Unlock()
		m.logger.Info("monitor_stopped")
	}()

	// a restarted loop must not overlap the previous one
	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return
		}
	}

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		interval := m.RunCycle(ctx)

		t := time.NewTimer(interval)
		select {
		case <-stop:
			t.Stop()
			return
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// RunCycle performs one full monitoring pass and returns the interval to
// wait before the next one.
func (m *Monitor) RunCycle(ctx context.Context) time.Duration {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	start := m.now()
	settings, targets, subs := m.loadConfig(ctx)

	if m.retention != nil && (m.lastCleanup.IsZero() || start.Sub(m.lastCleanup) >= CleanupEvery) {
		m.lastCleanup = start
		if _, err := m.retention.Run(ctx, settings, start); err != nil {
			m.logger.Warn("cycle_retention_failed", zap.Error(err))
		}
	}

	params := probe.ParamsFrom(settings)
	var g errgroup.Group
	g.SetLimit(m.concurrency)
	for _, t := range targets {
		t := t
		g.Go(func() error {
			m.checkTarget(ctx, t, settings, subs, params)
			return nil
		})
	}
	_ = g.Wait()

	keep := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		keep[t.URL] = struct{}{}
	}
	if n := m.tracker.Prune(targets); n > 0 {
		m.logger.Info("targets_pruned", zap.Int("count", n))
	}
	if m.certs != nil {
		m.certs.Forget(keep)
	}

	m.publish(domain.Snapshot{
		Rows:        m.tracker.Snapshot(targets, settings.TimeFormat),
		GeneratedAt: m.now(),
		Running:     m.IsRunning(),
	})

	elapsed := m.now().Sub(start)
	metrics.CycleDuration.Observe(elapsed.Seconds())
	m.logger.Info("cycle_completed",
		zap.Int("targets", len(targets)),
		zap.Duration("elapsed", elapsed),
	)
	return settings.CheckInterval
}

// loadConfig reads the boundary configuration. On a storage error the
// previous cycle's values are kept.
func (m *Monitor) loadConfig(ctx context.Context) (domain.Settings, []domain.Target, []domain.WebhookSubscription) {
	if s, err := m.config.LoadSettings(ctx); err != nil {
		m.logger.Warn("load_settings_failed", zap.Error(err))
	} else {
		m.settings = s.WithDefaults()
	}
	if ts, err := m.config.LoadTargets(ctx); err != nil {
		m.logger.Warn("load_targets_failed", zap.Error(err))
	} else {
		m.targets = ts
	}
	if subs, err := m.config.LoadSubscriptions(ctx); err != nil {
		m.logger.Warn("load_subscriptions_failed", zap.Error(err))
	} else {
		m.subs = subs
	}
	return m.settings, m.targets, m.subs
}

func (m *Monitor) checkTarget(ctx context.Context, t domain.Target, s domain.Settings, subs []domain.WebhookSubscription, p probe.Params) {
	out := m.prober.Probe(ctx, t, p)
	now := m.now()

	metrics.ProbesTotal.WithLabelValues(string(out.Status)).Inc()
	metrics.ProbeDuration.WithLabelValues(string(out.Status)).Observe(float64(out.ResponseTimeMs) / 1000)
	m.logger.Debug("probe_done",
		zap.String("target", t.URL),
		zap.String("status", string(out.Status)),
		zap.Int64("response_time_ms", out.ResponseTimeMs),
		zap.String("detail", out.Detail),
	)

	if err := m.recorder.AppendPerformance(ctx, domain.PerformanceSample{
		Target:         t.URL,
		Status:         out.Status,
		ResponseTimeMs: out.ResponseTimeMs,
		Timestamp:      now,
	}); err != nil {
		m.logger.Warn("append_performance_failed", zap.String("target", t.URL), zap.Error(err))
	}

	d := m.tracker.Observe(t, out, s.ConsecutiveChecks, now)
	if d.FirstObservation || d.Notify {
		detail := out.Detail
		if d.Notify {
			// history keeps what was sent, e.g. the content restored text
			detail = d.Event.Detail
		}
		m.appendHistory(ctx, domain.HistoryEntry{
			Target:         t.URL,
			Status:         out.Status,
			ResponseTimeMs: out.ResponseTimeMs,
			Detail:         detail,
			Timestamp:      now,
		})
	}
	if d.Notify {
		m.logger.Info("status_notify",
			zap.String("target", t.URL),
			zap.String("previous", string(d.Previous)),
			zap.String("status", string(d.Current)),
			zap.Stringer("condition", d.Condition),
			zap.Int("consecutive_failures", d.ConsecutiveFailures),
		)
		m.dispatch(ctx, s, subs, d.Event)
	}

	if m.certs != nil && t.Secure() {
		m.checkCertificate(ctx, t.URL, s, subs, now)
	}
}

func (m *Monitor) checkCertificate(ctx context.Context, target string, s domain.Settings, subs []domain.WebhookSubscription, now time.Time) {
	res := m.certs.Evaluate(ctx, target, s.SSLCheckInterval, s.SSLTimeout, now)
	if res.Record != nil {
		metrics.CertificateDaysRemaining.WithLabelValues(target).Set(float64(res.Record.DaysRemaining(now)))
		if ev, due := m.tracker.ObserveCertificate(target, *res.Record, now); due {
			m.logger.Info("certificate_expiry_notify",
				zap.String("target", target),
				zap.Int("days_remaining", *ev.DaysRemaining),
			)
			m.appendHistory(ctx, domain.HistoryEntry{
				Target:    target,
				Status:    domain.StatusSSLExpiration,
				Detail:    ev.Detail,
				Timestamp: now,
			})
			m.dispatch(ctx, s, subs, ev)
		}
	}
	if res.Err != nil {
		m.logger.Warn("certificate_check_failed", zap.String("target", target), zap.Error(res.Err))
		m.tracker.CertificateFailed(target, res.Err)
	}
}

func (m *Monitor) appendHistory(ctx context.Context, e domain.HistoryEntry) {
	if err := m.recorder.AppendHistory(ctx, e); err != nil {
		m.logger.Warn("append_history_failed",
			zap.String("target", e.Target),
			zap.String("status", string(e.Status)),
			zap.Error(err),
		)
	}
}

// dispatch sends ev without blocking the cycle. Sends for one target are
// delivered in the order they were queued. Failures are logged only.
func (m *Monitor) dispatch(ctx context.Context, s domain.Settings, subs []domain.WebhookSubscription, ev domain.NotificationEvent) {
	if m.dispatcher == nil {
		return
	}
	done := make(chan struct{})
	m.sendMu.Lock()
	prev := m.sendTail[ev.Target]
	m.sendTail[ev.Target] = done
	m.sendMu.Unlock()

	m.sends.Add(1)
	go func() {
		defer m.sends.Done()
		defer func() {
			close(done)
			m.sendMu.Lock()
			if m.sendTail[ev.Target] == done {
				delete(m.sendTail, ev.Target)
			}
			m.sendMu.Unlock()
		}()
		if prev != nil {
			<-prev
		}
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dispatchTimeout)
		defer cancel()
		if err := m.dispatcher.Dispatch(dctx, s, subs, ev); err != nil {
			m.logger.Warn("dispatch_failed",
				zap.String("target", ev.Target),
				zap.String("status", string(ev.Status)),
				zap.Error(err),
			)
		}
	}()
}

func (m *Monitor) publish(snap domain.Snapshot) {
	m.snapshot.Store(&snap)
	m.mu.Lock()
	obs := append([]Observer(nil), m.observers...)
	m.mu.Unlock()
	for _, o := range obs {
		o.Publish(snap)
	}
}

// Snapshot returns the last published snapshot. Before the first cycle it
// lists the configured targets as not checked yet.
func (m *Monitor) Snapshot(ctx context.Context) domain.Snapshot {
	if p := m.snapshot.Load(); p != nil {
		snap := *p
		snap.Running = m.IsRunning()
		return snap
	}
	targets, err := m.config.LoadTargets(ctx)
	if err != nil {
		m.logger.Warn("load_targets_failed", zap.Error(err))
	}
	layout := domain.DefaultTimeFormat
	if s, err := m.config.LoadSettings(ctx); err == nil && s.TimeFormat != "" {
		layout = s.TimeFormat
	}
	return domain.Snapshot{
		Rows:        m.tracker.Snapshot(targets, layout),
		GeneratedAt: m.now(),
		Running:     m.IsRunning(),
	}
}

// RunRetention purges old rows now, outside the daily schedule.
func (m *Monitor) RunRetention(ctx context.Context) (domain.PurgeResult, error) {
	if m.retention == nil {
		return domain.PurgeResult{}, nil
	}
	s, err := m.config.LoadSettings(ctx)
	if err != nil {
		s = domain.DefaultSettings()
	}
	return m.retention.Run(ctx, s.WithDefaults(), m.now())
}

// Tracker exposes the status tracker for read-only queries.
func (m *Monitor) Tracker() *tracker.Tracker { return m.tracker }
