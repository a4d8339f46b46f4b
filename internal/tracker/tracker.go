// Package tracker owns per-target health state and decides when a status
// change is worth a notification.
package tracker

import (
	"fmt"
	"sync"
	"time"

	"github.com/hamed0406/sitewatch/internal/domain"
)

// Condition names the rule that triggered a notification.
type Condition int

const (
	NoCondition    Condition = iota
	ChangedAtLimit           // status changed and failures reached the threshold
	FirstFailure             // left Online and failures reached the threshold
	ThresholdHit             // failures reached the threshold exactly this cycle
	Recovered                // back Online after a failure
)

func (c Condition) String() string {
	switch c {
	case ChangedAtLimit:
		return "changed"
	case FirstFailure:
		return "first_failure"
	case ThresholdHit:
		return "threshold"
	case Recovered:
		return "recovered"
	}
	return "none"
}

// SSLAlertDays is the days-remaining level at which expiry is alerted.
const SSLAlertDays = 2

// SSLAlertWindow is the minimum spacing of expiry alerts per target.
const SSLAlertWindow = 24 * time.Hour

// Decision is the result of feeding one outcome to the tracker.
type Decision struct {
	Previous            domain.StatusKind
	Current             domain.StatusKind
	ConsecutiveFailures int
	FirstObservation    bool
	Notify              bool
	Condition           Condition
	Event               domain.NotificationEvent
}

// Tracker holds the state of every target. All methods are safe for
// concurrent use; updates to one target are serialized by the mutex.
type Tracker struct {
	mu     sync.Mutex
	states map[string]*domain.TargetState
}

func New() *Tracker {
	return &Tracker{states: make(map[string]*domain.TargetState)}
}

// Observe records outcome for target and evaluates the notify conditions.
func (t *Tracker) Observe(target domain.Target, out domain.CheckOutcome, threshold int, now time.Time) Decision {
	if threshold < 1 {
		threshold = 1
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.states[target.URL]
	if !ok {
		st = &domain.TargetState{CurrentStatus: domain.StatusNotCheckedYet}
		t.states[target.URL] = st
	}
	prev := st.CurrentStatus
	prevExpected := st.ExpectedContent

	st.CurrentStatus = out.Status
	st.ResponseTimeMs = out.ResponseTimeMs
	st.Detail = out.Detail
	st.LastCheckTime = now
	if out.Status.IsOnline() {
		st.ConsecutiveFailures = 0
	} else {
		st.ConsecutiveFailures++
	}
	if out.Status == domain.StatusContentError {
		st.ExpectedContent = out.MatchedText
	} else if target.ExpectedContent != "" {
		st.ExpectedContent = target.ExpectedContent
	}

	d := Decision{
		Previous:            prev,
		Current:             out.Status,
		ConsecutiveFailures: st.ConsecutiveFailures,
		FirstObservation:    !ok,
	}
	d.Condition = evaluate(prev, out.Status, st.ConsecutiveFailures, threshold, st.LastNotifiedStatus)
	if d.Condition == NoCondition {
		return d
	}

	detail := out.Detail
	if d.Condition == Recovered && prev == domain.StatusContentError {
		if text := firstNonEmpty(prevExpected, target.ExpectedContent); text != "" {
			detail = fmt.Sprintf("Expected text '%s' is back", text)
		}
	}
	d.Notify = true
	d.Event = domain.NotificationEvent{
		Status:         out.Status,
		Target:         target.URL,
		ResponseTimeMs: out.ResponseTimeMs,
		Detail:         detail,
		Timestamp:      now,
	}
	notified := out.Status
	st.LastNotifiedStatus = &notified
	return d
}

// evaluate applies the four rules in order; the first match wins. prev is
// NotCheckedYet on the first observation, which counts as a change for the
// first rule only.
func evaluate(prev, cur domain.StatusKind, failures, threshold int, lastNotified *domain.StatusKind) Condition {
	failing := !cur.IsOnline()
	switch {
	case cur != prev && failures >= threshold:
		return ChangedAtLimit
	case failing && failures >= threshold && prev.IsOnline():
		return FirstFailure
	case failing && failures == threshold && (lastNotified == nil || *lastNotified != cur):
		return ThresholdHit
	case cur.IsOnline() && prev.Failing():
		return Recovered
	}
	return NoCondition
}

// ObserveCertificate updates the certificate dimension of target and returns
// an expiry event when one is due. Expiry alerts fire at most once per
// SSLAlertWindow per target, independently of status notifications.
func (t *Tracker) ObserveCertificate(target string, rec domain.CertificateRecord, now time.Time) (domain.NotificationEvent, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.states[target]
	if !ok {
		st = &domain.TargetState{CurrentStatus: domain.StatusNotCheckedYet}
		t.states[target] = st
	}
	days := rec.DaysRemaining(now)
	st.Certificate = &domain.CertificateStatus{
		DaysRemaining: days,
		ValidTo:       rec.ValidTo,
		Issuer:        rec.Issuer,
	}

	if days > SSLAlertDays {
		return domain.NotificationEvent{}, false
	}
	if last := st.LastSSLNotificationTime; last != nil && now.Sub(*last) < SSLAlertWindow {
		return domain.NotificationEvent{}, false
	}
	sent := now
	st.LastSSLNotificationTime = &sent

	validTo := rec.ValidTo
	return domain.NotificationEvent{
		Status:         domain.StatusSSLExpiration,
		Target:         target,
		Detail:         fmt.Sprintf("SSL certificate expires in %d days", days),
		Timestamp:      now,
		DaysRemaining:  &days,
		ExpirationDate: &validTo,
	}, true
}

// CertificateFailed marks the certificate dimension as failing while keeping
// the last known validity.
func (t *Tracker) CertificateFailed(target string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[target]
	if !ok {
		return
	}
	if st.Certificate == nil {
		st.Certificate = &domain.CertificateStatus{}
	} else {
		c := *st.Certificate
		st.Certificate = &c
	}
	st.Certificate.Error = string(domain.StatusSSLError) + ": " + err.Error()
}

// Prune destroys the state of targets that are no longer configured.
func (t *Tracker) Prune(targets []domain.Target) int {
	keep := make(map[string]struct{}, len(targets))
	for _, tg := range targets {
		keep[tg.URL] = struct{}{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for url := range t.states {
		if _, ok := keep[url]; !ok {
			delete(t.states, url)
			n++
		}
	}
	return n
}

// State returns a copy of the state of target.
func (t *Tracker) State(target string) (domain.TargetState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[target]
	if !ok {
		return domain.TargetState{}, false
	}
	return copyState(st), true
}

// Snapshot builds the ordered status list for targets. Targets without state
// are reported as not checked yet.
func (t *Tracker) Snapshot(targets []domain.Target, layout string) []domain.StatusRow {
	if layout == "" {
		layout = domain.DefaultTimeFormat
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	rows := make([]domain.StatusRow, 0, len(targets))
	for _, tg := range targets {
		st, ok := t.states[tg.URL]
		if !ok || !st.CurrentStatus.Known() {
			row := domain.StatusRow{
				Target:    tg.URL,
				Status:    domain.StatusNotCheckedYet,
				Detail:    "Waiting for first check",
				LastCheck: "N/A",
			}
			if ok && st.Certificate != nil {
				c := *st.Certificate
				row.Certificate = &c
			}
			rows = append(rows, row)
			continue
		}
		row := domain.StatusRow{
			Target:         tg.URL,
			Status:         st.CurrentStatus,
			ResponseTimeMs: st.ResponseTimeMs,
			Detail:         st.Detail,
			LastCheck:      st.LastCheckTime.Format(layout),
		}
		if st.Certificate != nil {
			c := *st.Certificate
			row.Certificate = &c
		}
		rows = append(rows, row)
	}
	return rows
}

func copyState(st *domain.TargetState) domain.TargetState {
	out := *st
	if st.LastNotifiedStatus != nil {
		v := *st.LastNotifiedStatus
		out.LastNotifiedStatus = &v
	}
	if st.LastSSLNotificationTime != nil {
		v := *st.LastSSLNotificationTime
		out.LastSSLNotificationTime = &v
	}
	if st.Certificate != nil {
		v := *st.Certificate
		out.Certificate = &v
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
