package domain

import (
	"math"
	"net/url"
	"time"
)

// Target is a monitored endpoint. URL is canonical and is the identity.
type Target struct {
	URL             string `json:"url" yaml:"url"`
	ExpectedContent string `json:"expected,omitempty" yaml:"expected,omitempty"`
}

// Secure reports whether the target is served over TLS.
func (t Target) Secure() bool {
	u, err := url.Parse(t.URL)
	return err == nil && u.Scheme == "https"
}

// CheckOutcome is the result of one probe. MatchedText carries the expected
// content for content errors.
type CheckOutcome struct {
	Status         StatusKind `json:"status"`
	ResponseTimeMs int64      `json:"responseTimeMs"`
	Detail         string     `json:"detail"`
	MatchedText    string     `json:"matchedText,omitempty"`
}

// TargetState is the tracker's per-target record.
type TargetState struct {
	CurrentStatus           StatusKind
	ResponseTimeMs          int64
	Detail                  string
	LastCheckTime           time.Time
	ConsecutiveFailures     int
	LastNotifiedStatus      *StatusKind
	LastSSLNotificationTime *time.Time
	ExpectedContent         string
	Certificate             *CertificateStatus
}

// CertificateStatus is the certificate dimension shown next to the HTTP
// status.
type CertificateStatus struct {
	DaysRemaining int       `json:"daysRemaining"`
	ValidTo       time.Time `json:"validTo"`
	Issuer        string    `json:"issuer,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// CertificateRecord is the last known certificate of a target.
type CertificateRecord struct {
	Target      string    `json:"target"`
	ValidFrom   time.Time `json:"validFrom"`
	ValidTo     time.Time `json:"validTo"`
	Issuer      string    `json:"issuer"`
	LastChecked time.Time `json:"lastChecked"`
}

// DaysRemaining is the number of whole days until expiry, negative once
// expired.
func (c CertificateRecord) DaysRemaining(now time.Time) int {
	return int(math.Floor(c.ValidTo.Sub(now).Hours() / 24))
}

// WebhookSubscription is a webhook endpoint and the events it receives.
type WebhookSubscription struct {
	ID     string   `json:"id" yaml:"id"`
	Name   string   `json:"name" yaml:"name"`
	URL    string   `json:"url" yaml:"url"`
	Secret string   `json:"-" yaml:"secret"`
	Events EventSet `json:"events" yaml:"-"`
	Active bool     `json:"active" yaml:"active"`
}

// NotificationEvent is what the dispatcher delivers. DaysRemaining and
// ExpirationDate are set only for certificate expiry.
type NotificationEvent struct {
	Status         StatusKind
	Target         string
	ResponseTimeMs int64
	Detail         string
	Timestamp      time.Time
	DaysRemaining  *int
	ExpirationDate *time.Time
	Test           bool
}

// StatusRow is one line of the published snapshot.
type StatusRow struct {
	Target         string             `json:"target"`
	Status         StatusKind         `json:"status"`
	ResponseTimeMs int64              `json:"responseTimeMs"`
	Detail         string             `json:"detail"`
	LastCheck      string             `json:"lastCheck"`
	Certificate    *CertificateStatus `json:"certificate,omitempty"`
}

// Snapshot is the immutable aggregate view published after every cycle.
type Snapshot struct {
	Rows        []StatusRow `json:"rows"`
	GeneratedAt time.Time   `json:"generatedAt"`
	Running     bool        `json:"running"`
}

// HistoryEntry records a status event that was (or would have been) notified.
type HistoryEntry struct {
	ID             string     `json:"id"`
	Target         string     `json:"target"`
	Status         StatusKind `json:"status"`
	ResponseTimeMs int64      `json:"responseTimeMs"`
	Detail         string     `json:"detail"`
	Timestamp      time.Time  `json:"timestamp"`
}

// PerformanceSample is one point of the response time series.
type PerformanceSample struct {
	Target         string     `json:"target"`
	Status         StatusKind `json:"status"`
	ResponseTimeMs int64      `json:"responseTimeMs"`
	Timestamp      time.Time  `json:"timestamp"`
}

// AuthAttempt is one API key check, kept for the security log.
type AuthAttempt struct {
	RemoteAddr string
	Path       string
	Success    bool
	Timestamp  time.Time
}

// PurgeCutoffs holds the oldest timestamp kept per table.
type PurgeCutoffs struct {
	Performance  time.Time
	History      time.Time
	AuthAttempts time.Time
}

// PurgeResult counts deleted rows per table.
type PurgeResult struct {
	Performance  int64 `json:"performance"`
	History      int64 `json:"history"`
	Certificates int64 `json:"certificates"`
	AuthAttempts int64 `json:"authAttempts"`
}

func (r PurgeResult) Total() int64 {
	return r.Performance + r.History + r.Certificates + r.AuthAttempts
}
