package domain

import (
	"fmt"
	"time"
)

// NotifyMethod selects which channels receive alerts.
type NotifyMethod string

const (
	NotifyEmail   NotifyMethod = "email"
	NotifyWebhook NotifyMethod = "webhook"
	NotifyBoth    NotifyMethod = "both"
	NotifyNone    NotifyMethod = "none"
)

func (m NotifyMethod) Email() bool   { return m == NotifyEmail || m == NotifyBoth }
func (m NotifyMethod) Webhook() bool { return m == NotifyWebhook || m == NotifyBoth }

// SMTP connection security.
const (
	SecurityTLS  = "tls" // STARTTLS
	SecuritySSL  = "ssl" // implicit TLS
	SecurityNone = "none"
)

// EmailSettings configures the SMTP channel.
type EmailSettings struct {
	Host          string `json:"host" yaml:"host"`
	Port          int    `json:"port" yaml:"port"`
	User          string `json:"user" yaml:"user"`
	Password      string `json:"password" yaml:"password"`
	Security      string `json:"security" yaml:"security"`
	Recipient     string `json:"recipient" yaml:"recipient"`
	FromName      string `json:"fromName" yaml:"from_name"`
	SubjectPrefix string `json:"subjectPrefix" yaml:"subject_prefix"`
}

// Configured reports whether enough is set to attempt delivery.
func (e EmailSettings) Configured() bool {
	return e.Host != "" && e.User != "" && e.Password != ""
}

// To returns the recipient, falling back to the login user.
func (e EmailSettings) To() string {
	if e.Recipient != "" {
		return e.Recipient
	}
	return e.User
}

// Settings are the monitoring knobs read at the start of every cycle.
type Settings struct {
	CheckInterval          time.Duration `json:"checkInterval" yaml:"check_interval"`
	Timeout                time.Duration `json:"timeout" yaml:"timeout"`
	ExpectedStatus         int           `json:"expectedStatus" yaml:"expected_status"`
	PerformanceThresholdMs int64         `json:"performanceThresholdMs" yaml:"performance_threshold_ms"`
	ConsecutiveChecks      int           `json:"consecutiveChecks" yaml:"consecutive_checks"`
	SSLCheckInterval       time.Duration `json:"sslCheckInterval" yaml:"ssl_check_interval"`
	SSLTimeout             time.Duration `json:"sslTimeout" yaml:"ssl_timeout"`
	NotificationMethod     NotifyMethod  `json:"notificationMethod" yaml:"notification_method"`
	Email                  EmailSettings `json:"email" yaml:"email"`
	EmailEvents            EventSet      `json:"emailEvents" yaml:"-"`
	TimeFormat             string        `json:"timeFormat" yaml:"time_format"`
	RetentionDays          int           `json:"retentionDays" yaml:"retention_days"`
	AuthRetentionDays      int           `json:"authRetentionDays" yaml:"auth_retention_days"`
}

const (
	DefaultCheckInterval          = 60 * time.Second
	DefaultTimeout                = 5 * time.Second
	DefaultExpectedStatus         = 200
	DefaultPerformanceThresholdMs = 1000
	DefaultConsecutiveChecks      = 2
	DefaultSSLCheckInterval       = time.Hour
	DefaultSMTPPort               = 587
	DefaultSubjectPrefix          = "Sitewatch:"
	DefaultTimeFormat             = "2006-01-02 15:04:05"
	DefaultRetentionDays          = 90
	DefaultAuthRetentionDays      = 30
)

func DefaultSettings() Settings {
	return Settings{
		CheckInterval:          DefaultCheckInterval,
		Timeout:                DefaultTimeout,
		ExpectedStatus:         DefaultExpectedStatus,
		PerformanceThresholdMs: DefaultPerformanceThresholdMs,
		ConsecutiveChecks:      DefaultConsecutiveChecks,
		SSLCheckInterval:       DefaultSSLCheckInterval,
		SSLTimeout:             DefaultTimeout,
		NotificationMethod:     NotifyBoth,
		Email: EmailSettings{
			Port:          DefaultSMTPPort,
			Security:      SecurityTLS,
			SubjectPrefix: DefaultSubjectPrefix,
		},
		EmailEvents:       AllEvents(),
		TimeFormat:        DefaultTimeFormat,
		RetentionDays:     DefaultRetentionDays,
		AuthRetentionDays: DefaultAuthRetentionDays,
	}
}

// WithDefaults fills every unset field from DefaultSettings.
func (s Settings) WithDefaults() Settings {
	d := DefaultSettings()
	if s.CheckInterval <= 0 {
		s.CheckInterval = d.CheckInterval
	}
	if s.Timeout <= 0 {
		s.Timeout = d.Timeout
	}
	if s.ExpectedStatus == 0 {
		s.ExpectedStatus = d.ExpectedStatus
	}
	if s.PerformanceThresholdMs <= 0 {
		s.PerformanceThresholdMs = d.PerformanceThresholdMs
	}
	if s.ConsecutiveChecks < 1 {
		s.ConsecutiveChecks = d.ConsecutiveChecks
	}
	if s.SSLCheckInterval <= 0 {
		s.SSLCheckInterval = d.SSLCheckInterval
	}
	if s.SSLTimeout <= 0 {
		s.SSLTimeout = s.Timeout
	}
	if s.NotificationMethod == "" {
		s.NotificationMethod = d.NotificationMethod
	}
	if s.Email.Port == 0 {
		s.Email.Port = d.Email.Port
	}
	if s.Email.Security == "" {
		s.Email.Security = d.Email.Security
	}
	if s.Email.SubjectPrefix == "" {
		s.Email.SubjectPrefix = d.Email.SubjectPrefix
	}
	if s.EmailEvents == nil {
		s.EmailEvents = d.EmailEvents
	}
	if s.TimeFormat == "" {
		s.TimeFormat = d.TimeFormat
	}
	if s.RetentionDays <= 0 {
		s.RetentionDays = d.RetentionDays
	}
	if s.AuthRetentionDays <= 0 {
		s.AuthRetentionDays = d.AuthRetentionDays
	}
	return s
}

// Validate rejects values the engine cannot run with.
func (s Settings) Validate() error {
	switch s.NotificationMethod {
	case NotifyEmail, NotifyWebhook, NotifyBoth, NotifyNone:
	default:
		return fmt.Errorf("notification method %q: want email, webhook, both or none", s.NotificationMethod)
	}
	switch s.Email.Security {
	case SecurityTLS, SecuritySSL, SecurityNone:
	default:
		return fmt.Errorf("smtp security %q: want tls, ssl or none", s.Email.Security)
	}
	if s.ExpectedStatus < 100 || s.ExpectedStatus > 599 {
		return fmt.Errorf("expected status %d out of range", s.ExpectedStatus)
	}
	return nil
}
