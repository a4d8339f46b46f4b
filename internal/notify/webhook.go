package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hamed0406/sitewatch/internal/domain"
)

// SignatureHeader carries hex(HMAC-SHA256(secret, body)).
const SignatureHeader = "X-Webhook-Signature"

// TimestampLayout is UTC, second precision, no zone suffix.
const TimestampLayout = "2006-01-02T15:04:05"

// Payload is the JSON body posted to webhook subscribers.
type Payload struct {
	Event          string `json:"event"`
	Target         string `json:"target"`
	Timestamp      string `json:"timestamp"`
	ResponseTimeMs int64  `json:"responseTimeMs"`
	Detail         string `json:"detail"`
	MonitorID      string `json:"monitorId"`
	DaysRemaining  *int   `json:"daysRemaining,omitempty"`
	ExpirationDate string `json:"expirationDate,omitempty"`
	Test           bool   `json:"test,omitempty"`
}

// NewPayload builds the payload of ev. Certificate fields are only set for
// expiry events.
func NewPayload(ev domain.NotificationEvent, monitorID string) Payload {
	p := Payload{
		Event:          domain.WebhookEventName(ev.Status),
		Target:         ev.Target,
		Timestamp:      ev.Timestamp.UTC().Format(TimestampLayout),
		ResponseTimeMs: ev.ResponseTimeMs,
		Detail:         ev.Detail,
		MonitorID:      monitorID,
		Test:           ev.Test,
	}
	if ev.Test {
		p.Event = "test"
	}
	if ev.Status == domain.StatusSSLExpiration {
		p.DaysRemaining = ev.DaysRemaining
		if ev.ExpirationDate != nil {
			p.ExpirationDate = ev.ExpirationDate.UTC().Format(TimestampLayout)
		}
	}
	return p
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// WebhookSender posts payloads to subscriptions. Delivery is attempted once.
type WebhookSender struct {
	client    *http.Client
	userAgent string
}

func NewWebhookSender(client *http.Client) *WebhookSender {
	if client == nil {
		client = &http.Client{Timeout: webhookTimeout}
	}
	return &WebhookSender{client: client, userAgent: "Sitewatch-Webhook/1.0"}
}

// Send posts body to sub. The bytes signed are the bytes sent.
func (w *WebhookSender) Send(ctx context.Context, sub domain.WebhookSubscription, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, webhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", w.userAgent)
	if sub.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(sub.Secret, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook POST %s: %w", sub.URL, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for connection reuse

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook POST %s: status %d", sub.URL, resp.StatusCode)
	}
	return nil
}

// Encode marshals p into the canonical bytes that are signed and sent.
func Encode(p Payload) ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal webhook payload: %w", err)
	}
	return b, nil
}

// eventTime is the time used when an event carries none.
func eventTime(ev domain.NotificationEvent, now func() time.Time) domain.NotificationEvent {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = now()
	}
	return ev
}
