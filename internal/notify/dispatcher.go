package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/metrics"
)

// DefaultMonitorID identifies this engine in webhook payloads.
const DefaultMonitorID = "website_monitor"

// Dispatcher routes one notification event to the enabled channels.
type Dispatcher struct {
	logger    *zap.Logger
	monitorID string
	webhooks  *WebhookSender
	mailer    func(domain.EmailSettings) Notifier
	chat      Multi
	now       func() time.Time
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithMailer replaces the SMTP mailer factory.
func WithMailer(fn func(domain.EmailSettings) Notifier) Option {
	return func(d *Dispatcher) { d.mailer = fn }
}

// WithChat adds chat channels that receive the email text.
func WithChat(n ...Notifier) Option {
	return func(d *Dispatcher) {
		for _, c := range n {
			if c != nil {
				d.chat = append(d.chat, c)
			}
		}
	}
}

// WithWebhookSender replaces the webhook sender.
func WithWebhookSender(w *WebhookSender) Option {
	return func(d *Dispatcher) { d.webhooks = w }
}

func NewDispatcher(logger *zap.Logger, monitorID string, opts ...Option) *Dispatcher {
	if monitorID == "" {
		monitorID = DefaultMonitorID
	}
	d := &Dispatcher{
		logger:    logger,
		monitorID: monitorID,
		webhooks:  NewWebhookSender(nil),
		mailer:    func(cfg domain.EmailSettings) Notifier { return NewSMTPMailer(cfg) },
		now:       time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dispatch delivers ev by email and to every matching active subscription,
// as the notification method allows. Each channel is attempted once; the
// combined error is returned after every channel has been tried.
func (d *Dispatcher) Dispatch(ctx context.Context, s domain.Settings, subs []domain.WebhookSubscription, ev domain.NotificationEvent) error {
	ev = eventTime(ev, d.now)
	method := s.NotificationMethod
	var errs error

	if method.Email() && s.EmailEvents.Matches(ev.Status) {
		subject, body := StatusMessage(s, ev)
		if s.Email.Configured() {
			err := d.mailer(s.Email).Send(ctx, subject, body)
			errs = multierr.Append(errs, d.record("email", ev, err))
		} else {
			d.logger.Debug("smtp_not_configured", zap.String("target", ev.Target))
		}
		if len(d.chat) > 0 {
			err := d.chat.Send(ctx, subject, body)
			errs = multierr.Append(errs, d.record("chat", ev, err))
		}
	}

	if method.Webhook() {
		errs = multierr.Append(errs, d.sendWebhooks(ctx, subs, ev))
	}
	return errs
}

func (d *Dispatcher) sendWebhooks(ctx context.Context, subs []domain.WebhookSubscription, ev domain.NotificationEvent) error {
	var body []byte
	var errs error
	for _, sub := range subs {
		if !sub.Active || !sub.Events.Matches(ev.Status) {
			continue
		}
		if body == nil {
			b, err := Encode(NewPayload(ev, d.monitorID))
			if err != nil {
				return err
			}
			body = b
		}
		err := d.webhooks.Send(ctx, sub, body)
		if err != nil {
			err = fmt.Errorf("webhook %s: %w", sub.Name, err)
		}
		errs = multierr.Append(errs, d.record("webhook", ev, err))
	}
	return errs
}

// SendTest posts a test payload to sub regardless of its event filter.
func (d *Dispatcher) SendTest(ctx context.Context, sub domain.WebhookSubscription) error {
	ev := domain.NotificationEvent{
		Status:    domain.StatusOnline,
		Target:    "test",
		Detail:    "Webhook test from " + d.monitorID,
		Timestamp: d.now(),
		Test:      true,
	}
	body, err := Encode(NewPayload(ev, d.monitorID))
	if err != nil {
		return err
	}
	return d.record("webhook", ev, d.webhooks.Send(ctx, sub, body))
}

func (d *Dispatcher) record(channel string, ev domain.NotificationEvent, err error) error {
	metrics.NotificationsTotal.WithLabelValues(channel, metrics.Result(err)).Inc()
	if err != nil {
		d.logger.Warn("notification_failed",
			zap.String("channel", channel),
			zap.String("target", ev.Target),
			zap.String("status", string(ev.Status)),
			zap.Error(err),
		)
		return err
	}
	d.logger.Info("notification_sent",
		zap.String("channel", channel),
		zap.String("target", ev.Target),
		zap.String("status", string(ev.Status)),
	)
	return nil
}
