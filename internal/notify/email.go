package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/hamed0406/sitewatch/internal/domain"
)

const smtpTimeout = 30 * time.Second

// SMTPMailer sends plain text mail through an SMTP relay.
type SMTPMailer struct {
	cfg domain.EmailSettings
}

func NewSMTPMailer(cfg domain.EmailSettings) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

func (m *SMTPMailer) Send(ctx context.Context, subject, body string) error {
	if !m.cfg.Configured() {
		return fmt.Errorf("smtp not configured")
	}
	host := m.cfg.Host
	addr := net.JoinHostPort(host, strconv.Itoa(m.cfg.Port))
	tlsCfg := &tls.Config{ServerName: host}

	dialer := &net.Dialer{Timeout: smtpTimeout}
	var (
		conn net.Conn
		err  error
	)
	if m.cfg.Security == domain.SecuritySSL {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsCfg}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	deadline := time.Now().Add(smtpTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake %s: %w", addr, err)
	}
	defer c.Close()

	if m.cfg.Security == domain.SecurityTLS {
		if ok, _ := c.Extension("STARTTLS"); !ok {
			return fmt.Errorf("smtp %s: server does not offer STARTTLS", addr)
		}
		if err := c.StartTLS(tlsCfg); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if err := c.Auth(smtp.PlainAuth("", m.cfg.User, m.cfg.Password, host)); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}
	if err := c.Mail(m.cfg.User); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	if err := c.Rcpt(m.cfg.To()); err != nil {
		return fmt.Errorf("smtp RCPT TO: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(m.message(subject, body)); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp end data: %w", err)
	}
	return c.Quit()
}

func (m *SMTPMailer) message(subject, body string) []byte {
	from := m.cfg.FromName
	if from == "" {
		from = m.cfg.User
	}
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s <%s>\r\n", from, m.cfg.User)
	fmt.Fprintf(&b, "To: %s\r\n", m.cfg.To())
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}

// StatusMessage renders the subject and body of a status alert.
func StatusMessage(s domain.Settings, ev domain.NotificationEvent) (string, string) {
	if ev.Status == domain.StatusSSLExpiration {
		return certificateMessage(s, ev)
	}
	subject := fmt.Sprintf("%s %s - %s", s.Email.SubjectPrefix, ev.Status, ev.Target)
	body := fmt.Sprintf(`Website Monitoring Alert

Website: %s
Status: %s
Response Time: %dms
Details: %s
Time: %s

Please check the website for issues.
`, ev.Target, ev.Status, ev.ResponseTimeMs, ev.Detail, ev.Timestamp.Format(s.TimeFormat))
	return subject, body
}

func certificateMessage(s domain.Settings, ev domain.NotificationEvent) (string, string) {
	subject := fmt.Sprintf("%s SSL Certificate Expiration Alert for %s", s.Email.SubjectPrefix, ev.Target)
	expires, days := "unknown", "unknown"
	if ev.ExpirationDate != nil {
		expires = ev.ExpirationDate.Format(s.TimeFormat)
	}
	if ev.DaysRemaining != nil {
		days = strconv.Itoa(*ev.DaysRemaining)
	}
	body := fmt.Sprintf(`SSL Certificate Alert

Website: %s
SSL Certificate is expiring soon!

Expiration Date: %s
Days Remaining: %s
Current Time: %s

Please renew the SSL certificate to avoid service disruption.
`, ev.Target, expires, days, ev.Timestamp.Format(s.TimeFormat))
	return subject, body
}
