// Package certs checks TLS certificate freshness on a slower cadence than the
// main probe loop.
package certs

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/repo"
)

var ErrNotSecure = errors.New("target is not https")

// HandshakeFunc performs one live certificate check.
type HandshakeFunc func(ctx context.Context, target string, timeout time.Duration) (domain.CertificateRecord, error)

type entry struct {
	lastCheck time.Time
	record    *domain.CertificateRecord
}

// Result is what a cadence-gated evaluation produced. Record may be stale
// when Err is set, and nil if nothing was ever learned about the target.
type Result struct {
	Record *domain.CertificateRecord
	Live   bool
	Err    error
}

// Checker caches the last certificate per target and only dials when the
// check interval has elapsed.
type Checker struct {
	logger    *zap.Logger
	store     repo.CertificateStore
	handshake HandshakeFunc
	tlsConfig *tls.Config

	mu      sync.Mutex
	entries map[string]*entry
}

// Option customises a Checker.
type Option func(*Checker)

// WithTLSConfig sets the base TLS config for live handshakes (root CAs).
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *Checker) { c.tlsConfig = cfg }
}

// WithHandshake replaces the live handshake.
func WithHandshake(fn HandshakeFunc) Option {
	return func(c *Checker) { c.handshake = fn }
}

func NewChecker(logger *zap.Logger, store repo.CertificateStore, opts ...Option) *Checker {
	c := &Checker{
		logger:  logger,
		store:   store,
		entries: make(map[string]*entry),
	}
	c.handshake = c.Check
	for _, o := range opts {
		o(c)
	}
	return c
}

// Evaluate returns the certificate view of target at now, dialing only if
// interval has passed since the last live attempt.
func (c *Checker) Evaluate(ctx context.Context, target string, interval, timeout time.Duration, now time.Time) Result {
	c.mu.Lock()
	e, ok := c.entries[target]
	if !ok {
		e = &entry{}
		c.entries[target] = e
	}
	due := e.lastCheck.IsZero() || now.Sub(e.lastCheck) >= interval
	cached := e.record
	if due {
		// stamp before dialing so a failing host is not re-dialed every cycle
		e.lastCheck = now
	}
	c.mu.Unlock()

	if !due {
		return Result{Record: cached}
	}

	rec, err := c.handshake(ctx, target, timeout)
	if err != nil {
		if cached == nil {
			cached = c.loadStored(ctx, target)
		}
		return Result{Record: cached, Live: true, Err: err}
	}

	c.mu.Lock()
	if cur, ok := c.entries[target]; ok {
		cur.record = &rec
	}
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.UpsertCertificate(ctx, rec); err != nil {
			c.logger.Warn("certificate_store_error", zap.String("target", target), zap.Error(err))
		}
	}
	return Result{Record: &rec, Live: true}
}

// Cached returns the last known record without dialing.
func (c *Checker) Cached(target string) (*domain.CertificateRecord, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[target]
	if !ok || e.record == nil {
		return nil, time.Time{}
	}
	rec := *e.record
	return &rec, e.lastCheck
}

// Forget drops cached state of targets not in keep.
func (c *Checker) Forget(keep map[string]struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for t := range c.entries {
		if _, ok := keep[t]; !ok {
			delete(c.entries, t)
		}
	}
}

func (c *Checker) loadStored(ctx context.Context, target string) *domain.CertificateRecord {
	if c.store == nil {
		return nil
	}
	rec, err := c.store.LatestCertificate(ctx, target)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			c.logger.Warn("certificate_load_error", zap.String("target", target), zap.Error(err))
		}
		return nil
	}
	return rec
}

// Check dials the target's host and reads the leaf certificate.
func (c *Checker) Check(ctx context.Context, target string, timeout time.Duration) (domain.CertificateRecord, error) {
	u, err := url.Parse(target)
	if err != nil {
		return domain.CertificateRecord{}, fmt.Errorf("parse target: %w", err)
	}
	if u.Scheme != "https" {
		return domain.CertificateRecord{}, ErrNotSecure
	}
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "443"
	}

	cfg := &tls.Config{}
	if c.tlsConfig != nil {
		cfg = c.tlsConfig.Clone()
	}
	cfg.ServerName = host

	d := tls.Dialer{NetDialer: &net.Dialer{Timeout: timeout}, Config: cfg}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := d.DialContext(dctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return domain.CertificateRecord{}, fmt.Errorf("tls handshake %s: %w", host, err)
	}
	defer conn.Close()

	certs := conn.(*tls.Conn).ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return domain.CertificateRecord{}, fmt.Errorf("tls handshake %s: no peer certificate", host)
	}
	leaf := certs[0]
	issuer := leaf.Issuer.CommonName
	if len(leaf.Issuer.Organization) > 0 {
		issuer = leaf.Issuer.Organization[0]
	}
	return domain.CertificateRecord{
		Target:      target,
		ValidFrom:   leaf.NotBefore.UTC(),
		ValidTo:     leaf.NotAfter.UTC(),
		Issuer:      issuer,
		LastChecked: time.Now().UTC(),
	}, nil
}
