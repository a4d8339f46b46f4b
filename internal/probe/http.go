package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hamed0406/sitewatch/internal/domain"
)

// BrowserUserAgent is sent with every probe; some sites reject bare clients.
const BrowserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

const defaultMaxBody = 5 << 20

// HTTPProber resolves the target host, fetches the URL and classifies the
// response.
type HTTPProber struct {
	Client    *http.Client
	Resolver  Resolver
	UserAgent string
	MaxBody   int64
	now       func() time.Time
}

func NewHTTPProber() *HTTPProber {
	return &HTTPProber{
		// the per-probe context bounds the request; redirects are followed
		Client:    &http.Client{},
		Resolver:  net.DefaultResolver,
		UserAgent: BrowserUserAgent,
		MaxBody:   defaultMaxBody,
		now:       time.Now,
	}
}

func (h *HTTPProber) Probe(ctx context.Context, target domain.Target, p Params) domain.CheckOutcome {
	if p.Timeout <= 0 {
		p.Timeout = domain.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	u, err := url.Parse(target.URL)
	if err != nil {
		return domain.CheckOutcome{
			Status: domain.StatusDNSError,
			Detail: "DNS Resolution Failed: " + err.Error(),
		}
	}
	if class, err := resolve(ctx, h.Resolver, u.Hostname()); err != nil {
		return domain.CheckOutcome{
			Status: domain.StatusDNSError,
			Detail: fmt.Sprintf("DNS Resolution Failed: %s: %v", class, err),
		}
	}

	start := h.clock()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.URL, nil)
	if err != nil {
		return domain.CheckOutcome{Status: domain.StatusConnectionError, Detail: "Connection failed: " + err.Error()}
	}
	req.Header.Set("User-Agent", h.UserAgent)

	resp, err := h.Client.Do(req)
	if err != nil {
		return transportFailure(err, h.elapsedMs(start), p.Timeout)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, h.maxBody()))
	elapsed := h.elapsedMs(start)
	if err != nil {
		return transportFailure(err, elapsed, p.Timeout)
	}
	return Classify(target, resp.StatusCode, body, elapsed, p)
}

// Classify applies the status, content and latency checks to a completed
// response.
func Classify(target domain.Target, statusCode int, body []byte, elapsedMs int64, p Params) domain.CheckOutcome {
	if statusCode != p.ExpectedStatus {
		return domain.CheckOutcome{
			Status:         domain.StatusStatusError,
			ResponseTimeMs: elapsedMs,
			Detail:         fmt.Sprintf("Status Code: %d, Expected: %d", statusCode, p.ExpectedStatus),
		}
	}
	if want := target.ExpectedContent; want != "" && !strings.Contains(string(body), want) {
		return domain.CheckOutcome{
			Status:         domain.StatusContentError,
			ResponseTimeMs: elapsedMs,
			Detail:         fmt.Sprintf("Expected text '%s' not found in response", want),
			MatchedText:    want,
		}
	}
	if p.PerformanceThresholdMs > 0 && elapsedMs > p.PerformanceThresholdMs {
		return domain.CheckOutcome{
			Status:         domain.StatusPerformanceIssue,
			ResponseTimeMs: elapsedMs,
			Detail:         fmt.Sprintf("Response time %dms exceeds threshold %dms", elapsedMs, p.PerformanceThresholdMs),
		}
	}
	return domain.CheckOutcome{
		Status:         domain.StatusOnline,
		ResponseTimeMs: elapsedMs,
		Detail:         "Status Code: " + strconv.Itoa(statusCode),
		MatchedText:    target.ExpectedContent,
	}
}

func transportFailure(err error, elapsedMs int64, timeout time.Duration) domain.CheckOutcome {
	switch {
	case isTimeout(err):
		return domain.CheckOutcome{
			Status:         domain.StatusTimeoutError,
			ResponseTimeMs: elapsedMs,
			Detail:         fmt.Sprintf("Request timed out after %s seconds", strconv.FormatFloat(timeout.Seconds(), 'f', -1, 64)),
		}
	case isCertificateError(err):
		return domain.CheckOutcome{
			Status:         domain.StatusSSLError,
			ResponseTimeMs: elapsedMs,
			Detail:         "SSL Certificate Error: " + err.Error(),
		}
	}
	return domain.CheckOutcome{
		Status:         domain.StatusConnectionError,
		ResponseTimeMs: elapsedMs,
		Detail:         "Connection failed: " + err.Error(),
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isCertificateError(err error) bool {
	var (
		verr     *tls.CertificateVerificationError
		unknown  x509.UnknownAuthorityError
		hostname x509.HostnameError
		invalid  x509.CertificateInvalidError
	)
	return errors.As(err, &verr) || errors.As(err, &unknown) ||
		errors.As(err, &hostname) || errors.As(err, &invalid)
}

func (h *HTTPProber) clock() time.Time {
	if h.now == nil {
		return time.Now()
	}
	return h.now()
}

func (h *HTTPProber) elapsedMs(start time.Time) int64 {
	ms := h.clock().Sub(start).Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}

func (h *HTTPProber) maxBody() int64 {
	if h.MaxBody <= 0 {
		return defaultMaxBody
	}
	return h.MaxBody
}
