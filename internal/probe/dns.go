package probe

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Resolver is the part of net.Resolver the prober needs.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// DNS failure classes used in outcome details.
const (
	DNSClassNXDomain      = "NXDOMAIN"
	DNSClassNoAddress     = "NO_A_RECORD"
	DNSClassServfail      = "SERVFAIL_or_TIMEOUT"
	DNSClassInvalidName   = "INVALID_NAME"
	DNSClassResolverError = "RESOLVER_ERROR"
)

// resolve looks the host up and returns a failure class on error. IP literals
// skip the lookup.
func resolve(ctx context.Context, r Resolver, host string) (string, error) {
	host = strings.TrimSpace(host)
	if host == "" || strings.Contains(host, "://") {
		return DNSClassInvalidName, errors.New("invalid host name")
	}
	if net.ParseIP(host) != nil {
		return "", nil
	}
	if r == nil {
		r = net.DefaultResolver
	}
	addrs, err := r.LookupHost(ctx, host)
	if err != nil {
		return classifyDNSError(err), err
	}
	if len(addrs) == 0 {
		return DNSClassNoAddress, errors.New("no addresses")
	}
	return "", nil
}

func classifyDNSError(err error) string {
	var de *net.DNSError
	if errors.As(err, &de) {
		switch {
		case de.IsNotFound:
			return DNSClassNXDomain
		case de.IsTemporary, de.Timeout():
			return DNSClassServfail
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return DNSClassServfail
	}
	return DNSClassResolverError
}
