package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var ErrInvalidURL = errors.New("url must be an absolute http or https url")

// CanonicalURL returns the identity form of a target URL: lowercase scheme
// and host, no default port, no fragment, no trailing slash.
func CanonicalURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return "", ErrInvalidURL
	}
	u.Host = strings.ToLower(u.Host)
	if (u.Scheme == "http" && u.Port() == "80") || (u.Scheme == "https" && u.Port() == "443") {
		u.Host = u.Hostname()
	}
	u.Fragment = ""
	u.RawFragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawPath = ""
	return u.String(), nil
}

// ParseTargetLine accepts "url" or the legacy "url|expected text" form.
func ParseTargetLine(line string) (Target, error) {
	raw, expected, _ := strings.Cut(line, "|")
	canon, err := CanonicalURL(raw)
	if err != nil {
		return Target{}, err
	}
	return Target{URL: canon, ExpectedContent: strings.TrimSpace(expected)}, nil
}
