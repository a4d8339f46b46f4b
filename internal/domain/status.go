package domain

// StatusKind is the closed classification of a single probe.
type StatusKind string

const (
	StatusOnline           StatusKind = "Online"
	StatusDNSError         StatusKind = "DNS Error"
	StatusTimeoutError     StatusKind = "Timeout Error"
	StatusConnectionError  StatusKind = "Connection Error"
	StatusStatusError      StatusKind = "Status Error"
	StatusContentError     StatusKind = "Content Error"
	StatusPerformanceIssue StatusKind = "Performance Issue"
	StatusSSLError         StatusKind = "SSL Error"
	StatusSSLExpiration    StatusKind = "SSL Expiration"
	StatusNotCheckedYet    StatusKind = "Not checked yet"
)

// AllStatuses lists every StatusKind in display order.
var AllStatuses = []StatusKind{
	StatusOnline,
	StatusDNSError,
	StatusTimeoutError,
	StatusConnectionError,
	StatusStatusError,
	StatusContentError,
	StatusPerformanceIssue,
	StatusSSLError,
	StatusSSLExpiration,
	StatusNotCheckedYet,
}

func (s StatusKind) String() string { return string(s) }

func (s StatusKind) IsOnline() bool { return s == StatusOnline }

// Known reports whether s is the result of an actual probe.
func (s StatusKind) Known() bool { return s != "" && s != StatusNotCheckedYet }

// Failing reports whether s is a probed, non-Online status.
func (s StatusKind) Failing() bool { return s.Known() && s != StatusOnline }

// Valid reports whether s belongs to the enumeration.
func (s StatusKind) Valid() bool {
	for _, k := range AllStatuses {
		if k == s {
			return true
		}
	}
	return false
}
