package accesslog

import "time"

// Audit reason tags. They mirror the HTTP error taxonomy: one tag per
// distinct login/logout outcome.
const (
	ReasonRateLimitExceeded      = "rate_limit_exceeded"
	ReasonServerMisconfiguration = "server_misconfiguration"
	ReasonNoPasswordConfigured   = "no_password_configured"
	ReasonMissingPassword        = "missing_password"
	ReasonInvalidPassword        = "invalid_password"
	ReasonMethodNotAllowed       = "method_not_allowed"
	ReasonLogout                 = "logout"
)

// maxUserAgentLen bounds the stored user agent summary.
const maxUserAgentLen = 200

// Entry is one immutable access log record. IP must already be obfuscated
// by the caller; the store never sees raw client addresses. JSON field
// names match the historical on-disk format.
type Entry struct {
	Timestamp         time.Time `json:"timestamp"`
	IP                string    `json:"ip"`
	UserAgent         string    `json:"userAgent"`
	Success           bool      `json:"success"`
	Reason            string    `json:"reason,omitempty"`
	AttemptsRemaining *int      `json:"attemptsRemaining,omitempty"`
	TokenExpiry       string    `json:"tokenExpiry,omitempty"`
}

// Stats aggregates the most recent entries of the current partition.
type Stats struct {
	Total       int
	Successful  int
	Failed      int
	RateLimited int
	UniqueIPs   int
	LastAccess  time.Time
}
