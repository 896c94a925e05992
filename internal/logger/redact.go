package logger

import (
	"bytes"
	"io"
	"regexp"
)

// RedactWriter wraps an io.Writer and masks sensitive values before writing.
// It redacts passwords, signing secrets, JWTs, and auth cookie values from
// log lines.
type RedactWriter struct {
	w          io.Writer
	patterns   []*regexp.Regexp
	redactWith string
}

var defaultPatterns = []*regexp.Regexp{
	// Password in key=value or "key":"value" form
	regexp.MustCompile(`(?i)(password["'\s:=]+)\S+`),
	regexp.MustCompile(`(?i)(password_hash["'\s:=]+)\S+`),
	regexp.MustCompile(`(?i)(password_plaintext["'\s:=]+)\S+`),
	// Signing secret
	regexp.MustCompile(`(?i)(auth[_-]?secret["'\s:=]+)\S+`),
	regexp.MustCompile(`(?i)(secret["'\s:=]+)\S+`),
	// Bearer tokens in Authorization headers
	regexp.MustCompile(`(?i)(Bearer\s+)[A-Za-z0-9\-_\.]+`),
	// Auth cookie values
	regexp.MustCompile(`(portfolio_auth=)[A-Za-z0-9\-_\.]+`),
	// Bare JWTs (three base64url segments starting with the JOSE header)
	regexp.MustCompile(`\beyJ[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+`),
}

// NewRedactWriter returns a RedactWriter that applies all default sensitive patterns.
func NewRedactWriter(w io.Writer) *RedactWriter {
	return &RedactWriter{
		w:          w,
		patterns:   defaultPatterns,
		redactWith: "[REDACTED]",
	}
}

// Write applies all redaction patterns before forwarding to the underlying writer.
func (r *RedactWriter) Write(p []byte) (int, error) {
	sanitized := p
	for _, re := range r.patterns {
		sanitized = re.ReplaceAll(sanitized, replacement(re, r.redactWith))
	}
	n, err := r.w.Write(sanitized)
	// Return original length so callers don't get short-write errors
	// even if redaction changed the byte count.
	if n > len(sanitized) {
		n = len(sanitized)
	}
	if err != nil {
		return n, err
	}
	return len(p), nil
}

// replacement builds the replacement []byte: capture group $1 (if the
// pattern has one) followed by the redaction marker.
func replacement(re *regexp.Regexp, redact string) []byte {
	var buf bytes.Buffer
	if re.NumSubexp() > 0 {
		buf.WriteString("${1}")
	}
	buf.WriteString(redact)
	return buf.Bytes()
}
