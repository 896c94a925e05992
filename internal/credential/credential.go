// Package credential verifies the shared portfolio password against the
// configured stored credential.
package credential

import (
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// HashCost is the bcrypt work factor used by the provisioning utility.
const HashCost = 10

// ErrNotConfigured is returned when neither a hash nor a plaintext
// credential is configured.
var ErrNotConfigured = errors.New("no password credential configured")

type kind int

const (
	kindHashed kind = iota
	kindPlaintextDeprecated
)

// Stored is the configured credential, either a bcrypt hash or, in a
// deprecated migration fallback, a plaintext secret.
type Stored struct {
	kind  kind
	value string
}

// FromConfig selects the credential variant from configuration values.
// A hash takes precedence over the plaintext fallback.
func FromConfig(hash, plaintext string) (Stored, error) {
	switch {
	case hash != "":
		return Stored{kind: kindHashed, value: hash}, nil
	case plaintext != "":
		return Stored{kind: kindPlaintextDeprecated, value: plaintext}, nil
	default:
		return Stored{}, ErrNotConfigured
	}
}

// Deprecated reports whether the insecure plaintext fallback is in use.
// Callers should warn at startup when this is true.
func (s Stored) Deprecated() bool {
	return s.kind == kindPlaintextDeprecated
}

// Verify checks a candidate password against the stored credential. It
// fails closed: any internal error yields false.
func (s Stored) Verify(candidate string) bool {
	if s.value == "" || candidate == "" {
		return false
	}
	switch s.kind {
	case kindHashed:
		// bcrypt's comparison is resistant to timing leaks on the hash
		// itself; a malformed stored hash surfaces as an error → false.
		return bcrypt.CompareHashAndPassword([]byte(s.value), []byte(candidate)) == nil
	case kindPlaintextDeprecated:
		return subtle.ConstantTimeCompare([]byte(s.value), []byte(candidate)) == 1
	default:
		return false
	}
}

// Hash produces a salted bcrypt hash of password for offline provisioning.
// Not used on the request path.
func Hash(password string) (string, error) {
	out, err := bcrypt.GenerateFromPassword([]byte(password), HashCost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
