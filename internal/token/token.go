// Package token issues and verifies the signed, time-boxed proof of
// authentication carried in the access cookie.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalid covers every verification failure: bad signature, structural
// corruption, wrong algorithm, or elapsed expiry. Callers never need to
// distinguish; the client re-authenticates either way.
var ErrInvalid = errors.New("invalid token")

// Service signs and verifies stateless access tokens. Tokens are never
// stored server-side; logout cannot revoke one before its natural expiry.
type Service struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewService constructs a Service signing with secret; tokens expire ttl
// after issuance.
func NewService(secret string, ttl time.Duration) *Service {
	return &Service{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// TTL returns the configured token lifetime.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Issue signs a new authenticated token expiring TTL from now.
func (s *Service) Issue() (string, error) {
	now := s.now().UTC()
	claims := jwt.MapClaims{
		"authenticated": true,
		"iat":           jwt.NewNumericDate(now),
		"exp":           jwt.NewNumericDate(now.Add(s.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify checks signature, structure, and expiry. Returns ErrInvalid on
// any failure.
func (s *Service) Verify(raw string) error {
	tok, err := jwt.Parse(raw,
		func(t *jwt.Token) (interface{}, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !tok.Valid {
		return ErrInvalid
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return ErrInvalid
	}
	if auth, _ := claims["authenticated"].(bool); !auth {
		return ErrInvalid
	}
	return nil
}
