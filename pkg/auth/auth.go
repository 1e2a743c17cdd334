// Package auth verifies bearer tokens and produces the authenticated
// Principal used for all authorization decisions downstream.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated is returned for absent, malformed or expired credentials.
var ErrUnauthenticated = errors.New("authentication required")

// Principal is the authenticated caller. Immutable per request; the roles
// carried here are authoritative and always override caller-supplied context.
type Principal struct {
	ID    string
	Roles []string
}

// HasRole reports whether the principal carries the given role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the intersection of the principal's roles with
// the allowed set is non-empty. An empty allowed set permits everyone.
func (p Principal) HasAnyRole(allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, want := range allowed {
		if p.HasRole(want) {
			return true
		}
	}
	return false
}

type claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 bearer tokens signed with a shared secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier for the given signing secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates a bearer token, returning the Principal.
// Any failure (bad signature, expired, wrong algorithm, empty subject)
// yields ErrUnauthenticated; the cause is wrapped for logging only.
func (v *Verifier) Verify(tokenString string) (Principal, error) {
	if tokenString == "" {
		return Principal{}, ErrUnauthenticated
	}

	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	if !token.Valid || c.Subject == "" {
		return Principal{}, ErrUnauthenticated
	}

	return Principal{ID: c.Subject, Roles: c.Roles}, nil
}

// Issue signs a token for the given principal, expiring after ttl.
// Used by tests and by operator tooling; the gateway itself only verifies.
func (v *Verifier) Issue(p Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Roles: p.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(v.secret)
}

type principalKey struct{}

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the Principal attached to ctx.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
