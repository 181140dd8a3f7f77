// Package auth validates bearer tokens issued for the timer client and operator tooling.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Config struct {
	Secret string
	Issuer string
}

// Claims is a verified token reduced to what handlers need. Subject is the employee id for
// timer clients and an operator name for syncctl.
type Claims struct {
	Subject   string
	Scopes    map[string]struct{}
	ExpiresAt time.Time
}

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
)

// tokenClaims is the JWT body. scopes may be a space separated string or a JSON array.
type tokenClaims struct {
	jwt.RegisteredClaims
	Scopes any `json:"scopes,omitempty"`
}

// Parse verifies an HS256 token against cfg. Every failure wraps ErrInvalidToken except an
// empty token, which is ErrMissingToken.
func Parse(raw string, cfg Config) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMissingToken
	}

	parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(cfg.Issuer))
	}
	var body tokenClaims
	if _, err := jwt.ParseWithClaims(raw, &body, func(*jwt.Token) (any, error) {
		return []byte(cfg.Secret), nil
	}, parserOpts...); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if body.Subject == "" {
		return nil, fmt.Errorf("%w: no subject", ErrInvalidToken)
	}

	claims := &Claims{Subject: body.Subject, Scopes: normalizeScopes(body.Scopes)}
	if body.ExpiresAt != nil {
		claims.ExpiresAt = body.ExpiresAt.Time
	}
	return claims, nil
}

// Sign mints an HS256 token for subject with scopes joined into one string.
func Sign(cfg Config, subject string, scopes []string, ttl time.Duration) (string, error) {
	now := time.Now()
	body := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Scopes: strings.Join(scopes, " "),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, body).SignedString([]byte(cfg.Secret))
}

func normalizeScopes(value any) map[string]struct{} {
	var names []string
	switch v := value.(type) {
	case string:
		names = strings.Fields(v)
	case []string:
		names = v
	case []any:
		for _, item := range v {
			if name, ok := item.(string); ok {
				names = append(names, name)
			}
		}
	}
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		if name != "" {
			set[name] = struct{}{}
		}
	}
	return set
}

// HasScope reports whether the claim set includes scope. timer:admin implies every timer
// scope.
func (c *Claims) HasScope(scope string) bool {
	if c == nil {
		return false
	}
	if _, ok := c.Scopes[scope]; ok {
		return true
	}
	if strings.HasPrefix(scope, "timer:") {
		_, admin := c.Scopes[ScopeTimerAdmin]
		return admin
	}
	return false
}

type claimsKey struct{}

func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// FromContext returns the claims attached by the middleware, if any.
func FromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*Claims)
	return claims, ok && claims != nil
}
