package auth

import (
	"net/http"
	"slices"
	"strings"
)

// Skipper reports requests that pass through unauthenticated.
type Skipper func(r *http.Request) bool

// Middleware rejects requests without a valid bearer token and attaches the claims of the
// rest to their context.
type Middleware struct {
	Config  Config
	Skipper Skipper
}

// NewMiddleware leaves /healthz and /metrics open.
func NewMiddleware(cfg Config) Middleware {
	return Middleware{Config: cfg, Skipper: PublicPaths("/healthz", "/metrics")}
}

// PublicPaths matches exact request paths.
func PublicPaths(paths ...string) Skipper {
	return func(r *http.Request) bool {
		return slices.Contains(paths, r.URL.Path)
	}
}

func (m Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Skipper != nil && m.Skipper(r) {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := m.authenticate(r)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="solidtracker"`)
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

func (m Middleware) authenticate(r *http.Request) (*Claims, error) {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	switch {
	case scheme == "":
		return nil, ErrMissingToken
	case !found || !strings.EqualFold(scheme, "bearer"):
		return nil, ErrInvalidToken
	}
	return Parse(token, m.Config)
}
