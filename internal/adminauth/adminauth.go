// Package adminauth gates the rate-limit admin API. It is the authorization
// collaborator boundary: unauthorized callers are rejected before any gate
// state is read or written. The bearer/cookie token check here is the
// built-in implementation; deployments with a real identity provider plug
// in their own Authorizer.
package adminauth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var (
	// ErrNoCredentials means the request carried no usable credentials (401).
	ErrNoCredentials = errors.New("missing admin credentials")
	// ErrForbidden means credentials were present but not admin-grade (403).
	ErrForbidden = errors.New("admin role required")
)

// Authorizer decides whether a request may use the admin API.
type Authorizer interface {
	Authorize(r *http.Request) error
}

// TokenAuthorizer accepts a single shared bearer token, either as
// "Authorization: Bearer <token>" or an "admin_token" cookie.
type TokenAuthorizer struct {
	token string
}

func NewTokenAuthorizer(token string) *TokenAuthorizer {
	return &TokenAuthorizer{token: token}
}

func (a *TokenAuthorizer) Authorize(r *http.Request) error {
	if a.token == "" {
		// no token configured: the admin API is disabled outright
		return ErrForbidden
	}

	presented := ""
	if h := r.Header.Get("Authorization"); h != "" {
		const prefix = "Bearer "
		if !strings.HasPrefix(h, prefix) {
			return ErrNoCredentials
		}
		presented = h[len(prefix):]
	} else if c, err := r.Cookie("admin_token"); err == nil {
		presented = c.Value
	}

	if presented == "" {
		return ErrNoCredentials
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(a.token)) != 1 {
		return ErrForbidden
	}
	return nil
}

// Require wraps admin handlers with the authorization check: 401 for
// missing credentials, 403 for credentials without the admin role.
func Require(a Authorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			err := a.Authorize(r)
			if err == nil {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			if errors.Is(err, ErrNoCredentials) {
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"error":"forbidden"}`))
		})
	}
}
