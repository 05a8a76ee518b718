// Package auth carries the authenticated user identity. Token verification
// itself belongs to the identity provider; this package only consumes its
// verdict and exposes the current user id to the rest of the server.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/Lllllllleong/conversionflow/internal/models"
)

type contextKey struct{}

// TokenVerifier resolves a bearer token to a user id.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// WithUser returns a context carrying the authenticated user id.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// FromContext returns the authenticated user id, or ErrUnauthenticated when
// the request never passed the middleware.
func FromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(contextKey{}).(string)
	if !ok || userID == "" {
		return "", models.ErrUnauthenticated
	}
	return userID, nil
}

// Middleware gates handlers behind bearer-token verification and injects
// the resolved user id into the request context.
func Middleware(verifier TokenVerifier, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			http.Error(w, `{"error":"missing authorization header"}`, http.StatusUnauthorized)
			return
		}
		userID, err := verifier.Verify(r.Context(), token)
		if err != nil {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userID)))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if token, found := strings.CutPrefix(header, "Bearer "); found {
		return strings.TrimSpace(token)
	}
	// Browsers cannot set headers on websocket upgrades.
	return r.URL.Query().Get("token")
}

// StaticVerifier maps fixed tokens to user ids. Used by tests and local
// development; production deployments inject the identity provider's
// verifier.
type StaticVerifier map[string]string

func (v StaticVerifier) Verify(ctx context.Context, token string) (string, error) {
	userID, ok := v[token]
	if !ok {
		return "", models.ErrUnauthenticated
	}
	return userID, nil
}
