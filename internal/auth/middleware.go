package auth

import (
	"context"
	"log"
	"net/http"
	"strings"

	"apiguardian/internal/errors"
)

type contextKey string

const serviceContextKey contextKey = "service"

// Middleware validates the Bearer service token and adds the caller
// identity to the request context. When the token service is disabled the
// middleware is a passthrough.
func (ts *TokenService) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !ts.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			errors.SendError(w, errors.NewAuthError("service token required"))
			return
		}

		identity, err := ts.Validate(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			log.Printf("⚠️ Service token rejected: %v", err)
			errors.SendError(w, errors.NewAuthError("invalid service token"))
			return
		}

		ctx := context.WithValue(r.Context(), serviceContextKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// FromContext retrieves the validated caller from the request context.
func FromContext(ctx context.Context) (*ServiceIdentity, bool) {
	identity, ok := ctx.Value(serviceContextKey).(*ServiceIdentity)
	return identity, ok
}
