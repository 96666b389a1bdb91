// Package middleware provides a framework-agnostic net/http bearer guard
// over the engine's Authenticate operation.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/solvein/authcore"
)

type userContextKey struct{}

// UserFromContext returns the user record resolved by [Guard] for this
// request.
func UserFromContext(ctx context.Context) (authcore.UserRecord, bool) {
	user, ok := ctx.Value(userContextKey{}).(authcore.UserRecord)
	return user, ok
}

// Guard rejects requests without a valid access bearer token and injects the
// resolved user into the request context. Every rejection is a bare 401; the
// reasons stay internal.
func Guard(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			user, err := engine.Authenticate(r.Context(), token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), userContextKey{}, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
