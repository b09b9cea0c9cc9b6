package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

var errNoToken = errors.New("auth: no bearer token present")

// contextKey is an unexported type for context keys in this package —
// only this package can read or write values stored under it.
type contextKey string

const callerKey contextKey = "caller"

// RequireToken enforces bearer-token authentication on protected routes.
//
// It reads the JWT from the Authorization header, validates it, and stores
// the caller name in the request context. A missing or invalid token stops
// the chain with 401.
func RequireToken(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, err := extractCaller(r, tokens)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				http.Error(w, `{"error":"unauthorized","message":"valid service token required"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), callerKey, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CallerFromContext returns the authenticated caller name, or ("", false)
// when the route was not protected.
func CallerFromContext(ctx context.Context) (string, bool) {
	caller, ok := ctx.Value(callerKey).(string)
	return caller, ok && caller != ""
}

func extractCaller(r *http.Request, tokens *TokenService) (string, error) {
	header := r.Header.Get("Authorization")
	tokenStr, found := strings.CutPrefix(header, "Bearer ")
	if !found || tokenStr == "" {
		return "", errNoToken
	}
	return tokens.Validate(tokenStr)
}
