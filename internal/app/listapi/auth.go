package listapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	platformauth "github.com/homecart/listsync/internal/platform/auth"
)

const apiKeyHeader = "X-API-Key"

type claimsContextKey struct{}

func (h *Handler) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.APIKey.Enabled() {
			if err := h.APIKey.Verify(r.Header.Get(apiKeyHeader)); err != nil {
				h.writeError(w, http.StatusUnauthorized, "invalid api key")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := platformauth.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			h.writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := h.Tokens.Parse(token)
		if err != nil {
			if errors.Is(err, platformauth.ErrExpiredToken) {
				h.writeError(w, http.StatusUnauthorized, "expired token")
				return
			}
			h.writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(contextWithClaims(r.Context(), claims)))
	})
}

// householdMiddleware only lets callers address their own household.
func (h *Handler) householdMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFromContext(r.Context())
		if claims.HouseholdID == "" || claims.HouseholdID != chi.URLParam(r, "householdID") {
			h.writeError(w, http.StatusForbidden, "household not accessible")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func contextWithClaims(ctx context.Context, claims platformauth.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

func claimsFromContext(ctx context.Context) platformauth.Claims {
	claims, _ := ctx.Value(claimsContextKey{}).(platformauth.Claims)
	return claims
}
