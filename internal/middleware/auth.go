package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/comanda-pos/api/internal/auth"
	"github.com/comanda-pos/api/internal/enum"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type contextKey string

const (
	claimsKey        contextKey = "claims"
	establishmentKey contextKey = "establishment_id"
)

func Authenticate(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing authorization header"})
				return
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid authorization format"})
				return
			}

			claims, err := auth.ValidateToken(jwtSecret, parts[1])
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireEstablishment scopes a route to the {eid} URL parameter. The parsed
// id is stored in the context for handlers.
func RequireEstablishment(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := ClaimsFromContext(r.Context())
		if claims == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
			return
		}

		eidStr := chi.URLParam(r, "eid")
		if eidStr == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing establishment ID"})
			return
		}

		eid, err := uuid.Parse(eidStr)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid establishment ID"})
			return
		}

		// OWNER can access any establishment
		if claims.Role != enum.UserRoleOwner && claims.EstablishmentID != eid {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "access denied for this establishment"})
			return
		}

		ctx := context.WithValue(r.Context(), establishmentKey, eid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
				return
			}

			for _, role := range roles {
				if claims.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}

			writeJSON(w, http.StatusForbidden, map[string]string{"error": "insufficient permissions"})
		})
	}
}

func ClaimsFromContext(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey).(*auth.Claims)
	return claims
}

// EstablishmentFromContext returns the id set by RequireEstablishment.
func EstablishmentFromContext(ctx context.Context) (uuid.UUID, bool) {
	eid, ok := ctx.Value(establishmentKey).(uuid.UUID)
	return eid, ok
}

// WithClaims returns a copy of ctx carrying claims. Used by tests and by
// transports that authenticate outside the Authorization header.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// WithEstablishment returns a copy of ctx scoped to eid.
func WithEstablishment(ctx context.Context, eid uuid.UUID) context.Context {
	return context.WithValue(ctx, establishmentKey, eid)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
