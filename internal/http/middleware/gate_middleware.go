package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/workdeck/account-session-service/internal/domain"
	"github.com/workdeck/account-session-service/internal/gate"
	"github.com/workdeck/account-session-service/internal/http/response"
	"github.com/workdeck/account-session-service/internal/session"
)

type contextKey string

const (
	SessionContextKey    contextKey = "session"
	AuthorizedContextKey contextKey = "authorized"
)

// WithSession resolves the carrier once per request and stores the session
// (possibly nil, meaning anonymous) in the context.
func WithSession(manager *session.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := manager.Extract(r.Context(), r)
			if err != nil {
				response.Error(w, r, http.StatusServiceUnavailable, "SESSION_STORE_UNAVAILABLE", "session revocation check failed", nil)
				return
			}
			ctx := context.WithValue(r.Context(), SessionContextKey, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func SessionFromContext(ctx context.Context) *domain.Session {
	s, _ := ctx.Value(SessionContextKey).(*domain.Session)
	return s
}

// RequireSession rejects anonymous requests.
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if SessionFromContext(r.Context()) == nil {
			response.Error(w, r, http.StatusUnauthorized, string(gate.CodeUnauthenticated), "no valid session", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireScope runs the access gate for the {accountID} route param and the
// given service/level before the proxy handler executes. The authorized
// context is what downstream provider calls consume.
func RequireScope(g *gate.Gate, service, level string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := SessionFromContext(r.Context())
			accountID := chi.URLParam(r, "accountID")
			authorized, err := g.Authorize(r.Context(), sess, accountID, service, level)
			if err != nil {
				var gateErr *gate.Error
				if errors.As(err, &gateErr) {
					response.GateError(w, r, gateErr)
					return
				}
				response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "authorization failed", nil)
				return
			}
			ctx := context.WithValue(r.Context(), AuthorizedContextKey, authorized)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func AuthorizedFromContext(ctx context.Context) (*gate.AuthorizedContext, bool) {
	a, ok := ctx.Value(AuthorizedContextKey).(*gate.AuthorizedContext)
	return a, ok
}
