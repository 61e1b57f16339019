package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/workdeck/account-session-service/internal/domain"
	"github.com/workdeck/account-session-service/internal/gate"
	"github.com/workdeck/account-session-service/internal/http/middleware"
	"github.com/workdeck/account-session-service/internal/http/response"
	"github.com/workdeck/account-session-service/internal/observability"
	"github.com/workdeck/account-session-service/internal/scope"
	"github.com/workdeck/account-session-service/internal/session"
)

func timeNow() time.Time { return time.Now() }

type SessionHandler struct {
	sessions *session.Manager
	gate     *gate.Gate
}

func NewSessionHandler(sessions *session.Manager, g *gate.Gate) *SessionHandler {
	return &SessionHandler{sessions: sessions, gate: g}
}

type sessionPayload struct {
	SessionID         string                  `json:"session_id"`
	Accounts          []domain.AccountSession `json:"accounts"`
	SelectedAccountID string                  `json:"selected_account_id,omitempty"`
	ExpiresAt         time.Time               `json:"expires_at"`
}

func sessionView(s *domain.Session) sessionPayload {
	return sessionPayload{
		SessionID:         s.SessionID,
		Accounts:          s.Accounts,
		SelectedAccountID: s.SelectedAccountID,
		ExpiresAt:         s.ExpiresAt,
	}
}

// ListAccounts returns the attached accounts for the account-switcher UI.
func (h *SessionHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	response.JSON(w, r, http.StatusOK, sessionView(sess))
}

func (h *SessionHandler) SelectAccount(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	accountID := chi.URLParam(r, "accountID")
	if err := h.sessions.Select(sess, accountID); err != nil {
		observability.RecordSessionMutation(r.Context(), "select", "not_in_session")
		response.Error(w, r, http.StatusNotFound, "ACCOUNT_NOT_IN_SESSION", "account is not attached to this session", nil)
		return
	}
	if err := h.sessions.Issue(w, sess); err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not issue session", nil)
		return
	}
	observability.RecordSessionMutation(r.Context(), "select", "success")
	response.JSON(w, r, http.StatusOK, sessionView(sess))
}

// DetachAccount removes one account. Detaching the last account destroys
// the session outright; an empty session shell is never issued.
func (h *SessionHandler) DetachAccount(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	accountID := chi.URLParam(r, "accountID")
	empty, err := h.sessions.Detach(sess, accountID)
	if err != nil {
		observability.RecordSessionMutation(r.Context(), "detach", "not_in_session")
		response.Error(w, r, http.StatusNotFound, "ACCOUNT_NOT_IN_SESSION", "account is not attached to this session", nil)
		return
	}
	observability.Audit(r, "account_detached", "account_id", accountID, "session_id", sess.SessionID)
	if empty {
		if err := h.sessions.Destroy(r.Context(), w, sess); err != nil {
			response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not destroy session", nil)
			return
		}
		observability.RecordSessionMutation(r.Context(), "detach", "session_destroyed")
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "session_destroyed"})
		return
	}
	if err := h.sessions.Issue(w, sess); err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not issue session", nil)
		return
	}
	observability.RecordSessionMutation(r.Context(), "detach", "success")
	response.JSON(w, r, http.StatusOK, sessionView(sess))
}

// DetachAll is full logout: carrier revoked and cookie cleared.
func (h *SessionHandler) DetachAll(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	if err := h.sessions.Destroy(r.Context(), w, sess); err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not destroy session", nil)
		return
	}
	observability.RecordSessionMutation(r.Context(), "detach_all", "success")
	observability.Audit(r, "session_destroyed", "session_id", sess.SessionID)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "logged_out"})
}

// Authorize is the gate entry point for provider-proxy collaborators:
// GET /accounts/{accountID}/authorize?service=mail&level=readonly.
// When the gate refreshed the token, the carrier is re-issued so the
// embedded snapshot catches up with the store.
func (h *SessionHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	accountID := chi.URLParam(r, "accountID")
	serviceName := r.URL.Query().Get("service")
	level := r.URL.Query().Get("level")

	authorized, err := h.gate.Authorize(r.Context(), sess, accountID, serviceName, level)
	if err != nil {
		var gateErr *gate.Error
		switch {
		case errors.As(err, &gateErr):
			response.GateError(w, r, gateErr)
		case errors.Is(err, scope.ErrUnknownService), errors.Is(err, scope.ErrUnknownScopeLevel):
			response.Error(w, r, http.StatusBadRequest, "UNKNOWN_SCOPE_REQUIREMENT", err.Error(), nil)
		default:
			response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "authorization failed", nil)
		}
		return
	}

	if authorized.Refreshed && sess != nil {
		h.sessions.SyncTokenSnapshot(sess, accountID, authorized.ExpiresAt, authorized.Scope)
		if err := h.sessions.Issue(w, sess); err != nil {
			response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not issue session", nil)
			return
		}
	}

	response.JSON(w, r, http.StatusOK, map[string]any{
		"account_id":   authorized.AccountID,
		"provider":     authorized.Provider,
		"email":        authorized.Email,
		"access_token": authorized.AccessToken,
		"expires_at":   authorized.ExpiresAt,
	})
}
