package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/workdeck/account-session-service/internal/domain"
	"github.com/workdeck/account-session-service/internal/http/middleware"
	"github.com/workdeck/account-session-service/internal/http/response"
	"github.com/workdeck/account-session-service/internal/observability"
	"github.com/workdeck/account-session-service/internal/security"
	"github.com/workdeck/account-session-service/internal/service"
	"github.com/workdeck/account-session-service/internal/session"
)

// ConsentStarter builds the initial consent redirect.
type ConsentStarter interface {
	ConsentURL(state string) string
}

type AuthHandler struct {
	accounts     *service.AccountService
	sessions     *session.Manager
	provider     ConsentStarter
	cookieSecure bool
}

func NewAuthHandler(accounts *service.AccountService, sessions *session.Manager, provider ConsentStarter, cookieSecure bool) *AuthHandler {
	return &AuthHandler{accounts: accounts, sessions: sessions, provider: provider, cookieSecure: cookieSecure}
}

// GoogleLogin starts the consent flow. The state nonce rides a short-lived
// cookie and is checked at the callback.
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	security.SetStateCookie(w, state, h.cookieSecure)
	http.Redirect(w, r, h.provider.ConsentURL(state), http.StatusFound)
}

// GoogleCallback finishes the consent flow and attaches the account to the
// caller's session, creating the session on first login.
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	if state == "" || state != security.GetCookie(r, security.StateCookieName) {
		response.Error(w, r, http.StatusBadRequest, "INVALID_STATE", "oauth state mismatch", nil)
		return
	}
	security.ClearCookie(w, security.StateCookieName, h.cookieSecure)

	code := r.URL.Query().Get("code")
	if code == "" {
		response.Error(w, r, http.StatusBadRequest, "MISSING_CODE", "authorization code missing", nil)
		return
	}

	account, details, err := h.accounts.HandleGoogleCallback(r.Context(), code)
	if err != nil {
		observability.RecordSessionMutation(r.Context(), "attach", "callback_error")
		if errors.Is(err, service.ErrEmailNotVerified) {
			response.Error(w, r, http.StatusForbidden, "EMAIL_NOT_VERIFIED", "provider email is not verified", nil)
			return
		}
		response.Error(w, r, http.StatusBadGateway, "OAUTH_CALLBACK_FAILED", "could not complete the consent flow", nil)
		return
	}

	h.attachAndIssue(w, r, service.SessionEntry(account, details))
}

type localCredentials struct {
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	Password string `json:"password"`
}

func (h *AuthHandler) LocalRegister(w http.ResponseWriter, r *http.Request) {
	var req localCredentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Password == "" {
		response.Error(w, r, http.StatusBadRequest, "INVALID_REQUEST", "email and password are required", nil)
		return
	}
	account, err := h.accounts.RegisterLocal(r.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrEmailTaken) {
			response.Error(w, r, http.StatusConflict, "EMAIL_TAKEN", "email already registered", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "registration failed", nil)
		return
	}
	observability.Audit(r, "local_register", "account_id", account.ID)
	h.attachAndIssue(w, r, service.SessionEntry(account, nil))
}

func (h *AuthHandler) LocalLogin(w http.ResponseWriter, r *http.Request) {
	var req localCredentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Password == "" {
		response.Error(w, r, http.StatusBadRequest, "INVALID_REQUEST", "email and password are required", nil)
		return
	}
	account, err := h.accounts.LoginLocal(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			response.Error(w, r, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid email or password", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "login failed", nil)
		return
	}
	observability.Audit(r, "local_login", "account_id", account.ID)
	h.attachAndIssue(w, r, service.SessionEntry(account, nil))
}

// attachAndIssue adds the account to the current session (or a new one) and
// re-issues the carrier. Attach is idempotent for re-logins.
func (h *AuthHandler) attachAndIssue(w http.ResponseWriter, r *http.Request, entry domain.AccountSession) {
	sess := middleware.SessionFromContext(r.Context())
	if sess == nil {
		sess = h.sessions.NewSession(timeNow())
	}
	if err := h.sessions.Attach(sess, entry); err != nil {
		if errors.Is(err, session.ErrMaxAccountsExceeded) {
			observability.RecordSessionMutation(r.Context(), "attach", "max_accounts")
			response.Error(w, r, http.StatusConflict, "MAX_ACCOUNTS_EXCEEDED", "session already holds the maximum number of accounts", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not attach account", nil)
		return
	}
	if err := h.sessions.Issue(w, sess); err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not issue session", nil)
		return
	}
	observability.RecordSessionMutation(r.Context(), "attach", "success")
	observability.Audit(r, "account_attached", "account_id", entry.AccountID, "session_id", sess.SessionID)
	response.JSON(w, r, http.StatusOK, sessionView(sess))
}
