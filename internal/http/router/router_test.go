package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/workdeck/account-session-service/internal/domain"
	"github.com/workdeck/account-session-service/internal/gate"
	"github.com/workdeck/account-session-service/internal/http/handler"
	"github.com/workdeck/account-session-service/internal/http/middleware"
	"github.com/workdeck/account-session-service/internal/oauth"
	"github.com/workdeck/account-session-service/internal/repository"
	"github.com/workdeck/account-session-service/internal/scope"
	"github.com/workdeck/account-session-service/internal/security"
	"github.com/workdeck/account-session-service/internal/service"
	"github.com/workdeck/account-session-service/internal/session"
)

const testCarrierSecret = "0123456789abcdef0123456789abcdef"

// stackProvider stands in for the OAuth provider across every seam: consent
// URLs, code exchange, introspection and refresh.
type stackProvider struct {
	grantScope   string
	grantExpiry  time.Time
	refreshCalls int
}

func (p *stackProvider) ConsentURL(state string) string {
	return "https://accounts.example.com/consent?state=" + state
}

func (p *stackProvider) IncrementalConsentURL(state, email, requiredScope string) string {
	return "https://accounts.example.com/consent?scope=" + requiredScope
}

func (p *stackProvider) Exchange(context.Context, string) (*oauth.Grant, error) {
	return &oauth.Grant{
		AccessToken:  "access-0",
		RefreshToken: "refresh-0",
		ExpiresAt:    p.grantExpiry,
		Scope:        p.grantScope,
	}, nil
}

func (p *stackProvider) Introspect(context.Context, string) (*oauth.Introspection, error) {
	return &oauth.Introspection{
		Email:     "google-user@example.com",
		Verified:  true,
		Scope:     p.grantScope,
		ExpiresAt: p.grantExpiry,
	}, nil
}

func (p *stackProvider) Refresh(context.Context, string) (*oauth.Grant, error) {
	p.refreshCalls++
	return &oauth.Grant{
		AccessToken: "access-refreshed",
		ExpiresAt:   time.Now().Add(time.Hour),
	}, nil
}

func newStackForTest(t *testing.T) (http.Handler, *stackProvider, *gate.Gate, *session.Manager) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.Account{}, &domain.TokenDetails{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	accountRepo := repository.NewAccountRepository(db)
	tokenRepo := repository.NewTokenRepository(db)

	redisServer := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: redisServer.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })
	revocations := session.NewRedisRevocationStore(redisClient, "session_revocations")

	codec := security.NewCarrierCodec("workdeck", testCarrierSecret)
	sessions := session.NewManager(codec, revocations, session.ManagerOptions{
		CookieName:   "wd_session",
		CookieMaxAge: 720 * time.Hour,
		SessionTTL:   24 * time.Hour,
		MaxAccounts:  20,
	})

	provider := &stackProvider{
		grantScope:  "openid https://www.googleapis.com/auth/gmail.readonly",
		grantExpiry: time.Now().Add(time.Hour),
	}
	accounts := service.NewAccountService(accountRepo, tokenRepo, provider)
	g := gate.New(accountRepo, tokenRepo, provider, scope.NewRegistry(), provider, 2*time.Minute)

	h := NewRouter(Dependencies{
		AuthHandler:      handler.NewAuthHandler(accounts, sessions, provider, false),
		SessionHandler:   handler.NewSessionHandler(sessions, g),
		SessionManager:   sessions,
		APIRateLimitRPM:  10000,
		AuthRateLimitRPM: 10000,
	})
	return h, provider, g, sessions
}

type sessionData struct {
	SessionID         string                  `json:"session_id"`
	Accounts          []domain.AccountSession `json:"accounts"`
	SelectedAccountID string                  `json:"selected_account_id"`
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func doRequest(t *testing.T, h http.Handler, method, target string, body []byte, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for _, c := range cookies {
		if c != nil {
			req.AddCookie(c)
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder, wantStatus int) envelope {
	t.Helper()
	if rec.Code != wantStatus {
		t.Fatalf("expected status %d, got %d: %s", wantStatus, rec.Code, rec.Body.String())
	}
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, rec.Body.String())
	}
	return env
}

func decodeSession(t *testing.T, env envelope) sessionData {
	t.Helper()
	var data sessionData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode session payload: %v", err)
	}
	return data
}

func cookieByName(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func registerLocal(t *testing.T, h http.Handler, email string, carrier *http.Cookie) (*httptest.ResponseRecorder, sessionData) {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"email": email, "name": "User", "password": "hunter2hunter2"})
	rec := doRequest(t, h, http.MethodPost, "/api/v1/auth/local/register", body, carrier)
	env := decodeEnvelope(t, rec, http.StatusOK)
	return rec, decodeSession(t, env)
}

func TestHealthEndpoints(t *testing.T) {
	h, _, _, _ := newStackForTest(t)
	for _, path := range []string{"/health/live", "/health/ready"} {
		rec := doRequest(t, h, http.MethodGet, path, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}

func TestSessionListRequiresAuthentication(t *testing.T) {
	h, _, _, _ := newStackForTest(t)
	rec := doRequest(t, h, http.MethodGet, "/api/v1/session/accounts", nil)
	env := decodeEnvelope(t, rec, http.StatusUnauthorized)
	if env.Error == nil || env.Error.Code != "UNAUTHENTICATED" {
		t.Fatalf("expected UNAUTHENTICATED, got %+v", env.Error)
	}
}

func TestLocalSessionLifecycle(t *testing.T) {
	h, _, _, _ := newStackForTest(t)

	rec, first := registerLocal(t, h, "one@example.com", nil)
	carrier := cookieByName(rec, "wd_session")
	if carrier == nil {
		t.Fatal("expected a carrier cookie after registration")
	}
	if len(first.Accounts) != 1 || first.SelectedAccountID != first.Accounts[0].AccountID {
		t.Fatalf("unexpected first session state: %+v", first)
	}

	rec, second := registerLocal(t, h, "two@example.com", carrier)
	carrier = cookieByName(rec, "wd_session")
	if len(second.Accounts) != 2 {
		t.Fatalf("expected 2 attached accounts, got %d", len(second.Accounts))
	}
	if second.SelectedAccountID != first.Accounts[0].AccountID {
		t.Fatal("attaching a second account must not steal the selection")
	}
	otherID := second.Accounts[1].AccountID

	rec = doRequest(t, h, http.MethodPost, "/api/v1/session/accounts/"+otherID+"/select", nil, carrier)
	selected := decodeSession(t, decodeEnvelope(t, rec, http.StatusOK))
	if selected.SelectedAccountID != otherID {
		t.Fatalf("selection not moved: %+v", selected)
	}
	carrier = cookieByName(rec, "wd_session")

	rec = doRequest(t, h, http.MethodDelete, "/api/v1/session/accounts/"+otherID, nil, carrier)
	remaining := decodeSession(t, decodeEnvelope(t, rec, http.StatusOK))
	if len(remaining.Accounts) != 1 || remaining.SelectedAccountID != first.Accounts[0].AccountID {
		t.Fatalf("detach did not fall back to the remaining account: %+v", remaining)
	}
	carrier = cookieByName(rec, "wd_session")

	rec = doRequest(t, h, http.MethodDelete, "/api/v1/session/", nil, carrier)
	decodeEnvelope(t, rec, http.StatusOK)

	// The old carrier is revoked, not merely overwritten.
	rec = doRequest(t, h, http.MethodGet, "/api/v1/session/accounts", nil, carrier)
	decodeEnvelope(t, rec, http.StatusUnauthorized)
}

func TestDetachLastAccountDestroysSession(t *testing.T) {
	h, _, _, _ := newStackForTest(t)

	rec, data := registerLocal(t, h, "solo@example.com", nil)
	carrier := cookieByName(rec, "wd_session")

	rec = doRequest(t, h, http.MethodDelete, "/api/v1/session/accounts/"+data.Accounts[0].AccountID, nil, carrier)
	env := decodeEnvelope(t, rec, http.StatusOK)
	var status map[string]string
	if err := json.Unmarshal(env.Data, &status); err != nil || status["status"] != "session_destroyed" {
		t.Fatalf("expected session_destroyed, got %s", env.Data)
	}

	rec = doRequest(t, h, http.MethodGet, "/api/v1/session/accounts", nil, carrier)
	decodeEnvelope(t, rec, http.StatusUnauthorized)
}

func TestGoogleConsentFlow(t *testing.T) {
	h, _, _, _ := newStackForTest(t)

	rec := doRequest(t, h, http.MethodGet, "/api/v1/auth/google/login", nil)
	if rec.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d", rec.Code)
	}
	state := cookieByName(rec, security.StateCookieName)
	if state == nil || state.Value == "" {
		t.Fatal("expected a state cookie")
	}

	rec = doRequest(t, h, http.MethodGet, "/api/v1/auth/google/callback?state="+state.Value+"&code=auth-code", nil, state)
	data := decodeSession(t, decodeEnvelope(t, rec, http.StatusOK))
	if len(data.Accounts) != 1 || data.Accounts[0].Provider != domain.ProviderGoogle {
		t.Fatalf("unexpected session after callback: %+v", data)
	}
	if data.Accounts[0].Email != "google-user@example.com" {
		t.Fatalf("introspected identity not attached: %+v", data.Accounts[0])
	}

	carrier := cookieByName(rec, "wd_session")
	accountID := data.Accounts[0].AccountID

	rec = doRequest(t, h, http.MethodGet, "/api/v1/accounts/"+accountID+"/authorize?service=mail&level=readonly", nil, carrier)
	env := decodeEnvelope(t, rec, http.StatusOK)
	var authz map[string]any
	if err := json.Unmarshal(env.Data, &authz); err != nil {
		t.Fatalf("decode authorize payload: %v", err)
	}
	if authz["access_token"] != "access-0" {
		t.Fatalf("expected the stored access token, got %v", authz["access_token"])
	}
}

func TestGoogleCallbackRejectsStateMismatch(t *testing.T) {
	h, _, _, _ := newStackForTest(t)

	rec := doRequest(t, h, http.MethodGet, "/api/v1/auth/google/callback?state=forged&code=auth-code", nil,
		&http.Cookie{Name: security.StateCookieName, Value: "expected"})
	env := decodeEnvelope(t, rec, http.StatusBadRequest)
	if env.Error == nil || env.Error.Code != "INVALID_STATE" {
		t.Fatalf("expected INVALID_STATE, got %+v", env.Error)
	}
}

func TestAuthorizeInsufficientScopeOverHTTP(t *testing.T) {
	h, _, _, _ := newStackForTest(t)

	rec := doRequest(t, h, http.MethodGet, "/api/v1/auth/google/login", nil)
	state := cookieByName(rec, security.StateCookieName)
	rec = doRequest(t, h, http.MethodGet, "/api/v1/auth/google/callback?state="+state.Value+"&code=auth-code", nil, state)
	data := decodeSession(t, decodeEnvelope(t, rec, http.StatusOK))
	carrier := cookieByName(rec, "wd_session")

	rec = doRequest(t, h, http.MethodGet, "/api/v1/accounts/"+data.Accounts[0].AccountID+"/authorize?service=drive&level=full", nil, carrier)
	env := decodeEnvelope(t, rec, http.StatusForbidden)
	if env.Error == nil || env.Error.Code != "INSUFFICIENT_SCOPE" {
		t.Fatalf("expected INSUFFICIENT_SCOPE, got %+v", env.Error)
	}
	if env.Error.Details["required_scope"] != "https://www.googleapis.com/auth/drive" {
		t.Fatalf("expected required_scope detail, got %v", env.Error.Details)
	}
	if _, ok := env.Error.Details["consent_url"].(string); !ok {
		t.Fatalf("expected consent_url detail, got %v", env.Error.Details)
	}
}

func TestAuthorizeUnknownScopeRequirementOverHTTP(t *testing.T) {
	h, _, _, _ := newStackForTest(t)

	rec := doRequest(t, h, http.MethodGet, "/api/v1/auth/google/login", nil)
	state := cookieByName(rec, security.StateCookieName)
	rec = doRequest(t, h, http.MethodGet, "/api/v1/auth/google/callback?state="+state.Value+"&code=auth-code", nil, state)
	data := decodeSession(t, decodeEnvelope(t, rec, http.StatusOK))
	carrier := cookieByName(rec, "wd_session")

	rec = doRequest(t, h, http.MethodGet, "/api/v1/accounts/"+data.Accounts[0].AccountID+"/authorize?service=spreadsheets&level=readonly", nil, carrier)
	env := decodeEnvelope(t, rec, http.StatusBadRequest)
	if env.Error == nil || env.Error.Code != "UNKNOWN_SCOPE_REQUIREMENT" {
		t.Fatalf("expected UNKNOWN_SCOPE_REQUIREMENT, got %+v", env.Error)
	}
}

func TestAuthorizeRefreshReissuesCarrier(t *testing.T) {
	h, provider, _, _ := newStackForTest(t)
	provider.grantExpiry = time.Now().Add(-time.Minute)

	rec := doRequest(t, h, http.MethodGet, "/api/v1/auth/google/login", nil)
	state := cookieByName(rec, security.StateCookieName)
	rec = doRequest(t, h, http.MethodGet, "/api/v1/auth/google/callback?state="+state.Value+"&code=auth-code", nil, state)
	data := decodeSession(t, decodeEnvelope(t, rec, http.StatusOK))
	carrier := cookieByName(rec, "wd_session")

	rec = doRequest(t, h, http.MethodGet, "/api/v1/accounts/"+data.Accounts[0].AccountID+"/authorize?service=mail&level=readonly", nil, carrier)
	env := decodeEnvelope(t, rec, http.StatusOK)
	var authz map[string]any
	if err := json.Unmarshal(env.Data, &authz); err != nil {
		t.Fatalf("decode authorize payload: %v", err)
	}
	if authz["access_token"] != "access-refreshed" {
		t.Fatalf("expected the refreshed token, got %v", authz["access_token"])
	}
	if provider.refreshCalls != 1 {
		t.Fatalf("expected one refresh, got %d", provider.refreshCalls)
	}
	if cookieByName(rec, "wd_session") == nil {
		t.Fatal("expected the carrier to be re-issued after a refresh")
	}
}

func TestLocalLoginReattachIsIdempotent(t *testing.T) {
	h, _, _, _ := newStackForTest(t)

	rec, _ := registerLocal(t, h, "repeat@example.com", nil)
	carrier := cookieByName(rec, "wd_session")

	body, _ := json.Marshal(map[string]string{"email": "repeat@example.com", "password": "hunter2hunter2"})
	rec = doRequest(t, h, http.MethodPost, "/api/v1/auth/local/login", body, carrier)
	data := decodeSession(t, decodeEnvelope(t, rec, http.StatusOK))
	if len(data.Accounts) != 1 {
		t.Fatalf("re-login must not duplicate the account: %+v", data.Accounts)
	}
}

func TestRequireScopeGuardsProxyRoutes(t *testing.T) {
	h, _, g, sessions := newStackForTest(t)

	rec := doRequest(t, h, http.MethodGet, "/api/v1/auth/google/login", nil)
	state := cookieByName(rec, security.StateCookieName)
	rec = doRequest(t, h, http.MethodGet, "/api/v1/auth/google/callback?state="+state.Value+"&code=auth-code", nil, state)
	data := decodeSession(t, decodeEnvelope(t, rec, http.StatusOK))
	carrier := cookieByName(rec, "wd_session")
	accountID := data.Accounts[0].AccountID

	// A provider-proxy route guarded in-process rather than via the
	// authorize endpoint.
	proxy := chi.NewRouter()
	proxy.Use(middleware.WithSession(sessions))
	proxy.With(middleware.RequireScope(g, "mail", "readonly")).
		Get("/proxy/{accountID}/messages", func(w http.ResponseWriter, r *http.Request) {
			authorized, ok := middleware.AuthorizedFromContext(r.Context())
			if !ok {
				t.Error("expected authorized context on the request")
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			if authorized.AccessToken == "" {
				t.Error("expected a live access token")
			}
			w.WriteHeader(http.StatusOK)
		})

	rec = doRequest(t, proxy, http.MethodGet, "/proxy/"+accountID+"/messages", nil, carrier)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 through the scope guard, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, proxy, http.MethodGet, "/proxy/not-in-session/messages", nil, carrier)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a foreign account, got %d", rec.Code)
	}

	rec = doRequest(t, proxy, http.MethodGet, "/proxy/"+accountID+"/messages", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a carrier, got %d", rec.Code)
	}
}

func TestLocalLoginRejectsBadPassword(t *testing.T) {
	h, _, _, _ := newStackForTest(t)
	registerLocal(t, h, "victim@example.com", nil)

	body, _ := json.Marshal(map[string]string{"email": "victim@example.com", "password": "wrong"})
	rec := doRequest(t, h, http.MethodPost, "/api/v1/auth/local/login", body)
	env := decodeEnvelope(t, rec, http.StatusUnauthorized)
	if env.Error == nil || env.Error.Code != "INVALID_CREDENTIALS" {
		t.Fatalf("expected INVALID_CREDENTIALS, got %+v", env.Error)
	}
}
