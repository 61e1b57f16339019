package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/workdeck/account-session-service/internal/domain"
	"github.com/workdeck/account-session-service/internal/oauth"
	"github.com/workdeck/account-session-service/internal/repository"
)

type memAccountRepo struct {
	accounts map[string]*domain.Account
}

func newMemAccountRepo() *memAccountRepo {
	return &memAccountRepo{accounts: map[string]*domain.Account{}}
}

func (r *memAccountRepo) FindByID(_ context.Context, id string) (*domain.Account, error) {
	if a, ok := r.accounts[id]; ok {
		copied := *a
		return &copied, nil
	}
	return nil, repository.ErrAccountNotFound
}

func (r *memAccountRepo) FindByProviderEmail(_ context.Context, provider domain.Provider, email string) (*domain.Account, error) {
	for _, a := range r.accounts {
		if a.Provider == provider && a.Email == email {
			copied := *a
			return &copied, nil
		}
	}
	return nil, repository.ErrAccountNotFound
}

func (r *memAccountRepo) Upsert(_ context.Context, account *domain.Account) error {
	copied := *account
	r.accounts[account.ID] = &copied
	return nil
}

func (r *memAccountRepo) Update(ctx context.Context, account *domain.Account) error {
	return r.Upsert(ctx, account)
}

func (r *memAccountRepo) SetStatus(_ context.Context, id string, status domain.AccountStatus) error {
	a, ok := r.accounts[id]
	if !ok {
		return repository.ErrAccountNotFound
	}
	a.Status = status
	return nil
}

type memTokenRepo struct {
	tokens map[string]*domain.TokenDetails
}

func newMemTokenRepo() *memTokenRepo {
	return &memTokenRepo{tokens: map[string]*domain.TokenDetails{}}
}

func (r *memTokenRepo) Get(_ context.Context, accountID string) (*domain.TokenDetails, error) {
	if t, ok := r.tokens[accountID]; ok {
		copied := *t
		return &copied, nil
	}
	return nil, repository.ErrTokenNotFound
}

func (r *memTokenRepo) Put(_ context.Context, details *domain.TokenDetails) error {
	copied := *details
	if copied.RefreshToken == "" {
		if stored, ok := r.tokens[details.AccountID]; ok {
			copied.RefreshToken = stored.RefreshToken
		}
	}
	r.tokens[details.AccountID] = &copied
	return nil
}

func (r *memTokenRepo) MarkRefreshed(_ context.Context, accountID string, grant repository.RefreshGrant) (*domain.TokenDetails, error) {
	t, ok := r.tokens[accountID]
	if !ok {
		return nil, repository.ErrTokenNotFound
	}
	t.AccessToken = grant.AccessToken
	t.TokenCreatedAt = grant.TokenCreatedAt
	t.ExpiresAt = grant.ExpiresAt
	copied := *t
	return &copied, nil
}

type fakeExchanger struct {
	grant *oauth.Grant
	info  *oauth.Introspection
	err   error
}

func (f *fakeExchanger) Exchange(context.Context, string) (*oauth.Grant, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.grant, nil
}

func (f *fakeExchanger) Introspect(context.Context, string) (*oauth.Introspection, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.info, nil
}

func verifiedExchanger() *fakeExchanger {
	return &fakeExchanger{
		grant: &oauth.Grant{
			AccessToken:  "access-0",
			RefreshToken: "refresh-0",
			ExpiresAt:    time.Now().Add(time.Hour),
			Scope:        "openid https://www.googleapis.com/auth/gmail.readonly",
		},
		info: &oauth.Introspection{
			Email:    "user@example.com",
			Verified: true,
			Scope:    "openid",
		},
	}
}

func TestHandleGoogleCallbackCreatesAccountAndToken(t *testing.T) {
	accounts := newMemAccountRepo()
	tokens := newMemTokenRepo()
	svc := NewAccountService(accounts, tokens, verifiedExchanger())

	account, details, err := svc.HandleGoogleCallback(context.Background(), "auth-code")
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if account.Email != "user@example.com" || account.Provider != domain.ProviderGoogle {
		t.Fatalf("unexpected account: %+v", account)
	}
	if details.AccountID != account.ID || details.AccessToken != "access-0" {
		t.Fatalf("unexpected token details: %+v", details)
	}
	if details.Scope != "openid https://www.googleapis.com/auth/gmail.readonly" {
		t.Fatalf("grant scope not preferred: %q", details.Scope)
	}
	if _, err := tokens.Get(context.Background(), account.ID); err != nil {
		t.Fatalf("token row not persisted: %v", err)
	}
}

func TestHandleGoogleCallbackReusesExistingAccount(t *testing.T) {
	accounts := newMemAccountRepo()
	tokens := newMemTokenRepo()
	svc := NewAccountService(accounts, tokens, verifiedExchanger())

	first, _, err := svc.HandleGoogleCallback(context.Background(), "code-1")
	if err != nil {
		t.Fatalf("first callback: %v", err)
	}
	second, _, err := svc.HandleGoogleCallback(context.Background(), "code-2")
	if err != nil {
		t.Fatalf("second callback: %v", err)
	}
	if first.ID != second.ID {
		t.Fatal("a returning identity must resolve to the same account")
	}
	if len(accounts.accounts) != 1 {
		t.Fatalf("expected 1 account, got %d", len(accounts.accounts))
	}
}

func TestHandleGoogleCallbackFallsBackToIntrospectedScope(t *testing.T) {
	exchanger := verifiedExchanger()
	exchanger.grant.Scope = ""
	svc := NewAccountService(newMemAccountRepo(), newMemTokenRepo(), exchanger)

	_, details, err := svc.HandleGoogleCallback(context.Background(), "auth-code")
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if details.Scope != "openid" {
		t.Fatalf("expected introspected scope fallback, got %q", details.Scope)
	}
}

func TestHandleGoogleCallbackRejectsUnverifiedEmail(t *testing.T) {
	exchanger := verifiedExchanger()
	exchanger.info.Verified = false
	svc := NewAccountService(newMemAccountRepo(), newMemTokenRepo(), exchanger)

	if _, _, err := svc.HandleGoogleCallback(context.Background(), "auth-code"); !errors.Is(err, ErrEmailNotVerified) {
		t.Fatalf("expected ErrEmailNotVerified, got %v", err)
	}
}

func TestHandleGoogleCallbackPropagatesProviderFailure(t *testing.T) {
	exchanger := &fakeExchanger{err: oauth.ErrProviderUnavailable}
	svc := NewAccountService(newMemAccountRepo(), newMemTokenRepo(), exchanger)

	if _, _, err := svc.HandleGoogleCallback(context.Background(), "auth-code"); !errors.Is(err, oauth.ErrProviderUnavailable) {
		t.Fatalf("expected provider error to surface, got %v", err)
	}
}

func TestRegisterAndLoginLocal(t *testing.T) {
	svc := NewAccountService(newMemAccountRepo(), newMemTokenRepo(), nil)

	account, err := svc.RegisterLocal(context.Background(), "local@example.com", "Local User", "hunter2hunter2")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if account.Provider != domain.ProviderLocal || account.PasswordHash == "" {
		t.Fatalf("unexpected account: %+v", account)
	}
	if account.PasswordHash == "hunter2hunter2" {
		t.Fatal("password must be stored hashed")
	}

	got, err := svc.LoginLocal(context.Background(), "local@example.com", "hunter2hunter2")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if got.ID != account.ID {
		t.Fatalf("login resolved a different account: %s vs %s", got.ID, account.ID)
	}
}

func TestRegisterLocalRejectsDuplicateEmail(t *testing.T) {
	svc := NewAccountService(newMemAccountRepo(), newMemTokenRepo(), nil)

	if _, err := svc.RegisterLocal(context.Background(), "local@example.com", "A", "hunter2hunter2"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.RegisterLocal(context.Background(), "local@example.com", "B", "hunter2hunter2"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestLoginLocalCollapsesFailureModes(t *testing.T) {
	accounts := newMemAccountRepo()
	svc := NewAccountService(accounts, newMemTokenRepo(), nil)

	if _, err := svc.LoginLocal(context.Background(), "nobody@example.com", "whatever"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email: expected ErrInvalidCredentials, got %v", err)
	}

	account, err := svc.RegisterLocal(context.Background(), "local@example.com", "Local", "hunter2hunter2")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.LoginLocal(context.Background(), "local@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("bad password: expected ErrInvalidCredentials, got %v", err)
	}

	if err := accounts.SetStatus(context.Background(), account.ID, domain.AccountInactive); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if _, err := svc.LoginLocal(context.Background(), "local@example.com", "hunter2hunter2"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("inactive account: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestSessionEntrySnapshot(t *testing.T) {
	account := &domain.Account{
		ID:          "acc-1",
		Provider:    domain.ProviderGoogle,
		AccountType: "oauth",
		Email:       "user@example.com",
		Name:        "User",
	}
	expiry := time.Now().Add(time.Hour)
	details := &domain.TokenDetails{
		AccountID: "acc-1",
		ExpiresAt: expiry,
		Scope:     "openid",
	}

	entry := SessionEntry(account, details)
	if entry.AccountID != "acc-1" || entry.Email != "user@example.com" {
		t.Fatalf("identity fields not carried: %+v", entry)
	}
	if !entry.ExpiresAt.Equal(expiry.UTC().Truncate(time.Second)) {
		t.Fatalf("expiry not truncated to seconds: %v", entry.ExpiresAt)
	}

	local := SessionEntry(&domain.Account{ID: "acc-2", Provider: domain.ProviderLocal, AccountType: "local"}, nil)
	if !local.ExpiresAt.IsZero() || local.Scope != "" {
		t.Fatalf("local entry must carry no token snapshot: %+v", local)
	}
}
