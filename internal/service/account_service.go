package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/workdeck/account-session-service/internal/domain"
	"github.com/workdeck/account-session-service/internal/oauth"
	"github.com/workdeck/account-session-service/internal/repository"
	"github.com/workdeck/account-session-service/internal/security"
)

var (
	ErrEmailNotVerified   = errors.New("provider email not verified")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
)

// OAuthExchanger is the consent-flow half of the provider client.
type OAuthExchanger interface {
	Exchange(ctx context.Context, code string) (*oauth.Grant, error)
	Introspect(ctx context.Context, accessToken string) (*oauth.Introspection, error)
}

// AccountService creates and resolves accounts from OAuth callbacks and
// local credentials. Token rows are written through the token repository,
// the single writer-of-record.
type AccountService struct {
	accounts repository.AccountRepository
	tokens   repository.TokenRepository
	provider OAuthExchanger
}

func NewAccountService(accounts repository.AccountRepository, tokens repository.TokenRepository, provider OAuthExchanger) *AccountService {
	return &AccountService{accounts: accounts, tokens: tokens, provider: provider}
}

// HandleGoogleCallback exchanges the authorization code, verifies the
// identity behind the token, and upserts the Account plus its TokenDetails.
func (s *AccountService) HandleGoogleCallback(ctx context.Context, code string) (*domain.Account, *domain.TokenDetails, error) {
	grant, err := s.provider.Exchange(ctx, code)
	if err != nil {
		return nil, nil, fmt.Errorf("exchange code: %w", err)
	}
	info, err := s.provider.Introspect(ctx, grant.AccessToken)
	if err != nil {
		return nil, nil, fmt.Errorf("introspect token: %w", err)
	}
	if !info.Verified || info.Email == "" {
		return nil, nil, ErrEmailNotVerified
	}

	account, err := s.accounts.FindByProviderEmail(ctx, domain.ProviderGoogle, info.Email)
	if errors.Is(err, repository.ErrAccountNotFound) {
		account = &domain.Account{
			ID:          uuid.NewString(),
			Provider:    domain.ProviderGoogle,
			AccountType: "oauth",
			Email:       info.Email,
			Status:      domain.AccountActive,
		}
		if err := s.accounts.Upsert(ctx, account); err != nil {
			return nil, nil, err
		}
	} else if err != nil {
		return nil, nil, err
	}

	grantedScope := grant.Scope
	if grantedScope == "" {
		grantedScope = info.Scope
	}
	details := &domain.TokenDetails{
		AccountID:      account.ID,
		AccessToken:    grant.AccessToken,
		RefreshToken:   grant.RefreshToken,
		TokenCreatedAt: time.Now().UTC(),
		ExpiresAt:      grant.ExpiresAt,
		Scope:          grantedScope,
	}
	if err := s.tokens.Put(ctx, details); err != nil {
		return nil, nil, err
	}
	return account, details, nil
}

// RegisterLocal creates a password-backed local account.
func (s *AccountService) RegisterLocal(ctx context.Context, email, name, password string) (*domain.Account, error) {
	if _, err := s.accounts.FindByProviderEmail(ctx, domain.ProviderLocal, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, repository.ErrAccountNotFound) {
		return nil, err
	}
	hash, err := security.HashPassword(password)
	if err != nil {
		return nil, err
	}
	account := &domain.Account{
		ID:           uuid.NewString(),
		Provider:     domain.ProviderLocal,
		AccountType:  "local",
		Email:        email,
		Name:         name,
		Status:       domain.AccountActive,
		PasswordHash: hash,
	}
	if err := s.accounts.Upsert(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// LoginLocal verifies local credentials. Lookup misses and password
// mismatches collapse into one error so the response does not leak which
// emails exist.
func (s *AccountService) LoginLocal(ctx context.Context, email, password string) (*domain.Account, error) {
	account, err := s.accounts.FindByProviderEmail(ctx, domain.ProviderLocal, email)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if account.Status != domain.AccountActive {
		return nil, ErrInvalidCredentials
	}
	if !security.VerifyPassword(account.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return account, nil
}

// SessionEntry builds the carrier snapshot for an account. Local accounts
// carry no token snapshot.
func SessionEntry(account *domain.Account, details *domain.TokenDetails) domain.AccountSession {
	entry := domain.AccountSession{
		AccountID:   account.ID,
		Provider:    account.Provider,
		AccountType: account.AccountType,
		Email:       account.Email,
		Name:        account.Name,
		AvatarURL:   account.AvatarURL,
	}
	if details != nil {
		entry.ExpiresAt = details.ExpiresAt.UTC().Truncate(time.Second)
		entry.Scope = details.Scope
	}
	return entry
}
