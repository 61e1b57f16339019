package oauth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

var (
	// ErrTokenRevoked means the refresh token is invalid or revoked at the
	// provider. Terminal: the account must go through consent again.
	ErrTokenRevoked = errors.New("refresh token revoked")

	// ErrProviderUnavailable covers network failures, timeouts and provider
	// 5xx responses. Retryable by the caller; never retried here.
	ErrProviderUnavailable = errors.New("oauth provider unavailable")
)

// Grant is the provider's answer to a refresh or exchange. RefreshToken is
// empty when the provider did not rotate it.
type Grant struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scope        string
}

// Introspection describes a live access token.
type Introspection struct {
	Scope     string
	ExpiresAt time.Time
	Email     string
	Verified  bool
}

// Refresher exchanges refresh tokens for fresh grants and introspects access
// tokens. Implementations must not log token values.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*Grant, error)
	Introspect(ctx context.Context, accessToken string) (*Introspection, error)
}

// Refresh exchanges the refresh token at Google's token endpoint. The call
// carries a bounded timeout; a timeout is ErrProviderUnavailable, never
// ErrTokenRevoked, so callers can keep the two failure modes apart.
func (p *GoogleProvider) Refresh(ctx context.Context, refreshToken string) (*Grant, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cfg := p.config(nil)
	src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, classifyProviderError(err)
	}
	grant := grantFromToken(tok)
	if grant.RefreshToken == refreshToken {
		grant.RefreshToken = ""
	}
	return grant, nil
}

// Introspect asks the tokeninfo endpoint about an access token.
func (p *GoogleProvider) Introspect(ctx context.Context, accessToken string) (*Introspection, error) {
	info, status, err := p.fetchTokenInfo(ctx, accessToken)
	if err != nil {
		if status >= 400 && status < 500 {
			return nil, fmt.Errorf("%w: %w", ErrTokenRevoked, err)
		}
		return nil, classifyProviderError(err)
	}
	expiresIn, _ := strconv.Atoi(info.ExpiresIn)
	return &Introspection{
		Scope:     info.Scope,
		ExpiresAt: time.Now().Add(time.Duration(expiresIn) * time.Second),
		Email:     info.Email,
		Verified:  info.EmailVerified == "true",
	}, nil
}

// classifyProviderError separates terminal revocations from transient
// provider trouble. Only explicit grant rejections force re-auth.
func classifyProviderError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if isRevocationCode(retrieveErr.ErrorCode) {
			return fmt.Errorf("%w: %s", ErrTokenRevoked, retrieveErr.ErrorCode)
		}
		if retrieveErr.Response != nil && retrieveErr.Response.StatusCode < 500 {
			msg := strings.ToLower(string(retrieveErr.Body))
			if strings.Contains(msg, "invalid_grant") || strings.Contains(msg, "revoked") {
				return fmt.Errorf("%w: %s", ErrTokenRevoked, retrieveErr.ErrorCode)
			}
		}
	}
	return fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
}

func isRevocationCode(code string) bool {
	switch code {
	case "invalid_grant", "invalid_client", "unauthorized_client":
		return true
	}
	return false
}
