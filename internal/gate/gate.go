// Package gate is the per-request gatekeeper in front of every provider
// proxy call: session resolution, account membership, token freshness and
// scope sufficiency, in that order.
package gate

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/workdeck/account-session-service/internal/domain"
	"github.com/workdeck/account-session-service/internal/oauth"
	"github.com/workdeck/account-session-service/internal/observability"
	"github.com/workdeck/account-session-service/internal/repository"
	"github.com/workdeck/account-session-service/internal/scope"
)

// ConsentURLBuilder produces the incremental-consent URL embedded in
// INSUFFICIENT_SCOPE and REAUTH_REQUIRED verdicts.
type ConsentURLBuilder interface {
	IncrementalConsentURL(state, email, requiredScope string) string
}

// AuthorizedContext is what a provider proxy needs to make one upstream
// call: the live access token and the identity it belongs to. Refreshed
// tells the handler layer to re-issue the session carrier with a fresh
// token snapshot.
type AuthorizedContext struct {
	AccountID   string
	Provider    domain.Provider
	Email       string
	AccessToken string
	ExpiresAt   time.Time
	Scope       string
	Refreshed   bool
}

type Gate struct {
	accounts  repository.AccountRepository
	tokens    repository.TokenRepository
	refresher oauth.Refresher
	scopes    *scope.Registry
	consent   ConsentURLBuilder

	refreshSkew  time.Duration
	refreshGroup singleflight.Group
}

func New(
	accounts repository.AccountRepository,
	tokens repository.TokenRepository,
	refresher oauth.Refresher,
	scopes *scope.Registry,
	consent ConsentURLBuilder,
	refreshSkew time.Duration,
) *Gate {
	return &Gate{
		accounts:    accounts,
		tokens:      tokens,
		refresher:   refresher,
		scopes:      scopes,
		consent:     consent,
		refreshSkew: refreshSkew,
	}
}

// Authorize runs the full gate for (accountID, service, level) against the
// given session. A *Error return is a protocol verdict the boundary maps to
// a status code; any other error is an infrastructure failure.
//
// Scope resolution happens first: an unknown service or level is a
// configuration bug and must surface before any I/O.
func (g *Gate) Authorize(ctx context.Context, sess *domain.Session, accountID, service, level string) (*AuthorizedContext, error) {
	requiredScope, err := g.scopes.Resolve(service, level)
	if err != nil {
		return nil, err
	}

	if sess == nil || !sess.ExpiresAt.After(time.Now()) {
		observability.RecordGateDecision(ctx, service, level, "unauthenticated")
		return nil, newError(CodeUnauthenticated, "no valid session")
	}
	// An explicitly named account must be a member; never fall back to the
	// selected account.
	if !sess.Has(accountID) {
		observability.RecordGateDecision(ctx, service, level, "forbidden_account")
		return nil, newError(CodeForbiddenAccount, "account is not attached to this session")
	}

	account, err := g.accounts.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			observability.RecordGateDecision(ctx, service, level, "account_not_found")
			return nil, newError(CodeAccountNotFound, "account record not found")
		}
		return nil, err
	}

	details, err := g.tokens.Get(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrTokenNotFound) {
			observability.RecordGateDecision(ctx, service, level, "account_not_found")
			return nil, newError(CodeAccountNotFound, "no token details for account")
		}
		return nil, err
	}

	refreshed := false
	if details.Expired(time.Now(), g.refreshSkew) {
		details, err = g.refreshToken(ctx, account, details)
		if err != nil {
			var gateErr *Error
			if errors.As(err, &gateErr) {
				observability.RecordGateDecision(ctx, service, level, "refresh_"+string(gateErr.Code))
			}
			return nil, err
		}
		refreshed = true
	}

	if !details.HasScope(requiredScope) {
		observability.RecordGateDecision(ctx, service, level, "insufficient_scope")
		gateErr := newError(CodeInsufficientScope, "granted scope does not cover the request").
			withDetail("service", service).
			withDetail("level", level).
			withDetail("required_scope", requiredScope)
		if g.consent != nil {
			gateErr.withDetail("consent_url", g.consent.IncrementalConsentURL(accountID, account.Email, requiredScope))
		}
		return nil, gateErr
	}

	observability.RecordGateDecision(ctx, service, level, "allowed")
	return &AuthorizedContext{
		AccountID:   account.ID,
		Provider:    account.Provider,
		Email:       account.Email,
		AccessToken: details.AccessToken,
		ExpiresAt:   details.ExpiresAt,
		Scope:       details.Scope,
		Refreshed:   refreshed,
	}, nil
}

// refreshToken refreshes at most once per request. Concurrent requests for
// the same account share one provider call through the singleflight group;
// the conditional write in the repository guards cross-instance races.
func (g *Gate) refreshToken(ctx context.Context, account *domain.Account, stale *domain.TokenDetails) (*domain.TokenDetails, error) {
	if stale.RefreshToken == "" {
		return nil, g.reauthError(account)
	}

	v, err, _ := g.refreshGroup.Do(account.ID, func() (any, error) {
		// Another flight may have refreshed while this caller waited for the
		// group; re-read before paying for a provider round trip.
		current, err := g.tokens.Get(ctx, account.ID)
		if err != nil {
			return nil, err
		}
		if !current.Expired(time.Now(), g.refreshSkew) {
			return current, nil
		}

		start := time.Now()
		grant, err := g.refresher.Refresh(ctx, current.RefreshToken)
		elapsed := time.Since(start)
		if err != nil {
			switch {
			case errors.Is(err, oauth.ErrTokenRevoked):
				observability.RecordTokenRefresh(ctx, "revoked", elapsed)
				// Leave the stored record intact for audit; only the verdict
				// changes.
				return nil, g.reauthError(account)
			case errors.Is(err, oauth.ErrProviderUnavailable):
				observability.RecordTokenRefresh(ctx, "provider_unavailable", elapsed)
				return nil, newError(CodeProviderUnavailable, "token refresh failed upstream")
			}
			observability.RecordTokenRefresh(ctx, "error", elapsed)
			return nil, err
		}

		updated, err := g.tokens.MarkRefreshed(ctx, account.ID, repository.RefreshGrant{
			AccessToken:    grant.AccessToken,
			RefreshToken:   grant.RefreshToken,
			TokenCreatedAt: start.UTC(),
			ExpiresAt:      grant.ExpiresAt,
			Scope:          grant.Scope,
		})
		if err != nil {
			if errors.Is(err, repository.ErrStaleTokenWrite) {
				observability.RecordTokenRefresh(ctx, "stale_write", elapsed)
				return updated, nil
			}
			return nil, err
		}
		observability.RecordTokenRefresh(ctx, "success", elapsed)
		return updated, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.TokenDetails), nil
}

func (g *Gate) reauthError(account *domain.Account) *Error {
	gateErr := newError(CodeReauthRequired, "refresh token is no longer valid; restart the consent flow")
	if g.consent != nil {
		gateErr.withDetail("consent_url", g.consent.IncrementalConsentURL(account.ID, account.Email, ""))
	}
	return gateErr
}
