// Package oauth talks to the OAuth provider: consent URLs, code exchange,
// token refresh and introspection. Clients are constructed per call with
// immutable credentials; nothing here holds mutable token state.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"

	"github.com/workdeck/account-session-service/internal/scope"
)

const tokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"

// GoogleProvider wraps an oauth2.Config for the Google endpoint. The config
// value is copied per call so concurrent flows never share credentials.
type GoogleProvider struct {
	clientID     string
	clientSecret string
	redirectURL  string
	timeout      time.Duration
	httpClient   *http.Client
}

func NewGoogleProvider(clientID, clientSecret, redirectURL string, timeout time.Duration) *GoogleProvider {
	return &GoogleProvider{
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURL:  redirectURL,
		timeout:      timeout,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

func (p *GoogleProvider) config(scopes []string) oauth2.Config {
	return oauth2.Config{
		ClientID:     p.clientID,
		ClientSecret: p.clientSecret,
		RedirectURL:  p.redirectURL,
		Scopes:       scopes,
		Endpoint:     googleoauth.Endpoint,
	}
}

// ConsentURL builds the authorization URL for the base login scopes.
func (p *GoogleProvider) ConsentURL(state string) string {
	cfg := p.config(scope.BaseScopes)
	return cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	)
}

// IncrementalConsentURL builds the authorization URL that asks the user to
// grant one additional canonical scope for an already attached account.
// Previously granted scopes are retained via include_granted_scopes.
func (p *GoogleProvider) IncrementalConsentURL(state, email, requiredScope string) string {
	scopes := append([]string{}, scope.BaseScopes...)
	if requiredScope != "" {
		scopes = append(scopes, requiredScope)
	}
	cfg := p.config(scopes)
	opts := []oauth2.AuthCodeOption{
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	}
	if email != "" {
		opts = append(opts, oauth2.SetAuthURLParam("login_hint", email))
	}
	return cfg.AuthCodeURL(state, opts...)
}

// Exchange trades an authorization code for a token grant.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*Grant, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	cfg := p.config(scope.BaseScopes)
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, classifyProviderError(err)
	}
	return grantFromToken(tok), nil
}

func grantFromToken(tok *oauth2.Token) *Grant {
	grantedScope, _ := tok.Extra("scope").(string)
	return &Grant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
		Scope:        grantedScope,
	}
}

// UserInfo is the identity half of the tokeninfo response.
type UserInfo struct {
	Email         string `json:"email"`
	EmailVerified string `json:"email_verified"`
	Scope         string `json:"scope"`
	ExpiresIn     string `json:"expires_in"`
}

func (p *GoogleProvider) fetchTokenInfo(ctx context.Context, accessToken string) (*UserInfo, int, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	endpoint := tokenInfoURL + "?" + url.Values{"access_token": {accessToken}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, fmt.Errorf("tokeninfo status: %d", resp.StatusCode)
	}
	var info UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, resp.StatusCode, err
	}
	return &info, resp.StatusCode, nil
}
