package domain

import "time"

type Provider string

const (
	ProviderGoogle Provider = "google"
	ProviderLocal  Provider = "local"
)

type AccountStatus string

const (
	AccountActive   AccountStatus = "active"
	AccountInactive AccountStatus = "inactive"
)

// Account is one external identity (an OAuth identity or a local credential
// identity). Accounts are detached from sessions on logout, never deleted.
type Account struct {
	ID                    string        `gorm:"primaryKey;size:36" json:"id"`
	Provider              Provider      `gorm:"size:32;not null;uniqueIndex:idx_provider_email" json:"provider"`
	AccountType           string        `gorm:"size:32;not null" json:"account_type"`
	Email                 string        `gorm:"size:320;not null;uniqueIndex:idx_provider_email" json:"email"`
	Name                  string        `gorm:"size:256" json:"name"`
	AvatarURL             string        `gorm:"size:1024" json:"avatar_url,omitempty"`
	Status                AccountStatus `gorm:"size:16;not null;default:active" json:"status"`
	PasswordHash          string        `gorm:"size:128" json:"-"`
	TwoFactorEnabled      bool          `gorm:"default:false" json:"two_factor_enabled"`
	SessionTimeoutMinutes int           `gorm:"default:0" json:"session_timeout_minutes,omitempty"`
	CreatedAt             time.Time     `json:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at"`
}

// TokenDetails holds the provider token material for one account. Only the
// token repository writes these rows; everything else reads.
type TokenDetails struct {
	AccountID      string    `gorm:"primaryKey;size:36" json:"account_id"`
	AccessToken    string    `gorm:"size:4096;not null" json:"-"`
	RefreshToken   string    `gorm:"size:1024" json:"-"`
	TokenCreatedAt time.Time `gorm:"index;not null" json:"token_created_at"`
	ExpiresAt      time.Time `gorm:"index;not null" json:"expires_at"`
	Scope          string    `gorm:"size:4096" json:"scope"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Expired reports whether the access token is unusable at t, allowing for a
// pre-expiry safety margin.
func (t *TokenDetails) Expired(now time.Time, skew time.Duration) bool {
	return !t.ExpiresAt.After(now.Add(skew))
}

// GrantedScopes splits the space-separated scope string.
func (t *TokenDetails) GrantedScopes() []string {
	return splitScopes(t.Scope)
}

// HasScope reports whether the canonical scope URI is in the granted set.
func (t *TokenDetails) HasScope(scopeURI string) bool {
	for _, s := range t.GrantedScopes() {
		if s == scopeURI {
			return true
		}
	}
	return false
}

func splitScopes(raw string) []string {
	var out []string
	start := -1
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ' ' {
			if start >= 0 {
				out = append(out, raw[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	return out
}
