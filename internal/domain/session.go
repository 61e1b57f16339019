package domain

import "time"

// AccountSession is the per-account entry embedded in a session carrier. The
// token fields are a best-effort snapshot; the token repository remains the
// authoritative copy and the snapshot is rebuilt after every refresh.
type AccountSession struct {
	AccountID   string    `json:"account_id"`
	Provider    Provider  `json:"provider"`
	AccountType string    `json:"account_type"`
	Email       string    `json:"email"`
	Name        string    `json:"name,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
	Scope       string    `json:"scope,omitempty"`
}

// Session is the set of accounts attached to one browser context. It lives in
// a signed carrier cookie; the server keeps no session row, only a revocation
// denylist for full logout.
type Session struct {
	SessionID         string           `json:"session_id"`
	Accounts          []AccountSession `json:"accounts"`
	SelectedAccountID string           `json:"selected_account_id,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	ExpiresAt         time.Time        `json:"expires_at"`
}

// Has reports whether accountID is attached to the session.
func (s *Session) Has(accountID string) bool {
	return s.Account(accountID) != nil
}

// Account returns the attached entry for accountID, or nil.
func (s *Session) Account(accountID string) *AccountSession {
	for i := range s.Accounts {
		if s.Accounts[i].AccountID == accountID {
			return &s.Accounts[i]
		}
	}
	return nil
}

// Empty reports whether no accounts remain attached. An empty session is
// equivalent to no session and must not be re-issued.
func (s *Session) Empty() bool { return len(s.Accounts) == 0 }
