// Package session owns the multi-account session record: the set of attached
// accounts, the selected account, and the signed carrier that transports it.
package session

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/workdeck/account-session-service/internal/domain"
	"github.com/workdeck/account-session-service/internal/observability"
	"github.com/workdeck/account-session-service/internal/security"
)

var (
	ErrMaxAccountsExceeded = errors.New("maximum accounts per session exceeded")
	ErrAccountNotInSession = errors.New("account not attached to session")
)

// RevocationStore remembers session IDs that were destroyed before their
// natural expiry (full logout), so a stolen carrier cannot be replayed.
type RevocationStore interface {
	Revoke(ctx context.Context, sessionID string, until time.Time) error
	IsRevoked(ctx context.Context, sessionID string) (bool, error)
}

type Manager struct {
	codec        *security.CarrierCodec
	revocations  RevocationStore
	cookieName   string
	cookieMaxAge time.Duration
	cookieSecure bool
	sessionTTL   time.Duration
	maxAccounts  int
}

type ManagerOptions struct {
	CookieName   string
	CookieMaxAge time.Duration
	CookieSecure bool
	SessionTTL   time.Duration
	MaxAccounts  int
}

func NewManager(codec *security.CarrierCodec, revocations RevocationStore, opts ManagerOptions) *Manager {
	return &Manager{
		codec:        codec,
		revocations:  revocations,
		cookieName:   opts.CookieName,
		cookieMaxAge: opts.CookieMaxAge,
		cookieSecure: opts.CookieSecure,
		sessionTTL:   opts.SessionTTL,
		maxAccounts:  opts.MaxAccounts,
	}
}

// NewSession builds an empty session. Timestamps are truncated to seconds so
// a session round-trips through the carrier bit-for-bit.
func (m *Manager) NewSession(now time.Time) *domain.Session {
	now = now.UTC().Truncate(time.Second)
	return &domain.Session{
		SessionID: uuid.NewString(),
		CreatedAt: now,
		ExpiresAt: now.Add(m.sessionTTL),
	}
}

// Extract resolves the session from the request carrier. Missing, malformed,
// expired and revoked carriers all read as anonymous (nil, no error); only
// infrastructure failures surface as errors.
func (m *Manager) Extract(ctx context.Context, r *http.Request) (*domain.Session, error) {
	raw := security.GetCookie(r, m.cookieName)
	if raw == "" {
		return nil, nil
	}
	s, err := m.codec.Decode(raw)
	if err != nil {
		observability.RecordCarrierEvent(ctx, "invalid")
		return nil, nil
	}
	if s.Empty() || !s.ExpiresAt.After(time.Now()) {
		observability.RecordCarrierEvent(ctx, "expired")
		return nil, nil
	}
	if m.revocations != nil {
		revoked, err := m.revocations.IsRevoked(ctx, s.SessionID)
		if err != nil {
			return nil, err
		}
		if revoked {
			observability.RecordCarrierEvent(ctx, "revoked")
			return nil, nil
		}
	}
	observability.RecordCarrierEvent(ctx, "valid")
	return s, nil
}

// Issue signs the session and writes the carrier cookie. An empty session is
// a programming error upstream; it is cleared instead of issued.
func (m *Manager) Issue(w http.ResponseWriter, s *domain.Session) error {
	if s.Empty() {
		m.Clear(w)
		return nil
	}
	carrier, err := m.codec.Encode(s)
	if err != nil {
		return err
	}
	security.SetCarrierCookie(w, m.cookieName, carrier, m.cookieMaxAge, m.cookieSecure)
	return nil
}

// Clear drops the carrier cookie.
func (m *Manager) Clear(w http.ResponseWriter) {
	security.ClearCookie(w, m.cookieName, m.cookieSecure)
}

// Attach adds an account to the session. Re-attaching an already attached
// account refreshes its snapshot in place and never duplicates the entry.
// The first attached account becomes the selected one.
func (m *Manager) Attach(s *domain.Session, entry domain.AccountSession) error {
	if existing := s.Account(entry.AccountID); existing != nil {
		*existing = entry
		return nil
	}
	if len(s.Accounts) >= m.maxAccounts {
		return ErrMaxAccountsExceeded
	}
	s.Accounts = append(s.Accounts, entry)
	if s.SelectedAccountID == "" {
		s.SelectedAccountID = entry.AccountID
	}
	return nil
}

// Select marks an attached account as the active one.
func (m *Manager) Select(s *domain.Session, accountID string) error {
	if !s.Has(accountID) {
		return ErrAccountNotInSession
	}
	s.SelectedAccountID = accountID
	return nil
}

// Detach removes an account. The returned flag reports whether the session
// is now empty; callers must then destroy the session rather than keep an
// empty shell. Detaching the selected account moves selection to the first
// remaining account.
func (m *Manager) Detach(s *domain.Session, accountID string) (empty bool, err error) {
	idx := -1
	for i := range s.Accounts {
		if s.Accounts[i].AccountID == accountID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, ErrAccountNotInSession
	}
	s.Accounts = append(s.Accounts[:idx], s.Accounts[idx+1:]...)
	if s.Empty() {
		s.SelectedAccountID = ""
		return true, nil
	}
	if s.SelectedAccountID == accountID {
		s.SelectedAccountID = s.Accounts[0].AccountID
	}
	return false, nil
}

// Destroy revokes the carrier and clears the cookie. Used for full logout
// and for sessions that detached their last account.
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, s *domain.Session) error {
	m.Clear(w)
	if m.revocations == nil || s == nil {
		return nil
	}
	return m.revocations.Revoke(ctx, s.SessionID, s.ExpiresAt)
}

// SyncTokenSnapshot rebuilds the cached token view of one attached account
// after the authoritative record changed.
func (m *Manager) SyncTokenSnapshot(s *domain.Session, accountID string, expiresAt time.Time, scope string) {
	if entry := s.Account(accountID); entry != nil {
		entry.ExpiresAt = expiresAt.UTC().Truncate(time.Second)
		entry.Scope = scope
	}
}
