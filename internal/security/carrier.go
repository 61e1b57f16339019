package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/workdeck/account-session-service/internal/domain"
)

var ErrInvalidCarrier = errors.New("invalid session carrier")

type carrierClaims struct {
	Accounts          []domain.AccountSession `json:"accounts"`
	SelectedAccountID string                  `json:"selected_account_id,omitempty"`
	jwt.RegisteredClaims
}

// CarrierCodec signs session payloads into a tamper-evident carrier string
// and verifies them back. The carrier is the only place a session lives; its
// payload is untrusted until the signature checks out.
type CarrierCodec struct {
	issuer string
	secret []byte
}

func NewCarrierCodec(issuer, secret string) *CarrierCodec {
	return &CarrierCodec{issuer: issuer, secret: []byte(secret)}
}

// Encode serializes and signs the session. The embedded expiry is the
// session's own ExpiresAt; transport expiry is the cookie's concern.
func (c *CarrierCodec) Encode(s *domain.Session) (string, error) {
	claims := carrierClaims{
		Accounts:          s.Accounts,
		SelectedAccountID: s.SelectedAccountID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			ID:        s.SessionID,
			IssuedAt:  jwt.NewNumericDate(s.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// Decode verifies the carrier and rebuilds the session. Any integrity or
// expiry failure yields ErrInvalidCarrier; callers treat that as anonymous.
func (c *CarrierCodec) Decode(raw string) (*domain.Session, error) {
	claims := &carrierClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing algorithm")
		}
		return c.secret, nil
	}, jwt.WithIssuer(c.issuer))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCarrier, err)
	}
	if !tok.Valid || claims.ID == "" {
		return nil, ErrInvalidCarrier
	}
	return &domain.Session{
		SessionID:         claims.ID,
		Accounts:          claims.Accounts,
		SelectedAccountID: claims.SelectedAccountID,
		CreatedAt:         timeOrZero(claims.IssuedAt),
		ExpiresAt:         timeOrZero(claims.ExpiresAt),
	}, nil
}

func timeOrZero(d *jwt.NumericDate) time.Time {
	if d == nil {
		return time.Time{}
	}
	return d.Time
}
