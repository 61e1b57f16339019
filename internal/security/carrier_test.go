package security

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/workdeck/account-session-service/internal/domain"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func testSession(now time.Time) *domain.Session {
	now = now.UTC().Truncate(time.Second)
	return &domain.Session{
		SessionID: "sess-1",
		Accounts: []domain.AccountSession{
			{
				AccountID:   "acc-1",
				Provider:    domain.ProviderGoogle,
				AccountType: "oauth",
				Email:       "user@example.com",
				ExpiresAt:   now.Add(time.Hour),
				Scope:       "https://www.googleapis.com/auth/gmail.readonly",
			},
		},
		SelectedAccountID: "acc-1",
		CreatedAt:         now,
		ExpiresAt:         now.Add(24 * time.Hour),
	}
}

func TestCarrierRoundTrip(t *testing.T) {
	codec := NewCarrierCodec("workdeck", testSecret)
	want := testSession(time.Now())

	raw, err := codec.Encode(want)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := codec.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if got.SessionID != want.SessionID || got.SelectedAccountID != want.SelectedAccountID {
		t.Fatalf("identity fields differ: %+v vs %+v", got, want)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) || !got.ExpiresAt.Equal(want.ExpiresAt) {
		t.Fatalf("timestamps differ: %v/%v vs %v/%v", got.CreatedAt, got.ExpiresAt, want.CreatedAt, want.ExpiresAt)
	}
	if len(got.Accounts) != 1 {
		t.Fatalf("expected 1 account, got %d", len(got.Accounts))
	}
	if got.Accounts[0] != want.Accounts[0] {
		t.Fatalf("account entry differs: %+v vs %+v", got.Accounts[0], want.Accounts[0])
	}
}

func TestCarrierDecodeRejectsTampering(t *testing.T) {
	codec := NewCarrierCodec("workdeck", testSecret)
	raw, err := codec.Encode(testSession(time.Now()))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected carrier shape: %d parts", len(parts))
	}
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]
	if _, err := codec.Decode(tampered); !errors.Is(err, ErrInvalidCarrier) {
		t.Fatalf("expected ErrInvalidCarrier, got %v", err)
	}
}

func TestCarrierDecodeRejectsWrongSecret(t *testing.T) {
	raw, err := NewCarrierCodec("workdeck", testSecret).Encode(testSession(time.Now()))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	other := NewCarrierCodec("workdeck", "ffffffffffffffffffffffffffffffff")
	if _, err := other.Decode(raw); !errors.Is(err, ErrInvalidCarrier) {
		t.Fatalf("expected ErrInvalidCarrier, got %v", err)
	}
}

func TestCarrierDecodeRejectsExpiredPayload(t *testing.T) {
	codec := NewCarrierCodec("workdeck", testSecret)
	s := testSession(time.Now().Add(-48 * time.Hour))
	raw, err := codec.Encode(s)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := codec.Decode(raw); !errors.Is(err, ErrInvalidCarrier) {
		t.Fatalf("expected expired carrier to be invalid, got %v", err)
	}
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("hunter2hunter2")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !VerifyPassword(hash, "hunter2hunter2") {
		t.Fatal("expected password to verify")
	}
	if VerifyPassword(hash, "wrong") {
		t.Fatal("expected wrong password to fail")
	}
}
