package repository

import (
	"context"
	"errors"
	"time"

	"github.com/workdeck/account-session-service/internal/domain"
	"github.com/workdeck/account-session-service/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrTokenNotFound = errors.New("token details not found")

// ErrStaleTokenWrite is returned when a refresh result loses the write race
// to a newer token generation. The newer row is left untouched.
var ErrStaleTokenWrite = errors.New("stale token write discarded")

// RefreshGrant is the merged result of a provider refresh. An empty
// RefreshToken means "keep the stored one".
type RefreshGrant struct {
	AccessToken    string
	RefreshToken   string
	TokenCreatedAt time.Time
	ExpiresAt      time.Time
	Scope          string
}

// TokenRepository is the single writer-of-record for TokenDetails.
type TokenRepository interface {
	Get(ctx context.Context, accountID string) (*domain.TokenDetails, error)
	Put(ctx context.Context, details *domain.TokenDetails) error
	MarkRefreshed(ctx context.Context, accountID string, grant RefreshGrant) (*domain.TokenDetails, error)
}

type GormTokenRepository struct{ db *gorm.DB }

func NewTokenRepository(db *gorm.DB) TokenRepository { return &GormTokenRepository{db: db} }

func (r *GormTokenRepository) Get(ctx context.Context, accountID string) (*domain.TokenDetails, error) {
	var t domain.TokenDetails
	err := r.db.WithContext(ctx).First(&t, "account_id = ?", accountID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "token", "get", "not_found")
			return nil, ErrTokenNotFound
		}
		observability.RecordRepositoryOperation(ctx, "token", "get", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "token", "get", "success")
	return &t, nil
}

// Put upserts the full record, preserving a previously stored refresh token
// when the incoming one is empty. A refresh token, once issued, is never
// overwritten with an empty value.
func (r *GormTokenRepository) Put(ctx context.Context, details *domain.TokenDetails) error {
	assignments := map[string]any{
		"access_token":     details.AccessToken,
		"token_created_at": details.TokenCreatedAt,
		"expires_at":       details.ExpiresAt,
		"scope":            details.Scope,
		"updated_at":       time.Now().UTC(),
	}
	if details.RefreshToken != "" {
		assignments["refresh_token"] = details.RefreshToken
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}},
		DoUpdates: clause.Assignments(assignments),
	}).Create(details).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "token", "put", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "token", "put", "success")
	return nil
}

// MarkRefreshed merges a refresh result into the stored row. The write is
// conditional on the stored token generation being no newer than the grant,
// so a slow refresh can never clobber a fresher token. Callers receiving
// ErrStaleTokenWrite should use the returned stored row instead.
func (r *GormTokenRepository) MarkRefreshed(ctx context.Context, accountID string, grant RefreshGrant) (*domain.TokenDetails, error) {
	updates := map[string]any{
		"access_token":     grant.AccessToken,
		"token_created_at": grant.TokenCreatedAt,
		"expires_at":       grant.ExpiresAt,
		"updated_at":       time.Now().UTC(),
	}
	if grant.RefreshToken != "" {
		updates["refresh_token"] = grant.RefreshToken
	}
	if grant.Scope != "" {
		updates["scope"] = grant.Scope
	}
	res := r.db.WithContext(ctx).Model(&domain.TokenDetails{}).
		Where("account_id = ? AND token_created_at <= ?", accountID, grant.TokenCreatedAt).
		Updates(updates)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "token", "mark_refreshed", "error")
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		current, err := r.Get(ctx, accountID)
		if err != nil {
			observability.RecordRepositoryOperation(ctx, "token", "mark_refreshed", "not_found")
			return nil, err
		}
		observability.RecordRepositoryOperation(ctx, "token", "mark_refreshed", "stale")
		return current, ErrStaleTokenWrite
	}
	observability.RecordRepositoryOperation(ctx, "token", "mark_refreshed", "success")
	return r.Get(ctx, accountID)
}
