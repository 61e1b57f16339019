package repository

import (
	"context"
	"errors"

	"github.com/workdeck/account-session-service/internal/domain"
	"github.com/workdeck/account-session-service/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrAccountNotFound = errors.New("account not found")

type AccountRepository interface {
	FindByID(ctx context.Context, id string) (*domain.Account, error)
	FindByProviderEmail(ctx context.Context, provider domain.Provider, email string) (*domain.Account, error)
	Upsert(ctx context.Context, account *domain.Account) error
	Update(ctx context.Context, account *domain.Account) error
	SetStatus(ctx context.Context, id string, status domain.AccountStatus) error
}

type GormAccountRepository struct{ db *gorm.DB }

func NewAccountRepository(db *gorm.DB) AccountRepository { return &GormAccountRepository{db: db} }

func (r *GormAccountRepository) FindByID(ctx context.Context, id string) (*domain.Account, error) {
	var a domain.Account
	err := r.db.WithContext(ctx).First(&a, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "account", "find_by_id", "not_found")
			return nil, ErrAccountNotFound
		}
		observability.RecordRepositoryOperation(ctx, "account", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "account", "find_by_id", "success")
	return &a, nil
}

func (r *GormAccountRepository) FindByProviderEmail(ctx context.Context, provider domain.Provider, email string) (*domain.Account, error) {
	var a domain.Account
	err := r.db.WithContext(ctx).Where("provider = ? AND email = ?", provider, email).First(&a).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "account", "find_by_provider_email", "not_found")
			return nil, ErrAccountNotFound
		}
		observability.RecordRepositoryOperation(ctx, "account", "find_by_provider_email", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "account", "find_by_provider_email", "success")
	return &a, nil
}

// Upsert inserts the account or refreshes its display details on conflict
// with the (provider, email) identity.
func (r *GormAccountRepository) Upsert(ctx context.Context, account *domain.Account) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "email"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "avatar_url", "status", "updated_at"}),
	}).Create(account).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "account", "upsert", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "account", "upsert", "success")
	return nil
}

func (r *GormAccountRepository) Update(ctx context.Context, account *domain.Account) error {
	err := r.db.WithContext(ctx).Save(account).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "account", "update", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "account", "update", "success")
	return nil
}

func (r *GormAccountRepository) SetStatus(ctx context.Context, id string, status domain.AccountStatus) error {
	res := r.db.WithContext(ctx).Model(&domain.Account{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "account", "set_status", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "account", "set_status", "not_found")
		return ErrAccountNotFound
	}
	observability.RecordRepositoryOperation(ctx, "account", "set_status", "success")
	return nil
}
