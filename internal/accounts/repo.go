package accounts

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vitawell/vitawell-backend/pkg/db/models"
	"github.com/vitawell/vitawell-backend/pkg/enums"
)

// Key identifies an account uniquely. OwnerID is nil for system accounts.
type Key struct {
	OwnerKind enums.OwnerKind
	OwnerID   *uuid.UUID
	Type      enums.AccountType
	Currency  enums.Currency
}

// Repository manages persistence for accounts.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, account *models.Account) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	FindByKey(ctx context.Context, key Key) (*models.Account, error)
	ListByOwner(ctx context.Context, ownerKind enums.OwnerKind, ownerID uuid.UUID) ([]models.Account, error)
	DetachOwner(ctx context.Context, ownerKind enums.OwnerKind, ownerID uuid.UUID) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an account repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, account *models.Account) error {
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

// LockByID reads the account under SELECT ... FOR UPDATE. The row stays locked
// until the enclosing transaction commits, so it only makes sense on a
// repository bound via WithTx.
func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *repository) FindByKey(ctx context.Context, key Key) (*models.Account, error) {
	query := r.db.WithContext(ctx).
		Where("owner_kind = ? AND type = ? AND currency = ?", key.OwnerKind, key.Type, key.Currency)
	if key.OwnerID != nil {
		query = query.Where("owner_id = ?", *key.OwnerID)
	} else {
		query = query.Where("owner_id IS NULL")
	}

	var account models.Account
	if err := query.First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *repository) ListByOwner(ctx context.Context, ownerKind enums.OwnerKind, ownerID uuid.UUID) ([]models.Account, error) {
	var accounts []models.Account
	if err := r.db.WithContext(ctx).
		Where("owner_kind = ? AND owner_id = ?", ownerKind, ownerID).
		Order("created_at ASC").
		Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

// DetachOwner nulls owner_id on every account held by the owner. The rows stay
// behind so historical postings keep resolving.
func (r *repository) DetachOwner(ctx context.Context, ownerKind enums.OwnerKind, ownerID uuid.UUID) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("owner_kind = ? AND owner_id = ?", ownerKind, ownerID).
		Update("owner_id", nil)
	return result.RowsAffected, result.Error
}
