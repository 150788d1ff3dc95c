package accounts

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vitawell/vitawell-backend/pkg/db"
	"github.com/vitawell/vitawell-backend/pkg/db/models"
	"github.com/vitawell/vitawell-backend/pkg/enums"
	pkgerrors "github.com/vitawell/vitawell-backend/pkg/errors"
)

const uniqueOwnerKeyConstraint = "ux_accounts_owner_key"

// Service defines operations over the account registry.
type Service interface {
	WithTx(tx *gorm.DB) Service
	GetOrCreate(ctx context.Context, key Key) (*models.Account, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	LockForUpdate(ctx context.Context, id uuid.UUID) (*models.Account, error)
	ListByOwner(ctx context.Context, ownerKind enums.OwnerKind, ownerID uuid.UUID) ([]models.Account, error)
	DetachOwner(ctx context.Context, ownerKind enums.OwnerKind, ownerID uuid.UUID) (int64, error)
}

type service struct {
	repo Repository
}

// NewService wires an account service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("account repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	return &service{repo: s.repo.WithTx(tx)}
}

func validateKey(key Key) error {
	if !key.OwnerKind.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid owner kind %q", key.OwnerKind))
	}
	if !key.Type.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid account type %q", key.Type))
	}
	if !key.Currency.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid currency %q", key.Currency))
	}
	if key.OwnerKind == enums.OwnerKindUser && (key.OwnerID == nil || *key.OwnerID == uuid.Nil) {
		return pkgerrors.New(pkgerrors.CodeValidation, "owner id is required for user accounts")
	}
	if key.OwnerKind == enums.OwnerKindSystem && key.OwnerID != nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "system accounts must not carry an owner id")
	}
	return nil
}

// GetOrCreate returns the account for the key, creating it on first use.
// Two callers racing on the same key both end up with the same row: the loser
// of the insert re-reads the winner's account.
func (s *service) GetOrCreate(ctx context.Context, key Key) (*models.Account, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	existing, err := s.repo.FindByKey(ctx, key)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup account")
	}
	if existing != nil {
		return existing, nil
	}

	account := &models.Account{
		OwnerKind: key.OwnerKind,
		OwnerID:   key.OwnerID,
		Type:      key.Type,
		Currency:  key.Currency,
	}
	if err := s.repo.Create(ctx, account); err != nil {
		if db.IsUniqueViolation(err, uniqueOwnerKeyConstraint) {
			winner, findErr := s.repo.FindByKey(ctx, key)
			if findErr != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "re-read account after insert race")
			}
			if winner != nil {
				return winner, nil
			}
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create account")
	}
	return account, nil
}

func (s *service) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	account, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup account")
	}
	if account == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
	}
	return account, nil
}

// LockForUpdate row-locks the account for the rest of the current transaction.
// Callers serialize balance checks behind this lock.
func (s *service) LockForUpdate(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	account, err := s.repo.LockByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock account")
	}
	if account == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
	}
	return account, nil
}

func (s *service) ListByOwner(ctx context.Context, ownerKind enums.OwnerKind, ownerID uuid.UUID) ([]models.Account, error) {
	if !ownerKind.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid owner kind %q", ownerKind))
	}
	if ownerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner id is required")
	}
	accounts, err := s.repo.ListByOwner(ctx, ownerKind, ownerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list accounts")
	}
	return accounts, nil
}

func (s *service) DetachOwner(ctx context.Context, ownerKind enums.OwnerKind, ownerID uuid.UUID) (int64, error) {
	if !ownerKind.IsValid() {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid owner kind %q", ownerKind))
	}
	if ownerID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "owner id is required")
	}
	detached, err := s.repo.DetachOwner(ctx, ownerKind, ownerID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "detach owner accounts")
	}
	return detached, nil
}
