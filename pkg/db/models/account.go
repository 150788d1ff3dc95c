package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/vitawell/vitawell-backend/pkg/enums"
)

// Account is one bucket of value for one owner. Exactly one row exists per
// (owner kind, owner id, type, currency); the registry enforces this through
// ux_accounts_owner_key. OwnerID is null only for system accounts, and is
// nulled (not deleted) when an owner is removed so ledger history survives.
type Account struct {
	ID        uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OwnerKind enums.OwnerKind   `gorm:"column:owner_kind;type:owner_kind_enum;not null"`
	OwnerID   *uuid.UUID        `gorm:"column:owner_id;type:uuid"`
	Type      enums.AccountType `gorm:"column:type;type:account_type_enum;not null"`
	Currency  enums.Currency    `gorm:"column:currency;type:currency_enum;not null"`
	CreatedAt time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
