package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vitawell/vitawell-backend/pkg/enums"
)

// LedgerPosting is one balanced debit/credit movement inside a transaction.
// Amount is strictly positive and the debit and credit accounts always differ;
// the ledger service rejects anything else before insert.
type LedgerPosting struct {
	ID              uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TransactionID   uuid.UUID       `gorm:"column:transaction_id;type:uuid;not null"`
	DebitAccountID  uuid.UUID       `gorm:"column:debit_account_id;type:uuid;not null"`
	CreditAccountID uuid.UUID       `gorm:"column:credit_account_id;type:uuid;not null"`
	Amount          decimal.Decimal `gorm:"column:amount;type:numeric(20,4);not null"`
	Currency        enums.Currency  `gorm:"column:currency;type:currency_enum;not null"`
	Memo            *string         `gorm:"column:memo"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime"`
}
