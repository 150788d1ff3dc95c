package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/vitawell/vitawell-backend/pkg/enums"
)

// LedgerTransaction records one economic event as a set of balanced postings.
// OperationID is the caller-supplied idempotency key; ux_ledger_transactions_operation
// guarantees a replay maps to the already-stored row. A transaction is immutable
// after insert except for the reversal stamp, which is written exactly once.
type LedgerTransaction struct {
	ID          uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OperationID string              `gorm:"column:operation_id;not null"`
	Type        enums.OperationType `gorm:"column:type;type:operation_type_enum;not null"`
	ExternalRef *string             `gorm:"column:external_ref"`
	UserID      *uuid.UUID          `gorm:"column:user_id;type:uuid"`
	OrderID     *uuid.UUID          `gorm:"column:order_id;type:uuid"`

	// NetworkLevel is 1..15 for per-level referral payouts, nil otherwise.
	NetworkLevel *int `gorm:"column:network_level"`

	ReversalOf            *string    `gorm:"column:reversal_of"`
	ReversedAt            *time.Time `gorm:"column:reversed_at"`
	ReversalTransactionID *uuid.UUID `gorm:"column:reversal_transaction_id;type:uuid"`

	Metadata  json.RawMessage `gorm:"column:metadata;type:jsonb"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`

	Postings []LedgerPosting `gorm:"foreignKey:TransactionID"`
}

// IsReversed reports whether the reversal stamp has been written.
func (t *LedgerTransaction) IsReversed() bool {
	return t.ReversedAt != nil
}
