package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vitawell/vitawell-backend/pkg/enums"
)

// TransactionRecordedEvent is emitted after a ledger transaction commits.
type TransactionRecordedEvent struct {
	TransactionID uuid.UUID           `json:"transaction_id"`
	OperationID   string              `json:"operation_id"`
	Type          enums.OperationType `json:"type"`
	UserID        *uuid.UUID          `json:"user_id,omitempty"`
	OrderID       *uuid.UUID          `json:"order_id,omitempty"`
	PostingCount  int                 `json:"posting_count"`
}

// TransactionReversedEvent is emitted when a transaction gets reversed.
type TransactionReversedEvent struct {
	TransactionID         uuid.UUID `json:"transaction_id"`
	OperationID           string    `json:"operation_id"`
	ReversalTransactionID uuid.UUID `json:"reversal_transaction_id"`
	ReversalOperationID   string    `json:"reversal_operation_id"`
	ReversedAt            time.Time `json:"reversed_at"`
}

// ParticipantPlacedEvent reports a resolved matrix placement.
type ParticipantPlacedEvent struct {
	PlacementID uuid.UUID             `json:"placement_id"`
	UserID      uuid.UUID             `json:"user_id"`
	SponsorID   uuid.UUID             `json:"sponsor_id"`
	ParentID    *uuid.UUID            `json:"parent_id,omitempty"`
	Position    *enums.MatrixPosition `json:"position,omitempty"`
	Level       int                   `json:"level"`
}

// OrderSettledEvent summarizes one settlement run for a paid order.
type OrderSettledEvent struct {
	OrderID        uuid.UUID       `json:"order_id"`
	BuyerUserID    uuid.UUID       `json:"buyer_user_id"`
	OrderTotal     decimal.Decimal `json:"order_total"`
	Currency       enums.Currency  `json:"currency"`
	CashbackAmount decimal.Decimal `json:"cashback_amount"`
	ReferralLevels int             `json:"referral_levels"`
	ConfigVersion  string          `json:"config_version"`
	SettledAt      time.Time       `json:"settled_at"`
}
