package controllers

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vitawell/vitawell-backend/pkg/db/models"
)

// PlacementResponse is the wire shape for one matrix node.
type PlacementResponse struct {
	ID             uuid.UUID  `json:"id"`
	UserID         uuid.UUID  `json:"user_id"`
	ParentID       *uuid.UUID `json:"parent_id,omitempty"`
	Position       *string    `json:"position,omitempty"`
	SponsorID      uuid.UUID  `json:"sponsor_id"`
	Level          int        `json:"level"`
	LeftLegVolume  string     `json:"left_leg_volume"`
	RightLegVolume string     `json:"right_leg_volume"`
	LeftLegCount   int        `json:"left_leg_count"`
	RightLegCount  int        `json:"right_leg_count"`
	IsActive       bool       `json:"is_active"`
	CreatedAt      time.Time  `json:"created_at"`
}

func newPlacementResponse(placement *models.MatrixPlacement) PlacementResponse {
	resp := PlacementResponse{
		ID:             placement.ID,
		UserID:         placement.UserID,
		ParentID:       placement.ParentID,
		SponsorID:      placement.SponsorID,
		Level:          placement.Level,
		LeftLegVolume:  placement.LeftLegVolume.String(),
		RightLegVolume: placement.RightLegVolume.String(),
		LeftLegCount:   placement.LeftLegCount,
		RightLegCount:  placement.RightLegCount,
		IsActive:       placement.IsActive,
		CreatedAt:      placement.CreatedAt,
	}
	if placement.Position != nil {
		value := placement.Position.String()
		resp.Position = &value
	}
	return resp
}

func newPlacementResponses(placements []models.MatrixPlacement) []PlacementResponse {
	out := make([]PlacementResponse, 0, len(placements))
	for i := range placements {
		out = append(out, newPlacementResponse(&placements[i]))
	}
	return out
}

// PostingResponse is one balanced movement inside a transaction.
type PostingResponse struct {
	ID              uuid.UUID `json:"id"`
	DebitAccountID  uuid.UUID `json:"debit_account_id"`
	CreditAccountID uuid.UUID `json:"credit_account_id"`
	Amount          string    `json:"amount"`
	Currency        string    `json:"currency"`
	Memo            *string   `json:"memo,omitempty"`
}

// TransactionResponse is the wire shape for one ledger transaction.
type TransactionResponse struct {
	ID           uuid.UUID         `json:"id"`
	OperationID  string            `json:"operation_id"`
	Type         string            `json:"type"`
	ExternalRef  *string           `json:"external_ref,omitempty"`
	UserID       *uuid.UUID        `json:"user_id,omitempty"`
	OrderID      *uuid.UUID        `json:"order_id,omitempty"`
	NetworkLevel *int              `json:"network_level,omitempty"`
	ReversalOf   *string           `json:"reversal_of,omitempty"`
	ReversedAt   *time.Time        `json:"reversed_at,omitempty"`
	Metadata     json.RawMessage   `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	Postings     []PostingResponse `json:"postings,omitempty"`
}

func newTransactionResponse(tx *models.LedgerTransaction) TransactionResponse {
	resp := TransactionResponse{
		ID:           tx.ID,
		OperationID:  tx.OperationID,
		Type:         tx.Type.String(),
		ExternalRef:  tx.ExternalRef,
		UserID:       tx.UserID,
		OrderID:      tx.OrderID,
		NetworkLevel: tx.NetworkLevel,
		ReversalOf:   tx.ReversalOf,
		ReversedAt:   tx.ReversedAt,
		Metadata:     tx.Metadata,
		CreatedAt:    tx.CreatedAt,
	}
	for i := range tx.Postings {
		posting := &tx.Postings[i]
		resp.Postings = append(resp.Postings, PostingResponse{
			ID:              posting.ID,
			DebitAccountID:  posting.DebitAccountID,
			CreditAccountID: posting.CreditAccountID,
			Amount:          posting.Amount.String(),
			Currency:        posting.Currency.String(),
			Memo:            posting.Memo,
		})
	}
	return resp
}

func newTransactionResponses(txs []models.LedgerTransaction) []TransactionResponse {
	out := make([]TransactionResponse, 0, len(txs))
	for i := range txs {
		out = append(out, newTransactionResponse(&txs[i]))
	}
	return out
}

// AccountResponse is one account with its current balance.
type AccountResponse struct {
	ID        uuid.UUID  `json:"id"`
	OwnerKind string     `json:"owner_kind"`
	OwnerID   *uuid.UUID `json:"owner_id,omitempty"`
	Type      string     `json:"type"`
	Currency  string     `json:"currency"`
	Balance   string     `json:"balance"`
	CreatedAt time.Time  `json:"created_at"`
}

func newAccountResponse(account *models.Account, balance decimal.Decimal) AccountResponse {
	return AccountResponse{
		ID:        account.ID,
		OwnerKind: account.OwnerKind.String(),
		OwnerID:   account.OwnerID,
		Type:      account.Type.String(),
		Currency:  account.Currency.String(),
		Balance:   balance.String(),
		CreatedAt: account.CreatedAt,
	}
}
