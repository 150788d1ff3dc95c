package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/vitawell/vitawell-backend/pkg/db"
	"github.com/vitawell/vitawell-backend/pkg/db/models"
	"github.com/vitawell/vitawell-backend/pkg/enums"
	pkgerrors "github.com/vitawell/vitawell-backend/pkg/errors"
	"github.com/vitawell/vitawell-backend/pkg/pagination"
)

const uniqueOperationConstraint = "ux_ledger_transactions_operation"

// reversalOperationID derives the idempotency key for a reversal from the
// original operation, so concurrent reversal attempts converge on one row.
func reversalOperationID(operationID string) string {
	return "reverse:" + operationID
}

// Service defines operations over the double-entry ledger.
type Service interface {
	WithTx(tx *gorm.DB) Service
	Record(ctx context.Context, input RecordTransactionInput) (*models.LedgerTransaction, error)
	Reverse(ctx context.Context, input ReverseInput) (*models.LedgerTransaction, error)
	BalanceOf(ctx context.Context, accountID uuid.UUID, currency enums.Currency) (decimal.Decimal, error)
	GetByOperationID(ctx context.Context, operationID string) (*models.LedgerTransaction, error)
	ListByUser(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.LedgerTransaction, string, error)
}

// PostingInput is one debit/credit pair inside a transaction.
type PostingInput struct {
	DebitAccountID  uuid.UUID       `json:"debit_account_id"`
	CreditAccountID uuid.UUID       `json:"credit_account_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        enums.Currency  `json:"currency"`
	Memo            *string         `json:"memo,omitempty"`
}

// RecordTransactionInput captures the immutable data a ledger transaction
// requires. OperationID is the caller's idempotency key.
type RecordTransactionInput struct {
	OperationID  string              `json:"operation_id"`
	Type         enums.OperationType `json:"type"`
	ExternalRef  *string             `json:"external_ref,omitempty"`
	UserID       *uuid.UUID          `json:"user_id,omitempty"`
	OrderID      *uuid.UUID          `json:"order_id,omitempty"`
	NetworkLevel *int                `json:"network_level,omitempty"`
	ReversalOf   *string             `json:"reversal_of,omitempty"`
	Metadata     json.RawMessage     `json:"metadata,omitempty"`
	Postings     []PostingInput      `json:"postings"`
}

// ReverseInput identifies the transaction to reverse by its operation id.
type ReverseInput struct {
	OperationID string          `json:"operation_id"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

type service struct {
	repo Repository
	now  func() time.Time
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo, now: time.Now}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	return &service{repo: s.repo.WithTx(tx), now: s.now}
}

func validatePostings(postings []PostingInput) error {
	if len(postings) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one posting is required")
	}
	for i, p := range postings {
		if p.DebitAccountID == uuid.Nil || p.CreditAccountID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("posting %d: debit and credit accounts are required", i))
		}
		if p.DebitAccountID == p.CreditAccountID {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("posting %d: debit and credit accounts must differ", i))
		}
		if !p.Amount.IsPositive() {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("posting %d: amount must be positive, got %s", i, p.Amount))
		}
		if !p.Currency.IsValid() {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("posting %d: invalid currency %q", i, p.Currency))
		}
	}
	return nil
}

// Record writes a new transaction, or returns the stored one when the
// operation id was seen before. The payload of a replay is not compared; the
// operation id alone decides identity.
func (s *service) Record(ctx context.Context, input RecordTransactionInput) (*models.LedgerTransaction, error) {
	if input.OperationID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "operation id is required")
	}
	if !input.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid operation type %q", input.Type))
	}
	if err := validatePostings(input.Postings); err != nil {
		return nil, err
	}

	existing, err := s.repo.FindByOperationID(ctx, input.OperationID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup transaction")
	}
	if existing != nil {
		return existing, nil
	}

	txn := s.buildTransaction(input)
	if err := s.repo.CreateTransaction(ctx, txn); err != nil {
		if db.IsUniqueViolation(err, uniqueOperationConstraint) {
			stored, findErr := s.repo.FindByOperationID(ctx, input.OperationID)
			if findErr != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "re-read transaction after insert race")
			}
			if stored != nil {
				return stored, nil
			}
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create transaction")
	}
	return txn, nil
}

func (s *service) buildTransaction(input RecordTransactionInput) *models.LedgerTransaction {
	txn := &models.LedgerTransaction{
		ID:           uuid.New(),
		OperationID:  input.OperationID,
		Type:         input.Type,
		ExternalRef:  input.ExternalRef,
		UserID:       input.UserID,
		OrderID:      input.OrderID,
		NetworkLevel: input.NetworkLevel,
		ReversalOf:   input.ReversalOf,
		Metadata:     input.Metadata,
	}
	for _, p := range input.Postings {
		txn.Postings = append(txn.Postings, models.LedgerPosting{
			ID:              uuid.New(),
			TransactionID:   txn.ID,
			DebitAccountID:  p.DebitAccountID,
			CreditAccountID: p.CreditAccountID,
			Amount:          p.Amount,
			Currency:        p.Currency,
			Memo:            p.Memo,
		})
	}
	return txn
}

// Reverse records the mirror image of the original transaction and stamps the
// original exactly once. The reversal's operation id is derived from the
// original's, so replays and concurrent attempts return the same reversal.
func (s *service) Reverse(ctx context.Context, input ReverseInput) (*models.LedgerTransaction, error) {
	if input.OperationID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "operation id is required")
	}

	original, err := s.repo.FindByOperationID(ctx, input.OperationID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup transaction")
	}
	if original == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
	}
	if original.Type == enums.OperationTypeReversal {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "a reversal cannot be reversed")
	}

	reversalOpID := reversalOperationID(input.OperationID)

	if original.IsReversed() {
		reversal, findErr := s.repo.FindByOperationID(ctx, reversalOpID)
		if findErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "lookup reversal")
		}
		if reversal != nil && original.ReversalTransactionID != nil && *original.ReversalTransactionID == reversal.ID {
			return reversal, nil
		}
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "transaction already reversed")
	}

	reversalOf := input.OperationID
	reversalInput := RecordTransactionInput{
		OperationID: reversalOpID,
		Type:        enums.OperationTypeReversal,
		ExternalRef: original.ExternalRef,
		UserID:      original.UserID,
		OrderID:     original.OrderID,
		ReversalOf:  &reversalOf,
		Metadata:    input.Metadata,
	}
	for _, p := range original.Postings {
		reversalInput.Postings = append(reversalInput.Postings, PostingInput{
			DebitAccountID:  p.CreditAccountID,
			CreditAccountID: p.DebitAccountID,
			Amount:          p.Amount,
			Currency:        p.Currency,
			Memo:            p.Memo,
		})
	}

	// The mirror insert and the stamp on the original commit together.
	var reversal *models.LedgerTransaction
	err = s.repo.Transaction(ctx, func(tx *gorm.DB) error {
		scoped := s.WithTx(tx)
		repo := s.repo.WithTx(tx)

		var recordErr error
		reversal, recordErr = scoped.Record(ctx, reversalInput)
		if recordErr != nil {
			return recordErr
		}

		stamped, stampErr := repo.MarkReversed(ctx, input.OperationID, reversal.ID, s.now().UTC())
		if stampErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, stampErr, "stamp reversal")
		}
		if stamped == 0 {
			// Lost the stamp race. Converge when the winner stamped the
			// same reversal; otherwise roll the mirror back.
			current, findErr := repo.FindByOperationID(ctx, input.OperationID)
			if findErr != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "re-read transaction after stamp race")
			}
			if current != nil && current.ReversalTransactionID != nil && *current.ReversalTransactionID == reversal.ID {
				return nil
			}
			return pkgerrors.New(pkgerrors.CodeStateConflict, "transaction already reversed")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reversal, nil
}

func (s *service) BalanceOf(ctx context.Context, accountID uuid.UUID, currency enums.Currency) (decimal.Decimal, error) {
	if accountID == uuid.Nil {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	if !currency.IsValid() {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid currency %q", currency))
	}
	balance, err := s.repo.SumBalance(ctx, accountID, currency)
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum balance")
	}
	return balance, nil
}

func (s *service) GetByOperationID(ctx context.Context, operationID string) (*models.LedgerTransaction, error) {
	if operationID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "operation id is required")
	}
	txn, err := s.repo.FindByOperationID(ctx, operationID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup transaction")
	}
	if txn == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
	}
	return txn, nil
}

func (s *service) ListByUser(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.LedgerTransaction, string, error) {
	if userID == uuid.Nil {
		return nil, "", pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	limit := pagination.NormalizeLimit(params.Limit)
	txns, err := s.repo.ListByUser(ctx, userID, pagination.LimitWithBuffer(params.Limit), cursor)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list transactions")
	}

	next := ""
	if len(txns) > limit {
		txns = txns[:limit]
		last := txns[len(txns)-1]
		next = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return txns, next, nil
}
