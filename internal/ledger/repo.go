package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/vitawell/vitawell-backend/pkg/db/models"
	"github.com/vitawell/vitawell-backend/pkg/enums"
	"github.com/vitawell/vitawell-backend/pkg/pagination"
)

// Repository manages persistence for ledger transactions and postings.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error
	CreateTransaction(ctx context.Context, txn *models.LedgerTransaction) error
	FindByOperationID(ctx context.Context, operationID string) (*models.LedgerTransaction, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.LedgerTransaction, error)
	MarkReversed(ctx context.Context, operationID string, reversalTransactionID uuid.UUID, at time.Time) (int64, error)
	SumBalance(ctx context.Context, accountID uuid.UUID, currency enums.Currency) (decimal.Decimal, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.LedgerTransaction, error)
	CountPostingless(ctx context.Context, olderThan time.Time) (int64, []uuid.UUID, error)
	CountSince(ctx context.Context, since time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Transaction runs fn inside a database transaction. Nested calls reuse the
// outer transaction through gorm's savepoint handling.
func (r *repository) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

// CreateTransaction inserts the transaction header and its postings in one
// statement batch. IDs are assigned client-side so the rows can reference each
// other before they hit the database.
func (r *repository) CreateTransaction(ctx context.Context, txn *models.LedgerTransaction) error {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	for i := range txn.Postings {
		if txn.Postings[i].ID == uuid.Nil {
			txn.Postings[i].ID = uuid.New()
		}
		txn.Postings[i].TransactionID = txn.ID
	}
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) FindByOperationID(ctx context.Context, operationID string) (*models.LedgerTransaction, error) {
	var txn models.LedgerTransaction
	if err := r.db.WithContext(ctx).
		Preload("Postings").
		Where("operation_id = ?", operationID).
		First(&txn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &txn, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.LedgerTransaction, error) {
	var txn models.LedgerTransaction
	if err := r.db.WithContext(ctx).
		Preload("Postings").
		Where("id = ?", id).
		First(&txn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &txn, nil
}

// MarkReversed stamps the reversal onto the original transaction. The
// reversed_at IS NULL guard makes the stamp first-writer-wins; a zero row
// count means someone else already reversed it.
func (r *repository) MarkReversed(ctx context.Context, operationID string, reversalTransactionID uuid.UUID, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.LedgerTransaction{}).
		Where("operation_id = ? AND reversed_at IS NULL", operationID).
		Updates(map[string]any{
			"reversed_at":             at,
			"reversal_transaction_id": reversalTransactionID,
		})
	return result.RowsAffected, result.Error
}

// SumBalance folds postings into a signed balance: credits add, debits
// subtract. Reversed transactions net out to zero without any filtering
// because a reversal stores the mirror-image postings.
func (r *repository) SumBalance(ctx context.Context, accountID uuid.UUID, currency enums.Currency) (decimal.Decimal, error) {
	var row struct {
		Total decimal.Decimal
	}
	err := r.db.WithContext(ctx).
		Raw(`SELECT COALESCE(SUM(CASE WHEN credit_account_id = ? THEN amount ELSE -amount END), 0) AS total
		     FROM ledger_postings
		     WHERE (credit_account_id = ? OR debit_account_id = ?) AND currency = ?`,
			accountID, accountID, accountID, currency).
		Scan(&row).Error
	if err != nil {
		return decimal.Zero, err
	}
	return row.Total, nil
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.LedgerTransaction, error) {
	query := r.db.WithContext(ctx).
		Preload("Postings").
		Where("user_id = ?", userID)
	if cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var txns []models.LedgerTransaction
	if err := query.
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}

// CountPostingless finds transactions old enough that their postings should
// have landed but did not. Any hit means a partial write escaped a transaction
// boundary and needs manual review.
func (r *repository) CountPostingless(ctx context.Context, olderThan time.Time) (int64, []uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Raw(`SELECT t.id FROM ledger_transactions t
		     LEFT JOIN ledger_postings p ON p.transaction_id = t.id
		     WHERE t.created_at < ? AND p.id IS NULL
		     ORDER BY t.created_at ASC
		     LIMIT 100`, olderThan).
		Scan(&ids).Error
	if err != nil {
		return 0, nil, err
	}
	return int64(len(ids)), ids, nil
}

func (r *repository) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.LedgerTransaction{}).
		Where("created_at >= ?", since).
		Count(&count).Error
	return count, err
}
