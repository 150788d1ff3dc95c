package matrix

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/vitawell/vitawell-backend/pkg/db/models"
	"github.com/vitawell/vitawell-backend/pkg/enums"
)

// Repository manages persistence for matrix placements. The tree is keyed by
// participant user id: parent_id points at the parent's user id, so a node can
// act as a parent (implicit root) before it has a placement row of its own.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, placement *models.MatrixPlacement) error
	FindByUserID(ctx context.Context, userID uuid.UUID) (*models.MatrixPlacement, error)
	FindChildren(ctx context.Context, parentUserID uuid.UUID) ([]models.MatrixPlacement, error)
	FindChildrenOf(ctx context.Context, parentUserIDs []uuid.UUID) ([]models.MatrixPlacement, error)
	IncrementLeg(ctx context.Context, userID uuid.UUID, leg enums.MatrixPosition, volumeDelta decimal.Decimal, countDelta int) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a matrix repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, placement *models.MatrixPlacement) error {
	if placement.ID == uuid.Nil {
		placement.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(placement).Error
}

func (r *repository) FindByUserID(ctx context.Context, userID uuid.UUID) (*models.MatrixPlacement, error) {
	var placement models.MatrixPlacement
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&placement).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &placement, nil
}

// FindChildren returns a node's direct children, left before right. The enum
// values sort that way lexically.
func (r *repository) FindChildren(ctx context.Context, parentUserID uuid.UUID) ([]models.MatrixPlacement, error) {
	var children []models.MatrixPlacement
	if err := r.db.WithContext(ctx).
		Where("parent_id = ?", parentUserID).
		Order("position ASC").
		Find(&children).Error; err != nil {
		return nil, err
	}
	return children, nil
}

func (r *repository) FindChildrenOf(ctx context.Context, parentUserIDs []uuid.UUID) ([]models.MatrixPlacement, error) {
	if len(parentUserIDs) == 0 {
		return nil, nil
	}
	var children []models.MatrixPlacement
	if err := r.db.WithContext(ctx).
		Where("parent_id IN ?", parentUserIDs).
		Order("level ASC, position ASC").
		Find(&children).Error; err != nil {
		return nil, err
	}
	return children, nil
}

// IncrementLeg applies a single arithmetic update so concurrent accruals from
// sibling orders never lose increments.
func (r *repository) IncrementLeg(ctx context.Context, userID uuid.UUID, leg enums.MatrixPosition, volumeDelta decimal.Decimal, countDelta int) (int64, error) {
	volumeColumn := "left_leg_volume"
	countColumn := "left_leg_count"
	if leg == enums.MatrixPositionRight {
		volumeColumn = "right_leg_volume"
		countColumn = "right_leg_count"
	}

	result := r.db.WithContext(ctx).
		Model(&models.MatrixPlacement{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			volumeColumn: gorm.Expr(volumeColumn+" + ?", volumeDelta),
			countColumn:  gorm.Expr(countColumn+" + ?", countDelta),
		})
	return result.RowsAffected, result.Error
}
