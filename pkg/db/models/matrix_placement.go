package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vitawell/vitawell-backend/pkg/enums"
)

// MatrixPlacement is one participant's slot in the binary matrix. ParentID and
// Position are nil only for the tree root. SponsorID is the referrer and may
// differ from ParentID under spillover. ux_matrix_placements_user keeps one
// placement per participant; ux_matrix_placements_slot keeps one occupant per
// (parent, position) so two concurrent placements cannot land in the same slot.
type MatrixPlacement struct {
	ID       uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID   uuid.UUID             `gorm:"column:user_id;type:uuid;not null"`
	ParentID *uuid.UUID            `gorm:"column:parent_id;type:uuid"`
	Position *enums.MatrixPosition `gorm:"column:position;type:matrix_position_enum"`

	SponsorID uuid.UUID `gorm:"column:sponsor_id;type:uuid;not null"`
	Level     int       `gorm:"column:level;not null"`

	LeftLegVolume  decimal.Decimal `gorm:"column:left_leg_volume;type:numeric(20,4);not null;default:0"`
	RightLegVolume decimal.Decimal `gorm:"column:right_leg_volume;type:numeric(20,4);not null;default:0"`
	LeftLegCount   int             `gorm:"column:left_leg_count;not null;default:0"`
	RightLegCount  int             `gorm:"column:right_leg_count;not null;default:0"`

	IsActive  bool      `gorm:"column:is_active;not null;default:true"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
