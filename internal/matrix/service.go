package matrix

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/vitawell/vitawell-backend/pkg/db"
	"github.com/vitawell/vitawell-backend/pkg/db/models"
	"github.com/vitawell/vitawell-backend/pkg/enums"
	pkgerrors "github.com/vitawell/vitawell-backend/pkg/errors"
	"github.com/vitawell/vitawell-backend/pkg/outbox"
	"github.com/vitawell/vitawell-backend/pkg/outbox/payloads"
)

const (
	uniqueUserConstraint = "ux_matrix_placements_user"
	uniqueSlotConstraint = "ux_matrix_placements_slot"

	// maxSearchNodes bounds the spillover BFS. A full binary tree this size is
	// twelve levels deep; hitting the bound means the tree is corrupted.
	maxSearchNodes = 4096

	// maxUplineHops bounds parent-chain walks against cyclic corruption.
	maxUplineHops = 64

	// maxSubtreeDepth caps how deep subtree reads are allowed to go.
	maxSubtreeDepth = 10

	// slotRetryAttempts is how many times a placement re-runs its slot search
	// after losing a (parent, position) insert race.
	slotRetryAttempts = 3
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service defines operations over the binary matrix.
type Service interface {
	Place(ctx context.Context, input PlaceInput) (*models.MatrixPlacement, error)
	IncrementLeg(ctx context.Context, input IncrementLegInput) error
	GetPlacement(ctx context.Context, userID uuid.UUID) (*models.MatrixPlacement, error)
	GetChildren(ctx context.Context, userID uuid.UUID) ([]models.MatrixPlacement, error)
	GetSubtree(ctx context.Context, rootUserID uuid.UUID, maxDepth int) ([]models.MatrixPlacement, error)
	GetUpline(ctx context.Context, userID uuid.UUID) ([]models.MatrixPlacement, error)
	WouldCreateCycle(ctx context.Context, parentUserID, childUserID uuid.UUID) (bool, error)
}

// PlaceInput captures a placement request. Preferred is honored only when that
// slot is open on the node the search lands on first.
type PlaceInput struct {
	UserID    uuid.UUID
	SponsorID uuid.UUID
	Preferred *enums.MatrixPosition
}

// IncrementLegInput adds volume and count to one leg of a node.
// CountDelta defaults to one when left zero.
type IncrementLegInput struct {
	UserID      uuid.UUID
	Leg         enums.MatrixPosition
	VolumeDelta decimal.Decimal
	CountDelta  int
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outboxPublisher
}

// NewService wires a matrix service. The outbox publisher is optional; without
// it placements simply do not announce themselves.
func NewService(repo Repository, tx txRunner, outboxSvc outboxPublisher) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("matrix repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{repo: repo, tx: tx, outbox: outboxSvc}, nil
}

// resolvedSlot is the outcome of one spillover search.
type resolvedSlot struct {
	ParentID uuid.UUID
	Position enums.MatrixPosition
	Level    int
}

// Place inserts the participant at the first open slot reachable from the
// sponsor. The search, the insert, and the parent leg-count bump run in one
// transaction; losing the slot to a concurrent placement re-runs the search.
func (s *service) Place(ctx context.Context, input PlaceInput) (*models.MatrixPlacement, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if input.SponsorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sponsor id is required")
	}
	if input.UserID == input.SponsorID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "a participant cannot sponsor itself")
	}
	if input.Preferred != nil && !input.Preferred.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid position %q", *input.Preferred))
	}

	existing, err := s.repo.FindByUserID(ctx, input.UserID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup placement")
	}
	if existing != nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "participant already placed")
	}

	var placement *models.MatrixPlacement
	for attempt := 0; attempt < slotRetryAttempts; attempt++ {
		placement, err = s.tryPlace(ctx, input)
		if err == nil {
			return placement, nil
		}
		if pkgerrors.HasCode(err, pkgerrors.CodeConflict) {
			continue
		}
		return nil, err
	}
	return nil, pkgerrors.New(pkgerrors.CodeConflict, "placement slot contention persisted, retry")
}

func (s *service) tryPlace(ctx context.Context, input PlaceInput) (*models.MatrixPlacement, error) {
	var placement *models.MatrixPlacement

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		slot, err := s.findOpenSlot(ctx, repo, input.SponsorID, input.Preferred)
		if err != nil {
			return err
		}

		position := slot.Position
		row := &models.MatrixPlacement{
			ID:             uuid.New(),
			UserID:         input.UserID,
			ParentID:       &slot.ParentID,
			Position:       &position,
			SponsorID:      input.SponsorID,
			Level:          slot.Level,
			LeftLegVolume:  decimal.Zero,
			RightLegVolume: decimal.Zero,
			IsActive:       true,
		}
		if err := repo.Create(ctx, row); err != nil {
			if db.IsUniqueViolation(err, uniqueUserConstraint) {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "participant already placed")
			}
			if db.IsUniqueViolation(err, uniqueSlotConstraint) {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "slot taken by concurrent placement")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert placement")
		}

		// The parent may be an implicit root with no row of its own yet; a
		// zero-row update is fine then.
		if _, err := repo.IncrementLeg(ctx, slot.ParentID, position, decimal.Zero, 1); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "increment parent leg count")
		}

		if s.outbox != nil {
			event := outbox.DomainEvent{
				EventType:     enums.OutboxEventTypeParticipantPlaced,
				AggregateType: enums.OutboxAggregateTypeMatrixPlacement,
				AggregateID:   row.ID,
				Version:       1,
				Data: payloads.ParticipantPlacedEvent{
					PlacementID: row.ID,
					UserID:      row.UserID,
					SponsorID:   row.SponsorID,
					ParentID:    row.ParentID,
					Position:    row.Position,
					Level:       row.Level,
				},
			}
			if err := s.outbox.Emit(ctx, tx, event); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit placement event")
			}
		}

		placement = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return placement, nil
}

// findOpenSlot runs the spillover search: FIFO from the sponsor, each node
// checked left before right, children enqueued left before right. The
// preferred position only applies to the sponsor's own slots. A sponsor
// without a placement row is treated as a root at level 0.
func (s *service) findOpenSlot(ctx context.Context, repo Repository, sponsorID uuid.UUID, preferred *enums.MatrixPosition) (*resolvedSlot, error) {
	type node struct {
		userID uuid.UUID
		level  int
	}

	sponsorLevel := 0
	sponsor, err := repo.FindByUserID(ctx, sponsorID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup sponsor placement")
	}
	if sponsor != nil {
		sponsorLevel = sponsor.Level
	}

	queue := []node{{userID: sponsorID, level: sponsorLevel}}
	visited := 0

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		visited++
		if visited > maxSearchNodes {
			return nil, pkgerrors.New(pkgerrors.CodeIntegrity, "spillover search exceeded its node bound")
		}

		children, err := repo.FindChildren(ctx, current.userID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load children")
		}

		var left, right *models.MatrixPlacement
		for i := range children {
			if children[i].Position == nil {
				continue
			}
			switch *children[i].Position {
			case enums.MatrixPositionLeft:
				left = &children[i]
			case enums.MatrixPositionRight:
				right = &children[i]
			}
		}

		open := make([]enums.MatrixPosition, 0, 2)
		if left == nil {
			open = append(open, enums.MatrixPositionLeft)
		}
		if right == nil {
			open = append(open, enums.MatrixPositionRight)
		}

		if len(open) > 0 {
			choice := open[0]
			if current.userID == sponsorID && preferred != nil {
				for _, position := range open {
					if position == *preferred {
						choice = position
						break
					}
				}
			}
			return &resolvedSlot{ParentID: current.userID, Position: choice, Level: current.level + 1}, nil
		}

		queue = append(queue, node{userID: left.UserID, level: left.Level})
		queue = append(queue, node{userID: right.UserID, level: right.Level})
	}

	return nil, pkgerrors.New(pkgerrors.CodeIntegrity, "spillover search exhausted without an open slot")
}

// IncrementLeg adds accrued volume and count to one leg of a node.
func (s *service) IncrementLeg(ctx context.Context, input IncrementLegInput) error {
	if input.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if !input.Leg.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid leg %q", input.Leg))
	}
	if input.VolumeDelta.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeValidation, "volume delta must not be negative")
	}
	if input.CountDelta < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "count delta must not be negative")
	}
	countDelta := input.CountDelta
	if countDelta == 0 {
		countDelta = 1
	}

	updated, err := s.repo.IncrementLeg(ctx, input.UserID, input.Leg, input.VolumeDelta, countDelta)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "increment leg")
	}
	if updated == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "placement not found")
	}
	return nil
}

func (s *service) GetPlacement(ctx context.Context, userID uuid.UUID) (*models.MatrixPlacement, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	placement, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup placement")
	}
	if placement == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "placement not found")
	}
	return placement, nil
}

func (s *service) GetChildren(ctx context.Context, userID uuid.UUID) ([]models.MatrixPlacement, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	children, err := s.repo.FindChildren(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load children")
	}
	return children, nil
}

// GetSubtree returns the root's placement (when it has one) followed by every
// descendant down to maxDepth levels below the root, in breadth-first order.
func (s *service) GetSubtree(ctx context.Context, rootUserID uuid.UUID, maxDepth int) ([]models.MatrixPlacement, error) {
	if rootUserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "root user id is required")
	}
	if maxDepth <= 0 || maxDepth > maxSubtreeDepth {
		maxDepth = maxSubtreeDepth
	}

	var result []models.MatrixPlacement
	root, err := s.repo.FindByUserID(ctx, rootUserID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup root placement")
	}
	if root != nil {
		result = append(result, *root)
	}

	frontier := []uuid.UUID{rootUserID}
	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		children, err := s.repo.FindChildrenOf(ctx, frontier)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subtree level")
		}
		frontier = frontier[:0]
		for _, child := range children {
			result = append(result, child)
			frontier = append(frontier, child.UserID)
		}
	}
	return result, nil
}

// GetUpline walks parent pointers from the user to the root and returns the
// chain ordered root first. The hop ceiling turns a corrupted cyclic chain
// into an error instead of an endless loop.
func (s *service) GetUpline(ctx context.Context, userID uuid.UUID) ([]models.MatrixPlacement, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}

	var chain []models.MatrixPlacement
	current, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup placement")
	}
	if current == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "placement not found")
	}

	for hops := 0; current != nil; hops++ {
		if hops >= maxUplineHops {
			return nil, pkgerrors.New(pkgerrors.CodeIntegrity, "upline walk exceeded its hop ceiling")
		}
		chain = append(chain, *current)
		if current.ParentID == nil {
			break
		}
		parent, err := s.repo.FindByUserID(ctx, *current.ParentID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup parent placement")
		}
		// An implicit root has children but no placement row.
		current = parent
	}

	// Reverse in place: walked node-to-root, contract is root-to-node.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// WouldCreateCycle reports whether childUserID sits in parentUserID's ancestor
// chain. Required before any future parent reassignment; plain placement only
// attaches fresh leaves and never needs it.
func (s *service) WouldCreateCycle(ctx context.Context, parentUserID, childUserID uuid.UUID) (bool, error) {
	if parentUserID == uuid.Nil || childUserID == uuid.Nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "parent and child user ids are required")
	}
	if parentUserID == childUserID {
		return true, nil
	}

	currentID := parentUserID
	for hops := 0; hops < maxUplineHops; hops++ {
		placement, err := s.repo.FindByUserID(ctx, currentID)
		if err != nil {
			return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup ancestor placement")
		}
		if placement == nil || placement.ParentID == nil {
			return false, nil
		}
		if *placement.ParentID == childUserID {
			return true, nil
		}
		currentID = *placement.ParentID
	}
	return false, pkgerrors.New(pkgerrors.CodeIntegrity, "ancestor walk exceeded its hop ceiling")
}
