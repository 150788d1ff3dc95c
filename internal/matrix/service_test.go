package matrix

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/vitawell/vitawell-backend/pkg/db/models"
	"github.com/vitawell/vitawell-backend/pkg/enums"
	pkgerrors "github.com/vitawell/vitawell-backend/pkg/errors"
	"github.com/vitawell/vitawell-backend/pkg/outbox"
)

type fakeTxRunner struct{}

func (fakeTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(&gorm.DB{})
}

type fakeOutbox struct {
	events []outbox.DomainEvent
}

func (f *fakeOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	f.events = append(f.events, event)
	return nil
}

// memoryRepository keeps the tree in maps and enforces the same uniqueness the
// real schema does.
type memoryRepository struct {
	byUser   map[uuid.UUID]*models.MatrixPlacement
	createFn func(placement *models.MatrixPlacement) error
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{byUser: make(map[uuid.UUID]*models.MatrixPlacement)}
}

func (m *memoryRepository) WithTx(tx *gorm.DB) Repository { return m }

func (m *memoryRepository) Create(ctx context.Context, placement *models.MatrixPlacement) error {
	if m.createFn != nil {
		if err := m.createFn(placement); err != nil {
			return err
		}
	}
	if _, ok := m.byUser[placement.UserID]; ok {
		return &constraintError{name: "ux_matrix_placements_user"}
	}
	if placement.ParentID != nil && placement.Position != nil {
		for _, other := range m.byUser {
			if other.ParentID != nil && *other.ParentID == *placement.ParentID &&
				other.Position != nil && *other.Position == *placement.Position {
				return &constraintError{name: "ux_matrix_placements_slot"}
			}
		}
	}
	clone := *placement
	m.byUser[placement.UserID] = &clone
	return nil
}

func (m *memoryRepository) FindByUserID(ctx context.Context, userID uuid.UUID) (*models.MatrixPlacement, error) {
	if placement, ok := m.byUser[userID]; ok {
		clone := *placement
		return &clone, nil
	}
	return nil, nil
}

func (m *memoryRepository) FindChildren(ctx context.Context, parentUserID uuid.UUID) ([]models.MatrixPlacement, error) {
	var left, right *models.MatrixPlacement
	for _, placement := range m.byUser {
		if placement.ParentID == nil || *placement.ParentID != parentUserID || placement.Position == nil {
			continue
		}
		if *placement.Position == enums.MatrixPositionLeft {
			left = placement
		} else {
			right = placement
		}
	}
	var children []models.MatrixPlacement
	if left != nil {
		children = append(children, *left)
	}
	if right != nil {
		children = append(children, *right)
	}
	return children, nil
}

func (m *memoryRepository) FindChildrenOf(ctx context.Context, parentUserIDs []uuid.UUID) ([]models.MatrixPlacement, error) {
	var children []models.MatrixPlacement
	for _, parentID := range parentUserIDs {
		batch, _ := m.FindChildren(ctx, parentID)
		children = append(children, batch...)
	}
	return children, nil
}

func (m *memoryRepository) IncrementLeg(ctx context.Context, userID uuid.UUID, leg enums.MatrixPosition, volumeDelta decimal.Decimal, countDelta int) (int64, error) {
	placement, ok := m.byUser[userID]
	if !ok {
		return 0, nil
	}
	if leg == enums.MatrixPositionLeft {
		placement.LeftLegVolume = placement.LeftLegVolume.Add(volumeDelta)
		placement.LeftLegCount += countDelta
	} else {
		placement.RightLegVolume = placement.RightLegVolume.Add(volumeDelta)
		placement.RightLegCount += countDelta
	}
	return 1, nil
}

type constraintError struct {
	name string
}

func (e *constraintError) Error() string {
	return `duplicate key value violates unique constraint "` + e.name + `"`
}

func newTestService(t *testing.T, repo Repository) Service {
	t.Helper()
	svc, err := NewService(repo, fakeTxRunner{}, nil)
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}
	return svc
}

func position(p enums.MatrixPosition) *enums.MatrixPosition { return &p }

func TestService_PlaceSpilloverScenario(t *testing.T) {
	repo := newMemoryRepository()
	svc := newTestService(t, repo)
	ctx := context.Background()

	root := uuid.New()
	u1 := uuid.New()
	u2 := uuid.New()
	u3 := uuid.New()

	// Root has no placement row; U1 goes directly under it.
	p1, err := svc.Place(ctx, PlaceInput{UserID: u1, SponsorID: root})
	if err != nil {
		t.Fatalf("place u1: %v", err)
	}
	if p1.ParentID == nil || *p1.ParentID != root || *p1.Position != enums.MatrixPositionLeft || p1.Level != 1 {
		t.Fatalf("u1 misplaced: %+v", p1)
	}

	p2, err := svc.Place(ctx, PlaceInput{UserID: u2, SponsorID: root})
	if err != nil {
		t.Fatalf("place u2: %v", err)
	}
	if *p2.ParentID != root || *p2.Position != enums.MatrixPositionRight || p2.Level != 1 {
		t.Fatalf("u2 misplaced: %+v", p2)
	}

	// Root is full; the search visits U1 before U2 and picks U1's left slot.
	p3, err := svc.Place(ctx, PlaceInput{UserID: u3, SponsorID: root})
	if err != nil {
		t.Fatalf("place u3: %v", err)
	}
	if *p3.ParentID != u1 || *p3.Position != enums.MatrixPositionLeft || p3.Level != 2 {
		t.Fatalf("u3 misplaced: %+v", p3)
	}
	if p3.SponsorID != root {
		t.Fatal("sponsor must be preserved under spillover")
	}

	// U1's left leg count was bumped by the placement.
	u1Row, _ := repo.FindByUserID(ctx, u1)
	if u1Row.LeftLegCount != 1 {
		t.Fatalf("expected u1 left leg count 1, got %d", u1Row.LeftLegCount)
	}
}

func TestService_PlacePreferredPosition(t *testing.T) {
	repo := newMemoryRepository()
	svc := newTestService(t, repo)
	ctx := context.Background()

	root := uuid.New()
	u1 := uuid.New()

	p1, err := svc.Place(ctx, PlaceInput{UserID: u1, SponsorID: root, Preferred: position(enums.MatrixPositionRight)})
	if err != nil {
		t.Fatalf("place u1: %v", err)
	}
	if *p1.Position != enums.MatrixPositionRight {
		t.Fatalf("preferred right not honored: %+v", p1)
	}

	// Right is taken now; preferring right falls back to left.
	u2 := uuid.New()
	p2, err := svc.Place(ctx, PlaceInput{UserID: u2, SponsorID: root, Preferred: position(enums.MatrixPositionRight)})
	if err != nil {
		t.Fatalf("place u2: %v", err)
	}
	if *p2.Position != enums.MatrixPositionLeft {
		t.Fatalf("expected fallback to left: %+v", p2)
	}
}

func TestService_PlacePreferredIgnoredUnderSpillover(t *testing.T) {
	repo := newMemoryRepository()
	svc := newTestService(t, repo)
	ctx := context.Background()

	root := uuid.New()
	u1 := uuid.New()
	u2 := uuid.New()
	for _, id := range []uuid.UUID{u1, u2} {
		if _, err := svc.Place(ctx, PlaceInput{UserID: id, SponsorID: root}); err != nil {
			t.Fatalf("seed placement: %v", err)
		}
	}

	// Sponsor is full; the spillover node's left slot wins even though the
	// caller asked for right.
	u3 := uuid.New()
	p3, err := svc.Place(ctx, PlaceInput{UserID: u3, SponsorID: root, Preferred: position(enums.MatrixPositionRight)})
	if err != nil {
		t.Fatalf("place u3: %v", err)
	}
	if *p3.ParentID != u1 || *p3.Position != enums.MatrixPositionLeft {
		t.Fatalf("expected left under u1, got %+v", p3)
	}
}

func TestService_PlaceAlreadyPlaced(t *testing.T) {
	repo := newMemoryRepository()
	svc := newTestService(t, repo)
	ctx := context.Background()

	root := uuid.New()
	u1 := uuid.New()
	if _, err := svc.Place(ctx, PlaceInput{UserID: u1, SponsorID: root}); err != nil {
		t.Fatalf("place u1: %v", err)
	}

	_, err := svc.Place(ctx, PlaceInput{UserID: u1, SponsorID: root})
	if !pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestService_PlaceRetriesLostSlotRace(t *testing.T) {
	repo := newMemoryRepository()
	svc := newTestService(t, repo)
	ctx := context.Background()

	root := uuid.New()
	rival := uuid.New()

	// First attempt loses the slot to a rival that sneaks in mid-search.
	attempts := 0
	repo.createFn = func(placement *models.MatrixPlacement) error {
		attempts++
		if attempts == 1 {
			rivalRow := *placement
			rivalRow.ID = uuid.New()
			rivalRow.UserID = rival
			repo.byUser[rival] = &rivalRow
		}
		return nil
	}

	u1 := uuid.New()
	p1, err := svc.Place(ctx, PlaceInput{UserID: u1, SponsorID: root})
	if err != nil {
		t.Fatalf("place after race: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected one retry, got %d attempts", attempts)
	}
	// The rival holds left; the retry resolved right.
	if *p1.Position != enums.MatrixPositionRight {
		t.Fatalf("expected right slot after losing left, got %+v", p1)
	}
}

func TestService_PlaceGivesUpAfterPersistentContention(t *testing.T) {
	repo := newMemoryRepository()
	svc := newTestService(t, repo)
	ctx := context.Background()

	repo.createFn = func(placement *models.MatrixPlacement) error {
		return &constraintError{name: "ux_matrix_placements_slot"}
	}

	_, err := svc.Place(ctx, PlaceInput{UserID: uuid.New(), SponsorID: uuid.New()})
	if !pkgerrors.HasCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected conflict after retries, got %v", err)
	}
}

func TestService_PlaceValidation(t *testing.T) {
	svc := newTestService(t, newMemoryRepository())
	ctx := context.Background()
	id := uuid.New()

	cases := []struct {
		name  string
		input PlaceInput
	}{
		{"missing user", PlaceInput{SponsorID: id}},
		{"missing sponsor", PlaceInput{UserID: id}},
		{"self sponsorship", PlaceInput{UserID: id, SponsorID: id}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Place(ctx, tc.input)
			if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestService_PlaceEmitsOutboxEvent(t *testing.T) {
	repo := newMemoryRepository()
	sink := &fakeOutbox{}
	svc, err := NewService(repo, fakeTxRunner{}, sink)
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}

	u1 := uuid.New()
	if _, err := svc.Place(context.Background(), PlaceInput{UserID: u1, SponsorID: uuid.New()}); err != nil {
		t.Fatalf("place: %v", err)
	}
	if len(sink.events) != 1 {
		t.Fatalf("expected 1 outbox event, got %d", len(sink.events))
	}
	if sink.events[0].EventType != enums.OutboxEventTypeParticipantPlaced {
		t.Fatalf("unexpected event type %q", sink.events[0].EventType)
	}
}

func TestService_IncrementLeg(t *testing.T) {
	repo := newMemoryRepository()
	svc := newTestService(t, repo)
	ctx := context.Background()

	root := uuid.New()
	u1 := uuid.New()
	if _, err := svc.Place(ctx, PlaceInput{UserID: u1, SponsorID: root}); err != nil {
		t.Fatalf("place: %v", err)
	}

	err := svc.IncrementLeg(ctx, IncrementLegInput{
		UserID:      u1,
		Leg:         enums.MatrixPositionRight,
		VolumeDelta: decimal.RequireFromString("250.75"),
	})
	if err != nil {
		t.Fatalf("IncrementLeg: %v", err)
	}

	row, _ := repo.FindByUserID(ctx, u1)
	if !row.RightLegVolume.Equal(decimal.RequireFromString("250.75")) {
		t.Fatalf("unexpected volume %s", row.RightLegVolume)
	}
	if row.RightLegCount != 1 {
		t.Fatalf("count delta should default to 1, got %d", row.RightLegCount)
	}

	err = svc.IncrementLeg(ctx, IncrementLegInput{UserID: uuid.New(), Leg: enums.MatrixPositionLeft, VolumeDelta: decimal.NewFromInt(1)})
	if !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	err = svc.IncrementLeg(ctx, IncrementLegInput{UserID: u1, Leg: enums.MatrixPositionLeft, VolumeDelta: decimal.NewFromInt(-1)})
	if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestService_GetUplineOrderedRootToNode(t *testing.T) {
	repo := newMemoryRepository()
	svc := newTestService(t, repo)
	ctx := context.Background()

	root := uuid.New()
	u1 := uuid.New()
	u2 := uuid.New()
	u3 := uuid.New()
	for _, id := range []uuid.UUID{u1, u2, u3} {
		if _, err := svc.Place(ctx, PlaceInput{UserID: id, SponsorID: root}); err != nil {
			t.Fatalf("seed placement: %v", err)
		}
	}

	// u3 sits under u1: chain is u1 then u3 (root has no placement row).
	chain, err := svc.GetUpline(ctx, u3)
	if err != nil {
		t.Fatalf("GetUpline: %v", err)
	}
	if len(chain) != 2 {
		t.Fatalf("expected chain of 2, got %d", len(chain))
	}
	if chain[0].UserID != u1 || chain[1].UserID != u3 {
		t.Fatalf("chain not ordered root-to-node: %v then %v", chain[0].UserID, chain[1].UserID)
	}
}

func TestService_GetUplineCycleCeiling(t *testing.T) {
	repo := newMemoryRepository()
	svc := newTestService(t, repo)
	ctx := context.Background()

	// Two nodes pointing at each other, which the schema forbids but a walk
	// must still survive.
	a := uuid.New()
	b := uuid.New()
	left := enums.MatrixPositionLeft
	right := enums.MatrixPositionRight
	repo.byUser[a] = &models.MatrixPlacement{ID: uuid.New(), UserID: a, ParentID: &b, Position: &left, SponsorID: b, Level: 1}
	repo.byUser[b] = &models.MatrixPlacement{ID: uuid.New(), UserID: b, ParentID: &a, Position: &right, SponsorID: a, Level: 1}

	_, err := svc.GetUpline(ctx, a)
	if !pkgerrors.HasCode(err, pkgerrors.CodeIntegrity) {
		t.Fatalf("expected integrity error, got %v", err)
	}
}

func TestService_GetSubtree(t *testing.T) {
	repo := newMemoryRepository()
	svc := newTestService(t, repo)
	ctx := context.Background()

	root := uuid.New()
	ids := make([]uuid.UUID, 5)
	for i := range ids {
		ids[i] = uuid.New()
		if _, err := svc.Place(ctx, PlaceInput{UserID: ids[i], SponsorID: root}); err != nil {
			t.Fatalf("seed placement %d: %v", i, err)
		}
	}

	// Full subtree under the first-placed node: itself plus its descendants.
	subtree, err := svc.GetSubtree(ctx, ids[0], 0)
	if err != nil {
		t.Fatalf("GetSubtree: %v", err)
	}
	if len(subtree) < 2 {
		t.Fatalf("expected the node and descendants, got %d rows", len(subtree))
	}
	if subtree[0].UserID != ids[0] {
		t.Fatal("subtree must start at the requested root")
	}

	// Depth 1 returns the node plus direct children only.
	shallow, err := svc.GetSubtree(ctx, ids[0], 1)
	if err != nil {
		t.Fatalf("GetSubtree depth 1: %v", err)
	}
	for _, row := range shallow[1:] {
		if row.ParentID == nil || *row.ParentID != ids[0] {
			t.Fatalf("depth 1 subtree leaked deeper row: %+v", row)
		}
	}
}

func TestService_WouldCreateCycle(t *testing.T) {
	repo := newMemoryRepository()
	svc := newTestService(t, repo)
	ctx := context.Background()

	root := uuid.New()
	u1 := uuid.New()
	u2 := uuid.New()
	u3 := uuid.New()
	for _, id := range []uuid.UUID{u1, u2, u3} {
		if _, err := svc.Place(ctx, PlaceInput{UserID: id, SponsorID: root}); err != nil {
			t.Fatalf("seed placement: %v", err)
		}
	}

	// u3 is under u1: re-parenting u1 beneath u3's subtree would cycle.
	cycle, err := svc.WouldCreateCycle(ctx, u3, u1)
	if err != nil {
		t.Fatalf("WouldCreateCycle: %v", err)
	}
	if !cycle {
		t.Fatal("expected cycle to be detected")
	}

	cycle, err = svc.WouldCreateCycle(ctx, u2, u3)
	if err != nil {
		t.Fatalf("WouldCreateCycle: %v", err)
	}
	if cycle {
		t.Fatal("siblings must not report a cycle")
	}

	cycle, err = svc.WouldCreateCycle(ctx, u1, u1)
	if err != nil {
		t.Fatalf("WouldCreateCycle: %v", err)
	}
	if !cycle {
		t.Fatal("a node is always in its own chain")
	}
}
