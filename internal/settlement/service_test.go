package settlement

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/vitawell/vitawell-backend/internal/accounts"
	"github.com/vitawell/vitawell-backend/internal/ledger"
	"github.com/vitawell/vitawell-backend/internal/matrix"
	"github.com/vitawell/vitawell-backend/pkg/config"
	"github.com/vitawell/vitawell-backend/pkg/db/models"
	"github.com/vitawell/vitawell-backend/pkg/enums"
	pkgerrors "github.com/vitawell/vitawell-backend/pkg/errors"
	"github.com/vitawell/vitawell-backend/pkg/logger"
	"github.com/vitawell/vitawell-backend/pkg/outbox"
	"github.com/vitawell/vitawell-backend/pkg/pagination"
)

type fakeTxRunner struct{}

func (fakeTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(&gorm.DB{})
}

type fakeAccounts struct {
	byKey  map[string]*models.Account
	onLock func(id uuid.UUID)
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{byKey: make(map[string]*models.Account)}
}

func accountKeyString(key accounts.Key) string {
	owner := "system"
	if key.OwnerID != nil {
		owner = key.OwnerID.String()
	}
	return fmt.Sprintf("%s|%s|%s|%s", key.OwnerKind, owner, key.Type, key.Currency)
}

func (f *fakeAccounts) WithTx(tx *gorm.DB) accounts.Service { return f }

func (f *fakeAccounts) GetOrCreate(ctx context.Context, key accounts.Key) (*models.Account, error) {
	ks := accountKeyString(key)
	if account, ok := f.byKey[ks]; ok {
		return account, nil
	}
	account := &models.Account{
		ID:        uuid.New(),
		OwnerKind: key.OwnerKind,
		OwnerID:   key.OwnerID,
		Type:      key.Type,
		Currency:  key.Currency,
	}
	f.byKey[ks] = account
	return account, nil
}

func (f *fakeAccounts) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
}

func (f *fakeAccounts) LockForUpdate(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	if f.onLock != nil {
		f.onLock(id)
	}
	for _, account := range f.byKey {
		if account.ID == id {
			return account, nil
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
}

func (f *fakeAccounts) ListByOwner(ctx context.Context, ownerKind enums.OwnerKind, ownerID uuid.UUID) ([]models.Account, error) {
	return nil, nil
}

func (f *fakeAccounts) DetachOwner(ctx context.Context, ownerKind enums.OwnerKind, ownerID uuid.UUID) (int64, error) {
	return 0, nil
}

type fakeLedger struct {
	byOp      map[string]*models.LedgerTransaction
	inputs    []ledger.RecordTransactionInput
	balances  map[uuid.UUID]decimal.Decimal
	onBalance func(accountID uuid.UUID)
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		byOp:     make(map[string]*models.LedgerTransaction),
		balances: make(map[uuid.UUID]decimal.Decimal),
	}
}

func (f *fakeLedger) WithTx(tx *gorm.DB) ledger.Service { return f }

func (f *fakeLedger) Record(ctx context.Context, input ledger.RecordTransactionInput) (*models.LedgerTransaction, error) {
	if existing, ok := f.byOp[input.OperationID]; ok {
		return existing, nil
	}
	f.inputs = append(f.inputs, input)
	txn := &models.LedgerTransaction{ID: uuid.New(), OperationID: input.OperationID, Type: input.Type}
	f.byOp[input.OperationID] = txn
	return txn, nil
}

func (f *fakeLedger) Reverse(ctx context.Context, input ledger.ReverseInput) (*models.LedgerTransaction, error) {
	return nil, pkgerrors.New(pkgerrors.CodeInternal, "not implemented")
}

func (f *fakeLedger) BalanceOf(ctx context.Context, accountID uuid.UUID, currency enums.Currency) (decimal.Decimal, error) {
	if f.onBalance != nil {
		f.onBalance(accountID)
	}
	return f.balances[accountID], nil
}

func (f *fakeLedger) GetByOperationID(ctx context.Context, operationID string) (*models.LedgerTransaction, error) {
	if txn, ok := f.byOp[operationID]; ok {
		return txn, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
}

func (f *fakeLedger) ListByUser(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.LedgerTransaction, string, error) {
	return nil, "", nil
}

type fakeMatrix struct {
	uplines map[uuid.UUID][]models.MatrixPlacement
}

func (f *fakeMatrix) Place(ctx context.Context, input matrix.PlaceInput) (*models.MatrixPlacement, error) {
	return nil, pkgerrors.New(pkgerrors.CodeInternal, "not implemented")
}

func (f *fakeMatrix) IncrementLeg(ctx context.Context, input matrix.IncrementLegInput) error {
	return nil
}

func (f *fakeMatrix) GetPlacement(ctx context.Context, userID uuid.UUID) (*models.MatrixPlacement, error) {
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "placement not found")
}

func (f *fakeMatrix) GetChildren(ctx context.Context, userID uuid.UUID) ([]models.MatrixPlacement, error) {
	return nil, nil
}

func (f *fakeMatrix) GetSubtree(ctx context.Context, rootUserID uuid.UUID, maxDepth int) ([]models.MatrixPlacement, error) {
	return nil, nil
}

func (f *fakeMatrix) GetUpline(ctx context.Context, userID uuid.UUID) ([]models.MatrixPlacement, error) {
	if chain, ok := f.uplines[userID]; ok {
		return chain, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "placement not found")
}

func (f *fakeMatrix) WouldCreateCycle(ctx context.Context, parentUserID, childUserID uuid.UUID) (bool, error) {
	return false, nil
}

type legBump struct {
	userID uuid.UUID
	leg    enums.MatrixPosition
	volume decimal.Decimal
	count  int
}

type fakeLegs struct {
	bumps []legBump
}

func (f *fakeLegs) WithTx(tx *gorm.DB) matrix.Repository { return f }

func (f *fakeLegs) Create(ctx context.Context, placement *models.MatrixPlacement) error { return nil }

func (f *fakeLegs) FindByUserID(ctx context.Context, userID uuid.UUID) (*models.MatrixPlacement, error) {
	return nil, nil
}

func (f *fakeLegs) FindChildren(ctx context.Context, parentUserID uuid.UUID) ([]models.MatrixPlacement, error) {
	return nil, nil
}

func (f *fakeLegs) FindChildrenOf(ctx context.Context, parentUserIDs []uuid.UUID) ([]models.MatrixPlacement, error) {
	return nil, nil
}

func (f *fakeLegs) IncrementLeg(ctx context.Context, userID uuid.UUID, leg enums.MatrixPosition, volumeDelta decimal.Decimal, countDelta int) (int64, error) {
	f.bumps = append(f.bumps, legBump{userID: userID, leg: leg, volume: volumeDelta, count: countDelta})
	return 1, nil
}

type fakeSettlementOutbox struct {
	events []outbox.DomainEvent
}

func (f *fakeSettlementOutbox) EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	f.events = append(f.events, event)
	return nil
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := ParseConfig(config.SettlementConfig{
		CashbackPercent:       "5",
		NetworkFundPercent:    "2",
		ReferralLevelPercents: "3,2,1",
		PointRate:             "0.5",
		RoundingMode:          "half_up",
		Version:               "v1",
	})
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	return cfg
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	return logger.New(logger.Options{ServiceName: "settlement-test", Level: logger.ParseLevel("error")})
}

type fixture struct {
	svc      Service
	accounts *fakeAccounts
	ledger   *fakeLedger
	matrix   *fakeMatrix
	legs     *fakeLegs
	outbox   *fakeSettlementOutbox
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		accounts: newFakeAccounts(),
		ledger:   newFakeLedger(),
		matrix:   &fakeMatrix{uplines: make(map[uuid.UUID][]models.MatrixPlacement)},
		legs:     &fakeLegs{},
		outbox:   &fakeSettlementOutbox{},
	}
	svc, err := NewService(ServiceParams{
		Config:   testConfig(t),
		Logger:   testLogger(t),
		Tx:       fakeTxRunner{},
		Accounts: f.accounts,
		Ledger:   f.ledger,
		Matrix:   f.matrix,
		Legs:     f.legs,
		Outbox:   f.outbox,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	f.svc = svc
	return f
}

func placementNode(userID uuid.UUID, parentID *uuid.UUID, pos *enums.MatrixPosition, level int) models.MatrixPlacement {
	sponsor := userID
	if parentID != nil {
		sponsor = *parentID
	}
	return models.MatrixPlacement{ID: uuid.New(), UserID: userID, ParentID: parentID, Position: pos, SponsorID: sponsor, Level: level}
}

func TestService_OnOrderPaidFullDistribution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rootID := uuid.New()
	midID := uuid.New()
	buyerID := uuid.New()
	orderID := uuid.New()
	left := enums.MatrixPositionLeft
	right := enums.MatrixPositionRight

	f.matrix.uplines[buyerID] = []models.MatrixPlacement{
		placementNode(rootID, nil, nil, 0),
		placementNode(midID, &rootID, &left, 1),
		placementNode(buyerID, &midID, &right, 2),
	}

	err := f.svc.OnOrderPaid(ctx, OrderPaidInput{
		OrderID:     orderID,
		BuyerUserID: buyerID,
		Amount:      decimal.NewFromInt(1000),
		Currency:    enums.CurrencyRUB,
	})
	if err != nil {
		t.Fatalf("OnOrderPaid: %v", err)
	}

	wantAmounts := map[string]string{
		fmt.Sprintf("order:%s:cashback", orderID):     "50",
		fmt.Sprintf("order:%s:referral:l1", orderID):  "30",
		fmt.Sprintf("order:%s:referral:l2", orderID):  "20",
		fmt.Sprintf("order:%s:network-fund", orderID): "20",
		fmt.Sprintf("order:%s:points", orderID):       "500",
	}
	if len(f.ledger.inputs) != len(wantAmounts) {
		t.Fatalf("expected %d ledger writes, got %d", len(wantAmounts), len(f.ledger.inputs))
	}
	for _, input := range f.ledger.inputs {
		want, ok := wantAmounts[input.OperationID]
		if !ok {
			t.Fatalf("unexpected operation %q", input.OperationID)
		}
		if len(input.Postings) != 1 {
			t.Fatalf("operation %q: expected 1 posting", input.OperationID)
		}
		if !input.Postings[0].Amount.Equal(decimal.RequireFromString(want)) {
			t.Fatalf("operation %q: want %s, got %s", input.OperationID, want, input.Postings[0].Amount)
		}
	}

	// Referral level 1 pays the buyer's parent, not the root.
	for _, input := range f.ledger.inputs {
		if input.OperationID == fmt.Sprintf("order:%s:referral:l1", orderID) {
			if input.UserID == nil || *input.UserID != midID {
				t.Fatalf("level 1 referral must pay the parent, got %v", input.UserID)
			}
		}
		if input.OperationID == fmt.Sprintf("order:%s:referral:l2", orderID) {
			if input.UserID == nil || *input.UserID != rootID {
				t.Fatalf("level 2 referral must pay the grandparent, got %v", input.UserID)
			}
		}
	}

	// Leg volume flows up the chain along each child's position.
	if len(f.legs.bumps) != 2 {
		t.Fatalf("expected 2 leg bumps, got %d", len(f.legs.bumps))
	}
	if f.legs.bumps[0].userID != rootID || f.legs.bumps[0].leg != left {
		t.Fatalf("root bump wrong: %+v", f.legs.bumps[0])
	}
	if f.legs.bumps[1].userID != midID || f.legs.bumps[1].leg != right {
		t.Fatalf("mid bump wrong: %+v", f.legs.bumps[1])
	}
	for _, bump := range f.legs.bumps {
		if !bump.volume.Equal(decimal.NewFromInt(1000)) {
			t.Fatalf("leg volume must equal the order total, got %s", bump.volume)
		}
	}

	if len(f.outbox.events) != 1 || f.outbox.events[0].EventType != enums.OutboxEventTypeOrderSettled {
		t.Fatalf("expected one settled event, got %+v", f.outbox.events)
	}
}

func TestService_OnOrderPaidReplayIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	buyerID := uuid.New()
	orderID := uuid.New()
	input := OrderPaidInput{OrderID: orderID, BuyerUserID: buyerID, Amount: decimal.NewFromInt(100), Currency: enums.CurrencyRUB}

	if err := f.svc.OnOrderPaid(ctx, input); err != nil {
		t.Fatalf("first settlement: %v", err)
	}
	writes := len(f.ledger.inputs)
	bumps := len(f.legs.bumps)

	if err := f.svc.OnOrderPaid(ctx, input); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(f.ledger.inputs) != writes {
		t.Fatalf("replay must not write ledger entries, got %d new", len(f.ledger.inputs)-writes)
	}
	if len(f.legs.bumps) != bumps {
		t.Fatal("replay must not bump leg volumes")
	}
}

func TestService_OnOrderPaidUnplacedBuyer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	buyerID := uuid.New()
	orderID := uuid.New()
	err := f.svc.OnOrderPaid(ctx, OrderPaidInput{
		OrderID:     orderID,
		BuyerUserID: buyerID,
		Amount:      decimal.NewFromInt(200),
		Currency:    enums.CurrencyRUB,
	})
	if err != nil {
		t.Fatalf("OnOrderPaid: %v", err)
	}

	// Cashback, network fund, and points still settle; no referrals, no legs.
	for _, input := range f.ledger.inputs {
		if input.Type == enums.OperationTypeReferralBonus {
			t.Fatal("unplaced buyer must not trigger referral payouts")
		}
	}
	if len(f.ledger.inputs) != 3 {
		t.Fatalf("expected 3 ledger writes, got %d", len(f.ledger.inputs))
	}
	if len(f.legs.bumps) != 0 {
		t.Fatal("unplaced buyer must not propagate leg volume")
	}
}

func TestService_OnOrderPaidValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := uuid.New()

	cases := []struct {
		name  string
		input OrderPaidInput
	}{
		{"missing order", OrderPaidInput{BuyerUserID: id, Amount: decimal.NewFromInt(1), Currency: enums.CurrencyRUB}},
		{"missing buyer", OrderPaidInput{OrderID: id, Amount: decimal.NewFromInt(1), Currency: enums.CurrencyRUB}},
		{"zero amount", OrderPaidInput{OrderID: id, BuyerUserID: id, Currency: enums.CurrencyRUB}},
		{"point currency", OrderPaidInput{OrderID: id, BuyerUserID: id, Amount: decimal.NewFromInt(1), Currency: enums.CurrencyPV}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := f.svc.OnOrderPaid(ctx, tc.input)
			if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestService_RequestWithdrawal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	userID := uuid.New()
	cash, _ := f.accounts.GetOrCreate(ctx, accounts.Key{
		OwnerKind: enums.OwnerKindUser,
		OwnerID:   &userID,
		Type:      enums.AccountTypeCash,
		Currency:  enums.CurrencyRUB,
	})
	f.ledger.balances[cash.ID] = decimal.NewFromInt(500)

	txn, err := f.svc.RequestWithdrawal(ctx, WithdrawalInput{
		RequestID: "req-1",
		UserID:    userID,
		Amount:    decimal.NewFromInt(200),
		Currency:  enums.CurrencyRUB,
	})
	if err != nil {
		t.Fatalf("RequestWithdrawal: %v", err)
	}
	if txn.OperationID != "withdrawal:req-1:request" {
		t.Fatalf("unexpected operation id %q", txn.OperationID)
	}
	if txn.Type != enums.OperationTypeWithdrawalRequest {
		t.Fatalf("unexpected type %q", txn.Type)
	}
}

func TestService_RequestWithdrawalLocksCashBeforeBalanceCheck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	userID := uuid.New()
	cash, _ := f.accounts.GetOrCreate(ctx, accounts.Key{
		OwnerKind: enums.OwnerKindUser,
		OwnerID:   &userID,
		Type:      enums.AccountTypeCash,
		Currency:  enums.CurrencyRUB,
	})
	f.ledger.balances[cash.ID] = decimal.NewFromInt(100)

	var trace []string
	f.accounts.onLock = func(id uuid.UUID) {
		if id != cash.ID {
			t.Fatalf("locked unexpected account %s", id)
		}
		trace = append(trace, "lock")
	}
	f.ledger.onBalance = func(accountID uuid.UUID) {
		trace = append(trace, "balance")
	}

	if _, err := f.svc.RequestWithdrawal(ctx, WithdrawalInput{
		RequestID: "req-lock",
		UserID:    userID,
		Amount:    decimal.NewFromInt(60),
		Currency:  enums.CurrencyRUB,
	}); err != nil {
		t.Fatalf("RequestWithdrawal: %v", err)
	}

	if len(trace) < 2 || trace[0] != "lock" || trace[1] != "balance" {
		t.Fatalf("expected the cash row locked before the balance read, got %v", trace)
	}
}

func TestService_RequestWithdrawalInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RequestWithdrawal(ctx, WithdrawalInput{
		RequestID: "req-2",
		UserID:    uuid.New(),
		Amount:    decimal.NewFromInt(200),
		Currency:  enums.CurrencyRUB,
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
}
