package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/vitawell/vitawell-backend/internal/accounts"
	"github.com/vitawell/vitawell-backend/internal/ledger"
	"github.com/vitawell/vitawell-backend/internal/matrix"
	"github.com/vitawell/vitawell-backend/pkg/db/models"
	"github.com/vitawell/vitawell-backend/pkg/enums"
	pkgerrors "github.com/vitawell/vitawell-backend/pkg/errors"
	"github.com/vitawell/vitawell-backend/pkg/logger"
	"github.com/vitawell/vitawell-backend/pkg/outbox"
	"github.com/vitawell/vitawell-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service distributes the proceeds of paid orders and handles withdrawal
// requests. It owns no rows itself; everything it does is ledger postings,
// account creation, and leg-volume propagation.
type Service interface {
	OnOrderPaid(ctx context.Context, input OrderPaidInput) error
	RequestWithdrawal(ctx context.Context, input WithdrawalInput) (*models.LedgerTransaction, error)
}

// OrderPaidInput is the settlement trigger for one paid order.
type OrderPaidInput struct {
	OrderID     uuid.UUID
	BuyerUserID uuid.UUID
	Amount      decimal.Decimal
	Currency    enums.Currency
}

// WithdrawalInput moves user cash into the reserve pending payout.
type WithdrawalInput struct {
	RequestID string
	UserID    uuid.UUID
	Amount    decimal.Decimal
	Currency  enums.Currency
}

type service struct {
	cfg      *Config
	logg     *logger.Logger
	tx       txRunner
	accounts accounts.Service
	ledger   ledger.Service
	matrix   matrix.Service
	legs     matrix.Repository
	outbox   outboxPublisher
}

// ServiceParams wires the settlement orchestrator's collaborators.
type ServiceParams struct {
	Config   *Config
	Logger   *logger.Logger
	Tx       txRunner
	Accounts accounts.Service
	Ledger   ledger.Service
	Matrix   matrix.Service
	Legs     matrix.Repository
	Outbox   outboxPublisher
}

// NewService wires a settlement service. The outbox publisher is optional.
func NewService(params ServiceParams) (Service, error) {
	if params.Config == nil {
		return nil, fmt.Errorf("settlement config required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Accounts == nil {
		return nil, fmt.Errorf("account service required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Matrix == nil {
		return nil, fmt.Errorf("matrix service required")
	}
	if params.Legs == nil {
		return nil, fmt.Errorf("matrix repository required")
	}
	return &service{
		cfg:      params.Config,
		logg:     params.Logger,
		tx:       params.Tx,
		accounts: params.Accounts,
		ledger:   params.Ledger,
		matrix:   params.Matrix,
		legs:     params.Legs,
		outbox:   params.Outbox,
	}, nil
}

func cashbackOperationID(orderID uuid.UUID) string {
	return fmt.Sprintf("order:%s:cashback", orderID)
}

func referralOperationID(orderID uuid.UUID, level int) string {
	return fmt.Sprintf("order:%s:referral:l%d", orderID, level)
}

func networkFundOperationID(orderID uuid.UUID) string {
	return fmt.Sprintf("order:%s:network-fund", orderID)
}

func pointsOperationID(orderID uuid.UUID) string {
	return fmt.Sprintf("order:%s:points", orderID)
}

func withdrawalOperationID(requestID string) string {
	return fmt.Sprintf("withdrawal:%s:request", requestID)
}

// OnOrderPaid runs the whole distribution for one paid order inside a single
// transaction: cashback to the buyer, per-level referral bonuses up the tree,
// the network-fund cut, PV accrual, and leg-volume propagation. Every ledger
// write carries a deterministic operation id; a replayed trigger finds the
// first one already recorded and stops before touching anything.
func (s *service) OnOrderPaid(ctx context.Context, input OrderPaidInput) error {
	if input.OrderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if input.BuyerUserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "buyer user id is required")
	}
	if !input.Amount.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "order amount must be positive")
	}
	if !input.Currency.IsValid() || input.Currency == enums.CurrencyPV {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported order currency %q", input.Currency))
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"order_id":       input.OrderID.String(),
		"buyer_user_id":  input.BuyerUserID.String(),
		"config_version": s.cfg.Version,
	})

	upline, err := s.buyerUpline(ctx, input.BuyerUserID)
	if err != nil {
		return err
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		registry := s.accounts.WithTx(tx)
		books := s.ledger.WithTx(tx)
		legs := s.legs.WithTx(tx)

		// Replay guard: the cashback entry is always written first, so its
		// presence means this order has already been settled.
		settled, err := books.GetByOperationID(ctx, cashbackOperationID(input.OrderID))
		if err != nil && !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
			return err
		}
		if settled != nil {
			s.logg.Info(ctx, "order already settled, skipping")
			return nil
		}

		reserve, err := registry.GetOrCreate(ctx, accounts.Key{
			OwnerKind: enums.OwnerKindSystem,
			Type:      enums.AccountTypeReserve,
			Currency:  input.Currency,
		})
		if err != nil {
			return err
		}

		cashback, err := s.settleCashback(ctx, registry, books, reserve.ID, input)
		if err != nil {
			return err
		}
		referralLevels, err := s.settleReferrals(ctx, registry, books, reserve.ID, input, upline)
		if err != nil {
			return err
		}
		if err := s.settleNetworkFund(ctx, registry, books, reserve.ID, input); err != nil {
			return err
		}
		if err := s.settlePoints(ctx, registry, books, input); err != nil {
			return err
		}
		if err := s.propagateLegVolume(ctx, legs, upline, input.Amount); err != nil {
			return err
		}

		if s.outbox != nil {
			event := outbox.DomainEvent{
				EventType:     enums.OutboxEventTypeOrderSettled,
				AggregateType: enums.OutboxAggregateTypeOrder,
				AggregateID:   input.OrderID,
				Version:       1,
				Data: payloads.OrderSettledEvent{
					OrderID:        input.OrderID,
					BuyerUserID:    input.BuyerUserID,
					OrderTotal:     input.Amount,
					Currency:       input.Currency,
					CashbackAmount: cashback,
					ReferralLevels: referralLevels,
					ConfigVersion:  s.cfg.Version,
					SettledAt:      time.Now().UTC(),
				},
			}
			if err := s.outbox.EmitIfNotExists(ctx, tx, event); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit settled event")
			}
		}

		s.logg.Info(ctx, "order settled")
		return nil
	})
}

// buyerUpline loads the buyer's chain ordered root-to-buyer. An unplaced buyer
// settles with no referral payouts and no leg propagation.
func (s *service) buyerUpline(ctx context.Context, buyerID uuid.UUID) ([]models.MatrixPlacement, error) {
	upline, err := s.matrix.GetUpline(ctx, buyerID)
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return upline, nil
}

func (s *service) settleCashback(ctx context.Context, registry accounts.Service, books ledger.Service, reserveID uuid.UUID, input OrderPaidInput) (decimal.Decimal, error) {
	amount := s.cfg.PercentOf(input.Amount, s.cfg.CashbackPercent)
	if !amount.IsPositive() {
		return decimal.Zero, nil
	}

	buyerCash, err := registry.GetOrCreate(ctx, accounts.Key{
		OwnerKind: enums.OwnerKindUser,
		OwnerID:   &input.BuyerUserID,
		Type:      enums.AccountTypeCash,
		Currency:  input.Currency,
	})
	if err != nil {
		return decimal.Zero, err
	}

	memo := "order cashback"
	_, err = books.Record(ctx, ledger.RecordTransactionInput{
		OperationID: cashbackOperationID(input.OrderID),
		Type:        enums.OperationTypeCashback,
		UserID:      &input.BuyerUserID,
		OrderID:     &input.OrderID,
		Postings: []ledger.PostingInput{{
			DebitAccountID:  reserveID,
			CreditAccountID: buyerCash.ID,
			Amount:          amount,
			Currency:        input.Currency,
			Memo:            &memo,
		}},
	})
	if err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

// settleReferrals pays ancestors nearest-first: level 1 is the buyer's parent.
// The payout stops at whichever runs out first, configured levels or actual
// ancestors.
func (s *service) settleReferrals(ctx context.Context, registry accounts.Service, books ledger.Service, reserveID uuid.UUID, input OrderPaidInput, upline []models.MatrixPlacement) (int, error) {
	if len(upline) == 0 {
		return 0, nil
	}

	// Drop the buyer's own node and flip to nearest-first.
	ancestors := make([]models.MatrixPlacement, 0, len(upline))
	for i := len(upline) - 1; i >= 0; i-- {
		if upline[i].UserID == input.BuyerUserID {
			continue
		}
		ancestors = append(ancestors, upline[i])
	}

	paid := 0
	for level, pct := range s.cfg.ReferralLevelPercents {
		if level >= len(ancestors) {
			break
		}
		amount := s.cfg.PercentOf(input.Amount, pct)
		if !amount.IsPositive() {
			continue
		}

		ancestor := ancestors[level]
		ancestorID := ancestor.UserID
		account, err := registry.GetOrCreate(ctx, accounts.Key{
			OwnerKind: enums.OwnerKindUser,
			OwnerID:   &ancestorID,
			Type:      enums.AccountTypeReferral,
			Currency:  input.Currency,
		})
		if err != nil {
			return paid, err
		}

		networkLevel := level + 1
		memo := fmt.Sprintf("referral bonus level %d", networkLevel)
		_, err = books.Record(ctx, ledger.RecordTransactionInput{
			OperationID:  referralOperationID(input.OrderID, networkLevel),
			Type:         enums.OperationTypeReferralBonus,
			UserID:       &ancestorID,
			OrderID:      &input.OrderID,
			NetworkLevel: &networkLevel,
			Postings: []ledger.PostingInput{{
				DebitAccountID:  reserveID,
				CreditAccountID: account.ID,
				Amount:          amount,
				Currency:        input.Currency,
				Memo:            &memo,
			}},
		})
		if err != nil {
			return paid, err
		}
		paid++
	}
	return paid, nil
}

func (s *service) settleNetworkFund(ctx context.Context, registry accounts.Service, books ledger.Service, reserveID uuid.UUID, input OrderPaidInput) error {
	amount := s.cfg.PercentOf(input.Amount, s.cfg.NetworkFundPercent)
	if !amount.IsPositive() {
		return nil
	}

	fund, err := registry.GetOrCreate(ctx, accounts.Key{
		OwnerKind: enums.OwnerKindSystem,
		Type:      enums.AccountTypeNetworkFund,
		Currency:  input.Currency,
	})
	if err != nil {
		return err
	}

	memo := "network fund allocation"
	_, err = books.Record(ctx, ledger.RecordTransactionInput{
		OperationID: networkFundOperationID(input.OrderID),
		Type:        enums.OperationTypeNetworkFundAllocation,
		OrderID:     &input.OrderID,
		Postings: []ledger.PostingInput{{
			DebitAccountID:  reserveID,
			CreditAccountID: fund.ID,
			Amount:          amount,
			Currency:        input.Currency,
			Memo:            &memo,
		}},
	})
	return err
}

// settlePoints accrues point volume to the buyer at the configured rate.
func (s *service) settlePoints(ctx context.Context, registry accounts.Service, books ledger.Service, input OrderPaidInput) error {
	amount := s.cfg.Round(input.Amount.Mul(s.cfg.PointRate))
	if !amount.IsPositive() {
		return nil
	}

	pool, err := registry.GetOrCreate(ctx, accounts.Key{
		OwnerKind: enums.OwnerKindSystem,
		Type:      enums.AccountTypePointVolume,
		Currency:  enums.CurrencyPV,
	})
	if err != nil {
		return err
	}
	buyerPoints, err := registry.GetOrCreate(ctx, accounts.Key{
		OwnerKind: enums.OwnerKindUser,
		OwnerID:   &input.BuyerUserID,
		Type:      enums.AccountTypePointVolume,
		Currency:  enums.CurrencyPV,
	})
	if err != nil {
		return err
	}

	memo := "point volume accrual"
	_, err = books.Record(ctx, ledger.RecordTransactionInput{
		OperationID: pointsOperationID(input.OrderID),
		Type:        enums.OperationTypeOrderAccrual,
		UserID:      &input.BuyerUserID,
		OrderID:     &input.OrderID,
		Postings: []ledger.PostingInput{{
			DebitAccountID:  pool.ID,
			CreditAccountID: buyerPoints.ID,
			Amount:          amount,
			Currency:        enums.CurrencyPV,
			Memo:            &memo,
		}},
	})
	return err
}

// propagateLegVolume walks the buyer's chain and adds the order total to the
// leg each ancestor holds the buyer under. The chain arrives root-to-buyer, so
// each link's leg is the next node's position.
func (s *service) propagateLegVolume(ctx context.Context, legs matrix.Repository, upline []models.MatrixPlacement, amount decimal.Decimal) error {
	for i := 0; i+1 < len(upline); i++ {
		child := upline[i+1]
		if child.Position == nil {
			continue
		}
		if _, err := legs.IncrementLeg(ctx, upline[i].UserID, *child.Position, amount, 1); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "propagate leg volume")
		}
	}
	return nil
}

// RequestWithdrawal moves user cash into the reserve, tagged as a pending
// withdrawal. The request id makes retries idempotent.
func (s *service) RequestWithdrawal(ctx context.Context, input WithdrawalInput) (*models.LedgerTransaction, error) {
	if input.RequestID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "request id is required")
	}
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if !input.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "withdrawal amount must be positive")
	}
	if !input.Currency.IsValid() || input.Currency == enums.CurrencyPV {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported withdrawal currency %q", input.Currency))
	}

	var txn *models.LedgerTransaction
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		registry := s.accounts.WithTx(tx)
		books := s.ledger.WithTx(tx)

		cash, err := registry.GetOrCreate(ctx, accounts.Key{
			OwnerKind: enums.OwnerKindUser,
			OwnerID:   &input.UserID,
			Type:      enums.AccountTypeCash,
			Currency:  input.Currency,
		})
		if err != nil {
			return err
		}
		reserve, err := registry.GetOrCreate(ctx, accounts.Key{
			OwnerKind: enums.OwnerKindSystem,
			Type:      enums.AccountTypeReserve,
			Currency:  input.Currency,
		})
		if err != nil {
			return err
		}

		// Serialize concurrent withdrawals on the same cash account: the
		// row lock holds until commit, so the balance read below cannot
		// race another request past the sufficiency check.
		if _, err := registry.LockForUpdate(ctx, cash.ID); err != nil {
			return err
		}

		balance, err := books.BalanceOf(ctx, cash.ID, input.Currency)
		if err != nil {
			return err
		}
		if balance.LessThan(input.Amount) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "insufficient balance for withdrawal")
		}

		memo := "withdrawal request"
		txn, err = books.Record(ctx, ledger.RecordTransactionInput{
			OperationID: withdrawalOperationID(input.RequestID),
			Type:        enums.OperationTypeWithdrawalRequest,
			UserID:      &input.UserID,
			Postings: []ledger.PostingInput{{
				DebitAccountID:  cash.ID,
				CreditAccountID: reserve.ID,
				Amount:          input.Amount,
				Currency:        input.Currency,
				Memo:            &memo,
			}},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}
