package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/vitawell/vitawell-backend/internal/accounts"
	"github.com/vitawell/vitawell-backend/pkg/db/models"
	"github.com/vitawell/vitawell-backend/pkg/enums"
)

type testAccountsService struct {
	listByOwnerFn func(ctx context.Context, ownerKind enums.OwnerKind, ownerID uuid.UUID) ([]models.Account, error)
}

func (s *testAccountsService) WithTx(*gorm.DB) accounts.Service { return s }

func (s *testAccountsService) GetOrCreate(context.Context, accounts.Key) (*models.Account, error) {
	return nil, nil
}

func (s *testAccountsService) GetByID(context.Context, uuid.UUID) (*models.Account, error) {
	return nil, nil
}

func (s *testAccountsService) LockForUpdate(context.Context, uuid.UUID) (*models.Account, error) {
	return nil, nil
}

func (s *testAccountsService) ListByOwner(ctx context.Context, ownerKind enums.OwnerKind, ownerID uuid.UUID) ([]models.Account, error) {
	if s.listByOwnerFn != nil {
		return s.listByOwnerFn(ctx, ownerKind, ownerID)
	}
	return nil, nil
}

func (s *testAccountsService) DetachOwner(context.Context, enums.OwnerKind, uuid.UUID) (int64, error) {
	return 0, nil
}

func TestListUserAccountsIncludesBalances(t *testing.T) {
	userID := uuid.New()
	accountID := uuid.New()
	accountSvc := &testAccountsService{
		listByOwnerFn: func(ctx context.Context, ownerKind enums.OwnerKind, ownerID uuid.UUID) ([]models.Account, error) {
			if ownerKind != enums.OwnerKindUser {
				t.Fatalf("unexpected owner kind %s", ownerKind)
			}
			if ownerID != userID {
				t.Fatalf("unexpected owner %s", ownerID)
			}
			return []models.Account{{
				ID:        accountID,
				OwnerKind: enums.OwnerKindUser,
				OwnerID:   &userID,
				Type:      enums.AccountTypeCash,
				Currency:  enums.CurrencyRUB,
			}}, nil
		},
	}
	ledgerSvc := &testLedgerService{
		balanceFn: func(ctx context.Context, id uuid.UUID, currency enums.Currency) (decimal.Decimal, error) {
			if id != accountID {
				t.Fatalf("unexpected account %s", id)
			}
			if currency != enums.CurrencyRUB {
				t.Fatalf("unexpected currency %s", currency)
			}
			return decimal.RequireFromString("99.95"), nil
		},
	}

	req := addRouteParam(httptest.NewRequest(http.MethodGet, "/api/v1/users/"+userID.String()+"/accounts", nil), "userId", userID.String())
	resp := httptest.NewRecorder()
	ListUserAccounts(accountSvc, ledgerSvc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", resp.Code, resp.Body.String())
	}
	var envelope struct {
		Data []AccountResponse `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(envelope.Data) != 1 {
		t.Fatalf("expected 1 account got %d", len(envelope.Data))
	}
	if envelope.Data[0].Balance != "99.95" {
		t.Fatalf("unexpected balance %s", envelope.Data[0].Balance)
	}
}

func TestListUserAccountsInvalidUserID(t *testing.T) {
	req := addRouteParam(httptest.NewRequest(http.MethodGet, "/api/v1/users/bad/accounts", nil), "userId", "bad")
	resp := httptest.NewRecorder()
	ListUserAccounts(&testAccountsService{}, &testLedgerService{}, testLogger())(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}
