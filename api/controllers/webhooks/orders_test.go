package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vitawell/vitawell-backend/internal/settlement"
	"github.com/vitawell/vitawell-backend/pkg/db/models"
	"github.com/vitawell/vitawell-backend/pkg/enums"
	"github.com/vitawell/vitawell-backend/pkg/logger"
)

type testSettlementService struct {
	onOrderPaidFn func(ctx context.Context, input settlement.OrderPaidInput) error
}

func (s *testSettlementService) OnOrderPaid(ctx context.Context, input settlement.OrderPaidInput) error {
	if s.onOrderPaidFn != nil {
		return s.onOrderPaidFn(ctx, input)
	}
	return nil
}

func (s *testSettlementService) RequestWithdrawal(context.Context, settlement.WithdrawalInput) (*models.LedgerTransaction, error) {
	return nil, nil
}

type testGuard struct {
	processed map[string]bool
	deleted   []string
	err       error
}

func newTestGuard() *testGuard {
	return &testGuard{processed: make(map[string]bool)}
}

func (g *testGuard) CheckAndMarkProcessed(_ context.Context, consumer, messageID string) (bool, error) {
	if g.err != nil {
		return false, g.err
	}
	key := consumer + ":" + messageID
	if g.processed[key] {
		return true, nil
	}
	g.processed[key] = true
	return false, nil
}

func (g *testGuard) Delete(_ context.Context, consumer, messageID string) error {
	g.deleted = append(g.deleted, consumer+":"+messageID)
	delete(g.processed, consumer+":"+messageID)
	return nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func orderPaidBody(eventID string, orderID, buyerID uuid.UUID) string {
	return `{"event_id":"` + eventID + `","order_id":"` + orderID.String() + `","buyer_user_id":"` + buyerID.String() + `","amount":"1000","currency":"RUB"}`
}

func TestOrderPaidSettlesOrder(t *testing.T) {
	orderID := uuid.New()
	buyerID := uuid.New()
	var got settlement.OrderPaidInput
	svc := &testSettlementService{
		onOrderPaidFn: func(ctx context.Context, input settlement.OrderPaidInput) error {
			got = input
			return nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/orders", strings.NewReader(orderPaidBody("evt-1", orderID, buyerID)))
	resp := httptest.NewRecorder()
	OrderPaid(svc, newTestGuard(), testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", resp.Code, resp.Body.String())
	}
	if got.OrderID != orderID || got.BuyerUserID != buyerID {
		t.Fatalf("unexpected input %+v", got)
	}
	if !got.Amount.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("unexpected amount %s", got.Amount)
	}
	if got.Currency != enums.CurrencyRUB {
		t.Fatalf("unexpected currency %s", got.Currency)
	}
	var envelope struct {
		Data map[string]string `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if envelope.Data["status"] != "settled" {
		t.Fatalf("unexpected status %q", envelope.Data["status"])
	}
}

func TestOrderPaidDropsDuplicateDelivery(t *testing.T) {
	orderID := uuid.New()
	buyerID := uuid.New()
	calls := 0
	svc := &testSettlementService{
		onOrderPaidFn: func(ctx context.Context, input settlement.OrderPaidInput) error {
			calls++
			return nil
		},
	}
	guard := newTestGuard()
	handler := OrderPaid(svc, guard, testLogger())

	first := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/orders", strings.NewReader(orderPaidBody("evt-dup", orderID, buyerID)))
	handler(httptest.NewRecorder(), first)

	second := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/orders", strings.NewReader(orderPaidBody("evt-dup", orderID, buyerID)))
	resp := httptest.NewRecorder()
	handler(resp, second)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if calls != 1 {
		t.Fatalf("settlement ran %d times, expected 1", calls)
	}
	var envelope struct {
		Data map[string]string `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if envelope.Data["status"] != "duplicate" {
		t.Fatalf("unexpected status %q", envelope.Data["status"])
	}
}

func TestOrderPaidReleasesMarkOnFailure(t *testing.T) {
	orderID := uuid.New()
	buyerID := uuid.New()
	svc := &testSettlementService{
		onOrderPaidFn: func(ctx context.Context, input settlement.OrderPaidInput) error {
			return errors.New("settlement failed")
		},
	}
	guard := newTestGuard()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/orders", strings.NewReader(orderPaidBody("evt-fail", orderID, buyerID)))
	resp := httptest.NewRecorder()
	OrderPaid(svc, guard, testLogger())(resp, req)

	if resp.Code == http.StatusOK {
		t.Fatal("expected error status")
	}
	if len(guard.deleted) != 1 {
		t.Fatalf("expected mark released, deleted=%v", guard.deleted)
	}
}

func TestOrderPaidRejectsInvalidBody(t *testing.T) {
	guard := newTestGuard()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/orders", strings.NewReader(`{"event_id":""}`))
	resp := httptest.NewRecorder()
	OrderPaid(&testSettlementService{}, guard, testLogger())(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if len(guard.processed) != 0 {
		t.Fatal("guard should not mark invalid events")
	}
}
