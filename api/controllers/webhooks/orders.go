package webhooks

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vitawell/vitawell-backend/api/responses"
	"github.com/vitawell/vitawell-backend/api/validators"
	"github.com/vitawell/vitawell-backend/internal/settlement"
	"github.com/vitawell/vitawell-backend/pkg/enums"
	pkgerrors "github.com/vitawell/vitawell-backend/pkg/errors"
	"github.com/vitawell/vitawell-backend/pkg/logger"
)

const orderPaidConsumer = "order-paid-webhook"

// Guard deduplicates webhook deliveries by event id.
type Guard interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, messageID string) (bool, error)
	Delete(ctx context.Context, consumer string, messageID string) error
}

type orderPaidEvent struct {
	EventID     string `json:"event_id" validate:"required,min=1,max=128"`
	OrderID     string `json:"order_id" validate:"required,uuid"`
	BuyerUserID string `json:"buyer_user_id" validate:"required,uuid"`
	Amount      string `json:"amount" validate:"required"`
	Currency    string `json:"currency" validate:"required"`
}

// OrderPaid runs the full settlement for one paid order. The guard drops
// duplicate deliveries of the same event id before the service runs; a failed
// settlement releases the mark so the sender's retry can try again.
func OrderPaid(svc settlement.Service, guard Guard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}
		if guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard unavailable"))
			return
		}

		var event orderPaidEvent
		if err := validators.DecodeJSONBody(r, &event); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		orderID, err := uuid.Parse(event.OrderID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id"))
			return
		}
		buyerID, err := uuid.Parse(event.BuyerUserID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid buyer user id"))
			return
		}
		amount, err := decimal.NewFromString(event.Amount)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amount"))
			return
		}
		currency, err := enums.ParseCurrency(event.Currency)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid currency"))
			return
		}

		alreadyProcessed, err := guard.CheckAndMarkProcessed(ctx, orderPaidConsumer, event.EventID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
			return
		}
		if alreadyProcessed {
			responses.WriteSuccess(w, map[string]string{"status": "duplicate"})
			return
		}

		input := settlement.OrderPaidInput{
			OrderID:     orderID,
			BuyerUserID: buyerID,
			Amount:      amount,
			Currency:    currency,
		}
		if err := svc.OnOrderPaid(ctx, input); err != nil {
			_ = guard.Delete(ctx, orderPaidConsumer, event.EventID)
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			logg.Info(ctx, fmt.Sprintf("order paid event %s settled", event.EventID))
		}
		responses.WriteSuccess(w, map[string]string{"status": "settled"})
	}
}
