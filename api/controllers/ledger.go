package controllers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vitawell/vitawell-backend/api/responses"
	"github.com/vitawell/vitawell-backend/api/validators"
	"github.com/vitawell/vitawell-backend/internal/ledger"
	pkgerrors "github.com/vitawell/vitawell-backend/pkg/errors"
	"github.com/vitawell/vitawell-backend/pkg/logger"
	"github.com/vitawell/vitawell-backend/pkg/pagination"
)

type transactionListResponse struct {
	Transactions []TransactionResponse `json:"transactions"`
	NextCursor   string                `json:"next_cursor,omitempty"`
}

// ListUserTransactions returns a participant's ledger history, newest first.
func ListUserTransactions(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}

		userID, err := parseUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		params := pagination.Params{
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		}
		params.Limit, err = validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		transactions, nextCursor, err := svc.ListByUser(r.Context(), userID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, transactionListResponse{
			Transactions: newTransactionResponses(transactions),
			NextCursor:   nextCursor,
		})
	}
}

// GetTransaction returns one transaction by its operation id.
func GetTransaction(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}

		operationID := strings.TrimSpace(chi.URLParam(r, "operationId"))
		if operationID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "operation id is required"))
			return
		}

		transaction, err := svc.GetByOperationID(r.Context(), operationID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newTransactionResponse(transaction))
	}
}

type reverseTransactionRequest struct {
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// ReverseTransaction posts a mirror transaction that undoes the original and
// stamps the original as reversed. Replays return the stored reversal.
func ReverseTransaction(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}

		operationID := strings.TrimSpace(chi.URLParam(r, "operationId"))
		if operationID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "operation id is required"))
			return
		}

		var req reverseTransactionRequest
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request body"))
				return
			}
		}

		reversal, err := svc.Reverse(r.Context(), ledger.ReverseInput{
			OperationID: operationID,
			Metadata:    req.Metadata,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newTransactionResponse(reversal))
	}
}
