package controllers

import (
	"net/http"

	"github.com/vitawell/vitawell-backend/api/responses"
	"github.com/vitawell/vitawell-backend/internal/accounts"
	"github.com/vitawell/vitawell-backend/internal/ledger"
	"github.com/vitawell/vitawell-backend/pkg/enums"
	pkgerrors "github.com/vitawell/vitawell-backend/pkg/errors"
	"github.com/vitawell/vitawell-backend/pkg/logger"
)

// ListUserAccounts returns every account a participant owns together with its
// current balance.
func ListUserAccounts(accountSvc accounts.Service, ledgerSvc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if accountSvc == nil || ledgerSvc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "account service unavailable"))
			return
		}

		userID, err := parseUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		owned, err := accountSvc.ListByOwner(r.Context(), enums.OwnerKindUser, userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := make([]AccountResponse, 0, len(owned))
		for i := range owned {
			account := &owned[i]
			balance, err := ledgerSvc.BalanceOf(r.Context(), account.ID, account.Currency)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			resp = append(resp, newAccountResponse(account, balance))
		}
		responses.WriteSuccess(w, resp)
	}
}
