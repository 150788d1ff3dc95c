package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vitawell/vitawell-backend/api/controllers"
	webhookcontrollers "github.com/vitawell/vitawell-backend/api/controllers/webhooks"
	"github.com/vitawell/vitawell-backend/api/middleware"
	"github.com/vitawell/vitawell-backend/internal/accounts"
	"github.com/vitawell/vitawell-backend/internal/ledger"
	"github.com/vitawell/vitawell-backend/internal/matrix"
	"github.com/vitawell/vitawell-backend/internal/settlement"
	"github.com/vitawell/vitawell-backend/pkg/config"
	"github.com/vitawell/vitawell-backend/pkg/logger"
	pkgredis "github.com/vitawell/vitawell-backend/pkg/redis"
)

// Deps carries everything the router wires into handlers.
type Deps struct {
	Config            *config.Config
	Logger            *logger.Logger
	RedisClient       *pkgredis.Client
	ReadinessChecks   []controllers.ReadinessCheck
	MatrixService     matrix.Service
	LedgerService     ledger.Service
	AccountsService   accounts.Service
	SettlementService settlement.Service
	WebhookGuard      webhookcontrollers.Guard
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.ReadinessChecks...))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/orders", webhookcontrollers.OrderPaid(deps.SettlementService, deps.WebhookGuard, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		var store pkgredis.IdempotencyStore
		if deps.RedisClient != nil {
			store = deps.RedisClient
		}
		r.Use(middleware.Idempotency(store, logg))

		r.Route("/placements", func(r chi.Router) {
			r.Post("/", controllers.CreatePlacement(deps.MatrixService, logg))
			r.Get("/{userId}", controllers.GetPlacement(deps.MatrixService, logg))
			r.Get("/{userId}/children", controllers.GetChildren(deps.MatrixService, logg))
			r.Get("/{userId}/subtree", controllers.GetSubtree(deps.MatrixService, logg))
			r.Get("/{userId}/upline", controllers.GetUpline(deps.MatrixService, logg))
		})

		r.Route("/users/{userId}", func(r chi.Router) {
			r.Get("/transactions", controllers.ListUserTransactions(deps.LedgerService, logg))
			r.Get("/accounts", controllers.ListUserAccounts(deps.AccountsService, deps.LedgerService, logg))
		})

		r.Route("/ledger/transactions", func(r chi.Router) {
			r.Get("/{operationId}", controllers.GetTransaction(deps.LedgerService, logg))
			r.Post("/{operationId}/reverse", controllers.ReverseTransaction(deps.LedgerService, logg))
		})

		r.Post("/withdrawals", controllers.RequestWithdrawal(deps.SettlementService, logg))
	})

	return r
}
