package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/evpool/evpool-backend/api/controllers"
	"github.com/evpool/evpool-backend/api/middleware"
	"github.com/evpool/evpool-backend/internal/app"
	"github.com/evpool/evpool-backend/pkg/config"
	"github.com/evpool/evpool-backend/pkg/logger"
	"github.com/evpool/evpool-backend/pkg/redis"
)

// NewRouter mounts the ledger API. redisClient and metricsHandler may be nil;
// without Redis mutating routes run without idempotent replay or rate limits.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	svc *app.Services,
	dbP controllers.Pinger,
	redisClient *redis.Client,
	metricsHandler http.Handler,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	pingers := map[string]controllers.Pinger{"db": dbP}
	var idempotencyStore redis.IdempotencyStore
	var limiterStore *redis.Client
	if redisClient != nil {
		pingers["redis"] = redisClient
		idempotencyStore = redisClient
		limiterStore = redisClient
	}
	writeLimit := middleware.WriteRateLimitPolicy{
		Window: cfg.RateLimit.WriteLimitWindow,
		Limit:  cfg.RateLimit.WriteLimit,
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, pingers))
	})
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Actor(logg))
		if limiterStore != nil {
			r.Use(middleware.WriteRateLimit(writeLimit, limiterStore, logg))
		}
		r.Use(middleware.Idempotency(idempotencyStore, logg))

		r.Route("/users", func(r chi.Router) {
			r.Post("/", controllers.UserCreate(svc.Users, logg))
			r.Get("/{userId}/contributions", controllers.UserContributions(svc.Reports, logg))
		})

		r.Route("/payments", func(r chi.Router) {
			r.Get("/", controllers.PaymentList(svc.Payments, logg))
			r.Post("/", controllers.PaymentCreate(svc.Payments, logg))
			r.Post("/{paymentId}/confirm", controllers.PaymentConfirm(svc.Payments, logg))
		})

		r.Route("/vehicles", func(r chi.Router) {
			r.Get("/", controllers.VehicleList(svc.Vehicles, logg))
			r.Post("/", controllers.VehicleBuy(svc.Vehicles, logg))
			r.Get("/{vehicleId}", controllers.VehicleGet(svc.Vehicles, logg))
			r.Post("/{vehicleId}/sell", controllers.VehicleSell(svc.Sales, logg))
			r.Post("/{vehicleId}/cancel", controllers.VehicleCancel(svc.Cancellations, logg))
			r.Post("/{vehicleId}/unsell", controllers.VehicleUnsell(svc.Cancellations, logg))
			r.Post("/{vehicleId}/restore", controllers.VehicleRestore(svc.Cancellations, logg))
		})

		r.Route("/ledger", func(r chi.Router) {
			r.Get("/total", controllers.LedgerTotal(svc.Reports, logg))
			r.Get("/contributions/latest", controllers.LedgerLatestContributions(svc.Reports, logg))
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/daily-totals", controllers.ReportDailyTotals(svc.Reports, logg))
			r.Get("/daily-payments", controllers.ReportDailyPayments(svc.Reports, logg))
		})
	})

	return r
}
