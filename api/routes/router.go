package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/stockhold-backend/api/controllers"
	inventorycontrollers "github.com/angelmondragon/stockhold-backend/api/controllers/inventory"
	reservationcontrollers "github.com/angelmondragon/stockhold-backend/api/controllers/reservations"
	"github.com/angelmondragon/stockhold-backend/api/middleware"
	"github.com/angelmondragon/stockhold-backend/internal/ledger"
	"github.com/angelmondragon/stockhold-backend/internal/reservations"
	"github.com/angelmondragon/stockhold-backend/pkg/config"
	"github.com/angelmondragon/stockhold-backend/pkg/enums"
	"github.com/angelmondragon/stockhold-backend/pkg/logger"
	"github.com/angelmondragon/stockhold-backend/pkg/metrics"
	"github.com/angelmondragon/stockhold-backend/pkg/redis"
)

// Params carries everything the HTTP surface needs. Redis and Gatherer are
// optional; without Redis the idempotency and rate-limit middleware pass
// requests through.
type Params struct {
	Config       *config.Config
	Logger       *logger.Logger
	DB           controllers.Pinger
	Redis        *redis.Client
	Reservations reservations.Service
	Ledger       ledger.Service
	Gatherer     prometheus.Gatherer
	HTTPMetrics  *metrics.HTTPMetrics
}

func NewRouter(p Params) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, p.HTTPMetrics),
		middleware.CORS(cfg.HTTP.CORSOrigins),
	)

	// A nil *redis.Client must reach the middleware as a nil interface.
	idempotencyStore, readyRedis := idempotencyDeps(p.Redis)
	rateStore := rateLimitDeps(p.Redis)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    p.DB,
			"redis": readyRedis,
		}))
	})

	gatherer := p.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Get("/api/v1/inventory/{variantId}", inventorycontrollers.Snapshot(p.Ledger, logg))

	reservationPolicy := middleware.NewRateLimitPolicy(
		"reservations",
		cfg.HTTP.RateLimitWindow,
		cfg.HTTP.ReservationIPRate,
		cfg.HTTP.ReservationUserRate,
	)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(idempotencyStore, logg))

		r.Route("/api/v1/reservations", func(r chi.Router) {
			r.With(middleware.RateLimit(reservationPolicy, rateStore, logg)).
				Post("/", reservationcontrollers.Create(p.Reservations, logg))
			r.Get("/", reservationcontrollers.ListMine(p.Reservations, logg))
			r.Get("/{reservationId}", reservationcontrollers.Detail(p.Reservations, logg))
			r.Post("/{reservationId}/cancel", reservationcontrollers.Cancel(p.Reservations, logg))
		})

		r.Route("/api/admin/v1", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.ActorRoleAdmin))

			r.Route("/reservations", func(r chi.Router) {
				r.Get("/", reservationcontrollers.AdminList(p.Reservations, logg))
				r.Post("/{reservationId}/approve", reservationcontrollers.AdminApprove(p.Reservations, logg))
				r.Post("/{reservationId}/reject", reservationcontrollers.AdminReject(p.Reservations, logg))
				r.Post("/{reservationId}/cancel", reservationcontrollers.AdminCancel(p.Reservations, logg))
			})

			r.Route("/inventory", func(r chi.Router) {
				r.Post("/", inventorycontrollers.CreateRecord(p.Ledger, logg))
				r.Post("/{variantId}/adjust", inventorycontrollers.Adjust(p.Ledger, logg))
				r.Get("/{variantId}/movements", inventorycontrollers.Movements(p.Ledger, logg))
			})
		})
	})

	return r
}

func idempotencyDeps(client *redis.Client) (redis.IdempotencyStore, controllers.Pinger) {
	if client == nil {
		return nil, nil
	}
	return client, client
}

func rateLimitDeps(client *redis.Client) middleware.RateLimitStore {
	if client == nil {
		return nil
	}
	return client
}
