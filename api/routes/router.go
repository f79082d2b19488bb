package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/creditledger-backend/api/controllers"
	creditcontrollers "github.com/angelmondragon/creditledger-backend/api/controllers/credits"
	webhookcontrollers "github.com/angelmondragon/creditledger-backend/api/controllers/webhooks"
	"github.com/angelmondragon/creditledger-backend/api/middleware"
	pkgAuth "github.com/angelmondragon/creditledger-backend/pkg/auth"
	"github.com/angelmondragon/creditledger-backend/pkg/config"
	"github.com/angelmondragon/creditledger-backend/pkg/logger"
	"github.com/angelmondragon/creditledger-backend/pkg/retry"
)

type rateLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// Deps carries everything the HTTP surface needs.
type Deps struct {
	Config      *config.Config
	Logger      *logger.Logger
	Gatherer    prometheus.Gatherer
	Readiness   []controllers.ReadinessCheck
	Idempotency middleware.IdempotencyStore
	RateLimiter rateLimiter
	SpendPolicy retry.Policy

	Ledger     creditcontrollers.LedgerService
	Spend      creditcontrollers.SpendService
	Purchases  creditcontrollers.PurchaseService
	AutoReload creditcontrollers.AutoReloadService

	StripeWebhook      webhookcontrollers.StripeWebhookService
	StripeSigner       stripeSigner
	StripeWebhookGuard stripeWebhookGuard
}

type stripeSigner interface {
	SigningSecret() string
}

type stripeWebhookGuard interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID string) error
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.HTTP.CORSOrigins),
	)

	apiPolicy := middleware.RateLimitPolicy{Name: "api", Limit: cfg.HTTP.RateLimit, Window: cfg.HTTP.RateLimitWindow}
	spendPolicy := middleware.RateLimitPolicy{Name: "spend", Limit: cfg.HTTP.SpendRateLimit, Window: cfg.HTTP.RateLimitWindow}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Readiness...))
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(deps.StripeWebhook, deps.StripeSigner, deps.StripeWebhookGuard, logg))
	})

	r.Route("/api/v1/credits", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RateLimit(apiPolicy, deps.RateLimiter, logg))
		r.Use(middleware.Idempotency(deps.Idempotency, logg))

		r.Get("/", creditcontrollers.Balance(deps.Ledger, logg))
		r.Post("/account", creditcontrollers.CreateAccount(deps.Ledger, logg))
		r.Get("/transactions", creditcontrollers.Transactions(deps.Ledger, logg))
		r.With(middleware.RateLimit(spendPolicy, deps.RateLimiter, logg)).
			Post("/spend", creditcontrollers.Spend(deps.Spend, deps.SpendPolicy, logg))
		r.With(middleware.RequireRole(pkgAuth.RoleService, logg)).
			Post("/outcomes", creditcontrollers.Outcome(deps.Spend, logg))
		r.Post("/purchases", creditcontrollers.Purchase(deps.Purchases, logg))
		r.Put("/auto-reload", creditcontrollers.ConfigureAutoReload(deps.AutoReload, logg))
	})

	return r
}
