package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/creditledger-backend/api/controllers"
	"github.com/angelmondragon/creditledger-backend/api/routes"
	"github.com/angelmondragon/creditledger-backend/internal/autoreload"
	"github.com/angelmondragon/creditledger-backend/internal/ledger"
	"github.com/angelmondragon/creditledger-backend/internal/purchases"
	"github.com/angelmondragon/creditledger-backend/internal/reconcile"
	"github.com/angelmondragon/creditledger-backend/internal/spend"
	"github.com/angelmondragon/creditledger-backend/internal/subscriptions"
	stripewebhook "github.com/angelmondragon/creditledger-backend/internal/webhooks/stripe"
	"github.com/angelmondragon/creditledger-backend/pkg/config"
	"github.com/angelmondragon/creditledger-backend/pkg/db"
	"github.com/angelmondragon/creditledger-backend/pkg/instance"
	"github.com/angelmondragon/creditledger-backend/pkg/logger"
	"github.com/angelmondragon/creditledger-backend/pkg/metrics"
	"github.com/angelmondragon/creditledger-backend/pkg/migrate"
	"github.com/angelmondragon/creditledger-backend/pkg/outbox"
	"github.com/angelmondragon/creditledger-backend/pkg/redis"
	"github.com/angelmondragon/creditledger-backend/pkg/retry"
	"github.com/angelmondragon/creditledger-backend/pkg/stripe"
)

const (
	stripeEventGuardTTL = 72 * time.Hour
	shutdownTimeout     = 15 * time.Second
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logg *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return err
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stripeClient, err := stripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	ledgerMetrics := metrics.NewLedgerMetrics(registry)

	conn := dbClient.DB()
	ledgerRepo := ledger.NewRepository(conn)
	emitter := outbox.NewService(outbox.NewRepository(conn), logg)
	policy := retry.FromConfig(cfg.Retry)
	gateway := purchases.NewStripeGateway(cfg.Credits.TokenPriceCents, cfg.Credits.Currency)

	ledgerService, err := ledger.NewService(ledgerRepo, cfg.Credits.TrialGrant)
	if err != nil {
		return err
	}

	reloadController, err := autoreload.NewController(autoreload.ControllerParams{
		TxRunner:    dbClient,
		Repo:        autoreload.NewRepository(conn),
		Gateway:     gateway,
		Outbox:      emitter,
		Policy:      policy,
		Throttle:    cfg.Credits.AutoReloadThrottle,
		MaxFailures: cfg.Credits.AutoReloadMaxFailures,
		MinTopUp:    cfg.Credits.MinTopUp,
		Metrics:     ledgerMetrics,
		Logger:      logg,
	})
	if err != nil {
		return err
	}
	reloadTrigger := autoreload.NewAsyncTrigger(reloadController, logg)
	defer reloadTrigger.Wait()

	spendParams := spend.ServiceParams{
		TxRunner: dbClient,
		Repo:     ledgerRepo,
		Metrics:  ledgerMetrics,
		Logger:   logg,
	}
	if cfg.FeatureFlags.AutoReload {
		spendParams.AutoReload = reloadTrigger
	}
	spendService, err := spend.NewService(spendParams)
	if err != nil {
		return err
	}

	purchaseService, err := purchases.NewService(purchases.ServiceParams{
		Gateway:   gateway,
		Accounts:  ledgerService,
		MinTokens: cfg.Credits.MinTopUp,
		MaxTokens: cfg.Credits.MaxPurchase,
		Logger:    logg,
	})
	if err != nil {
		return err
	}

	reconciler, err := reconcile.NewReconciler(reconcile.ServiceParams{
		TxRunner: dbClient,
		Repo:     ledgerRepo,
		Outbox:   emitter,
		Metrics:  ledgerMetrics,
		Logger:   logg,
	})
	if err != nil {
		return err
	}

	subscriptionService, err := subscriptions.NewService(subscriptions.ServiceParams{
		TxRunner: dbClient,
		Repo:     subscriptions.NewRepository(conn),
		Ledger:   ledgerRepo,
		Outbox:   emitter,
		Grace:    cfg.Credits.SubscriptionGrace,
		Logger:   logg,
	})
	if err != nil {
		return err
	}

	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Reconciler:    reconciler,
		Subscriptions: subscriptionService,
		AutoReload:    reloadController,
		Logger:        logg,
	})
	if err != nil {
		return err
	}
	webhookGuard, err := stripewebhook.NewIdempotencyGuard(redisClient, stripeEventGuardTTL, "stripe-webhook")
	if err != nil {
		return err
	}

	handler := routes.NewRouter(routes.Deps{
		Config:   cfg,
		Logger:   logg,
		Gatherer: registry,
		Readiness: []controllers.ReadinessCheck{
			{Name: "postgres", Pinger: dbClient},
			{Name: "redis", Pinger: redisClient},
		},
		Idempotency:        redisClient,
		RateLimiter:        redisClient,
		SpendPolicy:        policy,
		Ledger:             ledgerService,
		Spend:              spendService,
		Purchases:          purchaseService,
		AutoReload:         reloadController,
		StripeWebhook:      webhookService,
		StripeSigner:       stripeClient,
		StripeWebhookGuard: webhookGuard,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logCtx := logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"addr":        addr,
		"stripe_env":  stripeClient.Environment(),
		"auto_reload": cfg.FeatureFlags.AutoReload,
		"instance":    instance.GetID(),
	})
	logg.Info(logCtx, "starting api server")

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logg.Info(logCtx, "shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
