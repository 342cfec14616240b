// Command billingd runs the billing engine: the provider webhook endpoint,
// the checkout/portal API, and the scheduler-driven maintenance endpoints.
package main

import (
	"context"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	module "github.com/brickrecipes/billing/modules/billing"
	billingcore "github.com/brickrecipes/billing/pkg/billing"
	"github.com/brickrecipes/billing/pkg/config"
	"github.com/brickrecipes/billing/pkg/entitlement"
	"github.com/brickrecipes/billing/pkg/httpserver"
	"github.com/brickrecipes/billing/pkg/logger"
	"github.com/brickrecipes/billing/pkg/payments"
	"github.com/brickrecipes/billing/pkg/pg"
	"github.com/brickrecipes/billing/pkg/plans"
	"github.com/brickrecipes/billing/pkg/redis"
	"github.com/brickrecipes/billing/pkg/usage"
)

type appConfig struct {
	Logger logger.Config
	HTTP   httpserver.Config
	Pg     pg.Config
	Stripe payments.StripeConfig
	Plans  plans.Config
	Module module.Config
	Redis  redis.Config

	// Optional overrides.
	CatalogFile  string        `env:"PLANS_CATALOG_FILE"`
	DedupEnabled bool          `env:"WEBHOOK_DEDUP_ENABLED" envDefault:"false"`
	DedupTTL     time.Duration `env:"WEBHOOK_DEDUP_TTL" envDefault:"24h"`
}

func main() {
	ctx := context.Background()

	var cfg appConfig
	config.MustLoad(&cfg)
	log := logger.New(cfg.Logger, os.Stderr)

	catalog, err := buildCatalog(cfg)
	if err != nil {
		log.Error("failed to build plan catalog", logger.Error(err))
		os.Exit(1)
	}

	pool, err := pg.Connect(ctx, cfg.Pg)
	if err != nil {
		log.Error("failed to connect to postgres", logger.Error(err))
		os.Exit(1)
	}
	defer pool.Close()
	store := entitlement.NewPgStore(pool)

	provider, err := payments.NewStripeProvider(cfg.Stripe)
	if err != nil {
		log.Error("failed to init stripe provider", logger.Error(err))
		os.Exit(1)
	}

	readiness := []func(context.Context) error{pg.Healthcheck(pool)}
	reconcilerOpts := []billingcore.ReconcilerOption{billingcore.WithReconcilerLogger(log)}
	if cfg.DedupEnabled {
		redisClient, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			log.Error("failed to connect to redis", logger.Error(err))
			os.Exit(1)
		}
		defer redisClient.Close()
		reconcilerOpts = append(reconcilerOpts,
			billingcore.WithDedupCache(billingcore.NewRedisDedup(redisClient, cfg.DedupTTL)))
		readiness = append(readiness, redis.Healthcheck(redisClient))
	}

	provisioner := entitlement.NewProvisioner(store, entitlement.WithLogger(log))
	resolver := billingcore.NewCustomerResolver(store, provider, provisioner, log)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", httpserver.Healthcheck(log))
	r.Get("/readyz", httpserver.Healthcheck(log, readiness...))
	r.Mount("/", module.Router(cfg.Module, module.Services{
		Reconciler: billingcore.NewReconciler(provider, store, catalog, reconcilerOpts...),
		Checkout:   billingcore.NewCheckout(catalog, resolver, store, provider, log),
		Sweeper:    billingcore.NewSweeper(store, log),
		Limiter:    usage.NewLimiter(store, log),
		Log:        log,
	}))

	if err := httpserver.New(cfg.HTTP, log).Run(ctx, r); err != nil {
		log.Error("http server exited with error", logger.Error(err))
		os.Exit(1)
	}
}

// buildCatalog prefers the YAML catalog file when configured, falling back
// to the standard env-configured three-price catalog.
func buildCatalog(cfg appConfig) (*plans.Catalog, error) {
	if cfg.CatalogFile != "" {
		return plans.LoadCatalogFile(cfg.CatalogFile)
	}
	return plans.NewCatalogFromConfig(cfg.Plans)
}
