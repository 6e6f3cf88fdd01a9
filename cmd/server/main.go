// The billing API server. Serves payment-proof submission and review, the
// subscription status query, usage history and the admin lifecycle
// endpoints for all tenants.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fieldbill/fieldbill/modules/billing"
	"github.com/fieldbill/fieldbill/pkg/accessgate"
	"github.com/fieldbill/fieldbill/pkg/audit"
	"github.com/fieldbill/fieldbill/pkg/config"
	"github.com/fieldbill/fieldbill/pkg/httpserver"
	"github.com/fieldbill/fieldbill/pkg/identity"
	"github.com/fieldbill/fieldbill/pkg/logger"
	"github.com/fieldbill/fieldbill/pkg/mongodb"
	"github.com/fieldbill/fieldbill/pkg/payment"
	"github.com/fieldbill/fieldbill/pkg/pg"
	"github.com/fieldbill/fieldbill/pkg/redislock"
	"github.com/fieldbill/fieldbill/pkg/requestid"
	"github.com/fieldbill/fieldbill/pkg/screenshot"
	"github.com/fieldbill/fieldbill/pkg/subscription"
	"github.com/fieldbill/fieldbill/pkg/tenant"
	"github.com/fieldbill/fieldbill/pkg/usage"
)

type appConfig struct {
	LogLevel  slog.Level    `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat logger.Format `env:"LOG_FORMAT" envDefault:"json"`

	UsageCatalogPath  string `env:"USAGE_CATALOG_PATH" envDefault:"configs/usage_limits.yaml"`
	ScreenshotDir     string `env:"SCREENSHOT_DIR" envDefault:"var/screenshots"`
	ScreenshotBaseURL string `env:"SCREENSHOT_BASE_URL" envDefault:"/screenshots/"`
}

func main() {
	var (
		appCfg   appConfig
		httpCfg  httpserver.Config
		pgCfg    pg.Config
		mongoCfg mongodb.Config
		redisCfg redislock.Config
	)
	config.MustLoad(&appCfg)
	config.MustLoad(&httpCfg)
	config.MustLoad(&pgCfg)
	config.MustLoad(&mongoCfg)
	config.MustLoad(&redisCfg)

	log := logger.New(
		logger.WithLevel(appCfg.LogLevel),
		logger.WithFormat(appCfg.LogFormat),
		logger.WithAttr(slog.String("service", "billing-api")),
		logger.WithContextExtractors(
			requestid.LoggerExtractor(),
			identity.LoggerExtractor(),
		),
	)
	slog.SetDefault(log)

	ctx := context.Background()

	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		log.Error("postgres connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, pgCfg, log); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	mongoDB, err := mongodb.NewWithDatabase(ctx, mongoCfg)
	if err != nil {
		log.Error("mongo connection failed", "error", err)
		os.Exit(1)
	}
	defer func() { _ = mongoDB.Client().Disconnect(ctx) }()

	usageHistory, err := usage.NewMongoHistory(ctx, mongoDB)
	if err != nil {
		log.Error("usage history setup failed", "error", err)
		os.Exit(1)
	}

	redisClient, err := redislock.NewClient(redisCfg)
	if err != nil {
		log.Error("redis client setup failed", "error", err)
		os.Exit(1)
	}
	defer func() { _ = redisClient.Close() }()
	locker := redislock.New(redisClient, redisCfg)

	catalog, err := usage.LoadCatalog(appCfg.UsageCatalogPath)
	if err != nil {
		log.Error("usage catalog load failed", "error", err, "path", appCfg.UsageCatalogPath)
		os.Exit(1)
	}

	screenshots, err := screenshot.NewStore(appCfg.ScreenshotDir, appCfg.ScreenshotBaseURL)
	if err != nil {
		log.Error("screenshot store setup failed", "error", err)
		os.Exit(1)
	}

	subStore := subscription.NewPostgresStore(pool)
	subService := subscription.NewService(subStore,
		subscription.WithLocker(locker),
		subscription.WithLogger(log),
	)

	tenantStore := tenant.NewPostgresStore(pool)
	tenants := tenant.NewCachedProvider(tenantStore, tenant.NewInMemoryCache(), tenant.DefaultCacheTTL)
	defer func() { _ = tenants.Close() }()

	payService := payment.NewService(
		payment.NewPostgresStore(pool),
		payment.NewPostgresInvoiceSequence(pool),
		subStore,
		subService,
		tenants,
		tenantStore,
		payment.WithLogger(log),
	)

	tracker := usage.NewTracker(subStore, usageHistory, catalog, usage.WithLogger(log))
	gate := accessgate.New(subStore, accessgate.WithLogger(log), accessgate.WithCatalog(catalog))
	auditTrail := audit.NewLogger(audit.NewPostgresStorage(pool), audit.WithLogger(log))

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestid.Middleware)
	r.Get("/healthz", httpserver.HealthCheckHandler(log))
	r.Get("/readyz", httpserver.HealthCheckHandler(log,
		pg.Healthcheck(pool),
		mongodb.Healthcheck(mongoDB.Client()),
	))

	r.Route("/billing", func(r chi.Router) {
		r.Use(identity.Middleware())
		r.Mount("/", billing.Router(billing.Deps{
			Payments:      payService,
			Subscriptions: subService,
			SubStore:      subStore,
			Gate:          gate,
			Tracker:       tracker,
			Audit:         auditTrail,
			Screenshots:   screenshots,
			Log:           log,
		}))
	})

	if err := httpserver.New(httpCfg, log).Run(ctx, r); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}
