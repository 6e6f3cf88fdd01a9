// The billing sweeper. Runs the periodic jobs the API server leaves behind:
// reconciling approved payments whose lifecycle update failed, purging proof
// screenshots past retention, collapsing scheduled cancellations and moving
// lapsed grace periods to past_due.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"github.com/fieldbill/fieldbill/pkg/config"
	"github.com/fieldbill/fieldbill/pkg/logger"
	"github.com/fieldbill/fieldbill/pkg/payment"
	"github.com/fieldbill/fieldbill/pkg/pg"
	"github.com/fieldbill/fieldbill/pkg/redislock"
	"github.com/fieldbill/fieldbill/pkg/screenshot"
	"github.com/fieldbill/fieldbill/pkg/subscription"
	"github.com/fieldbill/fieldbill/pkg/tenant"
)

type sweeperConfig struct {
	LogLevel  slog.Level    `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat logger.Format `env:"LOG_FORMAT" envDefault:"json"`

	ReconcileSchedule  string `env:"SWEEP_RECONCILE_SCHEDULE" envDefault:"*/5 * * * *"`
	ScreenshotSchedule string `env:"SWEEP_SCREENSHOT_SCHEDULE" envDefault:"30 * * * *"`
	LifecycleSchedule  string `env:"SWEEP_LIFECYCLE_SCHEDULE" envDefault:"0 * * * *"`

	ScreenshotDir     string `env:"SCREENSHOT_DIR" envDefault:"var/screenshots"`
	ScreenshotBaseURL string `env:"SCREENSHOT_BASE_URL" envDefault:"/screenshots/"`
}

func main() {
	var (
		cfg      sweeperConfig
		pgCfg    pg.Config
		redisCfg redislock.Config
	)
	config.MustLoad(&cfg)
	config.MustLoad(&pgCfg)
	config.MustLoad(&redisCfg)

	log := logger.New(
		logger.WithLevel(cfg.LogLevel),
		logger.WithFormat(cfg.LogFormat),
		logger.WithAttr(slog.String("service", "billing-sweeper")),
	)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		log.Error("postgres connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := redislock.NewClient(redisCfg)
	if err != nil {
		log.Error("redis client setup failed", "error", err)
		os.Exit(1)
	}
	defer func() { _ = redisClient.Close() }()
	locker := redislock.New(redisClient, redisCfg)

	screenshots, err := screenshot.NewStore(cfg.ScreenshotDir, cfg.ScreenshotBaseURL)
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
	payService := payment.NewService(
		payment.NewPostgresStore(pool),
		payment.NewPostgresInvoiceSequence(pool),
		subStore,
		subService,
		tenantStore,
		tenantStore,
		payment.WithLogger(log),
	)

	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	mustSchedule(c, cfg.ReconcileSchedule, func() {
		n, err := payService.Reconcile(ctx)
		logSweep(log, "payment reconcile", n, err)
	})
	mustSchedule(c, cfg.ScreenshotSchedule, func() {
		n, err := payService.PurgeScreenshots(ctx, screenshots)
		logSweep(log, "screenshot purge", n, err)
	})
	mustSchedule(c, cfg.LifecycleSchedule, func() {
		n, err := subService.ProcessCancellationsDue(ctx)
		logSweep(log, "scheduled cancellations", n, err)

		n, err = subService.ProcessGraceLapsed(ctx)
		logSweep(log, "grace period lapses", n, err)
	})

	c.Start()
	log.Info("sweeper started")

	<-ctx.Done()
	log.Info("sweeper stopping")
	<-c.Stop().Done()
}

func mustSchedule(c *cron.Cron, spec string, job func()) {
	if _, err := c.AddFunc(spec, job); err != nil {
		panic(err)
	}
}

func logSweep(log *slog.Logger, name string, processed int, err error) {
	if err != nil {
		log.Error("sweep finished with errors", "sweep", name, "processed", processed, "error", err)
		return
	}
	log.Info("sweep finished", "sweep", name, "processed", processed)
}
