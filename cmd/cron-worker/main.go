package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/stockhold-backend/internal/cron"
	"github.com/angelmondragon/stockhold-backend/internal/ledger"
	"github.com/angelmondragon/stockhold-backend/internal/notifications"
	"github.com/angelmondragon/stockhold-backend/internal/reservations"
	"github.com/angelmondragon/stockhold-backend/pkg/config"
	"github.com/angelmondragon/stockhold-backend/pkg/db"
	"github.com/angelmondragon/stockhold-backend/pkg/email"
	"github.com/angelmondragon/stockhold-backend/pkg/instance"
	"github.com/angelmondragon/stockhold-backend/pkg/logger"
	"github.com/angelmondragon/stockhold-backend/pkg/metrics"
	"github.com/angelmondragon/stockhold-backend/pkg/migrate"
	"github.com/angelmondragon/stockhold-backend/pkg/redis"
)

func main() {
	runOnce := flag.String("run", "", "run the named job once and exit")
	runOnStart := flag.Bool("run-on-start", false, "run every job once at startup before scheduling")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Environment: cfg.App.Env,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.Open(context.Background(), cfg, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	locks := cron.LocalLockFactory()
	if cfg.Redis.Enabled() {
		redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap redis", err)
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
		locks = cron.RedisLockFactory(redisClient, cfg.Sweeper.LockTTL)
	} else {
		logg.Warn(context.Background(), "redis not configured; cron locks are process-local")
	}

	loc, err := cfg.Sweeper.Location()
	if err != nil {
		logg.Error(context.Background(), "invalid sweeper timezone", err)
		os.Exit(1)
	}

	ledgerSvc, err := ledger.NewService(ledger.ServiceParams{
		Repo:    ledger.NewRepository(dbClient.DB()),
		TX:      dbClient,
		Logg:    logg,
		Metrics: metrics.NewLedgerMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	notificationRepo := notifications.NewRepository(dbClient.DB())
	outbox, err := notifications.NewOutbox(notificationRepo, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create notification outbox", err)
		os.Exit(1)
	}

	reservationSvc, err := reservations.NewService(reservations.ServiceParams{
		Repo:         reservations.NewRepository(dbClient.DB()),
		TX:           dbClient,
		Ledger:       ledgerSvc,
		Notifier:     outbox,
		Logg:         logg,
		HoldDuration: cfg.Reservations.HoldDuration,
		CreateMode:   cfg.Reservations.CreateMode,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reservations service", err)
		os.Exit(1)
	}

	// The retention job only purges; it never hands messages to a transport.
	purger, err := notifications.NewDispatcher(notifications.DispatcherParams{
		Repo:   notificationRepo,
		TX:     dbClient,
		Sender: email.NewLogSender(logg),
		Logg:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create notification purger", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(cfg, logg, reservationSvc, purger, loc)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   registry,
		Locks:      locks,
		Metrics:    metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		RunOnStart: *runOnStart,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
		"timezone":    loc.String(),
	})

	if *runOnce != "" {
		if err := service.RunNamed(ctx, *runOnce); err != nil {
			logg.Error(ctx, "cron job run failed", err)
			os.Exit(1)
		}
		return
	}

	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildRegistry(
	cfg *config.Config,
	logg *logger.Logger,
	reservationSvc reservations.Service,
	purger *notifications.Dispatcher,
	loc *time.Location,
) (*cron.Registry, error) {
	registry := cron.NewRegistry()

	sweep, err := cron.NewExpirySweepJob(cron.ExpirySweepJobParams{
		Logger:       logg,
		Reservations: reservationSvc,
		Lookback:     cfg.Sweeper.ExpiredNoticeLookback,
	})
	if err != nil {
		return nil, err
	}
	registry.Register(sweep, cron.Every(cfg.Sweeper.ExpiryInterval))

	expiring, err := cron.NewExpiringNoticeJob(cron.ExpiringNoticeJobParams{
		Logger:       logg,
		Reservations: reservationSvc,
		Location:     loc,
	})
	if err != nil {
		return nil, err
	}
	registry.Register(expiring, cron.DailyAt(cfg.Sweeper.NoticeHour, loc))

	retention, err := cron.NewNotificationRetentionJob(cron.NotificationRetentionJobParams{
		Logger:    logg,
		Purger:    purger,
		Retention: cfg.Notifications.RetentionDays,
	})
	if err != nil {
		return nil, err
	}
	registry.Register(retention, cron.DailyAt(3, loc))

	return registry, nil
}
