// cmd/bot/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"weatherbot/internal/alert"
	"weatherbot/internal/common/config"
	"weatherbot/internal/common/database"
	httpclient "weatherbot/internal/common/http"
	"weatherbot/internal/common/logger"
	"weatherbot/internal/common/observability"
	"weatherbot/internal/console"
	"weatherbot/internal/notify"
	"weatherbot/internal/session"
	"weatherbot/internal/telegram"
	"weatherbot/internal/weather"
)

// consoleUserID is the local user when running without a chat platform.
const consoleUserID = 1

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("starting weatherbot",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Durable session store; degrade to cache-only if unreachable ---
	var store session.Store
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return pg.Ping(pingCtx)
	}, 5, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Warn("postgres unavailable, running cache-only", zap.Error(err))
	} else {
		defer pg.Close()
		store = session.NewPostgresStore(pg, time.Duration(cfg.Database.Postgres.QueryTimeout)*time.Millisecond)
		zapLog.Info("PostgreSQL connected")
	}

	// --- Redis geocode cache (optional) ---
	var rdb *database.RedisClient
	if cfg.Database.Redis.Enabled {
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err == nil {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = rdb.Ping(pingCtx)
			cancel()
		}
		if err != nil {
			zapLog.Warn("redis unavailable, geocode caching disabled", zap.Error(err))
			rdb = nil
		} else {
			defer rdb.Close()
			zapLog.Info("Redis connected")
		}
	}

	// --- Ops alerting on store availability transitions ---
	var listener session.AvailabilityListener = session.NopListener{}
	if cfg.Alerts.SNS.Enabled || cfg.Alerts.Email.Enabled {
		notifier, err := alert.NewOpsNotifier(ctx, cfg.Alerts, log)
		if err != nil {
			zapLog.Warn("ops alerting disabled", zap.Error(err))
		} else {
			listener = notifier
		}
	}

	// --- Session manager ---
	mgr := session.NewManager(store, session.ManagerOptions{
		QueryTimeout:    time.Duration(cfg.Database.Postgres.QueryTimeout) * time.Millisecond,
		Retention:       time.Duration(cfg.Sessions.RetentionDays) * 24 * time.Hour,
		ProbeInterval:   time.Duration(cfg.Sessions.ProbeInterval) * time.Second,
		MirrorQueueSize: cfg.Sessions.MirrorQueueSize,
		MirrorWorkers:   cfg.Sessions.MirrorWorkers,
	}, log, listener)
	mgr.Warm(ctx)
	mgr.Start(ctx)
	defer mgr.Close()

	// --- Forecast collaborator ---
	hc := httpclient.NewClient(time.Duration(cfg.Weather.Timeout) * time.Millisecond)
	geocoder := weather.NewGeocoder(hc, cfg.Weather.GeocodingURL, cfg.Weather.UserAgent,
		rdb, time.Duration(cfg.Weather.GeocodeTTL)*time.Second, log)
	forecast := weather.NewClient(hc, cfg.Weather.ForecastURL, geocoder)

	service := notify.NewService(mgr, forecast, log)

	// --- Notification clients, one per front end ---
	var clients []notify.Client
	if cfg.Telegram.Enabled {
		tg, err := telegram.NewClient(cfg.Telegram.Token, mgr, log)
		if err != nil {
			zapLog.Fatal("telegram client failed", zap.Error(err))
		}
		clients = append(clients, tg)
	} else {
		zapLog.Info("telegram disabled, using console client", zap.Int64("userId", consoleUserID))
		clients = append(clients, console.NewClient(os.Stdout, mgr, consoleUserID))
	}

	scheduler := notify.NewScheduler(service, clients,
		time.Duration(cfg.Notifications.PollInterval)*time.Second,
		time.Duration(cfg.Notifications.ToleranceSeconds)*time.Second,
		log, obs)
	go scheduler.Run(ctx)

	zapLog.Info("scheduler running",
		zap.Int("sessionsWithNotifications", mgr.NotificationSessionCount(ctx)),
	)

	// --- Metrics / health endpoint ---
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok (store available: %t)\n", mgr.StoreAvailable())
	})
	srv := &http.Server{Addr: cfg.Observability.MetricsAddress, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Error("metrics server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zapLog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
