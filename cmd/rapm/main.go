package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fortuna/rapm/internal/api/rest"
	"github.com/fortuna/rapm/internal/api/websocket"
	"github.com/fortuna/rapm/internal/backfill"
	"github.com/fortuna/rapm/internal/cache"
	"github.com/fortuna/rapm/internal/config"
	"github.com/fortuna/rapm/internal/ingest"
	"github.com/fortuna/rapm/internal/ingest/pbp"
	"github.com/fortuna/rapm/internal/logger"
	"github.com/fortuna/rapm/internal/metrics"
	"github.com/fortuna/rapm/internal/publisher"
	"github.com/fortuna/rapm/internal/store"
	"github.com/fortuna/rapm/internal/store/repository"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

const (
	serviceName    = "rapm"
	serviceVersion = "1.0.0"

	connectAttempts = 30
	connectDelay    = 2 * time.Second
)

func main() {
	configPath := pflag.String("config", "", "YAML config file (defaults to $RAPM_CONFIG)")
	addr := pflag.String("addr", "", "Listen address override")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(2)
	}
	if pflag.CommandLine.Changed("addr") {
		cfg.Addr = *addr
	}

	log := logger.Init(cfg.LogLevel, cfg.LogFormat)
	log.Infof("Starting %s v%s", serviceName, serviceVersion)

	if cfg.Database.DSN == "" {
		log.Fatal("database.dsn is required (RAPM_DATABASE__DSN)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := connectDatabase(ctx, cfg.Database, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()
	log.Info("✓ Connected to database")

	if cfg.Database.Migrate {
		if err := db.RunMigrations(); err != nil {
			log.WithError(err).Fatal("Failed to run database migrations")
		}
		log.Info("✓ Database migrations applied")
	}

	recorder := metrics.NewRecorder()

	clientOpts := []pbp.Option{
		pbp.WithTimeout(cfg.Provider.RequestTimeout),
		pbp.WithUserAgent(cfg.Provider.UserAgent),
		pbp.WithLogger(log),
	}
	switch {
	case cfg.Cache.RedisURL != "":
		rc, err := connectRedis(cfg.Cache.RedisURL, cfg.Cache.TTL, log)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to Redis cache")
		}
		defer rc.Close()
		clientOpts = append(clientOpts, pbp.WithCache(rc))
		log.Info("✓ Raw game cache: redis")
	case cfg.Cache.Dir != "":
		dc, err := cache.NewDirCache(cfg.Cache.Dir)
		if err != nil {
			log.WithError(err).Fatal("Failed to open cache directory")
		}
		clientOpts = append(clientOpts, pbp.WithCache(dc))
		log.WithField("dir", cfg.Cache.Dir).Info("✓ Raw game cache: directory")
	}

	fetcher := ingest.NewFetcher(
		pbp.New(cfg.Provider.BaseURL, clientOpts...),
		cfg.Fetch.Ingest(),
		ingest.WithLogger(log),
		ingest.WithRetryObserver(recorder),
	)

	wsServer := websocket.NewServer(log)
	wsServer.Start(ctx)

	reporters := []backfill.Reporter{recorder, websocket.NewProgressReporter(wsServer.Hub())}
	if cfg.Stream.RedisURL != "" {
		sc, err := connectRedis(cfg.Stream.RedisURL, 0, log)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to outcome stream")
		}
		defer sc.Close()
		reporters = append(reporters, publisher.NewRedisStreamPublisher(sc.Client(), cfg.Stream.Name, log))
		log.WithField("stream", cfg.Stream.Name).Info("✓ Outcome stream enabled")
	}

	runService := backfill.NewService(db, backfill.NewRunner(fetcher, log), log, reporters...)
	runService.Start()
	log.Info("✓ Run service started")

	restServer := rest.NewServer(cfg.Addr, rest.Deps{
		Seasons:   repository.NewRowRepository(db),
		Outcomes:  repository.NewOutcomeRepository(db),
		Runs:      runService,
		Health:    db,
		Metrics:   recorder,
		Websocket: wsServer,
	}, log)
	go func() {
		if err := restServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("REST server error")
		}
	}()

	log.WithFields(logrus.Fields{
		"rest":      "http://" + cfg.Addr,
		"websocket": "ws://" + cfg.Addr + "/ws/runs",
	}).Infof("✓ %s v%s started", serviceName, serviceVersion)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := restServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("REST server shutdown error")
	}
	if err := runService.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Run service shutdown error")
	}
	cancel()

	log.Info("Stopped")
}

func connectDatabase(ctx context.Context, cfg config.DatabaseConfig, log *logrus.Logger) (*store.Database, error) {
	var lastErr error
	for i := 0; i < connectAttempts; i++ {
		db, err := store.NewDatabase(ctx, cfg.DSN, cfg.Pool(), log)
		if err == nil {
			return db, nil
		}
		lastErr = err
		log.WithError(err).Warnf("Database connection attempt %d/%d failed (retrying in %v)", i+1, connectAttempts, connectDelay)
		time.Sleep(connectDelay)
	}
	return nil, lastErr
}

func connectRedis(url string, ttl time.Duration, log *logrus.Logger) (*cache.RedisCache, error) {
	var lastErr error
	for i := 0; i < connectAttempts; i++ {
		rc, err := cache.NewRedisCache(url, ttl)
		if err == nil {
			return rc, nil
		}
		lastErr = err
		log.WithError(err).Warnf("Redis connection attempt %d/%d failed (retrying in %v)", i+1, connectAttempts, connectDelay)
		time.Sleep(connectDelay)
	}
	return nil, lastErr
}
