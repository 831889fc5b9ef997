package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"coinforge/coinforge"
)

func main() {
	var (
		addr         = flag.String("addr", ":8090", "HTTP listen address")
		dsn          = flag.String("dsn", os.Getenv("COINFORGE_DATABASE_URL"), "Postgres DSN, empty for the in-memory store")
		profilesCfg  = flag.String("profiles-config", "configs/profiles.yaml", "profiles system config file")
		currencyCfg  = flag.String("currency-config", "configs/currency.yaml", "currency system config file")
		receiptsCfg  = flag.String("receipts-config", "configs/receipts.yaml", "receipts system config file")
		rewardsCfg   = flag.String("rewards-config", "configs/rewards.yaml", "rewards system config file")
	)
	flag.Parse()

	zapLogger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer zapLogger.Sync()
	logger := coinforge.NewZapLogger(zapLogger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store coinforge.ProfileStore
	if *dsn != "" {
		if err := coinforge.Migrate(*dsn); err != nil {
			logger.Error("Database migration failed: %v", err)
			os.Exit(1)
		}
		pgStore, err := coinforge.NewPostgresProfileStore(ctx, *dsn)
		if err != nil {
			logger.Error("Failed to open postgres profile store: %v", err)
			os.Exit(1)
		}
		defer pgStore.Close(context.Background())
		store = pgStore
	} else {
		logger.Warn("No DSN configured, using the in-memory profile store")
		store = coinforge.NewMemoryProfileStore()
	}

	engine, err := coinforge.Init(ctx, logger, store,
		coinforge.WithProfilesSystem(*profilesCfg),
		coinforge.WithCurrencySystem(*currencyCfg),
		coinforge.WithReceiptsSystem(*receiptsCfg),
		coinforge.WithRewardsSystem(*rewardsCfg),
	)
	if err != nil {
		logger.Error("Engine init failed: %v", err)
		os.Exit(1)
	}

	metrics := coinforge.NewPrometheusPublisher()
	engine.AddPublisher(metrics)
	engine.AddPublisher(coinforge.NewLogPublisher())

	if err := engine.Open(ctx, logger); err != nil {
		logger.Error("Engine open failed: %v", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:    *addr,
		Handler: coinforge.NewHTTPServer(logger, engine, metrics.Handler()).Router(),
	}

	go func() {
		logger.Info("Listening on %s", *addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed: %v", err)
	}
	if err := engine.Close(shutdownCtx, logger); err != nil {
		logger.Error("Engine close failed: %v", err)
	}
}
