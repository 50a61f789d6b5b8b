package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"brokerage/internal/config"
	"brokerage/internal/db"
	"brokerage/internal/events"
	"brokerage/internal/handlers"
	"brokerage/internal/jobs"
	"brokerage/internal/logging"
	"brokerage/internal/services"
	"brokerage/internal/store"
	"brokerage/internal/websocket"
)

func main() {
	cfg := config.Load()
	logger, err := logging.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatalw("failed to connect database", "error", err)
	}
	defer database.Close()

	assets := store.NewAssetStore(database)
	orders := store.NewOrderStore(database)
	customers := store.NewCustomerStore(database)
	audit := store.NewAuditStore(database)
	txRunner := db.NewTxRunner(database, db.Options{
		MaxAttempts: cfg.TxMaxAttempts,
		LockTimeout: cfg.LockTimeout,
	})
	hub := websocket.NewHub()

	publisher := events.New(cfg.KafkaBrokers, cfg.KafkaOrderTopic, logger)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warnw("failed to close event publisher", "error", err)
		}
	}()

	ledger := services.NewAssetLedger(txRunner, assets, audit, hub, logger)
	policy := services.OrderPolicy{
		ReferenceAsset: cfg.ReferenceAsset,
		MinSize:        cfg.MinOrderSize,
		MinPrice:       cfg.MinOrderPrice,
	}
	orderService := services.NewOrderService(txRunner, ledger, orders, customers, audit, publisher, policy, logger)
	customerService := services.NewCustomerService(txRunner, customers, ledger, audit, cfg.ReferenceAsset, logger)

	reconciler := jobs.NewReconciler(assets, cfg.ReferenceAsset, logger)
	if err := reconciler.Start(cfg.ReconcileSchedule); err != nil {
		logger.Fatalw("invalid reconcile schedule", "schedule", cfg.ReconcileSchedule, "error", err)
	}
	defer reconciler.Stop()

	handler := handlers.New(cfg, orderService, customerService, audit, reconciler, hub, logger)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Infow("brokerage API listening", "addr", server.Addr, "env", cfg.AppEnv, "reference_asset", cfg.ReferenceAsset)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalw("server error", "error", err)
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	sig := <-shutdown
	logger.Infow("shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Errorw("shutdown error", "error", err)
	}
}
