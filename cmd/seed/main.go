package main

import (
	"context"
	"errors"
	"time"

	"brokerage/internal/config"
	"brokerage/internal/db"
	"brokerage/internal/logging"
	"brokerage/internal/services"
	"brokerage/internal/store"
	"brokerage/internal/websocket"

	"github.com/shopspring/decimal"
)

// seedCustomers are created on a fresh database. Existing usernames are left
// untouched, and the admin is skipped once any admin exists.
var seedCustomers = []services.RegisterRequest{
	{
		Username: "admin",
		Email:    "admin@brokerage.local",
		FullName: "Brokerage Admin",
		Password: "admin123",
		Admin:    true,
	},
	{
		Username:       "testuser",
		Email:          "testuser@brokerage.local",
		FullName:       "Test User",
		Password:       "test123",
		InitialDeposit: decimal.NewFromInt(10000),
	},
}

func main() {
	cfg := config.Load()
	logger, err := logging.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.IsProduction() {
		logger.Fatalw("refusing to seed a production database")
	}

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatalw("failed to connect database", "error", err)
	}
	defer database.Close()

	txRunner := db.NewTxRunner(database, db.Options{MaxAttempts: cfg.TxMaxAttempts, LockTimeout: cfg.LockTimeout})
	audit := store.NewAuditStore(database)
	customerStore := store.NewCustomerStore(database)
	ledger := services.NewAssetLedger(txRunner, store.NewAssetStore(database), audit, websocket.NewHub(), logger)
	customers := services.NewCustomerService(txRunner, customerStore, ledger, audit, cfg.ReferenceAsset, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	hasAdmin, err := customerStore.HasAnyAdmin(ctx)
	if err != nil {
		logger.Fatalw("failed to check for an admin", "error", err)
	}
	for _, req := range seedCustomers {
		if req.Admin && hasAdmin {
			logger.Infow("admin already present, skipping seed admin", "username", req.Username)
			continue
		}
		customer, err := customers.Register(ctx, req)
		switch {
		case errors.Is(err, services.ErrPolicyViolation):
			logger.Infow("seed customer already exists", "username", req.Username)
		case err != nil:
			logger.Fatalw("failed to seed customer", "username", req.Username, "error", err)
		default:
			logger.Infow("seeded customer", "username", customer.Username, "customer_id", customer.ID, "admin", req.Admin, "deposit", req.InitialDeposit.String())
		}
	}
}
