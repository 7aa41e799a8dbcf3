package main

import (
	"context"
	"flag"
	"time"

	"custody-node/api"
	"custody-node/api/handlers"
	"custody-node/internal/approval"
	"custody-node/internal/chain"
	"custody-node/internal/config"
	"custody-node/internal/events"
	"custody-node/internal/logger"
	"custody-node/internal/signing"
	"custody-node/internal/sigverify"
	"custody-node/internal/storage"
	"custody-node/internal/sweeper"
	"custody-node/internal/wallet"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Log.Fatalf("Failed to load config: %v", err)
	}
	if err := logger.InitLogger(cfg.Logger); err != nil {
		logger.Log.Fatalf("Failed to init logger: %v", err)
	}

	db, err := storage.OpenPostgres(cfg.Database)
	if err != nil {
		logger.Log.Fatalf("Failed to open database: %v", err)
	}
	logger.Log.Info("Database connection established and schema migrated.")

	chains := chain.NewRegistry()
	chains.Register(chain.NewDevConnector("devnet"))

	bus := events.NewBus()
	bus.Subscribe(func(e events.Event) {
		logger.Log.WithField("type", string(e.Type)).
			WithField("wallet", e.WalletID).
			WithField("request", e.RequestID).
			Debug("event")
	})

	validator := sigverify.NewValidator()
	wallets := wallet.NewRegistry(db, chains, bus, cfg.Policy.MaxSigners)
	coordinator := approval.NewCoordinator(db, chains, validator, bus,
		time.Duration(cfg.Policy.ApprovalTTLMinutes)*time.Minute)
	gateway := signing.NewGateway(db, chains, validator, bus,
		time.Duration(cfg.Policy.SigningTTLMinutes)*time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sw := sweeper.New(time.Duration(cfg.Policy.SweepIntervalSeconds)*time.Second, coordinator, gateway)
	go sw.Run(ctx)

	router := api.SetupRouter(handlers.New(wallets, coordinator, gateway))
	if err := router.Run(":" + cfg.ServerPort); err != nil {
		logger.Log.Fatalf("Server stopped: %v", err)
	}
}
