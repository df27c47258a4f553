package main

import (
	"context"
	"log"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/uhyunpark/escrowmarket/params"
	"github.com/uhyunpark/escrowmarket/pkg/api"
	"github.com/uhyunpark/escrowmarket/pkg/app/core/access"
	"github.com/uhyunpark/escrowmarket/pkg/app/core/mempool"
	"github.com/uhyunpark/escrowmarket/pkg/app/market"
	"github.com/uhyunpark/escrowmarket/pkg/crypto"
	"github.com/uhyunpark/escrowmarket/pkg/devnet"
	"github.com/uhyunpark/escrowmarket/pkg/storage"
	"github.com/uhyunpark/escrowmarket/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logFile := cfg.Node.LogFile
	if logFile == "" {
		logFile = "data/node.log"
	}
	logger, err := util.NewLoggerWithFile(logFile, cfg.Node.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", logFile, "level", cfg.Node.LogLevel)

	// ---- Persistence ----
	var store *storage.PebbleStore
	if cfg.Node.DBPath == "" {
		store, err = storage.NewMemStore()
	} else {
		store, err = storage.NewPebbleStore(cfg.Node.DBPath)
	}
	if err != nil {
		sugar.Fatalw("store_open_failed", "path", cfg.Node.DBPath, "err", err)
	}
	defer store.Close()

	from, to, err := store.Migrate()
	if err != nil {
		sugar.Fatalw("store_migrate_failed", "err", err)
	}
	sugar.Infow("store_ready", "path", cfg.Node.DBPath, "schema_from", from, "schema_to", to)

	// ---- Ledgers and oracle (devnet) ----
	clock := util.RealClock{}
	env, err := devnet.Build(cfg, clock, sugar)
	if err != nil {
		sugar.Fatalw("devnet_build_failed", "err", err)
	}
	env.Seed(cfg.Market.Address, cfg.Node.DevnetAccounts)
	if len(cfg.Node.DevnetAccounts) > 0 {
		sugar.Infow("devnet_seeded", "accounts", len(cfg.Node.DevnetAccounts))
	}

	// ---- Engine ----
	engine, err := market.NewEngine(market.Options{
		Self:       cfg.Market.Address,
		Owner:      cfg.Market.Owner, // persisted owner and fee win, see market.ConfigStore
		Fee:        access.FeeConfig{Recipient: cfg.Market.FeeRecipient, RateBps: cfg.Market.FeeBps},
		TTL:        cfg.Market.OfferTTL,
		Journal:    env.Journal,
		Clock:      clock,
		Oracle:     env.Oracle,
		Registries: env.Registries,
		Store:      store,
		Logger:     sugar,
	})
	if err != nil {
		sugar.Fatalw("engine_init_failed", "err", err)
	}
	offers, err := store.LoadOffers()
	if err != nil {
		sugar.Fatalw("load_offers_failed", "err", err)
	}
	engine.Restore(offers)

	sugar.Infow("engine_ready",
		"market", cfg.Market.Address.Hex(),
		"owner", engine.Owner().Hex(),
		"fee_recipient", engine.Fee().Recipient.Hex(),
		"fee_bps", engine.Fee().RateBps,
		"offer_ttl", cfg.Market.OfferTTL.String(),
		"offers_restored", len(offers),
		"state_root", engine.StateRoot().Hex())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Executor ----
	domain := crypto.DefaultDomain(cfg.Market.Address)
	domain.ChainID = big.NewInt(cfg.Market.ChainID)
	executor := market.NewExecutor(engine, mempool.NewMempool(), domain, cfg.Node.MinBatchInterval, sugar)
	if err := executor.RestoreNonces(store); err != nil {
		sugar.Fatalw("restore_nonces_failed", "err", err)
	}
	go func() {
		if err := executor.Run(ctx); err != nil && ctx.Err() == nil {
			sugar.Fatalw("executor_failed", "err", err)
		}
	}()

	// ---- API Server ----
	apiServer := api.NewServer(executor, api.Config{
		AllowedOrigins: cfg.Node.CORSOrigins,
		TxLogPath:      cfg.Node.TxLogFile,
		SubmitTimeout:  10 * time.Second,
	}, sugar)

	if err := apiServer.Start(ctx, cfg.Node.APIAddr); err != nil && ctx.Err() == nil {
		sugar.Fatalw("api_server_failed", "err", err)
	}
	sugar.Infow("node_stopped", "height", executor.Height())
}
