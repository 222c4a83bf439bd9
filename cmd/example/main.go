package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/84hero/evm-activity/pkg/activity"
	"github.com/84hero/evm-activity/pkg/cache"
	"github.com/84hero/evm-activity/pkg/chain"
	"github.com/84hero/evm-activity/pkg/config"
	"github.com/84hero/evm-activity/pkg/explorer"
	"github.com/84hero/evm-activity/pkg/scanner"
	"github.com/84hero/evm-activity/pkg/storage"
	"github.com/ethereum/go-ethereum/log"
)

func main() {
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, log.LevelInfo, true)))

	// 1. Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Crit("Failed to load config", "err", err)
	}

	chainSlug := cfg.Check.Chain
	if chainSlug == "" {
		chainSlug = chain.PharosAtlantic
	}
	desc, ok := chain.Get(chainSlug)
	if !ok {
		log.Crit("Unknown chain", "chain", chainSlug)
	}
	log.Info("Loaded chain", "chain", desc.Name, "id", desc.ID, "months", len(chain.Default().Months(chainSlug)))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 2. Configure Storage [Multiple Storage Engine Support]
	var store storage.Store

	// Storage Prefix (Namespace): Prioritize cache.prefix from config, otherwise use Project name
	storePrefix := cfg.Cache.Prefix
	if storePrefix == "" {
		storePrefix = cfg.Project + "_"
	}

	if dbURL := os.Getenv("PG_URL"); dbURL != "" {
		pgStore, err := storage.NewPostgresStore(dbURL, storePrefix)
		if err != nil {
			log.Crit("Failed to connect to Postgres", "err", err)
		}
		store = pgStore
		log.Info("Using PostgreSQL storage", "table_prefix", storePrefix)

	} else if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		// e.g., "localhost:6379"
		redisStore, err := storage.NewRedisStore(redisAddr, "", 0, storePrefix)
		if err != nil {
			log.Crit("Failed to connect to Redis", "err", err)
		}
		store = redisStore
		log.Info("Using Redis storage", "key_prefix", storePrefix)

	} else {
		store = storage.NewMemoryStore(storePrefix)
		log.Info("Using Memory storage (data lost on restart)", "internal_prefix", storePrefix)
	}
	defer store.Close()

	// 3. Build the checker
	registry := chain.Default()
	verdicts := cache.New(store, registry, cache.WithTTL(cfg.Cache.TTL))
	client := explorer.NewClient(cfg.Explorer, registry)
	checker := activity.NewChecker(registry, verdicts, scanner.New(client, cfg.Scanner))

	// 4. Track one wallet the way a dashboard would
	session := checker.NewSession(cfg.Check.Address, chainSlug)
	err = session.CheckAll(ctx, func(st activity.Status) {
		if st.Failed() {
			log.Warn("Month failed", "month", st.Month, "err", st.Error)
			return
		}
		log.Info("Month resolved", "month", st.Month, "active", st.HasActivity)
	})
	if err != nil {
		log.Error("Check aborted", "err", err)
	}

	// 5. Re-check a single month with progress
	if len(os.Args) > 1 {
		month, err := chain.ParseMonth(os.Args[1])
		if err != nil {
			log.Crit("Bad month", "err", err)
		}
		st := session.CheckMonth(ctx, month, func(checked, total int) {
			log.Info("Scanning", "month", month, "checked", checked, "total", total)
		})
		log.Info("Month rechecked", "month", st.Month, "active", st.HasActivity, "error", st.Error)
	}

	for _, st := range session.Statuses() {
		log.Info("Status", "month", st.Month, "active", st.HasActivity, "loading", st.IsLoading, "error", st.Error)
	}
}
