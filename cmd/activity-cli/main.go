package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/84hero/evm-activity/pkg/activity"
	"github.com/84hero/evm-activity/pkg/cache"
	"github.com/84hero/evm-activity/pkg/chain"
	"github.com/84hero/evm-activity/pkg/config"
	"github.com/84hero/evm-activity/pkg/explorer"
	"github.com/84hero/evm-activity/pkg/scanner"
	"github.com/84hero/evm-activity/pkg/sink"
	"github.com/84hero/evm-activity/pkg/storage"
	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if err := Run(context.Background()); err != nil && !errors.Is(err, context.Canceled) {
		log.Crit("Application failed", "err", err)
		os.Exit(1)
	}
}

// Run is the testable entry point of the CLI application
func Run(ctx context.Context) error {
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, log.LevelInfo, true)))

	configFile := os.Getenv("CONFIG_FILE")
	if configFile == "" {
		configFile = "config.yaml"
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	setupLogger(cfg.Log)

	registry := chain.Default()
	if err := applyContracts(registry, cfg.Contracts); err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	verdicts := cache.New(store, registry, cache.WithTTL(cfg.Cache.TTL))
	client := explorer.NewClient(cfg.Explorer, registry)
	checker := activity.NewChecker(registry, verdicts, scanner.New(client, cfg.Scanner))

	outputs := initOutputs(cfg.Outputs)
	defer func() {
		for _, o := range outputs {
			if err := o.Close(); err != nil {
				log.Warn("Failed to close output", "output", o.Name(), "err", err)
			}
		}
	}()

	runCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Check.Interval <= 0 {
		_, err := runCheck(runCtx, checker, cfg.Check, outputs)
		return err
	}

	startMetricsServer(runCtx, cfg.Metrics.Addr)

	check := cfg.Check
	ticker := time.NewTicker(check.Interval)
	defer ticker.Stop()
	for {
		if _, err := runCheck(runCtx, checker, check, outputs); err != nil {
			if runCtx.Err() != nil {
				log.Info("Shutting down...")
				return nil
			}
			if isInputError(err) {
				return err
			}
			log.Error("Activity check failed", "err", err)
		}
		// Only the first pass bypasses the cache.
		check.Refresh = false

		select {
		case <-runCtx.Done():
			log.Info("Shutting down...")
			return nil
		case <-ticker.C:
		}
	}
}

func setupLogger(cfg config.LogConfig) {
	logLevel := log.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		logLevel = log.LevelDebug
	case "warn":
		logLevel = log.LevelWarn
	case "error":
		logLevel = log.LevelError
	}

	if cfg.Format == "json" {
		log.SetDefault(log.NewLogger(log.JSONHandlerWithLevel(os.Stderr, logLevel)))
		return
	}
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, logLevel, true)))
}

// applyContracts installs configured month contract addresses into the registry.
func applyContracts(registry *chain.Registry, contracts map[string]map[string]string) error {
	for slug, months := range contracts {
		for name, addr := range months {
			month, err := chain.ParseMonth(name)
			if err != nil {
				return fmt.Errorf("contracts.%s: %w", slug, err)
			}
			if err := registry.SetContract(slug, month, addr); err != nil {
				return err
			}
		}
	}
	return nil
}

func openStore(cfg *config.Config) (storage.Store, error) {
	prefix := cfg.Cache.Prefix
	if prefix == "" {
		prefix = cfg.Project + "_"
	}

	switch cfg.Cache.Backend {
	case "redis":
		return storage.NewRedisStore(cfg.Cache.Redis.Addr, cfg.Cache.Redis.Password, cfg.Cache.Redis.DB, prefix)
	case "postgres":
		return storage.NewPostgresStore(cfg.Cache.Postgres.URL, prefix)
	case "memory", "":
		return storage.NewMemoryStore(prefix), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

func initOutputs(cfg config.OutputsConfig) []sink.Output {
	var outputs []sink.Output

	// Webhook
	if cfg.Webhook.Enabled {
		outputs = append(outputs, sink.NewWebhookOutput(cfg.Webhook.Client(), cfg.Webhook.Async, cfg.Webhook.BufferSize, cfg.Webhook.Workers))
	}

	// File
	if cfg.File.Enabled {
		if fo, err := sink.NewFileOutput(cfg.File.Path); err == nil {
			outputs = append(outputs, fo)
		} else {
			log.Error("File output disabled", "path", cfg.File.Path, "err", err)
		}
	}

	// Console
	if cfg.Console.Enabled {
		outputs = append(outputs, sink.NewConsoleOutput())
	}

	// Postgres
	if cfg.Postgres.Enabled {
		if po, err := sink.NewPostgresOutput(cfg.Postgres.URL, cfg.Postgres.Table); err == nil {
			outputs = append(outputs, po)
		} else {
			log.Error("Postgres output disabled", "err", err)
		}
	}

	// Redis
	if cfg.Redis.Enabled {
		if ro, err := sink.NewRedisOutput(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Key, cfg.Redis.Mode); err == nil {
			outputs = append(outputs, ro)
		} else {
			log.Error("Redis output disabled", "addr", cfg.Redis.Addr, "err", err)
		}
	}

	// Kafka
	if cfg.Kafka.Enabled {
		if ko, err := sink.NewKafkaOutput(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.User, cfg.Kafka.Password); err == nil {
			outputs = append(outputs, ko)
		} else {
			log.Error("Kafka output disabled", "err", err)
		}
	}

	// RabbitMQ
	if cfg.RabbitMQ.Enabled {
		if ro, err := sink.NewRabbitMQOutput(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.RoutingKey, cfg.RabbitMQ.QueueName, cfg.RabbitMQ.Durable); err == nil {
			outputs = append(outputs, ro)
		} else {
			log.Error("RabbitMQ output disabled", "err", err)
		}
	}

	return outputs
}

// runCheck performs one verification pass and publishes each month as it resolves.
func runCheck(ctx context.Context, checker *activity.Checker, check config.CheckConfig, outputs []sink.Output) (activity.Report, error) {
	publish := func(st activity.Status) {
		ev := checker.Event(check.Address, st)
		log.Info("Month resolved", "chain", st.ChainSlug, "month", st.Month, "active", st.HasActivity, "error", st.Error)
		if err := sink.Publish(ctx, outputs, []activity.Event{ev}); err != nil {
			log.Warn("Verdict not fully published", "month", st.Month, "err", err)
		}
	}

	var (
		report activity.Report
		err    error
	)
	switch {
	case check.Month != "":
		report, err = checkSingleMonth(ctx, checker, check, publish)
	case check.Refresh:
		report, err = checker.Refresh(ctx, check.Address, check.Chain, publish)
	default:
		report, err = checker.CheckAllMonths(ctx, check.Address, check.Chain, publish)
	}
	if err != nil {
		return report, err
	}

	var active []string
	for _, st := range report.Statuses {
		if !st.Failed() && st.HasActivity {
			active = append(active, string(st.Month))
		}
	}
	log.Info("Activity check complete", "chain", check.Chain, "address", check.Address,
		"months", len(report.Statuses), "active", strings.Join(active, ","), "failed", len(report.Failures()))
	return report, nil
}

func checkSingleMonth(ctx context.Context, checker *activity.Checker, check config.CheckConfig, publish activity.MonthFunc) (activity.Report, error) {
	month, err := chain.ParseMonth(check.Month)
	if err != nil {
		return activity.Report{}, err
	}
	if check.Refresh {
		log.Warn("Refresh applies to full checks only", "month", month)
	}

	progress := func(checked, total int) {
		log.Info("Scanning", "month", month, "checked", checked, "total", total)
	}
	has, err := checker.CheckMonth(ctx, check.Address, check.Chain, month, progress)
	if err != nil {
		return activity.Report{}, err
	}

	st := activity.Status{Month: month, ChainSlug: check.Chain, HasActivity: has}
	publish(st)
	return activity.Report{Address: check.Address, ChainSlug: check.Chain, Statuses: []activity.Status{st}}, nil
}

func isInputError(err error) bool {
	return errors.Is(err, activity.ErrInvalidAddress) ||
		errors.Is(err, activity.ErrUnknownChain) ||
		errors.Is(err, activity.ErrChainInactive) ||
		errors.Is(err, activity.ErrMonthNotConfigured)
}

func startMetricsServer(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("Starting metrics server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server failed", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("Failed to shutdown metrics server", "err", err)
		}
	}()
}
