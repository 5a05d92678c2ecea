package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/robfig/cron/v3"

	"folio_pilot/internal/ai"
	"folio_pilot/internal/config"
	"folio_pilot/internal/decision"
	"folio_pilot/internal/execution"
	"folio_pilot/internal/gateway"
	"folio_pilot/internal/ledger"
	"folio_pilot/internal/logger"
	"folio_pilot/internal/market/alpaca"
	"folio_pilot/internal/metrics"
	"folio_pilot/internal/telegram"
	"folio_pilot/internal/telemetry"
	"folio_pilot/internal/watcher"
)

const versionFile = "version.latest"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	cfg.Version = readVersion()

	log := logger.New(logger.Config{
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.MaxLogSizeMB,
		MaxBackups: cfg.MaxLogBackups,
	})
	log.Info().Str("version", cfg.Version).Msg("folio-pilot starting")

	stats := telemetry.New()
	go stats.Serve(cfg.MetricsAddr, log)

	notifier := telegram.New(cfg.TelegramBotToken, cfg.TelegramChatID, log)
	if !notifier.Enabled() {
		log.Warn().Msg("telegram credentials missing, operator notifications disabled")
	}

	provider := alpaca.NewProvider()
	gw := gateway.New(gateway.Options{
		MinInterval: cfg.RateLimitInterval,
		MaxAttempts: cfg.APIMaxAttempts,
		BackoffBase: cfg.APIBackoffBase,
	}, stats, log)
	book := ledger.New(cfg.LedgerFile, cfg.TradeLogFile, log)
	perf := metrics.New(cfg.AnnualRiskFreeRate, cfg.EquityDivergenceThreshold, log)
	cache := decision.New(cfg.DecisionCacheTTL)

	advisor := ai.NewClient(cfg.GeminiAPIKey, cfg.GeminiModel, log)
	if !advisor.Enabled() {
		log.Warn().Msg("GEMINI_API_KEY missing, advisory loop disabled")
	}

	w := watcher.New(provider, gw, book, perf, cache, advisor, cfg, notifier.Notify(), stats, log)
	w.SetExecutor(execution.New(provider, gw, book, w, execution.Options{
		CancelSettleDelay: cfg.CancelSettleDelay,
		FillSettleDelay:   cfg.FillSettleDelay,
		Notify:            notifier.Notify(),
	}, stats, log))

	w.SendStartupNotification()
	w.Run() // first cycle immediately, then on schedule

	scheduler := cron.New()
	spec := fmt.Sprintf("@every %s", cfg.PollInterval)
	if _, err := scheduler.AddJob(spec, w); err != nil {
		log.Fatal().Err(err).Str("spec", spec).Msg("failed to schedule processing cycle")
	}
	scheduler.Start()
	log.Info().Str("interval", cfg.PollInterval.String()).Msg("processing cycle scheduled")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	sig := <-sigs
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	// Let an in-flight cycle finish before exiting.
	<-scheduler.Stop().Done()
	w.SendShutdownNotification()
	log.Info().Msg("folio-pilot stopped")
}

func readVersion() string {
	version, err := os.ReadFile(versionFile)
	if err != nil {
		return "v0.0.0-dev"
	}
	return strings.TrimSpace(string(version))
}
