package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable of the system. All named delays and thresholds
// from the execution protocols live here so they can be shortened in tests
// and tuned in production without code changes.
type Config struct {
	Version string

	// Brokerage credentials (consumed by the Alpaca SDK from the env).
	AlpacaKeyID   string
	AlpacaSecret  string
	AlpacaBaseURL string

	// Advisory service. Empty key disables the advisory loop.
	GeminiAPIKey string
	GeminiModel  string

	// Processing cycle.
	PollInterval time.Duration

	// Rate-limited API gateway.
	RateLimitInterval time.Duration
	APIMaxAttempts    int
	APIBackoffBase    time.Duration

	// Order execution settle delays.
	CancelSettleDelay time.Duration
	FillSettleDelay   time.Duration

	// Decision cache.
	DecisionCacheTTL time.Duration

	// Performance metrics.
	AnnualRiskFreeRate        float64
	EquityDivergenceThreshold float64

	// Persisted state.
	LedgerFile   string
	TradeLogFile string

	// Logging.
	LogLevel      string
	LogFile       string
	MaxLogSizeMB  int64
	MaxLogBackups int

	// Telemetry.
	MetricsAddr string

	// Operator notifications. Empty token disables Telegram delivery.
	TelegramBotToken string
	TelegramChatID   string
}

// Load reads a .env file if present and builds the configuration from the
// environment. The Alpaca credentials are the only hard requirement.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// Not an error: production deployments pass real env vars.
		fmt.Fprintln(os.Stderr, "no .env file found, using system environment")
	}

	required := []string{"APCA_API_KEY_ID", "APCA_API_SECRET_KEY", "APCA_API_BASE_URL"}
	var missing []string
	for _, key := range required {
		if os.Getenv(key) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missing)
	}

	cfg := &Config{
		AlpacaKeyID:   os.Getenv("APCA_API_KEY_ID"),
		AlpacaSecret:  os.Getenv("APCA_API_SECRET_KEY"),
		AlpacaBaseURL: os.Getenv("APCA_API_BASE_URL"),

		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.5-flash"),

		PollInterval: getEnvDuration("POLL_INTERVAL", 60*time.Minute),

		RateLimitInterval: getEnvDuration("RATE_LIMIT_INTERVAL", 100*time.Millisecond),
		APIMaxAttempts:    getEnvInt("API_MAX_ATTEMPTS", 4),
		APIBackoffBase:    getEnvDuration("API_BACKOFF_BASE", 500*time.Millisecond),

		CancelSettleDelay: getEnvDuration("CANCEL_SETTLE_DELAY", 3*time.Second),
		FillSettleDelay:   getEnvDuration("FILL_SETTLE_DELAY", 2*time.Second),

		DecisionCacheTTL: getEnvDuration("DECISION_CACHE_TTL", 15*time.Minute),

		AnnualRiskFreeRate:        getEnvFloat64("RISK_FREE_RATE", 0.04),
		EquityDivergenceThreshold: getEnvFloat64("EQUITY_DIVERGENCE_THRESHOLD", 100.0),

		LedgerFile:   getEnv("LEDGER_FILE", "portfolio_ledger.csv"),
		TradeLogFile: getEnv("TRADE_LOG_FILE", "trade_log.csv"),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFile:       getEnv("LOG_FILE", "folio_pilot.log"),
		MaxLogSizeMB:  int64(getEnvInt("MAX_LOG_SIZE_MB", 10)),
		MaxLogBackups: getEnvInt("MAX_LOG_BACKUPS", 3),

		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   os.Getenv("TELEGRAM_CHAT_ID"),
	}

	return cfg, nil
}
