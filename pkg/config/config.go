package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the signal engine.
type Config struct {
	Port string

	// Binance futures credentials
	BinanceAPIKey    string
	BinanceAPISecret string
	BinanceTestnet   bool

	// Protective order defaults (percent of entry price)
	DefaultStopLossPercent   float64
	DefaultTakeProfitPercent float64

	// Trailing stop policy
	TrailingStopPercent       float64 // stop offset from best price seen
	TrailingActivationPercent float64 // progress toward TP target that arms the stop
	TrailingPollInterval      time.Duration

	// An EXIT arriving within this window of the entry signal arms
	// trailing instead of closing the position.
	ExitDedupWindow time.Duration

	// User data stream lifecycle
	ListenKeyRenewalInterval time.Duration
	ReconnectBackoffCap      time.Duration

	// Journal database
	DBPath string

	// Per-symbol overrides file (optional)
	SymbolsFile string

	// Logging
	LogLevel  string
	LogFormat string
	LogOutput string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:                      getEnv("PORT", "8080"),
		BinanceAPIKey:             os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret:          os.Getenv("BINANCE_API_SECRET"),
		BinanceTestnet:            getEnv("BINANCE_TESTNET", "false") == "true",
		DefaultStopLossPercent:    getEnvFloat("DEFAULT_STOP_LOSS_PERCENT", 1.0),
		DefaultTakeProfitPercent:  getEnvFloat("DEFAULT_TAKE_PROFIT_PERCENT", 0.5),
		TrailingStopPercent:       getEnvFloat("TRAILING_STOP_PERCENT", 0.3),
		TrailingActivationPercent: getEnvFloat("TRAILING_ACTIVATION_PERCENT", 50),
		TrailingPollInterval:      getEnvDuration("TRAILING_POLL_INTERVAL_SEC", 2*time.Second),
		ExitDedupWindow:           getEnvDuration("EXIT_DEDUP_WINDOW_SEC", 2*time.Second),
		ListenKeyRenewalInterval:  getEnvDuration("LISTEN_KEY_RENEWAL_SEC", 30*time.Minute),
		ReconnectBackoffCap:       getEnvDuration("RECONNECT_BACKOFF_CAP_SEC", 60*time.Second),
		DBPath:                    getEnv("DB_PATH", "./data/signal.db"),
		SymbolsFile:               getEnv("SYMBOLS_FILE", ""),
		LogLevel:                  getEnv("LOG_LEVEL", "info"),
		LogFormat:                 getEnv("LOG_FORMAT", "text"),
		LogOutput:                 getEnv("LOG_OUTPUT", "stdout"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			return time.Duration(f * float64(time.Second))
		}
	}
	return def
}
