// Package config loads the bot-wide runtime configuration from the
// process environment and an optional .env file. Per-market grid
// parameters live in the Configuration/Market tables and are mutable
// at runtime; the only environment input to them is cmd/gridbot
// seeding the default market from GRID_* variables. This package
// only covers the knobs needed before a database connection exists
// (storage path, broker mode, HTTP port, ops defaults).
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LoadBotEnv loads .env from the current directory, then the parent
// directory, without overriding variables already set in the process
// environment. godotenv.Load only reads one path at a time, so this
// wraps it the way the teacher's loadBotEnv walked "." then "..".
func LoadBotEnv() {
	for _, base := range []string{".", ".."} {
		path := filepath.Join(base, ".env")
		if _, err := os.Stat(path); err != nil {
			continue
		}
		_ = godotenv.Load(path) // ignore error: file may legitimately be absent
	}
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getEnvBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "y", "yes":
		return true
	case "0", "false", "n", "no":
		return false
	default:
		return def
	}
}

func getEnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

// Config holds the bot-wide runtime knobs that exist before a market
// or its grid configuration is loaded from storage.
type Config struct {
	// Broker selection: "real", or any other value (including "" and
	// "mock") for the mock exchange; either is paper-wrapped unless
	// LiveTrading is set with "real".
	Broker string
	// LiveTrading, when true, wraps the Real adapter directly instead
	// of wrapping it in the Paper simulator.
	LiveTrading bool

	DBPath string
	Port   int

	// Real adapter wiring (used only when Broker == "real").
	ExchangeBaseURL string
	ExchangeWSURL   string
	ExchangeKeyName string
	ExchangeECKey   string

	TickIntervalSec    int
	CatchUpIntervalSec int
	AdapterTimeoutSec  int
}

// LoadFromEnv builds a Config from the process environment (already
// hydrated by LoadBotEnv), applying the same defaults the teacher's
// loadConfigFromEnv used for its own ops knobs.
func LoadFromEnv() Config {
	return Config{
		Broker:             strings.ToLower(getEnv("BROKER", "")),
		LiveTrading:        getEnvBool("LIVE_TRADING", false),
		DBPath:             getEnv("DB_PATH", "gridbot.db"),
		Port:               getEnvInt("PORT", 8080),
		ExchangeBaseURL:    getEnv("EXCHANGE_BASE_URL", ""),
		ExchangeWSURL:      getEnv("EXCHANGE_WS_URL", ""),
		ExchangeKeyName:    getEnv("EXCHANGE_KEY_NAME", ""),
		ExchangeECKey:      getEnv("EXCHANGE_EC_PRIVATE_KEY", ""),
		TickIntervalSec:    getEnvInt("TICK_INTERVAL_SEC", 5),
		CatchUpIntervalSec: getEnvInt("CATCH_UP_INTERVAL_SEC", 60),
		AdapterTimeoutSec:  getEnvInt("ADAPTER_TIMEOUT_SEC", 10),
	}
}
