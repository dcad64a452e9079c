package config

import "testing"

func TestLoadFromEnvDefaults(t *testing.T) {
	for _, key := range []string{
		"BROKER", "LIVE_TRADING", "DB_PATH", "PORT", "EXCHANGE_BASE_URL",
		"EXCHANGE_WS_URL", "EXCHANGE_KEY_NAME", "EXCHANGE_EC_PRIVATE_KEY",
		"TICK_INTERVAL_SEC", "CATCH_UP_INTERVAL_SEC", "ADAPTER_TIMEOUT_SEC",
	} {
		t.Setenv(key, "")
	}

	cfg := LoadFromEnv()
	if cfg.DBPath != "gridbot.db" {
		t.Errorf("DBPath = %q, want gridbot.db", cfg.DBPath)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.TickIntervalSec != 5 {
		t.Errorf("TickIntervalSec = %d, want 5", cfg.TickIntervalSec)
	}
	if cfg.CatchUpIntervalSec != 60 {
		t.Errorf("CatchUpIntervalSec = %d, want 60", cfg.CatchUpIntervalSec)
	}
	if cfg.LiveTrading {
		t.Error("LiveTrading should default false")
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("BROKER", "real")
	t.Setenv("LIVE_TRADING", "true")
	t.Setenv("PORT", "9090")

	cfg := LoadFromEnv()
	if cfg.Broker != "real" {
		t.Errorf("Broker = %q, want real", cfg.Broker)
	}
	if !cfg.LiveTrading {
		t.Error("LiveTrading should be true")
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
}
