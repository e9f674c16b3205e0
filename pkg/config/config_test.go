package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("port = %q, want 8080", cfg.Port)
	}
	if cfg.DefaultStopLossPercent != 1.0 || cfg.DefaultTakeProfitPercent != 0.5 {
		t.Errorf("protective defaults = %v/%v", cfg.DefaultStopLossPercent, cfg.DefaultTakeProfitPercent)
	}
	if cfg.ExitDedupWindow != 2*time.Second {
		t.Errorf("dedup window = %v, want 2s", cfg.ExitDedupWindow)
	}
	if cfg.ListenKeyRenewalInterval != 30*time.Minute {
		t.Errorf("renewal = %v, want 30m", cfg.ListenKeyRenewalInterval)
	}
	if cfg.ReconnectBackoffCap != 60*time.Second {
		t.Errorf("backoff cap = %v, want 60s", cfg.ReconnectBackoffCap)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("EXIT_DEDUP_WINDOW_SEC", "3.5")
	t.Setenv("TRAILING_STOP_PERCENT", "0.8")
	t.Setenv("BINANCE_TESTNET", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ExitDedupWindow != 3500*time.Millisecond {
		t.Errorf("dedup window = %v, want 3.5s", cfg.ExitDedupWindow)
	}
	if cfg.TrailingStopPercent != 0.8 {
		t.Errorf("trailing percent = %v, want 0.8", cfg.TrailingStopPercent)
	}
	if !cfg.BinanceTestnet {
		t.Error("testnet flag not read")
	}
}

func TestLoadSymbolOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "symbols.yaml")
	content := []byte(`
symbols:
  BTCUSDT:
    leverage: 10
    take_profit_percent: 1.5
  ETHUSDT:
    stop_loss_percent: 2.0
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	got, err := LoadSymbolOverrides(path)
	if err != nil {
		t.Fatalf("LoadSymbolOverrides: %v", err)
	}
	if got["BTCUSDT"].Leverage != 10 || got["BTCUSDT"].TakeProfitPercent != 1.5 {
		t.Errorf("BTCUSDT = %+v", got["BTCUSDT"])
	}
	if got["ETHUSDT"].StopLossPercent != 2.0 {
		t.Errorf("ETHUSDT = %+v", got["ETHUSDT"])
	}
}

func TestLoadSymbolOverridesMissingFile(t *testing.T) {
	got, err := LoadSymbolOverrides(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("overrides = %+v, want empty", got)
	}
}

func TestLoadSymbolOverridesEmptyPath(t *testing.T) {
	got, err := LoadSymbolOverrides("")
	if err != nil || len(got) != 0 {
		t.Errorf("LoadSymbolOverrides(\"\") = %v, %v, want empty, nil", got, err)
	}
}
