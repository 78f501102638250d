package config

import (
	"os"
	"strings"
	"testing"
)

// writeTempConfig creates a minimal configuration file required for LoadConfig
// and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

const validConfig = `gridflow:
  name: "TestApp"
  version: "1.0"
exchange: bybit
symbols: [BTCUSDT, ETHUSDT]
api_keys:
  - key: "k"
    secret: "s"
    symbol: BTCUSDT
balances:
  - symbol: BTCUSDT
    amount: 10000
trading:
  leverage: 2
  orders_per_side: 5
  final_order_distance: 10
  spread_bps: [10, 12]
features:
  depths: [5, 50]
  tick_window: 300
rate_limit:
  actions: 10
  cancels: 5
  time_limit_ms: 1000
`

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t, validConfig)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Gridflow.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Gridflow.Name)
	}
	if cfg.Exchange != ExchangeBybit {
		t.Errorf("unexpected exchange: %s", cfg.Exchange)
	}
	if got := cfg.Trading.SpreadBps; len(got) != 2 || got[0] != 10 {
		t.Errorf("unexpected spreads: %v", got)
	}
	if cfg.Trading.InventoryPolicy != "mean_revert" {
		t.Errorf("default policy not applied: %s", cfg.Trading.InventoryPolicy)
	}
	if cfg.Trading.MeanRevertStrength != 0.63 {
		t.Errorf("default strength not applied: %v", cfg.Trading.MeanRevertStrength)
	}
	if cfg.BalanceFor("BTCUSDT") != 10000 {
		t.Errorf("unexpected balance: %v", cfg.BalanceFor("BTCUSDT"))
	}
	if cfg.BalanceFor("XRPUSDT") != 0 {
		t.Errorf("unknown symbol should have zero balance")
	}
}

func TestLoadConfigRejectsFatalMismatches(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(string) string
		message string
	}{
		{
			name:    "zero leverage",
			mutate:  func(s string) string { return strings.Replace(s, "leverage: 2", "leverage: 0", 1) },
			message: "leverage",
		},
		{
			name:    "no orders per side",
			mutate:  func(s string) string { return strings.Replace(s, "orders_per_side: 5", "orders_per_side: 0", 1) },
			message: "orders_per_side",
		},
		{
			name:    "unknown exchange",
			mutate:  func(s string) string { return strings.Replace(s, "exchange: bybit", "exchange: kraken", 1) },
			message: "exchange",
		},
		{
			name:    "spread count mismatch",
			mutate:  func(s string) string { return strings.Replace(s, "spread_bps: [10, 12]", "spread_bps: [10]", 1) },
			message: "spread_bps",
		},
		{
			name:    "tiny tick window",
			mutate:  func(s string) string { return strings.Replace(s, "tick_window: 300", "tick_window: 1", 1) },
			message: "tick_window",
		},
		{
			name:    "no rate limit",
			mutate:  func(s string) string { return strings.Replace(s, "actions: 10", "actions: 0", 1) },
			message: "rate_limit",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeTempConfig(t, tc.mutate(validConfig))
			defer os.Remove(path)
			_, err := LoadConfig(path)
			if err == nil {
				t.Fatal("invalid config accepted")
			}
			if !strings.Contains(err.Error(), tc.message) {
				t.Fatalf("error %q does not mention %q", err, tc.message)
			}
		})
	}
}

func TestLoadConfigBothModeRequiresKeyExchange(t *testing.T) {
	content := strings.Replace(validConfig, "exchange: bybit", "exchange: both", 1)
	path := writeTempConfig(t, content)
	defer os.Remove(path)
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("untagged api key accepted in both mode")
	}
}

func TestAppEnvironmentPrecedence(t *testing.T) {
	t.Setenv("GRIDFLOW_ENV", "prod")
	t.Setenv("APP_ENV", "staging")
	if got := AppEnvironment(); got != EnvironmentProduction {
		t.Fatalf("AppEnvironment = %q, want production", got)
	}

	t.Setenv("GRIDFLOW_ENV", "")
	if got := AppEnvironment(); got != EnvironmentStaging {
		t.Fatalf("legacy APP_ENV ignored, got %q", got)
	}

	t.Setenv("APP_ENV", "")
	if got := AppEnvironment(); got != EnvironmentDevelopment {
		t.Fatalf("default environment = %q, want development", got)
	}
}
