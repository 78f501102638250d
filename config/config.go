package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Gridflow  GridflowConfig  `yaml:"gridflow"`
	Exchange  string          `yaml:"exchange"`
	Symbols   []string        `yaml:"symbols"`
	APIKeys   []APIKeyConfig  `yaml:"api_keys"`
	Balances  []BalanceConfig `yaml:"balances"`
	Trading   TradingConfig   `yaml:"trading"`
	Features  FeaturesConfig  `yaml:"features"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Writer    WriterConfig    `yaml:"writer"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type GridflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type APIKeyConfig struct {
	Key      string `yaml:"key"`
	Secret   string `yaml:"secret"`
	Symbol   string `yaml:"symbol"`
	Exchange string `yaml:"exchange"`
}

type BalanceConfig struct {
	Symbol string  `yaml:"symbol"`
	Amount float64 `yaml:"amount"`
}

type TradingConfig struct {
	Leverage           float64   `yaml:"leverage"`
	OrdersPerSide      int       `yaml:"orders_per_side"`
	FinalOrderDistance float64   `yaml:"final_order_distance"`
	SpreadBps          []float64 `yaml:"spread_bps"`
	InventoryPolicy    string    `yaml:"inventory_policy"`
	MeanRevertStrength float64   `yaml:"mean_revert_strength"`
	RebalanceRatio     float64   `yaml:"rebalance_ratio"`
}

type FeaturesConfig struct {
	Depths     []int `yaml:"depths"`
	TickWindow int   `yaml:"tick_window"`
	UseWmid    bool  `yaml:"use_wmid"`
}

type RateLimitConfig struct {
	Actions     int `yaml:"actions"`
	Cancels     int `yaml:"cancels"`
	TimeLimitMs int `yaml:"time_limit_ms"`
}

// TimeLimit is the rate-limit window as a duration.
func (r RateLimitConfig) TimeLimit() time.Duration {
	return time.Duration(r.TimeLimitMs) * time.Millisecond
}

type WriterConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	Compression   string        `yaml:"compression"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type LoggingConfig struct {
	Level         string                 `yaml:"level"`
	Format        string                 `yaml:"format"`
	Output        string                 `yaml:"output"`
	MaxAge        int                    `yaml:"max_age"`
	Fields        map[string]interface{} `yaml:"fields"`
	DashboardName string                 `yaml:"dashboard_name"`
}

type MetricsConfig struct {
	ChannelSize bool `yaml:"channel_size"`
	Prometheus  bool `yaml:"prometheus"`
}

// Supported exchange modes.
const (
	ExchangeBybit   = "bybit"
	ExchangeBinance = "binance"
	ExchangeBoth    = "both"
)

const defaultConfigPath = "config/config.yml"

var configEnvPaths = map[string]string{
	environmentDevelopment: "config/config.development.yml",
	environmentStaging:     "config/config.staging.yml",
	environmentProduction:  "config/config.production.yml",
}

func LoadConfig(path string) (*Config, error) {
	if resolved := resolveEnvSpecificPath(path, defaultConfigPath, configEnvPaths); resolved != path {
		if _, err := os.Stat(resolved); err == nil {
			path = resolved
		}
	}

	// Read configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Trading: TradingConfig{
			Leverage:           1,
			OrdersPerSide:      5,
			FinalOrderDistance: 10,
			InventoryPolicy:    "mean_revert",
			MeanRevertStrength: 0.63,
		},
		Features: FeaturesConfig{
			Depths:     []int{5, 50},
			TickWindow: 500,
		},
		RateLimit: RateLimitConfig{
			Actions:     10,
			Cancels:     10,
			TimeLimitMs: 1000,
		},
		Writer: WriterConfig{
			BatchSize:     512,
			FlushInterval: time.Minute,
			Compression:   "snappy",
		},
		Metrics: MetricsConfig{
			ChannelSize: true,
			Prometheus:  true,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override credentials from environment variables if available
	for i := range config.APIKeys {
		if v := os.Getenv(fmt.Sprintf("GRIDFLOW_API_KEY_%d", i)); v != "" {
			config.APIKeys[i].Key = strings.TrimSpace(v)
		}
		if v := os.Getenv(fmt.Sprintf("GRIDFLOW_API_SECRET_%d", i)); v != "" {
			config.APIKeys[i].Secret = strings.TrimSpace(v)
		}
	}
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// BalanceFor returns the configured quote balance for a symbol.
func (c *Config) BalanceFor(symbol string) float64 {
	for _, b := range c.Balances {
		if b.Symbol == symbol {
			return b.Amount
		}
	}
	return 0
}

func validateConfig(cfg *Config) error {
	if cfg.Gridflow.Name == "" {
		return fmt.Errorf("gridflow.name is required")
	}
	if cfg.Gridflow.Version == "" {
		return fmt.Errorf("gridflow.version is required")
	}

	switch cfg.Exchange {
	case ExchangeBybit, ExchangeBinance, ExchangeBoth:
	default:
		return fmt.Errorf("exchange must be one of bybit, binance, both")
	}

	if len(cfg.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}

	if cfg.Trading.Leverage <= 0 {
		return fmt.Errorf("trading.leverage must be greater than 0")
	}
	if cfg.Trading.OrdersPerSide < 1 {
		return fmt.Errorf("trading.orders_per_side must be at least 1")
	}
	if cfg.Trading.FinalOrderDistance <= 0 {
		return fmt.Errorf("trading.final_order_distance must be greater than 0")
	}
	if len(cfg.Trading.SpreadBps) > 0 && len(cfg.Trading.SpreadBps) != len(cfg.Symbols) {
		return fmt.Errorf("trading.spread_bps must carry one value per symbol")
	}
	switch cfg.Trading.InventoryPolicy {
	case "mean_revert", "trend_follow":
	default:
		return fmt.Errorf("trading.inventory_policy must be mean_revert or trend_follow")
	}

	if cfg.Features.TickWindow < 2 {
		return fmt.Errorf("features.tick_window must be at least 2")
	}
	if len(cfg.Features.Depths) == 0 {
		return fmt.Errorf("features.depths requires at least one depth")
	}
	for _, d := range cfg.Features.Depths {
		if d < 1 {
			return fmt.Errorf("features.depths entries must be at least 1")
		}
	}

	if cfg.RateLimit.Actions <= 0 {
		return fmt.Errorf("rate_limit.actions must be greater than 0")
	}
	if cfg.RateLimit.TimeLimitMs <= 0 {
		return fmt.Errorf("rate_limit.time_limit_ms must be greater than 0")
	}

	for _, key := range cfg.APIKeys {
		if key.Symbol == "" {
			return fmt.Errorf("api_keys entries require a symbol")
		}
		if cfg.Exchange == ExchangeBoth && key.Exchange == "" {
			return fmt.Errorf("api_keys entry for %s requires an exchange when trading both", key.Symbol)
		}
	}
	for _, b := range cfg.Balances {
		if b.Amount <= 0 {
			return fmt.Errorf("balances entry for %s must be greater than 0", b.Symbol)
		}
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if cfg.Storage.S3.AccessKeyID == "" || cfg.Storage.S3.SecretAccessKey == "" {
			return fmt.Errorf("storage.s3.access_key_id and storage.s3.secret_access_key are required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
