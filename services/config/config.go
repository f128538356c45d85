package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	ClickHouse struct {
		Addr     string `yaml:"addr"`
		Database string `yaml:"database"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
	} `yaml:"clickhouse"`
	Vendor struct {
		BaseURL string `yaml:"base_url"`
		Token   string `yaml:"token"`
	} `yaml:"vendor"`
	Sync struct {
		CloseCron string `yaml:"close_cron"`
		Exchange  string `yaml:"exchange"`
	} `yaml:"sync"`
	Backtest struct {
		InitialCash  string `yaml:"initial_cash"`
		FeeRate      string `yaml:"fee_rate"`
		SlippageRate string `yaml:"slippage_rate"`
	} `yaml:"backtest"`
}

// Load reads config from a YAML file, then applies environment variable overrides.
// A missing file is not an error; defaults and env are enough to run.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := env("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := env("CLICKHOUSE_ADDR"); v != "" {
		cfg.ClickHouse.Addr = v
	}
	if v := env("CLICKHOUSE_DATABASE"); v != "" {
		cfg.ClickHouse.Database = v
	}
	if v := env("CLICKHOUSE_USER"); v != "" {
		cfg.ClickHouse.User = v
	}
	if v := env("CLICKHOUSE_PASSWORD"); v != "" {
		cfg.ClickHouse.Password = v
	}
	if v := env("VENDOR_BASE_URL"); v != "" {
		cfg.Vendor.BaseURL = v
	}
	if v := env("VENDOR_TOKEN"); v != "" {
		cfg.Vendor.Token = v
	}
	if v := env("CLOSE_SYNC_CRON"); v != "" {
		cfg.Sync.CloseCron = v
	}

	// Defaults
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.ClickHouse.Addr == "" {
		cfg.ClickHouse.Addr = "localhost:9000"
	}
	if cfg.ClickHouse.Database == "" {
		cfg.ClickHouse.Database = "quant"
	}
	if cfg.ClickHouse.User == "" {
		cfg.ClickHouse.User = "default"
	}
	if cfg.Vendor.BaseURL == "" {
		cfg.Vendor.BaseURL = "https://api.tushare.pro"
	}
	if cfg.Sync.CloseCron == "" {
		// every 10 minutes inside the sync window; the job itself gates on it
		cfg.Sync.CloseCron = "*/10 * * * *"
	}
	if cfg.Sync.Exchange == "" {
		cfg.Sync.Exchange = "SSE"
	}
	if cfg.Backtest.InitialCash == "" {
		cfg.Backtest.InitialCash = "1000000"
	}
	if cfg.Backtest.FeeRate == "" {
		cfg.Backtest.FeeRate = "0.00025"
	}
	if cfg.Backtest.SlippageRate == "" {
		cfg.Backtest.SlippageRate = "0.0005"
	}
	return cfg, nil
}

func env(k string) string {
	return strings.TrimSpace(os.Getenv(k))
}
