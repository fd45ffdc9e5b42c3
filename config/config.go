// Package config loads and validates the factorbench configuration file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Config is the top-level configuration loaded from config.yaml.
type Config struct {
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Http struct {
		Port int `yaml:"port"`
	} `yaml:"http"`
	Log      LogConfig        `yaml:"log"`
	Backtest BacktestDefaults `yaml:"backtest"`
	Schema   SchemaMapping    `yaml:"schema"`
}

// LogConfig controls the zap logger and file rotation.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// BacktestDefaults are the run parameters used when the caller does not
// override them. Horizons are trading days.
type BacktestDefaults struct {
	ICHorizon     int `yaml:"ic_horizon"`
	Layers        int `yaml:"layers"`
	MinN          int `yaml:"min_n"`
	NavHorizon    int `yaml:"nav_horizon"`
	TopN          int `yaml:"topn"`
	LookaheadDays int `yaml:"lookahead_days"` // calendar-day buffer when reading prices past end
}

// SchemaMapping resolves logical feed fields to physical columns. The
// mapping is versioned and validated against the live schema at startup,
// never probed at call time.
type SchemaMapping struct {
	Version  int             `yaml:"version"`
	Score    ScoreMapping    `yaml:"score"`
	Price    PriceMapping    `yaml:"price"`
	Universe UniverseMapping `yaml:"universe"`
}

type ScoreMapping struct {
	Table     string `yaml:"table"`
	TradeDate string `yaml:"trade_date"`
	Code      string `yaml:"code"`
}

type PriceMapping struct {
	Table       string `yaml:"table"`
	TradeDate   string `yaml:"trade_date"`
	Code        string `yaml:"code"`
	Close       string `yaml:"close"`
	TradeStatus string `yaml:"trade_status"`
	IsST        string `yaml:"is_st"`
}

type UniverseMapping struct {
	Table   string `yaml:"table"`
	Code    string `yaml:"code"`
	SecType string `yaml:"sec_type"`
	Status  string `yaml:"status"`
}

// Load reads the config file, applies defaults and validates it.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &config, nil
}

// Default returns a config with all defaults applied and no file source.
func Default() *Config {
	var config Config
	config.applyDefaults()
	return &config
}

func (c *Config) applyDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = "factorbench.db"
	}
	if c.Http.Port == 0 {
		c.Http.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 100
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 5
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = 30
	}

	b := &c.Backtest
	if b.ICHorizon == 0 {
		b.ICHorizon = 5
	}
	if b.Layers == 0 {
		b.Layers = 5
	}
	if b.MinN == 0 {
		b.MinN = 200
	}
	if b.NavHorizon == 0 {
		b.NavHorizon = 1
	}
	if b.TopN == 0 {
		b.TopN = 50
	}
	if b.LookaheadDays == 0 {
		b.LookaheadDays = 400
	}

	s := &c.Schema
	if s.Version == 0 {
		s.Version = 1
	}
	if s.Score.Table == "" {
		s.Score = ScoreMapping{
			Table:     "dws_stock_score_daily",
			TradeDate: "trade_date",
			Code:      "ts_code",
		}
	}
	if s.Price.Table == "" {
		s.Price = PriceMapping{
			Table:       "dwd_kline_daily_raw",
			TradeDate:   "trade_date",
			Code:        "code",
			Close:       "close",
			TradeStatus: "tradestatus",
			IsST:        "is_st",
		}
	}
	if s.Universe.Table == "" {
		s.Universe = UniverseMapping{
			Table:   "dwd_stock_basic_all",
			Code:    "code",
			SecType: "sec_type",
			Status:  "status",
		}
	}
}

func (c *Config) validate() error {
	if c.Backtest.ICHorizon < 1 || c.Backtest.NavHorizon < 1 {
		return fmt.Errorf("horizons must be >= 1")
	}
	if c.Backtest.Layers < 1 {
		return fmt.Errorf("layers must be >= 1")
	}
	if c.Backtest.TopN < 1 {
		return fmt.Errorf("topn must be >= 1")
	}
	if c.Backtest.MinN < 1 {
		return fmt.Errorf("min_n must be >= 1")
	}
	if c.Schema.Version < 1 {
		return fmt.Errorf("schema mapping version must be >= 1")
	}
	for _, field := range []struct{ name, value string }{
		{"schema.score.table", c.Schema.Score.Table},
		{"schema.score.trade_date", c.Schema.Score.TradeDate},
		{"schema.score.code", c.Schema.Score.Code},
		{"schema.price.table", c.Schema.Price.Table},
		{"schema.price.trade_date", c.Schema.Price.TradeDate},
		{"schema.price.code", c.Schema.Price.Code},
		{"schema.price.close", c.Schema.Price.Close},
		{"schema.price.trade_status", c.Schema.Price.TradeStatus},
		{"schema.price.is_st", c.Schema.Price.IsST},
		{"schema.universe.table", c.Schema.Universe.Table},
		{"schema.universe.code", c.Schema.Universe.Code},
		{"schema.universe.sec_type", c.Schema.Universe.SecType},
		{"schema.universe.status", c.Schema.Universe.Status},
	} {
		if field.value == "" {
			return fmt.Errorf("%s is required", field.name)
		}
	}
	return nil
}
