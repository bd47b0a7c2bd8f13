// Package config holds the settings the back office is started with. A
// Config is built once at startup and passed down; nothing reads it
// globally.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// Config represents the complete back-office configuration
type Config struct {
	Engine  EngineConfig  `json:"engine" yaml:"engine"`
	Market  MarketConfig  `json:"market" yaml:"market"`
	Account AccountConfig `json:"account" yaml:"account"`
	Store   StoreConfig   `json:"store" yaml:"store"`
	Quotes  QuotesConfig  `json:"quotes" yaml:"quotes"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

// EngineConfig selects how orders are matched and persisted
type EngineConfig struct {
	Mode string `json:"mode" yaml:"mode"` // realtime, simulation or backtest
	// Period is the matching poll interval, e.g. "1s".
	Period      string `json:"period" yaml:"period"`
	Persistence string `json:"persistence" yaml:"persistence"` // write_through or manual
	Point       int32  `json:"point" yaml:"point"`
}

// MarketConfig describes the exchange calendar and settlement rules
type MarketConfig struct {
	Name         string   `json:"name" yaml:"name"`
	Exchanges    []string `json:"exchanges" yaml:"exchanges"`
	Windows      []string `json:"windows" yaml:"windows"` // "09:15-11:30"
	CloseAt      string   `json:"close_at" yaml:"close_at"`
	Location     string   `json:"location" yaml:"location"`
	TradeType    string   `json:"trade_type" yaml:"trade_type"`
	EnforceHours bool     `json:"enforce_hours" yaml:"enforce_hours"`
}

// AccountConfig holds the defaults for newly created accounts
type AccountConfig struct {
	Capital     float64 `json:"capital" yaml:"capital"`
	Cost        float64 `json:"cost" yaml:"cost"`
	Tax         float64 `json:"tax" yaml:"tax"`
	Slippoint   float64 `json:"slippoint" yaml:"slippoint"`
	TokenLength int     `json:"token_length" yaml:"token_length"`
}

// StoreConfig selects the ledger store backend
type StoreConfig struct {
	Driver string `json:"driver" yaml:"driver"` // memory, sqlite or postgres
	Path   string `json:"path,omitempty" yaml:"path,omitempty"`
	DSN    string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	// Retries is how many times a failed journal write is attempted.
	Retries int `json:"retries" yaml:"retries"`
}

// QuotesConfig selects the market data provider
type QuotesConfig struct {
	Provider string             `json:"provider" yaml:"provider"` // static, bars or redis
	Static   map[string]float64 `json:"static,omitempty" yaml:"static,omitempty"`
	// Bars is a daily bar file (date,symbol,open,high,low,close[,volume])
	// quoted at each day's close.
	Bars  string      `json:"bars,omitempty" yaml:"bars,omitempty"`
	Redis RedisConfig `json:"redis" yaml:"redis"`
}

type RedisConfig struct {
	Addr string `json:"addr" yaml:"addr"`
	DB   int    `json:"db" yaml:"db"`
	TTL  string `json:"ttl" yaml:"ttl"`
}

type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // json or text
}

type MetricsConfig struct {
	Addr string `json:"addr" yaml:"addr"` // empty disables the listener
}

// LoadFromFile loads configuration from a file, applies environment
// overrides and validates the result
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg = Default()
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	ApplyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// ApplyEnv overrides deployment settings from the environment.
func ApplyEnv(c *Config) {
	if v := os.Getenv("PAPERTRADE_STORE_DSN"); v != "" {
		c.Store.DSN = v
		if c.Store.Driver == "" || c.Store.Driver == "memory" {
			c.Store.Driver = "postgres"
		}
	}
	if v := os.Getenv("PAPERTRADE_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("PAPERTRADE_REDIS_ADDR"); v != "" {
		c.Quotes.Redis.Addr = v
	}
	if v := os.Getenv("PAPERTRADE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("PAPERTRADE_ENGINE_MODE"); v != "" {
		c.Engine.Mode = v
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Engine.Mode {
	case "realtime", "simulation", "backtest":
	default:
		return fmt.Errorf("engine.mode must be realtime, simulation or backtest")
	}
	if _, err := c.Engine.PeriodDuration(); err != nil {
		return fmt.Errorf("engine.period: %w", err)
	}
	switch c.Engine.Persistence {
	case "write_through", "manual":
	default:
		return fmt.Errorf("engine.persistence must be write_through or manual")
	}
	if c.Engine.Persistence == "manual" && c.Engine.Mode == "realtime" {
		return fmt.Errorf("manual persistence is only allowed for simulation and backtest")
	}
	if c.Engine.Point < 0 || c.Engine.Point > 8 {
		return fmt.Errorf("engine.point must be between 0 and 8")
	}

	if len(c.Market.Exchanges) == 0 {
		return fmt.Errorf("market.exchanges is required")
	}
	if _, err := c.Market.ParseWindows(); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.Market.Location); err != nil {
		return fmt.Errorf("market.location: %w", err)
	}
	switch c.Market.TradeType {
	case "t0", "t1":
	default:
		return fmt.Errorf("market.trade_type must be t0 or t1")
	}

	if c.Account.Capital <= 0 {
		return fmt.Errorf("account.capital must be positive")
	}
	if c.Account.Cost < 0 || c.Account.Tax < 0 || c.Account.Slippoint < 0 {
		return fmt.Errorf("account cost, tax and slippoint must not be negative")
	}
	if c.Account.TokenLength < 8 || c.Account.TokenLength > 64 {
		return fmt.Errorf("account.token_length must be between 8 and 64")
	}

	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path required for sqlite driver")
		}
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn required for postgres driver")
		}
	default:
		return fmt.Errorf("store.driver must be memory, sqlite or postgres")
	}

	switch c.Quotes.Provider {
	case "static":
	case "bars":
		if c.Quotes.Bars == "" {
			return fmt.Errorf("quotes.bars required for bars provider")
		}
	case "redis":
		if c.Quotes.Redis.Addr == "" {
			return fmt.Errorf("quotes.redis.addr required for redis provider")
		}
		if _, err := c.Quotes.Redis.TTLDuration(); err != nil {
			return fmt.Errorf("quotes.redis.ttl: %w", err)
		}
	default:
		return fmt.Errorf("quotes.provider must be static, bars or redis")
	}

	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text")
	}
	return nil
}

// PeriodDuration parses Period. Empty means one second.
func (e EngineConfig) PeriodDuration() (time.Duration, error) {
	if e.Period == "" {
		return time.Second, nil
	}
	d, err := time.ParseDuration(e.Period)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("period must be positive")
	}
	return d, nil
}

// Window is one parsed trading window as offsets from midnight.
type Window struct {
	Start, End time.Duration
}

// ParseWindows parses Windows and CloseAt. The windows must be ordered and
// end before the close.
func (m MarketConfig) ParseWindows() ([]Window, error) {
	if len(m.Windows) == 0 {
		return nil, fmt.Errorf("market.windows is required")
	}
	closeAt, err := clock(m.CloseAt)
	if err != nil {
		return nil, fmt.Errorf("market.close_at: %w", err)
	}

	out := make([]Window, 0, len(m.Windows))
	var last time.Duration
	for _, w := range m.Windows {
		start, end, ok := strings.Cut(w, "-")
		if !ok {
			return nil, fmt.Errorf("market.windows: %q is not HH:MM-HH:MM", w)
		}
		s, err := clock(start)
		if err != nil {
			return nil, fmt.Errorf("market.windows: %w", err)
		}
		e, err := clock(end)
		if err != nil {
			return nil, fmt.Errorf("market.windows: %w", err)
		}
		if s >= e || s < last {
			return nil, fmt.Errorf("market.windows: %q is out of order", w)
		}
		if e > closeAt {
			return nil, fmt.Errorf("market.windows: %q ends after close_at", w)
		}
		out = append(out, Window{Start: s, End: e})
		last = e
	}
	return out, nil
}

// CloseOffset parses CloseAt.
func (m MarketConfig) CloseOffset() (time.Duration, error) {
	return clock(m.CloseAt)
}

func clock(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	layout := "15:04"
	if strings.Count(s, ":") == 2 {
		layout = "15:04:05"
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return 0, fmt.Errorf("bad clock %q", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second, nil
}

// TTLDuration parses TTL. Empty means three seconds.
func (r RedisConfig) TTLDuration() (time.Duration, error) {
	if r.TTL == "" {
		return 3 * time.Second, nil
	}
	return time.ParseDuration(r.TTL)
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Mode:        "simulation",
			Period:      "1s",
			Persistence: "write_through",
			Point:       2,
		},
		Market: MarketConfig{
			Name:      "cn-a",
			Exchanges: []string{"SH", "SZ"},
			Windows:   []string{"09:15-11:30", "13:00-15:00"},
			CloseAt:   "15:01",
			Location:  "Asia/Shanghai",
			TradeType: "t1",
		},
		Account: AccountConfig{
			Capital:     1000000,
			Cost:        0.0003,
			Tax:         0.001,
			Slippoint:   0.01,
			TokenLength: 20,
		},
		Store: StoreConfig{
			Driver:  "memory",
			Retries: 3,
		},
		Quotes: QuotesConfig{
			Provider: "static",
			Redis:    RedisConfig{Addr: "localhost:6379", TTL: "3s"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
