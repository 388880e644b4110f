package config

import (
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Port      string          `mapstructure:"port"`
	JWTSecret string          `mapstructure:"jwt_secret"`
	Store     StoreConfig     `mapstructure:"store"`
	Redis     RedisConfig     `mapstructure:"redis"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Market    MarketConfig    `mapstructure:"market"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Account   AccountConfig   `mapstructure:"account"`
	Log       LogConfig       `mapstructure:"log"`
	Snowflake SnowflakeConfig `mapstructure:"snowflake"`
}

type StoreConfig struct {
	Driver   string `mapstructure:"driver"` // sqlite, mysql or mongo
	DSN      string `mapstructure:"dsn"`
	Database string `mapstructure:"database"` // mongo only
}

type RedisConfig struct {
	Addr string        `mapstructure:"addr"` // empty disables the quote cache
	TTL  time.Duration `mapstructure:"ttl"`
}

type NATSConfig struct {
	URL           string `mapstructure:"url"` // empty disables event publishing
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type MarketConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Mock        bool          `mapstructure:"mock"`
	Concurrency int           `mapstructure:"concurrency"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Symbols     []string      `mapstructure:"symbols"`
}

type ProcessorConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type AccountConfig struct {
	StartingBalance decimal.Decimal `mapstructure:"starting_balance"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type SnowflakeConfig struct {
	Node int64 `mapstructure:"node"`
}

var defaults = map[string]any{
	"port":                     "8080",
	"jwt_secret":               "",
	"store.driver":             "sqlite",
	"store.dsn":                "file:stock-simulator.db?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate",
	"store.database":           "stock-simulator",
	"redis.addr":               "",
	"redis.ttl":                "30s",
	"nats.url":                 "",
	"nats.subject_prefix":      "brokerage",
	"market.api_key":           "",
	"market.base_url":          "https://www.alphavantage.co/query",
	"market.mock":              false,
	"market.concurrency":       4,
	"market.timeout":           "10s",
	"market.symbols":           []string{"AAPL", "GOOGL", "MSFT", "TSLA", "AMZN"},
	"processor.interval":       "60s",
	"account.starting_balance": "50000.00",
	"log.level":                "info",
	"log.format":               "text",
	"snowflake.node":           1,
}

// Environment names kept from earlier deployments.
var envAliases = map[string][]string{
	"port":           {"PORT"},
	"store.dsn":      {"STORE_DSN", "MONGODB_URI"},
	"store.database": {"STORE_DATABASE", "DATABASE_NAME"},
	"market.api_key": {"MARKET_API_KEY", "ALPHA_VANTAGE_API_KEY"},
}

// Load reads .env (if present), then the optional YAML file at path, then
// the environment. Later sources win.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "loading .env")
	}

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, envs := range envAliases {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "reading config file %s", path)
		}
	}

	var cfg Config
	err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			stringToDecimalHook,
		)
	})
	if err != nil {
		return nil, errors.Wrap(err, "parsing config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "mysql", "mongo":
	default:
		return errors.Errorf("store.driver must be sqlite, mysql or mongo, got %q", c.Store.Driver)
	}
	if strings.TrimSpace(c.Store.DSN) == "" {
		return errors.New("store.dsn is required")
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		return errors.New("jwt_secret is required")
	}
	if c.Processor.Interval <= 0 {
		return errors.New("processor.interval must be positive")
	}
	if c.Market.Concurrency <= 0 {
		c.Market.Concurrency = 1
	}
	if c.Account.StartingBalance.IsNegative() {
		return errors.New("account.starting_balance cannot be negative")
	}
	if !c.Market.Mock && c.Market.APIKey == "" {
		return errors.New("market.api_key is required unless market.mock is set")
	}
	if c.Snowflake.Node < 0 || c.Snowflake.Node > 1023 {
		return errors.Errorf("snowflake.node must be within 0-1023, got %d", c.Snowflake.Node)
	}
	return nil
}

func stringToDecimalHook(from, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(decimal.Decimal{}) {
		return data, nil
	}
	switch from.Kind() {
	case reflect.String:
		return decimal.NewFromString(strings.TrimSpace(data.(string)))
	case reflect.Int, reflect.Int64:
		return decimal.NewFromInt(reflect.ValueOf(data).Int()), nil
	case reflect.Float64:
		return decimal.NewFromFloat(data.(float64)), nil
	}
	return data, nil
}
