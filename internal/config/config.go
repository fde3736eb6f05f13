package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Database  DatabaseConfig
	Reporting ReportingConfig
	Router    RouterConfig
	Explorers map[string]ExplorerConfig
	Ticker    TickerConfig
	Logging   LoggingConfig
}

// DatabaseConfig defines the database connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN renders the settings as a Postgres connection URL.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

// ReportingConfig defines the currency tax events are priced in.
type ReportingConfig struct {
	Currency string
}

// RouterConfig bounds the currency conversion search.
type RouterConfig struct {
	MaxHops int `mapstructure:"max_hops"`
}

// ExplorerConfig defines settings for a ledger feed source.
type ExplorerConfig struct {
	BaseURL         string  `mapstructure:"base_url"`
	SpotURL         string  `mapstructure:"spot_url"`
	PageSize        int     `mapstructure:"page_size"`
	RequestsPerSec  float64 `mapstructure:"requests_per_second"`
	MaxRetrySeconds int     `mapstructure:"max_retry_seconds"`
}

// TickerConfig defines the live spot-price capture.
type TickerConfig struct {
	Exchanges  []string
	Pair       string
	DataSource string `mapstructure:"data_source"`
}

// LoggingConfig defines the log output.
type LoggingConfig struct {
	Level string
}

// LoadConfig reads configuration from file or environment variables.
// A missing config file is not an error; defaults and the environment apply.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "cryptoscope")
	v.SetDefault("database.dbname", "cryptoscope")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("reporting.currency", "AUD")
	v.SetDefault("router.max_hops", 5)
	v.SetDefault("explorers.bitcoin.base_url", "https://blockchain.info")
	v.SetDefault("explorers.bitcoin.spot_url", "https://api.exchange.coinbase.com")
	v.SetDefault("explorers.bitcoin.page_size", 50)
	v.SetDefault("explorers.bitcoin.requests_per_second", 0.1)
	v.SetDefault("explorers.bitcoin.max_retry_seconds", 120)
	v.SetDefault("ticker.exchanges", []string{"kraken", "binance"})
	v.SetDefault("ticker.pair", "BTC/EUR")
	v.SetDefault("ticker.data_source", "ticker")
	v.SetDefault("logging.level", "info")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return
		}
	}

	err = v.Unmarshal(&config)
	return
}
