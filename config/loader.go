package config

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverDuckDB   = "duckdb"
	DriverPostgres = "postgres"
	DriverRedshift = "redshift"

	ErrorPolicyPropagate = "propagate"
	ErrorPolicyEmpty     = "empty"

	// EnvPrefix is prepended to every config key when looking up environment overrides,
	// e.g. AVW_WAREHOUSE_POSTGRES_HOST overrides warehouse.postgres.host.
	EnvPrefix = "AVW"
)

type Config struct {
	Log          LogConfig          `mapstructure:"log"`
	Tickers      []string           `mapstructure:"tickers"`
	Extract      ExtractConfig      `mapstructure:"extract"`
	AlphaVantage AlphaVantageConfig `mapstructure:"alphavantage"`
	Warehouse    WarehouseConfig    `mapstructure:"warehouse"`
	Schedule     ScheduleConfig     `mapstructure:"schedule"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Env          string
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type ExtractConfig struct {
	Backoff           BackoffConfig `mapstructure:"backoff"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
}

type BackoffConfig struct {
	RetryWaitMin time.Duration `mapstructure:"retry_wait_min"`
	RetryWaitMax time.Duration `mapstructure:"retry_wait_max"`
	RetryMax     int           `mapstructure:"retry_max"`
}

type AlphaVantageConfig struct {
	BaseURL     string          `mapstructure:"base_url"`
	ErrorPolicy string          `mapstructure:"error_policy"`
	Intraday    IntradayConfig  `mapstructure:"intraday"`
	Sentiment   SentimentConfig `mapstructure:"sentiment"`
}

type IntradayConfig struct {
	Interval      string `mapstructure:"interval"`
	Adjusted      bool   `mapstructure:"adjusted"`
	ExtendedHours bool   `mapstructure:"extended_hours"`
	OutputSize    string `mapstructure:"output_size"`
	Month         string `mapstructure:"month"`
}

type SentimentConfig struct {
	Topics   []string      `mapstructure:"topics"`
	TimeFrom string        `mapstructure:"time_from"`
	TimeTo   string        `mapstructure:"time_to"`
	Lookback time.Duration `mapstructure:"lookback"`
	Limit    int           `mapstructure:"limit"`
}

type WarehouseConfig struct {
	Driver          string         `mapstructure:"driver"`
	DuckDB          DuckDBConfig   `mapstructure:"duckdb"`
	Postgres        PostgresConfig `mapstructure:"postgres"`
	InsertBatchSize int            `mapstructure:"insert_batch_size"`
}

type DuckDBConfig struct {
	Path              string   `mapstructure:"path"`
	ConnInitFnQueries []string `mapstructure:"conn_init_fn_queries"`
}

type PostgresConfig struct {
	Host     string            `mapstructure:"host"`
	Port     int               `mapstructure:"port"`
	User     string            `mapstructure:"user"`
	Database string            `mapstructure:"database"`
	Schema   string            `mapstructure:"schema"`
	SSLMode  string            `mapstructure:"sslmode"`
	Params   map[string]string `mapstructure:"params"`
}

type ScheduleConfig struct {
	Cron       string `mapstructure:"cron"`
	RunOnStart bool   `mapstructure:"run_on_start"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

func setDefaults() {
	viper.SetDefault("log.level", "info")
	viper.SetDefault("tickers", []string{"AAPL", "IBM"})
	viper.SetDefault("extract.backoff.retry_wait_min", time.Second)
	viper.SetDefault("extract.backoff.retry_wait_max", 30*time.Second)
	viper.SetDefault("extract.backoff.retry_max", 0)
	viper.SetDefault("extract.timeout", time.Duration(0))
	viper.SetDefault("extract.requests_per_minute", 5)
	viper.SetDefault("alphavantage.base_url", "https://www.alphavantage.co/query")
	viper.SetDefault("alphavantage.error_policy", ErrorPolicyPropagate)
	viper.SetDefault("alphavantage.intraday.interval", "60min")
	viper.SetDefault("alphavantage.intraday.adjusted", true)
	viper.SetDefault("alphavantage.intraday.extended_hours", false)
	viper.SetDefault("alphavantage.intraday.output_size", "compact")
	viper.SetDefault("alphavantage.intraday.month", "")
	viper.SetDefault("alphavantage.sentiment.topics", []string{"technology", "manufacturing", "financial_markets"})
	viper.SetDefault("alphavantage.sentiment.time_from", "")
	viper.SetDefault("alphavantage.sentiment.time_to", "")
	viper.SetDefault("alphavantage.sentiment.lookback", time.Duration(0))
	viper.SetDefault("alphavantage.sentiment.limit", 0)
	viper.SetDefault("warehouse.driver", DriverDuckDB)
	viper.SetDefault("warehouse.duckdb.path", ":memory:")
	viper.SetDefault("warehouse.duckdb.conn_init_fn_queries", []string{})
	viper.SetDefault("warehouse.postgres.host", "localhost")
	viper.SetDefault("warehouse.postgres.port", 5439)
	viper.SetDefault("warehouse.postgres.user", "")
	viper.SetDefault("warehouse.postgres.database", "")
	viper.SetDefault("warehouse.postgres.schema", "")
	viper.SetDefault("warehouse.postgres.sslmode", "require")
	viper.SetDefault("warehouse.insert_batch_size", 500)
	viper.SetDefault("schedule.cron", "0 0 0 * * *")
	viper.SetDefault("schedule.run_on_start", true)
	viper.SetDefault("metrics.addr", "")
}

// NewConfig loads the configuration from the provided base config reader
// and merges it with the environment-specific configuration.
// Environment variables prefixed with EnvPrefix override both.
func NewConfig(baseConfigReader io.Reader, envConfigReader io.Reader, env string) (*Config, error) {
	if env == "" { // Use the provided 'env' or default to "dev"
		env = "dev"
	}

	viper.SetConfigType("yaml")
	setDefaults()
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Read the base configuration
	if err := viper.ReadConfig(baseConfigReader); err != nil {
		return nil, fmt.Errorf("error reading base config: %w", err)
	}

	// Merge with environment-specific configuration (only if provided)
	if envConfigReader != nil {
		if err := viper.MergeConfig(envConfigReader); err != nil {
			return nil, fmt.Errorf("error merging %s config: %w", env, err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// Set the environment directly
	config.Env = env

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks the enumerated settings. The intraday interval is checked by the extract package.
// MaxBindParameters is the PostgreSQL wire protocol limit on parameters per statement.
const MaxBindParameters = 65535

// MaxInsertBatchSize keeps a multi-row insert into the widest table, the six price
// columns, within MaxBindParameters.
const MaxInsertBatchSize = MaxBindParameters / 6

func (c *Config) Validate() error {
	drivers := []string{DriverDuckDB, DriverPostgres, DriverRedshift}
	if !slices.Contains(drivers, c.Warehouse.Driver) {
		return fmt.Errorf("invalid warehouse.driver %q, expected one of %v", c.Warehouse.Driver, drivers)
	}
	policies := []string{ErrorPolicyPropagate, ErrorPolicyEmpty}
	if !slices.Contains(policies, c.AlphaVantage.ErrorPolicy) {
		return fmt.Errorf("invalid alphavantage.error_policy %q, expected one of %v", c.AlphaVantage.ErrorPolicy, policies)
	}
	sizes := []string{"compact", "full"}
	if !slices.Contains(sizes, c.AlphaVantage.Intraday.OutputSize) {
		return fmt.Errorf("invalid alphavantage.intraday.output_size %q, expected one of %v", c.AlphaVantage.Intraday.OutputSize, sizes)
	}
	if c.Warehouse.InsertBatchSize <= 0 {
		return fmt.Errorf("warehouse.insert_batch_size must be positive, got %d", c.Warehouse.InsertBatchSize)
	}
	if c.Warehouse.InsertBatchSize > MaxInsertBatchSize {
		return fmt.Errorf("warehouse.insert_batch_size must be at most %d, got %d", MaxInsertBatchSize, c.Warehouse.InsertBatchSize)
	}
	if c.Extract.RequestsPerMinute < 0 {
		return fmt.Errorf("extract.requests_per_minute must not be negative, got %d", c.Extract.RequestsPerMinute)
	}
	return nil
}
