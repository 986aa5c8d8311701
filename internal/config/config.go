// Package config loads the sniffer configuration from YAML, .env and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"token-sniffer/internal/logging"
	"token-sniffer/internal/risk"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Price sources.
const (
	PriceJupiter = "jupiter"
	PriceHelius  = "helius"
	PriceNone    = "none"
)

// ErrMissingAPIKey is returned when no Helius API key is configured.
var ErrMissingAPIKey = errors.New("helius api key is required (helius.api_key or HELIUS_API_KEY)")

// Config is the complete process configuration.
type Config struct {
	Log       logging.Config  `yaml:"log"`
	Feed      FeedConfig      `yaml:"feed"`
	RugCheck  RugCheckConfig  `yaml:"rugcheck"`
	Helius    HeliusConfig    `yaml:"helius"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Pricing   PricingConfig   `yaml:"pricing"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Store     StoreConfig     `yaml:"store"`
	History   HistoryConfig   `yaml:"history"`
	Notify    NotifyConfig    `yaml:"notify"`
	Server    ServerConfig    `yaml:"server"`
}

type FeedConfig struct {
	Endpoint      string        `yaml:"endpoint"`
	Keys          []string      `yaml:"keys"` // extra token keys to watch
	ReconnectBase time.Duration `yaml:"reconnect_base"`
	ReconnectMax  time.Duration `yaml:"reconnect_max"`
	PingInterval  time.Duration `yaml:"ping_interval"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
}

type RugCheckConfig struct {
	BaseURL      string        `yaml:"base_url"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	// Policy.FactorTags entries extend the built-in mapping.
	Policy risk.Policy `yaml:"policy"`
}

type HeliusConfig struct {
	APIKey         string        `yaml:"api_key"`
	Endpoint       string        `yaml:"endpoint"`
	Timeout        time.Duration `yaml:"timeout"`
	RateLimit      float64       `yaml:"rate_limit"` // requests per second, shared by all calls
	Burst          int           `yaml:"burst"`
	HolderPageSize int           `yaml:"holder_page_size"`
	MaxHolderPages int           `yaml:"max_holder_pages"`
}

type AnalyticsConfig struct {
	TopN              int           `yaml:"top_n"`
	Concurrency       int           `yaml:"concurrency"`
	GlobalLimit       int           `yaml:"global_limit"`
	WalletTimeout     time.Duration `yaml:"wallet_timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	RetryBackoff      time.Duration `yaml:"retry_backoff"`
	SignatureLimit    int           `yaml:"signature_limit"`
	TxDetailLimit     int           `yaml:"tx_detail_limit"`
	MinTransactions   int           `yaml:"min_transactions"`
	SkipProgramOwners bool          `yaml:"skip_program_owners"`
}

type PricingConfig struct {
	Source     string `yaml:"source"` // jupiter | helius | none
	JupiterURL string `yaml:"jupiter_url"`
}

type IngestionConfig struct {
	Workers        int           `yaml:"workers"`
	QueueSize      int           `yaml:"queue_size"`
	DedupCapacity  int           `yaml:"dedup_capacity"`
	DedupTTL       time.Duration `yaml:"dedup_ttl"`
	AssessTimeout  time.Duration `yaml:"assess_timeout"`
	AnalyzeTimeout time.Duration `yaml:"analyze_timeout"`
	DrainTimeout   time.Duration `yaml:"drain_timeout"`
	PersistTimeout time.Duration `yaml:"persist_timeout"`
}

type StoreConfig struct {
	Driver           string `yaml:"driver"` // memory | postgres | sqlite
	PostgresDSN      string `yaml:"postgres_dsn"`
	PostgresMaxConns int32  `yaml:"postgres_max_conns"`
	SQLitePath       string `yaml:"sqlite_path"`
}

type HistoryConfig struct {
	ClickhouseDSN string `yaml:"clickhouse_dsn"` // empty disables run history
}

type NotifyConfig struct {
	Redis RedisConfig `yaml:"redis"`
	Kafka KafkaConfig `yaml:"kafka"`
}

type RedisConfig struct {
	Addr        string `yaml:"addr"` // empty disables
	DB          int    `yaml:"db"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TokenStream string `yaml:"token_stream"`
	RunStream   string `yaml:"run_stream"`
	MaxLen      int64  `yaml:"max_len"`
}

type KafkaConfig struct {
	Brokers    []string `yaml:"brokers"` // empty disables
	TokenTopic string   `yaml:"token_topic"`
	RunTopic   string   `yaml:"run_topic"`
}

type ServerConfig struct {
	Addr        string `yaml:"addr"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns the configuration used for every field the file leaves out.
func Default() *Config {
	return &Config{
		Log: logging.Config{Level: "info", Format: "json"},
		Feed: FeedConfig{
			Endpoint:      "wss://pumpportal.fun/api/data",
			ReconnectBase: time.Second,
			ReconnectMax:  30 * time.Second,
			PingInterval:  45 * time.Second,
			ReadTimeout:   120 * time.Second,
		},
		RugCheck: RugCheckConfig{
			BaseURL:      risk.DefaultBaseURL,
			Timeout:      risk.DefaultTimeout,
			MaxRetries:   risk.DefaultMaxRetries,
			RetryBackoff: risk.DefaultRetryBackoff,
			Policy:       risk.DefaultPolicy(),
		},
		Helius: HeliusConfig{
			Endpoint:       "https://mainnet.helius-rpc.com/",
			Timeout:        15 * time.Second,
			RateLimit:      50,
			Burst:          10,
			HolderPageSize: 1000,
			MaxHolderPages: 20,
		},
		Analytics: AnalyticsConfig{
			TopN:           20,
			Concurrency:    10,
			GlobalLimit:    40,
			WalletTimeout:  30 * time.Second,
			MaxRetries:     2,
			RetryBackoff:   500 * time.Millisecond,
			SignatureLimit: 100,
			TxDetailLimit:  10,
		},
		Pricing: PricingConfig{Source: PriceJupiter},
		Ingestion: IngestionConfig{
			Workers:        5,
			QueueSize:      100,
			DedupCapacity:  10000,
			DedupTTL:       time.Hour,
			AssessTimeout:  30 * time.Second,
			AnalyzeTimeout: 3 * time.Minute,
			DrainTimeout:   30 * time.Second,
			PersistTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Driver:           StoreSQLite,
			PostgresMaxConns: 10,
			SQLitePath:       "sniffer.db",
		},
		Server: ServerConfig{
			Addr:        ":8080",
			MetricsAddr: ":9090",
		},
	}
}

// Load reads the configuration and validates it for the sniffer.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read loads .env (when present), the YAML file at path (skipped when path is
// empty) and environment overrides without validating the result.
func Read(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides secrets and endpoints from the environment.
func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setString("HELIUS_API_KEY", &c.Helius.APIKey)
	setString("HELIUS_RPC_URL", &c.Helius.Endpoint)
	setString("RUGCHECK_URL", &c.RugCheck.BaseURL)
	setString("PUMPPORTAL_WS_URL", &c.Feed.Endpoint)
	setString("STORE_DRIVER", &c.Store.Driver)
	setString("POSTGRES_DSN", &c.Store.PostgresDSN)
	setString("SQLITE_PATH", &c.Store.SQLitePath)
	setString("CLICKHOUSE_DSN", &c.History.ClickhouseDSN)
	setString("REDIS_ADDR", &c.Notify.Redis.Addr)
	setString("REDIS_PASSWORD", &c.Notify.Redis.Password)
	setString("PRICE_SOURCE", &c.Pricing.Source)
	setString("LOG_LEVEL", &c.Log.Level)
	setString("LOG_FORMAT", &c.Log.Format)

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Notify.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("TOP_N"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TOP_N: %w", err)
		}
		c.Analytics.TopN = n
	}
	return nil
}

// Validate rejects configurations the sniffer cannot start with.
func (c *Config) Validate() error {
	if c.Helius.APIKey == "" {
		return ErrMissingAPIKey
	}
	if err := c.ValidateStore(); err != nil {
		return err
	}

	switch c.Pricing.Source {
	case PriceJupiter, PriceHelius, PriceNone:
	default:
		return fmt.Errorf("unknown price source %q", c.Pricing.Source)
	}

	var errs []error
	positive := func(name string, v int) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	positive("analytics.top_n", c.Analytics.TopN)
	positive("analytics.concurrency", c.Analytics.Concurrency)
	positive("analytics.global_limit", c.Analytics.GlobalLimit)
	positive("ingestion.workers", c.Ingestion.Workers)
	positive("ingestion.queue_size", c.Ingestion.QueueSize)
	if c.Analytics.MaxRetries < 0 || c.RugCheck.MaxRetries < 0 {
		errs = append(errs, errors.New("max_retries must not be negative"))
	}
	if c.Helius.RateLimit <= 0 {
		errs = append(errs, errors.New("helius.rate_limit must be positive"))
	}
	if c.RugCheck.Policy.MaxScore <= 0 {
		errs = append(errs, errors.New("rugcheck.policy.max_score must be positive"))
	}
	return errors.Join(errs...)
}

// ValidateStore checks the store section only; enough for the query server.
func (c *Config) ValidateStore() error {
	switch c.Store.Driver {
	case StoreMemory:
	case StorePostgres:
		if c.Store.PostgresDSN == "" {
			return errors.New("store.postgres_dsn is required for the postgres driver")
		}
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlite_path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	return nil
}

// shutdownMargin covers closing the feed, the sinks and the store after the
// ingestor has drained.
const shutdownMargin = 15 * time.Second

// ShutdownTimeout bounds a graceful shutdown: the ingestion drain window, one
// persistence round for the work it cancels, and shutdownMargin.
func (c *Config) ShutdownTimeout() time.Duration {
	def := Default().Ingestion
	drain, persist := c.Ingestion.DrainTimeout, c.Ingestion.PersistTimeout
	if drain <= 0 {
		drain = def.DrainTimeout
	}
	if persist <= 0 {
		persist = def.PersistTimeout
	}
	return drain + persist + shutdownMargin
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
