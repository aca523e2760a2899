// Package config loads and validates sentinel configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for every sentinel command.
type Config struct {
	Service   ServiceConfig   `mapstructure:"service"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Bus       BusConfig       `mapstructure:"bus"`
	Topics    TopicsConfig    `mapstructure:"topics"`
	Groups    GroupsConfig    `mapstructure:"groups"`
	DB        DBConfig        `mapstructure:"db"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Source    SourceConfig    `mapstructure:"source"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Price     PriceConfig     `mapstructure:"price"`
	HTTP      HTTPConfig      `mapstructure:"http"`
}

// ServiceConfig names the running service in logs and on /health.
type ServiceConfig struct {
	Name string `mapstructure:"name"`
}

// ServerConfig controls the health listener.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig selects the zap preset.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// TelemetryConfig controls trace sampling.
type TelemetryConfig struct {
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// BusConfig selects and tunes the message transport.
type BusConfig struct {
	Driver        string         `mapstructure:"driver"`
	MaxDeliveries int            `mapstructure:"max_deliveries"`
	PubSub        PubSubConfig   `mapstructure:"pubsub"`
	Redis         RedisBusConfig `mapstructure:"redis"`
}

// PubSubConfig configures the Google Cloud Pub/Sub bus.
type PubSubConfig struct {
	ProjectID      string `mapstructure:"project_id"`
	CreateMissing  bool   `mapstructure:"create_missing"`
	MaxOutstanding int    `mapstructure:"max_outstanding"`
}

// RedisBusConfig configures the Redis Streams bus.
type RedisBusConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	ClaimIdle time.Duration `mapstructure:"claim_idle"`
}

// TopicsConfig names the four bus topics.
type TopicsConfig struct {
	DomainBatches     string `mapstructure:"domain_batches"`
	TokenBatches      string `mapstructure:"token_batches"`
	DomainWarnings    string `mapstructure:"domain_warnings"`
	TokenPriceUpdates string `mapstructure:"token_price_updates"`
}

// GroupsConfig names the consumer groups. The warning group gets the browser
// variant appended.
type GroupsConfig struct {
	WarningPrefix string `mapstructure:"warning_prefix"`
	Price         string `mapstructure:"price"`
}

// DBConfig configures the Postgres pool.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	Tables          TablesConfig  `mapstructure:"tables"`
}

// TablesConfig overrides table names.
type TablesConfig struct {
	Domains     string `mapstructure:"domains"`
	Tokens      string `mapstructure:"tokens"`
	Feed        string `mapstructure:"feed"`
	WarningFeed string `mapstructure:"warning_feed"`
}

// StorageConfig selects the record store and the snapshot archive.
type StorageConfig struct {
	Driver  string        `mapstructure:"driver"`
	Archive ArchiveConfig `mapstructure:"archive"`
}

// ArchiveConfig selects where source snapshots are archived.
type ArchiveConfig struct {
	Driver    string `mapstructure:"driver"`
	Prefix    string `mapstructure:"prefix"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// SchedulerConfig controls the periodic jobs.
type SchedulerConfig struct {
	SyncInterval           time.Duration `mapstructure:"sync_interval"`
	DomainDispatchInterval time.Duration `mapstructure:"domain_dispatch_interval"`
	TokenDispatchInterval  time.Duration `mapstructure:"token_dispatch_interval"`
	DomainBatchSize        int           `mapstructure:"domain_batch_size"`
	TokenBatchSize         int           `mapstructure:"token_batch_size"`
	MaxConcurrent          int           `mapstructure:"max_concurrent"`
	RunOnStart             bool          `mapstructure:"run_on_start"`
	FailureThreshold       int           `mapstructure:"failure_threshold"`
}

// SourceConfig points at the external domain source.
type SourceConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	APIKey   string `mapstructure:"api_key"`
}

// RetryConfig controls the retry policy around warning checks.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Unit        time.Duration `mapstructure:"unit"`
}

// BrowserConfig selects the warning checker.
type BrowserConfig struct {
	Driver            string        `mapstructure:"driver"`
	Variant           string        `mapstructure:"variant"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	MaxParallel       int           `mapstructure:"max_parallel"`
	ExecPath          string        `mapstructure:"exec_path"`
}

// PriceConfig selects the price provider.
type PriceConfig struct {
	Provider     string            `mapstructure:"provider"`
	FetchTimeout time.Duration     `mapstructure:"fetch_timeout"`
	URLTemplate  string            `mapstructure:"url_template"`
	PricePath    string            `mapstructure:"price_path"`
	Headers      map[string]string `mapstructure:"headers"`
	Simulated    SimulatedConfig   `mapstructure:"simulated"`
}

// SimulatedConfig tunes the simulated price provider.
type SimulatedConfig struct {
	Min         float64 `mapstructure:"min"`
	Max         float64 `mapstructure:"max"`
	Places      int32   `mapstructure:"places"`
	FailureRate float64 `mapstructure:"failure_rate"`
	Seed        uint64  `mapstructure:"seed"`
}

// HTTPConfig controls the shared outbound HTTP client.
type HTTPConfig struct {
	UserAgent   string             `mapstructure:"user_agent"`
	Timeout     time.Duration      `mapstructure:"timeout"`
	MaxBodySize int                `mapstructure:"max_body_size"`
	RPS         float64            `mapstructure:"rps"`
	Burst       int                `mapstructure:"burst"`
	HostRPS     map[string]float64 `mapstructure:"host_rps"`
}

// Load reads configuration from path (optional) and SENTINEL_* environment
// variables, applies defaults, and validates the result.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "domain-sentinel")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("logging.development", false)
	v.SetDefault("telemetry.sample_ratio", 0.1)

	v.SetDefault("bus.driver", "memory")
	v.SetDefault("bus.max_deliveries", 5)
	v.SetDefault("bus.pubsub.project_id", "")
	v.SetDefault("bus.pubsub.create_missing", true)
	v.SetDefault("bus.pubsub.max_outstanding", 0)
	v.SetDefault("bus.redis.addr", "localhost:6379")
	v.SetDefault("bus.redis.password", "")
	v.SetDefault("bus.redis.db", 0)
	v.SetDefault("bus.redis.key_prefix", "sentinel")
	v.SetDefault("bus.redis.claim_idle", "1m")

	v.SetDefault("topics.domain_batches", "domain-batches")
	v.SetDefault("topics.token_batches", "token-batches")
	v.SetDefault("topics.domain_warnings", "domain-warnings")
	v.SetDefault("topics.token_price_updates", "token-price-updates")
	v.SetDefault("groups.warning_prefix", "domain-sentinel")
	v.SetDefault("groups.price", "updater")

	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", "30m")
	v.SetDefault("db.auto_migrate", false)
	v.SetDefault("db.tables.domains", "domains")
	v.SetDefault("db.tables.tokens", "tokens")
	v.SetDefault("db.tables.feed", "feed")
	v.SetDefault("db.tables.warning_feed", "domain_warning_feed")

	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.archive.driver", "none")
	v.SetDefault("storage.archive.prefix", "snapshots")
	v.SetDefault("storage.archive.base_dir", "data/archive")
	v.SetDefault("storage.archive.gcs_bucket", "")

	v.SetDefault("scheduler.sync_interval", "10m")
	v.SetDefault("scheduler.domain_dispatch_interval", "5m")
	v.SetDefault("scheduler.token_dispatch_interval", "10m")
	v.SetDefault("scheduler.domain_batch_size", 10)
	v.SetDefault("scheduler.token_batch_size", 2)
	v.SetDefault("scheduler.max_concurrent", 1)
	v.SetDefault("scheduler.run_on_start", true)
	v.SetDefault("scheduler.failure_threshold", 3)

	v.SetDefault("source.endpoint", "https://hor.info/admin_api/v1/domains")
	v.SetDefault("source.api_key", "api-key")

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.unit", "1s")

	v.SetDefault("browser.driver", "chromedp")
	v.SetDefault("browser.variant", "chrome")
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.max_parallel", 1)
	v.SetDefault("browser.exec_path", "")

	v.SetDefault("price.provider", "simulated")
	v.SetDefault("price.fetch_timeout", "10s")
	v.SetDefault("price.url_template", "")
	v.SetDefault("price.price_path", "")
	v.SetDefault("price.simulated.min", 0.01)
	v.SetDefault("price.simulated.max", 1000)
	v.SetDefault("price.simulated.places", 8)
	v.SetDefault("price.simulated.failure_rate", 0)
	v.SetDefault("price.simulated.seed", 0)

	v.SetDefault("http.user_agent", "domain-sentinel/1.0")
	v.SetDefault("http.timeout", "15s")
	v.SetDefault("http.max_body_size", 10*1024*1024)
	v.SetDefault("http.rps", 0)
	v.SetDefault("http.burst", 1)
}

var (
	busDrivers     = []string{"memory", "pubsub", "redis"}
	storageDrivers = []string{"memory", "postgres"}
	archiveDrivers = []string{"none", "memory", "local", "gcs"}
	browserDrivers = []string{"chromedp", "http"}
	priceProviders = []string{"simulated", "http"}
)

// Validate performs semantic validation of configuration values.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if !slices.Contains(busDrivers, c.Bus.Driver) {
		return fmt.Errorf("bus.driver must be one of %s, got %q", strings.Join(busDrivers, "|"), c.Bus.Driver)
	}
	if c.Bus.Driver == "pubsub" && c.Bus.PubSub.ProjectID == "" {
		return fmt.Errorf("bus.pubsub.project_id must be set when bus.driver is pubsub")
	}
	if c.Bus.Driver == "redis" && c.Bus.Redis.Addr == "" {
		return fmt.Errorf("bus.redis.addr must be set when bus.driver is redis")
	}
	if err := c.Topics.validate(); err != nil {
		return err
	}
	if c.Groups.WarningPrefix == "" || c.Groups.Price == "" {
		return errors.New("groups.warning_prefix and groups.price must be set")
	}
	if !slices.Contains(storageDrivers, c.Storage.Driver) {
		return fmt.Errorf("storage.driver must be one of %s, got %q", strings.Join(storageDrivers, "|"), c.Storage.Driver)
	}
	if c.Storage.Driver == "postgres" && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set when storage.driver is postgres")
	}
	if !slices.Contains(archiveDrivers, c.Storage.Archive.Driver) {
		return fmt.Errorf("storage.archive.driver must be one of %s, got %q", strings.Join(archiveDrivers, "|"), c.Storage.Archive.Driver)
	}
	if c.Storage.Archive.Driver == "gcs" && c.Storage.Archive.GCSBucket == "" {
		return fmt.Errorf("storage.archive.gcs_bucket must be set when the archive driver is gcs")
	}
	if c.Scheduler.SyncInterval <= 0 || c.Scheduler.DomainDispatchInterval <= 0 || c.Scheduler.TokenDispatchInterval <= 0 {
		return fmt.Errorf("scheduler intervals must be > 0")
	}
	if c.Scheduler.DomainBatchSize <= 0 || c.Scheduler.TokenBatchSize <= 0 {
		return fmt.Errorf("scheduler batch sizes must be > 0")
	}
	if c.Scheduler.MaxConcurrent <= 0 {
		return fmt.Errorf("scheduler.max_concurrent must be > 0")
	}
	if c.Source.Endpoint == "" {
		return fmt.Errorf("source.endpoint must be set")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1]")
	}
	if c.Retry.MaxAttempts <= 0 || c.Retry.Unit <= 0 {
		return fmt.Errorf("retry.max_attempts and retry.unit must be > 0")
	}
	if !slices.Contains(browserDrivers, c.Browser.Driver) {
		return fmt.Errorf("browser.driver must be one of %s, got %q", strings.Join(browserDrivers, "|"), c.Browser.Driver)
	}
	if c.Browser.MaxParallel < 0 {
		return fmt.Errorf("browser.max_parallel must be >= 0")
	}
	if !slices.Contains(priceProviders, c.Price.Provider) {
		return fmt.Errorf("price.provider must be one of %s, got %q", strings.Join(priceProviders, "|"), c.Price.Provider)
	}
	if c.Price.Provider == "http" && (c.Price.URLTemplate == "" || c.Price.PricePath == "") {
		return fmt.Errorf("price.url_template and price.price_path must be set when price.provider is http")
	}
	if c.Price.FetchTimeout <= 0 {
		return fmt.Errorf("price.fetch_timeout must be > 0")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	return nil
}

func (t TopicsConfig) validate() error {
	names := map[string]string{
		"topics.domain_batches":      t.DomainBatches,
		"topics.token_batches":       t.TokenBatches,
		"topics.domain_warnings":     t.DomainWarnings,
		"topics.token_price_updates": t.TokenPriceUpdates,
	}
	for key, name := range names {
		if name == "" {
			return fmt.Errorf("%s must be set", key)
		}
	}
	return nil
}

// WarningGroup returns the consumer group of a warning worker for variant.
func (c Config) WarningGroup(variant string) string {
	return c.Groups.WarningPrefix + "-" + variant
}
