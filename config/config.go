package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPolygonBaseURL   = "https://api.polygon.io"
	DefaultRequestTimeout   = 30 * time.Second
	DefaultMinSpacing       = 12500 * time.Millisecond
	DefaultRateLimitBackoff = 60 * time.Second
	DefaultTransientBackoff = 5 * time.Second
	DefaultLookbackYears    = 2
	DefaultExchangeTimezone = "America/New_York"
	DefaultReportKey        = "ohlcvsync:report"
	DefaultReportTTL        = 30 * 24 * time.Hour
)

type Config struct {
	App       AppConfig       `yaml:"app"`
	Source    SourceConfig    `yaml:"source"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Retry     RetryConfig     `yaml:"retry"`
	Sync      SyncConfig      `yaml:"sync"`
	Registry  RegistryConfig  `yaml:"registry"`
	Storage   StorageConfig   `yaml:"storage"`
	Writer    WriterConfig    `yaml:"writer"`
	Report    ReportConfig    `yaml:"report"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type SourceConfig struct {
	Polygon PolygonConfig `yaml:"polygon"`
}

type PolygonConfig struct {
	BaseURL  string        `yaml:"base_url"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
	Adjusted *bool         `yaml:"adjusted"`
	Limit    int           `yaml:"limit"`
}

// IsAdjusted reports whether split-adjusted bars are requested. Defaults to true.
func (p PolygonConfig) IsAdjusted() bool {
	return p.Adjusted == nil || *p.Adjusted
}

// RateLimitConfig describes the provider quota. MinSpacing wins over
// RequestsPerMinute when both are set.
type RateLimitConfig struct {
	MinSpacing        time.Duration `yaml:"min_spacing"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
}

type RetryConfig struct {
	RateLimitBackoff time.Duration `yaml:"rate_limit_backoff"`
	TransientBackoff time.Duration `yaml:"transient_backoff"`
}

type SyncConfig struct {
	LookbackYears int      `yaml:"lookback_years"`
	Timezone      string   `yaml:"timezone"`
	Tickers       []string `yaml:"tickers"`
	TickersFile   string   `yaml:"tickers_file"`
}

type RegistryConfig struct {
	Driver       string `yaml:"driver"`
	DSN          string `yaml:"dsn"`
	TickerTable  string `yaml:"ticker_table"`
	TickerColumn string `yaml:"ticker_column"`
	BarsTable    string `yaml:"bars_table"`
	BarsTicker   string `yaml:"bars_ticker_column"`
	BarsDate     string `yaml:"bars_date_column"`
}

type StorageConfig struct {
	Backend string        `yaml:"backend"`
	Prefix  string        `yaml:"prefix"`
	Timeout time.Duration `yaml:"timeout"`
	S3      S3Config      `yaml:"s3"`
	Minio   MinioConfig   `yaml:"minio"`
	Local   LocalConfig   `yaml:"local"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type MinioConfig struct {
	Endpoint        string `yaml:"endpoint"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	UseSSL          bool   `yaml:"use_ssl"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type LocalConfig struct {
	Dir string `yaml:"dir"`
}

type WriterConfig struct {
	Compression  string `yaml:"compression"`
	RowGroupSize int64  `yaml:"row_group_size"`
}

type ReportConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Key      string        `yaml:"key"`
	TTL      time.Duration `yaml:"ttl"`
}

type MetricsConfig struct {
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// Spacing returns the minimum interval between provider calls.
func (c *Config) Spacing() time.Duration {
	if c.RateLimit.MinSpacing > 0 {
		return c.RateLimit.MinSpacing
	}
	if c.RateLimit.RequestsPerMinute > 0 {
		return time.Minute / time.Duration(c.RateLimit.RequestsPerMinute)
	}
	return DefaultMinSpacing
}

// Location loads the exchange timezone used to decide what "today" is.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Sync.Timezone)
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)
	applyDefaults(&config)

	if config.Sync.TickersFile != "" {
		tickers, err := LoadTickerList(config.Sync.TickersFile)
		if err != nil {
			return nil, err
		}
		config.Sync.Tickers = append(config.Sync.Tickers, tickers.Tickers...)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnvOverrides(config *Config) {
	if v := os.Getenv("POLYGON_API_KEY"); v != "" {
		config.Source.Polygon.APIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		config.Registry.DSN = strings.TrimSpace(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		config.Report.Redis.Addr = strings.TrimSpace(v)
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		config.Report.Redis.Password = v
	}

	switch config.Storage.Backend {
	case "s3", "":
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
	case "minio":
		if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
			config.Storage.Minio.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
			config.Storage.Minio.SecretAccessKey = strings.TrimSpace(v)
		}
	}
}

func applyDefaults(config *Config) {
	if config.App.Name == "" {
		config.App.Name = "ohlcvsync"
	}
	p := &config.Source.Polygon
	if p.BaseURL == "" {
		p.BaseURL = DefaultPolygonBaseURL
	}
	p.BaseURL = strings.TrimRight(p.BaseURL, "/")
	if p.Timeout == 0 {
		p.Timeout = DefaultRequestTimeout
	}
	if p.Limit == 0 {
		p.Limit = 50000
	}
	if config.Retry.RateLimitBackoff == 0 {
		config.Retry.RateLimitBackoff = DefaultRateLimitBackoff
	}
	if config.Retry.TransientBackoff == 0 {
		config.Retry.TransientBackoff = DefaultTransientBackoff
	}
	if config.Sync.LookbackYears == 0 {
		config.Sync.LookbackYears = DefaultLookbackYears
	}
	if config.Sync.Timezone == "" {
		config.Sync.Timezone = DefaultExchangeTimezone
	}
	if config.Registry.Driver == "" {
		config.Registry.Driver = "postgres"
	}
	r := &config.Registry
	if r.TickerTable == "" {
		r.TickerTable = "sp_sector_companies"
	}
	if r.TickerColumn == "" {
		r.TickerColumn = "ticker_symbol"
	}
	if r.BarsTable == "" {
		r.BarsTable = "ohlcv_bars"
	}
	if r.BarsTicker == "" {
		r.BarsTicker = "ticker"
	}
	if r.BarsDate == "" {
		r.BarsDate = "ohlc_date"
	}
	if config.Storage.Backend == "" {
		config.Storage.Backend = "s3"
	}
	if config.Storage.Timeout == 0 {
		config.Storage.Timeout = DefaultRequestTimeout
	}
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)
	config.Storage.Minio.Bucket = strings.TrimSpace(config.Storage.Minio.Bucket)
	if config.Writer.Compression == "" {
		config.Writer.Compression = "snappy"
	}
	if config.Report.Redis.Key == "" {
		config.Report.Redis.Key = DefaultReportKey
	}
	if config.Report.Redis.TTL == 0 {
		config.Report.Redis.TTL = DefaultReportTTL
	}
	if config.Metrics.CloudWatch.Namespace == "" {
		config.Metrics.CloudWatch.Namespace = "OHLCVSync"
	}
	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "json"
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Source.Polygon.APIKey == "" {
		return fmt.Errorf("source.polygon.api_key is required (or set POLYGON_API_KEY)")
	}
	if cfg.RateLimit.MinSpacing < 0 {
		return fmt.Errorf("rate_limit.min_spacing must not be negative")
	}
	if cfg.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("rate_limit.requests_per_minute must not be negative")
	}
	if cfg.Source.Polygon.Timeout < 0 {
		return fmt.Errorf("source.polygon.timeout must not be negative")
	}
	if cfg.Storage.Timeout < 0 {
		return fmt.Errorf("storage.timeout must not be negative")
	}
	if cfg.Sync.LookbackYears < 0 {
		return fmt.Errorf("sync.lookback_years must not be negative")
	}
	if _, err := cfg.Location(); err != nil {
		return fmt.Errorf("sync.timezone '%s' is invalid: %w", cfg.Sync.Timezone, err)
	}

	switch cfg.Registry.Driver {
	case "postgres", "sqlite":
		if cfg.Registry.DSN == "" {
			return fmt.Errorf("registry.dsn is required for driver '%s'", cfg.Registry.Driver)
		}
	case "static":
		if len(cfg.Sync.Tickers) == 0 {
			return fmt.Errorf("sync.tickers or sync.tickers_file is required for the static registry")
		}
	default:
		return fmt.Errorf("registry.driver '%s' is not supported", cfg.Registry.Driver)
	}

	switch cfg.Storage.Backend {
	case "s3":
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	case "minio":
		if cfg.Storage.Minio.Endpoint == "" {
			return fmt.Errorf("storage.minio.endpoint is required")
		}
		if !isValidS3Bucket(cfg.Storage.Minio.Bucket) {
			return fmt.Errorf("storage.minio.bucket '%s' is invalid", cfg.Storage.Minio.Bucket)
		}
	case "local":
		if cfg.Storage.Local.Dir == "" {
			return fmt.Errorf("storage.local.dir is required")
		}
	default:
		return fmt.Errorf("storage.backend '%s' is not supported", cfg.Storage.Backend)
	}

	switch strings.ToLower(cfg.Writer.Compression) {
	case "snappy", "gzip", "uncompressed", "none":
	default:
		return fmt.Errorf("writer.compression '%s' is not supported", cfg.Writer.Compression)
	}

	if cfg.Report.Redis.Enabled && cfg.Report.Redis.Addr == "" {
		return fmt.Errorf("report.redis.addr is required when the redis report store is enabled")
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
