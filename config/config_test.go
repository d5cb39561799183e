package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeTempConfig writes content to a temporary yaml file and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"POLYGON_API_KEY", "DATABASE_URL", "REDIS_ADDR", "REDIS_PASSWORD",
		"AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY", "AWS_REGION", "S3_BUCKET", "APP_ENV"} {
		t.Setenv(k, "")
	}
}

const minimalConfig = `app:
  name: "TestApp"
  version: "1.0"
source:
  polygon:
    api_key: "test-key"
registry:
  driver: static
sync:
  tickers: ["AAPL", "BRK.B"]
storage:
  backend: s3
  s3:
    bucket: "ohlcv-bucket"
    region: "us-east-1"
`

func TestLoadConfig(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig(writeTempConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.App.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.App.Name)
	}
	if cfg.Source.Polygon.BaseURL != DefaultPolygonBaseURL {
		t.Errorf("unexpected base url: %s", cfg.Source.Polygon.BaseURL)
	}
	if cfg.Source.Polygon.Timeout != 30*time.Second {
		t.Errorf("unexpected timeout: %s", cfg.Source.Polygon.Timeout)
	}
	if !cfg.Source.Polygon.IsAdjusted() {
		t.Errorf("adjusted should default to true")
	}
	if got := cfg.Spacing(); got != 12500*time.Millisecond {
		t.Errorf("unexpected spacing: %s", got)
	}
	if cfg.Sync.LookbackYears != 2 {
		t.Errorf("unexpected lookback: %d", cfg.Sync.LookbackYears)
	}
	if cfg.Writer.Compression != "snappy" {
		t.Errorf("unexpected compression: %s", cfg.Writer.Compression)
	}
	if cfg.Storage.Timeout != DefaultRequestTimeout {
		t.Errorf("unexpected storage timeout: %s", cfg.Storage.Timeout)
	}
	if len(cfg.Sync.Tickers) != 2 || cfg.Sync.Tickers[1] != "BRK.B" {
		t.Errorf("unexpected tickers: %v", cfg.Sync.Tickers)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("POLYGON_API_KEY", " env-key ")
	t.Setenv("S3_BUCKET", "env-bucket")
	t.Setenv("AWS_REGION", "eu-west-1")

	cfg, err := LoadConfig(writeTempConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Source.Polygon.APIKey != "env-key" {
		t.Errorf("api key not overridden: %q", cfg.Source.Polygon.APIKey)
	}
	if cfg.Storage.S3.Bucket != "env-bucket" || cfg.Storage.S3.Region != "eu-west-1" {
		t.Errorf("s3 settings not overridden: %+v", cfg.Storage.S3)
	}
}

func TestLoadConfigMissingAPIKey(t *testing.T) {
	clearEnv(t)
	content := strings.Replace(minimalConfig, `api_key: "test-key"`, `api_key: ""`, 1)
	if _, err := LoadConfig(writeTempConfig(t, content)); err == nil {
		t.Fatalf("expected error for missing api key")
	}
}

func TestLoadConfigRequestsPerMinute(t *testing.T) {
	clearEnv(t)
	content := minimalConfig + "rate_limit:\n  requests_per_minute: 5\n"
	cfg, err := LoadConfig(writeTempConfig(t, content))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if got := cfg.Spacing(); got != 12*time.Second {
		t.Errorf("unexpected spacing: %s", got)
	}
}

func TestLoadConfigRejectsUnknownBackend(t *testing.T) {
	clearEnv(t)
	content := strings.Replace(minimalConfig, "backend: s3", "backend: gcs", 1)
	if _, err := LoadConfig(writeTempConfig(t, content)); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestLoadConfigTickersFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	tickers := filepath.Join(dir, "tickers.yml")
	if err := os.WriteFile(tickers, []byte("tickers: [\"msft\", \" nvda \", \"MSFT\", \"\"]\n"), 0o644); err != nil {
		t.Fatalf("write tickers: %v", err)
	}
	content := strings.Replace(minimalConfig, `tickers: ["AAPL", "BRK.B"]`, "tickers_file: "+tickers, 1)
	cfg, err := LoadConfig(writeTempConfig(t, content))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if len(cfg.Sync.Tickers) != 2 || cfg.Sync.Tickers[0] != "MSFT" || cfg.Sync.Tickers[1] != "NVDA" {
		t.Errorf("unexpected tickers: %v", cfg.Sync.Tickers)
	}
}

func TestIsValidS3Bucket(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
	}{
		{"valid-bucket", true},
		{"sp500-top-10-sector-leaders-ohlcv-s3bkt", true},
		{"Invalid", false},
		{"ab", false},
		{"my..bucket", false},
	}
	for _, c := range cases {
		if got := isValidS3Bucket(c.name); got != c.valid {
			t.Errorf("isValidS3Bucket(%q) = %v, want %v", c.name, got, c.valid)
		}
	}
}

func TestResolvePath(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	if got := ResolvePath(""); got != DefaultPath {
		t.Errorf("unexpected path: %s", got)
	}
	t.Setenv("APP_ENV", "prod")
	if got := ResolvePath("custom.yml"); got != "custom.yml" {
		t.Errorf("explicit path should win: %s", got)
	}
	if AppEnvironment() != EnvironmentProduction || !IsProductionLike(AppEnvironment()) {
		t.Errorf("prod alias not resolved")
	}
}
