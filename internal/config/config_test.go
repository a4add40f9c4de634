package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalEnvYAML = `
server:
  port: "8080"
weather_api:
  url: "https://api.example.com/data/2.5"
  timeout: "10s"
`

var overridableEnv = []string{
	"ENV_NAME", "PORT", "WEATHER_API_KEY", "WEATHER_API_URL", "WEATHER_FEED_URL",
	"APP_VERSION", "CACHE_BACKEND", "MEMCACHED_ADDRS", "REDIS_URL", "REDIS_PASSWORD",
	"RETRY_MAX_ATTEMPTS",
}

// clearEnv blanks every variable Load reads and restores them after the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range overridableEnv {
		t.Setenv(name, "")
	}
}

func writeEnvFile(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(dir, "config"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config", "dev.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeSecretsFile(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(dir, "config"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config", "secrets.yaml"), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_FailsWhenNoAPIKey(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)

	cfg, err := LoadFrom(dir)
	if err == nil {
		t.Fatal("LoadFrom() expected error when no WEATHER_API_KEY and no secrets file, got nil")
	}
	if cfg != nil {
		t.Fatalf("LoadFrom() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "WEATHER_API_KEY") {
		t.Errorf("LoadFrom() error = %v, want message containing WEATHER_API_KEY", err)
	}
}

func TestLoad_SucceedsWithSecretsFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)
	writeSecretsFile(t, dir, "weather_api_key: key-from-secrets-file\nredis_password: hunter2\n")

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.WeatherAPIKey != "key-from-secrets-file" {
		t.Errorf("WeatherAPIKey = %q, want key from secrets file", cfg.WeatherAPIKey)
	}
	if cfg.RedisPassword != "hunter2" {
		t.Errorf("RedisPassword = %q", cfg.RedisPassword)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("WEATHER_API_KEY", "k")
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	checks := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"CacheBackend", cfg.CacheBackend, BackendInMemory},
		{"AggregateTTL", cfg.AggregateTTL, 5 * time.Minute},
		{"CityTTL", cfg.CityTTL, 30 * time.Minute},
		{"ErrorCountTTL", cfg.ErrorCountTTL, time.Hour},
		{"MaxErrorCount", cfg.MaxErrorCount, 5},
		{"RetryMaxAttempts", cfg.RetryMaxAttempts, 3},
		{"RetryBaseDelay", cfg.RetryBaseDelay, time.Second},
		{"WeatherAPITimeout", cfg.WeatherAPITimeout, 10 * time.Second},
		{"AppVersion", cfg.AppVersion, "1.0.0"},
		{"CoalesceEnabled", cfg.CoalesceEnabled, true},
		{"CircuitBreakerEnabled", cfg.CircuitBreakerEnabled, false},
		{"FanoutLimit", cfg.FanoutLimit, 0},
		{"DefaultCities", strings.Join(cfg.DefaultCities, ","), "Budapest,New York,Tokyo,San Francisco,Hong Kong"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
	if cfg.RequestTimeout <= cfg.WeatherAPITimeout {
		t.Errorf("RequestTimeout = %v, want above WeatherAPITimeout", cfg.RequestTimeout)
	}
}

func TestLoad_FileValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("WEATHER_API_KEY", "k")
	dir := t.TempDir()
	writeEnvFile(t, dir, `
weather_api:
  timeout: "2s"
  feed_url: "https://feed.example.com/weather"
app:
  version: "2.0.0"
cache:
  backend: "Redis"
  weather_data_ttl: "1m"
  max_error_count: 3
  redis:
    url: "redis://cache:6379/1"
reliability:
  retry_max_attempts: 4
  retry_base_delay: "250ms"
  fanout_limit: 2
  coalesce_enabled: false
  circuit_breaker:
    enabled: true
    consecutive_failures: 7
    timeout: "15s"
warming:
  enabled: true
  interval: "10m"
cities:
  default: [" Paris ", "", "Oslo"]
`)

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.CacheBackend != BackendRedis || cfg.RedisURL != "redis://cache:6379/1" {
		t.Errorf("cache = %q %q", cfg.CacheBackend, cfg.RedisURL)
	}
	if cfg.AggregateTTL != time.Minute || cfg.MaxErrorCount != 3 {
		t.Errorf("AggregateTTL = %v MaxErrorCount = %d", cfg.AggregateTTL, cfg.MaxErrorCount)
	}
	if cfg.RetryMaxAttempts != 4 || cfg.RetryBaseDelay != 250*time.Millisecond || cfg.FanoutLimit != 2 {
		t.Errorf("reliability = %d %v %d", cfg.RetryMaxAttempts, cfg.RetryBaseDelay, cfg.FanoutLimit)
	}
	if cfg.CoalesceEnabled {
		t.Error("CoalesceEnabled = true, want false from file")
	}
	if !cfg.CircuitBreakerEnabled || cfg.CircuitBreakerConsecutiveFailures != 7 || cfg.CircuitBreakerTimeout != 15*time.Second {
		t.Errorf("breaker = %v %d %v", cfg.CircuitBreakerEnabled, cfg.CircuitBreakerConsecutiveFailures, cfg.CircuitBreakerTimeout)
	}
	if !cfg.WarmingEnabled || cfg.WarmingInterval != 10*time.Minute {
		t.Errorf("warming = %v %v", cfg.WarmingEnabled, cfg.WarmingInterval)
	}
	if got := strings.Join(cfg.DefaultCities, ","); got != "Paris,Oslo" {
		t.Errorf("DefaultCities = %q, want Paris,Oslo", got)
	}
	if cfg.FeedURL != "https://feed.example.com/weather" || cfg.AppVersion != "2.0.0" {
		t.Errorf("FeedURL = %q AppVersion = %q", cfg.FeedURL, cfg.AppVersion)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("WEATHER_API_KEY", "env-key")
	t.Setenv("WEATHER_API_URL", "https://override.example.com")
	t.Setenv("APP_VERSION", "9.9.9")
	t.Setenv("CACHE_BACKEND", "memcached")
	t.Setenv("MEMCACHED_ADDRS", "mc1:11211,mc2:11211")
	t.Setenv("RETRY_MAX_ATTEMPTS", "6")
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)
	writeSecretsFile(t, dir, "weather_api_key: from-file\n")

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.WeatherAPIKey != "env-key" {
		t.Errorf("WeatherAPIKey = %q, want env value", cfg.WeatherAPIKey)
	}
	if cfg.WeatherAPIURL != "https://override.example.com" || cfg.AppVersion != "9.9.9" {
		t.Errorf("URL = %q version = %q", cfg.WeatherAPIURL, cfg.AppVersion)
	}
	if cfg.CacheBackend != BackendMemcached || cfg.MemcachedAddrs != "mc1:11211,mc2:11211" {
		t.Errorf("cache = %q %q", cfg.CacheBackend, cfg.MemcachedAddrs)
	}
	if cfg.RetryMaxAttempts != 6 {
		t.Errorf("RetryMaxAttempts = %d, want 6", cfg.RetryMaxAttempts)
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("WEATHER_API_KEY")
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("WEATHER_API_KEY=from-dotenv\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("WEATHER_API_KEY") })

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.WeatherAPIKey != "from-dotenv" {
		t.Errorf("WeatherAPIKey = %q, want from-dotenv", cfg.WeatherAPIKey)
	}
}

func TestLoad_EnvFileNotFound(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENV_NAME", "nonexistent")

	cfg, err := LoadFrom(t.TempDir())
	if err == nil {
		t.Fatal("LoadFrom() expected error for missing env file, got nil")
	}
	if cfg != nil {
		t.Fatalf("LoadFrom() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("LoadFrom() error = %v, want message about config file not found", err)
	}
}

func TestLoad_InvalidDurationFallsBackToDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("WEATHER_API_KEY", "k")
	dir := t.TempDir()
	writeEnvFile(t, dir, `
weather_api:
  timeout: "soon"
cache:
  city_details_ttl: "-5m"
`)

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.WeatherAPITimeout != 10*time.Second {
		t.Errorf("WeatherAPITimeout = %v, want default 10s", cfg.WeatherAPITimeout)
	}
	if cfg.CityTTL != 30*time.Minute {
		t.Errorf("CityTTL = %v, want default 30m", cfg.CityTTL)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"zero api timeout", "weather_api:\n  timeout: \"0s\"\n", "weather_api.timeout"},
		{"unknown backend", "cache:\n  backend: \"sqlite\"\n", "cache.backend"},
		{"negative fanout", "reliability:\n  fanout_limit: -1\n", "fanout_limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("WEATHER_API_KEY", "k")
			dir := t.TempDir()
			writeEnvFile(t, dir, tt.yaml)

			_, err := LoadFrom(dir)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("LoadFrom() error = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	clearEnv(t)
	t.Setenv("WEATHER_API_KEY", "k")
	dir := t.TempDir()
	writeEnvFile(t, dir, "server: [unclosed\n")
	if _, err := LoadFrom(dir); err == nil || !strings.Contains(err.Error(), "parse config file") {
		t.Errorf("LoadFrom() error = %v, want parse error", err)
	}

	writeEnvFile(t, dir, minimalEnvYAML)
	writeSecretsFile(t, dir, "weather_api_key: [bad\n")
	if _, err := LoadFrom(dir); err == nil || !strings.Contains(err.Error(), "parse secrets file") {
		t.Errorf("LoadFrom() error = %v, want secrets parse error", err)
	}
}

func TestLoad_ShippedDevConfig(t *testing.T) {
	clearEnv(t)
	t.Setenv("WEATHER_API_KEY", "k")
	root := findProjectRoot(t)

	cfg, err := LoadFrom(root)
	if err != nil {
		t.Fatalf("LoadFrom(project root) error = %v", err)
	}
	if len(cfg.DefaultCities) == 0 {
		t.Error("shipped config has no default cities")
	}
}

func findProjectRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("go.mod not found")
		}
		dir = parent
	}
}
