package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Cache backends.
const (
	BackendInMemory  = "in_memory"
	BackendMemcached = "memcached"
	BackendRedis     = "redis"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string

	WeatherAPIKey     string
	WeatherAPIURL     string
	FeedURL           string
	WeatherAPITimeout time.Duration
	ValidateAPIKey    bool

	AppVersion     string
	RequestTimeout time.Duration

	CacheBackend  string
	AggregateTTL  time.Duration
	CityTTL       time.Duration
	ErrorCountTTL time.Duration
	MaxErrorCount int

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RedisURL      string
	RedisPassword string

	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RateLimitRPS     int
	RateLimitBurst   int
	FanoutLimit      int
	CoalesceEnabled  bool

	CircuitBreakerEnabled             bool
	CircuitBreakerConsecutiveFailures int
	CircuitBreakerTimeout             time.Duration
	CircuitBreakerMaxRequests         int
	CircuitBreakerInterval            time.Duration

	HealthWindow      time.Duration
	HealthDegradedPct int
	HealthOverloadPct int
	HealthMinSamples  int

	WarmingEnabled  bool
	WarmingInterval time.Duration

	DefaultCities []string

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL            string `yaml:"url"`
		FeedURL        string `yaml:"feed_url"`
		Timeout        string `yaml:"timeout"`
		ValidateAPIKey bool   `yaml:"validate_api_key"`
	} `yaml:"weather_api"`

	App struct {
		Version string `yaml:"version"`
	} `yaml:"app"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend        string `yaml:"backend"`
		WeatherDataTTL string `yaml:"weather_data_ttl"`
		CityDetailsTTL string `yaml:"city_details_ttl"`
		ErrorCountTTL  string `yaml:"error_count_ttl"`
		MaxErrorCount  int    `yaml:"max_error_count"`
		Memcached      struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Redis struct {
			URL string `yaml:"url"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RateLimitRPS     int    `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
		FanoutLimit      int    `yaml:"fanout_limit"`
		CoalesceEnabled  *bool  `yaml:"coalesce_enabled"`
		CircuitBreaker   struct {
			Enabled             bool   `yaml:"enabled"`
			ConsecutiveFailures int    `yaml:"consecutive_failures"`
			Timeout             string `yaml:"timeout"`
			MaxRequests         int    `yaml:"max_requests"`
			Interval            string `yaml:"interval"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Health struct {
		Window            string `yaml:"window"`
		DegradedErrorPct  int    `yaml:"degraded_error_pct"`
		OverloadDeniedPct int    `yaml:"overload_denied_pct"`
		MinSamples        int    `yaml:"min_samples"`
	} `yaml:"health"`

	Warming struct {
		Enabled  bool   `yaml:"enabled"`
		Interval string `yaml:"interval"`
	} `yaml:"warming"`

	Cities struct {
		Default []string `yaml:"default"`
	} `yaml:"cities"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"inflight_timeout"`
		InFlightCheckInterval string `yaml:"inflight_check_interval"`
	} `yaml:"shutdown"`
}

type secretsFile struct {
	WeatherAPIKey string `yaml:"weather_api_key"`
	RedisPassword string `yaml:"redis_password"`
}

var defaultCities = []string{"Budapest", "New York", "Tokyo", "San Francisco", "Hong Kong"}

// Load reads configuration from the working directory. See LoadFrom.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return LoadFrom(cwd)
}

// LoadFrom reads dir/.env (optional), then dir/config/{ENV_NAME}.yaml (default
// dev) and dir/config/secrets.yaml. Environment variables override file values.
func LoadFrom(dir string) (*Config, error) {
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}
	configPath := filepath.Join(dir, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	var sec secretsFile
	secretsData, err := os.ReadFile(filepath.Join(dir, "config", "secrets.yaml"))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(secretsData, &sec); err != nil {
			return nil, fmt.Errorf("parse secrets file: %w", err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("read secrets file: %w", err)
	}

	cfg := &Config{}
	cfg.ServerPort = firstNonEmpty(os.Getenv("PORT"), fc.Server.Port, "8080")

	cfg.WeatherAPIKey = firstNonEmpty(os.Getenv("WEATHER_API_KEY"), sec.WeatherAPIKey)
	if cfg.WeatherAPIKey == "" {
		return nil, fmt.Errorf("WEATHER_API_KEY required (set env or config/secrets.yaml weather_api_key)")
	}
	cfg.WeatherAPIURL = firstNonEmpty(os.Getenv("WEATHER_API_URL"), fc.WeatherAPI.URL, "https://api.openweathermap.org/data/2.5")
	cfg.FeedURL = firstNonEmpty(os.Getenv("WEATHER_FEED_URL"), fc.WeatherAPI.FeedURL)
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 10*time.Second)
	cfg.ValidateAPIKey = fc.WeatherAPI.ValidateAPIKey

	cfg.AppVersion = firstNonEmpty(os.Getenv("APP_VERSION"), fc.App.Version, "1.0.0")
	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 30*time.Second)

	cfg.CacheBackend = strings.ToLower(firstNonEmpty(os.Getenv("CACHE_BACKEND"), fc.Cache.Backend, BackendInMemory))
	cfg.AggregateTTL = parseDuration(fc.Cache.WeatherDataTTL, 5*time.Minute)
	cfg.CityTTL = parseDuration(fc.Cache.CityDetailsTTL, 30*time.Minute)
	cfg.ErrorCountTTL = parseDuration(fc.Cache.ErrorCountTTL, time.Hour)
	cfg.MaxErrorCount = positiveOr(fc.Cache.MaxErrorCount, 5)

	cfg.MemcachedAddrs = firstNonEmpty(os.Getenv("MEMCACHED_ADDRS"), fc.Cache.Memcached.Addrs, "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = positiveOr(fc.Cache.Memcached.MaxIdleConns, 2)
	cfg.RedisURL = firstNonEmpty(os.Getenv("REDIS_URL"), fc.Cache.Redis.URL, "redis://localhost:6379/0")
	cfg.RedisPassword = firstNonEmpty(os.Getenv("REDIS_PASSWORD"), sec.RedisPassword)

	cfg.RetryMaxAttempts = positiveOr(fc.Reliability.RetryMaxAttempts, 3)
	if v, ok := envInt("RETRY_MAX_ATTEMPTS"); ok && v > 0 {
		cfg.RetryMaxAttempts = v
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, time.Second)
	cfg.RateLimitRPS = positiveOr(fc.Reliability.RateLimitRPS, 100)
	cfg.RateLimitBurst = positiveOr(fc.Reliability.RateLimitBurst, 250)
	cfg.FanoutLimit = fc.Reliability.FanoutLimit
	cfg.CoalesceEnabled = true
	if fc.Reliability.CoalesceEnabled != nil {
		cfg.CoalesceEnabled = *fc.Reliability.CoalesceEnabled
	}
	cb := fc.Reliability.CircuitBreaker
	cfg.CircuitBreakerEnabled = cb.Enabled
	cfg.CircuitBreakerConsecutiveFailures = positiveOr(cb.ConsecutiveFailures, 5)
	cfg.CircuitBreakerTimeout = parseDuration(cb.Timeout, 30*time.Second)
	cfg.CircuitBreakerMaxRequests = positiveOr(cb.MaxRequests, 1)
	cfg.CircuitBreakerInterval = parseDurationOrZero(cb.Interval, 0)

	cfg.HealthWindow = parseDuration(fc.Health.Window, time.Minute)
	cfg.HealthDegradedPct = positiveOr(fc.Health.DegradedErrorPct, 50)
	cfg.HealthOverloadPct = positiveOr(fc.Health.OverloadDeniedPct, 80)
	cfg.HealthMinSamples = positiveOr(fc.Health.MinSamples, 10)

	cfg.WarmingEnabled = fc.Warming.Enabled
	cfg.WarmingInterval = parseDurationOrZero(fc.Warming.Interval, 0)

	cfg.DefaultCities = trimAll(fc.Cities.Default)
	if len(cfg.DefaultCities) == 0 {
		cfg.DefaultCities = append([]string(nil), defaultCities...)
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func positiveOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func envInt(name string) (int, bool) {
	s := strings.TrimSpace(os.Getenv(name))
	if s == "" {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	return v, err == nil
}

func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// parseDuration parses s, returning defaultVal when s is empty, malformed or not positive.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses s, returning defaultVal on empty string or parse error.
// Zero and negative durations are returned as-is.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate checks cross-field constraints and bumps RequestTimeout above the
// upstream timeout when needed.
func validate(cfg *Config) error {
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("weather_api.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.WeatherAPITimeout {
		cfg.RequestTimeout = cfg.WeatherAPITimeout + time.Second
	}
	switch cfg.CacheBackend {
	case BackendInMemory, BackendMemcached, BackendRedis:
	default:
		return fmt.Errorf("cache.backend must be in_memory, memcached or redis, got %q", cfg.CacheBackend)
	}
	if cfg.FanoutLimit < 0 {
		return fmt.Errorf("reliability.fanout_limit must not be negative")
	}
	if cfg.WarmingEnabled && cfg.WarmingInterval < 0 {
		return fmt.Errorf("warming.interval must not be negative")
	}
	return nil
}
