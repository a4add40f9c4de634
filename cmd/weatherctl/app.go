package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-aggregator/internal/cache"
	"github.com/kjstillabower/weather-aggregator/internal/client"
	"github.com/kjstillabower/weather-aggregator/internal/config"
	"github.com/kjstillabower/weather-aggregator/internal/observability"
	"github.com/kjstillabower/weather-aggregator/internal/retry"
	"github.com/kjstillabower/weather-aggregator/internal/service"
)

// app builds the service on first use so commands that need no upstream
// (convert) work without config.
type app struct {
	configDir string
	verbose   bool

	build   func(a *app) (*service.WeatherService, error)
	svc     *service.WeatherService
	closeFn func() error
}

func newApp() *app {
	return &app{build: buildService}
}

func (a *app) service() (*service.WeatherService, error) {
	if a.svc != nil {
		return a.svc, nil
	}
	svc, err := a.build(a)
	if err != nil {
		return nil, err
	}
	a.svc = svc
	return svc, nil
}

func (a *app) close() error {
	if a.closeFn != nil {
		return a.closeFn()
	}
	return nil
}

func buildService(a *app) (*service.WeatherService, error) {
	var (
		cfg *config.Config
		err error
	)
	if a.configDir != "" {
		cfg, err = config.LoadFrom(a.configDir)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	logger := zap.NewNop()
	if a.verbose {
		if logger, err = observability.NewLogger(); err != nil {
			return nil, err
		}
	}

	ttls := cache.TTLs{Aggregate: cfg.AggregateTTL, City: cfg.CityTTL, ErrorCount: cfg.ErrorCountTTL}
	var backend cache.Backend
	switch cfg.CacheBackend {
	case config.BackendMemcached:
		mc := cache.NewMemcachedBackend(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns, ttls.Longest())
		backend, a.closeFn = mc, mc.Close
	case config.BackendRedis:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rb, err := cache.NewRedisBackend(ctx, cfg.RedisURL, cfg.RedisPassword, ttls.Longest())
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		backend, a.closeFn = rb, rb.Close
	default:
		backend = cache.NewMemoryBackend()
	}

	store := cache.NewStore(backend, cfg.AppVersion, ttls)
	counter := observability.NewCounter()
	policy := retry.Policy{MaxRetries: cfg.RetryMaxAttempts, BaseDelay: cfg.RetryBaseDelay}
	c, err := client.New(cfg.WeatherAPIKey, cfg.WeatherAPIURL, client.Options{
		Timeout: cfg.WeatherAPITimeout,
		Policy:  policy,
		Counter: counter,
	})
	if err != nil {
		return nil, err
	}
	return service.NewWeatherService(c, store, cache.NewErrorLedger(store, cfg.MaxErrorCount, logger), counter, logger, service.Options{
		Policy:        policy,
		DefaultCities: cfg.DefaultCities,
		FanoutLimit:   cfg.FanoutLimit,
		Coalesce:      cfg.CoalesceEnabled,
	}), nil
}
