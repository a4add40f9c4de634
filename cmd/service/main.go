package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-aggregator/internal/cache"
	"github.com/kjstillabower/weather-aggregator/internal/client"
	"github.com/kjstillabower/weather-aggregator/internal/config"
	httphandler "github.com/kjstillabower/weather-aggregator/internal/http"
	"github.com/kjstillabower/weather-aggregator/internal/lifecycle"
	"github.com/kjstillabower/weather-aggregator/internal/observability"
	"github.com/kjstillabower/weather-aggregator/internal/retry"
	"github.com/kjstillabower/weather-aggregator/internal/service"
	"github.com/kjstillabower/weather-aggregator/internal/traffic"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = observability.Flush(logger) }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	counter := observability.NewCounter()
	observability.RegisterCounter(counter)
	observability.SetTrackedCities(cfg.DefaultCities)

	backend, cachePing, closeBackend, err := openBackend(cfg, logger)
	if err != nil {
		logger.Fatal("cache backend", zap.Error(err))
	}
	ttls := cache.TTLs{Aggregate: cfg.AggregateTTL, City: cfg.CityTTL, ErrorCount: cfg.ErrorCountTTL}
	store := cache.NewStore(backend, cfg.AppVersion, ttls)
	ledger := cache.NewErrorLedger(store, cfg.MaxErrorCount, logger)

	policy := retry.Policy{MaxRetries: cfg.RetryMaxAttempts, BaseDelay: cfg.RetryBaseDelay}
	clientOpts := client.Options{
		Timeout: cfg.WeatherAPITimeout,
		Policy:  policy,
		Counter: counter,
		OnRetry: func(a client.Attempt) {
			logger.Debug("retrying upstream request",
				zap.Int("attempt", a.Number), zap.Duration("delay", a.NextDelay), zap.Error(a.LastErr))
		},
	}
	if cfg.CircuitBreakerEnabled {
		clientOpts.Breaker = client.NewBreaker("weather_api", client.BreakerSettings{
			MaxRequests:         uint32(cfg.CircuitBreakerMaxRequests),
			Interval:            cfg.CircuitBreakerInterval,
			Timeout:             cfg.CircuitBreakerTimeout,
			ConsecutiveFailures: uint32(cfg.CircuitBreakerConsecutiveFailures),
		})
		logger.Info("circuit breaker enabled",
			zap.Int("consecutive_failures", cfg.CircuitBreakerConsecutiveFailures),
			zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}
	weatherClient, err := client.New(cfg.WeatherAPIKey, cfg.WeatherAPIURL, clientOpts)
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}
	if cfg.ValidateAPIKey {
		if err := weatherClient.ValidateAPIKey(context.Background()); err != nil {
			logger.Fatal("api key validation", zap.Error(err))
		}
	}

	weatherService := service.NewWeatherService(weatherClient, store, ledger, counter, logger, service.Options{
		Policy:        policy,
		DefaultCities: cfg.DefaultCities,
		FanoutLimit:   cfg.FanoutLimit,
		Coalesce:      cfg.CoalesceEnabled,
	})

	var warmer *cache.Warmer
	if cfg.WarmingEnabled {
		warmer = cache.NewWarmer(weatherService, logger, cfg.RequestTimeout)
		if err := warmer.Start(cfg.DefaultCities, cfg.WarmingInterval); err != nil {
			logger.Warn("cache warming not started", zap.Error(err))
		}
	}

	outcomes := traffic.NewTracker(0)
	drain := &lifecycle.Drain{}
	health := &httphandler.HealthConfig{
		Version:            cfg.AppVersion,
		Window:             cfg.HealthWindow,
		DegradedFailurePct: cfg.HealthDegradedPct,
		OverloadDeniedPct:  cfg.HealthOverloadPct,
		MinSamples:         cfg.HealthMinSamples,
		CachePing:          cachePing,
		StartTime:          time.Now(),
	}
	if cfg.ValidateAPIKey {
		health.APIKey = weatherClient
	}
	handler := httphandler.NewHandler(weatherService, health, outcomes, drain, logger)

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	inFlight := &httphandler.InFlightTracker{}

	router := mux.NewRouter()
	router.Use(httphandler.CorrelationIDMiddleware(logger))
	router.Use(httphandler.MetricsMiddleware(inFlight))
	router.Use(httphandler.RateLimitMiddleware(limiter, outcomes))
	handler.Routes(router, httphandler.NewProxy(cfg.FeedURL, nil, logger), cfg.RequestTimeout)

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("cache_backend", cfg.CacheBackend),
			zap.String("version", cfg.AppVersion))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	drain.Begin()
	if warmer != nil {
		warmer.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight.Count()))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := inFlight.WaitForZero(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", inFlight.Count()))
	}

	if closeBackend != nil {
		if err := closeBackend(); err != nil {
			logger.Error("cache backend close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}

// openBackend builds the configured cache backend. The ping and close funcs
// are nil for the in-memory backend.
func openBackend(cfg *config.Config, logger *zap.Logger) (cache.Backend, func(context.Context) error, func() error, error) {
	safetyTTL := cache.TTLs{Aggregate: cfg.AggregateTTL, City: cfg.CityTTL, ErrorCount: cfg.ErrorCountTTL}.Longest()
	switch cfg.CacheBackend {
	case config.BackendMemcached:
		mc := cache.NewMemcachedBackend(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns, safetyTTL)
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
		return mc, func(context.Context) error { return mc.Ping() }, mc.Close, nil
	case config.BackendRedis:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rb, err := cache.NewRedisBackend(ctx, cfg.RedisURL, cfg.RedisPassword, safetyTTL)
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info("cache backend: redis")
		return rb, rb.Ping, rb.Close, nil
	default:
		logger.Info("cache backend: in_memory")
		return cache.NewMemoryBackend(), nil, nil, nil
	}
}
