package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-aggregator/internal/models"
	"github.com/kjstillabower/weather-aggregator/internal/observability"
)

// CityFetcher is implemented by the service layer to fetch weather for one city.
// Used by Warmer to avoid a circular dependency on the service package.
type CityFetcher interface {
	GetWeatherData(ctx context.Context, city string) (models.CityWeather, error)
}

// Warmer populates per-city entries by prefetching a list of cities.
type Warmer struct {
	fetcher   CityFetcher
	logger    *zap.Logger
	timeout   time.Duration
	scheduler *gocron.Scheduler
}

// NewWarmer creates a Warmer. timeout bounds each run; zero means 30s.
func NewWarmer(fetcher CityFetcher, logger *zap.Logger, timeout time.Duration) *Warmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Warmer{fetcher: fetcher, logger: logger, timeout: timeout}
}

// Warm fetches each city concurrently through the fetcher, which writes the cache.
// Returns an error joining every city that failed.
func (w *Warmer) Warm(ctx context.Context, cities []string) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	w.logger.Info("warming cache", zap.Int("cities", len(cities)))

	var wg sync.WaitGroup
	errCh := make(chan error, len(cities))
	for _, city := range cities {
		city := city
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := w.fetcher.GetWeatherData(ctx, city); err != nil {
				errCh <- fmt.Errorf("warm %s: %w", city, err)
			}
		}()
	}
	wg.Wait()
	close(errCh)
	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}

	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	w.logger.Info("cache warming complete", zap.Int("cities", len(cities)), zap.Int("errors", len(errs)), zap.Float64("duration_seconds", duration))
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %w", errors.Join(errs...))
	}
	return nil
}

// Start runs Warm immediately and then every interval on a gocron scheduler.
// Call Stop during shutdown.
func (w *Warmer) Start(cities []string, interval time.Duration) error {
	if len(cities) == 0 {
		w.logger.Info("no cities configured; cache warming disabled")
		return nil
	}
	if interval <= 0 {
		interval = DefaultAggregateTTL
	}
	s := gocron.NewScheduler(time.UTC)
	_, err := s.Every(interval).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()
		if err := w.Warm(ctx, cities); err != nil {
			w.logger.Warn("periodic cache warm failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule cache warming: %w", err)
	}
	w.scheduler = s
	s.StartAsync()
	return nil
}

// Stop halts the scheduler. Safe to call when Start was never called.
func (w *Warmer) Stop() {
	if w.scheduler != nil {
		w.scheduler.Stop()
	}
}
