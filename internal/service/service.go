package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/weather-aggregator/internal/apperror"
	"github.com/kjstillabower/weather-aggregator/internal/cache"
	"github.com/kjstillabower/weather-aggregator/internal/client"
	"github.com/kjstillabower/weather-aggregator/internal/models"
	"github.com/kjstillabower/weather-aggregator/internal/observability"
	"github.com/kjstillabower/weather-aggregator/internal/retry"
	"github.com/kjstillabower/weather-aggregator/internal/validation"
)

// ErrCityNotFound is returned by LoadCityDetail when a successful load does
// not contain the requested city.
var ErrCityNotFound = errors.New("city not found")

const (
	maxCityLen              = 100
	defaultMaxSearchResults = 10
)

// DefaultCities is the batch loaded when callers name no cities.
var DefaultCities = []string{"Budapest", "New York", "Tokyo", "San Francisco", "Hong Kong"}

// Options tune a WeatherService. Zero values take defaults.
type Options struct {
	Policy           retry.Policy
	DefaultCities    []string
	FanoutLimit      int // 0 means unbounded
	Coalesce         bool
	MaxSearchResults int
	// Sleep waits between detail reload attempts; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// WeatherService combines the cache store and the fetch client: cache-aside
// single-city reads, partial-failure batch loads, search and the detail loader.
type WeatherService struct {
	client     client.WeatherClient
	store      *cache.Store
	ledger     *cache.ErrorLedger
	counter    *observability.Counter
	logger     *zap.Logger
	policy     retry.Policy
	defaults   []string
	fanout     int
	maxResults int
	coalescer  *requestCoalescer // nil if disabled
	stampede   *stampedeTracker
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewWeatherService wires the client, store and ledger. Nil ledger, counter
// and logger get defaults.
func NewWeatherService(c client.WeatherClient, store *cache.Store, ledger *cache.ErrorLedger, counter *observability.Counter, logger *zap.Logger, opts Options) *WeatherService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if counter == nil {
		counter = observability.NewCounter()
	}
	if ledger == nil {
		ledger = cache.NewErrorLedger(store, cache.DefaultMaxErrorCount, logger)
	}
	if len(opts.DefaultCities) == 0 {
		opts.DefaultCities = DefaultCities
	}
	if opts.MaxSearchResults <= 0 {
		opts.MaxSearchResults = defaultMaxSearchResults
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	s := &WeatherService{
		client:     c,
		store:      store,
		ledger:     ledger,
		counter:    counter,
		logger:     logger,
		policy:     opts.Policy.Normalize(),
		defaults:   append([]string(nil), opts.DefaultCities...),
		fanout:     opts.FanoutLimit,
		maxResults: opts.MaxSearchResults,
		sleep:      opts.Sleep,
		stampede:   newStampedeTracker(),
	}
	if opts.Coalesce {
		s.coalescer = newRequestCoalescer()
	}
	return s
}

func (s *WeatherService) Counter() *observability.Counter { return s.counter }

func (s *WeatherService) Ledger() *cache.ErrorLedger { return s.ledger }

// DefaultCities returns a copy of the configured batch.
func (s *WeatherService) DefaultCities() []string {
	return append([]string(nil), s.defaults...)
}

func (s *WeatherService) log(ctx context.Context) *zap.Logger {
	return observability.LoggerFromContext(ctx, s.logger)
}

// GetWeatherData returns one city's reading, from the per-city cache entry
// when valid, otherwise from upstream. A failed cache write after a successful
// fetch is logged and the reading is still returned.
func (s *WeatherService) GetWeatherData(ctx context.Context, city string) (models.CityWeather, error) {
	city, err := validation.ValidateCity(city, 1, maxCityLen)
	if err != nil {
		return models.CityWeather{}, err
	}
	logger := s.log(ctx).With(zap.String("city", city))
	key := cache.CityKey(city)
	observability.RecordWeatherQuery(city)

	cached, ok, err := cache.Get[models.CityWeather](ctx, s.store, key)
	if err != nil {
		return models.CityWeather{}, err
	}
	if ok {
		s.counter.IncCacheHits()
		logger.Debug("cache hit")
		return cached, nil
	}
	s.counter.IncCacheMisses()
	concurrent := s.stampede.RecordMiss(key)
	defer s.stampede.RecordDone(key)
	if concurrent > 1 {
		observability.CacheStampedeDetectedTotal.Inc()
		observability.CacheStampedeConcurrency.Observe(float64(concurrent))
		logger.Debug("cache miss, fetching upstream", zap.Int("concurrent_misses", concurrent))
	} else {
		logger.Debug("cache miss, fetching upstream")
	}

	fetch := func() (models.CityWeather, error) {
		return s.client.GetCityWeather(ctx, city)
	}
	var data models.CityWeather
	if s.coalescer != nil {
		data, err = s.coalescer.Do(key, fetch)
	} else {
		data, err = fetch()
	}
	if err != nil {
		return models.CityWeather{}, fmt.Errorf("fetch weather for %s: %w", city, err)
	}

	if err := s.store.Set(ctx, key, data); err != nil {
		observability.CacheWriteFailuresTotal.WithLabelValues("city").Inc()
		logger.Warn("cache set failed", zap.Error(err))
	}
	return data, nil
}

// GetMultipleCitiesWeather returns the aggregate entry when valid. Otherwise
// it fetches every city in parallel, keeps the ones that succeed in completion
// order with duplicates dropped, writes that list back and returns it. A batch
// where every city failed returns an empty list and no error. An empty cities
// slice means the configured defaults.
//
// There is a single aggregate entry, so while it is valid it is returned for
// any cities argument: a request for a different set within the aggregate TTL
// gets the cached batch. ClearCache or expiry is needed to load a new set.
func (s *WeatherService) GetMultipleCitiesWeather(ctx context.Context, cities []string) ([]models.CityWeather, error) {
	cached, ok, err := cache.Get[[]models.CityWeather](ctx, s.store, cache.AggregateKey)
	if err != nil {
		return nil, err
	}
	if ok {
		s.counter.IncCacheHits()
		return cached, nil
	}
	s.counter.IncCacheMisses()

	out, _ := s.loadBatch(ctx, cities)
	return out, nil
}

// loadBatch fans out one GetWeatherData per city and writes the aggregate key
// once after the join. The error is the first sub-fetch failure, reported only
// when no city succeeded.
func (s *WeatherService) loadBatch(ctx context.Context, cities []string) ([]models.CityWeather, error) {
	if len(cities) == 0 {
		cities = s.defaults
	}
	start := time.Now()
	logger := s.log(ctx)

	// Sub-fetches outlive the caller: abandoning a batch does not stop them.
	detached := context.WithoutCancel(ctx)

	var (
		mu       sync.Mutex
		results  = make([]models.CityWeather, 0, len(cities))
		firstErr error
		g        errgroup.Group
	)
	if s.fanout > 0 {
		g.SetLimit(s.fanout)
	}
	for _, city := range cities {
		city := city
		g.Go(func() error {
			w, err := s.GetWeatherData(detached, city)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				observability.BatchDroppedTotal.WithLabelValues(apperror.KindOf(err).String()).Inc()
				logger.Debug("dropping city from batch", zap.String("city", city), zap.Stringer("kind", apperror.KindOf(err)), zap.Error(err))
				if firstErr == nil {
					firstErr = err
				}
				return nil
			}
			results = append(results, w)
			return nil
		})
	}
	_ = g.Wait() // every task returns nil

	out := models.Dedupe(results)
	if err := s.store.Set(detached, cache.AggregateKey, out); err != nil {
		observability.CacheWriteFailuresTotal.WithLabelValues("aggregate").Inc()
		logger.Warn("cache set failed", zap.String("key", cache.AggregateKey), zap.Error(err))
	}
	s.counter.TrackLoadTime(time.Since(start))
	logger.Debug("batch loaded", zap.Int("requested", len(cities)), zap.Int("returned", len(out)), zap.Duration("duration", time.Since(start)))

	if len(out) == 0 && firstErr != nil {
		return out, firstErr
	}
	return out, nil
}

// SearchCities queries the find endpoint. Results are capped and never cached.
func (s *WeatherService) SearchCities(ctx context.Context, query string) ([]models.CityWeather, error) {
	query, err := validation.ValidateQuery(query, maxCityLen)
	if err != nil {
		return nil, err
	}
	out, err := s.client.Find(ctx, query)
	if err != nil {
		if apperror.Is(err, apperror.KindNetwork) {
			s.log(ctx).Warn("network error during city search", zap.String("query", query), zap.Error(err))
		}
		return nil, err
	}
	if len(out) > s.maxResults {
		out = out[:s.maxResults]
	}
	return out, nil
}

// ClearCache deletes the aggregate entry and every per-city entry. Safe to rerun.
func (s *WeatherService) ClearCache(ctx context.Context) error {
	if err := s.store.ClearWeather(ctx); err != nil {
		return err
	}
	s.log(ctx).Info("cache cleared")
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// normalizeCity trims surrounding whitespace; case is preserved in cache keys.
func normalizeCity(city string) string {
	return strings.TrimSpace(city)
}
