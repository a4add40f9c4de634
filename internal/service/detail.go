package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-aggregator/internal/apperror"
	"github.com/kjstillabower/weather-aggregator/internal/cache"
	"github.com/kjstillabower/weather-aggregator/internal/models"
	"github.com/kjstillabower/weather-aggregator/internal/observability"
	"github.com/kjstillabower/weather-aggregator/internal/retry"
)

// CityDetail is one city's reading with its conversions. On failure only the
// retry and ledger fields are meaningful.
type CityDetail struct {
	Weather      models.CityWeather  `json:"weather"`
	Temperatures models.Temperatures `json:"temperatures"`
	ObservedAt   time.Time           `json:"observedAt"`
	FromCache    bool                `json:"fromCache"`
	Retries      int                 `json:"retries"`
	ErrorCount   int                 `json:"errorCount"`
	// HardReset is set when the error ledger reached its threshold. Callers
	// should drop local state and start over; nothing here enforces it.
	HardReset bool `json:"hardReset"`
}

// LoadCityDetail looks name up in the aggregate entry, matching with
// whitespace removed. On a miss it reloads the default batch up to
// MaxRetries times, waiting BaseDelay*attempt between tries and stopping
// early on errors that will not improve. Success resets the error ledger;
// failure increments it.
func (s *WeatherService) LoadCityDetail(ctx context.Context, name string) (CityDetail, error) {
	logger := s.log(ctx).With(zap.String("city", name))
	name = normalizeCity(name)

	list, ok, err := cache.Get[[]models.CityWeather](ctx, s.store, cache.AggregateKey)
	if err == nil && ok {
		if w, found := models.FindCity(list, name); found {
			s.ledger.Reset(ctx)
			d, err := buildDetail(w)
			d.FromCache = true
			return d, err
		}
	}

	retries := 0
	if err == nil {
		for attempt := 1; attempt <= s.policy.MaxRetries; attempt++ {
			list, err = s.loadBatch(ctx, s.defaults)
			if err == nil {
				break
			}
			if !retry.IsRetryable(err) || attempt == s.policy.MaxRetries {
				break
			}
			retries = attempt
			delay := retry.Linear(attempt, s.policy.BaseDelay)
			logger.Debug("reloading batch", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
			if serr := s.sleep(ctx, delay); serr != nil {
				break
			}
		}
	}

	if err != nil {
		count := s.ledger.Increment(ctx)
		d := CityDetail{Retries: retries, ErrorCount: count, HardReset: s.ledger.ExceedsThreshold(count)}
		if d.HardReset {
			observability.HardResetsTotal.Inc()
			logger.Warn("error threshold reached, hard reset advised", zap.Int("error_count", count))
		}
		return d, fmt.Errorf("load detail for %s: %w", name, err)
	}

	s.ledger.Reset(ctx)
	w, found := models.FindCity(list, name)
	if !found {
		return CityDetail{Retries: retries}, fmt.Errorf("%w: %s", ErrCityNotFound, name)
	}
	d, err := buildDetail(w)
	d.Retries = retries
	return d, err
}

func buildDetail(w models.CityWeather) (CityDetail, error) {
	temps, err := w.Temperatures()
	if err != nil {
		return CityDetail{}, apperror.Validation("temp", err.Error())
	}
	at, err := w.ObservedAt()
	if err != nil {
		return CityDetail{}, apperror.Validation("date", err.Error())
	}
	return CityDetail{Weather: w, Temperatures: temps, ObservedAt: at}, nil
}
