package service

import (
	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/weather-aggregator/internal/models"
	"github.com/kjstillabower/weather-aggregator/internal/observability"
)

// requestCoalescer shares one upstream call among concurrent misses for the same key.
type requestCoalescer struct {
	group singleflight.Group
}

func newRequestCoalescer() *requestCoalescer {
	return &requestCoalescer{}
}

// Do runs fn once per key at a time. Callers that arrive while fn is running
// receive its result.
func (rc *requestCoalescer) Do(key string, fn func() (models.CityWeather, error)) (models.CityWeather, error) {
	v, err, shared := rc.group.Do(key, func() (interface{}, error) {
		return fn()
	})
	if shared {
		observability.CoalescedRequestsTotal.Inc()
	}
	if err != nil {
		return models.CityWeather{}, err
	}
	return v.(models.CityWeather), nil
}
