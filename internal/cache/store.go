// Package cache stores JSON values under string keys with family-specific
// expiry and an application version stamp.
package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/kjstillabower/weather-aggregator/internal/apperror"
	"github.com/kjstillabower/weather-aggregator/internal/observability"
)

const (
	// AggregateKey holds the deduplicated batch result.
	AggregateKey = "weather_data"
	// CityPrefix prefixes per-city entries.
	CityPrefix = "city_"
	// ErrorCountKey holds the error ledger.
	ErrorCountKey = "error_count"
	// LastFetchKey is reserved for the time of the last batch fetch.
	LastFetchKey = "last_fetch"

	// weatherPrefix covers AggregateKey and any future weather_* keys on Clear.
	weatherPrefix = "weather_"
)

// CityKey returns the per-city key for name.
func CityKey(name string) string {
	return CityPrefix + name
}

const (
	DefaultAggregateTTL  = 5 * time.Minute
	DefaultCityTTL       = 30 * time.Minute
	DefaultErrorCountTTL = time.Hour
)

// TTLs are the per-family expiry windows. Zero fields take defaults.
type TTLs struct {
	Aggregate  time.Duration
	City       time.Duration
	ErrorCount time.Duration
}

func (t TTLs) withDefaults() TTLs {
	if t.Aggregate <= 0 {
		t.Aggregate = DefaultAggregateTTL
	}
	if t.City <= 0 {
		t.City = DefaultCityTTL
	}
	if t.ErrorCount <= 0 {
		t.ErrorCount = DefaultErrorCountTTL
	}
	return t
}

// Longest returns the largest family TTL, used as the backend safety expiration.
func (t TTLs) Longest() time.Duration {
	t = t.withDefaults()
	m := t.Aggregate
	if t.City > m {
		m = t.City
	}
	if t.ErrorCount > m {
		m = t.ErrorCount
	}
	return m
}

// Entry is the stored envelope. Timestamp is epoch milliseconds.
type Entry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	Version   string          `json:"version"`
}

// Store is the only reader and writer of cache entries.
type Store struct {
	backend Backend
	version string
	ttls    TTLs
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore returns a Store over backend. Entries written with a different
// version are treated as absent.
func NewStore(backend Backend, version string, ttls TTLs, opts ...Option) *Store {
	s := &Store{backend: backend, version: version, ttls: ttls.withDefaults(), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Version returns the stamp written into and required of every entry.
func (s *Store) Version() string { return s.version }

// Family names the key family used in metrics: aggregate, city or ledger.
func Family(key string) string {
	switch {
	case key == ErrorCountKey:
		return "ledger"
	case strings.HasPrefix(key, CityPrefix):
		return "city"
	default:
		return "aggregate"
	}
}

// TTL returns the expiry window for key. Unknown keys use the aggregate TTL.
func (s *Store) TTL(key string) time.Duration {
	switch Family(key) {
	case "ledger":
		return s.ttls.ErrorCount
	case "city":
		return s.ttls.City
	default:
		return s.ttls.Aggregate
	}
}

// Get reads key into a T. Absent, expired and version-mismatched entries
// report false; the latter two are deleted first. Backend and decode failures
// are Cache errors.
func Get[T any](ctx context.Context, s *Store, key string) (T, bool, error) {
	var zero T
	raw, ok, err := s.read(ctx, key)
	if err != nil || !ok {
		return zero, false, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		observability.CacheReadsTotal.WithLabelValues(Family(key), "error").Inc()
		return zero, false, apperror.Cache("Failed to read from cache", err)
	}
	observability.CacheReadsTotal.WithLabelValues(Family(key), "hit").Inc()
	return v, true, nil
}

func (s *Store) read(ctx context.Context, key string) (json.RawMessage, bool, error) {
	family := Family(key)
	b, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		observability.CacheReadsTotal.WithLabelValues(family, "error").Inc()
		return nil, false, apperror.Cache("Failed to read from cache", err)
	}
	if !ok {
		observability.CacheReadsTotal.WithLabelValues(family, "miss").Inc()
		return nil, false, nil
	}
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		observability.CacheReadsTotal.WithLabelValues(family, "error").Inc()
		return nil, false, apperror.Cache("Failed to read from cache", err)
	}

	result := ""
	switch {
	case s.now().UnixMilli()-e.Timestamp > s.TTL(key).Milliseconds():
		result = "expired"
	case e.Version != s.version:
		result = "stale_version"
	}
	if result != "" {
		observability.CacheReadsTotal.WithLabelValues(family, result).Inc()
		if err := s.backend.Delete(ctx, key); err != nil {
			return nil, false, apperror.Cache("Failed to read from cache", err)
		}
		return nil, false, nil
	}
	return e.Data, true, nil
}

// Set stamps value with the current time and version and writes it.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return apperror.Cache("Failed to write to cache", err)
	}
	b, err := json.Marshal(Entry{Data: data, Timestamp: s.now().UnixMilli(), Version: s.version})
	if err != nil {
		return apperror.Cache("Failed to write to cache", err)
	}
	if err := s.backend.Set(ctx, key, b); err != nil {
		return apperror.Cache("Failed to write to cache", err)
	}
	return nil
}

// Delete removes key. A missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.backend.Delete(ctx, key); err != nil {
		return apperror.Cache("Failed to clear cache", err)
	}
	return nil
}

// Clear deletes every listed key and every key under each prefix. It stops at
// the first failure; keys already deleted stay deleted, so a rerun finishes the job.
func (s *Store) Clear(ctx context.Context, keys []string, prefixes []string) error {
	for _, k := range keys {
		if err := s.Delete(ctx, k); err != nil {
			return err
		}
	}
	for _, p := range prefixes {
		found, err := s.backend.Keys(ctx, p)
		if err != nil {
			return apperror.Cache("Failed to clear cache", err)
		}
		for _, k := range found {
			if err := s.Delete(ctx, k); err != nil {
				return err
			}
		}
	}
	return nil
}

// ClearWeather removes the aggregate entry and every per-city entry.
func (s *Store) ClearWeather(ctx context.Context) error {
	return s.Clear(ctx, []string{AggregateKey}, []string{weatherPrefix, CityPrefix})
}
