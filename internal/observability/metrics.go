package observability

import (
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation.
	HTTPRequestsInFlight prometheus.Gauge

	// Upstream weather API calls by outcome label (see client.CategorizeError).
	UpstreamCallsTotal *prometheus.CounterVec

	// Upstream latency per attempt. Watch for: p95 > 2s, p99 near the client timeout.
	UpstreamDuration *prometheus.HistogramVec

	// Retry attempts scheduled by the fetch client. High values mean an unstable upstream.
	UpstreamRetriesTotal prometheus.Counter

	// Cache reads by family (aggregate, city, ledger) and result (hit, miss, expired, stale_version, error).
	CacheReadsTotal *prometheus.CounterVec

	// Best-effort cache writes that failed and were swallowed.
	CacheWriteFailuresTotal *prometheus.CounterVec

	// Per-city sub-fetches dropped from a batch, by error kind.
	BatchDroppedTotal *prometheus.CounterVec

	// Total weather lookups.
	WeatherQueriesTotal prometheus.Counter

	// Per-city query count (allow-list; others go to "other").
	WeatherQueriesByCityTotal *prometheus.CounterVec

	// Detail loads that crossed the error ledger threshold.
	HardResetsTotal prometheus.Counter

	// Rate limit denials.
	RateLimitDeniedTotal prometheus.Counter

	// Per-city fetches that shared another caller's in-flight upstream call.
	CoalescedRequestsTotal prometheus.Counter

	// Per-city cache misses that found another miss for the same city already
	// in progress, and the concurrent miss count seen at that moment.
	CacheStampedeDetectedTotal prometheus.Counter
	CacheStampedeConcurrency   prometheus.Histogram

	// Cache warming runs, failed runs, and duration.
	CacheWarmingTotal           prometheus.Counter
	CacheWarmingErrorsTotal     prometheus.Counter
	CacheWarmingDurationSeconds prometheus.Histogram

	trackedCitiesMu sync.RWMutex
	trackedCities   map[string]struct{}

	counterOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	UpstreamCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamCallsTotal",
			Help: "Total number of upstream weather API calls",
		},
		[]string{"endpoint", "status"},
	)
	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstreamDurationSeconds",
			Help:    "Upstream weather API latency in seconds (per attempt)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint", "status"},
	)
	UpstreamRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "upstreamRetriesTotal",
			Help: "Total number of retry attempts for upstream calls",
		},
	)
	CacheReadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheReadsTotal",
			Help: "Cache reads by key family and result",
		},
		[]string{"family", "result"},
	)
	CacheWriteFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheWriteFailuresTotal",
			Help: "Cache writes that failed after a successful fetch",
		},
		[]string{"family"},
	)
	BatchDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchDroppedTotal",
			Help: "Per-city fetches dropped from a batch result",
		},
		[]string{"kind"},
	)
	WeatherQueriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weatherQueriesTotal",
			Help: "Total number of weather lookups",
		},
	)
	WeatherQueriesByCityTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherQueriesByCityTotal",
			Help: "Weather queries by city (allow-list; others use city=other)",
		},
		[]string{"city"},
	)
	HardResetsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hardResetsTotal",
			Help: "Detail loads that reported a hard reset",
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	CoalescedRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coalescedRequestsTotal",
			Help: "Per-city fetches served by another caller's in-flight upstream call",
		},
	)
	CacheStampedeDetectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheStampedeDetectedTotal",
			Help: "Per-city cache misses that overlapped another in-progress miss for the same city",
		},
	)
	CacheStampedeConcurrency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheStampedeConcurrency",
			Help:    "Concurrent misses for one city when a stampede is detected",
			Buckets: []float64{2, 3, 5, 10, 20, 50},
		},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Total number of cache warming runs",
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Cache warming runs with at least one failed city",
		},
	)
	CacheWarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Cache warming run duration in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30},
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		UpstreamCallsTotal, UpstreamDuration, UpstreamRetriesTotal,
		CacheReadsTotal, CacheWriteFailuresTotal, BatchDroppedTotal,
		WeatherQueriesTotal, WeatherQueriesByCityTotal,
		HardResetsTotal, RateLimitDeniedTotal, CoalescedRequestsTotal,
		CacheStampedeDetectedTotal, CacheStampedeConcurrency,
		CacheWarmingTotal, CacheWarmingErrorsTotal, CacheWarmingDurationSeconds,
	)
}

// RegisterCounter exposes c on /metrics. Only the first call registers;
// later calls are ignored so tests can build their own Counters freely.
func RegisterCounter(c *Counter) {
	counterOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewCounterFunc(
				prometheus.CounterOpts{
					Name: "counterNetworkRequests",
					Help: "Upstream requests issued, including retries",
				},
				func() float64 { return float64(c.Snapshot().NetworkRequests) },
			),
			prometheus.NewCounterFunc(
				prometheus.CounterOpts{
					Name: "counterCacheHits",
					Help: "Cache-aware reads served from cache",
				},
				func() float64 { return float64(c.Snapshot().CacheHits) },
			),
			prometheus.NewCounterFunc(
				prometheus.CounterOpts{
					Name: "counterCacheMisses",
					Help: "Cache-aware reads that went upstream",
				},
				func() float64 { return float64(c.Snapshot().CacheMisses) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "counterLoadTimeSeconds",
					Help: "Duration of the last full batch load",
				},
				func() float64 { return c.Snapshot().LoadTime.Seconds() },
			),
		)
	})
}

// SetTrackedCities sets the allow-list for city metrics. Non-tracked cities increment "other".
func SetTrackedCities(cities []string) {
	trackedCitiesMu.Lock()
	defer trackedCitiesMu.Unlock()
	trackedCities = make(map[string]struct{}, len(cities))
	for _, c := range cities {
		trackedCities[normalizeCityForMetrics(c)] = struct{}{}
	}
}

// RecordWeatherQuery records a weather query for the given city.
func RecordWeatherQuery(city string) {
	WeatherQueriesTotal.Inc()
	c := normalizeCityForMetrics(city)
	trackedCitiesMu.RLock()
	_, ok := trackedCities[c] // nil map read is safe in Go
	trackedCitiesMu.RUnlock()
	if ok {
		WeatherQueriesByCityTotal.WithLabelValues(c).Inc()
	} else {
		WeatherQueriesByCityTotal.WithLabelValues("other").Inc()
	}
}

func normalizeCityForMetrics(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
