package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// TestMetrics_Usable verifies that label dimensions match usage across the
// client, http, service, and cache packages.
func TestMetrics_Usable(t *testing.T) {
	// Route uses path template to avoid cardinality (e.g. /weather/{city} not /weather/tokyo)
	HTTPRequestsTotal.WithLabelValues("GET", "/weather/{city}", "2xx").Inc()
	HTTPRequestDuration.WithLabelValues("GET", "/weather/{city}").Observe(0.01)
	UpstreamCallsTotal.WithLabelValues("weather", "success").Inc()
	UpstreamDuration.WithLabelValues("find", "server_error").Observe(0.1)
	CacheReadsTotal.WithLabelValues("city", "hit").Inc()
	CacheWriteFailuresTotal.WithLabelValues("aggregate").Inc()
	BatchDroppedTotal.WithLabelValues("network").Inc()
	WeatherQueriesByCityTotal.WithLabelValues("other").Inc()
	HardResetsTotal.Inc()
}

func TestSetTrackedCities_and_RecordWeatherQuery(t *testing.T) {
	SetTrackedCities([]string{"tokyo", "budapest"})
	RecordWeatherQuery("Tokyo")
	RecordWeatherQuery("unknown-city")
	SetTrackedCities(nil) // reset for other tests
}

func TestRegisterCounter_ExposedOnHandler(t *testing.T) {
	c := NewCounter()
	RegisterCounter(c)
	RegisterCounter(NewCounter()) // second call is a no-op
	c.IncCacheHits()

	w := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	if !strings.Contains(w.Body.String(), "counterCacheHits 1") {
		t.Error("expected counterCacheHits 1 in metrics output")
	}
}

// TestMetricsHandler_ServesPrometheusFormat verifies that MetricsHandler serves
// Prometheus text exposition format with correct HTTP status and metric output.
func TestMetricsHandler_ServesPrometheusFormat(t *testing.T) {
	handler := MetricsHandler()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("MetricsHandler status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "httpRequestsTotal") {
		t.Error("MetricsHandler response should contain metric output")
	}
}
