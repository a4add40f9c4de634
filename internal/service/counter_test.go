package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjstillabower/weather-aggregator/internal/cache"
	"github.com/kjstillabower/weather-aggregator/internal/client"
	"github.com/kjstillabower/weather-aggregator/internal/observability"
	"github.com/kjstillabower/weather-aggregator/internal/retry"
)

// TestGetWeatherData_CountersOnFirstFetch runs the real fetch client against
// an httptest upstream with one Counter shared by client and service.
func TestGetWeatherData_CountersOnFirstFetch(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(reading(r.URL.Query().Get("q")))
	}))
	defer server.Close()

	counter := observability.NewCounter()
	c, err := client.New("test-key", server.URL, client.Options{
		Timeout: 2 * time.Second,
		Policy:  retry.Policy{MaxRetries: 3, BaseDelay: time.Millisecond},
		Counter: counter,
	})
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	store := cache.NewStore(cache.NewMemoryBackend(), "test", cache.TTLs{})
	svc := NewWeatherService(c, store, nil, counter, nil, Options{})
	ctx := context.Background()

	got, err := svc.GetWeatherData(ctx, "Tokyo")
	if err != nil {
		t.Fatalf("GetWeatherData() error = %v", err)
	}
	if got.City.Name != "Tokyo" {
		t.Errorf("City = %q, want Tokyo", got.City.Name)
	}
	s := counter.Snapshot()
	if s.NetworkRequests != 1 || s.CacheMisses != 1 || s.CacheHits != 0 {
		t.Errorf("after first fetch counter = %+v, want 1 network request, 1 miss, 0 hits", s)
	}

	if _, err := svc.GetWeatherData(ctx, "Tokyo"); err != nil {
		t.Fatalf("second GetWeatherData() error = %v", err)
	}
	s = counter.Snapshot()
	if s.NetworkRequests != 1 || s.CacheMisses != 1 || s.CacheHits != 1 {
		t.Errorf("after cached read counter = %+v, want 1 network request, 1 miss, 1 hit", s)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("upstream hits = %d, want 1", n)
	}
}
