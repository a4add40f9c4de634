package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kjstillabower/weather-aggregator/internal/models"
)

type mockCityFetcher struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (m *mockCityFetcher) GetWeatherData(ctx context.Context, city string) (models.CityWeather, error) {
	m.mu.Lock()
	m.calls = append(m.calls, city)
	m.mu.Unlock()
	if m.err != nil {
		return models.CityWeather{}, m.err
	}
	return sample(city), nil
}

func (m *mockCityFetcher) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func TestWarmer_Warm_Success(t *testing.T) {
	fetcher := &mockCityFetcher{}
	warmer := NewWarmer(fetcher, nil, 0)

	if err := warmer.Warm(context.Background(), []string{"Tokyo", "Budapest"}); err != nil {
		t.Fatalf("Warm() error = %v, want nil", err)
	}
	if fetcher.callCount() != 2 {
		t.Errorf("fetcher called %d times, want 2", fetcher.callCount())
	}
}

func TestWarmer_Warm_EmptyCities(t *testing.T) {
	warmer := NewWarmer(&mockCityFetcher{}, nil, 0)
	if err := warmer.Warm(context.Background(), nil); err != nil {
		t.Fatalf("Warm() with nil cities error = %v, want nil", err)
	}
}

func TestWarmer_Warm_FetcherError(t *testing.T) {
	boom := errors.New("api down")
	warmer := NewWarmer(&mockCityFetcher{err: boom}, nil, 0)

	err := warmer.Warm(context.Background(), []string{"Tokyo"})
	if err == nil {
		t.Fatal("Warm() error = nil, want non-nil")
	}
	if !errors.Is(err, boom) || !strings.Contains(err.Error(), "warm Tokyo") {
		t.Errorf("Warm() error = %q, want wrapped failure naming the city", err)
	}
}

func TestWarmer_StartRunsImmediately(t *testing.T) {
	fetcher := &mockCityFetcher{}
	warmer := NewWarmer(fetcher, nil, time.Second)
	if err := warmer.Start([]string{"Tokyo"}, time.Hour); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer warmer.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for fetcher.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if fetcher.callCount() == 0 {
		t.Error("expected an immediate warm run after Start")
	}
}

func TestWarmer_StartWithoutCitiesIsNoop(t *testing.T) {
	warmer := NewWarmer(&mockCityFetcher{}, nil, 0)
	if err := warmer.Start(nil, time.Minute); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	warmer.Stop()
}
