package service

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjstillabower/weather-aggregator/internal/models"
)

func TestRequestCoalescer_SharesInFlightCall(t *testing.T) {
	c := newRequestCoalescer()
	var calls int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	results := make([]models.CityWeather, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w, err := c.Do("city_Tokyo", func() (models.CityWeather, error) {
				atomic.AddInt32(&calls, 1)
				<-release
				return reading("Tokyo"), nil
			})
			if err != nil {
				t.Errorf("Do() error = %v", err)
			}
			results[i] = w
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("fn calls = %d, want 1", n)
	}
	for i, w := range results {
		if w.City.Name != "Tokyo" {
			t.Errorf("results[%d] = %q, want Tokyo", i, w.City.Name)
		}
	}
}

func TestRequestCoalescer_SharesError(t *testing.T) {
	c := newRequestCoalescer()
	want := errors.New("upstream down")
	_, err := c.Do("city_Tokyo", func() (models.CityWeather, error) {
		return models.CityWeather{}, want
	})
	if !errors.Is(err, want) {
		t.Errorf("Do() error = %v, want %v", err, want)
	}
}

func TestRequestCoalescer_DistinctKeys(t *testing.T) {
	c := newRequestCoalescer()
	var calls int32
	fn := func() (models.CityWeather, error) {
		atomic.AddInt32(&calls, 1)
		return reading("x"), nil
	}
	_, _ = c.Do("city_A", fn)
	_, _ = c.Do("city_B", fn)
	if calls != 2 {
		t.Errorf("fn calls = %d, want 2", calls)
	}
}
