package observability

import (
	"sync"
	"testing"
	"time"
)

func TestCounter_IncrementsAndReset(t *testing.T) {
	c := NewCounter()
	c.IncNetworkRequests()
	c.IncNetworkRequests()
	c.IncCacheHits()
	c.IncCacheMisses()
	c.TrackLoadTime(250 * time.Millisecond)

	s := c.Snapshot()
	if s.NetworkRequests != 2 || s.CacheHits != 1 || s.CacheMisses != 1 {
		t.Errorf("Snapshot() = %+v, want 2/1/1", s)
	}
	if s.LoadTime != 250*time.Millisecond {
		t.Errorf("LoadTime = %v, want 250ms", s.LoadTime)
	}

	c.Reset()
	if got := c.Snapshot(); got != (CounterSnapshot{}) {
		t.Errorf("after Reset Snapshot() = %+v, want zero", got)
	}
}

func TestCounter_TrackRenderTime(t *testing.T) {
	c := NewCounter()
	c.TrackRenderTime("detail", time.Now().Add(-time.Second))
	if got := c.Snapshot().RenderTime; got < time.Second {
		t.Errorf("RenderTime = %v, want >= 1s", got)
	}
	if got := c.Snapshot().RenderComponent; got != "detail" {
		t.Errorf("RenderComponent = %q, want detail", got)
	}
}

func TestCounter_ConcurrentIncrements(t *testing.T) {
	c := NewCounter()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.IncNetworkRequests()
			c.IncCacheHits()
		}()
	}
	wg.Wait()
	s := c.Snapshot()
	if s.NetworkRequests != 50 || s.CacheHits != 50 {
		t.Errorf("Snapshot() = %+v, want 50/50", s)
	}
}
