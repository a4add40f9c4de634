package observability

import (
	"sync/atomic"
	"time"
)

// Counter tracks fetch and cache activity for one process. Construct one in
// main and pass it to the client and service; tests build their own.
type Counter struct {
	networkRequests atomic.Int64
	cacheHits       atomic.Int64
	cacheMisses     atomic.Int64
	loadTime        atomic.Int64 // nanoseconds
	renderTime      atomic.Int64 // nanoseconds
	renderName      atomic.Pointer[string]
}

// CounterSnapshot is a point-in-time copy of a Counter.
type CounterSnapshot struct {
	NetworkRequests int64         `json:"networkRequests"`
	CacheHits       int64         `json:"cacheHits"`
	CacheMisses     int64         `json:"cacheMisses"`
	LoadTime        time.Duration `json:"loadTime"`
	RenderTime      time.Duration `json:"renderTime"`
	RenderComponent string        `json:"renderComponent,omitempty"`
}

func NewCounter() *Counter {
	return &Counter{}
}

func (c *Counter) IncNetworkRequests() { c.networkRequests.Add(1) }
func (c *Counter) IncCacheHits()       { c.cacheHits.Add(1) }
func (c *Counter) IncCacheMisses()     { c.cacheMisses.Add(1) }

// TrackLoadTime records how long the last full batch load took.
func (c *Counter) TrackLoadTime(d time.Duration) {
	c.loadTime.Store(int64(d))
}

// TrackRenderTime records time elapsed since start for the named component.
// Only the latest value is kept.
func (c *Counter) TrackRenderTime(name string, start time.Time) {
	c.renderTime.Store(int64(time.Since(start)))
	c.renderName.Store(&name)
}

func (c *Counter) Snapshot() CounterSnapshot {
	var name string
	if p := c.renderName.Load(); p != nil {
		name = *p
	}
	return CounterSnapshot{
		RenderComponent: name,
		NetworkRequests: c.networkRequests.Load(),
		CacheHits:       c.cacheHits.Load(),
		CacheMisses:     c.cacheMisses.Load(),
		LoadTime:        time.Duration(c.loadTime.Load()),
		RenderTime:      time.Duration(c.renderTime.Load()),
	}
}

// Reset zeroes every field.
func (c *Counter) Reset() {
	c.networkRequests.Store(0)
	c.cacheHits.Store(0)
	c.cacheMisses.Store(0)
	c.loadTime.Store(0)
	c.renderTime.Store(0)
	c.renderName.Store(nil)
}
