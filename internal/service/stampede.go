package service

import "sync"

// stampedeTracker counts in-progress cache misses per key. A count above one
// means several callers missed the same city at once and each would reach
// upstream unless the coalescer is on.
type stampedeTracker struct {
	mu     sync.Mutex
	active map[string]int
}

func newStampedeTracker() *stampedeTracker {
	return &stampedeTracker{active: make(map[string]int)}
}

// RecordMiss registers a miss for key and returns the number of misses for
// key now in progress. Pair each call with RecordDone.
func (st *stampedeTracker) RecordMiss(key string) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.active[key]++
	return st.active[key]
}

// RecordDone marks one miss for key as resolved.
func (st *stampedeTracker) RecordDone(key string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.active[key] <= 1 {
		delete(st.active, key)
		return
	}
	st.active[key]--
}

func (st *stampedeTracker) inProgress(key string) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.active[key]
}
