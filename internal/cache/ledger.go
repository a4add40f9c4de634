package cache

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-aggregator/internal/observability"
)

// DefaultMaxErrorCount is the ledger count at which callers hard-reset.
const DefaultMaxErrorCount = 5

type ledgerEntry struct {
	Count     int   `json:"count"`
	Timestamp int64 `json:"timestamp"`
}

// ErrorLedger counts consecutive load failures under ErrorCountKey. The count
// expires with the ledger family TTL. Every operation is best effort: read
// problems count as zero and write problems are logged.
type ErrorLedger struct {
	store  *Store
	max    int
	logger *zap.Logger
}

func NewErrorLedger(store *Store, maxErrorCount int, logger *zap.Logger) *ErrorLedger {
	if maxErrorCount <= 0 {
		maxErrorCount = DefaultMaxErrorCount
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ErrorLedger{store: store, max: maxErrorCount, logger: logger}
}

// Count returns the current count, or 0 if absent, expired or unreadable.
// An expired ledger is deleted.
func (l *ErrorLedger) Count(ctx context.Context) int {
	b, ok, err := l.store.backend.Get(ctx, ErrorCountKey)
	if err != nil || !ok {
		return 0
	}
	var e ledgerEntry
	if err := json.Unmarshal(b, &e); err != nil {
		return 0
	}
	if l.store.now().UnixMilli()-e.Timestamp > l.store.TTL(ErrorCountKey).Milliseconds() {
		observability.CacheReadsTotal.WithLabelValues("ledger", "expired").Inc()
		_ = l.store.backend.Delete(ctx, ErrorCountKey)
		return 0
	}
	return e.Count
}

// Increment adds one and returns the new count. The count is returned even
// when persisting it fails.
func (l *ErrorLedger) Increment(ctx context.Context) int {
	n := l.Count(ctx) + 1
	b, err := json.Marshal(ledgerEntry{Count: n, Timestamp: l.store.now().UnixMilli()})
	if err == nil {
		err = l.store.backend.Set(ctx, ErrorCountKey, b)
	}
	if err != nil {
		observability.CacheWriteFailuresTotal.WithLabelValues("ledger").Inc()
		l.logger.Warn("error updating error count", zap.Error(err))
	}
	return n
}

// Reset deletes the ledger entry. Failures are logged, not returned.
func (l *ErrorLedger) Reset(ctx context.Context) {
	if err := l.store.backend.Delete(ctx, ErrorCountKey); err != nil {
		l.logger.Warn("error resetting error count", zap.Error(err))
	}
}

// ExceedsThreshold reports whether count has reached the hard-reset limit.
func (l *ErrorLedger) ExceedsThreshold(count int) bool {
	return count >= l.max
}

// Max is the hard-reset threshold.
func (l *ErrorLedger) Max() int { return l.max }
