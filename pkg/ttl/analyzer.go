// Package ttl learns per-key time-to-live values from observed access
// behavior. The analyzer records access events, the predictor turns
// them into TTL recommendations, and the optimizer tracks which
// recommendations were applied.
package ttl

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DataType tags the kind of value behind a cache key. The predictor
// keeps a base TTL per type.
type DataType string

const (
	DataTypeListing      DataType = "listing"
	DataTypeSearchResult DataType = "search_result"
	DataTypeStatistics   DataType = "statistics"
	DataTypePage         DataType = "page"
	DataTypeMedia        DataType = "media"
	DataTypeUnknown      DataType = "unknown"
)

// Trend describes how a key's access cadence is moving.
type Trend string

const (
	TrendStable     Trend = "stable"
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
)

// maxIntervalSamples bounds the per-key inter-access sample window.
const maxIntervalSamples = 64

// DefaultRetention is how long an idle pattern is kept before cleanup.
const DefaultRetention = 7 * 24 * time.Hour

// AccessPattern is the per-key access history the analyzer maintains.
type AccessPattern struct {
	Key          string
	DataType     DataType
	Source       string
	AccessCount  int64
	CreatedAt    time.Time
	LastAccessAt time.Time
	MaxSizeBytes int64
	Trend        Trend

	intervals []time.Duration
}

// AgeHours returns hours since the pattern was first observed.
func (p AccessPattern) AgeHours() float64 {
	return time.Since(p.CreatedAt).Hours()
}

// HoursIdle returns hours since the key was last accessed.
func (p AccessPattern) HoursIdle() float64 {
	return time.Since(p.LastAccessAt).Hours()
}

// Frequency returns accesses per hour over the pattern's lifetime.
func (p AccessPattern) Frequency() float64 {
	age := p.AgeHours()
	if age < 1.0/60 {
		age = 1.0 / 60
	}
	return float64(p.AccessCount) / age
}

// UpdateInterval estimates the typical gap between accesses as the
// median of observed deltas. Median, not mean: a single burst should
// not drag the estimate.
func (p AccessPattern) UpdateInterval() (time.Duration, bool) {
	if len(p.intervals) == 0 {
		return 0, false
	}
	sorted := make([]time.Duration, len(p.intervals))
	copy(sorted, p.intervals)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid], true
	}
	return (sorted[mid-1] + sorted[mid]) / 2, true
}

// Samples returns how many inter-access deltas have been observed.
func (p AccessPattern) Samples() int {
	return len(p.intervals)
}

// Analyzer records per-key access events and derives the signals the
// TTL predictor consumes. This is the only intentionally unbounded
// structure in the cache core; Cleanup is mandatory and runs from the
// manager's maintenance loop.
type Analyzer struct {
	mu        sync.Mutex
	patterns  map[string]*AccessPattern
	retention time.Duration
	log       *slog.Logger
}

// NewAnalyzer creates an access pattern analyzer. Zero retention means
// DefaultRetention.
func NewAnalyzer(retention time.Duration, log *slog.Logger) *Analyzer {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if log == nil {
		log = slog.Default()
	}
	return &Analyzer{
		patterns:  make(map[string]*AccessPattern),
		retention: retention,
		log:       log.With("component", "ttl.analyzer"),
	}
}

// Record upserts the pattern for key with one more observed access.
func (a *Analyzer) Record(key string, dataType DataType, sizeBytes int64, source string) {
	now := time.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.patterns[key]
	if !ok {
		a.patterns[key] = &AccessPattern{
			Key:          key,
			DataType:     dataType,
			Source:       source,
			AccessCount:  1,
			CreatedAt:    now,
			LastAccessAt: now,
			MaxSizeBytes: sizeBytes,
			Trend:        TrendStable,
		}
		return
	}

	delta := now.Sub(p.LastAccessAt)
	if delta > 0 {
		if len(p.intervals) >= maxIntervalSamples {
			copy(p.intervals, p.intervals[1:])
			p.intervals = p.intervals[:maxIntervalSamples-1]
		}
		p.intervals = append(p.intervals, delta)
	}

	p.AccessCount++
	p.LastAccessAt = now
	if source != "" {
		p.Source = source
	}
	if dataType != DataTypeUnknown {
		p.DataType = dataType
	}
	if sizeBytes > p.MaxSizeBytes {
		p.MaxSizeBytes = sizeBytes
	}
	p.Trend = deriveTrend(p.intervals)
}

// Pattern returns a copy of the pattern for key.
func (a *Analyzer) Pattern(key string) (AccessPattern, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.patterns[key]
	if !ok {
		return AccessPattern{}, false
	}
	cp := *p
	cp.intervals = append([]time.Duration(nil), p.intervals...)
	return cp, true
}

// Keys returns all tracked keys.
func (a *Analyzer) Keys() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	keys := make([]string, 0, len(a.patterns))
	for k := range a.patterns {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of tracked patterns.
func (a *Analyzer) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.patterns)
}

// Cleanup removes patterns whose age and idle time both exceed the
// threshold, and returns how many were removed. Requiring both guards
// hot-but-old keys: a pattern created long ago but still being read
// stays. Zero threshold means the configured retention.
func (a *Analyzer) Cleanup(threshold time.Duration) int {
	if threshold <= 0 {
		threshold = a.retention
	}
	now := time.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	removed := 0
	for key, p := range a.patterns {
		age := now.Sub(p.CreatedAt)
		idle := now.Sub(p.LastAccessAt)
		if age > threshold && idle > threshold {
			delete(a.patterns, key)
			removed++
		}
	}
	if removed > 0 {
		a.log.Debug("pattern cleanup", "removed", removed, "remaining", len(a.patterns))
	}
	return removed
}

// deriveTrend compares the recent half of the interval window against
// the older half. Shrinking gaps mean accelerating access.
func deriveTrend(intervals []time.Duration) Trend {
	if len(intervals) < 6 {
		return TrendStable
	}

	mid := len(intervals) / 2
	older := medianOf(intervals[:mid])
	recent := medianOf(intervals[mid:])
	if older == 0 {
		return TrendStable
	}

	ratio := float64(recent) / float64(older)
	switch {
	case ratio < 0.7:
		return TrendIncreasing
	case ratio > 1.3:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

func medianOf(ds []time.Duration) time.Duration {
	if len(ds) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(ds))
	copy(sorted, ds)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
