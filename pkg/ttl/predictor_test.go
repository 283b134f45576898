package ttl

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestPredictor_InsufficientHistory(t *testing.T) {
	p := NewPredictor(DefaultPredictorConfig())

	pred := p.Predict(AccessPattern{Key: "new"}, 5*time.Minute)
	if pred.TTL != 5*time.Minute {
		t.Errorf("no history should keep the current TTL, got %s", pred.TTL)
	}
	if pred.Confidence != 0 {
		t.Errorf("no history should mean zero confidence, got %f", pred.Confidence)
	}
	if pred.Reason != "insufficient history" {
		t.Errorf("unexpected reason %q", pred.Reason)
	}
}

func TestPredictor_HotKeyShortensTTL(t *testing.T) {
	p := NewPredictor(DefaultPredictorConfig())
	now := time.Now()

	hot := AccessPattern{
		Key:          "hot",
		DataType:     DataTypeListing,
		AccessCount:  5000,
		CreatedAt:    now.Add(-10 * time.Hour), // 500/hour
		LastAccessAt: now,
		MaxSizeBytes: 1024,
		Trend:        TrendStable,
	}
	cold := AccessPattern{
		Key:          "cold",
		DataType:     DataTypeListing,
		AccessCount:  3,
		CreatedAt:    now.Add(-100 * time.Hour),
		LastAccessAt: now.Add(-48 * time.Hour),
		MaxSizeBytes: 1024,
		Trend:        TrendStable,
	}

	hotPred := p.Predict(hot, 30*time.Minute)
	coldPred := p.Predict(cold, 30*time.Minute)

	if hotPred.TTL >= coldPred.TTL {
		t.Errorf("hot key TTL %s should be below cold key TTL %s", hotPred.TTL, coldPred.TTL)
	}
	if hotPred.TTL >= 30*time.Minute {
		t.Errorf("hot key should shorten the base TTL, got %s", hotPred.TTL)
	}
	if coldPred.TTL <= 30*time.Minute {
		t.Errorf("cold key should lengthen the base TTL, got %s", coldPred.TTL)
	}
}

func TestPredictor_MinTTLFloor(t *testing.T) {
	cfg := PredictorConfig{
		BaseTTL:       map[DataType]time.Duration{DataTypeUnknown: 2 * time.Minute},
		SourceFactors: map[string]float64{"volatile": 0.1},
	}
	p := NewPredictor(cfg)
	now := time.Now()

	pattern := AccessPattern{
		Key:          "churner",
		DataType:     DataTypeUnknown,
		Source:       "volatile",
		AccessCount:  10000,
		CreatedAt:    now.Add(-time.Hour),
		LastAccessAt: now,
		Trend:        TrendIncreasing,
	}

	pred := p.Predict(pattern, time.Minute)
	if pred.TTL < MinTTL {
		t.Errorf("prediction %s fell below the floor %s", pred.TTL, MinTTL)
	}
	if pred.TTL != MinTTL {
		t.Errorf("expected the floor %s for an extreme pattern, got %s", MinTTL, pred.TTL)
	}
}

func TestPredictor_ConfidenceBounds(t *testing.T) {
	p := NewPredictor(DefaultPredictorConfig())
	now := time.Now()

	patterns := []AccessPattern{
		{Key: "a", AccessCount: 1, CreatedAt: now.Add(-time.Hour), LastAccessAt: now},
		{Key: "b", AccessCount: 50, CreatedAt: now.Add(-24 * time.Hour), LastAccessAt: now.Add(-30 * time.Hour)},
		{Key: "c", AccessCount: 100000, CreatedAt: now.Add(-time.Minute), LastAccessAt: now, Trend: TrendIncreasing},
	}
	for _, pattern := range patterns {
		pred := p.Predict(pattern, time.Minute)
		if pred.Confidence < 0 || pred.Confidence > 1 {
			t.Errorf("confidence for %s out of range: %f", pattern.Key, pred.Confidence)
		}
	}
}

func TestPredictor_ConfidenceGrowsWithHistory(t *testing.T) {
	p := NewPredictor(DefaultPredictorConfig())
	now := time.Now()

	sparse := AccessPattern{
		Key: "sparse", AccessCount: 2,
		CreatedAt: now.Add(-10 * time.Hour), LastAccessAt: now,
	}
	rich := AccessPattern{
		Key: "rich", AccessCount: 200,
		CreatedAt: now.Add(-10 * time.Hour), LastAccessAt: now,
	}

	if p.Predict(rich, 0).Confidence <= p.Predict(sparse, 0).Confidence {
		t.Error("more history should mean more confidence")
	}
}

func TestPredictor_CachesPredictions(t *testing.T) {
	p := NewPredictor(DefaultPredictorConfig())
	now := time.Now()

	pattern := AccessPattern{
		Key:          "cached",
		DataType:     DataTypeListing,
		AccessCount:  5000,
		CreatedAt:    now.Add(-10 * time.Hour),
		LastAccessAt: now,
	}
	first := p.Predict(pattern, 30*time.Minute)

	// Same key and type with a very different pattern: the cached
	// prediction is reused.
	pattern.AccessCount = 1
	pattern.CreatedAt = now.Add(-1000 * time.Hour)
	pattern.LastAccessAt = now.Add(-500 * time.Hour)
	second := p.Predict(pattern, 30*time.Minute)

	if second.TTL != first.TTL {
		t.Errorf("expected cached TTL %s, got %s", first.TTL, second.TTL)
	}

	p.InvalidateCache()
	third := p.Predict(pattern, 30*time.Minute)
	if third.TTL == first.TTL {
		t.Error("invalidation should force recomputation")
	}
}

func TestPredictor_SweepCacheBoundsGrowth(t *testing.T) {
	p := NewPredictor(DefaultPredictorConfig())
	now := time.Now()

	for i := 0; i < 50; i++ {
		pattern := AccessPattern{
			Key:          fmt.Sprintf("key-%d", i),
			DataType:     DataTypeListing,
			AccessCount:  10,
			CreatedAt:    now.Add(-time.Hour),
			LastAccessAt: now,
		}
		p.Predict(pattern, 30*time.Minute)
	}
	if len(p.cache) != 50 {
		t.Fatalf("expected 50 cached predictions, got %d", len(p.cache))
	}

	// Age half of the entries past the reuse window.
	p.mu.Lock()
	aged := 0
	for key, cached := range p.cache {
		if aged == 25 {
			break
		}
		cached.cachedAt = now.Add(-2 * DefaultPredictionCacheTTL)
		p.cache[key] = cached
		aged++
	}
	p.mu.Unlock()

	if removed := p.SweepCache(); removed != 25 {
		t.Errorf("expected 25 entries swept, got %d", removed)
	}
	if len(p.cache) != 25 {
		t.Errorf("expected 25 cached predictions after sweep, got %d", len(p.cache))
	}
}

func TestPredictor_StaleEntryReplacedOnLookup(t *testing.T) {
	p := NewPredictor(DefaultPredictorConfig())
	now := time.Now()

	pattern := AccessPattern{
		Key:          "stale",
		DataType:     DataTypeListing,
		AccessCount:  10,
		CreatedAt:    now.Add(-time.Hour),
		LastAccessAt: now,
	}
	p.Predict(pattern, 30*time.Minute)

	cacheKey := pattern.Key + "|" + string(pattern.DataType)
	p.mu.Lock()
	cached := p.cache[cacheKey]
	cached.cachedAt = now.Add(-2 * DefaultPredictionCacheTTL)
	p.cache[cacheKey] = cached
	p.mu.Unlock()

	p.Predict(pattern, 30*time.Minute)

	p.mu.Lock()
	fresh, ok := p.cache[cacheKey]
	p.mu.Unlock()
	if !ok {
		t.Fatal("recomputed prediction should be cached")
	}
	if !fresh.cachedAt.After(now.Add(-time.Minute)) {
		t.Error("stale cache entry should be replaced with a fresh one")
	}
	if len(p.cache) != 1 {
		t.Errorf("expected a single cache entry, got %d", len(p.cache))
	}
}

func TestPredictor_RecommendedAction(t *testing.T) {
	p := NewPredictor(DefaultPredictorConfig())
	now := time.Now()

	cold := AccessPattern{
		Key:          "cold",
		DataType:     DataTypeListing,
		AccessCount:  3,
		CreatedAt:    now.Add(-100 * time.Hour),
		LastAccessAt: now.Add(-48 * time.Hour),
	}

	// Recommendation far above a short current TTL reads as an increase.
	pred := p.Predict(cold, time.Minute)
	if !strings.HasPrefix(pred.RecommendedAction, "increase TTL") {
		t.Errorf("expected an increase recommendation, got %q", pred.RecommendedAction)
	}

	// Near-identical current TTL reads as keep.
	p.InvalidateCache()
	pred = p.Predict(cold, pred.TTL)
	if pred.RecommendedAction != "keep current TTL" {
		t.Errorf("expected keep recommendation, got %q", pred.RecommendedAction)
	}
}

func TestFrequencyFactor(t *testing.T) {
	tests := []struct {
		perHour float64
		want    float64
	}{
		{0.05, 1.8},
		{0.5, 1.4},
		{5, 1.0},
		{50, 0.7},
		{500, 0.5},
	}
	for _, tt := range tests {
		if got := frequencyFactor(tt.perHour); got != tt.want {
			t.Errorf("frequencyFactor(%f) = %f, want %f", tt.perHour, got, tt.want)
		}
	}
}

func TestSizeFactor(t *testing.T) {
	tests := []struct {
		bytes int64
		want  float64
	}{
		{1024, 0.9},
		{50 * 1024, 1.0},
		{500 * 1024, 1.2},
		{5 * 1024 * 1024, 1.5},
	}
	for _, tt := range tests {
		if got := sizeFactor(tt.bytes); got != tt.want {
			t.Errorf("sizeFactor(%d) = %f, want %f", tt.bytes, got, tt.want)
		}
	}
}

func TestTrendFactor(t *testing.T) {
	if got := trendFactor(TrendIncreasing); got != 0.8 {
		t.Errorf("increasing trend factor = %f, want 0.8", got)
	}
	if got := trendFactor(TrendDecreasing); got != 0.9 {
		t.Errorf("decreasing trend factor = %f, want 0.9", got)
	}
	if got := trendFactor(TrendStable); got != 1.0 {
		t.Errorf("stable trend factor = %f, want 1.0", got)
	}
}
