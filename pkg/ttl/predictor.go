package ttl

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// MinTTL is the hard floor for any predicted TTL.
const MinTTL = 60 * time.Second

// DefaultPredictionCacheTTL bounds how long a prediction is reused
// before being recomputed.
const DefaultPredictionCacheTTL = time.Hour

// Factors is the fixed set of multipliers applied to the base TTL.
type Factors struct {
	// Frequency: rarely accessed data tolerates longer caching (1.8x),
	// hot data refreshes sooner (0.5x).
	Frequency float64

	// Size: larger objects cost more to recompute, biasing toward
	// retention (0.9x small up to 1.5x large).
	Size float64

	// Source: static per-upstream multiplier reflecting known
	// volatility of that source's data.
	Source float64

	// Staleness: long-idle keys are cheap to keep longer (0.8x
	// recently-touched up to 1.5x long-idle).
	Staleness float64

	// Trend: actively changing data gets a shorter TTL (0.8x-1.0x).
	Trend float64
}

// Product multiplies all factors.
func (f Factors) Product() float64 {
	return f.Frequency * f.Size * f.Source * f.Staleness * f.Trend
}

func (f Factors) values() []float64 {
	return []float64{f.Frequency, f.Size, f.Source, f.Staleness, f.Trend}
}

// Prediction is the outcome of one TTL prediction.
type Prediction struct {
	Key               string
	TTL               time.Duration
	Confidence        float64
	Reason            string
	Factors           Factors
	RecommendedAction string
}

// PredictorConfig configures the prediction model.
type PredictorConfig struct {
	// BaseTTL per data type; types absent from the map fall back to
	// the DataTypeUnknown entry.
	BaseTTL map[DataType]time.Duration

	// SourceFactors maps upstream source labels to volatility
	// multipliers; absent sources use 1.0.
	SourceFactors map[string]float64

	// CacheTTL bounds prediction reuse (0 = DefaultPredictionCacheTTL,
	// capped at one hour).
	CacheTTL time.Duration
}

// DefaultPredictorConfig returns the base TTL table and source
// multipliers tuned for tradewatch upstreams.
func DefaultPredictorConfig() PredictorConfig {
	return PredictorConfig{
		BaseTTL: map[DataType]time.Duration{
			DataTypeListing:      30 * time.Minute,
			DataTypeSearchResult: 10 * time.Minute,
			DataTypeStatistics:   time.Hour,
			DataTypePage:         15 * time.Minute,
			DataTypeMedia:        24 * time.Hour,
			DataTypeUnknown:      30 * time.Minute,
		},
		SourceFactors: map[string]float64{
			"scraper": 0.8, // remote pages churn
			"search":  0.9,
			"api":     1.1,
			"db":      1.3, // durable store, slow-moving
		},
		CacheTTL: DefaultPredictionCacheTTL,
	}
}

type cachedPrediction struct {
	prediction Prediction
	cachedAt   time.Time
}

// Predictor produces TTL recommendations from access patterns.
type Predictor struct {
	cfg PredictorConfig

	mu    sync.Mutex
	cache map[string]cachedPrediction
}

// NewPredictor creates a TTL predictor.
func NewPredictor(cfg PredictorConfig) *Predictor {
	def := DefaultPredictorConfig()
	if cfg.BaseTTL == nil {
		cfg.BaseTTL = def.BaseTTL
	}
	if cfg.SourceFactors == nil {
		cfg.SourceFactors = def.SourceFactors
	}
	if cfg.CacheTTL <= 0 || cfg.CacheTTL > DefaultPredictionCacheTTL {
		cfg.CacheTTL = DefaultPredictionCacheTTL
	}
	return &Predictor{
		cfg:   cfg,
		cache: make(map[string]cachedPrediction),
	}
}

// Predict recommends a TTL for the key behind the pattern. A pattern
// with no history returns currentTTL untouched at zero confidence;
// the predictor never fabricates a positive signal.
func (p *Predictor) Predict(pattern AccessPattern, currentTTL time.Duration) Prediction {
	if pattern.AccessCount == 0 {
		return Prediction{
			Key:               pattern.Key,
			TTL:               currentTTL,
			Confidence:        0,
			Reason:            "insufficient history",
			RecommendedAction: "keep current TTL until access history accumulates",
		}
	}

	cacheKey := pattern.Key + "|" + string(pattern.DataType)
	now := time.Now()

	p.mu.Lock()
	if cached, ok := p.cache[cacheKey]; ok {
		if now.Sub(cached.cachedAt) < p.cfg.CacheTTL {
			p.mu.Unlock()
			return cached.prediction
		}
		delete(p.cache, cacheKey)
	}
	p.mu.Unlock()

	base, ok := p.cfg.BaseTTL[pattern.DataType]
	if !ok {
		base = p.cfg.BaseTTL[DataTypeUnknown]
	}

	factors := p.factors(pattern)
	predicted := time.Duration(math.Round(float64(base)*factors.Product()/float64(time.Second))) * time.Second
	if predicted < MinTTL {
		predicted = MinTTL
	}

	pred := Prediction{
		Key:               pattern.Key,
		TTL:               predicted,
		Confidence:        confidence(pattern, factors),
		Reason:            reason(pattern, factors),
		Factors:           factors,
		RecommendedAction: action(predicted, currentTTL),
	}

	p.mu.Lock()
	p.cache[cacheKey] = cachedPrediction{prediction: pred, cachedAt: now}
	p.mu.Unlock()

	return pred
}

// SweepCache drops cached predictions older than the reuse window and
// returns how many were removed. Keys that stop being predicted never
// hit the lazy expiry on lookup, so the sweep keeps the cache bounded.
func (p *Predictor) SweepCache() int {
	cutoff := time.Now().Add(-p.cfg.CacheTTL)

	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	for key, cached := range p.cache {
		if cached.cachedAt.Before(cutoff) {
			delete(p.cache, key)
			removed++
		}
	}
	return removed
}

// InvalidateCache drops cached predictions, forcing recomputation.
func (p *Predictor) InvalidateCache() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache = make(map[string]cachedPrediction)
}

func (p *Predictor) factors(pattern AccessPattern) Factors {
	return Factors{
		Frequency: frequencyFactor(pattern.Frequency()),
		Size:      sizeFactor(pattern.MaxSizeBytes),
		Source:    p.sourceFactor(pattern.Source),
		Staleness: stalenessFactor(pattern.HoursIdle()),
		Trend:     trendFactor(pattern.Trend),
	}
}

func (p *Predictor) sourceFactor(source string) float64 {
	if f, ok := p.cfg.SourceFactors[source]; ok {
		return f
	}
	return 1.0
}

func frequencyFactor(perHour float64) float64 {
	switch {
	case perHour < 0.1:
		return 1.8
	case perHour < 1:
		return 1.4
	case perHour < 10:
		return 1.0
	case perHour < 100:
		return 0.7
	default:
		return 0.5
	}
}

func sizeFactor(bytes int64) float64 {
	switch {
	case bytes < 10*1024:
		return 0.9
	case bytes < 100*1024:
		return 1.0
	case bytes < 1024*1024:
		return 1.2
	default:
		return 1.5
	}
}

func stalenessFactor(hoursIdle float64) float64 {
	switch {
	case hoursIdle < 1:
		return 0.8
	case hoursIdle < 6:
		return 1.0
	case hoursIdle < 24:
		return 1.2
	default:
		return 1.5
	}
}

func trendFactor(t Trend) float64 {
	switch t {
	case TrendIncreasing:
		return 0.8
	case TrendDecreasing:
		return 0.9
	default:
		return 1.0
	}
}

// confidence starts at 0.5, grows with observed history and shrinks
// when the factors disagree with each other, clamped to [0,1].
func confidence(pattern AccessPattern, factors Factors) float64 {
	c := 0.5

	historyBoost := float64(pattern.AccessCount) / 100 * 0.4
	if historyBoost > 0.4 {
		historyBoost = 0.4
	}
	c += historyBoost

	vals := factors.values()
	mean := 0.0
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))
	variance := 0.0
	for _, v := range vals {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(vals))
	penalty := math.Sqrt(variance) * 0.5
	if penalty > 0.3 {
		penalty = 0.3
	}
	c -= penalty

	if c < 0 {
		c = 0
	}
	if c > 1 {
		c = 1
	}
	return c
}

func reason(pattern AccessPattern, factors Factors) string {
	return fmt.Sprintf("%s from %s: %.1f accesses/hour, %.1fh idle, trend %s (factor product %.2f)",
		pattern.DataType, pattern.Source, pattern.Frequency(), pattern.HoursIdle(), pattern.Trend, factors.Product())
}

func action(predicted, current time.Duration) string {
	if current <= 0 {
		return fmt.Sprintf("apply %s", predicted)
	}
	delta := float64(predicted-current) / float64(current)
	switch {
	case delta > 0.1:
		return fmt.Sprintf("increase TTL %s -> %s", current, predicted)
	case delta < -0.1:
		return fmt.Sprintf("decrease TTL %s -> %s", current, predicted)
	default:
		return "keep current TTL"
	}
}
