package ttl

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"
)

// maxHistory caps the optimization history; the oldest entries are
// trimmed first.
const maxHistory = 10000

// Change records one applied TTL optimization.
type Change struct {
	Timestamp time.Time
	Key       string
	OldTTL    time.Duration
	NewTTL    time.Duration
}

// Stats aggregates optimization history.
type Stats struct {
	// Count is the number of recorded optimizations.
	Count int

	// AvgAbsChange is the mean absolute TTL delta.
	AvgAbsChange time.Duration

	// AvgPercentChange is the mean absolute delta relative to the old
	// TTL, as a percentage.
	AvgPercentChange float64

	// Increased and Decreased count recommendations by direction.
	Increased int
	Decreased int
}

// Candidate is a key whose applied TTL drifted from the current
// recommendation.
type Candidate struct {
	Key            string
	CurrentTTL     time.Duration
	RecommendedTTL time.Duration
}

// Optimizer ties the analyzer and predictor together: it produces
// applied TTL changes and keeps their history. It never mutates a live
// cache entry; applying the returned TTL is the caller's decision.
type Optimizer struct {
	analyzer  *Analyzer
	predictor *Predictor
	log       *slog.Logger

	mu      sync.Mutex
	history []Change
	applied map[string]time.Duration
}

// NewOptimizer creates a TTL optimizer over the given analyzer and
// predictor.
func NewOptimizer(analyzer *Analyzer, predictor *Predictor, log *slog.Logger) *Optimizer {
	if log == nil {
		log = slog.Default()
	}
	return &Optimizer{
		analyzer:  analyzer,
		predictor: predictor,
		log:       log.With("component", "ttl.optimizer"),
		applied:   make(map[string]time.Duration),
	}
}

// Record forwards an access observation to the analyzer.
func (o *Optimizer) Record(key string, dataType DataType, sizeBytes int64, source string) {
	o.analyzer.Record(key, dataType, sizeBytes, source)
}

// Predict returns a TTL recommendation for key without recording an
// applied change. Unknown keys get a zero-confidence prediction.
func (o *Optimizer) Predict(key string, currentTTL time.Duration) Prediction {
	pattern, ok := o.analyzer.Pattern(key)
	if !ok {
		pattern = AccessPattern{Key: key}
	}
	return o.predictor.Predict(pattern, currentTTL)
}

// Apply predicts a TTL for key, records the change in history, and
// returns the new TTL with its prediction. The caller applies it.
func (o *Optimizer) Apply(key string, currentTTL time.Duration) (time.Duration, Prediction) {
	pred := o.Predict(key, currentTTL)

	o.mu.Lock()
	if len(o.history) >= maxHistory {
		o.history = o.history[1:]
	}
	o.history = append(o.history, Change{
		Timestamp: time.Now(),
		Key:       key,
		OldTTL:    currentTTL,
		NewTTL:    pred.TTL,
	})
	o.applied[key] = pred.TTL
	o.mu.Unlock()

	if pred.TTL != currentTTL {
		o.log.Debug("ttl optimization", "key", key, "old", currentTTL, "new", pred.TTL, "confidence", pred.Confidence)
	}
	return pred.TTL, pred
}

// Stats aggregates the recorded optimization history.
func (o *Optimizer) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := Stats{Count: len(o.history)}
	if s.Count == 0 {
		return s
	}

	var totalAbs time.Duration
	var totalPct float64
	pctSamples := 0
	for _, ch := range o.history {
		delta := ch.NewTTL - ch.OldTTL
		if delta > 0 {
			s.Increased++
		} else if delta < 0 {
			s.Decreased++
		}
		totalAbs += absDuration(delta)
		if ch.OldTTL > 0 {
			totalPct += math.Abs(float64(delta)) / float64(ch.OldTTL) * 100
			pctSamples++
		}
	}
	s.AvgAbsChange = totalAbs / time.Duration(s.Count)
	if pctSamples > 0 {
		s.AvgPercentChange = totalPct / float64(pctSamples)
	}
	return s
}

// TopCandidates ranks currently tracked keys by how far their last
// applied TTL drifted from a fresh prediction, largest drift first.
func (o *Optimizer) TopCandidates(n int) []Candidate {
	if n <= 0 {
		return nil
	}

	o.mu.Lock()
	applied := make(map[string]time.Duration, len(o.applied))
	for k, v := range o.applied {
		applied[k] = v
	}
	o.mu.Unlock()

	candidates := make([]Candidate, 0, len(applied))
	for key, current := range applied {
		pred := o.Predict(key, current)
		if pred.Confidence == 0 {
			continue
		}
		candidates = append(candidates, Candidate{
			Key:            key,
			CurrentTTL:     current,
			RecommendedTTL: pred.TTL,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		di := absDuration(candidates[i].RecommendedTTL - candidates[i].CurrentTTL)
		dj := absDuration(candidates[j].RecommendedTTL - candidates[j].CurrentTTL)
		return di > dj
	})

	if n > len(candidates) {
		n = len(candidates)
	}
	return candidates[:n]
}

// Cleanup removes stale access patterns and returns how many were
// dropped. Keys whose pattern disappeared also lose their applied-TTL
// record, and predictions past their reuse window leave the
// predictor's cache.
func (o *Optimizer) Cleanup() int {
	removed := o.analyzer.Cleanup(0)

	o.mu.Lock()
	for key := range o.applied {
		if _, ok := o.analyzer.Pattern(key); !ok {
			delete(o.applied, key)
		}
	}
	o.mu.Unlock()

	o.predictor.SweepCache()

	return removed
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
