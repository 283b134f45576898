package cache

import (
	"sort"
	"sync/atomic"
	"time"
)

// Scoring weights. Recency dominates: an idle entry is a better victim
// than a merely unpopular one.
const (
	recencyWeight   = 0.7
	frequencyWeight = 0.3
)

// AdaptivePolicy scores eviction candidates by combining idle time and
// access frequency. It is advisory: stores consult it when they want
// smarter-than-LRU victim selection, but it holds no entries itself.
type AdaptivePolicy struct {
	hits   int64
	misses int64
}

// NewAdaptivePolicy creates an adaptive eviction policy.
func NewAdaptivePolicy() *AdaptivePolicy {
	return &AdaptivePolicy{}
}

// RecordHit notes a cache hit.
func (p *AdaptivePolicy) RecordHit() {
	atomic.AddInt64(&p.hits, 1)
}

// RecordMiss notes a cache miss.
func (p *AdaptivePolicy) RecordMiss() {
	atomic.AddInt64(&p.misses, 1)
}

// HitRatio returns hits/(hits+misses), 0 when nothing was recorded.
func (p *AdaptivePolicy) HitRatio() float64 {
	hits := atomic.LoadInt64(&p.hits)
	misses := atomic.LoadInt64(&p.misses)
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Candidates returns the keys of the n most evictable entries, highest
// score first. Score grows with idle time and shrinks with access
// frequency.
func (p *AdaptivePolicy) Candidates(entries []Entry, n int) []string {
	if n <= 0 || len(entries) == 0 {
		return nil
	}

	type scored struct {
		key   string
		score float64
	}

	candidates := make([]scored, 0, len(entries))
	for _, e := range entries {
		candidates = append(candidates, scored{key: e.Key, score: p.Score(e)})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	if n > len(candidates) {
		n = len(candidates)
	}
	keys := make([]string, n)
	for i := 0; i < n; i++ {
		keys[i] = candidates[i].key
	}
	return keys
}

// Score rates a single entry's evictability in [0,1].
func (p *AdaptivePolicy) Score(e Entry) float64 {
	idleHours := e.IdleTime().Hours()
	recency := idleHours / 24
	if recency > 1 {
		recency = 1
	}

	ageHours := time.Since(e.CreatedAt).Hours()
	if ageHours < 1.0/60 {
		ageHours = 1.0 / 60
	}
	perHour := float64(e.HitCount) / ageHours
	frequency := 1 / (1 + perHour)

	return recencyWeight*recency + frequencyWeight*frequency
}
