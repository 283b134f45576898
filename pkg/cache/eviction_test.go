package cache

import (
	"testing"
	"time"
)

func TestAdaptivePolicy_HitRatio(t *testing.T) {
	p := NewAdaptivePolicy()

	if got := p.HitRatio(); got != 0 {
		t.Errorf("empty policy should report 0, got %f", got)
	}

	p.RecordHit()
	p.RecordHit()
	p.RecordHit()
	p.RecordMiss()

	if got := p.HitRatio(); got != 0.75 {
		t.Errorf("expected hit ratio 0.75, got %f", got)
	}
}

func TestAdaptivePolicy_Score(t *testing.T) {
	p := NewAdaptivePolicy()
	now := time.Now()

	// A day-idle, never-read entry scores near the top of the range.
	cold := Entry{
		Key:          "cold",
		CreatedAt:    now.Add(-48 * time.Hour),
		LastAccessAt: now.Add(-36 * time.Hour),
		HitCount:     0,
	}
	// A hot entry read moments ago scores near the bottom.
	hot := Entry{
		Key:          "hot",
		CreatedAt:    now.Add(-48 * time.Hour),
		LastAccessAt: now,
		HitCount:     5000,
	}

	coldScore := p.Score(cold)
	hotScore := p.Score(hot)

	if coldScore <= hotScore {
		t.Errorf("cold entry (%f) should outscore hot entry (%f)", coldScore, hotScore)
	}
	if coldScore < 0 || coldScore > 1 {
		t.Errorf("score out of range: %f", coldScore)
	}
	if hotScore < 0 || hotScore > 1 {
		t.Errorf("score out of range: %f", hotScore)
	}
}

func TestAdaptivePolicy_Score_RecencyDominates(t *testing.T) {
	p := NewAdaptivePolicy()
	now := time.Now()

	// Popular but long idle beats unpopular but fresh: recency carries
	// the larger weight.
	idlePopular := Entry{
		CreatedAt:    now.Add(-72 * time.Hour),
		LastAccessAt: now.Add(-30 * time.Hour),
		HitCount:     10000,
	}
	freshUnpopular := Entry{
		CreatedAt:    now.Add(-72 * time.Hour),
		LastAccessAt: now.Add(-time.Minute),
		HitCount:     1,
	}

	if p.Score(idlePopular) <= p.Score(freshUnpopular) {
		t.Error("long-idle entry should be the better eviction candidate")
	}
}

func TestAdaptivePolicy_Candidates(t *testing.T) {
	p := NewAdaptivePolicy()
	now := time.Now()

	entries := []Entry{
		{Key: "hot", CreatedAt: now.Add(-10 * time.Hour), LastAccessAt: now, HitCount: 1000},
		{Key: "cold", CreatedAt: now.Add(-10 * time.Hour), LastAccessAt: now.Add(-9 * time.Hour), HitCount: 1},
		{Key: "warm", CreatedAt: now.Add(-10 * time.Hour), LastAccessAt: now.Add(-time.Hour), HitCount: 50},
	}

	candidates := p.Candidates(entries, 2)
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}
	if candidates[0] != "cold" {
		t.Errorf("coldest entry should rank first, got '%s'", candidates[0])
	}
	if candidates[1] != "warm" {
		t.Errorf("expected 'warm' second, got '%s'", candidates[1])
	}
}

func TestAdaptivePolicy_Candidates_Bounds(t *testing.T) {
	p := NewAdaptivePolicy()

	if got := p.Candidates(nil, 5); got != nil {
		t.Error("no entries should yield no candidates")
	}
	if got := p.Candidates([]Entry{{Key: "a"}}, 0); got != nil {
		t.Error("n=0 should yield no candidates")
	}
	// Asking for more than available returns all of them.
	got := p.Candidates([]Entry{{Key: "a"}, {Key: "b"}}, 10)
	if len(got) != 2 {
		t.Errorf("expected 2 candidates, got %d", len(got))
	}
}
