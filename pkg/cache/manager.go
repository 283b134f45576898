package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/tradewatch/cachecore/pkg/compress"
	"github.com/tradewatch/cachecore/pkg/telemetry"
	"github.com/tradewatch/cachecore/pkg/ttl"
)

// ManagerConfig configures the layered cache manager.
type ManagerConfig struct {
	// L1 configures the in-process store.
	L1 Config

	// DefaultTTL applies to writes without an explicit TTL and to L2
	// promotions.
	DefaultTTL time.Duration

	// CompressionThresholdBytes: L2 payloads at or above this size are
	// compressed before serialization. Zero disables compression.
	CompressionThresholdBytes int64

	// Compression configures the codec used for large L2 payloads.
	Compression compress.Options

	// MaintenanceInterval is how often the background maintenance
	// cycle runs (expiry sweep, pattern cleanup, pressure eviction).
	MaintenanceInterval time.Duration

	// MaintenanceBudget bounds the duration of a single maintenance
	// cycle so it cannot starve foreground traffic.
	MaintenanceBudget time.Duration

	// PatternRetention is how long idle access patterns are kept.
	PatternRetention time.Duration

	// WarmConcurrency bounds parallel loader calls during Warm.
	WarmConcurrency int

	// PressureEvictBatch is how many advisory eviction candidates are
	// removed per maintenance cycle under memory pressure.
	PressureEvictBatch int
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		L1:                        DefaultConfig(),
		DefaultTTL:                time.Hour,
		CompressionThresholdBytes: 4 * 1024,
		Compression:               compress.DefaultOptions(),
		MaintenanceInterval:       time.Minute,
		MaintenanceBudget:         15 * time.Second,
		PatternRetention:          ttl.DefaultRetention,
		WarmConcurrency:           8,
		PressureEvictBatch:        32,
	}
}

// MetricsRecorder receives cache events. Implemented by pkg/metrics;
// a no-op recorder is used when none is provided.
type MetricsRecorder interface {
	RecordHit(tier string)
	RecordMiss()
	RecordSet(tier string)
	RecordEviction(count int)
	RecordBackendError()
	ObserveMaintenance(d time.Duration)
	ObserveWarm(d time.Duration, loaded, errored int)
}

type nopMetrics struct{}

func (nopMetrics) RecordHit(string)                    {}
func (nopMetrics) RecordMiss()                         {}
func (nopMetrics) RecordSet(string)                    {}
func (nopMetrics) RecordEviction(int)                  {}
func (nopMetrics) RecordBackendError()                 {}
func (nopMetrics) ObserveMaintenance(time.Duration)    {}
func (nopMetrics) ObserveWarm(time.Duration, int, int) {}

// Option customizes a Manager.
type Option func(*Manager)

// WithL2 attaches the distributed tier. The manager borrows the store
// but owns shutdown ordering: Close closes it last.
func WithL2(store Remote) Option {
	return func(m *Manager) { m.l2 = store }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log.With("component", "cache.manager") }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(rec MetricsRecorder) Option {
	return func(m *Manager) { m.metrics = rec }
}

// WithAnalyzer shares an access pattern analyzer with the TTL service.
func WithAnalyzer(a *ttl.Analyzer) Option {
	return func(m *Manager) { m.analyzer = a }
}

// WithTracing attaches a telemetry provider; spans cover lookups,
// writes, warming runs, maintenance cycles, and backend calls.
func WithTracing(tp *telemetry.Provider) Option {
	return func(m *Manager) { m.tracer = tp }
}

// ManagerStats aggregates the layered view.
type ManagerStats struct {
	L1Hits  int64
	L2Hits  int64
	Misses  int64
	HitRate float64
	L1      Stats
	L2      Stats
}

// Manager orchestrates the read/write path across the L1 and L2 tiers,
// exposes the cache-aside wrapping contract, and runs scheduled
// maintenance. One instance is constructed at process startup and
// shared by all request handlers.
type Manager struct {
	cfg      ManagerConfig
	l1       *MemoryCache
	l2       Remote
	codec    *compress.Codec
	analyzer *ttl.Analyzer
	policy   *AdaptivePolicy
	metrics  MetricsRecorder
	tracer   *telemetry.Provider
	log      *slog.Logger
	sf       singleflight.Group

	overrideMu   sync.RWMutex
	ttlOverrides map[string]time.Duration

	l1Hits atomic.Int64
	l2Hits atomic.Int64
	misses atomic.Int64

	stopCh  chan struct{}
	done    chan struct{}
	stopped atomic.Bool
}

// NewManager creates and starts a cache manager. Close must be called
// at shutdown.
func NewManager(cfg ManagerConfig, opts ...Option) (*Manager, error) {
	// Zero means "use the default"; negatives are configuration
	// mistakes and are rejected rather than clamped.
	switch {
	case cfg.DefaultTTL < 0:
		return nil, errors.New("default TTL must be non-negative")
	case cfg.MaintenanceInterval < 0:
		return nil, errors.New("maintenance interval must be non-negative")
	case cfg.MaintenanceBudget < 0:
		return nil, errors.New("maintenance budget must be non-negative")
	case cfg.WarmConcurrency < 0:
		return nil, errors.New("warm concurrency must be non-negative")
	case cfg.PressureEvictBatch < 0:
		return nil, errors.New("pressure evict batch must be non-negative")
	case cfg.PatternRetention < 0:
		return nil, errors.New("pattern retention must be non-negative")
	case cfg.CompressionThresholdBytes < 0:
		return nil, errors.New("compression threshold must be non-negative")
	}

	def := DefaultManagerConfig()
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = def.DefaultTTL
	}
	if cfg.MaintenanceInterval == 0 {
		cfg.MaintenanceInterval = def.MaintenanceInterval
	}
	if cfg.MaintenanceBudget == 0 {
		cfg.MaintenanceBudget = def.MaintenanceBudget
	}
	if cfg.WarmConcurrency == 0 {
		cfg.WarmConcurrency = def.WarmConcurrency
	}
	if cfg.PressureEvictBatch == 0 {
		cfg.PressureEvictBatch = def.PressureEvictBatch
	}
	if cfg.PatternRetention == 0 {
		cfg.PatternRetention = def.PatternRetention
	}

	codec, err := compress.NewCodec(cfg.Compression)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:          cfg,
		codec:        codec,
		policy:       NewAdaptivePolicy(),
		metrics:      nopMetrics{},
		tracer:       telemetry.Noop(),
		log:          slog.Default().With("component", "cache.manager"),
		ttlOverrides: make(map[string]time.Duration),
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.analyzer == nil {
		m.analyzer = ttl.NewAnalyzer(cfg.PatternRetention, m.log)
	}

	m.l1 = NewMemoryCache(cfg.L1)

	go m.maintenanceLoop()

	return m, nil
}

// Get looks up key in L1, then L2. An L2 hit is promoted into L1 with
// the default TTL. Misses return ErrNotFound; the caller computes the
// value and calls Set.
func (m *Manager) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, span := m.tracer.StartLookup(ctx, key)
	defer span.End()
	start := time.Now()

	if value, err := m.l1.Get(ctx, key); err == nil {
		m.l1Hits.Add(1)
		m.policy.RecordHit()
		m.metrics.RecordHit("l1")
		telemetry.RecordLookupResult(span, "l1", true, time.Since(start))
		m.recordAccess(key, int64(len(value)))
		return value, nil
	}

	if m.l2 != nil {
		bctx, bspan := m.tracer.StartBackend(ctx, "get", key)
		data, err := m.l2.Get(bctx, key)
		bspan.End()
		if err == nil {
			value, ok := m.decodeRemote(key, data)
			if ok {
				m.l2Hits.Add(1)
				m.policy.RecordHit()
				m.metrics.RecordHit("l2")
				telemetry.RecordLookupResult(span, "l2", true, time.Since(start))
				_ = m.l1.Set(ctx, key, value, m.effectiveTTL(key, 0))
				m.recordAccess(key, int64(len(value)))
				return value, nil
			}
		}
	}

	m.misses.Add(1)
	m.policy.RecordMiss()
	m.metrics.RecordMiss()
	telemetry.RecordLookupResult(span, "", false, time.Since(start))
	return nil, ErrNotFound
}

// Set writes to L1 unconditionally and to L2 best-effort. A zero TTL
// uses the per-key override when one was applied, otherwise the
// process-wide default.
func (m *Manager) Set(ctx context.Context, key string, value []byte, ttlArg time.Duration) error {
	ctx, span := m.tracer.StartWrite(ctx, key, len(value))
	defer span.End()

	effective := m.effectiveTTL(key, ttlArg)

	if err := m.l1.Set(ctx, key, value, effective); err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	m.metrics.RecordSet("l1")

	if m.l2 != nil {
		data, err := m.encodeRemote(key, value)
		if err != nil {
			// The L2 copy is an optimization; L1 already holds the value.
			m.log.Warn("l2 encode failed", "key", key, "error", err)
			m.metrics.RecordBackendError()
			telemetry.RecordError(span, err)
		} else {
			bctx, bspan := m.tracer.StartBackend(ctx, "set", key)
			_ = m.l2.Set(bctx, key, data, effective)
			bspan.End()
			m.metrics.RecordSet("l2")
		}
	}

	m.recordAccess(key, int64(len(value)))
	return nil
}

// SetTyped is Set plus the access metadata the TTL predictor learns
// from: the value's data type and upstream source.
func (m *Manager) SetTyped(ctx context.Context, key string, value []byte, ttlArg time.Duration, dataType ttl.DataType, source string) error {
	if err := m.Set(ctx, key, value, ttlArg); err != nil {
		return err
	}
	m.analyzer.Record(key, dataType, int64(len(value)), source)
	return nil
}

// Delete removes key from both tiers. Reports whether either tier held
// it; a second call returns false.
func (m *Manager) Delete(ctx context.Context, key string) bool {
	found := m.l1.Delete(ctx, key) == nil
	if m.l2 != nil {
		if err := m.l2.Delete(ctx, key); err == nil {
			found = true
		}
	}
	return found
}

// Clear removes entries matching the glob pattern from both tiers.
func (m *Manager) Clear(ctx context.Context, pattern string) error {
	if err := m.l1.Clear(ctx, pattern); err != nil {
		return err
	}
	if m.l2 != nil {
		_ = m.l2.Clear(ctx, pattern)
	}
	return nil
}

// Has checks both tiers without promoting.
func (m *Manager) Has(ctx context.Context, key string) bool {
	if m.l1.Has(ctx, key) {
		return true
	}
	return m.l2 != nil && m.l2.Has(ctx, key)
}

// ApplyTTL sets the TTL used for future writes of key. This is the
// hook the TTL optimizer's caller uses; live entries keep their expiry.
func (m *Manager) ApplyTTL(key string, d time.Duration) {
	m.overrideMu.Lock()
	defer m.overrideMu.Unlock()
	m.ttlOverrides[key] = d
}

// Provider computes a value on a cache miss. Arguments identify the
// computation and feed key derivation.
type Provider func(ctx context.Context, args ...string) ([]byte, error)

// WrapOptions configures cache-aside wrapping.
type WrapOptions struct {
	// TTL for stored results; zero means the manager default.
	TTL time.Duration

	// CacheAbsent stores a provider's nil result as an empty value so
	// repeated misses on absent data skip recomputation.
	CacheAbsent bool
}

// Wrap returns a cache-aside version of provider: a hit skips the
// provider, a miss runs it exactly once per call and stores the result.
// Provider errors pass through unchanged and uncached. Concurrent
// misses on the same key may each run the provider (last write wins);
// use WrapSingleFlight when that duplication matters.
func (m *Manager) Wrap(prefix string, opts WrapOptions, provider Provider) Provider {
	return func(ctx context.Context, args ...string) ([]byte, error) {
		key := DeriveKey(prefix, args...)

		if value, err := m.Get(ctx, key); err == nil {
			return value, nil
		}

		value, err := provider(ctx, args...)
		if err != nil {
			return nil, err
		}
		if value == nil && !opts.CacheAbsent {
			return nil, nil
		}
		if err := m.Set(ctx, key, value, opts.TTL); err != nil {
			m.log.Warn("cache-aside store failed", "key", key, "error", err)
		}
		return value, nil
	}
}

// WrapSingleFlight is Wrap with per-key deduplication: concurrent
// callers missing on the same key share one in-flight provider
// execution instead of duplicating work.
func (m *Manager) WrapSingleFlight(prefix string, opts WrapOptions, provider Provider) Provider {
	return func(ctx context.Context, args ...string) ([]byte, error) {
		key := DeriveKey(prefix, args...)

		if value, err := m.Get(ctx, key); err == nil {
			return value, nil
		}

		v, err, _ := m.sf.Do(key, func() (interface{}, error) {
			// Re-check: another flight may have populated the key
			// between our miss and acquiring the flight.
			if value, err := m.Get(ctx, key); err == nil {
				return value, nil
			}
			value, err := provider(ctx, args...)
			if err != nil {
				return nil, err
			}
			if value == nil && !opts.CacheAbsent {
				return []byte(nil), nil
			}
			if err := m.Set(ctx, key, value, opts.TTL); err != nil {
				m.log.Warn("cache-aside store failed", "key", key, "error", err)
			}
			return value, nil
		})
		if err != nil {
			return nil, err
		}
		return v.([]byte), nil
	}
}

// Loader fetches the value for a single key during cache warming.
type Loader func(ctx context.Context, key string) ([]byte, error)

// WarmResult summarizes a warming run.
type WarmResult struct {
	Loaded   int
	Errors   int
	Duration time.Duration
}

// Warm loads the given keys through loader with bounded concurrency and
// stores the successes. Individual failures are logged and counted,
// never aborting the run.
func (m *Manager) Warm(ctx context.Context, keys []string, loader Loader, ttlArg time.Duration) WarmResult {
	ctx, span := m.tracer.StartWarm(ctx, len(keys))
	defer span.End()

	start := time.Now()
	var loaded, errored atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.WarmConcurrency)

	for _, key := range keys {
		g.Go(func() error {
			value, err := loader(gctx, key)
			if err != nil {
				errored.Add(1)
				m.log.Warn("warm load failed", "key", key, "error", err)
				return nil
			}
			if err := m.Set(gctx, key, value, ttlArg); err != nil {
				errored.Add(1)
				m.log.Warn("warm store failed", "key", key, "error", err)
				return nil
			}
			loaded.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	result := WarmResult{
		Loaded:   int(loaded.Load()),
		Errors:   int(errored.Load()),
		Duration: time.Since(start),
	}
	m.metrics.ObserveWarm(result.Duration, result.Loaded, result.Errors)
	m.log.Info("cache warm complete", "loaded", result.Loaded, "errors", result.Errors, "duration", result.Duration)
	return result
}

// Stats returns the layered hit/miss view with per-store substats.
func (m *Manager) Stats() ManagerStats {
	s := ManagerStats{
		L1Hits: m.l1Hits.Load(),
		L2Hits: m.l2Hits.Load(),
		Misses: m.misses.Load(),
		L1:     m.l1.Stats(),
	}
	if m.l2 != nil {
		s.L2 = m.l2.Stats()
	}
	total := s.L1Hits + s.L2Hits + s.Misses
	if total > 0 {
		s.HitRate = float64(s.L1Hits+s.L2Hits) / float64(total)
	}
	return s
}

// HitRatio exposes the advisory policy's global view.
func (m *Manager) HitRatio() float64 {
	return m.policy.HitRatio()
}

// Analyzer returns the shared access pattern analyzer.
func (m *Manager) Analyzer() *ttl.Analyzer {
	return m.analyzer
}

// Close stops maintenance and releases both tiers. Safe to call twice.
func (m *Manager) Close() error {
	if !m.stopped.CompareAndSwap(false, true) {
		return nil
	}
	close(m.stopCh)
	<-m.done

	err := m.l1.Close()
	if m.l2 != nil {
		if l2Err := m.l2.Close(); err == nil {
			err = l2Err
		}
	}
	return err
}

// maintenanceLoop runs periodic upkeep until Close. Each cycle is
// bounded by MaintenanceBudget so foreground traffic is never starved.
func (m *Manager) maintenanceLoop() {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.cfg.MaintenanceBudget)
			m.runMaintenance(ctx)
			cancel()
		case <-m.stopCh:
			return
		}
	}
}

// runMaintenance performs one upkeep cycle: expiry sweep, access
// pattern cleanup, and advisory eviction under memory pressure.
func (m *Manager) runMaintenance(ctx context.Context) {
	ctx, span := m.tracer.StartMaintenance(ctx)
	defer span.End()

	start := time.Now()

	expired := m.l1.Cleanup()
	removed := m.analyzer.Cleanup(m.cfg.PatternRetention)
	evicted := m.relievePressure(ctx)

	d := time.Since(start)
	m.metrics.ObserveMaintenance(d)
	if expired > 0 || removed > 0 || evicted > 0 {
		m.log.Debug("maintenance cycle",
			"expired", expired, "patterns_removed", removed, "evicted", evicted, "duration", d)
	}
}

// relievePressure consults the adaptive policy when the L1 byte budget
// runs hot and evicts the highest-scored candidates.
func (m *Manager) relievePressure(ctx context.Context) int {
	stats := m.l1.Stats()
	if stats.MaxSizeBytes == 0 || stats.Utilization() < 0.9 {
		return 0
	}

	candidates := m.policy.Candidates(m.l1.Entries(), m.cfg.PressureEvictBatch)
	evicted := 0
	for _, key := range candidates {
		if ctx.Err() != nil {
			break
		}
		if m.l1.Delete(ctx, key) == nil {
			evicted++
		}
	}
	if evicted > 0 {
		m.metrics.RecordEviction(evicted)
	}
	return evicted
}

// effectiveTTL resolves the TTL for a write: explicit beats the
// per-key override beats the process default.
func (m *Manager) effectiveTTL(key string, explicit time.Duration) time.Duration {
	if explicit > 0 {
		return explicit
	}
	m.overrideMu.RLock()
	override, ok := m.ttlOverrides[key]
	m.overrideMu.RUnlock()
	if ok && override > 0 {
		return override
	}
	return m.cfg.DefaultTTL
}

// recordAccess feeds the analyzer without overriding known metadata.
func (m *Manager) recordAccess(key string, size int64) {
	m.analyzer.Record(key, ttl.DataTypeUnknown, size, "")
}

// encodeRemote prepares a value for the L2 tier: compressed above the
// threshold, then wrapped in a msgpack envelope.
func (m *Manager) encodeRemote(key string, value []byte) ([]byte, error) {
	payload := value
	compressed := false
	if m.codec.Enabled() && m.cfg.CompressionThresholdBytes > 0 &&
		int64(len(value)) >= m.cfg.CompressionThresholdBytes {
		out, err := m.codec.Compress(value)
		if err != nil {
			return nil, err
		}
		if len(out) < len(value) {
			payload = out
			compressed = true
			m.codec.Record(len(value), len(out))
		}
	}
	return EncodeEnvelope(Envelope{
		Key:        key,
		Payload:    payload,
		Compressed: compressed,
		CreatedAt:  time.Now(),
	})
}

// decodeRemote unwraps an L2 payload. Corrupt payloads count as decode
// errors and read as misses.
func (m *Manager) decodeRemote(key string, data []byte) ([]byte, bool) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		m.l2.RecordDecodeError()
		m.log.Warn("l2 payload corrupt", "key", key, "error", err)
		return nil, false
	}
	if !env.Compressed {
		return env.Payload, true
	}
	value, err := m.codec.Decompress(env.Payload)
	if err != nil {
		m.l2.RecordDecodeError()
		m.log.Warn("l2 payload decompression failed", "key", key, "error", err)
		return nil, false
	}
	return value, true
}
