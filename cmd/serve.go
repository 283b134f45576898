package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tradewatch/cachecore/pkg/cache"
	"github.com/tradewatch/cachecore/pkg/compress"
	"github.com/tradewatch/cachecore/pkg/config"
	"github.com/tradewatch/cachecore/pkg/metrics"
	"github.com/tradewatch/cachecore/pkg/telemetry"
	"github.com/tradewatch/cachecore/pkg/ttl"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the cachecore daemon",
	Long: `Starts the layered cache daemon with its operational HTTP endpoint.

Example:
  cachecore serve --port 9090
  cachecore serve --config /etc/cachecore/cachecore.yaml

The server exposes:
  GET  /metrics  - Prometheus metrics
  GET  /healthz  - Health check
  GET  /stats    - Cache and TTL statistics (JSON)`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Server settings
	serveCmd.Flags().IntP("port", "p", 9090, "HTTP server port")
	serveCmd.Flags().String("host", "0.0.0.0", "HTTP server host")

	// Backend settings
	serveCmd.Flags().String("redis-addr", "", "Redis address for the distributed tier (enables L2)")

	// Bind to viper
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
}

// Server holds the daemon state behind the operational endpoint.
type Server struct {
	manager   *cache.Manager
	optimizer *ttl.Optimizer
	mets      *metrics.Metrics
	log       *slog.Logger
}

// StatsResponse is the JSON body for GET /stats.
type StatsResponse struct {
	L1Hits  int64   `json:"l1_hits"`
	L2Hits  int64   `json:"l2_hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`

	L1 TierStats `json:"l1"`
	L2 TierStats `json:"l2"`

	TTL TTLStats `json:"ttl"`
}

// TierStats summarizes a single cache tier.
type TierStats struct {
	Size        int64   `json:"size"`
	SizeBytes   int64   `json:"size_bytes"`
	Evictions   int64   `json:"evictions"`
	Expirations int64   `json:"expirations"`
	Errors      int64   `json:"errors"`
	Utilization float64 `json:"utilization"`
}

// TTLStats summarizes the learned TTL subsystem.
type TTLStats struct {
	TrackedKeys      int       `json:"tracked_keys"`
	AdjustmentsCount int       `json:"adjustments_count"`
	AvgChangePercent float64   `json:"avg_change_percent"`
	Increased        int       `json:"increased"`
	Decreased        int       `json:"decreased"`
	TopCandidates    []TTLItem `json:"top_candidates,omitempty"`
}

// TTLItem is one TTL recommendation.
type TTLItem struct {
	Key            string  `json:"key"`
	CurrentTTLSec  float64 `json:"current_ttl_sec"`
	PredictedSec   float64 `json:"predicted_ttl_sec"`
	Confidence     float64 `json:"confidence"`
	Recommendation string  `json:"recommendation"`
}

func runServe(cmd *cobra.Command, args []string) error {
	redisAddr, _ := cmd.Flags().GetString("redis-addr")

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	if redisAddr != "" {
		cfg.Redis.Enabled = true
		cfg.Redis.Addr = redisAddr
	}

	level := slog.LevelInfo
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	ctx := context.Background()

	// Tracing
	tp, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Tracing.Enabled,
		Exporter:    cfg.Telemetry.Tracing.Exporter,
		Endpoint:    cfg.Telemetry.Tracing.Endpoint,
		SampleRate:  cfg.Telemetry.Tracing.SampleRate,
		ServiceName: "cachecore",
		Insecure:    cfg.Telemetry.Tracing.Insecure,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	mets := metrics.New()

	// Layered cache
	mgrCfg := cache.DefaultManagerConfig()
	mgrCfg.L1.MaxEntries = int64(cfg.Cache.L1MaxEntries)
	mgrCfg.L1.MaxSizeBytes = int64(cfg.Cache.MaxMemoryMB) * 1024 * 1024
	mgrCfg.DefaultTTL = cfg.Cache.DefaultTTL
	mgrCfg.CompressionThresholdBytes = int64(cfg.Cache.CompressionThresholdBytes)
	mgrCfg.Compression = compress.Options{
		Algorithm: compress.Algorithm(cfg.Cache.CompressionAlgorithm),
		Level:     cfg.Cache.CompressionLevel,
	}
	mgrCfg.MaintenanceInterval = cfg.Cache.MaintenanceInterval
	mgrCfg.PatternRetention = time.Duration(cfg.TTL.PatternRetentionHours) * time.Hour
	mgrCfg.WarmConcurrency = cfg.Cache.WarmConcurrency

	opts := []cache.Option{
		cache.WithLogger(log),
		cache.WithMetrics(mets),
		cache.WithTracing(tp),
	}

	if cfg.Redis.Enabled {
		l2, err := cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			KeyPrefix:   cfg.Redis.KeyPrefix,
			DefaultTTL:  cfg.Cache.DefaultTTL,
			PoolSize:    cfg.Redis.PoolSize,
			DialTimeout: cfg.Redis.DialTimeout,
			OpTimeout:   cfg.Redis.OpTimeout,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		opts = append(opts, cache.WithL2(l2))
		log.Info("distributed tier enabled", "addr", cfg.Redis.Addr)
	}

	manager, err := cache.NewManager(mgrCfg, opts...)
	if err != nil {
		return fmt.Errorf("failed to create cache manager: %w", err)
	}
	defer func() { _ = manager.Close() }()

	// TTL learning
	predCfg := ttl.DefaultPredictorConfig()
	predCfg.CacheTTL = time.Duration(cfg.TTL.PredictionCacheSeconds) * time.Second
	optimizer := ttl.NewOptimizer(manager.Analyzer(), ttl.NewPredictor(predCfg), log)

	// Periodic TTL upkeep: stale patterns, applied-TTL records, and
	// expired cached predictions.
	upkeepEvery := mgrCfg.MaintenanceInterval
	if upkeepEvery <= 0 {
		upkeepEvery = cache.DefaultManagerConfig().MaintenanceInterval
	}
	ttlStop := make(chan struct{})
	defer close(ttlStop)
	go func() {
		ticker := time.NewTicker(upkeepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				optimizer.Cleanup()
			case <-ttlStop:
				return
			}
		}
	}()

	server := &Server{
		manager:   manager,
		optimizer: optimizer,
		mets:      mets,
		log:       log,
	}

	// Setup routes
	mux := http.NewServeMux()
	mux.Handle("/metrics", mets.Handler())
	mux.HandleFunc("/healthz", server.handleHealth)
	mux.HandleFunc("/stats", server.handleStats)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown error", "error", err)
		}
		close(done)
	}()

	log.Info("cachecore daemon starting",
		"addr", addr,
		"l1_max_entries", cfg.Cache.L1MaxEntries,
		"l2_enabled", cfg.Redis.Enabled,
		"compression", cfg.Cache.CompressionAlgorithm,
	)

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	<-done
	log.Info("server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ms := s.manager.Stats()
	ts := s.optimizer.Stats()

	// Refresh the gauges that only move on demand.
	s.mets.SetMemoryUtilization(ms.L1.Utilization())

	resp := StatsResponse{
		L1Hits:  ms.L1Hits,
		L2Hits:  ms.L2Hits,
		Misses:  ms.Misses,
		HitRate: ms.HitRate,
		L1:      tierStats(ms.L1),
		L2:      tierStats(ms.L2),
		TTL: TTLStats{
			TrackedKeys:      s.manager.Analyzer().Len(),
			AdjustmentsCount: ts.Count,
			AvgChangePercent: ts.AvgPercentChange,
			Increased:        ts.Increased,
			Decreased:        ts.Decreased,
		},
	}

	for _, c := range s.optimizer.TopCandidates(10) {
		pred := s.optimizer.Predict(c.Key, c.CurrentTTL)
		resp.TTL.TopCandidates = append(resp.TTL.TopCandidates, TTLItem{
			Key:            c.Key,
			CurrentTTLSec:  c.CurrentTTL.Seconds(),
			PredictedSec:   c.RecommendedTTL.Seconds(),
			Confidence:     pred.Confidence,
			Recommendation: pred.RecommendedAction,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func tierStats(s cache.Stats) TierStats {
	return TierStats{
		Size:        s.Size,
		SizeBytes:   s.SizeBytes,
		Evictions:   s.Evictions,
		Expirations: s.Expirations,
		Errors:      s.Errors,
		Utilization: s.Utilization(),
	}
}
