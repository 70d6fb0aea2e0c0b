package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/loadscope/loadscope/pkg/aggregator"
	"github.com/loadscope/loadscope/pkg/config"
	"github.com/loadscope/loadscope/pkg/metricdef"
	"github.com/loadscope/loadscope/pkg/samplestore"
	"github.com/loadscope/loadscope/pkg/samplestore/badger"
	"github.com/loadscope/loadscope/pkg/server"
	"github.com/loadscope/loadscope/pkg/server/monitor"
)

// clusterMetricDef is the metric catalog of the load monitor: the
// per-entity resources capacity planning cares about.
func clusterMetricDef() *metricdef.MetricDef {
	def := metricdef.New()
	def.Define("cpu_util", metricdef.Avg)
	def.Define("bytes_in_rate", metricdef.Avg)
	def.Define("bytes_out_rate", metricdef.Avg)
	def.Define("disk_util", metricdef.Latest)
	def.Define("request_peak_ms", metricdef.Max)
	def.Define("messages_in", metricdef.Sum)
	return def
}

func main() {
	log.Println("🚀 Starting Loadscope server...")

	engineCfg := aggregator.Config{
		NumWindows:          int(getEnvInt64("LOADSCOPE_NUM_WINDOWS", config.DefaultNumWindows)),
		WindowMs:            getEnvInt64("LOADSCOPE_WINDOW_MS", config.DefaultWindowMs),
		MinSamplesPerWindow: int(getEnvInt64("LOADSCOPE_MIN_SAMPLES", config.DefaultMinSamplesPerWindow)),
		MaxExtraWindowsKept: int(getEnvInt64("LOADSCOPE_EXTRA_WINDOWS", config.DefaultExtraWindowsKept)),
	}
	maxMemoryMB := getEnvInt64("LOADSCOPE_MAX_MEMORY_MB", config.DefaultMaxMemoryMB)
	maxDiskBytes := getEnvInt64("LOADSCOPE_MAX_DISK_GB", config.DefaultMaxDiskGB) * 1024 * 1024 * 1024
	dataDir := getEnvString("LOADSCOPE_DATA_DIR", config.DefaultDataDir)
	port := getEnvString("PORT", config.DefaultPort)

	log.Printf("⚙️  Engine: %d windows of %d ms, %d min samples, %d spares",
		engineCfg.NumWindows, engineCfg.WindowMs, engineCfg.MinSamplesPerWindow, engineCfg.MaxExtraWindowsKept)

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		log.Fatalf("❌ Failed to create data directory: %v", err)
	}

	def := clusterMetricDef()
	agg, err := aggregator.New(engineCfg, def)
	if err != nil {
		log.Fatalf("❌ Failed to create aggregator: %v", err)
	}

	log.Println("💾 Opening sample store (BadgerDB, Snappy compression)...")
	store, err := badger.New(badger.Config{
		Path:        dataDir,
		MaxMemoryMB: maxMemoryMB,
	})
	if err != nil {
		log.Fatalf("❌ Failed to open sample store: %v", err)
	}
	defer store.Close()

	// Warm the engine back up from persisted samples. Records behind the
	// retention horizon are rejected by the engine and purged below.
	replayCtx, cancelReplay := context.WithTimeout(context.Background(), time.Minute)
	accepted, rejected, err := samplestore.ReplayInto(replayCtx, store, agg)
	cancelReplay()
	if err != nil {
		log.Printf("⚠️  Sample replay stopped early: %v", err)
	}
	log.Printf("✅ Replayed %d samples (%d outside the retention horizon)", accepted, rejected)

	diskMonitor := monitor.NewDiskMonitor(dataDir, maxDiskBytes)

	handler := server.NewHandler(agg, def)
	handler.SetSampleStore(store)

	stream := server.NewAggregateStream(agg, def)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		stream.Run(ctx)
	}()
	log.Println("📡 Aggregate stream started for live WebSocket subscribers")

	wg.Add(1)
	go func() {
		defer wg.Done()
		runStoreMaintenance(ctx, store, agg, diskMonitor)
	}()
	log.Printf("🗑️  Store maintenance started (purge + GC every %v)", config.BadgerGCInterval)

	router := server.NewRouter(handler, stream)
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
	}

	go func() {
		log.Printf("🌐 Server listening on http://localhost:%s", port)
		log.Println("📡 API endpoints:")
		log.Println("   POST /v1/samples       - Ingest metric samples")
		log.Println("   GET  /v1/aggregate     - Per-entity aggregated time series")
		log.Println("   GET  /v1/completeness  - Data completeness report")
		log.Println("   GET  /v1/windows       - Retained window horizon")
		log.Println("   GET  /metrics          - Prometheus endpoint")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutdown signal received...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  Server shutdown warning: %v", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Println("✅ All background tasks stopped cleanly")
	case <-time.After(5 * time.Second):
		log.Println("⚠️  Some background tasks did not stop in time (forcing exit)")
	}

	log.Println("👋 Loadscope server exited cleanly")
}

// runStoreMaintenance periodically drops persisted samples behind the
// engine's retention horizon and lets badger reclaim value-log space.
func runStoreMaintenance(ctx context.Context, store *badger.Store, agg *aggregator.Aggregator, disk *monitor.DiskMonitor) {
	ticker := time.NewTicker(config.BadgerGCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if earliest, ok := agg.EarliestWindow(); ok {
				if err := store.Purge(ctx, earliest); err != nil {
					log.Printf("⚠️  Sample purge failed: %v", err)
				}
			}
			// RunGC errors when nothing needed rewriting; that is fine.
			if err := store.RunGC(0.5); err == nil {
				log.Println("🗑️  Badger GC reclaimed disk space")
			}
			if disk.Exceeded() {
				usage, _ := disk.Usage()
				log.Printf("⚠️  Sample store at %d bytes exceeds the %d byte limit; consider shrinking %s",
					usage, disk.Limit(), "LOADSCOPE_NUM_WINDOWS or LOADSCOPE_WINDOW_MS")
			}
		}
	}
}

// getEnvInt64 gets an int64 from an environment variable or returns the
// default.
func getEnvInt64(key string, defaultValue int64) int64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
		log.Printf("⚠️  Invalid value for %s: %q, using default %d", key, val, defaultValue)
	}
	return defaultValue
}

func getEnvString(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}
