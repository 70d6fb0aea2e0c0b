// Command loadgen produces synthetic cluster load samples against a
// loadscope server. Useful for demos and for smoke-testing a deployment.
package main

import (
	"context"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/loadscope/loadscope/pkg/client"
)

func main() {
	endpoint := getEnvString("LOADGEN_ENDPOINT", client.DefaultEndpoint)
	numTopics := int(getEnvInt64("LOADGEN_TOPICS", 3))
	partitionsPerTopic := int(getEnvInt64("LOADGEN_PARTITIONS", 8))
	interval := time.Duration(getEnvInt64("LOADGEN_INTERVAL_MS", 1000)) * time.Millisecond

	c, err := client.New(client.Config{Endpoint: endpoint})
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		log.Fatalf("Failed to start client: %v", err)
	}
	defer c.Stop()

	log.Printf("Producing load for %d topics x %d partitions against %s every %v",
		numTopics, partitionsPerTopic, endpoint, interval)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-quit:
			log.Println("Stopping load generator")
			return
		case now := <-ticker.C:
			// A slow sine wave plus jitter makes the dashboards move.
			phase := now.Sub(start).Seconds() / 60
			for topic := 0; topic < numTopics; topic++ {
				for p := 0; p < partitionsPerTopic; p++ {
					base := 0.3 + 0.2*math.Sin(phase+float64(topic))
					c.Report(client.Sample{
						Group:  "topic-" + strconv.Itoa(topic),
						Entity: "partition-" + strconv.Itoa(p),
						TimeMs: now.UnixMilli(),
						Values: map[string]float64{
							"cpu_util":        clamp01(base + 0.05*rand.Float64()),
							"bytes_in_rate":   1e6 * (base + 0.1*rand.Float64()),
							"bytes_out_rate":  8e5 * (base + 0.1*rand.Float64()),
							"disk_util":       clamp01(0.5 + 0.01*phase),
							"request_peak_ms": 5 + 50*rand.Float64(),
							"messages_in":     math.Floor(1000 * (base + rand.Float64())),
						},
					})
				}
			}
		}
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
		log.Printf("Invalid value for %s: %q, using default %d", key, val, defaultValue)
	}
	return defaultValue
}

func getEnvString(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}
