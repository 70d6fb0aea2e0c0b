// Package client is the producer-side push client: it batches samples
// and ships them to a loadscope server in the background.
package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Defaults applied by New.
const (
	DefaultEndpoint     = "http://localhost:8080/v1/samples"
	DefaultMaxBatchSize = 1000
	DefaultFlushEvery   = 5 * time.Second
)

// Config holds client configuration.
type Config struct {
	// Endpoint is the ingest URL of the loadscope server.
	Endpoint string
	// APIKey is attached as a bearer token when set.
	APIKey string
	// MaxBatchSize triggers an early flush when the buffer fills up.
	MaxBatchSize int
	// FlushEvery is the periodic flush interval.
	FlushEvery time.Duration
}

// Client batches samples and sends them periodically.
type Client struct {
	config    Config
	transport Transport

	samples []Sample
	mu      sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	started  atomic.Bool
	flushing atomic.Bool
}

// New creates a client. Zero config fields fall back to defaults.
func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = DefaultFlushEvery
	}
	return &Client{
		config:    cfg,
		transport: NewHTTPTransport(cfg.Endpoint, cfg.APIKey),
		samples:   make([]Sample, 0, cfg.MaxBatchSize),
		done:      make(chan struct{}),
	}, nil
}

// SetTransport replaces the transport. Call before Start; used by tests
// and by embedders with custom delivery.
func (c *Client) SetTransport(t Transport) {
	c.transport = t
}

// Start launches the background flush loop.
func (c *Client) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("client already started")
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	go c.flushLoop()
	return nil
}

// Report buffers one sample. A full buffer triggers an asynchronous
// flush; the compare-and-swap keeps it to one flusher at a time so a
// hot producer cannot spawn unbounded goroutines.
func (c *Client) Report(s Sample) {
	c.mu.Lock()
	c.samples = append(c.samples, s)
	shouldFlush := len(c.samples) >= c.config.MaxBatchSize
	c.mu.Unlock()

	if shouldFlush && c.flushing.CompareAndSwap(false, true) {
		go func() {
			c.flush()
			c.flushing.Store(false)
		}()
	}
}

// Flush synchronously sends all buffered samples.
func (c *Client) Flush() error {
	batch := c.takeBatch()
	if len(batch) == 0 {
		return nil
	}
	return c.send(batch)
}

// Stop terminates the flush loop and sends whatever is still buffered.
func (c *Client) Stop() error {
	if !c.started.Load() {
		return c.Flush()
	}
	c.cancel()
	<-c.done
	return c.Flush()
}

func (c *Client) flushLoop() {
	defer close(c.done)

	ticker := time.NewTicker(c.config.FlushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if c.flushing.CompareAndSwap(false, true) {
				c.flush()
				c.flushing.Store(false)
			}
		}
	}
}

func (c *Client) flush() {
	batch := c.takeBatch()
	if len(batch) == 0 {
		return
	}
	// Delivery failures are dropped, not retried; the engine treats a
	// missing sample as reduced completeness, never as corruption.
	_ = c.send(batch)
}

func (c *Client) takeBatch() []Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.samples) == 0 {
		return nil
	}
	batch := make([]Sample, len(c.samples))
	copy(batch, c.samples)
	c.samples = c.samples[:0]
	return batch
}

func (c *Client) send(batch []Sample) error {
	// Deliberately not derived from c.ctx: the final flush in Stop runs
	// after the loop context is cancelled.
	sendCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.transport.Send(sendCtx, batch)
}
