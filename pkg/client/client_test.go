package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureTransport struct {
	mu      sync.Mutex
	batches [][]Sample
}

func (c *captureTransport) Send(ctx context.Context, samples []Sample) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	batch := make([]Sample, len(samples))
	copy(batch, samples)
	c.batches = append(c.batches, batch)
	return nil
}

func (c *captureTransport) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, b := range c.batches {
		n += len(b)
	}
	return n
}

func sample(entity string, v float64) Sample {
	return Sample{
		Group:  "brokers",
		Entity: entity,
		TimeMs: 1000,
		Values: map[string]float64{"cpu_util": v},
	}
}

func TestFlushSendsBufferedSamples(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)
	transport := &captureTransport{}
	c.SetTransport(transport)

	c.Report(sample("b1", 1))
	c.Report(sample("b2", 2))
	require.NoError(t, c.Flush())

	assert.Equal(t, 2, transport.total())

	// Nothing left: a second flush is a no-op.
	require.NoError(t, c.Flush())
	assert.Len(t, transport.batches, 1)
}

func TestFullBatchTriggersFlush(t *testing.T) {
	c, err := New(Config{MaxBatchSize: 2, FlushEvery: time.Hour})
	require.NoError(t, err)
	transport := &captureTransport{}
	c.SetTransport(transport)
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	c.Report(sample("b1", 1))
	c.Report(sample("b2", 2))

	assert.Eventually(t, func() bool {
		return transport.total() == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStopFlushesRemainder(t *testing.T) {
	c, err := New(Config{FlushEvery: time.Hour})
	require.NoError(t, err)
	transport := &captureTransport{}
	c.SetTransport(transport)
	require.NoError(t, c.Start(context.Background()))

	c.Report(sample("b1", 1))
	require.NoError(t, c.Stop())
	assert.Equal(t, 1, transport.total())
}

func TestStartTwiceFails(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)
	c.SetTransport(&captureTransport{})
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()
	assert.Error(t, c.Start(context.Background()))
}

func TestHTTPTransportSendsIngestPayload(t *testing.T) {
	type ingestRequest struct {
		Samples []Sample `json:"samples"`
	}

	received := make(chan ingestRequest, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var req ingestRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		received <- req
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	transport := NewHTTPTransport(server.URL, "secret")
	err := transport.Send(context.Background(), []Sample{sample("b1", 0.5)})
	require.NoError(t, err)

	req := <-received
	require.Len(t, req.Samples, 1)
	assert.Equal(t, "b1", req.Samples[0].Entity)
	assert.Equal(t, 0.5, req.Samples[0].Values["cpu_util"])
}

func TestHTTPTransportSurfacesServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	transport := NewHTTPTransport(server.URL, "")
	err := transport.Send(context.Background(), []Sample{sample("b1", 1)})
	assert.Error(t, err)
}
