package config

import "time"

// Server defaults
const (
	DefaultPort        = "8080"
	DefaultDataDir     = "./data/loadscope"
	DefaultMaxMemoryMB = 48
	DefaultMaxDiskGB   = 1
)

// Aggregation engine defaults. A window is a fixed-width time bucket;
// the engine keeps NumWindows reportable windows plus spares and the
// active one (see pkg/aggregator).
const (
	DefaultNumWindows          = 20
	DefaultWindowMs            = int64(60_000)
	DefaultMinSamplesPerWindow = 4
	DefaultExtraWindowsKept    = 5
)

// HTTP timeouts and limits
const (
	ServerReadTimeout    = 10 * time.Second
	ServerWriteTimeout   = 30 * time.Second
	ShutdownTimeout      = 30 * time.Second
	MaxSamplesPerRequest = 1000
)

// Entity cardinality limits enforced at the HTTP boundary
const (
	MaxEntityNameLength = 256
	MaxGroupNameLength  = 256
	MaxUniqueEntities   = 100000
	MaxEntitiesPerGroup = 10000
)

// WebSocket configuration. The broadcast tick doubles as the
// keepalive: up-to-date subscribers are pinged on the same interval.
const (
	WSReadBufferSize    = 1024
	WSWriteBufferSize   = 1024
	WSWriteDeadline     = 10 * time.Second
	WSReadDeadline      = 60 * time.Second
	WSBroadcastInterval = 5 * time.Second
)

// Sample store configuration
const (
	BadgerGCInterval  = 10 * time.Minute
	DiskCheckInterval = 10 * time.Second
)
