package samplestore

import (
	"context"

	"github.com/loadscope/loadscope/pkg/aggregator"
)

// Store is the interface for durable sample stores. The aggregation
// engine itself never persists anything; a Store sits beside it so that
// accepted samples survive a restart and can be replayed to warm the
// engine back up.
// Implementations: memory (testing), badger (production).
type Store interface {
	// Append persists a batch of sample records.
	Append(ctx context.Context, records []Record) error

	// Replay streams every retained record in timestamp order.
	Replay(ctx context.Context, fn func(Record) error) error

	// Purge removes records older than the given timestamp.
	Purge(ctx context.Context, beforeMs int64) error

	// Stats returns store health and usage info.
	Stats(ctx context.Context) (*Stats, error)

	// Close cleanly shuts down the store.
	Close() error
}

// Record is the wire form of one accepted sample. Entities are flattened
// to (group, name) so records stay self-describing on disk.
type Record struct {
	Group  string          `json:"group"`
	Entity string          `json:"entity"`
	TimeMs int64           `json:"time_ms"`
	Values map[int]float64 `json:"values"`
}

// FromSample flattens an engine sample into a record.
func FromSample(s aggregator.Sample) Record {
	name := s.Entity.String()
	if ge, ok := s.Entity.(aggregator.GroupedEntity); ok {
		name = ge.Name
	}
	return Record{
		Group:  s.Entity.Group(),
		Entity: name,
		TimeMs: s.TimeMs,
		Values: s.Values,
	}
}

// Sample rebuilds the engine sample for replay.
func (r Record) Sample() aggregator.Sample {
	return aggregator.Sample{
		Entity: aggregator.GroupedEntity{GroupName: r.Group, Name: r.Entity},
		TimeMs: r.TimeMs,
		Values: r.Values,
	}
}

// Stats provides store health and usage info.
type Stats struct {
	// TotalRecords is the number of retained sample records.
	TotalRecords uint64

	// OldestMs and NewestMs bound the retained time range.
	OldestMs int64
	NewestMs int64

	// SizeBytes is the approximate on-disk (or in-memory) size.
	SizeBytes uint64
}

// ReplayInto feeds every retained record into an aggregator. Records the
// engine rejects (evicted windows, validation failures) are counted, not
// fatal.
func ReplayInto(ctx context.Context, store Store, agg *aggregator.Aggregator) (accepted, rejected int64, err error) {
	err = store.Replay(ctx, func(r Record) error {
		if agg.Add(r.Sample()) {
			accepted++
		} else {
			rejected++
		}
		return nil
	})
	return accepted, rejected, err
}
