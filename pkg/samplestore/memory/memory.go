package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/loadscope/loadscope/pkg/samplestore"
)

// Store keeps sample records in memory. Data is lost on restart.
// Useful for testing and development.
type Store struct {
	records []samplestore.Record
	mu      sync.RWMutex
}

// New creates an in-memory sample store.
func New() *Store {
	return &Store{
		records: make([]samplestore.Record, 0, 10000),
	}
}

// Append stores records in memory.
func (s *Store) Append(ctx context.Context, records []samplestore.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, records...)
	return nil
}

// Replay streams all records in timestamp order.
func (s *Store) Replay(ctx context.Context, fn func(samplestore.Record) error) error {
	s.mu.RLock()
	ordered := make([]samplestore.Record, len(s.records))
	copy(ordered, s.records)
	s.mu.RUnlock()

	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].TimeMs < ordered[j].TimeMs
	})

	for _, r := range ordered {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

// Purge removes records older than the given timestamp.
func (s *Store) Purge(ctx context.Context, beforeMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	filtered := make([]samplestore.Record, 0, len(s.records))
	for _, r := range s.records {
		if r.TimeMs >= beforeMs {
			filtered = append(filtered, r)
		}
	}
	s.records = filtered
	return nil
}

// Stats returns store statistics.
func (s *Store) Stats(ctx context.Context) (*samplestore.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &samplestore.Stats{
		TotalRecords: uint64(len(s.records)),
	}
	if len(s.records) == 0 {
		return stats, nil
	}

	oldest := s.records[0].TimeMs
	newest := s.records[0].TimeMs
	for _, r := range s.records {
		if r.TimeMs < oldest {
			oldest = r.TimeMs
		}
		if r.TimeMs > newest {
			newest = r.TimeMs
		}
	}
	stats.OldestMs = oldest
	stats.NewestMs = newest

	// Rough size estimate (each record ~100 bytes)
	stats.SizeBytes = uint64(len(s.records)) * 100
	return stats, nil
}

// Close is a no-op for memory storage.
func (s *Store) Close() error {
	return nil
}
