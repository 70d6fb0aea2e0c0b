package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/loadscope/loadscope/pkg/samplestore"
)

// Store implements samplestore.Store on BadgerDB (LSM tree). Keys lead
// with the big-endian sample timestamp so Replay is a single ascending
// iteration and Purge is a prefix-bounded sweep.
type Store struct {
	db  *badger.DB
	seq atomic.Uint32
}

// Config holds BadgerDB configuration.
type Config struct {
	// Path to store database files.
	Path string

	// InMemory mode (for testing).
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = defaults).
	MaxMemoryMB int64
}

// New creates a BadgerDB sample store.
func New(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// Conservative memory bounds: badger's defaults assume a server with
	// spare gigabytes, a load monitor sidecar does not get those.
	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	}

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(memTableSize / 2).
		WithIndexCacheSize(memTableSize / 4).
		WithMaxLevels(4).
		WithNumCompactors(2).
		WithValueThreshold(1024).
		WithValueLogFileSize(64 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &Store{db: db}, nil
}

// Append persists records in one transaction.
func (s *Store) Append(ctx context.Context, records []samplestore.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, r := range records {
			value, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("failed to encode record: %w", err)
			}
			if err := txn.Set(s.makeKey(r), value); err != nil {
				return fmt.Errorf("failed to write record: %w", err)
			}
		}
		return nil
	})
}

// Replay streams all records in key (i.e. timestamp) order.
func (s *Store) Replay(ctx context.Context, fn func(samplestore.Record) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchSize = 100

		it := txn.NewIterator(opts)
		defer it.Close()

		var n int
		for it.Rewind(); it.Valid(); it.Next() {
			n++
			// Check for cancellation periodically, not per record.
			if n%1000 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			err := it.Item().Value(func(val []byte) error {
				var r samplestore.Record
				if err := json.Unmarshal(val, &r); err != nil {
					return fmt.Errorf("failed to decode record: %w", err)
				}
				return fn(r)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Purge removes records older than the given timestamp.
func (s *Store) Purge(ctx context.Context, beforeMs int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Collect expired keys first; mutating inside an iteration is not
	// allowed by badger.
	var expired [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().KeyCopy(nil)
			if timestampOf(key) >= beforeMs {
				// Keys ascend by timestamp; everything after is newer.
				break
			}
			expired = append(expired, key)
		}
		return nil
	})
	if err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range expired {
		if err := wb.Delete(key); err != nil {
			return fmt.Errorf("failed to delete record: %w", err)
		}
	}
	return wb.Flush()
}

// Stats returns store statistics.
func (s *Store) Stats(ctx context.Context) (*samplestore.Stats, error) {
	stats := &samplestore.Stats{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		first := true
		for it.Rewind(); it.Valid(); it.Next() {
			ts := timestampOf(it.Item().Key())
			if first {
				stats.OldestMs = ts
				first = false
			}
			stats.NewestMs = ts
			stats.TotalRecords++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	lsm, vlog := s.db.Size()
	stats.SizeBytes = uint64(lsm + vlog)
	return stats, nil
}

// RunGC runs one round of value log garbage collection. Badger returns
// an error when nothing needed rewriting, which callers may ignore.
func (s *Store) RunGC(discardRatio float64) error {
	return s.db.RunValueLogGC(discardRatio)
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// makeKey builds a 20-byte key: timestamp, entity hash, sequence. The
// leading timestamp keeps iteration in time order; the hash spreads
// entities; the sequence disambiguates same-millisecond samples of one
// entity.
func (s *Store) makeKey(r samplestore.Record) []byte {
	key := make([]byte, 20)
	binary.BigEndian.PutUint64(key[0:8], uint64(r.TimeMs))
	binary.BigEndian.PutUint64(key[8:16], xxhash.Sum64String(r.Group+"\x00"+r.Entity))
	binary.BigEndian.PutUint32(key[16:20], s.seq.Add(1))
	return key
}

func timestampOf(key []byte) int64 {
	return int64(binary.BigEndian.Uint64(key[0:8]))
}
