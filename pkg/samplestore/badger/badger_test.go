package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loadscope/loadscope/pkg/samplestore"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func record(entity string, timeMs int64, v float64) samplestore.Record {
	return samplestore.Record{
		Group:  "brokers",
		Entity: entity,
		TimeMs: timeMs,
		Values: map[int]float64{0: v},
	}
}

func TestAppendAndReplay(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, []samplestore.Record{
		record("b1", 3000, 3),
		record("b1", 1000, 1),
		record("b2", 2000, 2),
	}))

	var replayed []samplestore.Record
	require.NoError(t, store.Replay(ctx, func(r samplestore.Record) error {
		replayed = append(replayed, r)
		return nil
	}))

	require.Len(t, replayed, 3)
	// Keys lead with the timestamp, so replay is time-ordered.
	assert.Equal(t, int64(1000), replayed[0].TimeMs)
	assert.Equal(t, int64(2000), replayed[1].TimeMs)
	assert.Equal(t, int64(3000), replayed[2].TimeMs)
	assert.Equal(t, "b1", replayed[0].Entity)
	assert.Equal(t, 1.0, replayed[0].Values[0])
}

func TestSameMillisecondSamplesAreKept(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	// Two samples of the same entity in the same millisecond must not
	// overwrite each other.
	require.NoError(t, store.Append(ctx, []samplestore.Record{
		record("b1", 1000, 1),
		record("b1", 1000, 2),
	}))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.TotalRecords)
}

func TestPurge(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, []samplestore.Record{
		record("b1", 1000, 1),
		record("b1", 2000, 2),
		record("b1", 3000, 3),
	}))
	require.NoError(t, store.Purge(ctx, 2500))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.TotalRecords)
	assert.Equal(t, int64(3000), stats.OldestMs)
}
