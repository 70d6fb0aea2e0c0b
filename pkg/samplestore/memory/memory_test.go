package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loadscope/loadscope/pkg/samplestore"
)

func record(entity string, timeMs int64) samplestore.Record {
	return samplestore.Record{
		Group:  "g1",
		Entity: entity,
		TimeMs: timeMs,
		Values: map[int]float64{0: 1, 1: 2},
	}
}

func TestAppendAndReplayInTimeOrder(t *testing.T) {
	store := New()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, []samplestore.Record{
		record("e1", 3000),
		record("e1", 1000),
		record("e2", 2000),
	}))

	var times []int64
	err := store.Replay(ctx, func(r samplestore.Record) error {
		times = append(times, r.TimeMs)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1000, 2000, 3000}, times)
}

func TestPurge(t *testing.T) {
	store := New()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, []samplestore.Record{
		record("e1", 1000),
		record("e1", 2000),
		record("e1", 3000),
	}))
	require.NoError(t, store.Purge(ctx, 2000))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.TotalRecords)
	assert.Equal(t, int64(2000), stats.OldestMs)
	assert.Equal(t, int64(3000), stats.NewestMs)
}

func TestStatsEmpty(t *testing.T) {
	store := New()
	defer store.Close()

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), stats.TotalRecords)
}

func TestReplayStopsOnError(t *testing.T) {
	store := New()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, []samplestore.Record{
		record("e1", 1000),
		record("e1", 2000),
	}))

	var seen int
	err := store.Replay(ctx, func(samplestore.Record) error {
		seen++
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, seen)
}
