package aggregator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loadscope/loadscope/pkg/metricdef"
)

// addWindowSamples drops n identical-valued samples for e into window w.
func addWindowSamples(t *testing.T, agg *Aggregator, e Entity, w int64, n int, value float64) {
	t.Helper()
	step := testWindowMs / int64(n)
	for j := 0; j < n; j++ {
		require.True(t, agg.Add(Sample{
			Entity: e,
			TimeMs: w*testWindowMs + int64(j)*step,
			Values: fullValues(agg.def, value),
		}))
	}
}

func TestExtrapolationAvgAvailable(t *testing.T) {
	agg, _ := testAggregator(t, testMinSamples)
	// Window 5 holds only half the required samples.
	addWindowSamples(t, agg, entity1, 5, testMinSamples/2, 42)

	vals, kind, ok := agg.engine.resolve(entity1, 5, false)
	require.True(t, ok)
	assert.Equal(t, AvgAvailable, kind)
	assert.Equal(t, int64(5000), vals.WindowStartMs)
	assert.Equal(t, 42.0, vals.Values[0])
}

func TestExtrapolationAvgAdjacent(t *testing.T) {
	agg, def := testAggregator(t, testMinSamples)
	// Windows 4 and 6 are sufficient; window 5 holds a single sample,
	// below the partial threshold of 2.
	addWindowSamples(t, agg, entity1, 4, testMinSamples, 10)
	addWindowSamples(t, agg, entity1, 5, 1, 999)
	addWindowSamples(t, agg, entity1, 6, testMinSamples, 30)

	vals, kind, ok := agg.engine.resolve(entity1, 5, false)
	require.True(t, ok)
	assert.Equal(t, AvgAdjacent, kind)
	assert.Equal(t, int64(5000), vals.WindowStartMs)
	// The mean of the two neighbor reductions, for every strategy,
	// including LATEST and MAX.
	for _, info := range def.All() {
		want := 20.0
		if info.Strategy() == metricdef.Sum {
			want = float64(testMinSamples) * 20
		}
		assert.InDelta(t, want, vals.Values[info.ID()], 1e-9, "metric %s", info.Name())
	}
}

func TestExtrapolationAvgAdjacentNeedsBothNeighbors(t *testing.T) {
	agg, _ := testAggregator(t, testMinSamples)
	addWindowSamples(t, agg, entity1, 4, testMinSamples, 10)
	// No window 6: the adjacent fallback must be skipped entirely.

	_, kind, ok := agg.engine.resolve(entity1, 5, false)
	assert.False(t, ok)
	assert.Equal(t, NoValidExtrapolation, kind)
}

func TestExtrapolationPrevPeriod(t *testing.T) {
	agg, _ := testAggregator(t, testMinSamples)
	// Window w-N is sufficient; w itself and its neighbors are empty.
	w := int64(testNumWindows + 3)
	addWindowSamples(t, agg, entity1, w-testNumWindows, testMinSamples, 17)
	// Keep w in range by rolling the aggregator forward.
	addWindowSamples(t, agg, entity2, w+1, testMinSamples, 1)

	vals, kind, ok := agg.engine.resolve(entity1, w, false)
	require.True(t, ok)
	assert.Equal(t, PrevPeriod, kind)
	// The borrowed values are stamped with the requested window.
	assert.Equal(t, w*testWindowMs, vals.WindowStartMs)
	assert.Equal(t, 17.0, vals.Values[0])
}

func TestExtrapolationForcedInsufficient(t *testing.T) {
	agg, _ := testAggregator(t, testMinSamples)
	addWindowSamples(t, agg, entity1, 5, 1, 3)

	_, _, ok := agg.engine.resolve(entity1, 5, false)
	assert.False(t, ok, "a single sample must not qualify without forcing")

	vals, kind, ok := agg.engine.resolve(entity1, 5, true)
	require.True(t, ok)
	assert.Equal(t, ForcedInsufficient, kind)
	assert.Equal(t, 3.0, vals.Values[0])
}

func TestExtrapolationForcedUnknown(t *testing.T) {
	agg, def := testAggregator(t, testMinSamples)
	addWindowSamples(t, agg, entity1, 5, testMinSamples, 3)

	// entity2 has no data anywhere: forcing synthesizes zeros.
	vals, kind, ok := agg.engine.resolve(entity2, 5, true)
	require.True(t, ok)
	assert.Equal(t, ForcedUnknown, kind)
	for _, info := range def.All() {
		assert.Zero(t, vals.Values[info.ID()])
	}

	_, kind, ok = agg.engine.resolve(entity2, 5, false)
	assert.False(t, ok)
	assert.Equal(t, NoValidExtrapolation, kind)
}

func TestExtrapolationPrefersOwnData(t *testing.T) {
	agg, _ := testAggregator(t, testMinSamples)
	addWindowSamples(t, agg, entity1, 4, testMinSamples, 10)
	addWindowSamples(t, agg, entity1, 5, testMinSamples, 50)
	addWindowSamples(t, agg, entity1, 6, testMinSamples, 30)

	// Sufficient own data wins over any fallback.
	vals, kind, ok := agg.engine.resolve(entity1, 5, false)
	require.True(t, ok)
	assert.Equal(t, NoExtrapolation, kind)
	assert.Equal(t, 50.0, vals.Values[0])
}

func TestAggregateRecordsExtrapolations(t *testing.T) {
	agg, _ := testAggregator(t, testMinSamples)
	populate(t, agg, entity1, 1, testNumWindows+1, testMinSamples)
	// Thin out one settled window for a second entity so that its cell
	// resolves via the forced fallback.
	populate(t, agg, entity2, 1, testNumWindows+1, testMinSamples)
	addWindowSamples(t, agg, entity3, 10, 1, 5)

	opts := AggregationOptions{
		MinValidEntityRatio:      0,
		MinValidEntityGroupRatio: 0,
		NumWindows:               testNumWindows,
		Granularity:              GranularityEntity,
		IncludeInvalidEntities:   true,
	}
	result, err := agg.Aggregate(-1, math.MaxInt64, opts)
	require.NoError(t, err)

	require.Contains(t, result.Entities, Entity(entity3))
	assert.True(t, result.InvalidEntities[entity3])
	vae := result.Entities[entity3]
	// Windows are most recent first; window 10 sits at position N-10.
	pos := testNumWindows - 10
	assert.Equal(t, ForcedInsufficient, vae.Extrapolations[pos])
	// Everything else had no data at all.
	assert.Equal(t, ForcedUnknown, vae.Extrapolations[0])
}
