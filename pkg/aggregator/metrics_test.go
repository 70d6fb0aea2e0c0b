package aggregator

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loadscope/loadscope/pkg/metricdef"
)

func TestAggregatedMetricsStrategies(t *testing.T) {
	def := testMetricDef()
	am := newAggregatedMetrics(def)

	// Values 10, 20, 30 with increasing timestamps.
	for i, v := range []float64{10, 20, 30} {
		am.AddSample(Sample{
			Entity: entity1,
			TimeMs: int64(1000 + i*100),
			Values: fullValues(def, v),
		})
	}

	require.Equal(t, int64(3), am.NumSamples())
	vals := am.WindowValues(1000)
	assert.Equal(t, int64(1000), vals.WindowStartMs)

	latency, _ := def.ByName("latency")
	peak, _ := def.ByName("peak")
	util, _ := def.ByName("util")
	throughput, _ := def.ByName("throughput")
	assert.Equal(t, 30.0, vals.Value(latency.ID()), "LATEST keeps the newest value")
	assert.Equal(t, 30.0, vals.Value(peak.ID()), "MAX keeps the largest value")
	assert.InDelta(t, 20.0, vals.Value(util.ID()), 1e-9, "AVG keeps the running mean")
	assert.InDelta(t, 60.0, vals.Value(throughput.ID()), 1e-9, "SUM accumulates")
}

func TestAggregatedMetricsUniformSamples(t *testing.T) {
	// n identical samples of value v reduce to LATEST=v, MAX=v, AVG=v
	// and SUM=n*v.
	def := testMetricDef()
	am := newAggregatedMetrics(def)
	const v, n = 7.5, 6
	for i := 0; i < n; i++ {
		am.AddSample(Sample{Entity: entity1, TimeMs: int64(i), Values: fullValues(def, v)})
	}

	vals := am.WindowValues(0)
	latency, _ := def.ByName("latency")
	peak, _ := def.ByName("peak")
	util, _ := def.ByName("util")
	throughput, _ := def.ByName("throughput")
	assert.Equal(t, v, vals.Value(latency.ID()))
	assert.Equal(t, v, vals.Value(peak.ID()))
	assert.InDelta(t, v, vals.Value(util.ID()), 1e-9)
	assert.InDelta(t, n*v, vals.Value(throughput.ID()), 1e-9)
}

func TestAggregatedMetricsLatestIgnoresOlderTimestamps(t *testing.T) {
	def := metricdef.New()
	id := def.Define("latency", metricdef.Latest)
	am := newAggregatedMetrics(def)

	am.AddSample(Sample{Entity: entity1, TimeMs: 2000, Values: map[int]float64{id: 5}})
	am.AddSample(Sample{Entity: entity1, TimeMs: 1000, Values: map[int]float64{id: 9}})

	vals := am.WindowValues(0)
	assert.Equal(t, 5.0, vals.Value(id), "an older sample must not override LATEST")
}

func TestAggregatedMetricsEnough(t *testing.T) {
	def := testMetricDef()
	am := newAggregatedMetrics(def)
	assert.False(t, am.Enough(1))
	am.AddSample(Sample{Entity: entity1, TimeMs: 0, Values: fullValues(def, 1)})
	assert.True(t, am.Enough(1))
	assert.False(t, am.Enough(2))
}

func TestAggregatedMetricsConcurrentAdds(t *testing.T) {
	def := testMetricDef()
	am := newAggregatedMetrics(def)

	const workers, perWorker = 8, 500
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				am.AddSample(Sample{Entity: entity1, TimeMs: 1, Values: fullValues(def, 2)})
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(workers*perWorker), am.NumSamples())
	vals := am.WindowValues(0)
	throughput, _ := def.ByName("throughput")
	assert.InDelta(t, float64(workers*perWorker)*2, vals.Value(throughput.ID()), 1e-6)
}

func TestWindowValuesIsSealed(t *testing.T) {
	def := testMetricDef()
	am := newAggregatedMetrics(def)
	am.AddSample(Sample{Entity: entity1, TimeMs: 0, Values: fullValues(def, 1)})

	frozen := am.WindowValues(0)
	am.AddSample(Sample{Entity: entity1, TimeMs: 1, Values: fullValues(def, 100)})

	throughput, _ := def.ByName("throughput")
	assert.Equal(t, 1.0, frozen.Value(throughput.ID()), "a frozen snapshot must not change")
}
