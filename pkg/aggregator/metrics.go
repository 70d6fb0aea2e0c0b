package aggregator

import (
	"sync"

	"github.com/loadscope/loadscope/pkg/metricdef"
)

// AggregatedMetrics is the per-(entity, window) accumulator. Each
// registered metric keeps a running reduction according to its strategy;
// a shared sample counter tracks how much evidence the window holds.
//
// The struct is internally synchronized: AddSample holds a short
// critical section updating the reductions and the counter, so
// concurrent producers can feed the same cell safely. Structural
// concerns (window creation, eviction) are the owner's problem.
type AggregatedMetrics struct {
	mu  sync.Mutex
	def *metricdef.MetricDef

	count      int64
	values     []float64
	latestTime []int64
}

func newAggregatedMetrics(def *metricdef.MetricDef) *AggregatedMetrics {
	return &AggregatedMetrics{
		def:        def,
		values:     make([]float64, def.Size()),
		latestTime: make([]int64, def.Size()),
	}
}

// AddSample folds a sample into the running reductions. The sample is
// assumed to have passed validation, i.e. it carries every metric.
func (a *AggregatedMetrics) AddSample(s Sample) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.count++
	for _, info := range a.def.All() {
		id := info.ID()
		v := s.Values[id]
		switch info.Strategy() {
		case metricdef.Latest:
			if a.count == 1 || s.TimeMs >= a.latestTime[id] {
				a.values[id] = v
				a.latestTime[id] = s.TimeMs
			}
		case metricdef.Max:
			if a.count == 1 || v > a.values[id] {
				a.values[id] = v
			}
		case metricdef.Avg:
			a.values[id] += (v - a.values[id]) / float64(a.count)
		case metricdef.Sum:
			a.values[id] += v
		}
	}
}

// NumSamples returns the number of samples folded in so far.
func (a *AggregatedMetrics) NumSamples() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

// Enough reports whether at least minSamples samples were folded in.
func (a *AggregatedMetrics) Enough(minSamples int) bool {
	return a.NumSamples() >= int64(minSamples)
}

// WindowValues materializes the current reductions into a sealed
// snapshot stamped with the given window start time.
func (a *AggregatedMetrics) WindowValues(windowStartMs int64) WindowValues {
	a.mu.Lock()
	defer a.mu.Unlock()

	values := make([]float64, len(a.values))
	copy(values, a.values)
	return WindowValues{
		WindowStartMs: windowStartMs,
		Values:        values,
		NumSamples:    a.count,
	}
}

// WindowValues is a frozen per-window value vector, one entry per metric
// indexed by metric id. Once created it never changes.
type WindowValues struct {
	WindowStartMs int64
	Values        []float64
	NumSamples    int64
}

// Value returns the frozen reduction for a metric id.
func (w WindowValues) Value(metricID int) float64 {
	return w.Values[metricID]
}
