package aggregator

import (
	"github.com/loadscope/loadscope/pkg/metricdef"
	"github.com/loadscope/loadscope/pkg/window"
)

// Extrapolation tags how the value vector of an (entity, window) cell
// was produced when the raw data alone was insufficient.
type Extrapolation int8

const (
	// NoExtrapolation means the window held enough samples on its own.
	NoExtrapolation Extrapolation = iota
	// AvgAvailable used the window's own samples although fewer than
	// required, but at least half of them.
	AvgAvailable
	// AvgAdjacent averaged the two neighboring windows.
	AvgAdjacent
	// PrevPeriod borrowed the same window from one period earlier.
	PrevPeriod
	// ForcedInsufficient froze whatever samples existed, however few.
	// Only used when the caller asked to include invalid entities.
	ForcedInsufficient
	// ForcedUnknown synthesized zeros because no data existed at all.
	// Only used when the caller asked to include invalid entities.
	ForcedUnknown
	// NoValidExtrapolation means no fallback produced a value; the
	// entity is invalid for the window.
	NoValidExtrapolation
)

func (e Extrapolation) String() string {
	switch e {
	case NoExtrapolation:
		return "NONE"
	case AvgAvailable:
		return "AVG_AVAILABLE"
	case AvgAdjacent:
		return "AVG_ADJACENT"
	case PrevPeriod:
		return "PREV_PERIOD"
	case ForcedInsufficient:
		return "FORCED_INSUFFICIENT"
	case ForcedUnknown:
		return "FORCED_UNKNOWN"
	case NoValidExtrapolation:
		return "NO_VALID_EXTRAPOLATION"
	default:
		return "UNKNOWN"
	}
}

// extrapolationEngine resolves the value vector for an (entity, window)
// cell. Fallbacks are tried in a fixed order and the first success wins:
//
//	enough samples -> AvgAvailable -> AvgAdjacent -> PrevPeriod
//	-> ForcedInsufficient -> ForcedUnknown -> NoValidExtrapolation
//
// The neighbor and previous-period lookups descend exactly one level:
// they accept a window only on its own sufficient samples, never through
// a further extrapolation. That bounds the work and rules out cycles.
type extrapolationEngine struct {
	store *rawStore
	def   *metricdef.MetricDef
	cfg   Config
}

// resolve produces the value vector for entity e in window index w.
// includeInvalid enables the forced fallbacks. The returned bool is
// false only when every fallback failed, in which case the kind is
// NoValidExtrapolation.
func (x *extrapolationEngine) resolve(e Entity, w int64, includeInvalid bool) (WindowValues, Extrapolation, bool) {
	startMs := window.StartOf(w, x.cfg.WindowMs)

	var am *AggregatedMetrics
	if b := x.store.bucket(w); b != nil {
		am = b.get(e)
	}

	// Sufficient raw data needs no extrapolation at all.
	if am != nil && am.Enough(x.cfg.MinSamplesPerWindow) {
		return am.WindowValues(startMs), NoExtrapolation, true
	}

	// AvailablePartial: at least half the required samples. A threshold
	// of zero (MinSamplesPerWindow of 1) disables this fallback; empty
	// cells must fall through to the forced kinds.
	if threshold := x.cfg.minSamplesForExtrapolation(); am != nil && threshold > 0 && am.Enough(threshold) {
		return am.WindowValues(startMs), AvgAvailable, true
	}

	// AdjacentAverage: both neighbors must hold sufficient data on their
	// own; their frozen vectors are averaged metric-wise. For LATEST and
	// MAX metrics the arithmetic mean of the two reductions is used.
	prev, prevOK := x.sufficientValues(e, w-1)
	next, nextOK := x.sufficientValues(e, w+1)
	if prevOK && nextOK {
		values := make([]float64, x.def.Size())
		for i := range values {
			values[i] = (prev.Values[i] + next.Values[i]) / 2
		}
		return WindowValues{
			WindowStartMs: startMs,
			Values:        values,
			NumSamples:    prev.NumSamples + next.NumSamples,
		}, AvgAdjacent, true
	}

	// PreviousPeriod: the same window one period ago, stamped with this
	// window's start time.
	if vals, ok := x.sufficientValues(e, w-int64(x.cfg.NumWindows)); ok {
		vals.WindowStartMs = startMs
		return vals, PrevPeriod, true
	}

	if includeInvalid {
		// Freeze whatever exists, however thin the evidence.
		if am != nil {
			return am.WindowValues(startMs), ForcedInsufficient, true
		}
		// Nothing exists at all; synthesize zeros.
		return WindowValues{
			WindowStartMs: startMs,
			Values:        make([]float64, x.def.Size()),
		}, ForcedUnknown, true
	}

	return WindowValues{}, NoValidExtrapolation, false
}

// present reports whether the entity would resolve in the window without
// the forced fallbacks. This is the coverage predicate the completeness
// analysis is built on.
func (x *extrapolationEngine) present(e Entity, w int64) bool {
	_, _, ok := x.resolve(e, w, false)
	return ok
}

// sufficientValues freezes the cell (e, w) only if it exists with enough
// samples. This is the one-level descent used by the neighbor and
// previous-period fallbacks.
func (x *extrapolationEngine) sufficientValues(e Entity, w int64) (WindowValues, bool) {
	b := x.store.bucket(w)
	if b == nil {
		return WindowValues{}, false
	}
	am := b.get(e)
	if am == nil || !am.Enough(x.cfg.MinSamplesPerWindow) {
		return WindowValues{}, false
	}
	return am.WindowValues(window.StartOf(w, x.cfg.WindowMs)), true
}
