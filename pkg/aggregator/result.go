package aggregator

import "github.com/loadscope/loadscope/pkg/metricdef"

// ValuesAndExtrapolations is the per-entity aggregation output: one
// value per metric per selected window, plus a record of which window
// positions were filled by extrapolation.
type ValuesAndExtrapolations struct {
	// Windows holds the selected window start times in milliseconds,
	// most recent first. Windows[0] is the largest start time.
	Windows []int64
	// MetricValues holds one dense vector per metric, indexed by metric
	// id; each vector is parallel to Windows.
	MetricValues [][]float64
	// Extrapolations maps a position in Windows to the fallback that
	// produced its value. Positions filled from raw data do not appear.
	Extrapolations map[int]Extrapolation
}

// ValuesFor returns the value vector of a metric id, parallel to
// Windows.
func (v *ValuesAndExtrapolations) ValuesFor(metricID int) []float64 {
	return v.MetricValues[metricID]
}

// ByName re-keys the metric vectors by metric name for serialization.
func (v *ValuesAndExtrapolations) ByName(def *metricdef.MetricDef) map[string][]float64 {
	out := make(map[string][]float64, len(v.MetricValues))
	for _, info := range def.All() {
		out[info.Name()] = v.MetricValues[info.ID()]
	}
	return out
}

// AggregationResult is the output of Aggregator.Aggregate.
type AggregationResult struct {
	// Generation is the aggregator generation the result was computed
	// at. The result is still current iff it equals Generation().
	Generation int64
	// Entities maps each reported entity to its value vectors.
	Entities map[Entity]*ValuesAndExtrapolations
	// InvalidEntities holds the considered entities that did not qualify
	// under the options, whether or not they were forced into Entities.
	InvalidEntities map[Entity]bool
}

// Completeness reports which windows, entities and entity groups hold
// enough evidence under the thresholds of an options value. It never
// fails; an empty report means nothing qualified.
type Completeness struct {
	// Generation is the aggregator generation the report was computed at.
	Generation int64
	// ValidWindowIndexes holds the qualifying window indexes ascending.
	ValidWindowIndexes []int64
	// ValidEntities holds entities covered in every valid window.
	ValidEntities map[Entity]bool
	// ValidEntityGroups holds groups whose interested entities are all
	// valid.
	ValidEntityGroups map[string]bool
	// ValidEntityRatioByWindow maps window index to the fraction of
	// interested entities covered in it.
	ValidEntityRatioByWindow map[int64]float64
	// ValidEntityRatioWithGroupGranularityByWindow maps window index to
	// the fraction of interested entities that belong to fully covered
	// groups.
	ValidEntityRatioWithGroupGranularityByWindow map[int64]float64
	// ValidEntityGroupRatioByWindow maps window index to the fraction of
	// groups fully covered in it.
	ValidEntityGroupRatioByWindow map[int64]float64
}

func emptyCompleteness(generation int64) *Completeness {
	return &Completeness{
		Generation:               generation,
		ValidEntities:            make(map[Entity]bool),
		ValidEntityGroups:        make(map[string]bool),
		ValidEntityRatioByWindow: make(map[int64]float64),
		ValidEntityRatioWithGroupGranularityByWindow: make(map[int64]float64),
		ValidEntityGroupRatioByWindow:                make(map[int64]float64),
	}
}
