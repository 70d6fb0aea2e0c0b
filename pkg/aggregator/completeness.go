package aggregator

import "sort"

// completenessAnalyzer computes coverage reports over a window range.
// Coverage of an (entity, window) cell is defined by the extrapolation
// engine: the cell is covered iff it would resolve without the forced
// fallbacks.
type completenessAnalyzer struct {
	store  *rawStore
	engine *extrapolationEngine
}

// analyze computes the completeness report for window indexes
// [fromIndex, toIndex] under the given options. The active window must
// already be excluded from the range by the caller.
func (c *completenessAnalyzer) analyze(fromIndex, toIndex int64, opts AggregationOptions, generation int64) *Completeness {
	result := emptyCompleteness(generation)
	if fromIndex > toIndex {
		return result
	}

	entities := opts.InterestedEntities
	if len(entities) == 0 {
		entities = c.store.allEntities()
	}
	if len(entities) == 0 {
		return result
	}

	groups := make(map[string][]Entity)
	for e := range entities {
		groups[e.Group()] = append(groups[e.Group()], e)
	}

	numEntities := float64(len(entities))
	numGroups := float64(len(groups))

	presentByWindow := make(map[int64]map[Entity]bool)
	groupsPresentByWindow := make(map[int64]map[string]bool)

	for w := fromIndex; w <= toIndex; w++ {
		present := make(map[Entity]bool)
		for e := range entities {
			if c.engine.present(e, w) {
				present[e] = true
			}
		}
		presentByWindow[w] = present

		fullGroups := make(map[string]bool)
		entitiesInFullGroups := 0
		for group, members := range groups {
			full := true
			for _, e := range members {
				if !present[e] {
					full = false
					break
				}
			}
			if full {
				fullGroups[group] = true
				entitiesInFullGroups += len(members)
			}
		}
		groupsPresentByWindow[w] = fullGroups

		entityRatio := float64(len(present)) / numEntities
		groupGranularityRatio := float64(entitiesInFullGroups) / numEntities
		groupRatio := float64(len(fullGroups)) / numGroups

		result.ValidEntityRatioByWindow[w] = entityRatio
		result.ValidEntityRatioWithGroupGranularityByWindow[w] = groupGranularityRatio
		result.ValidEntityGroupRatioByWindow[w] = groupRatio

		// The entity-ratio threshold is evaluated at the requested
		// granularity: at group granularity an entity only counts when
		// its whole group is covered.
		effectiveRatio := entityRatio
		if opts.Granularity == GranularityEntityGroup {
			effectiveRatio = groupGranularityRatio
		}
		if effectiveRatio >= opts.MinValidEntityRatio && groupRatio >= opts.MinValidEntityGroupRatio {
			result.ValidWindowIndexes = append(result.ValidWindowIndexes, w)
		}
	}

	if len(result.ValidWindowIndexes) == 0 {
		return result
	}
	sort.Slice(result.ValidWindowIndexes, func(i, j int) bool {
		return result.ValidWindowIndexes[i] < result.ValidWindowIndexes[j]
	})

	// An entity qualifies when covered in every valid window; at group
	// granularity its whole group must be covered in every valid window.
	for e := range entities {
		valid := true
		for _, w := range result.ValidWindowIndexes {
			if opts.Granularity == GranularityEntityGroup {
				if !groupsPresentByWindow[w][e.Group()] {
					valid = false
					break
				}
			} else if !presentByWindow[w][e] {
				valid = false
				break
			}
		}
		if valid {
			result.ValidEntities[e] = true
		}
	}

	// A group qualifies when every interested entity in it does.
	for group, members := range groups {
		valid := true
		for _, e := range members {
			if !result.ValidEntities[e] {
				valid = false
				break
			}
		}
		if valid {
			result.ValidEntityGroups[group] = true
		}
	}

	return result
}
