package aggregator

import "sync"

// aggregatorState is the bookkeeping sidecar of the raw store: a
// per-window generation stamp plus the completeness cache. A window's
// stamp answers "when did this window last change" in generation time,
// which is what decides whether a cached result derived from it is
// still current.
//
// Stamping is lazy. Inserts mark the window dirty; the next refresh
// (triggered by a completeness pass, an aggregation, or a State view)
// stamps all dirty windows with the generation current at that moment.
type aggregatorState struct {
	mu           sync.Mutex
	windowStates map[int64]int64
	dirty        map[int64]bool

	completenessCache map[uint64]*cachedCompleteness
}

// cachedCompleteness remembers a completeness report together with the
// coordinates it was computed at. It is reusable only on an exact match.
type cachedCompleteness struct {
	generation int64
	fromIndex  int64
	toIndex    int64
	result     *Completeness
}

func newAggregatorState() *aggregatorState {
	return &aggregatorState{
		windowStates:      make(map[int64]int64),
		dirty:             make(map[int64]bool),
		completenessCache: make(map[uint64]*cachedCompleteness),
	}
}

// markDirty records that a window changed and will need restamping.
func (s *aggregatorState) markDirty(index int64) {
	s.mu.Lock()
	s.dirty[index] = true
	s.mu.Unlock()
}

// refresh stamps every dirty window with the given generation.
func (s *aggregatorState) refresh(generation int64) {
	s.mu.Lock()
	for index := range s.dirty {
		s.windowStates[index] = generation
	}
	s.dirty = make(map[int64]bool)
	s.mu.Unlock()
}

// removeWindow drops the state entry of an evicted window. The raw
// store entry and the state entry must die together.
func (s *aggregatorState) removeWindow(index int64) {
	s.mu.Lock()
	delete(s.windowStates, index)
	delete(s.dirty, index)
	s.mu.Unlock()
}

// windowGenerations returns a copy of the per-window stamps.
func (s *aggregatorState) windowGenerations() map[int64]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]int64, len(s.windowStates))
	for index, gen := range s.windowStates {
		out[index] = gen
	}
	return out
}

// cachedCompletenessFor returns a cached report if one exists for the
// fingerprint at exactly these coordinates.
func (s *aggregatorState) cachedCompletenessFor(fingerprint uint64, generation, fromIndex, toIndex int64) *Completeness {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.completenessCache[fingerprint]
	if !ok || c.generation != generation || c.fromIndex != fromIndex || c.toIndex != toIndex {
		return nil
	}
	return c.result
}

// storeCompleteness caches a report. Stale entries for the same options
// are overwritten; entries for other options are ignored on generation
// mismatch at lookup time and stay in the map until overwritten or
// cleared.
func (s *aggregatorState) storeCompleteness(fingerprint uint64, generation, fromIndex, toIndex int64, result *Completeness) {
	s.mu.Lock()
	s.completenessCache[fingerprint] = &cachedCompleteness{
		generation: generation,
		fromIndex:  fromIndex,
		toIndex:    toIndex,
		result:     result,
	}
	s.mu.Unlock()
}

// clear resets all bookkeeping.
func (s *aggregatorState) clear() {
	s.mu.Lock()
	s.windowStates = make(map[int64]int64)
	s.dirty = make(map[int64]bool)
	s.completenessCache = make(map[uint64]*cachedCompleteness)
	s.mu.Unlock()
}

// State is a read-only view of the aggregator's bookkeeping, keyed by
// window index (not start time).
type State struct {
	// WindowGenerations maps each retained window index to the
	// generation it was last stamped at.
	WindowGenerations map[int64]int64
	// EntityCoverage maps each observed entity to the ascending window
	// indexes holding data for it.
	EntityCoverage map[Entity][]int64
}
