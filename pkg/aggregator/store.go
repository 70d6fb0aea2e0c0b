package aggregator

import (
	"sort"
	"sync"

	"github.com/loadscope/loadscope/pkg/metricdef"
)

// rawStore is the ordered mapping window index -> (entity -> accumulator).
// Window indexes are kept sorted ascending so range views and eviction of
// the oldest window are cheap. Window creation and eviction are
// serialized by the aggregator's structural lock; lookups only take the
// read lock.
type rawStore struct {
	mu      sync.RWMutex
	indexes []int64
	buckets map[int64]*windowBucket
}

// windowBucket holds the per-entity accumulators of one window.
type windowBucket struct {
	mu       sync.RWMutex
	entities map[Entity]*AggregatedMetrics
}

func newRawStore() *rawStore {
	return &rawStore{buckets: make(map[int64]*windowBucket)}
}

// bucket returns the bucket for a window, or nil if the window does not
// exist.
func (s *rawStore) bucket(index int64) *windowBucket {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buckets[index]
}

// ensureWindow returns the bucket for a window, creating it if absent.
// Reports whether the window was created. Callers serialize creation via
// the structural lock.
func (s *rawStore) ensureWindow(index int64) (*windowBucket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.buckets[index]; ok {
		return b, false
	}
	b := &windowBucket{entities: make(map[Entity]*AggregatedMetrics)}
	s.buckets[index] = b
	pos := sort.Search(len(s.indexes), func(i int) bool { return s.indexes[i] >= index })
	s.indexes = append(s.indexes, 0)
	copy(s.indexes[pos+1:], s.indexes[pos:])
	s.indexes[pos] = index
	return b, true
}

// earliest returns the oldest retained window index.
func (s *rawStore) earliest() (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.indexes) == 0 {
		return 0, false
	}
	return s.indexes[0], true
}

// evictOldest removes the oldest window and returns its index.
func (s *rawStore) evictOldest() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.indexes) == 0 {
		return 0, false
	}
	oldest := s.indexes[0]
	s.indexes = s.indexes[1:]
	delete(s.buckets, oldest)
	return oldest, true
}

// size returns the number of retained windows.
func (s *rawStore) size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.indexes)
}

// windowsAsc returns all retained window indexes in ascending order.
func (s *rawStore) windowsAsc() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int64, len(s.indexes))
	copy(out, s.indexes)
	return out
}

// allEntities returns the union of entities observed in any retained
// window.
func (s *rawStore) allEntities() map[Entity]bool {
	s.mu.RLock()
	buckets := make([]*windowBucket, 0, len(s.indexes))
	for _, idx := range s.indexes {
		buckets = append(buckets, s.buckets[idx])
	}
	s.mu.RUnlock()

	entities := make(map[Entity]bool)
	for _, b := range buckets {
		b.mu.RLock()
		for e := range b.entities {
			entities[e] = true
		}
		b.mu.RUnlock()
	}
	return entities
}

// clear drops every window.
func (s *rawStore) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexes = nil
	s.buckets = make(map[int64]*windowBucket)
}

// get returns the accumulator for an entity, or nil.
func (b *windowBucket) get(e Entity) *AggregatedMetrics {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.entities[e]
}

// ensure returns the accumulator for an entity, creating it atomically
// if absent.
func (b *windowBucket) ensure(e Entity, def *metricdef.MetricDef) *AggregatedMetrics {
	b.mu.RLock()
	am := b.entities[e]
	b.mu.RUnlock()
	if am != nil {
		return am
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if am := b.entities[e]; am != nil {
		return am
	}
	am = newAggregatedMetrics(def)
	b.entities[e] = am
	return am
}

// snapshotEntities returns the entities present in the bucket.
func (b *windowBucket) snapshotEntities() []Entity {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Entity, 0, len(b.entities))
	for e := range b.entities {
		out = append(out, e)
	}
	return out
}

// numSamples sums the sample counters of all entities in the bucket.
func (b *windowBucket) numSamples() int64 {
	b.mu.RLock()
	accs := make([]*AggregatedMetrics, 0, len(b.entities))
	for _, am := range b.entities {
		accs = append(accs, am)
	}
	b.mu.RUnlock()

	var total int64
	for _, am := range accs {
		total += am.NumSamples()
	}
	return total
}
