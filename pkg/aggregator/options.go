package aggregator

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Granularity selects the axis on which completeness qualifies entities.
type Granularity int8

const (
	// GranularityEntity qualifies each entity on its own coverage.
	GranularityEntity Granularity = iota
	// GranularityEntityGroup qualifies an entity only when its whole
	// group has coverage, e.g. every partition of a topic.
	GranularityEntityGroup
)

func (g Granularity) String() string {
	if g == GranularityEntityGroup {
		return "ENTITY_GROUP"
	}
	return "ENTITY"
}

// AggregationOptions control which windows and entities qualify for an
// aggregation or completeness query.
type AggregationOptions struct {
	// MinValidEntityRatio is the minimum fraction of interested entities
	// that must be covered for a window to be valid, in [0, 1].
	MinValidEntityRatio float64
	// MinValidEntityGroupRatio is the minimum fraction of entity groups
	// that must be fully covered for a window to be valid, in [0, 1].
	MinValidEntityGroupRatio float64
	// NumWindows is the exact number of valid windows an aggregation
	// must return. Must be positive.
	NumWindows int
	// InterestedEntities restricts the query to a set of entities. Empty
	// means every entity the store has observed.
	InterestedEntities map[Entity]bool
	// Granularity selects entity-level or group-level qualification.
	Granularity Granularity
	// IncludeInvalidEntities forces invalid entities into aggregation
	// results, padding missing cells with forced extrapolations.
	IncludeInvalidEntities bool
}

// fingerprint hashes the options into a cache key. Two option values
// with the same fingerprint are interchangeable for caching purposes,
// so every field participates, with interested entities in sorted order.
func (o AggregationOptions) fingerprint() uint64 {
	h := xxhash.New()
	var buf [8]byte

	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(o.MinValidEntityRatio))
	_, _ = h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(o.MinValidEntityGroupRatio))
	_, _ = h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(o.NumWindows))
	_, _ = h.Write(buf[:])
	_, _ = h.Write([]byte{byte(o.Granularity)})
	if o.IncludeInvalidEntities {
		_, _ = h.Write([]byte{1})
	} else {
		_, _ = h.Write([]byte{0})
	}

	names := make([]string, 0, len(o.InterestedEntities))
	for e := range o.InterestedEntities {
		names = append(names, e.String())
	}
	sort.Strings(names)
	for _, n := range names {
		_, _ = h.WriteString(n)
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

func (o AggregationOptions) validate() error {
	if o.NumWindows <= 0 {
		return invalidArgumentf("NumWindows must be positive, got %d", o.NumWindows)
	}
	if o.MinValidEntityRatio < 0 || o.MinValidEntityRatio > 1 {
		return invalidArgumentf("MinValidEntityRatio must be in [0, 1], got %f", o.MinValidEntityRatio)
	}
	if o.MinValidEntityGroupRatio < 0 || o.MinValidEntityGroupRatio > 1 {
		return invalidArgumentf("MinValidEntityGroupRatio must be in [0, 1], got %f", o.MinValidEntityGroupRatio)
	}
	return nil
}
