package server

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/loadscope/loadscope/pkg/aggregator"
	"github.com/loadscope/loadscope/pkg/config"
)

var (
	// ErrEntityLimit is returned when the total entity limit is exceeded.
	ErrEntityLimit = fmt.Errorf("entity limit exceeded (max %d unique entities)", config.MaxUniqueEntities)

	// ErrGroupEntityLimit is returned when a single group's entity limit
	// is exceeded.
	ErrGroupEntityLimit = fmt.Errorf("group entity limit exceeded (max %d entities per group)", config.MaxEntitiesPerGroup)

	// ErrEntityNameInvalid is returned for empty or oversized names.
	ErrEntityNameInvalid = errors.New("entity and group names must be non-empty and bounded")
)

// Retention of idle entities in the tracker.
const (
	entityRetentionPeriod = 24 * time.Hour
	cleanupInterval       = 1 * time.Hour
)

// EntityTracker bounds the number of distinct entities accepted over
// HTTP so a misbehaving producer cannot blow up the engine's per-window
// maps. Idle entities are periodically forgotten to keep the tracker
// itself bounded.
type EntityTracker struct {
	mu sync.Mutex

	// perGroup counts distinct entities per group tag.
	perGroup map[string]int

	// totalEntities counts distinct entities across all groups.
	totalEntities int

	// lastSeen tracks when each entity was last accepted.
	lastSeen map[aggregator.GroupedEntity]time.Time

	lastCleanup time.Time
}

// NewEntityTracker creates an entity cardinality tracker.
func NewEntityTracker() *EntityTracker {
	return &EntityTracker{
		perGroup:    make(map[string]int),
		lastSeen:    make(map[aggregator.GroupedEntity]time.Time),
		lastCleanup: time.Now(),
	}
}

// Check validates that accepting this entity won't exceed the limits.
func (t *EntityTracker) Check(e aggregator.GroupedEntity) error {
	if e.Name == "" || e.GroupName == "" ||
		len(e.Name) > config.MaxEntityNameLength || len(e.GroupName) > config.MaxGroupNameLength {
		return ErrEntityNameInvalid
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.cleanupLocked()

	if _, exists := t.lastSeen[e]; exists {
		return nil
	}
	if t.totalEntities >= config.MaxUniqueEntities {
		return ErrEntityLimit
	}
	if t.perGroup[e.GroupName] >= config.MaxEntitiesPerGroup {
		return ErrGroupEntityLimit
	}
	return nil
}

// Record marks an entity as seen. Call after Check passes and the
// sample was accepted.
func (t *EntityTracker) Record(e aggregator.GroupedEntity) {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, existed := t.lastSeen[e]
	t.lastSeen[e] = time.Now()
	if !existed {
		t.perGroup[e.GroupName]++
		t.totalEntities++
	}
}

// cleanupLocked forgets entities not seen within the retention period.
// MUST be called with the lock held.
func (t *EntityTracker) cleanupLocked() {
	now := time.Now()
	if now.Sub(t.lastCleanup) < cleanupInterval {
		return
	}
	t.lastCleanup = now
	cutoff := now.Add(-entityRetentionPeriod)

	for e, seen := range t.lastSeen {
		if seen.Before(cutoff) {
			delete(t.lastSeen, e)
			t.perGroup[e.GroupName]--
			if t.perGroup[e.GroupName] <= 0 {
				delete(t.perGroup, e.GroupName)
			}
			t.totalEntities--
		}
	}
}

// TrackerStats provides entity cardinality usage information.
type TrackerStats struct {
	TotalEntities   int            `json:"total_entities"`
	Groups          int            `json:"groups"`
	EntitiesByGroup map[string]int `json:"entities_by_group"`
	EntityLimit     int            `json:"entity_limit"`
	PerGroupLimit   int            `json:"per_group_limit"`
}

// Stats returns current cardinality statistics.
func (t *EntityTracker) Stats() TrackerStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	byGroup := make(map[string]int, len(t.perGroup))
	for g, n := range t.perGroup {
		byGroup[g] = n
	}
	return TrackerStats{
		TotalEntities:   t.totalEntities,
		Groups:          len(t.perGroup),
		EntitiesByGroup: byGroup,
		EntityLimit:     config.MaxUniqueEntities,
		PerGroupLimit:   config.MaxEntitiesPerGroup,
	}
}
