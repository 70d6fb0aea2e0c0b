package server

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loadscope/loadscope/pkg/aggregator"
)

func TestEntityTrackerAcceptsAndCounts(t *testing.T) {
	tracker := NewEntityTracker()
	e1 := aggregator.GroupedEntity{GroupName: "brokers", Name: "b1"}
	e2 := aggregator.GroupedEntity{GroupName: "brokers", Name: "b2"}

	require.NoError(t, tracker.Check(e1))
	tracker.Record(e1)
	require.NoError(t, tracker.Check(e2))
	tracker.Record(e2)
	// Re-recording an entity must not double count.
	tracker.Record(e1)

	stats := tracker.Stats()
	assert.Equal(t, 2, stats.TotalEntities)
	assert.Equal(t, 1, stats.Groups)
	assert.Equal(t, 2, stats.EntitiesByGroup["brokers"])
}

func TestEntityTrackerRejectsBadNames(t *testing.T) {
	tracker := NewEntityTracker()

	err := tracker.Check(aggregator.GroupedEntity{GroupName: "", Name: "b1"})
	assert.ErrorIs(t, err, ErrEntityNameInvalid)

	err = tracker.Check(aggregator.GroupedEntity{GroupName: "g", Name: ""})
	assert.ErrorIs(t, err, ErrEntityNameInvalid)

	long := strings.Repeat("x", 300)
	err = tracker.Check(aggregator.GroupedEntity{GroupName: "g", Name: long})
	assert.ErrorIs(t, err, ErrEntityNameInvalid)
}

func TestEntityTrackerKnownEntityAlwaysPasses(t *testing.T) {
	tracker := NewEntityTracker()
	e := aggregator.GroupedEntity{GroupName: "brokers", Name: "b1"}
	require.NoError(t, tracker.Check(e))
	tracker.Record(e)

	// A known entity passes regardless of limits.
	require.NoError(t, tracker.Check(e))
}
