package aggregator

import "github.com/loadscope/loadscope/pkg/metricdef"

// Entity identifies a monitored object, such as a partition or a broker.
// Implementations must be usable as map keys and stable: equality and
// Group() never change over the entity's lifetime.
type Entity interface {
	// Group returns the equivalence-class tag of the entity. Completeness
	// can be evaluated at group granularity, e.g. all partitions of a
	// topic or all brokers of a rack.
	Group() string
	String() string
}

// GroupedEntity is the default Entity implementation: a name tagged with
// a group.
type GroupedEntity struct {
	GroupName string
	Name      string
}

func (e GroupedEntity) Group() string  { return e.GroupName }
func (e GroupedEntity) String() string { return e.GroupName + "/" + e.Name }

// Sample is a single observation for an entity: one value per registered
// metric, keyed by metric id, taken at TimeMs.
type Sample struct {
	Entity Entity
	TimeMs int64
	Values map[int]float64
}

// SampleValidator decides whether a sample is accepted by the
// aggregator. Producers inject domain checks here, e.g. a partition
// leadership check.
type SampleValidator interface {
	Validate(s Sample) bool
}

// completenessValidator is the default validator: a sample is accepted
// iff it carries as many values as there are registered metrics. The
// value keys are not checked against the metric ids.
type completenessValidator struct {
	def *metricdef.MetricDef
}

// NewCompletenessValidator returns the default sample validator, which
// requires the number of values to equal the number of metrics in the
// definition.
func NewCompletenessValidator(def *metricdef.MetricDef) SampleValidator {
	return completenessValidator{def: def}
}

func (v completenessValidator) Validate(s Sample) bool {
	return s.Entity != nil && len(s.Values) == v.def.Size()
}
