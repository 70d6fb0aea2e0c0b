package aggregator

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loadscope/loadscope/pkg/metricdef"
	"github.com/loadscope/loadscope/pkg/window"
)

// Config holds the aggregation engine tunables.
type Config struct {
	// NumWindows is the number of reportable windows an aggregation
	// spans.
	NumWindows int
	// WindowMs is the window width in milliseconds.
	WindowMs int64
	// MinSamplesPerWindow is the evidence an (entity, window) cell needs
	// to stand on its own.
	MinSamplesPerWindow int
	// MaxExtraWindowsKept is the number of spare windows retained beyond
	// NumWindows to feed extrapolation lookups. The store holds at most
	// NumWindows + MaxExtraWindowsKept + 1 windows: the reportable ones,
	// the spares, and the active window.
	MaxExtraWindowsKept int
}

// minSamplesForExtrapolation is the partial-window threshold: half the
// required samples, integer division.
func (c Config) minSamplesForExtrapolation() int {
	return c.MinSamplesPerWindow / 2
}

func (c Config) maxWindowsToKeep() int {
	return c.NumWindows + c.MaxExtraWindowsKept
}

func (c Config) validate() error {
	if c.NumWindows <= 0 {
		return invalidArgumentf("NumWindows must be positive, got %d", c.NumWindows)
	}
	if c.WindowMs <= 0 {
		return invalidArgumentf("WindowMs must be positive, got %d", c.WindowMs)
	}
	if c.MinSamplesPerWindow <= 0 {
		return invalidArgumentf("MinSamplesPerWindow must be positive, got %d", c.MinSamplesPerWindow)
	}
	if c.MaxExtraWindowsKept < 0 {
		return invalidArgumentf("MaxExtraWindowsKept must not be negative, got %d", c.MaxExtraWindowsKept)
	}
	return nil
}

// Aggregator ingests metric samples from concurrent producers, buckets
// them into fixed-width windows per entity, and serves aggregated time
// series and completeness reports to concurrent readers.
//
// Memory is bounded by a sliding window: once a newer window becomes
// active, windows beyond the retention horizon are evicted. A monotonic
// generation counter is bumped on every mutation that can change an
// aggregate (rollover, back-insertion, clear), which is what all result
// caching keys on.
type Aggregator struct {
	cfg       Config
	def       *metricdef.MetricDef
	validator SampleValidator

	store    *rawStore
	state    *aggregatorState
	engine   *extrapolationEngine
	analyzer *completenessAnalyzer

	// mu is the structural lock: window rollover, eviction, generation
	// bumps and cache writes all happen under it.
	mu                    sync.Mutex
	activeWindow          atomic.Int64
	generation            atomic.Int64
	collectionsInProgress atomic.Int32
	cache                 atomic.Pointer[cachedAggregation]

	latestMu sync.RWMutex
	latest   map[Entity]Sample
}

// cachedAggregation is the single-slot result cache: the result plus the
// coordinates it was computed at.
type cachedAggregation struct {
	fingerprint  uint64
	generation   int64
	activeWindow int64
	result       *AggregationResult
}

// New creates an aggregator for the given metric definition. The
// default sample validator accepts a sample iff it carries as many
// values as there are registered metrics; use SetValidator to inject
// domain checks.
func New(cfg Config, def *metricdef.MetricDef) (*Aggregator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	store := newRawStore()
	engine := &extrapolationEngine{store: store, def: def, cfg: cfg}
	a := &Aggregator{
		cfg:       cfg,
		def:       def,
		validator: NewCompletenessValidator(def),
		store:     store,
		state:     newAggregatorState(),
		engine:    engine,
		analyzer:  &completenessAnalyzer{store: store, engine: engine},
		latest:    make(map[Entity]Sample),
	}
	a.activeWindow.Store(-1)
	return a, nil
}

// SetValidator replaces the sample validator. Call before producers
// start.
func (a *Aggregator) SetValidator(v SampleValidator) {
	a.validator = v
}

// Add ingests one sample. It returns false when the validator rejects
// the sample or when the sample's window has already been evicted; in
// both cases no state changes.
//
// Rollover happens here: a sample for a window newer than the active
// one promotes that window, bumps the generation, and evicts windows
// beyond the retention horizon unless a collection is in progress.
// A sample landing in any settled window (back-insertion) also bumps
// the generation, since it can change already-reported aggregates.
func (a *Aggregator) Add(s Sample) bool {
	if !a.validator.Validate(s) {
		return false
	}

	w := window.IndexOf(s.TimeMs, a.cfg.WindowMs)
	bucket := a.store.bucket(w)
	if bucket == nil {
		a.mu.Lock()
		if earliest, ok := a.store.earliest(); ok && w < earliest {
			// The window was already evicted; re-materializing it would
			// only be evicted again on the next rollover.
			a.mu.Unlock()
			return false
		}
		var created bool
		bucket, created = a.store.ensureWindow(w)
		if created && w > a.activeWindow.Load() {
			a.activeWindow.Store(w)
			a.generation.Add(1)
			a.evictLocked()
		}
		a.mu.Unlock()
	}

	bucket.ensure(s.Entity, a.def).AddSample(s)
	a.state.markDirty(w)
	a.recordLatest(s)

	if w != a.activeWindow.Load() {
		a.mu.Lock()
		a.cache.Store(nil)
		a.generation.Add(1)
		a.mu.Unlock()
	}
	return true
}

// evictLocked removes the oldest windows past the retention horizon.
// Eviction is suppressed while any collection is in progress; the next
// rollover catches up. Caller holds mu.
func (a *Aggregator) evictLocked() {
	for a.collectionsInProgress.Load() == 0 && a.store.size() > a.cfg.maxWindowsToKeep()+1 {
		oldest, ok := a.store.evictOldest()
		if !ok {
			return
		}
		a.state.removeWindow(oldest)
	}
}

// Aggregate produces the per-entity value vectors over the most recent
// opts.NumWindows valid windows inside [fromMs, toMs]. The active
// window is never part of the result. It fails with
// *NotEnoughValidWindowsError when fewer valid windows exist, and with
// ErrInvalidArgument on bad options or an inverted range.
func (a *Aggregator) Aggregate(fromMs, toMs int64, opts AggregationOptions) (*AggregationResult, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if fromMs > toMs {
		return nil, invalidArgumentf("fromMs %d is after toMs %d", fromMs, toMs)
	}

	fingerprint := opts.fingerprint()
	fromIndex := window.IndexOf(fromMs, a.cfg.WindowMs)
	toIndex := window.IndexOf(toMs, a.cfg.WindowMs)

	// Entering a collection suppresses eviction so the set of windows
	// under consideration cannot change mid-call.
	a.mu.Lock()
	a.collectionsInProgress.Add(1)
	defer a.collectionsInProgress.Add(-1)

	generation := a.generation.Load()
	active := a.activeWindow.Load()
	if active < 0 {
		a.mu.Unlock()
		return nil, &NotEnoughValidWindowsError{Available: 0, Required: opts.NumWindows}
	}
	earliest, _ := a.store.earliest()
	if c := a.cache.Load(); c != nil &&
		c.fingerprint == fingerprint &&
		c.generation == generation &&
		fromIndex <= earliest &&
		toIndex >= c.activeWindow {
		a.mu.Unlock()
		return c.result, nil
	}
	a.mu.Unlock()

	a.state.refresh(generation)

	wFrom, wTo, ok := window.Clamp(fromIndex, toIndex, earliest, active-1)
	if !ok {
		return nil, &NotEnoughValidWindowsError{Available: 0, Required: opts.NumWindows}
	}

	completeness := a.completenessFor(wFrom, wTo, opts, generation, fingerprint)
	valid := completeness.ValidWindowIndexes
	if len(valid) < opts.NumWindows {
		return nil, &NotEnoughValidWindowsError{Available: len(valid), Required: opts.NumWindows}
	}

	// The most recent NumWindows valid windows form the result axis,
	// ordered most recent first.
	selected := make([]int64, opts.NumWindows)
	for i := range selected {
		selected[i] = valid[len(valid)-1-i]
	}

	result := &AggregationResult{
		Generation:      generation,
		Entities:        make(map[Entity]*ValuesAndExtrapolations),
		InvalidEntities: make(map[Entity]bool),
	}
	considered := opts.InterestedEntities
	if len(considered) == 0 {
		considered = a.store.allEntities()
	}
	for e := range considered {
		if !completeness.ValidEntities[e] {
			result.InvalidEntities[e] = true
			if !opts.IncludeInvalidEntities {
				continue
			}
		}
		vae, err := a.valuesFor(e, selected, opts.IncludeInvalidEntities)
		if err != nil {
			return nil, err
		}
		result.Entities[e] = vae
	}

	// Cache only full-horizon results: from the earliest retained window
	// through the current active window.
	if fromIndex <= earliest && toIndex >= active {
		a.mu.Lock()
		if a.generation.Load() == generation {
			a.cache.Store(&cachedAggregation{
				fingerprint:  fingerprint,
				generation:   generation,
				activeWindow: active,
				result:       result,
			})
		}
		a.mu.Unlock()
	}
	return result, nil
}

// valuesFor resolves every selected window for one entity.
func (a *Aggregator) valuesFor(e Entity, selected []int64, includeInvalid bool) (*ValuesAndExtrapolations, error) {
	vae := &ValuesAndExtrapolations{
		Windows:        make([]int64, len(selected)),
		MetricValues:   make([][]float64, a.def.Size()),
		Extrapolations: make(map[int]Extrapolation),
	}
	for id := range vae.MetricValues {
		vae.MetricValues[id] = make([]float64, len(selected))
	}

	for i, w := range selected {
		vae.Windows[i] = window.StartOf(w, a.cfg.WindowMs)
		vals, kind, ok := a.engine.resolve(e, w, includeInvalid)
		if !ok {
			// The entity was judged covered moments ago; losing the
			// coverage here means the engine state is broken.
			return nil, fmt.Errorf("%w: no value for entity %v in window %d", ErrInconsistentState, e, w)
		}
		for id := range vae.MetricValues {
			vae.MetricValues[id][i] = vals.Values[id]
		}
		if kind != NoExtrapolation {
			vae.Extrapolations[i] = kind
		}
	}
	return vae, nil
}

// Completeness reports which windows, entities and groups inside
// [fromMs, toMs] qualify under the options. It never fails on sparse
// data; an empty report means nothing qualified.
func (a *Aggregator) Completeness(fromMs, toMs int64, opts AggregationOptions) (*Completeness, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if fromMs > toMs {
		return nil, invalidArgumentf("fromMs %d is after toMs %d", fromMs, toMs)
	}

	a.mu.Lock()
	a.collectionsInProgress.Add(1)
	defer a.collectionsInProgress.Add(-1)
	generation := a.generation.Load()
	active := a.activeWindow.Load()
	earliest, hasWindows := a.store.earliest()
	a.mu.Unlock()

	a.state.refresh(generation)

	if !hasWindows || active < 0 {
		return emptyCompleteness(generation), nil
	}
	wFrom, wTo, ok := window.Clamp(
		window.IndexOf(fromMs, a.cfg.WindowMs),
		window.IndexOf(toMs, a.cfg.WindowMs),
		earliest, active-1)
	if !ok {
		return emptyCompleteness(generation), nil
	}
	return a.completenessFor(wFrom, wTo, opts, generation, opts.fingerprint()), nil
}

func (a *Aggregator) completenessFor(wFrom, wTo int64, opts AggregationOptions, generation int64, fingerprint uint64) *Completeness {
	if cached := a.state.cachedCompletenessFor(fingerprint, generation, wFrom, wTo); cached != nil {
		return cached
	}
	result := a.analyzer.analyze(wFrom, wTo, opts, generation)
	a.state.storeCompleteness(fingerprint, generation, wFrom, wTo, result)
	return result
}

// Generation returns the mutation generation. A cached result derived
// from this aggregator is current iff its generation still matches.
func (a *Aggregator) Generation() int64 {
	return a.generation.Load()
}

// Config returns the engine tunables the aggregator was built with.
func (a *Aggregator) Config() Config {
	return a.cfg
}

// EarliestWindow returns the start time of the oldest retained window.
// The second return is false while the store is empty.
func (a *Aggregator) EarliestWindow() (int64, bool) {
	earliest, ok := a.store.earliest()
	if !ok {
		return 0, false
	}
	return window.StartOf(earliest, a.cfg.WindowMs), true
}

// AllWindows returns the start times of every retained window ascending,
// including the active one.
func (a *Aggregator) AllWindows() []int64 {
	indexes := a.store.windowsAsc()
	out := make([]int64, len(indexes))
	for i, idx := range indexes {
		out[i] = window.StartOf(idx, a.cfg.WindowMs)
	}
	return out
}

// AvailableWindows returns the start times of the windows an
// aggregation may report: every retained window except the active one,
// ascending.
func (a *Aggregator) AvailableWindows() []int64 {
	active := a.activeWindow.Load()
	indexes := a.store.windowsAsc()
	out := make([]int64, 0, len(indexes))
	for _, idx := range indexes {
		if idx == active {
			continue
		}
		out = append(out, window.StartOf(idx, a.cfg.WindowMs))
	}
	return out
}

// NumAvailableWindows returns len(AvailableWindows()).
func (a *Aggregator) NumAvailableWindows() int {
	return len(a.AvailableWindows())
}

// NumSamples returns the total number of samples across all retained
// windows.
func (a *Aggregator) NumSamples() int64 {
	var total int64
	for _, idx := range a.store.windowsAsc() {
		if b := a.store.bucket(idx); b != nil {
			total += b.numSamples()
		}
	}
	return total
}

// CurrentWindowValues freezes every retained (window, entity) cell into
// plain value vectors, keyed by window start time. The view is
// best-effort: it is not synchronized against concurrent inserts and
// may mix generations. Meant for debugging and state dumps.
func (a *Aggregator) CurrentWindowValues() map[int64]map[Entity]WindowValues {
	out := make(map[int64]map[Entity]WindowValues)
	for _, idx := range a.store.windowsAsc() {
		b := a.store.bucket(idx)
		if b == nil {
			continue
		}
		startMs := window.StartOf(idx, a.cfg.WindowMs)
		byEntity := make(map[Entity]WindowValues)
		for _, e := range b.snapshotEntities() {
			if am := b.get(e); am != nil {
				byEntity[e] = am.WindowValues(startMs)
			}
		}
		out[startMs] = byEntity
	}
	return out
}

// AggregatorState returns a read-only snapshot of the per-window
// generation stamps and per-entity window coverage, keyed by window
// index.
func (a *Aggregator) AggregatorState() State {
	a.state.refresh(a.generation.Load())

	coverage := make(map[Entity][]int64)
	for _, idx := range a.store.windowsAsc() {
		b := a.store.bucket(idx)
		if b == nil {
			continue
		}
		for _, e := range b.snapshotEntities() {
			coverage[e] = append(coverage[e], idx)
		}
	}
	for _, indexes := range coverage {
		sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })
	}
	return State{
		WindowGenerations: a.state.windowGenerations(),
		EntityCoverage:    coverage,
	}
}

// Latest returns the most recent accepted sample for an entity.
func (a *Aggregator) Latest(e Entity) (Sample, bool) {
	a.latestMu.RLock()
	defer a.latestMu.RUnlock()
	s, ok := a.latest[e]
	return s, ok
}

// LatestByGroup returns the most recent accepted sample of every entity
// in a group.
func (a *Aggregator) LatestByGroup(group string) map[Entity]Sample {
	a.latestMu.RLock()
	defer a.latestMu.RUnlock()
	out := make(map[Entity]Sample)
	for e, s := range a.latest {
		if e.Group() == group {
			out[e] = s
		}
	}
	return out
}

func (a *Aggregator) recordLatest(s Sample) {
	a.latestMu.Lock()
	if prev, ok := a.latest[s.Entity]; !ok || s.TimeMs >= prev.TimeMs {
		a.latest[s.Entity] = s
	}
	a.latestMu.Unlock()
}

// Clear empties the aggregator: all windows, state and caches are
// dropped, the active window resets, and the generation is bumped so
// every outstanding cached result is invalidated. Clear blocks until
// in-flight collections have finished.
func (a *Aggregator) Clear() {
	for {
		for a.collectionsInProgress.Load() > 0 {
			time.Sleep(10 * time.Millisecond)
		}
		a.mu.Lock()
		// New collections enter under mu, so a zero count here means we
		// are exclusive.
		if a.collectionsInProgress.Load() == 0 {
			break
		}
		a.mu.Unlock()
	}
	defer a.mu.Unlock()

	a.store.clear()
	a.state.clear()
	a.cache.Store(nil)
	a.activeWindow.Store(-1)
	a.generation.Add(1)

	a.latestMu.Lock()
	a.latest = make(map[Entity]Sample)
	a.latestMu.Unlock()
}
