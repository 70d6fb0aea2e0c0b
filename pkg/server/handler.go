package server

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/loadscope/loadscope/pkg/aggregator"
	"github.com/loadscope/loadscope/pkg/config"
	"github.com/loadscope/loadscope/pkg/metricdef"
	"github.com/loadscope/loadscope/pkg/samplestore"
)

var startTime = time.Now()

// Handler serves the HTTP surface over the aggregation engine.
type Handler struct {
	agg     *aggregator.Aggregator
	def     *metricdef.MetricDef
	store   samplestore.Store
	tracker *EntityTracker
}

// NewHandler creates the HTTP handler for an aggregator.
func NewHandler(agg *aggregator.Aggregator, def *metricdef.MetricDef) *Handler {
	return &Handler{
		agg:     agg,
		def:     def,
		tracker: NewEntityTracker(),
	}
}

// SetSampleStore attaches a durable sample store. Accepted samples are
// appended to it so they can be replayed after a restart.
func (h *Handler) SetSampleStore(store samplestore.Store) {
	h.store = store
}

// Tracker exposes the entity cardinality tracker for stats endpoints.
func (h *Handler) Tracker() *EntityTracker {
	return h.tracker
}

// SamplePayload is the wire form of one produced sample. Values are
// keyed by metric name.
type SamplePayload struct {
	Group  string             `json:"group"`
	Entity string             `json:"entity"`
	TimeMs int64              `json:"time_ms"`
	Values map[string]float64 `json:"values"`
}

// IngestRequest is the request payload of POST /v1/samples.
type IngestRequest struct {
	Samples []SamplePayload `json:"samples"`
}

// IngestResponse reports how many samples the engine took.
type IngestResponse struct {
	Status   string `json:"status"`
	Accepted int    `json:"accepted"`
	Rejected int    `json:"rejected"`
}

// HandleIngest handles POST /v1/samples.
func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	if len(req.Samples) > config.MaxSamplesPerRequest {
		writeError(w, http.StatusBadRequest, codeBadRequest,
			fmt.Errorf("too many samples in request (max %d)", config.MaxSamplesPerRequest))
		return
	}

	var accepted, rejected int
	var persisted []samplestore.Record
	for _, p := range req.Samples {
		entity := aggregator.GroupedEntity{GroupName: p.Group, Name: p.Entity}
		if err := h.tracker.Check(entity); err != nil {
			rejected++
			samplesRejected.WithLabelValues("cardinality").Inc()
			continue
		}

		values, ok := h.translateValues(p.Values)
		if !ok {
			rejected++
			samplesRejected.WithLabelValues("unknown_metric").Inc()
			continue
		}

		s := aggregator.Sample{Entity: entity, TimeMs: p.TimeMs, Values: values}
		if !h.agg.Add(s) {
			rejected++
			samplesRejected.WithLabelValues("validation").Inc()
			continue
		}
		accepted++
		samplesAccepted.Inc()
		h.tracker.Record(entity)
		if h.store != nil {
			persisted = append(persisted, samplestore.FromSample(s))
		}
	}

	if h.store != nil && len(persisted) > 0 {
		if err := h.store.Append(r.Context(), persisted); err != nil {
			// The engine took the samples; failing to persist them must
			// not turn the request into an error.
			log.Printf("Failed to persist %d samples: %v", len(persisted), err)
		}
	}

	h.updateEngineGauges()
	writeJSON(w, http.StatusOK, IngestResponse{
		Status:   "success",
		Accepted: accepted,
		Rejected: rejected,
	})
}

// translateValues re-keys values from metric names to dense ids.
func (h *Handler) translateValues(byName map[string]float64) (map[int]float64, bool) {
	values := make(map[int]float64, len(byName))
	for name, v := range byName {
		info, ok := h.def.ByName(name)
		if !ok {
			return nil, false
		}
		values[info.ID()] = v
	}
	return values, true
}

// EntityResult is the per-entity slice of an aggregation response.
type EntityResult struct {
	Group          string               `json:"group"`
	Entity         string               `json:"entity"`
	Windows        []int64              `json:"windows"`
	Metrics        map[string][]float64 `json:"metrics"`
	Extrapolations map[int]string       `json:"extrapolations,omitempty"`
}

// AggregateResponse is the response payload of GET /v1/aggregate.
type AggregateResponse struct {
	Generation      int64          `json:"generation"`
	Entities        []EntityResult `json:"entities"`
	InvalidEntities []string       `json:"invalid_entities"`
}

// HandleAggregate handles GET /v1/aggregate.
func (h *Handler) HandleAggregate(w http.ResponseWriter, r *http.Request) {
	fromMs, toMs, opts, err := h.parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err)
		return
	}

	result, err := h.agg.Aggregate(fromMs, toMs, opts)
	if err != nil {
		status, code := engineErrorStatus(err)
		aggregations.WithLabelValues(code).Inc()
		writeError(w, status, code, err)
		return
	}
	aggregations.WithLabelValues("ok").Inc()
	h.updateEngineGauges()

	writeJSON(w, http.StatusOK, AggregateResponse{
		Generation:      result.Generation,
		Entities:        entityResults(result, h.def),
		InvalidEntities: invalidEntityNames(result),
	})
}

// CompletenessResponse is the response payload of GET /v1/completeness.
type CompletenessResponse struct {
	Generation         int64             `json:"generation"`
	ValidWindowIndexes []int64           `json:"valid_window_indexes"`
	ValidEntities      []string          `json:"valid_entities"`
	ValidEntityGroups  []string          `json:"valid_entity_groups"`
	EntityRatio        map[int64]float64 `json:"entity_ratio_by_window"`
	GroupEntityRatio   map[int64]float64 `json:"group_entity_ratio_by_window"`
	GroupRatio         map[int64]float64 `json:"group_ratio_by_window"`
}

// HandleCompleteness handles GET /v1/completeness.
func (h *Handler) HandleCompleteness(w http.ResponseWriter, r *http.Request) {
	fromMs, toMs, opts, err := h.parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err)
		return
	}

	c, err := h.agg.Completeness(fromMs, toMs, opts)
	if err != nil {
		status, code := engineErrorStatus(err)
		writeError(w, status, code, err)
		return
	}

	resp := CompletenessResponse{
		Generation:         c.Generation,
		ValidWindowIndexes: c.ValidWindowIndexes,
		ValidEntities:      make([]string, 0, len(c.ValidEntities)),
		ValidEntityGroups:  make([]string, 0, len(c.ValidEntityGroups)),
		EntityRatio:        c.ValidEntityRatioByWindow,
		GroupEntityRatio:   c.ValidEntityRatioWithGroupGranularityByWindow,
		GroupRatio:         c.ValidEntityGroupRatioByWindow,
	}
	for e := range c.ValidEntities {
		resp.ValidEntities = append(resp.ValidEntities, e.String())
	}
	sort.Strings(resp.ValidEntities)
	for g := range c.ValidEntityGroups {
		resp.ValidEntityGroups = append(resp.ValidEntityGroups, g)
	}
	sort.Strings(resp.ValidEntityGroups)

	writeJSON(w, http.StatusOK, resp)
}

// WindowsResponse is the response payload of GET /v1/windows.
type WindowsResponse struct {
	Generation int64   `json:"generation"`
	Earliest   *int64  `json:"earliest,omitempty"`
	All        []int64 `json:"all"`
	Available  []int64 `json:"available"`
}

// HandleWindows handles GET /v1/windows.
func (h *Handler) HandleWindows(w http.ResponseWriter, r *http.Request) {
	resp := WindowsResponse{
		Generation: h.agg.Generation(),
		All:        h.agg.AllWindows(),
		Available:  h.agg.AvailableWindows(),
	}
	if earliest, ok := h.agg.EarliestWindow(); ok {
		resp.Earliest = &earliest
	}
	writeJSON(w, http.StatusOK, resp)
}

// SnapshotCell is one (entity, window) cell of the snapshot dump.
type SnapshotCell struct {
	Group      string             `json:"group"`
	Entity     string             `json:"entity"`
	NumSamples int64              `json:"num_samples"`
	Values     map[string]float64 `json:"values"`
}

// HandleSnapshot handles GET /v1/snapshot: a best-effort dump of every
// retained cell, for debugging and state export.
func (h *Handler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot := h.agg.CurrentWindowValues()
	resp := make(map[int64][]SnapshotCell, len(snapshot))
	for windowStart, cells := range snapshot {
		out := make([]SnapshotCell, 0, len(cells))
		for e, vals := range cells {
			byName := make(map[string]float64, h.def.Size())
			for _, info := range h.def.All() {
				byName[info.Name()] = vals.Value(info.ID())
			}
			out = append(out, SnapshotCell{
				Group:      e.Group(),
				Entity:     e.String(),
				NumSamples: vals.NumSamples,
				Values:     byName,
			})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Entity < out[j].Entity })
		resp[windowStart] = out
	}
	writeJSON(w, http.StatusOK, resp)
}

// StateResponse is the response payload of GET /v1/state.
type StateResponse struct {
	Generation        int64              `json:"generation"`
	WindowGenerations map[int64]int64    `json:"window_generations"`
	EntityCoverage    map[string][]int64 `json:"entity_coverage"`
}

// HandleState handles GET /v1/state.
func (h *Handler) HandleState(w http.ResponseWriter, r *http.Request) {
	state := h.agg.AggregatorState()
	coverage := make(map[string][]int64, len(state.EntityCoverage))
	for e, windows := range state.EntityCoverage {
		coverage[e.String()] = windows
	}
	writeJSON(w, http.StatusOK, StateResponse{
		Generation:        h.agg.Generation(),
		WindowGenerations: state.WindowGenerations,
		EntityCoverage:    coverage,
	})
}

// StatsResponse is the response payload of GET /v1/stats.
type StatsResponse struct {
	Generation  int64              `json:"generation"`
	NumSamples  int64              `json:"num_samples"`
	NumWindows  int                `json:"num_windows"`
	Cardinality TrackerStats       `json:"cardinality"`
	SampleStore *samplestore.Stats `json:"sample_store,omitempty"`
}

// HandleStats handles GET /v1/stats.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		Generation:  h.agg.Generation(),
		NumSamples:  h.agg.NumSamples(),
		NumWindows:  len(h.agg.AllWindows()),
		Cardinality: h.tracker.Stats(),
	}
	if h.store != nil {
		if stats, err := h.store.Stats(r.Context()); err == nil {
			resp.SampleStore = stats
		} else {
			log.Printf("Failed to read sample store stats: %v", err)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleHealth handles GET /v1/health.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"uptime": time.Since(startTime).String(),
	})
}

// parseQuery extracts the time range and aggregation options from the
// request. Missing parameters fall back to the engine defaults: the
// whole retained range and the engine's window count.
func (h *Handler) parseQuery(r *http.Request) (fromMs, toMs int64, opts aggregator.AggregationOptions, err error) {
	q := r.URL.Query()

	fromMs, err = parseInt64(q.Get("from_ms"), -1)
	if err != nil {
		return 0, 0, opts, fmt.Errorf("bad from_ms: %w", err)
	}
	toMs, err = parseInt64(q.Get("to_ms"), math.MaxInt64)
	if err != nil {
		return 0, 0, opts, fmt.Errorf("bad to_ms: %w", err)
	}

	numWindows := h.agg.Config().NumWindows
	if v := q.Get("num_windows"); v != "" {
		numWindows, err = strconv.Atoi(v)
		if err != nil {
			return 0, 0, opts, fmt.Errorf("bad num_windows: %w", err)
		}
	}

	minEntityRatio, err := parseFloat(q.Get("min_entity_ratio"), 0)
	if err != nil {
		return 0, 0, opts, fmt.Errorf("bad min_entity_ratio: %w", err)
	}
	minGroupRatio, err := parseFloat(q.Get("min_group_ratio"), 0)
	if err != nil {
		return 0, 0, opts, fmt.Errorf("bad min_group_ratio: %w", err)
	}

	granularity := aggregator.GranularityEntity
	switch q.Get("granularity") {
	case "", "entity":
	case "entity_group":
		granularity = aggregator.GranularityEntityGroup
	default:
		return 0, 0, opts, fmt.Errorf("bad granularity %q", q.Get("granularity"))
	}

	var interested map[aggregator.Entity]bool
	if v := q.Get("entities"); v != "" {
		interested = make(map[aggregator.Entity]bool)
		for _, item := range strings.Split(v, ",") {
			group, name, found := strings.Cut(item, "/")
			if !found || group == "" || name == "" {
				return 0, 0, opts, fmt.Errorf("bad entity %q, want group/name", item)
			}
			interested[aggregator.GroupedEntity{GroupName: group, Name: name}] = true
		}
	}

	opts = aggregator.AggregationOptions{
		MinValidEntityRatio:      minEntityRatio,
		MinValidEntityGroupRatio: minGroupRatio,
		NumWindows:               numWindows,
		InterestedEntities:       interested,
		Granularity:              granularity,
		IncludeInvalidEntities:   q.Get("include_invalid") == "true",
	}
	return fromMs, toMs, opts, nil
}

func (h *Handler) updateEngineGauges() {
	retainedWindows.Set(float64(len(h.agg.AllWindows())))
	engineGeneration.Set(float64(h.agg.Generation()))
}

func parseInt64(v string, fallback int64) (int64, error) {
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

func parseFloat(v string, fallback float64) (float64, error) {
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(v, 64)
}
