package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sort"

	"github.com/loadscope/loadscope/pkg/aggregator"
	"github.com/loadscope/loadscope/pkg/metricdef"
)

// API error codes, mirroring the engine's failure taxonomy so callers
// can branch without parsing messages.
const (
	codeBadRequest            = "bad_request"
	codeInvalidArgument       = "invalid_argument"
	codeNotEnoughValidWindows = "not_enough_valid_windows"
	codeInternal              = "internal"
)

// APIError is the error envelope of every non-2xx response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Failed to encode JSON response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	writeJSON(w, status, APIError{Code: code, Message: err.Error()})
}

// engineErrorStatus maps the engine's typed failures onto an HTTP
// status and an API error code. NotEnoughValidWindows is the caller's
// cue to widen the range or lower the thresholds, not a server fault.
func engineErrorStatus(err error) (int, string) {
	var notEnough *aggregator.NotEnoughValidWindowsError
	switch {
	case errors.As(err, &notEnough):
		return http.StatusUnprocessableEntity, codeNotEnoughValidWindows
	case errors.Is(err, aggregator.ErrInvalidArgument):
		return http.StatusBadRequest, codeInvalidArgument
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

// entityResults flattens an aggregation result into the wire shape
// shared by the REST and WebSocket surfaces: metric vectors re-keyed by
// name, extrapolation kinds spelled out, entities in (group, entity)
// order.
func entityResults(result *aggregator.AggregationResult, def *metricdef.MetricDef) []EntityResult {
	out := make([]EntityResult, 0, len(result.Entities))
	for e, vae := range result.Entities {
		extrapolations := make(map[int]string, len(vae.Extrapolations))
		for pos, kind := range vae.Extrapolations {
			extrapolations[pos] = kind.String()
		}
		out = append(out, EntityResult{
			Group:          e.Group(),
			Entity:         e.String(),
			Windows:        vae.Windows,
			Metrics:        vae.ByName(def),
			Extrapolations: extrapolations,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Group != out[j].Group {
			return out[i].Group < out[j].Group
		}
		return out[i].Entity < out[j].Entity
	})
	return out
}

func invalidEntityNames(result *aggregator.AggregationResult) []string {
	out := make([]string, 0, len(result.InvalidEntities))
	for e := range result.InvalidEntities {
		out = append(out, e.String())
	}
	sort.Strings(out)
	return out
}
