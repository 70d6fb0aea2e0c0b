package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter assembles the HTTP API.
func NewRouter(h *Handler, stream *AggregateStream) *mux.Router {
	router := mux.NewRouter()

	// CORS middleware for dashboard access
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	api := router.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/samples", h.HandleIngest).Methods("POST")
	api.HandleFunc("/aggregate", h.HandleAggregate).Methods("GET")
	api.HandleFunc("/completeness", h.HandleCompleteness).Methods("GET")
	api.HandleFunc("/windows", h.HandleWindows).Methods("GET")
	api.HandleFunc("/snapshot", h.HandleSnapshot).Methods("GET")
	api.HandleFunc("/state", h.HandleState).Methods("GET")
	api.HandleFunc("/stats", h.HandleStats).Methods("GET")
	api.HandleFunc("/health", h.HandleHealth).Methods("GET")
	api.HandleFunc("/ws", stream.HandleWebSocket).Methods("GET")

	// Prometheus self-metrics on the standard path
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return router
}
