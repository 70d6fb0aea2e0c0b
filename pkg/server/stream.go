package server

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loadscope/loadscope/pkg/aggregator"
	"github.com/loadscope/loadscope/pkg/config"
	"github.com/loadscope/loadscope/pkg/metricdef"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// Same-origin requests, or no Origin header at all (direct
		// connections from non-browser clients).
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
	ReadBufferSize:  config.WSReadBufferSize,
	WriteBufferSize: config.WSWriteBufferSize,
}

// AggregateStream pushes aggregation results to WebSocket subscribers.
//
// The engine's generation counter is the push signal: a subscriber that
// has already seen the current generation gets a ping instead of a
// payload, so an idle cluster costs no aggregation work and no
// bandwidth. Subscribers may scope themselves to one entity group
// (?group=...), e.g. a dashboard following a single topic.
type AggregateStream struct {
	agg *aggregator.Aggregator
	def *metricdef.MetricDef

	mu      sync.Mutex
	clients map[*websocket.Conn]*streamClient
}

// streamClient is the per-subscriber bookkeeping: its group filter and
// the last generation it received, which is what de-duplicates pushes.
type streamClient struct {
	group          string
	lastGeneration int64
}

// StreamUpdate is the frame sent to subscribers. Entities reuse the
// aggregate API shape so a dashboard can treat pushed and polled data
// identically.
type StreamUpdate struct {
	Type            string         `json:"type"` // always "aggregate"
	Generation      int64          `json:"generation"`
	TimestampMs     int64          `json:"timestamp_ms"`
	Group           string         `json:"group,omitempty"`
	Entities        []EntityResult `json:"entities"`
	InvalidEntities []string       `json:"invalid_entities,omitempty"`
}

// NewAggregateStream creates a stream bound to an aggregator.
func NewAggregateStream(agg *aggregator.Aggregator, def *metricdef.MetricDef) *AggregateStream {
	return &AggregateStream{
		agg:     agg,
		def:     def,
		clients: make(map[*websocket.Conn]*streamClient),
	}
}

// Run drives the stream: on every tick it aggregates once and fans the
// result out to subscribers that are behind the current generation.
// Returns when the context is cancelled.
func (s *AggregateStream) Run(ctx context.Context) {
	ticker := time.NewTicker(config.WSBroadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			return
		case <-ticker.C:
			s.pushUpdates()
		}
	}
}

// HasClients returns true when any subscriber is connected.
func (s *AggregateStream) HasClients() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients) > 0
}

// pushUpdates aggregates once and delivers per-subscriber frames.
// Subscribers already at the current generation only get a ping so
// their read deadline keeps moving.
func (s *AggregateStream) pushUpdates() {
	s.mu.Lock()
	behind := make(map[*websocket.Conn]*streamClient, len(s.clients))
	current := make([]*websocket.Conn, 0, len(s.clients))
	generation := s.agg.Generation()
	for conn, c := range s.clients {
		if c.lastGeneration == generation {
			current = append(current, conn)
		} else {
			behind[conn] = c
		}
	}
	s.mu.Unlock()

	for _, conn := range current {
		s.pingOrDrop(conn)
	}
	if len(behind) == 0 {
		return
	}

	result, err := s.agg.Aggregate(-1, time.Now().UnixMilli(), aggregator.AggregationOptions{
		NumWindows:             s.agg.Config().NumWindows,
		IncludeInvalidEntities: true,
	})
	if err != nil {
		// Not enough valid windows is the normal state of a fresh
		// engine; keep the connections alive until data accrues.
		for conn := range behind {
			s.pingOrDrop(conn)
		}
		return
	}

	entities := entityResults(result, s.def)
	invalid := invalidEntityNames(result)
	now := time.Now().UnixMilli()

	for conn, c := range behind {
		update := StreamUpdate{
			Type:            "aggregate",
			Generation:      result.Generation,
			TimestampMs:     now,
			Group:           c.group,
			Entities:        entities,
			InvalidEntities: invalid,
		}
		if c.group != "" {
			update.Entities = filterByGroup(entities, c.group)
			update.InvalidEntities = nil
		}

		conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
		if err := conn.WriteJSON(update); err != nil {
			log.Printf("Aggregate stream write failed: %v", err)
			s.remove(conn)
			continue
		}
		s.mu.Lock()
		if cur, ok := s.clients[conn]; ok {
			cur.lastGeneration = result.Generation
		}
		s.mu.Unlock()
	}
}

// pingOrDrop keeps an up-to-date subscriber alive.
func (s *AggregateStream) pingOrDrop(conn *websocket.Conn) {
	conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
	if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		s.remove(conn)
	}
}

func filterByGroup(entities []EntityResult, group string) []EntityResult {
	out := make([]EntityResult, 0, len(entities))
	for _, e := range entities {
		if e.Group == group {
			out = append(out, e)
		}
	}
	return out
}

func (s *AggregateStream) add(conn *websocket.Conn, group string) {
	s.mu.Lock()
	// lastGeneration of -1 guarantees the first tick sends a full frame;
	// the engine's generations start at 0.
	s.clients[conn] = &streamClient{group: group, lastGeneration: -1}
	count := len(s.clients)
	s.mu.Unlock()
	log.Printf("Aggregate stream subscriber connected (group %q, total %d)", group, count)
}

func (s *AggregateStream) remove(conn *websocket.Conn) {
	s.mu.Lock()
	if _, ok := s.clients[conn]; ok {
		delete(s.clients, conn)
		conn.Close()
	}
	count := len(s.clients)
	s.mu.Unlock()
	log.Printf("Aggregate stream subscriber disconnected (total %d)", count)
}

func (s *AggregateStream) closeAll() {
	s.mu.Lock()
	for conn := range s.clients {
		conn.Close()
	}
	s.clients = make(map[*websocket.Conn]*streamClient)
	s.mu.Unlock()
}

// HandleWebSocket upgrades GET /v1/ws and parks the connection in the
// stream. The read loop only consumes control frames; all data flows
// server to client from Run's ticker.
func (s *AggregateStream) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	group := r.URL.Query().Get("group")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	s.add(conn, group)
	defer s.remove(conn)

	conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("Aggregate stream read error: %v", err)
			}
			return
		}
	}
}
