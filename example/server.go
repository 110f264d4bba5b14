package example

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/shashiranjanraj/cachebay/pkg/logger"
	"github.com/shashiranjanraj/cachebay/pkg/sse"
	"github.com/shashiranjanraj/cachebay/pkg/ws"
)

// sseHub is the SSE counterpart to pkg/ws.Hub's client registry — there is
// no SSE equivalent of a *websocket.Conn to key a hub.Client on, so this
// just tracks the open streams directly.
type sseHub struct {
	mu      sync.Mutex
	streams map[*sse.Stream]struct{}
}

func newSSEHub() *sseHub {
	return &sseHub{streams: map[*sse.Stream]struct{}{}}
}

func (h *sseHub) register(s *sse.Stream) {
	h.mu.Lock()
	h.streams[s] = struct{}{}
	h.mu.Unlock()
}

func (h *sseHub) broadcast(event string, data interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.streams {
		if s.IsClosed() {
			delete(h.streams, s)
			continue
		}
		s.Send(event, data)
	}
}

// graphQLRequest is the wire shape the demo server's /graphql endpoint
// accepts — the same {query, variables} envelope NewHTTPTransport sends.
type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

// NewDemoServer builds a tiny chi-routed server exercising three seams: a
// POST /graphql endpoint resolving two canned operations (a "me" query and
// a "users" connection, good enough to drive a cache-policy or pagination
// demo), a GET /ws endpoint upgrading into hub, the same
// register/unregister/broadcast hub the teacher ships in pkg/ws, and a GET
// /sse endpoint registering an SSE stream with sseHubInst. A POST /notify
// endpoint pushes a message through both the WS hub and the SSE hub so a
// connected operations.Client subscription has something to receive. This is a demo
// fixture, not a GraphQL server — it does not parse or validate queries,
// it matches on field names present in the query text.
func NewDemoServer(hub *ws.Hub, sseHubInst *sseHub) http.Handler {
	r := chi.NewRouter()

	r.Post("/graphql", func(w http.ResponseWriter, req *http.Request) {
		var body graphQLRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": resolveDemo(body.Query),
		})
	})

	r.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
		ws.Upgrade(w, req, hub)
	})

	r.Get("/sse", func(w http.ResponseWriter, req *http.Request) {
		stream := sse.New(w, req)
		if stream == nil {
			return
		}
		sseHubInst.register(stream)
		<-req.Context().Done()
	})

	r.Post("/notify", func(w http.ResponseWriter, req *http.Request) {
		var payload map[string]interface{}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		frame, err := json.Marshal(map[string]interface{}{"data": payload})
		if err != nil {
			http.Error(w, "encode failed", http.StatusInternalServerError)
			return
		}

		hub.Broadcast <- frame
		sseHubInst.broadcast("result", map[string]interface{}{"data": payload})
		w.WriteHeader(http.StatusAccepted)
	})

	return r
}

var demoUsers = []map[string]interface{}{
	{"__typename": "User", "id": "1", "name": "Ada"},
	{"__typename": "User", "id": "2", "name": "Bob"},
}

func resolveDemo(query string) map[string]interface{} {
	switch {
	case strings.Contains(query, "users"):
		edges := make([]interface{}, len(demoUsers))
		for i, u := range demoUsers {
			edges[i] = map[string]interface{}{"cursor": u["id"], "node": u}
		}
		return map[string]interface{}{
			"users": map[string]interface{}{
				"__typename": "UserConnection",
				"edges":      edges,
				"pageInfo": map[string]interface{}{
					"hasNextPage": false, "hasPreviousPage": false,
					"startCursor": demoUsers[0]["id"], "endCursor": demoUsers[len(demoUsers)-1]["id"],
				},
			},
		}
	case strings.Contains(query, "me"):
		return map[string]interface{}{"me": demoUsers[0]}
	default:
		logger.Warn("example: demo server received an unrecognized operation", "query", query)
		return map[string]interface{}{}
	}
}
