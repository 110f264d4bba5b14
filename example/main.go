package example

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"

	"github.com/shashiranjanraj/cachebay/pkg/http"
	"github.com/shashiranjanraj/cachebay/pkg/operations"
	"github.com/shashiranjanraj/cachebay/pkg/schema"
	"github.com/shashiranjanraj/cachebay/pkg/ws"
)

// Demo wires a real operations.Client to the demo server over HTTP and WS,
// using httptest so this runs as ordinary Go code with no external
// process — the worked example SPEC_FULL.md calls for, kept out of the
// library's own import graph.
type Demo struct {
	Server *httptest.Server
	Client *operations.Client

	// SSEURL is the demo server's Server-Sent Events subscription endpoint,
	// an alternative to the WebSocket transport Client is wired against by
	// default. Pass it to NewSSETransport to build a second Client that
	// receives the same pushes over SSE instead.
	SSEURL string
}

// NewDemo starts the demo server and returns a Client wired against it over
// HTTP (queries/mutations) and WebSocket (subscriptions).
func NewDemo(cfg *schema.Config) *Demo {
	hub := ws.NewHub()
	go hub.Run()
	sseHubInst := newSSEHub()

	srv := httptest.NewServer(NewDemoServer(hub, sseHubInst))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	client := operations.New(operations.ClientOptions{
		Schema: cfg,
		Transport: operations.Transport{
			HTTP: func(ctx context.Context, req operations.Request) (map[string]interface{}, error) {
				return NewHTTPTransport(srv.URL + "/graphql")(ctx, req)
			},
			WS: func(ctx context.Context, req operations.Request) (<-chan operations.NetworkResult, error) {
				return NewWSTransport(wsURL)(ctx, req)
			},
		},
	})

	return &Demo{Server: srv, Client: client, SSEURL: srv.URL + "/sse"}
}

// Close shuts down the Client and the demo server.
func (d *Demo) Close() {
	d.Client.Close()
	d.Server.Close()
}

// Notify POSTs payload to the demo server's /notify endpoint, pushing it
// to every connected subscription — a way to drive ExecuteSubscription
// from outside the normal request/response flow.
func (d *Demo) Notify(payload map[string]interface{}) error {
	resp, err := http.Post(d.Server.URL + "/notify").Body(payload).Send()
	if err != nil {
		return fmt.Errorf("example: notify: %w", err)
	}
	return resp.Throw()
}
