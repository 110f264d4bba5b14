package example

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/graphql-go/graphql/language/printer"

	"github.com/shashiranjanraj/cachebay/pkg/logger"
	"github.com/shashiranjanraj/cachebay/pkg/operations"
)

// wsEnvelope is one frame pushed by the demo server over the subscription
// socket, mirroring graphQLEnvelope's {data, errors} shape.
type wsEnvelope struct {
	Data   map[string]interface{}   `json:"data"`
	Errors []map[string]interface{} `json:"errors"`
}

// NewWSTransport builds an operations.Transport.WS function that dials
// wsURL with gorilla/websocket (the same module the demo server's
// pkg/ws.Hub is built on) and decodes each inbound text frame into a
// NetworkResult, one per received subscription payload.
func NewWSTransport(wsURL string) func(ctx context.Context, req operations.Request) (<-chan operations.NetworkResult, error) {
	return func(ctx context.Context, req operations.Request) (<-chan operations.NetworkResult, error) {
		query, ok := printer.Print(req.Document).(string)
		if !ok {
			return nil, fmt.Errorf("example: could not print subscription document")
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			return nil, fmt.Errorf("example: dial %s: %w", wsURL, err)
		}

		if err := conn.WriteJSON(map[string]interface{}{
			"query":     query,
			"variables": req.Variables,
		}); err != nil {
			conn.Close()
			return nil, fmt.Errorf("example: send subscribe frame: %w", err)
		}

		out := make(chan operations.NetworkResult, 1)
		go func() {
			defer close(out)
			defer conn.Close()

			for {
				_, raw, err := conn.ReadMessage()
				if err != nil {
					return
				}

				var env wsEnvelope
				if err := json.Unmarshal(raw, &env); err != nil {
					logger.Warn("example: bad subscription frame", "error", err)
					continue
				}

				if len(env.Errors) > 0 {
					select {
					case out <- operations.NetworkResult{Error: fmt.Errorf("example: %v", env.Errors[0]["message"])}:
					case <-ctx.Done():
						return
					}
					continue
				}

				select {
				case out <- operations.NetworkResult{Data: env.Data}:
				case <-ctx.Done():
					return
				}
			}
		}()

		go func() {
			<-ctx.Done()
			conn.Close()
		}()

		return out, nil
	}
}
