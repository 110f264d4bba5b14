package example

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/graphql-go/graphql/language/printer"

	"github.com/shashiranjanraj/cachebay/pkg/operations"
)

// NewSSETransport builds an operations.Transport.WS-shaped function that
// reads subscription pushes off a Server-Sent Events stream instead of a
// WebSocket — the alternative the demo server's pkg/sse endpoint exists
// for. Go has no "transport.SSE" slot on operations.Transport (the spec
// only names one streaming seam); this is wired as a second WS-compatible
// implementation a caller can swap in, not a third Transport field.
func NewSSETransport(sseURL string) func(ctx context.Context, req operations.Request) (<-chan operations.NetworkResult, error) {
	return func(ctx context.Context, req operations.Request) (<-chan operations.NetworkResult, error) {
		if _, ok := printer.Print(req.Document).(string); !ok {
			return nil, fmt.Errorf("example: could not print subscription document")
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, sseURL, nil)
		if err != nil {
			return nil, fmt.Errorf("example: build sse request: %w", err)
		}

		resp, err := http.DefaultClient.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("example: connect sse: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("example: sse endpoint returned %d", resp.StatusCode)
		}

		out := make(chan operations.NetworkResult, 1)
		go func() {
			defer close(out)
			defer resp.Body.Close()

			scanner := bufio.NewScanner(resp.Body)
			for scanner.Scan() {
				line := scanner.Text()
				data, ok := strings.CutPrefix(line, "data: ")
				if !ok {
					continue
				}

				var env wsEnvelope
				if err := json.Unmarshal([]byte(data), &env); err != nil {
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
			resp.Body.Close()
		}()

		return out, nil
	}
}
