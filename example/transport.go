// Package example wires operations.Transport to real network primitives,
// demonstrating how a consumer plugs cachebay into an actual GraphQL
// endpoint. It is illustrative scaffolding, not part of the library's
// public contract — none of pkg/operations imports it.
package example

import (
	"context"
	"fmt"

	"github.com/graphql-go/graphql/language/printer"

	"github.com/shashiranjanraj/cachebay/pkg/http"
	"github.com/shashiranjanraj/cachebay/pkg/operations"
)

// graphQLEnvelope is the standard {data, errors} response shape.
type graphQLEnvelope struct {
	Data   map[string]interface{}   `json:"data"`
	Errors []map[string]interface{} `json:"errors"`
}

// NewHTTPTransport builds an operations.Transport.HTTP function that POSTs
// the operation to endpoint using the teacher's fluent, retrying client
// (pkg/http), printing the AST back to a query string via
// graphql-go/graphql's own printer — the same module Planner already
// depends on for its input AST, reused here for the one place this engine
// needs to go the other way.
func NewHTTPTransport(endpoint string) func(ctx context.Context, req operations.Request) (map[string]interface{}, error) {
	return func(ctx context.Context, req operations.Request) (map[string]interface{}, error) {
		query, ok := printer.Print(req.Document).(string)
		if !ok {
			return nil, fmt.Errorf("example: could not print operation document")
		}

		resp, err := http.Post(endpoint).
			Body(map[string]interface{}{
				"query":     query,
				"variables": req.Variables,
			}).
			WithContext(ctx).
			Send()
		if err != nil {
			return nil, fmt.Errorf("example: dispatch %s: %w", req.RootType, err)
		}
		if err := resp.Throw(); err != nil {
			return nil, err
		}

		var env graphQLEnvelope
		if err := resp.JSON(&env); err != nil {
			return nil, fmt.Errorf("example: decode response: %w", err)
		}
		if len(env.Errors) > 0 {
			return nil, fmt.Errorf("example: server returned %d error(s): %v", len(env.Errors), env.Errors[0]["message"])
		}
		return env.Data, nil
	}
}
