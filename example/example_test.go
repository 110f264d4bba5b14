package example_test

import (
	"context"
	"testing"
	"time"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/graphql-go/graphql/language/source"
	"github.com/stretchr/testify/require"

	"github.com/shashiranjanraj/cachebay/example"
	"github.com/shashiranjanraj/cachebay/pkg/operations"
	"github.com/shashiranjanraj/cachebay/pkg/schema"
)

func mustParseQuery(t *testing.T, query string) *ast.Document {
	t.Helper()
	doc, err := parser.Parse(parser.ParseParams{Source: source.NewSource(&source.Source{Body: []byte(query)})})
	require.NoError(t, err)
	return doc
}

func demoSchema() *schema.Config {
	cfg := schema.New()
	cfg.Keys["User"] = func(e map[string]interface{}) string {
		id, _ := e["id"].(string)
		return id
	}
	cfg.Connections["Query"] = map[string]schema.ConnectionConfig{
		"users": {Mode: schema.ModeForward, Dedupe: schema.DedupeNode},
	}
	return cfg
}

func TestDemo_ExecuteQueryOverRealHTTPTransport(t *testing.T) {
	d := example.NewDemo(demoSchema())
	defer d.Close()

	result := d.Client.ExecuteQuery(context.Background(), operations.ExecuteQueryInput{
		Document: mustParseQuery(t, `query Q { me { id name } }`),
		Policy:   operations.NetworkOnly,
	})
	require.Nil(t, result.Error)

	out := result.Data.(map[string]interface{})
	me := out["me"].(map[string]interface{})
	require.Equal(t, "Ada", me["name"])
}

func TestDemo_SubscriptionReceivesNotifyPush(t *testing.T) {
	d := example.NewDemo(demoSchema())
	defer d.Close()

	out, cancel, serr := d.Client.ExecuteSubscription(context.Background(), operations.ExecuteSubscriptionInput{
		Document: mustParseQuery(t, `subscription S { messageAdded { id name } }`),
	})
	require.Nil(t, serr)
	defer cancel()

	time.Sleep(50 * time.Millisecond) // let the WS upgrade complete before notifying
	require.NoError(t, d.Notify(map[string]interface{}{
		"messageAdded": map[string]interface{}{"__typename": "User", "id": "3", "name": "Cleo"},
	}))

	select {
	case res := <-out:
		require.Nil(t, res.Error)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notify push")
	}
}

func TestDemo_SSETransportReceivesNotifyPush(t *testing.T) {
	d := example.NewDemo(demoSchema())
	defer d.Close()

	ch, err := example.NewSSETransport(d.SSEURL)(
		context.Background(),
		operations.Request{
			Document: mustParseQuery(t, `subscription S { messageAdded { id name } }`),
			RootType: "Subscription",
		},
	)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond) // let the SSE connection register before notifying
	require.NoError(t, d.Notify(map[string]interface{}{
		"messageAdded": map[string]interface{}{"__typename": "User", "id": "4", "name": "Drew"},
	}))

	select {
	case res := <-ch:
		require.Nil(t, res.Error)
		require.NotNil(t, res.Data)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sse notify push")
	}
}
