package operations_test

import (
	"context"
	"testing"
	"time"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/graphql-go/graphql/language/source"
	"github.com/stretchr/testify/require"

	"github.com/shashiranjanraj/cachebay/pkg/operations"
	"github.com/shashiranjanraj/cachebay/pkg/operations/testsupport"
	"github.com/shashiranjanraj/cachebay/pkg/optimistic"
	"github.com/shashiranjanraj/cachebay/pkg/schema"
)

func mustParse(t *testing.T, query string) *ast.Document {
	t.Helper()
	doc, err := parser.Parse(parser.ParseParams{Source: source.NewSource(&source.Source{Body: []byte(query)})})
	require.NoError(t, err)
	return doc
}

func newUsersSchema() *schema.Config {
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

// Scenario 1: two pages normalize then materialize into one canonical union.
func TestScenario_TwoPageConnectionMaterializesCanonical(t *testing.T) {
	doc := mustParse(t, `query Q($after: String) {
		users(first: 2, after: $after) {
			edges { cursor node { id name } }
			pageInfo { hasNextPage hasPreviousPage startCursor endCursor }
		}
	}`)

	testsupport.RunScenario(t, testsupport.Scenario{
		Name:   "two-page-connection",
		Schema: newUsersSchema(),
		Steps: []testsupport.MockStep{
			{MatchOperation: "Query", Data: map[string]interface{}{
				"users": map[string]interface{}{
					"__typename": "UserConnection",
					"edges": []interface{}{
						map[string]interface{}{"cursor": "c1", "node": map[string]interface{}{"__typename": "User", "id": "1", "name": "Ada"}},
						map[string]interface{}{"cursor": "c2", "node": map[string]interface{}{"__typename": "User", "id": "2", "name": "Bob"}},
					},
					"pageInfo": map[string]interface{}{"hasNextPage": true, "hasPreviousPage": false, "startCursor": "c1", "endCursor": "c2"},
				},
			}},
			{MatchOperation: "Query", Data: map[string]interface{}{
				"users": map[string]interface{}{
					"__typename": "UserConnection",
					"edges": []interface{}{
						map[string]interface{}{"cursor": "c3", "node": map[string]interface{}{"__typename": "User", "id": "3", "name": "Cleo"}},
					},
					"pageInfo": map[string]interface{}{"hasNextPage": false, "hasPreviousPage": true, "startCursor": "c3", "endCursor": "c3"},
				},
			}},
		},
		Run: func(t *testing.T, c *operations.Client, mt *testsupport.MockTransport) {
			ctx := context.Background()

			first := c.ExecuteQuery(ctx, operations.ExecuteQueryInput{
				Document: doc, Variables: map[string]interface{}{}, Policy: operations.NetworkOnly,
			})
			require.Nil(t, first.Error)

			second := c.ExecuteQuery(ctx, operations.ExecuteQueryInput{
				Document: doc, Variables: map[string]interface{}{"after": "c2"}, Policy: operations.NetworkOnly,
			})
			require.Nil(t, second.Error)

			read, rerr := c.ReadQuery(operations.ReadInput{
				Document: doc, Variables: map[string]interface{}{},
			})
			require.Nil(t, rerr)
			require.True(t, read.Ok.Canonical)

			out := read.Data.(map[string]interface{})
			users := out["users"].(map[string]interface{})
			edges := users["edges"].([]interface{})
			require.Len(t, edges, 3)
		},
	})
}

// Scenario 2: a committed optimistic patch is visible immediately, then reverted.
func TestScenario_OptimisticPatchThenRevert(t *testing.T) {
	doc := mustParse(t, `query Q { me { id name } }`)
	cfg := newUsersSchema()

	testsupport.RunScenario(t, testsupport.Scenario{
		Name:   "optimistic-patch-then-revert",
		Schema: cfg,
		Run: func(t *testing.T, c *operations.Client, mt *testsupport.MockTransport) {
			_, werr := c.WriteQuery(operations.WriteInput{
				Document: doc, Data: map[string]interface{}{
					"me": map[string]interface{}{"__typename": "User", "id": "1", "name": "Ada"},
				},
			})
			require.Nil(t, werr)

			handle := c.ModifyOptimistic(func(tx *optimistic.Tx) {
				tx.Patch("User:1", map[string]interface{}{"name": "Ada (pending)"}, optimistic.ModeMerge)
			})
			handle.Commit()

			pending, perr := c.ReadQuery(operations.ReadInput{Document: doc, PreferOptimistic: true})
			require.Nil(t, perr)
			pendingOut := pending.Data.(map[string]interface{})
			pendingMe := pendingOut["me"].(map[string]interface{})
			require.Equal(t, "Ada (pending)", pendingMe["name"])

			handle.Revert()

			read, rerr := c.ReadQuery(operations.ReadInput{Document: doc, PreferOptimistic: true})
			require.Nil(t, rerr)
			out := read.Data.(map[string]interface{})
			me := out["me"].(map[string]interface{})
			require.Equal(t, "Ada", me["name"])
		},
	})
}

// Scenario 3: a network-only watch delivers the fetched data, readable
// through Watch.Data once the background dispatch completes.
func TestScenario_WatchQueryNetworkOnlyDeliversData(t *testing.T) {
	doc := mustParse(t, `query Q { me { id name } }`)
	cfg := newUsersSchema()

	c := operations.New(operations.ClientOptions{
		Schema: cfg,
		Transport: operations.Transport{
			HTTP: func(ctx context.Context, req operations.Request) (map[string]interface{}, error) {
				return map[string]interface{}{
					"me": map[string]interface{}{"__typename": "User", "id": "1", "name": "Ada"},
				}, nil
			},
		},
	})
	defer c.Close()

	w, werr := c.WatchQuery(context.Background(), operations.WatchQueryInput{
		Document: doc, Policy: operations.NetworkOnly,
	})
	require.Nil(t, werr)
	defer w.Unsubscribe()

	require.Eventually(t, func() bool {
		data, _ := w.Data()
		return data != nil
	}, time.Second, time.Millisecond)
}

// Scenario 4: cache-and-network with the data already cached still makes
// exactly one network call and returns the (identical) network payload.
func TestScenario_CacheAndNetworkWithCachedDataFetchesOnce(t *testing.T) {
	doc := mustParse(t, `query Q { me { id name } }`)
	cfg := newUsersSchema()

	testsupport.RunScenario(t, testsupport.Scenario{
		Name:   "cache-and-network-identical",
		Schema: cfg,
		Steps: []testsupport.MockStep{
			{MatchOperation: "Query", Data: map[string]interface{}{
				"me": map[string]interface{}{"__typename": "User", "id": "1", "name": "Ada"},
			}},
		},
		Run: func(t *testing.T, c *operations.Client, mt *testsupport.MockTransport) {
			_, werr := c.WriteQuery(operations.WriteInput{
				Document: doc, Data: map[string]interface{}{
					"me": map[string]interface{}{"__typename": "User", "id": "1", "name": "Ada"},
				},
			})
			require.Nil(t, werr)

			result := c.ExecuteQuery(context.Background(), operations.ExecuteQueryInput{
				Document: doc, Policy: operations.CacheAndNetwork,
			})
			require.Nil(t, result.Error)
			out := result.Data.(map[string]interface{})
			me := out["me"].(map[string]interface{})
			require.Equal(t, "Ada", me["name"])
			require.Equal(t, 1, mt.CallCount())
		},
	})
}

// Scenario 5: SSR round trip, then a network-only read during the
// hydration window behaves like cache-first.
func TestScenario_SSRRoundTripThenHydrationWindowPrefersCache(t *testing.T) {
	doc := mustParse(t, `query Q { me { id name } }`)
	cfg := newUsersSchema()

	producer := operations.New(operations.ClientOptions{Schema: cfg})
	defer producer.Close()
	_, werr := producer.WriteQuery(operations.WriteInput{
		Document: doc, Data: map[string]interface{}{
			"me": map[string]interface{}{"__typename": "User", "id": "1", "name": "Ada"},
		},
	})
	require.Nil(t, werr)
	snap := producer.Dehydrate()

	calls := 0
	consumer := operations.New(operations.ClientOptions{
		Schema: cfg,
		Transport: operations.Transport{
			HTTP: func(ctx context.Context, req operations.Request) (map[string]interface{}, error) {
				calls++
				return map[string]interface{}{
					"me": map[string]interface{}{"__typename": "User", "id": "1", "name": "Ada Lovelace"},
				}, nil
			},
		},
	})
	defer consumer.Close()

	herr := consumer.Hydrate(operations.HydrateInput{Snapshot: &snap})
	require.Nil(t, herr)

	result := consumer.ExecuteQuery(context.Background(), operations.ExecuteQueryInput{
		Document: doc, Policy: operations.NetworkOnly,
	})
	require.Nil(t, result.Error)
	require.Equal(t, 0, calls, "network-only must prefer cache during the hydration window")
	out := result.Data.(map[string]interface{})
	me := out["me"].(map[string]interface{})
	require.Equal(t, "Ada", me["name"])
}

// Scenario 6: a subscription payload normalizes under a synthetic root and
// its identified entity is visible from a direct fragment read.
func TestScenario_SubscriptionNormalizesUnderSyntheticRoot(t *testing.T) {
	doc := mustParse(t, `subscription S { messageAdded { id name } }`)
	cfg := newUsersSchema()

	results := make(chan operations.NetworkResult, 1)
	c := operations.New(operations.ClientOptions{
		Schema: cfg,
		Transport: operations.Transport{
			WS: func(ctx context.Context, req operations.Request) (<-chan operations.NetworkResult, error) {
				return results, nil
			},
		},
	})
	defer c.Close()

	out, cancel, serr := c.ExecuteSubscription(context.Background(), operations.ExecuteSubscriptionInput{Document: doc})
	require.Nil(t, serr)
	defer cancel()

	results <- operations.NetworkResult{Data: map[string]interface{}{
		"messageAdded": map[string]interface{}{"__typename": "User", "id": "1", "name": "Ada"},
	}}

	select {
	case res := <-out:
		require.Nil(t, res.Error)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscription emission")
	}

	read, rerr := c.ReadFragment(operations.ReadInput{
		Document: mustParse(t, `query F { ...F } fragment F on User { id name }`),
		RootType: "User",
		ID:       "User:1",
	})
	require.Nil(t, rerr)
	require.True(t, read.Ok.Canonical)
}

