package documents_test

import (
	"testing"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/graphql-go/graphql/language/source"
	"github.com/stretchr/testify/require"

	"github.com/shashiranjanraj/cachebay/pkg/canonical"
	"github.com/shashiranjanraj/cachebay/pkg/documents"
	"github.com/shashiranjanraj/cachebay/pkg/graph"
	"github.com/shashiranjanraj/cachebay/pkg/optimistic"
	"github.com/shashiranjanraj/cachebay/pkg/planner"
	"github.com/shashiranjanraj/cachebay/pkg/schema"
)

func mustParse(t *testing.T, query string) *ast.Document {
	t.Helper()
	doc, err := parser.Parse(parser.ParseParams{Source: source.NewSource(&source.Source{Body: []byte(query)})})
	require.NoError(t, err)
	return doc
}

func newFixture(t *testing.T) (*documents.Documents, *schema.Config) {
	t.Helper()
	cfg := schema.New()
	cfg.Keys["User"] = func(e map[string]interface{}) string {
		id, _ := e["id"].(string)
		return id
	}
	cfg.Connections["Query"] = map[string]schema.ConnectionConfig{
		"users": {Mode: schema.ModeForward, Dedupe: schema.DedupeNode},
	}

	g := graph.New(cfg)
	merger := canonical.New(g, cfg)
	stack := optimistic.New()
	return documents.New(g, cfg, merger, stack, 0), cfg
}

func TestDocuments_NormalizeThenMaterializeRoundTrip(t *testing.T) {
	docs, _ := newFixture(t)

	doc := mustParse(t, `query Q($id: ID!) { user(id: $id) { id name } }`)
	plan, err := planner.Compile(doc, schema.New(), "Query")
	require.NoError(t, err)

	data := map[string]interface{}{
		"user": map[string]interface{}{"__typename": "User", "id": "1", "name": "Ada"},
	}

	changed := docs.Normalize(documents.NormalizeInput{Plan: plan, Variables: map[string]interface{}{"id": "1"}, Data: data})
	require.Contains(t, changed, "User:1")
	require.Contains(t, changed, graph.RootKey)

	result := docs.Materialize(documents.MaterializeInput{
		Plan:      plan,
		Variables: map[string]interface{}{"id": "1"},
		Canonical: true,
	})
	require.True(t, result.Ok.Canonical)
	require.True(t, result.Ok.Strict)

	out, ok := result.Data.(map[string]interface{})
	require.True(t, ok)
	user, ok := out["user"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "1", user["id"])
	require.Equal(t, "Ada", user["name"])
}

func TestDocuments_MaterializeFingerprintHitsMemoWhenUnchanged(t *testing.T) {
	docs, _ := newFixture(t)

	doc := mustParse(t, `query Q { me { id name } }`)
	plan, err := planner.Compile(doc, schema.New(), "Query")
	require.NoError(t, err)

	docs.Normalize(documents.NormalizeInput{Plan: plan, Data: map[string]interface{}{
		"me": map[string]interface{}{"__typename": "User", "id": "1", "name": "Ada"},
	}})

	in := documents.MaterializeInput{Plan: plan, Canonical: true, Fingerprint: true, PreferCache: true, UpdateCache: true}

	first := docs.Materialize(in)
	require.Equal(t, documents.SourceGraph, first.Source)
	require.False(t, first.Hot)

	second := docs.Materialize(in)
	require.Equal(t, documents.SourceCache, second.Source)
	require.True(t, second.Hot)
	require.Equal(t, first.Data, second.Data)

	docs.Normalize(documents.NormalizeInput{Plan: plan, Data: map[string]interface{}{
		"me": map[string]interface{}{"__typename": "User", "id": "1", "name": "Ada Lovelace"},
	}})

	third := docs.Materialize(in)
	require.Equal(t, documents.SourceGraph, third.Source)
	require.False(t, third.Hot)

	out := third.Data.(map[string]interface{})
	me := out["me"].(map[string]interface{})
	require.Equal(t, "Ada Lovelace", me["name"])
}

func TestDocuments_NormalizeConnectionThenMaterializeCanonical(t *testing.T) {
	docs, _ := newFixture(t)

	doc := mustParse(t, `query Q($after: String) {
		users(first: 2, after: $after) {
			edges { cursor node { id name } }
			pageInfo { hasNextPage hasPreviousPage startCursor endCursor }
		}
	}`)
	plan, err := planner.Compile(doc, schema.New(), "Query")
	require.NoError(t, err)

	page1 := map[string]interface{}{
		"users": map[string]interface{}{
			"__typename": "UserConnection",
			"edges": []interface{}{
				map[string]interface{}{"cursor": "c1", "node": map[string]interface{}{"__typename": "User", "id": "1", "name": "Ada"}},
				map[string]interface{}{"cursor": "c2", "node": map[string]interface{}{"__typename": "User", "id": "2", "name": "Bob"}},
			},
			"pageInfo": map[string]interface{}{"hasNextPage": true, "hasPreviousPage": false, "startCursor": "c1", "endCursor": "c2"},
		},
	}
	docs.Normalize(documents.NormalizeInput{Plan: plan, Variables: map[string]interface{}{}, Data: page1})

	page2 := map[string]interface{}{
		"users": map[string]interface{}{
			"__typename": "UserConnection",
			"edges": []interface{}{
				map[string]interface{}{"cursor": "c3", "node": map[string]interface{}{"__typename": "User", "id": "3", "name": "Cleo"}},
			},
			"pageInfo": map[string]interface{}{"hasNextPage": false, "hasPreviousPage": true, "startCursor": "c3", "endCursor": "c3"},
		},
	}
	docs.Normalize(documents.NormalizeInput{Plan: plan, Variables: map[string]interface{}{"after": "c2"}, Data: page2})

	result := docs.Materialize(documents.MaterializeInput{Plan: plan, Variables: map[string]interface{}{}, Canonical: true})
	require.True(t, result.Ok.Canonical)

	out := result.Data.(map[string]interface{})
	users := out["users"].(map[string]interface{})
	edges := users["edges"].([]interface{})
	require.Len(t, edges, 3)

	names := make([]string, len(edges))
	for i, e := range edges {
		edge := e.(map[string]interface{})
		node := edge["node"].(map[string]interface{})
		names[i] = node["name"].(string)
	}
	require.Equal(t, []string{"Ada", "Bob", "Cleo"}, names)

	pageInfo := users["pageInfo"].(map[string]interface{})
	require.Equal(t, false, pageInfo["hasNextPage"])
	require.Equal(t, false, pageInfo["hasPreviousPage"])
}

func TestDocuments_MaterializePreferOptimisticWithoutLayersReadsBase(t *testing.T) {
	docs, _ := newFixture(t)
	doc := mustParse(t, `query Q { me { id name } }`)
	plan, err := planner.Compile(doc, schema.New(), "Query")
	require.NoError(t, err)

	docs.Normalize(documents.NormalizeInput{Plan: plan, Data: map[string]interface{}{
		"me": map[string]interface{}{"__typename": "User", "id": "1", "name": "Ada"},
	}})

	result := docs.Materialize(documents.MaterializeInput{Plan: plan, Canonical: true, PreferOptimistic: true})
	out := result.Data.(map[string]interface{})
	me := out["me"].(map[string]interface{})
	require.Equal(t, "Ada", me["name"])
}
