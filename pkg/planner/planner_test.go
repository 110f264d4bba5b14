package planner_test

import (
	"testing"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/graphql-go/graphql/language/source"
	"github.com/stretchr/testify/require"

	"github.com/shashiranjanraj/cachebay/pkg/planner"
	"github.com/shashiranjanraj/cachebay/pkg/schema"
)

func mustParse(t *testing.T, query string) *ast.Document {
	t.Helper()
	doc, err := parser.Parse(parser.ParseParams{Source: source.NewSource(&source.Source{Body: []byte(query)})})
	require.NoError(t, err)
	return doc
}

func TestCompile_PlainFieldsAndArgs(t *testing.T) {
	doc := mustParse(t, `query Q($id: ID!) { user(id: $id) { id name } }`)
	cfg := schema.New()

	plan, err := planner.Compile(doc, cfg, "Query")
	require.NoError(t, err)

	user := plan.Root.Selections["user"]
	require.NotNil(t, user)
	require.False(t, user.IsConnection)

	args := user.Args(map[string]interface{}{"id": "42"})
	require.Equal(t, map[string]interface{}{"id": "42"}, args)
	require.Equal(t, "(id:42)", user.StorageKey(args))

	require.Contains(t, user.Selections, "id")
	require.Contains(t, user.Selections, "name")
}

func TestCompile_DetectsConnectionSyntactically(t *testing.T) {
	doc := mustParse(t, `query Q {
		users(first: 2) {
			edges { cursor node { id } }
			pageInfo { hasNextPage endCursor }
		}
	}`)
	cfg := schema.New()

	plan, err := planner.Compile(doc, cfg, "Query")
	require.NoError(t, err)

	users := plan.Root.Selections["users"]
	require.True(t, users.IsConnection)

	args := users.Args(nil)
	require.Equal(t, 2, args["first"])
}

func TestCompile_SameDocumentPointerReturnsCachedPlan(t *testing.T) {
	doc := mustParse(t, `query Q { me { id } }`)
	cfg := schema.New()

	plan1, err := planner.Compile(doc, cfg, "Query")
	require.NoError(t, err)
	plan2, err := planner.Compile(doc, cfg, "Query")
	require.NoError(t, err)

	require.Same(t, plan1, plan2)
}

func TestCompile_UnknownFragmentSpreadIsPlanInvalid(t *testing.T) {
	doc := mustParse(t, `query Q { me { ...Missing } }`)
	cfg := schema.New()

	_, err := planner.Compile(doc, cfg, "Query")
	require.Error(t, err)

	var planErr *planner.Error
	require.ErrorAs(t, err, &planErr)
	require.Equal(t, planner.ErrPlanInvalid, planErr.Kind)
}

func TestCompile_FragmentOnInterfaceAppliesViaTypeCondition(t *testing.T) {
	doc := mustParse(t, `query Q {
		node {
			id
			... on User { email }
			... on Post { title }
		}
	}`)
	cfg := schema.New()
	cfg.Interfaces["Node"] = []string{"User", "Post"}

	plan, err := planner.Compile(doc, cfg, "Query")
	require.NoError(t, err)

	node := plan.Root.Selections["node"]
	userSelections := node.SelectionsFor("User")
	require.Contains(t, userSelections, "id")
	require.Contains(t, userSelections, "email")
	require.NotContains(t, userSelections, "title")
}
