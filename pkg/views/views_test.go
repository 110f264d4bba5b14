package views_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shashiranjanraj/cachebay/pkg/graph"
	"github.com/shashiranjanraj/cachebay/pkg/schema"
	"github.com/shashiranjanraj/cachebay/pkg/views"
)

func newGraph(t *testing.T) *graph.Graph {
	t.Helper()
	cfg := schema.New()
	cfg.Keys["User"] = func(e map[string]interface{}) string {
		id, _ := e["id"].(string)
		return id
	}
	return graph.New(cfg)
}

func TestView_MountReturnsStableIdentity(t *testing.T) {
	g := newGraph(t)
	g.PutEntity("User", map[string]interface{}{"id": "1", "name": "Ada"})

	s := views.NewSession(g, nil)
	v1 := s.Mount("User:1")
	v2 := s.Mount("User:1")
	require.Same(t, v1, v2)
}

func TestView_FieldResolvesScalarAndRef(t *testing.T) {
	g := newGraph(t)
	g.PutEntity("User", map[string]interface{}{"id": "1", "name": "Ada"})
	g.PutEntity("User", map[string]interface{}{"id": "2", "name": "Bob", "manager": graph.Ref{Key: "User:1"}})

	s := views.NewSession(g, nil)
	bob := s.Mount("User:2")
	require.Equal(t, "Bob", bob.Field("name"))

	manager, ok := bob.Field("manager").(*views.View)
	require.True(t, ok)
	require.Equal(t, "User:1", manager.Key())
	require.Equal(t, "Ada", manager.Field("name"))
}

func TestView_ChangeNotificationFiresForTransitiveDependency(t *testing.T) {
	g := newGraph(t)
	g.PutEntity("User", map[string]interface{}{"id": "1", "name": "Ada"})
	g.PutEntity("User", map[string]interface{}{"id": "2", "name": "Bob", "manager": graph.Ref{Key: "User:1"}})

	var notified []string
	s := views.NewSession(g, func(keys []string) { notified = append(notified, keys...) })

	bob := s.Mount("User:2")
	manager, _ := bob.Field("manager").(*views.View) // traverses into User:1, registering Bob's view as a dependent
	_ = manager.Field("name")                        // also registers User:1's own view as a dependent of itself

	g.PutRecord("User:1", map[string]interface{}{"name": "Ada Lovelace"})
	g.Flush()

	require.Contains(t, notified, "User:2")
	require.Contains(t, notified, "User:1")
}

func TestSession_ReleaseStopsNotifications(t *testing.T) {
	g := newGraph(t)
	g.PutEntity("User", map[string]interface{}{"id": "1", "name": "Ada"})

	var notified []string
	s := views.NewSession(g, func(keys []string) { notified = append(notified, keys...) })
	v := s.Mount("User:1")
	_ = v.Field("name")

	s.Release()

	g.PutRecord("User:1", map[string]interface{}{"name": "Ada Lovelace"})
	g.Flush()

	require.Empty(t, notified)
}

func TestConnectionView_InfiniteModeConcatenatesAndDedupesByNode(t *testing.T) {
	g := newGraph(t)
	g.PutEntity("User", map[string]interface{}{"id": "1", "name": "Ada"})
	g.PutEntity("User", map[string]interface{}{"id": "2", "name": "Bob"})

	g.PutRecord("page1.edges.0", map[string]interface{}{"cursor": "c1", "node": graph.Ref{Key: "User:1"}})
	g.PutRecord("page1", map[string]interface{}{"edges": []graph.Ref{{Key: "page1.edges.0"}}})

	g.PutRecord("page2.edges.0", map[string]interface{}{"cursor": "c1", "node": graph.Ref{Key: "User:1"}})
	g.PutRecord("page2.edges.1", map[string]interface{}{"cursor": "c2", "node": graph.Ref{Key: "User:2"}})
	g.PutRecord("page2", map[string]interface{}{"edges": []graph.Ref{{Key: "page2.edges.0"}, {Key: "page2.edges.1"}}})

	s := views.NewSession(g, nil)
	cv := s.NewConnectionView(views.ModeInfinite, schema.DedupeNode)
	cv.AddPage("page1")
	cv.AddPage("page2")

	edges := cv.Edges()
	require.Len(t, edges, 2)
	require.Equal(t, "User:1", edges[0].Node.Key())
	require.Equal(t, "User:2", edges[1].Node.Key())
}

func TestConnectionView_PageModeExposesOnlySelected(t *testing.T) {
	g := newGraph(t)
	g.PutEntity("User", map[string]interface{}{"id": "1", "name": "Ada"})
	g.PutRecord("page1.edges.0", map[string]interface{}{"cursor": "c1", "node": graph.Ref{Key: "User:1"}})
	g.PutRecord("page1", map[string]interface{}{"edges": []graph.Ref{{Key: "page1.edges.0"}}})

	s := views.NewSession(g, nil)
	cv := s.NewConnectionView(views.ModePage, schema.DedupeCursor)
	require.Empty(t, cv.Edges())

	cv.Select("page1")
	edges := cv.Edges()
	require.Len(t, edges, 1)
	require.Equal(t, "c1", edges[0].Cursor)
}
