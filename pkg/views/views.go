// Package views implements read-only, identity-stable proxies over graph
// records, and the subscriber scope (Session) that mounts them, tracks
// which records each view transitively reads through, and tears the whole
// set down on release.
//
// Session's id generation and "lazily computed, explicitly released"
// lifecycle are grounded directly on the teacher's pkg/session.Session:
// the same crypto/rand-backed id, the same load-on-first-use mounting, the
// same explicit teardown call — retargeted from an HTTP cookie session
// storing arbitrary key/value pairs to a reactive-projection scope storing
// mounted views and their record dependency set.
package views

import (
	"crypto/rand"
	"encoding/hex"
	"sort"
	"sync"

	"github.com/shashiranjanraj/cachebay/pkg/graph"
	"github.com/shashiranjanraj/cachebay/pkg/pubsub"
	"github.com/shashiranjanraj/cachebay/pkg/schema"
)

// View is a read-only proxy over the record at Key(). Two calls to
// Session.Mount with the same key return the exact same *View.
type View struct {
	session *Session
	key     string
}

// Key returns the record key this view proxies.
func (v *View) Key() string { return v.key }

// Field reads field name from the underlying record as of the current
// graph version: a scalar is returned as-is, a ref resolves to a mounted
// sub-view, and a list of refs resolves to a list of mounted sub-views.
// Reading registers this view as a dependent of every record it touches,
// including transitively through refs.
func (v *View) Field(name string) interface{} {
	s := v.session
	s.trackDependency(v.key, v.key)

	rec, ok := s.g.GetRecord(v.key)
	if !ok {
		return nil
	}
	raw, present := rec[name]
	if !present {
		return nil
	}
	return s.resolveFieldValue(v.key, raw)
}

// Exists reports whether the view's underlying record is currently present
// in the graph.
func (v *View) Exists() bool {
	v.session.trackDependency(v.key, v.key)
	_, ok := v.session.g.GetRecord(v.key)
	return ok
}

// ConnectionMode selects how a ConnectionView composes its mounted pages.
type ConnectionMode string

const (
	// ModeInfinite concatenates pages in the order they were added,
	// deduplicating edges by the configured policy.
	ModeInfinite ConnectionMode = "infinite"
	// ModePage exposes exactly one selected page.
	ModePage ConnectionMode = "page"
)

// Edge is one edge of a composed ConnectionView.
type Edge struct {
	Cursor string
	Node   *View
}

// ConnectionView composes one or more page/canonical records mounted
// through a session into a single ordered, deduplicated edge list.
type ConnectionView struct {
	session  *Session
	mode     ConnectionMode
	dedupe   schema.Dedupe
	pages    []string
	selected string
}

// NewConnectionView returns an empty composed connection view scoped to s.
func (s *Session) NewConnectionView(mode ConnectionMode, dedupe schema.Dedupe) *ConnectionView {
	return &ConnectionView{session: s, mode: mode, dedupe: dedupe}
}

// AddPage appends pageKey to an infinite-mode view, or becomes the
// page-mode view's selection.
func (cv *ConnectionView) AddPage(pageKey string) {
	if cv.mode == ModePage {
		cv.selected = pageKey
		return
	}
	cv.pages = append(cv.pages, pageKey)
}

// Select sets the single page a page-mode view exposes.
func (cv *ConnectionView) Select(pageKey string) {
	cv.selected = pageKey
}

// Edges composes the view's current edge list, mounting each edge's node
// as a sub-view and registering dependencies on every page and node record
// read along the way.
func (cv *ConnectionView) Edges() []Edge {
	keys := cv.pages
	if cv.mode == ModePage {
		if cv.selected == "" {
			return nil
		}
		keys = []string{cv.selected}
	}

	seen := make(map[string]bool)
	var out []Edge
	for _, pageKey := range keys {
		cv.session.trackDependency(pageKey, pageKey)
		rec, ok := cv.session.g.GetRecord(pageKey)
		if !ok {
			continue
		}

		refs, _ := rec["edges"].([]graph.Ref)
		for _, ref := range refs {
			edgeRec, ok := cv.session.g.GetRecord(ref.Key)
			if !ok {
				continue
			}
			cursor, _ := edgeRec["cursor"].(string)
			nodeKey := ""
			if nr, ok := edgeRec["node"].(graph.Ref); ok {
				nodeKey = nr.Key
			}

			dedupeKey := cursor
			if cv.dedupe == schema.DedupeNode && nodeKey != "" {
				dedupeKey = nodeKey
			}
			if seen[dedupeKey] {
				continue
			}
			seen[dedupeKey] = true

			var node *View
			if nodeKey != "" {
				node = cv.session.Mount(nodeKey)
			}
			out = append(out, Edge{Cursor: cursor, Node: node})
		}
	}
	return out
}

// Session is a subscriber scope: it mounts views lazily, tracks which
// records each mounted view transitively reads through, and delivers one
// coalesced notification per graph Flush naming every view whose
// dependencies were touched.
type Session struct {
	mu       sync.Mutex
	id       string
	g        *graph.Graph
	views    map[string]*View
	deps     map[string]map[string]struct{}
	sub      *pubsub.Subscription
	onChange func(viewKeys []string)
	released bool
}

// NewSession mounts a subscriber scope against g. onChange is invoked with
// the sorted set of affected view keys after a graph Flush whose changed
// keys intersect this session's tracked dependencies; it may be nil.
func NewSession(g *graph.Graph, onChange func(viewKeys []string)) *Session {
	s := &Session{
		id:       newSessionID(),
		g:        g,
		views:    map[string]*View{},
		deps:     map[string]map[string]struct{}{},
		onChange: onChange,
	}
	s.sub = g.Subscribe(s.handleChange)
	return s
}

// ID returns the session's random identifier.
func (s *Session) ID() string { return s.id }

// Mount returns the view for key, creating it on first access.
func (s *Session) Mount(key string) *View {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.views[key]; ok {
		return v
	}
	v := &View{session: s, key: key}
	s.views[key] = v
	return v
}

// Release unsubscribes from the graph and discards every mounted view and
// tracked dependency. Safe to call more than once.
func (s *Session) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	s.released = true
	s.sub.Cancel()
	s.views = map[string]*View{}
	s.deps = map[string]map[string]struct{}{}
}

func (s *Session) trackDependency(recordKey, consumerViewKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.deps[recordKey]
	if !ok {
		set = map[string]struct{}{}
		s.deps[recordKey] = set
	}
	set[consumerViewKey] = struct{}{}
}

func (s *Session) resolveFieldValue(consumerKey string, raw interface{}) interface{} {
	switch v := raw.(type) {
	case graph.Ref:
		s.trackDependency(v.Key, consumerKey)
		return s.Mount(v.Key)
	case []graph.Ref:
		out := make([]interface{}, len(v))
		for i, ref := range v {
			s.trackDependency(ref.Key, consumerKey)
			out[i] = s.Mount(ref.Key)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = s.resolveFieldValue(consumerKey, item)
		}
		return out
	default:
		return raw
	}
}

func (s *Session) handleChange(keys []string) {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	affected := map[string]struct{}{}
	for _, k := range keys {
		for viewKey := range s.deps[k] {
			affected[viewKey] = struct{}{}
		}
	}
	cb := s.onChange
	s.mu.Unlock()

	if cb == nil || len(affected) == 0 {
		return
	}
	out := make([]string, 0, len(affected))
	for k := range affected {
		out = append(out, k)
	}
	sort.Strings(out)
	cb(out)
}

func newSessionID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
