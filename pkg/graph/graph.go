// Package graph implements the normalized record store: entities and
// embedded records addressed by stable string keys, connected by typed
// refs, versioned so readers can detect staleness without rewalking the
// whole store.
package graph

import (
	"log/slog"
	"reflect"
	"strings"
	"sync"

	"github.com/shashiranjanraj/cachebay/pkg/logger"
	"github.com/shashiranjanraj/cachebay/pkg/pubsub"
	"github.com/shashiranjanraj/cachebay/pkg/schema"
)

// RootKey is the synthetic key of the root record ("@").
const RootKey = "@"

// RootTypename is the __typename stored on the root record.
const RootTypename = "@"

type entry struct {
	fields  map[string]interface{}
	version uint64
}

// Graph is a single instance's record store. Go has no single-threaded
// cooperative runtime guarantee the way the source engine's host language
// does, so Graph serializes all mutating and reading operations behind one
// coarse mutex rather than trusting callers to never invoke it from two
// goroutines at once.
type Graph struct {
	mu      sync.Mutex
	cfg     *schema.Config
	records map[string]*entry
	tick    uint64
	bus     *pubsub.Bus
	log     *slog.Logger
}

// Option configures a Graph at construction time.
type Option func(*Graph)

// WithInstanceID tags every log line emitted by this Graph with id.
func WithInstanceID(id string) Option {
	return func(g *Graph) { g.log = logger.WithInstance(id) }
}

// New constructs an empty Graph seeded with the root record.
func New(cfg *schema.Config, opts ...Option) *Graph {
	g := &Graph{
		cfg:     cfg,
		records: map[string]*entry{},
		bus:     pubsub.New(),
		log:     logger.L,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.seedRoot()
	return g
}

func (g *Graph) seedRoot() {
	g.records[RootKey] = &entry{
		fields:  map[string]interface{}{"__typename": RootTypename},
		version: 1,
	}
}

// PutRecord shallow-merges partial into the record at key, creating it if
// absent. It returns the response keys that actually changed value and
// bumps the record's version plus the graph's global tick whenever any
// field changed (or the record is newly created).
func (g *Graph) PutRecord(key string, partial map[string]interface{}) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.putRecordLocked(key, partial)
}

func (g *Graph) putRecordLocked(key string, partial map[string]interface{}) []string {
	e, ok := g.records[key]
	if !ok {
		e = &entry{fields: map[string]interface{}{}}
		g.records[key] = e
	}

	var changed []string
	for k, v := range partial {
		if existing, had := e.fields[k]; !had || !valuesEqual(existing, v) {
			e.fields[k] = v
			changed = append(changed, k)
		}
	}

	if !ok || len(changed) > 0 {
		e.version++
		g.tick++
		g.bus.Mark(key)
	}

	return changed
}

// PutEntity derives the record's key from __typename plus the configured
// KeyFunc and merges entity into it. Returns the empty string when the
// type has no identity function or the function yields no id — callers
// must then store the value embedded instead of by ref.
func (g *Graph) PutEntity(typename string, entity map[string]interface{}) (key string, changed []string) {
	key = g.cfg.Identify(typename, entity)
	if key == "" {
		return "", nil
	}

	withType := make(map[string]interface{}, len(entity)+1)
	for k, v := range entity {
		withType[k] = v
	}
	withType["__typename"] = typename

	g.mu.Lock()
	defer g.mu.Unlock()
	changed = g.putRecordLocked(key, withType)
	return key, changed
}

// GetRecord returns a shallow copy of the record at key, or (nil, false)
// when absent. Copying keeps callers from mutating store internals
// without taking the lock for the duration of their use of the result.
func (g *Graph) GetRecord(key string) (map[string]interface{}, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.records[key]
	if !ok {
		return nil, false
	}

	out := make(map[string]interface{}, len(e.fields))
	for k, v := range e.fields {
		out[k] = v
	}
	return out, true
}

// Version returns the record's current version, or (0, false) if absent.
func (g *Graph) Version(key string) (uint64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.records[key]
	if !ok {
		return 0, false
	}
	return e.version, true
}

// Tick returns the graph's global monotonic write counter.
func (g *Graph) Tick() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tick
}

// Identify returns "Type:id" for entity, or "" if it has no identity.
func (g *Graph) Identify(typename string, entity map[string]interface{}) string {
	return g.cfg.Identify(typename, entity)
}

// RemoveRecord deletes the record at key along with every purely-dependent
// embedded record whose key starts with key + "." (pages, edges,
// page-info) — but never an unrelated entity that merely shares a prefix.
func (g *Graph) RemoveRecord(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.records[key]; !ok {
		return
	}
	delete(g.records, key)
	g.tick++
	g.bus.Mark(key)

	prefix := key + "."
	for k := range g.records {
		if strings.HasPrefix(k, prefix) {
			delete(g.records, k)
			g.bus.Mark(k)
		}
	}
}

// Clear empties the graph and re-seeds the root record.
func (g *Graph) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for k := range g.records {
		g.bus.Mark(k)
	}
	g.records = map[string]*entry{}
	g.tick++
	g.seedRoot()
}

// Subscribe registers fn to receive the batched set of changed keys on
// every Flush. Returns a Subscription whose Cancel unsubscribes it.
func (g *Graph) Subscribe(fn pubsub.Handler) *pubsub.Subscription {
	return g.bus.Subscribe(fn)
}

// Flush delivers any changes accumulated since the last Flush to every
// subscriber. Callers (Documents, operations.Client) invoke this once after a
// batch of mutations completes, standing in for "next microtask" in a
// runtime that has none.
func (g *Graph) Flush() {
	g.bus.Flush()
}

// Keys returns every record key currently stored, for introspection
// helpers (operations.Inspect) and tests. The returned slice is a new copy.
func (g *Graph) Keys() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]string, 0, len(g.records))
	for k := range g.records {
		out = append(out, k)
	}
	return out
}

func valuesEqual(a, b interface{}) bool {
	aRef, aIsRef := IsRef(a)
	bRef, bIsRef := IsRef(b)
	if aIsRef || bIsRef {
		return aIsRef == bIsRef && aRef == bRef
	}

	if av, ok := a.([]interface{}); ok {
		bv, ok := b.([]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valuesEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	}

	return reflect.DeepEqual(a, b)
}
