// Package ssr implements the cache engine's server-side-rendering
// snapshot codec: dehydrating the graph into a JSON-safe {records: [...]}
// document and hydrating it back, plus the hydration-window gate that
// lets a just-hydrated client prefer cache over network for a short time.
package ssr

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/shashiranjanraj/cachebay/pkg/graph"
)

// maxSnapshotBytes caps a decoded snapshot the same way the teacher's
// pkg/bind.JSON caps an HTTP request body, so a malformed or oversized
// payload cannot exhaust memory during Decode.
const maxSnapshotBytes = 32 << 20 // 32 MiB

// RecordPair is one (key, record) entry of a Snapshot, rendered on the
// wire as a two-element JSON array ["key", {...}] per the engine's
// persisted snapshot layout.
type RecordPair struct {
	Key    string
	Record map[string]interface{}
}

// MarshalJSON renders p as ["key", {fields...}].
func (p RecordPair) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]interface{}{p.Key, p.Record})
}

// UnmarshalJSON parses ["key", {fields...}] into p.
func (p *RecordPair) UnmarshalJSON(data []byte) error {
	var raw [2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("ssr: decode record pair: %w", err)
	}
	if err := json.Unmarshal(raw[0], &p.Key); err != nil {
		return fmt.Errorf("ssr: decode record key: %w", err)
	}
	var rec map[string]interface{}
	if err := json.Unmarshal(raw[1], &rec); err != nil {
		return fmt.Errorf("ssr: decode record fields: %w", err)
	}
	p.Record = rec
	return nil
}

// Snapshot is the JSON-safe persisted form of a graph: a single "records"
// field holding every (key, record) pair. Keys are strings; refs are
// preserved verbatim as {"__ref": key}; no ordering is required (Dehydrate
// emits keys sorted for deterministic output, but Hydrate does not rely on
// it).
type Snapshot struct {
	Records []RecordPair `json:"records"`
}

// Dehydrate captures every record currently in g as a JSON-safe Snapshot.
func Dehydrate(g *graph.Graph) Snapshot {
	keys := g.Keys()
	sort.Strings(keys)

	out := Snapshot{Records: make([]RecordPair, 0, len(keys))}
	for _, key := range keys {
		rec, ok := g.GetRecord(key)
		if !ok {
			continue
		}
		out.Records = append(out.Records, RecordPair{Key: key, Record: rec})
	}
	return out
}

// Decode reads a JSON snapshot from r, capped at maxSnapshotBytes, and
// normalizes every decoded {"__ref": key} shape back into graph.Ref /
// []graph.Ref — encoding/json has no way to know a field's intended Go
// type ahead of decode, so plain map[string]interface{}/[]interface{}
// shapes are walked and rewritten post-decode.
func Decode(r io.Reader) (Snapshot, error) {
	var snap Snapshot
	dec := json.NewDecoder(io.LimitReader(r, maxSnapshotBytes+1))
	if err := dec.Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("ssr: decode snapshot: %w", err)
	}
	for i := range snap.Records {
		snap.Records[i].Record = normalizeRefs(snap.Records[i].Record).(map[string]interface{})
	}
	return snap, nil
}

// normalizeRefs rewrites a decoded JSON value tree, turning
// map[string]interface{}{"__ref": key} into graph.Ref and slices of the
// same shape into []graph.Ref, so the installed record matches exactly
// what Documents/Canonical would have written themselves.
func normalizeRefs(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		if key, ok := t["__ref"].(string); ok && len(t) == 1 {
			return graph.Ref{Key: key}
		}
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = normalizeRefs(val)
		}
		return out
	case []interface{}:
		if refs, ok := allRefs(t); ok {
			return refs
		}
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = normalizeRefs(item)
		}
		return out
	default:
		return v
	}
}

func allRefs(items []interface{}) ([]graph.Ref, bool) {
	if len(items) == 0 {
		return nil, false
	}
	out := make([]graph.Ref, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, false
		}
		key, ok := m["__ref"].(string)
		if !ok || len(m) != 1 {
			return nil, false
		}
		out = append(out, graph.Ref{Key: key})
	}
	return out, true
}

// Install writes every record in snap into g via PutRecord. Hydrating
// twice with the same snapshot is idempotent: PutRecord only bumps a
// record's version for fields that actually changed.
func Install(g *graph.Graph, snap Snapshot) {
	for _, pair := range snap.Records {
		if pair.Key == graph.RootKey {
			g.PutRecord(pair.Key, pair.Record)
			continue
		}
		g.PutRecord(pair.Key, pair.Record)
	}
	g.Flush()
}

// Gate tracks the "isHydrating" flag a cache instance exposes for a
// configurable window after Hydrate, during which query execution prefers
// cache over network even for network-only policy.
//
// Open Question resolution (spec §9): the source is ambiguous about
// whether hydrationTimeout=0 means "clear immediately" or "clear at the
// microtask boundary like the default". This implementation treats both
// the same way — schedule the clear via time.AfterFunc(timeout, ...),
// which for timeout=0 fires on the next runtime-scheduled tick, the
// closest Go analogue to "next microtask" available without a real
// microtask queue. A negative timeout holds the gate open indefinitely
// until ClearNow is called explicitly.
type Gate struct {
	mu     sync.Mutex
	active bool
	timer  *time.Timer
}

// NewGate returns a Gate that starts closed (not hydrating).
func NewGate() *Gate {
	return &Gate{}
}

// Open marks the gate hydrating and schedules it to clear after timeout.
// A timeout < 0 holds the gate open until ClearNow is called. Calling Open
// again before the previous window elapses replaces the pending timer.
func (g *Gate) Open(timeout time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.active = true

	if timeout < 0 {
		return
	}
	g.timer = time.AfterFunc(timeout, g.clear)
}

// ClearNow closes the gate immediately, cancelling any pending timer.
func (g *Gate) ClearNow() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.active = false
}

// Active reports whether the gate is currently hydrating.
func (g *Gate) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

func (g *Gate) clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active = false
}
