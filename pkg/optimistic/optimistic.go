// Package optimistic implements the cache engine's stack of transactional
// overlays: entity patches/deletes and connection reorderings that apply on
// top of committed graph state without mutating it, until committed or
// reverted.
//
// Grounded on the shape of the teacher's pkg/queue Manager (a mutex-guarded
// hub holding an ordered, append-only log that workers fold over), adapted
// here so the "log" is a stack of overlay layers folded over base records at
// read time instead of a job queue folded over at dispatch time.
package optimistic

import "sync"

// Mode selects how a patch combines with the fields already composed by the
// time it runs.
type Mode string

const (
	// ModeMerge shallow-merges partial into the composed fields (default).
	ModeMerge Mode = "merge"
	// ModeReplace discards previously composed fields before applying partial.
	ModeReplace Mode = "replace"
)

// PatchFunc computes a partial from the fields composed so far, for patches
// that need to read before they write (e.g. incrementing a counter).
type PatchFunc func(current map[string]interface{}) map[string]interface{}

// Edge is the overlay's view of one connection edge: a node's identity key,
// its cursor, and any edge-level extras (not the graph-stored edge record).
type Edge struct {
	NodeKey string
	Cursor  string
	Extra   map[string]interface{}
}

type connKind string

const (
	connAppend   connKind = "append"
	connPrepend  connKind = "prepend"
	connRemove   connKind = "remove"
	connPageInfo connKind = "pageInfo"
	connPatch    connKind = "patch"
)

type patchOp struct {
	key     string
	partial map[string]interface{}
	fn      PatchFunc
	mode    Mode
}

type deleteOp struct {
	key string
}

type connOp struct {
	identityKey   string
	kind          connKind
	nodeKey       string
	cursor        string
	extra         map[string]interface{}
	pageInfoPatch map[string]interface{}
	patchFn       func([]Edge) []Edge
}

type op struct {
	patch *patchOp
	del   *deleteOp
	conn  *connOp
}

// Layer is one committed transaction's recorded operations. removed marks a
// reverted layer; composition always skips removed layers, so revert needs
// no separate undo pass — every read simply folds the remaining layers over
// base state again.
type Layer struct {
	ops     []op
	removed bool
}

// Stack is one cache instance's overlay stack.
type Stack struct {
	mu         sync.Mutex
	layers     []*Layer
	version    uint64
	lastReplay map[string]uint64
}

// New returns an empty Stack.
func New() *Stack {
	return &Stack{lastReplay: map[string]uint64{}}
}

// Tx accumulates the operations a pending transaction will apply once
// committed. An uninvoked Tx (no Commit call on its Handle) is inert.
type Tx struct {
	ops []op
}

// Patch queues an entity patch. partial may be nil if fn is supplied instead.
func (tx *Tx) Patch(key string, partial map[string]interface{}, mode Mode) {
	tx.ops = append(tx.ops, op{patch: &patchOp{key: key, partial: partial, mode: mode}})
}

// PatchFn queues an entity patch computed from the fields composed so far.
func (tx *Tx) PatchFn(key string, fn PatchFunc, mode Mode) {
	tx.ops = append(tx.ops, op{patch: &patchOp{key: key, fn: fn, mode: mode}})
}

// Delete queues an entity deletion.
func (tx *Tx) Delete(key string) {
	tx.ops = append(tx.ops, op{del: &deleteOp{key: key}})
}

// Connection returns a handle for queuing ops against the canonical
// connection identified by identityKey.
func (tx *Tx) Connection(identityKey string) *ConnHandle {
	return &ConnHandle{tx: tx, identityKey: identityKey}
}

// ConnHandle queues ordering operations against one canonical connection.
type ConnHandle struct {
	tx          *Tx
	identityKey string
}

// Append inserts nodeKey at the tail, or moves it there if already present.
func (c *ConnHandle) Append(nodeKey, cursor string, extra map[string]interface{}) {
	c.tx.ops = append(c.tx.ops, op{conn: &connOp{
		identityKey: c.identityKey, kind: connAppend, nodeKey: nodeKey, cursor: cursor, extra: extra,
	}})
}

// Prepend inserts nodeKey at the head, or moves it there if already present.
func (c *ConnHandle) Prepend(nodeKey, cursor string, extra map[string]interface{}) {
	c.tx.ops = append(c.tx.ops, op{conn: &connOp{
		identityKey: c.identityKey, kind: connPrepend, nodeKey: nodeKey, cursor: cursor, extra: extra,
	}})
}

// AddNode is Append/Prepend selected by position ("start" or "end").
func (c *ConnHandle) AddNode(nodeKey, position, cursor string, extra map[string]interface{}) {
	if position == "start" {
		c.Prepend(nodeKey, cursor, extra)
		return
	}
	c.Append(nodeKey, cursor, extra)
}

// Remove drops nodeKey from the composed connection. A no-op if absent.
func (c *ConnHandle) Remove(nodeKey string) {
	c.tx.ops = append(c.tx.ops, op{conn: &connOp{identityKey: c.identityKey, kind: connRemove, nodeKey: nodeKey}})
}

// RemoveNode is an alias for Remove.
func (c *ConnHandle) RemoveNode(nodeKey string) { c.Remove(nodeKey) }

// UpdatePageInfo merges partial into the composed page-info overlay.
func (c *ConnHandle) UpdatePageInfo(partial map[string]interface{}) {
	c.tx.ops = append(c.tx.ops, op{conn: &connOp{identityKey: c.identityKey, kind: connPageInfo, pageInfoPatch: partial}})
}

// Patch applies an arbitrary transform to the composed edge order.
func (c *ConnHandle) Patch(fn func([]Edge) []Edge) {
	c.tx.ops = append(c.tx.ops, op{conn: &connOp{identityKey: c.identityKey, kind: connPatch, patchFn: fn}})
}

// Handle is returned by Stack.Modify; its operations only take effect once
// Commit is called.
type Handle struct {
	stack     *Stack
	layer     *Layer
	committed bool
}

// Modify runs fn against a fresh transaction context and returns a handle
// whose Commit/Revert control whether fn's queued operations ever apply.
func (s *Stack) Modify(fn func(tx *Tx)) *Handle {
	tx := &Tx{}
	fn(tx)
	return &Handle{stack: s, layer: &Layer{ops: tx.ops}}
}

// Commit appends the handle's layer to the stack, making its operations
// visible to subsequent composition. Calling Commit more than once is a
// no-op.
func (h *Handle) Commit() {
	h.stack.mu.Lock()
	defer h.stack.mu.Unlock()
	if h.committed {
		return
	}
	h.committed = true
	h.stack.layers = append(h.stack.layers, h.layer)
	h.stack.version++
}

// Revert marks the handle's layer removed, so subsequent composition skips
// it. A no-op if never committed or already reverted.
func (h *Handle) Revert() {
	h.stack.mu.Lock()
	defer h.stack.mu.Unlock()
	if !h.committed || h.layer.removed {
		return
	}
	h.layer.removed = true
	h.stack.version++
}

// ComposeRecord folds every active layer's patch/delete ops touching key
// over base, returning the composed fields and whether the key still
// exists after composition.
func (s *Stack) ComposeRecord(key string, base map[string]interface{}, exists bool) (map[string]interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fields := make(map[string]interface{}, len(base))
	for k, v := range base {
		fields[k] = v
	}
	ok := exists

	for _, layer := range s.layers {
		if layer.removed {
			continue
		}
		for _, o := range layer.ops {
			switch {
			case o.del != nil && o.del.key == key:
				ok = false
				fields = map[string]interface{}{}
			case o.patch != nil && o.patch.key == key:
				partial := o.patch.partial
				if o.patch.fn != nil {
					snapshot := make(map[string]interface{}, len(fields))
					for k, v := range fields {
						snapshot[k] = v
					}
					partial = o.patch.fn(snapshot)
				}
				if o.patch.mode == ModeReplace {
					fields = map[string]interface{}{}
				}
				for k, v := range partial {
					fields[k] = v
				}
				ok = true
			}
		}
	}
	return fields, ok
}

// ComposeConnection folds every active layer's connection ops touching
// identityKey over base, returning the overlaid edge order.
func (s *Stack) ComposeConnection(identityKey string, base []Edge) []Edge {
	s.mu.Lock()
	defer s.mu.Unlock()

	edges := append([]Edge{}, base...)
	for _, layer := range s.layers {
		if layer.removed {
			continue
		}
		for _, o := range layer.ops {
			if o.conn == nil || o.conn.identityKey != identityKey {
				continue
			}
			switch o.conn.kind {
			case connAppend:
				edges = upsertAt(edges, o.conn.nodeKey, o.conn.cursor, o.conn.extra, len(edges))
			case connPrepend:
				edges = upsertAt(edges, o.conn.nodeKey, o.conn.cursor, o.conn.extra, 0)
			case connRemove:
				edges = removeByNodeKey(edges, o.conn.nodeKey)
			case connPatch:
				if o.conn.patchFn != nil {
					edges = o.conn.patchFn(edges)
				}
			}
		}
	}
	return edges
}

// ComposePageInfo folds every active layer's UpdatePageInfo ops for
// identityKey over base.
func (s *Stack) ComposePageInfo(identityKey string, base map[string]interface{}) map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]interface{}, len(base))
	for k, v := range base {
		out[k] = v
	}
	for _, layer := range s.layers {
		if layer.removed {
			continue
		}
		for _, o := range layer.ops {
			if o.conn != nil && o.conn.identityKey == identityKey && o.conn.kind == connPageInfo {
				for k, v := range o.conn.pageInfoPatch {
					out[k] = v
				}
			}
		}
	}
	return out
}

// ReplayRequest names the entity and connection keys a caller wants
// re-applied after base state changed underneath the overlay stack.
type ReplayRequest struct {
	Entities    []string
	Connections []string
}

// ReplayOptimistic reports which of the requested keys have not been
// replayed since the stack last changed (any commit or revert, whether or
// not its layer touches that key). Composition itself is always fresh — ReplayOptimistic exists so a
// caller can cheaply tell which keys are worth re-materializing and
// re-notifying subscribers for; repeating an identical request between
// commits/reverts returns an empty result.
func (s *Stack) ReplayOptimistic(req ReplayRequest) ReplayRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed ReplayRequest
	for _, k := range req.Entities {
		if s.lastReplay[k] != s.version {
			changed.Entities = append(changed.Entities, k)
			s.lastReplay[k] = s.version
		}
	}
	for _, k := range req.Connections {
		ck := "conn:" + k
		if s.lastReplay[ck] != s.version {
			changed.Connections = append(changed.Connections, k)
			s.lastReplay[ck] = s.version
		}
	}
	return changed
}

func upsertAt(edges []Edge, nodeKey, cursor string, extra map[string]interface{}, pos int) []Edge {
	filtered := make([]Edge, 0, len(edges))
	for _, e := range edges {
		if e.NodeKey != nodeKey {
			filtered = append(filtered, e)
		}
	}
	if pos > len(filtered) {
		pos = len(filtered)
	}
	if pos < 0 {
		pos = 0
	}

	out := make([]Edge, 0, len(filtered)+1)
	out = append(out, filtered[:pos]...)
	out = append(out, Edge{NodeKey: nodeKey, Cursor: cursor, Extra: extra})
	out = append(out, filtered[pos:]...)
	return out
}

func removeByNodeKey(edges []Edge, nodeKey string) []Edge {
	out := make([]Edge, 0, len(edges))
	for _, e := range edges {
		if e.NodeKey != nodeKey {
			out = append(out, e)
		}
	}
	return out
}
