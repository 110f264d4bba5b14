// Package documents is the driver that normalizes fetched data into the
// graph using a compiled plan, and materializes a plan back into a data
// tree by reading the graph (optionally composed with the optimistic
// overlay stack).
package documents

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/shashiranjanraj/cachebay/pkg/canonical"
	"github.com/shashiranjanraj/cachebay/pkg/graph"
	"github.com/shashiranjanraj/cachebay/pkg/metrics"
	"github.com/shashiranjanraj/cachebay/pkg/optimistic"
	"github.com/shashiranjanraj/cachebay/pkg/planner"
	"github.com/shashiranjanraj/cachebay/pkg/schema"
)

var emptyNode = &planner.Node{Selections: map[string]*planner.Node{}}

type memoEntry struct {
	data     interface{}
	versions map[string]uint64
}

// Documents wires a Graph, its schema config, a canonical Merger, and an
// optimistic Stack together, plus a bounded materialization memoization
// cache.
type Documents struct {
	g      *graph.Graph
	cfg    *schema.Config
	merger *canonical.Merger
	stack  *optimistic.Stack
	memo   *lru.Cache[string, memoEntry]
}

// New wires a Documents driver. memoSize bounds the materialization memo
// cache; 0 uses a sensible default.
func New(g *graph.Graph, cfg *schema.Config, merger *canonical.Merger, stack *optimistic.Stack, memoSize int) *Documents {
	if memoSize <= 0 {
		memoSize = 256
	}
	memo, _ := lru.New[string, memoEntry](memoSize)
	return &Documents{g: g, cfg: cfg, merger: merger, stack: stack, memo: memo}
}

// NormalizeInput is the input to Normalize.
type NormalizeInput struct {
	Plan      *planner.Plan
	Variables map[string]interface{}
	Data      map[string]interface{}
	// RootID overrides "@" — used by mutations/subscriptions to store
	// results under a synthetic root without clobbering the query root.
	RootID string
}

// Normalize writes in.Data into the graph following in.Plan, updates any
// touched connections' canonical unions, replays optimistic layers over the
// touched keys, and flushes the graph's change bus. It returns the set of
// record keys that changed.
func (d *Documents) Normalize(in NormalizeInput) []string {
	start := time.Now()
	defer func() { metrics.ObserveDocumentOp("normalize", start) }()

	rootID := in.RootID
	if rootID == "" {
		rootID = graph.RootKey
	}

	rootTypename := in.Plan.RootType
	if rootTypename == "" {
		rootTypename = graph.RootTypename
	}

	changed := map[string]bool{}
	d.walk(rootID, rootTypename, in.Plan.Root, in.Variables, in.Data, changed)

	keys := make([]string, 0, len(changed))
	for k := range changed {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	d.stack.ReplayOptimistic(optimistic.ReplayRequest{Entities: keys, Connections: keys})
	d.g.Flush()
	return keys
}

func (d *Documents) walk(parentKey, parentTypename string, node *planner.Node, variables map[string]interface{}, data map[string]interface{}, changed map[string]bool) {
	partial := map[string]interface{}{}
	if parentTypename != "" {
		partial["__typename"] = parentTypename
	}

	for respKey, child := range node.SelectionsFor(parentTypename) {
		raw, present := data[respKey]
		if !present {
			continue
		}
		partial[respKey] = d.writeField(parentKey, parentTypename, child, variables, raw, changed)
	}

	if changedFields := d.g.PutRecord(parentKey, partial); len(changedFields) > 0 {
		changed[parentKey] = true
	}
}

func (d *Documents) writeField(parentKey, parentTypename string, node *planner.Node, variables map[string]interface{}, raw interface{}, changed map[string]bool) interface{} {
	if raw == nil {
		return nil
	}

	if node.IsConnection {
		args := node.Args(variables)
		d.writeConnection(parentKey, parentTypename, node, args, variables, raw, changed)
		// Connections are not stored as a field value on the parent record —
		// their page/identity keys are re-derived from (parentKey, field,
		// args) at materialize time, same as here.
		return nil
	}

	switch v := raw.(type) {
	case map[string]interface{}:
		return d.writeObject(node, variables, v, changed)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			if m, ok := item.(map[string]interface{}); ok {
				out[i] = d.writeObject(node, variables, m, changed)
			} else {
				out[i] = item
			}
		}
		return out
	default:
		return raw
	}
}

func (d *Documents) writeObject(node *planner.Node, variables map[string]interface{}, v map[string]interface{}, changed map[string]bool) interface{} {
	typename, _ := v["__typename"].(string)
	key := d.cfg.Identify(typename, v)
	if key == "" {
		embedded := map[string]interface{}{}
		if typename != "" {
			embedded["__typename"] = typename
		}
		for respKey, child := range node.SelectionsFor(typename) {
			raw, present := v[respKey]
			if !present {
				continue
			}
			embedded[respKey] = d.writeField("", typename, child, variables, raw, changed)
		}
		return embedded
	}

	d.walk(key, typename, node, variables, v, changed)
	return graph.Ref{Key: key}
}

func (d *Documents) writeConnection(parentKey, parentTypename string, node *planner.Node, args map[string]interface{}, variables map[string]interface{}, raw interface{}, changed map[string]bool) {
	v, ok := raw.(map[string]interface{})
	if !ok {
		return
	}

	cc, ok := d.cfg.ConnectionFor(parentTypename, node.FieldName)
	if !ok {
		cc = schema.ConnectionConfig{Mode: schema.ModeForward, Dedupe: schema.DedupeNode}
	}

	edgesNode := node.Selections["edges"]
	var nodeSel *planner.Node
	if edgesNode != nil {
		nodeSel = edgesNode.Selections["node"]
	}

	rawEdges, _ := v["edges"].([]interface{})
	edges := make([]canonical.EdgeInput, 0, len(rawEdges))
	for _, re := range rawEdges {
		edgeMap, ok := re.(map[string]interface{})
		if !ok {
			continue
		}
		cursor, _ := edgeMap["cursor"].(string)
		nodeVal, _ := edgeMap["node"].(map[string]interface{})
		nodeTypename, _ := nodeVal["__typename"].(string)

		extra := map[string]interface{}{}
		if edgesNode != nil {
			for key, child := range edgesNode.Selections {
				if key == "cursor" || key == "node" {
					continue
				}
				if raw, present := edgeMap[key]; present {
					extra[key] = d.writeField(parentKey, parentTypename, child, variables, raw, changed)
				}
			}
		}

		var resolved map[string]interface{}
		if nodeVal != nil {
			resolved = d.resolveNodeFields(nodeSel, nodeTypename, variables, nodeVal, changed)
		}

		edges = append(edges, canonical.EdgeInput{Cursor: cursor, NodeTypename: nodeTypename, Node: resolved, Extra: extra})
	}

	info := canonical.PageInfo{}
	if pi, ok := v["pageInfo"].(map[string]interface{}); ok {
		info.HasNextPage, _ = pi["hasNextPage"].(bool)
		info.HasPreviousPage, _ = pi["hasPreviousPage"].(bool)
		info.StartCursor, _ = pi["startCursor"].(string)
		info.EndCursor, _ = pi["endCursor"].(string)
	}

	typename, _ := v["__typename"].(string)
	if typename == "" {
		typename = node.FieldName + "Connection"
	}

	pageKey, identityKey := d.merger.WritePage(parentKey, node.FieldName, typename, args, cc, edges, info)
	changed[pageKey] = true
	changed[identityKey] = true
}

// resolveNodeFields resolves a connection edge's node object into the plain
// field map PutEntity expects: nested refs already resolved, no __typename
// wrapper (PutEntity adds that itself).
func (d *Documents) resolveNodeFields(nodeSel *planner.Node, typename string, variables map[string]interface{}, raw map[string]interface{}, changed map[string]bool) map[string]interface{} {
	if nodeSel == nil {
		out := make(map[string]interface{}, len(raw))
		for k, v := range raw {
			if k == "__typename" {
				continue
			}
			out[k] = v
		}
		return out
	}

	out := map[string]interface{}{}
	for respKey, child := range nodeSel.SelectionsFor(typename) {
		val, present := raw[respKey]
		if !present {
			continue
		}
		out[respKey] = d.writeField("", typename, child, variables, val, changed)
	}
	return out
}

// MaterializeInput is the input to Materialize.
type MaterializeInput struct {
	Plan             *planner.Plan
	Variables        map[string]interface{}
	Canonical        bool // true reads each connection's canonical union; false requires the exact page.
	Fingerprint      bool
	PreferCache      bool
	UpdateCache      bool
	PreferOptimistic bool
	// RootID selects the record to start walking from; EntityID, if set,
	// overrides it (a readFragment-style materialize by entity key).
	RootID   string
	EntityID string
}

// Source reports where a materialized result came from.
type Source string

const (
	SourceCache Source = "cache"
	SourceGraph Source = "graph"
	SourceNone  Source = "none"
)

// Ok reports whether every selected field resolved.
type Ok struct {
	Canonical bool
	Strict    bool
}

// MaterializeResult is the output of Materialize.
type MaterializeResult struct {
	Data   interface{}
	Ok     Ok
	Source Source
	Hot    bool
}

// Materialize walks in.Plan starting at the resolved root, reading from the
// graph (composed with the optimistic stack when PreferOptimistic is set).
func (d *Documents) Materialize(in MaterializeInput) MaterializeResult {
	start := time.Now()
	defer func() { metrics.ObserveDocumentOp("materialize", start) }()

	rootID := in.RootID
	if in.EntityID != "" {
		rootID = in.EntityID
	}
	if rootID == "" {
		rootID = graph.RootKey
	}

	var memoKey string
	if in.Fingerprint {
		memoKey = d.fingerprintKey(rootID, in)
		if in.PreferCache {
			if entry, ok := d.memo.Get(memoKey); ok && d.versionsMatch(entry.versions) {
				return MaterializeResult{Data: entry.data, Ok: Ok{Canonical: true, Strict: true}, Source: SourceCache, Hot: true}
			}
		}
	}

	rootTypename := in.Plan.RootType
	if rootTypename == "" {
		rootTypename = graph.RootTypename
	}

	visited := map[string]uint64{}
	okCanonical, okStrict := true, true
	data := d.materializeNode(rootID, rootTypename, in.Plan.Root, in.Variables, in, visited, &okCanonical, &okStrict)

	result := MaterializeResult{
		Data:   data,
		Ok:     Ok{Canonical: okCanonical, Strict: okStrict},
		Source: SourceGraph,
	}
	if !okCanonical {
		result.Source = SourceNone
	}

	if in.Fingerprint && in.UpdateCache && memoKey != "" {
		d.memo.Add(memoKey, memoEntry{data: data, versions: visited})
	}
	return result
}

func (d *Documents) materializeNode(key, typename string, node *planner.Node, variables map[string]interface{}, in MaterializeInput, visited map[string]uint64, okC, okS *bool) interface{} {
	base, ok := d.g.GetRecord(key)
	if !ok {
		*okC, *okS = false, false
		return nil
	}
	visited[key], _ = d.g.Version(key)

	fields, exists := base, true
	if in.PreferOptimistic {
		fields, exists = d.stack.ComposeRecord(key, base, true)
	}
	if !exists {
		*okC, *okS = false, false
		return nil
	}

	out := map[string]interface{}{}
	for respKey, child := range node.SelectionsFor(typename) {
		if child.FieldName == "__typename" {
			out[respKey] = typename
			continue
		}

		if child.IsConnection {
			args := child.Args(variables)
			out[respKey] = d.materializeConnection(key, typename, child, args, variables, in, visited, okC, okS)
			continue
		}

		raw, present := fields[respKey]
		if !present {
			*okC, *okS = false, false
			continue
		}
		out[respKey] = d.materializeValue(child, typename, variables, raw, in, visited, okC, okS)
	}
	return out
}

func (d *Documents) materializeValue(node *planner.Node, parentTypename string, variables map[string]interface{}, raw interface{}, in MaterializeInput, visited map[string]uint64, okC, okS *bool) interface{} {
	switch v := raw.(type) {
	case graph.Ref:
		rec, ok := d.g.GetRecord(v.Key)
		if !ok {
			*okC, *okS = false, false
			return nil
		}
		tn, _ := rec["__typename"].(string)
		return d.materializeNode(v.Key, tn, node, variables, in, visited, okC, okS)

	case []graph.Ref:
		out := make([]interface{}, 0, len(v))
		for _, ref := range v {
			out = append(out, d.materializeValue(node, parentTypename, variables, ref, in, visited, okC, okS))
		}
		return out

	case []interface{}:
		out := make([]interface{}, 0, len(v))
		for _, item := range v {
			out = append(out, d.materializeValue(node, parentTypename, variables, item, in, visited, okC, okS))
		}
		return out

	case map[string]interface{}:
		tn, _ := v["__typename"].(string)
		out := map[string]interface{}{}
		for respKey, child := range node.SelectionsFor(tn) {
			val, present := v[respKey]
			if !present {
				continue
			}
			out[respKey] = d.materializeValue(child, tn, variables, val, in, visited, okC, okS)
		}
		return out

	default:
		return raw
	}
}

func (d *Documents) materializeConnection(parentKey, parentTypename string, node *planner.Node, args map[string]interface{}, variables map[string]interface{}, in MaterializeInput, visited map[string]uint64, okC, okS *bool) interface{} {
	cc, ok := d.cfg.ConnectionFor(parentTypename, node.FieldName)
	if !ok {
		cc = schema.ConnectionConfig{Mode: schema.ModeForward, Dedupe: schema.DedupeNode}
	}

	pageKey := parentKey + "." + node.FieldName + schema.ArgsKey(args)
	identityArgs := schema.FilterArgs(args, cc.Filters)
	identityKey := parentKey + "." + node.FieldName + schema.ArgsKey(identityArgs)

	connKey := identityKey
	if !in.Canonical {
		connKey = pageKey
	}

	rec, ok := d.g.GetRecord(connKey)
	if !ok {
		*okC, *okS = false, false
		return nil
	}
	visited[connKey], _ = d.g.Version(connKey)

	if in.Canonical {
		if _, ok := d.g.GetRecord(pageKey); !ok {
			*okS = false
		}
	}

	refs, _ := rec["edges"].([]graph.Ref)
	edgesNode := node.Selections["edges"]
	var nodeSel *planner.Node
	if edgesNode != nil {
		nodeSel = edgesNode.Selections["node"]
	}
	if nodeSel == nil {
		nodeSel = emptyNode
	}

	baseEdges := make([]optimistic.Edge, 0, len(refs))
	for _, ref := range refs {
		edgeRec, ok := d.g.GetRecord(ref.Key)
		if !ok {
			continue
		}
		cursor, _ := edgeRec["cursor"].(string)
		nodeKey := ""
		if nr, ok := edgeRec["node"].(graph.Ref); ok {
			nodeKey = nr.Key
		}
		baseEdges = append(baseEdges, optimistic.Edge{NodeKey: nodeKey, Cursor: cursor})
	}

	finalEdges := baseEdges
	if in.PreferOptimistic {
		finalEdges = d.stack.ComposeConnection(identityKey, baseEdges)
	}

	edgeResults := make([]interface{}, 0, len(finalEdges))
	for _, e := range finalEdges {
		edgeOut := map[string]interface{}{"cursor": e.Cursor}
		if e.NodeKey != "" {
			if nodeRec, ok := d.g.GetRecord(e.NodeKey); ok {
				tn, _ := nodeRec["__typename"].(string)
				edgeOut["node"] = d.materializeNode(e.NodeKey, tn, nodeSel, variables, in, visited, okC, okS)
			} else {
				*okC = false
			}
		}
		edgeResults = append(edgeResults, edgeOut)
	}

	pageInfoOut := map[string]interface{}{}
	if piRef, ok := rec["pageInfo"].(graph.Ref); ok {
		if piRec, ok := d.g.GetRecord(piRef.Key); ok {
			if in.PreferOptimistic {
				piRec = d.stack.ComposePageInfo(identityKey, piRec)
			}
			for k, v := range piRec {
				if k == "__typename" {
					continue
				}
				pageInfoOut[k] = v
			}
		}
	}

	return map[string]interface{}{"edges": edgeResults, "pageInfo": pageInfoOut}
}

func (d *Documents) fingerprintKey(rootID string, in MaterializeInput) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%v|%t|%t", rootID, in.Variables, in.Canonical, in.PreferOptimistic)
	return hex.EncodeToString(h.Sum(nil))
}

func (d *Documents) versionsMatch(versions map[string]uint64) bool {
	for k, v := range versions {
		cur, ok := d.g.Version(k)
		if !ok || cur != v {
			return false
		}
	}
	return true
}
