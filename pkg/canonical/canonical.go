// Package canonical merges the individual pages fetched for a paginated
// connection field into one deduplicated, ordered canonical union, and
// reconciles their page-info into a single record that always reflects
// the head and tail of the retained slice.
package canonical

import (
	"strconv"
	"strings"
	"time"

	"github.com/shashiranjanraj/cachebay/pkg/collection"
	"github.com/shashiranjanraj/cachebay/pkg/graph"
	"github.com/shashiranjanraj/cachebay/pkg/metrics"
	"github.com/shashiranjanraj/cachebay/pkg/schema"
)

// EdgeInput is one edge of a freshly fetched page, prior to normalization.
type EdgeInput struct {
	Cursor       string
	NodeTypename string
	Node         map[string]interface{}
	Extra        map[string]interface{}
}

// PageInfo mirrors the GraphQL PageInfo shape.
type PageInfo struct {
	HasNextPage     bool
	HasPreviousPage bool
	StartCursor     string
	EndCursor       string
}

// Merger writes connection pages into the graph and keeps each field's
// canonical union up to date.
type Merger struct {
	g   *graph.Graph
	cfg *schema.Config
}

// New returns a Merger writing into g, using cfg to resolve key functions
// for the nodes it normalizes.
func New(g *graph.Graph, cfg *schema.Config) *Merger {
	return &Merger{g: g, cfg: cfg}
}

type dedupedEdge struct {
	dedupeKey string
	cursor    string
}

// WritePage normalizes one fetched page of typename (e.g. "UserConnection")
// for parentKey.field(args), folds its edges into the canonical identity
// connection per cc, and returns both the page's own key and the
// identity (canonical) key.
func (m *Merger) WritePage(
	parentKey, field, typename string,
	args map[string]interface{},
	cc schema.ConnectionConfig,
	edges []EdgeInput,
	info PageInfo,
) (pageKey, identityKey string) {
	start := time.Now()
	defer func() { metrics.ObserveCanonicalMerge(string(cc.Mode), start) }()

	pageKey = parentKey + "." + field + schema.ArgsKey(args)
	identityArgs := schema.FilterArgs(args, cc.Filters)
	identityKey = parentKey + "." + field + schema.ArgsKey(identityArgs)

	pageEdgeRefs := make([]graph.Ref, 0, len(edges))
	incoming := make([]dedupedEdge, 0, len(edges))
	incomingFields := make(map[string]map[string]interface{}, len(edges))

	for i, e := range edges {
		var nodeVal interface{}
		nodeKey := ""
		if e.Node != nil {
			if key, _ := m.g.PutEntity(e.NodeTypename, e.Node); key != "" {
				nodeKey = key
				nodeVal = graph.Ref{Key: key}
			} else {
				nodeVal = e.Node
			}
		}

		fields := map[string]interface{}{"cursor": e.Cursor, "node": nodeVal}
		for k, v := range e.Extra {
			fields[k] = v
		}

		pageEdgeKey := pageKey + ".edges." + strconv.Itoa(i)
		m.g.PutRecord(pageEdgeKey, fields)
		pageEdgeRefs = append(pageEdgeRefs, graph.Ref{Key: pageEdgeKey})

		dk := dedupeKeyFor(cc, e.Cursor, nodeKey)
		incoming = append(incoming, dedupedEdge{dedupeKey: dk, cursor: e.Cursor})
		incomingFields[dk] = fields
	}

	pageInfoKey := pageKey + ".pageInfo"
	m.g.PutRecord(pageInfoKey, pageInfoFields(info))

	m.g.PutRecord(pageKey, map[string]interface{}{
		"__typename": typename,
		"edges":      pageEdgeRefs,
		"pageInfo":   graph.Ref{Key: pageInfoKey},
	})

	m.mergeCanonical(identityKey, typename, cc, args, incoming, incomingFields, info)
	return pageKey, identityKey
}

func (m *Merger) mergeCanonical(
	identityKey, typename string,
	cc schema.ConnectionConfig,
	args map[string]interface{},
	incoming []dedupedEdge,
	incomingFields map[string]map[string]interface{},
	info PageInfo,
) {
	existing := m.readCanonicalOrder(identityKey)

	var merged []dedupedEdge
	var isNewHead, isNewTail bool

	switch cc.Mode {
	case schema.ModePage:
		merged = incoming
		isNewHead, isNewTail = true, true

	case schema.ModeBackward:
		before, _ := args["before"].(string)
		filtered := removeDuplicates(existing, incoming)
		if before == "" {
			merged = append(append([]dedupedEdge{}, filtered...), incoming...)
			isNewTail = len(incoming) > 0
		} else {
			idx := indexOfCursor(filtered, before)
			if idx == -1 {
				merged = append(append([]dedupedEdge{}, incoming...), filtered...)
				isNewHead = len(incoming) > 0
			} else {
				merged = spliceBefore(filtered, idx, incoming)
			}
		}

	default: // schema.ModeForward and unset
		after, _ := args["after"].(string)
		filtered := removeDuplicates(existing, incoming)
		if after == "" {
			merged = append(append([]dedupedEdge{}, incoming...), filtered...)
			isNewHead = len(incoming) > 0
		} else {
			idx := indexOfCursor(filtered, after)
			if idx == -1 {
				merged = append(append([]dedupedEdge{}, filtered...), incoming...)
				isNewTail = len(incoming) > 0
			} else {
				merged = spliceAfter(filtered, idx, incoming)
			}
		}
	}

	if len(merged) > 0 {
		isNewHead = isNewHead || isIncoming(merged[0].dedupeKey, incoming)
		isNewTail = isNewTail || isIncoming(merged[len(merged)-1].dedupeKey, incoming)
	}

	edgeRefs := make([]graph.Ref, 0, len(merged))
	for _, de := range merged {
		edgeKey := identityKey + ".edges." + de.dedupeKey
		if fields, ok := incomingFields[de.dedupeKey]; ok {
			m.g.PutRecord(edgeKey, fields)
		}
		edgeRefs = append(edgeRefs, graph.Ref{Key: edgeKey})
	}

	existingInfo := m.readCanonicalPageInfo(identityKey)

	canonicalInfo := existingInfo
	if len(merged) > 0 {
		canonicalInfo.StartCursor = merged[0].cursor
		canonicalInfo.EndCursor = merged[len(merged)-1].cursor
	}
	if isNewHead {
		canonicalInfo.HasPreviousPage = info.HasPreviousPage
	}
	if isNewTail {
		canonicalInfo.HasNextPage = info.HasNextPage
	}

	canonicalPageInfoKey := identityKey + ".pageInfo"
	m.g.PutRecord(canonicalPageInfoKey, pageInfoFields(canonicalInfo))

	m.g.PutRecord(identityKey, map[string]interface{}{
		"__typename": typename,
		"edges":      edgeRefs,
		"pageInfo":   graph.Ref{Key: canonicalPageInfoKey},
	})
}

// readCanonicalOrder reconstructs the current canonical edge order
// (dedupe key + cursor) by reading the canonical record's edges list and
// the cursor stored on each canonical edge record.
func (m *Merger) readCanonicalOrder(identityKey string) []dedupedEdge {
	rec, ok := m.g.GetRecord(identityKey)
	if !ok {
		return nil
	}

	refs, _ := rec["edges"].([]graph.Ref)
	out := make([]dedupedEdge, 0, len(refs))
	prefix := identityKey + ".edges."
	for _, ref := range refs {
		dk := strings.TrimPrefix(ref.Key, prefix)
		cursor := ""
		if edgeRec, ok := m.g.GetRecord(ref.Key); ok {
			cursor, _ = edgeRec["cursor"].(string)
		}
		out = append(out, dedupedEdge{dedupeKey: dk, cursor: cursor})
	}
	return out
}

func (m *Merger) readCanonicalPageInfo(identityKey string) PageInfo {
	rec, ok := m.g.GetRecord(identityKey)
	if !ok {
		return PageInfo{}
	}
	ref, ok := rec["pageInfo"].(graph.Ref)
	if !ok {
		return PageInfo{}
	}
	info, ok := m.g.GetRecord(ref.Key)
	if !ok {
		return PageInfo{}
	}
	return PageInfo{
		HasNextPage:     boolField(info, "hasNextPage"),
		HasPreviousPage: boolField(info, "hasPreviousPage"),
		StartCursor:     stringField(info, "startCursor"),
		EndCursor:       stringField(info, "endCursor"),
	}
}

func pageInfoFields(info PageInfo) map[string]interface{} {
	return map[string]interface{}{
		"__typename":      "PageInfo",
		"hasNextPage":     info.HasNextPage,
		"hasPreviousPage": info.HasPreviousPage,
		"startCursor":     info.StartCursor,
		"endCursor":       info.EndCursor,
	}
}

func dedupeKeyFor(cc schema.ConnectionConfig, cursor, nodeKey string) string {
	if cc.Dedupe == schema.DedupeNode && nodeKey != "" {
		return "n:" + nodeKey
	}
	return "c:" + cursor
}

// removeDuplicates drops existing entries whose dedupe key also appears in
// incoming — those entries are about to be replaced in place by the
// incoming occurrence, per the later-fetched-node-wins tie-break.
func removeDuplicates(existing, incoming []dedupedEdge) []dedupedEdge {
	return collection.Filter(existing, func(e dedupedEdge) bool {
		return !isIncoming(e.dedupeKey, incoming)
	})
}

func isIncoming(key string, incoming []dedupedEdge) bool {
	return collection.Contains(incoming, func(e dedupedEdge) bool { return e.dedupeKey == key })
}

func indexOfCursor(s []dedupedEdge, cursor string) int {
	for i, e := range s {
		if e.cursor == cursor {
			return i
		}
	}
	return -1
}

func spliceAfter(existing []dedupedEdge, idx int, incoming []dedupedEdge) []dedupedEdge {
	anchor := existing[idx]
	return collection.SpliceAfter(existing, func(e dedupedEdge) bool { return e == anchor }, incoming...)
}

func spliceBefore(existing []dedupedEdge, idx int, incoming []dedupedEdge) []dedupedEdge {
	out := make([]dedupedEdge, 0, len(existing)+len(incoming))
	out = append(out, existing[:idx]...)
	out = append(out, incoming...)
	out = append(out, existing[idx:]...)
	return out
}

func boolField(m map[string]interface{}, k string) bool {
	v, _ := m[k].(bool)
	return v
}

func stringField(m map[string]interface{}, k string) string {
	v, _ := m[k].(string)
	return v
}
