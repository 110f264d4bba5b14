// Package schema describes the construction-time configuration callers
// supply to the cache engine: how to derive a stable identity for each
// entity type, which interfaces group which concrete types, and which
// fields on which types behave as paginated connections.
package schema

import (
	"fmt"
	"sort"
	"strings"
)

// KeyFunc derives the identity portion of an entity's key (the part after
// "Type:") from its raw field map. A nil or empty return means the entity
// has no global identity and is stored embedded instead.
type KeyFunc func(entity map[string]interface{}) string

// Mode selects the ordering discipline used when composing a connection's
// canonical edge list from its per-page records.
type Mode string

const (
	// ModeForward appends pages fetched with a non-null "after" cursor
	// after the edge it names, replacing the leader slice for after=nil.
	ModeForward Mode = "forward"
	// ModeBackward is the symmetric discipline for "before"/prepend.
	ModeBackward Mode = "backward"
	// ModePage replaces the canonical connection with the latest page.
	ModePage Mode = "page"
)

// Dedupe selects the key used to deduplicate edges in a canonical
// connection.
type Dedupe string

const (
	// DedupeNode deduplicates by the referenced node's identity key.
	DedupeNode Dedupe = "node"
	// DedupeCursor deduplicates by edge cursor.
	DedupeCursor Dedupe = "cursor"
)

// ConnectionConfig describes one connection field.
type ConnectionConfig struct {
	Mode Mode
	// Filters lists the argument names (besides first/last/after/before)
	// that participate in the connection's identity key. Arguments not
	// listed here are still part of a page's storage key but are excluded
	// from the canonical identity key.
	Filters []string
	Dedupe  Dedupe
}

// Config is the engine's construction-time configuration.
type Config struct {
	// Keys maps a __typename to the function deriving its identity.
	Keys map[string]KeyFunc
	// Interfaces maps an interface/union name to its concrete member types.
	Interfaces map[string][]string
	// Connections maps parent __typename -> field name -> ConnectionConfig.
	Connections map[string]map[string]ConnectionConfig
}

// New returns an empty, ready-to-populate Config.
func New() *Config {
	return &Config{
		Keys:        map[string]KeyFunc{},
		Interfaces:  map[string][]string{},
		Connections: map[string]map[string]ConnectionConfig{},
	}
}

// Identify returns "Type:id" for an entity of the given typename, or ""
// when the type has no registered KeyFunc or the function yields no id.
func (c *Config) Identify(typename string, entity map[string]interface{}) string {
	if c == nil || typename == "" {
		return ""
	}
	fn, ok := c.Keys[typename]
	if !ok || fn == nil {
		return ""
	}
	id := fn(entity)
	if id == "" {
		return ""
	}
	return typename + ":" + id
}

// ConnectionFor reports the ConnectionConfig registered for a field on a
// parent type, checking the type's own entry first and then any interface
// it implements.
func (c *Config) ConnectionFor(parentType, field string) (ConnectionConfig, bool) {
	if c == nil {
		return ConnectionConfig{}, false
	}
	if byField, ok := c.Connections[parentType]; ok {
		if cfg, ok := byField[field]; ok {
			return cfg, true
		}
	}
	for iface, members := range c.Interfaces {
		if !containsString(members, parentType) {
			continue
		}
		if byField, ok := c.Connections[iface]; ok {
			if cfg, ok := byField[field]; ok {
				return cfg, true
			}
		}
	}
	return ConnectionConfig{}, false
}

// ImplementsInterface reports whether concreteType is registered as a
// member of iface.
func (c *Config) ImplementsInterface(iface, concreteType string) bool {
	if c == nil {
		return false
	}
	return containsString(c.Interfaces[iface], concreteType)
}

func containsString(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// SortedKeys returns the keys of a string-keyed map in sorted order. Used
// by the planner and normalizer wherever a deterministic, JSON-stable
// argument ordering is required.
func SortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// paginationArgs are always excluded from a connection's identity key;
// they select a slice of the canonical union, they do not define it.
var paginationArgs = map[string]bool{"first": true, "last": true, "after": true, "before": true}

// ArgsKey renders args as a deterministic, key-sorted suffix such as
// "(after:u2,first:2)" (values printed with %v, strings unquoted), used as the storage-key suffix for a field's
// record (a page key or a plain field's argument-qualified key). Returns
// "()" for no arguments.
func ArgsKey(args map[string]interface{}) string {
	keys := SortedKeys(args)
	if len(keys) == 0 {
		return "()"
	}

	var b strings.Builder
	b.WriteByte('(')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte(':')
		fmt.Fprintf(&b, "%v", args[k])
	}
	b.WriteByte(')')
	return b.String()
}

// FilterArgs returns the subset of args that participate in a connection's
// identity key: pagination arguments are always excluded, and only
// argument names listed in filters are kept.
func FilterArgs(args map[string]interface{}, filters []string) map[string]interface{} {
	allowed := make(map[string]bool, len(filters))
	for _, f := range filters {
		allowed[f] = true
	}

	out := map[string]interface{}{}
	for k, v := range args {
		if paginationArgs[k] {
			continue
		}
		if allowed[k] {
			out[k] = v
		}
	}
	return out
}
