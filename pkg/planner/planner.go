// Package planner compiles a parsed GraphQL document into a Plan: a tree
// mirroring the query's selection set, annotated with everything Documents
// needs to normalize and materialize against it without re-walking the AST
// on every call.
//
// Connections are detected syntactically (a field whose selection set
// carries both "edges" and "pageInfo") rather than from a full schema —
// the cache engine trusts __typename and user-supplied key/connection
// config the same way it trusts __typename for entity identity, per the
// engine's non-goal of schema validation. Filter/mode/dedupe metadata for
// a detected connection is resolved by the caller from the runtime
// __typename at normalize/materialize time, via schema.Config.ConnectionFor.
package planner

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/graphql-go/graphql/language/ast"

	"github.com/shashiranjanraj/cachebay/pkg/schema"
)

// ErrorKind classifies a planner failure.
type ErrorKind string

// ErrPlanInvalid is the only kind the planner currently raises: a
// selection the compiler could not resolve (typically an unknown
// fragment spread).
const ErrPlanInvalid ErrorKind = "PlanInvalid"

// Error reports a compilation failure.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("planner: %s: %s", e.Kind, e.Message) }

// ArgsFunc resolves a field's arguments against operation variables into a
// canonical args map.
type ArgsFunc func(variables map[string]interface{}) map[string]interface{}

// StorageKeyFunc renders resolved args into the suffix used to key the
// field's record.
type StorageKeyFunc func(args map[string]interface{}) string

// TypeCondFunc reports whether a concrete __typename satisfies a fragment's
// type condition (a direct match or interface membership).
type TypeCondFunc func(typename string) bool

// TypedSelections holds selections that only apply for runtime types
// satisfying TypeCondition — the compiled form of an inline fragment or a
// fragment spread.
type TypedSelections struct {
	TypeCondition TypeCondFunc
	Selections    map[string]*Node
}

// Node is one compiled field (or the synthetic root) in a Plan.
type Node struct {
	FieldName    string
	Alias        string
	ResponseKey  string
	Args         ArgsFunc
	StorageKey   StorageKeyFunc
	IsConnection bool
	Selections   map[string]*Node
	Typed        []TypedSelections
}

// SelectionsFor returns the field's base selections merged with every
// TypedSelections group whose condition matches typename — the set of
// child nodes Documents should recurse into for an object of that runtime
// type.
func (n *Node) SelectionsFor(typename string) map[string]*Node {
	if len(n.Typed) == 0 {
		return n.Selections
	}

	out := make(map[string]*Node, len(n.Selections))
	for k, v := range n.Selections {
		out[k] = v
	}
	for _, typed := range n.Typed {
		if typed.TypeCondition == nil || !typed.TypeCondition(typename) {
			continue
		}
		for k, v := range typed.Selections {
			out[k] = v
		}
	}
	return out
}

// Plan is a compiled document: a tree of Nodes rooted at the operation's
// top-level selection set.
type Plan struct {
	Root *Node
	// RootType is the operation's root GraphQL type ("Query", "Mutation",
	// "Subscription", or a fragment's own type condition for a
	// readFragment-style plan). Documents uses it to resolve the root's
	// selections and connection config instead of the graph's synthetic
	// "@" root typename, which carries no schema meaning of its own.
	RootType string
}

// cache maps *ast.Document pointer identity to its compiled Plan, standing
// in for a weak association. The map holds strong references and never
// evicts, so every compiled document and its plan stay alive for the life
// of the process (callers are expected to reuse one parsed document per
// distinct operation shape, not reparse it per call).
var cache sync.Map

// Compile compiles doc for rootType (the operation's root GraphQL type,
// e.g. "Query", "Mutation", or "Subscription"), returning the plan cached
// for this exact document pointer if one exists.
func Compile(doc *ast.Document, cfg *schema.Config, rootType string) (*Plan, error) {
	if cached, ok := cache.Load(doc); ok {
		return cached.(*Plan), nil
	}

	c := &compiler{cfg: cfg, fragments: map[string]*ast.FragmentDefinition{}}
	for _, def := range doc.Definitions {
		if frag, ok := def.(*ast.FragmentDefinition); ok {
			c.fragments[frag.Name.Value] = frag
		}
	}

	var opDef *ast.OperationDefinition
	for _, def := range doc.Definitions {
		if op, ok := def.(*ast.OperationDefinition); ok {
			opDef = op
			break
		}
	}
	if opDef == nil {
		return nil, &Error{Kind: ErrPlanInvalid, Message: "document has no operation definition"}
	}

	root := &Node{Selections: map[string]*Node{}}
	if err := c.compileSelectionSet(opDef.SelectionSet, root); err != nil {
		return nil, err
	}

	plan := &Plan{Root: root, RootType: rootType}
	cache.Store(doc, plan)
	return plan, nil
}

type compiler struct {
	cfg       *schema.Config
	fragments map[string]*ast.FragmentDefinition
}

func (c *compiler) compileSelectionSet(set *ast.SelectionSet, into *Node) error {
	if set == nil {
		return nil
	}

	for _, sel := range set.Selections {
		switch s := sel.(type) {
		case *ast.Field:
			node, err := c.compileField(s)
			if err != nil {
				return err
			}
			into.Selections[node.ResponseKey] = node

		case *ast.FragmentSpread:
			frag, ok := c.fragments[s.Name.Value]
			if !ok {
				return &Error{Kind: ErrPlanInvalid, Message: "unknown fragment spread: " + s.Name.Value}
			}
			typed := &Node{Selections: map[string]*Node{}}
			if err := c.compileSelectionSet(frag.SelectionSet, typed); err != nil {
				return err
			}
			into.Typed = append(into.Typed, TypedSelections{
				TypeCondition: c.predicateFor(frag.TypeCondition.Name.Value),
				Selections:    typed.Selections,
			})

		case *ast.InlineFragment:
			typed := &Node{Selections: map[string]*Node{}}
			if err := c.compileSelectionSet(s.SelectionSet, typed); err != nil {
				return err
			}
			pred := func(string) bool { return true }
			if s.TypeCondition != nil {
				pred = c.predicateFor(s.TypeCondition.Name.Value)
			}
			into.Typed = append(into.Typed, TypedSelections{TypeCondition: pred, Selections: typed.Selections})

		default:
			return &Error{Kind: ErrPlanInvalid, Message: fmt.Sprintf("unsupported selection type %T", sel)}
		}
	}
	return nil
}

func (c *compiler) predicateFor(typeCondition string) TypeCondFunc {
	return func(typename string) bool {
		return typename == typeCondition || c.cfg.ImplementsInterface(typeCondition, typename)
	}
}

func (c *compiler) compileField(f *ast.Field) (*Node, error) {
	name := f.Name.Value
	responseKey := name
	alias := ""
	if f.Alias != nil {
		alias = f.Alias.Value
		responseKey = alias
	}

	argsAST := f.Arguments
	argsFn := func(variables map[string]interface{}) map[string]interface{} {
		out := make(map[string]interface{}, len(argsAST))
		for _, a := range argsAST {
			out[a.Name.Value] = resolveValue(a.Value, variables)
		}
		return out
	}

	node := &Node{
		FieldName:   name,
		Alias:       alias,
		ResponseKey: responseKey,
		Args:        argsFn,
		StorageKey:  func(args map[string]interface{}) string { return schema.ArgsKey(args) },
		Selections:  map[string]*Node{},
	}

	if err := c.compileSelectionSet(f.SelectionSet, node); err != nil {
		return nil, err
	}

	_, hasEdges := node.Selections["edges"]
	_, hasPageInfo := node.Selections["pageInfo"]
	node.IsConnection = hasEdges && hasPageInfo

	return node, nil
}

func resolveValue(v ast.Value, variables map[string]interface{}) interface{} {
	switch val := v.(type) {
	case *ast.Variable:
		return variables[val.Name.Value]
	case *ast.StringValue:
		return val.Value
	case *ast.IntValue:
		if n, err := strconv.Atoi(val.Value); err == nil {
			return n
		}
		return val.Value
	case *ast.FloatValue:
		if f, err := strconv.ParseFloat(val.Value, 64); err == nil {
			return f
		}
		return val.Value
	case *ast.BooleanValue:
		return val.Value
	case *ast.EnumValue:
		return val.Value
	case *ast.NullValue:
		return nil
	case *ast.ListValue:
		out := make([]interface{}, len(val.Values))
		for i, item := range val.Values {
			out[i] = resolveValue(item, variables)
		}
		return out
	case *ast.ObjectValue:
		out := make(map[string]interface{}, len(val.Fields))
		for _, field := range val.Fields {
			out[field.Name.Value] = resolveValue(field.Value, variables)
		}
		return out
	default:
		return nil
	}
}
