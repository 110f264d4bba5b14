// Package operations is the cache engine's top-level glue: a Client that
// wires Planner, Graph, Canonical, Optimistic, Documents, Views and SSR
// together behind the public surface described in spec §6 — writeQuery/
// writeFragment/readQuery/readFragment, executeQuery/executeMutation/
// executeSubscription, watchQuery/watchFragment, modifyOptimistic,
// identify/inspect, dehydrate/hydrate — plus the cache-policy table,
// epoch-gated latest-wins result delivery, and the suspension window that
// deduplicates concurrent identical in-flight requests.
package operations

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/graphql-go/graphql/language/ast"
	"golang.org/x/sync/singleflight"

	"github.com/shashiranjanraj/cachebay/config"
	"github.com/shashiranjanraj/cachebay/pkg/canonical"
	"github.com/shashiranjanraj/cachebay/pkg/documents"
	"github.com/shashiranjanraj/cachebay/pkg/graph"
	"github.com/shashiranjanraj/cachebay/pkg/logger"
	"github.com/shashiranjanraj/cachebay/pkg/optimistic"
	"github.com/shashiranjanraj/cachebay/pkg/planner"
	"github.com/shashiranjanraj/cachebay/pkg/schema"
	"github.com/shashiranjanraj/cachebay/pkg/ssr"
	"github.com/shashiranjanraj/cachebay/pkg/validate"
	"github.com/shashiranjanraj/cachebay/pkg/views"
	"github.com/shashiranjanraj/cachebay/pkg/workerpool"
)

// defaultSuspensionTimeout is the ~1 second default spec §5 calls for.
const defaultSuspensionTimeout = time.Second

// defaultHydrationTimeout is the "small positive interval" spec §5 calls
// for when the caller does not configure one explicitly.
const defaultHydrationTimeout = 2 * time.Millisecond

// defaultTransportConcurrency bounds how many watch-driven background
// refetches may be in flight at once (see pkg/workerpool).
const defaultTransportConcurrency = 8

// Request describes one compiled operation dispatched to a Transport.
type Request struct {
	Document  *ast.Document
	RootType  string // "Query", "Mutation", or "Subscription"
	Variables map[string]interface{}
}

// NetworkResult is what a Transport reports back for one operation.
type NetworkResult struct {
	Data  map[string]interface{}
	Error error
}

// Transport is the external collaborator the spec explicitly keeps out of
// scope (§1): the engine only ever calls through this seam.
type Transport struct {
	// HTTP executes a query or mutation and returns its single result.
	HTTP func(ctx context.Context, req Request) (map[string]interface{}, error)
	// WS executes a subscription, streaming results on the returned
	// channel until ctx is cancelled or the channel is closed by the
	// transport.
	WS func(ctx context.Context, req Request) (<-chan NetworkResult, error)
}

// ClientOptions is the engine's construction-time configuration (spec §6).
type ClientOptions struct {
	Schema    *schema.Config
	Transport Transport

	// HydrationTimeout resolves the Open Question in spec §9 about
	// hydrationTimeout=0 vs. the microtask-boundary default by making the
	// two cases distinguishable at the type level: nil selects
	// defaultHydrationTimeout, a non-nil zero schedules the clear on a
	// zero-length timer (so the gate stays open until that timer fires, see
	// ssr.Gate), and a negative duration holds the gate open until
	// ClearHydrationGate is called explicitly.
	HydrationTimeout *time.Duration
	// SuspensionTimeout is stored on the Client (zero selects
	// defaultSuspensionTimeout) but no code path reads it: request sharing
	// covers only identical requests that are in flight at the same time,
	// and a completed request's result is not held for later callers.
	SuspensionTimeout time.Duration
	// TransportConcurrency bounds concurrent watch-driven background
	// refetches. Zero selects defaultTransportConcurrency.
	TransportConcurrency int `validate:"nullable,gte=0"`
	// MemoSize bounds Documents' materialization memo cache. Zero selects
	// its own default.
	MemoSize int `validate:"nullable,gte=0"`
	// InstanceID tags every log line this Client's components emit.
	InstanceID string `validate:"nullable,alpha_dash"`
}

// Client is one cache engine instance. Multiple Clients in one process are
// fully independent (spec §9, "Global state is confined to a cache
// instance").
type Client struct {
	cfg    *schema.Config
	g      *graph.Graph
	merger *canonical.Merger
	stack  *optimistic.Stack
	docs   *documents.Documents
	tr     Transport
	gate   *ssr.Gate

	hydrationTimeout  time.Duration
	suspensionTimeout time.Duration
	pool              *workerpool.Pool
	group             singleflight.Group

	log *slog.Logger

	mu          sync.Mutex
	mutationSeq uint64
	subSeq      uint64
	watches     map[*Watch]struct{}
}

// New wires a Client from opts. Malformed options (a negative concurrency/
// memo size, an InstanceID with stray punctuation) are logged and then
// defaulted away rather than rejected, since construction has no error
// return to surface them through.
func New(opts ClientOptions) *Client {
	errs := validate.Struct(&opts)
	if validate.HasErrors(errs) {
		logger.Warn("operations: ClientOptions failed validation, defaults will be used", "errors", errs)
	}

	cfg := opts.Schema
	if cfg == nil {
		cfg = schema.New()
	}

	instanceID := opts.InstanceID
	if _, invalid := errs["instanceid"]; invalid || instanceID == "" {
		instanceID = "cachebay-" + uuid.NewString()
	}

	g := graph.New(cfg, graph.WithInstanceID(instanceID))
	merger := canonical.New(g, cfg)
	stack := optimistic.New()
	docs := documents.New(g, cfg, merger, stack, opts.MemoSize)

	hydrationTimeout := defaultHydrationTimeout
	if opts.HydrationTimeout != nil {
		hydrationTimeout = *opts.HydrationTimeout
	}

	suspensionTimeout := opts.SuspensionTimeout
	if suspensionTimeout <= 0 {
		suspensionTimeout = defaultSuspensionTimeout
	}

	concurrency := opts.TransportConcurrency
	if concurrency <= 0 {
		concurrency = defaultTransportConcurrency
	}

	return &Client{
		cfg:               cfg,
		g:                 g,
		merger:            merger,
		stack:             stack,
		docs:              docs,
		tr:                opts.Transport,
		gate:              ssr.NewGate(),
		hydrationTimeout:  hydrationTimeout,
		suspensionTimeout: suspensionTimeout,
		pool:              workerpool.New(concurrency),
		log:               logger.WithInstance(instanceID),
		watches:           map[*Watch]struct{}{},
	}
}

// Close releases the Client's background worker pool and active watches.
// Safe to call once; subsequent Execute/Watch calls on a closed Client are
// not supported.
func (c *Client) Close() {
	c.mu.Lock()
	watches := make([]*Watch, 0, len(c.watches))
	for w := range c.watches {
		watches = append(watches, w)
	}
	c.mu.Unlock()

	for _, w := range watches {
		w.Unsubscribe()
	}
	c.pool.Shutdown()
}

func (c *Client) isDevelopment() bool {
	switch config.AppEnv() {
	case "production", "prod":
		return false
	default:
		return true
	}
}

// Identify returns "Type:id" for entity, or "" when the type has no
// identity.
func (c *Client) Identify(typename string, entity map[string]interface{}) string {
	return c.cfg.Identify(typename, entity)
}

// ModifyOptimistic starts a transaction; its operations only apply once
// the returned handle's Commit is called.
func (c *Client) ModifyOptimistic(fn func(tx *optimistic.Tx)) *optimistic.Handle {
	return c.stack.Modify(fn)
}

// WriteInput is the input to WriteQuery/WriteFragment.
type WriteInput struct {
	Document  *ast.Document
	RootType  string
	Variables map[string]interface{}
	// ID, for WriteFragment, names the entity key data is written against
	// instead of the root.
	ID   string
	Data map[string]interface{}
}

// WriteQuery normalizes data against document into the graph rooted at
// "@".
func (c *Client) WriteQuery(in WriteInput) ([]string, *Error) {
	return c.write(in, graph.RootKey)
}

// WriteFragment normalizes data against document into the graph rooted at
// the entity named by in.ID.
func (c *Client) WriteFragment(in WriteInput) ([]string, *Error) {
	rootID := in.ID
	if rootID == "" {
		rootID = graph.RootKey
	}
	return c.write(in, rootID)
}

func (c *Client) write(in WriteInput, rootID string) ([]string, *Error) {
	rootType := in.RootType
	if rootType == "" {
		rootType = "Query"
	}
	plan, err := planner.Compile(in.Document, c.cfg, rootType)
	if err != nil {
		return nil, planError(err)
	}
	keys := c.docs.Normalize(documents.NormalizeInput{
		Plan:      plan,
		Variables: in.Variables,
		Data:      in.Data,
		RootID:    rootID,
	})
	c.notifyWatches(keys)
	return keys, nil
}

// ReadInput is the input to ReadQuery/ReadFragment.
type ReadInput struct {
	Document         *ast.Document
	RootType         string
	Variables        map[string]interface{}
	ID               string
	PreferOptimistic bool
}

// ReadQuery materializes document from the graph rooted at "@".
func (c *Client) ReadQuery(in ReadInput) (documents.MaterializeResult, *Error) {
	return c.read(in, graph.RootKey)
}

// ReadFragment materializes document from the graph rooted at the entity
// named by in.ID.
func (c *Client) ReadFragment(in ReadInput) (documents.MaterializeResult, *Error) {
	rootID := in.ID
	if rootID == "" {
		rootID = graph.RootKey
	}
	return c.read(in, rootID)
}

func (c *Client) read(in ReadInput, rootID string) (documents.MaterializeResult, *Error) {
	rootType := in.RootType
	if rootType == "" {
		rootType = "Query"
	}
	plan, err := planner.Compile(in.Document, c.cfg, rootType)
	if err != nil {
		return documents.MaterializeResult{}, planError(err)
	}
	result := c.docs.Materialize(documents.MaterializeInput{
		Plan:             plan,
		Variables:        in.Variables,
		Canonical:        true,
		PreferOptimistic: in.PreferOptimistic,
		RootID:           rootID,
	})
	return result, nil
}

// Dehydrate returns a JSON-safe snapshot of the entire graph.
func (c *Client) Dehydrate() ssr.Snapshot {
	return ssr.Dehydrate(c.g)
}

// HydrateInput is the input to Hydrate.
type HydrateInput struct {
	Snapshot *ssr.Snapshot
	// Loader lazily produces the snapshot to install, for callers that
	// want to defer decoding until hydrate is actually invoked.
	Loader func() (ssr.Snapshot, error)
}

// Hydrate installs records from in and opens the hydration gate for the
// Client's configured window, during which network-only reads prefer
// cache (see Client.preferCacheDuringHydration).
func (c *Client) Hydrate(in HydrateInput) *Error {
	var snap ssr.Snapshot
	switch {
	case in.Snapshot != nil:
		snap = *in.Snapshot
	case in.Loader != nil:
		s, err := in.Loader()
		if err != nil {
			return &Error{Kind: ErrPlanInvalid, Message: "hydrate loader failed", Err: err}
		}
		snap = s
	default:
		return &Error{Kind: ErrPlanInvalid, Message: "hydrate requires a snapshot or loader"}
	}

	ssr.Install(c.g, snap)
	c.gate.Open(c.hydrationTimeout)
	c.notifyWatches(nil)
	return nil
}

// ClearHydrationGate closes the hydration gate immediately, for callers
// that configured a negative (indefinite) HydrationTimeout.
func (c *Client) ClearHydrationGate() {
	c.gate.ClearNow()
}

func (c *Client) preferCacheDuringHydration() bool {
	return c.gate.Active()
}

// Inspect exposes read-only introspection helpers over the graph.
type Inspect struct{ c *Client }

// Inspect returns the introspection handle for this Client.
func (c *Client) Inspect() Inspect { return Inspect{c: c} }

// EntityKeys returns every entity key ("Type:id") currently stored.
func (i Inspect) EntityKeys() []string {
	var out []string
	for _, k := range i.c.g.Keys() {
		if isEntityKey(k) {
			out = append(out, k)
		}
	}
	return out
}

// ConnectionKeys returns every connection (page or canonical identity) key
// currently stored — any key whose record's __typename ends in
// "Connection".
func (i Inspect) ConnectionKeys() []string {
	var out []string
	for _, k := range i.c.g.Keys() {
		rec, ok := i.c.g.GetRecord(k)
		if !ok {
			continue
		}
		tn, _ := rec["__typename"].(string)
		if len(tn) > len("Connection") && tn[len(tn)-len("Connection"):] == "Connection" {
			out = append(out, k)
		}
	}
	return out
}

func isEntityKey(key string) bool {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return i > 0
		}
		if key[i] == '.' || key[i] == '(' {
			return false
		}
	}
	return false
}

func (c *Client) nextMutationRoot() string {
	n := atomic.AddUint64(&c.mutationSeq, 1)
	return fmt.Sprintf("@mutation.%d", n)
}

func (c *Client) nextSubscriptionRoot() string {
	n := atomic.AddUint64(&c.subSeq, 1)
	return fmt.Sprintf("@subscription.%d", n)
}

func (c *Client) registerWatch(w *Watch) {
	c.mu.Lock()
	c.watches[w] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) unregisterWatch(w *Watch) {
	c.mu.Lock()
	delete(c.watches, w)
	c.mu.Unlock()
}

// notifyWatches flushes the graph, which the session/watch layer is
// already subscribed to; callers pass the changed keys only for parity
// with the "batched change set" the spec's Graph.subscribe describes —
// the coalescing itself happens inside graph.Flush.
func (c *Client) notifyWatches(_ []string) {
	c.g.Flush()
}

// NewSession mounts a raw views.Session over this Client's graph — the
// building block WatchFragment uses, also exposed directly for callers
// that want entity/connection proxies without the watch/epoch machinery.
func (c *Client) NewSession(onChange func(viewKeys []string)) *views.Session {
	return views.NewSession(c.g, onChange)
}
