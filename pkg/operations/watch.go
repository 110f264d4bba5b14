package operations

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/graphql-go/graphql/language/ast"

	"github.com/shashiranjanraj/cachebay/pkg/documents"
	"github.com/shashiranjanraj/cachebay/pkg/graph"
	"github.com/shashiranjanraj/cachebay/pkg/planner"
	"github.com/shashiranjanraj/cachebay/pkg/pubsub"
	"github.com/shashiranjanraj/cachebay/pkg/views"
)

// WatchQueryInput is the input to WatchQuery.
type WatchQueryInput struct {
	Document  *ast.Document
	Variables map[string]interface{}
	Policy    CachePolicy
}

// Watch is a live subscriber to one query: it emits on C whenever the
// graph changes in a way the plan's last materialization depended on,
// gated so a stale (superseded) network completion can never overwrite a
// newer one — spec §5's "latest-wins" rule.
type Watch struct {
	C <-chan Result

	client *Client
	out    chan Result

	mu        sync.Mutex
	variables map[string]interface{}
	policy    CachePolicy
	planRef   *planner.Plan
	doc       *ast.Document
	lastData  interface{}
	unsub     *pubsub.Subscription
	closed    bool

	epoch uint64
}

// Data returns the most recently emitted data synchronously, without
// waiting on C. The returned *Error is always nil: errors are delivered
// only as Results on C.
func (w *Watch) Data() (map[string]interface{}, *Error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	data, _ := w.lastData.(map[string]interface{})
	return data, nil
}

// Refetch dispatches a fresh network request for the watch's current plan
// and variables, bumping the epoch so any in-flight, now-superseded
// request's completion is discarded on arrival.
func (w *Watch) Refetch(ctx context.Context) {
	w.mu.Lock()
	doc, vars := w.doc, w.variables
	w.mu.Unlock()
	w.client.dispatchWatchQueryNetwork(ctx, w, doc, vars)
}

// Unsubscribe marks the watch inactive: it stops emitting and releases its
// graph subscription. In-flight network completions still populate the
// graph but are no longer forwarded on C.
func (w *Watch) Unsubscribe() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	unsub := w.unsub
	w.mu.Unlock()

	if unsub != nil {
		unsub.Cancel()
	}
	w.client.unregisterWatch(w)
	close(w.out)
}

func (w *Watch) active() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.closed
}

func (w *Watch) emit(r Result) {
	if !w.active() {
		return
	}
	select {
	case w.out <- r:
	default:
		// Drop the oldest pending emission in favor of the freshest —
		// watchers care about current state, not a backlog of deltas.
		select {
		case <-w.out:
		default:
		}
		select {
		case w.out <- r:
		default:
		}
	}
}

func (w *Watch) recomputeFromCache() (Result, bool) {
	w.mu.Lock()
	plan, vars := w.planRef, w.variables
	w.mu.Unlock()

	result := w.client.docs.Materialize(documents.MaterializeInput{
		Plan: plan, Variables: vars, Canonical: true, PreferOptimistic: true,
	})
	if !result.Ok.Canonical {
		return Result{}, false
	}

	w.mu.Lock()
	same := reflect.DeepEqual(w.lastData, result.Data)
	w.lastData = result.Data
	w.mu.Unlock()
	if same {
		return Result{}, false
	}

	data, _ := result.Data.(map[string]interface{})
	return Result{Data: data, Incomplete: !result.Ok.Strict}, true
}

// WatchQuery compiles document, emits a synchronous cache read when the
// policy allows one, and keeps emitting as the graph changes or as network
// refetches complete — gated so only the latest dispatched request's
// result is ever delivered.
func (c *Client) WatchQuery(ctx context.Context, in WatchQueryInput) (*Watch, *Error) {
	plan, err := planner.Compile(in.Document, c.cfg, "Query")
	if err != nil {
		return nil, planError(err)
	}

	policy := c.normalizePolicy(in.Policy)
	out := make(chan Result, 1)
	w := &Watch{
		C: out, client: c, out: out,
		variables: in.Variables, policy: policy, planRef: plan, doc: in.Document,
	}

	w.unsub = c.g.Subscribe(func(changed []string) {
		if r, ok := w.recomputeFromCache(); ok {
			w.emit(r)
		}
	})
	c.registerWatch(w)

	needNetwork := true
	if policy == CacheFirst || policy == CacheOnly || policy == CacheAndNetwork ||
		(policy == NetworkOnly && c.preferCacheDuringHydration()) {
		cached := c.docs.Materialize(documents.MaterializeInput{
			Plan: plan, Variables: in.Variables, Canonical: true, PreferOptimistic: true,
		})
		if cached.Ok.Canonical {
			w.mu.Lock()
			w.lastData = cached.Data
			w.mu.Unlock()
			data, _ := cached.Data.(map[string]interface{})
			w.emit(Result{Data: data, Incomplete: !cached.Ok.Strict})
			if policy == CacheFirst || policy == CacheOnly || (policy == NetworkOnly && c.preferCacheDuringHydration()) {
				needNetwork = false
			}
		} else if policy == CacheOnly {
			w.emit(Result{Error: &Error{Kind: ErrCacheOnlyMiss, Message: "no cached data for this query"}})
			needNetwork = false
		}
	}

	if needNetwork {
		c.dispatchWatchQueryNetwork(ctx, w, in.Document, in.Variables)
	}

	return w, nil
}

// dispatchWatchQueryNetwork bounds concurrent watch-driven network
// dispatch through the Client's workerpool (spec §4.8 ADDED) and applies
// epoch gating: a completion only emits (and only overwrites lastData) if
// its epoch is still the watch's current one when it returns.
func (c *Client) dispatchWatchQueryNetwork(ctx context.Context, w *Watch, doc *ast.Document, variables map[string]interface{}) {
	myEpoch := atomic.AddUint64(&w.epoch, 1)

	_ = c.pool.Submit(func() {
		plan, err := planner.Compile(doc, c.cfg, "Query")
		if err != nil {
			if atomic.LoadUint64(&w.epoch) == myEpoch && w.active() {
				w.emit(Result{Error: planError(err)})
			}
			return
		}

		data, err := c.dispatch(ctx, Request{Document: doc, RootType: "Query", Variables: variables})
		if err == nil && atomic.LoadUint64(&w.epoch) == myEpoch {
			c.docs.Normalize(documents.NormalizeInput{Plan: plan, Variables: variables, Data: data})
			c.notifyWatches(nil)
		}

		if atomic.LoadUint64(&w.epoch) != myEpoch || !w.active() {
			return // stale: discarded without touching the graph; unsubscribed: graph may be updated, nothing is emitted
		}

		if err != nil {
			w.emit(Result{Error: networkError(err)})
			return
		}

		result := c.docs.Materialize(documents.MaterializeInput{
			Plan: plan, Variables: variables, Canonical: true, PreferOptimistic: true,
		})
		w.mu.Lock()
		same := reflect.DeepEqual(w.lastData, result.Data)
		w.lastData = result.Data
		w.mu.Unlock()
		if same {
			return // cache-and-network with an identical payload: exactly one emission total
		}

		out, _ := result.Data.(map[string]interface{})
		w.emit(Result{Data: out, Incomplete: !result.Ok.Strict})
	})
}

// WatchFragmentInput is the input to WatchFragment.
type WatchFragmentInput struct {
	// ID names the entity (or connection) key to mount; "" mounts the root.
	ID string
}

// WatchFragment mounts a read-only view over the entity named by in.ID and
// keeps it updated as the graph changes, via the views.Session machinery
// rather than whole-document re-materialization — the per-field dependency
// tracking Views/Sessions (spec §4.6) already provides is the natural fit
// for a single-entity watch, where WatchQuery's whole-document fingerprint
// comparison would be needlessly coarse.
func (c *Client) WatchFragment(in WatchFragmentInput, onChange func(viewKeys []string)) (*views.Session, *views.View) {
	session := c.NewSession(onChange)
	rootID := in.ID
	if rootID == "" {
		rootID = graph.RootKey
	}
	return session, session.Mount(rootID)
}
