package operations

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/graphql-go/graphql/language/ast"

	"github.com/shashiranjanraj/cachebay/pkg/documents"
	"github.com/shashiranjanraj/cachebay/pkg/metrics"
	"github.com/shashiranjanraj/cachebay/pkg/planner"
)

// Result is the tagged {data, error} value every execute/watch emission
// carries, per spec §9's "error-for-control-flow should be avoided".
type Result struct {
	Data  map[string]interface{}
	Error *Error
	// Incomplete marks a result whose materialize pass could not resolve
	// every selected field (ok.canonical=false) — a diagnostic, not an
	// error, per spec §6's Incomplete code.
	Incomplete bool
}

func fingerprint(parts ...interface{}) string {
	h := sha256.New()
	for _, p := range parts {
		fmt.Fprintf(h, "%v|", p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// dispatch runs req through the Transport's HTTP seam, deduplicating
// identical requests (same fingerprint) that are in flight at the same time
// via golang.org/x/sync/singleflight. Once a call completes its result is
// not kept: a later identical request makes a new network call.
func (c *Client) dispatch(ctx context.Context, req Request) (map[string]interface{}, error) {
	if c.tr.HTTP == nil {
		return nil, fmt.Errorf("operations: no HTTP transport configured")
	}

	key := fingerprint(req.Document, req.RootType, req.Variables)
	start := time.Now()
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		return c.tr.HTTP(ctx, req)
	})
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.ObserveNetworkRequest(req.RootType, status, start)
	if err != nil {
		return nil, err
	}
	data, _ := v.(map[string]interface{})
	return data, nil
}

// ExecuteQueryInput is the input to ExecuteQuery.
type ExecuteQueryInput struct {
	Document  *ast.Document
	Variables map[string]interface{}
	Policy    CachePolicy
}

// ExecuteQuery runs a query against the cache policy table (spec §6):
// cache-first/cache-only read the cache before ever touching the network;
// network-only always fetches except during the SSR hydration window,
// when it behaves like cache-first to avoid an unnecessary re-fetch right
// after Hydrate (spec §4.7/§8 scenario 5).
func (c *Client) ExecuteQuery(ctx context.Context, in ExecuteQueryInput) Result {
	plan, err := planner.Compile(in.Document, c.cfg, "Query")
	if err != nil {
		return Result{Error: planError(err)}
	}

	policy := c.normalizePolicy(in.Policy)
	preferCache := policy == CacheFirst || policy == CacheOnly || policy == CacheAndNetwork ||
		(policy == NetworkOnly && c.preferCacheDuringHydration())

	if preferCache {
		cached := c.docs.Materialize(documents.MaterializeInput{
			Plan: plan, Variables: in.Variables, Canonical: true, PreferOptimistic: true,
		})
		if cached.Ok.Canonical {
			metrics.CacheHits.WithLabelValues(string(policy)).Inc()
			if policy != CacheAndNetwork {
				data, _ := cached.Data.(map[string]interface{})
				return Result{Data: data, Incomplete: !cached.Ok.Strict}
			}
		} else {
			metrics.CacheMisses.WithLabelValues(string(policy)).Inc()
			if policy == CacheOnly {
				return Result{Error: &Error{Kind: ErrCacheOnlyMiss, Message: "no cached data for this query"}}
			}
		}
	}

	req := Request{Document: in.Document, RootType: "Query", Variables: in.Variables}
	data, err := c.dispatch(ctx, req)
	if err != nil {
		return Result{Error: networkError(err)}
	}

	c.docs.Normalize(documents.NormalizeInput{Plan: plan, Variables: in.Variables, Data: data})
	c.notifyWatches(nil)

	result := c.docs.Materialize(documents.MaterializeInput{
		Plan: plan, Variables: in.Variables, Canonical: true, PreferOptimistic: true,
	})
	out, _ := result.Data.(map[string]interface{})
	return Result{Data: out, Incomplete: !result.Ok.Strict}
}

// ExecuteMutationInput is the input to ExecuteMutation.
type ExecuteMutationInput struct {
	Document  *ast.Document
	Variables map[string]interface{}
}

// ExecuteMutation always dispatches to the network; its result is
// normalized under a synthetic "@mutation.N" root (spec §4.5) so
// identified entities merge into shared graph state while the mutation's
// own response shape never clobbers the query root.
func (c *Client) ExecuteMutation(ctx context.Context, in ExecuteMutationInput) Result {
	plan, err := planner.Compile(in.Document, c.cfg, "Mutation")
	if err != nil {
		return Result{Error: planError(err)}
	}

	req := Request{Document: in.Document, RootType: "Mutation", Variables: in.Variables}
	data, err := c.dispatch(ctx, req)
	if err != nil {
		return Result{Error: networkError(err)}
	}

	rootID := c.nextMutationRoot()
	c.docs.Normalize(documents.NormalizeInput{Plan: plan, Variables: in.Variables, Data: data, RootID: rootID})
	c.notifyWatches(nil)

	result := c.docs.Materialize(documents.MaterializeInput{
		Plan: plan, Variables: in.Variables, Canonical: true, PreferOptimistic: true, RootID: rootID,
	})
	out, _ := result.Data.(map[string]interface{})
	return Result{Data: out, Incomplete: !result.Ok.Strict}
}

// ExecuteSubscriptionInput is the input to ExecuteSubscription.
type ExecuteSubscriptionInput struct {
	Document  *ast.Document
	Variables map[string]interface{}
}

// ExecuteSubscription opens the transport's WS seam and returns a lazy
// sequence of Results, all normalized under the subscription's own
// synthetic "@subscription.N" root (spec §8 scenario 6) so that a later
// direct graph write to an entity referenced from a subscription payload is
// visible the next time that root is materialized. The returned cancel func
// detaches the subscription: a payload already being normalized when cancel
// is called still populates the graph but is not forwarded on the channel,
// and payloads arriving after that are not read.
func (c *Client) ExecuteSubscription(ctx context.Context, in ExecuteSubscriptionInput) (<-chan Result, func(), *Error) {
	plan, err := planner.Compile(in.Document, c.cfg, "Subscription")
	if err != nil {
		return nil, func() {}, planError(err)
	}
	if c.tr.WS == nil {
		return nil, func() {}, &Error{Kind: ErrNetwork, Message: "no WS transport configured"}
	}

	ctx, cancel := context.WithCancel(ctx)
	raw, err := c.tr.WS(ctx, Request{Document: in.Document, RootType: "Subscription", Variables: in.Variables})
	if err != nil {
		cancel()
		return nil, func() {}, networkError(err)
	}

	rootID := c.nextSubscriptionRoot()
	out := make(chan Result, 1)
	var active atomic.Bool
	active.Store(true)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case res, ok := <-raw:
				if !ok {
					return
				}
				if res.Error != nil {
					if active.Load() {
						out <- Result{Error: networkError(res.Error)}
					}
					continue
				}

				c.docs.Normalize(documents.NormalizeInput{Plan: plan, Variables: in.Variables, Data: res.Data, RootID: rootID})
				c.notifyWatches(nil)

				if !active.Load() {
					continue
				}
				result := c.docs.Materialize(documents.MaterializeInput{
					Plan: plan, Variables: in.Variables, Canonical: true, PreferOptimistic: true, RootID: rootID,
				})
				data, _ := result.Data.(map[string]interface{})
				out <- Result{Data: data, Incomplete: !result.Ok.Strict}
			}
		}
	}()

	cancelFn := func() {
		active.Store(false)
		cancel()
	}
	return out, cancelFn, nil
}
