// Package testsupport is a small scenario runner for pkg/operations: load a
// fixture, run an operation against a mock transport, assert what the
// client emitted. It mirrors the shape of the teacher's pkg/testkit (one
// scenario, ordered mock steps, assert-all-mocks-called) but targets the
// operations.Client surface instead of an http.Handler — there is no
// incoming request/response to record, only outgoing Transport calls and
// the Results a Client emits in response to them.
package testsupport

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shashiranjanraj/cachebay/pkg/operations"
	"github.com/shashiranjanraj/cachebay/pkg/schema"
)

// MockStep describes one expected outgoing network call, consumed in
// definition order by MatchOperation (or, if MatchOperation is empty, in
// strict sequence) the same way the teacher's NetUtilMockStep intercepts
// one outgoing HTTP call per step.
type MockStep struct {
	// MatchOperation, if set, only satisfies a dispatch whose Request
	// RootType equals this value ("Query", "Mutation", "Subscription").
	// Leave empty to match the next call regardless of kind.
	MatchOperation string

	// Data is returned as the call's successful response.
	Data map[string]interface{}
	// Err, if non-nil, is returned as the call's error instead of Data.
	Err error

	called bool
}

// MockTransport plays back Steps in order against operations.Transport's
// HTTP seam, and records every call for AssertAllCalled.
type MockTransport struct {
	mu    sync.Mutex
	steps []*MockStep
	calls []operations.Request
}

// NewMockTransport returns a transport that satisfies steps in order.
func NewMockTransport(steps []MockStep) *MockTransport {
	mt := &MockTransport{}
	for i := range steps {
		s := steps[i]
		mt.steps = append(mt.steps, &s)
	}
	return mt
}

// HTTP implements operations.Transport.HTTP.
func (mt *MockTransport) HTTP(_ context.Context, req operations.Request) (map[string]interface{}, error) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	mt.calls = append(mt.calls, req)

	for _, step := range mt.steps {
		if step.called {
			continue
		}
		if step.MatchOperation != "" && step.MatchOperation != req.RootType {
			continue
		}
		step.called = true
		return step.Data, step.Err
	}
	return nil, fmt.Errorf("testsupport: no mock step left to satisfy %s request", req.RootType)
}

// CallCount returns how many HTTP dispatches this transport has served.
func (mt *MockTransport) CallCount() int {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	return len(mt.calls)
}

// AssertAllCalled fails t if any step was never consumed — the
// testsupport analogue of the teacher's AssertMocksAllCalled.
func (mt *MockTransport) AssertAllCalled(t *testing.T) {
	t.Helper()
	mt.mu.Lock()
	defer mt.mu.Unlock()
	for i, step := range mt.steps {
		if !step.called {
			t.Errorf("testsupport: mock step %d (operation=%q) was never called", i, step.MatchOperation)
		}
	}
}

// Recorder collects every Result a Watch or ExecuteSubscription channel
// emits, for later assertion.
type Recorder struct {
	mu        sync.Mutex
	emissions []operations.Result
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder { return &Recorder{} }

// Record appends r.
func (r *Recorder) Record(res operations.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emissions = append(r.emissions, res)
}

// Drain reads every currently-buffered Result off ch and records it
// without blocking past what's already queued.
func (r *Recorder) Drain(ch <-chan operations.Result) {
	for {
		select {
		case res, ok := <-ch:
			if !ok {
				return
			}
			r.Record(res)
		default:
			return
		}
	}
}

// Emissions returns a snapshot of every Result recorded so far.
func (r *Recorder) Emissions() []operations.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]operations.Result, len(r.emissions))
	copy(out, r.emissions)
	return out
}

// AssertEmissionCount fails t unless exactly n Results were recorded.
func (r *Recorder) AssertEmissionCount(t *testing.T, n int) {
	t.Helper()
	require.Len(t, r.Emissions(), n)
}

// Scenario is one end-to-end case against a fresh Client: a schema
// config, an ordered list of mock network steps, and a Run func that
// drives the Client and makes its own assertions. RunScenario builds the
// Client, invokes Run, then asserts every mock step fired — the
// "load-a-fixture / run-an-operation / assert-emissions" shape spec'd for
// this package.
type Scenario struct {
	Name      string
	Schema    *schema.Config
	Steps     []MockStep
	Transport operations.Transport // set to override the mock HTTP-only transport (e.g. for WS scenarios)
	Run       func(t *testing.T, c *operations.Client, mt *MockTransport)
}

// RunScenario executes s as a t.Run subtest.
func RunScenario(t *testing.T, s Scenario) {
	t.Helper()
	t.Run(s.Name, func(t *testing.T) {
		mt := NewMockTransport(s.Steps)

		transport := s.Transport
		if transport.HTTP == nil {
			transport.HTTP = mt.HTTP
		}

		cfg := s.Schema
		if cfg == nil {
			cfg = schema.New()
		}

		c := operations.New(operations.ClientOptions{
			Schema:     cfg,
			Transport:  transport,
			InstanceID: "testsupport-" + s.Name,
		})
		defer c.Close()

		s.Run(t, c, mt)

		mt.AssertAllCalled(t)
	})
}
