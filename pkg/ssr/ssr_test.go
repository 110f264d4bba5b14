package ssr_test

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shashiranjanraj/cachebay/pkg/graph"
	"github.com/shashiranjanraj/cachebay/pkg/schema"
	"github.com/shashiranjanraj/cachebay/pkg/ssr"
)

func newFixtureGraph() *graph.Graph {
	cfg := schema.New()
	cfg.Keys["User"] = func(e map[string]interface{}) string {
		id, _ := e["id"].(string)
		return id
	}
	g := graph.New(cfg)
	g.PutEntity("User", map[string]interface{}{"id": "1", "name": "Ada"})
	g.PutRecord(graph.RootKey, map[string]interface{}{"me": graph.Ref{Key: "User:1"}})
	return g
}

func TestDehydrateHydrateRoundTrip(t *testing.T) {
	src := newFixtureGraph()
	snap := ssr.Dehydrate(src)
	require.NotEmpty(t, snap.Records)

	encoded, err := json.Marshal(snap)
	require.NoError(t, err)

	decoded, err := ssr.Decode(bytes.NewReader(encoded))
	require.NoError(t, err)

	dst := graph.New(schema.New())
	ssr.Install(dst, decoded)

	rec, ok := dst.GetRecord("User:1")
	require.True(t, ok)
	require.Equal(t, "Ada", rec["name"])

	root, ok := dst.GetRecord(graph.RootKey)
	require.True(t, ok)
	require.Equal(t, graph.Ref{Key: "User:1"}, root["me"])
}

func TestDecodePreservesRefLists(t *testing.T) {
	src := newFixtureGraph()
	src.PutRecord(graph.RootKey, map[string]interface{}{
		"friends": []graph.Ref{{Key: "User:1"}},
	})

	snap := ssr.Dehydrate(src)
	encoded, err := json.Marshal(snap)
	require.NoError(t, err)

	decoded, err := ssr.Decode(bytes.NewReader(encoded))
	require.NoError(t, err)

	dst := graph.New(schema.New())
	ssr.Install(dst, decoded)

	root, ok := dst.GetRecord(graph.RootKey)
	require.True(t, ok)
	require.Equal(t, []graph.Ref{{Key: "User:1"}}, root["friends"])
}

func TestGateOpensAndClearsAfterTimeout(t *testing.T) {
	gate := ssr.NewGate()
	require.False(t, gate.Active())

	gate.Open(20 * time.Millisecond)
	require.True(t, gate.Active())

	require.Eventually(t, func() bool { return !gate.Active() }, time.Second, time.Millisecond)
}

func TestGateHeldOpenIndefinitelyByNegativeTimeout(t *testing.T) {
	gate := ssr.NewGate()
	gate.Open(-1)
	require.True(t, gate.Active())
	time.Sleep(10 * time.Millisecond)
	require.True(t, gate.Active())

	gate.ClearNow()
	require.False(t, gate.Active())
}
