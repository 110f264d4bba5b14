package optimistic_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shashiranjanraj/cachebay/pkg/optimistic"
)

func nodeKeys(edges []optimistic.Edge) []string {
	out := make([]string, len(edges))
	for i, e := range edges {
		out[i] = e.NodeKey
	}
	return out
}

func TestStack_RemoveThenRevertRestoresCanonical(t *testing.T) {
	s := optimistic.New()
	base := []optimistic.Edge{{NodeKey: "User:1"}, {NodeKey: "User:2"}, {NodeKey: "User:3"}}

	h := s.Modify(func(tx *optimistic.Tx) {
		tx.Connection("Query.users()").Remove("User:2")
	})
	h.Commit()

	assert.Equal(t, []string{"User:1", "User:3"}, nodeKeys(s.ComposeConnection("Query.users()", base)))

	h.Revert()
	assert.Equal(t, []string{"User:1", "User:2", "User:3"}, nodeKeys(s.ComposeConnection("Query.users()", base)))
}

func TestStack_UncommittedTransactionIsInert(t *testing.T) {
	s := optimistic.New()
	base := []optimistic.Edge{{NodeKey: "User:1"}}

	s.Modify(func(tx *optimistic.Tx) {
		tx.Connection("Query.users()").Remove("User:1")
	})

	assert.Equal(t, []string{"User:1"}, nodeKeys(s.ComposeConnection("Query.users()", base)))
}

func TestStack_CommitThenRevertRoundTripsEntityState(t *testing.T) {
	s := optimistic.New()
	base := map[string]interface{}{"name": "Ada"}

	h := s.Modify(func(tx *optimistic.Tx) {
		tx.Patch("User:1", map[string]interface{}{"name": "Ada Lovelace"}, optimistic.ModeMerge)
	})
	h.Commit()

	fields, ok := s.ComposeRecord("User:1", base, true)
	assert.True(t, ok)
	assert.Equal(t, "Ada Lovelace", fields["name"])

	h.Revert()
	fields, ok = s.ComposeRecord("User:1", base, true)
	assert.True(t, ok)
	assert.Equal(t, base, fields)
}

func TestStack_DeleteThenRevertRestoresExistence(t *testing.T) {
	s := optimistic.New()
	base := map[string]interface{}{"name": "Ada"}

	h := s.Modify(func(tx *optimistic.Tx) {
		tx.Delete("User:1")
	})
	h.Commit()

	_, ok := s.ComposeRecord("User:1", base, true)
	assert.False(t, ok)

	h.Revert()
	fields, ok := s.ComposeRecord("User:1", base, true)
	assert.True(t, ok)
	assert.Equal(t, base, fields)
}

func TestStack_AppendExistingNodeReordersToTail(t *testing.T) {
	s := optimistic.New()
	base := []optimistic.Edge{{NodeKey: "User:1"}, {NodeKey: "User:2"}}

	h := s.Modify(func(tx *optimistic.Tx) {
		tx.Connection("Query.users()").Append("User:1", "u1", nil)
	})
	h.Commit()

	assert.Equal(t, []string{"User:2", "User:1"}, nodeKeys(s.ComposeConnection("Query.users()", base)))
}

func TestStack_ReplayOptimisticIsNoopUntilNextCommitOrRevert(t *testing.T) {
	s := optimistic.New()
	h := s.Modify(func(tx *optimistic.Tx) { tx.Delete("User:1") })
	h.Commit()

	first := s.ReplayOptimistic(optimistic.ReplayRequest{Entities: []string{"User:1"}})
	assert.Equal(t, []string{"User:1"}, first.Entities)

	second := s.ReplayOptimistic(optimistic.ReplayRequest{Entities: []string{"User:1"}})
	assert.Empty(t, second.Entities)

	h.Revert()
	third := s.ReplayOptimistic(optimistic.ReplayRequest{Entities: []string{"User:1"}})
	assert.Equal(t, []string{"User:1"}, third.Entities)
}
