package collection_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shashiranjanraj/cachebay/pkg/collection"
)

func TestMoveToPosition(t *testing.T) {
	s := []string{"a", "b", "c", "d"}

	out := collection.MoveToPosition(s, 0, func(v string) bool { return v == "c" })
	assert.Equal(t, []string{"c", "a", "b", "d"}, out)

	out = collection.MoveToPosition(s, 10, func(v string) bool { return v == "a" })
	assert.Equal(t, []string{"b", "c", "d", "a"}, out)
}

func TestMoveToPosition_NoMatchIsNoop(t *testing.T) {
	s := []string{"a", "b"}
	out := collection.MoveToPosition(s, 0, func(v string) bool { return v == "z" })
	assert.Equal(t, s, out)
}

func TestSpliceAfter(t *testing.T) {
	s := []string{"a", "b", "c"}

	out := collection.SpliceAfter(s, func(v string) bool { return v == "b" }, "x", "y")
	assert.Equal(t, []string{"a", "b", "x", "y", "c"}, out)
}

func TestSpliceAfter_UnknownAnchorAppendsAtTail(t *testing.T) {
	s := []string{"a", "b"}
	out := collection.SpliceAfter(s, func(v string) bool { return v == "z" }, "x")
	assert.Equal(t, []string{"a", "b", "x"}, out)
}
