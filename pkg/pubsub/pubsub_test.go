package pubsub_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shashiranjanraj/cachebay/pkg/pubsub"
)

func TestBus_FlushDeliversBatchedKeys(t *testing.T) {
	bus := pubsub.New()

	var got []string
	bus.Subscribe(func(keys []string) {
		got = append(got, keys...)
	})

	bus.Mark("User:1")
	bus.Mark("User:2")
	bus.Mark("User:1") // duplicate, should not double-notify

	bus.Flush()

	assert.ElementsMatch(t, []string{"User:1", "User:2"}, got)
}

func TestBus_FlushNoopWhenNothingChanged(t *testing.T) {
	bus := pubsub.New()

	calls := 0
	bus.Subscribe(func(keys []string) { calls++ })

	bus.Flush()

	assert.Equal(t, 0, calls)
}

func TestBus_SubscriptionCancelStopsNotifications(t *testing.T) {
	bus := pubsub.New()

	calls := 0
	sub := bus.Subscribe(func(keys []string) { calls++ })

	sub.Cancel()
	assert.Equal(t, 0, bus.HandlerCount())

	bus.Mark("User:1")
	bus.Flush()

	assert.Equal(t, 0, calls)
}

func TestBus_MarkAll(t *testing.T) {
	bus := pubsub.New()

	var got []string
	bus.Subscribe(func(keys []string) { got = keys })

	bus.MarkAll([]string{"A", "B", "C"})
	bus.Flush()

	assert.ElementsMatch(t, []string{"A", "B", "C"}, got)
}
