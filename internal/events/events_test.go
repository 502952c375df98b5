package events

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBusDeliversInOrder(t *testing.T) {
	bus := NewBus(4)
	bus.Publish(Event{Kind: LoginStashSaved, Username: "a"})
	bus.Publish(Event{Kind: LoginStashDeleted, Username: "a"})
	bus.Close()

	var got []Kind
	for e := range bus.Events() {
		got = append(got, e.Kind)
	}
	require.Equal(t, []Kind{LoginStashSaved, LoginStashDeleted}, got)
}

func TestPublishNeverBlocks(t *testing.T) {
	bus := NewBus(1)

	// No subscriber and a full buffer: these must return immediately.
	for i := 0; i < 100; i++ {
		bus.Publish(Event{Kind: LoginStashSaved, Username: "a"})
	}

	bus.Close()
	count := 0
	for range bus.Events() {
		count++
	}
	require.Equal(t, 1, count)
}
