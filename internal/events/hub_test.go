package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Tests register with a nil connection and read the send buffer directly;
// the pumps only matter once a real websocket is attached.

func TestHub_PublishReachesAllSubscribers(t *testing.T) {
	hub := NewHub()
	first, err := hub.Register(nil)
	require.NoError(t, err)
	second, err := hub.Register(nil)
	require.NoError(t, err)

	hub.Publish(Event{Type: EventRunStarted, RunID: "r1"})

	for _, client := range []*Client{first, second} {
		select {
		case data := <-client.send:
			var got Event
			require.NoError(t, json.Unmarshal(data, &got))
			assert.Equal(t, EventRunStarted, got.Type)
			assert.Equal(t, "r1", got.RunID)
			assert.False(t, got.At.IsZero())
		default:
			t.Fatal("subscriber received nothing")
		}
	}
}

func TestHub_PublishDropsForSlowSubscriber(t *testing.T) {
	hub := NewHub()
	client, err := hub.Register(nil)
	require.NoError(t, err)

	for i := 0; i < sendBuffer+10; i++ {
		hub.Publish(Event{Type: EventPostExtracted})
	}
	// the buffer caps out; overflow is dropped, never blocked on
	assert.Len(t, client.send, sendBuffer)
}

func TestHub_UnregisterStopsDelivery(t *testing.T) {
	hub := NewHub()
	client, err := hub.Register(nil)
	require.NoError(t, err)

	hub.unregister(client)
	assert.Equal(t, 0, hub.SubscriberCount())

	hub.Publish(Event{Type: EventRunFinished})
	assert.Empty(t, client.send)
}

func TestHub_ShutdownRefusesNewSubscribers(t *testing.T) {
	hub := NewHub()
	_, err := hub.Register(nil)
	require.NoError(t, err)

	require.NoError(t, hub.Shutdown(context.Background()))
	assert.Equal(t, 0, hub.SubscriberCount())

	_, err = hub.Register(nil)
	assert.ErrorIs(t, err, ErrHubClosed)
}
