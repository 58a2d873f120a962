package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesSubscribers(t *testing.T) {
	h := NewHub(10)
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Publish("template.applied", map[string]string{"name": "demo"})

	select {
	case ev := <-ch:
		assert.Equal(t, "template.applied", ev.Type)
		var data map[string]string
		require.NoError(t, json.Unmarshal(ev.Data, &data))
		assert.Equal(t, "demo", data["name"])
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}
}

func TestSnapshotSinceReplaysBufferedEvents(t *testing.T) {
	h := NewHub(10)
	h.Publish("a", nil)
	h.Publish("b", nil)
	h.Publish("c", nil)

	all := h.SnapshotSince(0)
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].Type)

	tail := h.SnapshotSince(all[1].ID)
	require.Len(t, tail, 1)
	assert.Equal(t, "c", tail[0].Type)
}

func TestRingOverwritesOldest(t *testing.T) {
	h := NewHub(2)
	h.Publish("a", nil)
	h.Publish("b", nil)
	h.Publish("c", nil)

	snap := h.SnapshotSince(0)
	require.Len(t, snap, 2)
	assert.Equal(t, "b", snap[0].Type)
	assert.Equal(t, "c", snap[1].Type)
}

func TestNilPayloadBecomesEmptyObject(t *testing.T) {
	h := NewHub(2)
	h.Publish("a", nil)
	assert.Equal(t, "{}", string(h.SnapshotSince(0)[0].Data))
}

func TestCancelledSubscriberStopsReceiving(t *testing.T) {
	h := NewHub(2)
	ch, cancel := h.Subscribe()
	cancel()
	cancel() // idempotent

	h.Publish("a", nil)
	_, open := <-ch
	assert.False(t, open, "channel must be closed after cancel")
}
