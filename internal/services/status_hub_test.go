package services

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datasync/engine/internal/models"
)

func startHub(t *testing.T) (*StatusHub, chan struct{}) {
	t.Helper()
	hub := NewStatusHub(testLogger())
	stopped := make(chan struct{})
	go func() {
		hub.Run()
		close(stopped)
	}()
	t.Cleanup(hub.Stop)
	return hub, stopped
}

func TestStatusHubBroadcastsStateChanges(t *testing.T) {
	hub, _ := startHub(t)

	client := hub.NewClient("c1", nil)
	hub.Register(client)

	hub.NotifyState(models.StatePushing)

	select {
	case data := <-client.Send:
		var msg WSMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		assert.Equal(t, WSTypeStateChanged, msg.Type)
		assert.Contains(t, string(data), string(models.StatePushing))
	case <-time.After(2 * time.Second):
		t.Fatal("no state event received")
	}
}

func TestStatusHubStopEndsRunAndDisconnectsClients(t *testing.T) {
	hub, stopped := startHub(t)

	client := hub.NewClient("c1", nil)
	hub.Register(client)

	hub.Stop()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("event loop did not exit after stop")
	}

	// The client channel is closed so its write pump unwinds too.
	select {
	case _, ok := <-client.Send:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("client send channel was not closed")
	}
	assert.Zero(t, hub.ClientCount())

	// Stop is idempotent and late registrations do not hang.
	hub.Stop()
	hub.Register(hub.NewClient("c2", nil))
}
