package eventstream

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rybkr/timelapse/internal/checkpoint"
)

func TestHub_PublishReachesConnectedClient(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	server := httptest.NewServer(hub)
	defer server.Close()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	id, err := checkpoint.NewID(1000)
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}
	hub.Publish(CheckpointEvent{Checkpoint: checkpoint.Checkpoint{ID: id}})

	conn.SetReadDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck
	var got CheckpointEvent
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got.Checkpoint.ID != id {
		t.Errorf("received checkpoint id %v, want %v", got.Checkpoint.ID, id)
	}
}

func TestHub_PublishWithNoClientsDoesNotBlock(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < broadcastChannelSize*2; i++ {
			hub.Publish(CheckpointEvent{})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked with no connected clients")
	}
}

func TestHub_CloseStopsAcceptingAndDisconnectsClients(t *testing.T) {
	hub := NewHub(nil)
	server := httptest.NewServer(hub)
	defer server.Close()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	hub.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected the client connection to be closed after Hub.Close")
	}
}
