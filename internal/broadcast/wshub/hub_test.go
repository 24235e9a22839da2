package wshub

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loom-app/loom/internal/broadcast"
)

func startHub(t *testing.T, handler Handler) (*Hub, *websocket.Conn) {
	t.Helper()
	h := NewHub(handler)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return h.ClientCount() == 1 },
		time.Second, 5*time.Millisecond)
	return h, conn
}

func TestHubFansOutEnvelopes(t *testing.T) {
	h, conn := startHub(t, nil)

	err := h.Send(context.Background(), broadcast.Envelope{
		Type:    broadcast.TypeAIMessage,
		Payload: broadcast.FlowMessage{Content: "pong", Sender: "Character"},
	})
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var env struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "ai_message", env.Type)
	assert.Contains(t, string(env.Payload), "pong")
}

func TestHubDeliversCommands(t *testing.T) {
	got := make(chan Command, 1)
	_, conn := startHub(t, func(cmd Command) { got <- cmd })

	require.NoError(t, conn.WriteJSON(Command{Type: "player_speaks", Text: "hello"}))

	select {
	case cmd := <-got:
		assert.Equal(t, "player_speaks", cmd.Type)
		assert.Equal(t, "hello", cmd.Text)
	case <-time.After(time.Second):
		t.Fatal("command not delivered")
	}
}

func TestHubIgnoresMalformedCommands(t *testing.T) {
	got := make(chan Command, 2)
	_, conn := startHub(t, func(cmd Command) { got <- cmd })

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{nope")))
	require.NoError(t, conn.WriteJSON(Command{Type: ""}))
	require.NoError(t, conn.WriteJSON(Command{Type: "idle"}))

	select {
	case cmd := <-got:
		assert.Equal(t, "idle", cmd.Type, "malformed and untyped commands are skipped")
	case <-time.After(time.Second):
		t.Fatal("command not delivered")
	}
}

func TestHubDropsDisconnectedClient(t *testing.T) {
	h, conn := startHub(t, nil)

	conn.Close()
	require.Eventually(t, func() bool { return h.ClientCount() == 0 },
		time.Second, 5*time.Millisecond)
}
