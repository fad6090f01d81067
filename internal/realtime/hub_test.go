package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticTokens map[string]string

func (s staticTokens) ParseStaffID(token string) (string, error) {
	if id, ok := s[token]; ok {
		return id, nil
	}
	return "", errors.New("bad token")
}

func dial(t *testing.T, srv *httptest.Server, token string) (*websocket.Conn, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	return conn, err
}

func TestHubDeliversToConnectedAgent(t *testing.T) {
	hub := NewHub(staticTokens{"tok-a1": "a1"}, zap.NewNop())
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()
	defer hub.Close()

	conn, err := dial(t, srv, "tok-a1")
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Connected("a1") }, time.Second, 5*time.Millisecond)
	hub.Notify(context.Background(), "a1", "conversation_assigned", map[string]string{"conversation_id": "c1"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame struct {
		Topic   string            `json:"topic"`
		Payload map[string]string `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &frame))
	assert.Equal(t, "conversation_assigned", frame.Topic)
	assert.Equal(t, "c1", frame.Payload["conversation_id"])
}

func TestHubRejectsBadToken(t *testing.T) {
	hub := NewHub(staticTokens{}, zap.NewNop())
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	_, err := dial(t, srv, "nope")
	assert.Error(t, err)
}

func TestNotifyWithoutConnectionIsNoop(t *testing.T) {
	hub := NewHub(staticTokens{}, zap.NewNop())
	hub.Notify(context.Background(), "nobody", "x", nil)
	assert.False(t, hub.Connected("nobody"))
}
