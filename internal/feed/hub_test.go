package feed

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"squeeze-discovery/internal/domain"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func record() *domain.DiscoveryRecord {
	price := 4.2
	cat := "fda"
	return &domain.DiscoveryRecord{
		ID:         "abc123",
		Ticker:     "SQZ",
		Day:        time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC),
		Score:      81,
		Price:      &price,
		Confidence: domain.ConfidenceHigh,
		Action:     "BUY",
		Source:     domain.SourceEnrichment,
		Catalyst:   &cat,
		Reasons:    []string{"fda catalyst"},
	}
}

func TestHub_BroadcastsToAllSubscribers(t *testing.T) {
	hub := NewHub(Options{})
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	a := dial(t, srv)
	b := dial(t, srv)
	require.Eventually(t, func() bool { return hub.Subscribers() == 2 }, 2*time.Second, 10*time.Millisecond)

	hub.Publish(record())

	for _, conn := range []*websocket.Conn{a, b} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		assert.Equal(t, "discovery", msg.Type)
		assert.Equal(t, "SQZ", msg.Ticker)
		assert.Equal(t, "2026-03-03", msg.Day)
		assert.Equal(t, 81.0, msg.Score)
		assert.Equal(t, "BUY", msg.Action)
		assert.False(t, msg.Synthetic)
	}
}

func TestHub_DisconnectUnregisters(t *testing.T) {
	hub := NewHub(Options{})
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_DropsSlowSubscriber(t *testing.T) {
	hub := NewHub(Options{SendBuffer: 1})

	// Register a subscriber whose queue is never drained.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := hub.upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		hub.mu.Lock()
		hub.subs[&subscriber{conn: conn, send: make(chan []byte, 1)}] = struct{}{}
		hub.mu.Unlock()
	}))
	defer srv.Close()

	dial(t, srv)
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Broadcast([]byte(`{"n":1}`))
	assert.Equal(t, 1, hub.Subscribers())

	hub.Broadcast([]byte(`{"n":2}`))
	assert.Equal(t, 0, hub.Subscribers())
}

func TestHub_CloseRejectsNewSubscribers(t *testing.T) {
	hub := NewHub(Options{})
	srv := httptest.NewServer(hub)
	defer srv.Close()

	hub.Close()
	conn := dial(t, srv)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Zero(t, hub.Subscribers())
}

func TestHub_PublishNilIsNoop(t *testing.T) {
	hub := NewHub(Options{})
	hub.Publish(nil)
	assert.Zero(t, hub.Subscribers())
}
