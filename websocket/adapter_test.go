package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buchio/rpi-camera-streamer/domain"
	"github.com/buchio/rpi-camera-streamer/hub"
)

var testUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func startServer(t *testing.T, registry *hub.Hub) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade error: %v", err)
			return
		}
		NewConn("test-conn", ws, registry).Start()
	}))
	t.Cleanup(srv.Close)
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestConn_DeliversFramesInOrder(t *testing.T) {
	registry := hub.New()
	_, url := startServer(t, registry)

	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer client.Close()

	require.Eventually(t, func() bool { return registry.Stats() == 1 },
		time.Second, 5*time.Millisecond)

	conn := registry.Snapshot()[0]
	assert.Equal(t, domain.Active, conn.State())

	frames := []string{"video:1.0:AQ==", "audio:1.5:Ag==", "video:2.0:Aw=="}
	for _, f := range frames {
		require.NoError(t, conn.Send(f))
	}

	for _, want := range frames {
		kind, data, err := client.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.TextMessage, kind)
		assert.Equal(t, want, string(data))
	}
}

func TestConn_ClientDisconnectDetaches(t *testing.T) {
	registry := hub.New()
	_, url := startServer(t, registry)

	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return registry.Stats() == 1 },
		time.Second, 5*time.Millisecond)
	conn := registry.Snapshot()[0]

	client.Close()

	assert.Eventually(t, func() bool { return registry.Stats() == 0 },
		time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return conn.State() == domain.Closed },
		time.Second, 5*time.Millisecond)

	// Sends after teardown fail fast instead of retrying.
	assert.Error(t, conn.Send("video:1.0:AQ=="))
}

func TestConn_BackloggedSendFails(t *testing.T) {
	registry := hub.New()
	c := NewConn("c1", nil, registry)

	// Fill the send queue without a write pump draining it.
	var failed error
	for i := 0; i <= sendQueueSize; i++ {
		if err := c.Send("video:1.0:AQ=="); err != nil {
			failed = err
			break
		}
	}

	assert.ErrorIs(t, failed, ErrBacklogged)
}
