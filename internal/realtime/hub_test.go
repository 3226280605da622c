package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/kodianteach/atlas-platform-sub001/internal/models"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var streams []string
		if raw := r.URL.Query().Get("streams"); raw != "" {
			streams = strings.Split(raw, ",")
		}
		hub.Serve(r.URL.Query().Get("org"), "porter", streams, w, r)
	}))
	t.Cleanup(server.Close)
	return hub, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestPublishAccessEventsIsScopedToOrganization(t *testing.T) {
	hub, url := startHub(t)

	mine := dial(t, url+"?org=org-1&streams=access.events,access.alerts")
	theirs := dial(t, url+"?org=org-2")

	require.Eventually(t, func() bool {
		return hub.Subscribers(StreamAccessAlerts, "org-1") == 1 && hub.Subscribers(StreamAccessEvents, "org-2") == 1
	}, 2*time.Second, 10*time.Millisecond)

	hub.PublishAccessEvents(models.AccessEvent{
		ID:             "01HZX",
		OrganizationID: "org-1",
		ScanResult:     models.ScanResultRevoked,
	})

	streams := map[string]bool{}
	for i := 0; i < 2; i++ {
		var msg Message
		require.NoError(t, mine.SetReadDeadline(time.Now().Add(2*time.Second)))
		require.NoError(t, mine.ReadJSON(&msg))
		require.Equal(t, EventAccessRecorded, msg.Event)
		streams[msg.Stream] = true
	}
	require.True(t, streams[StreamAccessEvents])
	require.True(t, streams[StreamAccessAlerts])

	require.NoError(t, theirs.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	var leaked Message
	require.Error(t, theirs.ReadJSON(&leaked))
}

func TestValidScansSkipAlertStream(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url+"?org=org-1&streams=access.alerts")

	require.Eventually(t, func() bool {
		return hub.Subscribers(StreamAccessAlerts, "org-1") == 1
	}, 2*time.Second, 10*time.Millisecond)

	hub.PublishAccessEvents(models.AccessEvent{OrganizationID: "org-1", ScanResult: models.ScanResultValid})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	var msg Message
	require.Error(t, conn.ReadJSON(&msg))
}

func TestUnknownStreamsAreIgnored(t *testing.T) {
	hub, url := startHub(t)
	dial(t, url+"?org=org-1&streams=ssh.terminal,access.events")

	require.Eventually(t, func() bool {
		return hub.Subscribers(StreamAccessEvents, "org-1") == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Zero(t, hub.Subscribers("ssh.terminal", "org-1"))
}

func TestSubscribersDropOnDisconnect(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url+"?org=org-1")

	require.Eventually(t, func() bool {
		return hub.Subscribers(StreamAccessEvents, "org-1") == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return hub.Subscribers(StreamAccessEvents, "org-1") == 0
	}, 2*time.Second, 10*time.Millisecond)
}
