package httpserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seojinpark/crosspost/internal/domain"
)

func dialFeed(t *testing.T, srv *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/queue/ws"
	header := http.Header{}
	header.Set("Cookie", (&http.Cookie{Name: sessionCookie, Value: sessionID}).String())

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readItem(t *testing.T, conn *websocket.Conn) domain.QueueItem {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var item domain.QueueItem
	require.NoError(t, conn.ReadJSON(&item))
	return item
}

func TestQueueFeed_SnapshotThenUpdates(t *testing.T) {
	env := newTestEnv(t)
	queue := env.orchestrator.Queue()
	queue.Append(domain.QueueItem{ID: "job-1", SessionID: "session-1", Platform: domain.PlatformTwitter, Status: domain.StatusPending})

	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	conn := dialFeed(t, srv, "session-1")

	// Existing items arrive first.
	item := readItem(t, conn)
	assert.Equal(t, "job-1", item.ID)
	assert.Equal(t, domain.StatusPending, item.Status)

	// Live updates follow.
	status := domain.StatusSuccess
	link := "https://social.example/posts/1"
	queue.Update("job-1", domain.QueuePatch{Status: &status, Link: &link})

	item = readItem(t, conn)
	assert.Equal(t, "job-1", item.ID)
	assert.Equal(t, domain.StatusSuccess, item.Status)
	assert.Equal(t, link, item.Link)
}

func TestQueueFeed_MultipleSubscribers(t *testing.T) {
	env := newTestEnv(t)
	queue := env.orchestrator.Queue()

	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	// The snapshot item doubles as a marker that each connection's
	// subscription is active before the live append below.
	queue.Append(domain.QueueItem{ID: "job-1", SessionID: "session-1", Platform: domain.PlatformMisskey, Status: domain.StatusPending})

	first := dialFeed(t, srv, "session-1")
	second := dialFeed(t, srv, "session-1")
	assert.Equal(t, "job-1", readItem(t, first).ID)
	assert.Equal(t, "job-1", readItem(t, second).ID)

	queue.Append(domain.QueueItem{ID: "job-2", SessionID: "session-1", Platform: domain.PlatformTwitter, Status: domain.StatusPending})

	assert.Equal(t, "job-2", readItem(t, first).ID)
	assert.Equal(t, "job-2", readItem(t, second).ID)
}

func TestQueueFeed_ScopedToSession(t *testing.T) {
	env := newTestEnv(t)
	queue := env.orchestrator.Queue()

	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	queue.Append(domain.QueueItem{ID: "job-1", SessionID: "session-1", Status: domain.StatusPending, Content: "private draft from session-1"})
	queue.Append(domain.QueueItem{ID: "job-2", SessionID: "session-2", Status: domain.StatusPending, Content: "draft from session-2"})

	conn := dialFeed(t, srv, "session-2")

	// Neither the snapshot nor live updates carry the other session's
	// items, so the first frame is session-2's own job.
	item := readItem(t, conn)
	assert.Equal(t, "job-2", item.ID)
	assert.Equal(t, "draft from session-2", item.Content)

	status := domain.StatusSuccess
	queue.Update("job-1", domain.QueuePatch{Status: &status})
	queue.Update("job-2", domain.QueuePatch{Status: &status})

	item = readItem(t, conn)
	assert.Equal(t, "job-2", item.ID, "other sessions' updates are never delivered")
	assert.Equal(t, domain.StatusSuccess, item.Status)
}
