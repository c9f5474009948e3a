package domain

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishQueue_InsertionOrder(t *testing.T) {
	q := NewPublishQueue()

	q.Append(QueueItem{ID: "a", SessionID: "s1", Platform: PlatformTwitter, Status: StatusPending})
	q.Append(QueueItem{ID: "b", SessionID: "s1", Platform: PlatformBluesky, Status: StatusPending})
	q.Append(QueueItem{ID: "c", SessionID: "s1", Platform: PlatformMisskey, Status: StatusPending})

	items := q.Items("s1")
	require.Len(t, items, 3)
	assert.Equal(t, "a", items[0].ID)
	assert.Equal(t, "b", items[1].ID)
	assert.Equal(t, "c", items[2].ID)
}

func TestPublishQueue_ItemsAreScopedToSession(t *testing.T) {
	q := NewPublishQueue()

	q.Append(QueueItem{ID: "a", SessionID: "s1", Status: StatusPending, Content: "draft from s1"})
	q.Append(QueueItem{ID: "b", SessionID: "s2", Status: StatusPending, Content: "draft from s2"})

	first := q.Items("s1")
	require.Len(t, first, 1)
	assert.Equal(t, "a", first[0].ID)

	second := q.Items("s2")
	require.Len(t, second, 1)
	assert.Equal(t, "b", second[0].ID)

	assert.Empty(t, q.Items("s3"), "a session with no jobs sees nothing")
}

func TestPublishQueue_SessionIDIsNotSerialized(t *testing.T) {
	data, err := json.Marshal(QueueItem{ID: "a", SessionID: "s1", Status: StatusPending})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "s1")
}

func TestPublishQueue_UpdateMergesPartially(t *testing.T) {
	q := NewPublishQueue()
	q.Append(QueueItem{ID: "a", SessionID: "s1", Platform: PlatformTwitter, Status: StatusPending, Message: "publishing...", Content: "hello"})

	status := StatusSuccess
	message := "published"
	link := "https://twitter.com/1/status/2"
	q.Update("a", QueuePatch{Status: &status, Message: &message, Link: &link})

	item, ok := q.Get("a")
	require.True(t, ok)
	assert.Equal(t, StatusSuccess, item.Status)
	assert.Equal(t, "published", item.Message)
	assert.Equal(t, link, item.Link)
	assert.Equal(t, "hello", item.Content, "unpatched fields are kept")
}

func TestPublishQueue_UpdateIsIdempotent(t *testing.T) {
	q := NewPublishQueue()
	q.Append(QueueItem{ID: "a", SessionID: "s1", Platform: PlatformTwitter, Status: StatusPending})

	status := StatusError
	message := "boom"
	patch := QueuePatch{Status: &status, Message: &message}

	q.Update("a", patch)
	first, _ := q.Get("a")
	q.Update("a", patch)
	second, _ := q.Get("a")

	assert.Equal(t, first, second)
}

func TestPublishQueue_UpdateUnknownIDIsNoop(t *testing.T) {
	q := NewPublishQueue()

	status := StatusError
	q.Update("missing", QueuePatch{Status: &status})

	assert.Empty(t, q.Items("s1"))
}

func TestPublishQueue_ConcurrentAppendAndUpdate(t *testing.T) {
	q := NewPublishQueue()

	var wg sync.WaitGroup
	ids := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, id := range ids {
		q.Append(QueueItem{ID: id, SessionID: "s1", Status: StatusPending})
	}

	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				message := "working on " + id
				q.Update(id, QueuePatch{Message: &message})
			}
			status := StatusSuccess
			q.Update(id, QueuePatch{Status: &status})
		}()
	}
	wg.Wait()

	items := q.Items("s1")
	require.Len(t, items, len(ids))
	for i, item := range items {
		assert.Equal(t, ids[i], item.ID, "insertion order preserved")
		assert.Equal(t, StatusSuccess, item.Status)
	}
}

func TestPublishQueue_SubscribeReceivesUpdates(t *testing.T) {
	q := NewPublishQueue()
	updates, cancel := q.Subscribe("s1")
	defer cancel()

	q.Append(QueueItem{ID: "a", SessionID: "s1", Status: StatusPending})
	status := StatusSuccess
	q.Update("a", QueuePatch{Status: &status})

	first := <-updates
	assert.Equal(t, StatusPending, first.Status)

	second := <-updates
	assert.Equal(t, StatusSuccess, second.Status)
}

func TestPublishQueue_SubscribeIsScopedToSession(t *testing.T) {
	q := NewPublishQueue()
	updates, cancel := q.Subscribe("s2")
	defer cancel()

	q.Append(QueueItem{ID: "a", SessionID: "s1", Status: StatusPending, Content: "draft from s1"})
	q.Append(QueueItem{ID: "b", SessionID: "s2", Status: StatusPending, Content: "draft from s2"})

	// The other session's append is never delivered, so the first receive
	// is this session's own item.
	item := <-updates
	assert.Equal(t, "b", item.ID)
	assert.Equal(t, "draft from s2", item.Content)
}

func TestPublishQueue_CancelledSubscriberIsRemoved(t *testing.T) {
	q := NewPublishQueue()
	updates, cancel := q.Subscribe("s1")
	cancel()

	q.Append(QueueItem{ID: "a", SessionID: "s1", Status: StatusPending})

	_, open := <-updates
	assert.False(t, open, "channel is closed after cancel")
}
