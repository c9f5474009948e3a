package domain

import "sync"

// JobStatus is the externally observable state of a publish job.
type JobStatus string

const (
	StatusPending JobStatus = "pending"
	StatusSuccess JobStatus = "success"
	StatusError   JobStatus = "error"
)

// QueueItem is the caller-facing projection of a publish job. SessionID
// scopes the item to the browser session that submitted it and is never
// serialized outward.
type QueueItem struct {
	ID        string    `json:"id"`
	SessionID string    `json:"-"`
	Platform  Platform  `json:"platform"`
	Status    JobStatus `json:"status"`
	Message   string    `json:"message"`
	Content   string    `json:"content,omitempty"`
	Link      string    `json:"link,omitempty"`
}

// QueuePatch is a partial update to a queue item. Nil fields are left
// untouched; set fields replace the current value (last writer wins).
type QueuePatch struct {
	Status  *JobStatus
	Message *string
	Content *string
	Link    *string
}

// PublishQueue is an insertion-ordered log of job status, safe for
// concurrent append and update. Each job writes only its own entries, so
// updates for one id are observed in the order that job produced them.
// Reads are scoped by session: a session only ever observes its own items.
type PublishQueue struct {
	mu      sync.Mutex
	order   []string
	items   map[string]*QueueItem
	subs    map[int]*subscriber
	nextSub int
}

type subscriber struct {
	sessionID string
	ch        chan QueueItem
}

// NewPublishQueue creates an empty queue.
func NewPublishQueue() *PublishQueue {
	return &PublishQueue{
		items: make(map[string]*QueueItem),
		subs:  make(map[int]*subscriber),
	}
}

// Append adds a new item. Appending an id that already exists replaces the
// existing item in place without changing its position.
func (q *PublishQueue) Append(item QueueItem) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.items[item.ID]; !ok {
		q.order = append(q.order, item.ID)
	}
	stored := item
	q.items[item.ID] = &stored
	q.notifyLocked(stored)
}

// Update applies a partial merge to the item with the given id. Updating an
// unknown id is a no-op. Applying the same patch twice yields the same item.
func (q *PublishQueue) Update(id string, patch QueuePatch) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return
	}
	if patch.Status != nil {
		item.Status = *patch.Status
	}
	if patch.Message != nil {
		item.Message = *patch.Message
	}
	if patch.Content != nil {
		item.Content = *patch.Content
	}
	if patch.Link != nil {
		item.Link = *patch.Link
	}
	q.notifyLocked(*item)
}

// Items returns a snapshot of the session's items in insertion order.
func (q *PublishQueue) Items(sessionID string) []QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]QueueItem, 0, len(q.order))
	for _, id := range q.order {
		if item := q.items[id]; item.SessionID == sessionID {
			out = append(out, *item)
		}
	}
	return out
}

// Get returns the item with the given id.
func (q *PublishQueue) Get(id string) (QueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return QueueItem{}, false
	}
	return *item, true
}

// Subscribe returns a channel receiving the session's appends and updates
// from now on, and a cancel function that must be called when done. The
// channel is buffered; a subscriber that falls far behind misses
// intermediate updates rather than blocking publishers.
func (q *PublishQueue) Subscribe(sessionID string) (<-chan QueueItem, func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := q.nextSub
	q.nextSub++
	sub := &subscriber{sessionID: sessionID, ch: make(chan QueueItem, 16)}
	q.subs[id] = sub

	cancel := func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if _, ok := q.subs[id]; ok {
			delete(q.subs, id)
			close(sub.ch)
		}
	}
	return sub.ch, cancel
}

func (q *PublishQueue) notifyLocked(item QueueItem) {
	for _, sub := range q.subs {
		if sub.sessionID != item.SessionID {
			continue
		}
		select {
		case sub.ch <- item:
		default:
		}
	}
}
