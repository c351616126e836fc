package core

import (
	"sort"
	"sync"
	"time"

	"github.com/vovakirdan/wiresignal-server/internal/utils"
)

// Realm is the in-memory registry of clients and their message queues.
// All methods are safe for concurrent use.
type Realm struct {
	mu      sync.RWMutex
	clients map[string]*Client
	queues  map[string]*MessageQueue
	newID   func() string
}

// NewRealm creates an empty realm.
func NewRealm() *Realm {
	return &Realm{
		clients: make(map[string]*Client),
		queues:  make(map[string]*MessageQueue),
		newID:   utils.NewID,
	}
}

// ClientIDs returns the ids of all registered clients, sorted.
func (r *Realm) ClientIDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// ClientFor looks up a registered client.
func (r *Realm) ClientFor(id string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	return c, ok
}

// SetClient registers c under its id. An id held by a client with a different
// token is rejected with ErrIDTaken; a matching token replaces the old client.
func (r *Realm) SetClient(c *Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.clients[c.ID]; ok && existing != c {
		if existing.Token != c.Token {
			return ErrIDTaken
		}
		existing.Close()
	}
	r.clients[c.ID] = c
	return nil
}

// RemoveClient unregisters the client with the given id. It only removes the
// entry if it still points at c, so a stale disconnect cannot evict a newer session.
func (r *Realm) RemoveClient(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.clients[c.ID]
	if !ok || current != c {
		return false
	}
	delete(r.clients, c.ID)
	return true
}

// ClientIDsWithQueue returns a point-in-time snapshot of ids that own a queue.
func (r *Realm) ClientIDsWithQueue() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.queues))
	for id := range r.queues {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// QueueFor returns a consistent snapshot of the queue owned by id.
func (r *Realm) QueueFor(id string) (QueueSnapshot, bool) {
	r.mu.RLock()
	q, ok := r.queues[id]
	r.mu.RUnlock()
	if !ok {
		return QueueSnapshot{}, false
	}
	return q.Snapshot(), true
}

// Enqueue appends msg to the queue of id, creating the queue on first use.
func (r *Realm) Enqueue(id string, msg Message, now time.Time) {
	r.mu.Lock()
	q, ok := r.queues[id]
	if !ok {
		q = NewMessageQueue(now)
		r.queues[id] = q
	}
	r.mu.Unlock()

	q.Add(msg)
}

// DrainQueue removes and returns everything buffered for id.
func (r *Realm) DrainQueue(id string, now time.Time) []Message {
	r.mu.RLock()
	q, ok := r.queues[id]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return q.Drain(now)
}

// ClearQueue empties the queue of id. The queue itself is kept.
func (r *Realm) ClearQueue(id string) {
	r.mu.RLock()
	q, ok := r.queues[id]
	r.mu.RUnlock()
	if ok {
		q.Clear()
	}
}

// GenerateClientID returns an id not currently registered.
func (r *Realm) GenerateClientID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for {
		id := r.newID()
		if _, taken := r.clients[id]; !taken {
			return id
		}
	}
}
