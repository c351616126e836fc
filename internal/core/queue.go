package core

import (
	"sync"
	"time"
)

// MessageQueue buffers messages for a client that cannot receive them yet.
type MessageQueue struct {
	mu       sync.Mutex
	lastRead time.Time
	messages []Message
}

// NewMessageQueue creates an empty queue whose read timestamp starts at now.
func NewMessageQueue(now time.Time) *MessageQueue {
	return &MessageQueue{lastRead: now}
}

// Add appends a message in insertion order.
func (q *MessageQueue) Add(msg Message) {
	q.mu.Lock()
	q.messages = append(q.messages, msg)
	q.mu.Unlock()
}

// Drain removes and returns all buffered messages, advancing the read timestamp.
func (q *MessageQueue) Drain(now time.Time) []Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.lastRead = now
	out := q.messages
	q.messages = nil
	return out
}

// Clear discards all buffered messages without touching the read timestamp.
func (q *MessageQueue) Clear() {
	q.mu.Lock()
	q.messages = nil
	q.mu.Unlock()
}

// Len returns the number of buffered messages.
func (q *MessageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// Snapshot returns a consistent copy of the read timestamp and messages.
func (q *MessageQueue) Snapshot() QueueSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	msgs := make([]Message, len(q.messages))
	copy(msgs, q.messages)
	return QueueSnapshot{readAt: q.lastRead, messages: msgs}
}

// QueueSnapshot is a point-in-time view of a MessageQueue.
type QueueSnapshot struct {
	readAt   time.Time
	messages []Message
}

// NewQueueSnapshot builds a snapshot directly, mostly for tests and alternate realms.
func NewQueueSnapshot(readAt time.Time, messages []Message) QueueSnapshot {
	return QueueSnapshot{readAt: readAt, messages: messages}
}

// ReadTimestamp is the last time a consumer read from the queue.
func (s QueueSnapshot) ReadTimestamp() time.Time {
	return s.readAt
}

// Messages returns the buffered messages in insertion order.
func (s QueueSnapshot) Messages() []Message {
	return s.messages
}
