package core

import (
	"context"
	"sync"
	"time"
)

const outboxSize = 32

// Client is a connected (or recently connected) peer as seen by the core layer.
type Client struct {
	ID    string
	Token string

	outbox chan Message
	done   chan struct{}

	mu        sync.Mutex
	lastPing  time.Time
	closeOnce sync.Once
}

// NewClient constructs a client with an initialized mailbox.
func NewClient(id, token string, now time.Time) *Client {
	return &Client{
		ID:       id,
		Token:    token,
		outbox:   make(chan Message, outboxSize),
		done:     make(chan struct{}),
		lastPing: now,
	}
}

// Outbox is drained by the transport writer.
func (c *Client) Outbox() <-chan Message {
	return c.outbox
}

// Done is closed once the client disconnects.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Send places msg in the client's mailbox. It blocks until there is room,
// the context ends, or the client is closed.
func (c *Client) Send(ctx context.Context, msg Message) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.outbox <- msg:
		return nil
	case <-c.done:
		return ErrClientClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close marks the client as disconnected. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Closed reports whether Close has been called.
func (c *Client) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Touch records a heartbeat.
func (c *Client) Touch(now time.Time) {
	c.mu.Lock()
	c.lastPing = now
	c.mu.Unlock()
}

// LastPing returns the time of the last heartbeat.
func (c *Client) LastPing() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPing
}
