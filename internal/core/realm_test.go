package core

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestRealmEnqueueCreatesSingleQueue(t *testing.T) {
	realm := NewRealm()
	now := time.Unix(1_700_000_000, 0)

	realm.Enqueue("b", Message{Type: MessageOffer, Source: "a", Destination: "b"}, now)
	realm.Enqueue("b", Message{Type: MessageCandidate, Source: "a", Destination: "b"}, now.Add(time.Second))

	ids := realm.ClientIDsWithQueue()
	if !reflect.DeepEqual(ids, []string{"b"}) {
		t.Fatalf("unexpected queue ids: %v", ids)
	}

	snap, ok := realm.QueueFor("b")
	if !ok {
		t.Fatalf("expected queue for b")
	}
	if !snap.ReadTimestamp().Equal(now) {
		t.Fatalf("read timestamp should be creation time, got %v", snap.ReadTimestamp())
	}
	msgs := snap.Messages()
	if len(msgs) != 2 || msgs[0].Type != MessageOffer || msgs[1].Type != MessageCandidate {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestRealmClearQueueKeepsQueue(t *testing.T) {
	realm := NewRealm()
	now := time.Now()

	realm.Enqueue("b", Message{Type: MessageOffer, Source: "a", Destination: "b"}, now)
	realm.ClearQueue("b")

	snap, ok := realm.QueueFor("b")
	if !ok {
		t.Fatalf("cleared queue should still exist")
	}
	if len(snap.Messages()) != 0 {
		t.Fatalf("expected empty queue, got %d messages", len(snap.Messages()))
	}

	// Clearing an unknown id is a no-op.
	realm.ClearQueue("ghost")
}

func TestRealmDrainAdvancesReadTimestamp(t *testing.T) {
	realm := NewRealm()
	created := time.Unix(1_700_000_000, 0)
	read := created.Add(45 * time.Second)

	realm.Enqueue("b", Message{Type: MessageOffer, Source: "a", Destination: "b"}, created)

	drained := realm.DrainQueue("b", read)
	if len(drained) != 1 {
		t.Fatalf("expected 1 drained message, got %d", len(drained))
	}

	snap, _ := realm.QueueFor("b")
	if !snap.ReadTimestamp().Equal(read) {
		t.Fatalf("expected read timestamp %v, got %v", read, snap.ReadTimestamp())
	}
	if len(snap.Messages()) != 0 {
		t.Fatalf("drain should empty the queue")
	}
}

func TestQueueSnapshotIsIsolated(t *testing.T) {
	q := NewMessageQueue(time.Now())
	q.Add(Message{Type: MessageOffer, Source: "a", Destination: "b"})

	snap := q.Snapshot()
	q.Add(Message{Type: MessageAnswer, Source: "a", Destination: "b"})

	if len(snap.Messages()) != 1 {
		t.Fatalf("snapshot must not observe later writes, got %d", len(snap.Messages()))
	}
	if q.Len() != 2 {
		t.Fatalf("expected 2 messages in queue, got %d", q.Len())
	}
}

func TestRealmSetClientRejectsDifferentToken(t *testing.T) {
	realm := NewRealm()
	now := time.Now()

	first := NewClient("peer", "t1", now)
	if err := realm.SetClient(first); err != nil {
		t.Fatalf("set first: %v", err)
	}

	if err := realm.SetClient(NewClient("peer", "t2", now)); !errors.Is(err, ErrIDTaken) {
		t.Fatalf("expected ErrIDTaken, got %v", err)
	}

	second := NewClient("peer", "t1", now)
	if err := realm.SetClient(second); err != nil {
		t.Fatalf("same token should replace: %v", err)
	}
	if !first.Closed() {
		t.Fatalf("replaced client should be closed")
	}

	// A stale disconnect of the first session must not evict the second.
	if realm.RemoveClient(first) {
		t.Fatalf("stale client removed the active session")
	}
	if got, ok := realm.ClientFor("peer"); !ok || got != second {
		t.Fatalf("expected second session to remain registered")
	}
}

func TestRealmGenerateClientIDSkipsTaken(t *testing.T) {
	realm := NewRealm()
	ids := []string{"taken", "fresh"}
	realm.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}
	_ = realm.SetClient(NewClient("taken", "x", time.Now()))

	if got := realm.GenerateClientID(); got != "fresh" {
		t.Fatalf("expected fresh id, got %q", got)
	}
}

func TestClientSendAfterClose(t *testing.T) {
	c := NewClient("a", "t", time.Now())
	if err := c.Send(context.Background(), NewMessage(MessageOpen, "")); err != nil {
		t.Fatalf("send: %v", err)
	}
	msg := <-c.Outbox()
	if msg.Type != MessageOpen {
		t.Fatalf("unexpected message: %+v", msg)
	}

	c.Close()
	c.Close()
	if err := c.Send(context.Background(), NewMessage(MessageOpen, "")); !errors.Is(err, ErrClientClosed) {
		t.Fatalf("expected ErrClientClosed, got %v", err)
	}
}

func TestClientSendHonorsContext(t *testing.T) {
	c := NewClient("a", "t", time.Now())
	for range outboxSize {
		if err := c.Send(context.Background(), NewMessage(MessageHeartbeat, "")); err != nil {
			t.Fatalf("fill outbox: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := c.Send(ctx, NewMessage(MessageHeartbeat, "")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestMessageTypeBuffered(t *testing.T) {
	for _, kind := range []MessageType{MessageOffer, MessageAnswer, MessageCandidate} {
		if !kind.Buffered() {
			t.Fatalf("%s should be buffered", kind)
		}
	}
	for _, kind := range []MessageType{MessageLeave, MessageExpire} {
		if kind.Buffered() {
			t.Fatalf("%s must not be buffered", kind)
		}
	}
}
