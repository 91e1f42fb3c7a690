package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ndanh/guildchat/pkg/backend"
)

func never(int) bool  { return false }
func always(int) bool { return true }

func TestSubscribeRetryBound(t *testing.T) {
	rt := newFakeRealtime(never)
	m := newTestManager(rt, newFakeSessions(validSession()))

	_, err := m.Subscribe(context.Background(), 5, func(Event) {})
	if !errors.Is(err, ErrSubscriptionFailed) {
		t.Fatalf("got %v, want ErrSubscriptionFailed", err)
	}
	if rt.created != 3 {
		t.Errorf("created %d channels, want exactly the attempt ceiling of 3", rt.created)
	}
	if rt.removed != 3 {
		t.Errorf("removed %d half-open channels, want 3", rt.removed)
	}
	if m.Active() != nil {
		t.Error("failed subscribe left an active handle")
	}
}

func TestSubscribeSucceedsAfterFailedAttempts(t *testing.T) {
	rt := newFakeRealtime(func(n int) bool { return n == 3 })
	m := newTestManager(rt, newFakeSessions(validSession()))

	sub, err := m.Subscribe(context.Background(), 5, func(Event) {})
	if err != nil {
		t.Fatal(err)
	}
	if sub.ChannelID != 5 {
		t.Errorf("channel id = %d", sub.ChannelID)
	}
	if m.Active() != sub {
		t.Error("subscription not recorded as active")
	}
}

func TestSubscribeDeliversNormalizedEvents(t *testing.T) {
	rt := newFakeRealtime(always)
	m := newTestManager(rt, newFakeSessions(validSession()))

	var mu sync.Mutex
	var events []Event
	_, err := m.Subscribe(context.Background(), 5, func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	if err != nil {
		t.Fatal(err)
	}

	ch := rt.channels[Topic(5)]
	ch.push(backend.Change{
		Type:  backend.ChangeInsert,
		Table: "messages",
		New:   json.RawMessage(`{"id":11,"channel_id":5,"content":"hey","attachments":"att-1"}`),
	})
	ch.push(backend.Change{
		Type:  backend.ChangeDelete,
		Table: "messages",
		Old:   json.RawMessage(`{"id":11,"channel_id":5}`),
	})

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Type != backend.ChangeInsert || events[0].Message.ID != "11" {
		t.Errorf("insert event = %+v", events[0])
	}
	if len(events[0].Message.Attachments) != 1 {
		t.Errorf("attachments not normalized: %#v", events[0].Message.Attachments)
	}
	if events[1].Type != backend.ChangeDelete || events[1].Message.ID != "11" {
		t.Errorf("delete event = %+v", events[1])
	}
}

func TestSubscribeReplacesActiveSubscription(t *testing.T) {
	rt := newFakeRealtime(always)
	m := newTestManager(rt, newFakeSessions(validSession()))

	var mu sync.Mutex
	fromA := 0
	subA, err := m.Subscribe(context.Background(), 1, func(Event) {
		mu.Lock()
		fromA++
		mu.Unlock()
	})
	if err != nil {
		t.Fatal(err)
	}
	chA := rt.channels[Topic(1)]

	subB, err := m.Subscribe(context.Background(), 2, func(Event) {})
	if err != nil {
		t.Fatal(err)
	}

	if !subA.Cancelled() {
		t.Error("old subscription still live after switching channels")
	}
	if m.Active() != subB {
		t.Error("new subscription not the active one")
	}

	// A late event through the stale channel must be dropped.
	chA.push(backend.Change{
		Type: backend.ChangeInsert,
		New:  json.RawMessage(`{"id":1,"channel_id":1,"content":"stale"}`),
	})
	mu.Lock()
	defer mu.Unlock()
	if fromA != 0 {
		t.Errorf("stale subscription delivered %d events", fromA)
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	rt := newFakeRealtime(always)
	m := newTestManager(rt, newFakeSessions(validSession()))

	m.Unsubscribe(context.Background(), nil) // must not panic

	sub, err := m.Subscribe(context.Background(), 5, func(Event) {})
	if err != nil {
		t.Fatal(err)
	}
	m.Unsubscribe(context.Background(), sub)
	m.Unsubscribe(context.Background(), sub)

	if rt.removed != 1 {
		t.Errorf("removed %d channels, want 1", rt.removed)
	}
	if m.Active() != nil {
		t.Error("active handle survived unsubscribe")
	}
}

func TestSubscribeWaitsForToken(t *testing.T) {
	rt := newFakeRealtime(always)
	sessions := newFakeSessions(nil)
	m := newTestManager(rt, sessions)

	go func() {
		time.Sleep(20 * time.Millisecond)
		sessions.setSession(validSession())
	}()

	done := make(chan error, 1)
	go func() {
		_, err := m.Subscribe(context.Background(), 5, func(Event) {})
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe never completed after login")
	}

	if rt.setAuthCalls != 1 {
		t.Errorf("SetAuth called %d times, want once", rt.setAuthCalls)
	}
}

func TestSubscribeAttachesTokenOnce(t *testing.T) {
	rt := newFakeRealtime(always)
	m := newTestManager(rt, newFakeSessions(validSession()))

	if _, err := m.Subscribe(context.Background(), 1, func(Event) {}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Subscribe(context.Background(), 2, func(Event) {}); err != nil {
		t.Fatal(err)
	}

	if rt.setAuthCalls != 1 {
		t.Errorf("SetAuth called %d times, want once per connection lifetime", rt.setAuthCalls)
	}
}

func TestSubscribeTokenWaitHonorsContext(t *testing.T) {
	rt := newFakeRealtime(always)
	m := newTestManager(rt, newFakeSessions(nil))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := m.Subscribe(ctx, 5, func(Event) {})
	if !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("got %v, want ErrUnauthenticated after context expiry", err)
	}
}
