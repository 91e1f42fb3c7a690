package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ndanh/guildchat/pkg/backend"
	"github.com/ndanh/guildchat/pkg/model"
)

const (
	maxSubscribeAttempts = 3
	confirmTimeout       = 3 * time.Second
	confirmPoll          = 50 * time.Millisecond
	retryBaseDelay       = 200 * time.Millisecond
)

// Topic is the realtime topic carrying one channel's message changes.
// Unique per channel so concurrent channels never cross-deliver.
func Topic(channelID int64) string {
	return fmt.Sprintf("messages:%d", channelID)
}

// Event is one normalized message mutation from the live feed. For
// deletes Message carries the old row.
type Event struct {
	Type    backend.ChangeType
	Message model.Message
}

// Subscription is a handle on one live channel feed. A cancelled
// subscription delivers no further events even if a change is already in
// flight through the transport.
type Subscription struct {
	ID        string
	ChannelID int64

	ch        backend.Channel
	cancelled atomic.Bool
}

// Cancelled reports whether the subscription has been torn down.
func (s *Subscription) Cancelled() bool {
	return s.cancelled.Load()
}

// Manager owns the live subscription protocol: wait for an auth token,
// attach it to the transport once, connect, join the channel topic and
// confirm within a bounded number of attempts. It also enforces that at
// most one subscription is active at a time: subscribing tears down the
// previous handle first.
type Manager struct {
	realtime backend.Realtime
	sessions backend.Sessions

	attempts       int
	confirmTimeout time.Duration
	confirmPoll    time.Duration
	retryBase      time.Duration

	mu     sync.Mutex
	active *Subscription
}

func NewManager(rt backend.Realtime, sessions backend.Sessions) *Manager {
	return &Manager{
		realtime:       rt,
		sessions:       sessions,
		attempts:       maxSubscribeAttempts,
		confirmTimeout: confirmTimeout,
		confirmPoll:    confirmPoll,
		retryBase:      retryBaseDelay,
	}
}

// Active returns the currently active subscription, or nil.
func (m *Manager) Active() *Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// waitForToken suspends until a session with an access token exists. The
// wait has no timeout of its own; the caller bounds it through ctx.
func (m *Manager) waitForToken(ctx context.Context) (*backend.Session, error) {
	session, err := m.sessions.Session(ctx)
	if err != nil {
		return nil, err
	}
	if session.Valid() {
		return session, nil
	}

	log.Println("chat: no access token yet, waiting for auth state change")
	ready := make(chan struct{})
	var once sync.Once
	remove := m.sessions.OnAuthStateChange(func(s *backend.Session) {
		if s != nil && s.AccessToken != "" {
			once.Do(func() { close(ready) })
		}
	})
	defer remove()

	// A login may have raced the listener registration.
	session, err = m.sessions.Session(ctx)
	if err != nil {
		return nil, err
	}
	if session.Valid() {
		return session, nil
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-ready:
	}
	return m.sessions.Session(ctx)
}

// Subscribe establishes the live feed for channelID and delivers every
// message mutation to onEvent. Any previously active subscription is torn
// down first. onEvent is called from the transport goroutine.
func (m *Manager) Subscribe(ctx context.Context, channelID int64, onEvent func(Event)) (*Subscription, error) {
	m.mu.Lock()
	prev := m.active
	m.mu.Unlock()
	if prev != nil {
		m.Unsubscribe(ctx, prev)
	}

	session, err := m.waitForToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	// Attach the token once per connection lifetime.
	if session.Valid() && m.realtime.AccessToken() == "" {
		m.realtime.SetAuth(session.AccessToken)
	}

	if err := m.realtime.Connect(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSubscriptionFailed, err)
	}

	sub := &Subscription{ID: uuid.NewString(), ChannelID: channelID}
	topic := Topic(channelID)
	filter := backend.ChangeFilter{
		Event:  backend.ChangeAll,
		Schema: "public",
		Table:  "messages",
		Filter: fmt.Sprintf("channel_id=eq.%d", channelID),
	}

	for attempt := 1; attempt <= m.attempts; attempt++ {
		ch := m.realtime.Channel(topic)
		ch.OnChange(filter, func(change backend.Change) {
			if sub.cancelled.Load() {
				return
			}
			if ev, ok := eventFromChange(change); ok {
				onEvent(ev)
			}
		})

		if err := ch.Subscribe(ctx); err != nil {
			log.Printf("chat: subscribe attempt %d on %s: %v", attempt, topic, err)
		} else if m.waitJoined(ctx, ch) {
			sub.ch = ch
			m.mu.Lock()
			m.active = sub
			m.mu.Unlock()
			return sub, nil
		} else {
			log.Printf("chat: subscribe not confirmed on attempt %d for %s", attempt, topic)
		}

		// Discard the half-open channel before retrying.
		if err := m.realtime.RemoveChannel(ctx, ch); err != nil {
			log.Printf("chat: remove channel %s after failed subscribe: %v", topic, err)
		}

		if attempt < m.attempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * m.retryBase):
			}
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrSubscriptionFailed, topic)
}

// waitJoined polls the channel state until joined or the confirmation
// window runs out.
func (m *Manager) waitJoined(ctx context.Context, ch backend.Channel) bool {
	deadline := time.Now().Add(m.confirmTimeout)
	ticker := time.NewTicker(m.confirmPoll)
	defer ticker.Stop()
	for time.Now().Before(deadline) {
		if ch.State() == backend.ChannelJoined {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
	return false
}

// Unsubscribe tears sub down. Idempotent: a nil or already-cancelled
// handle is a no-op. Teardown failures are logged, not fatal.
func (m *Manager) Unsubscribe(ctx context.Context, sub *Subscription) {
	if sub == nil || sub.cancelled.Swap(true) {
		return
	}

	m.mu.Lock()
	if m.active == sub {
		m.active = nil
	}
	m.mu.Unlock()

	if sub.ch != nil {
		if err := m.realtime.RemoveChannel(ctx, sub.ch); err != nil {
			log.Printf("chat: unsubscribe %s: %v", Topic(sub.ChannelID), err)
		}
	}
}

// eventFromChange decodes the row payload of a change into a normalized
// message. Deletes carry only the old row.
func eventFromChange(change backend.Change) (Event, bool) {
	raw := change.New
	if change.Type == backend.ChangeDelete {
		raw = change.Old
	}
	if len(raw) == 0 {
		return Event{}, false
	}

	var msg model.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Printf("chat: bad change record: %v", err)
		return Event{}, false
	}
	msg.Normalize()
	return Event{Type: change.Type, Message: msg}, true
}
