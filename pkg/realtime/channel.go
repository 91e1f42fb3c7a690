package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ndanh/guildchat/pkg/backend"
)

type changeHandler struct {
	filter backend.ChangeFilter
	fn     func(backend.Change)
}

// channel is one joined topic on the transport. Join confirmation is
// asynchronous: Subscribe sends the handshake and the reply from the
// server flips the state to joined. Callers confirm via State.
type channel struct {
	client *Client
	topic  string

	mu       sync.Mutex
	state    backend.ChannelState
	joinRef  string
	handlers []changeHandler
}

func (ch *channel) Topic() string { return ch.topic }

func (ch *channel) State() backend.ChannelState {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

func (ch *channel) setState(s backend.ChannelState) {
	ch.mu.Lock()
	ch.state = s
	ch.mu.Unlock()
}

// OnChange registers fn for changes matching f. Must be called before
// Subscribe; the filter set is part of the join handshake.
func (ch *channel) OnChange(f backend.ChangeFilter, fn func(backend.Change)) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.handlers = append(ch.handlers, changeHandler{filter: f, fn: fn})
}

// Subscribe sends the join handshake carrying the registered change
// filters.
func (ch *channel) Subscribe(ctx context.Context) error {
	ch.mu.Lock()
	if ch.state == backend.ChannelJoined || ch.state == backend.ChannelJoining {
		ch.mu.Unlock()
		return fmt.Errorf("realtime: channel %s already %s", ch.topic, ch.state)
	}
	filters := make([]backend.ChangeFilter, 0, len(ch.handlers))
	for _, h := range ch.handlers {
		filters = append(filters, h.filter)
	}
	ch.state = backend.ChannelJoining
	ch.joinRef = uuid.NewString()
	ref := ch.joinRef
	ch.mu.Unlock()

	payload, err := json.Marshal(joinPayload{Config: joinConfig{PostgresChanges: filters}})
	if err != nil {
		return err
	}
	if err := ch.client.push(frame{Topic: ch.topic, Event: eventJoin, Ref: ref, Payload: payload}); err != nil {
		ch.setState(backend.ChannelErrored)
		return err
	}
	return nil
}

func (ch *channel) onReply(ref, status string) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ref != ch.joinRef || ch.state != backend.ChannelJoining {
		return
	}
	if status == "ok" {
		ch.state = backend.ChannelJoined
	} else {
		ch.state = backend.ChannelErrored
	}
}

// deliver fans a change out to every handler whose filter matches. The
// server already scoped rows to the joined filters, so matching here is
// only by table and event type.
func (ch *channel) deliver(change backend.Change) {
	ch.mu.Lock()
	if ch.state != backend.ChannelJoined {
		ch.mu.Unlock()
		return
	}
	handlers := make([]changeHandler, len(ch.handlers))
	copy(handlers, ch.handlers)
	ch.mu.Unlock()

	for _, h := range handlers {
		if h.filter.Table != "" && h.filter.Table != change.Table {
			continue
		}
		if h.filter.Event != backend.ChangeAll && h.filter.Event != change.Type {
			continue
		}
		h.fn(change)
	}
}

var _ backend.Channel = (*channel)(nil)
