package backend

import (
	"context"
	"encoding/json"
)

type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
	ChangeAll    ChangeType = "*"
)

// ChangeFilter scopes a change subscription to one table slice.
type ChangeFilter struct {
	Event  ChangeType `json:"event"`
	Schema string     `json:"schema"`
	Table  string     `json:"table"`
	Filter string     `json:"filter,omitempty"` // e.g. "channel_id=eq.5"
}

// Change is one row mutation pushed by the backend. New is empty for
// deletes, Old is empty for inserts.
type Change struct {
	Type  ChangeType      `json:"type"`
	Table string          `json:"table"`
	New   json.RawMessage `json:"record,omitempty"`
	Old   json.RawMessage `json:"old_record,omitempty"`
}

type ChannelState string

const (
	ChannelClosed  ChannelState = "closed"
	ChannelJoining ChannelState = "joining"
	ChannelJoined  ChannelState = "joined"
	ChannelErrored ChannelState = "errored"
)

// Channel is one topic-scoped feed on the realtime transport. Handlers
// must be registered before Subscribe; Subscribe sends the join handshake
// but confirmation is observed through State.
type Channel interface {
	Topic() string
	OnChange(f ChangeFilter, fn func(Change))
	Subscribe(ctx context.Context) error
	State() ChannelState
}

type ConnState string

const (
	ConnDisconnected ConnState = "disconnected"
	ConnConnecting   ConnState = "connecting"
	ConnConnected    ConnState = "connected"
)

// Realtime is the backend's pub/sub transport. SetAuth attaches a bearer
// token for the lifetime of the connection; AccessToken reports the token
// currently attached ("" when none). Connect is idempotent once the
// transport is up. RemoveChannel leaves the topic and releases the
// channel; passing an unknown or already-removed channel is a no-op.
type Realtime interface {
	SetAuth(token string)
	AccessToken() string
	Connect(ctx context.Context) error
	State() ConnState
	Channel(topic string) Channel
	RemoveChannel(ctx context.Context, ch Channel) error
}
