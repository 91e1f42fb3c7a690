package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TempIDPrefix marks client-assigned message ids that have not been
// persisted yet. Server ids are numeric, so the two spaces never collide.
const TempIDPrefix = "temp-"

// MessageID is either a server-assigned numeric id or a client-side
// temporary id of the form "temp-<unix-millis>".
type MessageID string

func (id MessageID) IsTemp() bool {
	return strings.HasPrefix(string(id), TempIDPrefix)
}

// Numeric returns the server-assigned id, or false for temporary ids.
func (id MessageID) Numeric() (int64, bool) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (id MessageID) String() string { return string(id) }

// MarshalJSON emits numeric ids as JSON numbers so the wire shape matches
// what the backend stores; temporary ids stay strings.
func (id MessageID) MarshalJSON() ([]byte, error) {
	if n, ok := id.Numeric(); ok {
		return []byte(strconv.FormatInt(n, 10)), nil
	}
	return json.Marshal(string(id))
}

func (id *MessageID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = MessageID(s)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("message id: %w", err)
	}
	*id = MessageID(strconv.FormatInt(n, 10))
	return nil
}

// AttachmentList holds the storage-object keys of a message. The backend
// stores a single nullable reference, so the wire value may be a string,
// an array, or null; decoding normalizes all three to a list.
type AttachmentList []string

func (a *AttachmentList) UnmarshalJSON(data []byte) error {
	switch {
	case string(data) == "null":
		*a = AttachmentList{}
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*a = AttachmentList{}
		} else {
			*a = AttachmentList{s}
		}
		return nil
	default:
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		if list == nil {
			list = []string{}
		}
		*a = AttachmentList(list)
		return nil
	}
}

func (a AttachmentList) MarshalJSON() ([]byte, error) {
	if a == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(a))
}

// Message is one chat message in a channel.
type Message struct {
	ID          MessageID      `json:"id"`
	ChannelID   int64          `json:"channel_id"`
	AuthorID    string         `json:"author_id"`
	Content     string         `json:"content"`
	CreatedAt   time.Time      `json:"created_at"`
	Pinned      bool           `json:"pinned"`
	Attachments AttachmentList `json:"attachments"`
}

// Normalize guarantees Attachments is a non-nil list. Applied after every
// backend read and write so the ambiguous wire shape never leaks inward.
func (m *Message) Normalize() {
	if m.Attachments == nil {
		m.Attachments = AttachmentList{}
	}
}

// Before reports whether m sorts ahead of other in display order:
// created_at ascending, ties broken by id ascending.
func (m *Message) Before(other *Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	a, aok := m.ID.Numeric()
	b, bok := other.ID.Numeric()
	if aok && bok {
		return a < b
	}
	return m.ID < other.ID
}
