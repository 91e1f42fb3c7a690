package chat

import (
	"sync"

	"github.com/ndanh/guildchat/pkg/backend"
	"github.com/ndanh/guildchat/pkg/model"
)

// Timeline reconciles the three message sources of one channel view: the
// catch-up fetch, the live change feed and optimistic pending sends. It
// keeps the confirmed list duplicate-free by id and derives the pinned
// subset incrementally so it never drifts from the confirmed set.
//
// Events may arrive from the transport goroutine while the owner mutates
// pending entries, so every method locks.
type Timeline struct {
	mu        sync.RWMutex
	confirmed []model.Message
	pending   []model.Message
	pinned    []model.Message
}

func NewTimeline() *Timeline {
	return &Timeline{}
}

// SetHistory replaces the confirmed set with a fetched baseline and
// re-derives the pinned subset. Pending entries are kept.
func (t *Timeline) SetHistory(msgs []model.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.confirmed = make([]model.Message, len(msgs))
	copy(t.confirmed, msgs)
	t.pinned = t.pinned[:0]
	for _, m := range msgs {
		if m.Pinned {
			t.pinned = append(t.pinned, m)
		}
	}
}

// Apply folds one live event into the timeline.
func (t *Timeline) Apply(ev Event) {
	if ev.Type == backend.ChangeDelete {
		t.Remove(ev.Message.ID)
		return
	}
	t.Upsert(ev.Message)
}

// Upsert inserts msg, or replaces the entry with the same id in place.
// The pinned subset follows: pinned messages are added or updated there,
// unpinned ones removed.
func (t *Timeline) Upsert(msg model.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if i, ok := indexOf(t.confirmed, msg.ID); ok {
		t.confirmed[i] = msg
	} else {
		t.confirmed = append(t.confirmed, msg)
	}

	if msg.Pinned {
		if i, ok := indexOf(t.pinned, msg.ID); ok {
			t.pinned[i] = msg
		} else {
			t.pinned = append(t.pinned, msg)
		}
	} else if i, ok := indexOf(t.pinned, msg.ID); ok {
		t.pinned = append(t.pinned[:i], t.pinned[i+1:]...)
	}
}

// Remove drops the message with the given id from the confirmed and
// pinned sets. Unknown ids are a no-op.
func (t *Timeline) Remove(id model.MessageID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if i, ok := indexOf(t.confirmed, id); ok {
		t.confirmed = append(t.confirmed[:i], t.confirmed[i+1:]...)
	}
	if i, ok := indexOf(t.pinned, id); ok {
		t.pinned = append(t.pinned[:i], t.pinned[i+1:]...)
	}
}

// AddPending records an optimistic, not-yet-confirmed send. The id must
// be a temporary id.
func (t *Timeline) AddPending(msg model.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = append(t.pending, msg)
}

// RemovePending retires the pending entry with the given temporary id,
// whether the send succeeded (the confirmed copy arrives through the
// feed) or failed (the message vanishes). Reports whether an entry was
// removed.
func (t *Timeline) RemovePending(id model.MessageID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i, ok := indexOf(t.pending, id); ok {
		t.pending = append(t.pending[:i], t.pending[i+1:]...)
		return true
	}
	return false
}

// Messages returns the display list: confirmed messages in arrival order
// followed by pending ones.
func (t *Timeline) Messages() []model.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]model.Message, 0, len(t.confirmed)+len(t.pending))
	out = append(out, t.confirmed...)
	out = append(out, t.pending...)
	return out
}

// Pinned returns the pinned subset.
func (t *Timeline) Pinned() []model.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]model.Message, len(t.pinned))
	copy(out, t.pinned)
	return out
}

// PendingCount reports the number of in-flight optimistic sends.
func (t *Timeline) PendingCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.pending)
}

func indexOf(msgs []model.Message, id model.MessageID) (int, bool) {
	for i := range msgs {
		if msgs[i].ID == id {
			return i, true
		}
	}
	return 0, false
}
