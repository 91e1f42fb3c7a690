// Package chat is the realtime message layer: request/response operations
// against the backend row store (Service), the live change-feed
// subscription protocol (Manager) and the client-side reconciliation of
// both into one timeline (Timeline).
package chat

import (
	"context"
	"fmt"
	"io"

	"github.com/ndanh/guildchat/pkg/backend"
	"github.com/ndanh/guildchat/pkg/ident"
	"github.com/ndanh/guildchat/pkg/model"
)

// AttachmentBucket is the storage bucket holding message attachments.
const AttachmentBucket = "attachments"

const messagesTable = "messages"

// Attachment is a file handed to SendMessage. Name is only used for
// diagnostics; the storage key is generated.
type Attachment struct {
	Name string
	Body io.Reader
}

// Service owns the one-shot message operations. All methods are safe for
// concurrent use.
type Service struct {
	rows     backend.Rows
	objects  backend.Objects
	sessions backend.Sessions
	ids      *ident.Generator
}

func NewService(rows backend.Rows, objects backend.Objects, sessions backend.Sessions) *Service {
	return &Service{rows: rows, objects: objects, sessions: sessions, ids: ident.New()}
}

// SendMessage uploads the attachment (if any) and inserts the message
// row. The author is always the session user. The returned message has
// the server-assigned id and normalized attachments.
func (s *Service) SendMessage(ctx context.Context, channelID int64, content string, att *Attachment) (*model.Message, error) {
	session, err := s.sessions.Session(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if !session.Valid() {
		return nil, ErrUnauthenticated
	}
	if content == "" && att == nil {
		return nil, ErrEmptyMessage
	}

	// Upload before insert so a failed upload never leaves a row
	// pointing at a missing object.
	var attachmentKey any
	if att != nil {
		key := s.ids.AttachmentKey()
		if err := s.objects.Upload(ctx, AttachmentBucket, key, att.Body); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrAttachmentUpload, att.Name, err)
		}
		attachmentKey = key
	}

	record := map[string]any{
		"channel_id":  channelID,
		"content":     content,
		"author_id":   session.UserID,
		"attachments": attachmentKey,
	}

	var msg model.Message
	if err := s.rows.Insert(ctx, messagesTable, record, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	msg.Normalize()
	return &msg, nil
}

// FetchMessages returns the channel history ordered by created_at
// ascending, ties broken by id ascending.
func (s *Service) FetchMessages(ctx context.Context, channelID int64) ([]model.Message, error) {
	q := backend.Where("channel_id", channelID).
		OrderAsc("created_at").
		OrderAsc("id")

	var msgs []model.Message
	if err := s.rows.Select(ctx, messagesTable, q, &msgs); err != nil {
		return nil, fmt.Errorf("%w: channel %d: %v", ErrFetchFailed, channelID, err)
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	for i := range msgs {
		msgs[i].Normalize()
	}
	return msgs, nil
}

// TogglePinned sets the pinned flag unconditionally and returns the
// updated row. Repeated toggles to the same value are accepted.
func (s *Service) TogglePinned(ctx context.Context, messageID int64, pinned bool) (*model.Message, error) {
	var msg model.Message
	patch := map[string]any{"pinned": pinned}
	if err := s.rows.Update(ctx, messagesTable, patch, backend.Where("id", messageID), &msg); err != nil {
		return nil, fmt.Errorf("chat: toggle pinned on %d: %w", messageID, err)
	}
	msg.Normalize()
	return &msg, nil
}

// ResolveChannel looks a channel up by name within a guild. Channel names
// are the de-facto external reference; duplicate names within a guild are
// unsupported and rejected by the zero-or-one select.
func (s *Service) ResolveChannel(ctx context.Context, guildID int64, name string) (*model.Channel, bool, error) {
	q := backend.Where("guild_id", guildID).Where("name", name)
	var ch model.Channel
	found, err := s.rows.MaybeSingle(ctx, "channels", q, &ch)
	if err != nil || !found {
		return nil, false, err
	}
	return &ch, true, nil
}

// AttachmentURL resolves a stored attachment key to its public URL.
func (s *Service) AttachmentURL(key string) string {
	return s.objects.PublicURL(AttachmentBucket, key)
}
