package chat

import "errors"

var (
	// ErrUnauthenticated is returned when a mutating operation is
	// attempted without a valid session.
	ErrUnauthenticated = errors.New("chat: not logged in")

	// ErrEmptyMessage is returned for a send with no content and no
	// attachment.
	ErrEmptyMessage = errors.New("chat: message needs content or an attachment")

	// ErrAttachmentUpload is returned when the object upload fails; the
	// message row is never inserted in that case.
	ErrAttachmentUpload = errors.New("chat: attachment upload failed")

	// ErrSendFailed is returned when the row insert fails. An already
	// uploaded attachment is orphaned, not rolled back.
	ErrSendFailed = errors.New("chat: send failed")

	// ErrFetchFailed is returned when the history load fails; callers
	// should treat the channel history as unknown.
	ErrFetchFailed = errors.New("chat: fetch failed")

	// ErrSubscriptionFailed is returned once the subscribe attempt
	// ceiling is exhausted; live updates will not arrive.
	ErrSubscriptionFailed = errors.New("chat: subscribe failed after retries")
)
