package source

import (
	"context"
	"time"

	"chatmon/pkg/models"
)

// MessageSource is the read-side view of the bridge's message log. The
// watcher only ever reads; the bridge owns all writes.
type MessageSource interface {
	// TaggedSince returns messages containing the tag whose timestamp is
	// strictly after since, oldest first.
	TaggedSince(ctx context.Context, tag string, since time.Time) ([]models.Message, error)
	// ChatSince returns messages in one chat strictly after since, newest
	// first, bounded to a small window.
	ChatSince(ctx context.Context, chatID string, since time.Time) ([]models.Message, error)
	// Context returns up to n messages preceding before in the chat,
	// oldest first.
	Context(ctx context.Context, chatID string, before time.Time, n int) ([]models.Message, error)
}
