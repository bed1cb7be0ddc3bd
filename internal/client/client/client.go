package client

import (
	"context"

	"github.com/dmitrijs2005/groupchat/internal/client/models"
)

// MessageRepository is the record query service for message rows.
type MessageRepository interface {
	// ListByGroup returns one window of a group's messages, newest first.
	ListByGroup(ctx context.Context, groupID int64, offset, limit int) ([]models.Message, error)
	// Insert stores a message and returns the canonical row.
	Insert(ctx context.Context, m models.NewMessage) (*models.Message, error)
	// UpdateContent edits a message owned by senderID and returns the new row.
	UpdateContent(ctx context.Context, id int64, senderID, content string) (*models.Message, error)
	// Delete removes a message owned by senderID together with its attachments.
	Delete(ctx context.Context, id int64, senderID string) error
}

// AttachmentRepository is the record query service for attachment rows.
type AttachmentRepository interface {
	ListByMessage(ctx context.Context, messageID int64) ([]models.Attachment, error)
	Insert(ctx context.Context, a models.Attachment) error
}

// ChangeFeed opens channels of row-insert events for one table.
type ChangeFeed interface {
	Subscribe(ctx context.Context, schema, table string) (Subscription, error)
}

// Subscription delivers raw record payloads until it fails or is closed.
// Events is closed when the subscription ends; Err then tells why (nil after
// Close).
type Subscription interface {
	Events() <-chan []byte
	Err() error
	Close() error
}

// BlobStore stores binary attachments.
type BlobStore interface {
	Upload(ctx context.Context, bucket, path string, data []byte, contentType string) error
	// PublicURL projects a stored path to a retrievable URL without any I/O.
	PublicURL(bucket, path string) string
}

// Identity tells who the current user is.
type Identity interface {
	CurrentUserID() (string, bool)
}
