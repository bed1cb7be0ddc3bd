// Package models defines the chat records the synchronizer works with.
package models

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dmitrijs2005/groupchat/internal/common"
)

// MessageType classifies a message.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
)

// MaxContentLength bounds message text in characters.
const MaxContentLength = 4000

// Inserts are published with pg_notify as row_to_json of the row, and the
// payload must stay under 8000 bytes. MaxEncodedContentBytes bounds the
// content as a JSON string; MaxSenderIDBytes keeps the rest of the row well
// inside the remaining room.
const (
	MaxEncodedContentBytes = 7000
	MaxSenderIDBytes       = 255
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	return t == MessageTypeText || t == MessageTypeImage
}

// Message is one row of a group conversation.
type Message struct {
	// ID is assigned by the backend; zero means not yet acknowledged.
	ID        int64
	GroupID   int64
	SenderID  string
	Type      MessageType
	Content   *string
	ReplyTo   *int64
	IsEdited  bool
	CreatedAt time.Time

	// ImageURL is filled in locally once the attachment is resolved.
	ImageURL string
}

func (m Message) HasID() bool {
	return m.ID != 0
}

// Text returns the content or "" for image-only messages.
func (m Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// NeedsImage reports whether the message is an image still lacking a URL.
func (m Message) NeedsImage() bool {
	return m.Type == MessageTypeImage && m.ImageURL == ""
}

// NewerThan implements the store ordering: later CreatedAt first, then the
// larger ID.
func (m Message) NewerThan(o Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.After(o.CreatedAt)
	}
	return m.ID > o.ID
}

// NewMessage is the insert shape of a message.
type NewMessage struct {
	GroupID  int64
	SenderID string
	Type     MessageType
	Content  *string
	ReplyTo  *int64
}

// Attachment links an image message to its blob.
type Attachment struct {
	MessageID int64
	FilePath  string
	FileType  string
}

// ValidateContent trims content and checks it is non-blank, within
// MaxContentLength characters and within MaxEncodedContentBytes once encoded.
func ValidateContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", common.ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return "", common.ErrContentTooLong
	}
	if EncodedLen(content) > MaxEncodedContentBytes {
		return "", common.ErrContentTooLong
	}
	return content, nil
}

// EncodedLen returns the size of s as a JSON string the way Postgres
// row_to_json writes it: quoted, short escapes for quote, backslash and
// \b \f \n \r \t, \u00XX for other control bytes, everything else verbatim.
func EncodedLen(s string) int {
	n := 2
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '"' || c == '\\' || c == '\b' || c == '\f' || c == '\n' || c == '\r' || c == '\t':
			n += 2
		case c < 0x20:
			n += 6
		default:
			n++
		}
	}
	return n
}

// StringPtr returns a pointer to s, or nil when s is blank.
func StringPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
