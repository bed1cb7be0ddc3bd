package records

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/groupchat/internal/client/models"
	"github.com/dmitrijs2005/groupchat/internal/common"
	"github.com/go-playground/validator/v10"
)

// MessageRecord is the typed projection of a message row as carried by
// change events (row_to_json of the messages table).
type MessageRecord struct {
	ID          int64     `json:"id" validate:"required,gt=0"`
	GroupID     int64     `json:"group_id" validate:"required,gt=0"`
	SenderID    string    `json:"sender_id" validate:"required"`
	Content     *string   `json:"content"`
	MessageType string    `json:"message_type" validate:"required,oneof=text image"`
	ReplyTo     *int64    `json:"reply_to" validate:"omitempty,gt=0"`
	IsEdited    bool      `json:"is_edited"`
	CreatedAt   time.Time `json:"created_at" validate:"required"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// DecodeMessage decodes and validates a message payload. Unknown fields are
// ignored so added columns do not break live subscribers.
func DecodeMessage(payload []byte) (models.Message, error) {
	var rec MessageRecord

	if err := json.NewDecoder(bytes.NewReader(payload)).Decode(&rec); err != nil {
		return models.Message{}, fmt.Errorf("%w: %v", common.ErrorIncorrectRecord, err)
	}
	if err := validate.Struct(rec); err != nil {
		return models.Message{}, fmt.Errorf("%w: %v", common.ErrorIncorrectRecord, err)
	}

	return rec.Message(), nil
}

// Message converts the projection to the client model.
func (r MessageRecord) Message() models.Message {
	return models.Message{
		ID:        r.ID,
		GroupID:   r.GroupID,
		SenderID:  r.SenderID,
		Type:      models.MessageType(r.MessageType),
		Content:   r.Content,
		ReplyTo:   r.ReplyTo,
		IsEdited:  r.IsEdited,
		CreatedAt: r.CreatedAt,
	}
}
