// Package records is the Postgres-backed record query service for messages
// and attachments. It talks database/sql over the pgx stdlib driver.
package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/groupchat/internal/client/models"
	"github.com/dmitrijs2005/groupchat/internal/common"
	"github.com/dmitrijs2005/groupchat/internal/dbx"
)

const messageColumns = `id, group_id, sender_id, content, message_type, reply_to, is_edited, created_at`

// MessageRepository implements client.MessageRepository.
type MessageRepository struct {
	db *sql.DB
}

func NewMessageRepository(db *sql.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var (
		m       models.Message
		kind    string
		content sql.NullString
		replyTo sql.NullInt64
	)
	if err := row.Scan(&m.ID, &m.GroupID, &m.SenderID, &content, &kind, &replyTo, &m.IsEdited, &m.CreatedAt); err != nil {
		return nil, err
	}

	m.Type = models.MessageType(kind)
	if !m.Type.Valid() {
		return nil, fmt.Errorf("%w: message %d has type %q", common.ErrorIncorrectRecord, m.ID, kind)
	}
	if content.Valid {
		m.Content = &content.String
	}
	if replyTo.Valid {
		m.ReplyTo = &replyTo.Int64
	}
	return &m, nil
}

// ListByGroup returns messages of groupID newest first, skipping offset rows
// and returning at most limit.
func (r *MessageRepository) ListByGroup(ctx context.Context, groupID int64, offset, limit int) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE group_id=$1
		ORDER BY created_at DESC, id DESC
		OFFSET $2 LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, groupID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select messages: %w", err)
	}
	defer rows.Close()

	result := make([]models.Message, 0, limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Insert stores a new message and returns the row as persisted.
func (r *MessageRepository) Insert(ctx context.Context, m models.NewMessage) (*models.Message, error) {
	query := `INSERT INTO messages (group_id, sender_id, content, message_type, reply_to)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + messageColumns

	row := r.db.QueryRowContext(ctx, query, m.GroupID, m.SenderID, nullString(m.Content), string(m.Type), nullInt64(m.ReplyTo))
	result, err := scanMessage(row)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}
	return result, nil
}

// UpdateContent replaces the text of a message sent by senderID and marks it
// edited. ErrorNotFound means no such message belongs to senderID.
func (r *MessageRepository) UpdateContent(ctx context.Context, id int64, senderID, content string) (*models.Message, error) {
	query := `UPDATE messages SET content=$1, is_edited=true
		WHERE id=$2 AND sender_id=$3
		RETURNING ` + messageColumns

	result, err := scanMessage(r.db.QueryRowContext(ctx, query, content, id, senderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update message: %w", err)
	}
	return result, nil
}

// Delete removes a message sent by senderID and its attachments in one
// transaction. Deleting a message that does not exist is not an error.
func (r *MessageRepository) Delete(ctx context.Context, id int64, senderID string) error {
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM message_attachments
			WHERE message_id IN (SELECT id FROM messages WHERE id=$1 AND sender_id=$2)`, id, senderID)
		if err != nil {
			return fmt.Errorf("failed to delete attachments: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id=$1 AND sender_id=$2`, id, senderID); err != nil {
			return fmt.Errorf("failed to delete message: %w", err)
		}
		return nil
	})
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
