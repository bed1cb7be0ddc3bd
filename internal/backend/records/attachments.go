package records

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/groupchat/internal/client/models"
	"github.com/dmitrijs2005/groupchat/internal/dbx"
)

// AttachmentRepository implements client.AttachmentRepository over a
// dbx.DBTX (*sql.DB or *sql.Tx).
type AttachmentRepository struct {
	db dbx.DBTX
}

func NewAttachmentRepository(db dbx.DBTX) *AttachmentRepository {
	return &AttachmentRepository{db: db}
}

// ListByMessage returns the attachments of a message in insertion order.
func (r *AttachmentRepository) ListByMessage(ctx context.Context, messageID int64) ([]models.Attachment, error) {
	query := `SELECT message_id, file_path, file_type FROM message_attachments
		WHERE message_id=$1
		ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to select attachments: %w", err)
	}
	defer rows.Close()

	var result []models.Attachment
	for rows.Next() {
		var a models.Attachment
		if err := rows.Scan(&a.MessageID, &a.FilePath, &a.FileType); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Insert stores an attachment row. Exactly one row must be affected.
func (r *AttachmentRepository) Insert(ctx context.Context, a models.Attachment) error {
	query := `INSERT INTO message_attachments (message_id, file_path, file_type) VALUES ($1, $2, $3)`

	res, err := r.db.ExecContext(ctx, query, a.MessageID, a.FilePath, a.FileType)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
	return nil
}
