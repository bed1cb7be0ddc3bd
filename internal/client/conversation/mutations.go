package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/groupchat/internal/client/client"
	"github.com/dmitrijs2005/groupchat/internal/client/models"
	"github.com/dmitrijs2005/groupchat/internal/client/status"
	"github.com/dmitrijs2005/groupchat/internal/client/store"
	"github.com/dmitrijs2005/groupchat/internal/common"
	"github.com/dmitrijs2005/groupchat/internal/imagex"
	"github.com/dmitrijs2005/groupchat/internal/logging"
	"github.com/google/uuid"
)

// SendPolicy decides how a sent message reaches the local store.
type SendPolicy string

const (
	// SendPolicyInsertOnAck upserts the row returned by the insert. The stream
	// echo carries the same ID and is dropped as a duplicate.
	SendPolicyInsertOnAck SendPolicy = "insert_on_ack"
	// SendPolicyAwaitStream leaves delivery to the live stream while it is
	// open and falls back to insert-on-ack otherwise.
	SendPolicyAwaitStream SendPolicy = "await_stream"
)

func ParseSendPolicy(s string) (SendPolicy, error) {
	switch p := SendPolicy(s); p {
	case SendPolicyInsertOnAck, SendPolicyAwaitStream:
		return p, nil
	case "":
		return SendPolicyInsertOnAck, nil
	default:
		return "", fmt.Errorf("unknown send policy %q", s)
	}
}

var ErrEmptyImage = errors.New("image is empty")

// ImageOptions controls image compression before upload.
type ImageOptions struct {
	MaxDimension int
	Quality      int
}

// MutationCoordinator runs send, edit and delete against the backend and
// applies the confirmed result locally.
type MutationCoordinator struct {
	messages    client.MessageRepository
	attachments client.AttachmentRepository
	blobs       client.BlobStore
	identity    client.Identity

	store    *store.Store
	status   *status.Machine
	resolver *AttachmentResolver
	logger   logging.Logger
	metrics  *Metrics

	bucket     string
	policy     SendPolicy
	image      ImageOptions
	streamOpen func() bool

	compress func(data []byte, maxDim, quality int) ([]byte, error)
	newKey   func() string

	added func(sess *Session, msgs []models.Message)
}

func NewMutationCoordinator(
	messages client.MessageRepository,
	attachments client.AttachmentRepository,
	blobs client.BlobStore,
	identity client.Identity,
	st *store.Store,
	sm *status.Machine,
	resolver *AttachmentResolver,
	bucket string,
	policy SendPolicy,
	image ImageOptions,
	logger logging.Logger,
	metrics *Metrics,
) *MutationCoordinator {
	if policy == "" {
		policy = SendPolicyInsertOnAck
	}
	return &MutationCoordinator{
		messages:    messages,
		attachments: attachments,
		blobs:       blobs,
		identity:    identity,
		store:       st,
		status:      sm,
		resolver:    resolver,
		logger:      logger,
		metrics:     metrics,
		bucket:      bucket,
		policy:      policy,
		image:       image,
		streamOpen:  func() bool { return false },
		compress:    imagex.Compress,
		newKey:      uuid.NewString,
	}
}

func (c *MutationCoordinator) Policy() SendPolicy { return c.policy }

func (c *MutationCoordinator) currentUser() (string, error) {
	userID, ok := c.identity.CurrentUserID()
	if !ok {
		c.status.Fail("not logged in")
		return "", client.ErrUnauthorized
	}
	return userID, nil
}

func (c *MutationCoordinator) fail(ctx context.Context, op string, err error, msg string, args ...any) error {
	c.metrics.mutation(op, err)
	c.logger.Error(ctx, op+" failed", append(args, "err", err)...)
	c.status.Fail(fmt.Sprintf("%s: %v", msg, err))
	return fmt.Errorf("%s: %w", op, err)
}

// reconcile puts an acknowledged row into the store according to the policy.
func (c *MutationCoordinator) reconcile(sess *Session, m *models.Message) {
	if m == nil || !m.HasID() || m.GroupID != sess.GroupID() {
		return
	}

	if c.policy == SendPolicyAwaitStream && c.streamOpen() {
		if m.ImageURL != "" {
			sess.Apply(func() {
				c.store.Patch(m.ID, func(x *models.Message) { x.ImageURL = m.ImageURL })
			})
		}
		return
	}

	var inserted bool
	sess.Apply(func() {
		_, existed := c.store.Get(m.ID)
		inserted = c.store.Upsert(*m) == nil && !existed
	})
	c.metrics.storeLen(c.store.Len())

	if inserted && c.added != nil {
		c.added(sess, []models.Message{*m})
	}
}

// SendText posts a text message. Blank or oversized content is rejected
// without a network call or status change.
func (c *MutationCoordinator) SendText(ctx context.Context, sess *Session, content string, replyTo *int64) (*models.Message, error) {
	content, err := models.ValidateContent(content)
	if err != nil {
		return nil, err
	}
	userID, err := c.currentUser()
	if err != nil {
		return nil, err
	}

	c.status.Sending()

	m, err := c.messages.Insert(ctx, models.NewMessage{
		GroupID:  sess.GroupID(),
		SenderID: userID,
		Type:     models.MessageTypeText,
		Content:  &content,
		ReplyTo:  replyTo,
	})
	if err != nil {
		return nil, c.fail(ctx, "send_text", err, "could not send message", "group_id", sess.GroupID())
	}

	c.reconcile(sess, m)
	c.metrics.mutation("send_text", nil)
	c.status.Idle()
	return m, nil
}

// SendImage compresses and uploads image, then records the message and its
// attachment. A failure after the upload leaves the blob in place.
func (c *MutationCoordinator) SendImage(ctx context.Context, sess *Session, image []byte, caption string, replyTo *int64) (*models.Message, error) {
	if len(image) == 0 {
		return nil, ErrEmptyImage
	}
	var content *string
	if models.StringPtr(caption) != nil {
		text, err := models.ValidateContent(caption)
		if err != nil {
			return nil, err
		}
		content = &text
	}
	userID, err := c.currentUser()
	if err != nil {
		return nil, err
	}

	c.status.Uploading(0)

	data, err := c.compress(image, c.image.MaxDimension, c.image.Quality)
	if err != nil {
		return nil, c.fail(ctx, "send_image", err, "could not process image", "group_id", sess.GroupID())
	}
	c.status.Uploading(0.25)

	path := fmt.Sprintf("groups/%d/%s.jpg", sess.GroupID(), c.newKey())
	if err := c.blobs.Upload(ctx, c.bucket, path, data, imagex.ContentType); err != nil {
		return nil, c.fail(ctx, "send_image", err, "could not upload image", "group_id", sess.GroupID(), "path", path)
	}
	c.status.Uploading(0.5)

	m, err := c.messages.Insert(ctx, models.NewMessage{
		GroupID:  sess.GroupID(),
		SenderID: userID,
		Type:     models.MessageTypeImage,
		Content:  content,
		ReplyTo:  replyTo,
	})
	if err != nil {
		c.logger.Warn(ctx, "orphaned blob", "bucket", c.bucket, "path", path)
		return nil, c.fail(ctx, "send_image", err, "could not send image", "group_id", sess.GroupID())
	}
	c.status.Uploading(0.75)

	if err := c.attachments.Insert(ctx, models.Attachment{
		MessageID: m.ID,
		FilePath:  path,
		FileType:  imagex.ContentType,
	}); err != nil {
		c.logger.Warn(ctx, "orphaned blob", "bucket", c.bucket, "path", path, "message_id", m.ID)
		return nil, c.fail(ctx, "send_image", err, "could not attach image", "message_id", m.ID)
	}

	m.ImageURL = c.blobs.PublicURL(c.bucket, path)
	if c.resolver != nil {
		c.resolver.Remember(m.ID, m.ImageURL)
	}

	c.reconcile(sess, m)
	// The stream echo may have landed first, without the URL.
	sess.Apply(func() {
		c.store.Patch(m.ID, func(x *models.Message) { x.ImageURL = m.ImageURL })
	})

	c.metrics.mutation("send_image", nil)
	c.status.Idle()
	return m, nil
}

// Edit replaces the content of one of the user's messages and patches the
// local copy in place.
func (c *MutationCoordinator) Edit(ctx context.Context, sess *Session, id int64, content string) error {
	content, err := models.ValidateContent(content)
	if err != nil {
		return err
	}
	userID, err := c.currentUser()
	if err != nil {
		return err
	}

	c.status.Loading()

	updated, err := c.messages.UpdateContent(ctx, id, userID, content)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return c.fail(ctx, "edit", err, "message not found or not yours", "message_id", id)
		}
		return c.fail(ctx, "edit", err, "could not edit message", "message_id", id)
	}

	newContent := &content
	if updated != nil {
		newContent = updated.Content
	}
	sess.Apply(func() {
		c.store.Patch(id, func(m *models.Message) {
			m.Content = newContent
			m.IsEdited = true
		})
	})

	c.metrics.mutation("edit", nil)
	c.status.Succeed("edited")
	return nil
}

// Delete removes one of the user's messages. Removing a message the store
// does not hold is not an error.
func (c *MutationCoordinator) Delete(ctx context.Context, sess *Session, id int64) error {
	userID, err := c.currentUser()
	if err != nil {
		return err
	}

	c.status.Loading()

	if err := c.messages.Delete(ctx, id, userID); err != nil {
		return c.fail(ctx, "delete", err, "could not delete message", "message_id", id)
	}

	sess.Apply(func() { c.store.Remove(id) })
	c.metrics.storeLen(c.store.Len())

	c.metrics.mutation("delete", nil)
	c.status.Succeed("deleted")
	return nil
}
