package conversation

import (
	"bytes"
	"context"
	"testing"

	"github.com/dmitrijs2005/groupchat/internal/client/client"
	"github.com/dmitrijs2005/groupchat/internal/client/models"
	"github.com/dmitrijs2005/groupchat/internal/client/status"
	"github.com/dmitrijs2005/groupchat/internal/client/store"
	"github.com/dmitrijs2005/groupchat/internal/common"
	"github.com/dmitrijs2005/groupchat/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mutationHarness struct {
	c     *MutationCoordinator
	repo  *fakeMessages
	atts  *fakeAttachments
	blobs *fakeBlobs
	store *store.Store
	sm    *status.Machine
	sess  *Session
	gens  *generations
	log   *bytes.Buffer

	statuses   []models.Status
	streamOpen bool
}

func newMutationHarness(t *testing.T, policy SendPolicy, user string) *mutationHarness {
	t.Helper()
	h := &mutationHarness{
		repo:  &fakeMessages{},
		atts:  newFakeAttachments(),
		blobs: &fakeBlobs{},
		store: store.New(),
		sm:    status.New(),
		log:   &bytes.Buffer{},
	}
	h.gens, h.sess = newSession(t, 1)

	logger := logging.NewWithWriter(h.log, "debug", false)
	resolver := NewAttachmentResolver(h.atts, h.blobs, "chat", logger, NewMetrics(nil))
	h.c = NewMutationCoordinator(h.repo, h.atts, h.blobs, fakeIdentity{user: user},
		h.store, h.sm, resolver, "chat", policy, ImageOptions{MaxDimension: 64, Quality: 70},
		logger, NewMetrics(nil))
	h.c.streamOpen = func() bool { return h.streamOpen }
	h.c.compress = func(data []byte, maxDim, quality int) ([]byte, error) {
		return append([]byte("jpeg:"), data...), nil
	}
	h.c.newKey = func() string { return "k1" }

	h.sm.Watch(func(s models.Status) { h.statuses = append(h.statuses, s) })
	return h
}

func (h *mutationHarness) kinds() []models.StatusKind {
	out := make([]models.StatusKind, 0, len(h.statuses))
	for _, s := range h.statuses {
		out = append(out, s.Kind)
	}
	return out
}

func TestSendText_RejectsBlankWithoutIO(t *testing.T) {
	h := newMutationHarness(t, SendPolicyInsertOnAck, "alice")

	_, err := h.c.SendText(context.Background(), h.sess, "   \n", nil)
	require.ErrorIs(t, err, common.ErrEmptyContent)
	assert.Empty(t, h.repo.inserted)
	assert.Empty(t, h.statuses, "validation errors do not touch status")
}

func TestSendText_NotLoggedIn(t *testing.T) {
	h := newMutationHarness(t, SendPolicyInsertOnAck, "")

	_, err := h.c.SendText(context.Background(), h.sess, "hi", nil)
	require.ErrorIs(t, err, client.ErrUnauthorized)
	assert.Empty(t, h.repo.inserted)
	assert.Equal(t, []models.StatusKind{models.StatusError}, h.kinds())
}

func TestSendText_InsertOnAck(t *testing.T) {
	h := newMutationHarness(t, SendPolicyInsertOnAck, "alice")
	reply := int64(3)

	m, err := h.c.SendText(context.Background(), h.sess, "  hi  ", &reply)
	require.NoError(t, err)

	require.Len(t, h.repo.inserted, 1)
	assert.Equal(t, "alice", h.repo.inserted[0].SenderID)
	assert.Equal(t, "hi", *h.repo.inserted[0].Content)
	assert.Equal(t, &reply, h.repo.inserted[0].ReplyTo)

	got, ok := h.store.Get(m.ID)
	require.True(t, ok)
	assert.Equal(t, "hi", got.Text())
	assert.Equal(t, []models.StatusKind{models.StatusSending, models.StatusIdle}, h.kinds())
}

func TestSendText_EchoRaceYieldsOneEntry(t *testing.T) {
	for _, echoFirst := range []bool{true, false} {
		h := newMutationHarness(t, SendPolicyInsertOnAck, "alice")

		var echo models.Message
		if echoFirst {
			// The stream echo arrives before the insert returns.
			h.repo.nextID = 41
			echo = textMsg(42, 1, 42)
			echo.Content = models.StringPtr("hi")
			h.store.Prepend(echo)
		}

		m, err := h.c.SendText(context.Background(), h.sess, "hi", nil)
		require.NoError(t, err)

		if !echoFirst {
			h.store.Prepend(*m)
		}

		assert.Equal(t, 1, h.store.Len(), "echoFirst=%v", echoFirst)
	}
}

func TestSendText_AwaitStreamWhileOpen(t *testing.T) {
	h := newMutationHarness(t, SendPolicyAwaitStream, "alice")
	h.streamOpen = true

	_, err := h.c.SendText(context.Background(), h.sess, "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, h.store.Len(), "delivery is left to the stream")
}

func TestSendText_AwaitStreamFallsBackWhenStreamDown(t *testing.T) {
	h := newMutationHarness(t, SendPolicyAwaitStream, "alice")
	h.streamOpen = false

	m, err := h.c.SendText(context.Background(), h.sess, "hi", nil)
	require.NoError(t, err)

	_, ok := h.store.Get(m.ID)
	assert.True(t, ok, "the message must not vanish while the stream is down")
	assert.Equal(t, []models.StatusKind{models.StatusSending, models.StatusIdle}, h.kinds())
}

func TestSendText_BackendFailure(t *testing.T) {
	h := newMutationHarness(t, SendPolicyInsertOnAck, "alice")
	h.repo.insertErr = errBoom

	_, err := h.c.SendText(context.Background(), h.sess, "hi", nil)
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, 0, h.store.Len())
	assert.Equal(t, []models.StatusKind{models.StatusSending, models.StatusError}, h.kinds())
}

func TestSendImage_Pipeline(t *testing.T) {
	h := newMutationHarness(t, SendPolicyInsertOnAck, "alice")

	m, err := h.c.SendImage(context.Background(), h.sess, []byte("raw"), "look", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"chat/groups/1/k1.jpg"}, h.blobs.uploads)
	require.Len(t, h.repo.inserted, 1)
	assert.Equal(t, models.MessageTypeImage, h.repo.inserted[0].Type)
	assert.Equal(t, "look", *h.repo.inserted[0].Content)

	atts, _ := h.atts.ListByMessage(context.Background(), m.ID)
	require.Len(t, atts, 1)
	assert.Equal(t, "groups/1/k1.jpg", atts[0].FilePath)
	assert.Equal(t, "image/jpeg", atts[0].FileType)

	got, ok := h.store.Get(m.ID)
	require.True(t, ok)
	assert.Equal(t, "http://blobs.test/chat/groups/1/k1.jpg", got.ImageURL)

	var progress []float64
	for _, s := range h.statuses {
		if s.Kind == models.StatusUploadingImage {
			progress = append(progress, s.Progress)
		}
	}
	assert.Equal(t, []float64{0, 0.25, 0.5, 0.75}, progress)
	assert.Equal(t, models.StatusIdle, h.sm.Current().Kind)
}

func TestSendImage_EchoWithoutURLGetsPatched(t *testing.T) {
	h := newMutationHarness(t, SendPolicyAwaitStream, "alice")
	h.streamOpen = true

	echo := models.Message{ID: 1, GroupID: 1, SenderID: "alice", Type: models.MessageTypeImage, CreatedAt: t0.Add(1e9)}
	h.store.Prepend(echo)

	m, err := h.c.SendImage(context.Background(), h.sess, []byte("raw"), "", nil)
	require.NoError(t, err)
	require.EqualValues(t, 1, m.ID)

	got, _ := h.store.Get(1)
	assert.Equal(t, "http://blobs.test/chat/groups/1/k1.jpg", got.ImageURL)
	assert.Nil(t, h.repo.inserted[0].Content, "empty caption is stored as null")
}

func TestSendImage_UploadFailureAbortsPipeline(t *testing.T) {
	h := newMutationHarness(t, SendPolicyInsertOnAck, "alice")
	h.blobs.uploadErr = errBoom

	_, err := h.c.SendImage(context.Background(), h.sess, []byte("raw"), "", nil)
	require.ErrorIs(t, err, errBoom)
	assert.Empty(t, h.repo.inserted)
	assert.Equal(t, models.StatusError, h.sm.Current().Kind)
}

func TestSendImage_InsertFailureLogsOrphanedBlob(t *testing.T) {
	h := newMutationHarness(t, SendPolicyInsertOnAck, "alice")
	h.repo.insertErr = errBoom

	_, err := h.c.SendImage(context.Background(), h.sess, []byte("raw"), "", nil)
	require.ErrorIs(t, err, errBoom)
	assert.Len(t, h.blobs.uploads, 1)
	assert.Contains(t, h.log.String(), "orphaned blob")
	assert.Contains(t, h.log.String(), "groups/1/k1.jpg")
	assert.Equal(t, models.StatusError, h.sm.Current().Kind)
}

func TestSendImage_Validation(t *testing.T) {
	h := newMutationHarness(t, SendPolicyInsertOnAck, "alice")

	_, err := h.c.SendImage(context.Background(), h.sess, nil, "", nil)
	require.ErrorIs(t, err, ErrEmptyImage)

	long := bytes.Repeat([]byte("x"), models.MaxContentLength+1)
	_, err = h.c.SendImage(context.Background(), h.sess, []byte("raw"), string(long), nil)
	require.ErrorIs(t, err, common.ErrContentTooLong)

	assert.Empty(t, h.blobs.uploads)
	assert.Empty(t, h.statuses)
}

func TestEdit_PatchesInPlace(t *testing.T) {
	h := newMutationHarness(t, SendPolicyInsertOnAck, "alice")
	h.repo.seed(1, 9)
	page, err := h.repo.ListByGroup(context.Background(), 1, 0, 50)
	require.NoError(t, err)
	h.store.AppendPage(page)
	before := ids(h.store.Snapshot())

	require.NoError(t, h.c.Edit(context.Background(), h.sess, 7, "fixed"))

	got, ok := h.store.Get(7)
	require.True(t, ok)
	assert.Equal(t, "fixed", got.Text())
	assert.True(t, got.IsEdited)
	assert.Equal(t, before, ids(h.store.Snapshot()), "position unchanged")
	assert.Equal(t, []models.StatusKind{models.StatusLoading, models.StatusSuccess}, h.kinds())
	assert.Equal(t, "edited", h.sm.Current().Message)
}

func TestEdit_NotOwned(t *testing.T) {
	h := newMutationHarness(t, SendPolicyInsertOnAck, "bob")
	h.repo.seed(1, 1)

	err := h.c.Edit(context.Background(), h.sess, 1, "mine now")
	require.ErrorIs(t, err, common.ErrorNotFound)
	assert.Equal(t, models.StatusError, h.sm.Current().Kind)
}

func TestEdit_RejectsBlank(t *testing.T) {
	h := newMutationHarness(t, SendPolicyInsertOnAck, "alice")

	require.ErrorIs(t, h.c.Edit(context.Background(), h.sess, 1, ""), common.ErrEmptyContent)
	assert.Empty(t, h.statuses)
}

func TestDelete_AbsentLocallyIsNoop(t *testing.T) {
	h := newMutationHarness(t, SendPolicyInsertOnAck, "alice")
	h.store.Prepend(textMsg(1, 1, 1))

	require.NoError(t, h.c.Delete(context.Background(), h.sess, 42))
	assert.Equal(t, []int64{42}, h.repo.deleted)
	assert.Equal(t, 1, h.store.Len())
	assert.Equal(t, models.Status{Kind: models.StatusSuccess, Message: "deleted"}, h.sm.Current())
}

func TestDelete_RemovesFromStore(t *testing.T) {
	h := newMutationHarness(t, SendPolicyInsertOnAck, "alice")
	h.repo.seed(1, 2)
	h.store.Prepend(textMsg(1, 1, 1), textMsg(2, 1, 2))

	require.NoError(t, h.c.Delete(context.Background(), h.sess, 2))
	assert.Equal(t, []int64{1}, ids(h.store.Snapshot()))
}

func TestDelete_FailureKeepsLocalCopy(t *testing.T) {
	h := newMutationHarness(t, SendPolicyInsertOnAck, "alice")
	h.repo.deleteErr = errBoom
	h.store.Prepend(textMsg(1, 1, 1))

	require.ErrorIs(t, h.c.Delete(context.Background(), h.sess, 1), errBoom)
	assert.Equal(t, 1, h.store.Len())
	assert.Equal(t, []models.StatusKind{models.StatusLoading, models.StatusError}, h.kinds())
}

func TestMutations_StaleSessionLeavesStoreAlone(t *testing.T) {
	h := newMutationHarness(t, SendPolicyInsertOnAck, "alice")
	h.gens.end(h.sess)

	_, err := h.c.SendText(context.Background(), h.sess, "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, h.store.Len())
}

func TestParseSendPolicy(t *testing.T) {
	p, err := ParseSendPolicy("")
	require.NoError(t, err)
	assert.Equal(t, SendPolicyInsertOnAck, p)

	p, err = ParseSendPolicy("await_stream")
	require.NoError(t, err)
	assert.Equal(t, SendPolicyAwaitStream, p)

	_, err = ParseSendPolicy("optimistic")
	require.Error(t, err)
}
