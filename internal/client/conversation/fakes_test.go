package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/groupchat/internal/client/client"
	"github.com/dmitrijs2005/groupchat/internal/client/models"
	"github.com/dmitrijs2005/groupchat/internal/common"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

var errBoom = errors.New("boom")

func textMsg(id, group int64, sec int) models.Message {
	return models.Message{
		ID:        id,
		GroupID:   group,
		SenderID:  "alice",
		Type:      models.MessageTypeText,
		Content:   models.StringPtr("m"),
		CreatedAt: t0.Add(time.Duration(sec) * time.Second),
	}
}

func ids(msgs []models.Message) []int64 {
	out := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

// payload renders m the way the insert trigger does.
func payload(t *testing.T, m models.Message) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"id":           m.ID,
		"group_id":     m.GroupID,
		"sender_id":    m.SenderID,
		"content":      m.Content,
		"message_type": string(m.Type),
		"reply_to":     m.ReplyTo,
		"is_edited":    m.IsEdited,
		"created_at":   m.CreatedAt.Format(time.RFC3339Nano),
	})
	require.NoError(t, err)
	return b
}

// fakeMessages is an in-memory record query service.
type fakeMessages struct {
	mu     sync.Mutex
	rows   []models.Message
	nextID int64

	listCalls atomic.Int32
	listGate  chan struct{}
	listErr   error

	insertErr error
	updateErr error
	deleteErr error

	inserted []models.NewMessage
	deleted  []int64
}

// seed adds n text messages to group, one second apart, ids continuing from
// the last one.
func (f *fakeMessages) seed(group int64, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i < n; i++ {
		f.nextID++
		f.rows = append(f.rows, textMsg(f.nextID, group, int(f.nextID)))
	}
}

func (f *fakeMessages) ListByGroup(ctx context.Context, groupID int64, offset, limit int) ([]models.Message, error) {
	f.listCalls.Add(1)
	if f.listGate != nil {
		select {
		case <-f.listGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}

	var out []models.Message
	for _, m := range f.rows {
		if m.GroupID == groupID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NewerThan(out[j]) })

	if offset >= len(out) {
		return []models.Message{}, nil
	}
	end := min(offset+limit, len(out))
	return append([]models.Message(nil), out[offset:end]...), nil
}

func (f *fakeMessages) Insert(ctx context.Context, nm models.NewMessage) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	f.nextID++
	m := models.Message{
		ID:        f.nextID,
		GroupID:   nm.GroupID,
		SenderID:  nm.SenderID,
		Type:      nm.Type,
		Content:   nm.Content,
		ReplyTo:   nm.ReplyTo,
		CreatedAt: t0.Add(time.Duration(f.nextID) * time.Second),
	}
	f.rows = append(f.rows, m)
	f.inserted = append(f.inserted, nm)
	return &m, nil
}

func (f *fakeMessages) UpdateContent(ctx context.Context, id int64, senderID, content string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	for i := range f.rows {
		if f.rows[i].ID == id && f.rows[i].SenderID == senderID {
			f.rows[i].Content = &content
			f.rows[i].IsEdited = true
			m := f.rows[i]
			return &m, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeMessages) Delete(ctx context.Context, id int64, senderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	for i := range f.rows {
		if f.rows[i].ID == id && f.rows[i].SenderID == senderID {
			f.rows = append(f.rows[:i], f.rows[i+1:]...)
			break
		}
	}
	return nil
}

type fakeAttachments struct {
	mu   sync.Mutex
	rows map[int64][]models.Attachment

	listCalls atomic.Int32
	listGate  chan struct{}
	listErr   error
	insertErr error
}

func newFakeAttachments() *fakeAttachments {
	return &fakeAttachments{rows: make(map[int64][]models.Attachment)}
}

func (f *fakeAttachments) ListByMessage(ctx context.Context, messageID int64) ([]models.Attachment, error) {
	f.listCalls.Add(1)
	if f.listGate != nil {
		select {
		case <-f.listGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]models.Attachment(nil), f.rows[messageID]...), nil
}

func (f *fakeAttachments) Insert(ctx context.Context, a models.Attachment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.rows[a.MessageID] = append(f.rows[a.MessageID], a)
	return nil
}

type fakeBlobs struct {
	mu        sync.Mutex
	uploads   []string
	uploadErr error
}

func (f *fakeBlobs) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.uploads = append(f.uploads, bucket+"/"+path)
	return nil
}

func (f *fakeBlobs) PublicURL(bucket, path string) string {
	return "http://blobs.test/" + bucket + "/" + path
}

type fakeIdentity struct{ user string }

func (f fakeIdentity) CurrentUserID() (string, bool) { return f.user, f.user != "" }

// fakeFeed hands out fakeSubs and remembers them.
type fakeFeed struct {
	mu           sync.Mutex
	subs         []*fakeSub
	subscribeErr error

	// subscribeGate, when set, holds Subscribe until it is closed or ctx ends.
	subscribeGate chan struct{}
}

func (f *fakeFeed) Subscribe(ctx context.Context, schema, table string) (client.Subscription, error) {
	if f.subscribeGate != nil {
		select {
		case <-f.subscribeGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	s := &fakeSub{events: make(chan []byte, 16)}
	f.subs = append(f.subs, s)
	return s, nil
}

func (f *fakeFeed) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeFeed) last() *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.subs) == 0 {
		return nil
	}
	return f.subs[len(f.subs)-1]
}

type fakeSub struct {
	mu     sync.Mutex
	events chan []byte
	ended  bool
	err    error
}

func (s *fakeSub) push(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.events <- b
	}
}

func (s *fakeSub) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.err = err
		s.ended = true
		close(s.events)
	}
}

func (s *fakeSub) Events() <-chan []byte { return s.events }

func (s *fakeSub) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeSub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.ended = true
		close(s.events)
	}
	return nil
}

func (s *fakeSub) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}
