// Package conversation keeps one ordered, de-duplicated view of a group's
// messages while history pages, live inserts and the user's own mutations
// change it concurrently.
//
// A Synchronizer owns the store, the status machine and the four
// collaborating components (pages, stream, attachments, mutations). Each
// Open starts a new Session; anything still running for an older session
// finishes, but its results are dropped.
package conversation

import (
	"context"
	"errors"
	"sync"

	"github.com/dmitrijs2005/groupchat/internal/client/client"
	"github.com/dmitrijs2005/groupchat/internal/client/models"
	"github.com/dmitrijs2005/groupchat/internal/client/status"
	"github.com/dmitrijs2005/groupchat/internal/client/store"
	"github.com/dmitrijs2005/groupchat/internal/logging"
	"golang.org/x/sync/errgroup"
)

var ErrNoConversation = errors.New("no conversation is open")

const defaultEnrichWorkers = 4

// Deps are the external collaborators.
type Deps struct {
	Messages    client.MessageRepository
	Attachments client.AttachmentRepository
	Feed        client.ChangeFeed
	Blobs       client.BlobStore
	Identity    client.Identity
}

type Options struct {
	PageSize      int
	Bucket        string
	SendPolicy    SendPolicy
	Image         ImageOptions
	EnrichWorkers int
}

type Synchronizer struct {
	store     *store.Store
	status    *status.Machine
	pages     *PageLoader
	stream    *StreamSubscriber
	resolver  *AttachmentResolver
	mutations *MutationCoordinator
	logger    logging.Logger
	metrics   *Metrics

	enrichWorkers int

	gens generations

	// openMu serializes Open and Close.
	openMu sync.Mutex

	mu   sync.RWMutex
	sess *Session
}

func New(deps Deps, opts Options, logger logging.Logger, metrics *Metrics) *Synchronizer {
	st := store.New()
	sm := status.New()

	s := &Synchronizer{
		store:         st,
		status:        sm,
		pages:         NewPageLoader(deps.Messages, st, sm, opts.PageSize, logger.With("component", "pages"), metrics),
		stream:        NewStreamSubscriber(deps.Feed, st, logger.With("component", "stream"), metrics),
		resolver:      NewAttachmentResolver(deps.Attachments, deps.Blobs, opts.Bucket, logger.With("component", "attachments"), metrics),
		logger:        logger,
		metrics:       metrics,
		enrichWorkers: opts.EnrichWorkers,
	}
	if s.enrichWorkers <= 0 {
		s.enrichWorkers = defaultEnrichWorkers
	}

	s.mutations = NewMutationCoordinator(
		deps.Messages, deps.Attachments, deps.Blobs, deps.Identity,
		st, sm, s.resolver, opts.Bucket, opts.SendPolicy, opts.Image,
		logger.With("component", "mutations"), metrics,
	)
	s.mutations.streamOpen = func() bool { return s.stream.State() == StreamOpen }

	s.pages.added = s.enqueueEnrichment
	s.stream.added = s.enqueueEnrichment
	s.mutations.added = s.enqueueEnrichment

	return s
}

func (s *Synchronizer) Store() *store.Store { return s.store }

func (s *Synchronizer) StatusMachine() *status.Machine { return s.status }

func (s *Synchronizer) Status() models.Status { return s.status.Current() }

func (s *Synchronizer) Messages() []models.Message { return s.store.Snapshot() }

func (s *Synchronizer) StreamState() StreamState { return s.stream.State() }

func (s *Synchronizer) HasMore() bool { return s.pages.HasMore() }

func (s *Synchronizer) SendPolicy() SendPolicy { return s.mutations.Policy() }

// Session returns the open session or nil.
func (s *Synchronizer) Session() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sess
}

func (s *Synchronizer) current() (*Session, error) {
	sess := s.Session()
	if sess == nil || !sess.Current() {
		return nil, ErrNoConversation
	}
	return sess, nil
}

// Open switches to groupID: the previous conversation is torn down, then the
// first page and the live stream are started in parallel. Only a first page
// failure is returned; the stream degrades silently.
func (s *Synchronizer) Open(ctx context.Context, groupID int64) error {
	s.openMu.Lock()
	defer s.openMu.Unlock()

	s.teardown()

	sess := s.gens.begin(ctx, groupID)
	s.mu.Lock()
	s.sess = sess
	s.mu.Unlock()

	s.logger.Info(ctx, "opening conversation", "group_id", groupID, "generation", sess.Generation())

	var g errgroup.Group
	g.Go(func() error {
		return s.pages.LoadFirst(ctx, sess)
	})
	g.Go(func() error {
		_ = s.stream.Open(ctx, sess)
		return nil
	})
	return g.Wait()
}

// Close ends the open conversation, if any.
func (s *Synchronizer) Close() {
	s.openMu.Lock()
	defer s.openMu.Unlock()

	s.teardown()
}

func (s *Synchronizer) teardown() {
	s.mu.Lock()
	prev := s.sess
	s.sess = nil
	s.mu.Unlock()

	s.gens.end(prev)
	s.stream.Close()
	s.pages.Reset()
	s.store.Reset()
	s.resolver.Forget()
	s.metrics.storeLen(0)
}

// LoadMore fetches the next older page; see PageLoader.LoadMore.
func (s *Synchronizer) LoadMore(ctx context.Context) (int, error) {
	sess, err := s.current()
	if err != nil {
		return 0, err
	}
	return s.pages.LoadMore(ctx, sess), nil
}

func (s *Synchronizer) SendText(ctx context.Context, content string, replyTo *int64) (*models.Message, error) {
	sess, err := s.current()
	if err != nil {
		return nil, err
	}
	return s.mutations.SendText(ctx, sess, content, replyTo)
}

func (s *Synchronizer) SendImage(ctx context.Context, image []byte, caption string, replyTo *int64) (*models.Message, error) {
	sess, err := s.current()
	if err != nil {
		return nil, err
	}
	return s.mutations.SendImage(ctx, sess, image, caption, replyTo)
}

func (s *Synchronizer) Edit(ctx context.Context, id int64, content string) error {
	sess, err := s.current()
	if err != nil {
		return err
	}
	return s.mutations.Edit(ctx, sess, id, content)
}

func (s *Synchronizer) Delete(ctx context.Context, id int64) error {
	sess, err := s.current()
	if err != nil {
		return err
	}
	return s.mutations.Delete(ctx, sess, id)
}

// Enrich resolves images for every held message still lacking a URL and
// waits for it. Cached lookups cost nothing, so calling it on each render is
// fine.
func (s *Synchronizer) Enrich(ctx context.Context) error {
	sess, err := s.current()
	if err != nil {
		return err
	}
	s.enrich(ctx, sess, s.store.Snapshot())
	return nil
}

func (s *Synchronizer) enqueueEnrichment(sess *Session, msgs []models.Message) {
	need := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.NeedsImage() {
			need = append(need, m)
		}
	}
	if len(need) == 0 {
		return
	}
	go s.enrich(sess.Context(), sess, need)
}

func (s *Synchronizer) enrich(ctx context.Context, sess *Session, msgs []models.Message) {
	g := new(errgroup.Group)
	g.SetLimit(s.enrichWorkers)

	for _, m := range msgs {
		m := m // per-iteration copy (go 1.21 loop semantics)
		if !m.NeedsImage() {
			continue
		}
		g.Go(func() error {
			if url, ok := s.resolver.Resolve(ctx, m); ok {
				sess.Apply(func() {
					s.store.Patch(m.ID, func(x *models.Message) { x.ImageURL = url })
				})
			}
			return nil
		})
	}
	_ = g.Wait()
}
