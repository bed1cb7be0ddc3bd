package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/groupchat/internal/backend/records"
	"github.com/dmitrijs2005/groupchat/internal/client/client"
	"github.com/dmitrijs2005/groupchat/internal/client/models"
	"github.com/dmitrijs2005/groupchat/internal/client/store"
	"github.com/dmitrijs2005/groupchat/internal/common"
	"github.com/dmitrijs2005/groupchat/internal/logging"
)

type StreamState int

const (
	StreamClosed StreamState = iota
	StreamOpening
	StreamOpen
	StreamError
)

func (s StreamState) String() string {
	switch s {
	case StreamClosed:
		return "closed"
	case StreamOpening:
		return "opening"
	case StreamOpen:
		return "open"
	case StreamError:
		return "error"
	default:
		return fmt.Sprintf("StreamState(%d)", int(s))
	}
}

// StreamSubscriber keeps one live insert subscription for the open
// conversation and prepends delivered messages to the store. It never
// reports to the status machine: a broken stream only means no live
// updates.
type StreamSubscriber struct {
	feed    client.ChangeFeed
	store   *store.Store
	logger  logging.Logger
	metrics *Metrics
	decode  func([]byte) (models.Message, error)

	added func(sess *Session, msgs []models.Message)

	mu    sync.Mutex
	state StreamState
	gen   uint64
	sub   client.Subscription
	done  chan struct{}
}

func NewStreamSubscriber(feed client.ChangeFeed, st *store.Store, logger logging.Logger, metrics *Metrics) *StreamSubscriber {
	return &StreamSubscriber{
		feed:    feed,
		store:   st,
		logger:  logger,
		metrics: metrics,
		decode:  records.DecodeMessage,
	}
}

func (s *StreamSubscriber) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Open subscribes for sess. It is a no-op while a subscription for the same
// session is opening or open; a subscription of an older session is closed
// first. The subscription itself lives on the session context; ctx only
// bounds how long Open waits for it. When ctx ends first the state stays
// Opening and settles once the feed answers. The returned error is
// informational.
func (s *StreamSubscriber) Open(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	if s.gen == sess.Generation() && (s.state == StreamOpening || s.state == StreamOpen) {
		s.mu.Unlock()
		return nil
	}
	prev, prevDone := s.sub, s.done
	s.sub, s.done = nil, nil
	s.state = StreamOpening
	s.gen = sess.Generation()
	s.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
		<-prevDone
	}

	settled := make(chan error, 1)
	go func() {
		sub, err := s.feed.Subscribe(sess.Context(), common.MessagesSchema, common.MessagesTable)
		settled <- s.settle(sess, sub, err)
	}()

	select {
	case err := <-settled:
		return err
	case <-ctx.Done():
		s.logger.Warn(ctx, "live updates still connecting", "group_id", sess.GroupID(), "err", ctx.Err())
		return ctx.Err()
	}
}

// settle records the outcome of a Subscribe started by Open.
func (s *StreamSubscriber) settle(sess *Session, sub client.Subscription, err error) error {
	ctx := sess.Context()

	if err != nil {
		s.mu.Lock()
		current := s.gen == sess.Generation()
		if current {
			s.state = StreamError
		}
		s.mu.Unlock()
		if current {
			s.logger.Warn(ctx, "live updates unavailable", "group_id", sess.GroupID(), "err", err)
		}
		return fmt.Errorf("subscribe: %w", err)
	}

	s.mu.Lock()
	if s.gen != sess.Generation() || !sess.Current() {
		s.mu.Unlock()
		_ = sub.Close()
		return nil
	}
	done := make(chan struct{})
	s.sub = sub
	s.done = done
	s.state = StreamOpen
	s.mu.Unlock()

	go s.consume(sess, sub, done)

	s.logger.Debug(ctx, "live updates open", "group_id", sess.GroupID())
	return nil
}

func (s *StreamSubscriber) consume(sess *Session, sub client.Subscription, done chan struct{}) {
	defer close(done)

	ctx := sess.Context()
	for payload := range sub.Events() {
		s.apply(ctx, sess, payload)
	}

	err := sub.Err()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != sess.Generation() || s.sub != sub {
		return
	}
	switch {
	case err == nil:
		s.state = StreamClosed
	case errors.Is(err, client.ErrSubscriptionClosed):
		s.logger.Info(ctx, "live updates closed by feed", "group_id", sess.GroupID(), "err", err)
		s.state = StreamClosed
	default:
		s.logger.Warn(ctx, "live updates stopped", "group_id", sess.GroupID(), "err", err)
		s.state = StreamError
	}
	s.sub = nil
}

func (s *StreamSubscriber) apply(ctx context.Context, sess *Session, payload []byte) {
	msg, err := s.decode(payload)
	if err != nil {
		s.metrics.event("invalid")
		s.logger.Warn(ctx, "discarding change event", "err", err)
		return
	}
	if msg.GroupID != sess.GroupID() {
		s.metrics.event("foreign")
		return
	}
	var added []models.Message
	if !sess.Apply(func() { added = s.store.Prepend(msg) }) {
		s.metrics.event("stale")
		return
	}
	if len(added) == 0 {
		s.metrics.event("duplicate")
		return
	}
	s.metrics.event("applied")
	s.metrics.storeLen(s.store.Len())

	if s.added != nil {
		s.added(sess, added)
	}
}

// Close ends the current subscription, if any, and waits for its consumer.
func (s *StreamSubscriber) Close() {
	s.mu.Lock()
	sub, done := s.sub, s.done
	s.sub, s.done = nil, nil
	s.gen = 0
	s.state = StreamClosed
	s.mu.Unlock()

	if sub == nil {
		return
	}
	_ = sub.Close()
	<-done
}
