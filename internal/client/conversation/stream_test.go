package conversation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/dmitrijs2005/groupchat/internal/client/client"
	"github.com/dmitrijs2005/groupchat/internal/client/store"
	"github.com/dmitrijs2005/groupchat/internal/logging"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSubscriber(feed *fakeFeed) (*StreamSubscriber, *store.Store, *Metrics) {
	st := store.New()
	m := NewMetrics(nil)
	return NewStreamSubscriber(feed, st, logging.Discard(), m), st, m
}

func TestStream_PrependsEventsOfOwnGroup(t *testing.T) {
	feed := &fakeFeed{}
	s, st, m := newSubscriber(feed)
	_, sess := newSession(t, 1)

	require.NoError(t, s.Open(context.Background(), sess))
	require.Equal(t, StreamOpen, s.State())
	defer s.Close()

	sub := feed.last()
	sub.push(payload(t, textMsg(1, 1, 1)))
	sub.push(payload(t, textMsg(2, 2, 2)))
	sub.push([]byte(`{"id":"nope"}`))
	sub.push(payload(t, textMsg(3, 1, 3)))
	sub.push(payload(t, textMsg(3, 1, 3)))

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.events.WithLabelValues("duplicate")) == 1
	}, time.Second, time.Millisecond)

	assert.Equal(t, []int64{3, 1}, ids(st.Snapshot()))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues("applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("foreign")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("invalid")))
}

func TestStream_OpenTwiceIsNoop(t *testing.T) {
	feed := &fakeFeed{}
	s, _, _ := newSubscriber(feed)
	_, sess := newSession(t, 1)

	require.NoError(t, s.Open(context.Background(), sess))
	require.NoError(t, s.Open(context.Background(), sess))
	defer s.Close()

	assert.Equal(t, 1, feed.count())
}

func TestStream_NewSessionReplacesSubscription(t *testing.T) {
	feed := &fakeFeed{}
	s, _, _ := newSubscriber(feed)
	g, first := newSession(t, 1)

	require.NoError(t, s.Open(context.Background(), first))
	old := feed.last()

	g.end(first)
	second := g.begin(context.Background(), 2)
	require.NoError(t, s.Open(context.Background(), second))
	defer s.Close()

	assert.Equal(t, 2, feed.count())
	assert.True(t, old.closed())
	assert.Equal(t, StreamOpen, s.State())
}

func TestStream_SubscribeFailureDegrades(t *testing.T) {
	feed := &fakeFeed{subscribeErr: errBoom}
	s, _, _ := newSubscriber(feed)
	_, sess := newSession(t, 1)

	err := s.Open(context.Background(), sess)
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, StreamError, s.State())
}

func TestStream_FeedSideCloseIsNotAnError(t *testing.T) {
	feed := &fakeFeed{}
	s, _, _ := newSubscriber(feed)
	_, sess := newSession(t, 1)

	require.NoError(t, s.Open(context.Background(), sess))
	feed.last().fail(fmt.Errorf("%w: %w", client.ErrSubscriptionClosed, context.Canceled))

	require.Eventually(t, func() bool { return s.State() == StreamClosed }, time.Second, time.Millisecond)
	s.Close()
	assert.Equal(t, StreamClosed, s.State())
}

func TestStream_ConnectionLossDegrades(t *testing.T) {
	feed := &fakeFeed{}
	s, st, _ := newSubscriber(feed)
	_, sess := newSession(t, 1)

	require.NoError(t, s.Open(context.Background(), sess))
	feed.last().push(payload(t, textMsg(1, 1, 1)))
	feed.last().fail(errBoom)

	require.Eventually(t, func() bool { return s.State() == StreamError }, time.Second, time.Millisecond)
	assert.Equal(t, 1, st.Len())

	s.Close()
	assert.Equal(t, StreamClosed, s.State())
}

func TestStream_DropsEventsOfEndedSession(t *testing.T) {
	feed := &fakeFeed{}
	s, st, m := newSubscriber(feed)
	g, sess := newSession(t, 1)

	require.NoError(t, s.Open(context.Background(), sess))
	sub := feed.last()

	g.end(sess)
	sub.push(payload(t, textMsg(1, 1, 1)))

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.events.WithLabelValues("stale")) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, 0, st.Len())

	s.Close()
}

func TestStream_Close(t *testing.T) {
	feed := &fakeFeed{}
	s, _, _ := newSubscriber(feed)
	_, sess := newSession(t, 1)

	s.Close()
	assert.Equal(t, StreamClosed, s.State())

	require.NoError(t, s.Open(context.Background(), sess))
	s.Close()
	assert.Equal(t, StreamClosed, s.State())
	assert.True(t, feed.last().closed())
}

func TestStreamState_String(t *testing.T) {
	assert.Equal(t, "open", StreamOpen.String())
	assert.Equal(t, "StreamState(9)", StreamState(9).String())
}

func TestStream_OpenDoesNotOutwaitCaller(t *testing.T) {
	gate := make(chan struct{})
	feed := &fakeFeed{subscribeGate: gate}
	s, st, _ := newSubscriber(feed)
	_, sess := newSession(t, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := s.Open(ctx, sess)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StreamOpening, s.State())

	close(gate)
	require.Eventually(t, func() bool { return s.State() == StreamOpen }, time.Second, time.Millisecond)

	feed.last().push(payload(t, textMsg(1, 1, 1)))
	require.Eventually(t, func() bool { return st.Len() == 1 }, time.Second, time.Millisecond)

	s.Close()
}

func TestStream_SessionEndAbortsPendingSubscribe(t *testing.T) {
	feed := &fakeFeed{subscribeGate: make(chan struct{})}
	s, _, _ := newSubscriber(feed)
	g, sess := newSession(t, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_ = s.Open(ctx, sess)

	s.Close()
	g.end(sess)

	assert.Never(t, func() bool { return s.State() != StreamClosed }, 100*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, 0, feed.count())
}
