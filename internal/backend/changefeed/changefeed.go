// Package changefeed is the Postgres implementation of the change-event
// channel service. Inserts into a table are published by a trigger with
// pg_notify on the channel "<schema>_<table>_insert", the payload being the
// row as JSON. A subscription holds one dedicated pgx connection that LISTENs
// on that channel.
package changefeed

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/groupchat/internal/client/client"
	"github.com/dmitrijs2005/groupchat/internal/logging"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// listener is the part of *pgx.Conn a subscription uses.
type listener interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// Feed implements client.ChangeFeed.
type Feed struct {
	connect func(ctx context.Context) (listener, error)
	logger  logging.Logger
	buffer  int
}

// NewFeed returns a feed that opens a new connection to dsn per subscription.
func NewFeed(dsn string, logger logging.Logger) *Feed {
	return &Feed{
		connect: func(ctx context.Context) (listener, error) {
			conn, err := pgx.Connect(ctx, dsn)
			if err != nil {
				return nil, err
			}
			return conn, nil
		},
		logger: logger,
		buffer: 64,
	}
}

// ChannelName returns the notification channel for inserts into schema.table.
func ChannelName(schema, table string) string {
	if schema == "" {
		schema = "public"
	}
	return schema + "_" + table + "_insert"
}

// Subscribe starts listening for inserts into schema.table. The subscription
// ends when ctx is cancelled, Close is called or the connection fails.
func (f *Feed) Subscribe(ctx context.Context, schema, table string) (client.Subscription, error) {
	if table == "" {
		return nil, errors.New("table name is required")
	}

	conn, err := f.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", client.ErrUnavailable, err)
	}

	channel := ChannelName(schema, table)
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("listen %s: %w", channel, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	s := &subscription{
		conn:   conn,
		events: make(chan []byte, f.buffer),
		cancel: cancel,
		done:   make(chan struct{}),
		logger: f.logger.With("channel", channel),
	}
	go s.run(subCtx)

	f.logger.Debug(ctx, "subscribed", "channel", channel)
	return s, nil
}

type subscription struct {
	conn   listener
	events chan []byte
	cancel context.CancelFunc
	done   chan struct{}
	logger logging.Logger

	mu     sync.Mutex
	err    error
	closed bool
}

func (s *subscription) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.events)
	defer func() { _ = s.conn.Close(context.Background()) }()

	for {
		n, err := s.conn.WaitForNotification(ctx)
		if err != nil {
			s.finish(ctx, err)
			return
		}

		select {
		case s.events <- []byte(n.Payload):
		case <-ctx.Done():
			s.finish(ctx, ctx.Err())
			return
		}
	}
}

// finish records why run stopped. A Close leaves err nil.
func (s *subscription) finish(ctx context.Context, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
	case ctx.Err() != nil:
		s.err = fmt.Errorf("%w: %w", client.ErrSubscriptionClosed, ctx.Err())
	default:
		s.err = fmt.Errorf("%w: wait for notification: %v", client.ErrUnavailable, err)
	}
}

func (s *subscription) Events() <-chan []byte {
	return s.events
}

// Err reports why the subscription ended; nil while it is running or after
// a regular Close. It matches client.ErrSubscriptionClosed when the context
// given to Subscribe ended and client.ErrUnavailable when the connection
// failed.
func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops listening and releases the connection. It waits for the
// reader goroutine to finish.
func (s *subscription) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	<-s.done
	return nil
}
