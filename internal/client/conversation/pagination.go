package conversation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/groupchat/internal/client/client"
	"github.com/dmitrijs2005/groupchat/internal/client/models"
	"github.com/dmitrijs2005/groupchat/internal/client/status"
	"github.com/dmitrijs2005/groupchat/internal/client/store"
	"github.com/dmitrijs2005/groupchat/internal/common"
	"github.com/dmitrijs2005/groupchat/internal/logging"
)

// PageLoader walks a conversation's history newest first with offset/limit
// windows of a fixed size.
type PageLoader struct {
	repo     client.MessageRepository
	store    *store.Store
	status   *status.Machine
	logger   logging.Logger
	metrics  *Metrics
	pageSize int

	// added is called with the messages each merge actually inserted.
	added func(sess *Session, msgs []models.Message)

	mu      sync.Mutex
	started bool
	hasMore bool

	loading atomic.Bool
}

func NewPageLoader(repo client.MessageRepository, st *store.Store, sm *status.Machine, pageSize int, logger logging.Logger, metrics *Metrics) *PageLoader {
	if pageSize <= 0 {
		pageSize = common.DefaultPageSize
	}
	return &PageLoader{
		repo:     repo,
		store:    st,
		status:   sm,
		logger:   logger,
		metrics:  metrics,
		pageSize: pageSize,
	}
}

func (p *PageLoader) PageSize() int { return p.pageSize }

func (p *PageLoader) HasMore() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasMore
}

// Offset is where the next older window starts: the number of held
// messages. The store holds the newest contiguous run of the group's
// history, so stream inserts, own sends and own deletes move the cursor
// exactly as they move the server's window.
func (p *PageLoader) Offset() int {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()

	if !started {
		return 0
	}
	return p.store.Len()
}

// Reset discards the cursor.
func (p *PageLoader) Reset() {
	p.mu.Lock()
	p.started = false
	p.hasMore = false
	p.mu.Unlock()
}

func (p *PageLoader) fetch(ctx context.Context, sess *Session, kind string, offset int) ([]models.Message, error) {
	start := time.Now()
	page, err := p.repo.ListByGroup(ctx, sess.GroupID(), offset, p.pageSize)
	p.metrics.pageLoaded(kind, time.Since(start).Seconds(), err)
	return page, err
}

// LoadFirst fetches the newest page. A failure here is a hard error: the
// status goes to Error and the error is returned.
func (p *PageLoader) LoadFirst(ctx context.Context, sess *Session) error {
	p.status.Loading()

	page, err := p.fetch(ctx, sess, "first", 0)
	if err != nil {
		if !sess.Current() {
			return nil
		}
		p.logger.Error(ctx, "first page load failed", "group_id", sess.GroupID(), "err", err)
		p.status.Fail(fmt.Sprintf("could not load messages: %v", err))
		return fmt.Errorf("load first page of group %d: %w", sess.GroupID(), err)
	}

	var added []models.Message
	merged := sess.Apply(func() {
		added = p.store.AppendPage(page)

		p.mu.Lock()
		p.started = true
		p.hasMore = len(page) == p.pageSize
		p.mu.Unlock()
	})
	if !merged {
		p.logger.Debug(ctx, "dropping stale first page", "group_id", sess.GroupID())
		return nil
	}

	p.metrics.storeLen(p.store.Len())
	p.status.Idle()

	p.logger.Debug(ctx, "first page loaded", "group_id", sess.GroupID(), "count", len(page))
	if p.added != nil && len(added) > 0 {
		p.added(sess, added)
	}
	return nil
}

// LoadMore fetches the next older page and reports how many messages were
// added. It is a no-op while another LoadMore is in flight or when the last
// page was short. Failures are logged and leave HasMore true so the caller
// can retry.
func (p *PageLoader) LoadMore(ctx context.Context, sess *Session) int {
	if !p.HasMore() {
		return 0
	}
	if !p.loading.CompareAndSwap(false, true) {
		return 0
	}
	defer p.loading.Store(false)

	offset := p.Offset()

	page, err := p.fetch(ctx, sess, "more", offset)
	if err != nil {
		p.logger.Warn(ctx, "load more failed", "group_id", sess.GroupID(), "offset", offset, "err", err)
		sess.Apply(func() {
			p.mu.Lock()
			p.hasMore = true
			p.mu.Unlock()
		})
		return 0
	}

	var added []models.Message
	merged := sess.Apply(func() {
		added = p.store.AppendPage(page)

		p.mu.Lock()
		p.hasMore = len(page) == p.pageSize
		p.mu.Unlock()
	})
	if !merged {
		p.logger.Debug(ctx, "dropping stale page", "group_id", sess.GroupID(), "offset", offset)
		return 0
	}

	p.metrics.storeLen(p.store.Len())

	p.logger.Debug(ctx, "page loaded", "group_id", sess.GroupID(), "offset", offset, "count", len(page), "added", len(added))
	if p.added != nil && len(added) > 0 {
		p.added(sess, added)
	}
	return len(added)
}
