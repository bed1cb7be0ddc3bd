package conversation

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/dmitrijs2005/groupchat/internal/client/client"
	"github.com/dmitrijs2005/groupchat/internal/client/models"
	"github.com/dmitrijs2005/groupchat/internal/logging"
	"golang.org/x/sync/singleflight"
)

// DefaultLookupTimeout bounds one attachment lookup. Lookups are shared by
// every caller asking for the same message, so they run detached from any
// single caller's context.
const DefaultLookupTimeout = 10 * time.Second

// DefaultNegativeGrace is how old a message must be before "no attachment"
// is cached for it. Image rows are inserted before their attachment row, so
// a fresh message may simply not have it yet.
const DefaultNegativeGrace = 30 * time.Second

// AttachmentResolver maps image messages to public URLs. Lookups are cached
// per message ID, including the "no attachment" answer; failures are not.
type AttachmentResolver struct {
	repo    client.AttachmentRepository
	blobs   client.BlobStore
	bucket  string
	logger  logging.Logger
	metrics *Metrics

	negativeGrace time.Duration
	lookupTimeout time.Duration
	now           func() time.Time

	group singleflight.Group

	mu    sync.RWMutex
	cache map[int64]string
	epoch uint64
}

func NewAttachmentResolver(repo client.AttachmentRepository, blobs client.BlobStore, bucket string, logger logging.Logger, metrics *Metrics) *AttachmentResolver {
	return &AttachmentResolver{
		repo:    repo,
		blobs:   blobs,
		bucket:  bucket,
		logger:  logger,
		metrics: metrics,
		cache:   make(map[int64]string),

		negativeGrace: DefaultNegativeGrace,
		lookupTimeout: DefaultLookupTimeout,
		now:           time.Now,
	}
}

// Remember caches a URL known without a lookup, e.g. right after an upload.
func (r *AttachmentResolver) Remember(id int64, url string) {
	r.mu.Lock()
	r.cache[id] = url
	r.mu.Unlock()
}

// Cached returns the cached URL for id. found is true when a lookup for id
// already completed, even if it found no attachment.
func (r *AttachmentResolver) Cached(id int64) (url string, found bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	url, found = r.cache[id]
	return url, found
}

// Forget drops the cache. Lookups still in flight are not cached.
func (r *AttachmentResolver) Forget() {
	r.mu.Lock()
	r.cache = make(map[int64]string)
	r.epoch++
	r.mu.Unlock()
}

// Resolve returns the image URL of msg. ok is false when the message has no
// attachment, the lookup failed or ctx ended first; failures are logged only.
// A caller giving up does not cancel the lookup for the others sharing it.
func (r *AttachmentResolver) Resolve(ctx context.Context, msg models.Message) (string, bool) {
	if url, found := r.Cached(msg.ID); found {
		r.metrics.attachment("hit")
		return url, url != ""
	}

	ch := r.group.DoChan(strconv.FormatInt(msg.ID, 10), func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.lookupTimeout)
		defer cancel()
		return r.lookup(lookupCtx, msg)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			r.logger.Warn(ctx, "attachment lookup failed", "message_id", msg.ID, "err", res.Err)
			return "", false
		}
		url := res.Val.(string)
		return url, url != ""
	case <-ctx.Done():
		r.logger.Debug(ctx, "attachment lookup abandoned", "message_id", msg.ID, "err", ctx.Err())
		return "", false
	}
}

func (r *AttachmentResolver) lookup(ctx context.Context, msg models.Message) (string, error) {
	id := msg.ID
	// Another flight may have finished between the cache check and here.
	if url, found := r.Cached(id); found {
		r.metrics.attachment("hit")
		return url, nil
	}

	r.mu.RLock()
	epoch := r.epoch
	r.mu.RUnlock()

	atts, err := r.repo.ListByMessage(ctx, id)
	if err != nil {
		r.metrics.attachment("error")
		return "", err
	}

	var url string
	if len(atts) > 0 {
		url = r.blobs.PublicURL(r.bucket, atts[0].FilePath)
		r.metrics.attachment("resolved")
	} else {
		r.metrics.attachment("none")
		if r.now().Sub(msg.CreatedAt) < r.negativeGrace {
			return "", nil
		}
	}

	r.mu.Lock()
	if r.epoch == epoch {
		r.cache[id] = url
	}
	r.mu.Unlock()

	return url, nil
}
