package conversation

import (
	"context"
	"sync"
	"sync/atomic"
)

// Session identifies one opening of a conversation. Every async operation
// captures the Session it started under and merges its result through Apply,
// so results from a closed conversation are dropped.
type Session struct {
	groupID int64
	gen     uint64
	g       *generations

	ctx    context.Context
	cancel context.CancelFunc
}

func (s *Session) GroupID() int64 { return s.groupID }

func (s *Session) Generation() uint64 { return s.gen }

// Context is cancelled when the session ends.
func (s *Session) Context() context.Context { return s.ctx }

// Current reports whether s is still the open conversation.
func (s *Session) Current() bool {
	return s != nil && s.g.live.Load() == s.gen && s.ctx.Err() == nil
}

// Apply runs fn if s is current and reports whether it ran. The session
// cannot end while fn runs. fn must not call Apply.
func (s *Session) Apply(fn func()) bool {
	if s == nil {
		return false
	}
	s.g.guard.RLock()
	defer s.g.guard.RUnlock()

	if !s.Current() {
		return false
	}
	fn()
	return true
}

// generations hands out sessions. Each begin or end bumps the counter, which
// invalidates every session issued before.
type generations struct {
	live  atomic.Uint64
	guard sync.RWMutex
}

// begin starts a session for groupID. Its context keeps the values of parent
// but not its deadline, since the session outlives the call that opened it.
func (g *generations) begin(parent context.Context, groupID int64) *Session {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))

	g.guard.Lock()
	defer g.guard.Unlock()

	return &Session{
		groupID: groupID,
		gen:     g.live.Add(1),
		g:       g,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// end invalidates s. Once it returns no Apply of s is running or will run.
func (g *generations) end(s *Session) {
	if s == nil {
		return
	}
	g.guard.Lock()
	g.live.CompareAndSwap(s.gen, s.gen+1)
	g.guard.Unlock()

	s.cancel()
}
