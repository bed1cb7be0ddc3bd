// Package store keeps the ordered, deduplicated set of messages of the open
// conversation. It is the single source of truth the UI renders.
//
// Messages live in an arena keyed by ID; a separate index slice holds the IDs
// newest first (CreatedAt descending, ties by ID descending). Every public
// method runs under one mutex and never blocks on I/O, so producers (page
// loads, the live stream, local mutations) can not interleave mid-update.
package store

import (
	"errors"
	"sort"
	"sync"

	"github.com/dmitrijs2005/groupchat/internal/client/models"
)

// ErrMissingID is returned for messages the backend has not acknowledged yet.
var ErrMissingID = errors.New("message has no id")

type Store struct {
	mu      sync.Mutex
	byID    map[int64]*models.Message
	order   []int64
	updates chan struct{}
}

func New() *Store {
	return &Store{
		byID:    make(map[int64]*models.Message),
		updates: make(chan struct{}, 1),
	}
}

// Updates signals after any change. Signals are coalesced: a reader that
// falls behind sees one pending signal, then reads Snapshot.
func (s *Store) Updates() <-chan struct{} {
	return s.updates
}

func (s *Store) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// searchPos returns the first index whose message is not newer than m.
func (s *Store) searchPos(m *models.Message) int {
	return sort.Search(len(s.order), func(i int) bool {
		return !s.byID[s.order[i]].NewerThan(*m)
	})
}

func (s *Store) insertSorted(m *models.Message) {
	s.byID[m.ID] = m
	i := s.searchPos(m)
	s.order = append(s.order, 0)
	copy(s.order[i+1:], s.order[i:])
	s.order[i] = m.ID
}

func (s *Store) indexOf(id int64) int {
	m, ok := s.byID[id]
	if !ok {
		return -1
	}
	i := s.searchPos(m)
	if i < len(s.order) && s.order[i] == id {
		return i
	}
	// unreachable while the index is consistent
	for j, v := range s.order {
		if v == id {
			return j
		}
	}
	return -1
}

func (s *Store) removeAt(i int) {
	delete(s.byID, s.order[i])
	s.order = append(s.order[:i], s.order[i+1:]...)
}

// Upsert inserts m when its ID is new and replaces the stored copy otherwise.
// A replacement without an ImageURL keeps the one already resolved.
func (s *Store) Upsert(m models.Message) error {
	if !m.HasID() {
		return ErrMissingID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.byID[m.ID]; ok {
		if m.ImageURL == "" {
			m.ImageURL = old.ImageURL
		}
		if old.CreatedAt.Equal(m.CreatedAt) {
			*old = m
			s.notify()
			return nil
		}
		s.removeAt(s.indexOf(m.ID))
	}

	s.insertSorted(&m)
	s.notify()
	return nil
}

// Remove deletes the message with the given ID. It reports whether anything
// was removed.
func (s *Store) Remove(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return false
	}
	s.removeAt(i)
	s.notify()
	return true
}

// Prepend admits messages delivered by the live stream. IDs already present
// (a local send that was reconciled first, or a repeated delivery) are
// dropped. It returns the messages actually added.
func (s *Store) Prepend(msgs ...models.Message) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	var added []models.Message
	for _, m := range msgs {
		m := m // per-iteration copy (go 1.21 loop semantics)
		if !m.HasID() {
			continue
		}
		if _, ok := s.byID[m.ID]; ok {
			continue
		}
		s.insertSorted(&m)
		added = append(added, m)
	}

	if len(added) > 0 {
		s.notify()
	}
	return added
}

// AppendPage admits a history page. Pages are expected to be strictly older
// than everything held; in that case they are appended without searching.
// Overlapping IDs are dropped, and a page that is not strictly older is
// merged message by message at the sorted position.
func (s *Store) AppendPage(msgs []models.Message) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	page := make([]models.Message, 0, len(msgs))
	seen := make(map[int64]struct{}, len(msgs))
	for _, m := range msgs {
		if !m.HasID() {
			continue
		}
		if _, dup := s.byID[m.ID]; dup {
			continue
		}
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		page = append(page, m)
	}
	if len(page) == 0 {
		return nil
	}

	sort.SliceStable(page, func(i, j int) bool { return page[i].NewerThan(page[j]) })

	strictlyOlder := len(s.order) == 0 || s.byID[s.order[len(s.order)-1]].NewerThan(page[0])
	for i := range page {
		m := page[i]
		if strictlyOlder {
			s.byID[m.ID] = &m
			s.order = append(s.order, m.ID)
		} else {
			s.insertSorted(&m)
		}
	}

	s.notify()
	return page
}

// Patch applies fn to the stored message in place. fn must not change ID or
// CreatedAt. It reports whether the message was found.
func (s *Store) Patch(id int64, fn func(m *models.Message)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok {
		return false
	}
	keepID, keepCreated := m.ID, m.CreatedAt
	fn(m)
	m.ID, m.CreatedAt = keepID, keepCreated
	s.notify()
	return true
}

// Get returns a copy of the message with the given ID.
func (s *Store) Get(id int64) (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok {
		return models.Message{}, false
	}
	return *m, true
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Snapshot returns copies of all messages, newest first.
func (s *Store) Snapshot() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Message, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.byID[id])
	}
	return out
}

// Reset drops every message.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byID = make(map[int64]*models.Message)
	s.order = nil
	s.notify()
}
