// Package status holds the synchronization status the UI binds to. Exactly
// one status holds at a time. Terminal states (success, error) stay until the
// UI acknowledges them, so every terminal state is observable exactly once.
package status

import (
	"sync"

	"github.com/dmitrijs2005/groupchat/internal/client/models"
)

type Machine struct {
	mu       sync.Mutex
	current  models.Status
	watchers map[int]func(models.Status)
	nextID   int
}

func New() *Machine {
	return &Machine{
		current:  models.Status{Kind: models.StatusIdle},
		watchers: make(map[int]func(models.Status)),
	}
}

func (m *Machine) Current() models.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Set replaces the current status and notifies watchers.
func (m *Machine) Set(s models.Status) {
	m.mu.Lock()
	fns := m.swap(s)
	m.mu.Unlock()

	notify(fns, s)
}

// swap must be called with mu held. It returns the watchers to notify.
func (m *Machine) swap(s models.Status) []func(models.Status) {
	m.current = s
	fns := make([]func(models.Status), 0, len(m.watchers))
	for _, fn := range m.watchers {
		fns = append(fns, fn)
	}
	return fns
}

func notify(fns []func(models.Status), s models.Status) {
	for _, fn := range fns {
		fn(s)
	}
}

func (m *Machine) Idle()    { m.Set(models.Status{Kind: models.StatusIdle}) }
func (m *Machine) Loading() { m.Set(models.Status{Kind: models.StatusLoading}) }
func (m *Machine) Sending() { m.Set(models.Status{Kind: models.StatusSending}) }

// Uploading reports image-send progress, clamped to [0, 1].
func (m *Machine) Uploading(progress float64) {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	m.Set(models.Status{Kind: models.StatusUploadingImage, Progress: progress})
}

func (m *Machine) Succeed(msg string) {
	m.Set(models.Status{Kind: models.StatusSuccess, Message: msg})
}

func (m *Machine) Fail(msg string) {
	m.Set(models.Status{Kind: models.StatusError, Message: msg})
}

// Acknowledge is called by the UI once it has shown a terminal status. It
// returns that status and moves back to idle. For non-terminal states it
// returns false and changes nothing.
func (m *Machine) Acknowledge() (models.Status, bool) {
	m.mu.Lock()
	s := m.current
	if !s.IsTerminal() {
		m.mu.Unlock()
		return s, false
	}
	idle := models.Status{Kind: models.StatusIdle}
	fns := m.swap(idle)
	m.mu.Unlock()

	notify(fns, idle)
	return s, true
}

// Watch registers fn to be called after every transition. fn runs on the
// goroutine that caused the transition and must not block.
func (m *Machine) Watch(fn func(models.Status)) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.watchers[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.watchers, id)
	}
}
