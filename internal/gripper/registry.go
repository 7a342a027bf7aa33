package gripper

import (
	"slices"
	"sync"
	"time"
)

// Session is one addressed gripper on the bus.
type Session struct {
	ID          uint8
	Link        SerialLinkConfig
	IO          RegisterIO
	Connected   bool
	ConnectedAt time.Time
}

// Registry maps device ids to sessions. Every operation on a device id is
// serialized through that id's lock; different ids never block each other.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uint8]*Session
	locks    map[uint8]*sync.Mutex
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[uint8]*Session),
		locks:    make(map[uint8]*sync.Mutex),
	}
}

// Lock acquires the per-device lock and returns its release func.
// Locks live for the process lifetime so a disconnect never races a pending move.
func (r *Registry) Lock(id uint8) (unlock func()) {
	r.mu.Lock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	r.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Get returns a copy of the session for id.
func (r *Registry) Get(id uint8) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

func (r *Registry) put(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

func (r *Registry) remove(id uint8) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	return ok
}

// IDs lists connected device ids in ascending order.
func (r *Registry) IDs() []uint8 {
	r.mu.RLock()
	ids := make([]uint8, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
