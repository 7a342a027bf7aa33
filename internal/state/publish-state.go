package state

import (
	"bytes"
	"sync"
	"time"
)

// PublishStateStore remembers what was last published per key so unchanged
// snapshots are only re-sent as heartbeats.
type PublishStateStore interface {
	GetLast(key string) ([]byte, time.Time, bool)
	Update(key string, fingerprint []byte)
	HasChanged(key string, fingerprint []byte) bool
	NeedsPublish(key string, fingerprint []byte, heartbeat time.Duration) bool
	Clear()
}

type publishStateStore struct {
	store     map[string][]byte
	heartbeat map[string]time.Time
	now       func() time.Time
	mu        sync.RWMutex
}

func NewPublishStateStore() PublishStateStore {
	return newPublishStateStore(time.Now)
}

func newPublishStateStore(now func() time.Time) *publishStateStore {
	return &publishStateStore{
		store:     make(map[string][]byte),
		heartbeat: make(map[string]time.Time),
		now:       now,
	}
}

func (s *publishStateStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store = make(map[string][]byte)
	s.heartbeat = make(map[string]time.Time)
}

func (s *publishStateStore) GetLast(key string) ([]byte, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fp, ok := s.store[key]
	sent, ok2 := s.heartbeat[key]
	return fp, sent, ok && ok2
}

func (s *publishStateStore) Update(key string, fingerprint []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store[key] = bytes.Clone(fingerprint)
	s.heartbeat[key] = s.now()
}

func (s *publishStateStore) HasChanged(key string, fingerprint []byte) bool {
	last, _, ok := s.GetLast(key)
	if !ok {
		return true
	}
	return !bytes.Equal(last, fingerprint)
}

// NeedsPublish is true when the fingerprint changed or, with heartbeat > 0,
// when the last publish is older than heartbeat.
func (s *publishStateStore) NeedsPublish(key string, fingerprint []byte, heartbeat time.Duration) bool {
	if s.HasChanged(key, fingerprint) {
		return true
	}
	if heartbeat <= 0 {
		return false
	}
	_, lastSent, _ := s.GetLast(key)
	return s.now().Sub(lastSent) > heartbeat
}
