package panel

import (
	"sync"
	"time"

	"github.com/fisaks/uhn-gripper/internal/logging"
)

// pulseScheduler runs one pending callback per key. Scheduling a key again
// replaces the pending callback.
type pulseScheduler struct {
	mu     sync.Mutex
	pulses map[string]*time.Timer
}

func newPulseScheduler() *pulseScheduler {
	return &pulseScheduler{pulses: make(map[string]*time.Timer)}
}

func (ps *pulseScheduler) Schedule(key string, delay time.Duration, fn func()) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if t, exists := ps.pulses[key]; exists {
		t.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		ps.mu.Lock()
		current := ps.pulses[key] == timer
		if current {
			delete(ps.pulses, key)
		}
		ps.mu.Unlock()
		if current {
			fn()
		}
	})
	ps.pulses[key] = timer
}

// Clear stops the pending callback for key. It reports whether one was pending.
func (ps *pulseScheduler) Clear(key string) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if t, exists := ps.pulses[key]; exists {
		t.Stop()
		delete(ps.pulses, key)
		return true
	}
	return false
}

func (ps *pulseScheduler) Pending(key string) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	_, ok := ps.pulses[key]
	return ok
}

func (ps *pulseScheduler) Stop() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for key, t := range ps.pulses {
		t.Stop()
		delete(ps.pulses, key)
	}
	logging.Debug("Pulse scheduler stopped")
}
