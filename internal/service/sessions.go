package service

import "sync"

// SessionRegistry enforces the one-active-session-per-device rule with
// an atomic check-and-set. It is injected rather than package-level so
// orchestrator instances in tests do not leak state into each other.
type SessionRegistry struct {
	mu     sync.Mutex
	active map[string]string
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{active: make(map[string]string)}
}

// Acquire claims the device for sessionID. Returns false when another
// session already holds it.
func (r *SessionRegistry) Acquire(deviceID, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.active[deviceID]; busy {
		return false
	}
	r.active[deviceID] = sessionID
	return true
}

func (r *SessionRegistry) Release(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, deviceID)
}

func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
