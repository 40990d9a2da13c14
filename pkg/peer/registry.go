package peer

import (
	"net"
	"sync"

	"github.com/dbehnke/hbp-server/pkg/protocol"
)

// Registry is the authoritative table of inbound peer sessions, keyed by
// radio ID. One session per radio ID; a packet claiming a known ID from a
// different remote address is refused upstream.
type Registry struct {
	sessions map[uint32]*Session
	mu       sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[uint32]*Session),
	}
}

// Add creates and stores a session in LOGIN state for a radio ID. An
// existing session for the ID is replaced.
func (r *Registry) Add(id uint32, addr *net.UDPAddr, salt [protocol.SaltLength]byte) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := NewSession(id, addr, salt)
	r.sessions[id] = s
	return s
}

// Get retrieves a session by radio ID, nil when unknown
func (r *Registry) Get(id uint32) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// SameAddress reports whether the session for id is recorded at addr.
// Unknown IDs report false.
func (r *Registry) SameAddress(id uint32, addr *net.UDPAddr) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	return s.Address.IP.Equal(addr.IP) && s.Address.Port == addr.Port
}

// Remove deletes a session by radio ID and returns it, nil when unknown
func (r *Registry) Remove(id uint32) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.sessions[id]
	delete(r.sessions, id)
	return s
}

// All returns every session in the registry
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// Connected returns every session in the CONNECTED state
func (r *Registry) Connected() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.State() == StateConnected {
			sessions = append(sessions, s)
		}
	}
	return sessions
}

// Count returns the number of sessions
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
