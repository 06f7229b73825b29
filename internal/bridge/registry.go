package bridge

import (
	"context"
	"sync"

	"github.com/KremlinV1/11Wire-sub002/internal/observe"
)

// Registry tracks the active sessions by call sid. It is mutated only on
// session create and close.
type Registry struct {
	metrics *observe.Metrics

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		metrics:  observe.DefaultMetrics(),
		sessions: make(map[string]*Session),
	}
}

// Add registers a session under its call sid, replacing and closing any
// previous session for the same call.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	prev := r.sessions[s.CallSID()]
	r.sessions[s.CallSID()] = s
	n := len(r.sessions)
	r.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	r.metrics.ActiveSessions.Record(context.Background(), int64(n))
}

// Remove closes and drops the session for callSID, if any.
func (r *Registry) Remove(callSID string) {
	r.mu.Lock()
	s, ok := r.sessions[callSID]
	delete(r.sessions, callSID)
	n := len(r.sessions)
	r.mu.Unlock()

	if ok {
		s.Close()
		r.metrics.ActiveSessions.Record(context.Background(), int64(n))
	}
}

// Get returns the session for callSID, or nil.
func (r *Registry) Get(callSID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[callSID]
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
