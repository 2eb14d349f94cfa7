package services

import (
	"sort"
	"sync"
)

// Registry tracks live sessions so HTTP and gRPC readers can look them up.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	metrics  *Metrics
}

func NewRegistry(metrics *Metrics) *Registry {
	if metrics == nil {
		metrics = GetMetrics()
	}
	return &Registry{sessions: make(map[string]*Session), metrics: metrics}
}

func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID()] = s
	r.metrics.SetActiveSessions(len(r.sessions))
}

// Remove unregisters the session. It does not stop it.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	r.metrics.SetActiveSessions(len(r.sessions))
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// List returns live sessions ordered by start time.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.RUnlock()

	sort.SliceStable(list, func(i, j int) bool {
		return list[i].startedAt.Before(list[j].startedAt)
	})
	return list
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// StopAll stops and removes every session.
func (r *Registry) StopAll() {
	r.mu.Lock()
	list := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		list = append(list, s)
		delete(r.sessions, id)
	}
	r.metrics.SetActiveSessions(0)
	r.mu.Unlock()

	for _, s := range list {
		s.Stop()
	}
}
