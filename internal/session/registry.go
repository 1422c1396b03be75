// Package session tracks the live voice sessions of one gateway process:
// a concurrency-safe registry keyed by session id with secondary indices
// by connection handle and by user, plus the idle-timeout sweep.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry is the single shared store of active sessions. Every mutating
// operation runs inside one critical section so the three indices can
// never drift apart.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byConn   map[string]string
	byUser   map[string]map[string]struct{}
	onEvict  func(*Session)
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		byConn:   make(map[string]string),
		byUser:   make(map[string]map[string]struct{}),
	}
}

// SetEvictHook installs the callback the sweep invokes for every session
// it removes. The hook runs outside the registry lock.
func (r *Registry) SetEvictHook(hook func(*Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEvict = hook
}

// Create registers a new idle session owned by the given connection.
// A missing thread id is generated so the conversation identity always
// exists.
func (r *Registry) Create(connID, userID, agentID, threadID string, cfg Config) *Session {
	if threadID == "" {
		threadID = uuid.NewString()
	}
	now := time.Now().UTC()
	s := &Session{
		ID:           uuid.NewString(),
		ConnID:       connID,
		UserID:       userID,
		AgentID:      agentID,
		ThreadID:     threadID,
		Status:       StatusIdle,
		Config:       cfg,
		CreatedAt:    now,
		LastActivity: now,
		Audio:        NewAudioBuffer(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	r.byConn[connID] = s.ID
	if userID != "" {
		set, ok := r.byUser[userID]
		if !ok {
			set = make(map[string]struct{})
			r.byUser[userID] = set
		}
		set[s.ID] = struct{}{}
	}
	return clone(s)
}

func (r *Registry) Get(sessionID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// GetByConn resolves the session owned by a connection handle.
func (r *Registry) GetByConn(connID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byConn[connID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(r.sessions[id]), nil
}

// GetByUser returns a snapshot of every session the user owns.
func (r *Registry) GetByUser(userID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byUser[userID]
	out := make([]*Session, 0, len(set))
	for id := range set {
		out = append(out, clone(r.sessions[id]))
	}
	return out
}

// Touch refreshes the session's activity clock.
func (r *Registry) Touch(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.LastActivity = time.Now().UTC()
	return nil
}

// UpdateStatus moves the session to a new state and refreshes activity.
func (r *Registry) UpdateStatus(sessionID string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.Status = status
	s.LastActivity = time.Now().UTC()
	return nil
}

// UpdateConfig merges the patch into the session's config and returns the
// resulting snapshot.
func (r *Registry) UpdateConfig(sessionID string, patch ConfigPatch) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	s.Config = s.Config.merge(patch)
	s.LastActivity = time.Now().UTC()
	return clone(s), nil
}

// Remove deletes the session from all three indices and returns its final
// snapshot.
func (r *Registry) Remove(sessionID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	r.removeLocked(s)
	return clone(s), nil
}

// RemoveAll clears the registry, returning snapshots of everything removed.
// Used on process shutdown.
func (r *Registry) RemoveAll() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, clone(s))
	}
	r.sessions = make(map[string]*Session)
	r.byConn = make(map[string]string)
	r.byUser = make(map[string]map[string]struct{})
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// StartSweeper runs the idle-timeout sweep until ctx is cancelled.
func (r *Registry) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweep(time.Now().UTC())
			}
		}
	}()
}

func (r *Registry) sweep(now time.Time) {
	var evicted []*Session

	r.mu.Lock()
	for _, s := range r.sessions {
		if !s.TimedOut(now) {
			continue
		}
		r.removeLocked(s)
		evicted = append(evicted, clone(s))
	}
	hook := r.onEvict
	r.mu.Unlock()

	if hook != nil {
		for _, s := range evicted {
			hook(s)
		}
	}
}

func (r *Registry) removeLocked(s *Session) {
	delete(r.sessions, s.ID)
	if id, ok := r.byConn[s.ConnID]; ok && id == s.ID {
		delete(r.byConn, s.ConnID)
	}
	if set, ok := r.byUser[s.UserID]; ok {
		delete(set, s.ID)
		if len(set) == 0 {
			delete(r.byUser, s.UserID)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
