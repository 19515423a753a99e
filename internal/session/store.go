package session

import (
	"sync"
	"time"

	"safety-companion/analytics/internal/geo"
)

// Store maps session identifiers to sessions. A single RWMutex guards the
// maps; field mutation happens under each session's own lock, so updates
// for different sessions never serialize on one another.
type Store struct {
	mu     sync.RWMutex
	byID   map[string]*Session
	byUser map[string]string // user id -> latest session id
}

func NewStore() *Store {
	return &Store{
		byID:   make(map[string]*Session),
		byUser: make(map[string]string),
	}
}

func (st *Store) Get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.byID[id]
	return s, ok
}

// GetOrCreate returns the session with the given id, creating an empty
// shell session if it does not exist yet.
func (st *Store) GetOrCreate(id, userID string, now time.Time) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.getOrCreateLocked(id, userID, now)
}

func (st *Store) getOrCreateLocked(id, userID string, now time.Time) *Session {
	if s, ok := st.byID[id]; ok {
		return s
	}
	s := newSession(id, userID, now)
	st.byID[id] = s
	if userID != "" {
		st.byUser[userID] = id
	}
	return s
}

// Resolve finds the session a location update belongs to: the explicit
// session id when present, otherwise the user's latest session, otherwise
// a shell session keyed by the user id (populated later by walk.started).
func (st *Store) Resolve(sessionID, userID string, now time.Time) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	if sessionID != "" {
		return st.getOrCreateLocked(sessionID, userID, now)
	}
	if sid, ok := st.byUser[userID]; ok {
		if s, ok := st.byID[sid]; ok {
			return s
		}
	}
	return st.getOrCreateLocked(userID, userID, now)
}

// StartWalk installs a fresh session for the id, replacing any previous
// state under the same id. A new start event resets the route, the
// hysteresis score and the cooldowns.
func (st *Store) StartWalk(id, userID string, route []geo.Point, now time.Time) *Session {
	s := newSession(id, userID, now)
	s.route = route
	s.active = true

	st.mu.Lock()
	defer st.mu.Unlock()
	st.byID[id] = s
	if userID != "" {
		st.byUser[userID] = id
	}
	return s
}

// StopWalk deactivates a session addressed by session id, falling back to
// the user's latest session. Returns the session id and whether a session
// was found.
func (st *Store) StopWalk(sessionID, userID string, now time.Time) (string, bool) {
	st.mu.RLock()
	s, ok := st.byID[sessionID]
	if !ok && userID != "" {
		if sid, mapped := st.byUser[userID]; mapped {
			s, ok = st.byID[sid]
		}
	}
	st.mu.RUnlock()

	if !ok {
		return "", false
	}
	s.setActive(false, now)
	return s.ID(), true
}

// UpsertRoute replaces the route of an existing session, creating a shell
// session when none exists.
func (st *Store) UpsertRoute(id string, route []geo.Point, now time.Time) {
	st.GetOrCreate(id, "", now).setRoute(route)
}

// SetActive flips the active flag of an existing session.
func (st *Store) SetActive(id string, active bool, now time.Time) {
	if s, ok := st.Get(id); ok {
		s.setActive(active, now)
	}
}

// RecordPosition appends a position sample to the session.
func (st *Store) RecordPosition(id string, pos geo.Point, at time.Time) (prev, curr Sample, n int, dup bool) {
	s := st.GetOrCreate(id, "", at)
	return s.ApplySample(pos, at)
}

// ForEach calls fn for every session. The session list is copied under the
// read lock so fn runs without holding the store lock.
func (st *Store) ForEach(fn func(*Session)) {
	st.mu.RLock()
	sessions := make([]*Session, 0, len(st.byID))
	for _, s := range st.byID {
		sessions = append(sessions, s)
	}
	st.mu.RUnlock()

	for _, s := range sessions {
		fn(s)
	}
}

func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.byID)
}

// EvictInactive removes sessions that stopped (or went quiet without ever
// becoming active) longer ago than the retention window. Active sessions
// are never evicted.
func (st *Store) EvictInactive(retention time.Duration, now time.Time) int {
	st.mu.Lock()
	defer st.mu.Unlock()

	evicted := 0
	for id, s := range st.byID {
		v := s.View()
		if v.Active {
			continue
		}
		ref := v.StoppedAt
		if ref.IsZero() {
			ref = v.LastUpdateAt()
		}
		if ref.IsZero() {
			ref = v.CreatedAt
		}
		if now.Sub(ref) <= retention {
			continue
		}
		delete(st.byID, id)
		if v.UserID != "" && st.byUser[v.UserID] == id {
			delete(st.byUser, v.UserID)
		}
		evicted++
	}
	return evicted
}
