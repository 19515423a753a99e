// Package session holds the in-memory state for tracked walks. The store
// is the only shared structure between the message path, the scoring tick
// and the inactivity watchdog, so every mutation happens under a
// per-session lock and readers only ever see complete snapshots.
package session

import (
	"sync"
	"time"

	"safety-companion/analytics/internal/domain"
	"safety-companion/analytics/internal/geo"
)

// Sample is one recorded position with its event timestamp.
type Sample struct {
	Pos geo.Point
	At  time.Time
}

// Session is one walking session for one user. All fields are guarded by
// mu; access goes through the methods below.
type Session struct {
	mu sync.Mutex

	id     string
	userID string

	route []geo.Point // replaced wholesale by a new start event, never mutated

	prev        *Sample
	last        *Sample
	sampleCount int

	active    bool
	createdAt time.Time
	stoppedAt time.Time

	offRouteScore int
	offSince      time.Time // zero while on route

	cooldowns map[domain.AlertKind]time.Time

	lastRiskScore int
}

func newSession(id, userID string, now time.Time) *Session {
	return &Session{
		id:        id,
		userID:    userID,
		createdAt: now,
		cooldowns: make(map[domain.AlertKind]time.Time),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *Session) setRoute(route []geo.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.route = route
}

func (s *Session) setActive(active bool, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = active
	if !active {
		s.stoppedAt = now
	}
}

// ApplySample records a new position and returns the previous and current
// samples. dup reports an exact redelivery of the latest sample (same
// coordinates and timestamp); callers skip scoring for those so an
// at-least-once transport cannot inflate the hysteresis score.
func (s *Session) ApplySample(pos geo.Point, at time.Time) (prev, curr Sample, n int, dup bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.last != nil && s.last.Pos == pos && s.last.At.Equal(at) {
		return Sample{}, *s.last, s.sampleCount, true
	}

	s.prev = s.last
	added := Sample{Pos: pos, At: at}
	s.last = &added
	s.sampleCount++

	if s.prev != nil {
		prev = *s.prev
	}
	return prev, added, s.sampleCount, false
}

// OffRouteStep advances the hysteresis counter: +1 for an out-of-corridor
// sample, -1 (floor 0) for an in-corridor one. It also tracks how long the
// session has been continuously off route for the scoring tick.
func (s *Session) OffRouteStep(outside bool, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if outside {
		s.offRouteScore++
		if s.offSince.IsZero() {
			s.offSince = now
		}
	} else {
		if s.offRouteScore > 0 {
			s.offRouteScore--
		}
		s.offSince = time.Time{}
	}
	return s.offRouteScore
}

// TryCooldown reports whether an alert of the given kind may fire now, and
// if so records the emission time. Suppression is silent; callers emit
// nothing when this returns false.
func (s *Session) TryCooldown(kind domain.AlertKind, window time.Duration, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.cooldowns[kind]; ok && now.Sub(last) < window {
		return false
	}
	s.cooldowns[kind] = now
	return true
}

// ClearCooldown forgets the recorded emission time for kind so the next
// qualifying event may fire immediately. Callers use it to roll back a
// TryCooldown claim whose publish failed; otherwise the failed alert kind
// would stay silenced for the full window.
func (s *Session) ClearCooldown(kind domain.AlertKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cooldowns, kind)
}

// UpdateRiskScore stores the latest tick score and reports whether it
// changed since the previous tick.
func (s *Session) UpdateRiskScore(score int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if score == s.lastRiskScore {
		return false
	}
	s.lastRiskScore = score
	return true
}

// View is a consistent read-only snapshot of a session.
type View struct {
	ID            string
	UserID        string
	Active        bool
	Route         []geo.Point
	Last          *Sample
	SampleCount   int
	OffRouteScore int
	OffSince      time.Time
	CreatedAt     time.Time
	StoppedAt     time.Time
}

// LastUpdateAt returns the timestamp of the most recent location sample,
// or the zero time when none was recorded yet.
func (v View) LastUpdateAt() time.Time {
	if v.Last == nil {
		return time.Time{}
	}
	return v.Last.At
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		ID:            s.id,
		UserID:        s.userID,
		Active:        s.active,
		Route:         s.route,
		SampleCount:   s.sampleCount,
		OffRouteScore: s.offRouteScore,
		OffSince:      s.offSince,
		CreatedAt:     s.createdAt,
		StoppedAt:     s.stoppedAt,
	}
	if s.last != nil {
		last := *s.last
		v.Last = &last
	}
	return v
}
