package session

import (
	"sync"
	"testing"
	"time"

	"safety-companion/analytics/internal/domain"
	"safety-companion/analytics/internal/geo"
)

var t0 = time.Date(2025, 10, 5, 12, 0, 0, 0, time.UTC)

func TestGetOrCreateIsIdempotent(t *testing.T) {
	st := NewStore()
	a := st.GetOrCreate("sid-1", "u-1", t0)
	b := st.GetOrCreate("sid-1", "u-1", t0)
	if a != b {
		t.Fatalf("GetOrCreate returned different sessions for same id")
	}
	if st.Len() != 1 {
		t.Fatalf("store len = %d, want 1", st.Len())
	}
}

func TestResolvePrefersExplicitSessionID(t *testing.T) {
	st := NewStore()
	st.StartWalk("sid-1", "u-1", nil, t0)

	s := st.Resolve("sid-1", "u-1", t0)
	if s.ID() != "sid-1" {
		t.Fatalf("resolved %s, want sid-1", s.ID())
	}
}

func TestResolveFallsBackToUserMapping(t *testing.T) {
	st := NewStore()
	st.StartWalk("sid-1", "u-1", nil, t0)

	s := st.Resolve("", "u-1", t0)
	if s.ID() != "sid-1" {
		t.Fatalf("resolved %s, want sid-1", s.ID())
	}
}

func TestResolveCreatesShellForUnknownUser(t *testing.T) {
	st := NewStore()
	s := st.Resolve("", "u-9", t0)
	if s.ID() != "u-9" {
		t.Fatalf("shell session id %s, want u-9", s.ID())
	}
	v := s.View()
	if v.Active || len(v.Route) != 0 {
		t.Fatalf("shell session should be inactive with no route: %+v", v)
	}
}

func TestStartWalkReplacesState(t *testing.T) {
	st := NewStore()
	s := st.StartWalk("sid-1", "u-1", []geo.Point{{Lon: 0, Lat: 0}, {Lon: 0, Lat: 1}}, t0)
	s.ApplySample(geo.Point{Lon: 0, Lat: 0.5}, t0)
	s.OffRouteStep(true, t0)
	s.OffRouteStep(true, t0)

	again := st.StartWalk("sid-1", "u-1", []geo.Point{{Lon: 1, Lat: 1}, {Lon: 1, Lat: 2}}, t0.Add(time.Hour))
	v := again.View()
	if v.OffRouteScore != 0 || v.SampleCount != 0 {
		t.Fatalf("restart must reset scoring state: %+v", v)
	}
	if v.Route[0].Lon != 1 {
		t.Fatalf("restart must replace the route: %+v", v.Route)
	}
	if !v.Active {
		t.Fatalf("restarted session must be active")
	}
}

func TestStopWalkBySessionAndByUser(t *testing.T) {
	st := NewStore()
	st.StartWalk("sid-1", "u-1", nil, t0)

	sid, ok := st.StopWalk("sid-1", "", t0)
	if !ok || sid != "sid-1" {
		t.Fatalf("stop by session id: %s %v", sid, ok)
	}

	st.StartWalk("sid-2", "u-2", nil, t0)
	sid, ok = st.StopWalk("", "u-2", t0)
	if !ok || sid != "sid-2" {
		t.Fatalf("stop by user id: %s %v", sid, ok)
	}

	if _, ok := st.StopWalk("nope", "nobody", t0); ok {
		t.Fatalf("stopping an unknown session must report not found")
	}
}

func TestApplySampleTracksPrevAndCurr(t *testing.T) {
	st := NewStore()
	s := st.GetOrCreate("sid-1", "u-1", t0)

	p1 := geo.Point{Lon: -75.6993, Lat: 45.4215}
	p2 := geo.Point{Lon: -75.6992, Lat: 45.4216}

	prev, curr, n, dup := s.ApplySample(p1, t0)
	if n != 1 || dup || prev != (Sample{}) || curr.Pos != p1 {
		t.Fatalf("first sample: prev=%+v curr=%+v n=%d dup=%v", prev, curr, n, dup)
	}

	prev, curr, n, dup = s.ApplySample(p2, t0.Add(time.Second))
	if n != 2 || dup || prev.Pos != p1 || curr.Pos != p2 {
		t.Fatalf("second sample: prev=%+v curr=%+v n=%d dup=%v", prev, curr, n, dup)
	}
}

func TestApplySampleDetectsExactRedelivery(t *testing.T) {
	st := NewStore()
	s := st.GetOrCreate("sid-1", "u-1", t0)
	p := geo.Point{Lon: -75.6993, Lat: 45.4215}

	s.ApplySample(p, t0)
	_, _, n, dup := s.ApplySample(p, t0)
	if !dup || n != 1 {
		t.Fatalf("exact redelivery not detected: n=%d dup=%v", n, dup)
	}

	// same spot at a later time is a genuine sample, not a duplicate
	_, _, n, dup = s.ApplySample(p, t0.Add(5*time.Second))
	if dup || n != 2 {
		t.Fatalf("later sample misdetected as duplicate: n=%d dup=%v", n, dup)
	}
}

func TestOffRouteStepFloorsAtZero(t *testing.T) {
	st := NewStore()
	s := st.GetOrCreate("sid-1", "u-1", t0)

	if got := s.OffRouteStep(false, t0); got != 0 {
		t.Fatalf("decay below zero: %d", got)
	}
	s.OffRouteStep(true, t0)
	s.OffRouteStep(true, t0)
	if got := s.OffRouteStep(false, t0); got != 1 {
		t.Fatalf("decay: got %d, want 1", got)
	}

	v := s.View()
	if !v.OffSince.IsZero() {
		t.Fatalf("returning on route must clear off-since")
	}
}

func TestTryCooldownWindow(t *testing.T) {
	st := NewStore()
	s := st.GetOrCreate("sid-1", "u-1", t0)
	window := 30 * time.Second

	if !s.TryCooldown(domain.AlertNoMovement, window, t0) {
		t.Fatalf("first fire must pass")
	}
	if s.TryCooldown(domain.AlertNoMovement, window, t0.Add(10*time.Second)) {
		t.Fatalf("second fire inside the window must be suppressed")
	}
	if !s.TryCooldown(domain.AlertNoMovement, window, t0.Add(31*time.Second)) {
		t.Fatalf("fire after the window must pass")
	}

	// cooldown keys are independent per alert kind
	if !s.TryCooldown(domain.AlertOffRoute, window, t0.Add(10*time.Second)) {
		t.Fatalf("different kind must have its own cooldown key")
	}
}

func TestClearCooldownReleasesClaim(t *testing.T) {
	st := NewStore()
	s := st.GetOrCreate("sid-1", "u-1", t0)

	if !s.TryCooldown(domain.AlertOffRoute, time.Minute, t0) {
		t.Fatalf("first claim must pass")
	}
	s.ClearCooldown(domain.AlertOffRoute)
	if !s.TryCooldown(domain.AlertOffRoute, time.Minute, t0.Add(time.Second)) {
		t.Fatalf("claim after ClearCooldown must pass")
	}

	// clearing an unclaimed kind is a no-op
	s.ClearCooldown(domain.AlertNightTime)
}

func TestUpsertRouteAndSetActive(t *testing.T) {
	st := NewStore()

	// route for a session that has not started yet lands on a shell
	route := []geo.Point{{Lon: 0, Lat: 0}, {Lon: 0, Lat: 1}}
	st.UpsertRoute("sid-1", route, t0)

	s, ok := st.Get("sid-1")
	if !ok || len(s.View().Route) != 2 {
		t.Fatalf("route not installed on shell session")
	}

	st.SetActive("sid-1", true, t0)
	if !s.View().Active {
		t.Fatalf("SetActive(true) not applied")
	}
	st.SetActive("sid-1", false, t0.Add(time.Minute))
	v := s.View()
	if v.Active || !v.StoppedAt.Equal(t0.Add(time.Minute)) {
		t.Fatalf("SetActive(false) must record the stop time: %+v", v)
	}

	// unknown id is a no-op, not a create
	st.SetActive("ghost", true, t0)
	if _, ok := st.Get("ghost"); ok {
		t.Fatalf("SetActive created a session")
	}
}

func TestRecordPositionCreatesAndAppends(t *testing.T) {
	st := NewStore()

	p := geo.Point{Lon: -75.6993, Lat: 45.4215}
	_, curr, n, dup := st.RecordPosition("sid-1", p, t0)
	if n != 1 || dup || curr.Pos != p {
		t.Fatalf("first recorded position: curr=%+v n=%d dup=%v", curr, n, dup)
	}
	if st.Len() != 1 {
		t.Fatalf("RecordPosition must create the session")
	}
}

func TestEvictInactiveKeepsActiveSessions(t *testing.T) {
	st := NewStore()
	st.StartWalk("active", "u-1", nil, t0)
	st.StartWalk("stopped", "u-2", nil, t0)
	st.StopWalk("stopped", "", t0)

	evicted := st.EvictInactive(30*time.Minute, t0.Add(time.Hour))
	if evicted != 1 {
		t.Fatalf("evicted = %d, want 1", evicted)
	}
	if _, ok := st.Get("active"); !ok {
		t.Fatalf("active session must never be evicted")
	}
	if _, ok := st.Get("stopped"); ok {
		t.Fatalf("stopped session past retention must be evicted")
	}

	// user mapping for the evicted session is gone too
	if s := st.Resolve("", "u-2", t0.Add(time.Hour)); s.ID() != "u-2" {
		t.Fatalf("stale user mapping survived eviction: %s", s.ID())
	}
}

func TestConcurrentUpdatesDifferentSessions(t *testing.T) {
	st := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		id := string(rune('a' + i))
		go func() {
			defer wg.Done()
			s := st.GetOrCreate(id, "", t0)
			for j := 0; j < 100; j++ {
				s.ApplySample(geo.Point{Lon: float64(j), Lat: 0}, t0.Add(time.Duration(j)*time.Second))
				s.OffRouteStep(j%2 == 0, t0)
			}
		}()
	}
	wg.Wait()

	if st.Len() != 8 {
		t.Fatalf("store len = %d, want 8", st.Len())
	}
	st.ForEach(func(s *Session) {
		if v := s.View(); v.SampleCount != 100 {
			t.Fatalf("session %s sample count = %d, want 100", v.ID, v.SampleCount)
		}
	})
}
