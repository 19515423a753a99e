// Package risk derives safety signals from walk-session state: the
// per-event evaluator, the periodic score ticker and the inactivity
// watchdog. None of its code does I/O beyond the injected publisher.
package risk

import (
	"context"
	"fmt"
	"math"
	"time"

	"safety-companion/analytics/internal/domain"
	"safety-companion/analytics/internal/geo"
	"safety-companion/analytics/internal/logger"
	"safety-companion/analytics/internal/metrics"
	"safety-companion/analytics/internal/session"
)

// Publisher delivers derived events to the outbound channel. Implemented
// by the stream publisher; tests substitute a capture fake.
type Publisher interface {
	Publish(ctx context.Context, evt domain.OutboundEvent) error
}

// EvaluatorConfig carries the per-event check thresholds.
type EvaluatorConfig struct {
	OffRouteThresholdM float64
	OffRouteFireScore  int
	OffRouteCooldown   time.Duration

	JumpSpeedMPS float64
	JumpCooldown time.Duration

	NightStartHour int
	NightEndHour   int
	NightCooldown  time.Duration
	Zone           *time.Location
}

// Evaluator runs the off-route, suspicious-jump and night-time checks for
// each accepted location event. The three checks are independent: one
// event may emit zero, one or several alerts, each behind its own
// per-session cooldown key.
type Evaluator struct {
	cfg   EvaluatorConfig
	store *session.Store
	pub   Publisher
	log   *logger.Logger
	now   func() time.Time
}

func NewEvaluator(cfg EvaluatorConfig, store *session.Store, pub Publisher, log *logger.Logger) *Evaluator {
	if cfg.Zone == nil {
		cfg.Zone = time.Local
	}
	return &Evaluator{
		cfg:   cfg,
		store: store,
		pub:   pub,
		log:   log.With("component", "evaluator"),
		now:   time.Now,
	}
}

// HandleWalkStarted installs a fresh session with the supplied route.
func (e *Evaluator) HandleWalkStarted(evt domain.WalkStarted) {
	e.store.StartWalk(evt.SessionID, evt.UserID, evt.Route, e.now())
	e.log.Info("walk started",
		"session_id", evt.SessionID,
		"user_id", evt.UserID,
		"route_vertices", len(evt.Route),
	)
}

// HandleWalkStopped deactivates the addressed session.
func (e *Evaluator) HandleWalkStopped(evt domain.WalkStopped) {
	sid, ok := e.store.StopWalk(evt.SessionID, evt.UserID, e.now())
	if !ok {
		e.log.Warn("walk.stopped for unknown session",
			"session_id", evt.SessionID, "user_id", evt.UserID)
		return
	}
	e.log.Info("walk stopped", "session_id", sid)
}

// HandleLocation records the sample and runs all checks, returning the id
// of the session the sample was resolved to. Sessions with fewer than two
// recorded positions perform no checks; exact redeliveries of the latest
// sample are skipped so the hysteresis score cannot be double-counted.
func (e *Evaluator) HandleLocation(ctx context.Context, evt domain.LocationUpdate) string {
	now := e.now()
	at := evt.Timestamp
	if at.IsZero() {
		at = now
	}

	s := e.store.Resolve(evt.SessionID, evt.UserID, now)
	prev, curr, n, dup := s.ApplySample(evt.Position, at)
	if dup {
		e.log.Debug("duplicate sample skipped", "session_id", s.ID())
		return s.ID()
	}
	if n < 2 {
		return s.ID()
	}

	e.checkOffRoute(ctx, s, curr, now)
	e.checkJump(ctx, s, prev, curr, now)
	e.checkNight(ctx, s, now)
	return s.ID()
}

func (e *Evaluator) checkOffRoute(ctx context.Context, s *session.Session, curr session.Sample, now time.Time) {
	v := s.View()
	if len(v.Route) < 2 {
		return
	}

	d := geo.DistanceToPolyline(curr.Pos, v.Route)
	outside := d > e.cfg.OffRouteThresholdM
	score := s.OffRouteStep(outside, now)
	if !outside || score < e.cfg.OffRouteFireScore {
		return
	}
	if !s.TryCooldown(domain.AlertOffRoute, e.cfg.OffRouteCooldown, now) {
		return
	}

	msg := fmt.Sprintf("Deviated ~%d m from planned route.", int(d))
	e.emit(ctx, s, domain.AlertOffRoute, domain.NewAlert(domain.AlertOffRoute, s.ID(), v.UserID, msg))
}

func (e *Evaluator) checkJump(ctx context.Context, s *session.Session, prev, curr session.Sample, now time.Time) {
	dist := geo.Haversine(prev.Pos, curr.Pos)
	dt := curr.At.Sub(prev.At).Seconds()
	// epsilon guards zero and backwards clock deltas
	speed := dist / math.Max(1e-6, dt)
	if speed <= e.cfg.JumpSpeedMPS {
		return
	}
	if !s.TryCooldown(domain.AlertSuspiciousJump, e.cfg.JumpCooldown, now) {
		return
	}

	msg := fmt.Sprintf("Unusual jump of %d m detected.", int(dist))
	e.emit(ctx, s, domain.AlertSuspiciousJump, domain.NewAlert(domain.AlertSuspiciousJump, s.ID(), s.UserID(), msg))
}

func (e *Evaluator) checkNight(ctx context.Context, s *session.Session, now time.Time) {
	if !inNightWindow(now.In(e.cfg.Zone).Hour(), e.cfg.NightStartHour, e.cfg.NightEndHour) {
		return
	}
	if !s.TryCooldown(domain.AlertNightTime, e.cfg.NightCooldown, now) {
		return
	}

	e.emit(ctx, s, domain.AlertNightTime, domain.NewAlert(domain.AlertNightTime, s.ID(), s.UserID(),
		"Walking late at night - stay safe."))
}

// emit publishes the alert. On failure the cooldown claimed for the kind
// is released, so the next qualifying event retries instead of staying
// silent for the full window.
func (e *Evaluator) emit(ctx context.Context, s *session.Session, kind domain.AlertKind, evt domain.OutboundEvent) {
	if err := e.pub.Publish(ctx, evt); err != nil {
		s.ClearCooldown(kind)
		e.log.Error("alert publish failed",
			"type", evt.Type, "session_id", evt.Data.SessionID, "error", err)
		return
	}
	metrics.AlertsEmitted.Add(1)
	e.log.Info("alert emitted",
		"type", evt.Type, "session_id", evt.Data.SessionID, "message", evt.Data.Message)
}

// inNightWindow reports whether hour falls inside the [start, end] window,
// wrapping over midnight when start > end (the 23..5 default).
func inNightWindow(hour, start, end int) bool {
	if start <= end {
		return hour >= start && hour <= end
	}
	return hour >= start || hour <= end
}
