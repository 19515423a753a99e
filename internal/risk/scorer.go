package risk

import (
	"context"
	"time"

	"safety-companion/analytics/internal/domain"
	"safety-companion/analytics/internal/logger"
	"safety-companion/analytics/internal/metrics"
	"safety-companion/analytics/internal/session"
)

// ScorerConfig carries the tick scoring weights and conditions.
type ScorerConfig struct {
	Tick time.Duration

	OffRouteWeight  int
	OffRouteSustain time.Duration

	InactiveWeight      int
	InactivityThreshold time.Duration

	NightWeight    int
	NightStartHour int
	NightEndHour   int
	Zone           *time.Location
}

// Scorer recomputes every session's risk score on a fixed period and
// publishes risk.updated for scores that changed since the previous tick.
// This gives outbound consumers a heartbeat even when no per-message alert
// condition fired.
type Scorer struct {
	cfg   ScorerConfig
	store *session.Store
	pub   Publisher
	log   *logger.Logger
	now   func() time.Time
}

func NewScorer(cfg ScorerConfig, store *session.Store, pub Publisher, log *logger.Logger) *Scorer {
	if cfg.Zone == nil {
		cfg.Zone = time.Local
	}
	return &Scorer{
		cfg:   cfg,
		store: store,
		pub:   pub,
		log:   log.With("component", "scorer"),
		now:   time.Now,
	}
}

func (sc *Scorer) Run(ctx context.Context) {
	ticker := time.NewTicker(sc.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sc.TickOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// TickOnce scores all sessions once. Split out of Run for tests.
func (sc *Scorer) TickOnce(ctx context.Context) {
	now := sc.now()

	sc.store.ForEach(func(s *session.Session) {
		v := s.View()
		score := sc.scoreOf(v, now)
		if !s.UpdateRiskScore(score) {
			return
		}

		evt := domain.NewRiskUpdate(v.ID, v.UserID, score)
		if err := sc.pub.Publish(ctx, evt); err != nil {
			sc.log.Error("risk update publish failed", "session_id", v.ID, "error", err)
			return
		}
		metrics.RiskUpdatesPublished.Add(1)
		sc.log.Debug("risk updated", "session_id", v.ID, "score", score)
	})
}

// scoreOf combines the active risk conditions into a 0-100 score. Stopped
// sessions score zero, so a stop is followed by one final green update.
func (sc *Scorer) scoreOf(v session.View, now time.Time) int {
	if !v.Active {
		return 0
	}

	score := 0
	if !v.OffSince.IsZero() && now.Sub(v.OffSince) >= sc.cfg.OffRouteSustain {
		score += sc.cfg.OffRouteWeight
	}
	if last := v.LastUpdateAt(); !last.IsZero() && now.Sub(last) > sc.cfg.InactivityThreshold {
		score += sc.cfg.InactiveWeight
	}
	if inNightWindow(now.In(sc.cfg.Zone).Hour(), sc.cfg.NightStartHour, sc.cfg.NightEndHour) {
		score += sc.cfg.NightWeight
	}

	if score > 100 {
		score = 100
	}
	return score
}
