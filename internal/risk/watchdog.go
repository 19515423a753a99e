package risk

import (
	"context"
	"fmt"
	"time"

	"safety-companion/analytics/internal/domain"
	"safety-companion/analytics/internal/logger"
	"safety-companion/analytics/internal/session"
)

// WatchdogConfig carries the staleness scan parameters.
type WatchdogConfig struct {
	Interval            time.Duration
	InactivityThreshold time.Duration
	NoMovementCooldown  time.Duration
	SessionRetention    time.Duration
}

// Watchdog periodically scans all sessions for staleness, independent of
// the event stream, and emits no_movement alerts through the same cooldown
// mechanism as the per-event checks. It also applies the retention policy
// to stopped sessions.
type Watchdog struct {
	cfg   WatchdogConfig
	store *session.Store
	pub   Publisher
	log   *logger.Logger
	now   func() time.Time
}

func NewWatchdog(cfg WatchdogConfig, store *session.Store, pub Publisher, log *logger.Logger) *Watchdog {
	return &Watchdog{
		cfg:   cfg,
		store: store,
		pub:   pub,
		log:   log.With("component", "watchdog"),
		now:   time.Now,
	}
}

func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.Sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Sweep runs a single staleness pass. Split out of Run for tests.
func (w *Watchdog) Sweep(ctx context.Context) {
	now := w.now()

	w.store.ForEach(func(s *session.Session) {
		v := s.View()
		if !v.Active || v.Last == nil {
			return
		}
		idle := now.Sub(v.LastUpdateAt())
		if idle <= w.cfg.InactivityThreshold {
			return
		}
		if !s.TryCooldown(domain.AlertNoMovement, w.cfg.NoMovementCooldown, now) {
			return
		}

		msg := fmt.Sprintf("No movement detected for %d+ seconds.",
			int(w.cfg.InactivityThreshold.Seconds()))
		evt := domain.NewAlert(domain.AlertNoMovement, v.ID, v.UserID, msg)
		if err := w.pub.Publish(ctx, evt); err != nil {
			// release the cooldown claim so the next sweep retries
			s.ClearCooldown(domain.AlertNoMovement)
			w.log.Error("no_movement publish failed", "session_id", v.ID, "error", err)
			return
		}
		w.log.Info("no movement alert", "session_id", v.ID, "idle_seconds", int(idle.Seconds()))
	})

	if w.cfg.SessionRetention > 0 {
		if evicted := w.store.EvictInactive(w.cfg.SessionRetention, now); evicted > 0 {
			w.log.Info("evicted inactive sessions", "count", evicted)
		}
	}
}
