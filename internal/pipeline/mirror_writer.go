package pipeline

import (
	"context"
	"time"

	"safety-companion/analytics/internal/logger"
	"safety-companion/analytics/internal/metrics"
	"safety-companion/analytics/internal/store"
)

// MirrorWriter drains the mirror channel into Redis so the serving side
// always has a near-live view of every walk's last position.
type MirrorWriter struct {
	ch    <-chan MirrorUpdate
	redis *store.RedisStore
	log   *logger.Logger
}

func NewMirrorWriter(ch <-chan MirrorUpdate, redis *store.RedisStore, log *logger.Logger) *MirrorWriter {
	return &MirrorWriter{ch: ch, redis: redis, log: log.With("component", "mirror_writer")}
}

func (w *MirrorWriter) Run(ctx context.Context) {
	batch := make([]MirrorUpdate, 0, 100)
	ticker := time.NewTicker(50 * time.Millisecond) // 50ms keeps the dashboard feeling live
	defer ticker.Stop()

	for {
		select {
		case u, ok := <-w.ch:
			if !ok {
				w.flush(ctx, batch)
				return
			}
			batch = append(batch, u)
			if len(batch) >= 100 {
				w.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			w.flush(ctx, batch)
			return
		}
	}
}

func (w *MirrorWriter) flush(ctx context.Context, batch []MirrorUpdate) {
	for _, u := range batch {
		if err := w.redis.MirrorSessionState(ctx, u.SessionID, u.UserID, u.Pos, u.At); err != nil {
			metrics.MirrorWriteFailures.Add(1)
			w.log.Warn("mirror update failed", "session_id", u.SessionID, "error", err)
		}
	}
}
