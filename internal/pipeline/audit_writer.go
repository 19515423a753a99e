package pipeline

import (
	"context"
	"time"

	"safety-companion/analytics/internal/domain"
	"safety-companion/analytics/internal/logger"
	"safety-companion/analytics/internal/metrics"
	"safety-companion/analytics/internal/store"
)

// AuditWriter batches published events into Postgres. Alert-kind events
// are additionally written to the walk_alerts table for the operator view.
type AuditWriter struct {
	ch        <-chan domain.OutboundEvent
	db        *store.AuditStore
	batchSize int
	flush     time.Duration
	log       *logger.Logger
}

func NewAuditWriter(ch <-chan domain.OutboundEvent, db *store.AuditStore, batchSize int, flush time.Duration, log *logger.Logger) *AuditWriter {
	return &AuditWriter{
		ch:        ch,
		db:        db,
		batchSize: batchSize,
		flush:     flush,
		log:       log.With("component", "audit_writer"),
	}
}

func (w *AuditWriter) Run(ctx context.Context) {
	batch := make([]domain.OutboundEvent, 0, w.batchSize)
	ticker := time.NewTicker(w.flush)
	defer ticker.Stop()

	for {
		select {
		case evt, ok := <-w.ch:
			if !ok {
				w.flushBatch(ctx, batch)
				return
			}
			batch = append(batch, evt)
			if len(batch) >= w.batchSize {
				w.flushBatch(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flushBatch(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			w.flushBatch(ctx, batch)
			return
		}
	}
}

func (w *AuditWriter) flushBatch(ctx context.Context, batch []domain.OutboundEvent) {
	if len(batch) == 0 {
		return
	}

	err := w.db.BatchInsertEvents(ctx, batch)
	if err != nil {
		w.log.Warn("audit write failed, retrying once", "batch", len(batch), "error", err)
		time.Sleep(500 * time.Millisecond)
		err = w.db.BatchInsertEvents(ctx, batch)
		if err != nil {
			metrics.AuditWriteFailures.Add(int64(len(batch)))
			w.log.Error("audit write permanently failed", "batch", len(batch), "error", err)
			return
		}
	}
	metrics.AuditWriteSuccess.Add(int64(len(batch)))

	for _, evt := range batch {
		if evt.Type == domain.EventRiskUpdated {
			continue
		}
		if err := w.db.InsertAlert(ctx, evt); err != nil {
			w.log.Warn("alert row insert failed", "event_id", evt.ID, "error", err)
		}
	}
}
