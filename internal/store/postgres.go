package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"safety-companion/analytics/internal/config"
	"safety-companion/analytics/internal/domain"
)

// AuditStore persists every published event for after-the-fact review.
// It is an optional sink: the risk core never reads from it.
type AuditStore struct {
	pool *pgxpool.Pool
}

func NewAuditStore(ctx context.Context, cfg *config.Config) (*AuditStore, error) {
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?pool_max_conns=%d",
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBName,
		cfg.DBMaxConns,
	)

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create db pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return &AuditStore{pool: pool}, nil
}

func (s *AuditStore) Close() {
	s.pool.Close()
}

func (s *AuditStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

var eventColumns = []string{
	"event_id",
	"event_type",
	"user_id",
	"walking_session_id",
	"message",
	"risk_score",
	"event_ts",
}

// BatchInsertEvents copies a batch of outbound events into walk_events.
func (s *AuditStore) BatchInsertEvents(ctx context.Context, evts []domain.OutboundEvent) error {
	if len(evts) == 0 {
		return nil
	}

	rows := make([][]interface{}, len(evts))
	for i, e := range evts {
		var score interface{}
		if e.Data.RiskScore != nil {
			score = *e.Data.RiskScore
		}
		ts, err := time.Parse(time.RFC3339, e.TS)
		if err != nil {
			ts = time.Now().UTC()
		}
		rows[i] = []interface{}{
			e.ID,
			e.Type,
			e.Data.UserID,
			e.Data.SessionID,
			e.Data.Message,
			score,
			ts,
		}
	}

	_, err := s.pool.CopyFrom(
		ctx,
		pgx.Identifier{"walk_events"},
		eventColumns,
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("CopyFrom failed for batch of %d: %w", len(evts), err)
	}
	return nil
}

// InsertAlert records an alert-kind event in walk_alerts. The event id is
// the conflict key, so an audit retry cannot duplicate a row.
func (s *AuditStore) InsertAlert(ctx context.Context, e domain.OutboundEvent) error {
	query := `
		INSERT INTO walk_alerts
			(event_id, alert_type, user_id, walking_session_id, message, created_at)
		VALUES
			($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (event_id) DO NOTHING
	`
	_, err := s.pool.Exec(
		ctx,
		query,
		e.ID,
		e.Type,
		e.Data.UserID,
		e.Data.SessionID,
		e.Data.Message,
	)
	return err
}
