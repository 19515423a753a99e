package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found — using system environment variables")
	}

	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		getEnv("DB_USER", "walk_user"),
		getEnv("DB_PASSWORD", "walk_password"),
		getEnv("DB_HOST", "localhost"),
		getEnv("DB_PORT", "5432"),
		getEnv("DB_NAME", "safety_companion"),
	)

	ctx := context.Background()

	fmt.Println("Connecting to Postgres...")
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure Postgres is running:\n  docker-compose up -d postgres", err)
	}
	defer conn.Close(ctx)
	fmt.Println("✓ Connected")

	step1_events_table(ctx, conn)
	step2_alerts_table(ctx, conn)
	step3_indexes(ctx, conn)
	step4_verify(ctx, conn)

	fmt.Println("\n✅ Database initialised successfully")
}

// ─────────────────────────────────────────────────────────────
// Step 1 — walk_events audit table
// ─────────────────────────────────────────────────────────────
func step1_events_table(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 1: walk_events table ───────────────────")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS walk_events (

			-- Publisher-assigned id; lets replays be spotted downstream
			event_id           TEXT             NOT NULL,

			-- Outbound type discriminator:
			-- risk.updated | off_route | suspicious_jump | night_time | no_movement
			event_type         TEXT             NOT NULL,

			-- Identity
			user_id            TEXT             NOT NULL,
			walking_session_id TEXT,

			-- Human-readable alert text (empty for risk.updated)
			message            TEXT,

			-- 0-100 risk score (NULL for alert events)
			risk_score         DOUBLE PRECISION,

			-- Envelope timestamp vs server receipt time
			event_ts           TIMESTAMPTZ      NOT NULL,
			received_at        TIMESTAMPTZ      NOT NULL DEFAULT NOW()
		);
	`, "walk_events table created")
}

// ─────────────────────────────────────────────────────────────
// Step 2 — walk_alerts table
// ─────────────────────────────────────────────────────────────
func step2_alerts_table(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 2: walk_alerts table ───────────────────")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS walk_alerts (

			-- Publisher event id doubles as the idempotency key
			event_id           TEXT             PRIMARY KEY,

			-- Must match the outbound alert kinds:
			-- off_route | suspicious_jump | night_time | no_movement
			alert_type         TEXT             NOT NULL,

			user_id            TEXT             NOT NULL,
			walking_session_id TEXT,

			message            TEXT,

			created_at         TIMESTAMPTZ      NOT NULL DEFAULT NOW(),

			-- Operator acknowledgment — NULL means not yet acknowledged
			acknowledged_at    TIMESTAMPTZ,
			acknowledged_by    TEXT,

			CONSTRAINT chk_alert_type CHECK (
				alert_type IN ('off_route', 'suspicious_jump', 'night_time', 'no_movement')
			)
		);
	`, "walk_alerts table created")
}

// ─────────────────────────────────────────────────────────────
// Step 3 — Indexes
// ─────────────────────────────────────────────────────────────
func step3_indexes(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 3: Indexes ─────────────────────────────")

	indexes := []struct {
		name string
		sql  string
		why  string
	}{
		{
			name: "idx_events_session_time",
			sql: `CREATE INDEX IF NOT EXISTS idx_events_session_time
				  ON walk_events (walking_session_id, event_ts DESC);`,
			why: "query: event history for one walk",
		},
		{
			name: "idx_events_user_time",
			sql: `CREATE INDEX IF NOT EXISTS idx_events_user_time
				  ON walk_events (user_id, event_ts DESC);`,
			why: "query: all events for one user",
		},
		{
			name: "idx_alerts_session",
			sql: `CREATE INDEX IF NOT EXISTS idx_alerts_session
				  ON walk_alerts (walking_session_id, created_at DESC);`,
			why: "query: alerts for one walk",
		},
		{
			name: "idx_alerts_unacknowledged",
			sql: `CREATE INDEX IF NOT EXISTS idx_alerts_unacknowledged
				  ON walk_alerts (created_at DESC)
				  WHERE acknowledged_at IS NULL;`,
			why: "query: unacknowledged alerts only (partial index)",
		},
	}

	for _, idx := range indexes {
		execOrFatal(ctx, conn, idx.sql,
			fmt.Sprintf("%-35s ← %s", idx.name, idx.why),
		)
	}
}

// ─────────────────────────────────────────────────────────────
// Step 4 — Verify everything was created
// ─────────────────────────────────────────────────────────────
func step4_verify(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 4: Verification ────────────────────────")

	tables := []string{"walk_events", "walk_alerts"}
	for _, table := range tables {
		var exists bool
		err := conn.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_name = $1
			)
		`, table).Scan(&exists)
		if err != nil || !exists {
			log.Fatalf("Table %s was not created: %v", table, err)
		}
		fmt.Printf("  ✓ table: %s\n", table)
	}

	var indexCount int
	err := conn.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM pg_indexes
		WHERE tablename IN ('walk_events', 'walk_alerts')
		AND indexname LIKE 'idx_%'
	`).Scan(&indexCount)
	if err != nil {
		log.Fatalf("Index check failed: %v", err)
	}
	fmt.Printf("  ✓ indexes created: %d\n", indexCount)
}

// ─────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────

func execOrFatal(ctx context.Context, conn *pgx.Conn, sql, label string) {
	_, err := conn.Exec(ctx, sql)
	if err != nil {
		log.Fatalf("FAILED — %s\nError: %v\nSQL: %s", label, err, sql)
	}
	fmt.Printf("  ✓ %s\n", label)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
