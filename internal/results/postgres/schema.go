package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlReadingResults holds one row per completed passage. Word lists, the
// accuracy summary and the attached quiz are stored as JSONB so their shape
// can evolve without migrations.
const ddlReadingResults = `
CREATE TABLE IF NOT EXISTS reading_results (
    session_id        TEXT             PRIMARY KEY,
    connection_id     TEXT             NOT NULL DEFAULT '',
    language          TEXT             NOT NULL DEFAULT '',
    passage_words     JSONB            NOT NULL DEFAULT '[]',
    accuracy          JSONB            NOT NULL DEFAULT '{}',
    words_per_minute  DOUBLE PRECISION NOT NULL DEFAULT 0,
    started_at        TIMESTAMPTZ      NOT NULL DEFAULT now(),
    completed_at      TIMESTAMPTZ      NOT NULL DEFAULT now(),
    quiz              JSONB
);

CREATE INDEX IF NOT EXISTS idx_reading_results_completed_at
    ON reading_results (completed_at);

CREATE INDEX IF NOT EXISTS idx_reading_results_rating
    ON reading_results ((accuracy->>'rating'));
`

// Migrate creates the reading_results table and its indexes if they do not
// exist. It is idempotent and safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlReadingResults); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
