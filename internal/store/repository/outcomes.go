package repository

import (
	"context"
	"fmt"

	"github.com/fortuna/rapm/internal/store"
	"github.com/jmoiron/sqlx"
)

// OutcomeRepository stores per-game results of the latest run for a season.
type OutcomeRepository struct {
	db *store.Database
}

// NewOutcomeRepository creates a new outcome repository
func NewOutcomeRepository(db *store.Database) *OutcomeRepository {
	return &OutcomeRepository{db: db}
}

// replaceOutcomes clears season's outcomes and inserts outcomes inside tx.
func replaceOutcomes(ctx context.Context, tx *sqlx.Tx, season string, outcomes []store.GameOutcome) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM game_outcomes WHERE season = $1`, season); err != nil {
		return fmt.Errorf("clearing outcomes for %s: %w", season, err)
	}

	for _, o := range outcomes {
		o.Season = season
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO game_outcomes (season, game_id, status, attempts, row_count, anomalies, reason)
			VALUES (:season, :game_id, :status, :attempts, :row_count, :anomalies, :reason)
			ON CONFLICT (season, game_id) DO UPDATE
			SET status = EXCLUDED.status,
				attempts = EXCLUDED.attempts,
				row_count = EXCLUDED.row_count,
				anomalies = EXCLUDED.anomalies,
				reason = EXCLUDED.reason,
				recorded_at = NOW()
		`, o)
		if err != nil {
			return fmt.Errorf("inserting outcome %s: %w", o.GameID, err)
		}
	}
	return nil
}

// ListByStatus returns the outcomes for season with the given status, or all
// outcomes when status is empty.
func (r *OutcomeRepository) ListByStatus(ctx context.Context, season, status string) ([]store.GameOutcome, error) {
	query := `
		SELECT season, game_id, status, attempts, row_count, anomalies, reason, recorded_at
		FROM game_outcomes
		WHERE season = $1 AND ($2::text = '' OR status = $2::text)
		ORDER BY game_id
	`

	outcomes := []store.GameOutcome{}
	if err := r.db.DB().SelectContext(ctx, &outcomes, query, season, status); err != nil {
		return nil, fmt.Errorf("querying outcomes for %s: %w", season, err)
	}
	return outcomes, nil
}

// BadGames returns game id to error text for the season's bad games.
func (r *OutcomeRepository) BadGames(ctx context.Context, season string) (map[string]string, error) {
	outcomes, err := r.ListByStatus(ctx, season, "bad_game")
	if err != nil {
		return nil, err
	}

	bad := make(map[string]string, len(outcomes))
	for _, o := range outcomes {
		bad[o.GameID] = o.Reason.String
	}
	return bad, nil
}
