package repository

import (
	"context"
	"fmt"

	"github.com/fortuna/rapm/internal/rapm"
	"github.com/fortuna/rapm/internal/store"
)

// SeasonRepository writes a season's rows and game outcomes together.
type SeasonRepository struct {
	db *store.Database
}

// NewSeasonRepository creates a new season repository
func NewSeasonRepository(db *store.Database) *SeasonRepository {
	return &SeasonRepository{db: db}
}

// Replace swaps the stored rows and outcomes for season in a single
// transaction. Readers never see rows from one run next to outcomes from
// another.
func (r *SeasonRepository) Replace(ctx context.Context, season string, table *rapm.Table, outcomes []store.GameOutcome) (int, error) {
	tx, err := r.db.DB().BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := replaceRows(ctx, tx, season, table); err != nil {
		return 0, err
	}
	if err := replaceOutcomes(ctx, tx, season, outcomes); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit season %s: %w", season, err)
	}
	return table.Len(), nil
}
