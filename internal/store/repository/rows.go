package repository

import (
	"context"
	"fmt"

	"github.com/fortuna/rapm/internal/rapm"
	"github.com/fortuna/rapm/internal/store"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// RowRepository handles persisted season tables.
type RowRepository struct {
	db *store.Database
}

// NewRowRepository creates a new row repository
func NewRowRepository(db *store.Database) *RowRepository {
	return &RowRepository{db: db}
}

var rowColumns = []string{
	"season", "game_id", "seq",
	"off_1", "off_2", "off_3", "off_4", "off_5",
	"def_1", "def_2", "def_3", "def_4", "def_5",
	"possessions", "points",
}

// replaceRows clears season and bulk loads table inside tx.
func replaceRows(ctx context.Context, tx *sqlx.Tx, season string, table *rapm.Table) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM possession_rows WHERE season = $1`, season); err != nil {
		return fmt.Errorf("clearing season %s: %w", season, err)
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("possession_rows", rowColumns...))
	if err != nil {
		return fmt.Errorf("prepare copy: %w", err)
	}

	for i, row := range table.Rows {
		p := store.NewPossessionRow(season, i, row)
		_, err := stmt.ExecContext(ctx,
			p.Season, p.GameID, p.Seq,
			p.Off1, p.Off2, p.Off3, p.Off4, p.Off5,
			p.Def1, p.Def2, p.Def3, p.Def4, p.Def5,
			p.Possessions, p.Points,
		)
		if err != nil {
			stmt.Close()
			return fmt.Errorf("copy row %d: %w", i, err)
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("flush copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("close copy: %w", err)
	}
	return nil
}

// ListSeason returns the stored table for season in insertion order.
func (r *RowRepository) ListSeason(ctx context.Context, season string) (*rapm.Table, error) {
	var rows []store.PossessionRow
	err := r.db.DB().SelectContext(ctx, &rows, `
		SELECT id, season, game_id, seq,
			off_1, off_2, off_3, off_4, off_5,
			def_1, def_2, def_3, def_4, def_5,
			possessions, points, created_at
		FROM possession_rows
		WHERE season = $1
		ORDER BY seq
	`, season)
	if err != nil {
		return nil, fmt.Errorf("querying rows for %s: %w", season, err)
	}

	table := rapm.NewTable()
	for _, p := range rows {
		row := p.Row()
		row.Season = ""
		table.Append(row)
	}
	return table, nil
}
