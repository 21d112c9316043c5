package store

import (
	"database/sql"
	"time"

	"github.com/fortuna/rapm/internal/rapm"
)

// PossessionRow is one persisted model row.
type PossessionRow struct {
	ID          int64     `json:"-" db:"id"`
	Season      string    `json:"season" db:"season"`
	GameID      string    `json:"game_id" db:"game_id"`
	Seq         int       `json:"seq" db:"seq"`
	Off1        int       `json:"off_1" db:"off_1"`
	Off2        int       `json:"off_2" db:"off_2"`
	Off3        int       `json:"off_3" db:"off_3"`
	Off4        int       `json:"off_4" db:"off_4"`
	Off5        int       `json:"off_5" db:"off_5"`
	Def1        int       `json:"def_1" db:"def_1"`
	Def2        int       `json:"def_2" db:"def_2"`
	Def3        int       `json:"def_3" db:"def_3"`
	Def4        int       `json:"def_4" db:"def_4"`
	Def5        int       `json:"def_5" db:"def_5"`
	Possessions int       `json:"possessions" db:"possessions"`
	Points      int       `json:"points" db:"points"`
	CreatedAt   time.Time `json:"-" db:"created_at"`
}

// NewPossessionRow converts a table row for storage under season.
func NewPossessionRow(season string, seq int, r rapm.Row) PossessionRow {
	return PossessionRow{
		Season:      season,
		GameID:      r.GameID,
		Seq:         seq,
		Off1:        r.Offense[0],
		Off2:        r.Offense[1],
		Off3:        r.Offense[2],
		Off4:        r.Offense[3],
		Off5:        r.Offense[4],
		Def1:        r.Defense[0],
		Def2:        r.Defense[1],
		Def3:        r.Defense[2],
		Def4:        r.Defense[3],
		Def5:        r.Defense[4],
		Possessions: r.Possessions,
		Points:      r.Points,
	}
}

// Row converts back to a table row.
func (p PossessionRow) Row() rapm.Row {
	return rapm.Row{
		GameID:      p.GameID,
		Season:      p.Season,
		Offense:     [rapm.LineupSize]int{p.Off1, p.Off2, p.Off3, p.Off4, p.Off5},
		Defense:     [rapm.LineupSize]int{p.Def1, p.Def2, p.Def3, p.Def4, p.Def5},
		Possessions: p.Possessions,
		Points:      p.Points,
	}
}

// GameOutcome records how a game ended in the latest run for its season.
type GameOutcome struct {
	Season     string         `json:"season" db:"season"`
	GameID     string         `json:"game_id" db:"game_id"`
	Status     string         `json:"status" db:"status"`
	Attempts   int            `json:"attempts" db:"attempts"`
	RowCount   int            `json:"rows" db:"row_count"`
	Anomalies  int            `json:"anomalies" db:"anomalies"`
	Reason     sql.NullString `json:"-" db:"reason"`
	RecordedAt time.Time      `json:"recorded_at" db:"recorded_at"`
}
