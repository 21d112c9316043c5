package rapm

import (
	"fmt"

	"github.com/fortuna/rapm/internal/ingest/pbp"
)

// AnomalyKind tags a data problem found while building a row.
type AnomalyKind string

const (
	AnomalyOffenseSentinel    AnomalyKind = "offense_sentinel"
	AnomalyOffenseNotInLineup AnomalyKind = "offense_not_in_lineup"
	AnomalyDefenseNotInLineup AnomalyKind = "defense_not_in_lineup"
	AnomalyLineupSize         AnomalyKind = "lineup_size"
	AnomalyMissingScore       AnomalyKind = "missing_score"
	AnomalyNegativePoints     AnomalyKind = "negative_points"
)

// Anomaly describes a possession whose row was built with a fallback.
type Anomaly struct {
	Kind          AnomalyKind
	GameID        string
	Row           int
	OffenseTeamID int
	Lineups       map[int][]int
	Detail        string
}

func (a Anomaly) String() string {
	return fmt.Sprintf("game %s row %d: %s (offense %d, lineups %v): %s",
		a.GameID, a.Row, a.Kind, a.OffenseTeamID, a.Lineups, a.Detail)
}

// Result holds one game's rows and any anomalies found building them.
type Result struct {
	GameID    string
	Rows      []Row
	Anomalies []Anomaly
}

// Table wraps the rows in a Table.
func (r Result) Table() *Table {
	return &Table{Rows: r.Rows}
}

// Transform emits one row per possession-ending event in game.
func Transform(game *pbp.Game) Result {
	res := Result{GameID: game.GameID, Rows: []Row{}}

	// previous possession-ending score; nil until the first one is seen
	var prevScore map[int]int

	for _, poss := range game.Possessions {
		for _, ev := range poss.Events {
			if !ev.PossessionEnding {
				continue
			}

			idx := len(res.Rows)
			flag := func(kind AnomalyKind, offense int, detail string) {
				res.Anomalies = append(res.Anomalies, Anomaly{
					Kind:          kind,
					GameID:        game.GameID,
					Row:           idx,
					OffenseTeamID: offense,
					Lineups:       ev.Lineups,
					Detail:        detail,
				})
			}

			offense := ev.OffenseTeam()
			if !game.HasTeam(offense) {
				flag(AnomalyOffenseSentinel, offense,
					fmt.Sprintf("using possession offense team %d", poss.OffenseTeamID))
				offense = poss.OffenseTeamID
			}

			row := Row{GameID: game.GameID, Possessions: 1}

			if players, ok := ev.Lineups[offense]; ok {
				if len(players) != LineupSize {
					flag(AnomalyLineupSize, offense, fmt.Sprintf("offense has %d players", len(players)))
				}
				copy(row.Offense[:], players)
			} else {
				flag(AnomalyOffenseNotInLineup, offense, "offense slots left empty")
			}

			defense, ok := defenseTeam(ev.Lineups, offense)
			if ok {
				players := ev.Lineups[defense]
				if len(players) != LineupSize {
					flag(AnomalyLineupSize, offense, fmt.Sprintf("defense has %d players", len(players)))
				}
				copy(row.Defense[:], players)
			} else {
				flag(AnomalyDefenseNotInLineup, offense,
					fmt.Sprintf("%d lineup keys present, defense slots left empty", len(ev.Lineups)))
			}

			current, ok := ev.Score[offense]
			if !ok {
				flag(AnomalyMissingScore, offense, "offense missing from score")
			}
			row.Points = current - prevScore[offense]
			if row.Points < 0 {
				flag(AnomalyNegativePoints, offense,
					fmt.Sprintf("score fell from %d to %d", prevScore[offense], current))
			}

			res.Rows = append(res.Rows, row)
			prevScore = ev.Score
		}
	}

	return res
}

// defenseTeam returns the lineup key that is not offense. It needs exactly one
// such key.
func defenseTeam(lineups map[int][]int, offense int) (int, bool) {
	var defense int
	found := 0
	for team := range lineups {
		if team == offense {
			continue
		}
		defense = team
		found++
	}
	return defense, found == 1
}
