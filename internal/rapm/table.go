// Package rapm turns possession data into the flat table consumed by the
// regularized adjusted plus-minus fit.
package rapm

import (
	"fmt"
	"strconv"
)

// LineupSize is the number of players per side on court.
const LineupSize = 5

// SeasonColumn is appended to the model columns when a table carries season labels.
const SeasonColumn = "season"

// Columns are the model input columns in output order.
var Columns = []string{
	"off_1", "off_2", "off_3", "off_4", "off_5",
	"def_1", "def_2", "def_3", "def_4", "def_5",
	"possessions", "points",
}

// Row is one possession. Empty player slots hold 0.
type Row struct {
	GameID      string
	Season      string
	Offense     [LineupSize]int
	Defense     [LineupSize]int
	Possessions int
	Points      int
}

// Values returns the model column values in Columns order.
func (r Row) Values() []int {
	out := make([]int, 0, len(Columns))
	out = append(out, r.Offense[:]...)
	out = append(out, r.Defense[:]...)
	return append(out, r.Possessions, r.Points)
}

// Table is an ordered collection of rows sharing one column layout.
type Table struct {
	Rows    []Row
	Labeled bool
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{Rows: []Row{}}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Columns returns the column names for this table.
func (t *Table) Columns() []string {
	cols := append([]string(nil), Columns...)
	if t != nil && t.Labeled {
		cols = append(cols, SeasonColumn)
	}
	return cols
}

// Append adds rows to the end of the table.
func (t *Table) Append(rows ...Row) {
	t.Rows = append(t.Rows, rows...)
}

// WithSeason returns a copy of t with every row labeled with season.
func (t *Table) WithSeason(season string) *Table {
	out := &Table{Rows: make([]Row, len(t.Rows)), Labeled: true}
	for i, r := range t.Rows {
		r.Season = season
		out.Rows[i] = r
	}
	return out
}

// Records renders the table as string records, header first.
func (t *Table) Records() [][]string {
	records := make([][]string, 0, t.Len()+1)
	records = append(records, t.Columns())
	for _, r := range t.Rows {
		rec := make([]string, 0, len(Columns)+1)
		for _, v := range r.Values() {
			rec = append(rec, strconv.Itoa(v))
		}
		if t.Labeled {
			rec = append(rec, r.Season)
		}
		records = append(records, rec)
	}
	return records
}

// Concat joins tables in order. All inputs must share the same layout.
func Concat(tables ...*Table) (*Table, error) {
	out := NewTable()
	set := false
	for i, t := range tables {
		if t == nil {
			continue
		}
		if !set {
			out.Labeled = t.Labeled
			set = true
		} else if t.Labeled != out.Labeled {
			return nil, fmt.Errorf("table %d: cannot concatenate labeled and unlabeled tables", i)
		}
		out.Append(t.Rows...)
	}
	return out, nil
}

// SeasonTable pairs a season label with its table.
type SeasonTable struct {
	Season string
	Table  *Table
}

// Combine labels each season's rows and concatenates them in the given order.
func Combine(seasons ...SeasonTable) *Table {
	out := &Table{Rows: []Row{}, Labeled: true}
	for _, s := range seasons {
		if s.Table == nil {
			continue
		}
		out.Append(s.Table.WithSeason(s.Season).Rows...)
	}
	return out
}
