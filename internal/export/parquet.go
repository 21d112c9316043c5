package export

import (
	"io"

	"github.com/fortuna/rapm/internal/rapm"
	"github.com/parquet-go/parquet-go"
)

type modelRow struct {
	Off1        int64 `parquet:"off_1"`
	Off2        int64 `parquet:"off_2"`
	Off3        int64 `parquet:"off_3"`
	Off4        int64 `parquet:"off_4"`
	Off5        int64 `parquet:"off_5"`
	Def1        int64 `parquet:"def_1"`
	Def2        int64 `parquet:"def_2"`
	Def3        int64 `parquet:"def_3"`
	Def4        int64 `parquet:"def_4"`
	Def5        int64 `parquet:"def_5"`
	Possessions int64 `parquet:"possessions"`
	Points      int64 `parquet:"points"`
}

type labeledRow struct {
	Off1        int64  `parquet:"off_1"`
	Off2        int64  `parquet:"off_2"`
	Off3        int64  `parquet:"off_3"`
	Off4        int64  `parquet:"off_4"`
	Off5        int64  `parquet:"off_5"`
	Def1        int64  `parquet:"def_1"`
	Def2        int64  `parquet:"def_2"`
	Def3        int64  `parquet:"def_3"`
	Def4        int64  `parquet:"def_4"`
	Def5        int64  `parquet:"def_5"`
	Possessions int64  `parquet:"possessions"`
	Points      int64  `parquet:"points"`
	Season      string `parquet:"season"`
}

func toModelRow(r rapm.Row) modelRow {
	v := r.Values()
	return modelRow{
		Off1: int64(v[0]), Off2: int64(v[1]), Off3: int64(v[2]), Off4: int64(v[3]), Off5: int64(v[4]),
		Def1: int64(v[5]), Def2: int64(v[6]), Def3: int64(v[7]), Def4: int64(v[8]), Def5: int64(v[9]),
		Possessions: int64(v[10]),
		Points:      int64(v[11]),
	}
}

// WriteParquet writes table as a Snappy-compressed Parquet file. Labeled tables
// carry a trailing season column.
func WriteParquet(w io.Writer, table *rapm.Table) error {
	if table.Labeled {
		rows := make([]labeledRow, len(table.Rows))
		for i, r := range table.Rows {
			m := toModelRow(r)
			rows[i] = labeledRow{
				Off1: m.Off1, Off2: m.Off2, Off3: m.Off3, Off4: m.Off4, Off5: m.Off5,
				Def1: m.Def1, Def2: m.Def2, Def3: m.Def3, Def4: m.Def4, Def5: m.Def5,
				Possessions: m.Possessions,
				Points:      m.Points,
				Season:      r.Season,
			}
		}
		return writeRows(w, rows, parquet.SchemaOf(new(labeledRow)))
	}

	rows := make([]modelRow, len(table.Rows))
	for i, r := range table.Rows {
		rows[i] = toModelRow(r)
	}
	return writeRows(w, rows, parquet.SchemaOf(new(modelRow)))
}

func writeRows[T any](w io.Writer, rows []T, schema *parquet.Schema) error {
	pw := parquet.NewWriter(w, schema, parquet.Compression(&parquet.Snappy))
	for _, r := range rows {
		if err := pw.Write(r); err != nil {
			_ = pw.Close()
			return err
		}
	}
	return pw.Close()
}
