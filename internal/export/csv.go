package export

import (
	"encoding/csv"
	"io"

	"github.com/fortuna/rapm/internal/rapm"
)

// WriteCSV writes the header row followed by one record per row.
func WriteCSV(w io.Writer, table *rapm.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(table.Records()); err != nil {
		return err
	}
	return cw.Error()
}
