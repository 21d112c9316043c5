// Package export writes season tables to files for the model fit.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fortuna/rapm/internal/rapm"
)

// Format is an output file format.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// FormatFromPath picks a format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".parquet", ".pq":
		return FormatParquet, nil
	default:
		return "", fmt.Errorf("unsupported output extension %q (want .csv or .parquet)", filepath.Ext(path))
	}
}

// WriteFile writes table to path in the format implied by its extension.
func WriteFile(path string, table *rapm.Table) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	switch format {
	case FormatParquet:
		err = WriteParquet(f, table)
	default:
		err = WriteCSV(f, table)
	}
	if err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
