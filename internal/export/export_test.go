package export

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/fortuna/rapm/internal/rapm"
	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTable() *rapm.Table {
	return &rapm.Table{Rows: []rapm.Row{
		{GameID: "g1", Offense: [5]int{1, 2, 3, 4, 5}, Defense: [5]int{6, 7, 8, 9, 10}, Possessions: 1, Points: 2},
		{GameID: "g1", Offense: [5]int{6, 7, 8, 9, 10}, Defense: [5]int{1, 2, 3, 4, 5}, Possessions: 1, Points: 0},
	}}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleTable()))

	recs, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, rapm.Columns, recs[0])
	assert.Equal(t, []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "1", "2"}, recs[1])
}

func TestWriteCSVLabeled(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleTable().WithSeason("2023-24")))

	recs, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, rapm.SeasonColumn, recs[0][len(recs[0])-1])
	assert.Equal(t, "2023-24", recs[2][len(recs[2])-1])
}

func TestWriteParquet(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteParquet(&buf, sampleTable()))

	rows, err := parquet.Read[modelRow](bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, toModelRow(sampleTable().Rows[0]), rows[0])
	assert.Equal(t, int64(0), rows[1].Points)
}

func TestWriteParquetLabeled(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteParquet(&buf, sampleTable().WithSeason("2022-23")))

	rows, err := parquet.Read[labeledRow](bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "2022-23", rows[0].Season)
	assert.Equal(t, int64(10), rows[0].Def5)
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()

	csvPath := filepath.Join(dir, "season.csv")
	require.NoError(t, WriteFile(csvPath, sampleTable()))
	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "off_1,off_2")

	pqPath := filepath.Join(dir, "season.parquet")
	require.NoError(t, WriteFile(pqPath, sampleTable()))
	info, err := os.Stat(pqPath)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	assert.Error(t, WriteFile(filepath.Join(dir, "season.xlsx"), sampleTable()))
}

func TestFormatFromPath(t *testing.T) {
	f, err := FormatFromPath("out/ROWS.CSV")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	f, err = FormatFromPath("rows.pq")
	require.NoError(t, err)
	assert.Equal(t, FormatParquet, f)

	_, err = FormatFromPath("rows")
	assert.Error(t, err)
}
