package backfill

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/fortuna/rapm/internal/rapm"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestDeriveType(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		want    JobType
		wantErr bool
	}{
		{name: "games win", req: Request{Season: "2023-24", GameIDs: []string{"g1"}}, want: JobTypeGame},
		{name: "season", req: Request{Season: "2023-24"}, want: JobTypeSeason},
		{name: "blank season", req: Request{Season: "  "}, wantErr: true},
		{name: "empty", req: Request{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.req.DeriveType()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildSpec(t *testing.T) {
	spec, err := buildSpec(&Job{
		JobType:       JobTypeSeason,
		Season:        sql.NullString{String: "2023-24", Valid: true},
		FailOnAnomaly: true,
	})
	require.NoError(t, err)
	assert.Equal(t, JobSpec{Type: JobTypeSeason, Season: "2023-24", FailOnAnomaly: true}, spec)

	spec, err = buildSpec(&Job{JobType: JobTypeGame, GameIDs: pq.StringArray{"g1", "g2"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"g1", "g2"}, spec.GameIDs)

	_, err = buildSpec(&Job{JobType: JobTypeGame})
	assert.Error(t, err)
	_, err = buildSpec(&Job{JobType: JobTypeSeason})
	assert.Error(t, err)
	_, err = buildSpec(&Job{JobType: "date_range"})
	assert.Error(t, err)
}

func TestOutcomeRecords(t *testing.T) {
	result := &SeasonResult{
		Season: "2023-24",
		Games: []GameResult{
			{GameID: "g3", Status: GameFailed, Attempts: 1, Err: errors.New("reset")},
			{GameID: "g1", Status: GameProcessed, Attempts: 2, Table: &rapm.Table{Rows: []rapm.Row{{}, {}}},
				Anomalies: []rapm.Anomaly{{Kind: rapm.AnomalyLineupSize}}},
			{GameID: "g2", Status: GameBad, Attempts: 1, Reason: "event order"},
		},
	}

	recs := OutcomeRecords(result)
	require.Len(t, recs, 3)

	assert.Equal(t, "g1", recs[0].GameID)
	assert.Equal(t, "processed", recs[0].Status)
	assert.Equal(t, 2, recs[0].RowCount)
	assert.Equal(t, 1, recs[0].Anomalies)
	assert.False(t, recs[0].Reason.Valid)

	assert.Equal(t, "bad_game", recs[1].Status)
	assert.Equal(t, "event order", recs[1].Reason.String)

	assert.Equal(t, "failed", recs[2].Status)
	assert.Equal(t, "reset", recs[2].Reason.String)
	for _, r := range recs {
		assert.Equal(t, "2023-24", r.Season)
	}
}
