package backfill

import (
	"database/sql"
	"time"

	"github.com/fortuna/rapm/internal/rapm"
	"github.com/lib/pq"
)

// JobType enumerates the supported run variants.
type JobType string

const (
	JobTypeSeason JobType = "season"
	JobTypeGame   JobType = "game"
)

// JobStatus represents the lifecycle state for a job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Job models the database representation of a run.
type Job struct {
	JobID           string         `json:"run_id" db:"run_id"`
	JobType         JobType        `json:"type" db:"run_type"`
	Season          sql.NullString `json:"-" db:"season"`
	GameIDs         pq.StringArray `json:"game_ids,omitempty" db:"game_ids"`
	FailOnAnomaly   bool           `json:"fail_on_anomaly" db:"fail_on_anomaly"`
	Status          JobStatus      `json:"status" db:"status"`
	StatusMessage   sql.NullString `json:"-" db:"status_message"`
	ProgressCurrent int            `json:"progress_current" db:"progress_current"`
	ProgressTotal   int            `json:"progress_total" db:"progress_total"`
	RowsWritten     int            `json:"rows_written" db:"rows_written"`
	BadGames        int            `json:"bad_games" db:"bad_games"`
	FailedGames     int            `json:"failed_games" db:"failed_games"`
	LastError       sql.NullString `json:"-" db:"last_error"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" db:"updated_at"`
	StartedAt       sql.NullTime   `json:"-" db:"started_at"`
	CompletedAt     sql.NullTime   `json:"-" db:"completed_at"`
}

// JobSpec describes the work to be performed by the runner.
type JobSpec struct {
	Type          JobType
	Season        string
	GameIDs       []string
	FailOnAnomaly bool
}

// GameStatus is the per-game outcome of a run.
type GameStatus string

const (
	GameProcessed GameStatus = "processed"
	GameBad       GameStatus = "bad_game"
	GameNoData    GameStatus = "no_data"
	GameFailed    GameStatus = "failed"
)

// GameResult is the outcome of one game. Exactly one of the status-specific
// fields is meaningful: Table for processed, Reason for bad_game and no_data,
// Err for failed.
type GameResult struct {
	GameID    string
	Status    GameStatus
	Attempts  int
	Table     *rapm.Table
	Anomalies []rapm.Anomaly
	Reason    string
	Err       error
}

// Rows returns the number of rows produced for the game.
func (g GameResult) Rows() int {
	return g.Table.Len()
}

// SeasonResult is the output of one run.
type SeasonResult struct {
	Season    string
	Table     *rapm.Table
	BadGames  map[string]string
	Failed    map[string]error
	Games     []GameResult
	Anomalies []rapm.Anomaly
}

func newSeasonResult(season string) *SeasonResult {
	return &SeasonResult{
		Season:   season,
		Table:    rapm.NewTable(),
		BadGames: map[string]string{},
		Failed:   map[string]error{},
	}
}

// Counts tallies games by status.
func (r *SeasonResult) Counts() map[GameStatus]int {
	counts := map[GameStatus]int{}
	for _, g := range r.Games {
		counts[g.Status]++
	}
	return counts
}

// Reporter receives lifecycle callbacks from the runner.
type Reporter interface {
	OnJobStart(spec JobSpec)
	OnGameStart(gameID string, index int, total int)
	OnGameProcessed(result GameResult)
	OnProgress(message string, current int, total int)
	OnJobComplete(result *SeasonResult)
	OnJobError(err error)
}

// MultiReporter fans callbacks out to several reporters.
type MultiReporter []Reporter

func (m MultiReporter) OnJobStart(spec JobSpec) {
	for _, r := range m {
		r.OnJobStart(spec)
	}
}

func (m MultiReporter) OnGameStart(gameID string, index int, total int) {
	for _, r := range m {
		r.OnGameStart(gameID, index, total)
	}
}

func (m MultiReporter) OnGameProcessed(result GameResult) {
	for _, r := range m {
		r.OnGameProcessed(result)
	}
}

func (m MultiReporter) OnProgress(message string, current int, total int) {
	for _, r := range m {
		r.OnProgress(message, current, total)
	}
}

func (m MultiReporter) OnJobComplete(result *SeasonResult) {
	for _, r := range m {
		r.OnJobComplete(result)
	}
}

func (m MultiReporter) OnJobError(err error) {
	for _, r := range m {
		r.OnJobError(err)
	}
}

// StatusSummary is returned to API callers.
type StatusSummary struct {
	ActiveJob *Job   `json:"active_run,omitempty"`
	History   []*Job `json:"recent_runs,omitempty"`
}
