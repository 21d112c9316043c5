package backfill

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/fortuna/rapm/internal/ingest/pbp"
	"github.com/fortuna/rapm/internal/rapm"
	"github.com/fortuna/rapm/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusUpdate struct {
	status  JobStatus
	message string
	err     error
}

type fakeJobStore struct {
	mu       sync.Mutex
	queued   []*Job
	statuses []statusUpdate
	totals   [3]int
	progress []string
}

func (f *fakeJobStore) CreateJob(_ context.Context, job *Job) (*Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queued = append(f.queued, job)
	return job, nil
}

func (f *fakeJobStore) UpdateStatus(_ context.Context, _ string, status JobStatus, message string, lastErr error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, statusUpdate{status: status, message: message, err: lastErr})
	return nil
}

func (f *fakeJobStore) UpdateProgress(_ context.Context, _ string, _, _ int, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, message)
	return nil
}

func (f *fakeJobStore) RecordTotals(_ context.Context, _ string, rows, badGames, failed int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.totals = [3]int{rows, badGames, failed}
	return nil
}

func (f *fakeJobStore) ResetStuckJobs(context.Context) error { return nil }

func (f *fakeJobStore) MarkNextJobRunning(context.Context) (*Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queued) == 0 {
		return nil, nil
	}
	job := f.queued[0]
	f.queued = f.queued[1:]
	return job, nil
}

func (f *fakeJobStore) GetActiveJob(context.Context) (*Job, error) { return nil, nil }

func (f *fakeJobStore) ListRecentJobs(context.Context, int) ([]*Job, error) { return nil, nil }

func (f *fakeJobStore) final() statusUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return statusUpdate{}
	}
	return f.statuses[len(f.statuses)-1]
}

type fakeSeasonWriter struct {
	calls    int
	season   string
	rows     int
	outcomes []store.GameOutcome
	err      error
}

func (w *fakeSeasonWriter) Replace(_ context.Context, season string, table *rapm.Table, outcomes []store.GameOutcome) (int, error) {
	w.calls++
	if w.err != nil {
		return 0, w.err
	}
	w.season = season
	w.rows = table.Len()
	w.outcomes = outcomes
	return table.Len(), nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func seasonJob() *Job {
	return &Job{
		JobID:   "run-1",
		JobType: JobTypeSeason,
		Season:  sql.NullString{String: "2023-24", Valid: true},
		Status:  JobStatusRunning,
	}
}

func twoGameProvider() *fakeProvider {
	return &fakeProvider{
		season: []string{"g1", "g2"},
		games: map[string]*pbp.Game{
			"g1": simpleGame("g1", 2, 3),
			"g2": simpleGame("g2", 1),
		},
	}
}

func TestExecuteSeasonJobPersistsOnce(t *testing.T) {
	jobs := &fakeJobStore{}
	writer := &fakeSeasonWriter{}
	svc := newService(jobs, newRunner(twoGameProvider()), writer, quietLogger())

	svc.executeJob(seasonJob())

	assert.Equal(t, 1, writer.calls)
	assert.Equal(t, "2023-24", writer.season)
	assert.Equal(t, 3, writer.rows)
	require.Len(t, writer.outcomes, 2)
	assert.Equal(t, "g1", writer.outcomes[0].GameID)

	assert.Equal(t, [3]int{3, 0, 0}, jobs.totals)
	assert.Equal(t, JobStatusCompleted, jobs.final().status)
	assert.Contains(t, jobs.progress, "Run starting")
}

func TestExecuteGameJobDoesNotPersist(t *testing.T) {
	jobs := &fakeJobStore{}
	writer := &fakeSeasonWriter{}
	svc := newService(jobs, newRunner(twoGameProvider()), writer, quietLogger())

	svc.executeJob(&Job{JobID: "run-2", JobType: JobTypeGame, GameIDs: []string{"g2"}})

	assert.Zero(t, writer.calls)
	assert.Equal(t, [3]int{1, 0, 0}, jobs.totals)
	assert.Equal(t, JobStatusCompleted, jobs.final().status)
}

func TestExecuteJobPersistFailure(t *testing.T) {
	jobs := &fakeJobStore{}
	writer := &fakeSeasonWriter{err: errors.New("copy failed")}
	svc := newService(jobs, newRunner(twoGameProvider()), writer, quietLogger())

	svc.executeJob(seasonJob())

	final := jobs.final()
	assert.Equal(t, JobStatusFailed, final.status)
	assert.Equal(t, "Persist failed", final.message)
	assert.EqualError(t, final.err, "copy failed")
	assert.Equal(t, [3]int{}, jobs.totals)
}

func TestExecuteJobRunnerErrorFails(t *testing.T) {
	provider := &fakeProvider{errs: map[string]error{"season": errors.New("schedule down")}}
	jobs := &fakeJobStore{}
	writer := &fakeSeasonWriter{}
	svc := newService(jobs, newRunner(provider), writer, quietLogger())

	svc.executeJob(seasonJob())

	assert.Equal(t, JobStatusFailed, jobs.final().status)
	assert.Zero(t, writer.calls)
}

func TestExecuteJobCancelledByShutdown(t *testing.T) {
	jobs := &fakeJobStore{}
	writer := &fakeSeasonWriter{}
	svc := newService(jobs, newRunner(twoGameProvider()), writer, quietLogger())
	svc.cancel()

	svc.executeJob(seasonJob())

	final := jobs.final()
	assert.Equal(t, JobStatusCancelled, final.status)
	assert.ErrorIs(t, final.err, context.Canceled)
	assert.Zero(t, writer.calls)
}

func TestExecuteJobInvalidSpec(t *testing.T) {
	jobs := &fakeJobStore{}
	svc := newService(jobs, newRunner(twoGameProvider()), &fakeSeasonWriter{}, quietLogger())

	svc.executeJob(&Job{JobID: "run-3", JobType: JobTypeGame})

	final := jobs.final()
	assert.Equal(t, JobStatusFailed, final.status)
	assert.Equal(t, "Invalid run specification", final.message)
}

func TestServiceWorkerRunsQueuedJob(t *testing.T) {
	jobs := &fakeJobStore{}
	writer := &fakeSeasonWriter{}
	svc := newService(jobs, newRunner(twoGameProvider()), writer, quietLogger())
	svc.pollInterval = 10 * time.Millisecond

	job, err := svc.Enqueue(context.Background(), Request{Season: "2023-24"})
	require.NoError(t, err)
	assert.Equal(t, JobStatusQueued, job.Status)
	assert.NotEmpty(t, job.JobID)

	svc.Start()
	require.Eventually(t, func() bool {
		return jobs.final().status == JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, svc.Shutdown(context.Background()))
}
