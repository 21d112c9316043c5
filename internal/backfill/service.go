package backfill

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fortuna/rapm/internal/rapm"
	"github.com/fortuna/rapm/internal/store"
	"github.com/fortuna/rapm/internal/store/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Request represents a run invocation request.
type Request struct {
	Season        string
	GameIDs       []string
	FailOnAnomaly bool
}

// DeriveType infers the job type based on populated fields.
func (r Request) DeriveType() (JobType, error) {
	if len(r.GameIDs) > 0 {
		return JobTypeGame, nil
	}
	if strings.TrimSpace(r.Season) != "" {
		return JobTypeSeason, nil
	}
	return "", fmt.Errorf("unable to determine run type from request")
}

// SeasonWriter replaces a season's rows and game outcomes atomically.
type SeasonWriter interface {
	Replace(ctx context.Context, season string, table *rapm.Table, outcomes []store.GameOutcome) (int, error)
}

// jobStore is the run bookkeeping the worker needs.
type jobStore interface {
	CreateJob(ctx context.Context, job *Job) (*Job, error)
	UpdateStatus(ctx context.Context, jobID string, status JobStatus, message string, lastErr error) error
	UpdateProgress(ctx context.Context, jobID string, current, total int, message string) error
	RecordTotals(ctx context.Context, jobID string, rows, badGames, failed int) error
	ResetStuckJobs(ctx context.Context) error
	MarkNextJobRunning(ctx context.Context) (*Job, error)
	GetActiveJob(ctx context.Context) (*Job, error)
	ListRecentJobs(ctx context.Context, limit int) ([]*Job, error)
}

// Service coordinates job persistence, execution, and status reporting.
type Service struct {
	repo    jobStore
	runner  *Runner
	seasons SeasonWriter

	reporters    []Reporter
	historyLimit int
	pollInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *logrus.Entry
}

// NewService constructs a Service. Call Start to launch the worker.
// Extra reporters receive every callback of every run.
func NewService(db *store.Database, runner *Runner, logger *logrus.Logger, reporters ...Reporter) *Service {
	return newService(NewRepository(db), runner, repository.NewSeasonRepository(db), logger, reporters...)
}

func newService(repo jobStore, runner *Runner, seasons SeasonWriter, logger *logrus.Logger, reporters ...Reporter) *Service {
	ctx, cancel := context.WithCancel(context.Background())

	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Service{
		repo:         repo,
		runner:       runner,
		seasons:      seasons,
		reporters:    reporters,
		historyLimit: 10,
		pollInterval: 3 * time.Second,
		ctx:          ctx,
		cancel:       cancel,
		logger:       logger.WithField("component", "backfill"),
	}
}

// Start launches the background worker loop.
func (s *Service) Start() {
	if err := s.repo.ResetStuckJobs(s.ctx); err != nil {
		s.logger.WithError(err).Warn("failed to reset runs")
	}

	s.wg.Add(1)
	go s.worker()
}

// Shutdown stops the worker and waits for it to finish.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Enqueue creates a new run from the provided request.
func (s *Service) Enqueue(ctx context.Context, req Request) (*Job, error) {
	jobType, err := req.DeriveType()
	if err != nil {
		return nil, err
	}

	job := &Job{
		JobID:         uuid.NewString(),
		JobType:       jobType,
		Season:        sql.NullString{String: req.Season, Valid: req.Season != ""},
		FailOnAnomaly: req.FailOnAnomaly,
		Status:        JobStatusQueued,
		StatusMessage: sql.NullString{String: "Queued", Valid: true},
	}
	if jobType == JobTypeGame {
		job.GameIDs = req.GameIDs
		job.ProgressTotal = len(req.GameIDs)
	}

	stored, err := s.repo.CreateJob(ctx, job)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"run_id": stored.JobID,
		"type":   stored.JobType,
		"season": req.Season,
	}).Info("run queued")

	return stored, nil
}

// GetStatus returns the currently running job plus recent history.
func (s *Service) GetStatus(ctx context.Context) (*StatusSummary, error) {
	active, err := s.repo.GetActiveJob(ctx)
	if err != nil {
		return nil, err
	}

	history, err := s.repo.ListRecentJobs(ctx, s.historyLimit)
	if err != nil {
		return nil, err
	}

	return &StatusSummary{
		ActiveJob: active,
		History:   history,
	}, nil
}

func (s *Service) worker() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
			job, err := s.repo.MarkNextJobRunning(s.ctx)
			if err != nil {
				s.logger.WithError(err).Error("claim run error")
				time.Sleep(time.Second)
				continue
			}
			if job == nil {
				select {
				case <-s.ctx.Done():
					return
				case <-ticker.C:
					continue
				}
			}

			s.executeJob(job)
		}
	}
}

func (s *Service) executeJob(job *Job) {
	log := s.logger.WithField("run_id", job.JobID)
	if job.Season.Valid {
		log = log.WithField("season", job.Season.String)
	}

	spec, err := buildSpec(job)
	if err != nil {
		log.WithError(err).Error("invalid run spec")
		_ = s.repo.UpdateStatus(s.ctx, job.JobID, JobStatusFailed, "Invalid run specification", err)
		return
	}

	progress := &jobReporter{
		ctx:    s.ctx,
		repo:   s.repo,
		jobID:  job.JobID,
		total:  job.ProgressTotal,
		logger: log,
	}
	reporter := append(MultiReporter{progress}, s.reporters...)

	result, err := s.runner.Run(s.ctx, spec, reporter)
	if err != nil {
		status := JobStatusFailed
		if s.ctx.Err() != nil {
			status = JobStatusCancelled
		}
		// the service context may already be done; record the final state regardless
		_ = s.repo.UpdateStatus(context.Background(), job.JobID, status, "Run failed", err)
		return
	}

	rows := result.Table.Len()
	if spec.Type == JobTypeSeason {
		if rows, err = s.persist(s.ctx, result); err != nil {
			log.WithError(err).Error("persist season")
			_ = s.repo.UpdateStatus(s.ctx, job.JobID, JobStatusFailed, "Persist failed", err)
			return
		}
	}

	_ = s.repo.RecordTotals(s.ctx, job.JobID, rows, len(result.BadGames), len(result.Failed))
	_ = s.repo.UpdateStatus(s.ctx, job.JobID, JobStatusCompleted, "Run completed", nil)
}

// persist replaces the stored table and outcomes for the result's season.
func (s *Service) persist(ctx context.Context, result *SeasonResult) (int, error) {
	return s.seasons.Replace(ctx, result.Season, result.Table, OutcomeRecords(result))
}

// OutcomeRecords converts per-game results into storable outcomes, ordered by game id.
func OutcomeRecords(result *SeasonResult) []store.GameOutcome {
	out := make([]store.GameOutcome, 0, len(result.Games))
	for _, g := range result.Games {
		rec := store.GameOutcome{
			Season:    result.Season,
			GameID:    g.GameID,
			Status:    string(g.Status),
			Attempts:  g.Attempts,
			RowCount:  g.Rows(),
			Anomalies: len(g.Anomalies),
		}
		reason := g.Reason
		if g.Err != nil {
			reason = g.Err.Error()
		}
		rec.Reason = sql.NullString{String: reason, Valid: reason != ""}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GameID < out[j].GameID })
	return out
}

func buildSpec(job *Job) (JobSpec, error) {
	spec := JobSpec{
		Type:          job.JobType,
		Season:        job.Season.String,
		FailOnAnomaly: job.FailOnAnomaly,
	}

	switch job.JobType {
	case JobTypeGame:
		if len(job.GameIDs) == 0 {
			return spec, fmt.Errorf("game run missing game_ids")
		}
		spec.GameIDs = job.GameIDs
	case JobTypeSeason:
		if spec.Season == "" {
			return spec, fmt.Errorf("season run missing season")
		}
	default:
		return spec, fmt.Errorf("unknown run type %s", job.JobType)
	}

	return spec, nil
}

type jobReporter struct {
	ctx    context.Context
	repo   jobStore
	jobID  string
	total  int
	logger *logrus.Entry
}

func (r *jobReporter) OnJobStart(spec JobSpec) {
	_ = r.repo.UpdateProgress(r.ctx, r.jobID, 0, r.total, "Run starting")
}

func (r *jobReporter) OnGameStart(gameID string, index int, total int) {
	r.total = total
	msg := fmt.Sprintf("Processing game %s (%d/%d)", gameID, index+1, total)
	_ = r.repo.UpdateProgress(r.ctx, r.jobID, index, total, msg)
}

func (r *jobReporter) OnGameProcessed(result GameResult) {
	r.logger.WithFields(logrus.Fields{
		"game_id":  result.GameID,
		"status":   result.Status,
		"rows":     result.Rows(),
		"attempts": result.Attempts,
	}).Debug("game processed")
}

func (r *jobReporter) OnProgress(message string, current int, total int) {
	_ = r.repo.UpdateProgress(r.ctx, r.jobID, current, valueOr(total, r.total), message)
}

func (r *jobReporter) OnJobComplete(result *SeasonResult) {
	_ = r.repo.UpdateProgress(r.ctx, r.jobID, r.total, r.total, "Run complete")
}

func (r *jobReporter) OnJobError(err error) {
	r.logger.WithError(err).Error("run error")
}

func valueOr(val, fallback int) int {
	if val > 0 {
		return val
	}
	return fallback
}
