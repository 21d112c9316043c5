package backfill

import (
	"context"
	"errors"
	"fmt"

	"github.com/fortuna/rapm/internal/ingest"
	"github.com/fortuna/rapm/internal/rapm"
	"github.com/sirupsen/logrus"
)

// ErrAnomalies marks a game rejected because strict mode was on and its rows
// carried anomalies.
var ErrAnomalies = errors.New("possession anomalies")

// GameFetcher is the slice of ingest.Fetcher the runner needs.
type GameFetcher interface {
	Fetch(ctx context.Context, gameID string) (*ingest.FetchResult, error)
	FinalGames(ctx context.Context, season string) ([]string, error)
}

// Runner builds season tables one game at a time.
type Runner struct {
	fetcher GameFetcher
	logger  *logrus.Entry
}

// NewRunner constructs a runner over fetcher.
func NewRunner(fetcher GameFetcher, logger *logrus.Logger) *Runner {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Runner{
		fetcher: fetcher,
		logger:  logger.WithField("component", "runner"),
	}
}

// Run executes the job spec, reporting progress via the Reporter if provided.
// Per-game failures are recorded in the result; only cancellation or a failure
// to list the season's games stops the run.
func (r *Runner) Run(ctx context.Context, spec JobSpec, reporter Reporter) (*SeasonResult, error) {
	if reporter == nil {
		reporter = MultiReporter(nil)
	}
	reporter.OnJobStart(spec)

	gameIDs, err := r.resolveGames(ctx, spec)
	if err != nil {
		reporter.OnJobError(err)
		return nil, err
	}

	log := r.logger.WithField("season", spec.Season)
	log.WithField("games", len(gameIDs)).Info("run starting")

	result := newSeasonResult(spec.Season)
	tables := make([]*rapm.Table, 0, len(gameIDs))
	total := len(gameIDs)

	for idx, gameID := range gameIDs {
		if err := ctx.Err(); err != nil {
			return r.abort(result, tables, reporter, err)
		}

		reporter.OnGameStart(gameID, idx, total)

		game, err := r.processGame(ctx, gameID, spec.FailOnAnomaly)
		if err != nil {
			return r.abort(result, tables, reporter, err)
		}

		result.Games = append(result.Games, game)
		result.Anomalies = append(result.Anomalies, game.Anomalies...)
		switch game.Status {
		case GameProcessed:
			tables = append(tables, game.Table)
		case GameBad:
			result.BadGames[gameID] = game.Reason
		case GameFailed:
			result.Failed[gameID] = game.Err
		}

		reporter.OnGameProcessed(game)
		reporter.OnProgress(fmt.Sprintf("Game %s %s (%d/%d)", gameID, game.Status, idx+1, total), idx+1, total)
	}

	table, err := rapm.Concat(tables...)
	if err != nil {
		reporter.OnJobError(err)
		return result, fmt.Errorf("concatenate season %s: %w", spec.Season, err)
	}
	result.Table = table

	counts := result.Counts()
	log.WithFields(logrus.Fields{
		"rows":      table.Len(),
		"processed": counts[GameProcessed],
		"bad_games": counts[GameBad],
		"no_data":   counts[GameNoData],
		"failed":    counts[GameFailed],
	}).Info("run complete")

	reporter.OnJobComplete(result)
	return result, nil
}

// abort keeps the rows gathered so far in result and reports err.
func (r *Runner) abort(result *SeasonResult, tables []*rapm.Table, reporter Reporter, err error) (*SeasonResult, error) {
	if partial, concatErr := rapm.Concat(tables...); concatErr == nil {
		result.Table = partial
	}
	reporter.OnJobError(err)
	return result, err
}

func (r *Runner) resolveGames(ctx context.Context, spec JobSpec) ([]string, error) {
	switch spec.Type {
	case JobTypeGame:
		if len(spec.GameIDs) == 0 {
			return nil, fmt.Errorf("no game IDs provided for job type 'game'")
		}
		return spec.GameIDs, nil
	case JobTypeSeason:
		if spec.Season == "" {
			return nil, fmt.Errorf("season job requires a season")
		}
		ids, err := r.fetcher.FinalGames(ctx, spec.Season)
		if err != nil {
			return nil, fmt.Errorf("list season %s: %w", spec.Season, err)
		}
		return ids, nil
	default:
		return nil, fmt.Errorf("unsupported job type %q", spec.Type)
	}
}

// processGame returns an error only when the run itself must stop.
func (r *Runner) processGame(ctx context.Context, gameID string, strict bool) (GameResult, error) {
	log := r.logger.WithField("game_id", gameID)

	fetched, err := r.fetcher.Fetch(ctx, gameID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return GameResult{}, ctxErr
		}
		log.WithError(err).Error("game failed")
		res := GameResult{GameID: gameID, Status: GameFailed, Err: err}
		if fetched != nil {
			res.Attempts = fetched.Attempts
		}
		return res, nil
	}

	res := GameResult{GameID: gameID, Attempts: fetched.Attempts}
	switch fetched.Outcome {
	case ingest.OutcomeNoData:
		res.Status = GameNoData
		res.Reason = fetched.Reason
		return res, nil
	case ingest.OutcomeBadGame:
		res.Status = GameBad
		res.Reason = fetched.Reason
		return res, nil
	}

	out := rapm.Transform(fetched.Game)
	res.Anomalies = out.Anomalies
	for _, a := range out.Anomalies {
		log.WithField("kind", a.Kind).Warn(a.String())
	}

	if strict && len(out.Anomalies) > 0 {
		res.Status = GameFailed
		res.Err = fmt.Errorf("%w: %d in game %s, first: %s", ErrAnomalies, len(out.Anomalies), gameID, out.Anomalies[0])
		return res, nil
	}

	res.Status = GameProcessed
	res.Table = out.Table()
	return res, nil
}
