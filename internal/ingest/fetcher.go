package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/fortuna/rapm/internal/ingest/pbp"
	"github.com/sirupsen/logrus"
)

// Provider is the upstream play-by-play collaborator.
type Provider interface {
	Game(ctx context.Context, gameID string) (*pbp.Game, error)
	FinalGames(ctx context.Context, season string) ([]string, error)
}

// CachedProvider is a Provider that can serve some games without a request.
type CachedProvider interface {
	CachedGame(ctx context.Context, gameID string) (*pbp.Game, bool)
}

// Outcome classifies how a game fetch ended.
type Outcome string

const (
	OutcomeFetched Outcome = "fetched"
	OutcomeNoData  Outcome = "no_data"
	OutcomeBadGame Outcome = "bad_game"
)

// FetchResult is the classified result of fetching one game.
type FetchResult struct {
	GameID   string
	Outcome  Outcome
	Game     *pbp.Game
	Attempts int
	Reason   string
}

// Config controls request pacing and retry behaviour.
type Config struct {
	PoliteDelay    time.Duration
	InitialBackoff time.Duration
	BackoffFactor  float64
	MaxAttempts    int
}

// DefaultConfig returns the pacing used against the public provider.
func DefaultConfig() Config {
	return Config{
		PoliteDelay:    time.Second,
		InitialBackoff: time.Second,
		BackoffFactor:  3,
		MaxAttempts:    10,
	}
}

// RetryObserver is notified before each backoff wait.
type RetryObserver interface {
	ObserveRetry(gameID string, attempt int, wait time.Duration)
}

// Fetcher wraps a Provider with pacing, timeout retries and bad game classification.
type Fetcher struct {
	provider Provider
	cfg      Config
	sleep    func(ctx context.Context, d time.Duration) error
	observer RetryObserver
	logger   *logrus.Entry
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithSleeper replaces the blocking wait used for pacing and backoff.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) FetcherOption {
	return func(f *Fetcher) { f.sleep = sleep }
}

// WithRetryObserver registers an observer for backoff waits.
func WithRetryObserver(o RetryObserver) FetcherOption {
	return func(f *Fetcher) { f.observer = o }
}

// WithLogger sets the fetcher logger.
func WithLogger(logger *logrus.Logger) FetcherOption {
	return func(f *Fetcher) { f.logger = logger.WithField("component", "fetcher") }
}

// NewFetcher creates a Fetcher. Zero config fields fall back to DefaultConfig.
func NewFetcher(provider Provider, cfg Config, opts ...FetcherOption) *Fetcher {
	def := DefaultConfig()
	if cfg.PoliteDelay < 0 {
		cfg.PoliteDelay = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = def.BackoffFactor
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}

	f := &Fetcher{
		provider: provider,
		cfg:      cfg,
		sleep:    sleepContext,
		logger:   logrus.StandardLogger().WithField("component", "fetcher"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch retrieves one game. Timeouts are retried up to MaxAttempts and then
// reported as OutcomeNoData; malformed play-by-play is reported as
// OutcomeBadGame. Any other failure is returned as an error.
func (f *Fetcher) Fetch(ctx context.Context, gameID string) (*FetchResult, error) {
	// cached games skip pacing; Attempts stays 0
	if cp, ok := f.provider.(CachedProvider); ok {
		if game, hit := cp.CachedGame(ctx, gameID); hit {
			return &FetchResult{GameID: gameID, Outcome: OutcomeFetched, Game: game}, nil
		}
	}

	var game *pbp.Game
	attempts, err := f.withRetry(ctx, gameID, func() error {
		var err error
		game, err = f.provider.Game(ctx, gameID)
		return err
	})

	result := &FetchResult{GameID: gameID, Attempts: attempts}
	switch {
	case err == nil:
		result.Outcome = OutcomeFetched
		result.Game = game
		return result, nil
	case pbp.IsTimeout(err):
		f.logger.WithFields(logrus.Fields{"game_id": gameID, "attempts": attempts}).
			Warn("giving up after repeated timeouts")
		result.Outcome = OutcomeNoData
		result.Reason = err.Error()
		return result, nil
	case pbp.IsMalformed(err):
		f.logger.WithField("game_id", gameID).WithError(err).Warn("bad game")
		result.Outcome = OutcomeBadGame
		result.Reason = err.Error()
		return result, nil
	default:
		return result, fmt.Errorf("fetch game %s: %w", gameID, err)
	}
}

// FinalGames lists a season's completed games with the same pacing and retry rules.
func (f *Fetcher) FinalGames(ctx context.Context, season string) ([]string, error) {
	var ids []string
	attempts, err := f.withRetry(ctx, "", func() error {
		var err error
		ids, err = f.provider.FinalGames(ctx, season)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list final games for %s after %d attempts: %w", season, attempts, err)
	}
	return ids, nil
}

// withRetry runs call until it succeeds, fails with a non-timeout error or
// exhausts MaxAttempts. It returns the number of attempts made.
func (f *Fetcher) withRetry(ctx context.Context, gameID string, call func() error) (int, error) {
	wait := f.cfg.InitialBackoff
	var err error

	for attempt := 1; attempt <= f.cfg.MaxAttempts; attempt++ {
		if sleepErr := f.sleep(ctx, f.cfg.PoliteDelay); sleepErr != nil {
			return attempt - 1, sleepErr
		}

		err = call()
		if err == nil || !pbp.IsTimeout(err) {
			return attempt, err
		}
		if attempt == f.cfg.MaxAttempts {
			return attempt, err
		}

		f.logger.WithFields(logrus.Fields{
			"game_id": gameID,
			"attempt": attempt,
			"wait":    wait,
		}).Info("provider timed out, backing off")
		if f.observer != nil {
			f.observer.ObserveRetry(gameID, attempt, wait)
		}

		if sleepErr := f.sleep(ctx, wait); sleepErr != nil {
			return attempt, sleepErr
		}
		wait = time.Duration(float64(wait) * f.cfg.BackoffFactor)
	}

	return f.cfg.MaxAttempts, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
