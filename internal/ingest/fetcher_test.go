package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/fortuna/rapm/internal/ingest/pbp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const politeDelay = 250 * time.Millisecond

// scriptedProvider fails with the queued errors before succeeding.
type scriptedProvider struct {
	errs  []error
	calls int
}

func (p *scriptedProvider) Game(_ context.Context, gameID string) (*pbp.Game, error) {
	p.calls++
	if p.calls <= len(p.errs) {
		return nil, p.errs[p.calls-1]
	}
	return &pbp.Game{GameID: gameID}, nil
}

func (p *scriptedProvider) FinalGames(_ context.Context, _ string) ([]string, error) {
	p.calls++
	if p.calls <= len(p.errs) {
		return nil, p.errs[p.calls-1]
	}
	return []string{"g1", "g2"}, nil
}

type sleepRecorder struct {
	polite  int
	backoff []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	if d == politeDelay {
		r.polite++
	} else {
		r.backoff = append(r.backoff, d)
	}
	return ctx.Err()
}

func timeouts(n int) []error {
	errs := make([]error, n)
	for i := range errs {
		errs[i] = &pbp.ProviderError{Kind: pbp.ErrTimeout, Type: pbp.TypeTimeout, Message: "slow"}
	}
	return errs
}

func newTestFetcher(p Provider, rec *sleepRecorder) *Fetcher {
	return NewFetcher(p, Config{
		PoliteDelay:    politeDelay,
		InitialBackoff: time.Second,
		BackoffFactor:  3,
		MaxAttempts:    10,
	}, WithSleeper(rec.sleep))
}

func TestFetchRetriesTimeouts(t *testing.T) {
	for _, n := range []int{0, 1, 3, 9, 10, 14} {
		t.Run(fmt.Sprintf("%d timeouts", n), func(t *testing.T) {
			provider := &scriptedProvider{errs: timeouts(n)}
			rec := &sleepRecorder{}

			result, err := newTestFetcher(provider, rec).Fetch(context.Background(), "g1")
			require.NoError(t, err)

			want := min(n+1, 10)
			assert.Equal(t, want, result.Attempts)
			assert.Equal(t, want, provider.calls)
			assert.Equal(t, want, rec.polite, "every attempt is preceded by the polite delay")

			if n < 10 {
				assert.Equal(t, OutcomeFetched, result.Outcome)
				require.NotNil(t, result.Game)
			} else {
				assert.Equal(t, OutcomeNoData, result.Outcome)
				assert.Nil(t, result.Game)
			}

			require.Len(t, rec.backoff, want-1)
			for i := 1; i < len(rec.backoff); i++ {
				assert.Equal(t, 3*rec.backoff[i-1], rec.backoff[i])
			}
			if len(rec.backoff) > 0 {
				assert.Equal(t, time.Second, rec.backoff[0])
			}
		})
	}
}

func TestFetchClassifiesBadGames(t *testing.T) {
	kinds := []error{pbp.ErrEventOrder, pbp.ErrDuplicatePossession, pbp.ErrInvalidStarters}
	for _, kind := range kinds {
		t.Run(kind.Error(), func(t *testing.T) {
			provider := &scriptedProvider{errs: []error{
				&pbp.ProviderError{Kind: kind, Type: "x", GameID: "g1", Message: "broken"},
			}}
			rec := &sleepRecorder{}

			result, err := newTestFetcher(provider, rec).Fetch(context.Background(), "g1")
			require.NoError(t, err)
			assert.Equal(t, OutcomeBadGame, result.Outcome)
			assert.Equal(t, 1, result.Attempts)
			assert.Contains(t, result.Reason, "broken")
			assert.Empty(t, rec.backoff)
		})
	}
}

func TestFetchTimeoutThenMalformed(t *testing.T) {
	provider := &scriptedProvider{errs: append(timeouts(2), pbp.ErrEventOrder)}
	rec := &sleepRecorder{}

	result, err := newTestFetcher(provider, rec).Fetch(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeBadGame, result.Outcome)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, []time.Duration{time.Second, 3 * time.Second}, rec.backoff)
}

func TestFetchReturnsUnclassifiedErrors(t *testing.T) {
	boom := errors.New("connection reset")
	provider := &scriptedProvider{errs: []error{boom}}

	_, err := newTestFetcher(provider, &sleepRecorder{}).Fetch(context.Background(), "g1")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, provider.calls)
}

func TestFetchStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	provider := &scriptedProvider{}

	_, err := newTestFetcher(provider, &sleepRecorder{}).Fetch(ctx, "g1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, provider.calls)
}

func TestFinalGamesRetriesTimeouts(t *testing.T) {
	provider := &scriptedProvider{errs: timeouts(2)}
	ids, err := newTestFetcher(provider, &sleepRecorder{}).FinalGames(context.Background(), "2023-24")
	require.NoError(t, err)
	assert.Equal(t, []string{"g1", "g2"}, ids)
	assert.Equal(t, 3, provider.calls)
}

func TestFinalGamesGivesUp(t *testing.T) {
	provider := &scriptedProvider{errs: timeouts(20)}
	_, err := newTestFetcher(provider, &sleepRecorder{}).FinalGames(context.Background(), "2023-24")
	require.Error(t, err)
	assert.True(t, pbp.IsTimeout(err))
	assert.Equal(t, 10, provider.calls)
}

type cachingProvider struct {
	scriptedProvider
	cached map[string]*pbp.Game
}

func (p *cachingProvider) CachedGame(_ context.Context, gameID string) (*pbp.Game, bool) {
	g, ok := p.cached[gameID]
	return g, ok
}

func TestFetchServesCachedGamesWithoutPacing(t *testing.T) {
	provider := &cachingProvider{cached: map[string]*pbp.Game{"g1": {GameID: "g1"}}}
	rec := &sleepRecorder{}
	f := newTestFetcher(provider, rec)

	result, err := f.Fetch(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFetched, result.Outcome)
	assert.Equal(t, "g1", result.Game.GameID)
	assert.Zero(t, result.Attempts)
	assert.Zero(t, rec.polite)
	assert.Zero(t, provider.calls)

	result, err = f.Fetch(context.Background(), "g2")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, 1, rec.polite, "a miss is paced like any request")
	assert.Equal(t, 1, provider.calls)
}
