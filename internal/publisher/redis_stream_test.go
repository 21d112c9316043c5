package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/fortuna/rapm/internal/backfill"
	"github.com/fortuna/rapm/internal/rapm"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherWritesGameAndRunEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	p := NewRedisStreamPublisher(client, "", nil)
	var _ backfill.Reporter = p

	p.OnJobStart(backfill.JobSpec{Type: backfill.JobTypeSeason, Season: "2023-24"})
	p.OnGameProcessed(backfill.GameResult{
		GameID:   "g1",
		Status:   backfill.GameProcessed,
		Attempts: 2,
		Table:    &rapm.Table{Rows: []rapm.Row{{}, {}, {}}},
	})
	p.OnGameProcessed(backfill.GameResult{GameID: "g2", Status: backfill.GameFailed, Err: errors.New("reset")})
	p.OnJobComplete(&backfill.SeasonResult{
		Season:   "2023-24",
		Table:    &rapm.Table{Rows: []rapm.Row{{}, {}, {}}},
		BadGames: map[string]string{},
		Failed:   map[string]error{"g2": errors.New("reset")},
		Games:    make([]backfill.GameResult, 2),
	})

	entries, err := client.XRange(context.Background(), DefaultStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "game", entries[0].Values["type"])
	var first GameEvent
	require.NoError(t, json.Unmarshal([]byte(entries[0].Values["data"].(string)), &first))
	assert.Equal(t, GameEvent{Season: "2023-24", GameID: "g1", Status: "processed", Attempts: 2, Rows: 3}, first)

	var second GameEvent
	require.NoError(t, json.Unmarshal([]byte(entries[1].Values["data"].(string)), &second))
	assert.Equal(t, "reset", second.Reason)

	assert.Equal(t, "run", entries[2].Values["type"])
	var run RunEvent
	require.NoError(t, json.Unmarshal([]byte(entries[2].Values["data"].(string)), &run))
	assert.Equal(t, 3, run.Rows)
	assert.Equal(t, []string{"g2"}, run.Failed)
}

func TestPublisherSurvivesRedisOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	mr.Close()

	p := NewRedisStreamPublisher(client, "s", nil)
	assert.NotPanics(t, func() {
		p.OnGameProcessed(backfill.GameResult{GameID: "g1", Status: backfill.GameNoData})
	})
}
