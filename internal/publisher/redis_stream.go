package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fortuna/rapm/internal/backfill"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultStream receives one entry per processed game and one per finished run.
const DefaultStream = "rapm.games"

// GameEvent is the payload published for each game.
type GameEvent struct {
	Season    string `json:"season,omitempty"`
	GameID    string `json:"game_id"`
	Status    string `json:"status"`
	Attempts  int    `json:"attempts"`
	Rows      int    `json:"rows"`
	Anomalies int    `json:"anomalies"`
	Reason    string `json:"reason,omitempty"`
}

// RunEvent is the payload published when a run completes.
type RunEvent struct {
	Season   string            `json:"season,omitempty"`
	Rows     int               `json:"rows"`
	Games    int               `json:"games"`
	BadGames map[string]string `json:"bad_games"`
	Failed   []string          `json:"failed"`
}

// RedisStreamPublisher appends run outcomes to a Redis stream. It implements
// backfill.Reporter; publish failures are logged and never interrupt a run.
type RedisStreamPublisher struct {
	client  *redis.Client
	stream  string
	timeout time.Duration
	logger  *logrus.Entry

	mu     sync.Mutex
	season string
}

// NewRedisStreamPublisher creates a new Redis stream publisher from existing client
func NewRedisStreamPublisher(client *redis.Client, stream string, logger *logrus.Logger) *RedisStreamPublisher {
	if stream == "" {
		stream = DefaultStream
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RedisStreamPublisher{
		client:  client,
		stream:  stream,
		timeout: 2 * time.Second,
		logger:  logger.WithField("component", "publisher"),
	}
}

// Publish appends one entry of the given type to the stream.
func (p *RedisStreamPublisher) Publish(ctx context.Context, eventType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"type":      eventType,
			"data":      string(data),
			"timestamp": time.Now().Unix(),
		},
	}).Err()
}

func (p *RedisStreamPublisher) publish(eventType string, payload interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.Publish(ctx, eventType, payload); err != nil {
		p.logger.WithError(err).WithField("type", eventType).Warn("publish failed")
	}
}

func (p *RedisStreamPublisher) currentSeason() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.season
}

func (p *RedisStreamPublisher) OnJobStart(spec backfill.JobSpec) {
	p.mu.Lock()
	p.season = spec.Season
	p.mu.Unlock()
}

func (p *RedisStreamPublisher) OnGameStart(string, int, int) {}

func (p *RedisStreamPublisher) OnGameProcessed(result backfill.GameResult) {
	ev := GameEvent{
		Season:    p.currentSeason(),
		GameID:    result.GameID,
		Status:    string(result.Status),
		Attempts:  result.Attempts,
		Rows:      result.Rows(),
		Anomalies: len(result.Anomalies),
		Reason:    result.Reason,
	}
	if result.Err != nil {
		ev.Reason = result.Err.Error()
	}
	p.publish("game", ev)
}

func (p *RedisStreamPublisher) OnProgress(string, int, int) {}

func (p *RedisStreamPublisher) OnJobComplete(result *backfill.SeasonResult) {
	ev := RunEvent{
		Season:   result.Season,
		Rows:     result.Table.Len(),
		Games:    len(result.Games),
		BadGames: result.BadGames,
		Failed:   make([]string, 0, len(result.Failed)),
	}
	for id := range result.Failed {
		ev.Failed = append(ev.Failed, id)
	}
	p.publish("run", ev)
}

func (p *RedisStreamPublisher) OnJobError(error) {}
