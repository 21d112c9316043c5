package websocket

import (
	"encoding/json"
	"time"

	"github.com/fortuna/rapm/internal/backfill"
)

// Event is one message pushed to run subscribers.
type Event struct {
	Type      string    `json:"type"`
	Season    string    `json:"season,omitempty"`
	GameID    string    `json:"game_id,omitempty"`
	Status    string    `json:"status,omitempty"`
	Rows      int       `json:"rows,omitempty"`
	Message   string    `json:"message,omitempty"`
	Current   int       `json:"current,omitempty"`
	Total     int       `json:"total,omitempty"`
	BadGames  int       `json:"bad_games,omitempty"`
	Failed    int       `json:"failed,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ProgressReporter broadcasts runner callbacks to websocket clients.
type ProgressReporter struct {
	hub *Hub
	now func() time.Time
}

// NewProgressReporter returns a backfill.Reporter that writes to hub.
func NewProgressReporter(hub *Hub) *ProgressReporter {
	return &ProgressReporter{hub: hub, now: time.Now}
}

func (p *ProgressReporter) emit(ev Event) {
	ev.Timestamp = p.now()
	data, err := json.Marshal(ev)
	if err != nil {
		p.hub.logger.WithError(err).Warn("marshal event")
		return
	}
	p.hub.Broadcast(data)
}

func (p *ProgressReporter) OnJobStart(spec backfill.JobSpec) {
	p.emit(Event{Type: "run_started", Season: spec.Season, Total: len(spec.GameIDs)})
}

func (p *ProgressReporter) OnGameStart(gameID string, index int, total int) {}

func (p *ProgressReporter) OnGameProcessed(result backfill.GameResult) {
	p.emit(Event{Type: "game", GameID: result.GameID, Status: string(result.Status), Rows: result.Rows()})
}

func (p *ProgressReporter) OnProgress(message string, current int, total int) {
	p.emit(Event{Type: "progress", Message: message, Current: current, Total: total})
}

func (p *ProgressReporter) OnJobComplete(result *backfill.SeasonResult) {
	p.emit(Event{
		Type:     "run_completed",
		Season:   result.Season,
		Rows:     result.Table.Len(),
		BadGames: len(result.BadGames),
		Failed:   len(result.Failed),
	})
}

func (p *ProgressReporter) OnJobError(err error) {
	p.emit(Event{Type: "run_error", Message: err.Error()})
}
