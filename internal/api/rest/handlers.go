package rest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"

	"github.com/fortuna/rapm/internal/export"
	"github.com/fortuna/rapm/internal/store"
	"github.com/gorilla/mux"
)

var seasonPattern = regexp.MustCompile(`^\d{4}(-\d{2})?$`)

// Handler contains dependencies for HTTP handlers
type Handler struct {
	seasons  SeasonReader
	outcomes OutcomeReader
	health   HealthChecker
}

// NewHandler creates a new handler
func NewHandler(seasons SeasonReader, outcomes OutcomeReader, health HealthChecker) *Handler {
	return &Handler{
		seasons:  seasons,
		outcomes: outcomes,
		health:   health,
	}
}

// HealthCheck handles health check requests
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.HealthCheck(r.Context()); err != nil {
			respondError(w, http.StatusServiceUnavailable, "Database unavailable", err)
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "rapm",
	})
}

// GetSeasonRows returns a season's stored table as JSON or, with ?format=csv, CSV.
func (h *Handler) GetSeasonRows(w http.ResponseWriter, r *http.Request) {
	season, ok := seasonParam(w, r)
	if !ok {
		return
	}

	table, err := h.seasons.ListSeason(r.Context(), season)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch season rows", err)
		return
	}
	if table.Len() == 0 {
		respondError(w, http.StatusNotFound, fmt.Sprintf("No rows stored for season %s", season), nil)
		return
	}

	switch r.URL.Query().Get("format") {
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="rapm-%s.csv"`, season))
		w.WriteHeader(http.StatusOK)
		_ = export.WriteCSV(w, table)
	case "", "json":
		rows := make([][]int, 0, table.Len())
		for _, row := range table.Rows {
			rows = append(rows, row.Values())
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"season":  season,
			"columns": table.Columns(),
			"count":   table.Len(),
			"rows":    rows,
		})
	default:
		respondError(w, http.StatusBadRequest, "format must be json or csv", nil)
	}
}

// GetBadGames returns game id to error text for the season's bad games.
func (h *Handler) GetBadGames(w http.ResponseWriter, r *http.Request) {
	season, ok := seasonParam(w, r)
	if !ok {
		return
	}

	bad, err := h.outcomes.BadGames(r.Context(), season)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch bad games", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"season":    season,
		"count":     len(bad),
		"bad_games": bad,
	})
}

// GetOutcomes lists per-game outcomes, optionally filtered by ?status=.
func (h *Handler) GetOutcomes(w http.ResponseWriter, r *http.Request) {
	season, ok := seasonParam(w, r)
	if !ok {
		return
	}

	outcomes, err := h.outcomes.ListByStatus(r.Context(), season, r.URL.Query().Get("status"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch outcomes", err)
		return
	}

	payload := make([]map[string]interface{}, 0, len(outcomes))
	for _, o := range outcomes {
		payload = append(payload, outcomePayload(o))
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"season":   season,
		"count":    len(payload),
		"outcomes": payload,
	})
}

func outcomePayload(o store.GameOutcome) map[string]interface{} {
	payload := map[string]interface{}{
		"game_id":     o.GameID,
		"status":      o.Status,
		"attempts":    o.Attempts,
		"rows":        o.RowCount,
		"anomalies":   o.Anomalies,
		"recorded_at": o.RecordedAt,
	}
	if o.Reason.Valid {
		payload["reason"] = o.Reason.String
	}
	return payload
}

func seasonParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	season := mux.Vars(r)["season"]
	if !seasonPattern.MatchString(season) {
		respondError(w, http.StatusBadRequest, "Invalid season (want YYYY or YYYY-YY)", nil)
		return "", false
	}
	return season, true
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes an error response
func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]interface{}{
		"error":  message,
		"status": status,
	}

	if err != nil {
		response["details"] = err.Error()
	}

	respondJSON(w, status, response)
}
