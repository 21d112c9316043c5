package rest

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/fortuna/rapm/internal/backfill"
)

// RunHandler proxies API calls to the run service.
type RunHandler struct {
	service RunService
}

// NewRunHandler wires the REST layer to the run service.
func NewRunHandler(service RunService) *RunHandler {
	return &RunHandler{service: service}
}

type apiRunRequest struct {
	Season        string   `json:"season"`
	GameID        string   `json:"game_id"`
	GameIDs       []string `json:"game_ids"`
	FailOnAnomaly bool     `json:"fail_on_anomaly"`
}

// HandleRunRequest handles POST /api/v1/runs
func (h *RunHandler) HandleRunRequest(w http.ResponseWriter, r *http.Request) {
	var req apiRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	runReq := backfill.Request{
		Season:        strings.TrimSpace(req.Season),
		FailOnAnomaly: req.FailOnAnomaly,
	}
	if runReq.Season != "" && !seasonPattern.MatchString(runReq.Season) {
		respondError(w, http.StatusBadRequest, "Invalid season (want YYYY or YYYY-YY)", nil)
		return
	}

	if len(req.GameIDs) > 0 {
		runReq.GameIDs = append(runReq.GameIDs, req.GameIDs...)
	}
	if req.GameID != "" {
		runReq.GameIDs = append(runReq.GameIDs, req.GameID)
	}

	job, err := h.service.Enqueue(r.Context(), runReq)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Failed to enqueue run", err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"run": jobPayload(job),
	})
}

// HandleRunStatus handles GET /api/v1/runs/status
func (h *RunHandler) HandleRunStatus(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.GetStatus(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch status", err)
		return
	}

	respondJSON(w, http.StatusOK, buildStatusPayload(summary))
}

func buildStatusPayload(summary *backfill.StatusSummary) map[string]interface{} {
	response := map[string]interface{}{
		"status":  "idle",
		"message": "No active runs",
		"history": []map[string]interface{}{},
	}

	if summary.ActiveJob != nil {
		response["status"] = summary.ActiveJob.Status
		if summary.ActiveJob.StatusMessage.Valid {
			response["message"] = summary.ActiveJob.StatusMessage.String
		}
		response["active_run"] = jobPayload(summary.ActiveJob)
	}

	history := make([]map[string]interface{}, 0, len(summary.History))
	for _, job := range summary.History {
		history = append(history, jobPayload(job))
	}

	response["history"] = history
	return response
}

func jobPayload(job *backfill.Job) map[string]interface{} {
	if job == nil {
		return nil
	}

	payload := map[string]interface{}{
		"run_id":           job.JobID,
		"run_type":         job.JobType,
		"status":           job.Status,
		"fail_on_anomaly":  job.FailOnAnomaly,
		"progress_current": job.ProgressCurrent,
		"progress_total":   job.ProgressTotal,
		"rows_written":     job.RowsWritten,
		"bad_games":        job.BadGames,
		"failed_games":     job.FailedGames,
		"created_at":       job.CreatedAt,
		"updated_at":       job.UpdatedAt,
	}

	if job.StatusMessage.Valid {
		payload["status_message"] = job.StatusMessage.String
	}
	if job.Season.Valid {
		payload["season"] = job.Season.String
	}
	if len(job.GameIDs) > 0 {
		payload["game_ids"] = job.GameIDs
	}
	if job.StartedAt.Valid {
		payload["started_at"] = job.StartedAt.Time
	}
	if job.CompletedAt.Valid {
		payload["completed_at"] = job.CompletedAt.Time
	}
	if job.LastError.Valid {
		payload["last_error"] = job.LastError.String
	}

	return payload
}
