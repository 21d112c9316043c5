package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/fortuna/rapm/internal/api/websocket"
	"github.com/fortuna/rapm/internal/backfill"
	"github.com/fortuna/rapm/internal/metrics"
	"github.com/fortuna/rapm/internal/rapm"
	"github.com/fortuna/rapm/internal/store"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// SeasonReader reads persisted season tables.
type SeasonReader interface {
	ListSeason(ctx context.Context, season string) (*rapm.Table, error)
}

// OutcomeReader reads persisted per-game outcomes.
type OutcomeReader interface {
	ListByStatus(ctx context.Context, season, status string) ([]store.GameOutcome, error)
	BadGames(ctx context.Context, season string) (map[string]string, error)
}

// RunService queues runs and reports their status.
type RunService interface {
	Enqueue(ctx context.Context, req backfill.Request) (*backfill.Job, error)
	GetStatus(ctx context.Context) (*backfill.StatusSummary, error)
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps are the collaborators behind the API. Nil Runs, Metrics or Websocket
// leave the corresponding routes unregistered.
type Deps struct {
	Seasons   SeasonReader
	Outcomes  OutcomeReader
	Runs      RunService
	Health    HealthChecker
	Metrics   *metrics.Recorder
	Websocket *websocket.Server
}

// Server represents the REST API server
type Server struct {
	server *http.Server
}

// NewServer creates a new REST API server listening on addr.
func NewServer(addr string, deps Deps, logger *logrus.Logger) *Server {
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(deps, logger),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// NewRouter builds the route table.
func NewRouter(deps Deps, logger *logrus.Logger) *mux.Router {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	handler := NewHandler(deps.Seasons, deps.Outcomes, deps.Health)

	router := mux.NewRouter()

	router.Use(RecoveryMiddleware(logger))
	router.Use(LoggingMiddleware(logger))
	router.Use(CORSMiddleware)
	if deps.Metrics != nil {
		router.Use(MetricsMiddleware(deps.Metrics))
		router.Handle("/metrics", deps.Metrics.Handler()).Methods("GET")
	}

	router.HandleFunc("/health", handler.HealthCheck).Methods("GET")

	if deps.Websocket != nil {
		router.HandleFunc("/ws/runs", deps.Websocket.HandleRuns)
		router.HandleFunc("/ws/health", deps.Websocket.HandleHealth).Methods("GET")
	}

	api := router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/seasons/{season}/rows", handler.GetSeasonRows).Methods("GET")
	api.HandleFunc("/seasons/{season}/bad-games", handler.GetBadGames).Methods("GET")
	api.HandleFunc("/seasons/{season}/outcomes", handler.GetOutcomes).Methods("GET")

	if deps.Runs != nil {
		runs := NewRunHandler(deps.Runs)
		api.HandleFunc("/runs", runs.HandleRunRequest).Methods("POST")
		api.HandleFunc("/runs/status", runs.HandleRunStatus).Methods("GET")
	}

	return router
}

// Start starts the REST API server
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
