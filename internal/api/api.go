// Package api exposes the task engine over HTTP.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/modelwatch/modelwatch/internal/db"
	"github.com/modelwatch/modelwatch/internal/executor"
	"github.com/modelwatch/modelwatch/internal/scheduler"
)

// Server represents the API server
type Server struct {
	db           *db.DB
	scheduler    *scheduler.Scheduler
	orchestrator *executor.Orchestrator
	log          zerolog.Logger
	router       chi.Router
}

// NewServer creates a new API server. The scheduler may be nil when the
// process runs API-only; manual fire endpoints then return 503.
func NewServer(database *db.DB, sched *scheduler.Scheduler, orch *executor.Orchestrator, log zerolog.Logger) *Server {
	s := &Server{
		db:           database,
		scheduler:    sched,
		orchestrator: orch,
		log:          log.With().Str("component", "api").Logger(),
		router:       chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(CORS)

	r.Get("/api/v1/health", s.HealthCheck)

	// Tasks
	r.Get("/api/v1/tasks", s.ListTasks)
	r.Post("/api/v1/tasks", s.CreateTask)
	r.Get("/api/v1/tasks/{id}", s.GetTask)
	r.Put("/api/v1/tasks/{id}", s.UpdateTaskMeta)
	r.Delete("/api/v1/tasks/{id}", s.DeleteTask)
	r.Post("/api/v1/tasks/{id}/restore", s.RestoreTask)
	r.Put("/api/v1/tasks/{id}/config", s.UpdateTaskConfig)
	r.Get("/api/v1/tasks/{id}/versions", s.ListVersions)
	r.Get("/api/v1/tasks/{id}/versions/{version}", s.GetVersion)
	r.Get("/api/v1/tasks/{id}/runs", s.GetTaskRuns)
	r.Post("/api/v1/tasks/{id}/run", s.RunTask)

	// Runs
	r.Get("/api/v1/runs/{runId}", s.GetRun)
	r.Get("/api/v1/runs/{runId}/results", s.GetRunResults)

	// Scheduler
	r.Post("/api/v1/scheduler/fire", s.FireScheduler)
}

// Router returns the chi router for use with http.Server
func (s *Server) Router() http.Handler {
	return s.router
}

// CORS allows browser dashboards on other origins to call the API.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
