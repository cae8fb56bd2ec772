package server

import (
	"net/http"
	"strings"
	"sync"

	"github.com/ternarybob/quorum/internal/handlers"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Job lifecycle
	mux.HandleFunc("/api/jobs", s.app.JobHandler.SubmitJob) // POST - submit
	mux.HandleFunc("/api/jobs/", s.handleJobRoutes)         // GET/POST /{id} and subpaths

	// Registry surface
	mux.HandleFunc("/api/extractors", s.app.ExtractorHandler.ListExtractors)

	// WebSocket job event stream
	mux.HandleFunc("/ws/jobs/", s.handleJobSocket)

	// System
	mux.HandleFunc("/api/health", s.app.StatusHandler.HealthHandler)
	mux.HandleFunc("/api/version", s.app.StatusHandler.VersionHandler)
	mux.HandleFunc("/api/shutdown", s.shutdownHandler) // POST - graceful shutdown

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.notFoundHandler)

	return mux
}

// handleJobRoutes dispatches /api/jobs/{id} and its subpaths.
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	parts := strings.SplitN(rest, "/", 3)
	jobID := parts[0]
	if jobID == "" {
		s.notFoundHandler(w, r)
		return
	}

	if len(parts) == 1 {
		s.app.JobHandler.GetJob(w, r, jobID)
		return
	}

	switch parts[1] {
	case "result":
		s.app.JobHandler.GetResult(w, r, jobID)
	case "review":
		s.app.JobHandler.GetReview(w, r, jobID)
	case "arbitrate":
		s.app.JobHandler.Arbitrate(w, r, jobID)
	case "download":
		if len(parts) < 3 || parts[2] == "" {
			s.notFoundHandler(w, r)
			return
		}
		s.app.JobHandler.DownloadArtifact(w, r, jobID, parts[2])
	default:
		s.notFoundHandler(w, r)
	}
}

// handleJobSocket upgrades /ws/jobs/{id} to the job event stream.
func (s *Server) handleJobSocket(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimPrefix(r.URL.Path, "/ws/jobs/")
	if jobID == "" || strings.Contains(jobID, "/") {
		s.notFoundHandler(w, r)
		return
	}
	s.app.WSHandler.HandleJobSocket(w, r, jobID)
}

var shutdownOnce sync.Once

// shutdownHandler acknowledges the request and signals the main loop to
// begin graceful shutdown.
func (s *Server) shutdownHandler(w http.ResponseWriter, r *http.Request) {
	if !handlers.RequireMethod(w, r, http.MethodPost) {
		return
	}

	s.app.Logger.Info().Msg("Shutdown requested via API")
	handlers.WriteJSON(w, http.StatusOK, map[string]string{"status": "shutting down"})

	shutdownOnce.Do(func() { close(s.shutdown) })
}

func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	handlers.WriteError(w, http.StatusNotFound, "not found")
}
