package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quorum/internal/common"
	"github.com/ternarybob/quorum/internal/interfaces"
)

// StatusHandler serves health and version endpoints.
type StatusHandler struct {
	queue     interfaces.QueueManager
	registry  interfaces.ExtractorRegistry
	startedAt time.Time
	logger    arbor.ILogger
}

func NewStatusHandler(queue interfaces.QueueManager, registry interfaces.ExtractorRegistry, logger arbor.ILogger) *StatusHandler {
	return &StatusHandler{
		queue:     queue,
		registry:  registry,
		startedAt: time.Now().UTC(),
		logger:    logger,
	}
}

// HealthHandler reports liveness plus queue depth and extractor counts.
func (h *StatusHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	depth, err := h.queue.Depth(r.Context())
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to read queue depth")
		WriteJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "degraded",
			"error":  "queue unavailable",
		})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":               "ok",
		"uptime_seconds":       int(time.Since(h.startedAt).Seconds()),
		"queue_depth":          depth,
		"extractors_total":     len(h.registry.All()),
		"extractors_available": len(h.registry.Available()),
	})
}

// VersionHandler reports the build version.
func (h *StatusHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetBuild(),
		"commit":  common.GetGitCommit(),
	})
}
