package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quorum/internal/interfaces"
	"github.com/ternarybob/quorum/internal/models"
)

// ExtractorHandler lists the registered extraction engines.
type ExtractorHandler struct {
	registry interfaces.ExtractorRegistry
	logger   arbor.ILogger
}

func NewExtractorHandler(registry interfaces.ExtractorRegistry, logger arbor.ILogger) *ExtractorHandler {
	return &ExtractorHandler{registry: registry, logger: logger}
}

type extractorInfo struct {
	Name         string              `json:"name"`
	Version      string              `json:"version"`
	Priority     int                 `json:"priority"`
	Remote       bool                `json:"remote"`
	Available    bool                `json:"available"`
	Capabilities models.Capabilities `json:"capabilities"`
}

// ListExtractors returns every registered extractor with its declared
// capabilities and current availability.
func (h *ExtractorHandler) ListExtractors(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	all := h.registry.All()
	infos := make([]extractorInfo, 0, len(all))
	for _, e := range all {
		infos = append(infos, extractorInfo{
			Name:         e.Name(),
			Version:      e.Version(),
			Priority:     e.Priority(),
			Remote:       e.Remote(),
			Available:    e.IsAvailable(),
			Capabilities: e.Capabilities(),
		})
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"extractors": infos,
	})
}
