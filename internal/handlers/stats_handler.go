package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/lithium-07/dedup-webset/internal/interfaces"
	"github.com/lithium-07/dedup-webset/internal/services/dedup"
	"github.com/lithium-07/dedup-webset/internal/services/ingest"
	"github.com/lithium-07/dedup-webset/internal/services/retention"
)

// StatsHandler serves operational statistics.
type StatsHandler struct {
	storage    interfaces.StorageManager
	controller *ingest.Controller
	resolver   *dedup.URLResolver
	sweeper    *retention.Sweeper
	logger     arbor.ILogger
}

func NewStatsHandler(
	storage interfaces.StorageManager,
	controller *ingest.Controller,
	resolver *dedup.URLResolver,
	sweeper *retention.Sweeper,
	logger arbor.ILogger,
) *StatsHandler {
	return &StatsHandler{
		storage:    storage,
		controller: controller,
		resolver:   resolver,
		sweeper:    sweeper,
		logger:     logger,
	}
}

// OverviewHandler serves GET /api/stats.
func (h *StatsHandler) OverviewHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	jobCount, err := h.storage.JobStorage().CountJobs(r.Context())
	if err != nil {
		h.logger.Warn().Err(err).Msg("Job count query failed")
	}
	itemCount, err := h.storage.ItemStorage().CountAllItems(r.Context())
	if err != nil {
		h.logger.Warn().Err(err).Msg("Item count query failed")
	}

	response := map[string]interface{}{
		"activeJobs": h.controller.ActiveJobs(),
		"totalJobs":  jobCount,
		"totalItems": itemCount,
		"retention":  h.sweeper.Snapshot(),
	}
	if h.resolver != nil {
		response["urlResolution"] = h.resolver.Stats()
	}

	WriteJSON(w, http.StatusOK, response)
}

// URLResolutionHandler serves GET /api/stats/url-resolution.
func (h *StatsHandler) URLResolutionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	if h.resolver == nil {
		WriteJSON(w, http.StatusOK, map[string]interface{}{"enabled": false})
		return
	}
	WriteJSON(w, http.StatusOK, h.resolver.Stats())
}

// DatabaseHandler serves GET /api/stats/database.
func (h *StatsHandler) DatabaseHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	jobCount, err := h.storage.JobStorage().CountJobs(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to count jobs")
		return
	}
	itemCount, err := h.storage.ItemStorage().CountAllItems(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to count items")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobCount,
		"items": itemCount,
	})
}
