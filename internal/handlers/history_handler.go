package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/lithium-07/dedup-webset/internal/interfaces"
	"github.com/lithium-07/dedup-webset/internal/models"
)

// HistoryHandler serves past jobs and their persisted items.
type HistoryHandler struct {
	storage interfaces.StorageManager
	logger  arbor.ILogger
}

func NewHistoryHandler(storage interfaces.StorageManager, logger arbor.ILogger) *HistoryHandler {
	return &HistoryHandler{
		storage: storage,
		logger:  logger,
	}
}

// ListHandler serves GET /api/history/websets (and the GET /api/websets alias)
// with optional status, entityType, limit and offset query parameters. Jobs
// come back newest first.
func (h *HistoryHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	opts := &interfaces.JobListOptions{
		Status:     models.JobStatus(r.URL.Query().Get("status")),
		EntityType: r.URL.Query().Get("entityType"),
		Limit:      QueryInt(r, "limit", 50),
		Offset:     QueryInt(r, "offset", 0),
	}

	jobs, err := h.storage.JobStorage().ListJobs(r.Context(), opts)
	if err != nil {
		h.logger.Error().Err(err).Msg("Job list query failed")
		WriteError(w, http.StatusInternalServerError, "failed to list websets")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"data":  jobs,
		"count": len(jobs),
	})
}

// DetailHandler serves GET /api/history/websets/{id} (and the /api/websets/{id}
// alias): the job document, its rejection reason breakdown, and optionally its
// items (?include=items&itemStatus=...).
func (h *HistoryHandler) DetailHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	jobID := PathSegment(r.URL.Path, "/api/history/websets/")
	if jobID == "" {
		jobID = PathSegment(r.URL.Path, "/api/websets/")
	}
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "webset id is required")
		return
	}

	job, err := h.storage.JobStorage().GetJob(r.Context(), jobID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "webset not found: "+jobID)
		return
	}

	reasons, err := h.storage.ItemStorage().ReasonStats(r.Context(), jobID)
	if err != nil {
		h.logger.Warn().Err(err).Str("job_id", jobID).Msg("Reason stats query failed")
		reasons = map[string]int{}
	}

	response := map[string]interface{}{
		"webset":           job,
		"rejectionReasons": reasons,
	}

	if r.URL.Query().Get("include") == "items" {
		status := models.ItemStatus(r.URL.Query().Get("itemStatus"))
		limit := QueryInt(r, "limit", 200)
		items, err := h.storage.ItemStorage().ListItems(r.Context(), jobID, status, limit)
		if err != nil {
			h.logger.Warn().Err(err).Str("job_id", jobID).Msg("Item list query failed")
			items = nil
		}
		response["items"] = items
		response["itemCount"] = len(items)
	}

	WriteJSON(w, http.StatusOK, response)
}
