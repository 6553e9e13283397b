package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/lithium-07/dedup-webset/internal/services/ingest"
)

// WebsetHandler serves webset creation.
type WebsetHandler struct {
	controller *ingest.Controller
	validate   *validator.Validate
	logger     arbor.ILogger
}

// CreateWebsetRequest is the POST /api/websets body.
type CreateWebsetRequest struct {
	Query       string                   `json:"query" validate:"required,min=2,max=500"`
	Count       int                      `json:"count" validate:"omitempty,min=1,max=1000"`
	EntityType  string                   `json:"entityType" validate:"omitempty,max=64"`
	Enrichments []map[string]interface{} `json:"enrichments" validate:"omitempty,max=10"`
}

func NewWebsetHandler(controller *ingest.Controller, logger arbor.ILogger) *WebsetHandler {
	return &WebsetHandler{
		controller: controller,
		validate:   validator.New(),
		logger:     logger,
	}
}

// CreateHandler starts a new ingestion job from a search request.
func (h *WebsetHandler) CreateHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req CreateWebsetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "validation failed: "+err.Error())
		return
	}

	job, err := h.controller.CreateJob(r.Context(), &ingest.CreateJobRequest{
		Query:       req.Query,
		Count:       req.Count,
		EntityType:  req.EntityType,
		Enrichments: req.Enrichments,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("query", req.Query).Msg("Webset creation failed")
		WriteError(w, http.StatusBadGateway, "failed to create webset: "+err.Error())
		return
	}

	WriteJSON(w, http.StatusCreated, job)
}
