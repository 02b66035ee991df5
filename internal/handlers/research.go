package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lingobridge/lingobridge-backend/internal/services"
)

var errResearchDisabled = errors.New("research ingestion is not configured")

type ResearchHandler struct {
	ingestion services.IngestionService
}

// NewResearchHandler accepts a nil service; the endpoints then answer 503
// so a deployment without research credentials still boots.
func NewResearchHandler(ingestion services.IngestionService) *ResearchHandler {
	return &ResearchHandler{ingestion: ingestion}
}

func (h *ResearchHandler) unavailable(c *gin.Context) bool {
	if h.ingestion != nil {
		return false
	}
	RespondError(c, http.StatusServiceUnavailable, "research_unavailable", errResearchDisabled)
	return true
}

type startResearchRequest struct {
	OwnerUserID uuid.UUID `json:"owner_user_id"`
	Topic       string    `json:"topic"`
	Language    string    `json:"language"`
	Level       string    `json:"level"`
}

// POST /api/research
func (h *ResearchHandler) Start(c *gin.Context) {
	if h.unavailable(c) {
		return
	}
	var req startResearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	job, err := h.ingestion.Start(c.Request.Context(), services.StartIngestionInput{
		OwnerUserID: req.OwnerUserID,
		Topic:       req.Topic,
		Language:    req.Language,
		Level:       req.Level,
	})
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

// GET /api/research/:id
func (h *ResearchHandler) Get(c *gin.Context) {
	if h.unavailable(c) {
		return
	}
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.ingestion.GetByID(c.Request.Context(), jobID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"job": job})
}

// POST /api/research/:id/cancel
func (h *ResearchHandler) Cancel(c *gin.Context) {
	if h.unavailable(c) {
		return
	}
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	if err := h.ingestion.Cancel(c.Request.Context(), jobID); err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"cancelled": true})
}
