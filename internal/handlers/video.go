package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lingobridge/lingobridge-backend/internal/services"
)

type VideoHandler struct {
	videos services.VideoJobService
}

func NewVideoHandler(videos services.VideoJobService) *VideoHandler {
	return &VideoHandler{videos: videos}
}

type createVideoRequest struct {
	OwnerUserID   uuid.UUID      `json:"owner_user_id"`
	TemplateType  string         `json:"template_type"`
	SourceConfig  map[string]any `json:"source_config"`
	VideoSettings map[string]any `json:"video_settings"`
	LessonContent map[string]any `json:"lesson_content"`
}

// POST /api/videos
func (h *VideoHandler) Create(c *gin.Context) {
	var req createVideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	job, err := h.videos.Create(c.Request.Context(), services.CreateVideoJobInput{
		OwnerUserID:   req.OwnerUserID,
		TemplateType:  req.TemplateType,
		SourceConfig:  req.SourceConfig,
		VideoSettings: req.VideoSettings,
		LessonContent: req.LessonContent,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"job": job})
}

// GET /api/videos/:id
func (h *VideoHandler) Get(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.videos.GetByID(c.Request.Context(), jobID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"job": job})
}

// POST /api/videos/:id/cancel
func (h *VideoHandler) Cancel(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.videos.Cancel(c.Request.Context(), jobID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"job": job})
}
