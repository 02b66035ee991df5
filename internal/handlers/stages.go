package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lingobridge/lingobridge-backend/internal/services"
)

// StageHandler exposes the per-stage drivers. Audio runs inline; avatar and
// render start vendor-side work and are completed through their poll
// endpoints.
type StageHandler struct {
	audio  services.AudioStageService
	avatar services.AvatarStageService
	render services.RenderStageService
}

func NewStageHandler(audio services.AudioStageService, avatar services.AvatarStageService, render services.RenderStageService) *StageHandler {
	return &StageHandler{audio: audio, avatar: avatar, render: render}
}

type runAudioRequest struct {
	Script        string  `json:"script"`
	VoiceID       string  `json:"voice_id"`
	VoiceProvider string  `json:"voice_provider"`
	Speed         float64 `json:"speed"`
	Language      string  `json:"language"`
}

// POST /api/videos/:id/audio
func (h *StageHandler) RunAudio(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	var req runAudioRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	artifact, err := h.audio.Run(c.Request.Context(), services.AudioStageInput{
		JobID:         jobID,
		Script:        req.Script,
		VoiceID:       req.VoiceID,
		VoiceProvider: req.VoiceProvider,
		Speed:         req.Speed,
		Language:      req.Language,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"audio_output": artifact})
}

type startAvatarRequest struct {
	CharacterID       string `json:"character_id"`
	CharacterImageURL string `json:"character_image_url"`
	Resolution        string `json:"resolution"`
	AspectRatio       string `json:"aspect_ratio"`
	TextPrompt        string `json:"text_prompt"`
}

// POST /api/videos/:id/avatar
func (h *StageHandler) StartAvatar(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	var req startAvatarRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	externalJobID, err := h.avatar.Start(c.Request.Context(), services.AvatarStageInput{
		JobID:             jobID,
		CharacterID:       req.CharacterID,
		CharacterImageURL: req.CharacterImageURL,
		Resolution:        req.Resolution,
		AspectRatio:       req.AspectRatio,
		TextPrompt:        req.TextPrompt,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondAccepted(c, gin.H{"external_job_id": externalJobID})
}

// GET /api/videos/:id/avatar/poll
func (h *StageHandler) PollAvatar(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	res, err := h.avatar.Poll(c.Request.Context(), jobID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, res)
}

// POST /api/videos/:id/render
func (h *StageHandler) StartRender(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	res, err := h.render.Start(c.Request.Context(), jobID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if !res.Configured {
		RespondOK(c, res)
		return
	}
	RespondAccepted(c, res)
}

// GET /api/videos/:id/render/:externalJobId
func (h *StageHandler) PollRender(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	res, err := h.render.Poll(c.Request.Context(), jobID, c.Param("externalJobId"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, res)
}
