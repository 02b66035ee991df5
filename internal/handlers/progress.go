package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	ingestionrepo "github.com/lingobridge/lingobridge-backend/internal/data/repos/ingestion"
	mediarepo "github.com/lingobridge/lingobridge-backend/internal/data/repos/media"
	"github.com/lingobridge/lingobridge-backend/internal/services"
	"github.com/lingobridge/lingobridge-backend/internal/sse"
)

// ProgressHandler serves the per-job SSE streams. The projector samples the
// job row and pushes change-only events; the hub stream carries push events
// emitted by the stage drivers themselves.
type ProgressHandler struct {
	projector     *services.ProgressProjector
	videoRepo     mediarepo.VideoJobRepo
	ingestionRepo ingestionrepo.JobRepo
	hub           *sse.Hub
}

func NewProgressHandler(
	projector *services.ProgressProjector,
	videoRepo mediarepo.VideoJobRepo,
	ingestionRepo ingestionrepo.JobRepo,
	hub *sse.Hub,
) *ProgressHandler {
	return &ProgressHandler{
		projector:     projector,
		videoRepo:     videoRepo,
		ingestionRepo: ingestionRepo,
		hub:           hub,
	}
}

// GET /api/videos/:id/progress
func (h *ProgressHandler) VideoProgress(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	h.stream(c, services.VideoJobProgressSource(h.videoRepo, jobID))
}

// GET /api/research/:id/progress
func (h *ProgressHandler) ResearchProgress(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	h.stream(c, services.IngestionProgressSource(h.ingestionRepo, jobID))
}

func (h *ProgressHandler) stream(c *gin.Context, source services.ProgressSource) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		RespondError(c, http.StatusInternalServerError, "streaming_unsupported", fmt.Errorf("streaming unsupported"))
		return
	}

	_ = h.projector.Run(c.Request.Context(), source, func(ev services.ProgressEvent) error {
		payload, err := json.Marshal(ev.Snapshot)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", ev.Type, payload); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
}

// GET /sse/stream?channels=<id>,<id>
func (h *ProgressHandler) HubStream(c *gin.Context) {
	client := h.hub.NewClient()
	for _, ch := range c.QueryArray("channels") {
		h.hub.AddChannel(client, ch)
	}
	defer h.hub.RemoveClient(client)

	h.hub.ServeHTTP(c.Writer, c.Request, client)
}
