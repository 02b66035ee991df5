package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lingobridge/lingobridge-backend/internal/http/response"
	"github.com/lingobridge/lingobridge-backend/internal/services"
)

func RespondOK(c *gin.Context, payload any) { response.RespondOK(c, payload) }

func RespondAccepted(c *gin.Context, payload any) { response.RespondAccepted(c, payload) }

func RespondError(c *gin.Context, status int, code string, err error) {
	response.RespondError(c, status, code, err)
}

// respondServiceError maps the service-layer error taxonomy onto HTTP
// statuses. Anything unclassified is treated as an upstream failure.
func respondServiceError(c *gin.Context, err error) {
	var pre *services.PreconditionError
	var stage *services.StageError
	switch {
	case errors.Is(err, services.ErrJobNotFound):
		response.RespondError(c, http.StatusNotFound, "job_not_found", err)
	case errors.Is(err, services.ErrJobCancelled):
		response.RespondError(c, http.StatusConflict, "job_cancelled", err)
	case errors.Is(err, services.ErrStageOrder):
		response.RespondError(c, http.StatusConflict, "stage_out_of_order", err)
	case errors.As(err, &pre):
		response.RespondError(c, http.StatusUnprocessableEntity, "precondition_failed", err)
	case errors.As(err, &stage):
		response.RespondError(c, http.StatusBadGateway, "stage_failed", err)
	default:
		response.RespondError(c, http.StatusInternalServerError, "internal_error", err)
	}
}
