package summary

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/chartquery-api/internal/model"
	"github.com/jwalitptl/chartquery-api/internal/service/summary"
	apperrors "github.com/jwalitptl/chartquery-api/pkg/errors"
	"github.com/jwalitptl/chartquery-api/pkg/httputil"
)

type Handler struct {
	service *summary.Service
}

func NewHandler(service *summary.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/summaries", h.Summarize)
}

type summarizeRequest struct {
	MRN             string    `json:"mrn" binding:"required,mrn"`
	Start           time.Time `json:"start" binding:"required"`
	End             time.Time `json:"end" binding:"required"`
	ConditionFilter []string  `json:"condition_filter"`
}

func (h *Handler) Summarize(c *gin.Context) {
	var req summarizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid request body", err))
		return
	}
	if req.End.Before(req.Start) {
		httputil.RespondWithError(c, apperrors.BadRequest("end must not precede start", nil))
		return
	}

	result, err := h.service.Summarize(c.Request.Context(), req.MRN, model.DateRange{Start: req.Start, End: req.End}, req.ConditionFilter)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, result)
}
