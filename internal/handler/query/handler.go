package query

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/chartquery-api/internal/model"
	"github.com/jwalitptl/chartquery-api/internal/service/query"
	apperrors "github.com/jwalitptl/chartquery-api/pkg/errors"
	"github.com/jwalitptl/chartquery-api/pkg/httputil"
)

type Handler struct {
	service query.QueryService
}

func NewHandler(service query.QueryService) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/queries", h.AnswerQuery)
}

type answerQueryRequest struct {
	QueryText     string         `json:"query_text" binding:"required"`
	ReferenceDate *time.Time     `json:"reference_date"`
	Session       *model.Session `json:"session"`
}

// AnswerQuery is the single query entry point. The session in the request is
// caller-owned conversation state; the updated session is echoed back so the
// caller can thread it through the next turn.
func (h *Handler) AnswerQuery(c *gin.Context) {
	var req answerQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid request body", err))
		return
	}

	referenceDate := time.Now().UTC()
	if req.ReferenceDate != nil {
		referenceDate = *req.ReferenceDate
	}
	session := req.Session
	if session == nil {
		session = &model.Session{}
	}

	answer, err := h.service.AnswerQuery(c.Request.Context(), req.QueryText, referenceDate, session)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, gin.H{
		"answer":  answer,
		"session": session,
	})
}
