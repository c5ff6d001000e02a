package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/ludo-moderation-api/internal/models"
	"github.com/noah-isme/ludo-moderation-api/pkg/response"
)

type auditReader interface {
	ListByResource(ctx context.Context, resourceID string, limit int) ([]models.AuditLog, error)
}

// AuditHandler exposes the decision audit trail.
type AuditHandler struct {
	audit auditReader
}

// NewAuditHandler constructs the handler.
func NewAuditHandler(audit auditReader) *AuditHandler {
	return &AuditHandler{audit: audit}
}

// Trail godoc
// @Summary List audit entries for a request
// @Tags Moderation
// @Produce json
// @Param id path string true "Request ID"
// @Param limit query int false "Maximum rows"
// @Success 200 {object} response.Envelope
// @Router /moderation/requests/{id}/audit [get]
func (h *AuditHandler) Trail(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	logs, err := h.audit.ListByResource(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, logs, nil)
}
