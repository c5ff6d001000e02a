package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/ludo-moderation-api/internal/dto"
	"github.com/noah-isme/ludo-moderation-api/internal/models"
	"github.com/noah-isme/ludo-moderation-api/internal/service"
	appErrors "github.com/noah-isme/ludo-moderation-api/pkg/errors"
	"github.com/noah-isme/ludo-moderation-api/pkg/response"
)

type moderationService interface {
	Submit(ctx context.Context, req dto.SubmitRequestRequest) (*models.ModerationRequest, error)
	ListPending(ctx context.Context, kind models.RequestKind, limit int) ([]models.ModerationRequest, error)
	List(ctx context.Context, query dto.RequestQuery) ([]models.ModerationRequest, error)
	Get(ctx context.Context, id string) (*models.ModerationRequest, error)
	Decide(ctx context.Context, id string, outcome models.DecisionOutcome, operatorID string) (*models.ModerationRequest, models.SettlementOutcome, error)
}

type settlementService interface {
	Sweep(ctx context.Context) (dto.SweepReport, error)
	NeedsReview(ctx context.Context) ([]models.ModerationRequest, error)
}

type exportService interface {
	ExportHistory(ctx context.Context, query dto.RequestQuery, format string) (*service.ExportResult, error)
}

// ModerationHandler exposes REST endpoints for the moderation workflow.
type ModerationHandler struct {
	service    moderationService
	settlement settlementService
	exports    exportService
}

// NewModerationHandler constructs the handler.
func NewModerationHandler(service moderationService, settlement settlementService, exports exportService) *ModerationHandler {
	return &ModerationHandler{service: service, settlement: settlement, exports: exports}
}

// Submit godoc
// @Summary Submit a payment or withdrawal request
// @Tags Moderation
// @Accept json
// @Produce json
// @Param payload body dto.SubmitRequestRequest true "Request payload"
// @Success 201 {object} response.Envelope
// @Router /moderation/requests [post]
func (h *ModerationHandler) Submit(c *gin.Context) {
	var req dto.SubmitRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request payload"))
		return
	}
	req.Kind = models.RequestKind(strings.ToUpper(string(req.Kind)))
	request, err := h.service.Submit(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, dto.NewModerationRequestView(*request), nil)
}

// ListPending godoc
// @Summary List the pending review queue for a kind
// @Tags Moderation
// @Produce json
// @Param kind query string true "PAYMENT or WITHDRAWAL"
// @Param limit query int false "Maximum rows"
// @Success 200 {object} response.Envelope
// @Router /moderation/requests/pending [get]
func (h *ModerationHandler) ListPending(c *gin.Context) {
	kind := models.RequestKind(strings.ToUpper(strings.TrimSpace(c.Query("kind"))))
	limit, _ := strconv.Atoi(c.Query("limit"))
	requests, err := h.service.ListPending(c.Request.Context(), kind, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.NewModerationRequestViews(requests), nil)
}

// List godoc
// @Summary List request history
// @Tags Moderation
// @Produce json
// @Param status query string false "Comma separated statuses"
// @Param kind query string false "PAYMENT or WITHDRAWAL"
// @Param userId query string false "Subject user"
// @Success 200 {object} response.Envelope
// @Router /moderation/requests [get]
func (h *ModerationHandler) List(c *gin.Context) {
	query := parseRequestQuery(c)
	requests, err := h.service.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.NewModerationRequestViews(requests), nil)
}

// Get godoc
// @Summary Get request detail
// @Tags Moderation
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /moderation/requests/{id} [get]
func (h *ModerationHandler) Get(c *gin.Context) {
	request, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.NewModerationRequestView(*request), nil)
}

// Decide godoc
// @Summary Apply an operator decision to a pending request
// @Tags Moderation
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.DecideRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Router /moderation/requests/{id}/decide [post]
func (h *ModerationHandler) Decide(c *gin.Context) {
	operatorID := operatorFromContext(c)
	if operatorID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "operator identity is required"))
		return
	}
	var req dto.DecideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid decision payload"))
		return
	}
	request, settlement, err := h.service.Decide(c.Request.Context(), c.Param("id"), req.Outcome, operatorID)
	if err != nil {
		response.Error(c, err)
		return
	}
	var meta map[string]interface{}
	if settlement != "" {
		meta = map[string]interface{}{"settlementOutcome": settlement}
	}
	response.JSON(c, http.StatusOK, dto.NewModerationRequestView(*request), nil, meta)
}

// NeedsReview godoc
// @Summary List approved payments requiring manual settlement review
// @Tags Settlement
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /moderation/requests/needs-review [get]
func (h *ModerationHandler) NeedsReview(c *gin.Context) {
	requests, err := h.settlement.NeedsReview(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.NewModerationRequestViews(requests), nil)
}

// Sweep godoc
// @Summary Trigger a reconciliation sweep pass
// @Tags Settlement
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /moderation/sweep [post]
func (h *ModerationHandler) Sweep(c *gin.Context) {
	report, err := h.settlement.Sweep(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// Export godoc
// @Summary Export request history as CSV or PDF
// @Tags Moderation
// @Produce json
// @Param format query string true "csv or pdf"
// @Success 200 {file} binary
// @Router /moderation/requests/export [get]
func (h *ModerationHandler) Export(c *gin.Context) {
	if h.exports == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "exports are disabled"))
		return
	}
	query := parseRequestQuery(c)
	result, err := h.exports.ExportHistory(c.Request.Context(), query, c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename="+result.Filename)
	c.Data(http.StatusOK, result.ContentType, result.Data)
}

func parseRequestQuery(c *gin.Context) dto.RequestQuery {
	query := dto.RequestQuery{
		UserID: strings.TrimSpace(c.Query("userId")),
	}
	if rawKind := c.Query("kind"); rawKind != "" {
		query.Kind = models.RequestKind(strings.ToUpper(rawKind))
	}
	if rawStatus := c.Query("status"); rawStatus != "" {
		parts := strings.Split(rawStatus, ",")
		statuses := make([]models.RequestStatus, 0, len(parts))
		for _, part := range parts {
			part = strings.ToUpper(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			statuses = append(statuses, models.RequestStatus(part))
		}
		query.Status = statuses
	}
	if rawLimit := c.Query("limit"); rawLimit != "" {
		query.Limit, _ = strconv.Atoi(rawLimit)
	}
	if rawOffset := c.Query("offset"); rawOffset != "" {
		query.Offset, _ = strconv.Atoi(rawOffset)
	}
	return query
}
