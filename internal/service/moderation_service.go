package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/ludo-moderation-api/internal/dto"
	"github.com/noah-isme/ludo-moderation-api/internal/models"
	appErrors "github.com/noah-isme/ludo-moderation-api/pkg/errors"
)

type moderationStore interface {
	Create(ctx context.Context, req *models.ModerationRequest) error
	GetByID(ctx context.Context, id string) (*models.ModerationRequest, error)
	ListPending(ctx context.Context, kind models.RequestKind, limit int) ([]models.ModerationRequest, error)
	List(ctx context.Context, filter models.RequestFilter) ([]models.ModerationRequest, error)
	CASUpdateStatus(ctx context.Context, id string, expected, next models.RequestStatus, decidedBy string, decidedAt time.Time) error
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// paymentSettler drives the approve-and-credit sequence for payment
// requests; everything else is a plain status transition.
type paymentSettler interface {
	ApprovePayment(ctx context.Context, id, operatorID string) (*models.ModerationRequest, models.SettlementOutcome, error)
}

// ModerationService owns the operator queue and status transitions.
type ModerationService struct {
	repo    moderationStore
	settler paymentSettler
	audit   auditLogger
	metrics *MetricsService
	logger  *zap.Logger
}

// NewModerationService constructs the service.
func NewModerationService(repo moderationStore, settler paymentSettler, audit auditLogger, metrics *MetricsService, logger *zap.Logger) *ModerationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModerationService{
		repo:    repo,
		settler: settler,
		audit:   audit,
		metrics: metrics,
		logger:  logger,
	}
}

// Submit stores a new player request after validating kind-specific fields.
func (s *ModerationService) Submit(ctx context.Context, req dto.SubmitRequestRequest) (*models.ModerationRequest, error) {
	if err := validateSubmission(req); err != nil {
		return nil, err
	}
	request := &models.ModerationRequest{
		Kind:            req.Kind,
		UserID:          strings.TrimSpace(req.UserID),
		Amount:          req.Amount,
		Status:          models.RequestStatusPending,
		SettlementState: models.SettlementStateNotStarted,
		TransactionID:   optionalString(req.TransactionID),
		ScreenshotURL:   optionalString(req.ScreenshotURL),
		Method:          optionalString(req.Method),
	}
	if err := s.repo.Create(ctx, request); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to store request")
	}
	s.emitAudit(ctx, &models.AuditLog{
		Action:     models.AuditActionRequestSubmit,
		Resource:   string(request.Kind),
		ResourceID: &request.ID,
		NewValues:  marshalAudit(map[string]interface{}{"amount": request.Amount, "userId": request.UserID}),
	})
	return request, nil
}

// ListPending returns the review queue for a kind, newest first.
func (s *ModerationService) ListPending(ctx context.Context, kind models.RequestKind, limit int) ([]models.ModerationRequest, error) {
	if !kind.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "kind must be PAYMENT or WITHDRAWAL")
	}
	requests, err := s.repo.ListPending(ctx, kind, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to load pending queue")
	}
	return requests, nil
}

// List returns decided and pending requests matching the history filter.
func (s *ModerationService) List(ctx context.Context, query dto.RequestQuery) ([]models.ModerationRequest, error) {
	filter := models.RequestFilter{
		Kind:   query.Kind,
		Status: query.Status,
		UserID: strings.TrimSpace(query.UserID),
		Limit:  query.Limit,
		Offset: query.Offset,
	}
	requests, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to list requests")
	}
	return requests, nil
}

// Get returns a single request by id.
func (s *ModerationService) Get(ctx context.Context, id string) (*models.ModerationRequest, error) {
	request, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to load request")
	}
	return request, nil
}

// Decide applies an operator decision. Payment approvals run the full
// settlement sequence; withdrawal approvals and all rejections are status
// transitions only.
func (s *ModerationService) Decide(ctx context.Context, id string, outcome models.DecisionOutcome, operatorID string) (*models.ModerationRequest, models.SettlementOutcome, error) {
	switch outcome {
	case models.DecisionReject:
		request, err := s.Reject(ctx, id, operatorID)
		return request, "", err
	case models.DecisionApprove:
		request, err := s.Get(ctx, id)
		if err != nil {
			return nil, "", err
		}
		if request.Kind == models.RequestKindPayment {
			request, settlement, err := s.settler.ApprovePayment(ctx, id, operatorID)
			if err == nil {
				s.recordDecision(ctx, request, operatorID, models.AuditActionRequestApprove)
			}
			return request, settlement, err
		}
		request, err = s.MarkApprovedStatusOnly(ctx, id, operatorID)
		return request, "", err
	default:
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "outcome must be approve or reject")
	}
}

// Reject conditionally moves a pending request to REJECTED. Retrying
// against an already-rejected request is a silent no-op; rejecting an
// approved request is an invalid transition.
func (s *ModerationService) Reject(ctx context.Context, id, operatorID string) (*models.ModerationRequest, error) {
	request, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch request.Status {
	case models.RequestStatusRejected:
		return request, nil
	case models.RequestStatusApproved:
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "cannot reject an approved request")
	}

	now := time.Now().UTC()
	if err := s.repo.CASUpdateStatus(ctx, id, models.RequestStatusPending, models.RequestStatusRejected, operatorID, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s.resolveLostRace(ctx, id, models.RequestStatusRejected)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to update status")
	}

	request.Status = models.RequestStatusRejected
	request.DecidedBy = &operatorID
	request.DecidedAt = &now
	s.recordDecision(ctx, request, operatorID, models.AuditActionRequestReject)
	return request, nil
}

// MarkApprovedStatusOnly conditionally moves a pending request to
// APPROVED with no settlement step. Used directly for withdrawals and as
// step A of the payment settlement sequence.
func (s *ModerationService) MarkApprovedStatusOnly(ctx context.Context, id, operatorID string) (*models.ModerationRequest, error) {
	request, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if request.Status.Terminal() {
		return nil, terminalStatusError(request.Status, models.RequestStatusApproved)
	}

	now := time.Now().UTC()
	if err := s.repo.CASUpdateStatus(ctx, id, models.RequestStatusPending, models.RequestStatusApproved, operatorID, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s.resolveLostRace(ctx, id, models.RequestStatusApproved)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to update status")
	}

	request.Status = models.RequestStatusApproved
	request.DecidedBy = &operatorID
	request.DecidedAt = &now
	s.recordDecision(ctx, request, operatorID, models.AuditActionRequestApprove)
	return request, nil
}

// resolveLostRace classifies a compare-and-set failure by re-fetching the
// row: the request was either deleted (impossible by design, but treated
// as not found) or decided by a concurrent operator.
func (s *ModerationService) resolveLostRace(ctx context.Context, id string, wanted models.RequestStatus) (*models.ModerationRequest, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == wanted && wanted == models.RequestStatusRejected {
		// Concurrent retry landed the same rejection; idempotent no-op.
		return current, nil
	}
	return nil, appErrors.Clone(appErrors.ErrAlreadyDecided, "request was decided concurrently, re-fetch to see the outcome")
}

func (s *ModerationService) recordDecision(ctx context.Context, request *models.ModerationRequest, operatorID, action string) {
	s.metrics.RecordDecision(string(request.Kind), string(request.Status))
	s.emitAudit(ctx, &models.AuditLog{
		OperatorID: &operatorID,
		Action:     action,
		Resource:   string(request.Kind),
		ResourceID: &request.ID,
		NewValues: marshalAudit(map[string]interface{}{
			"status":          request.Status,
			"settlementState": request.SettlementState,
		}),
	})
}

func (s *ModerationService) emitAudit(ctx context.Context, log *models.AuditLog) {
	if s.audit == nil || log == nil {
		return
	}
	log.IPAddress = "system"
	log.UserAgent = "moderation-service"
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}

func terminalStatusError(current, wanted models.RequestStatus) error {
	if current == wanted {
		return appErrors.Clone(appErrors.ErrAlreadyDecided, "request is already "+strings.ToLower(string(current)))
	}
	return appErrors.Clone(appErrors.ErrInvalidTransition, "request is already "+strings.ToLower(string(current)))
}

func validateSubmission(req dto.SubmitRequestRequest) error {
	if !req.Kind.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, "kind must be PAYMENT or WITHDRAWAL")
	}
	if strings.TrimSpace(req.UserID) == "" {
		return appErrors.Clone(appErrors.ErrValidation, "userId is required")
	}
	if req.Amount <= 0 {
		return appErrors.Clone(appErrors.ErrValidation, "amount must be positive")
	}
	if req.Kind == models.RequestKindPayment && strings.TrimSpace(req.TransactionID) == "" {
		return appErrors.Clone(appErrors.ErrValidation, "transactionId is required for payment requests")
	}
	if req.Kind == models.RequestKindWithdrawal && strings.TrimSpace(req.Method) == "" {
		return appErrors.Clone(appErrors.ErrValidation, "method is required for withdrawal requests")
	}
	return nil
}

func optionalString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func marshalAudit(values map[string]interface{}) []byte {
	raw, err := json.Marshal(values)
	if err != nil {
		return nil
	}
	return raw
}
