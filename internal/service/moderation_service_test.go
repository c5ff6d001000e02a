package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/ludo-moderation-api/internal/dto"
	"github.com/noah-isme/ludo-moderation-api/internal/models"
	appErrors "github.com/noah-isme/ludo-moderation-api/pkg/errors"
)

type requestStoreStub struct {
	mu       sync.Mutex
	requests map[string]*models.ModerationRequest

	casCalls  int
	intentErr error
	// casConflict simulates a concurrent decision landing between the
	// read and the conditional write.
	casConflict func(req *models.ModerationRequest)
}

func newRequestStoreStub() *requestStoreStub {
	return &requestStoreStub{requests: make(map[string]*models.ModerationRequest)}
}

func (s *requestStoreStub) add(req *models.ModerationRequest) *models.ModerationRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	if req.SettlementState == "" {
		req.SettlementState = models.SettlementStateNotStarted
	}
	s.requests[req.ID] = req
	return req
}

func (s *requestStoreStub) Create(ctx context.Context, req *models.ModerationRequest) error {
	if req.ID == "" {
		req.ID = "generated-id"
	}
	s.add(req)
	return nil
}

func (s *requestStoreStub) GetByID(ctx context.Context, id string) (*models.ModerationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *req
	return &copy, nil
}

func (s *requestStoreStub) ListPending(ctx context.Context, kind models.RequestKind, limit int) ([]models.ModerationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]models.ModerationRequest, 0)
	for _, req := range s.requests {
		if req.Kind == kind && req.Status == models.RequestStatusPending {
			result = append(result, *req)
		}
	}
	return result, nil
}

func (s *requestStoreStub) List(ctx context.Context, filter models.RequestFilter) ([]models.ModerationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]models.ModerationRequest, 0, len(s.requests))
	for _, req := range s.requests {
		result = append(result, *req)
	}
	return result, nil
}

func (s *requestStoreStub) CASUpdateStatus(ctx context.Context, id string, expected, next models.RequestStatus, decidedBy string, decidedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.casCalls++
	req, ok := s.requests[id]
	if !ok {
		return sql.ErrNoRows
	}
	if s.casConflict != nil {
		s.casConflict(req)
		s.casConflict = nil
	}
	if req.Status != expected {
		return sql.ErrNoRows
	}
	req.Status = next
	req.DecidedBy = &decidedBy
	req.DecidedAt = &decidedAt
	return nil
}

type settlerStub struct {
	calls   int
	outcome models.SettlementOutcome
	err     error
	store   *requestStoreStub
}

func (s *settlerStub) ApprovePayment(ctx context.Context, id, operatorID string) (*models.ModerationRequest, models.SettlementOutcome, error) {
	s.calls++
	if s.err != nil {
		return nil, "", s.err
	}
	req := s.store.requests[id]
	now := time.Now().UTC()
	req.Status = models.RequestStatusApproved
	req.DecidedBy = &operatorID
	req.DecidedAt = &now
	copy := *req
	return &copy, s.outcome, nil
}

type auditStub struct {
	logs []*models.AuditLog
}

func (a *auditStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func newModerationFixture() (*ModerationService, *requestStoreStub, *settlerStub, *auditStub) {
	store := newRequestStoreStub()
	settler := &settlerStub{outcome: models.SettlementOutcomeCredited, store: store}
	audit := &auditStub{}
	svc := NewModerationService(store, settler, audit, nil, nil)
	return svc, store, settler, audit
}

func TestModerationServiceSubmitPayment(t *testing.T) {
	svc, _, _, audit := newModerationFixture()

	req, err := svc.Submit(context.Background(), dto.SubmitRequestRequest{
		Kind:          models.RequestKindPayment,
		UserID:        "user-1",
		Amount:        500,
		TransactionID: "TXN-1",
	})
	require.NoError(t, err)
	require.Equal(t, models.RequestStatusPending, req.Status)
	require.Equal(t, models.SettlementStateNotStarted, req.SettlementState)
	require.Len(t, audit.logs, 1)
	require.Equal(t, models.AuditActionRequestSubmit, audit.logs[0].Action)
}

func TestModerationServiceSubmitValidation(t *testing.T) {
	svc, _, _, _ := newModerationFixture()

	cases := []struct {
		name string
		req  dto.SubmitRequestRequest
	}{
		{"unknown kind", dto.SubmitRequestRequest{Kind: "TRANSFER", UserID: "u", Amount: 10}},
		{"missing user", dto.SubmitRequestRequest{Kind: models.RequestKindPayment, Amount: 10, TransactionID: "t"}},
		{"non-positive amount", dto.SubmitRequestRequest{Kind: models.RequestKindPayment, UserID: "u", Amount: 0, TransactionID: "t"}},
		{"payment without transaction", dto.SubmitRequestRequest{Kind: models.RequestKindPayment, UserID: "u", Amount: 10}},
		{"withdrawal without method", dto.SubmitRequestRequest{Kind: models.RequestKindWithdrawal, UserID: "u", Amount: 10}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Submit(context.Background(), tc.req)
			require.True(t, appErrors.HasCode(err, appErrors.ErrValidation))
		})
	}
}

func TestModerationServiceGetNotFound(t *testing.T) {
	svc, _, _, _ := newModerationFixture()

	_, err := svc.Get(context.Background(), "missing")
	require.True(t, appErrors.HasCode(err, appErrors.ErrNotFound))
}

func TestModerationServiceRejectPending(t *testing.T) {
	svc, store, settler, audit := newModerationFixture()
	store.add(&models.ModerationRequest{ID: "req-1", Kind: models.RequestKindPayment, UserID: "user-1", Amount: 100, Status: models.RequestStatusPending})

	req, err := svc.Reject(context.Background(), "req-1", "op-1")
	require.NoError(t, err)
	require.Equal(t, models.RequestStatusRejected, req.Status)
	require.Equal(t, "op-1", *req.DecidedBy)
	require.Zero(t, settler.calls)
	require.Len(t, audit.logs, 1)
	require.Equal(t, models.AuditActionRequestReject, audit.logs[0].Action)
}

func TestModerationServiceRejectIdempotent(t *testing.T) {
	svc, store, _, _ := newModerationFixture()
	store.add(&models.ModerationRequest{ID: "req-1", Kind: models.RequestKindWithdrawal, UserID: "user-1", Amount: 100, Status: models.RequestStatusRejected})

	req, err := svc.Reject(context.Background(), "req-1", "op-2")
	require.NoError(t, err)
	require.Equal(t, models.RequestStatusRejected, req.Status)
	require.Zero(t, store.casCalls)
}

func TestModerationServiceRejectApprovedFails(t *testing.T) {
	svc, store, _, _ := newModerationFixture()
	store.add(&models.ModerationRequest{ID: "req-1", Kind: models.RequestKindWithdrawal, UserID: "user-1", Amount: 100, Status: models.RequestStatusApproved})

	_, err := svc.Reject(context.Background(), "req-1", "op-1")
	require.True(t, appErrors.HasCode(err, appErrors.ErrInvalidTransition))
}

func TestModerationServiceRejectLostRaceToApproval(t *testing.T) {
	svc, store, _, _ := newModerationFixture()
	store.add(&models.ModerationRequest{ID: "req-1", Kind: models.RequestKindPayment, UserID: "user-1", Amount: 100, Status: models.RequestStatusPending})
	store.casConflict = func(req *models.ModerationRequest) {
		req.Status = models.RequestStatusApproved
	}

	_, err := svc.Reject(context.Background(), "req-1", "op-1")
	require.True(t, appErrors.HasCode(err, appErrors.ErrAlreadyDecided))
}

func TestModerationServiceRejectLostRaceToSameRejection(t *testing.T) {
	svc, store, _, _ := newModerationFixture()
	store.add(&models.ModerationRequest{ID: "req-1", Kind: models.RequestKindPayment, UserID: "user-1", Amount: 100, Status: models.RequestStatusPending})
	store.casConflict = func(req *models.ModerationRequest) {
		req.Status = models.RequestStatusRejected
	}

	req, err := svc.Reject(context.Background(), "req-1", "op-1")
	require.NoError(t, err)
	require.Equal(t, models.RequestStatusRejected, req.Status)
}

func TestModerationServiceDecideApprovePaymentDelegatesToSettler(t *testing.T) {
	svc, store, settler, _ := newModerationFixture()
	store.add(&models.ModerationRequest{ID: "req-1", Kind: models.RequestKindPayment, UserID: "user-1", Amount: 100, Status: models.RequestStatusPending})

	req, settlement, err := svc.Decide(context.Background(), "req-1", models.DecisionApprove, "op-1")
	require.NoError(t, err)
	require.Equal(t, 1, settler.calls)
	require.Equal(t, models.RequestStatusApproved, req.Status)
	require.Equal(t, models.SettlementOutcomeCredited, settlement)
}

func TestModerationServiceDecideApproveWithdrawalSkipsLedger(t *testing.T) {
	svc, store, settler, _ := newModerationFixture()
	store.add(&models.ModerationRequest{ID: "req-1", Kind: models.RequestKindWithdrawal, UserID: "user-1", Amount: 100, Status: models.RequestStatusPending})

	req, settlement, err := svc.Decide(context.Background(), "req-1", models.DecisionApprove, "op-1")
	require.NoError(t, err)
	require.Zero(t, settler.calls)
	require.Equal(t, models.RequestStatusApproved, req.Status)
	require.Empty(t, settlement)
}

func TestModerationServiceDecideInvalidOutcome(t *testing.T) {
	svc, _, _, _ := newModerationFixture()

	_, _, err := svc.Decide(context.Background(), "req-1", "defer", "op-1")
	require.True(t, appErrors.HasCode(err, appErrors.ErrValidation))
}

func TestModerationServiceApproveTerminalWithdrawal(t *testing.T) {
	svc, store, _, _ := newModerationFixture()
	store.add(&models.ModerationRequest{ID: "req-1", Kind: models.RequestKindWithdrawal, UserID: "user-1", Amount: 100, Status: models.RequestStatusApproved})

	_, err := svc.MarkApprovedStatusOnly(context.Background(), "req-1", "op-1")
	require.True(t, appErrors.HasCode(err, appErrors.ErrAlreadyDecided))
}

func TestModerationServiceListPendingValidatesKind(t *testing.T) {
	svc, _, _, _ := newModerationFixture()

	_, err := svc.ListPending(context.Background(), "TRANSFER", 10)
	require.True(t, appErrors.HasCode(err, appErrors.ErrValidation))
}
