package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/ludo-moderation-api/internal/ledger"
	"github.com/noah-isme/ludo-moderation-api/internal/models"
	"github.com/noah-isme/ludo-moderation-api/pkg/config"
	appErrors "github.com/noah-isme/ludo-moderation-api/pkg/errors"
)

func (s *requestStoreStub) RecordSettlementIntent(ctx context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.intentErr != nil {
		return 0, s.intentErr
	}
	req, ok := s.requests[id]
	if !ok || req.Kind != models.RequestKindPayment {
		return 0, sql.ErrNoRows
	}
	req.SettlementAttempts++
	return req.SettlementAttempts, nil
}

func (s *requestStoreStub) UpdateSettlementState(ctx context.Context, id string, state models.SettlementState, lastError *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return sql.ErrNoRows
	}
	req.SettlementState = state
	req.SettlementLastError = lastError
	return nil
}

func (s *requestStoreStub) ListUnsettled(ctx context.Context, maxAttempts, limit int) ([]models.ModerationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]models.ModerationRequest, 0)
	for _, req := range s.requests {
		if req.Kind == models.RequestKindPayment && req.Status == models.RequestStatusApproved &&
			req.SettlementState != models.SettlementStateCredited && req.SettlementAttempts < maxAttempts {
			result = append(result, *req)
		}
	}
	return result, nil
}

func (s *requestStoreStub) ListNeedsReview(ctx context.Context, maxAttempts int) ([]models.ModerationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]models.ModerationRequest, 0)
	for _, req := range s.requests {
		if req.Kind != models.RequestKindPayment || req.Status != models.RequestStatusApproved ||
			req.SettlementState == models.SettlementStateCredited {
			continue
		}
		if req.SettlementState == models.SettlementStateCreditFailed || req.SettlementAttempts >= maxAttempts {
			result = append(result, *req)
		}
	}
	return result, nil
}

func (s *requestStoreStub) CountUnsettled(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, req := range s.requests {
		if req.Kind == models.RequestKindPayment && req.Status == models.RequestStatusApproved &&
			req.SettlementState != models.SettlementStateCredited {
			count++
		}
	}
	return count, nil
}

type ledgerStub struct {
	mu      sync.Mutex
	results []ledger.Result
	keys    []string
}

func (l *ledgerStub) CreditForRequest(ctx context.Context, idempotencyKey, userID string, amount int64) ledger.Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, idempotencyKey)
	if len(l.results) == 0 {
		return ledger.Result{Outcome: ledger.OutcomeCredited}
	}
	result := l.results[0]
	if len(l.results) > 1 {
		l.results = l.results[1:]
	}
	return result
}

func (l *ledgerStub) calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

type lockStub struct {
	denied  bool
	err     error
	acquire int
	release int
}

func (l *lockStub) Acquire(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	l.acquire++
	if l.err != nil {
		return false, l.err
	}
	return !l.denied, nil
}

func (l *lockStub) Release(ctx context.Context, name, holder string) error {
	l.release++
	return nil
}

func newSettlementFixture(cfg config.SweepConfig) (*SettlementService, *requestStoreStub, *ledgerStub, *lockStub) {
	store := newRequestStoreStub()
	ledgerClient := &ledgerStub{}
	lock := &lockStub{}
	svc := NewSettlementService(store, ledgerClient, lock, &auditStub{}, nil, nil, cfg)
	return svc, store, ledgerClient, lock
}

func pendingPayment(id string) *models.ModerationRequest {
	return &models.ModerationRequest{
		ID:              id,
		Kind:            models.RequestKindPayment,
		UserID:          "user-1",
		Amount:          500,
		Status:          models.RequestStatusPending,
		SettlementState: models.SettlementStateNotStarted,
	}
}

func TestSettlementServiceApprovePaymentCredits(t *testing.T) {
	svc, store, ledgerClient, _ := newSettlementFixture(config.SweepConfig{MaxAttempts: 5})
	store.add(pendingPayment("req-1"))

	req, outcome, err := svc.ApprovePayment(context.Background(), "req-1", "op-1")
	require.NoError(t, err)
	require.Equal(t, models.SettlementOutcomeCredited, outcome)
	require.Equal(t, models.RequestStatusApproved, req.Status)
	require.Equal(t, 1, ledgerClient.calls())
	require.Equal(t, []string{"req-1"}, ledgerClient.keys)

	stored, _ := store.GetByID(context.Background(), "req-1")
	require.Equal(t, models.SettlementStateCredited, stored.SettlementState)
	require.Equal(t, 1, stored.SettlementAttempts)
}

func TestSettlementServiceSecondApproveIssuesNoCredit(t *testing.T) {
	svc, store, ledgerClient, _ := newSettlementFixture(config.SweepConfig{MaxAttempts: 5})
	store.add(pendingPayment("req-1"))

	_, _, err := svc.ApprovePayment(context.Background(), "req-1", "op-1")
	require.NoError(t, err)

	_, _, err = svc.ApprovePayment(context.Background(), "req-1", "op-2")
	require.True(t, appErrors.HasCode(err, appErrors.ErrAlreadyDecided))
	require.Equal(t, 1, ledgerClient.calls())
}

func TestSettlementServiceConcurrentApproveLosesRace(t *testing.T) {
	svc, store, ledgerClient, _ := newSettlementFixture(config.SweepConfig{MaxAttempts: 5})
	store.add(pendingPayment("req-1"))
	store.casConflict = func(req *models.ModerationRequest) {
		req.Status = models.RequestStatusRejected
	}

	_, _, err := svc.ApprovePayment(context.Background(), "req-1", "op-1")
	require.True(t, appErrors.HasCode(err, appErrors.ErrAlreadyDecided))
	require.Zero(t, ledgerClient.calls())
}

func TestSettlementServiceApproveWithdrawalRefused(t *testing.T) {
	svc, store, ledgerClient, _ := newSettlementFixture(config.SweepConfig{MaxAttempts: 5})
	store.add(&models.ModerationRequest{ID: "req-1", Kind: models.RequestKindWithdrawal, UserID: "user-1", Amount: 100, Status: models.RequestStatusPending})

	_, _, err := svc.ApprovePayment(context.Background(), "req-1", "op-1")
	require.True(t, appErrors.HasCode(err, appErrors.ErrInvalidTransition))
	require.Zero(t, ledgerClient.calls())
}

func TestSettlementServiceLedgerRejectionRecordsReason(t *testing.T) {
	svc, store, ledgerClient, _ := newSettlementFixture(config.SweepConfig{MaxAttempts: 5})
	store.add(pendingPayment("req-1"))
	ledgerClient.results = []ledger.Result{{Outcome: ledger.OutcomeRejected, Reason: "unknown account"}}

	_, outcome, err := svc.ApprovePayment(context.Background(), "req-1", "op-1")
	require.NoError(t, err)
	require.Equal(t, models.SettlementOutcomeCreditFailed, outcome)

	stored, _ := store.GetByID(context.Background(), "req-1")
	require.Equal(t, models.RequestStatusApproved, stored.Status)
	require.Equal(t, models.SettlementStateCreditFailed, stored.SettlementState)
	require.Equal(t, "unknown account", *stored.SettlementLastError)
}

func TestSettlementServiceIndeterminateKeepsState(t *testing.T) {
	svc, store, ledgerClient, _ := newSettlementFixture(config.SweepConfig{MaxAttempts: 5})
	store.add(pendingPayment("req-1"))
	ledgerClient.results = []ledger.Result{{Outcome: ledger.OutcomeIndeterminate, Reason: "credit call failed: timeout"}}

	_, outcome, err := svc.ApprovePayment(context.Background(), "req-1", "op-1")
	require.NoError(t, err)
	require.Equal(t, models.SettlementOutcomeIndeterminate, outcome)

	stored, _ := store.GetByID(context.Background(), "req-1")
	require.Equal(t, models.SettlementStateNotStarted, stored.SettlementState)
	require.Equal(t, 1, stored.SettlementAttempts)
	require.NotNil(t, stored.SettlementLastError)
}

func TestSettlementServiceIntentFailureSkipsLedger(t *testing.T) {
	svc, store, ledgerClient, _ := newSettlementFixture(config.SweepConfig{MaxAttempts: 5})
	store.add(pendingPayment("req-1"))
	store.intentErr = errors.New("store down")

	_, outcome, err := svc.ApprovePayment(context.Background(), "req-1", "op-1")
	require.NoError(t, err)
	require.Equal(t, models.SettlementOutcomeIndeterminate, outcome)
	require.Zero(t, ledgerClient.calls())

	stored, _ := store.GetByID(context.Background(), "req-1")
	require.Equal(t, models.RequestStatusApproved, stored.Status)
}

func TestSettlementServiceRepairReusesIdempotencyKey(t *testing.T) {
	svc, store, ledgerClient, _ := newSettlementFixture(config.SweepConfig{MaxAttempts: 5})
	store.add(pendingPayment("req-1"))
	ledgerClient.results = []ledger.Result{
		{Outcome: ledger.OutcomeIndeterminate, Reason: "credit call failed: timeout"},
		{Outcome: ledger.OutcomeCredited},
	}

	_, outcome, err := svc.ApprovePayment(context.Background(), "req-1", "op-1")
	require.NoError(t, err)
	require.Equal(t, models.SettlementOutcomeIndeterminate, outcome)

	outcome, err = svc.RepairSettlement(context.Background(), "req-1")
	require.NoError(t, err)
	require.Equal(t, models.SettlementOutcomeCredited, outcome)
	require.Equal(t, []string{"req-1", "req-1"}, ledgerClient.keys)

	stored, _ := store.GetByID(context.Background(), "req-1")
	require.Equal(t, models.SettlementStateCredited, stored.SettlementState)
	require.Equal(t, 2, stored.SettlementAttempts)
}

func TestSettlementServiceRepairCreditedIsNoOp(t *testing.T) {
	svc, store, ledgerClient, _ := newSettlementFixture(config.SweepConfig{MaxAttempts: 5})
	req := pendingPayment("req-1")
	req.Status = models.RequestStatusApproved
	req.SettlementState = models.SettlementStateCredited
	req.SettlementAttempts = 1
	store.add(req)

	outcome, err := svc.RepairSettlement(context.Background(), "req-1")
	require.NoError(t, err)
	require.Equal(t, models.SettlementOutcomeCredited, outcome)
	require.Zero(t, ledgerClient.calls())
}

func TestSettlementServiceRepairExhaustedAttempts(t *testing.T) {
	svc, store, _, _ := newSettlementFixture(config.SweepConfig{MaxAttempts: 2})
	req := pendingPayment("req-1")
	req.Status = models.RequestStatusApproved
	req.SettlementAttempts = 2
	store.add(req)

	_, err := svc.RepairSettlement(context.Background(), "req-1")
	require.True(t, appErrors.HasCode(err, appErrors.ErrLedgerRejected))
}

func TestSettlementServiceSweepDrivesCreditToCompletion(t *testing.T) {
	svc, store, ledgerClient, lock := newSettlementFixture(config.SweepConfig{MaxAttempts: 5, Workers: 1, LockTTL: time.Minute})
	req := pendingPayment("req-1")
	req.Status = models.RequestStatusApproved
	store.add(req)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop()

	report, err := svc.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Scanned)
	require.Equal(t, 1, report.Enqueued)

	require.Eventually(t, func() bool {
		stored, _ := store.GetByID(context.Background(), "req-1")
		return stored.SettlementState == models.SettlementStateCredited
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, ledgerClient.calls())
	require.Equal(t, 1, lock.release)
}

func TestSettlementServiceSweepSkipsWhenLockHeld(t *testing.T) {
	svc, store, _, lock := newSettlementFixture(config.SweepConfig{MaxAttempts: 5, Workers: 1, LockTTL: time.Minute})
	req := pendingPayment("req-1")
	req.Status = models.RequestStatusApproved
	store.add(req)
	lock.denied = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop()

	report, err := svc.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, report.Scanned)
	require.Zero(t, report.Enqueued)
}

func TestSettlementServiceSweepProceedsOnLockError(t *testing.T) {
	svc, store, ledgerClient, lock := newSettlementFixture(config.SweepConfig{MaxAttempts: 5, Workers: 1, LockTTL: time.Minute})
	req := pendingPayment("req-1")
	req.Status = models.RequestStatusApproved
	store.add(req)
	lock.err = errors.New("redis down")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop()

	report, err := svc.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Enqueued)

	require.Eventually(t, func() bool {
		return ledgerClient.calls() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSettlementServiceNeedsReviewListsFailures(t *testing.T) {
	svc, store, _, _ := newSettlementFixture(config.SweepConfig{MaxAttempts: 3})
	failed := pendingPayment("req-1")
	failed.Status = models.RequestStatusApproved
	failed.SettlementState = models.SettlementStateCreditFailed
	store.add(failed)
	healthy := pendingPayment("req-2")
	healthy.Status = models.RequestStatusApproved
	healthy.SettlementState = models.SettlementStateCredited
	store.add(healthy)

	list, err := svc.NeedsReview(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "req-1", list[0].ID)
}
