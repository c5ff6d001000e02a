package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/ludo-moderation-api/internal/dto"
	"github.com/noah-isme/ludo-moderation-api/internal/ledger"
	"github.com/noah-isme/ludo-moderation-api/internal/models"
	"github.com/noah-isme/ludo-moderation-api/pkg/config"
	appErrors "github.com/noah-isme/ludo-moderation-api/pkg/errors"
	"github.com/noah-isme/ludo-moderation-api/pkg/jobs"
)

type settlementStore interface {
	GetByID(ctx context.Context, id string) (*models.ModerationRequest, error)
	CASUpdateStatus(ctx context.Context, id string, expected, next models.RequestStatus, decidedBy string, decidedAt time.Time) error
	RecordSettlementIntent(ctx context.Context, id string) (int, error)
	UpdateSettlementState(ctx context.Context, id string, state models.SettlementState, lastError *string) error
	ListUnsettled(ctx context.Context, maxAttempts, limit int) ([]models.ModerationRequest, error)
	ListNeedsReview(ctx context.Context, maxAttempts int) ([]models.ModerationRequest, error)
	CountUnsettled(ctx context.Context) (int, error)
}

type sweepLock interface {
	Acquire(ctx context.Context, name, holder string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name, holder string) error
}

const sweepLockName = "settlement-sweep"

// SettlementService makes "approve a payment and credit the ledger" behave
// as an effectively-atomic operation across two independently-failing
// systems. The status write always lands first, so every dispatched credit
// belongs to a request the reconciliation sweep can see.
type SettlementService struct {
	repo       settlementStore
	ledger     ledger.Client
	lock       sweepLock
	audit      auditLogger
	metrics    *MetricsService
	logger     *zap.Logger
	cfg        config.SweepConfig
	queue      *jobs.Queue
	instanceID string
}

// NewSettlementService constructs the coordinator and its sweep queue.
func NewSettlementService(repo settlementStore, ledgerClient ledger.Client, lock sweepLock, audit auditLogger, metrics *MetricsService, logger *zap.Logger, cfg config.SweepConfig) *SettlementService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	svc := &SettlementService{
		repo:       repo,
		ledger:     ledgerClient,
		lock:       lock,
		audit:      audit,
		metrics:    metrics,
		logger:     logger,
		cfg:        cfg,
		instanceID: uuid.NewString(),
	}
	svc.queue = jobs.NewQueue("settlement", svc.handleRepairJob, jobs.QueueConfig{
		Workers: cfg.Workers,
		Logger:  logger,
	})
	return svc
}

// Start launches the sweep queue workers and, when enabled, the periodic
// sweep loop.
func (s *SettlementService) Start(ctx context.Context) {
	s.queue.Start(ctx)
	if !s.cfg.Enabled {
		return
	}
	go s.run(ctx)
}

// Stop drains the sweep workers.
func (s *SettlementService) Stop() {
	s.queue.Stop()
}

// ApprovePayment runs the two-phase approval sequence for a payment
// request: compare-and-set the status to APPROVED, durably record
// settlement intent, then dispatch the idempotent ledger credit keyed by
// the request id. A lost status race aborts before any ledger call.
func (s *SettlementService) ApprovePayment(ctx context.Context, id, operatorID string) (*models.ModerationRequest, models.SettlementOutcome, error) {
	request, err := s.load(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if request.Kind != models.RequestKindPayment {
		return nil, "", appErrors.Clone(appErrors.ErrInvalidTransition, "settlement applies to payment requests only")
	}
	if request.Status.Terminal() {
		return nil, "", terminalStatusError(request.Status, models.RequestStatusApproved)
	}

	now := time.Now().UTC()
	if err := s.repo.CASUpdateStatus(ctx, id, models.RequestStatusPending, models.RequestStatusApproved, operatorID, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", appErrors.Clone(appErrors.ErrAlreadyDecided, "request was decided concurrently, no credit was issued")
		}
		return nil, "", appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to update status")
	}
	request.Status = models.RequestStatusApproved
	request.DecidedBy = &operatorID
	request.DecidedAt = &now

	outcome := s.settle(ctx, request, "coordinator")
	return request, outcome, nil
}

// RepairSettlement re-runs the settlement sequence for an approved payment
// whose credit is unconfirmed. Safe to call repeatedly: the ledger call is
// idempotent per request id.
func (s *SettlementService) RepairSettlement(ctx context.Context, id string) (models.SettlementOutcome, error) {
	request, err := s.load(ctx, id)
	if err != nil {
		return "", err
	}
	if request.Kind != models.RequestKindPayment || request.Status != models.RequestStatusApproved {
		return "", appErrors.Clone(appErrors.ErrInvalidTransition, "request has no settlement to repair")
	}
	if request.SettlementState == models.SettlementStateCredited {
		return models.SettlementOutcomeCredited, nil
	}
	if request.SettlementAttempts >= s.cfg.MaxAttempts {
		return "", appErrors.Clone(appErrors.ErrLedgerRejected, "settlement attempts exhausted, manual review required")
	}
	return s.settle(ctx, request, "sweep"), nil
}

// NeedsReview lists approved payments whose settlement is failed or has
// exhausted its attempts.
func (s *SettlementService) NeedsReview(ctx context.Context) ([]models.ModerationRequest, error) {
	requests, err := s.repo.ListNeedsReview(ctx, s.cfg.MaxAttempts)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to list requests needing review")
	}
	return requests, nil
}

// Sweep scans for unsettled approved payments and enqueues each for an
// idempotent re-attempt. Guarded by an advisory leader lock; when the lock
// is unavailable the scan proceeds anyway because duplicate attempts are
// harmless.
func (s *SettlementService) Sweep(ctx context.Context) (dto.SweepReport, error) {
	report := dto.SweepReport{}

	acquired, err := s.lock.Acquire(ctx, sweepLockName, s.instanceID, s.cfg.LockTTL)
	if err != nil {
		s.logger.Warn("sweep lock unavailable, proceeding without it", zap.Error(err))
	} else if !acquired {
		s.logger.Debug("sweep already running on another instance")
		return report, nil
	} else {
		defer func() {
			if err := s.lock.Release(context.WithoutCancel(ctx), sweepLockName, s.instanceID); err != nil {
				s.logger.Warn("failed to release sweep lock", zap.Error(err))
			}
		}()
	}

	unsettled, err := s.repo.ListUnsettled(ctx, s.cfg.MaxAttempts, 0)
	if err != nil {
		return report, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to scan unsettled requests")
	}
	report.Scanned = len(unsettled)

	for _, request := range unsettled {
		if err := s.queue.Enqueue(jobs.Job{RequestID: request.ID}); err != nil {
			s.logger.Warn("failed to enqueue settlement repair", zap.String("request_id", request.ID), zap.Error(err))
			continue
		}
		report.Enqueued++
	}

	capped, err := s.repo.ListNeedsReview(ctx, s.cfg.MaxAttempts)
	if err == nil {
		report.Capped = len(capped)
	}
	if backlog, err := s.repo.CountUnsettled(ctx); err == nil {
		s.metrics.SetSettlementBacklog(backlog)
	}
	s.metrics.RecordSweepRun()

	s.emitSweepAudit(ctx, report)
	return report, nil
}

func (s *SettlementService) run(ctx context.Context) {
	interval := s.cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Warn("reconciliation sweep failed", zap.Error(err))
			}
		}
	}
}

// settle runs steps B and C of the sequence: durable intent, then the
// classified ledger call. It runs on a cancel-detached context so caller
// cancellation can never leave a dispatched credit unrecorded.
func (s *SettlementService) settle(ctx context.Context, request *models.ModerationRequest, source string) models.SettlementOutcome {
	ctx = context.WithoutCancel(ctx)

	attempts, err := s.repo.RecordSettlementIntent(ctx, request.ID)
	if err != nil {
		// No intent recorded and no credit dispatched. The request is
		// already APPROVED with an unconfirmed settlement, which the sweep
		// discovers by status alone.
		s.logger.Error("failed to record settlement intent",
			zap.String("request_id", request.ID), zap.Error(err))
		s.metrics.RecordSettlement(string(models.SettlementOutcomeIndeterminate), source)
		return models.SettlementOutcomeIndeterminate
	}
	request.SettlementAttempts = attempts

	start := time.Now()
	result := s.ledger.CreditForRequest(ctx, request.ID, request.UserID, request.Amount)
	s.metrics.ObserveLedgerCall(string(result.Outcome), time.Since(start))

	switch result.Outcome {
	case ledger.OutcomeCredited:
		if err := s.repo.UpdateSettlementState(ctx, request.ID, models.SettlementStateCredited, nil); err != nil {
			// The credit landed but the record write failed. Re-attempting
			// via the sweep is safe: the ledger deduplicates by key.
			s.logger.Error("credit confirmed but settlement record write failed",
				zap.String("request_id", request.ID), zap.Error(err))
			s.metrics.RecordSettlement(string(models.SettlementOutcomeIndeterminate), source)
			return models.SettlementOutcomeIndeterminate
		}
		request.SettlementState = models.SettlementStateCredited
		request.SettlementLastError = nil
		s.metrics.RecordSettlement(string(models.SettlementOutcomeCredited), source)
		return models.SettlementOutcomeCredited

	case ledger.OutcomeRejected:
		reason := result.Reason
		if err := s.repo.UpdateSettlementState(ctx, request.ID, models.SettlementStateCreditFailed, &reason); err != nil {
			s.logger.Error("failed to record ledger rejection",
				zap.String("request_id", request.ID), zap.Error(err))
		}
		request.SettlementState = models.SettlementStateCreditFailed
		request.SettlementLastError = &reason
		s.logger.Warn("ledger rejected credit, manual review required",
			zap.String("request_id", request.ID), zap.String("reason", reason))
		s.metrics.RecordSettlement(string(models.SettlementOutcomeCreditFailed), source)
		return models.SettlementOutcomeCreditFailed

	default:
		// Outcome unknown: keep the pre-call state, the incremented
		// attempt count is enough for the sweep to resolve it later.
		reason := result.Reason
		if err := s.repo.UpdateSettlementState(ctx, request.ID, request.SettlementState, &reason); err != nil {
			s.logger.Error("failed to record indeterminate ledger outcome",
				zap.String("request_id", request.ID), zap.Error(err))
		}
		request.SettlementLastError = &reason
		s.metrics.RecordSettlement(string(models.SettlementOutcomeIndeterminate), source)
		return models.SettlementOutcomeIndeterminate
	}
}

func (s *SettlementService) handleRepairJob(ctx context.Context, job jobs.Job) error {
	outcome, err := s.RepairSettlement(ctx, job.RequestID)
	if err != nil {
		if appErrors.HasCode(err, appErrors.ErrInvalidTransition) || appErrors.HasCode(err, appErrors.ErrLedgerRejected) {
			// Nothing repairable; do not requeue.
			return nil
		}
		return err
	}
	if outcome == models.SettlementOutcomeIndeterminate {
		s.logger.Warn("settlement repair indeterminate, next sweep will retry",
			zap.String("request_id", job.RequestID))
	}
	if outcome == models.SettlementOutcomeCredited {
		s.emitAuditRepair(ctx, job.RequestID)
	}
	return nil
}

func (s *SettlementService) load(ctx context.Context, id string) (*models.ModerationRequest, error) {
	request, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to load request")
	}
	return request, nil
}

func (s *SettlementService) emitSweepAudit(ctx context.Context, report dto.SweepReport) {
	if s.audit == nil {
		return
	}
	log := &models.AuditLog{
		Action:    models.AuditActionSweepRun,
		Resource:  "settlement",
		NewValues: marshalAudit(map[string]interface{}{"scanned": report.Scanned, "enqueued": report.Enqueued, "capped": report.Capped}),
		IPAddress: "system",
		UserAgent: "settlement-sweep",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist sweep audit log", zap.Error(err))
	}
}

func (s *SettlementService) emitAuditRepair(ctx context.Context, requestID string) {
	if s.audit == nil {
		return
	}
	log := &models.AuditLog{
		Action:     models.AuditActionSettlementRepair,
		Resource:   string(models.RequestKindPayment),
		ResourceID: &requestID,
		IPAddress:  "system",
		UserAgent:  "settlement-sweep",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist repair audit log", zap.Error(err))
	}
}
