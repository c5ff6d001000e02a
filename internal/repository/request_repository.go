package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/ludo-moderation-api/internal/models"
)

const requestColumns = `id, kind, user_id, amount, status, transaction_id, screenshot_url, method,
       created_at, decided_by, decided_at, settlement_state, settlement_attempts, settlement_last_error`

// RequestRepository persists moderation requests. Status transitions use
// compare-and-set on the current status so concurrent operators cannot
// both win the same decision.
type RequestRepository struct {
	db *sqlx.DB
}

// NewRequestRepository constructs the repository.
func NewRequestRepository(db *sqlx.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// Create inserts a new request row.
func (r *RequestRepository) Create(ctx context.Context, req *models.ModerationRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = models.RequestStatusPending
	}
	if req.SettlementState == "" {
		req.SettlementState = models.SettlementStateNotStarted
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO moderation_requests
	(id, kind, user_id, amount, status, transaction_id, screenshot_url, method, created_at, decided_by, decided_at, settlement_state, settlement_attempts, settlement_last_error)
	VALUES (:id, :kind, :user_id, :amount, :status, :transaction_id, :screenshot_url, :method, :created_at, :decided_by, :decided_at, :settlement_state, :settlement_attempts, :settlement_last_error)`
	if _, err := r.db.NamedExecContext(ctx, query, req); err != nil {
		return fmt.Errorf("create moderation request: %w", err)
	}
	return nil
}

// GetByID fetches a request by identifier.
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*models.ModerationRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM moderation_requests WHERE id = $1`
	var req models.ModerationRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		return nil, err
	}
	return &req, nil
}

// ListPending returns the operator queue for a kind, newest first. Every
// call re-queries the store; there is no cached cursor.
func (r *RequestRepository) ListPending(ctx context.Context, kind models.RequestKind, limit int) ([]models.ModerationRequest, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `SELECT ` + requestColumns + ` FROM moderation_requests
	WHERE kind = $1 AND status = $2 ORDER BY created_at DESC LIMIT $3`
	var requests []models.ModerationRequest
	if err := r.db.SelectContext(ctx, &requests, query, kind, models.RequestStatusPending, limit); err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	return requests, nil
}

// List returns requests matching the filter (sorted latest first).
func (r *RequestRepository) List(ctx context.Context, filter models.RequestFilter) ([]models.ModerationRequest, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 4)
	builder.WriteString(`SELECT ` + requestColumns + ` FROM moderation_requests`)

	conditions := make([]string, 0, 3)
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.Kind != "" {
		args = append(args, filter.Kind)
		conditions = append(conditions, fmt.Sprintf("kind = $%d", len(args)))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY created_at DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var requests []models.ModerationRequest
	if err := r.db.SelectContext(ctx, &requests, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return requests, nil
}

// CASUpdateStatus conditionally moves a request from expected to next
// status, recording operator attribution. Returns sql.ErrNoRows when the
// row is missing or its status no longer matches expected; callers must
// re-fetch to tell the two apart.
func (r *RequestRepository) CASUpdateStatus(ctx context.Context, id string, expected, next models.RequestStatus, decidedBy string, decidedAt time.Time) error {
	const query = `UPDATE moderation_requests
	SET status = $1, decided_by = $2, decided_at = $3
	WHERE id = $4 AND status = $5`
	result, err := r.db.ExecContext(ctx, query, next, decidedBy, decidedAt, id, expected)
	if err != nil {
		return fmt.Errorf("cas update status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check cas update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RecordSettlementIntent durably increments the attempt counter before any
// ledger call is dispatched, so a crash mid-settlement is discoverable by
// the reconciliation sweep. Returns the new attempt count.
func (r *RequestRepository) RecordSettlementIntent(ctx context.Context, id string) (int, error) {
	const query = `UPDATE moderation_requests
	SET settlement_attempts = settlement_attempts + 1
	WHERE id = $1 AND kind = $2
	RETURNING settlement_attempts`
	var attempts int
	if err := r.db.GetContext(ctx, &attempts, query, id, models.RequestKindPayment); err != nil {
		return 0, fmt.Errorf("record settlement intent: %w", err)
	}
	return attempts, nil
}

// UpdateSettlementState advances the settlement record.
func (r *RequestRepository) UpdateSettlementState(ctx context.Context, id string, state models.SettlementState, lastError *string) error {
	const query = `UPDATE moderation_requests
	SET settlement_state = $1, settlement_last_error = $2
	WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, state, lastError, id)
	if err != nil {
		return fmt.Errorf("update settlement state: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check settlement update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListUnsettled returns approved payments whose credit is unconfirmed and
// still under the attempt cap; these are sweep candidates.
func (r *RequestRepository) ListUnsettled(ctx context.Context, maxAttempts, limit int) ([]models.ModerationRequest, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT ` + requestColumns + ` FROM moderation_requests
	WHERE kind = $1 AND status = $2 AND settlement_state <> $3 AND settlement_attempts < $4
	ORDER BY created_at ASC LIMIT $5`
	var requests []models.ModerationRequest
	if err := r.db.SelectContext(ctx, &requests, query,
		models.RequestKindPayment, models.RequestStatusApproved, models.SettlementStateCredited, maxAttempts, limit); err != nil {
		return nil, fmt.Errorf("list unsettled requests: %w", err)
	}
	return requests, nil
}

// ListNeedsReview returns approved payments whose settlement is failed or
// exhausted; these require manual operator resolution.
func (r *RequestRepository) ListNeedsReview(ctx context.Context, maxAttempts int) ([]models.ModerationRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM moderation_requests
	WHERE kind = $1 AND status = $2 AND settlement_state <> $3
	AND (settlement_state = $4 OR settlement_attempts >= $5)
	ORDER BY created_at ASC`
	var requests []models.ModerationRequest
	if err := r.db.SelectContext(ctx, &requests, query,
		models.RequestKindPayment, models.RequestStatusApproved, models.SettlementStateCredited,
		models.SettlementStateCreditFailed, maxAttempts); err != nil {
		return nil, fmt.Errorf("list needs-review requests: %w", err)
	}
	return requests, nil
}

// CountUnsettled reports the settlement backlog for monitoring.
func (r *RequestRepository) CountUnsettled(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(*) FROM moderation_requests
	WHERE kind = $1 AND status = $2 AND settlement_state <> $3`
	var count int
	if err := r.db.GetContext(ctx, &count, query,
		models.RequestKindPayment, models.RequestStatusApproved, models.SettlementStateCredited); err != nil {
		return 0, fmt.Errorf("count unsettled requests: %w", err)
	}
	return count, nil
}
