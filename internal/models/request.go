package models

import "time"

// RequestKind separates payment top-ups from withdrawal payouts.
type RequestKind string

const (
	RequestKindPayment    RequestKind = "PAYMENT"
	RequestKindWithdrawal RequestKind = "WITHDRAWAL"
)

// Valid reports whether the kind is a known value.
func (k RequestKind) Valid() bool {
	return k == RequestKindPayment || k == RequestKindWithdrawal
}

// RequestStatus captures the moderation lifecycle. Transitions are
// monotonic: PENDING moves exactly once to APPROVED or REJECTED.
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "PENDING"
	RequestStatusApproved RequestStatus = "APPROVED"
	RequestStatusRejected RequestStatus = "REJECTED"
)

// Terminal reports whether the status permits no further transition.
func (s RequestStatus) Terminal() bool {
	return s == RequestStatusApproved || s == RequestStatusRejected
}

// SettlementState tracks the ledger credit attached to an approved payment.
type SettlementState string

const (
	SettlementStateNotStarted   SettlementState = "NOT_STARTED"
	SettlementStateCredited     SettlementState = "CREDITED"
	SettlementStateCreditFailed SettlementState = "CREDIT_FAILED"
)

// SettlementOutcome is the result of one approve-and-credit sequence.
// Indeterminate means the credit was dispatched but its effect is unknown;
// callers must never present it as success.
type SettlementOutcome string

const (
	SettlementOutcomeCredited      SettlementOutcome = "CREDITED"
	SettlementOutcomeCreditFailed  SettlementOutcome = "CREDIT_FAILED"
	SettlementOutcomeIndeterminate SettlementOutcome = "INDETERMINATE"
)

// DecisionOutcome enumerates operator decisions.
type DecisionOutcome string

const (
	DecisionApprove DecisionOutcome = "approve"
	DecisionReject  DecisionOutcome = "reject"
)

// ModerationRequest stores a queued payment or withdrawal awaiting review.
// The settlement columns are meaningful only for PAYMENT rows.
type ModerationRequest struct {
	ID            string        `db:"id" json:"id"`
	Kind          RequestKind   `db:"kind" json:"kind"`
	UserID        string        `db:"user_id" json:"userId"`
	Amount        int64         `db:"amount" json:"amount"`
	Status        RequestStatus `db:"status" json:"status"`
	TransactionID *string       `db:"transaction_id" json:"transactionId,omitempty"`
	ScreenshotURL *string       `db:"screenshot_url" json:"screenshotUrl,omitempty"`
	Method        *string       `db:"method" json:"method,omitempty"`
	CreatedAt     time.Time     `db:"created_at" json:"createdAt"`
	DecidedBy     *string       `db:"decided_by" json:"decidedBy,omitempty"`
	DecidedAt     *time.Time    `db:"decided_at" json:"decidedAt,omitempty"`

	SettlementState     SettlementState `db:"settlement_state" json:"settlementState"`
	SettlementAttempts  int             `db:"settlement_attempts" json:"settlementAttempts"`
	SettlementLastError *string         `db:"settlement_last_error" json:"settlementLastError,omitempty"`
}

// Settlement groups the settlement columns into the durable intent record.
func (r *ModerationRequest) Settlement() SettlementRecord {
	return SettlementRecord{
		State:     r.SettlementState,
		Attempts:  r.SettlementAttempts,
		LastError: r.SettlementLastError,
	}
}

// Settled reports whether the ledger credit is confirmed.
func (r *ModerationRequest) Settled() bool {
	return r.Kind != RequestKindPayment || r.SettlementState == SettlementStateCredited
}

// SettlementRecord is the durable intent record driving the ledger credit.
type SettlementRecord struct {
	State     SettlementState `json:"state"`
	Attempts  int             `json:"attempts"`
	LastError *string         `json:"lastError,omitempty"`
}

// RequestFilter constrains history listing queries.
type RequestFilter struct {
	Kind   RequestKind
	Status []RequestStatus
	UserID string
	Limit  int
	Offset int
}
