package dto

import (
	"time"

	"github.com/noah-isme/ludo-moderation-api/internal/models"
)

// SubmitRequestRequest is the payload for player request submission.
type SubmitRequestRequest struct {
	Kind          models.RequestKind `json:"kind"`
	UserID        string             `json:"userId"`
	Amount        int64              `json:"amount"`
	TransactionID string             `json:"transactionId"`
	ScreenshotURL string             `json:"screenshotUrl"`
	Method        string             `json:"method"`
}

// DecideRequest captures the operator decision for a request.
type DecideRequest struct {
	Outcome models.DecisionOutcome `json:"outcome"`
}

// RequestQuery mirrors supported history listing filters.
type RequestQuery struct {
	Status []models.RequestStatus
	Kind   models.RequestKind
	UserID string
	Limit  int
	Offset int
}

// Display statuses shown to operators. An approved payment is never
// presented as plain "approved" until its credit is confirmed.
const (
	DisplayPending          = "pending"
	DisplayRejected         = "rejected"
	DisplayApproved         = "approved"
	DisplayApprovedSettling = "approved_settlement_pending"
	DisplayApprovedNeedsFix = "approved_settlement_failed"
)

// ModerationRequestView is the operator-facing projection of a request.
type ModerationRequestView struct {
	ID            string                   `json:"id"`
	Kind          models.RequestKind       `json:"kind"`
	UserID        string                   `json:"userId"`
	Amount        int64                    `json:"amount"`
	Status        models.RequestStatus     `json:"status"`
	DisplayStatus string                   `json:"displayStatus"`
	TransactionID *string                  `json:"transactionId,omitempty"`
	ScreenshotURL *string                  `json:"screenshotUrl,omitempty"`
	Method        *string                  `json:"method,omitempty"`
	CreatedAt     time.Time                `json:"createdAt"`
	DecidedBy     *string                  `json:"decidedBy,omitempty"`
	DecidedAt     *time.Time               `json:"decidedAt,omitempty"`
	Settlement    *models.SettlementRecord `json:"settlement,omitempty"`
	NeedsReview   bool                     `json:"needsReview"`
}

// NewModerationRequestView projects a stored request for operator display.
func NewModerationRequestView(req models.ModerationRequest) ModerationRequestView {
	view := ModerationRequestView{
		ID:            req.ID,
		Kind:          req.Kind,
		UserID:        req.UserID,
		Amount:        req.Amount,
		Status:        req.Status,
		DisplayStatus: displayStatus(req),
		TransactionID: req.TransactionID,
		ScreenshotURL: req.ScreenshotURL,
		Method:        req.Method,
		CreatedAt:     req.CreatedAt,
		DecidedBy:     req.DecidedBy,
		DecidedAt:     req.DecidedAt,
	}
	if req.Kind == models.RequestKindPayment {
		settlement := req.Settlement()
		view.Settlement = &settlement
		view.NeedsReview = req.Status == models.RequestStatusApproved && settlement.State == models.SettlementStateCreditFailed
	}
	return view
}

// NewModerationRequestViews projects a slice of stored requests.
func NewModerationRequestViews(reqs []models.ModerationRequest) []ModerationRequestView {
	views := make([]ModerationRequestView, 0, len(reqs))
	for _, req := range reqs {
		views = append(views, NewModerationRequestView(req))
	}
	return views
}

func displayStatus(req models.ModerationRequest) string {
	switch req.Status {
	case models.RequestStatusPending:
		return DisplayPending
	case models.RequestStatusRejected:
		return DisplayRejected
	case models.RequestStatusApproved:
		if req.Kind != models.RequestKindPayment {
			return DisplayApproved
		}
		switch req.SettlementState {
		case models.SettlementStateCredited:
			return DisplayApproved
		case models.SettlementStateCreditFailed:
			return DisplayApprovedNeedsFix
		default:
			return DisplayApprovedSettling
		}
	}
	return string(req.Status)
}

// SweepReport summarises one reconciliation sweep pass.
type SweepReport struct {
	Scanned  int `json:"scanned"`
	Enqueued int `json:"enqueued"`
	Capped   int `json:"capped"`
}
