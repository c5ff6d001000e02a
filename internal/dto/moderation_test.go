package dto

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/ludo-moderation-api/internal/models"
)

func TestDisplayStatusForPayments(t *testing.T) {
	cases := []struct {
		name   string
		status models.RequestStatus
		state  models.SettlementState
		want   string
	}{
		{"pending", models.RequestStatusPending, models.SettlementStateNotStarted, DisplayPending},
		{"rejected", models.RequestStatusRejected, models.SettlementStateNotStarted, DisplayRejected},
		{"approved unsettled", models.RequestStatusApproved, models.SettlementStateNotStarted, DisplayApprovedSettling},
		{"approved credited", models.RequestStatusApproved, models.SettlementStateCredited, DisplayApproved},
		{"approved failed", models.RequestStatusApproved, models.SettlementStateCreditFailed, DisplayApprovedNeedsFix},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			view := NewModerationRequestView(models.ModerationRequest{
				Kind:            models.RequestKindPayment,
				Status:          tc.status,
				SettlementState: tc.state,
			})
			require.Equal(t, tc.want, view.DisplayStatus)
		})
	}
}

func TestDisplayStatusForWithdrawals(t *testing.T) {
	view := NewModerationRequestView(models.ModerationRequest{
		Kind:   models.RequestKindWithdrawal,
		Status: models.RequestStatusApproved,
	})
	require.Equal(t, DisplayApproved, view.DisplayStatus)
	require.Nil(t, view.Settlement)
	require.False(t, view.NeedsReview)
}

func TestViewFlagsFailedSettlementForReview(t *testing.T) {
	view := NewModerationRequestView(models.ModerationRequest{
		Kind:            models.RequestKindPayment,
		Status:          models.RequestStatusApproved,
		SettlementState: models.SettlementStateCreditFailed,
	})
	require.True(t, view.NeedsReview)
	require.NotNil(t, view.Settlement)
	require.Equal(t, models.SettlementStateCreditFailed, view.Settlement.State)
}
