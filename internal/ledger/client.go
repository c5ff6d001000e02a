package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/noah-isme/ludo-moderation-api/pkg/config"
)

// Outcome is the tri-state result of a credit call. A timeout or transport
// failure is Indeterminate, never success and never a definitive failure.
type Outcome string

const (
	OutcomeCredited      Outcome = "CREDITED"
	OutcomeRejected      Outcome = "REJECTED"
	OutcomeIndeterminate Outcome = "INDETERMINATE"
)

// Result carries the classified outcome and a human-readable reason for
// rejections and indeterminate calls.
type Result struct {
	Outcome Outcome
	Reason  string
}

// Client credits coin balances. Implementations must guarantee that two
// calls with the same idempotency key produce at most one balance mutation.
type Client interface {
	CreditForRequest(ctx context.Context, idempotencyKey, userID string, amount int64) Result
}

type creditPayload struct {
	PaymentRequestID string `json:"payment_request_id"`
	UserID           string `json:"user_id"`
	Amount           int64  `json:"amount"`
}

type creditResponse struct {
	Message string `json:"message"`
}

// HTTPClient talks to the ledger service over HTTP with a bounded timeout.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient constructs a ledger client from config.
func NewHTTPClient(cfg config.LedgerConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// CreditForRequest posts an idempotent credit keyed by the moderation
// request id. Classification:
//   - 2xx: credited
//   - 4xx: rejected (deterministic refusal, e.g. unknown account)
//   - 5xx, timeout, transport failure: indeterminate (the credit may or
//     may not have been applied)
func (c *HTTPClient) CreditForRequest(ctx context.Context, idempotencyKey, userID string, amount int64) Result {
	body, err := json.Marshal(creditPayload{
		PaymentRequestID: idempotencyKey,
		UserID:           userID,
		Amount:           amount,
	})
	if err != nil {
		return Result{Outcome: OutcomeIndeterminate, Reason: fmt.Sprintf("encode credit payload: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/updateCoins", bytes.NewReader(body))
	if err != nil {
		return Result{Outcome: OutcomeIndeterminate, Reason: fmt.Sprintf("build credit request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{Outcome: OutcomeIndeterminate, Reason: fmt.Sprintf("credit call failed: %v", err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Result{Outcome: OutcomeCredited}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return Result{Outcome: OutcomeRejected, Reason: responseReason(resp)}
	default:
		return Result{Outcome: OutcomeIndeterminate, Reason: responseReason(resp)}
	}
}

func responseReason(resp *http.Response) string {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil && len(raw) > 0 {
		var decoded creditResponse
		if json.Unmarshal(raw, &decoded) == nil && decoded.Message != "" {
			return decoded.Message
		}
	}
	return resp.Status
}
