package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const DefaultBaseURL = "https://api.paystack.co"

// Client is the thin slice of the provider API the settlement core consumes:
// issuing transfers and refunds. Webhook authenticity is checked by the
// intake's signature verifier, not here.
type Client struct {
	log       *slog.Logger
	http      *http.Client
	baseURL   string
	secretKey string
}

func NewClient(log *slog.Logger, baseURL, secretKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		log:       log,
		http:      &http.Client{Timeout: 30 * time.Second},
		baseURL:   baseURL,
		secretKey: secretKey,
	}
}

type apiResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		ID        int64  `json:"id"`
		Reference string `json:"reference"`
	} `json:"data"`
}

// InitiateTransfer starts a payout to the store's settlement recipient. The
// reference is generated locally so the pending ledger row and the eventual
// transfer webhook share one idempotency key.
func (c *Client) InitiateTransfer(ctx context.Context, storeID string, amountCents int64, reason string) (string, error) {
	ref := uuid.NewString()
	body := map[string]any{
		"source":    "balance",
		"amount":    amountCents,
		"recipient": storeID,
		"reason":    reason,
		"reference": ref,
		"metadata":  map[string]string{"store_id": storeID},
	}
	if _, err := c.post(ctx, "/transfer", body); err != nil {
		return "", fmt.Errorf("transfer: %w", err)
	}
	c.log.Info("transfer initiated", "store_id", storeID, "reference", ref)
	return ref, nil
}

// InitiateRefund refunds a settled charge in full or in part.
func (c *Client) InitiateRefund(ctx context.Context, providerTxnID string, amountCents int64) (string, error) {
	body := map[string]any{
		"transaction": providerTxnID,
		"amount":      amountCents,
	}
	resp, err := c.post(ctx, "/refund", body)
	if err != nil {
		return "", fmt.Errorf("refund: %w", err)
	}
	ref := resp.Data.Reference
	if ref == "" {
		ref = fmt.Sprintf("refund-%d", resp.Data.ID)
	}
	c.log.Info("refund initiated", "transaction", providerTxnID, "reference", ref)
	return ref, nil
}

func (c *Client) post(ctx context.Context, path string, body any) (apiResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return apiResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return apiResponse{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return apiResponse{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apiResponse{}, err
	}

	var out apiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return apiResponse{}, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !out.Status {
		return out, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, out.Message)
	}
	return out, nil
}
