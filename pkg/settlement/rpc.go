package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RPCClient talks to the settlement network's transfer endpoint over
// HTTP+JSON using the fixed pool identity.
type RPCClient struct {
	cfg  PoolConfig
	http *http.Client
}

func NewRPCClient(cfg PoolConfig) *RPCClient {
	return &RPCClient{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

type transferRequest struct {
	From           string `json:"from"`
	To             string `json:"to"`
	Amount         string `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
}

type transferResponse struct {
	Reference string `json:"reference"`
	Error     string `json:"error,omitempty"`
}

func (c *RPCClient) PoolAddress() string {
	return c.cfg.PoolAddress
}

func (c *RPCClient) Transfer(ctx context.Context, recipient string, amount decimal.Decimal) (string, error) {
	body, err := json.Marshal(transferRequest{
		From:           c.cfg.PoolAddress,
		To:             recipient,
		Amount:         amount.String(),
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		return "", &Error{Reason: "encode transfer request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+"/transfers", bytes.NewReader(body))
	if err != nil {
		return "", &Error{Reason: "build transfer request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &Error{Reason: "transfer request failed", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &Error{Reason: "read transfer response", Err: err}
	}

	var out transferResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", &Error{Reason: fmt.Sprintf("decode transfer response (status %d)", resp.StatusCode), Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		reason := out.Error
		if reason == "" {
			reason = fmt.Sprintf("transfer rejected with status %d", resp.StatusCode)
		}
		return "", &Error{Reason: reason}
	}

	if out.Reference == "" {
		return "", &Error{Reason: "transfer accepted without reference"}
	}

	return out.Reference, nil
}
