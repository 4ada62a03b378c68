package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ProcessorConfig holds HTTP processor adapter configuration.
type ProcessorConfig struct {
	BaseURL string        `envconfig:"PROCESSOR_BASE_URL" required:"true"`
	APIKey  string        `envconfig:"PROCESSOR_API_KEY" required:"true"`
	Timeout time.Duration `envconfig:"PROCESSOR_TIMEOUT" default:"15s"`
}

// HTTPProcessor calls the payment processor's transfer-group API.
type HTTPProcessor struct {
	config     ProcessorConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPProcessor creates a new HTTP processor adapter.
func NewHTTPProcessor(cfg ProcessorConfig, logger *slog.Logger) *HTTPProcessor {
	return &HTTPProcessor{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

type transferGroupRequest struct {
	ChargeRef     string                `json:"charge_ref"`
	TransactionID string                `json:"transaction_id"`
	Currency      string                `json:"currency"`
	Transfers     []transferInstruction `json:"transfers"`
}

type transferInstruction struct {
	DestinationAccount string `json:"destination_account"`
	AmountMinor        int64  `json:"amount_minor"`
	Party              string `json:"party"`
}

type transferGroupResponse struct {
	TransferGroupID string `json:"transfer_group_id"`
	Status          string `json:"status"`
	ErrorCode       string `json:"error_code,omitempty"`
	ErrorMessage    string `json:"error_message,omitempty"`
}

// CreateTransferGroup implements Processor. The idempotency key travels in
// a header; the processor treats repeated keys as safe no-ops.
func (p *HTTPProcessor) CreateTransferGroup(ctx context.Context, req *Request) (*Result, error) {
	body := transferGroupRequest{
		ChargeRef:     req.ChargeRef,
		TransactionID: req.TransactionID,
		Currency:      string(req.Currency),
	}
	for _, d := range req.Destinations {
		body.Transfers = append(body.Transfers, transferInstruction{
			DestinationAccount: d.AccountID,
			AmountMinor:        d.AmountMinor,
			Party:              string(d.Party),
		})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/v1/transfer-groups", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	p.logger.Info("submitting transfer group",
		"transaction_id", req.TransactionID,
		"destinations", len(req.Destinations),
		"idempotency_key", req.IdempotencyKey,
	)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode >= 400 {
		return nil, classifyHTTPError(httpResp.StatusCode, respBody)
	}

	var resp transferGroupResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	return &Result{
		ProviderRef: resp.TransferGroupID,
		Status:      resp.Status,
	}, nil
}

// classifyHTTPError maps processor status codes to transient or permanent
// failures. Rate limits and server-side faults are retryable; anything
// else 4xx (invalid destination, disabled account, insufficient balance)
// is not.
func classifyHTTPError(statusCode int, body []byte) error {
	var resp transferGroupResponse
	_ = json.Unmarshal(body, &resp)

	code := resp.ErrorCode
	if code == "" {
		code = fmt.Sprintf("HTTP_%d", statusCode)
	}
	message := resp.ErrorMessage
	if message == "" {
		message = string(body)
	}

	return &Error{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Transient:  statusCode == http.StatusTooManyRequests || statusCode >= 500,
	}
}
