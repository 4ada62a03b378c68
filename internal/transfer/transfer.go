// Package transfer turns an accepted split into the payment processor's
// multi-destination transfer instructions. It is the single call site for
// moving funds, so idempotency and audit guarantees cannot be bypassed
// elsewhere.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"carepay/internal/common/money"
)

// Party identifies the recipient role of a destination.
type Party string

const (
	PartyExpert Party = "expert"
	PartyClinic Party = "clinic"
)

// Destination is one non-platform recipient of a transfer group. The
// platform's share stays on the original charge and needs no instruction.
type Destination struct {
	Party       Party  `json:"party"`
	AccountID   string `json:"account_id"`
	AmountMinor int64  `json:"amount_minor"`
}

// Request describes one transfer group for one transaction.
type Request struct {
	TransactionID  string         `json:"transaction_id"`
	ChargeRef      string         `json:"charge_ref"`
	Currency       money.Currency `json:"currency"`
	Destinations   []Destination  `json:"destinations"`
	IdempotencyKey string         `json:"idempotency_key"`
}

// Status is the terminal state of a transfer execution.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	// StatusSkipped means there was nothing to move (all-zero split); a
	// no-op, not an error.
	StatusSkipped Status = "skipped"
)

// Outcome records what happened to one transfer request. Failures are
// outcomes, not errors: the commission record writer always runs.
type Outcome struct {
	Status       Status     `json:"status"`
	ProviderRef  string     `json:"provider_ref,omitempty"`
	Attempts     int        `json:"attempts"`
	ErrorCode    string     `json:"error_code,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Result is the processor's acknowledgement of a transfer group.
type Result struct {
	ProviderRef string `json:"provider_ref"`
	Status      string `json:"status"`
}

// Processor is the narrow boundary to the external payment processor. The
// processor guarantees that all destination transfers for one idempotency
// key succeed atomically or none do, and that retried calls with the same
// key are safe no-ops.
type Processor interface {
	CreateTransferGroup(ctx context.Context, req *Request) (*Result, error)
}

// Error is a classified processor failure.
type Error struct {
	Code       string
	Message    string
	StatusCode int
	Transient  bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("processor error %s (status=%d): %s", e.Code, e.StatusCode, e.Message)
}

// IsTransient reports whether an error is worth retrying. Unclassified
// errors (network failures, timeouts) are treated as transient.
func IsTransient(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return !errors.Is(err, context.Canceled)
}

// Config holds orchestrator retry configuration.
type Config struct {
	MaxAttempts    int           `envconfig:"TRANSFER_MAX_ATTEMPTS" default:"4"`
	InitialBackoff time.Duration `envconfig:"TRANSFER_INITIAL_BACKOFF" default:"200ms"`
	MaxBackoff     time.Duration `envconfig:"TRANSFER_MAX_BACKOFF" default:"5s"`
}

// Orchestrator executes transfer requests with bounded retry.
type Orchestrator struct {
	processor Processor
	cfg       Config
	logger    *slog.Logger
}

// NewOrchestrator creates an orchestrator over a processor.
func NewOrchestrator(processor Processor, cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	return &Orchestrator{processor: processor, cfg: cfg, logger: logger}
}

// Execute sends the transfer group to the processor. Transient failures are
// retried with capped exponential backoff up to the attempt ceiling;
// permanent failures stop immediately. The returned outcome is always
// well-defined, whatever happened.
func (o *Orchestrator) Execute(ctx context.Context, req *Request) Outcome {
	nonZero := make([]Destination, 0, len(req.Destinations))
	for _, d := range req.Destinations {
		if d.AmountMinor > 0 {
			nonZero = append(nonZero, d)
		}
	}
	if len(nonZero) == 0 {
		o.logger.Info("transfer skipped, nothing to move",
			"transaction_id", req.TransactionID,
		)
		return Outcome{Status: StatusSkipped}
	}
	req.Destinations = nonZero

	backoff := o.cfg.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		result, err := o.processor.CreateTransferGroup(ctx, req)
		if err == nil {
			now := time.Now().UTC()
			o.logger.Info("transfer group completed",
				"transaction_id", req.TransactionID,
				"provider_ref", result.ProviderRef,
				"attempts", attempt,
			)
			return Outcome{
				Status:      StatusCompleted,
				ProviderRef: result.ProviderRef,
				Attempts:    attempt,
				CompletedAt: &now,
			}
		}

		lastErr = err
		if !IsTransient(err) {
			o.logger.Error("transfer failed permanently",
				"transaction_id", req.TransactionID,
				"attempt", attempt,
				"error", err,
			)
			return failedOutcome(err, attempt)
		}

		o.logger.Warn("transient transfer failure",
			"transaction_id", req.TransactionID,
			"attempt", attempt,
			"error", err,
		)

		if attempt == o.cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return failedOutcome(ctx.Err(), attempt)
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > o.cfg.MaxBackoff {
			backoff = o.cfg.MaxBackoff
		}
	}

	o.logger.Error("transfer failed after max attempts",
		"transaction_id", req.TransactionID,
		"attempts", o.cfg.MaxAttempts,
		"error", lastErr,
	)
	return failedOutcome(lastErr, o.cfg.MaxAttempts)
}

func failedOutcome(err error, attempts int) Outcome {
	out := Outcome{
		Status:   StatusFailed,
		Attempts: attempts,
	}
	var pe *Error
	if errors.As(err, &pe) {
		out.ErrorCode = pe.Code
		out.ErrorMessage = pe.Message
	} else if err != nil {
		out.ErrorCode = "TRANSFER_ERROR"
		out.ErrorMessage = err.Error()
	}
	return out
}
