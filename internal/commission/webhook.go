package commission

import (
	"errors"
	"log/slog"
	"net/http"

	"carepay/internal/common/api"
	"carepay/internal/common/database"
	"carepay/internal/rates"
	"carepay/internal/split"
)

// WebhookHandler receives payment-confirmed callbacks over HTTP. The same
// pipeline also runs behind the event bus consumer; both paths converge on
// Service.Process and share its idempotency guarantee.
type WebhookHandler struct {
	service *Service
	logger  *slog.Logger
}

// NewWebhookHandler creates a payment-confirmed webhook handler.
func NewWebhookHandler(service *Service, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{service: service, logger: logger}
}

// ServeHTTP handles POST callbacks from the upstream payment flow.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload PaymentConfirmed
	if err := api.DecodeAndValidate(r, &payload); err != nil {
		h.logger.Error("invalid payment webhook payload", "error", err)
		api.ValidationError(w, err)
		return
	}

	h.logger.Info("received payment confirmation",
		"transaction_id", payload.TransactionID,
		"gross_minor", payload.GrossMinor,
		"expert_id", payload.ExpertID,
	)

	record, err := h.service.Process(r.Context(), &payload)
	if err != nil {
		switch {
		case errors.Is(err, split.ErrInvalidGrossAmount):
			api.BadRequest(w, err.Error())
		case database.IsNotFound(err):
			api.NotFound(w, "unknown expert or clinic")
		case errors.Is(err, split.ErrInvalidRate),
			errors.Is(err, rates.ErrUnknownTierPlan),
			errors.Is(err, rates.ErrNoActivePlan):
			api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeValidation, err.Error())
		default:
			h.logger.Error("payment processing failed",
				"transaction_id", payload.TransactionID,
				"error", err,
			)
			api.InternalError(w, "failed to process payment")
		}
		return
	}

	api.WriteData(w, http.StatusOK, record)
}
