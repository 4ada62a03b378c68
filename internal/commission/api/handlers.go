package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"carepay/internal/commission"
	"carepay/internal/common/api"
	"carepay/internal/common/database"
)

// Handler handles commission HTTP requests.
type Handler struct {
	service *commission.Service
}

// NewHandler creates a new commission handler.
func NewHandler(service *commission.Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the commission routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/{transactionID}", h.GetRecord)
	r.Get("/{transactionID}/recompute", h.Recompute)
	r.Post("/{transactionID}/reverse", h.Reverse)
	r.Get("/experts/{expertID}", h.ListExpertRecords)

	return r
}

// GetRecord handles GET /{transactionID}.
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	transactionID := chi.URLParam(r, "transactionID")

	record, err := h.service.GetRecord(r.Context(), transactionID)
	if err != nil {
		if database.IsNotFound(err) {
			api.NotFound(w, "commission record not found")
			return
		}
		api.InternalError(w, "failed to fetch commission record")
		return
	}

	api.WriteData(w, http.StatusOK, record)
}

// Recompute handles GET /{transactionID}/recompute. It re-derives the
// stored split from configuration history and reports whether it still
// reproduces, for audit checks.
func (h *Handler) Recompute(w http.ResponseWriter, r *http.Request) {
	transactionID := chi.URLParam(r, "transactionID")

	result, err := h.service.Recompute(r.Context(), transactionID)
	if err != nil {
		if database.IsNotFound(err) {
			api.NotFound(w, "commission record not found")
			return
		}
		api.InternalError(w, "failed to recompute commission record")
		return
	}

	api.WriteData(w, http.StatusOK, result)
}

// ReverseRequest is the API request for reversing a commission record.
type ReverseRequest struct {
	Reason string `json:"reason" validate:"required,max=255"`
}

// Reverse handles POST /{transactionID}/reverse.
func (h *Handler) Reverse(w http.ResponseWriter, r *http.Request) {
	transactionID := chi.URLParam(r, "transactionID")

	var req ReverseRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	record, err := h.service.Reverse(r.Context(), transactionID, req.Reason)
	if err != nil {
		if database.IsNotFound(err) {
			api.NotFound(w, "commission record not found")
			return
		}
		api.InternalError(w, "failed to reverse commission record")
		return
	}

	api.WriteData(w, http.StatusCreated, record)
}

// ListExpertRecords handles GET /experts/{expertID}.
func (h *Handler) ListExpertRecords(w http.ResponseWriter, r *http.Request) {
	expertID := chi.URLParam(r, "expertID")

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	records, err := h.service.ListExpertRecords(r.Context(), expertID, limit, offset)
	if err != nil {
		api.InternalError(w, "failed to list commission records")
		return
	}
	if records == nil {
		records = []*commission.Record{}
	}

	api.WriteData(w, http.StatusOK, records)
}
