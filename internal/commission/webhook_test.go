package commission

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postWebhook(t *testing.T, h *WebhookHandler, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment-confirmed", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhookProcessesPayment(t *testing.T) {
	f := newServiceFixture(t)
	h := NewWebhookHandler(f.service, slog.New(slog.NewTextHandler(io.Discard, nil)))

	rec := postWebhook(t, h, payment("txn_wh_1"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Data Record `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "txn_wh_1", resp.Data.TransactionID)
	assert.Equal(t, int64(8000), resp.Data.ExpertMinor)
}

func TestWebhookDuplicateReturnsExistingRecord(t *testing.T) {
	f := newServiceFixture(t)
	h := NewWebhookHandler(f.service, slog.New(slog.NewTextHandler(io.Discard, nil)))

	first := postWebhook(t, h, payment("txn_wh_2"))
	require.Equal(t, http.StatusOK, first.Code)

	second := postWebhook(t, h, payment("txn_wh_2"))
	require.Equal(t, http.StatusOK, second.Code)

	assert.Equal(t, 1, f.executor.calls)
	assert.Equal(t, 1, f.store.creates)
}

func TestWebhookRejectsInvalidPayload(t *testing.T) {
	f := newServiceFixture(t)
	h := NewWebhookHandler(f.service, slog.New(slog.NewTextHandler(io.Discard, nil)))

	pc := payment("txn_wh_3")
	pc.Currency = "DOLLARS"
	rec := postWebhook(t, h, pc)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	pc = payment("")
	rec = postWebhook(t, h, pc)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	assert.Equal(t, 0, f.store.creates)
}

func TestWebhookUnknownExpert(t *testing.T) {
	f := newServiceFixture(t)
	h := NewWebhookHandler(f.service, slog.New(slog.NewTextHandler(io.Discard, nil)))

	pc := payment("txn_wh_4")
	pc.ExpertID = "exp_missing"
	rec := postWebhook(t, h, pc)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookMethodNotAllowed(t *testing.T) {
	f := newServiceFixture(t)
	h := NewWebhookHandler(f.service, slog.New(slog.NewTextHandler(io.Discard, nil)))

	req := httptest.NewRequest(http.MethodGet, "/webhooks/payment-confirmed", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
