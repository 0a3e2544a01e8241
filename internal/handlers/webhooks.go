package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/star-cafe/api/internal/platform/httpx"
	"github.com/star-cafe/api/internal/services"
)

// Stripe events carry full session payloads; well beyond the default cap.
const maxWebhookBodySize = 256 * 1024

// WebhookHandlers receives PSP callbacks. These routes are unauthenticated;
// the payment service verifies provider signatures instead.
type WebhookHandlers struct {
	payments services.PaymentService
}

// NewWebhookHandlers constructs webhook handlers.
func NewWebhookHandlers(payments services.PaymentService) *WebhookHandlers {
	return &WebhookHandlers{payments: payments}
}

// Routes wires the webhook endpoints onto the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.stripeWebhook)
}

func (h *WebhookHandlers) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read payload", http.StatusBadRequest))
		return
	}
	if int64(len(payload)) > maxWebhookBodySize {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "webhook payload exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}

	headers := map[string]string{
		"Stripe-Signature": r.Header.Get("Stripe-Signature"),
	}

	err = h.payments.RecordWebhookEvent(ctx, services.PaymentWebhookCommand{
		Provider: "stripe",
		Payload:  payload,
		Headers:  headers,
	})
	switch {
	case err == nil:
		writeJSONResponse(w, http.StatusOK, map[string]string{"status": "received"})
	case errors.Is(err, services.ErrPaymentSignature):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "webhook payload could not be processed", http.StatusBadRequest))
	default:
		// Non-2xx makes Stripe retry, which is what we want for transient
		// downstream failures.
		httpx.WriteError(ctx, w, httpx.NewError("webhook_error", "failed to process webhook", http.StatusInternalServerError))
	}
}
