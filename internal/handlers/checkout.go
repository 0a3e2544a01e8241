package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/star-cafe/api/internal/platform/auth"
	"github.com/star-cafe/api/internal/platform/httpx"
	"github.com/star-cafe/api/internal/services"
)

const maxCheckoutRequestBody = 8 * 1024

// CheckoutHandlers turns a customer's cart into a hosted payment session and
// accepts the client-side completion signal after the customer returns from
// the payment page.
type CheckoutHandlers struct {
	authn    *auth.Authenticator
	checkout services.CheckoutService
}

// NewCheckoutHandlers constructs checkout handlers guarded by Firebase authentication.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{authn: authn, checkout: checkout}
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth())
	}
	group.Post("/checkout/session", h.createSession)
	group.Post("/checkout/confirm", h.confirmCheckout)
}

type checkoutSessionRequest struct {
	Provider   string            `json:"provider"`
	SuccessURL string            `json:"successUrl"`
	CancelURL  string            `json:"cancelUrl"`
	Metadata   map[string]string `json:"metadata"`
}

type checkoutSessionResponse struct {
	OrderID      string `json:"orderId"`
	SessionID    string `json:"sessionId"`
	Provider     string `json:"provider"`
	URL          string `json:"url"`
	ClientSecret string `json:"clientSecret,omitempty"`
	ExpiresAt    string `json:"expiresAt,omitempty"`
}

type checkoutConfirmRequest struct {
	SessionID string `json:"sessionId"`
	OrderID   string `json:"orderId"`
}

type checkoutConfirmResponse struct {
	Status  string `json:"status"`
	OrderID string `json:"orderId,omitempty"`
}

// decodeCheckoutBody reads and unmarshals an optional JSON body, writing the
// appropriate error response itself. It reports whether the caller may proceed.
func decodeCheckoutBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return false
	}
	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	return true
}

func (h *CheckoutHandlers) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	var req checkoutSessionRequest
	if !decodeCheckoutBody(w, r, &req) {
		return
	}

	successURL := strings.TrimSpace(req.SuccessURL)
	cancelURL := strings.TrimSpace(req.CancelURL)
	if successURL == "" || cancelURL == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "successUrl and cancelUrl are required", http.StatusBadRequest))
		return
	}

	session, err := h.checkout.CreateCheckoutSession(ctx, services.CreateCheckoutSessionCommand{
		UserID:     identity.UID,
		CartID:     identity.UID,
		SuccessURL: successURL,
		CancelURL:  cancelURL,
		PSP:        strings.TrimSpace(req.Provider),
		Metadata:   trimMetadata(req.Metadata),
	})
	if err != nil {
		httpx.WriteError(ctx, w, checkoutError(err))
		return
	}

	payload := checkoutSessionResponse{
		OrderID:      session.OrderID,
		SessionID:    session.SessionID,
		Provider:     session.Provider,
		URL:          session.RedirectURL,
		ClientSecret: session.ClientSecret,
	}
	if !session.ExpiresAt.IsZero() {
		payload.ExpiresAt = session.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *CheckoutHandlers) confirmCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	var req checkoutConfirmRequest
	if !decodeCheckoutBody(w, r, &req) {
		return
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "sessionId is required", http.StatusBadRequest))
		return
	}

	cmd := services.ConfirmCheckoutCommand{
		UserID:    identity.UID,
		SessionID: sessionID,
		OrderID:   strings.TrimSpace(req.OrderID),
	}
	if err := h.checkout.ConfirmClientCompletion(ctx, cmd); err != nil {
		httpx.WriteError(ctx, w, checkoutError(err))
		return
	}

	// Client confirmation marks intent only; the webhook remains the source of
	// truth for the paid transition.
	writeJSONResponse(w, http.StatusOK, checkoutConfirmResponse{
		Status:  "accepted",
		OrderID: cmd.OrderID,
	})
}

// trimMetadata drops entries whose key or value is blank after trimming.
func trimMetadata(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		key := strings.TrimSpace(k)
		value := strings.TrimSpace(v)
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	return out
}

func checkoutError(err error) httpx.Error {
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		return httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest)
	case errors.Is(err, services.ErrCheckoutCartNotReady):
		return httpx.NewError("cart_not_ready", "cart is not ready for checkout", http.StatusConflict)
	case errors.Is(err, services.ErrCheckoutSessionMismatch):
		return httpx.NewError("checkout_session_mismatch", "session does not match order", http.StatusConflict)
	case errors.Is(err, services.ErrCheckoutConflict):
		return httpx.NewError("checkout_conflict", "cart has changed; refresh and retry", http.StatusConflict)
	case errors.Is(err, services.ErrCheckoutPaymentFailed):
		return httpx.NewError("payment_failed", "payment could not be completed", http.StatusBadGateway)
	case errors.Is(err, services.ErrCheckoutUnavailable):
		return httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable)
	default:
		return httpx.NewError("checkout_error", "failed to process checkout request", http.StatusInternalServerError)
	}
}
