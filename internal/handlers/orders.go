package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/star-cafe/api/internal/domain"
	"github.com/star-cafe/api/internal/platform/auth"
	"github.com/star-cafe/api/internal/platform/httpx"
	"github.com/star-cafe/api/internal/realtime"
	"github.com/star-cafe/api/internal/services"
)

const (
	maxOrderBodySize     = 16 * 1024
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
)

var validOrderStatuses = map[string]struct{}{
	string(domain.OrderStatusDraft):          {},
	string(domain.OrderStatusPendingPayment): {},
	string(domain.OrderStatusPaid):           {},
	string(domain.OrderStatusPreparing):      {},
	string(domain.OrderStatusReady):          {},
	string(domain.OrderStatusOutForDelivery): {},
	string(domain.OrderStatusDelivered):      {},
	string(domain.OrderStatusCompleted):      {},
	string(domain.OrderStatusCanceled):       {},
}

// Self-service cancellation stops once the kitchen takes over.
var userCancellableStatuses = map[domain.OrderStatus]struct{}{
	domain.OrderStatusDraft:          {},
	domain.OrderStatusPendingPayment: {},
	domain.OrderStatusPaid:           {},
}

// OrderHandlers serves the authenticated customer-facing order endpoints.
type OrderHandlers struct {
	authn    *auth.Authenticator
	orders   services.OrderService
	streamer *realtime.Streamer
}

// OrderHandlersOption customises OrderHandlers construction.
type OrderHandlersOption func(*OrderHandlers)

// WithOrderStreamer enables the live order event feed.
func WithOrderStreamer(streamer *realtime.Streamer) OrderHandlersOption {
	return func(h *OrderHandlers) { h.streamer = streamer }
}

// NewOrderHandlers constructs order handlers guarded by Firebase authentication.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderHandlersOption) *OrderHandlers {
	handlers := &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(handlers)
		}
	}
	return handlers
}

// Routes wires the /orders endpoints onto the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
	r.Get("/{orderID}/events", h.streamOrderEvents)
}

func (h *OrderHandlers) requireUser(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()

	statuses := parseFilterValues(query["status"])
	for _, status := range statuses {
		if _, valid := validOrderStatuses[status]; !valid {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("unknown status %q", status), http.StatusBadRequest))
			return
		}
	}

	filter := services.OrderListFilter{
		UserID: identity.UID,
		Status: statuses,
	}

	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_after "+err.Error(), http.StatusBadRequest))
			return
		}
		filter.DateRange.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_before "+err.Error(), http.StatusBadRequest))
			return
		}
		filter.DateRange.To = &ts
	}

	pageSize, err := parseLimitedPageSize(query.Get("page_size"), defaultOrderPageSize, maxOrderPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	filter.Pagination.PageSize = pageSize
	filter.Pagination.PageToken = strings.TrimSpace(query.Get("page_token"))

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}

	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Orders:        items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	opts := services.OrderReadOptions{}
	for _, include := range parseFilterValues(r.URL.Query()["include"]) {
		switch include {
		case "payments":
			opts.IncludePayments = true
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("unknown include %q", include), http.StatusBadRequest))
			return
		}
	}

	order, err := h.orders.GetOrder(ctx, orderID, opts)
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}
	if !h.canAccessOrder(identity, order) {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type cancelOrderRequest struct {
	Reason         string `json:"reason"`
	ExpectedStatus string `json:"expected_status"`
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req cancelOrderRequest
	body, err := readLimitedBody(r, maxOrderBodySize)
	switch {
	case err == nil:
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	case errors.Is(err, errEmptyBody):
		// Cancellation without a reason is allowed.
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID, services.OrderReadOptions{})
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}
	if !h.canAccessOrder(identity, order) {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}
	if _, cancellable := userCancellableStatuses[order.Status]; !cancellable {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_cancellable", fmt.Sprintf("order in status %q cannot be canceled", order.Status), http.StatusConflict))
		return
	}

	cmd := services.CancelOrderCommand{
		OrderID: orderID,
		ActorID: identity.UID,
		Reason:  strings.TrimSpace(req.Reason),
	}
	if expected := strings.TrimSpace(req.ExpectedStatus); expected != "" {
		if _, valid := validOrderStatuses[expected]; !valid {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("unknown expected_status %q", expected), http.StatusBadRequest))
			return
		}
		status := domain.OrderStatus(expected)
		cmd.ExpectedStatus = &status
	}

	canceled, err := h.orders.Cancel(ctx, cmd)
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(canceled)})
}

// streamOrderEvents serves a server-sent events feed of order status changes.
// When the underlying feed gives up reconnecting, a final "degraded" event
// tells the client to fall back to polling.
func (h *OrderHandlers) streamOrderEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}
	if h.streamer == nil {
		httpx.WriteError(ctx, w, httpx.NewError("events_unavailable", "live order updates are unavailable", http.StatusServiceUnavailable))
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID, services.OrderReadOptions{})
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}
	if !h.canAccessOrder(identity, order) {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		httpx.WriteError(ctx, w, httpx.NewError("events_unavailable", "streaming is not supported", http.StatusInternalServerError))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := make(chan domain.OrderEvent, 16)
	states := make(chan realtime.State, 4)

	closer, err := h.streamer.StreamOrderEvents(ctx, orderID,
		func(event domain.OrderEvent) {
			select {
			case events <- event:
			default:
			}
		},
		func(state realtime.State, attempt int) {
			select {
			case states <- state:
			default:
			}
		},
	)
	if err != nil {
		writeSSE(w, flusher, "error", map[string]any{"message": "live order updates are unavailable"})
		return
	}
	defer closer.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-events:
			writeSSE(w, flusher, "status", map[string]any{
				"orderId":    event.OrderID,
				"status":     string(event.Status),
				"occurredAt": formatTime(event.OccurredAt),
			})
		case state := <-states:
			if state == realtime.StateFailed {
				writeSSE(w, flusher, "degraded", map[string]any{"message": "live order updates are unavailable"})
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}

func (h *OrderHandlers) canAccessOrder(identity *auth.Identity, order services.Order) bool {
	if identity == nil {
		return false
	}
	if strings.EqualFold(strings.TrimSpace(order.UserID), strings.TrimSpace(identity.UID)) {
		return true
	}
	return identity.HasAnyRole("staff", "admin")
}

func (h *OrderHandlers) writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order has been modified; refresh and retry", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

type orderListResponse struct {
	Orders        []orderPayload `json:"orders"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID              string                `json:"id"`
	OrderNumber     string                `json:"order_number,omitempty"`
	UserID          string                `json:"user_id"`
	Status          string                `json:"status"`
	Currency        string                `json:"currency"`
	Totals          orderTotalsPayload    `json:"totals"`
	Reward          *cartRewardPayload    `json:"reward,omitempty"`
	Promotion       *cartPromotionPayload `json:"promotion,omitempty"`
	Items           []orderItemPayload    `json:"items"`
	DeliveryAddress *addressPayload       `json:"delivery_address,omitempty"`
	Contact         *orderContactPayload  `json:"contact,omitempty"`
	Notes           string                `json:"notes,omitempty"`
	Metadata        map[string]any        `json:"metadata,omitempty"`
	PointsEarned    int64                 `json:"points_earned,omitempty"`
	PointsRedeemed  int64                 `json:"points_redeemed,omitempty"`
	CancelReason    *string               `json:"cancel_reason,omitempty"`
	Payments        []orderPaymentPayload `json:"payments,omitempty"`
	CreatedAt       string                `json:"created_at,omitempty"`
	UpdatedAt       string                `json:"updated_at,omitempty"`
	PlacedAt        string                `json:"placed_at,omitempty"`
	PaidAt          string                `json:"paid_at,omitempty"`
	DeliveredAt     string                `json:"delivered_at,omitempty"`
	CompletedAt     string                `json:"completed_at,omitempty"`
	CanceledAt      string                `json:"canceled_at,omitempty"`
}

type orderTotalsPayload struct {
	Subtotal    int64 `json:"subtotal"`
	Discount    int64 `json:"discount"`
	DeliveryFee int64 `json:"delivery_fee"`
	Total       int64 `json:"total"`
}

type orderItemPayload struct {
	ItemRef   string `json:"item_ref"`
	LegacyKey string `json:"legacy_key,omitempty"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	Total     int64  `json:"total"`
	Notes     string `json:"notes,omitempty"`
}

type orderContactPayload struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type orderPaymentPayload struct {
	ID         string `json:"id"`
	Provider   string `json:"provider"`
	IntentID   string `json:"intent_id,omitempty"`
	Status     string `json:"status"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	Captured   bool   `json:"captured"`
	CapturedAt string `json:"captured_at,omitempty"`
	RefundedAt string `json:"refunded_at,omitempty"`
	CreatedAt  string `json:"created_at,omitempty"`
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:          strings.TrimSpace(order.ID),
		OrderNumber: strings.TrimSpace(order.OrderNumber),
		UserID:      strings.TrimSpace(order.UserID),
		Status:      string(order.Status),
		Currency:    strings.ToUpper(strings.TrimSpace(order.Currency)),
		Totals: orderTotalsPayload{
			Subtotal:    order.Totals.Subtotal,
			Discount:    order.Totals.Discount,
			DeliveryFee: order.Totals.DeliveryFee,
			Total:       order.Totals.Total,
		},
		Items:          buildOrderItems(order.Items),
		Notes:          order.Notes,
		Metadata:       cloneMap(order.Metadata),
		PointsEarned:   order.PointsEarned,
		PointsRedeemed: order.PointsRedeemed,
		CancelReason:   cloneStringPointer(order.CancelReason),
		CreatedAt:      formatTime(order.CreatedAt),
		UpdatedAt:      formatTime(order.UpdatedAt),
		PlacedAt:       formatTime(pointerTime(order.PlacedAt)),
		PaidAt:         formatTime(pointerTime(order.PaidAt)),
		DeliveredAt:    formatTime(pointerTime(order.DeliveredAt)),
		CompletedAt:    formatTime(pointerTime(order.CompletedAt)),
		CanceledAt:     formatTime(pointerTime(order.CanceledAt)),
	}

	if order.Reward != nil {
		payload.Reward = &cartRewardPayload{
			RewardID:  strings.TrimSpace(order.Reward.RewardID),
			Label:     order.Reward.Label,
			PointCost: order.Reward.PointCost,
			Value:     order.Reward.Value,
		}
	}
	if order.Promotion != nil {
		payload.Promotion = &cartPromotionPayload{
			Code:           strings.TrimSpace(order.Promotion.Code),
			DiscountAmount: order.Promotion.DiscountAmount,
			Applied:        order.Promotion.Applied,
		}
	}
	if order.DeliveryAddress != nil {
		addr := buildAddressPayload(*order.DeliveryAddress)
		payload.DeliveryAddress = &addr
	}
	if order.Contact != nil {
		payload.Contact = &orderContactPayload{
			Email: order.Contact.Email,
			Phone: order.Contact.Phone,
		}
	}
	if len(order.Payments) > 0 {
		payload.Payments = buildOrderPayments(order.Payments)
	}

	return payload
}

func buildOrderItems(items []services.OrderLineItem) []orderItemPayload {
	if len(items) == 0 {
		return []orderItemPayload{}
	}
	payload := make([]orderItemPayload, 0, len(items))
	for _, item := range items {
		payload = append(payload, orderItemPayload{
			ItemRef:   strings.TrimSpace(item.ItemRef),
			LegacyKey: strings.TrimSpace(item.LegacyKey),
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Total:     item.Total,
			Notes:     item.Notes,
		})
	}
	return payload
}

func buildOrderPayments(payments []services.Payment) []orderPaymentPayload {
	payload := make([]orderPaymentPayload, 0, len(payments))
	for _, payment := range payments {
		entry := orderPaymentPayload{
			ID:        strings.TrimSpace(payment.ID),
			Provider:  payment.Provider,
			IntentID:  payment.IntentID,
			Status:    payment.Status,
			Amount:    payment.Amount,
			Currency:  strings.ToUpper(strings.TrimSpace(payment.Currency)),
			Captured:  payment.Captured,
			CreatedAt: formatTime(payment.CreatedAt),
		}
		if payment.CapturedAt != nil {
			entry.CapturedAt = formatTime(*payment.CapturedAt)
		}
		if payment.RefundedAt != nil {
			entry.RefundedAt = formatTime(*payment.RefundedAt)
		}
		payload = append(payload, entry)
	}
	return payload
}
