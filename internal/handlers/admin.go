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
	"github.com/star-cafe/api/internal/services"
)

const (
	maxAdminBodySize         = 64 * 1024
	defaultAdminListPageSize = 20
	maxAdminListPageSize     = 100
)

var validReviewStatuses = map[string]domain.ReviewStatus{
	string(domain.ReviewStatusPending):  domain.ReviewStatusPending,
	string(domain.ReviewStatusApproved): domain.ReviewStatusApproved,
	string(domain.ReviewStatusRejected): domain.ReviewStatusRejected,
}

var validPromotionStatuses = map[string]domain.PromotionStatus{
	string(domain.PromotionStatusActive):   domain.PromotionStatusActive,
	string(domain.PromotionStatusPaused):   domain.PromotionStatusPaused,
	string(domain.PromotionStatusArchived): domain.PromotionStatusArchived,
}

// AdminHandlersDeps bundles the services the admin surface fronts.
type AdminHandlersDeps struct {
	Authn      *auth.Authenticator
	Menu       services.MenuService
	Orders     services.OrderService
	Payments   services.PaymentService
	Reviews    services.ReviewService
	Promotions services.PromotionAdminService
	System     services.SystemService
}

// AdminHandlers exposes the staff/admin console endpoints.
type AdminHandlers struct {
	authn      *auth.Authenticator
	menu       services.MenuService
	orders     services.OrderService
	payments   services.PaymentService
	reviews    services.ReviewService
	promotions services.PromotionAdminService
	system     services.SystemService
}

// NewAdminHandlers constructs handlers restricted to staff and admin roles.
func NewAdminHandlers(deps AdminHandlersDeps) *AdminHandlers {
	return &AdminHandlers{
		authn:      deps.Authn,
		menu:       deps.Menu,
		orders:     deps.Orders,
		payments:   deps.Payments,
		reviews:    deps.Reviews,
		promotions: deps.Promotions,
		system:     deps.System,
	}
}

// Routes wires the admin endpoints onto the provided router.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth("staff", "admin"))
	}

	r.Post("/menu/items", h.upsertMenuItem)
	r.Put("/menu/items/{itemID}", h.upsertMenuItem)
	r.Delete("/menu/items/{itemID}", h.deleteMenuItem)

	r.Get("/orders", h.listAllOrders)
	r.Post("/orders/{orderID}:transition", h.transitionOrder)
	r.Get("/orders/{orderID}/payments", h.listOrderPayments)
	r.Post("/orders/{orderID}/payments/{paymentID}:capture", h.capturePayment)
	r.Post("/orders/{orderID}/payments/{paymentID}:refund", h.refundPayment)

	r.Get("/reviews", h.listReviewsForModeration)
	r.Post("/reviews/{reviewID}:moderate", h.moderateReview)
	r.Put("/reviews/{reviewID}/reply", h.storeReviewReply)

	r.Get("/promotions", h.listPromotions)
	r.Post("/promotions", h.createPromotion)
	r.Put("/promotions/{promoID}", h.updatePromotion)
	r.Delete("/promotions/{promoID}", h.deletePromotion)

	r.Get("/audit-logs", h.listAuditLogs)
}

func (h *AdminHandlers) requireActor(w http.ResponseWriter, r *http.Request) (string, bool) {
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return "", false
	}
	return identity.UID, true
}

func (h *AdminHandlers) decodeBody(ctx context.Context, w http.ResponseWriter, r *http.Request, target any) bool {
	body, err := readLimitedBody(r, maxAdminBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return false
	}
	if err := json.Unmarshal(body, target); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	return true
}

// Menu management -------------------------------------------------------------

type adminMenuItemRequest struct {
	ID            string                            `json:"id"`
	LegacyKey     string                            `json:"legacy_key"`
	Name          string                            `json:"name"`
	Description   string                            `json:"description"`
	Category      string                            `json:"category"`
	Tags          []string                          `json:"tags"`
	Price         int64                             `json:"price"`
	Currency      string                            `json:"currency"`
	ImagePath     string                            `json:"image_path"`
	IsAvailable   bool                              `json:"is_available"`
	PrepMinutes   int                               `json:"prep_minutes"`
	DefaultLocale string                            `json:"default_locale"`
	Translations  map[string]adminMenuItemTranslate `json:"translations"`
}

type adminMenuItemTranslate struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *AdminHandlers) upsertMenuItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.menu == nil {
		httpx.WriteError(ctx, w, httpx.NewError("menu_unavailable", "menu service is unavailable", http.StatusServiceUnavailable))
		return
	}
	actorID, ok := h.requireActor(w, r)
	if !ok {
		return
	}

	var req adminMenuItemRequest
	if !h.decodeBody(ctx, w, r, &req) {
		return
	}

	item := services.MenuItem{
		ID:            strings.TrimSpace(req.ID),
		LegacyKey:     strings.TrimSpace(req.LegacyKey),
		Name:          strings.TrimSpace(req.Name),
		Description:   req.Description,
		Category:      strings.TrimSpace(req.Category),
		Tags:          parseFilterValues(req.Tags),
		Price:         req.Price,
		Currency:      strings.ToUpper(strings.TrimSpace(req.Currency)),
		ImagePath:     strings.TrimSpace(req.ImagePath),
		IsAvailable:   req.IsAvailable,
		PrepMinutes:   req.PrepMinutes,
		DefaultLocale: strings.TrimSpace(req.DefaultLocale),
	}
	if pathID := strings.TrimSpace(chi.URLParam(r, "itemID")); pathID != "" {
		item.ID = pathID
	}
	if len(req.Translations) > 0 {
		item.Translations = make(map[string]services.MenuItemTranslation, len(req.Translations))
		for locale, tr := range req.Translations {
			locale = strings.TrimSpace(locale)
			if locale == "" {
				continue
			}
			item.Translations[locale] = services.MenuItemTranslation{
				Locale:      locale,
				Name:        tr.Name,
				Description: tr.Description,
			}
		}
	}

	saved, err := h.menu.UpsertItem(ctx, services.UpsertMenuItemCommand{Item: item, ActorID: actorID})
	if err != nil {
		h.writeAdminMenuError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, menuItemResponse{Item: buildMenuItemPayload(saved, "")})
}

func (h *AdminHandlers) deleteMenuItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.menu == nil {
		httpx.WriteError(ctx, w, httpx.NewError("menu_unavailable", "menu service is unavailable", http.StatusServiceUnavailable))
		return
	}
	actorID, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	itemID := strings.TrimSpace(chi.URLParam(r, "itemID"))
	if itemID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "item id is required", http.StatusBadRequest))
		return
	}

	if err := h.menu.DeleteItem(ctx, services.DeleteMenuItemCommand{ItemID: itemID, ActorID: actorID}); err != nil {
		h.writeAdminMenuError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandlers) writeAdminMenuError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrMenuInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrMenuItemNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("menu_item_not_found", "menu item not found", http.StatusNotFound))
	case errors.Is(err, services.ErrMenuConflict):
		httpx.WriteError(ctx, w, httpx.NewError("menu_conflict", "menu item was modified concurrently", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("menu_error", "failed to process menu request", http.StatusInternalServerError))
	}
}

// Order management ------------------------------------------------------------

func (h *AdminHandlers) listAllOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := h.requireActor(w, r); !ok {
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
		UserID: strings.TrimSpace(query.Get("user_id")),
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

	pageSize, err := parseLimitedPageSize(query.Get("page_size"), defaultAdminListPageSize, maxAdminListPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	filter.Pagination.PageSize = pageSize
	filter.Pagination.PageToken = strings.TrimSpace(query.Get("page_token"))

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		h.writeAdminOrderError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{Orders: items, NextPageToken: page.NextPageToken})
}

type transitionOrderRequest struct {
	TargetStatus   string         `json:"target_status"`
	Reason         string         `json:"reason"`
	ExpectedStatus string         `json:"expected_status"`
	Metadata       map[string]any `json:"metadata"`
}

func (h *AdminHandlers) transitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}
	actorID, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req transitionOrderRequest
	if !h.decodeBody(ctx, w, r, &req) {
		return
	}

	target := strings.TrimSpace(req.TargetStatus)
	if _, valid := validOrderStatuses[target]; !valid {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("unknown target_status %q", target), http.StatusBadRequest))
		return
	}

	cmd := services.OrderStatusTransitionCommand{
		OrderID:      orderID,
		TargetStatus: domain.OrderStatus(target),
		ActorID:      actorID,
		Reason:       strings.TrimSpace(req.Reason),
		Metadata:     cloneMap(req.Metadata),
	}
	if expected := strings.TrimSpace(req.ExpectedStatus); expected != "" {
		if _, valid := validOrderStatuses[expected]; !valid {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("unknown expected_status %q", expected), http.StatusBadRequest))
			return
		}
		status := domain.OrderStatus(expected)
		cmd.ExpectedStatus = &status
	}

	order, err := h.orders.TransitionStatus(ctx, cmd)
	if err != nil {
		h.writeAdminOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminHandlers) writeAdminOrderError(ctx context.Context, w http.ResponseWriter, err error) {
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

// Payment management ----------------------------------------------------------

func (h *AdminHandlers) listOrderPayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service is unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := h.requireActor(w, r); !ok {
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	records, err := h.payments.ListPayments(ctx, orderID)
	if err != nil {
		h.writeAdminPaymentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, struct {
		Payments []orderPaymentPayload `json:"payments"`
	}{Payments: buildOrderPayments(records)})
}

func (h *AdminHandlers) capturePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service is unavailable", http.StatusServiceUnavailable))
		return
	}
	actorID, ok := h.requireActor(w, r)
	if !ok {
		return
	}

	payment, err := h.payments.ManualCapture(ctx, services.PaymentManualCaptureCommand{
		OrderID:   strings.TrimSpace(chi.URLParam(r, "orderID")),
		PaymentID: strings.TrimSpace(chi.URLParam(r, "paymentID")),
		ActorID:   actorID,
	})
	if err != nil {
		h.writeAdminPaymentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, struct {
		Payment orderPaymentPayload `json:"payment"`
	}{Payment: buildOrderPayments([]services.Payment{payment})[0]})
}

type refundPaymentRequest struct {
	Amount *int64 `json:"amount"`
	Reason string `json:"reason"`
}

func (h *AdminHandlers) refundPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service is unavailable", http.StatusServiceUnavailable))
		return
	}
	actorID, ok := h.requireActor(w, r)
	if !ok {
		return
	}

	var req refundPaymentRequest
	body, err := readLimitedBody(r, maxAdminBodySize)
	switch {
	case err == nil:
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	case errors.Is(err, errEmptyBody):
		// Full refund without a reason.
	default:
		h.writeBodyDecodeError(ctx, w, err)
		return
	}

	payment, err := h.payments.ManualRefund(ctx, services.PaymentManualRefundCommand{
		OrderID:   strings.TrimSpace(chi.URLParam(r, "orderID")),
		PaymentID: strings.TrimSpace(chi.URLParam(r, "paymentID")),
		ActorID:   actorID,
		Amount:    req.Amount,
		Reason:    strings.TrimSpace(req.Reason),
	})
	if err != nil {
		h.writeAdminPaymentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, struct {
		Payment orderPaymentPayload `json:"payment"`
	}{Payment: buildOrderPayments([]services.Payment{payment})[0]})
}

func (h *AdminHandlers) writeBodyDecodeError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func (h *AdminHandlers) writeAdminPaymentError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_found", "payment not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentProviderRejected):
		httpx.WriteError(ctx, w, httpx.NewError("payment_rejected", "payment provider rejected the operation", http.StatusBadGateway))
	case errors.Is(err, services.ErrPaymentUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("payment_error", "failed to process payment request", http.StatusInternalServerError))
	}
}

// Review moderation -----------------------------------------------------------

func (h *AdminHandlers) listReviewsForModeration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reviews == nil {
		httpx.WriteError(ctx, w, httpx.NewError("review_service_unavailable", "review service is unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := h.requireActor(w, r); !ok {
		return
	}

	query := r.URL.Query()
	filter := services.ReviewModerationFilter{}
	for _, status := range parseFilterValues(query["status"]) {
		mapped, valid := validReviewStatuses[status]
		if !valid {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("unknown status %q", status), http.StatusBadRequest))
			return
		}
		filter.Status = append(filter.Status, mapped)
	}

	pageSize, err := parseLimitedPageSize(query.Get("page_size"), defaultAdminListPageSize, maxAdminListPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	filter.Pagination.PageSize = pageSize
	filter.Pagination.PageToken = strings.TrimSpace(query.Get("page_token"))

	page, err := h.reviews.ListForModeration(ctx, filter)
	if err != nil {
		h.writeAdminReviewError(ctx, w, err)
		return
	}

	items := make([]reviewPayload, 0, len(page.Items))
	for _, review := range page.Items {
		items = append(items, buildReviewPayload(review))
	}
	writeJSONResponse(w, http.StatusOK, struct {
		Reviews       []reviewPayload `json:"reviews"`
		NextPageToken string          `json:"next_page_token,omitempty"`
	}{Reviews: items, NextPageToken: page.NextPageToken})
}

type moderateReviewRequest struct {
	Status string `json:"status"`
}

func (h *AdminHandlers) moderateReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reviews == nil {
		httpx.WriteError(ctx, w, httpx.NewError("review_service_unavailable", "review service is unavailable", http.StatusServiceUnavailable))
		return
	}
	actorID, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	reviewID := strings.TrimSpace(chi.URLParam(r, "reviewID"))
	if reviewID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "review id is required", http.StatusBadRequest))
		return
	}

	var req moderateReviewRequest
	if !h.decodeBody(ctx, w, r, &req) {
		return
	}
	status, valid := validReviewStatuses[strings.TrimSpace(req.Status)]
	if !valid {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("unknown status %q", req.Status), http.StatusBadRequest))
		return
	}

	review, err := h.reviews.Moderate(ctx, services.ModerateReviewCommand{
		ReviewID: reviewID,
		ActorID:  actorID,
		Status:   status,
	})
	if err != nil {
		h.writeAdminReviewError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, struct {
		Review reviewPayload `json:"review"`
	}{Review: buildReviewPayload(review)})
}

type reviewReplyRequest struct {
	Message string `json:"message"`
	Visible *bool  `json:"visible"`
}

func (h *AdminHandlers) storeReviewReply(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reviews == nil {
		httpx.WriteError(ctx, w, httpx.NewError("review_service_unavailable", "review service is unavailable", http.StatusServiceUnavailable))
		return
	}
	actorID, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	reviewID := strings.TrimSpace(chi.URLParam(r, "reviewID"))
	if reviewID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "review id is required", http.StatusBadRequest))
		return
	}

	var req reviewReplyRequest
	if !h.decodeBody(ctx, w, r, &req) {
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "message is required", http.StatusBadRequest))
		return
	}
	visible := true
	if req.Visible != nil {
		visible = *req.Visible
	}

	review, err := h.reviews.StoreReply(ctx, services.StoreReviewReplyCommand{
		ReviewID: reviewID,
		ActorID:  actorID,
		Message:  message,
		Visible:  visible,
	})
	if err != nil {
		h.writeAdminReviewError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, struct {
		Review reviewPayload `json:"review"`
	}{Review: buildReviewPayload(review)})
}

func (h *AdminHandlers) writeAdminReviewError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrReviewInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrReviewNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("review_not_found", "review not found", http.StatusNotFound))
	case errors.Is(err, services.ErrReviewInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("review_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrReviewConflict):
		httpx.WriteError(ctx, w, httpx.NewError("review_conflict", "review was modified concurrently", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("review_error", "failed to process review request", http.StatusInternalServerError))
	}
}

// Promotion management --------------------------------------------------------

type adminPromotionRequest struct {
	Code           string         `json:"code"`
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	Status         string         `json:"status"`
	DiscountAmount int64          `json:"discount_amount"`
	MinSubtotal    int64          `json:"min_subtotal"`
	StartsAt       string         `json:"starts_at"`
	EndsAt         string         `json:"ends_at"`
	UsageLimit     *int           `json:"usage_limit"`
	Metadata       map[string]any `json:"metadata"`
}

func (h *AdminHandlers) listPromotions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.promotions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("promotion_service_unavailable", "promotion service is unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := h.requireActor(w, r); !ok {
		return
	}

	query := r.URL.Query()
	filter := services.PromotionListFilter{}
	for _, status := range parseFilterValues(query["status"]) {
		mapped, valid := validPromotionStatuses[status]
		if !valid {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("unknown status %q", status), http.StatusBadRequest))
			return
		}
		filter.Status = append(filter.Status, mapped)
	}

	pageSize, err := parseLimitedPageSize(query.Get("page_size"), defaultAdminListPageSize, maxAdminListPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	filter.Pagination.PageSize = pageSize
	filter.Pagination.PageToken = strings.TrimSpace(query.Get("page_token"))

	page, err := h.promotions.ListPromotions(ctx, filter)
	if err != nil {
		h.writeAdminPromotionError(ctx, w, err)
		return
	}

	items := make([]promotionPayload, 0, len(page.Items))
	for _, promotion := range page.Items {
		items = append(items, buildPromotionPayload(promotion))
	}
	writeJSONResponse(w, http.StatusOK, struct {
		Promotions    []promotionPayload `json:"promotions"`
		NextPageToken string             `json:"next_page_token,omitempty"`
	}{Promotions: items, NextPageToken: page.NextPageToken})
}

func (h *AdminHandlers) createPromotion(w http.ResponseWriter, r *http.Request) {
	h.savePromotion(w, r, "")
}

func (h *AdminHandlers) updatePromotion(w http.ResponseWriter, r *http.Request) {
	promoID := strings.TrimSpace(chi.URLParam(r, "promoID"))
	if promoID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "promotion id is required", http.StatusBadRequest))
		return
	}
	h.savePromotion(w, r, promoID)
}

func (h *AdminHandlers) savePromotion(w http.ResponseWriter, r *http.Request, promoID string) {
	ctx := r.Context()
	if h.promotions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("promotion_service_unavailable", "promotion service is unavailable", http.StatusServiceUnavailable))
		return
	}
	actorID, ok := h.requireActor(w, r)
	if !ok {
		return
	}

	var req adminPromotionRequest
	if !h.decodeBody(ctx, w, r, &req) {
		return
	}

	promotion := services.Promotion{
		ID:             promoID,
		Code:           strings.TrimSpace(req.Code),
		Name:           strings.TrimSpace(req.Name),
		Description:    req.Description,
		DiscountAmount: req.DiscountAmount,
		MinSubtotal:    req.MinSubtotal,
		UsageLimit:     req.UsageLimit,
		Metadata:       cloneMap(req.Metadata),
	}
	if status := strings.TrimSpace(req.Status); status != "" {
		mapped, valid := validPromotionStatuses[status]
		if !valid {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("unknown status %q", status), http.StatusBadRequest))
			return
		}
		promotion.Status = mapped
	}
	if raw := strings.TrimSpace(req.StartsAt); raw != "" {
		ts, err := parseRFC3339(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "starts_at must be RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		promotion.StartsAt = ts
	}
	if raw := strings.TrimSpace(req.EndsAt); raw != "" {
		ts, err := parseRFC3339(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "ends_at must be RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		promotion.EndsAt = ts
	}

	cmd := services.UpsertPromotionCommand{Promotion: promotion, ActorID: actorID}
	var saved services.Promotion
	var err error
	if promoID == "" {
		saved, err = h.promotions.CreatePromotion(ctx, cmd)
	} else {
		saved, err = h.promotions.UpdatePromotion(ctx, cmd)
	}
	if err != nil {
		h.writeAdminPromotionError(ctx, w, err)
		return
	}

	status := http.StatusOK
	if promoID == "" {
		status = http.StatusCreated
	}
	writeJSONResponse(w, status, struct {
		Promotion promotionPayload `json:"promotion"`
	}{Promotion: buildPromotionPayload(saved)})
}

func (h *AdminHandlers) deletePromotion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.promotions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("promotion_service_unavailable", "promotion service is unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := h.requireActor(w, r); !ok {
		return
	}
	promoID := strings.TrimSpace(chi.URLParam(r, "promoID"))
	if promoID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "promotion id is required", http.StatusBadRequest))
		return
	}

	if err := h.promotions.DeletePromotion(ctx, promoID); err != nil {
		h.writeAdminPromotionError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandlers) writeAdminPromotionError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrPromotionInvalidInput), errors.Is(err, services.ErrPromotionInvalidCode):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPromotionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("promotion_not_found", "promotion not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPromotionConflict):
		httpx.WriteError(ctx, w, httpx.NewError("promotion_conflict", "promotion code already exists", http.StatusConflict))
	case errors.Is(err, services.ErrPromotionRepositoryMissing):
		httpx.WriteError(ctx, w, httpx.NewError("promotion_service_unavailable", "promotion service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("promotion_error", "failed to process promotion request", http.StatusInternalServerError))
	}
}

type promotionPayload struct {
	ID             string         `json:"id"`
	Code           string         `json:"code"`
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	Status         string         `json:"status"`
	DiscountAmount int64          `json:"discount_amount"`
	MinSubtotal    int64          `json:"min_subtotal"`
	StartsAt       string         `json:"starts_at,omitempty"`
	EndsAt         string         `json:"ends_at,omitempty"`
	UsageLimit     *int           `json:"usage_limit,omitempty"`
	UsageCount     int            `json:"usage_count"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      string         `json:"created_at,omitempty"`
	UpdatedAt      string         `json:"updated_at,omitempty"`
}

func buildPromotionPayload(promotion services.Promotion) promotionPayload {
	return promotionPayload{
		ID:             promotion.ID,
		Code:           promotion.Code,
		Name:           promotion.Name,
		Description:    promotion.Description,
		Status:         string(promotion.Status),
		DiscountAmount: promotion.DiscountAmount,
		MinSubtotal:    promotion.MinSubtotal,
		StartsAt:       formatTime(promotion.StartsAt),
		EndsAt:         formatTime(promotion.EndsAt),
		UsageLimit:     promotion.UsageLimit,
		UsageCount:     promotion.UsageCount,
		Metadata:       cloneMap(promotion.Metadata),
		CreatedAt:      formatTime(promotion.CreatedAt),
		UpdatedAt:      formatTime(promotion.UpdatedAt),
	}
}

// Audit logs ------------------------------------------------------------------

func (h *AdminHandlers) listAuditLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.system == nil {
		httpx.WriteError(ctx, w, httpx.NewError("system_service_unavailable", "system service is unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := h.requireActor(w, r); !ok {
		return
	}

	query := r.URL.Query()
	filter := services.AuditLogFilter{
		TargetRef: strings.TrimSpace(query.Get("target_ref")),
		Actor:     strings.TrimSpace(query.Get("actor")),
		ActorType: strings.TrimSpace(query.Get("actor_type")),
		Action:    strings.TrimSpace(query.Get("action")),
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

	pageSize, err := parseLimitedPageSize(query.Get("page_size"), defaultAdminListPageSize, maxAdminListPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	filter.Pagination.PageSize = pageSize
	filter.Pagination.PageToken = strings.TrimSpace(query.Get("page_token"))

	page, err := h.system.ListAuditLogs(ctx, filter)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("audit_log_error", "failed to list audit logs", http.StatusInternalServerError))
		return
	}

	entries := make([]auditLogPayload, 0, len(page.Items))
	for _, entry := range page.Items {
		entries = append(entries, buildAuditLogPayload(entry))
	}
	writeJSONResponse(w, http.StatusOK, struct {
		Entries       []auditLogPayload `json:"entries"`
		NextPageToken string            `json:"next_page_token,omitempty"`
	}{Entries: entries, NextPageToken: page.NextPageToken})
}

type auditLogPayload struct {
	ID        string         `json:"id"`
	Actor     string         `json:"actor"`
	ActorType string         `json:"actor_type"`
	Action    string         `json:"action"`
	TargetRef string         `json:"target_ref"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Diff      map[string]any `json:"diff,omitempty"`
	Severity  string         `json:"severity,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	CreatedAt string         `json:"created_at"`
}

func buildAuditLogPayload(entry services.AuditLogEntry) auditLogPayload {
	return auditLogPayload{
		ID:        entry.ID,
		Actor:     entry.Actor,
		ActorType: entry.ActorType,
		Action:    entry.Action,
		TargetRef: entry.TargetRef,
		Metadata:  cloneMap(entry.Metadata),
		Diff:      cloneMap(entry.Diff),
		Severity:  entry.Severity,
		RequestID: entry.RequestID,
		CreatedAt: formatTime(entry.CreatedAt),
	}
}
