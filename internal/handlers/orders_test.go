package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/star-cafe/api/internal/domain"
	"github.com/star-cafe/api/internal/platform/auth"
	"github.com/star-cafe/api/internal/services"
)

type stubOrderService struct {
	createFn     func(context.Context, services.CreateOrderFromCartCommand) (services.Order, error)
	listFn       func(context.Context, services.OrderListFilter) (domain.CursorPage[services.Order], error)
	getFn        func(context.Context, string, services.OrderReadOptions) (services.Order, error)
	transitionFn func(context.Context, services.OrderStatusTransitionCommand) (services.Order, error)
	cancelFn     func(context.Context, services.CancelOrderCommand) (services.Order, error)
}

func (s *stubOrderService) CreateFromCart(ctx context.Context, cmd services.CreateOrderFromCartCommand) (services.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Order{}, errors.New("unexpected CreateFromCart call")
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Order]{}, errors.New("unexpected ListOrders call")
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string, opts services.OrderReadOptions) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID, opts)
	}
	return services.Order{}, errors.New("unexpected GetOrder call")
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, cmd)
	}
	return services.Order{}, errors.New("unexpected TransitionStatus call")
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return services.Order{}, errors.New("unexpected Cancel call")
}

var _ services.OrderService = (*stubOrderService)(nil)

func newOrderRouter(service services.OrderService, opts ...OrderHandlersOption) chi.Router {
	r := chi.NewRouter()
	NewOrderHandlers(nil, service, opts...).Routes(r)
	return r
}

func orderRequest(method, target, body string, identity *auth.Identity) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	if identity != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), identity))
	}
	return req
}

func sampleOrder(userID string, status domain.OrderStatus) services.Order {
	created := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return services.Order{
		ID:          "ord_123",
		OrderNumber: "SC-1042",
		UserID:      userID,
		Status:      status,
		Currency:    "jpy",
		Totals:      services.OrderTotals{Subtotal: 1040, Discount: 100, DeliveryFee: 300, Total: 1240},
		Items: []services.OrderLineItem{
			{ItemRef: "itm_latte", Name: "Caramel Latte", Quantity: 2, UnitPrice: 520, Total: 1040},
		},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestOrderHandlersListOrdersScopesToCaller(t *testing.T) {
	var captured services.OrderListFilter
	service := &stubOrderService{
		listFn: func(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			captured = filter
			return domain.CursorPage[services.Order]{
				Items:         []services.Order{sampleOrder("user-7", domain.OrderStatusPaid)},
				NextPageToken: "tok_next",
			}, nil
		},
	}

	router := newOrderRouter(service)
	req := orderRequest(http.MethodGet, "/?status=paid&page_size=5", "", &auth.Identity{UID: "user-7"})
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.UserID != "user-7" {
		t.Fatalf("expected list scoped to caller, got %q", captured.UserID)
	}
	if len(captured.Status) != 1 || captured.Status[0] != "paid" {
		t.Fatalf("unexpected status filter %v", captured.Status)
	}
	if captured.Pagination.PageSize != 5 {
		t.Fatalf("unexpected page size %d", captured.Pagination.PageSize)
	}

	var body orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body.Orders) != 1 || body.Orders[0].ID != "ord_123" {
		t.Fatalf("unexpected orders %+v", body.Orders)
	}
	if body.NextPageToken != "tok_next" {
		t.Fatalf("unexpected page token %q", body.NextPageToken)
	}
}

func TestOrderHandlersListOrdersRejectsUnknownStatus(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})
	req := orderRequest(http.MethodGet, "/?status=baking", "", &auth.Identity{UID: "user-7"})
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersGetOrderIncludesPayments(t *testing.T) {
	var capturedOpts services.OrderReadOptions
	service := &stubOrderService{
		getFn: func(ctx context.Context, orderID string, opts services.OrderReadOptions) (services.Order, error) {
			capturedOpts = opts
			order := sampleOrder("user-7", domain.OrderStatusPaid)
			order.Payments = []services.Payment{
				{ID: "pay_1", Provider: "stripe", Status: "succeeded", Amount: 1240, Currency: "JPY", Captured: true},
			}
			return order, nil
		},
	}

	router := newOrderRouter(service)
	req := orderRequest(http.MethodGet, "/ord_123?include=payments", "", &auth.Identity{UID: "user-7"})
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !capturedOpts.IncludePayments {
		t.Fatalf("expected IncludePayments to be set")
	}

	var body orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body.Order.Payments) != 1 || body.Order.Payments[0].Provider != "stripe" {
		t.Fatalf("unexpected payments %+v", body.Order.Payments)
	}
}

func TestOrderHandlersGetOrderHidesOtherUsersOrders(t *testing.T) {
	service := &stubOrderService{
		getFn: func(ctx context.Context, orderID string, opts services.OrderReadOptions) (services.Order, error) {
			return sampleOrder("someone-else", domain.OrderStatusPaid), nil
		},
	}

	router := newOrderRouter(service)
	req := orderRequest(http.MethodGet, "/ord_123", "", &auth.Identity{UID: "user-7"})
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "order_not_found" {
		t.Fatalf("expected order_not_found, got %v", body["error"])
	}
}

func TestOrderHandlersGetOrderAllowsStaff(t *testing.T) {
	service := &stubOrderService{
		getFn: func(ctx context.Context, orderID string, opts services.OrderReadOptions) (services.Order, error) {
			return sampleOrder("someone-else", domain.OrderStatusPreparing), nil
		},
	}

	router := newOrderRouter(service)
	req := orderRequest(http.MethodGet, "/ord_123", "", &auth.Identity{UID: "staff-1", Roles: []string{"staff"}})
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestOrderHandlersCancelOrder(t *testing.T) {
	var captured services.CancelOrderCommand
	service := &stubOrderService{
		getFn: func(ctx context.Context, orderID string, opts services.OrderReadOptions) (services.Order, error) {
			return sampleOrder("user-7", domain.OrderStatusPendingPayment), nil
		},
		cancelFn: func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder("user-7", domain.OrderStatusCanceled)
			reason := cmd.Reason
			order.CancelReason = &reason
			return order, nil
		},
	}

	router := newOrderRouter(service)
	req := orderRequest(http.MethodPost, "/ord_123:cancel", `{"reason":"changed my mind","expected_status":"pending_payment"}`, &auth.Identity{UID: "user-7"})
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_123" || captured.ActorID != "user-7" {
		t.Fatalf("unexpected command %+v", captured)
	}
	if captured.Reason != "changed my mind" {
		t.Fatalf("unexpected reason %q", captured.Reason)
	}
	if captured.ExpectedStatus == nil || *captured.ExpectedStatus != domain.OrderStatusPendingPayment {
		t.Fatalf("unexpected expected status %+v", captured.ExpectedStatus)
	}

	var body orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Order.Status != string(domain.OrderStatusCanceled) {
		t.Fatalf("unexpected status %q", body.Order.Status)
	}
}

func TestOrderHandlersCancelOrderWithoutBody(t *testing.T) {
	service := &stubOrderService{
		getFn: func(ctx context.Context, orderID string, opts services.OrderReadOptions) (services.Order, error) {
			return sampleOrder("user-7", domain.OrderStatusDraft), nil
		},
		cancelFn: func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			return sampleOrder("user-7", domain.OrderStatusCanceled), nil
		},
	}

	router := newOrderRouter(service)
	req := orderRequest(http.MethodPost, "/ord_123:cancel", "", &auth.Identity{UID: "user-7"})
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestOrderHandlersCancelOrderRejectsKitchenStages(t *testing.T) {
	service := &stubOrderService{
		getFn: func(ctx context.Context, orderID string, opts services.OrderReadOptions) (services.Order, error) {
			return sampleOrder("user-7", domain.OrderStatusPreparing), nil
		},
	}

	router := newOrderRouter(service)
	req := orderRequest(http.MethodPost, "/ord_123:cancel", "", &auth.Identity{UID: "user-7"})
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d: %s", rr.Code, rr.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "order_not_cancellable" {
		t.Fatalf("expected order_not_cancellable, got %v", body["error"])
	}
}

func TestOrderHandlersCancelErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "invalid state", err: services.ErrOrderInvalidState, wantStatus: http.StatusConflict, wantCode: "order_invalid_state"},
		{name: "conflict", err: services.ErrOrderConflict, wantStatus: http.StatusConflict, wantCode: "order_conflict"},
		{name: "not found", err: services.ErrOrderNotFound, wantStatus: http.StatusNotFound, wantCode: "order_not_found"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			service := &stubOrderService{
				getFn: func(ctx context.Context, orderID string, opts services.OrderReadOptions) (services.Order, error) {
					return sampleOrder("user-7", domain.OrderStatusDraft), nil
				},
				cancelFn: func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
					return services.Order{}, tc.err
				},
			}
			router := newOrderRouter(service)
			req := orderRequest(http.MethodPost, "/ord_123:cancel", "", &auth.Identity{UID: "user-7"})
			rr := httptest.NewRecorder()

			router.ServeHTTP(rr, req)

			if rr.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d", tc.wantStatus, rr.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("expected JSON body: %v", err)
			}
			if body["error"] != tc.wantCode {
				t.Fatalf("expected error %q, got %v", tc.wantCode, body["error"])
			}
		})
	}
}

func TestOrderHandlersEventsUnavailableWithoutStreamer(t *testing.T) {
	service := &stubOrderService{
		getFn: func(ctx context.Context, orderID string, opts services.OrderReadOptions) (services.Order, error) {
			return sampleOrder("user-7", domain.OrderStatusPaid), nil
		},
	}

	router := newOrderRouter(service)
	req := orderRequest(http.MethodGet, "/ord_123/events", "", &auth.Identity{UID: "user-7"})
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestOrderHandlersRequireIdentity(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})
	req := orderRequest(http.MethodGet, "/", "", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}
