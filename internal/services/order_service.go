package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/star-cafe/api/internal/domain"
	"github.com/star-cafe/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"

	orderIDPrefix = "ord_"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")

	errOrderPaymentRepositoryUnavailable = errors.New("order: payment repository not configured")
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusDraft:          {domain.OrderStatusPendingPayment, domain.OrderStatusCanceled},
	domain.OrderStatusPendingPayment: {domain.OrderStatusPaid, domain.OrderStatusCanceled},
	domain.OrderStatusPaid:           {domain.OrderStatusPreparing, domain.OrderStatusCanceled},
	domain.OrderStatusPreparing:      {domain.OrderStatusReady, domain.OrderStatusCanceled},
	domain.OrderStatusReady:          {domain.OrderStatusOutForDelivery, domain.OrderStatusCompleted, domain.OrderStatusCanceled},
	domain.OrderStatusOutForDelivery: {domain.OrderStatusDelivered},
	domain.OrderStatusDelivered:      {domain.OrderStatusCompleted},
}

var cancellableStatuses = []domain.OrderStatus{
	domain.OrderStatusDraft,
	domain.OrderStatusPendingPayment,
	domain.OrderStatusPaid,
	domain.OrderStatusPreparing,
	domain.OrderStatusReady,
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Payments    repositories.OrderPaymentRepository
	Counters    repositories.CounterRepository
	Quoter      CartQuoter
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	payments   repositories.OrderPaymentRepository
	counters   repositories.CounterRepository
	quoter     CartQuoter
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	events     OrderEventPublisher
	logger     func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:     deps.Orders,
		payments:   deps.Payments,
		counters:   deps.Counters,
		quoter:     deps.Quoter,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *orderService) CreateFromCart(ctx context.Context, cmd CreateOrderFromCartCommand) (Order, error) {
	if len(cmd.Cart.Items) == 0 {
		return Order{}, fmt.Errorf("%w: cart must contain at least one item", ErrOrderInvalidInput)
	}
	userID := strings.TrimSpace(cmd.Cart.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: cart user id is required", ErrOrderInvalidInput)
	}
	currency := strings.TrimSpace(cmd.Cart.Currency)
	if currency == "" {
		return Order{}, fmt.Errorf("%w: cart currency is required", ErrOrderInvalidInput)
	}

	now := s.now()

	totals, err := s.resolveTotals(ctx, cmd.Cart)
	if err != nil {
		return Order{}, err
	}

	order := Order{
		ID:              s.nextOrderID(),
		UserID:          userID,
		Status:          domain.OrderStatusPendingPayment,
		Currency:        currency,
		Totals:          totals,
		Items:           buildOrderLineItems(cmd.Cart.Items),
		Reward:          cloneReward(cmd.Cart.Reward),
		Promotion:       clonePromotion(cmd.Cart.Promotion),
		DeliveryAddress: cloneAddress(cmd.Address),
		Contact:         cloneContact(cmd.Contact),
		Notes:           strings.TrimSpace(cmd.Notes),
		Metadata:        cloneAndMergeMetadata(cmd.Cart.Metadata, cmd.Metadata),
		CreatedAt:       now,
		UpdatedAt:       now,
		PlacedAt:        &now,
	}

	if order.Reward != nil {
		order.PointsRedeemed = order.Reward.PointCost
	}

	if trimmed := strings.TrimSpace(cmd.Cart.ID); trimmed != "" {
		order.CartRef = valuePtr(trimmed)
	}

	if cmd.OrderNumber != nil && strings.TrimSpace(*cmd.OrderNumber) != "" {
		order.OrderNumber = strings.TrimSpace(*cmd.OrderNumber)
	}

	if order.OrderNumber == "" {
		number, err := s.generateOrderNumber(ctx, now)
		if err != nil {
			return Order{}, err
		}
		order.OrderNumber = number
	}

	if actor := strings.TrimSpace(cmd.ActorID); actor != "" {
		order.Audit.CreatedBy = valuePtr(actor)
		order.Audit.UpdatedBy = valuePtr(actor)
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Insert(txCtx, domain.Order(order)); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, order, "", orderEventCreated, cmd.ActorID, now, maps.Clone(order.Metadata))

	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string, opts OrderReadOptions) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if opts.IncludePayments {
		if s.payments == nil {
			return Order{}, errOrderPaymentRepositoryUnavailable
		}
		payments, err := s.payments.List(ctx, orderID)
		if err != nil {
			return Order{}, s.mapRepositoryError(err)
		}
		order.Payments = payments
	}

	return order, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	target := domain.OrderStatus(strings.TrimSpace(string(cmd.TargetStatus)))

	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if target == "" {
		return Order{}, fmt.Errorf("%w: target status is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if cmd.ExpectedStatus != nil && order.Status != *cmd.ExpectedStatus {
		return Order{}, fmt.Errorf("%w: expected status %q but was %q", ErrOrderConflict, *cmd.ExpectedStatus, order.Status)
	}

	actor := strings.TrimSpace(cmd.ActorID)
	now := s.now()
	prevStatus := order.Status

	if err := s.applyStatusTransition(&order, target, actor, now); err != nil {
		return Order{}, err
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	metadata := cloneMap(cmd.Metadata)
	if reason := strings.TrimSpace(cmd.Reason); reason != "" {
		metadata = ensureMap(metadata)
		metadata["reason"] = reason
	}

	s.publishEvent(ctx, order, prevStatus, orderEventStatusChanged, actor, now, metadata)

	return order, nil
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if !slices.Contains(cancellableStatuses, order.Status) {
		return Order{}, fmt.Errorf("%w: order status %q cannot be canceled", ErrOrderInvalidState, order.Status)
	}

	if cmd.ExpectedStatus != nil && order.Status != *cmd.ExpectedStatus {
		return Order{}, fmt.Errorf("%w: expected status %q but was %q", ErrOrderConflict, *cmd.ExpectedStatus, order.Status)
	}

	now := s.now()
	prevStatus := order.Status
	reason := strings.TrimSpace(cmd.Reason)

	order.CancelReason = optionalString(reason)
	order.CanceledAt = &now

	if err := s.applyStatusTransition(&order, domain.OrderStatusCanceled, strings.TrimSpace(cmd.ActorID), now); err != nil {
		return Order{}, err
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	metadata := cloneMap(cmd.Metadata)
	if reason != "" {
		metadata = ensureMap(metadata)
		metadata["reason"] = reason
	}

	s.publishEvent(ctx, order, prevStatus, orderEventStatusChanged, cmd.ActorID, now, metadata)

	return order, nil
}

func (s *orderService) applyStatusTransition(order *Order, target domain.OrderStatus, actor string, now time.Time) error {
	current := order.Status

	if current == target {
		order.UpdatedAt = now
		if actor != "" {
			order.Audit.UpdatedBy = valuePtr(actor)
		}
		return nil
	}

	if !canTransition(current, target) {
		return fmt.Errorf("%w: %s to %s", ErrOrderInvalidState, current, target)
	}

	order.Status = target
	order.UpdatedAt = now
	s.updateTimestamps(order, target, now)

	if actor != "" {
		order.Audit.UpdatedBy = valuePtr(actor)
	}

	return nil
}

func (s *orderService) updateTimestamps(order *Order, status domain.OrderStatus, now time.Time) {
	switch status {
	case domain.OrderStatusPendingPayment:
		if order.PlacedAt == nil {
			order.PlacedAt = &now
		}
	case domain.OrderStatusPaid:
		order.PaidAt = &now
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &now
	case domain.OrderStatusCompleted:
		order.CompletedAt = &now
	case domain.OrderStatusCanceled:
		if order.CanceledAt == nil {
			order.CanceledAt = &now
		}
	}
}

// resolveTotals recomputes the cart price on the server side. Any estimate the
// client carried in is ignored so a stale or tampered quote never reaches the
// order document.
func (s *orderService) resolveTotals(ctx context.Context, cart Cart) (OrderTotals, error) {
	if s.quoter != nil {
		result, err := s.quoter.Quote(ctx, QuoteCartCommand{Cart: cart})
		if err != nil {
			if errors.Is(err, ErrCartPricingInvalidInput) || errors.Is(err, ErrCartPricingCurrencyMismatch) {
				return OrderTotals{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
			}
			return OrderTotals{}, err
		}
		return OrderTotals{
			Subtotal:    result.Quote.Subtotal,
			Discount:    result.Quote.Discount,
			DeliveryFee: result.Quote.DeliveryFee,
			Total:       result.Quote.Total,
		}, nil
	}

	var subtotal int64
	for _, item := range cart.Items {
		subtotal += item.UnitPrice * int64(item.Quantity)
	}
	return OrderTotals{Subtotal: subtotal, Total: subtotal}, nil
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, "orders", 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SC-%04d-%06d", now.Year(), seq), nil
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

func (s *orderService) publishEvent(ctx context.Context, order Order, prev domain.OrderStatus, eventType string, actor string, now time.Time, metadata map[string]any) {
	if s.events == nil {
		return
	}

	metadata = ensureMap(cloneMap(metadata))
	metadata["event"] = eventType
	metadata["orderNumber"] = order.OrderNumber
	if prev != "" {
		metadata["previousStatus"] = string(prev)
	}
	if actor = strings.TrimSpace(actor); actor != "" {
		metadata["actor"] = actor
	}

	event := OrderEvent{
		OrderID:    order.ID,
		Status:     order.Status,
		OccurredAt: now,
		Metadata:   metadata,
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order_event_publish_failed", map[string]any{
			"type":   eventType,
			"order":  order.ID,
			"error":  err.Error(),
			"status": string(order.Status),
		})
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func buildOrderLineItems(items []CartItem) []OrderLineItem {
	lines := make([]OrderLineItem, 0, len(items))
	for _, item := range items {
		lines = append(lines, OrderLineItem{
			ItemRef:   strings.TrimSpace(item.ItemID),
			LegacyKey: strings.TrimSpace(item.LegacyKey),
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Total:     item.UnitPrice * int64(item.Quantity),
			Notes:     item.Notes,
			Metadata:  cloneMap(item.Metadata),
		})
	}
	return lines
}

func clonePromotion(promo *CartPromotion) *CartPromotion {
	if promo == nil {
		return nil
	}
	cloned := *promo
	return &cloned
}

func cloneReward(reward *RewardSelection) *RewardSelection {
	if reward == nil {
		return nil
	}
	cloned := *reward
	return &cloned
}

func cloneAddress(addr *Address) *Address {
	if addr == nil {
		return nil
	}
	cloned := *addr
	return &cloned
}

func cloneContact(contact *OrderContact) *OrderContact {
	if contact == nil {
		return nil
	}
	cloned := *contact
	return &cloned
}

func cloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	return maps.Clone(src)
}

func cloneAndMergeMetadata(base map[string]any, extra map[string]any) map[string]any {
	if base == nil && extra == nil {
		return nil
	}
	result := cloneMap(base)
	if len(extra) == 0 {
		return result
	}
	if result == nil {
		result = map[string]any{}
	}
	for k, v := range extra {
		result[k] = v
	}
	return result
}

func ensureMap(src map[string]any) map[string]any {
	if src == nil {
		return map[string]any{}
	}
	return src
}

func valuePtr[T any](v T) *T {
	return &v
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	ref := v
	return &ref
}

func canTransition(current, target domain.OrderStatus) bool {
	if current == target {
		return true
	}
	next, ok := orderStateTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}
