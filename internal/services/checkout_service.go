package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/star-cafe/api/internal/domain"
	"github.com/star-cafe/api/internal/payments"
	"github.com/star-cafe/api/internal/repositories"
)

const (
	checkoutCancelReasonPaymentFail = "checkout_payment_failed"

	paymentIDPrefix = "pay_"
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
	// ErrCheckoutCartNotReady indicates the cart is missing required data for checkout.
	ErrCheckoutCartNotReady = errors.New("checkout: cart not ready")
	// ErrCheckoutConflict indicates a concurrent modification prevented completing checkout.
	ErrCheckoutConflict = errors.New("checkout: conflict")
	// ErrCheckoutPaymentFailed indicates the PSP session could not be created.
	ErrCheckoutPaymentFailed = errors.New("checkout: payment failed")
	// ErrCheckoutSessionMismatch indicates the confirmation does not match the recorded session.
	ErrCheckoutSessionMismatch = errors.New("checkout: session mismatch")
)

// checkoutSessionManager abstracts payments.Manager for easier testing.
type checkoutSessionManager interface {
	CreateCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Carts          CartService
	Orders         OrderService
	Loyalty        LoyaltyService
	Promotions     PromotionService
	Payments       checkoutSessionManager
	PaymentRecords repositories.OrderPaymentRepository
	Clock          func() time.Time
	IDGenerator    func() string
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	carts          CartService
	orders         OrderService
	loyalty        LoyaltyService
	promotions     PromotionService
	payments       checkoutSessionManager
	paymentRecords repositories.OrderPaymentRepository
	now            func() time.Time
	newID          func() string
	logger         func(ctx context.Context, event string, fields map[string]any)
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Carts == nil {
		return nil, errors.New("checkout service: cart service is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order service is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment manager is required")
	}
	if deps.PaymentRecords == nil {
		return nil, errors.New("checkout service: payment repository is required")
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

	return &checkoutService{
		carts:          deps.Carts,
		orders:         deps.Orders,
		loyalty:        deps.Loyalty,
		promotions:     deps.Promotions,
		payments:       deps.Payments,
		paymentRecords: deps.PaymentRecords,
		now: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// CreateCheckoutSession validates cart readiness, snapshots the cart into a
// pending order, and opens a PSP session for it. The order is canceled again
// when the PSP rejects the session so no orphan stays behind.
func (s *checkoutService) CreateCheckoutSession(ctx context.Context, cmd CreateCheckoutSessionCommand) (CheckoutSessionResult, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return CheckoutSessionResult{}, ErrCheckoutInvalidInput
	}

	successURL := strings.TrimSpace(cmd.SuccessURL)
	cancelURL := strings.TrimSpace(cmd.CancelURL)
	if successURL == "" || cancelURL == "" {
		return CheckoutSessionResult{}, ErrCheckoutInvalidInput
	}

	cart, err := s.carts.GetOrCreateCart(ctx, userID)
	if err != nil {
		return CheckoutSessionResult{}, s.translateCartError(err)
	}

	if cartID := strings.TrimSpace(cmd.CartID); cartID != "" && !strings.EqualFold(cart.ID, cartID) {
		return CheckoutSessionResult{}, ErrCheckoutConflict
	}
	if err := validateCheckoutCart(cart); err != nil {
		return CheckoutSessionResult{}, err
	}

	order, err := s.orders.CreateFromCart(ctx, CreateOrderFromCartCommand{
		Cart:     cart,
		ActorID:  userID,
		Metadata: checkoutCommandMetadata(cmd.Metadata),
	})
	if err != nil {
		if errors.Is(err, ErrOrderInvalidInput) {
			return CheckoutSessionResult{}, fmt.Errorf("%w: %v", ErrCheckoutCartNotReady, err)
		}
		return CheckoutSessionResult{}, err
	}

	idempotencyKey := s.checkoutIdempotencyKey(cmd, order)

	session, err := s.createPSPSession(ctx, cmd, order, successURL, cancelURL, idempotencyKey)
	if err != nil {
		s.cancelOrder(ctx, order.ID, checkoutCancelReasonPaymentFail)
		return CheckoutSessionResult{}, err
	}

	return CheckoutSessionResult{
		OrderID:      order.ID,
		SessionID:    session.ID,
		Provider:     session.Provider,
		ClientSecret: session.ClientSecret,
		RedirectURL:  session.RedirectURL,
		ExpiresAt:    session.ExpiresAt.UTC(),
	}, nil
}

// ConfirmClientCompletion acknowledges the storefront's return leg. The
// webhook remains the authority for marking the order paid; this only checks
// the caller is looking at their own pending order.
func (s *checkoutService) ConfirmClientCompletion(ctx context.Context, cmd ConfirmCheckoutCommand) error {
	userID := strings.TrimSpace(cmd.UserID)
	orderID := strings.TrimSpace(cmd.OrderID)
	if userID == "" || orderID == "" {
		return ErrCheckoutInvalidInput
	}

	order, err := s.orders.GetOrder(ctx, orderID, OrderReadOptions{})
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return ErrCheckoutSessionMismatch
		}
		return err
	}
	if order.UserID != userID {
		return ErrCheckoutSessionMismatch
	}

	s.logger(ctx, "checkout_client_confirmed", map[string]any{
		"orderId":   order.ID,
		"sessionId": strings.TrimSpace(cmd.SessionID),
		"status":    string(order.Status),
	})
	return nil
}

// HandlePaymentSucceeded finalizes an order once the PSP reports a captured
// payment: record the payment, move the order to paid, settle loyalty points
// and promotion usage, and drop the cart. Replayed webhooks are no-ops.
func (s *checkoutService) HandlePaymentSucceeded(ctx context.Context, cmd PaymentSucceededCommand) error {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return ErrCheckoutInvalidInput
	}

	order, err := s.orders.GetOrder(ctx, orderID, OrderReadOptions{IncludePayments: true})
	if err != nil {
		return err
	}

	if order.Status != domain.OrderStatusPendingPayment {
		// Replay or out-of-order delivery; the first webhook already settled it.
		s.logger(ctx, "checkout_payment_replayed", map[string]any{
			"orderId": order.ID,
			"status":  string(order.Status),
		})
		return nil
	}

	now := s.now()
	payment := domain.Payment{
		ID:         paymentIDPrefix + s.newID(),
		OrderID:    order.ID,
		Provider:   "stripe",
		IntentID:   strings.TrimSpace(cmd.IntentID),
		Status:     "succeeded",
		Amount:     cmd.Amount,
		Currency:   strings.ToUpper(strings.TrimSpace(cmd.Currency)),
		Captured:   true,
		CapturedAt: &now,
		Raw:        maps.Clone(cmd.Raw),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.paymentRecords.Insert(ctx, payment); err != nil {
		return s.translatePaymentError(err)
	}

	if _, err := s.orders.TransitionStatus(ctx, OrderStatusTransitionCommand{
		OrderID:      order.ID,
		TargetStatus: domain.OrderStatusPaid,
		Reason:       "payment_succeeded",
		Metadata:     map[string]any{"paymentId": payment.ID},
	}); err != nil {
		return err
	}

	if err := s.carts.ClearCart(ctx, order.UserID); err != nil {
		s.logger(ctx, "checkout_cart_clear_failed", map[string]any{
			"orderId": order.ID,
			"userId":  order.UserID,
			"error":   err.Error(),
		})
	}

	s.settleLoyalty(ctx, order)
	s.settlePromotion(ctx, order)

	return nil
}

// ReleaseOnCancel tears the pending order down when the user abandons the PSP
// session.
func (s *checkoutService) ReleaseOnCancel(ctx context.Context, cmd ReleaseCheckoutCommand) error {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return ErrCheckoutInvalidInput
	}
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		reason = "checkout_abandoned"
	}

	_, err := s.orders.Cancel(ctx, CancelOrderCommand{OrderID: orderID, Reason: reason})
	if err != nil {
		if errors.Is(err, ErrOrderInvalidState) {
			// Already paid or canceled; nothing left to release.
			return nil
		}
		return err
	}
	return nil
}

func (s *checkoutService) settleLoyalty(ctx context.Context, order Order) {
	if s.loyalty == nil {
		return
	}

	if _, err := s.loyalty.AccruePoints(ctx, AccruePointsCommand{
		UserID:     order.UserID,
		OrderID:    order.ID,
		OrderTotal: order.Totals.Total,
	}); err != nil {
		s.logger(ctx, "checkout_points_accrual_failed", map[string]any{
			"orderId": order.ID,
			"userId":  order.UserID,
			"error":   err.Error(),
		})
	}

	if order.Reward == nil {
		return
	}
	if _, err := s.loyalty.RedeemReward(ctx, RedeemRewardCommand{
		UserID:    order.UserID,
		OrderID:   order.ID,
		RewardID:  order.Reward.RewardID,
		PointCost: order.Reward.PointCost,
	}); err != nil {
		s.logger(ctx, "checkout_reward_redemption_failed", map[string]any{
			"orderId":  order.ID,
			"rewardId": order.Reward.RewardID,
			"error":    err.Error(),
		})
	}
}

func (s *checkoutService) settlePromotion(ctx context.Context, order Order) {
	if s.promotions == nil || order.Promotion == nil || !order.Promotion.Applied {
		return
	}
	if err := s.promotions.RecordUsage(ctx, RecordPromotionUsageCommand{
		Code:    order.Promotion.Code,
		UserID:  order.UserID,
		OrderID: order.ID,
	}); err != nil {
		s.logger(ctx, "checkout_promotion_usage_failed", map[string]any{
			"orderId": order.ID,
			"code":    order.Promotion.Code,
			"error":   err.Error(),
		})
	}
}

func (s *checkoutService) createPSPSession(ctx context.Context, cmd CreateCheckoutSessionCommand, order Order, successURL, cancelURL, idempotencyKey string) (payments.CheckoutSession, error) {
	currency := strings.ToUpper(strings.TrimSpace(order.Currency))

	paymentCtx := payments.PaymentContext{
		PreferredProvider: strings.TrimSpace(cmd.PSP),
		Currency:          currency,
		Metadata:          copyStringMap(cmd.Metadata),
	}

	req := payments.CheckoutSessionRequest{
		Amount:         order.Totals.Total,
		Currency:       currency,
		SuccessURL:     successURL,
		CancelURL:      cancelURL,
		Metadata:       s.buildPaymentMetadata(cmd.Metadata, order, idempotencyKey),
		IdempotencyKey: idempotencyKey,
		Items:          buildCheckoutLineItems(order),
		AllowPromotion: order.Promotion != nil && order.Promotion.Applied,
	}
	if locale := metadataValue(cmd.Metadata, "locale"); locale != "" {
		req.Locale = locale
	}

	session, err := s.payments.CreateCheckoutSession(ctx, paymentCtx, req)
	if err != nil {
		if errors.Is(err, payments.ErrUnsupportedProvider) {
			return payments.CheckoutSession{}, ErrCheckoutInvalidInput
		}
		s.logger(ctx, "checkout_payment_session_failed", map[string]any{
			"orderId":  order.ID,
			"provider": paymentCtx.PreferredProvider,
			"error":    err.Error(),
		})
		return payments.CheckoutSession{}, ErrCheckoutPaymentFailed
	}
	return session, nil
}

func (s *checkoutService) cancelOrder(ctx context.Context, orderID, reason string) {
	if _, err := s.orders.Cancel(ctx, CancelOrderCommand{OrderID: orderID, Reason: reason}); err != nil {
		s.logger(ctx, "checkout_order_release_failed", map[string]any{
			"orderId": orderID,
			"reason":  reason,
			"error":   err.Error(),
		})
	}
}

func (s *checkoutService) checkoutIdempotencyKey(cmd CreateCheckoutSessionCommand, order Order) string {
	if key := strings.TrimSpace(cmd.IdempotencyKey); key != "" {
		return key
	}
	if key := metadataValue(cmd.Metadata, "idempotency_key"); key != "" {
		return key
	}
	base := fmt.Sprintf("%s|%s|%d", strings.ToLower(strings.TrimSpace(cmd.PSP)), order.ID, order.Totals.Total)
	sum := sha256.Sum256([]byte(base))
	return hex.EncodeToString(sum[:])
}

func (s *checkoutService) translateCartError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrCartNotFound):
		return ErrCheckoutCartNotReady
	case errors.Is(err, ErrCartInvalidInput):
		return ErrCheckoutInvalidInput
	case errors.Is(err, ErrCartConflict):
		return ErrCheckoutConflict
	default:
		return ErrCheckoutUnavailable
	}
}

func (s *checkoutService) translatePaymentError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsConflict():
			return ErrCheckoutConflict
		case repoErr.IsUnavailable():
			return ErrCheckoutUnavailable
		}
	}
	return err
}

func validateCheckoutCart(cart domain.Cart) error {
	if len(cart.Items) == 0 {
		return ErrCheckoutCartNotReady
	}
	if cart.Quote == nil || cart.Quote.Total <= 0 {
		return ErrCheckoutCartNotReady
	}
	if cart.Promotion != nil && !cart.Promotion.Applied {
		return ErrCheckoutCartNotReady
	}
	return nil
}

// buildCheckoutLineItems maps order lines onto PSP line items. When discounts
// or the delivery fee make the line sum diverge from the charged total, a
// single aggregate line is sent instead so the PSP amount always matches.
func buildCheckoutLineItems(order Order) []payments.CheckoutLineItem {
	items := make([]payments.CheckoutLineItem, 0, len(order.Items))
	var lineTotal int64
	for _, item := range order.Items {
		if item.Quantity <= 0 || item.UnitPrice <= 0 {
			continue
		}
		name := strings.TrimSpace(item.Name)
		if name == "" {
			name = firstNonEmpty(item.ItemRef, item.LegacyKey, "Item")
		}
		items = append(items, payments.CheckoutLineItem{
			Name:     name,
			SKU:      strings.TrimSpace(item.ItemRef),
			Quantity: int64(item.Quantity),
			Amount:   item.UnitPrice,
			Currency: order.Currency,
		})
		lineTotal += item.Total
	}

	if len(items) > 0 && lineTotal == order.Totals.Total {
		return items
	}
	return []payments.CheckoutLineItem{
		{
			Name:     "Order " + order.OrderNumber,
			Quantity: 1,
			Amount:   order.Totals.Total,
			Currency: order.Currency,
		},
	}
}

func (s *checkoutService) buildPaymentMetadata(cmdMeta map[string]string, order Order, idempotencyKey string) map[string]string {
	meta := map[string]string{
		"order_id":       order.ID,
		"order_number":   order.OrderNumber,
		"user_id":        order.UserID,
		"idempotencyKey": idempotencyKey,
	}
	if order.Reward != nil {
		meta["reward_id"] = order.Reward.RewardID
	}
	if order.Promotion != nil && order.Promotion.Applied {
		meta["promotion_code"] = order.Promotion.Code
	}
	for k, v := range cmdMeta {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		meta[k] = v
	}
	return meta
}

func checkoutCommandMetadata(meta map[string]string) map[string]any {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func metadataValue(meta map[string]string, key string) string {
	if len(meta) == 0 {
		return ""
	}
	return strings.TrimSpace(meta[key])
}

func copyStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	return maps.Clone(values)
}
