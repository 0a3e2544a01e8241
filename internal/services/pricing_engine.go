package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	// ErrCartPricingInvalidInput signals bad request data such as non-positive quantities or negative prices.
	ErrCartPricingInvalidInput = errors.New("cart pricing: invalid input")
	// ErrCartPricingCurrencyMismatch is returned when items use multiple currencies.
	ErrCartPricingCurrencyMismatch = errors.New("cart pricing: currency mismatch")
)

// DeliveryFeeConfig holds the store's flat-fee rule. Amounts are minor units.
// Subtotals at or above FreeThreshold ship free; everything else pays FlatFee.
type DeliveryFeeConfig struct {
	FlatFee       int64
	FreeThreshold int64
}

// CartPricingEngine turns a cart into an exact quote. All arithmetic stays in
// integer minor units; the two-decimal rendering happens once, at the display
// boundary.
type CartPricingEngine struct {
	promotion PromotionService
	delivery  DeliveryFeeConfig
	now       func() time.Time
	logger    func(context.Context, string, map[string]any)
}

type CartPricingEngineDeps struct {
	Promotion PromotionService
	Delivery  DeliveryFeeConfig
	Now       func() time.Time
	Logger    func(context.Context, string, map[string]any)
}

func NewCartPricingEngine(deps CartPricingEngineDeps) (*CartPricingEngine, error) {
	if deps.Promotion == nil {
		return nil, errors.New("cart pricing engine: promotion service is required")
	}
	if deps.Delivery.FlatFee < 0 {
		return nil, fmt.Errorf("cart pricing engine: flat delivery fee cannot be negative")
	}
	if deps.Delivery.FreeThreshold < 0 {
		return nil, fmt.Errorf("cart pricing engine: free-delivery threshold cannot be negative")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &CartPricingEngine{
		promotion: deps.Promotion,
		delivery:  deps.Delivery,
		now: func() time.Time {
			return now().UTC()
		},
		logger: logger,
	}, nil
}

type QuoteCartCommand struct {
	Cart          Cart
	PromotionCode *string
}

type QuoteCartResult struct {
	Quote     CartQuote
	Currency  string
	Discounts []DiscountBreakdown
}

// DiscountBreakdown describes one contribution to the quote's discount total.
type DiscountBreakdown struct {
	Type        string
	Code        string
	Source      string
	Description string
	Amount      int64
}

// Quote computes subtotal, delivery fee, discount, and total for the cart.
// The identity total == subtotal - discount + deliveryFee holds exactly: the
// whole computation runs in minor units, so there is nothing to round twice.
func (e *CartPricingEngine) Quote(ctx context.Context, cmd QuoteCartCommand) (QuoteCartResult, error) {
	if err := e.validateCartInput(cmd); err != nil {
		return QuoteCartResult{}, err
	}

	cart := cmd.Cart
	currency, err := ensureSingleCurrency(cart)
	if err != nil {
		return QuoteCartResult{}, err
	}

	var subtotal int64
	for _, item := range cart.Items {
		quantity := int64(item.Quantity)
		if item.UnitPrice > 0 && quantity > 0 {
			if item.UnitPrice > math.MaxInt64/quantity {
				return QuoteCartResult{}, fmt.Errorf("%w: item %s subtotal overflow", ErrCartPricingInvalidInput, item.ID)
			}
		}
		lineSubtotal := item.UnitPrice * quantity
		if lineSubtotal > 0 && subtotal > math.MaxInt64-lineSubtotal {
			return QuoteCartResult{}, fmt.Errorf("%w: cart subtotal overflow", ErrCartPricingInvalidInput)
		}
		subtotal += lineSubtotal
	}

	discounts := make([]DiscountBreakdown, 0, 2)
	var discount int64

	if cart.Reward != nil {
		value := cart.Reward.Value
		if value < 0 {
			return QuoteCartResult{}, fmt.Errorf("%w: reward %s has negative value", ErrCartPricingInvalidInput, cart.Reward.RewardID)
		}
		discount += value
		discounts = append(discounts, DiscountBreakdown{
			Type:        "reward",
			Code:        cart.Reward.RewardID,
			Source:      "loyalty",
			Description: cart.Reward.Label,
			Amount:      value,
		})
	}

	promotionCode := resolvePromotionCode(cart, cmd.PromotionCode)
	promoDiscount, promoBreakdown, applied, err := e.applyPromotion(ctx, cart, promotionCode)
	if err != nil {
		return QuoteCartResult{}, err
	}
	if applied {
		discount += promoDiscount
		discounts = append(discounts, promoBreakdown)
	}

	// A discount can never drive the goods total below zero.
	if discount > subtotal {
		e.logger(ctx, "pricing_discount_clamped", map[string]any{
			"cartId":   cart.ID,
			"subtotal": subtotal,
			"discount": discount,
		})
		discount = subtotal
	}

	deliveryFee := e.deliveryFee(subtotal, len(cart.Items))

	total := subtotal - discount + deliveryFee
	if total < 0 {
		total = 0
	}

	return QuoteCartResult{
		Quote: CartQuote{
			Subtotal:    subtotal,
			Discount:    discount,
			DeliveryFee: deliveryFee,
			Total:       total,
		},
		Currency:  currency,
		Discounts: discounts,
	}, nil
}

// deliveryFee applies the flat-fee rule. An empty cart carries no fee: there
// is nothing to deliver, so the threshold comparison never runs.
func (e *CartPricingEngine) deliveryFee(subtotal int64, lineCount int) int64 {
	if lineCount == 0 {
		return 0
	}
	if subtotal >= e.delivery.FreeThreshold {
		return 0
	}
	return e.delivery.FlatFee
}

func (e *CartPricingEngine) validateCartInput(cmd QuoteCartCommand) error {
	cartCurrency := strings.TrimSpace(cmd.Cart.Currency)
	if len(cmd.Cart.Items) == 0 {
		if cartCurrency == "" {
			return fmt.Errorf("%w: cart currency required when no items provided", ErrCartPricingInvalidInput)
		}
		return nil
	}

	for _, item := range cmd.Cart.Items {
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: item %s quantity must be positive", ErrCartPricingInvalidInput, item.ID)
		}
		if item.UnitPrice < 0 {
			return fmt.Errorf("%w: item %s unit price cannot be negative", ErrCartPricingInvalidInput, item.ID)
		}
		if strings.TrimSpace(item.Currency) == "" && cartCurrency == "" {
			return fmt.Errorf("%w: item %s currency missing", ErrCartPricingInvalidInput, item.ID)
		}
		if cartCurrency == "" {
			cartCurrency = strings.TrimSpace(item.Currency)
		}
	}
	return nil
}

func ensureSingleCurrency(cart Cart) (string, error) {
	base := strings.ToUpper(strings.TrimSpace(cart.Currency))
	if base == "" {
		if len(cart.Items) == 0 {
			return "", ErrCartPricingCurrencyMismatch
		}
		base = strings.ToUpper(strings.TrimSpace(cart.Items[0].Currency))
		if base == "" {
			return "", ErrCartPricingCurrencyMismatch
		}
	}
	for _, item := range cart.Items {
		itemCurrency := strings.ToUpper(strings.TrimSpace(item.Currency))
		if itemCurrency == "" {
			itemCurrency = base
		}
		if itemCurrency != base {
			return "", ErrCartPricingCurrencyMismatch
		}
	}
	return base, nil
}

func resolvePromotionCode(cart Cart, override *string) *string {
	if override != nil {
		trimmed := strings.TrimSpace(*override)
		if trimmed == "" {
			return nil
		}
		return stringPtr(strings.ToUpper(trimmed))
	}
	if cart.Promotion != nil {
		trimmed := strings.TrimSpace(cart.Promotion.Code)
		if trimmed == "" {
			return nil
		}
		return stringPtr(strings.ToUpper(trimmed))
	}
	return nil
}

func (e *CartPricingEngine) applyPromotion(ctx context.Context, cart Cart, promoCode *string) (int64, DiscountBreakdown, bool, error) {
	if promoCode == nil {
		return 0, DiscountBreakdown{}, false, nil
	}
	cmd := ValidatePromotionCommand{Code: *promoCode}
	if cart.UserID != "" {
		cmd.UserID = &cart.UserID
	}
	if cart.ID != "" {
		cmd.CartID = &cart.ID
	}

	result, err := e.promotion.ValidatePromotion(ctx, cmd)
	if err != nil {
		return 0, DiscountBreakdown{}, false, err
	}
	if !result.Eligible {
		return 0, DiscountBreakdown{}, false, nil
	}

	discount := result.DiscountAmount
	if discount < 0 {
		discount = 0
	}
	breakdown := DiscountBreakdown{
		Type:        "promotion",
		Code:        result.Code,
		Source:      "promotion_service",
		Description: result.Reason,
		Amount:      discount,
	}
	return discount, breakdown, true, nil
}

func stringPtr(value string) *string {
	v := value
	return &v
}
