package services

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

type fakePromotionService struct {
	results map[string]PromotionValidationResult
	err     error
	calls   int
}

func (f *fakePromotionService) ValidatePromotion(ctx context.Context, cmd ValidatePromotionCommand) (PromotionValidationResult, error) {
	f.calls++
	if f.err != nil {
		return PromotionValidationResult{}, f.err
	}
	if result, ok := f.results[cmd.Code]; ok {
		return result, nil
	}
	return PromotionValidationResult{Code: cmd.Code, Eligible: false, Reason: "unknown code"}, nil
}

func (f *fakePromotionService) GetPromotionByCode(ctx context.Context, code string) (Promotion, error) {
	return Promotion{}, errors.New("not implemented")
}

func (f *fakePromotionService) RecordUsage(ctx context.Context, cmd RecordPromotionUsageCommand) error {
	return nil
}

func newTestPricingEngine(t *testing.T, promo PromotionService, delivery DeliveryFeeConfig) *CartPricingEngine {
	t.Helper()
	if promo == nil {
		promo = &fakePromotionService{}
	}
	engine, err := NewCartPricingEngine(CartPricingEngineDeps{
		Promotion: promo,
		Delivery:  delivery,
		Now:       func() time.Time { return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewCartPricingEngine error: %v", err)
	}
	return engine
}

func TestCartPricingEngine_FreeDeliveryAboveThreshold(t *testing.T) {
	engine := newTestPricingEngine(t, nil, DeliveryFeeConfig{FlatFee: 50, FreeThreshold: 500})

	cart := Cart{
		ID:       "cart_1",
		Currency: "JPY",
		Items: []CartItem{
			{ID: "line_1", ItemID: "menu_espresso", Quantity: 1, UnitPrice: 330, Currency: "JPY"},
			{ID: "line_2", ItemID: "menu_sandwich", Quantity: 1, UnitPrice: 650, Currency: "JPY"},
			{ID: "line_3", ItemID: "menu_cake", Quantity: 1, UnitPrice: 450, Currency: "JPY"},
		},
	}

	result, err := engine.Quote(context.Background(), QuoteCartCommand{Cart: cart})
	if err != nil {
		t.Fatalf("Quote error: %v", err)
	}

	want := CartQuote{Subtotal: 1430, Discount: 0, DeliveryFee: 0, Total: 1430}
	if result.Quote != want {
		t.Fatalf("quote mismatch: want %+v, got %+v", want, result.Quote)
	}
}

func TestCartPricingEngine_FlatFeeBelowThreshold(t *testing.T) {
	engine := newTestPricingEngine(t, nil, DeliveryFeeConfig{FlatFee: 50, FreeThreshold: 500})

	cart := Cart{
		ID:       "cart_2",
		Currency: "JPY",
		Items: []CartItem{
			{ID: "line_1", ItemID: "menu_cookie", Quantity: 1, UnitPrice: 50, Currency: "JPY"},
		},
	}

	result, err := engine.Quote(context.Background(), QuoteCartCommand{Cart: cart})
	if err != nil {
		t.Fatalf("Quote error: %v", err)
	}

	want := CartQuote{Subtotal: 50, Discount: 0, DeliveryFee: 50, Total: 100}
	if result.Quote != want {
		t.Fatalf("quote mismatch: want %+v, got %+v", want, result.Quote)
	}
}

func TestCartPricingEngine_ThresholdIsInclusive(t *testing.T) {
	engine := newTestPricingEngine(t, nil, DeliveryFeeConfig{FlatFee: 50, FreeThreshold: 500})

	cart := Cart{
		Currency: "JPY",
		Items:    []CartItem{{ID: "line_1", Quantity: 1, UnitPrice: 500, Currency: "JPY"}},
	}

	result, err := engine.Quote(context.Background(), QuoteCartCommand{Cart: cart})
	if err != nil {
		t.Fatalf("Quote error: %v", err)
	}
	if result.Quote.DeliveryFee != 0 {
		t.Fatalf("subtotal at threshold should ship free, got fee %d", result.Quote.DeliveryFee)
	}
}

func TestCartPricingEngine_EmptyCart(t *testing.T) {
	engine := newTestPricingEngine(t, nil, DeliveryFeeConfig{FlatFee: 50, FreeThreshold: 500})

	result, err := engine.Quote(context.Background(), QuoteCartCommand{Cart: Cart{Currency: "JPY"}})
	if err != nil {
		t.Fatalf("Quote error: %v", err)
	}

	want := CartQuote{}
	if result.Quote != want {
		t.Fatalf("empty cart should quote all zeros, got %+v", result.Quote)
	}
}

func TestCartPricingEngine_DiscountClampedToSubtotal(t *testing.T) {
	promo := &fakePromotionService{
		results: map[string]PromotionValidationResult{
			"BIGDEAL": {Code: "BIGDEAL", Eligible: true, DiscountAmount: 9999, Reason: "launch"},
		},
	}
	engine := newTestPricingEngine(t, promo, DeliveryFeeConfig{FlatFee: 50, FreeThreshold: 500})

	code := "bigdeal"
	cart := Cart{
		ID:       "cart_3",
		UserID:   "user_1",
		Currency: "JPY",
		Items:    []CartItem{{ID: "line_1", Quantity: 1, UnitPrice: 300, Currency: "JPY"}},
	}

	result, err := engine.Quote(context.Background(), QuoteCartCommand{Cart: cart, PromotionCode: &code})
	if err != nil {
		t.Fatalf("Quote error: %v", err)
	}

	if result.Quote.Discount != 300 {
		t.Fatalf("discount should clamp to subtotal 300, got %d", result.Quote.Discount)
	}
	if result.Quote.Total != 50 {
		t.Fatalf("total should be delivery fee only after full discount, got %d", result.Quote.Total)
	}
	if result.Quote.Total < 0 {
		t.Fatalf("total must never be negative, got %d", result.Quote.Total)
	}
}

func TestCartPricingEngine_RewardAndPromotionStack(t *testing.T) {
	promo := &fakePromotionService{
		results: map[string]PromotionValidationResult{
			"SPRING": {Code: "SPRING", Eligible: true, DiscountAmount: 200, Reason: "spring"},
		},
	}
	engine := newTestPricingEngine(t, promo, DeliveryFeeConfig{FlatFee: 50, FreeThreshold: 5000})

	cart := Cart{
		ID:       "cart_4",
		UserID:   "user_1",
		Currency: "JPY",
		Items: []CartItem{
			{ID: "line_1", Quantity: 2, UnitPrice: 600, Currency: "JPY"},
		},
		Reward:    &RewardSelection{RewardID: "rw_free_drink", Label: "Free drink", PointCost: 300, Value: 330},
		Promotion: &CartPromotion{Code: "SPRING"},
	}

	result, err := engine.Quote(context.Background(), QuoteCartCommand{Cart: cart})
	if err != nil {
		t.Fatalf("Quote error: %v", err)
	}

	want := CartQuote{Subtotal: 1200, Discount: 530, DeliveryFee: 50, Total: 720}
	if result.Quote != want {
		t.Fatalf("quote mismatch: want %+v, got %+v", want, result.Quote)
	}
	if len(result.Discounts) != 2 {
		t.Fatalf("expected reward and promotion breakdowns, got %d", len(result.Discounts))
	}
}

func TestCartPricingEngine_IneligiblePromotionIgnored(t *testing.T) {
	promo := &fakePromotionService{
		results: map[string]PromotionValidationResult{
			"EXPIRED": {Code: "EXPIRED", Eligible: false, Reason: "expired"},
		},
	}
	engine := newTestPricingEngine(t, promo, DeliveryFeeConfig{FlatFee: 50, FreeThreshold: 500})

	code := "expired"
	cart := Cart{
		Currency: "JPY",
		Items:    []CartItem{{ID: "line_1", Quantity: 1, UnitPrice: 800, Currency: "JPY"}},
	}

	result, err := engine.Quote(context.Background(), QuoteCartCommand{Cart: cart, PromotionCode: &code})
	if err != nil {
		t.Fatalf("Quote error: %v", err)
	}
	if result.Quote.Discount != 0 {
		t.Fatalf("ineligible promotion must not discount, got %d", result.Quote.Discount)
	}
	if len(result.Discounts) != 0 {
		t.Fatalf("expected no discount breakdowns, got %d", len(result.Discounts))
	}
}

func TestCartPricingEngine_Idempotent(t *testing.T) {
	engine := newTestPricingEngine(t, nil, DeliveryFeeConfig{FlatFee: 50, FreeThreshold: 500})

	cart := Cart{
		Currency: "JPY",
		Items: []CartItem{
			{ID: "line_1", Quantity: 2, UnitPrice: 19999, Currency: "JPY"},
			{ID: "line_2", Quantity: 1, UnitPrice: 4999, Currency: "JPY"},
		},
	}

	first, err := engine.Quote(context.Background(), QuoteCartCommand{Cart: cart})
	if err != nil {
		t.Fatalf("first Quote error: %v", err)
	}
	second, err := engine.Quote(context.Background(), QuoteCartCommand{Cart: cart})
	if err != nil {
		t.Fatalf("second Quote error: %v", err)
	}

	if first.Quote != second.Quote {
		t.Fatalf("identical inputs must quote identically: %+v vs %+v", first.Quote, second.Quote)
	}
	if first.Quote.Subtotal != 44997 {
		t.Fatalf("minor-unit arithmetic must be exact, got subtotal %d", first.Quote.Subtotal)
	}
}

func TestCartPricingEngine_IdentityHolds(t *testing.T) {
	promo := &fakePromotionService{
		results: map[string]PromotionValidationResult{
			"TEN": {Code: "TEN", Eligible: true, DiscountAmount: 10, Reason: "ten off"},
		},
	}
	engine := newTestPricingEngine(t, promo, DeliveryFeeConfig{FlatFee: 90, FreeThreshold: 1000})

	code := "ten"
	cases := []struct {
		name  string
		items []CartItem
	}{
		{name: "below threshold", items: []CartItem{{ID: "a", Quantity: 3, UnitPrice: 120, Currency: "JPY"}}},
		{name: "above threshold", items: []CartItem{{ID: "a", Quantity: 2, UnitPrice: 700, Currency: "JPY"}}},
		{name: "many lines", items: []CartItem{
			{ID: "a", Quantity: 1, UnitPrice: 330, Currency: "JPY"},
			{ID: "b", Quantity: 4, UnitPrice: 75, Currency: "JPY"},
			{ID: "c", Quantity: 2, UnitPrice: 210, Currency: "JPY"},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := engine.Quote(context.Background(), QuoteCartCommand{
				Cart:          Cart{Currency: "JPY", Items: tc.items},
				PromotionCode: &code,
			})
			if err != nil {
				t.Fatalf("Quote error: %v", err)
			}
			q := result.Quote
			if q.Total != q.Subtotal-q.Discount+q.DeliveryFee {
				t.Fatalf("identity broken: %+v", q)
			}
		})
	}
}

func TestCartPricingEngine_RejectsInvalidInput(t *testing.T) {
	engine := newTestPricingEngine(t, nil, DeliveryFeeConfig{FlatFee: 50, FreeThreshold: 500})
	ctx := context.Background()

	cases := []struct {
		name string
		cart Cart
	}{
		{
			name: "zero quantity",
			cart: Cart{Currency: "JPY", Items: []CartItem{{ID: "a", Quantity: 0, UnitPrice: 100, Currency: "JPY"}}},
		},
		{
			name: "negative quantity",
			cart: Cart{Currency: "JPY", Items: []CartItem{{ID: "a", Quantity: -1, UnitPrice: 100, Currency: "JPY"}}},
		},
		{
			name: "negative unit price",
			cart: Cart{Currency: "JPY", Items: []CartItem{{ID: "a", Quantity: 1, UnitPrice: -100, Currency: "JPY"}}},
		},
		{
			name: "empty cart without currency",
			cart: Cart{},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engine.Quote(ctx, QuoteCartCommand{Cart: tc.cart})
			if !errors.Is(err, ErrCartPricingInvalidInput) {
				t.Fatalf("expected ErrCartPricingInvalidInput, got %v", err)
			}
		})
	}
}

func TestCartPricingEngine_CurrencyMismatch(t *testing.T) {
	engine := newTestPricingEngine(t, nil, DeliveryFeeConfig{FlatFee: 50, FreeThreshold: 500})

	cart := Cart{
		Currency: "JPY",
		Items: []CartItem{
			{ID: "a", Quantity: 1, UnitPrice: 100, Currency: "JPY"},
			{ID: "b", Quantity: 1, UnitPrice: 100, Currency: "USD"},
		},
	}

	_, err := engine.Quote(context.Background(), QuoteCartCommand{Cart: cart})
	if !errors.Is(err, ErrCartPricingCurrencyMismatch) {
		t.Fatalf("expected ErrCartPricingCurrencyMismatch, got %v", err)
	}
}

func TestCartPricingEngine_SubtotalOverflowGuard(t *testing.T) {
	engine := newTestPricingEngine(t, nil, DeliveryFeeConfig{FlatFee: 50, FreeThreshold: 500})

	cart := Cart{
		Currency: "JPY",
		Items:    []CartItem{{ID: "a", Quantity: 3, UnitPrice: math.MaxInt64 / 2, Currency: "JPY"}},
	}

	_, err := engine.Quote(context.Background(), QuoteCartCommand{Cart: cart})
	if !errors.Is(err, ErrCartPricingInvalidInput) {
		t.Fatalf("expected overflow rejection, got %v", err)
	}
}
