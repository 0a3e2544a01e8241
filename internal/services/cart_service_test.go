package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	domain "github.com/star-cafe/api/internal/domain"
	"github.com/star-cafe/api/internal/repositories"
)

type fakeCartRepository struct {
	carts      map[string]domain.Cart
	upsertErr  error
	getErr     error
	replaceErr error
}

func newFakeCartRepository() *fakeCartRepository {
	return &fakeCartRepository{carts: map[string]domain.Cart{}}
}

func (f *fakeCartRepository) UpsertCart(_ context.Context, cart domain.Cart) (domain.Cart, error) {
	if f.upsertErr != nil {
		return domain.Cart{}, f.upsertErr
	}
	f.carts[cart.UserID] = cart
	return cart, nil
}

func (f *fakeCartRepository) GetCart(_ context.Context, userID string) (domain.Cart, error) {
	if f.getErr != nil {
		return domain.Cart{}, f.getErr
	}
	cart, ok := f.carts[userID]
	if !ok {
		return domain.Cart{}, &fakeRepoError{notFound: true}
	}
	return cart, nil
}

func (f *fakeCartRepository) ReplaceItems(_ context.Context, userID string, items []domain.CartItem) (domain.Cart, error) {
	if f.replaceErr != nil {
		return domain.Cart{}, f.replaceErr
	}
	cart, ok := f.carts[userID]
	if !ok {
		cart = domain.Cart{ID: "crt_" + userID, UserID: userID, Currency: "JPY"}
	}
	cart.Items = items
	f.carts[userID] = cart
	return cart, nil
}

type fakeSavedItemRepository struct {
	items  map[string]domain.SavedItem
	putErr error
}

func newFakeSavedItemRepository() *fakeSavedItemRepository {
	return &fakeSavedItemRepository{items: map[string]domain.SavedItem{}}
}

func (f *fakeSavedItemRepository) Put(_ context.Context, item domain.SavedItem) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.items[item.ID] = item
	return nil
}

func (f *fakeSavedItemRepository) Get(_ context.Context, userID string, savedItemID string) (domain.SavedItem, error) {
	item, ok := f.items[savedItemID]
	if !ok || item.UserID != userID {
		return domain.SavedItem{}, &fakeRepoError{notFound: true}
	}
	return item, nil
}

func (f *fakeSavedItemRepository) Delete(_ context.Context, userID string, savedItemID string) error {
	item, ok := f.items[savedItemID]
	if !ok || item.UserID != userID {
		return &fakeRepoError{notFound: true}
	}
	delete(f.items, savedItemID)
	return nil
}

func (f *fakeSavedItemRepository) ListByUser(_ context.Context, userID string) ([]domain.SavedItem, error) {
	var out []domain.SavedItem
	for _, item := range f.items {
		if item.UserID == userID {
			out = append(out, item)
		}
	}
	return out, nil
}

type stubMenuFinder struct {
	items map[string]MenuItem
	err   error
}

func (s *stubMenuFinder) GetItem(_ context.Context, ref MenuItemRef) (MenuItem, error) {
	if s.err != nil {
		return MenuItem{}, s.err
	}
	if item, ok := s.items[ref.ID]; ok {
		return item, nil
	}
	for _, item := range s.items {
		if ref.LegacyKey != "" && item.LegacyKey == ref.LegacyKey {
			return item, nil
		}
	}
	return MenuItem{}, ErrMenuItemNotFound
}

type stubRewardCatalog struct {
	account    LoyaltyAccount
	accountErr error
	rewards    []Reward
	rewardsErr error
}

func (s *stubRewardCatalog) GetAccount(context.Context, string) (LoyaltyAccount, error) {
	if s.accountErr != nil {
		return LoyaltyAccount{}, s.accountErr
	}
	return s.account, nil
}

func (s *stubRewardCatalog) ListRewards(context.Context) ([]Reward, error) {
	if s.rewardsErr != nil {
		return nil, s.rewardsErr
	}
	return s.rewards, nil
}

type stubPromotionValidator struct {
	PromotionService
	result domain.PromotionValidationResult
	err    error
}

func (s *stubPromotionValidator) ValidatePromotion(context.Context, ValidatePromotionCommand) (PromotionValidationResult, error) {
	if s.err != nil {
		return PromotionValidationResult{}, s.err
	}
	return s.result, nil
}

// sumQuoter quotes subtotal only, enough to assert quotes are refreshed on
// every mutation without dragging the full engine into cart tests.
type sumQuoter struct {
	calls int
	err   error
}

func (q *sumQuoter) Quote(_ context.Context, cmd QuoteCartCommand) (QuoteCartResult, error) {
	q.calls++
	if q.err != nil {
		return QuoteCartResult{}, q.err
	}
	var subtotal int64
	for _, item := range cmd.Cart.Items {
		subtotal += item.UnitPrice * int64(item.Quantity)
	}
	var discount int64
	if cmd.Cart.Promotion != nil && cmd.Cart.Promotion.Applied {
		discount = cmd.Cart.Promotion.DiscountAmount
	}
	return QuoteCartResult{
		Quote:    domain.CartQuote{Subtotal: subtotal, Discount: discount, Total: subtotal - discount},
		Currency: cmd.Cart.Currency,
	}, nil
}

func testCartClock() time.Time {
	return time.Date(2025, 6, 10, 9, 30, 0, 0, time.UTC)
}

type cartServiceFixture struct {
	repo   *fakeCartRepository
	saved  *fakeSavedItemRepository
	menu   *stubMenuFinder
	quoter *sumQuoter
	deps   CartServiceDeps
}

func newCartServiceFixture() *cartServiceFixture {
	repo := newFakeCartRepository()
	saved := newFakeSavedItemRepository()
	menu := &stubMenuFinder{items: map[string]MenuItem{
		"itm_latte": {
			ID:          "itm_latte",
			LegacyKey:   "drink-latte",
			Name:        "Caffe Latte",
			Category:    "drinks",
			Price:       480,
			Currency:    "JPY",
			IsAvailable: true,
		},
		"itm_scone": {
			ID:          "itm_scone",
			Name:        "Butter Scone",
			Category:    "bakery",
			Price:       320,
			Currency:    "JPY",
			IsAvailable: true,
		},
		"itm_retired": {
			ID:          "itm_retired",
			Name:        "Seasonal Blend",
			Price:       520,
			Currency:    "JPY",
			IsAvailable: false,
		},
	}}
	quoter := &sumQuoter{}

	seq := 0
	return &cartServiceFixture{
		repo:   repo,
		saved:  saved,
		menu:   menu,
		quoter: quoter,
		deps: CartServiceDeps{
			Repository:      repo,
			SavedItems:      saved,
			Menu:            menu,
			Quoter:          quoter,
			Clock:           testCartClock,
			DefaultCurrency: "JPY",
			IDGenerator: func() string {
				seq++
				return fmt.Sprintf("id_%03d", seq)
			},
		},
	}
}

func (f *cartServiceFixture) service(t *testing.T) CartService {
	t.Helper()
	svc, err := NewCartService(f.deps)
	if err != nil {
		t.Fatalf("new cart service: %v", err)
	}
	return svc
}

func TestCartServiceGetOrCreateCartCreatesWhenMissing(t *testing.T) {
	fx := newCartServiceFixture()
	svc := fx.service(t)

	cart, err := svc.GetOrCreateCart(context.Background(), "user_1")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if cart.UserID != "user_1" {
		t.Fatalf("expected user_1, got %s", cart.UserID)
	}
	if cart.Currency != "JPY" {
		t.Fatalf("expected default currency JPY, got %s", cart.Currency)
	}
	if cart.Quote == nil {
		t.Fatalf("expected a quote on the returned cart")
	}
	if len(fx.repo.carts) != 1 {
		t.Fatalf("expected cart persisted, got %d", len(fx.repo.carts))
	}
}

func TestCartServiceAddItemPricesFromCatalog(t *testing.T) {
	fx := newCartServiceFixture()
	svc := fx.service(t)

	cart, err := svc.AddItem(context.Background(), AddCartItemCommand{
		UserID:   "user_1",
		ItemID:   "itm_latte",
		Quantity: 2,
	})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	if len(cart.Items) != 1 {
		t.Fatalf("expected 1 line, got %d", len(cart.Items))
	}
	line := cart.Items[0]
	if line.UnitPrice != 480 {
		t.Fatalf("expected catalog price 480, got %d", line.UnitPrice)
	}
	if line.Quantity != 2 {
		t.Fatalf("expected quantity 2, got %d", line.Quantity)
	}
	if line.LegacyKey != "drink-latte" {
		t.Fatalf("expected legacy key snapshot, got %q", line.LegacyKey)
	}
	if cart.Quote == nil || cart.Quote.Subtotal != 960 {
		t.Fatalf("expected quote subtotal 960, got %+v", cart.Quote)
	}
}

func TestCartServiceAddItemResolvesLegacyKey(t *testing.T) {
	fx := newCartServiceFixture()
	svc := fx.service(t)

	cart, err := svc.AddItem(context.Background(), AddCartItemCommand{
		UserID:    "user_1",
		LegacyKey: "drink-latte",
		Quantity:  1,
	})
	if err != nil {
		t.Fatalf("add item by legacy key: %v", err)
	}
	if cart.Items[0].ItemID != "itm_latte" {
		t.Fatalf("expected current item id, got %s", cart.Items[0].ItemID)
	}
}

func TestCartServiceAddItemMergesMatchingLine(t *testing.T) {
	fx := newCartServiceFixture()
	svc := fx.service(t)
	ctx := context.Background()

	if _, err := svc.AddItem(ctx, AddCartItemCommand{UserID: "user_1", ItemID: "itm_latte", Quantity: 1}); err != nil {
		t.Fatalf("first add: %v", err)
	}

	// Price changes between the two adds; the merged line takes the new one.
	item := fx.menu.items["itm_latte"]
	item.Price = 500
	fx.menu.items["itm_latte"] = item

	cart, err := svc.AddItem(ctx, AddCartItemCommand{UserID: "user_1", ItemID: "itm_latte", Quantity: 2})
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if len(cart.Items) != 1 {
		t.Fatalf("expected lines merged, got %d", len(cart.Items))
	}
	if cart.Items[0].Quantity != 3 {
		t.Fatalf("expected quantity 3, got %d", cart.Items[0].Quantity)
	}
	if cart.Items[0].UnitPrice != 500 {
		t.Fatalf("expected refreshed price 500, got %d", cart.Items[0].UnitPrice)
	}
}

func TestCartServiceAddItemDistinctNotesKeepSeparateLines(t *testing.T) {
	fx := newCartServiceFixture()
	svc := fx.service(t)
	ctx := context.Background()

	if _, err := svc.AddItem(ctx, AddCartItemCommand{UserID: "user_1", ItemID: "itm_latte", Quantity: 1, Notes: "extra hot"}); err != nil {
		t.Fatalf("first add: %v", err)
	}
	cart, err := svc.AddItem(ctx, AddCartItemCommand{UserID: "user_1", ItemID: "itm_latte", Quantity: 1, Notes: "oat milk"})
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if len(cart.Items) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(cart.Items))
	}
}

func TestCartServiceAddItemValidation(t *testing.T) {
	fx := newCartServiceFixture()
	svc := fx.service(t)
	ctx := context.Background()

	cases := []struct {
		name string
		cmd  AddCartItemCommand
	}{
		{name: "missing user", cmd: AddCartItemCommand{ItemID: "itm_latte", Quantity: 1}},
		{name: "zero quantity", cmd: AddCartItemCommand{UserID: "user_1", ItemID: "itm_latte"}},
		{name: "negative quantity", cmd: AddCartItemCommand{UserID: "user_1", ItemID: "itm_latte", Quantity: -1}},
		{name: "missing reference", cmd: AddCartItemCommand{UserID: "user_1", Quantity: 1}},
		{name: "unknown item", cmd: AddCartItemCommand{UserID: "user_1", ItemID: "itm_missing", Quantity: 1}},
		{name: "unavailable item", cmd: AddCartItemCommand{UserID: "user_1", ItemID: "itm_retired", Quantity: 1}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.AddItem(ctx, tc.cmd); !errors.Is(err, ErrCartInvalidInput) {
				t.Fatalf("expected ErrCartInvalidInput, got %v", err)
			}
		})
	}
}

func TestCartServiceAddItemRejectsCurrencyMismatch(t *testing.T) {
	fx := newCartServiceFixture()
	fx.menu.items["itm_import"] = MenuItem{
		ID:          "itm_import",
		Name:        "Imported Beans",
		Price:       1200,
		Currency:    "USD",
		IsAvailable: true,
	}
	svc := fx.service(t)

	_, err := svc.AddItem(context.Background(), AddCartItemCommand{UserID: "user_1", ItemID: "itm_import", Quantity: 1})
	if !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected ErrCartInvalidInput, got %v", err)
	}
}

func TestCartServiceAddItemSanitizesNotes(t *testing.T) {
	fx := newCartServiceFixture()
	svc := fx.service(t)

	cart, err := svc.AddItem(context.Background(), AddCartItemCommand{
		UserID:   "user_1",
		ItemID:   "itm_latte",
		Quantity: 1,
		Notes:    "<script>alert(1)</script>no whip",
	})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	if got := cart.Items[0].Notes; got != "no whip" {
		t.Fatalf("expected sanitized notes, got %q", got)
	}

	_, err = svc.AddItem(context.Background(), AddCartItemCommand{
		UserID:   "user_1",
		ItemID:   "itm_scone",
		Quantity: 1,
		Notes:    strings.Repeat("a", maxCartNotesLength+1),
	})
	if !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected notes length rejection, got %v", err)
	}
}

func TestCartServiceUpdateItemQuantityZeroRemovesLine(t *testing.T) {
	fx := newCartServiceFixture()
	svc := fx.service(t)
	ctx := context.Background()

	cart, err := svc.AddItem(ctx, AddCartItemCommand{UserID: "user_1", ItemID: "itm_latte", Quantity: 2})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	zero := 0
	updated, err := svc.UpdateItem(ctx, UpdateCartItemCommand{
		UserID:   "user_1",
		LineID:   cart.Items[0].ID,
		Quantity: &zero,
	})
	if err != nil {
		t.Fatalf("update item: %v", err)
	}
	if len(updated.Items) != 0 {
		t.Fatalf("expected line removed, got %d lines", len(updated.Items))
	}
}

func TestCartServiceUpdateItemOptimisticConflict(t *testing.T) {
	fx := newCartServiceFixture()
	svc := fx.service(t)
	ctx := context.Background()

	cart, err := svc.AddItem(ctx, AddCartItemCommand{UserID: "user_1", ItemID: "itm_latte", Quantity: 1})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}

	stale := cart.UpdatedAt.Add(-time.Minute)
	three := 3
	_, err = svc.UpdateItem(ctx, UpdateCartItemCommand{
		UserID:            "user_1",
		LineID:            cart.Items[0].ID,
		Quantity:          &three,
		ExpectedUpdatedAt: &stale,
	})
	if !errors.Is(err, ErrCartConflict) {
		t.Fatalf("expected ErrCartConflict, got %v", err)
	}
}

func TestCartServiceUpdateItemUnknownLine(t *testing.T) {
	fx := newCartServiceFixture()
	svc := fx.service(t)
	ctx := context.Background()

	if _, err := svc.AddItem(ctx, AddCartItemCommand{UserID: "user_1", ItemID: "itm_latte", Quantity: 1}); err != nil {
		t.Fatalf("add item: %v", err)
	}
	one := 1
	_, err := svc.UpdateItem(ctx, UpdateCartItemCommand{UserID: "user_1", LineID: "missing", Quantity: &one})
	if !errors.Is(err, ErrCartNotFound) {
		t.Fatalf("expected ErrCartNotFound, got %v", err)
	}
}

func TestCartServiceRemoveItem(t *testing.T) {
	fx := newCartServiceFixture()
	svc := fx.service(t)
	ctx := context.Background()

	cart, err := svc.AddItem(ctx, AddCartItemCommand{UserID: "user_1", ItemID: "itm_latte", Quantity: 1})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	updated, err := svc.RemoveItem(ctx, RemoveCartItemCommand{UserID: "user_1", LineID: cart.Items[0].ID})
	if err != nil {
		t.Fatalf("remove item: %v", err)
	}
	if len(updated.Items) != 0 {
		t.Fatalf("expected empty cart, got %d lines", len(updated.Items))
	}
	if updated.Quote == nil || updated.Quote.Total != 0 {
		t.Fatalf("expected zero total after removal, got %+v", updated.Quote)
	}
}

func TestCartServiceSaveForLaterMovesLine(t *testing.T) {
	fx := newCartServiceFixture()
	svc := fx.service(t)
	ctx := context.Background()

	cart, err := svc.AddItem(ctx, AddCartItemCommand{UserID: "user_1", ItemID: "itm_latte", Quantity: 2, Notes: "oat milk"})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	lineID := cart.Items[0].ID

	updated, err := svc.SaveForLater(ctx, SaveForLaterCommand{UserID: "user_1", LineID: lineID})
	if err != nil {
		t.Fatalf("save for later: %v", err)
	}
	if len(updated.Items) != 0 {
		t.Fatalf("expected line moved out of cart, got %d lines", len(updated.Items))
	}

	saved, ok := fx.saved.items[lineID]
	if !ok {
		t.Fatalf("expected saved item keyed by line id")
	}
	if saved.Quantity != 2 || saved.Notes != "oat milk" {
		t.Fatalf("expected line snapshot preserved, got %+v", saved)
	}
	if !saved.SavedAt.Equal(testCartClock()) {
		t.Fatalf("expected saved at fixed clock, got %v", saved.SavedAt)
	}
}

func TestCartServiceRestoreSavedItemRepricesFromCatalog(t *testing.T) {
	fx := newCartServiceFixture()
	svc := fx.service(t)
	ctx := context.Background()

	fx.saved.items["sv_1"] = domain.SavedItem{
		ID:        "sv_1",
		UserID:    "user_1",
		ItemID:    "itm_latte",
		Name:      "Caffe Latte",
		Quantity:  1,
		UnitPrice: 400, // stale price from when the line was parked
		Currency:  "JPY",
	}

	cart, err := svc.RestoreSavedItem(ctx, RestoreSavedItemCommand{UserID: "user_1", SavedItemID: "sv_1"})
	if err != nil {
		t.Fatalf("restore saved item: %v", err)
	}
	if len(cart.Items) != 1 {
		t.Fatalf("expected 1 line, got %d", len(cart.Items))
	}
	if cart.Items[0].UnitPrice != 480 {
		t.Fatalf("expected current catalog price 480, got %d", cart.Items[0].UnitPrice)
	}
	if _, ok := fx.saved.items["sv_1"]; ok {
		t.Fatalf("expected saved item removed after restore")
	}
}

func TestCartServiceRestoreSavedItemNotFound(t *testing.T) {
	fx := newCartServiceFixture()
	svc := fx.service(t)

	_, err := svc.RestoreSavedItem(context.Background(), RestoreSavedItemCommand{UserID: "user_1", SavedItemID: "missing"})
	if !errors.Is(err, ErrCartNotFound) {
		t.Fatalf("expected ErrCartNotFound, got %v", err)
	}
}

func TestCartServiceApplyRewardChecksBalance(t *testing.T) {
	fx := newCartServiceFixture()
	catalog := &stubRewardCatalog{
		account: LoyaltyAccount{UserID: "user_1", PointBalance: 120},
		rewards: []Reward{
			{ID: "rw_cookie", Label: "Free Cookie", PointCost: 100, Value: 250},
			{ID: "rw_lunch", Label: "Lunch Set", PointCost: 500, Value: 1200},
		},
	}
	fx.deps.Loyalty = catalog
	svc := fx.service(t)
	ctx := context.Background()

	cart, err := svc.ApplyReward(ctx, ApplyRewardCommand{UserID: "user_1", RewardID: "rw_cookie"})
	if err != nil {
		t.Fatalf("apply reward: %v", err)
	}
	if cart.Reward == nil || cart.Reward.RewardID != "rw_cookie" {
		t.Fatalf("expected reward selection, got %+v", cart.Reward)
	}
	if cart.Reward.PointCost != 100 || cart.Reward.Value != 250 {
		t.Fatalf("expected reward snapshot, got %+v", cart.Reward)
	}

	if _, err := svc.ApplyReward(ctx, ApplyRewardCommand{UserID: "user_1", RewardID: "rw_lunch"}); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected insufficient points rejection, got %v", err)
	}
	if _, err := svc.ApplyReward(ctx, ApplyRewardCommand{UserID: "user_1", RewardID: "rw_unknown"}); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected unknown reward rejection, got %v", err)
	}
}

func TestCartServiceRemoveReward(t *testing.T) {
	fx := newCartServiceFixture()
	catalog := &stubRewardCatalog{
		account: LoyaltyAccount{UserID: "user_1", PointBalance: 500},
		rewards: []Reward{{ID: "rw_cookie", Label: "Free Cookie", PointCost: 100, Value: 250}},
	}
	fx.deps.Loyalty = catalog
	svc := fx.service(t)
	ctx := context.Background()

	if _, err := svc.ApplyReward(ctx, ApplyRewardCommand{UserID: "user_1", RewardID: "rw_cookie"}); err != nil {
		t.Fatalf("apply reward: %v", err)
	}
	cart, err := svc.RemoveReward(ctx, "user_1")
	if err != nil {
		t.Fatalf("remove reward: %v", err)
	}
	if cart.Reward != nil {
		t.Fatalf("expected reward cleared, got %+v", cart.Reward)
	}
}

func TestCartServiceApplyPromotion(t *testing.T) {
	fx := newCartServiceFixture()
	fx.deps.Promotions = &stubPromotionValidator{
		result: domain.PromotionValidationResult{Code: "WELCOME", Eligible: true, DiscountAmount: 300},
	}
	svc := fx.service(t)
	ctx := context.Background()

	if _, err := svc.AddItem(ctx, AddCartItemCommand{UserID: "user_1", ItemID: "itm_latte", Quantity: 2}); err != nil {
		t.Fatalf("add item: %v", err)
	}
	cart, err := svc.ApplyPromotion(ctx, CartPromotionCommand{UserID: "user_1", Code: "welcome"})
	if err != nil {
		t.Fatalf("apply promotion: %v", err)
	}
	if cart.Promotion == nil || !cart.Promotion.Applied {
		t.Fatalf("expected applied promotion, got %+v", cart.Promotion)
	}
	if cart.Promotion.Code != "WELCOME" || cart.Promotion.DiscountAmount != 300 {
		t.Fatalf("expected promotion snapshot, got %+v", cart.Promotion)
	}
	if cart.Quote == nil || cart.Quote.Discount != 300 {
		t.Fatalf("expected discount reflected in quote, got %+v", cart.Quote)
	}
}

func TestCartServiceApplyPromotionIneligible(t *testing.T) {
	fx := newCartServiceFixture()
	fx.deps.Promotions = &stubPromotionValidator{
		result: domain.PromotionValidationResult{Code: "EXPIRED", Eligible: false, Reason: "expired"},
	}
	svc := fx.service(t)

	_, err := svc.ApplyPromotion(context.Background(), CartPromotionCommand{UserID: "user_1", Code: "EXPIRED"})
	if !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected ErrCartInvalidInput, got %v", err)
	}
}

func TestCartServiceApplyPromotionUnknownCode(t *testing.T) {
	fx := newCartServiceFixture()
	fx.deps.Promotions = &stubPromotionValidator{err: ErrPromotionNotFound}
	svc := fx.service(t)

	_, err := svc.ApplyPromotion(context.Background(), CartPromotionCommand{UserID: "user_1", Code: "NOPE"})
	if !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected ErrCartInvalidInput, got %v", err)
	}
}

func TestCartServiceClearCartResetsState(t *testing.T) {
	fx := newCartServiceFixture()
	catalog := &stubRewardCatalog{
		account: LoyaltyAccount{UserID: "user_1", PointBalance: 500},
		rewards: []Reward{{ID: "rw_cookie", Label: "Free Cookie", PointCost: 100, Value: 250}},
	}
	fx.deps.Loyalty = catalog
	svc := fx.service(t)
	ctx := context.Background()

	if _, err := svc.AddItem(ctx, AddCartItemCommand{UserID: "user_1", ItemID: "itm_latte", Quantity: 1}); err != nil {
		t.Fatalf("add item: %v", err)
	}
	if _, err := svc.ApplyReward(ctx, ApplyRewardCommand{UserID: "user_1", RewardID: "rw_cookie"}); err != nil {
		t.Fatalf("apply reward: %v", err)
	}

	if err := svc.ClearCart(ctx, "user_1"); err != nil {
		t.Fatalf("clear cart: %v", err)
	}

	stored := fx.repo.carts["user_1"]
	if len(stored.Items) != 0 || stored.Reward != nil || stored.Promotion != nil || stored.Quote != nil {
		t.Fatalf("expected cart fully cleared, got %+v", stored)
	}
}

func TestCartServiceClearCartMissingIsNoop(t *testing.T) {
	fx := newCartServiceFixture()
	svc := fx.service(t)

	if err := svc.ClearCart(context.Background(), "user_none"); err != nil {
		t.Fatalf("expected clearing a missing cart to succeed, got %v", err)
	}
}

func TestCartServiceQuoteFailureSurfacesUnavailable(t *testing.T) {
	fx := newCartServiceFixture()
	fx.quoter.err = errors.New("pricing backend down")
	svc := fx.service(t)

	_, err := svc.AddItem(context.Background(), AddCartItemCommand{UserID: "user_1", ItemID: "itm_latte", Quantity: 1})
	if !errors.Is(err, ErrCartUnavailable) {
		t.Fatalf("expected ErrCartUnavailable, got %v", err)
	}
}

func TestCartServiceRepositoryUnavailable(t *testing.T) {
	fx := newCartServiceFixture()
	fx.repo.getErr = &fakeRepoError{unavailable: true}
	svc := fx.service(t)

	_, err := svc.GetOrCreateCart(context.Background(), "user_1")
	if !errors.Is(err, ErrCartUnavailable) {
		t.Fatalf("expected ErrCartUnavailable, got %v", err)
	}
}

var _ repositories.CartRepository = (*fakeCartRepository)(nil)
var _ repositories.SavedItemRepository = (*fakeSavedItemRepository)(nil)
