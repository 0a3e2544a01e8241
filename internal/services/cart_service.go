package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/star-cafe/api/internal/domain"
	"github.com/star-cafe/api/internal/repositories"
)

var (
	errCartRepositoryRequired = errors.New("cart service: repository is required")
	errCartClockRequired      = errors.New("cart service: clock is required")
	errCartMenuRequired       = errors.New("cart service: menu source is required")
)

const maxCartNotesLength = 500

// ErrCartInvalidInput indicates the caller supplied invalid input.
var ErrCartInvalidInput = errors.New("cart service: invalid input")

// ErrCartUnavailable indicates the cart service cannot fulfil the request due to missing dependencies or backend issues.
var ErrCartUnavailable = errors.New("cart service: unavailable")

// ErrCartNotFound indicates the requested cart or line does not exist.
var ErrCartNotFound = errors.New("cart service: not found")

// ErrCartConflict indicates the cart could not be updated due to concurrent modifications.
var ErrCartConflict = errors.New("cart service: conflict")

// CartQuoter defines the dependency capable of pricing a cart.
type CartQuoter interface {
	Quote(ctx context.Context, cmd QuoteCartCommand) (QuoteCartResult, error)
}

// menuFinder resolves catalog items; the only price source for cart lines.
type menuFinder interface {
	GetItem(ctx context.Context, ref MenuItemRef) (MenuItem, error)
}

// rewardCatalog resolves rewards the user may select for redemption.
type rewardCatalog interface {
	GetAccount(ctx context.Context, userID string) (LoyaltyAccount, error)
	ListRewards(ctx context.Context) ([]Reward, error)
}

// CartServiceDeps wires the repository, catalog, and pricing dependencies for cart operations.
type CartServiceDeps struct {
	Repository      repositories.CartRepository
	SavedItems      repositories.SavedItemRepository
	Menu            menuFinder
	Loyalty         rewardCatalog
	Promotions      PromotionService
	Quoter          CartQuoter
	Clock           func() time.Time
	DefaultCurrency string
	Logger          func(context.Context, string, map[string]any)
	IDGenerator     func() string
}

type cartService struct {
	repo       repositories.CartRepository
	savedItems repositories.SavedItemRepository
	menu       menuFinder
	loyalty    rewardCatalog
	promotions PromotionService
	quoter     CartQuoter
	newID      func() string
	now        func() time.Time
	currency   string
	logger     func(context.Context, string, map[string]any)
	notes      *bluemonday.Policy
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Repository == nil {
		return nil, errCartRepositoryRequired
	}
	if deps.Clock == nil {
		return nil, errCartClockRequired
	}
	if deps.Menu == nil {
		return nil, errCartMenuRequired
	}

	defaultCurrency := strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency))
	if defaultCurrency == "" {
		defaultCurrency = "JPY"
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	return &cartService{
		repo:       deps.Repository,
		savedItems: deps.SavedItems,
		menu:       deps.Menu,
		loyalty:    deps.Loyalty,
		promotions: deps.Promotions,
		quoter:     deps.Quoter,
		newID:      idGen,
		now:        func() time.Time { return deps.Clock().UTC() },
		currency:   defaultCurrency,
		logger:     logger,
		notes:      bluemonday.StrictPolicy(),
	}, nil
}

// GetOrCreateCart loads the active cart for the user, creating a new cart when absent.
func (s *cartService) GetOrCreateCart(ctx context.Context, userID string) (Cart, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return Cart{}, ErrCartInvalidInput
	}

	cart, err := s.repo.GetCart(ctx, uid)
	if err != nil {
		if isRepoNotFound(err) {
			saved, err := s.repo.UpsertCart(ctx, s.newCart(uid))
			if err != nil {
				return Cart{}, s.translateRepoError(err)
			}
			cart = saved
		} else {
			return Cart{}, s.translateRepoError(err)
		}
	}

	return s.withQuote(ctx, s.normaliseCart(cart, uid))
}

// AddItem appends a line for the referenced menu item, merging with an
// existing line that references the same item and carries the same notes.
// Unit price and currency always come from the catalog, never the caller.
func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Cart{}, ErrCartInvalidInput
	}
	if cmd.Quantity <= 0 {
		return Cart{}, fmt.Errorf("%w: quantity must be greater than zero", ErrCartInvalidInput)
	}
	ref := MenuItemRef{ID: strings.TrimSpace(cmd.ItemID), LegacyKey: strings.TrimSpace(cmd.LegacyKey)}
	if ref.ID == "" && ref.LegacyKey == "" {
		return Cart{}, fmt.Errorf("%w: item reference is required", ErrCartInvalidInput)
	}

	menuItem, err := s.menu.GetItem(ctx, ref)
	if err != nil {
		if errors.Is(err, ErrMenuItemNotFound) || isRepoNotFound(err) {
			return Cart{}, fmt.Errorf("%w: menu item not found", ErrCartInvalidInput)
		}
		return Cart{}, ErrCartUnavailable
	}
	if !menuItem.IsAvailable {
		return Cart{}, fmt.Errorf("%w: menu item is not available", ErrCartInvalidInput)
	}

	notes, err := s.sanitizeNotes(cmd.Notes)
	if err != nil {
		return Cart{}, err
	}

	cart, err := s.repo.GetCart(ctx, userID)
	if err != nil {
		if isRepoNotFound(err) {
			cart = s.newCart(userID)
		} else {
			return Cart{}, s.translateRepoError(err)
		}
	}
	cart = s.normaliseCart(cart, userID)

	if !strings.EqualFold(cart.Currency, menuItem.Currency) {
		return Cart{}, fmt.Errorf("%w: item currency must match cart currency", ErrCartInvalidInput)
	}

	items := cloneCartItems(cart.Items)
	now := s.now()

	matchIdx := -1
	for i := range items {
		if items[i].ItemID == menuItem.ID && items[i].Notes == notes {
			matchIdx = i
			break
		}
	}

	if matchIdx >= 0 {
		items[matchIdx].Quantity += cmd.Quantity
		items[matchIdx].UnitPrice = menuItem.Price
		ts := now
		items[matchIdx].UpdatedAt = &ts
	} else {
		items = append(items, domain.CartItem{
			ID:        s.newID(),
			ItemID:    menuItem.ID,
			LegacyKey: menuItem.LegacyKey,
			Name:      menuItem.Name,
			Quantity:  cmd.Quantity,
			UnitPrice: menuItem.Price,
			Currency:  menuItem.Currency,
			Notes:     notes,
			Metadata:  map[string]any{},
			AddedAt:   now,
		})
	}

	saved, err := s.repo.ReplaceItems(ctx, userID, items)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	return s.withQuote(ctx, s.normaliseCart(saved, userID))
}

// UpdateItem mutates quantity and/or notes on an existing line under
// optimistic concurrency. A quantity of zero removes the line.
func (s *cartService) UpdateItem(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error) {
	userID := strings.TrimSpace(cmd.UserID)
	lineID := strings.TrimSpace(cmd.LineID)
	if userID == "" || lineID == "" {
		return Cart{}, ErrCartInvalidInput
	}
	if cmd.Quantity == nil && cmd.Notes == nil {
		return Cart{}, fmt.Errorf("%w: nothing to update", ErrCartInvalidInput)
	}
	if cmd.Quantity != nil && *cmd.Quantity < 0 {
		return Cart{}, fmt.Errorf("%w: quantity cannot be negative", ErrCartInvalidInput)
	}

	cart, err := s.repo.GetCart(ctx, userID)
	if err != nil {
		if isRepoNotFound(err) {
			return Cart{}, ErrCartNotFound
		}
		return Cart{}, s.translateRepoError(err)
	}
	cart = s.normaliseCart(cart, userID)

	if cmd.ExpectedUpdatedAt != nil {
		expected := cmd.ExpectedUpdatedAt.UTC().Truncate(time.Second)
		previous := cart.UpdatedAt.UTC().Truncate(time.Second)
		if !previous.Equal(expected) {
			return Cart{}, ErrCartConflict
		}
	}

	items := cloneCartItems(cart.Items)
	idx := indexOfCartItem(items, lineID)
	if idx < 0 {
		return Cart{}, ErrCartNotFound
	}

	now := s.now()
	if cmd.Quantity != nil {
		if *cmd.Quantity == 0 {
			items = append(items[:idx], items[idx+1:]...)
			idx = -1
		} else {
			items[idx].Quantity = *cmd.Quantity
		}
	}
	if idx >= 0 && cmd.Notes != nil {
		notes, err := s.sanitizeNotes(*cmd.Notes)
		if err != nil {
			return Cart{}, err
		}
		items[idx].Notes = notes
	}
	if idx >= 0 {
		ts := now
		items[idx].UpdatedAt = &ts
	}

	saved, err := s.repo.ReplaceItems(ctx, userID, items)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	return s.withQuote(ctx, s.normaliseCart(saved, userID))
}

func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error) {
	userID := strings.TrimSpace(cmd.UserID)
	lineID := strings.TrimSpace(cmd.LineID)
	if userID == "" || lineID == "" {
		return Cart{}, ErrCartInvalidInput
	}

	cart, err := s.repo.GetCart(ctx, userID)
	if err != nil {
		if isRepoNotFound(err) {
			return Cart{}, ErrCartNotFound
		}
		return Cart{}, s.translateRepoError(err)
	}
	cart = s.normaliseCart(cart, userID)

	items := cloneCartItems(cart.Items)
	idx := indexOfCartItem(items, lineID)
	if idx < 0 {
		return Cart{}, ErrCartNotFound
	}
	items = append(items[:idx], items[idx+1:]...)

	saved, err := s.repo.ReplaceItems(ctx, userID, items)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	return s.withQuote(ctx, s.normaliseCart(saved, userID))
}

// SaveForLater moves a line into the saved collection, keeping its identifier.
func (s *cartService) SaveForLater(ctx context.Context, cmd SaveForLaterCommand) (Cart, error) {
	if s.savedItems == nil {
		return Cart{}, ErrCartUnavailable
	}
	userID := strings.TrimSpace(cmd.UserID)
	lineID := strings.TrimSpace(cmd.LineID)
	if userID == "" || lineID == "" {
		return Cart{}, ErrCartInvalidInput
	}

	cart, err := s.repo.GetCart(ctx, userID)
	if err != nil {
		if isRepoNotFound(err) {
			return Cart{}, ErrCartNotFound
		}
		return Cart{}, s.translateRepoError(err)
	}
	cart = s.normaliseCart(cart, userID)

	items := cloneCartItems(cart.Items)
	idx := indexOfCartItem(items, lineID)
	if idx < 0 {
		return Cart{}, ErrCartNotFound
	}
	line := items[idx]

	saved := domain.SavedItem{
		ID:        line.ID,
		UserID:    userID,
		ItemID:    line.ItemID,
		LegacyKey: line.LegacyKey,
		Name:      line.Name,
		Quantity:  line.Quantity,
		UnitPrice: line.UnitPrice,
		Currency:  line.Currency,
		Notes:     line.Notes,
		SavedAt:   s.now(),
	}
	if err := s.savedItems.Put(ctx, saved); err != nil {
		return Cart{}, s.translateRepoError(err)
	}

	items = append(items[:idx], items[idx+1:]...)
	updated, err := s.repo.ReplaceItems(ctx, userID, items)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	return s.withQuote(ctx, s.normaliseCart(updated, userID))
}

// RestoreSavedItem moves a saved line back into the cart at the catalog's
// current price.
func (s *cartService) RestoreSavedItem(ctx context.Context, cmd RestoreSavedItemCommand) (Cart, error) {
	if s.savedItems == nil {
		return Cart{}, ErrCartUnavailable
	}
	userID := strings.TrimSpace(cmd.UserID)
	savedID := strings.TrimSpace(cmd.SavedItemID)
	if userID == "" || savedID == "" {
		return Cart{}, ErrCartInvalidInput
	}

	saved, err := s.savedItems.Get(ctx, userID, savedID)
	if err != nil {
		if isRepoNotFound(err) {
			return Cart{}, ErrCartNotFound
		}
		return Cart{}, s.translateRepoError(err)
	}

	cart, err := s.AddItem(ctx, AddCartItemCommand{
		UserID:    userID,
		ItemID:    saved.ItemID,
		LegacyKey: saved.LegacyKey,
		Quantity:  saved.Quantity,
		Notes:     saved.Notes,
	})
	if err != nil {
		return Cart{}, err
	}
	if err := s.savedItems.Delete(ctx, userID, savedID); err != nil && !isRepoNotFound(err) {
		return Cart{}, s.translateRepoError(err)
	}
	return cart, nil
}

func (s *cartService) ListSavedItems(ctx context.Context, userID string) ([]SavedItem, error) {
	if s.savedItems == nil {
		return nil, ErrCartUnavailable
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, ErrCartInvalidInput
	}
	items, err := s.savedItems.ListByUser(ctx, uid)
	if err != nil {
		return nil, s.translateRepoError(err)
	}
	return items, nil
}

func (s *cartService) RemoveSavedItem(ctx context.Context, cmd RemoveSavedItemCommand) error {
	if s.savedItems == nil {
		return ErrCartUnavailable
	}
	userID := strings.TrimSpace(cmd.UserID)
	savedID := strings.TrimSpace(cmd.SavedItemID)
	if userID == "" || savedID == "" {
		return ErrCartInvalidInput
	}
	if err := s.savedItems.Delete(ctx, userID, savedID); err != nil {
		if isRepoNotFound(err) {
			return ErrCartNotFound
		}
		return s.translateRepoError(err)
	}
	return nil
}

// ApplyReward stores a reward selection on the cart. Points are only checked
// here, never deducted; deduction happens once at order finalization.
func (s *cartService) ApplyReward(ctx context.Context, cmd ApplyRewardCommand) (Cart, error) {
	if s.loyalty == nil {
		return Cart{}, ErrCartUnavailable
	}
	userID := strings.TrimSpace(cmd.UserID)
	rewardID := strings.TrimSpace(cmd.RewardID)
	if userID == "" || rewardID == "" {
		return Cart{}, ErrCartInvalidInput
	}

	rewards, err := s.loyalty.ListRewards(ctx)
	if err != nil {
		return Cart{}, ErrCartUnavailable
	}
	var reward *Reward
	for i := range rewards {
		if rewards[i].ID == rewardID {
			reward = &rewards[i]
			break
		}
	}
	if reward == nil {
		return Cart{}, fmt.Errorf("%w: unknown reward", ErrCartInvalidInput)
	}

	account, err := s.loyalty.GetAccount(ctx, userID)
	if err != nil {
		return Cart{}, ErrCartUnavailable
	}
	if account.PointBalance < reward.PointCost {
		return Cart{}, fmt.Errorf("%w: insufficient points for reward", ErrCartInvalidInput)
	}

	cart, err := s.repo.GetCart(ctx, userID)
	if err != nil {
		if isRepoNotFound(err) {
			cart = s.newCart(userID)
		} else {
			return Cart{}, s.translateRepoError(err)
		}
	}
	cart = s.normaliseCart(cart, userID)
	cart.Reward = &domain.RewardSelection{
		RewardID:   reward.ID,
		Label:      reward.Label,
		PointCost:  reward.PointCost,
		Value:      reward.Value,
		SelectedAt: s.now(),
	}
	cart.UpdatedAt = s.now()

	saved, err := s.repo.UpsertCart(ctx, cart)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	return s.withQuote(ctx, s.normaliseCart(saved, userID))
}

func (s *cartService) RemoveReward(ctx context.Context, userID string) (Cart, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return Cart{}, ErrCartInvalidInput
	}
	cart, err := s.repo.GetCart(ctx, uid)
	if err != nil {
		if isRepoNotFound(err) {
			return Cart{}, ErrCartNotFound
		}
		return Cart{}, s.translateRepoError(err)
	}
	cart = s.normaliseCart(cart, uid)
	cart.Reward = nil
	cart.UpdatedAt = s.now()

	saved, err := s.repo.UpsertCart(ctx, cart)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	return s.withQuote(ctx, s.normaliseCart(saved, uid))
}

// ApplyPromotion validates the code and records it on the cart.
func (s *cartService) ApplyPromotion(ctx context.Context, cmd CartPromotionCommand) (Cart, error) {
	if s.promotions == nil {
		return Cart{}, ErrCartUnavailable
	}
	userID := strings.TrimSpace(cmd.UserID)
	code := strings.ToUpper(strings.TrimSpace(cmd.Code))
	if userID == "" || code == "" {
		return Cart{}, ErrCartInvalidInput
	}

	result, err := s.promotions.ValidatePromotion(ctx, ValidatePromotionCommand{Code: code, UserID: &userID})
	if err != nil {
		if errors.Is(err, ErrPromotionInvalidCode) || errors.Is(err, ErrPromotionNotFound) {
			return Cart{}, fmt.Errorf("%w: %s", ErrCartInvalidInput, code)
		}
		return Cart{}, ErrCartUnavailable
	}
	if !result.Eligible {
		return Cart{}, fmt.Errorf("%w: promotion not eligible (%s)", ErrCartInvalidInput, result.Reason)
	}

	cart, err := s.repo.GetCart(ctx, userID)
	if err != nil {
		if isRepoNotFound(err) {
			cart = s.newCart(userID)
		} else {
			return Cart{}, s.translateRepoError(err)
		}
	}
	cart = s.normaliseCart(cart, userID)
	cart.Promotion = &domain.CartPromotion{
		Code:           result.Code,
		DiscountAmount: result.DiscountAmount,
		Applied:        true,
	}
	cart.UpdatedAt = s.now()

	saved, err := s.repo.UpsertCart(ctx, cart)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	return s.withQuote(ctx, s.normaliseCart(saved, userID))
}

func (s *cartService) RemovePromotion(ctx context.Context, userID string) (Cart, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return Cart{}, ErrCartInvalidInput
	}
	cart, err := s.repo.GetCart(ctx, uid)
	if err != nil {
		if isRepoNotFound(err) {
			return Cart{}, ErrCartNotFound
		}
		return Cart{}, s.translateRepoError(err)
	}
	cart = s.normaliseCart(cart, uid)
	cart.Promotion = nil
	cart.UpdatedAt = s.now()

	saved, err := s.repo.UpsertCart(ctx, cart)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	return s.withQuote(ctx, s.normaliseCart(saved, uid))
}

func (s *cartService) ClearCart(ctx context.Context, userID string) error {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return ErrCartInvalidInput
	}
	cart, err := s.repo.GetCart(ctx, uid)
	if err != nil {
		if isRepoNotFound(err) {
			return nil
		}
		return s.translateRepoError(err)
	}
	cart = s.normaliseCart(cart, uid)
	cart.Items = nil
	cart.Reward = nil
	cart.Promotion = nil
	cart.Quote = nil
	cart.UpdatedAt = s.now()
	if _, err := s.repo.UpsertCart(ctx, cart); err != nil {
		return s.translateRepoError(err)
	}
	return nil
}

// Internal helpers -----------------------------------------------------------

func (s *cartService) newCart(userID string) Cart {
	now := s.now()
	return Cart{
		ID:        s.newID(),
		UserID:    userID,
		Currency:  s.currency,
		Items:     nil,
		Metadata:  map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *cartService) normaliseCart(cart Cart, userID string) Cart {
	cart.UserID = userID
	if strings.TrimSpace(cart.Currency) == "" {
		cart.Currency = s.currency
	}
	cart.Currency = strings.ToUpper(strings.TrimSpace(cart.Currency))
	if cart.Metadata == nil {
		cart.Metadata = map[string]any{}
	}
	return cart
}

// withQuote attaches a fresh quote; every cart leaving the service carries one.
func (s *cartService) withQuote(ctx context.Context, cart Cart) (Cart, error) {
	if s.quoter == nil {
		return cart, nil
	}
	result, err := s.quoter.Quote(ctx, QuoteCartCommand{Cart: cart})
	if err != nil {
		s.logger(ctx, "cart_pricing_failed", map[string]any{
			"userId": cart.UserID,
			"error":  err.Error(),
		})
		return Cart{}, translatePricingError(err)
	}
	quote := result.Quote
	cart.Quote = &quote
	return cart, nil
}

func (s *cartService) sanitizeNotes(raw string) (string, error) {
	notes := strings.TrimSpace(s.notes.Sanitize(raw))
	if len(notes) > maxCartNotesLength {
		return "", fmt.Errorf("%w: notes exceed %d characters", ErrCartInvalidInput, maxCartNotesLength)
	}
	return notes, nil
}

func (s *cartService) translateRepoError(err error) error {
	if repoErr, ok := asRepositoryError(err); ok {
		switch {
		case repoErr.IsNotFound():
			return ErrCartNotFound
		case repoErr.IsConflict():
			return ErrCartConflict
		case repoErr.IsUnavailable():
			return ErrCartUnavailable
		}
	}
	return err
}

func translatePricingError(err error) error {
	switch {
	case errors.Is(err, ErrCartPricingInvalidInput), errors.Is(err, ErrCartPricingCurrencyMismatch):
		return fmt.Errorf("%w: %v", ErrCartInvalidInput, err)
	default:
		return ErrCartUnavailable
	}
}

func isRepoNotFound(err error) bool {
	repoErr, ok := asRepositoryError(err)
	return ok && repoErr.IsNotFound()
}

func cloneCartItems(items []domain.CartItem) []domain.CartItem {
	out := make([]domain.CartItem, len(items))
	copy(out, items)
	return out
}

func indexOfCartItem(items []domain.CartItem, lineID string) int {
	for i := range items {
		if items[i].ID == lineID {
			return i
		}
	}
	return -1
}
