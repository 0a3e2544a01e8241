package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/star-cafe/api/internal/domain"
	pfirestore "github.com/star-cafe/api/internal/platform/firestore"
	"github.com/star-cafe/api/internal/repositories"
)

const cartCollection = "carts"

// CartRepository persists the per-user cart document. The document ID is the
// user ID, so one active cart exists per user.
type CartRepository struct {
	base     *pfirestore.BaseRepository[cartDocument]
	provider *pfirestore.Provider
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{
		base:     pfirestore.NewBaseRepository[cartDocument](provider, cartCollection, nil, nil),
		provider: provider,
	}, nil
}

// UpsertCart writes the full cart document keyed by the user ID.
func (r *CartRepository) UpsertCart(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(cart.UserID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	doc := encodeCartDocument(cart)
	result, err := r.base.Set(ctx, uid, doc)
	if err != nil {
		return domain.Cart{}, err
	}

	saved := decodeCartDocument(uid, doc)
	saved.UpdatedAt = result.UpdateTime
	if saved.CreatedAt.IsZero() {
		saved.CreatedAt = result.UpdateTime
	}
	return saved, nil
}

// GetCart loads the active cart for the user.
func (r *CartRepository) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	record, err := r.base.Get(ctx, uid)
	if err != nil {
		return domain.Cart{}, err
	}

	cart := decodeCartDocument(uid, record.Data)
	if cart.UpdatedAt.IsZero() {
		cart.UpdatedAt = record.UpdateTime
	}
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = record.CreateTime
	}
	return cart, nil
}

// ReplaceItems swaps the cart's line items inside a transaction so concurrent
// mutations cannot interleave partial item sets.
func (r *CartRepository) ReplaceItems(ctx context.Context, userID string, items []domain.CartItem) (domain.Cart, error) {
	if r == nil || r.provider == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	now := time.Now().UTC()
	var saved domain.Cart

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, uid)
		if err != nil {
			return err
		}

		var doc cartDocument
		snapshot, err := tx.Get(ref)
		if err == nil {
			if err := snapshot.DataTo(&doc); err != nil {
				return err
			}
		} else if !isStatusNotFound(err) {
			return err
		} else {
			doc = cartDocument{CartID: uid, CreatedAt: now}
		}

		doc.Items = encodeCartItems(items)
		doc.UpdatedAt = now
		if doc.CreatedAt.IsZero() {
			doc.CreatedAt = now
		}

		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		saved = decodeCartDocument(uid, doc)
		return nil
	})
	if err != nil {
		return domain.Cart{}, pfirestore.WrapError("carts.replace_items", err)
	}
	return saved, nil
}

type cartDocument struct {
	CartID    string              `firestore:"cartId,omitempty"`
	Currency  string              `firestore:"currency"`
	Items     []cartItemDocument  `firestore:"items"`
	Reward    *rewardSelectionDoc `firestore:"reward,omitempty"`
	Promotion *cartPromotionDoc   `firestore:"promo,omitempty"`
	Quote     *cartQuoteDoc       `firestore:"quote,omitempty"`
	Metadata  map[string]any      `firestore:"metadata,omitempty"`
	CreatedAt time.Time           `firestore:"createdAt"`
	UpdatedAt time.Time           `firestore:"updatedAt"`
}

type cartItemDocument struct {
	LineID    string         `firestore:"lineId"`
	ItemRef   string         `firestore:"itemRef"`
	LegacyKey string         `firestore:"legacyKey,omitempty"`
	Name      string         `firestore:"name"`
	Quantity  int            `firestore:"quantity"`
	UnitPrice int64          `firestore:"unitPrice"`
	Currency  string         `firestore:"currency"`
	Notes     string         `firestore:"notes,omitempty"`
	Metadata  map[string]any `firestore:"metadata,omitempty"`
	AddedAt   time.Time      `firestore:"addedAt"`
	UpdatedAt *time.Time     `firestore:"updatedAt,omitempty"`
}

type rewardSelectionDoc struct {
	RewardID   string    `firestore:"rewardId"`
	Label      string    `firestore:"label"`
	PointCost  int64     `firestore:"pointCost"`
	Value      int64     `firestore:"value"`
	SelectedAt time.Time `firestore:"selectedAt"`
}

type cartPromotionDoc struct {
	Code           string `firestore:"code"`
	DiscountAmount int64  `firestore:"discountAmount"`
	Applied        bool   `firestore:"applied"`
}

type cartQuoteDoc struct {
	Subtotal    int64 `firestore:"subtotal"`
	Discount    int64 `firestore:"discount"`
	DeliveryFee int64 `firestore:"deliveryFee"`
	Total       int64 `firestore:"total"`
}

func encodeCartDocument(cart domain.Cart) cartDocument {
	doc := cartDocument{
		CartID:    strings.TrimSpace(cart.ID),
		Currency:  strings.ToUpper(strings.TrimSpace(cart.Currency)),
		Items:     encodeCartItems(cart.Items),
		Metadata:  cloneAnyMap(cart.Metadata),
		CreatedAt: cart.CreatedAt.UTC(),
		UpdatedAt: cart.UpdatedAt.UTC(),
	}
	if cart.Reward != nil {
		doc.Reward = &rewardSelectionDoc{
			RewardID:   cart.Reward.RewardID,
			Label:      cart.Reward.Label,
			PointCost:  cart.Reward.PointCost,
			Value:      cart.Reward.Value,
			SelectedAt: cart.Reward.SelectedAt.UTC(),
		}
	}
	if cart.Promotion != nil {
		doc.Promotion = &cartPromotionDoc{
			Code:           strings.TrimSpace(cart.Promotion.Code),
			DiscountAmount: cart.Promotion.DiscountAmount,
			Applied:        cart.Promotion.Applied,
		}
	}
	if cart.Quote != nil {
		doc.Quote = &cartQuoteDoc{
			Subtotal:    cart.Quote.Subtotal,
			Discount:    cart.Quote.Discount,
			DeliveryFee: cart.Quote.DeliveryFee,
			Total:       cart.Quote.Total,
		}
	}
	return doc
}

func decodeCartDocument(userID string, doc cartDocument) domain.Cart {
	cart := domain.Cart{
		ID:        doc.CartID,
		UserID:    userID,
		Currency:  strings.ToUpper(strings.TrimSpace(doc.Currency)),
		Items:     decodeCartItems(doc.Items),
		Metadata:  cloneAnyMap(doc.Metadata),
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
	if cart.ID == "" {
		cart.ID = userID
	}
	if doc.Reward != nil {
		cart.Reward = &domain.RewardSelection{
			RewardID:   doc.Reward.RewardID,
			Label:      doc.Reward.Label,
			PointCost:  doc.Reward.PointCost,
			Value:      doc.Reward.Value,
			SelectedAt: doc.Reward.SelectedAt,
		}
	}
	if doc.Promotion != nil {
		cart.Promotion = &domain.CartPromotion{
			Code:           doc.Promotion.Code,
			DiscountAmount: doc.Promotion.DiscountAmount,
			Applied:        doc.Promotion.Applied,
		}
	}
	if doc.Quote != nil {
		cart.Quote = &domain.CartQuote{
			Subtotal:    doc.Quote.Subtotal,
			Discount:    doc.Quote.Discount,
			DeliveryFee: doc.Quote.DeliveryFee,
			Total:       doc.Quote.Total,
		}
	}
	return cart
}

func encodeCartItems(items []domain.CartItem) []cartItemDocument {
	out := make([]cartItemDocument, 0, len(items))
	for _, item := range items {
		doc := cartItemDocument{
			LineID:    item.ID,
			ItemRef:   item.ItemID,
			LegacyKey: item.LegacyKey,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Currency:  item.Currency,
			Notes:     item.Notes,
			Metadata:  cloneAnyMap(item.Metadata),
			AddedAt:   item.AddedAt.UTC(),
		}
		if item.UpdatedAt != nil {
			ts := item.UpdatedAt.UTC()
			doc.UpdatedAt = &ts
		}
		out = append(out, doc)
	}
	return out
}

func decodeCartItems(docs []cartItemDocument) []domain.CartItem {
	if len(docs) == 0 {
		return nil
	}
	out := make([]domain.CartItem, 0, len(docs))
	for _, doc := range docs {
		item := domain.CartItem{
			ID:        doc.LineID,
			ItemID:    doc.ItemRef,
			LegacyKey: doc.LegacyKey,
			Name:      doc.Name,
			Quantity:  doc.Quantity,
			UnitPrice: doc.UnitPrice,
			Currency:  doc.Currency,
			Notes:     doc.Notes,
			Metadata:  cloneAnyMap(doc.Metadata),
			AddedAt:   doc.AddedAt,
		}
		if doc.UpdatedAt != nil {
			ts := *doc.UpdatedAt
			item.UpdatedAt = &ts
		}
		out = append(out, item)
	}
	return out
}

func cloneAnyMap(values map[string]any) map[string]any {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

var _ repositories.CartRepository = (*CartRepository)(nil)
