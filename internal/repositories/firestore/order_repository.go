package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/star-cafe/api/internal/domain"
	pfirestore "github.com/star-cafe/api/internal/platform/firestore"
	"github.com/star-cafe/api/internal/repositories"
)

const (
	orderCollection     = "orders"
	maxOrderStatusTerms = 10 // Firestore "in" operator limit
)

// OrderRepository persists order headers. Payments live in a subcollection
// handled by OrderPaymentRepository.
type OrderRepository struct {
	base *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		base: pfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil, nil),
	}, nil
}

// Insert creates the order, failing with a conflict when the ID exists.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}
	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, encodeOrder(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update replaces the stored order document.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}
	if _, err := r.base.Get(ctx, id); err != nil {
		return err
	}
	if _, err := r.base.Set(ctx, id, encodeOrder(order)); err != nil {
		return err
	}
	return nil
}

// FindByID loads the order header.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	record, err := r.base.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(record.ID, record.Data), nil
}

// List returns orders matching the filter, newest first, with cursor
// pagination.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := 0
	if limit > 0 {
		fetchLimit = limit + 1
	}

	statuses := filter.Status
	if len(statuses) > maxOrderStatusTerms {
		statuses = statuses[:maxOrderStatusTerms]
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		ts, docID, err := decodeCursorToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("orders.list: invalid page token: %w", err)
		}
		startAfter = []any{ts, docID}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if uid := strings.TrimSpace(filter.UserID); uid != "" {
			q = q.Where("userRef", "==", uid)
		}
		if len(statuses) > 0 {
			q = q.Where("status", "in", statuses)
		}
		if filter.DateRange.From != nil {
			q = q.Where("createdAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil {
			q = q.Where("createdAt", "<=", filter.DateRange.To.UTC())
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if startAfter != nil {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	nextToken := ""
	if fetchLimit > 0 && len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		nextToken = encodeCursorToken(last.Data.CreatedAt, last.ID)
		docs = docs[:len(docs)-1]
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, decodeOrder(doc.ID, doc.Data))
	}
	return domain.CursorPage[domain.Order]{Items: orders, NextPageToken: nextToken}, nil
}

type orderDocument struct {
	OrderNumber     string              `firestore:"orderNumber"`
	UserRef         string              `firestore:"userRef"`
	CartRef         *string             `firestore:"cartRef,omitempty"`
	Status          string              `firestore:"status"`
	Currency        string              `firestore:"currency"`
	Totals          orderTotalsDoc      `firestore:"totals"`
	Reward          *rewardSelectionDoc `firestore:"reward,omitempty"`
	Promotion       *cartPromotionDoc   `firestore:"promo,omitempty"`
	Items           []orderLineDoc      `firestore:"items"`
	DeliveryAddress *addressDocument    `firestore:"deliveryAddress,omitempty"`
	Contact         *orderContactDoc    `firestore:"contact,omitempty"`
	Notes           string              `firestore:"notes,omitempty"`
	CreatedBy       *string             `firestore:"createdBy,omitempty"`
	UpdatedBy       *string             `firestore:"updatedBy,omitempty"`
	Metadata        map[string]any      `firestore:"metadata,omitempty"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	UpdatedAt       time.Time           `firestore:"updatedAt"`
	PlacedAt        *time.Time          `firestore:"placedAt,omitempty"`
	PaidAt          *time.Time          `firestore:"paidAt,omitempty"`
	DeliveredAt     *time.Time          `firestore:"deliveredAt,omitempty"`
	CompletedAt     *time.Time          `firestore:"completedAt,omitempty"`
	CanceledAt      *time.Time          `firestore:"canceledAt,omitempty"`
	CancelReason    *string             `firestore:"cancelReason,omitempty"`
	PointsEarned    int64               `firestore:"pointsEarned,omitempty"`
	PointsRedeemed  int64               `firestore:"pointsRedeemed,omitempty"`
}

type orderTotalsDoc struct {
	Subtotal    int64 `firestore:"subtotal"`
	Discount    int64 `firestore:"discount"`
	DeliveryFee int64 `firestore:"deliveryFee"`
	Total       int64 `firestore:"total"`
}

type orderLineDoc struct {
	ItemRef   string         `firestore:"itemRef"`
	LegacyKey string         `firestore:"legacyKey,omitempty"`
	Name      string         `firestore:"name"`
	Quantity  int            `firestore:"quantity"`
	UnitPrice int64          `firestore:"unitPrice"`
	Total     int64          `firestore:"total"`
	Notes     string         `firestore:"notes,omitempty"`
	Metadata  map[string]any `firestore:"metadata,omitempty"`
}

type addressDocument struct {
	Recipient  string  `firestore:"recipient"`
	Line1      string  `firestore:"line1"`
	Line2      *string `firestore:"line2,omitempty"`
	City       string  `firestore:"city"`
	State      *string `firestore:"state,omitempty"`
	PostalCode string  `firestore:"postalCode"`
	Country    string  `firestore:"country"`
	Phone      *string `firestore:"phone,omitempty"`
}

type orderContactDoc struct {
	Email string `firestore:"email,omitempty"`
	Phone string `firestore:"phone,omitempty"`
}

func encodeOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber: order.OrderNumber,
		UserRef:     strings.TrimSpace(order.UserID),
		CartRef:     cloneStringPtr(order.CartRef),
		Status:      string(order.Status),
		Currency:    strings.ToUpper(strings.TrimSpace(order.Currency)),
		Totals: orderTotalsDoc{
			Subtotal:    order.Totals.Subtotal,
			Discount:    order.Totals.Discount,
			DeliveryFee: order.Totals.DeliveryFee,
			Total:       order.Totals.Total,
		},
		Notes:          order.Notes,
		CreatedBy:      cloneStringPtr(order.Audit.CreatedBy),
		UpdatedBy:      cloneStringPtr(order.Audit.UpdatedBy),
		Metadata:       cloneAnyMap(order.Metadata),
		CreatedAt:      order.CreatedAt.UTC(),
		UpdatedAt:      order.UpdatedAt.UTC(),
		PlacedAt:       cloneTimePtr(order.PlacedAt),
		PaidAt:         cloneTimePtr(order.PaidAt),
		DeliveredAt:    cloneTimePtr(order.DeliveredAt),
		CompletedAt:    cloneTimePtr(order.CompletedAt),
		CanceledAt:     cloneTimePtr(order.CanceledAt),
		CancelReason:   cloneStringPtr(order.CancelReason),
		PointsEarned:   order.PointsEarned,
		PointsRedeemed: order.PointsRedeemed,
	}
	if order.Reward != nil {
		doc.Reward = &rewardSelectionDoc{
			RewardID:   order.Reward.RewardID,
			Label:      order.Reward.Label,
			PointCost:  order.Reward.PointCost,
			Value:      order.Reward.Value,
			SelectedAt: order.Reward.SelectedAt.UTC(),
		}
	}
	if order.Promotion != nil {
		doc.Promotion = &cartPromotionDoc{
			Code:           order.Promotion.Code,
			DiscountAmount: order.Promotion.DiscountAmount,
			Applied:        order.Promotion.Applied,
		}
	}
	doc.Items = make([]orderLineDoc, 0, len(order.Items))
	for _, line := range order.Items {
		doc.Items = append(doc.Items, orderLineDoc{
			ItemRef:   line.ItemRef,
			LegacyKey: line.LegacyKey,
			Name:      line.Name,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			Total:     line.Total,
			Notes:     line.Notes,
			Metadata:  cloneAnyMap(line.Metadata),
		})
	}
	if order.DeliveryAddress != nil {
		doc.DeliveryAddress = &addressDocument{
			Recipient:  order.DeliveryAddress.Recipient,
			Line1:      order.DeliveryAddress.Line1,
			Line2:      cloneStringPtr(order.DeliveryAddress.Line2),
			City:       order.DeliveryAddress.City,
			State:      cloneStringPtr(order.DeliveryAddress.State),
			PostalCode: order.DeliveryAddress.PostalCode,
			Country:    order.DeliveryAddress.Country,
			Phone:      cloneStringPtr(order.DeliveryAddress.Phone),
		}
	}
	if order.Contact != nil {
		doc.Contact = &orderContactDoc{Email: order.Contact.Email, Phone: order.Contact.Phone}
	}
	return doc
}

func decodeOrder(id string, doc orderDocument) domain.Order {
	order := domain.Order{
		ID:          id,
		OrderNumber: doc.OrderNumber,
		UserID:      doc.UserRef,
		CartRef:     cloneStringPtr(doc.CartRef),
		Status:      domain.OrderStatus(doc.Status),
		Currency:    doc.Currency,
		Totals: domain.OrderTotals{
			Subtotal:    doc.Totals.Subtotal,
			Discount:    doc.Totals.Discount,
			DeliveryFee: doc.Totals.DeliveryFee,
			Total:       doc.Totals.Total,
		},
		Notes: doc.Notes,
		Audit: domain.OrderAudit{
			CreatedBy: cloneStringPtr(doc.CreatedBy),
			UpdatedBy: cloneStringPtr(doc.UpdatedBy),
		},
		Metadata:       cloneAnyMap(doc.Metadata),
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
		PlacedAt:       cloneTimePtr(doc.PlacedAt),
		PaidAt:         cloneTimePtr(doc.PaidAt),
		DeliveredAt:    cloneTimePtr(doc.DeliveredAt),
		CompletedAt:    cloneTimePtr(doc.CompletedAt),
		CanceledAt:     cloneTimePtr(doc.CanceledAt),
		CancelReason:   cloneStringPtr(doc.CancelReason),
		PointsEarned:   doc.PointsEarned,
		PointsRedeemed: doc.PointsRedeemed,
	}
	if doc.Reward != nil {
		order.Reward = &domain.RewardSelection{
			RewardID:   doc.Reward.RewardID,
			Label:      doc.Reward.Label,
			PointCost:  doc.Reward.PointCost,
			Value:      doc.Reward.Value,
			SelectedAt: doc.Reward.SelectedAt,
		}
	}
	if doc.Promotion != nil {
		order.Promotion = &domain.CartPromotion{
			Code:           doc.Promotion.Code,
			DiscountAmount: doc.Promotion.DiscountAmount,
			Applied:        doc.Promotion.Applied,
		}
	}
	if len(doc.Items) > 0 {
		order.Items = make([]domain.OrderLineItem, 0, len(doc.Items))
		for _, line := range doc.Items {
			order.Items = append(order.Items, domain.OrderLineItem{
				ItemRef:   line.ItemRef,
				LegacyKey: line.LegacyKey,
				Name:      line.Name,
				Quantity:  line.Quantity,
				UnitPrice: line.UnitPrice,
				Total:     line.Total,
				Notes:     line.Notes,
				Metadata:  cloneAnyMap(line.Metadata),
			})
		}
	}
	if doc.DeliveryAddress != nil {
		order.DeliveryAddress = &domain.Address{
			Recipient:  doc.DeliveryAddress.Recipient,
			Line1:      doc.DeliveryAddress.Line1,
			Line2:      cloneStringPtr(doc.DeliveryAddress.Line2),
			City:       doc.DeliveryAddress.City,
			State:      cloneStringPtr(doc.DeliveryAddress.State),
			PostalCode: doc.DeliveryAddress.PostalCode,
			Country:    doc.DeliveryAddress.Country,
			Phone:      cloneStringPtr(doc.DeliveryAddress.Phone),
		}
	}
	if doc.Contact != nil {
		order.Contact = &domain.OrderContact{Email: doc.Contact.Email, Phone: doc.Contact.Phone}
	}
	return order
}

func cloneStringPtr(value *string) *string {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}

func cloneTimePtr(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	v := value.UTC()
	return &v
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
