package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/star-cafe/api/internal/domain"
	pfirestore "github.com/star-cafe/api/internal/platform/firestore"
	"github.com/star-cafe/api/internal/repositories"
)

const orderPaymentCollectionPattern = "orders/%s/payments"

// OrderPaymentRepository stores payment records under their order document so
// webhook replays and manual operations stay scoped to one order.
type OrderPaymentRepository struct {
	provider *pfirestore.Provider
}

// NewOrderPaymentRepository constructs a Firestore-backed payment repository.
func NewOrderPaymentRepository(provider *pfirestore.Provider) (*OrderPaymentRepository, error) {
	if provider == nil {
		return nil, errors.New("order payment repository requires firestore provider")
	}
	return &OrderPaymentRepository{provider: provider}, nil
}

// Insert creates the payment record, failing with a conflict when the ID
// already exists under the order.
func (r *OrderPaymentRepository) Insert(ctx context.Context, payment domain.Payment) error {
	coll, id, err := r.document(ctx, payment)
	if err != nil {
		return err
	}
	if _, err := coll.Doc(id).Create(ctx, encodePayment(payment)); err != nil {
		return pfirestore.WrapError("order_payments.insert", err)
	}
	return nil
}

// Update replaces the payment record.
func (r *OrderPaymentRepository) Update(ctx context.Context, payment domain.Payment) error {
	coll, id, err := r.document(ctx, payment)
	if err != nil {
		return err
	}
	if _, err := coll.Doc(id).Get(ctx); err != nil {
		return pfirestore.WrapError("order_payments.update", err)
	}
	if _, err := coll.Doc(id).Set(ctx, encodePayment(payment)); err != nil {
		return pfirestore.WrapError("order_payments.update", err)
	}
	return nil
}

// List returns all payments recorded for the order, oldest first.
func (r *OrderPaymentRepository) List(ctx context.Context, orderID string) ([]domain.Payment, error) {
	coll, err := r.collection(ctx, orderID)
	if err != nil {
		return nil, err
	}

	iter := coll.Documents(ctx)
	defer iter.Stop()

	var payments []domain.Payment
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("order_payments.list", err)
		}
		var doc paymentDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode payment %s: %w", snap.Ref.ID, err)
		}
		payments = append(payments, decodePayment(snap.Ref.ID, strings.TrimSpace(orderID), doc))
	}

	sort.Slice(payments, func(i, j int) bool { return payments[i].CreatedAt.Before(payments[j].CreatedAt) })
	return payments, nil
}

func (r *OrderPaymentRepository) document(ctx context.Context, payment domain.Payment) (*firestore.CollectionRef, string, error) {
	coll, err := r.collection(ctx, payment.OrderID)
	if err != nil {
		return nil, "", err
	}
	id := strings.TrimSpace(payment.ID)
	if id == "" {
		return nil, "", errors.New("order payment repository: payment id is required")
	}
	return coll, id, nil
}

func (r *OrderPaymentRepository) collection(ctx context.Context, orderID string) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("order payment repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return nil, errors.New("order payment repository: order id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(fmt.Sprintf(orderPaymentCollectionPattern, id)), nil
}

type paymentDocument struct {
	Provider   string         `firestore:"provider"`
	IntentID   string         `firestore:"intentId"`
	Status     string         `firestore:"status"`
	Amount     int64          `firestore:"amount"`
	Currency   string         `firestore:"currency"`
	Captured   bool           `firestore:"captured"`
	CapturedAt *time.Time     `firestore:"capturedAt,omitempty"`
	RefundedAt *time.Time     `firestore:"refundedAt,omitempty"`
	Raw        map[string]any `firestore:"raw,omitempty"`
	CreatedAt  time.Time      `firestore:"createdAt"`
	UpdatedAt  time.Time      `firestore:"updatedAt"`
}

func encodePayment(payment domain.Payment) paymentDocument {
	return paymentDocument{
		Provider:   payment.Provider,
		IntentID:   payment.IntentID,
		Status:     payment.Status,
		Amount:     payment.Amount,
		Currency:   strings.ToUpper(strings.TrimSpace(payment.Currency)),
		Captured:   payment.Captured,
		CapturedAt: cloneTimePtr(payment.CapturedAt),
		RefundedAt: cloneTimePtr(payment.RefundedAt),
		Raw:        cloneAnyMap(payment.Raw),
		CreatedAt:  payment.CreatedAt.UTC(),
		UpdatedAt:  payment.UpdatedAt.UTC(),
	}
}

func decodePayment(id string, orderID string, doc paymentDocument) domain.Payment {
	return domain.Payment{
		ID:         id,
		OrderID:    orderID,
		Provider:   doc.Provider,
		IntentID:   doc.IntentID,
		Status:     doc.Status,
		Amount:     doc.Amount,
		Currency:   doc.Currency,
		Captured:   doc.Captured,
		CapturedAt: cloneTimePtr(doc.CapturedAt),
		RefundedAt: cloneTimePtr(doc.RefundedAt),
		Raw:        cloneAnyMap(doc.Raw),
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
	}
}

var _ repositories.OrderPaymentRepository = (*OrderPaymentRepository)(nil)
