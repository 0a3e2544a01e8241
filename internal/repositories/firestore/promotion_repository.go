package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/star-cafe/api/internal/domain"
	pfirestore "github.com/star-cafe/api/internal/platform/firestore"
	"github.com/star-cafe/api/internal/repositories"
)

const (
	promotionCollection     = "promotions"
	maxPromotionStatusTerms = 10
)

// PromotionRepository maintains promotion definitions. Codes are stored
// upper-cased so FindByCode is case-insensitive from the caller's view.
type PromotionRepository struct {
	base *pfirestore.BaseRepository[promotionDocument]
}

// NewPromotionRepository constructs a Firestore-backed promotion repository.
func NewPromotionRepository(provider *pfirestore.Provider) (*PromotionRepository, error) {
	if provider == nil {
		return nil, errors.New("promotion repository requires firestore provider")
	}
	return &PromotionRepository{
		base: pfirestore.NewBaseRepository[promotionDocument](provider, promotionCollection, nil, nil),
	}, nil
}

// Insert creates the promotion, failing with a conflict when the ID exists.
func (r *PromotionRepository) Insert(ctx context.Context, promotion domain.Promotion) error {
	if r == nil || r.base == nil {
		return errors.New("promotion repository not initialised")
	}
	id := strings.TrimSpace(promotion.ID)
	if id == "" {
		return errors.New("promotion repository: promotion id is required")
	}
	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, encodePromotion(promotion)); err != nil {
		return pfirestore.WrapError("promotions.insert", err)
	}
	return nil
}

// Update replaces the stored promotion document.
func (r *PromotionRepository) Update(ctx context.Context, promotion domain.Promotion) error {
	if r == nil || r.base == nil {
		return errors.New("promotion repository not initialised")
	}
	id := strings.TrimSpace(promotion.ID)
	if id == "" {
		return errors.New("promotion repository: promotion id is required")
	}
	if _, err := r.base.Get(ctx, id); err != nil {
		return err
	}
	if _, err := r.base.Set(ctx, id, encodePromotion(promotion)); err != nil {
		return err
	}
	return nil
}

// Delete removes the promotion document.
func (r *PromotionRepository) Delete(ctx context.Context, promotionID string) error {
	if r == nil || r.base == nil {
		return errors.New("promotion repository not initialised")
	}
	ref, err := r.base.DocumentRef(ctx, strings.TrimSpace(promotionID))
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx, firestore.Exists); err != nil {
		return pfirestore.WrapError("promotions.delete", err)
	}
	return nil
}

// FindByCode resolves a promotion by its customer-facing code.
func (r *PromotionRepository) FindByCode(ctx context.Context, code string) (domain.Promotion, error) {
	if r == nil || r.base == nil {
		return domain.Promotion{}, errors.New("promotion repository not initialised")
	}
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return domain.Promotion{}, pfirestore.WrapError("promotions.find_by_code", status.Error(codes.NotFound, "code is empty"))
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("code", "==", normalized).Limit(1)
	})
	if err != nil {
		return domain.Promotion{}, err
	}
	if len(docs) == 0 {
		return domain.Promotion{}, pfirestore.WrapError("promotions.find_by_code", status.Errorf(codes.NotFound, "no promotion with code %s", normalized))
	}
	return decodePromotion(docs[0].ID, docs[0].Data), nil
}

// List returns promotions matching the filter with cursor pagination.
func (r *PromotionRepository) List(ctx context.Context, filter repositories.PromotionListFilter) (domain.CursorPage[domain.Promotion], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Promotion]{}, errors.New("promotion repository not initialised")
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
	if len(statuses) > maxPromotionStatusTerms {
		statuses = statuses[:maxPromotionStatusTerms]
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		ts, docID, err := decodeCursorToken(token)
		if err != nil {
			return domain.CursorPage[domain.Promotion]{}, fmt.Errorf("promotions.list: invalid page token: %w", err)
		}
		startAfter = []any{ts, docID}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if len(statuses) > 0 {
			q = q.Where("status", "in", statuses)
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
		return domain.CursorPage[domain.Promotion]{}, err
	}

	nextToken := ""
	if fetchLimit > 0 && len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		nextToken = encodeCursorToken(last.Data.CreatedAt, last.ID)
		docs = docs[:len(docs)-1]
	}

	promotions := make([]domain.Promotion, 0, len(docs))
	for _, doc := range docs {
		promotions = append(promotions, decodePromotion(doc.ID, doc.Data))
	}
	return domain.CursorPage[domain.Promotion]{Items: promotions, NextPageToken: nextToken}, nil
}

type promotionDocument struct {
	Code           string         `firestore:"code"`
	Name           string         `firestore:"name"`
	Description    string         `firestore:"description,omitempty"`
	Status         string         `firestore:"status"`
	DiscountAmount int64          `firestore:"discountAmount"`
	MinSubtotal    int64          `firestore:"minSubtotal,omitempty"`
	StartsAt       time.Time      `firestore:"startsAt"`
	EndsAt         time.Time      `firestore:"endsAt"`
	UsageLimit     *int           `firestore:"usageLimit,omitempty"`
	UsageCount     int            `firestore:"usageCount"`
	Metadata       map[string]any `firestore:"metadata,omitempty"`
	CreatedAt      time.Time      `firestore:"createdAt"`
	UpdatedAt      time.Time      `firestore:"updatedAt"`
}

func encodePromotion(promotion domain.Promotion) promotionDocument {
	return promotionDocument{
		Code:           strings.ToUpper(strings.TrimSpace(promotion.Code)),
		Name:           promotion.Name,
		Description:    promotion.Description,
		Status:         string(promotion.Status),
		DiscountAmount: promotion.DiscountAmount,
		MinSubtotal:    promotion.MinSubtotal,
		StartsAt:       promotion.StartsAt.UTC(),
		EndsAt:         promotion.EndsAt.UTC(),
		UsageLimit:     cloneIntPtr(promotion.UsageLimit),
		UsageCount:     promotion.UsageCount,
		Metadata:       cloneAnyMap(promotion.Metadata),
		CreatedAt:      promotion.CreatedAt.UTC(),
		UpdatedAt:      promotion.UpdatedAt.UTC(),
	}
}

func decodePromotion(id string, doc promotionDocument) domain.Promotion {
	return domain.Promotion{
		ID:             id,
		Code:           doc.Code,
		Name:           doc.Name,
		Description:    doc.Description,
		Status:         domain.PromotionStatus(doc.Status),
		DiscountAmount: doc.DiscountAmount,
		MinSubtotal:    doc.MinSubtotal,
		StartsAt:       doc.StartsAt,
		EndsAt:         doc.EndsAt,
		UsageLimit:     cloneIntPtr(doc.UsageLimit),
		UsageCount:     doc.UsageCount,
		Metadata:       cloneAnyMap(doc.Metadata),
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}
}

func cloneIntPtr(value *int) *int {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}

var _ repositories.PromotionRepository = (*PromotionRepository)(nil)
