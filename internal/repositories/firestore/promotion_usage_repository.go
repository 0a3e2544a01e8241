package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/star-cafe/api/internal/platform/firestore"
	"github.com/star-cafe/api/internal/repositories"
)

const promotionUsageCollection = "promotionUsage"

// PromotionUsageRepository tracks how many times each user redeemed a
// promotion. One document per promotion and user pair, keyed
// "{promoID}_{userID}".
type PromotionUsageRepository struct {
	base     *pfirestore.BaseRepository[promotionUsageDocument]
	provider *pfirestore.Provider
}

// NewPromotionUsageRepository constructs a Firestore-backed usage repository.
func NewPromotionUsageRepository(provider *pfirestore.Provider) (*PromotionUsageRepository, error) {
	if provider == nil {
		return nil, errors.New("promotion usage repository requires firestore provider")
	}
	return &PromotionUsageRepository{
		base:     pfirestore.NewBaseRepository[promotionUsageDocument](provider, promotionUsageCollection, nil, nil),
		provider: provider,
	}, nil
}

// IncrementUsage bumps the pair's usage count transactionally and returns the
// new count.
func (r *PromotionUsageRepository) IncrementUsage(ctx context.Context, promoID string, userID string, now time.Time) (int, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("promotion usage repository not initialised")
	}
	docID, err := promotionUsageDocID(promoID, userID)
	if err != nil {
		return 0, err
	}

	now = now.UTC()
	var count int

	txErr := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, docID)
		if err != nil {
			return err
		}

		var doc promotionUsageDocument
		snapshot, err := tx.Get(ref)
		if err == nil {
			if err := snapshot.DataTo(&doc); err != nil {
				return err
			}
		} else if !isStatusNotFound(err) {
			return err
		} else {
			doc = promotionUsageDocument{
				PromoRef:  strings.TrimSpace(promoID),
				UserRef:   strings.TrimSpace(userID),
				FirstUsed: now,
			}
		}

		doc.Count++
		doc.LastUsed = now

		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		count = doc.Count
		return nil
	})
	if txErr != nil {
		return 0, pfirestore.WrapError("promotion_usage.increment", txErr)
	}
	return count, nil
}

// CountForUser reports the pair's usage count, zero when never used.
func (r *PromotionUsageRepository) CountForUser(ctx context.Context, promoID string, userID string) (int, error) {
	if r == nil || r.base == nil {
		return 0, errors.New("promotion usage repository not initialised")
	}
	docID, err := promotionUsageDocID(promoID, userID)
	if err != nil {
		return 0, err
	}

	record, err := r.base.Get(ctx, docID)
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return 0, nil
		}
		return 0, err
	}
	return record.Data.Count, nil
}

func promotionUsageDocID(promoID string, userID string) (string, error) {
	promo := strings.TrimSpace(promoID)
	user := strings.TrimSpace(userID)
	if promo == "" || user == "" {
		return "", errors.New("promotion usage repository: promotion id and user id are required")
	}
	return fmt.Sprintf("%s_%s", promo, user), nil
}

type promotionUsageDocument struct {
	PromoRef  string    `firestore:"promoRef"`
	UserRef   string    `firestore:"userRef"`
	Count     int       `firestore:"count"`
	FirstUsed time.Time `firestore:"firstUsed"`
	LastUsed  time.Time `firestore:"lastUsed"`
}

var _ repositories.PromotionUsageRepository = (*PromotionUsageRepository)(nil)
