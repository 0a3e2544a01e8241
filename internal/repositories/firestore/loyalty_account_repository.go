package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/star-cafe/api/internal/domain"
	pfirestore "github.com/star-cafe/api/internal/platform/firestore"
	"github.com/star-cafe/api/internal/repositories"
)

const loyaltyAccountCollection = "loyaltyAccounts"

// LoyaltyAccountRepository stores one balance document per user. Point
// mutations run inside transactions so concurrent accruals and redemptions
// never lose increments.
type LoyaltyAccountRepository struct {
	base     *pfirestore.BaseRepository[loyaltyAccountDocument]
	provider *pfirestore.Provider
}

// NewLoyaltyAccountRepository constructs a Firestore-backed loyalty repository.
func NewLoyaltyAccountRepository(provider *pfirestore.Provider) (*LoyaltyAccountRepository, error) {
	if provider == nil {
		return nil, errors.New("loyalty account repository requires firestore provider")
	}
	return &LoyaltyAccountRepository{
		base:     pfirestore.NewBaseRepository[loyaltyAccountDocument](provider, loyaltyAccountCollection, nil, nil),
		provider: provider,
	}, nil
}

// Get loads the account for the user.
func (r *LoyaltyAccountRepository) Get(ctx context.Context, userID string) (domain.LoyaltyAccount, error) {
	if r == nil || r.base == nil {
		return domain.LoyaltyAccount{}, errors.New("loyalty account repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.LoyaltyAccount{}, errors.New("loyalty account repository: user id is required")
	}
	record, err := r.base.Get(ctx, uid)
	if err != nil {
		return domain.LoyaltyAccount{}, err
	}
	return decodeLoyaltyAccount(uid, record.Data), nil
}

// Upsert writes the account document as-is.
func (r *LoyaltyAccountRepository) Upsert(ctx context.Context, account domain.LoyaltyAccount) (domain.LoyaltyAccount, error) {
	if r == nil || r.base == nil {
		return domain.LoyaltyAccount{}, errors.New("loyalty account repository not initialised")
	}
	uid := strings.TrimSpace(account.UserID)
	if uid == "" {
		return domain.LoyaltyAccount{}, errors.New("loyalty account repository: user id is required")
	}
	doc := encodeLoyaltyAccount(account)
	if _, err := r.base.Set(ctx, uid, doc); err != nil {
		return domain.LoyaltyAccount{}, err
	}
	return decodeLoyaltyAccount(uid, doc), nil
}

// AddPoints increments the balance and lifetime spend transactionally,
// creating the account on first accrual.
func (r *LoyaltyAccountRepository) AddPoints(ctx context.Context, userID string, points int64, spendDelta int64, now time.Time) (domain.LoyaltyAccount, error) {
	if r == nil || r.provider == nil {
		return domain.LoyaltyAccount{}, errors.New("loyalty account repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.LoyaltyAccount{}, errors.New("loyalty account repository: user id is required")
	}

	now = now.UTC()
	var updated domain.LoyaltyAccount

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, uid)
		if err != nil {
			return err
		}
		doc, err := r.loadForUpdate(tx, ref, now)
		if err != nil {
			return err
		}

		doc.PointBalance += points
		doc.LifetimeSpend += spendDelta
		doc.UpdatedAt = now

		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		updated = decodeLoyaltyAccount(uid, doc)
		return nil
	})
	if err != nil {
		return domain.LoyaltyAccount{}, pfirestore.WrapError("loyalty_accounts.add_points", err)
	}
	return updated, nil
}

// ApplyRedemption deducts the reward cost and records the redemption keyed by
// order ID in one transaction. A redemption already recorded for the order
// fails with a conflict so callers can treat the retry as a replay.
func (r *LoyaltyAccountRepository) ApplyRedemption(ctx context.Context, userID string, record domain.RedemptionRecord) (domain.LoyaltyAccount, error) {
	if r == nil || r.provider == nil {
		return domain.LoyaltyAccount{}, errors.New("loyalty account repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	orderID := strings.TrimSpace(record.OrderID)
	if uid == "" || orderID == "" {
		return domain.LoyaltyAccount{}, errors.New("loyalty account repository: user id and order id are required")
	}

	now := record.RedeemedAt.UTC()
	var updated domain.LoyaltyAccount

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, uid)
		if err != nil {
			return err
		}
		doc, err := r.loadForUpdate(tx, ref, now)
		if err != nil {
			return err
		}

		if _, exists := doc.Redemptions[orderID]; exists {
			return status.Errorf(codes.AlreadyExists, "redemption for order %s already recorded", orderID)
		}
		if doc.PointBalance < record.PointCost {
			return status.Errorf(codes.FailedPrecondition, "balance %d below cost %d", doc.PointBalance, record.PointCost)
		}

		doc.PointBalance -= record.PointCost
		if doc.Redemptions == nil {
			doc.Redemptions = make(map[string]redemptionDocument, 1)
		}
		doc.Redemptions[orderID] = redemptionDocument{
			RewardID:   record.RewardID,
			PointCost:  record.PointCost,
			RedeemedAt: now,
		}
		doc.UpdatedAt = now

		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		updated = decodeLoyaltyAccount(uid, doc)
		return nil
	})
	if err != nil {
		return domain.LoyaltyAccount{}, pfirestore.WrapError("loyalty_accounts.apply_redemption", err)
	}
	return updated, nil
}

func (r *LoyaltyAccountRepository) loadForUpdate(tx *firestore.Transaction, ref *firestore.DocumentRef, now time.Time) (loyaltyAccountDocument, error) {
	snapshot, err := tx.Get(ref)
	if err != nil {
		if isStatusNotFound(err) {
			return loyaltyAccountDocument{CreatedAt: now}, nil
		}
		return loyaltyAccountDocument{}, err
	}
	var doc loyaltyAccountDocument
	if err := snapshot.DataTo(&doc); err != nil {
		return loyaltyAccountDocument{}, err
	}
	return doc, nil
}

type loyaltyAccountDocument struct {
	PointBalance  int64                         `firestore:"pointBalance"`
	LifetimeSpend int64                         `firestore:"lifetimeSpend"`
	Redemptions   map[string]redemptionDocument `firestore:"redemptions,omitempty"`
	CreatedAt     time.Time                     `firestore:"createdAt"`
	UpdatedAt     time.Time                     `firestore:"updatedAt"`
}

type redemptionDocument struct {
	RewardID   string    `firestore:"rewardId"`
	PointCost  int64     `firestore:"pointCost"`
	RedeemedAt time.Time `firestore:"redeemedAt"`
}

func encodeLoyaltyAccount(account domain.LoyaltyAccount) loyaltyAccountDocument {
	doc := loyaltyAccountDocument{
		PointBalance:  account.PointBalance,
		LifetimeSpend: account.LifetimeSpend,
		CreatedAt:     account.CreatedAt.UTC(),
		UpdatedAt:     account.UpdatedAt.UTC(),
	}
	if len(account.Redemptions) > 0 {
		doc.Redemptions = make(map[string]redemptionDocument, len(account.Redemptions))
		for orderID, rec := range account.Redemptions {
			doc.Redemptions[orderID] = redemptionDocument{
				RewardID:   rec.RewardID,
				PointCost:  rec.PointCost,
				RedeemedAt: rec.RedeemedAt.UTC(),
			}
		}
	}
	return doc
}

func decodeLoyaltyAccount(userID string, doc loyaltyAccountDocument) domain.LoyaltyAccount {
	account := domain.LoyaltyAccount{
		UserID:        userID,
		PointBalance:  doc.PointBalance,
		LifetimeSpend: doc.LifetimeSpend,
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
	}
	if len(doc.Redemptions) > 0 {
		account.Redemptions = make(map[string]domain.RedemptionRecord, len(doc.Redemptions))
		for orderID, rec := range doc.Redemptions {
			account.Redemptions[orderID] = domain.RedemptionRecord{
				OrderID:    orderID,
				RewardID:   rec.RewardID,
				PointCost:  rec.PointCost,
				RedeemedAt: rec.RedeemedAt,
			}
		}
	}
	return account
}

var _ repositories.LoyaltyAccountRepository = (*LoyaltyAccountRepository)(nil)
