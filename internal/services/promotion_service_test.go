package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/star-cafe/api/internal/domain"
	"github.com/star-cafe/api/internal/repositories"
)

type fakePromoRepo struct {
	promotion  domain.Promotion
	findErr    error
	insertErr  error
	updateErr  error
	deleteErr  error
	lastCode   string
	inserted   []domain.Promotion
	updated    []domain.Promotion
	deletedIDs []string
}

func (f *fakePromoRepo) Insert(_ context.Context, promotion domain.Promotion) error {
	f.inserted = append(f.inserted, promotion)
	return f.insertErr
}

func (f *fakePromoRepo) Update(_ context.Context, promotion domain.Promotion) error {
	f.updated = append(f.updated, promotion)
	return f.updateErr
}

func (f *fakePromoRepo) Delete(_ context.Context, promotionID string) error {
	f.deletedIDs = append(f.deletedIDs, promotionID)
	return f.deleteErr
}

func (f *fakePromoRepo) FindByCode(_ context.Context, code string) (domain.Promotion, error) {
	f.lastCode = code
	if f.findErr != nil {
		return domain.Promotion{}, f.findErr
	}
	return f.promotion, nil
}

func (f *fakePromoRepo) List(context.Context, repositories.PromotionListFilter) (domain.CursorPage[domain.Promotion], error) {
	return domain.CursorPage[domain.Promotion]{}, errors.New("not implemented")
}

type fakePromoUsage struct {
	increments int
	lastUser   string
}

func (f *fakePromoUsage) IncrementUsage(_ context.Context, _ string, userID string, _ time.Time) (int, error) {
	f.increments++
	f.lastUser = userID
	return f.increments, nil
}

func (f *fakePromoUsage) CountForUser(context.Context, string, string) (int, error) {
	return f.increments, nil
}

type promoRepoErr struct {
	notFound bool
	conflict bool
}

func (e *promoRepoErr) Error() string       { return "promotion repo error" }
func (e *promoRepoErr) IsNotFound() bool    { return e.notFound }
func (e *promoRepoErr) IsConflict() bool    { return e.conflict }
func (e *promoRepoErr) IsUnavailable() bool { return false }

var promoNow = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

func newPromoService(t *testing.T, repo *fakePromoRepo, usage repositories.PromotionUsageRepository) PromotionAdminService {
	t.Helper()
	svc, err := NewPromotionService(PromotionServiceDeps{
		Promotions: repo,
		Usage:      usage,
		Clock:      func() time.Time { return promoNow },
		IDGen:      func() string { return "promo_fixed" },
	})
	if err != nil {
		t.Fatalf("NewPromotionService: %v", err)
	}
	return svc
}

func TestPromotionServiceValidateNormalizesCode(t *testing.T) {
	repo := &fakePromoRepo{
		promotion: domain.Promotion{
			Code:           "OATMILK10",
			Status:         domain.PromotionStatusActive,
			Description:    "10% off oat milk drinks",
			DiscountAmount: 120,
			StartsAt:       promoNow.Add(-time.Hour),
			EndsAt:         promoNow.Add(48 * time.Hour),
		},
	}
	svc := newPromoService(t, repo, nil)

	result, err := svc.ValidatePromotion(context.Background(), ValidatePromotionCommand{Code: " oatmilk10 "})
	if err != nil {
		t.Fatalf("ValidatePromotion: %v", err)
	}
	if repo.lastCode != "OATMILK10" {
		t.Fatalf("repository looked up %q, want OATMILK10", repo.lastCode)
	}
	if !result.Eligible {
		t.Fatalf("expected eligible result, got reason %q", result.Reason)
	}
	if result.DiscountAmount != 120 {
		t.Fatalf("expected discount 120, got %d", result.DiscountAmount)
	}
}

func TestPromotionServiceValidateIneligibleReasons(t *testing.T) {
	limit := 50
	cases := []struct {
		name      string
		promotion domain.Promotion
		reason    string
	}{
		{
			name:      "paused",
			promotion: domain.Promotion{Code: "COLDBREW5", Status: domain.PromotionStatusPaused},
			reason:    "inactive",
		},
		{
			name: "not started",
			promotion: domain.Promotion{
				Code:     "SUMMERSIP",
				Status:   domain.PromotionStatusActive,
				StartsAt: promoNow.Add(time.Hour),
				EndsAt:   promoNow.Add(24 * time.Hour),
			},
			reason: "not started",
		},
		{
			name: "expired",
			promotion: domain.Promotion{
				Code:     "WINTERWARM",
				Status:   domain.PromotionStatusActive,
				StartsAt: promoNow.Add(-48 * time.Hour),
				EndsAt:   promoNow.Add(-time.Hour),
			},
			reason: "expired",
		},
		{
			name: "usage limit reached",
			promotion: domain.Promotion{
				Code:       "DOUBLESTAR",
				Status:     domain.PromotionStatusActive,
				UsageLimit: &limit,
				UsageCount: 50,
			},
			reason: "usage limit reached",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &fakePromoRepo{promotion: tc.promotion}
			svc := newPromoService(t, repo, nil)

			result, err := svc.ValidatePromotion(context.Background(), ValidatePromotionCommand{Code: tc.promotion.Code})
			if err != nil {
				t.Fatalf("ValidatePromotion: %v", err)
			}
			if result.Eligible {
				t.Fatalf("expected ineligible result")
			}
			if result.Reason != tc.reason {
				t.Fatalf("expected reason %q, got %q", tc.reason, result.Reason)
			}
		})
	}
}

func TestPromotionServiceValidateUnknownCode(t *testing.T) {
	repo := &fakePromoRepo{findErr: &promoRepoErr{notFound: true}}
	svc := newPromoService(t, repo, nil)

	result, err := svc.ValidatePromotion(context.Background(), ValidatePromotionCommand{Code: "NOPE"})
	if err != nil {
		t.Fatalf("ValidatePromotion: %v", err)
	}
	if result.Eligible || result.Reason != "not found" {
		t.Fatalf("expected not-found result, got %+v", result)
	}
}

func TestPromotionServiceGetPromotionByCodeNotFound(t *testing.T) {
	repo := &fakePromoRepo{findErr: &promoRepoErr{notFound: true}}
	svc := newPromoService(t, repo, nil)

	if _, err := svc.GetPromotionByCode(context.Background(), "MISSING"); !errors.Is(err, ErrPromotionNotFound) {
		t.Fatalf("expected ErrPromotionNotFound, got %v", err)
	}
	if _, err := svc.GetPromotionByCode(context.Background(), "  "); !errors.Is(err, ErrPromotionInvalidCode) {
		t.Fatalf("expected ErrPromotionInvalidCode for blank code, got %v", err)
	}
}

func TestPromotionServiceRecordUsage(t *testing.T) {
	repo := &fakePromoRepo{
		promotion: domain.Promotion{
			ID:         "promo_spring",
			Code:       "OATMILK10",
			Status:     domain.PromotionStatusActive,
			UsageCount: 3,
		},
	}
	usage := &fakePromoUsage{}
	svc := newPromoService(t, repo, usage)

	err := svc.RecordUsage(context.Background(), RecordPromotionUsageCommand{
		Code:    "oatmilk10",
		UserID:  "cust_001",
		OrderID: "ord_900",
	})
	if err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	if usage.increments != 1 || usage.lastUser != "cust_001" {
		t.Fatalf("expected one usage increment for cust_001, got %d for %q", usage.increments, usage.lastUser)
	}
	if len(repo.updated) != 1 {
		t.Fatalf("expected one repository update, got %d", len(repo.updated))
	}
	if repo.updated[0].UsageCount != 4 {
		t.Fatalf("expected usage count 4, got %d", repo.updated[0].UsageCount)
	}
	if !repo.updated[0].UpdatedAt.Equal(promoNow) {
		t.Fatalf("expected updatedAt %s, got %s", promoNow, repo.updated[0].UpdatedAt)
	}
}

func TestPromotionServiceCreatePromotion(t *testing.T) {
	repo := &fakePromoRepo{}
	svc := newPromoService(t, repo, nil)

	created, err := svc.CreatePromotion(context.Background(), UpsertPromotionCommand{
		Promotion: domain.Promotion{
			Code:           " springsip ",
			Name:           "Spring Sips",
			DiscountAmount: 200,
		},
		ActorID: "staff_07",
	})
	if err != nil {
		t.Fatalf("CreatePromotion: %v", err)
	}
	if created.ID != "promo_fixed" {
		t.Fatalf("expected generated id, got %q", created.ID)
	}
	if created.Code != "SPRINGSIP" {
		t.Fatalf("expected normalized code SPRINGSIP, got %q", created.Code)
	}
	if created.Status != domain.PromotionStatusActive {
		t.Fatalf("expected default active status, got %s", created.Status)
	}
	if !created.CreatedAt.Equal(promoNow) || !created.UpdatedAt.Equal(promoNow) {
		t.Fatalf("expected timestamps pinned to clock, got %s / %s", created.CreatedAt, created.UpdatedAt)
	}
}

func TestPromotionServiceCreatePromotionRejectsBadInput(t *testing.T) {
	repo := &fakePromoRepo{}
	svc := newPromoService(t, repo, nil)

	_, err := svc.CreatePromotion(context.Background(), UpsertPromotionCommand{
		Promotion: domain.Promotion{Code: "NEGATIVE", DiscountAmount: -50},
	})
	if !errors.Is(err, ErrPromotionInvalidInput) {
		t.Fatalf("expected ErrPromotionInvalidInput, got %v", err)
	}

	_, err = svc.CreatePromotion(context.Background(), UpsertPromotionCommand{
		Promotion: domain.Promotion{
			Code:     "BACKWARDS",
			StartsAt: promoNow,
			EndsAt:   promoNow.Add(-time.Hour),
		},
	})
	if !errors.Is(err, ErrPromotionInvalidInput) {
		t.Fatalf("expected ErrPromotionInvalidInput for inverted window, got %v", err)
	}
}

func TestPromotionServiceCreatePromotionConflict(t *testing.T) {
	repo := &fakePromoRepo{insertErr: &promoRepoErr{conflict: true}}
	svc := newPromoService(t, repo, nil)

	_, err := svc.CreatePromotion(context.Background(), UpsertPromotionCommand{
		Promotion: domain.Promotion{Code: "OATMILK10"},
	})
	if !errors.Is(err, ErrPromotionConflict) {
		t.Fatalf("expected ErrPromotionConflict, got %v", err)
	}
}

func TestPromotionServiceUpdateAndDeleteErrors(t *testing.T) {
	repo := &fakePromoRepo{updateErr: &promoRepoErr{notFound: true}, deleteErr: &promoRepoErr{notFound: true}}
	svc := newPromoService(t, repo, nil)

	_, err := svc.UpdatePromotion(context.Background(), UpsertPromotionCommand{
		Promotion: domain.Promotion{ID: "promo_gone", Code: "GONE"},
	})
	if !errors.Is(err, ErrPromotionNotFound) {
		t.Fatalf("expected ErrPromotionNotFound on update, got %v", err)
	}

	if err := svc.DeletePromotion(context.Background(), "promo_gone"); !errors.Is(err, ErrPromotionNotFound) {
		t.Fatalf("expected ErrPromotionNotFound on delete, got %v", err)
	}
	if err := svc.DeletePromotion(context.Background(), "  "); !errors.Is(err, ErrPromotionInvalidInput) {
		t.Fatalf("expected ErrPromotionInvalidInput for blank id, got %v", err)
	}
}
