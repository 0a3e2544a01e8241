package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/star-cafe/api/internal/domain"
	"github.com/star-cafe/api/internal/repositories"
)

// PromotionServiceDeps bundles dependencies required to construct a PromotionAdminService.
type PromotionServiceDeps struct {
	Promotions repositories.PromotionRepository
	Usage      repositories.PromotionUsageRepository
	Clock      func() time.Time
	IDGen      func() string
}

type promotionService struct {
	repo  repositories.PromotionRepository
	usage repositories.PromotionUsageRepository
	clock func() time.Time
	idGen func() string
}

// NewPromotionService wires a PromotionAdminService backed by the provided repositories.
func NewPromotionService(deps PromotionServiceDeps) (PromotionAdminService, error) {
	if deps.Promotions == nil {
		return nil, ErrPromotionRepositoryMissing
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGen
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	return &promotionService{
		repo:  deps.Promotions,
		usage: deps.Usage,
		clock: func() time.Time { return clock().UTC() },
		idGen: idGen,
	}, nil
}

func (s *promotionService) ValidatePromotion(ctx context.Context, cmd ValidatePromotionCommand) (PromotionValidationResult, error) {
	normalized := strings.ToUpper(strings.TrimSpace(cmd.Code))
	if normalized == "" {
		return PromotionValidationResult{}, ErrPromotionInvalidCode
	}

	promotion, err := s.repo.FindByCode(ctx, normalized)
	if err != nil {
		if repoErr, ok := asRepositoryError(err); ok && repoErr.IsNotFound() {
			return PromotionValidationResult{Code: normalized, Eligible: false, Reason: "not found"}, nil
		}
		return PromotionValidationResult{}, err
	}

	now := s.clock()
	result := PromotionValidationResult{Code: promotion.Code}

	switch {
	case promotion.Status != domain.PromotionStatusActive:
		result.Reason = "inactive"
	case !promotion.StartsAt.IsZero() && now.Before(promotion.StartsAt):
		result.Reason = "not started"
	case !promotion.EndsAt.IsZero() && now.After(promotion.EndsAt):
		result.Reason = "expired"
	case promotion.UsageLimit != nil && promotion.UsageCount >= *promotion.UsageLimit:
		result.Reason = "usage limit reached"
	default:
		result.Eligible = true
		result.Reason = promotion.Description
		result.DiscountAmount = promotion.DiscountAmount
	}
	return result, nil
}

func (s *promotionService) GetPromotionByCode(ctx context.Context, code string) (Promotion, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return Promotion{}, ErrPromotionInvalidCode
	}
	promotion, err := s.repo.FindByCode(ctx, normalized)
	if err != nil {
		if repoErr, ok := asRepositoryError(err); ok && repoErr.IsNotFound() {
			return Promotion{}, ErrPromotionNotFound
		}
		return Promotion{}, err
	}
	return promotion, nil
}

func (s *promotionService) RecordUsage(ctx context.Context, cmd RecordPromotionUsageCommand) error {
	normalized := strings.ToUpper(strings.TrimSpace(cmd.Code))
	if normalized == "" {
		return ErrPromotionInvalidCode
	}
	promotion, err := s.repo.FindByCode(ctx, normalized)
	if err != nil {
		if repoErr, ok := asRepositoryError(err); ok && repoErr.IsNotFound() {
			return ErrPromotionNotFound
		}
		return err
	}
	if s.usage != nil && strings.TrimSpace(cmd.UserID) != "" {
		if _, err := s.usage.IncrementUsage(ctx, promotion.ID, cmd.UserID, s.clock()); err != nil {
			return err
		}
	}
	promotion.UsageCount++
	promotion.UpdatedAt = s.clock()
	return s.repo.Update(ctx, promotion)
}

func (s *promotionService) ListPromotions(ctx context.Context, filter PromotionListFilter) (domain.CursorPage[Promotion], error) {
	statuses := make([]string, 0, len(filter.Status))
	for _, status := range filter.Status {
		statuses = append(statuses, string(status))
	}
	return s.repo.List(ctx, repositories.PromotionListFilter{
		Status:     statuses,
		Pagination: filter.Pagination,
	})
}

func (s *promotionService) CreatePromotion(ctx context.Context, cmd UpsertPromotionCommand) (Promotion, error) {
	promotion := cmd.Promotion
	if err := validatePromotionInput(promotion); err != nil {
		return Promotion{}, err
	}
	now := s.clock()
	promotion.ID = s.idGen()
	promotion.Code = strings.ToUpper(strings.TrimSpace(promotion.Code))
	if promotion.Status == "" {
		promotion.Status = domain.PromotionStatusActive
	}
	promotion.UsageCount = 0
	promotion.CreatedAt = now
	promotion.UpdatedAt = now

	if err := s.repo.Insert(ctx, promotion); err != nil {
		if repoErr, ok := asRepositoryError(err); ok && repoErr.IsConflict() {
			return Promotion{}, fmt.Errorf("%w: code %s", ErrPromotionConflict, promotion.Code)
		}
		return Promotion{}, err
	}
	return promotion, nil
}

func (s *promotionService) UpdatePromotion(ctx context.Context, cmd UpsertPromotionCommand) (Promotion, error) {
	promotion := cmd.Promotion
	if strings.TrimSpace(promotion.ID) == "" {
		return Promotion{}, fmt.Errorf("%w: promotion id required", ErrPromotionInvalidInput)
	}
	if err := validatePromotionInput(promotion); err != nil {
		return Promotion{}, err
	}
	promotion.Code = strings.ToUpper(strings.TrimSpace(promotion.Code))
	promotion.UpdatedAt = s.clock()
	if err := s.repo.Update(ctx, promotion); err != nil {
		if repoErr, ok := asRepositoryError(err); ok {
			switch {
			case repoErr.IsNotFound():
				return Promotion{}, ErrPromotionNotFound
			case repoErr.IsConflict():
				return Promotion{}, ErrPromotionConflict
			}
		}
		return Promotion{}, err
	}
	return promotion, nil
}

func (s *promotionService) DeletePromotion(ctx context.Context, promoID string) error {
	if strings.TrimSpace(promoID) == "" {
		return fmt.Errorf("%w: promotion id required", ErrPromotionInvalidInput)
	}
	if err := s.repo.Delete(ctx, promoID); err != nil {
		if repoErr, ok := asRepositoryError(err); ok && repoErr.IsNotFound() {
			return ErrPromotionNotFound
		}
		return err
	}
	return nil
}

func validatePromotionInput(promotion Promotion) error {
	if strings.TrimSpace(promotion.Code) == "" {
		return fmt.Errorf("%w: code required", ErrPromotionInvalidInput)
	}
	if promotion.DiscountAmount < 0 {
		return fmt.Errorf("%w: discount amount cannot be negative", ErrPromotionInvalidInput)
	}
	if promotion.MinSubtotal < 0 {
		return fmt.Errorf("%w: minimum subtotal cannot be negative", ErrPromotionInvalidInput)
	}
	if !promotion.StartsAt.IsZero() && !promotion.EndsAt.IsZero() && promotion.EndsAt.Before(promotion.StartsAt) {
		return fmt.Errorf("%w: window ends before it starts", ErrPromotionInvalidInput)
	}
	if promotion.UsageLimit != nil && *promotion.UsageLimit < 0 {
		return fmt.Errorf("%w: usage limit cannot be negative", ErrPromotionInvalidInput)
	}
	return nil
}

func asRepositoryError(err error) (repositories.RepositoryError, bool) {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr, true
	}
	return nil, false
}
