package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	domain "github.com/star-cafe/api/internal/domain"
	"github.com/star-cafe/api/internal/repositories"
)

var (
	// ErrLoyaltyInvalidInput signals malformed loyalty requests such as negative totals.
	ErrLoyaltyInvalidInput = errors.New("loyalty service: invalid input")
	// ErrLoyaltyAccountNotFound indicates no account exists for the user.
	ErrLoyaltyAccountNotFound = errors.New("loyalty service: account not found")
	// ErrLoyaltyRewardNotFound indicates the requested reward is not in the catalog.
	ErrLoyaltyRewardNotFound = errors.New("loyalty service: reward not found")
	// ErrLoyaltyInsufficientPoints indicates the balance cannot cover the reward.
	ErrLoyaltyInsufficientPoints = errors.New("loyalty service: insufficient points")
)

// LoyaltyServiceDeps bundles dependencies for the loyalty service.
type LoyaltyServiceDeps struct {
	Accounts repositories.LoyaltyAccountRepository
	Tiers    TierTable
	Rewards  []Reward
	Clock    func() time.Time
	Logger   func(context.Context, string, map[string]any)
}

type loyaltyService struct {
	accounts repositories.LoyaltyAccountRepository
	tiers    TierTable
	rewards  []Reward
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewLoyaltyService wires a LoyaltyService over the account repository and the
// configured tier table and reward catalog.
func NewLoyaltyService(deps LoyaltyServiceDeps) (LoyaltyService, error) {
	if deps.Accounts == nil {
		return nil, errors.New("loyalty service: account repository is required")
	}
	if deps.Tiers.Len() == 0 {
		return nil, errors.New("loyalty service: tier table is required")
	}
	for _, reward := range deps.Rewards {
		if reward.PointCost < 0 || reward.Value < 0 {
			return nil, fmt.Errorf("loyalty service: reward %s has negative cost or value", reward.ID)
		}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	rewards := make([]Reward, len(deps.Rewards))
	copy(rewards, deps.Rewards)
	sort.Slice(rewards, func(i, j int) bool { return rewards[i].PointCost < rewards[j].PointCost })
	return &loyaltyService{
		accounts: deps.Accounts,
		tiers:    deps.Tiers,
		rewards:  rewards,
		clock:    func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

// ResolveLoyaltyState is the pure projection at the heart of the loyalty
// surface. It maps a monetary total and point balance onto a tier, projected
// earnings, progress toward the next tier, and the reward subsets that are
// affordable now or after the current order. It never mutates anything.
func ResolveLoyaltyState(orderTotal, pointBalance int64, tiers TierTable, catalog []Reward) LoyaltyState {
	current, next := tiers.Resolve(orderTotal)

	pointsEarned := orderTotal * current.MultiplierBps / 10000

	state := LoyaltyState{
		TierName:      current.Name,
		TierThreshold: current.Threshold,
		MultiplierBps: current.MultiplierBps,
		PointBalance:  pointBalance,
		PointsEarned:  pointsEarned,
	}

	if next == nil {
		state.ProgressPercent = 100
		state.PointsToNextTier = 0
	} else {
		state.NextTierName = next.Name
		state.NextTierThreshold = next.Threshold
		remaining := next.Threshold - orderTotal
		if remaining < 0 {
			remaining = 0
		}
		state.PointsToNextTier = remaining

		span := next.Threshold - current.Threshold
		progress := 0
		if span > 0 {
			progress = int((orderTotal - current.Threshold) * 100 / span)
		}
		if progress < 0 {
			progress = 0
		}
		if progress > 100 {
			progress = 100
		}
		state.ProgressPercent = progress
	}

	for _, reward := range catalog {
		switch {
		case reward.PointCost <= pointBalance:
			state.RedeemableNow = append(state.RedeemableNow, reward)
		case reward.PointCost <= pointBalance+pointsEarned:
			state.UnlockingSoon = append(state.UnlockingSoon, reward)
		}
	}
	return state
}

func (s *loyaltyService) GetAccount(ctx context.Context, userID string) (LoyaltyAccount, error) {
	if strings.TrimSpace(userID) == "" {
		return LoyaltyAccount{}, fmt.Errorf("%w: user id required", ErrLoyaltyInvalidInput)
	}
	account, err := s.accounts.Get(ctx, userID)
	if err != nil {
		if repoErr, ok := asRepositoryError(err); ok && repoErr.IsNotFound() {
			// First touch creates an empty account.
			now := s.clock()
			return s.accounts.Upsert(ctx, domain.LoyaltyAccount{
				UserID:    userID,
				CreatedAt: now,
				UpdatedAt: now,
			})
		}
		return LoyaltyAccount{}, err
	}
	return account, nil
}

func (s *loyaltyService) ResolveState(ctx context.Context, cmd ResolveLoyaltyCommand) (LoyaltyState, error) {
	if cmd.OrderTotal < 0 {
		return LoyaltyState{}, fmt.Errorf("%w: order total cannot be negative", ErrLoyaltyInvalidInput)
	}
	account, err := s.GetAccount(ctx, cmd.UserID)
	if err != nil {
		return LoyaltyState{}, err
	}
	return ResolveLoyaltyState(cmd.OrderTotal, account.PointBalance, s.tiers, s.rewards), nil
}

func (s *loyaltyService) ListRewards(ctx context.Context) ([]Reward, error) {
	out := make([]Reward, len(s.rewards))
	copy(out, s.rewards)
	return out, nil
}

func (s *loyaltyService) AccruePoints(ctx context.Context, cmd AccruePointsCommand) (LoyaltyAccount, error) {
	if strings.TrimSpace(cmd.UserID) == "" {
		return LoyaltyAccount{}, fmt.Errorf("%w: user id required", ErrLoyaltyInvalidInput)
	}
	if cmd.OrderTotal < 0 {
		return LoyaltyAccount{}, fmt.Errorf("%w: order total cannot be negative", ErrLoyaltyInvalidInput)
	}
	account, err := s.GetAccount(ctx, cmd.UserID)
	if err != nil {
		return LoyaltyAccount{}, err
	}

	current, _ := s.tiers.Resolve(account.LifetimeSpend)
	points := cmd.OrderTotal * current.MultiplierBps / 10000

	updated, err := s.accounts.AddPoints(ctx, cmd.UserID, points, cmd.OrderTotal, s.clock())
	if err != nil {
		return LoyaltyAccount{}, err
	}
	s.logger(ctx, "loyalty_points_accrued", map[string]any{
		"userId":  cmd.UserID,
		"orderId": cmd.OrderID,
		"points":  points,
	})
	return updated, nil
}

// RedeemReward deducts the reward's cost exactly once per order. The
// repository records the redemption keyed by order ID inside the same
// transaction as the deduction; a retry with the same order ID returns the
// account unchanged.
func (s *loyaltyService) RedeemReward(ctx context.Context, cmd RedeemRewardCommand) (LoyaltyAccount, error) {
	if strings.TrimSpace(cmd.UserID) == "" || strings.TrimSpace(cmd.OrderID) == "" {
		return LoyaltyAccount{}, fmt.Errorf("%w: user id and order id required", ErrLoyaltyInvalidInput)
	}
	reward, ok := s.findReward(cmd.RewardID)
	if !ok {
		return LoyaltyAccount{}, fmt.Errorf("%w: %s", ErrLoyaltyRewardNotFound, cmd.RewardID)
	}
	cost := reward.PointCost
	if cmd.PointCost > 0 {
		cost = cmd.PointCost
	}

	account, err := s.GetAccount(ctx, cmd.UserID)
	if err != nil {
		return LoyaltyAccount{}, err
	}
	if existing, done := account.Redemptions[cmd.OrderID]; done {
		s.logger(ctx, "loyalty_redemption_replayed", map[string]any{
			"userId":   cmd.UserID,
			"orderId":  cmd.OrderID,
			"rewardId": existing.RewardID,
		})
		return account, nil
	}
	if account.PointBalance < cost {
		return LoyaltyAccount{}, fmt.Errorf("%w: balance %d, need %d", ErrLoyaltyInsufficientPoints, account.PointBalance, cost)
	}

	updated, err := s.accounts.ApplyRedemption(ctx, cmd.UserID, domain.RedemptionRecord{
		OrderID:    cmd.OrderID,
		RewardID:   reward.ID,
		PointCost:  cost,
		RedeemedAt: s.clock(),
	})
	if err != nil {
		if repoErr, ok := asRepositoryError(err); ok && repoErr.IsConflict() {
			// Lost the race to a concurrent finalize of the same order.
			return s.GetAccount(ctx, cmd.UserID)
		}
		return LoyaltyAccount{}, err
	}
	s.logger(ctx, "loyalty_reward_redeemed", map[string]any{
		"userId":   cmd.UserID,
		"orderId":  cmd.OrderID,
		"rewardId": reward.ID,
		"cost":     cost,
	})
	return updated, nil
}

func (s *loyaltyService) findReward(rewardID string) (Reward, bool) {
	for _, reward := range s.rewards {
		if reward.ID == rewardID {
			return reward, true
		}
	}
	return Reward{}, false
}
