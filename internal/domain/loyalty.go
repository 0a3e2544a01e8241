package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrInvalidTierTable is returned when a tier table fails validation.
var ErrInvalidTierTable = errors.New("domain: invalid loyalty tier table")

// LoyaltyTier is one row of the ordered tier table. Threshold is the
// cumulative spend (minor units) at which the tier unlocks; the bound is
// inclusive. Multiplier is points earned per minor unit spent, expressed in
// basis points (10000 = 1 point per unit).
type LoyaltyTier struct {
	Name          string
	Threshold     int64
	MultiplierBps int64
}

// TierTable is an ordered list of loyalty tiers, lowest threshold first.
type TierTable struct {
	tiers []LoyaltyTier
}

// NewTierTable validates and freezes a tier table. Thresholds must be
// strictly increasing, the first threshold must be zero so every total
// resolves to some tier, and multipliers must be non-negative.
func NewTierTable(tiers []LoyaltyTier) (TierTable, error) {
	if len(tiers) == 0 {
		return TierTable{}, fmt.Errorf("%w: empty", ErrInvalidTierTable)
	}
	sorted := make([]LoyaltyTier, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Threshold < sorted[j].Threshold })
	if sorted[0].Threshold != 0 {
		return TierTable{}, fmt.Errorf("%w: first threshold must be 0, got %d", ErrInvalidTierTable, sorted[0].Threshold)
	}
	for i, tier := range sorted {
		if strings.TrimSpace(tier.Name) == "" {
			return TierTable{}, fmt.Errorf("%w: tier %d has no name", ErrInvalidTierTable, i)
		}
		if tier.MultiplierBps < 0 {
			return TierTable{}, fmt.Errorf("%w: tier %q has negative multiplier", ErrInvalidTierTable, tier.Name)
		}
		if i > 0 && tier.Threshold <= sorted[i-1].Threshold {
			return TierTable{}, fmt.Errorf("%w: thresholds not strictly increasing at %q", ErrInvalidTierTable, tier.Name)
		}
	}
	return TierTable{tiers: sorted}, nil
}

// Tiers returns a copy of the ordered tier rows.
func (t TierTable) Tiers() []LoyaltyTier {
	out := make([]LoyaltyTier, len(t.tiers))
	copy(out, t.tiers)
	return out
}

// Len reports the number of tiers in the table.
func (t TierTable) Len() int {
	return len(t.tiers)
}

// Resolve returns the highest tier whose threshold is <= total, plus the next
// tier if one exists. Totals below the lowest threshold resolve to the lowest
// tier.
func (t TierTable) Resolve(total int64) (current LoyaltyTier, next *LoyaltyTier) {
	if len(t.tiers) == 0 {
		return LoyaltyTier{}, nil
	}
	idx := 0
	for i, tier := range t.tiers {
		if tier.Threshold <= total {
			idx = i
		}
	}
	current = t.tiers[idx]
	if idx+1 < len(t.tiers) {
		n := t.tiers[idx+1]
		next = &n
	}
	return current, next
}

// Reward is a catalog entry exchangeable for loyalty points.
type Reward struct {
	ID        string
	Label     string
	PointCost int64
	Value     int64
}

// LoyaltyState is the derived view of a member's loyalty position. It is a
// pure projection; it never mutates the underlying account.
type LoyaltyState struct {
	TierName          string
	TierThreshold     int64
	MultiplierBps     int64
	PointBalance      int64
	PointsEarned      int64
	NextTierName      string
	NextTierThreshold int64
	PointsToNextTier  int64
	ProgressPercent   int
	RedeemableNow     []Reward
	UnlockingSoon     []Reward
}

// LoyaltyAccount is the persisted per-user loyalty record.
type LoyaltyAccount struct {
	UserID        string
	PointBalance  int64
	LifetimeSpend int64
	Redemptions   map[string]RedemptionRecord
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RedemptionRecord marks a completed point deduction, keyed by order ID so a
// retried finalization never deducts twice.
type RedemptionRecord struct {
	OrderID    string
	RewardID   string
	PointCost  int64
	RedeemedAt time.Time
}
