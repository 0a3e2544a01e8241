package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/star-cafe/api/internal/platform/auth"
	"github.com/star-cafe/api/internal/platform/httpx"
	"github.com/star-cafe/api/internal/services"
)

// LoyaltyHandlers serves the authenticated loyalty endpoints.
type LoyaltyHandlers struct {
	authn   *auth.Authenticator
	loyalty services.LoyaltyService
}

// NewLoyaltyHandlers constructs loyalty handlers guarded by Firebase authentication.
func NewLoyaltyHandlers(authn *auth.Authenticator, loyalty services.LoyaltyService) *LoyaltyHandlers {
	return &LoyaltyHandlers{
		authn:   authn,
		loyalty: loyalty,
	}
}

// Routes wires the /loyalty endpoints onto the provided router.
func (h *LoyaltyHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/account", h.getAccount)
	r.Get("/state", h.getState)
	r.Get("/rewards", h.listRewards)
}

func (h *LoyaltyHandlers) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	ctx := r.Context()
	if h.loyalty == nil {
		httpx.WriteError(ctx, w, httpx.NewError("loyalty_unavailable", "loyalty service is unavailable", http.StatusServiceUnavailable))
		return "", false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return "", false
	}
	return identity.UID, true
}

func (h *LoyaltyHandlers) getAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	account, err := h.loyalty.GetAccount(ctx, userID)
	if err != nil {
		h.writeLoyaltyError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, loyaltyAccountResponse{
		Account: loyaltyAccountPayload{
			UserID:        account.UserID,
			PointBalance:  account.PointBalance,
			LifetimeSpend: account.LifetimeSpend,
			UpdatedAt:     formatTime(account.UpdatedAt),
		},
	})
}

// getState projects the caller's tier position. order_total lets the
// storefront preview the points an in-flight order would earn.
func (h *LoyaltyHandlers) getState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var orderTotal int64
	if raw := strings.TrimSpace(r.URL.Query().Get("order_total")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order_total must be a non-negative integer", http.StatusBadRequest))
			return
		}
		orderTotal = parsed
	}

	state, err := h.loyalty.ResolveState(ctx, services.ResolveLoyaltyCommand{
		UserID:     userID,
		OrderTotal: orderTotal,
	})
	if err != nil {
		h.writeLoyaltyError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, loyaltyStateResponse{State: buildLoyaltyStatePayload(state)})
}

func (h *LoyaltyHandlers) listRewards(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.loyalty == nil {
		httpx.WriteError(ctx, w, httpx.NewError("loyalty_unavailable", "loyalty service is unavailable", http.StatusServiceUnavailable))
		return
	}

	rewards, err := h.loyalty.ListRewards(ctx)
	if err != nil {
		h.writeLoyaltyError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, loyaltyRewardsResponse{Rewards: buildRewardPayloads(rewards)})
}

func (h *LoyaltyHandlers) writeLoyaltyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrLoyaltyInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrLoyaltyAccountNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("loyalty_account_not_found", "loyalty account not found", http.StatusNotFound))
	case errors.Is(err, services.ErrLoyaltyRewardNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("reward_not_found", "reward not found", http.StatusNotFound))
	case errors.Is(err, services.ErrLoyaltyInsufficientPoints):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_points", "not enough points for this reward", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("loyalty_error", "failed to process loyalty request", http.StatusInternalServerError))
	}
}

type loyaltyAccountResponse struct {
	Account loyaltyAccountPayload `json:"account"`
}

type loyaltyAccountPayload struct {
	UserID        string `json:"user_id"`
	PointBalance  int64  `json:"point_balance"`
	LifetimeSpend int64  `json:"lifetime_spend"`
	UpdatedAt     string `json:"updated_at,omitempty"`
}

type loyaltyStateResponse struct {
	State loyaltyStatePayload `json:"state"`
}

type loyaltyStatePayload struct {
	TierName          string          `json:"tier_name"`
	TierThreshold     int64           `json:"tier_threshold"`
	MultiplierBps     int64           `json:"multiplier_bps"`
	PointBalance      int64           `json:"point_balance"`
	PointsEarned      int64           `json:"points_earned"`
	NextTierName      string          `json:"next_tier_name,omitempty"`
	NextTierThreshold int64           `json:"next_tier_threshold,omitempty"`
	PointsToNextTier  int64           `json:"points_to_next_tier,omitempty"`
	ProgressPercent   int             `json:"progress_percent"`
	RedeemableNow     []rewardPayload `json:"redeemable_now"`
	UnlockingSoon     []rewardPayload `json:"unlocking_soon"`
}

type loyaltyRewardsResponse struct {
	Rewards []rewardPayload `json:"rewards"`
}

type rewardPayload struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	PointCost int64  `json:"point_cost"`
	Value     int64  `json:"value"`
}

func buildLoyaltyStatePayload(state services.LoyaltyState) loyaltyStatePayload {
	return loyaltyStatePayload{
		TierName:          state.TierName,
		TierThreshold:     state.TierThreshold,
		MultiplierBps:     state.MultiplierBps,
		PointBalance:      state.PointBalance,
		PointsEarned:      state.PointsEarned,
		NextTierName:      state.NextTierName,
		NextTierThreshold: state.NextTierThreshold,
		PointsToNextTier:  state.PointsToNextTier,
		ProgressPercent:   state.ProgressPercent,
		RedeemableNow:     buildRewardPayloads(state.RedeemableNow),
		UnlockingSoon:     buildRewardPayloads(state.UnlockingSoon),
	}
}

func buildRewardPayloads(rewards []services.Reward) []rewardPayload {
	if len(rewards) == 0 {
		return []rewardPayload{}
	}
	payload := make([]rewardPayload, 0, len(rewards))
	for _, reward := range rewards {
		payload = append(payload, rewardPayload{
			ID:        reward.ID,
			Label:     reward.Label,
			PointCost: reward.PointCost,
			Value:     reward.Value,
		})
	}
	return payload
}
