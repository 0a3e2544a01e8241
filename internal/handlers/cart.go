package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/star-cafe/api/internal/platform/auth"
	"github.com/star-cafe/api/internal/platform/httpx"
	"github.com/star-cafe/api/internal/services"
)

// CartHandlers exposes authenticated cart endpoints for the current user.
type CartHandlers struct {
	authn *auth.Authenticator
	carts services.CartService
}

const maxCartBodySize = 16 * 1024

// NewCartHandlers constructs handlers enforcing Firebase authentication before invoking the cart service.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService) *CartHandlers {
	return &CartHandlers{
		authn: authn,
		carts: carts,
	}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Patch("/items/{lineID}", h.updateItem)
	r.Delete("/items/{lineID}", h.removeItem)
	r.Post("/items/{lineID}:save", h.saveForLater)
	r.Get("/saved", h.listSavedItems)
	r.Post("/saved/{savedItemID}:restore", h.restoreSavedItem)
	r.Delete("/saved/{savedItemID}", h.removeSavedItem)
	r.Put("/reward", h.applyReward)
	r.Delete("/reward", h.removeReward)
	r.Put("/promotion", h.applyPromotion)
	r.Delete("/promotion", h.removePromotion)
}

func (h *CartHandlers) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return "", false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return "", false
	}
	return identity.UID, true
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	cart, err := h.carts.GetOrCreateCart(ctx, userID)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	h.writeCart(w, cart, http.StatusOK)
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	if err := h.carts.ClearCart(ctx, userID); err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addCartItemRequest struct {
	ItemID    string `json:"item_id"`
	LegacyKey string `json:"legacy_key"`
	Quantity  int    `json:"quantity"`
	Notes     string `json:"notes"`
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var req addCartItemRequest
	if !h.decodeBody(ctx, w, r, &req) {
		return
	}

	cart, err := h.carts.AddItem(ctx, services.AddCartItemCommand{
		UserID:    userID,
		ItemID:    strings.TrimSpace(req.ItemID),
		LegacyKey: strings.TrimSpace(req.LegacyKey),
		Quantity:  req.Quantity,
		Notes:     req.Notes,
	})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	h.writeCart(w, cart, http.StatusOK)
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	lineID := strings.TrimSpace(chi.URLParam(r, "lineID"))
	if lineID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "line id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		h.writeBodyError(ctx, w, err)
		return
	}
	update, err := parseUpdateCartItemRequest(body)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	expected := update.updatedAt
	if expected == nil {
		if ifUnmodified := strings.TrimSpace(r.Header.Get("If-Unmodified-Since")); ifUnmodified != "" {
			parsed, parseErr := time.Parse(http.TimeFormat, ifUnmodified)
			if parseErr != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "If-Unmodified-Since must be a valid HTTP-date", http.StatusBadRequest))
				return
			}
			expected = &parsed
		}
	}

	cart, err := h.carts.UpdateItem(ctx, services.UpdateCartItemCommand{
		UserID:            userID,
		LineID:            lineID,
		Quantity:          update.quantity,
		Notes:             update.notes,
		ExpectedUpdatedAt: expected,
	})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	h.writeCart(w, cart, http.StatusOK)
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	lineID := strings.TrimSpace(chi.URLParam(r, "lineID"))
	if lineID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "line id is required", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.RemoveItem(ctx, services.RemoveCartItemCommand{UserID: userID, LineID: lineID})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	h.writeCart(w, cart, http.StatusOK)
}

func (h *CartHandlers) saveForLater(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	lineID := strings.TrimSpace(chi.URLParam(r, "lineID"))
	if lineID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "line id is required", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.SaveForLater(ctx, services.SaveForLaterCommand{UserID: userID, LineID: lineID})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	h.writeCart(w, cart, http.StatusOK)
}

func (h *CartHandlers) listSavedItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	items, err := h.carts.ListSavedItems(ctx, userID)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	payload := struct {
		Items []savedItemPayload `json:"items"`
	}{Items: buildSavedItems(items)}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *CartHandlers) restoreSavedItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	savedItemID := strings.TrimSpace(chi.URLParam(r, "savedItemID"))
	if savedItemID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "saved item id is required", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.RestoreSavedItem(ctx, services.RestoreSavedItemCommand{UserID: userID, SavedItemID: savedItemID})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	h.writeCart(w, cart, http.StatusOK)
}

func (h *CartHandlers) removeSavedItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	savedItemID := strings.TrimSpace(chi.URLParam(r, "savedItemID"))
	if savedItemID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "saved item id is required", http.StatusBadRequest))
		return
	}

	if err := h.carts.RemoveSavedItem(ctx, services.RemoveSavedItemCommand{UserID: userID, SavedItemID: savedItemID}); err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type applyRewardRequest struct {
	RewardID string `json:"reward_id"`
}

func (h *CartHandlers) applyReward(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var req applyRewardRequest
	if !h.decodeBody(ctx, w, r, &req) {
		return
	}
	rewardID := strings.TrimSpace(req.RewardID)
	if rewardID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "reward_id is required", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.ApplyReward(ctx, services.ApplyRewardCommand{UserID: userID, RewardID: rewardID})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	h.writeCart(w, cart, http.StatusOK)
}

func (h *CartHandlers) removeReward(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	cart, err := h.carts.RemoveReward(ctx, userID)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	h.writeCart(w, cart, http.StatusOK)
}

type applyPromotionRequest struct {
	Code string `json:"code"`
}

func (h *CartHandlers) applyPromotion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var req applyPromotionRequest
	if !h.decodeBody(ctx, w, r, &req) {
		return
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "code is required", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.ApplyPromotion(ctx, services.CartPromotionCommand{UserID: userID, Code: code, Source: "storefront"})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	h.writeCart(w, cart, http.StatusOK)
}

func (h *CartHandlers) removePromotion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	cart, err := h.carts.RemovePromotion(ctx, userID)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	h.writeCart(w, cart, http.StatusOK)
}

func (h *CartHandlers) decodeBody(ctx context.Context, w http.ResponseWriter, r *http.Request, target any) bool {
	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		h.writeBodyError(ctx, w, err)
		return false
	}
	if err := json.Unmarshal(body, target); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	return true
}

func (h *CartHandlers) writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func (h *CartHandlers) writeCart(w http.ResponseWriter, cart services.Cart, status int) {
	setCartResponseHeaders(w, cart)
	writeJSONResponse(w, status, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_not_found", "cart not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartConflict):
		httpx.WriteError(ctx, w, httpx.NewError("cart_conflict", "cart has been modified; refresh and retry", http.StatusConflict))
	case errors.Is(err, services.ErrCartUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "failed to process cart request", http.StatusInternalServerError))
	}
}

func setCartResponseHeaders(w http.ResponseWriter, cart services.Cart) {
	w.Header().Set("Cache-Control", "no-store, no-cache, max-age=0, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	if !cart.UpdatedAt.IsZero() {
		w.Header().Set("Last-Modified", cart.UpdatedAt.UTC().Format(http.TimeFormat))
	}
	if etag := buildCartETag(cart); etag != "" {
		w.Header().Set("ETag", etag)
	}
}

func buildCartPayload(cart services.Cart) cartPayload {
	payload := cartPayload{
		ID:         strings.TrimSpace(cart.ID),
		UserID:     strings.TrimSpace(cart.UserID),
		Currency:   strings.ToUpper(strings.TrimSpace(cart.Currency)),
		ItemsCount: len(cart.Items),
		Items:      buildCartItems(cart.Items),
		Metadata:   cloneMap(cart.Metadata),
	}

	if cart.Reward != nil {
		payload.Reward = &cartRewardPayload{
			RewardID:  strings.TrimSpace(cart.Reward.RewardID),
			Label:     cart.Reward.Label,
			PointCost: cart.Reward.PointCost,
			Value:     cart.Reward.Value,
		}
		if !cart.Reward.SelectedAt.IsZero() {
			payload.Reward.SelectedAt = formatTime(cart.Reward.SelectedAt)
		}
	}
	if cart.Promotion != nil {
		payload.Promotion = &cartPromotionPayload{
			Code:           strings.TrimSpace(cart.Promotion.Code),
			DiscountAmount: cart.Promotion.DiscountAmount,
			Applied:        cart.Promotion.Applied,
		}
	}
	if cart.Quote != nil {
		payload.Quote = &cartQuotePayload{
			Subtotal:    cart.Quote.Subtotal,
			Discount:    cart.Quote.Discount,
			DeliveryFee: cart.Quote.DeliveryFee,
			Total:       cart.Quote.Total,
		}
	}
	if !cart.UpdatedAt.IsZero() {
		payload.UpdatedAt = formatTime(cart.UpdatedAt)
	}

	return payload
}

func buildCartItems(items []services.CartItem) []cartItemPayload {
	if len(items) == 0 {
		return []cartItemPayload{}
	}

	payload := make([]cartItemPayload, 0, len(items))
	for _, item := range items {
		entry := cartItemPayload{
			ID:        strings.TrimSpace(item.ID),
			ItemID:    strings.TrimSpace(item.ItemID),
			LegacyKey: strings.TrimSpace(item.LegacyKey),
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Currency:  strings.ToUpper(strings.TrimSpace(item.Currency)),
			Notes:     item.Notes,
			Metadata:  cloneMap(item.Metadata),
		}
		if !item.AddedAt.IsZero() {
			entry.AddedAt = formatTime(item.AddedAt)
		}
		if item.UpdatedAt != nil && !item.UpdatedAt.IsZero() {
			entry.UpdatedAt = formatTime(*item.UpdatedAt)
		}
		payload = append(payload, entry)
	}
	return payload
}

func buildSavedItems(items []services.SavedItem) []savedItemPayload {
	if len(items) == 0 {
		return []savedItemPayload{}
	}
	payload := make([]savedItemPayload, 0, len(items))
	for _, item := range items {
		entry := savedItemPayload{
			ID:        strings.TrimSpace(item.ID),
			ItemID:    strings.TrimSpace(item.ItemID),
			LegacyKey: strings.TrimSpace(item.LegacyKey),
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Currency:  strings.ToUpper(strings.TrimSpace(item.Currency)),
			Notes:     item.Notes,
		}
		if !item.SavedAt.IsZero() {
			entry.SavedAt = formatTime(item.SavedAt)
		}
		payload = append(payload, entry)
	}
	return payload
}

func buildCartETag(cart services.Cart) string {
	if strings.TrimSpace(cart.ID) == "" || cart.UpdatedAt.IsZero() {
		return ""
	}
	input := fmt.Sprintf("%s:%d", strings.TrimSpace(cart.ID), cart.UpdatedAt.UTC().UnixNano())
	sum := sha256.Sum256([]byte(input))
	token := hex.EncodeToString(sum[:8])
	return fmt.Sprintf(`W/"%s"`, token)
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

type cartPayload struct {
	ID         string                `json:"id"`
	UserID     string                `json:"user_id"`
	Currency   string                `json:"currency"`
	ItemsCount int                   `json:"items_count"`
	Items      []cartItemPayload     `json:"items"`
	Reward     *cartRewardPayload    `json:"reward,omitempty"`
	Promotion  *cartPromotionPayload `json:"promotion,omitempty"`
	Quote      *cartQuotePayload     `json:"quote,omitempty"`
	Metadata   map[string]any        `json:"metadata,omitempty"`
	UpdatedAt  string                `json:"updated_at,omitempty"`
}

type cartRewardPayload struct {
	RewardID   string `json:"reward_id"`
	Label      string `json:"label,omitempty"`
	PointCost  int64  `json:"point_cost"`
	Value      int64  `json:"value"`
	SelectedAt string `json:"selected_at,omitempty"`
}

type cartPromotionPayload struct {
	Code           string `json:"code"`
	DiscountAmount int64  `json:"discount_amount"`
	Applied        bool   `json:"applied"`
}

type cartQuotePayload struct {
	Subtotal    int64 `json:"subtotal"`
	Discount    int64 `json:"discount"`
	DeliveryFee int64 `json:"delivery_fee"`
	Total       int64 `json:"total"`
}

type cartItemPayload struct {
	ID        string         `json:"id"`
	ItemID    string         `json:"item_id"`
	LegacyKey string         `json:"legacy_key,omitempty"`
	Name      string         `json:"name"`
	Quantity  int            `json:"quantity"`
	UnitPrice int64          `json:"unit_price"`
	Currency  string         `json:"currency"`
	Notes     string         `json:"notes,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	AddedAt   string         `json:"added_at,omitempty"`
	UpdatedAt string         `json:"updated_at,omitempty"`
}

type savedItemPayload struct {
	ID        string `json:"id"`
	ItemID    string `json:"item_id"`
	LegacyKey string `json:"legacy_key,omitempty"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	Currency  string `json:"currency"`
	Notes     string `json:"notes,omitempty"`
	SavedAt   string `json:"saved_at,omitempty"`
}

type updateCartItemRequest struct {
	quantity  *int
	notes     *string
	updatedAt *time.Time
}

func parseUpdateCartItemRequest(body []byte) (updateCartItemRequest, error) {
	var req updateCartItemRequest

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return req, errors.New("invalid JSON payload")
	}

	for key, value := range raw {
		switch key {
		case "quantity":
			if isJSONNull(value) {
				return req, errors.New("quantity must be a number")
			}
			var quantity int
			if err := json.Unmarshal(value, &quantity); err != nil {
				return req, errors.New("quantity must be a number")
			}
			req.quantity = &quantity
		case "notes":
			if isJSONNull(value) {
				empty := ""
				req.notes = &empty
				continue
			}
			var note string
			if err := json.Unmarshal(value, &note); err != nil {
				return req, errors.New("notes must be a string or null")
			}
			req.notes = &note
		case "updated_at":
			if isJSONNull(value) {
				req.updatedAt = nil
				continue
			}
			var ts string
			if err := json.Unmarshal(value, &ts); err != nil {
				return req, errors.New("updated_at must be a string")
			}
			parsed, err := parseRFC3339(strings.TrimSpace(ts))
			if err != nil {
				return req, fmt.Errorf("updated_at must be RFC3339 timestamp: %w", err)
			}
			req.updatedAt = &parsed
		default:
			return req, fmt.Errorf("field %q is not editable", key)
		}
	}

	if req.quantity == nil && req.notes == nil {
		return req, errNoEditableFields
	}

	return req, nil
}
