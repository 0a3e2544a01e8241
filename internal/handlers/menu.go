package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/star-cafe/api/internal/platform/httpx"
	"github.com/star-cafe/api/internal/services"
)

const (
	defaultMenuPageSize = 50
	maxMenuPageSize     = 200
)

// MenuHandlers serves the public menu catalog. No authentication is required;
// the storefront renders these endpoints for anonymous visitors.
type MenuHandlers struct {
	menu services.MenuService
}

// NewMenuHandlers constructs public menu handlers.
func NewMenuHandlers(menu services.MenuService) *MenuHandlers {
	return &MenuHandlers{menu: menu}
}

// Routes wires the /menu endpoints onto the provided router.
func (h *MenuHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listItems)
	r.Get("/{itemRef}", h.getItem)
}

func (h *MenuHandlers) listItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.menu == nil {
		httpx.WriteError(ctx, w, httpx.NewError("menu_unavailable", "menu service is unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	filter := services.MenuListFilter{
		Locale: strings.TrimSpace(query.Get("locale")),
	}
	if category := strings.TrimSpace(query.Get("category")); category != "" {
		filter.Category = &category
	}
	switch strings.ToLower(strings.TrimSpace(query.Get("available"))) {
	case "", "false", "0":
	case "true", "1":
		filter.AvailableOnly = true
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "available must be a boolean", http.StatusBadRequest))
		return
	}

	pageSize, err := parseLimitedPageSize(query.Get("page_size"), defaultMenuPageSize, maxMenuPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	filter.Pagination.PageSize = pageSize
	filter.Pagination.PageToken = strings.TrimSpace(query.Get("page_token"))

	page, err := h.menu.ListItems(ctx, filter)
	if err != nil {
		h.writeMenuError(ctx, w, err)
		return
	}

	items := make([]menuItemPayload, 0, len(page.Items))
	for _, item := range page.Items {
		items = append(items, buildMenuItemPayload(item, filter.Locale))
	}

	w.Header().Set("Cache-Control", "public, max-age=60")
	writeJSONResponse(w, http.StatusOK, menuListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

// getItem resolves the path segment as a current item ID first and falls back
// to the legacy storefront key, so links from the old site keep working.
func (h *MenuHandlers) getItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.menu == nil {
		httpx.WriteError(ctx, w, httpx.NewError("menu_unavailable", "menu service is unavailable", http.StatusServiceUnavailable))
		return
	}

	ref := strings.TrimSpace(chi.URLParam(r, "itemRef"))
	if ref == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "item reference is required", http.StatusBadRequest))
		return
	}

	item, err := h.menu.GetItem(ctx, services.MenuItemRef{ID: ref})
	if errors.Is(err, services.ErrMenuItemNotFound) {
		item, err = h.menu.GetItem(ctx, services.MenuItemRef{LegacyKey: ref})
	}
	if err != nil {
		h.writeMenuError(ctx, w, err)
		return
	}

	locale := strings.TrimSpace(r.URL.Query().Get("locale"))
	w.Header().Set("Cache-Control", "public, max-age=60")
	writeJSONResponse(w, http.StatusOK, menuItemResponse{Item: buildMenuItemPayload(item, locale)})
}

func (h *MenuHandlers) writeMenuError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrMenuInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrMenuItemNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("menu_item_not_found", "menu item not found", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("menu_error", "failed to load menu", http.StatusInternalServerError))
	}
}

type menuListResponse struct {
	Items         []menuItemPayload `json:"items"`
	NextPageToken string            `json:"next_page_token,omitempty"`
}

type menuItemResponse struct {
	Item menuItemPayload `json:"item"`
}

type menuItemPayload struct {
	ID          string   `json:"id"`
	LegacyKey   string   `json:"legacy_key,omitempty"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags,omitempty"`
	Price       int64    `json:"price"`
	Currency    string   `json:"currency"`
	ImagePath   string   `json:"image_path,omitempty"`
	IsAvailable bool     `json:"is_available"`
	PrepMinutes int      `json:"prep_minutes,omitempty"`
	Locale      string   `json:"locale,omitempty"`
	UpdatedAt   string   `json:"updated_at,omitempty"`
}

// buildMenuItemPayload localises name and description when a translation for
// the requested locale exists; otherwise the default locale copy is served.
func buildMenuItemPayload(item services.MenuItem, locale string) menuItemPayload {
	payload := menuItemPayload{
		ID:          strings.TrimSpace(item.ID),
		LegacyKey:   strings.TrimSpace(item.LegacyKey),
		Name:        item.Name,
		Description: item.Description,
		Category:    item.Category,
		Tags:        append([]string(nil), item.Tags...),
		Price:       item.Price,
		Currency:    strings.ToUpper(strings.TrimSpace(item.Currency)),
		ImagePath:   item.ImagePath,
		IsAvailable: item.IsAvailable,
		PrepMinutes: item.PrepMinutes,
		Locale:      strings.TrimSpace(item.DefaultLocale),
		UpdatedAt:   formatTime(item.UpdatedAt),
	}

	if locale != "" {
		if translation, ok := item.Translations[locale]; ok {
			if translation.Name != "" {
				payload.Name = translation.Name
			}
			if translation.Description != "" {
				payload.Description = translation.Description
			}
			payload.Locale = locale
		}
	}

	return payload
}
