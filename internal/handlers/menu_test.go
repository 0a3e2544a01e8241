package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/star-cafe/api/internal/domain"
	"github.com/star-cafe/api/internal/services"
)

type stubMenuService struct {
	listFunc   func(context.Context, services.MenuListFilter) (domain.CursorPage[services.MenuItem], error)
	getFunc    func(context.Context, services.MenuItemRef) (services.MenuItem, error)
	upsertFunc func(context.Context, services.UpsertMenuItemCommand) (services.MenuItem, error)
	deleteFunc func(context.Context, services.DeleteMenuItemCommand) error
}

func (s *stubMenuService) ListItems(ctx context.Context, filter services.MenuListFilter) (domain.CursorPage[services.MenuItem], error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, filter)
	}
	return domain.CursorPage[services.MenuItem]{}, errors.New("unexpected ListItems call")
}

func (s *stubMenuService) GetItem(ctx context.Context, ref services.MenuItemRef) (services.MenuItem, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, ref)
	}
	return services.MenuItem{}, errors.New("unexpected GetItem call")
}

func (s *stubMenuService) UpsertItem(ctx context.Context, cmd services.UpsertMenuItemCommand) (services.MenuItem, error) {
	if s.upsertFunc != nil {
		return s.upsertFunc(ctx, cmd)
	}
	return services.MenuItem{}, errors.New("unexpected UpsertItem call")
}

func (s *stubMenuService) DeleteItem(ctx context.Context, cmd services.DeleteMenuItemCommand) error {
	if s.deleteFunc != nil {
		return s.deleteFunc(ctx, cmd)
	}
	return errors.New("unexpected DeleteItem call")
}

var _ services.MenuService = (*stubMenuService)(nil)

func newMenuRouter(service services.MenuService) chi.Router {
	r := chi.NewRouter()
	NewMenuHandlers(service).Routes(r)
	return r
}

func sampleMenuItem() services.MenuItem {
	return services.MenuItem{
		ID:            "itm_latte",
		LegacyKey:     "drink-042",
		Name:          "Caramel Latte",
		Description:   "Espresso with steamed milk and caramel.",
		Category:      "drinks",
		Tags:          []string{"coffee", "hot"},
		Price:         520,
		Currency:      "jpy",
		IsAvailable:   true,
		PrepMinutes:   5,
		DefaultLocale: "en",
		Translations: map[string]services.MenuItemTranslation{
			"ja": {Locale: "ja", Name: "キャラメルラテ", Description: "エスプレッソとスチームミルク"},
		},
		UpdatedAt: time.Date(2024, 4, 2, 9, 0, 0, 0, time.UTC),
	}
}

func TestMenuHandlersListItems(t *testing.T) {
	var captured services.MenuListFilter
	service := &stubMenuService{
		listFunc: func(ctx context.Context, filter services.MenuListFilter) (domain.CursorPage[services.MenuItem], error) {
			captured = filter
			return domain.CursorPage[services.MenuItem]{
				Items:         []services.MenuItem{sampleMenuItem()},
				NextPageToken: "tok_2",
			}, nil
		},
	}

	router := newMenuRouter(service)
	req := httptest.NewRequest(http.MethodGet, "/?category=drinks&available=true&page_size=10", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Category == nil || *captured.Category != "drinks" {
		t.Fatalf("unexpected category filter %+v", captured.Category)
	}
	if !captured.AvailableOnly {
		t.Fatalf("expected AvailableOnly to be set")
	}
	if captured.Pagination.PageSize != 10 {
		t.Fatalf("unexpected page size %d", captured.Pagination.PageSize)
	}
	if cc := rr.Header().Get("Cache-Control"); cc != "public, max-age=60" {
		t.Fatalf("unexpected cache control %q", cc)
	}

	var body menuListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body.Items) != 1 || body.Items[0].ID != "itm_latte" {
		t.Fatalf("unexpected items %+v", body.Items)
	}
	if body.Items[0].Currency != "JPY" {
		t.Fatalf("expected currency upper-cased, got %q", body.Items[0].Currency)
	}
	if body.NextPageToken != "tok_2" {
		t.Fatalf("unexpected page token %q", body.NextPageToken)
	}
}

func TestMenuHandlersListItemsRejectsBadAvailable(t *testing.T) {
	router := newMenuRouter(&stubMenuService{})
	req := httptest.NewRequest(http.MethodGet, "/?available=maybe", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestMenuHandlersGetItemLocalises(t *testing.T) {
	service := &stubMenuService{
		getFunc: func(ctx context.Context, ref services.MenuItemRef) (services.MenuItem, error) {
			if ref.ID != "itm_latte" {
				t.Fatalf("unexpected ref %+v", ref)
			}
			return sampleMenuItem(), nil
		},
	}

	router := newMenuRouter(service)
	req := httptest.NewRequest(http.MethodGet, "/itm_latte?locale=ja", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body menuItemResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Item.Name != "キャラメルラテ" {
		t.Fatalf("expected localised name, got %q", body.Item.Name)
	}
	if body.Item.Locale != "ja" {
		t.Fatalf("expected locale ja, got %q", body.Item.Locale)
	}
}

func TestMenuHandlersGetItemFallsBackToLegacyKey(t *testing.T) {
	var refs []services.MenuItemRef
	service := &stubMenuService{
		getFunc: func(ctx context.Context, ref services.MenuItemRef) (services.MenuItem, error) {
			refs = append(refs, ref)
			if ref.ID != "" {
				return services.MenuItem{}, services.ErrMenuItemNotFound
			}
			if ref.LegacyKey != "drink-042" {
				t.Fatalf("unexpected legacy ref %+v", ref)
			}
			return sampleMenuItem(), nil
		},
	}

	router := newMenuRouter(service)
	req := httptest.NewRequest(http.MethodGet, "/drink-042", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(refs) != 2 {
		t.Fatalf("expected ID lookup then legacy fallback, got %d calls", len(refs))
	}
}

func TestMenuHandlersGetItemNotFound(t *testing.T) {
	service := &stubMenuService{
		getFunc: func(ctx context.Context, ref services.MenuItemRef) (services.MenuItem, error) {
			return services.MenuItem{}, services.ErrMenuItemNotFound
		},
	}

	router := newMenuRouter(service)
	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "menu_item_not_found" {
		t.Fatalf("expected menu_item_not_found, got %v", body["error"])
	}
}
