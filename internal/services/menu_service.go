package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/text/language"

	domain "github.com/star-cafe/api/internal/domain"
	"github.com/star-cafe/api/internal/repositories"
)

var (
	// ErrMenuInvalidInput indicates the caller supplied invalid menu input.
	ErrMenuInvalidInput = errors.New("menu service: invalid input")
	// ErrMenuItemNotFound indicates the requested menu item does not exist.
	ErrMenuItemNotFound = errors.New("menu service: item not found")
	// ErrMenuConflict indicates a concurrent modification or duplicate legacy key.
	ErrMenuConflict = errors.New("menu service: conflict")
)

// MenuServiceDeps wires the catalog repository and clock for menu operations.
type MenuServiceDeps struct {
	Repository  repositories.MenuItemRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)
}

type menuService struct {
	repo   repositories.MenuItemRepository
	now    func() time.Time
	newID  func() string
	logger func(context.Context, string, map[string]any)
}

// NewMenuService constructs a MenuService over the catalog repository.
func NewMenuService(deps MenuServiceDeps) (MenuService, error) {
	if deps.Repository == nil {
		return nil, errors.New("menu service: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &menuService{
		repo:   deps.Repository,
		now:    func() time.Time { return clock().UTC() },
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *menuService) ListItems(ctx context.Context, filter MenuListFilter) (domain.CursorPage[MenuItem], error) {
	page, err := s.repo.List(ctx, repositories.MenuItemListFilter{
		Category:      filter.Category,
		AvailableOnly: filter.AvailableOnly,
		Pagination:    filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[MenuItem]{}, s.translateRepoError(err)
	}
	if locale := strings.TrimSpace(filter.Locale); locale != "" {
		for i := range page.Items {
			page.Items[i] = localizeMenuItem(page.Items[i], locale)
		}
	}
	return page, nil
}

// GetItem resolves an item by current ID first, falling back to the legacy
// storefront key so old cart lines keep dereferencing.
func (s *menuService) GetItem(ctx context.Context, ref MenuItemRef) (MenuItem, error) {
	id := strings.TrimSpace(ref.ID)
	legacy := strings.TrimSpace(ref.LegacyKey)
	if id == "" && legacy == "" {
		return MenuItem{}, fmt.Errorf("%w: item reference required", ErrMenuInvalidInput)
	}

	if id != "" {
		item, err := s.repo.FindByID(ctx, id)
		if err == nil {
			return item, nil
		}
		if !isRepoNotFound(err) {
			return MenuItem{}, s.translateRepoError(err)
		}
		if legacy == "" {
			return MenuItem{}, ErrMenuItemNotFound
		}
	}

	item, err := s.repo.FindByLegacyKey(ctx, legacy)
	if err != nil {
		if isRepoNotFound(err) {
			return MenuItem{}, ErrMenuItemNotFound
		}
		return MenuItem{}, s.translateRepoError(err)
	}
	return item, nil
}

func (s *menuService) UpsertItem(ctx context.Context, cmd UpsertMenuItemCommand) (MenuItem, error) {
	item := cmd.Item
	if strings.TrimSpace(item.Name) == "" {
		return MenuItem{}, fmt.Errorf("%w: name is required", ErrMenuInvalidInput)
	}
	if item.Price < 0 {
		return MenuItem{}, fmt.Errorf("%w: price cannot be negative", ErrMenuInvalidInput)
	}
	item.Currency = strings.ToUpper(strings.TrimSpace(item.Currency))
	if item.Currency == "" {
		return MenuItem{}, fmt.Errorf("%w: currency is required", ErrMenuInvalidInput)
	}

	now := s.now()
	item.UpdatedAt = now

	if strings.TrimSpace(item.ID) == "" {
		item.ID = s.newID()
		item.CreatedAt = now
		if err := s.repo.Insert(ctx, item); err != nil {
			return MenuItem{}, s.translateRepoError(err)
		}
		s.logger(ctx, "menu_item_created", map[string]any{"itemId": item.ID, "actor": cmd.ActorID})
		return item, nil
	}

	if err := s.repo.Update(ctx, item); err != nil {
		return MenuItem{}, s.translateRepoError(err)
	}
	s.logger(ctx, "menu_item_updated", map[string]any{"itemId": item.ID, "actor": cmd.ActorID})
	return item, nil
}

func (s *menuService) DeleteItem(ctx context.Context, cmd DeleteMenuItemCommand) error {
	itemID := strings.TrimSpace(cmd.ItemID)
	if itemID == "" {
		return fmt.Errorf("%w: item id required", ErrMenuInvalidInput)
	}
	if err := s.repo.Delete(ctx, itemID); err != nil {
		return s.translateRepoError(err)
	}
	s.logger(ctx, "menu_item_deleted", map[string]any{"itemId": itemID, "actor": cmd.ActorID})
	return nil
}

func (s *menuService) translateRepoError(err error) error {
	if repoErr, ok := asRepositoryError(err); ok {
		switch {
		case repoErr.IsNotFound():
			return ErrMenuItemNotFound
		case repoErr.IsConflict():
			return ErrMenuConflict
		}
	}
	return err
}

// localizeMenuItem swaps in the translation best matching the requested
// locale, leaving the default strings when nothing matches.
func localizeMenuItem(item MenuItem, locale string) MenuItem {
	if len(item.Translations) == 0 {
		return item
	}
	want, err := language.Parse(locale)
	if err != nil {
		return item
	}

	tags := make([]language.Tag, 0, len(item.Translations)+1)
	keys := make([]string, 0, len(item.Translations))
	if item.DefaultLocale != "" {
		if tag, err := language.Parse(item.DefaultLocale); err == nil {
			tags = append(tags, tag)
			keys = append(keys, "")
		}
	}
	for key := range item.Translations {
		tag, err := language.Parse(key)
		if err != nil {
			continue
		}
		tags = append(tags, tag)
		keys = append(keys, key)
	}
	if len(tags) == 0 {
		return item
	}

	matcher := language.NewMatcher(tags)
	_, idx, conf := matcher.Match(want)
	if conf == language.No || idx >= len(keys) || keys[idx] == "" {
		return item
	}
	translation := item.Translations[keys[idx]]
	if translation.Name != "" {
		item.Name = translation.Name
	}
	if translation.Description != "" {
		item.Description = translation.Description
	}
	return item
}
