package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/star-cafe/api/internal/domain"
	pfirestore "github.com/star-cafe/api/internal/platform/firestore"
	"github.com/star-cafe/api/internal/repositories"
)

const (
	menuItemCollection = "menuItems"
	maxMenuTagFilters  = 10 // Firestore array-contains-any limit
)

// MenuItemRepository persists the sellable catalog.
type MenuItemRepository struct {
	base *pfirestore.BaseRepository[menuItemDocument]
}

// NewMenuItemRepository constructs a Firestore-backed menu item repository.
func NewMenuItemRepository(provider *pfirestore.Provider) (*MenuItemRepository, error) {
	if provider == nil {
		return nil, errors.New("menu item repository requires firestore provider")
	}
	return &MenuItemRepository{
		base: pfirestore.NewBaseRepository[menuItemDocument](provider, menuItemCollection, nil, nil),
	}, nil
}

// Insert creates the item, failing with a conflict when the ID already exists.
func (r *MenuItemRepository) Insert(ctx context.Context, item domain.MenuItem) error {
	if r == nil || r.base == nil {
		return errors.New("menu item repository not initialised")
	}
	id := strings.TrimSpace(item.ID)
	if id == "" {
		return errors.New("menu item repository: item id is required")
	}

	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, encodeMenuItem(item)); err != nil {
		return pfirestore.WrapError("menu_items.insert", err)
	}
	return nil
}

// Update replaces the stored item document.
func (r *MenuItemRepository) Update(ctx context.Context, item domain.MenuItem) error {
	if r == nil || r.base == nil {
		return errors.New("menu item repository not initialised")
	}
	id := strings.TrimSpace(item.ID)
	if id == "" {
		return errors.New("menu item repository: item id is required")
	}

	// Existence check keeps blind updates from resurrecting deleted items.
	if _, err := r.base.Get(ctx, id); err != nil {
		return err
	}
	if _, err := r.base.Set(ctx, id, encodeMenuItem(item)); err != nil {
		return err
	}
	return nil
}

// Delete removes the item document.
func (r *MenuItemRepository) Delete(ctx context.Context, itemID string) error {
	if r == nil || r.base == nil {
		return errors.New("menu item repository not initialised")
	}
	ref, err := r.base.DocumentRef(ctx, strings.TrimSpace(itemID))
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx, firestore.Exists); err != nil {
		return pfirestore.WrapError("menu_items.delete", err)
	}
	return nil
}

// FindByID loads the item by its current identifier.
func (r *MenuItemRepository) FindByID(ctx context.Context, itemID string) (domain.MenuItem, error) {
	if r == nil || r.base == nil {
		return domain.MenuItem{}, errors.New("menu item repository not initialised")
	}
	record, err := r.base.Get(ctx, strings.TrimSpace(itemID))
	if err != nil {
		return domain.MenuItem{}, err
	}
	return decodeMenuItem(record.ID, record.Data), nil
}

// FindByLegacyKey resolves an item through the key the previous storefront
// used for the same dish.
func (r *MenuItemRepository) FindByLegacyKey(ctx context.Context, legacyKey string) (domain.MenuItem, error) {
	if r == nil || r.base == nil {
		return domain.MenuItem{}, errors.New("menu item repository not initialised")
	}
	key := strings.TrimSpace(legacyKey)
	if key == "" {
		return domain.MenuItem{}, pfirestore.WrapError("menu_items.find_by_legacy_key", status.Error(codes.NotFound, "legacy key is empty"))
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("legacyKey", "==", key).Limit(1)
	})
	if err != nil {
		return domain.MenuItem{}, err
	}
	if len(docs) == 0 {
		return domain.MenuItem{}, pfirestore.WrapError("menu_items.find_by_legacy_key", status.Errorf(codes.NotFound, "no item for legacy key %s", key))
	}
	return decodeMenuItem(docs[0].ID, docs[0].Data), nil
}

// List returns catalog items matching the filter with cursor pagination.
func (r *MenuItemRepository) List(ctx context.Context, filter repositories.MenuItemListFilter) (domain.CursorPage[domain.MenuItem], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.MenuItem]{}, errors.New("menu item repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := 0
	if limit > 0 {
		fetchLimit = limit + 1
	}

	tags := filter.Tags
	if len(tags) > maxMenuTagFilters {
		tags = tags[:maxMenuTagFilters]
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		ts, docID, err := decodeCursorToken(token)
		if err != nil {
			return domain.CursorPage[domain.MenuItem]{}, fmt.Errorf("menu_items.list: invalid page token: %w", err)
		}
		startAfter = []any{ts, docID}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.Category != nil && strings.TrimSpace(*filter.Category) != "" {
			q = q.Where("category", "==", strings.TrimSpace(*filter.Category))
		}
		if filter.AvailableOnly {
			q = q.Where("isAvailable", "==", true)
		}
		if len(tags) > 0 {
			q = q.Where("tags", "array-contains-any", tags)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if startAfter != nil {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.MenuItem]{}, err
	}

	nextToken := ""
	if fetchLimit > 0 && len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		nextToken = encodeCursorToken(last.Data.CreatedAt, last.ID)
		docs = docs[:len(docs)-1]
	}

	items := make([]domain.MenuItem, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodeMenuItem(doc.ID, doc.Data))
	}

	return domain.CursorPage[domain.MenuItem]{Items: items, NextPageToken: nextToken}, nil
}

type menuItemDocument struct {
	LegacyKey     string                     `firestore:"legacyKey,omitempty"`
	Name          string                     `firestore:"name"`
	Description   string                     `firestore:"description,omitempty"`
	Category      string                     `firestore:"category"`
	Tags          []string                   `firestore:"tags,omitempty"`
	Price         int64                      `firestore:"price"`
	Currency      string                     `firestore:"currency"`
	ImagePath     string                     `firestore:"imagePath,omitempty"`
	IsAvailable   bool                       `firestore:"isAvailable"`
	PrepMinutes   int                        `firestore:"prepMinutes,omitempty"`
	DefaultLocale string                     `firestore:"defaultLocale,omitempty"`
	Translations  map[string]menuTranslation `firestore:"translations,omitempty"`
	CreatedAt     time.Time                  `firestore:"createdAt"`
	UpdatedAt     time.Time                  `firestore:"updatedAt"`
}

type menuTranslation struct {
	Name        string `firestore:"name"`
	Description string `firestore:"description,omitempty"`
}

func encodeMenuItem(item domain.MenuItem) menuItemDocument {
	doc := menuItemDocument{
		LegacyKey:     strings.TrimSpace(item.LegacyKey),
		Name:          item.Name,
		Description:   item.Description,
		Category:      item.Category,
		Tags:          append([]string(nil), item.Tags...),
		Price:         item.Price,
		Currency:      strings.ToUpper(strings.TrimSpace(item.Currency)),
		ImagePath:     item.ImagePath,
		IsAvailable:   item.IsAvailable,
		PrepMinutes:   item.PrepMinutes,
		DefaultLocale: item.DefaultLocale,
		CreatedAt:     item.CreatedAt.UTC(),
		UpdatedAt:     item.UpdatedAt.UTC(),
	}
	if len(item.Translations) > 0 {
		doc.Translations = make(map[string]menuTranslation, len(item.Translations))
		for locale, tr := range item.Translations {
			doc.Translations[locale] = menuTranslation{Name: tr.Name, Description: tr.Description}
		}
	}
	return doc
}

func decodeMenuItem(id string, doc menuItemDocument) domain.MenuItem {
	item := domain.MenuItem{
		ID:            id,
		LegacyKey:     doc.LegacyKey,
		Name:          doc.Name,
		Description:   doc.Description,
		Category:      doc.Category,
		Tags:          append([]string(nil), doc.Tags...),
		Price:         doc.Price,
		Currency:      doc.Currency,
		ImagePath:     doc.ImagePath,
		IsAvailable:   doc.IsAvailable,
		PrepMinutes:   doc.PrepMinutes,
		DefaultLocale: doc.DefaultLocale,
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
	}
	if len(doc.Translations) > 0 {
		item.Translations = make(map[string]domain.MenuItemTranslation, len(doc.Translations))
		for locale, tr := range doc.Translations {
			item.Translations[locale] = domain.MenuItemTranslation{Locale: locale, Name: tr.Name, Description: tr.Description}
		}
	}
	return item
}

var _ repositories.MenuItemRepository = (*MenuItemRepository)(nil)
