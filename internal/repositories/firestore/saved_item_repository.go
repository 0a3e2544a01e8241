package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/star-cafe/api/internal/domain"
	pfirestore "github.com/star-cafe/api/internal/platform/firestore"
	"github.com/star-cafe/api/internal/repositories"
)

const savedItemCollectionPattern = "users/%s/savedItems"

// SavedItemRepository persists save-for-later lines in a per-user
// subcollection so they outlive cart resets.
type SavedItemRepository struct {
	provider *pfirestore.Provider
}

// NewSavedItemRepository constructs a Firestore-backed saved item repository.
func NewSavedItemRepository(provider *pfirestore.Provider) (*SavedItemRepository, error) {
	if provider == nil {
		return nil, errors.New("saved item repository requires firestore provider")
	}
	return &SavedItemRepository{provider: provider}, nil
}

// Put stores the saved line keyed by its line ID.
func (r *SavedItemRepository) Put(ctx context.Context, item domain.SavedItem) error {
	coll, err := r.collection(ctx, item.UserID)
	if err != nil {
		return err
	}
	id := strings.TrimSpace(item.ID)
	if id == "" {
		return errors.New("saved item repository: item id is required")
	}

	doc := savedItemDocument{
		ItemRef:   item.ItemID,
		LegacyKey: item.LegacyKey,
		Name:      item.Name,
		Quantity:  item.Quantity,
		UnitPrice: item.UnitPrice,
		Currency:  item.Currency,
		Notes:     item.Notes,
		SavedAt:   item.SavedAt.UTC(),
	}
	if _, err := coll.Doc(id).Set(ctx, doc); err != nil {
		return pfirestore.WrapError("saved_items.put", err)
	}
	return nil
}

// Get loads one saved line for the user.
func (r *SavedItemRepository) Get(ctx context.Context, userID string, savedItemID string) (domain.SavedItem, error) {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return domain.SavedItem{}, err
	}
	id := strings.TrimSpace(savedItemID)
	if id == "" {
		return domain.SavedItem{}, errors.New("saved item repository: item id is required")
	}

	snap, err := coll.Doc(id).Get(ctx)
	if err != nil {
		return domain.SavedItem{}, pfirestore.WrapError("saved_items.get", err)
	}
	return decodeSavedItem(userID, snap)
}

// Delete removes the saved line.
func (r *SavedItemRepository) Delete(ctx context.Context, userID string, savedItemID string) error {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return err
	}
	id := strings.TrimSpace(savedItemID)
	if id == "" {
		return errors.New("saved item repository: item id is required")
	}

	// Exists precondition makes deleting a missing line report not-found
	// instead of silently succeeding.
	if _, err := coll.Doc(id).Delete(ctx, firestore.Exists); err != nil {
		return pfirestore.WrapError("saved_items.delete", err)
	}
	return nil
}

// ListByUser returns the user's saved lines, most recently parked first.
func (r *SavedItemRepository) ListByUser(ctx context.Context, userID string) ([]domain.SavedItem, error) {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return nil, err
	}

	iter := coll.Documents(ctx)
	defer iter.Stop()

	var items []domain.SavedItem
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("saved_items.list", err)
		}
		item, err := decodeSavedItem(userID, snap)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	sort.Slice(items, func(i, j int) bool { return items[i].SavedAt.After(items[j].SavedAt) })
	return items, nil
}

func (r *SavedItemRepository) collection(ctx context.Context, userID string) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("saved item repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, errors.New("saved item repository: user id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(fmt.Sprintf(savedItemCollectionPattern, uid)), nil
}

func decodeSavedItem(userID string, snap *firestore.DocumentSnapshot) (domain.SavedItem, error) {
	var doc savedItemDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.SavedItem{}, fmt.Errorf("decode saved item %s: %w", snap.Ref.ID, err)
	}
	return domain.SavedItem{
		ID:        snap.Ref.ID,
		UserID:    userID,
		ItemID:    doc.ItemRef,
		LegacyKey: doc.LegacyKey,
		Name:      doc.Name,
		Quantity:  doc.Quantity,
		UnitPrice: doc.UnitPrice,
		Currency:  doc.Currency,
		Notes:     doc.Notes,
		SavedAt:   doc.SavedAt,
	}, nil
}

type savedItemDocument struct {
	ItemRef   string    `firestore:"itemRef"`
	LegacyKey string    `firestore:"legacyKey,omitempty"`
	Name      string    `firestore:"name"`
	Quantity  int       `firestore:"quantity"`
	UnitPrice int64     `firestore:"unitPrice"`
	Currency  string    `firestore:"currency"`
	Notes     string    `firestore:"notes,omitempty"`
	SavedAt   time.Time `firestore:"savedAt"`
}

var _ repositories.SavedItemRepository = (*SavedItemRepository)(nil)
