package firestore

import (
	"context"
	"errors"
	"fmt"

	pfirestore "github.com/star-cafe/api/internal/platform/firestore"
	pstorage "github.com/star-cafe/api/internal/platform/storage"
	"github.com/star-cafe/api/internal/repositories"
)

// RegistryDeps bundles the external clients the registry wires into its
// repositories.
type RegistryDeps struct {
	Provider    *pfirestore.Provider
	Storage     *pstorage.Client
	AssetBucket string
	AssetOpts   []AssetRepositoryOption

	// Health defaults to a firestore connectivity probe when nil.
	Health repositories.HealthRepository
}

// Registry wires all Firestore-backed repositories behind the typed accessor
// interface used by the service layer.
type Registry struct {
	provider *pfirestore.Provider

	menuItems      *MenuItemRepository
	carts          *CartRepository
	savedItems     *SavedItemRepository
	loyalty        *LoyaltyAccountRepository
	orders         *OrderRepository
	orderPayments  *OrderPaymentRepository
	reviews        *ReviewRepository
	promotions     *PromotionRepository
	promotionUsage *PromotionUsageRepository
	assets         *AssetRepository
	auditLogs      *AuditLogRepository
	counters       *CounterRepository
	health         repositories.HealthRepository
}

// NewRegistry constructs the full repository set.
func NewRegistry(deps RegistryDeps) (*Registry, error) {
	if deps.Provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	registry := &Registry{provider: deps.Provider}

	var err error
	if registry.menuItems, err = NewMenuItemRepository(deps.Provider); err != nil {
		return nil, fmt.Errorf("registry: menu items: %w", err)
	}
	if registry.carts, err = NewCartRepository(deps.Provider); err != nil {
		return nil, fmt.Errorf("registry: carts: %w", err)
	}
	if registry.savedItems, err = NewSavedItemRepository(deps.Provider); err != nil {
		return nil, fmt.Errorf("registry: saved items: %w", err)
	}
	if registry.loyalty, err = NewLoyaltyAccountRepository(deps.Provider); err != nil {
		return nil, fmt.Errorf("registry: loyalty accounts: %w", err)
	}
	if registry.orders, err = NewOrderRepository(deps.Provider); err != nil {
		return nil, fmt.Errorf("registry: orders: %w", err)
	}
	if registry.orderPayments, err = NewOrderPaymentRepository(deps.Provider); err != nil {
		return nil, fmt.Errorf("registry: order payments: %w", err)
	}
	if registry.reviews, err = NewReviewRepository(deps.Provider); err != nil {
		return nil, fmt.Errorf("registry: reviews: %w", err)
	}
	if registry.promotions, err = NewPromotionRepository(deps.Provider); err != nil {
		return nil, fmt.Errorf("registry: promotions: %w", err)
	}
	if registry.promotionUsage, err = NewPromotionUsageRepository(deps.Provider); err != nil {
		return nil, fmt.Errorf("registry: promotion usage: %w", err)
	}
	if registry.assets, err = NewAssetRepository(deps.Provider, deps.Storage, deps.AssetBucket, deps.AssetOpts...); err != nil {
		return nil, fmt.Errorf("registry: assets: %w", err)
	}
	if registry.auditLogs, err = NewAuditLogRepository(deps.Provider); err != nil {
		return nil, fmt.Errorf("registry: audit logs: %w", err)
	}
	if registry.counters, err = NewCounterRepository(deps.Provider); err != nil {
		return nil, fmt.Errorf("registry: counters: %w", err)
	}

	registry.health = deps.Health
	if registry.health == nil {
		registry.health, err = repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
			{
				Name: "firestore",
				Check: func(ctx context.Context) error {
					_, err := deps.Provider.Client(ctx)
					return err
				},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("registry: health: %w", err)
		}
	}

	return registry, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// RunInTx executes fn directly. Cross-repository atomicity lives in the
// per-repository transactional operations, not in an ambient session.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("registry: transaction function is required")
	}
	return fn(ctx)
}

func (r *Registry) MenuItems() repositories.MenuItemRepository           { return r.menuItems }
func (r *Registry) Carts() repositories.CartRepository                   { return r.carts }
func (r *Registry) SavedItems() repositories.SavedItemRepository         { return r.savedItems }
func (r *Registry) LoyaltyAccounts() repositories.LoyaltyAccountRepository {
	return r.loyalty
}
func (r *Registry) Orders() repositories.OrderRepository                 { return r.orders }
func (r *Registry) OrderPayments() repositories.OrderPaymentRepository   { return r.orderPayments }
func (r *Registry) Reviews() repositories.ReviewRepository               { return r.reviews }
func (r *Registry) Promotions() repositories.PromotionRepository         { return r.promotions }
func (r *Registry) PromotionUsage() repositories.PromotionUsageRepository {
	return r.promotionUsage
}
func (r *Registry) Assets() repositories.AssetRepository                 { return r.assets }
func (r *Registry) AuditLogs() repositories.AuditLogRepository           { return r.auditLogs }
func (r *Registry) Counters() repositories.CounterRepository             { return r.counters }
func (r *Registry) Health() repositories.HealthRepository                { return r.health }

var _ repositories.Registry = (*Registry)(nil)
