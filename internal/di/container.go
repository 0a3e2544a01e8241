package di

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/star-cafe/api/internal/domain"
	"github.com/star-cafe/api/internal/payments"
	"github.com/star-cafe/api/internal/platform/config"
	"github.com/star-cafe/api/internal/repositories"
	"github.com/star-cafe/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Menu       services.MenuService
	Cart       services.CartService
	Loyalty    services.LoyaltyService
	Checkout   services.CheckoutService
	Orders     services.OrderService
	Reviews    services.ReviewService
	Promotions services.PromotionAdminService
	Payments   services.PaymentService
	Assets     services.AssetService
	Counters   services.CounterService
	System     services.SystemService
	Audit      services.AuditLogService
}

// ContainerDeps carries the externally constructed infrastructure the container wires
// services around. Payments and OrderEvents are optional; the dependent services are
// skipped when they are absent.
type ContainerDeps struct {
	Config       config.Config
	Repositories repositories.Registry
	Payments     *payments.Manager
	OrderEvents  services.OrderEventPublisher
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides real
// implementations, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, deps ContainerDeps) (*Container, error) {
	if deps.Repositories == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       deps.Config,
		Repositories: deps.Repositories,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

// defaultRewardCatalog is the storefront reward lineup. Values are minor units.
var defaultRewardCatalog = []services.Reward{
	{ID: "rwd_drip", Label: "Free Drip Coffee", PointCost: 300, Value: 350},
	{ID: "rwd_pastry", Label: "Seasonal Pastry", PointCost: 600, Value: 480},
	{ID: "rwd_cake", Label: "Cake Slice", PointCost: 900, Value: 600},
	{ID: "rwd_bag", Label: "Coffee Bean Bag 200g", PointCost: 1800, Value: 1400},
}

// ParseTierTable builds a loyalty tier table from the configured spec string.
// Each entry is name=threshold:multiplierBps, comma separated.
func ParseTierTable(spec string) (domain.TierTable, error) {
	entries := strings.Split(spec, ",")
	tiers := make([]domain.LoyaltyTier, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		nameValue := strings.SplitN(entry, "=", 2)
		if len(nameValue) != 2 {
			return domain.TierTable{}, fmt.Errorf("tier spec: malformed entry %q", entry)
		}
		name := strings.TrimSpace(nameValue[0])
		bounds := strings.SplitN(nameValue[1], ":", 2)
		if name == "" || len(bounds) != 2 {
			return domain.TierTable{}, fmt.Errorf("tier spec: malformed entry %q", entry)
		}
		threshold, err := strconv.ParseInt(strings.TrimSpace(bounds[0]), 10, 64)
		if err != nil {
			return domain.TierTable{}, fmt.Errorf("tier spec: bad threshold in %q: %w", entry, err)
		}
		multiplier, err := strconv.ParseInt(strings.TrimSpace(bounds[1]), 10, 64)
		if err != nil {
			return domain.TierTable{}, fmt.Errorf("tier spec: bad multiplier in %q: %w", entry, err)
		}
		tiers = append(tiers, domain.LoyaltyTier{
			Name:          name,
			Threshold:     threshold,
			MultiplierBps: multiplier,
		})
	}
	return domain.NewTierTable(tiers)
}

func buildServices(ctx context.Context, deps ContainerDeps) (Services, error) {
	var svc Services
	reg := deps.Repositories
	cfg := deps.Config

	if auditRepo := reg.AuditLogs(); auditRepo != nil {
		auditSvc, err := services.NewAuditLogService(services.AuditLogServiceDeps{
			Repository: auditRepo,
			Clock:      time.Now,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build audit log service: %w", err)
		}
		svc.Audit = auditSvc
	}

	counterRepo := reg.Counters()
	if counterRepo != nil {
		counterSvc, err := services.NewCounterService(services.CounterServiceDeps{
			Repository: counterRepo,
			Clock:      time.Now,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build counter service: %w", err)
		}
		svc.Counters = counterSvc
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            time.Now,
			Build: services.BuildInfo{
				Environment: cfg.Security.Environment,
				StartedAt:   time.Now().UTC(),
			},
			Audit:    svc.Audit,
			Counters: svc.Counters,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	if menuRepo := reg.MenuItems(); menuRepo != nil {
		menuSvc, err := services.NewMenuService(services.MenuServiceDeps{
			Repository: menuRepo,
			Clock:      time.Now,
			Logger:     deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build menu service: %w", err)
		}
		svc.Menu = menuSvc
	}

	if promotionsRepo := reg.Promotions(); promotionsRepo != nil {
		promotionSvc, err := services.NewPromotionService(services.PromotionServiceDeps{
			Promotions: promotionsRepo,
			Usage:      reg.PromotionUsage(),
			Clock:      time.Now,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build promotion service: %w", err)
		}
		svc.Promotions = promotionSvc
	}

	if accountsRepo := reg.LoyaltyAccounts(); accountsRepo != nil {
		tiers, err := ParseTierTable(cfg.Loyalty.TierSpec)
		if err != nil {
			return Services{}, fmt.Errorf("parse loyalty tiers: %w", err)
		}
		loyaltySvc, err := services.NewLoyaltyService(services.LoyaltyServiceDeps{
			Accounts: accountsRepo,
			Tiers:    tiers,
			Rewards:  defaultRewardCatalog,
			Clock:    time.Now,
			Logger:   deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build loyalty service: %w", err)
		}
		svc.Loyalty = loyaltySvc
	}

	var quoter services.CartQuoter
	if svc.Promotions != nil {
		engine, err := services.NewCartPricingEngine(services.CartPricingEngineDeps{
			Promotion: svc.Promotions,
			Delivery: services.DeliveryFeeConfig{
				FlatFee:       cfg.Pricing.DeliveryFlatFee,
				FreeThreshold: cfg.Pricing.FreeDeliveryThreshold,
			},
			Logger: deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build pricing engine: %w", err)
		}
		quoter = engine
	}

	if cartRepo := reg.Carts(); cartRepo != nil && svc.Menu != nil {
		cartSvc, err := services.NewCartService(services.CartServiceDeps{
			Repository:      cartRepo,
			SavedItems:      reg.SavedItems(),
			Menu:            svc.Menu,
			Loyalty:         svc.Loyalty,
			Promotions:      svc.Promotions,
			Quoter:          quoter,
			Clock:           time.Now,
			DefaultCurrency: cfg.Pricing.Currency,
			Logger:          deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build cart service: %w", err)
		}
		svc.Cart = cartSvc
	}

	ordersRepo := reg.Orders()
	if ordersRepo != nil && counterRepo != nil {
		orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
			Orders:     ordersRepo,
			Payments:   reg.OrderPayments(),
			Counters:   counterRepo,
			Quoter:     quoter,
			UnitOfWork: reg,
			Clock:      time.Now,
			Events:     deps.OrderEvents,
			Logger:     deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build order service: %w", err)
		}
		svc.Orders = orderSvc
	}

	if reviewRepo := reg.Reviews(); reviewRepo != nil && ordersRepo != nil {
		reviewSvc, err := services.NewReviewService(services.ReviewServiceDeps{
			Reviews: reviewRepo,
			Orders:  ordersRepo,
			Clock:   time.Now,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build review service: %w", err)
		}
		svc.Reviews = reviewSvc
	}

	if assetRepo := reg.Assets(); assetRepo != nil {
		assetSvc, err := services.NewAssetService(services.AssetServiceDeps{
			Repository: assetRepo,
			Clock:      time.Now,
			Logger:     deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build asset service: %w", err)
		}
		svc.Assets = assetSvc
	}

	if deps.Payments != nil && svc.Cart != nil && svc.Orders != nil {
		paymentRecords := reg.OrderPayments()
		checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
			Carts:          svc.Cart,
			Orders:         svc.Orders,
			Loyalty:        svc.Loyalty,
			Promotions:     svc.Promotions,
			Payments:       deps.Payments,
			PaymentRecords: paymentRecords,
			Clock:          time.Now,
			Logger:         deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build checkout service: %w", err)
		}
		svc.Checkout = checkoutSvc

		paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
			Gateway:       deps.Payments,
			Records:       paymentRecords,
			Checkout:      checkoutSvc,
			WebhookSecret: cfg.PSP.StripeWebhookSecret,
			Clock:         time.Now,
			Logger:        deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build payment service: %w", err)
		}
		svc.Payments = paymentSvc
	}

	return svc, nil
}
