package repositories

import (
	"context"
	"time"

	domain "github.com/star-cafe/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	MenuItems() MenuItemRepository
	Carts() CartRepository
	SavedItems() SavedItemRepository
	LoyaltyAccounts() LoyaltyAccountRepository
	Orders() OrderRepository
	OrderPayments() OrderPaymentRepository
	Reviews() ReviewRepository
	Promotions() PromotionRepository
	PromotionUsage() PromotionUsageRepository
	Assets() AssetRepository
	AuditLogs() AuditLogRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// MenuItemRepository persists the catalog and resolves items by current ID or legacy key.
type MenuItemRepository interface {
	Insert(ctx context.Context, item domain.MenuItem) error
	Update(ctx context.Context, item domain.MenuItem) error
	Delete(ctx context.Context, itemID string) error
	FindByID(ctx context.Context, itemID string) (domain.MenuItem, error)
	FindByLegacyKey(ctx context.Context, legacyKey string) (domain.MenuItem, error)
	List(ctx context.Context, filter MenuItemListFilter) (domain.CursorPage[domain.MenuItem], error)
}

// CartRepository owns cart header + items persistence with optimistic locking guarantees.
type CartRepository interface {
	UpsertCart(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	GetCart(ctx context.Context, userID string) (domain.Cart, error)
	ReplaceItems(ctx context.Context, userID string, items []domain.CartItem) (domain.Cart, error)
}

// SavedItemRepository stores the longer-lived save-for-later lines per user.
type SavedItemRepository interface {
	Put(ctx context.Context, item domain.SavedItem) error
	Get(ctx context.Context, userID string, savedItemID string) (domain.SavedItem, error)
	Delete(ctx context.Context, userID string, savedItemID string) error
	ListByUser(ctx context.Context, userID string) ([]domain.SavedItem, error)
}

// LoyaltyAccountRepository stores per-user point balances and redemption markers.
// ApplyRedemption must be atomic: deduct points and record the redemption keyed
// by order ID in one transaction, failing with a conflict if the key exists.
type LoyaltyAccountRepository interface {
	Get(ctx context.Context, userID string) (domain.LoyaltyAccount, error)
	Upsert(ctx context.Context, account domain.LoyaltyAccount) (domain.LoyaltyAccount, error)
	AddPoints(ctx context.Context, userID string, points int64, spendDelta int64, now time.Time) (domain.LoyaltyAccount, error)
	ApplyRedemption(ctx context.Context, userID string, record domain.RedemptionRecord) (domain.LoyaltyAccount, error)
}

// OrderRepository persists order headers and provides query helpers for users and admins.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// OrderPaymentRepository stores payment records underneath an order document.
type OrderPaymentRepository interface {
	Insert(ctx context.Context, payment domain.Payment) error
	Update(ctx context.Context, payment domain.Payment) error
	List(ctx context.Context, orderID string) ([]domain.Payment, error)
}

// ReviewRepository stores order reviews and their moderation meta.
type ReviewRepository interface {
	Insert(ctx context.Context, review domain.Review) (domain.Review, error)
	FindByID(ctx context.Context, reviewID string) (domain.Review, error)
	FindByOrder(ctx context.Context, orderID string) (domain.Review, error)
	ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Review], error)
	ListByStatus(ctx context.Context, statuses []domain.ReviewStatus, pager domain.Pagination) (domain.CursorPage[domain.Review], error)
	UpdateStatus(ctx context.Context, reviewID string, status domain.ReviewStatus, update ReviewModerationUpdate) (domain.Review, error)
	UpdateReply(ctx context.Context, reviewID string, reply *domain.ReviewReply, updatedAt time.Time) (domain.Review, error)
}

// PromotionRepository maintains promotion definitions.
type PromotionRepository interface {
	Insert(ctx context.Context, promotion domain.Promotion) error
	Update(ctx context.Context, promotion domain.Promotion) error
	Delete(ctx context.Context, promotionID string) error
	FindByCode(ctx context.Context, code string) (domain.Promotion, error)
	List(ctx context.Context, filter PromotionListFilter) (domain.CursorPage[domain.Promotion], error)
}

// PromotionUsageRepository records per-user usage counts to enforce limits.
type PromotionUsageRepository interface {
	IncrementUsage(ctx context.Context, promoID string, userID string, now time.Time) (int, error)
	CountForUser(ctx context.Context, promoID string, userID string) (int, error)
}

// AssetRepository handles metadata synchronized with Cloud Storage objects.
type AssetRepository interface {
	CreateSignedUpload(ctx context.Context, cmd SignedUploadRecord) (domain.SignedAssetResponse, error)
	CreateSignedDownload(ctx context.Context, cmd SignedDownloadRecord) (domain.SignedAssetResponse, error)
	MarkUploaded(ctx context.Context, assetID string, actorID string, metadata map[string]any) error
}

// AuditLogRepository persists immutable audit trail entries.
type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.AuditLogEntry) error
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type MenuItemListFilter struct {
	Category      *string
	AvailableOnly bool
	Tags          []string
	Pagination    domain.Pagination
}

type OrderListFilter struct {
	UserID     string
	Status     []string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

type PromotionListFilter struct {
	Status     []string
	Pagination domain.Pagination
}

// ReviewModerationUpdate carries moderation metadata for status transitions.
type ReviewModerationUpdate struct {
	ModeratedBy string
	ModeratedAt time.Time
}

type AuditLogFilter struct {
	TargetRef  string
	Actor      string
	ActorType  string
	Action     string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

type SignedUploadRecord struct {
	ActorID     string
	ItemID      *string
	Kind        string
	Purpose     string
	FileName    string
	ContentType string
	SizeBytes   int64
}

type SignedDownloadRecord struct {
	ActorID string
	AssetID string
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
