package services

import (
	"context"
	"time"

	domain "github.com/star-cafe/api/internal/domain"
	"github.com/star-cafe/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination                = domain.Pagination
	SortOrder                 = domain.SortOrder
	MenuItem                  = domain.MenuItem
	MenuItemTranslation       = domain.MenuItemTranslation
	Cart                      = domain.Cart
	CartItem                  = domain.CartItem
	CartPromotion             = domain.CartPromotion
	CartQuote                 = domain.CartQuote
	SavedItem                 = domain.SavedItem
	RewardSelection           = domain.RewardSelection
	LoyaltyTier               = domain.LoyaltyTier
	TierTable                 = domain.TierTable
	Reward                    = domain.Reward
	LoyaltyState              = domain.LoyaltyState
	LoyaltyAccount            = domain.LoyaltyAccount
	RedemptionRecord          = domain.RedemptionRecord
	Order                     = domain.Order
	OrderTotals               = domain.OrderTotals
	OrderLineItem             = domain.OrderLineItem
	OrderStatus               = domain.OrderStatus
	OrderContact              = domain.OrderContact
	OrderAudit                = domain.OrderAudit
	OrderEvent                = domain.OrderEvent
	Payment                   = domain.Payment
	Review                    = domain.Review
	ReviewReply               = domain.ReviewReply
	ReviewStatus              = domain.ReviewStatus
	Promotion                 = domain.Promotion
	PromotionStatus           = domain.PromotionStatus
	PromotionValidationResult = domain.PromotionValidationResult
	Address                   = domain.Address
	SystemHealthReport        = domain.SystemHealthReport
	AuditLogEntry             = domain.AuditLogEntry
	SignedAssetResponse       = domain.SignedAssetResponse
)

// MenuService is the catalog boundary: the only price source cart lines may
// dereference.
type MenuService interface {
	ListItems(ctx context.Context, filter MenuListFilter) (domain.CursorPage[MenuItem], error)
	GetItem(ctx context.Context, ref MenuItemRef) (MenuItem, error)
	UpsertItem(ctx context.Context, cmd UpsertMenuItemCommand) (MenuItem, error)
	DeleteItem(ctx context.Context, cmd DeleteMenuItemCommand) error
}

// CartService manages mutable cart state; every read and mutation returns the
// cart with a fresh quote attached.
type CartService interface {
	GetOrCreateCart(ctx context.Context, userID string) (Cart, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error)
	UpdateItem(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error)
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error)
	SaveForLater(ctx context.Context, cmd SaveForLaterCommand) (Cart, error)
	RestoreSavedItem(ctx context.Context, cmd RestoreSavedItemCommand) (Cart, error)
	ListSavedItems(ctx context.Context, userID string) ([]SavedItem, error)
	RemoveSavedItem(ctx context.Context, cmd RemoveSavedItemCommand) error
	ApplyReward(ctx context.Context, cmd ApplyRewardCommand) (Cart, error)
	RemoveReward(ctx context.Context, userID string) (Cart, error)
	ApplyPromotion(ctx context.Context, cmd CartPromotionCommand) (Cart, error)
	RemovePromotion(ctx context.Context, userID string) (Cart, error)
	ClearCart(ctx context.Context, userID string) error
}

// LoyaltyService resolves loyalty state and owns point accrual/redemption.
type LoyaltyService interface {
	GetAccount(ctx context.Context, userID string) (LoyaltyAccount, error)
	ResolveState(ctx context.Context, cmd ResolveLoyaltyCommand) (LoyaltyState, error)
	ListRewards(ctx context.Context) ([]Reward, error)
	AccruePoints(ctx context.Context, cmd AccruePointsCommand) (LoyaltyAccount, error)
	RedeemReward(ctx context.Context, cmd RedeemRewardCommand) (LoyaltyAccount, error)
}

// CheckoutService coordinates PSP session creation and completion handling.
type CheckoutService interface {
	CreateCheckoutSession(ctx context.Context, cmd CreateCheckoutSessionCommand) (CheckoutSessionResult, error)
	ConfirmClientCompletion(ctx context.Context, cmd ConfirmCheckoutCommand) error
	HandlePaymentSucceeded(ctx context.Context, cmd PaymentSucceededCommand) error
	ReleaseOnCancel(ctx context.Context, cmd ReleaseCheckoutCommand) error
}

// OrderService encapsulates order read/write flows including cancellation.
type OrderService interface {
	CreateFromCart(ctx context.Context, cmd CreateOrderFromCartCommand) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	GetOrder(ctx context.Context, orderID string, opts OrderReadOptions) (Order, error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
}

// PaymentService handles idempotent PSP webhook processing and admin adjustments.
type PaymentService interface {
	RecordWebhookEvent(ctx context.Context, cmd PaymentWebhookCommand) error
	ManualCapture(ctx context.Context, cmd PaymentManualCaptureCommand) (Payment, error)
	ManualRefund(ctx context.Context, cmd PaymentManualRefundCommand) (Payment, error)
	ListPayments(ctx context.Context, orderID string) ([]Payment, error)
}

// ReviewService coordinates review lifecycle and moderation workflows.
type ReviewService interface {
	Create(ctx context.Context, cmd CreateReviewCommand) (Review, error)
	GetByOrder(ctx context.Context, cmd GetReviewByOrderCommand) (Review, error)
	ListByUser(ctx context.Context, cmd ListUserReviewsCommand) (domain.CursorPage[Review], error)
	ListForModeration(ctx context.Context, filter ReviewModerationFilter) (domain.CursorPage[Review], error)
	Moderate(ctx context.Context, cmd ModerateReviewCommand) (Review, error)
	StoreReply(ctx context.Context, cmd StoreReviewReplyCommand) (Review, error)
}

// PromotionService exposes promotion lifecycle and validation operations.
type PromotionService interface {
	ValidatePromotion(ctx context.Context, cmd ValidatePromotionCommand) (PromotionValidationResult, error)
	GetPromotionByCode(ctx context.Context, code string) (Promotion, error)
	RecordUsage(ctx context.Context, cmd RecordPromotionUsageCommand) error
}

// PromotionAdminService adds the admin CRUD surface on top of validation.
type PromotionAdminService interface {
	PromotionService
	ListPromotions(ctx context.Context, filter PromotionListFilter) (domain.CursorPage[Promotion], error)
	CreatePromotion(ctx context.Context, cmd UpsertPromotionCommand) (Promotion, error)
	UpdatePromotion(ctx context.Context, cmd UpsertPromotionCommand) (Promotion, error)
	DeletePromotion(ctx context.Context, promoID string) error
}

// AssetService issues signed URLs for menu item photos.
type AssetService interface {
	IssueSignedUpload(ctx context.Context, cmd SignedUploadCommand) (SignedAssetResponse, error)
	IssueSignedDownload(ctx context.Context, cmd SignedDownloadCommand) (SignedAssetResponse, error)
}

// SystemService aggregates utility endpoints (health checks, audit logs, counters).
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
	ListAuditLogs(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error)
	NextCounterValue(ctx context.Context, cmd CounterCommand) (int64, error)
}

// CounterService issues monotonically increasing sequence values with
// optional formatting, used for order numbers and similar business IDs.
type CounterService interface {
	Next(ctx context.Context, scope, name string, opts CounterGenerationOptions) (CounterValue, error)
	NextOrderNumber(ctx context.Context) (string, error)
	NextInvoiceNumber(ctx context.Context) (string, error)
}

// CounterValue pairs a raw sequence value with its formatted representation.
type CounterValue struct {
	Value     int64
	Formatted string
}

// CounterGenerationOptions controls how counter values are incremented and formatted.
type CounterGenerationOptions struct {
	Step         int64
	Prefix       string
	Suffix       string
	PadLength    int
	MaxValue     *int64
	InitialValue *int64
	Formatter    func(now time.Time, value int64) string
}

// AuditLogService centralizes immutable audit log persistence and retrieval.
type AuditLogService interface {
	Record(ctx context.Context, record AuditLogRecord)
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error)
}

// OrderEventPublisher accepts order lifecycle notifications for downstream fanout.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// DomainError represents a structured error with stable codes for transport across layers.
type DomainError interface {
	error
	Code() string
	SafeMessage() string
}

// Command and DTO definitions ------------------------------------------------

// MenuItemRef addresses a menu item by current ID or legacy storefront key.
type MenuItemRef struct {
	ID        string
	LegacyKey string
}

type MenuListFilter struct {
	Category      *string
	AvailableOnly bool
	Locale        string
	Pagination    Pagination
}

type UpsertMenuItemCommand struct {
	Item    MenuItem
	ActorID string
}

type DeleteMenuItemCommand struct {
	ItemID  string
	ActorID string
}

type AddCartItemCommand struct {
	UserID    string
	ItemID    string
	LegacyKey string
	Quantity  int
	Notes     string
}

type UpdateCartItemCommand struct {
	UserID            string
	LineID            string
	Quantity          *int
	Notes             *string
	ExpectedUpdatedAt *time.Time
}

type RemoveCartItemCommand struct {
	UserID string
	LineID string
}

type SaveForLaterCommand struct {
	UserID string
	LineID string
}

type RestoreSavedItemCommand struct {
	UserID      string
	SavedItemID string
}

type RemoveSavedItemCommand struct {
	UserID      string
	SavedItemID string
}

type ApplyRewardCommand struct {
	UserID   string
	RewardID string
}

type CartPromotionCommand struct {
	UserID string
	Code   string
	Source string
}

type ResolveLoyaltyCommand struct {
	UserID     string
	OrderTotal int64
}

type AccruePointsCommand struct {
	UserID     string
	OrderID    string
	OrderTotal int64
}

type RedeemRewardCommand struct {
	UserID    string
	OrderID   string
	RewardID  string
	PointCost int64
}

type CreateCheckoutSessionCommand struct {
	UserID         string
	CartID         string
	SuccessURL     string
	CancelURL      string
	PSP            string
	IdempotencyKey string
	Metadata       map[string]string
}

// CheckoutSessionResult pairs the created order with the PSP session handle.
type CheckoutSessionResult struct {
	OrderID      string
	SessionID    string
	Provider     string
	ClientSecret string
	RedirectURL  string
	ExpiresAt    time.Time
}

type ConfirmCheckoutCommand struct {
	UserID    string
	OrderID   string
	SessionID string
}

type PaymentSucceededCommand struct {
	OrderID  string
	IntentID string
	Amount   int64
	Currency string
	Raw      map[string]any
}

type ReleaseCheckoutCommand struct {
	OrderID string
	Reason  string
}

type OrderListFilter = repositories.OrderListFilter

type OrderReadOptions struct {
	IncludePayments bool
}

type CreateOrderFromCartCommand struct {
	Cart        Cart
	ActorID     string
	OrderNumber *string
	Address     *Address
	Contact     *OrderContact
	Notes       string
	Metadata    map[string]any
}

type OrderStatusTransitionCommand struct {
	OrderID        string
	TargetStatus   OrderStatus
	ActorID        string
	Reason         string
	ExpectedStatus *OrderStatus
	Metadata       map[string]any
}

type CancelOrderCommand struct {
	OrderID        string
	ActorID        string
	Reason         string
	ExpectedStatus *OrderStatus
	Metadata       map[string]any
}

type PaymentWebhookCommand struct {
	Provider string
	Payload  []byte
	Headers  map[string]string
}

type PaymentManualCaptureCommand struct {
	OrderID   string
	PaymentID string
	ActorID   string
}

type PaymentManualRefundCommand struct {
	OrderID   string
	PaymentID string
	ActorID   string
	Amount    *int64
	Reason    string
}

type CreateReviewCommand struct {
	OrderID string
	UserID  string
	Rating  int
	Comment string
	ActorID string
}

type GetReviewByOrderCommand struct {
	OrderID    string
	ActorID    string
	AllowStaff bool
}

type ListUserReviewsCommand struct {
	UserID     string
	Pagination Pagination
}

type ReviewModerationFilter struct {
	Status     []ReviewStatus
	Pagination Pagination
}

type ModerateReviewCommand struct {
	ReviewID string
	ActorID  string
	Status   ReviewStatus
}

type StoreReviewReplyCommand struct {
	ReviewID string
	ActorID  string
	Message  string
	Visible  bool
}

type ValidatePromotionCommand struct {
	Code    string
	UserID  *string
	CartID  *string
	OrderID *string
}

type RecordPromotionUsageCommand struct {
	Code    string
	UserID  string
	OrderID string
}

type PromotionListFilter struct {
	Status     []PromotionStatus
	Pagination Pagination
}

type UpsertPromotionCommand struct {
	Promotion Promotion
	ActorID   string
}

type SignedUploadCommand struct {
	ActorID     string
	ItemID      *string
	Kind        string
	Purpose     string
	FileName    string
	ContentType string
	SizeBytes   int64
}

type SignedDownloadCommand struct {
	ActorID string
	AssetID string
}

// AuditLogRecord defines the payload accepted by the audit writer service.
type AuditLogRecord struct {
	Actor                 string
	ActorType             string
	Action                string
	TargetRef             string
	Severity              string
	RequestID             string
	OccurredAt            time.Time
	Metadata              map[string]any
	Diff                  map[string]AuditLogDiff
	SensitiveMetadataKeys []string
	SensitiveDiffKeys     []string
	IPAddress             string
	UserAgent             string
}

// AuditLogDiff captures before/after values for tracked fields.
type AuditLogDiff struct {
	Before any
	After  any
}

type AuditLogFilter struct {
	TargetRef  string
	Actor      string
	ActorType  string
	Action     string
	DateRange  domain.RangeQuery[time.Time]
	Pagination Pagination
}

type CounterCommand struct {
	CounterID string
	Step      int64
}
