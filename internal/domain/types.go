package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// MenuItemTranslation stores localized strings for menu presentation.
type MenuItemTranslation struct {
	Locale      string
	Name        string
	Description string
}

// MenuItem is a sellable catalog entry. Prices are stored in the currency's
// smallest unit. LegacyKey carries the identifier the previous storefront
// used for the same dish so old carts keep resolving.
type MenuItem struct {
	ID            string
	LegacyKey     string
	Name          string
	Description   string
	Category      string
	Tags          []string
	Price         int64
	Currency      string
	ImagePath     string
	IsAvailable   bool
	PrepMinutes   int
	DefaultLocale string
	Translations  map[string]MenuItemTranslation
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Cart aggregates the mutable shopping cart state for a user.
type Cart struct {
	ID        string
	UserID    string
	Currency  string
	Items     []CartItem
	Reward    *RewardSelection
	Promotion *CartPromotion
	Quote     *CartQuote
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CartPromotion captures the promotion snapshot applied to a cart.
type CartPromotion struct {
	Code           string
	DiscountAmount int64
	Applied        bool
}

// RewardSelection records a loyalty reward the user has chosen to redeem.
// Points are not deducted until the order is finalized.
type RewardSelection struct {
	RewardID   string
	Label      string
	PointCost  int64
	Value      int64
	SelectedAt time.Time
}

// CartItem stores a single menu-item line within a cart. ItemID references
// the current menu item; LegacyKey is kept so lines created against the old
// catalog keys can still be dereferenced.
type CartItem struct {
	ID        string
	ItemID    string
	LegacyKey string
	Name      string
	Quantity  int
	UnitPrice int64
	Currency  string
	Notes     string
	Metadata  map[string]any
	AddedAt   time.Time
	UpdatedAt *time.Time
}

// SavedItem is a cart line parked in the longer-lived save-for-later
// collection.
type SavedItem struct {
	ID        string
	UserID    string
	ItemID    string
	LegacyKey string
	Name      string
	Quantity  int
	UnitPrice int64
	Currency  string
	Notes     string
	SavedAt   time.Time
}

// CartQuote summarizes totals calculated for a cart in minor units.
// Total == Subtotal - Discount + DeliveryFee holds exactly.
type CartQuote struct {
	Subtotal    int64
	Discount    int64
	DeliveryFee int64
	Total       int64
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusDraft indicates the order is yet to be confirmed or checkout is incomplete.
	OrderStatusDraft OrderStatus = "draft"
	// OrderStatusPendingPayment indicates the order awaits payment completion.
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	// OrderStatusPaid indicates payment succeeded and the kitchen can begin.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusPreparing indicates the kitchen is actively preparing the order.
	OrderStatusPreparing OrderStatus = "preparing"
	// OrderStatusReady indicates the order is ready for pickup or courier handoff.
	OrderStatusReady OrderStatus = "ready"
	// OrderStatusOutForDelivery indicates a courier has collected the order.
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	// OrderStatusDelivered indicates the order has reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCompleted indicates post-delivery confirmation has happened.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCanceled indicates the order has been canceled.
	OrderStatusCanceled OrderStatus = "canceled"
)

// Order captures the order header returned to handlers and services.
type Order struct {
	ID              string
	OrderNumber     string
	UserID          string
	CartRef         *string
	Status          OrderStatus
	Currency        string
	Totals          OrderTotals
	Reward          *RewardSelection
	Promotion       *CartPromotion
	Items           []OrderLineItem
	DeliveryAddress *Address
	Contact         *OrderContact
	Notes           string
	Audit           OrderAudit
	Metadata        map[string]any
	CreatedAt       time.Time
	UpdatedAt       time.Time
	PlacedAt        *time.Time
	PaidAt          *time.Time
	DeliveredAt     *time.Time
	CompletedAt     *time.Time
	CanceledAt      *time.Time
	CancelReason    *string
	Payments        []Payment
	PointsEarned    int64
	PointsRedeemed  int64
}

// OrderTotals holds rolled-up monetary fields in the smallest currency unit.
type OrderTotals struct {
	Subtotal    int64
	Discount    int64
	DeliveryFee int64
	Total       int64
}

// OrderLineItem mirrors cart items at the time of checkout.
type OrderLineItem struct {
	ItemRef   string
	LegacyKey string
	Name      string
	Quantity  int
	UnitPrice int64
	Total     int64
	Notes     string
	Metadata  map[string]any
}

// OrderContact stores the customer contact snapshot for notifications.
type OrderContact struct {
	Email string
	Phone string
}

// OrderAudit records the actors responsible for creating/updating the order.
type OrderAudit struct {
	CreatedBy *string
	UpdatedBy *string
}

// OrderEvent is the realtime notification emitted when an order changes state.
type OrderEvent struct {
	OrderID    string
	Status     OrderStatus
	OccurredAt time.Time
	Metadata   map[string]any
}

// Payment encapsulates payment status and PSP references for an order.
type Payment struct {
	ID         string
	OrderID    string
	Provider   string
	IntentID   string
	Status     string
	Amount     int64
	Currency   string
	Captured   bool
	CapturedAt *time.Time
	RefundedAt *time.Time
	Raw        map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ReviewStatus indicates the moderation state of a review.
type ReviewStatus string

const (
	// ReviewStatusPending indicates the review awaits moderation.
	ReviewStatusPending ReviewStatus = "pending"
	// ReviewStatusApproved indicates the review is approved and visible.
	ReviewStatusApproved ReviewStatus = "approved"
	// ReviewStatusRejected indicates the review is rejected and hidden.
	ReviewStatusRejected ReviewStatus = "rejected"
)

// Review captures user-generated feedback associated with an order.
type Review struct {
	ID          string
	OrderRef    string
	UserRef     string
	Rating      int
	Comment     string
	Status      ReviewStatus
	ModeratedBy *string
	ModeratedAt *time.Time
	Reply       *ReviewReply
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ReviewReply stores a staff response to a user review.
type ReviewReply struct {
	Message   string
	AuthorRef string
	Visible   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PromotionStatus enumerates the lifecycle states of a promotion.
type PromotionStatus string

const (
	// PromotionStatusActive indicates the promotion may be applied.
	PromotionStatusActive PromotionStatus = "active"
	// PromotionStatusPaused indicates the promotion is temporarily disabled.
	PromotionStatusPaused PromotionStatus = "paused"
	// PromotionStatusArchived indicates the promotion is retired.
	PromotionStatusArchived PromotionStatus = "archived"
)

// Promotion describes a promotional rule persisted by admin services.
type Promotion struct {
	ID             string
	Code           string
	Name           string
	Description    string
	Status         PromotionStatus
	DiscountAmount int64
	MinSubtotal    int64
	StartsAt       time.Time
	EndsAt         time.Time
	UsageLimit     *int
	UsageCount     int
	Metadata       map[string]any
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PromotionValidationResult is returned when a code is evaluated for a cart.
type PromotionValidationResult struct {
	Code           string
	Eligible       bool
	Reason         string
	DiscountAmount int64
}

// Address represents postal address structures shared by user and order layers.
type Address struct {
	Recipient  string
	Line1      string
	Line2      *string
	City       string
	State      *string
	PostalCode string
	Country    string
	Phone      *string
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// AuditLogEntry stores normalized audit information for admin review.
type AuditLogEntry struct {
	ID        string
	Actor     string
	ActorType string
	Action    string
	TargetRef string
	Metadata  map[string]any
	Diff      map[string]any
	IPHash    string
	UserAgent string
	Severity  string
	RequestID string
	CreatedAt time.Time
}

// SignedAssetResponse returns signed URL payloads for upload/download flows.
type SignedAssetResponse struct {
	AssetID   string
	URL       string
	ExpiresAt time.Time
	Method    string
	Headers   map[string]string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
