package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/star-cafe/api/internal/domain"
	"github.com/star-cafe/api/internal/repositories"
)

const (
	reviewIDPrefix          = "rev_"
	reviewEventCreated      = "review.created"
	reviewEventApproved     = "review.approved"
	reviewEventRejected     = "review.rejected"
	reviewEventReplyUpdated = "review.reply.updated"
)

var (
	// ErrReviewInvalidInput indicates validation failures for review operations.
	ErrReviewInvalidInput = errors.New("review: invalid input")
	// ErrReviewNotFound indicates a review could not be located.
	ErrReviewNotFound = errors.New("review: not found")
	// ErrReviewUnauthorized indicates the actor is not allowed to access the review.
	ErrReviewUnauthorized = errors.New("review: unauthorized")
	// ErrReviewConflict signals duplicate submissions or conflicting updates.
	ErrReviewConflict = errors.New("review: conflict")
	// ErrReviewInvalidState is returned when an invalid status transition is attempted.
	ErrReviewInvalidState = errors.New("review: invalid state transition")
)

// ReviewEventPublisher emits review lifecycle events to downstream consumers.
type ReviewEventPublisher interface {
	PublishReviewEvent(ctx context.Context, event ReviewEvent) error
}

// ReviewEvent captures metadata for review lifecycle events.
type ReviewEvent struct {
	Type       string
	ReviewID   string
	OrderID    string
	Status     domain.ReviewStatus
	ActorID    string
	OccurredAt time.Time
	Metadata   map[string]any
}

// ReviewServiceDeps bundles collaborators required to construct a ReviewService.
type ReviewServiceDeps struct {
	Reviews              repositories.ReviewRepository
	Orders               repositories.OrderRepository
	Clock                func() time.Time
	IDGenerator          func() string
	Sanitizer            func(string) string
	ProfanityChecker     func(string) bool
	Events               ReviewEventPublisher
	AllowedOrderStatuses []domain.OrderStatus
}

// reviewService guards the customer review flow: one review per order, only
// after the order finished, plain text only, and staff moderation before
// anything becomes publicly visible.
type reviewService struct {
	reviews         repositories.ReviewRepository
	orders          repositories.OrderRepository
	clock           func() time.Time
	newID           func() string
	scrub           func(string) string
	isProfane       func(string) bool
	events          ReviewEventPublisher
	reviewableOrder map[domain.OrderStatus]struct{}
}

// NewReviewService wires dependencies into a concrete ReviewService implementation.
func NewReviewService(deps ReviewServiceDeps) (ReviewService, error) {
	if deps.Reviews == nil {
		return nil, errors.New("review service: review repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("review service: order repository is required")
	}

	svc := &reviewService{
		reviews:   deps.Reviews,
		orders:    deps.Orders,
		newID:     deps.IDGenerator,
		scrub:     deps.Sanitizer,
		isProfane: deps.ProfanityChecker,
		events:    deps.Events,
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	svc.clock = func() time.Time { return clock().UTC() }

	if svc.newID == nil {
		svc.newID = func() string { return reviewIDPrefix + ulid.Make().String() }
	}
	if svc.scrub == nil {
		svc.scrub = scrubReviewText
	}
	if svc.isProfane == nil {
		svc.isProfane = containsProfanity
	}

	reviewable := deps.AllowedOrderStatuses
	if len(reviewable) == 0 {
		reviewable = []domain.OrderStatus{
			domain.OrderStatusCompleted,
			domain.OrderStatusDelivered,
		}
	}
	svc.reviewableOrder = make(map[domain.OrderStatus]struct{}, len(reviewable))
	for _, status := range reviewable {
		svc.reviewableOrder[status] = struct{}{}
	}

	return svc, nil
}

func (s *reviewService) Create(ctx context.Context, cmd CreateReviewCommand) (Review, error) {
	if err := requireReviewFields(map[string]string{
		"order id": cmd.OrderID,
		"user id":  cmd.UserID,
		"actor id": cmd.ActorID,
	}); err != nil {
		return Review{}, err
	}
	if cmd.Rating < 1 || cmd.Rating > 5 {
		return Review{}, fmt.Errorf("%w: rating must be between 1 and 5", ErrReviewInvalidInput)
	}

	comment := s.scrub(cmd.Comment)
	if comment == "" {
		return Review{}, fmt.Errorf("%w: comment is required", ErrReviewInvalidInput)
	}
	if s.isProfane(comment) {
		return Review{}, fmt.Errorf("%w: comment contains profanity", ErrReviewInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, cmd.OrderID)
	if err != nil {
		if repoErr, ok := asRepositoryError(err); ok && repoErr.IsNotFound() {
			return Review{}, fmt.Errorf("%w: order not found", ErrReviewInvalidInput)
		}
		return Review{}, err
	}
	if order.UserID != cmd.UserID {
		return Review{}, fmt.Errorf("%w: order does not belong to user", ErrReviewInvalidInput)
	}
	if _, ok := s.reviewableOrder[order.Status]; !ok {
		return Review{}, fmt.Errorf("%w: order must be completed before review submission", ErrReviewInvalidInput)
	}

	if err := s.rejectDuplicate(ctx, cmd.OrderID); err != nil {
		return Review{}, err
	}

	now := s.clock()
	created, err := s.reviews.Insert(ctx, domain.Review{
		ID:        s.newID(),
		OrderRef:  cmd.OrderID,
		UserRef:   cmd.UserID,
		Rating:    cmd.Rating,
		Comment:   comment,
		Status:    domain.ReviewStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return Review{}, mapReviewRepoError(err)
	}

	s.publish(ctx, reviewEventCreated, created, cmd.ActorID)
	return created, nil
}

func (s *reviewService) GetByOrder(ctx context.Context, cmd GetReviewByOrderCommand) (Review, error) {
	if err := requireReviewFields(map[string]string{
		"order id": cmd.OrderID,
		"actor id": cmd.ActorID,
	}); err != nil {
		return Review{}, err
	}

	review, err := s.reviews.FindByOrder(ctx, cmd.OrderID)
	if err != nil {
		return Review{}, mapReviewRepoError(err)
	}
	if !cmd.AllowStaff && review.UserRef != cmd.ActorID {
		return Review{}, ErrReviewUnauthorized
	}
	return review, nil
}

func (s *reviewService) ListByUser(ctx context.Context, cmd ListUserReviewsCommand) (domain.CursorPage[Review], error) {
	if strings.TrimSpace(cmd.UserID) == "" {
		return domain.CursorPage[Review]{}, fmt.Errorf("%w: user id is required", ErrReviewInvalidInput)
	}
	page, err := s.reviews.ListByUser(ctx, cmd.UserID, cmd.Pagination)
	if err != nil {
		return domain.CursorPage[Review]{}, mapReviewRepoError(err)
	}
	return page, nil
}

func (s *reviewService) ListForModeration(ctx context.Context, filter ReviewModerationFilter) (domain.CursorPage[Review], error) {
	statuses := filter.Status
	if len(statuses) == 0 {
		statuses = []domain.ReviewStatus{domain.ReviewStatusPending}
	}
	page, err := s.reviews.ListByStatus(ctx, statuses, filter.Pagination)
	if err != nil {
		return domain.CursorPage[Review]{}, mapReviewRepoError(err)
	}
	return page, nil
}

func (s *reviewService) Moderate(ctx context.Context, cmd ModerateReviewCommand) (Review, error) {
	if err := requireReviewFields(map[string]string{
		"review id": cmd.ReviewID,
		"actor id":  cmd.ActorID,
	}); err != nil {
		return Review{}, err
	}
	if cmd.Status != domain.ReviewStatusApproved && cmd.Status != domain.ReviewStatusRejected {
		return Review{}, fmt.Errorf("%w: unsupported moderation status %s", ErrReviewInvalidInput, cmd.Status)
	}

	review, err := s.reviews.FindByID(ctx, cmd.ReviewID)
	if err != nil {
		return Review{}, mapReviewRepoError(err)
	}

	// Repeating the same decision is a no-op; reversing one is not allowed.
	if review.Status == cmd.Status {
		return review, nil
	}
	if review.Status != domain.ReviewStatusPending {
		return Review{}, fmt.Errorf("%w: cannot transition from %s to %s", ErrReviewInvalidState, review.Status, cmd.Status)
	}

	updated, err := s.reviews.UpdateStatus(ctx, cmd.ReviewID, cmd.Status, repositories.ReviewModerationUpdate{
		ModeratedBy: cmd.ActorID,
		ModeratedAt: s.clock(),
	})
	if err != nil {
		return Review{}, mapReviewRepoError(err)
	}

	if cmd.Status == domain.ReviewStatusApproved {
		s.publish(ctx, reviewEventApproved, updated, cmd.ActorID)
	} else {
		s.publish(ctx, reviewEventRejected, updated, cmd.ActorID)
	}
	return updated, nil
}

// StoreReply sets, replaces or clears the cafe's public reply. An empty
// message clears it.
func (s *reviewService) StoreReply(ctx context.Context, cmd StoreReviewReplyCommand) (Review, error) {
	if err := requireReviewFields(map[string]string{
		"review id": cmd.ReviewID,
		"actor id":  cmd.ActorID,
	}); err != nil {
		return Review{}, err
	}

	review, err := s.reviews.FindByID(ctx, cmd.ReviewID)
	if err != nil {
		return Review{}, mapReviewRepoError(err)
	}
	if review.Status != domain.ReviewStatusApproved {
		return Review{}, fmt.Errorf("%w: replies allowed only for approved reviews", ErrReviewInvalidState)
	}

	message := s.scrub(cmd.Message)
	if message != "" && s.isProfane(message) {
		return Review{}, fmt.Errorf("%w: reply contains profanity", ErrReviewInvalidInput)
	}

	now := s.clock()
	var reply *domain.ReviewReply
	if message != "" {
		createdAt := now
		if review.Reply != nil && !review.Reply.CreatedAt.IsZero() {
			createdAt = review.Reply.CreatedAt
		}
		reply = &domain.ReviewReply{
			Message:   message,
			AuthorRef: cmd.ActorID,
			Visible:   cmd.Visible,
			CreatedAt: createdAt,
			UpdatedAt: now,
		}
	}

	updated, err := s.reviews.UpdateReply(ctx, cmd.ReviewID, reply, now)
	if err != nil {
		return Review{}, mapReviewRepoError(err)
	}

	s.publish(ctx, reviewEventReplyUpdated, updated, cmd.ActorID)
	return updated, nil
}

func (s *reviewService) rejectDuplicate(ctx context.Context, orderID string) error {
	_, err := s.reviews.FindByOrder(ctx, orderID)
	if err == nil {
		return fmt.Errorf("%w: review already exists for order", ErrReviewConflict)
	}
	if repoErr, ok := asRepositoryError(err); ok && repoErr.IsNotFound() {
		return nil
	}
	return mapReviewRepoError(err)
}

func (s *reviewService) publish(ctx context.Context, eventType string, review domain.Review, actorID string) {
	if s.events == nil {
		return
	}
	_ = s.events.PublishReviewEvent(ctx, ReviewEvent{
		Type:       eventType,
		ReviewID:   review.ID,
		OrderID:    review.OrderRef,
		Status:     review.Status,
		ActorID:    actorID,
		OccurredAt: s.clock(),
		Metadata:   map[string]any{"userRef": review.UserRef},
	})
}

func requireReviewFields(fields map[string]string) error {
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%w: %s is required", ErrReviewInvalidInput, name)
		}
	}
	return nil
}

func mapReviewRepoError(err error) error {
	if repoErr, ok := asRepositoryError(err); ok {
		switch {
		case repoErr.IsNotFound():
			return ErrReviewNotFound
		case repoErr.IsConflict():
			return ErrReviewConflict
		}
	}
	return err
}

var reviewHTMLPolicy = bluemonday.StrictPolicy()

var profanityList = map[string]struct{}{
	"ass":     {},
	"asshole": {},
	"bastard": {},
	"bitch":   {},
	"bloody":  {},
	"damn":    {},
	"fuck":    {},
	"fucker":  {},
	"fucking": {},
	"shit":    {},
	"shitty":  {},
	"slut":    {},
	"whore":   {},
}

func containsProfanity(input string) bool {
	if input == "" {
		return false
	}
	words := strings.FieldsFunc(strings.ToLower(input), func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsNumber(r))
	})
	for _, word := range words {
		if _, ok := profanityList[word]; ok {
			return true
		}
	}
	return false
}

// scrubReviewText strips markup and control characters and collapses runs of
// whitespace, keeping intentional newlines.
func scrubReviewText(input string) string {
	trimmed := strings.TrimSpace(reviewHTMLPolicy.Sanitize(input))
	if trimmed == "" {
		return ""
	}

	normalized := strings.ReplaceAll(strings.ReplaceAll(trimmed, "\r\n", "\n"), "\r", "\n")
	lines := strings.Split(normalized, "\n")
	for i, line := range lines {
		line = strings.Map(func(r rune) rune {
			if unicode.IsControl(r) && r != '\n' {
				return -1
			}
			return r
		}, line)
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
