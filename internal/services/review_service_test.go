package services

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	domain "github.com/star-cafe/api/internal/domain"
	"github.com/star-cafe/api/internal/repositories"
)

var reviewNow = time.Date(2025, time.March, 10, 14, 0, 0, 0, time.UTC)

type reviewEventSink struct {
	events []ReviewEvent
}

func (s *reviewEventSink) PublishReviewEvent(_ context.Context, event ReviewEvent) error {
	s.events = append(s.events, event)
	return nil
}

type reviewFixture struct {
	repo   *inMemReviewRepo
	orders *fixedOrderRepo
	events *reviewEventSink
	svc    ReviewService
}

func newReviewFixture(t *testing.T, orders map[string]domain.Order) *reviewFixture {
	t.Helper()
	f := &reviewFixture{
		repo:   newInMemReviewRepo(),
		orders: &fixedOrderRepo{orders: orders},
		events: &reviewEventSink{},
	}
	svc, err := NewReviewService(ReviewServiceDeps{
		Reviews:     f.repo,
		Orders:      f.orders,
		Clock:       func() time.Time { return reviewNow },
		IDGenerator: func() string { return "rev_test" },
		Events:      f.events,
	})
	if err != nil {
		t.Fatalf("new review service: %v", err)
	}
	f.svc = svc
	return f
}

func completedOrder(id, userID string) map[string]domain.Order {
	return map[string]domain.Order{
		id: {ID: id, UserID: userID, Status: domain.OrderStatusCompleted},
	}
}

func (f *reviewFixture) seed(t *testing.T, review domain.Review) {
	t.Helper()
	if _, err := f.repo.Insert(context.Background(), review); err != nil {
		t.Fatalf("seed review: %v", err)
	}
}

func TestReviewServiceCreate(t *testing.T) {
	f := newReviewFixture(t, completedOrder("ord_900", "cust_001"))

	review, err := f.svc.Create(context.Background(), CreateReviewCommand{
		OrderID: "ord_900",
		UserID:  "cust_001",
		Rating:  5,
		Comment: "  Best\nflat white in town  ",
		ActorID: "cust_001",
	})
	if err != nil {
		t.Fatalf("create review: %v", err)
	}

	if review.ID != "rev_test" {
		t.Fatalf("expected review id rev_test, got %s", review.ID)
	}
	if review.Comment != "Best\nflat white in town" {
		t.Fatalf("expected sanitized comment with newline preserved, got %q", review.Comment)
	}
	if review.Status != domain.ReviewStatusPending {
		t.Fatalf("expected status pending, got %s", review.Status)
	}

	if len(f.events.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(f.events.events))
	}
	event := f.events.events[0]
	if event.Type != reviewEventCreated || event.ReviewID != "rev_test" {
		t.Fatalf("unexpected event %+v", event)
	}
	if !event.OccurredAt.Equal(reviewNow) {
		t.Fatalf("expected occurred at %s, got %s", reviewNow, event.OccurredAt)
	}
}

func TestReviewServiceCreateRejections(t *testing.T) {
	t.Run("duplicate review", func(t *testing.T) {
		f := newReviewFixture(t, completedOrder("ord_900", "cust_001"))
		f.seed(t, domain.Review{
			ID:       "rev_existing",
			OrderRef: "ord_900",
			UserRef:  "cust_001",
			Rating:   4,
			Comment:  "already said my piece",
			Status:   domain.ReviewStatusPending,
		})

		_, err := f.svc.Create(context.Background(), CreateReviewCommand{
			OrderID: "ord_900",
			UserID:  "cust_001",
			Rating:  5,
			Comment: "second try",
			ActorID: "cust_001",
		})
		if !errors.Is(err, ErrReviewConflict) {
			t.Fatalf("expected conflict error, got %v", err)
		}
	})

	t.Run("profanity", func(t *testing.T) {
		f := newReviewFixture(t, completedOrder("ord_900", "cust_001"))
		_, err := f.svc.Create(context.Background(), CreateReviewCommand{
			OrderID: "ord_900",
			UserID:  "cust_001",
			Rating:  2,
			Comment: "This coffee is shit",
			ActorID: "cust_001",
		})
		if !errors.Is(err, ErrReviewInvalidInput) {
			t.Fatalf("expected invalid input error for profanity, got %v", err)
		}
	})

	t.Run("order owned by someone else", func(t *testing.T) {
		f := newReviewFixture(t, completedOrder("ord_900", "cust_999"))
		_, err := f.svc.Create(context.Background(), CreateReviewCommand{
			OrderID: "ord_900",
			UserID:  "cust_001",
			Rating:  5,
			Comment: "lovely",
			ActorID: "cust_001",
		})
		if !errors.Is(err, ErrReviewInvalidInput) {
			t.Fatalf("expected invalid input error, got %v", err)
		}
	})

	t.Run("order still in progress", func(t *testing.T) {
		f := newReviewFixture(t, map[string]domain.Order{
			"ord_901": {ID: "ord_901", UserID: "cust_001", Status: domain.OrderStatusPreparing},
		})
		_, err := f.svc.Create(context.Background(), CreateReviewCommand{
			OrderID: "ord_901",
			UserID:  "cust_001",
			Rating:  5,
			Comment: "too early",
			ActorID: "cust_001",
		})
		if !errors.Is(err, ErrReviewInvalidInput) {
			t.Fatalf("expected invalid input error, got %v", err)
		}
	})
}

func TestReviewServiceModerate(t *testing.T) {
	f := newReviewFixture(t, nil)
	f.seed(t, domain.Review{
		ID:        "rev_pending",
		OrderRef:  "ord_900",
		UserRef:   "cust_001",
		Rating:    5,
		Comment:   "great espresso",
		Status:    domain.ReviewStatusPending,
		CreatedAt: reviewNow.Add(-time.Hour),
		UpdatedAt: reviewNow.Add(-time.Hour),
	})

	approved, err := f.svc.Moderate(context.Background(), ModerateReviewCommand{
		ReviewID: "rev_pending",
		ActorID:  "staff_07",
		Status:   domain.ReviewStatusApproved,
	})
	if err != nil {
		t.Fatalf("moderate: %v", err)
	}

	if approved.Status != domain.ReviewStatusApproved {
		t.Fatalf("expected approved status, got %s", approved.Status)
	}
	if approved.ModeratedBy == nil || *approved.ModeratedBy != "staff_07" {
		t.Fatalf("expected moderated by staff_07, got %v", approved.ModeratedBy)
	}
	if approved.ModeratedAt == nil || approved.ModeratedAt.IsZero() {
		t.Fatalf("expected moderated at set")
	}
	if len(f.events.events) != 1 || f.events.events[0].Type != reviewEventApproved {
		t.Fatalf("expected approval event, got %+v", f.events.events)
	}

	// Approving twice is idempotent.
	again, err := f.svc.Moderate(context.Background(), ModerateReviewCommand{
		ReviewID: "rev_pending",
		ActorID:  "staff_07",
		Status:   domain.ReviewStatusApproved,
	})
	if err != nil {
		t.Fatalf("repeat moderate: %v", err)
	}
	if again.Status != domain.ReviewStatusApproved || len(f.events.events) != 1 {
		t.Fatalf("expected idempotent approval without new event")
	}

	// Reversing the decision is not.
	_, err = f.svc.Moderate(context.Background(), ModerateReviewCommand{
		ReviewID: "rev_pending",
		ActorID:  "staff_08",
		Status:   domain.ReviewStatusRejected,
	})
	if !errors.Is(err, ErrReviewInvalidState) {
		t.Fatalf("expected invalid state error, got %v", err)
	}
}

func TestReviewServiceGetByOrderAuthorization(t *testing.T) {
	f := newReviewFixture(t, nil)
	f.seed(t, domain.Review{
		ID:       "rev_auth",
		OrderRef: "ord_900",
		UserRef:  "cust_001",
		Rating:   5,
		Comment:  "great",
		Status:   domain.ReviewStatusApproved,
	})

	owner, err := f.svc.GetByOrder(context.Background(), GetReviewByOrderCommand{
		OrderID: "ord_900",
		ActorID: "cust_001",
	})
	if err != nil {
		t.Fatalf("owner get by order: %v", err)
	}
	if owner.ID != "rev_auth" {
		t.Fatalf("expected review rev_auth, got %s", owner.ID)
	}

	_, err = f.svc.GetByOrder(context.Background(), GetReviewByOrderCommand{
		OrderID: "ord_900",
		ActorID: "cust_999",
	})
	if !errors.Is(err, ErrReviewUnauthorized) {
		t.Fatalf("expected unauthorized error, got %v", err)
	}

	staff, err := f.svc.GetByOrder(context.Background(), GetReviewByOrderCommand{
		OrderID:    "ord_900",
		ActorID:    "staff_07",
		AllowStaff: true,
	})
	if err != nil {
		t.Fatalf("staff get by order: %v", err)
	}
	if staff.ID != "rev_auth" {
		t.Fatalf("expected review rev_auth for staff, got %s", staff.ID)
	}
}

func TestReviewServiceStoreReply(t *testing.T) {
	moderator := "staff_07"
	moderatedAt := reviewNow.Add(-time.Hour)
	f := newReviewFixture(t, nil)
	f.seed(t, domain.Review{
		ID:          "rev_approved",
		OrderRef:    "ord_900",
		UserRef:     "cust_001",
		Rating:      5,
		Comment:     "great",
		Status:      domain.ReviewStatusApproved,
		CreatedAt:   reviewNow.Add(-2 * time.Hour),
		UpdatedAt:   reviewNow.Add(-2 * time.Hour),
		ModeratedBy: &moderator,
		ModeratedAt: &moderatedAt,
	})

	withReply, err := f.svc.StoreReply(context.Background(), StoreReviewReplyCommand{
		ReviewID: "rev_approved",
		ActorID:  "barista_07",
		Message:  "Thanks\nfor your feedback!",
		Visible:  true,
	})
	if err != nil {
		t.Fatalf("store reply: %v", err)
	}
	if withReply.Reply == nil {
		t.Fatalf("expected reply to be set")
	}
	if withReply.Reply.Message != "Thanks\nfor your feedback!" {
		t.Fatalf("expected sanitized message with newline preserved, got %q", withReply.Reply.Message)
	}
	if withReply.Reply.AuthorRef != "barista_07" || !withReply.Reply.Visible {
		t.Fatalf("unexpected reply %+v", withReply.Reply)
	}
	if withReply.Reply.CreatedAt.IsZero() || withReply.Reply.UpdatedAt.IsZero() {
		t.Fatalf("expected reply timestamps to be set")
	}
	if n := len(f.events.events); n == 0 || f.events.events[n-1].Type != reviewEventReplyUpdated {
		t.Fatalf("expected reply updated event")
	}
	f.events.events = nil

	cleared, err := f.svc.StoreReply(context.Background(), StoreReviewReplyCommand{
		ReviewID: "rev_approved",
		ActorID:  "barista_07",
		Message:  "",
	})
	if err != nil {
		t.Fatalf("clear reply: %v", err)
	}
	if cleared.Reply != nil {
		t.Fatalf("expected reply cleared, got %+v", cleared.Reply)
	}
	if len(f.events.events) != 1 || f.events.events[0].Type != reviewEventReplyUpdated {
		t.Fatalf("expected reply updated event on clear")
	}
}

func TestReviewServiceListForModerationDefaultsToPending(t *testing.T) {
	f := newReviewFixture(t, nil)
	for _, review := range []domain.Review{
		{ID: "rev_1", OrderRef: "ord_900", UserRef: "cust_001", Rating: 5, Comment: "a", Status: domain.ReviewStatusPending},
		{ID: "rev_2", OrderRef: "ord_901", UserRef: "cust_002", Rating: 4, Comment: "b", Status: domain.ReviewStatusApproved},
		{ID: "rev_3", OrderRef: "ord_902", UserRef: "cust_003", Rating: 1, Comment: "c", Status: domain.ReviewStatusPending},
	} {
		f.seed(t, review)
	}

	page, err := f.svc.ListForModeration(context.Background(), ReviewModerationFilter{})
	if err != nil {
		t.Fatalf("list for moderation: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("expected 2 pending reviews, got %d", len(page.Items))
	}
	for _, review := range page.Items {
		if review.Status != domain.ReviewStatusPending {
			t.Fatalf("expected only pending reviews, got %s", review.Status)
		}
	}
}

// --- test doubles -----------------------------------------------------------------

type inMemReviewRepo struct {
	reviews map[string]domain.Review
	byOrder map[string]string
}

func newInMemReviewRepo() *inMemReviewRepo {
	return &inMemReviewRepo{
		reviews: make(map[string]domain.Review),
		byOrder: make(map[string]string),
	}
}

func (m *inMemReviewRepo) Insert(_ context.Context, review domain.Review) (domain.Review, error) {
	if _, exists := m.byOrder[review.OrderRef]; exists {
		return domain.Review{}, stubRepoErr{message: "duplicate", conflict: true}
	}
	m.reviews[review.ID] = cloneReview(review)
	m.byOrder[review.OrderRef] = review.ID
	return cloneReview(review), nil
}

func (m *inMemReviewRepo) FindByID(_ context.Context, reviewID string) (domain.Review, error) {
	review, ok := m.reviews[reviewID]
	if !ok {
		return domain.Review{}, stubRepoErr{message: "not found", notFound: true}
	}
	return cloneReview(review), nil
}

func (m *inMemReviewRepo) FindByOrder(_ context.Context, orderID string) (domain.Review, error) {
	reviewID, ok := m.byOrder[orderID]
	if !ok {
		return domain.Review{}, stubRepoErr{message: "not found", notFound: true}
	}
	return cloneReview(m.reviews[reviewID]), nil
}

func (m *inMemReviewRepo) ListByUser(_ context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Review], error) {
	var results []domain.Review
	for _, review := range m.reviews {
		if review.UserRef == userID {
			results = append(results, cloneReview(review))
		}
	}
	slices.SortFunc(results, func(a, b domain.Review) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	start := 0
	if token, err := strconv.Atoi(pager.PageToken); err == nil && token > 0 {
		start = min(token, len(results))
	}
	end := len(results)
	if pager.PageSize > 0 && start+pager.PageSize < end {
		end = start + pager.PageSize
	}

	nextToken := ""
	if end < len(results) {
		nextToken = strconv.Itoa(end)
	}
	return domain.CursorPage[domain.Review]{
		Items:         results[start:end],
		NextPageToken: nextToken,
	}, nil
}

func (m *inMemReviewRepo) ListByStatus(_ context.Context, statuses []domain.ReviewStatus, pager domain.Pagination) (domain.CursorPage[domain.Review], error) {
	var results []domain.Review
	for _, review := range m.reviews {
		if slices.Contains(statuses, review.Status) {
			results = append(results, cloneReview(review))
		}
	}
	slices.SortFunc(results, func(a, b domain.Review) int {
		return strings.Compare(a.ID, b.ID)
	})
	if pager.PageSize > 0 && len(results) > pager.PageSize {
		results = results[:pager.PageSize]
	}
	return domain.CursorPage[domain.Review]{Items: results}, nil
}

func (m *inMemReviewRepo) UpdateStatus(_ context.Context, reviewID string, status domain.ReviewStatus, update repositories.ReviewModerationUpdate) (domain.Review, error) {
	review, ok := m.reviews[reviewID]
	if !ok {
		return domain.Review{}, stubRepoErr{message: "not found", notFound: true}
	}
	review.Status = status
	review.UpdatedAt = update.ModeratedAt
	review.ModeratedAt = &update.ModeratedAt
	review.ModeratedBy = &update.ModeratedBy
	m.reviews[reviewID] = cloneReview(review)
	return cloneReview(review), nil
}

func (m *inMemReviewRepo) UpdateReply(_ context.Context, reviewID string, reply *domain.ReviewReply, updatedAt time.Time) (domain.Review, error) {
	review, ok := m.reviews[reviewID]
	if !ok {
		return domain.Review{}, stubRepoErr{message: "not found", notFound: true}
	}
	if reply != nil {
		cp := *reply
		review.Reply = &cp
	} else {
		review.Reply = nil
	}
	review.UpdatedAt = updatedAt
	m.reviews[reviewID] = cloneReview(review)
	return cloneReview(review), nil
}

func cloneReview(in domain.Review) domain.Review {
	out := in
	if in.Reply != nil {
		cp := *in.Reply
		out.Reply = &cp
	}
	if in.ModeratedBy != nil {
		v := *in.ModeratedBy
		out.ModeratedBy = &v
	}
	if in.ModeratedAt != nil {
		ts := *in.ModeratedAt
		out.ModeratedAt = &ts
	}
	return out
}

type stubRepoErr struct {
	message  string
	notFound bool
	conflict bool
	unavail  bool
}

func (e stubRepoErr) Error() string       { return e.message }
func (e stubRepoErr) IsNotFound() bool    { return e.notFound }
func (e stubRepoErr) IsConflict() bool    { return e.conflict }
func (e stubRepoErr) IsUnavailable() bool { return e.unavail }

type fixedOrderRepo struct {
	orders map[string]domain.Order
}

func (s *fixedOrderRepo) Insert(context.Context, domain.Order) error {
	return errors.New("not implemented")
}

func (s *fixedOrderRepo) Update(context.Context, domain.Order) error {
	return errors.New("not implemented")
}

func (s *fixedOrderRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	order, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, stubRepoErr{message: "not found", notFound: true}
	}
	return order, nil
}

func (s *fixedOrderRepo) List(context.Context, repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	return domain.CursorPage[domain.Order]{}, errors.New("not implemented")
}
