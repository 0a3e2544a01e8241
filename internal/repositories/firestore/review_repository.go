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
	reviewCollection     = "reviews"
	maxReviewStatusTerms = 10
)

// ReviewRepository stores order reviews with their moderation metadata.
type ReviewRepository struct {
	base     *pfirestore.BaseRepository[reviewDocument]
	provider *pfirestore.Provider
}

// NewReviewRepository constructs a Firestore-backed review repository.
func NewReviewRepository(provider *pfirestore.Provider) (*ReviewRepository, error) {
	if provider == nil {
		return nil, errors.New("review repository requires firestore provider")
	}
	return &ReviewRepository{
		base:     pfirestore.NewBaseRepository[reviewDocument](provider, reviewCollection, nil, nil),
		provider: provider,
	}, nil
}

// Insert creates the review, failing with a conflict when the ID exists.
func (r *ReviewRepository) Insert(ctx context.Context, review domain.Review) (domain.Review, error) {
	if r == nil || r.base == nil {
		return domain.Review{}, errors.New("review repository not initialised")
	}
	id := strings.TrimSpace(review.ID)
	if id == "" {
		return domain.Review{}, errors.New("review repository: review id is required")
	}
	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return domain.Review{}, err
	}
	doc := encodeReview(review)
	if _, err := ref.Create(ctx, doc); err != nil {
		return domain.Review{}, pfirestore.WrapError("reviews.insert", err)
	}
	return decodeReview(id, doc), nil
}

// FindByID loads the review.
func (r *ReviewRepository) FindByID(ctx context.Context, reviewID string) (domain.Review, error) {
	if r == nil || r.base == nil {
		return domain.Review{}, errors.New("review repository not initialised")
	}
	record, err := r.base.Get(ctx, strings.TrimSpace(reviewID))
	if err != nil {
		return domain.Review{}, err
	}
	return decodeReview(record.ID, record.Data), nil
}

// FindByOrder returns the review attached to the order, if any.
func (r *ReviewRepository) FindByOrder(ctx context.Context, orderID string) (domain.Review, error) {
	if r == nil || r.base == nil {
		return domain.Review{}, errors.New("review repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Review{}, errors.New("review repository: order id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderRef", "==", id).Limit(1)
	})
	if err != nil {
		return domain.Review{}, err
	}
	if len(docs) == 0 {
		return domain.Review{}, pfirestore.WrapError("reviews.find_by_order", status.Errorf(codes.NotFound, "no review for order %s", id))
	}
	return decodeReview(docs[0].ID, docs[0].Data), nil
}

// ListByUser returns the user's reviews, newest first.
func (r *ReviewRepository) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Review], error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.CursorPage[domain.Review]{}, errors.New("review repository: user id is required")
	}
	return r.list(ctx, "reviews.list_by_user", pager, func(q firestore.Query) firestore.Query {
		return q.Where("userRef", "==", uid)
	})
}

// ListByStatus returns reviews in any of the given moderation states, newest
// first. Used by the admin moderation queue.
func (r *ReviewRepository) ListByStatus(ctx context.Context, statuses []domain.ReviewStatus, pager domain.Pagination) (domain.CursorPage[domain.Review], error) {
	if len(statuses) == 0 {
		return domain.CursorPage[domain.Review]{}, errors.New("review repository: at least one status is required")
	}
	if len(statuses) > maxReviewStatusTerms {
		statuses = statuses[:maxReviewStatusTerms]
	}
	terms := make([]string, 0, len(statuses))
	for _, s := range statuses {
		terms = append(terms, string(s))
	}
	return r.list(ctx, "reviews.list_by_status", pager, func(q firestore.Query) firestore.Query {
		return q.Where("status", "in", terms)
	})
}

// UpdateStatus transitions the moderation state and stamps the moderator.
func (r *ReviewRepository) UpdateStatus(ctx context.Context, reviewID string, reviewStatus domain.ReviewStatus, update repositories.ReviewModerationUpdate) (domain.Review, error) {
	return r.mutate(ctx, "reviews.update_status", reviewID, func(doc *reviewDocument) {
		doc.Status = string(reviewStatus)
		moderator := strings.TrimSpace(update.ModeratedBy)
		if moderator != "" {
			doc.ModeratedBy = &moderator
		}
		moderatedAt := update.ModeratedAt.UTC()
		doc.ModeratedAt = &moderatedAt
		doc.UpdatedAt = moderatedAt
	})
}

// UpdateReply sets or clears the staff reply.
func (r *ReviewRepository) UpdateReply(ctx context.Context, reviewID string, reply *domain.ReviewReply, updatedAt time.Time) (domain.Review, error) {
	return r.mutate(ctx, "reviews.update_reply", reviewID, func(doc *reviewDocument) {
		if reply == nil {
			doc.Reply = nil
		} else {
			doc.Reply = &reviewReplyDoc{
				Message:   reply.Message,
				AuthorRef: reply.AuthorRef,
				Visible:   reply.Visible,
				CreatedAt: reply.CreatedAt.UTC(),
				UpdatedAt: reply.UpdatedAt.UTC(),
			}
		}
		doc.UpdatedAt = updatedAt.UTC()
	})
}

func (r *ReviewRepository) list(ctx context.Context, op string, pager domain.Pagination, where func(firestore.Query) firestore.Query) (domain.CursorPage[domain.Review], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Review]{}, errors.New("review repository not initialised")
	}

	limit := pager.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := 0
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(pager.PageToken); token != "" {
		ts, docID, err := decodeCursorToken(token)
		if err != nil {
			return domain.CursorPage[domain.Review]{}, fmt.Errorf("%s: invalid page token: %w", op, err)
		}
		startAfter = []any{ts, docID}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = where(q)
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
		return domain.CursorPage[domain.Review]{}, err
	}

	nextToken := ""
	if fetchLimit > 0 && len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		nextToken = encodeCursorToken(last.Data.CreatedAt, last.ID)
		docs = docs[:len(docs)-1]
	}

	reviews := make([]domain.Review, 0, len(docs))
	for _, doc := range docs {
		reviews = append(reviews, decodeReview(doc.ID, doc.Data))
	}
	return domain.CursorPage[domain.Review]{Items: reviews, NextPageToken: nextToken}, nil
}

func (r *ReviewRepository) mutate(ctx context.Context, op string, reviewID string, apply func(*reviewDocument)) (domain.Review, error) {
	if r == nil || r.provider == nil {
		return domain.Review{}, errors.New("review repository not initialised")
	}
	id := strings.TrimSpace(reviewID)
	if id == "" {
		return domain.Review{}, errors.New("review repository: review id is required")
	}

	var updated domain.Review
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc reviewDocument
		if err := snapshot.DataTo(&doc); err != nil {
			return err
		}
		apply(&doc)
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		updated = decodeReview(id, doc)
		return nil
	})
	if err != nil {
		return domain.Review{}, pfirestore.WrapError(op, err)
	}
	return updated, nil
}

type reviewDocument struct {
	OrderRef    string          `firestore:"orderRef"`
	UserRef     string          `firestore:"userRef"`
	Rating      int             `firestore:"rating"`
	Comment     string          `firestore:"comment,omitempty"`
	Status      string          `firestore:"status"`
	ModeratedBy *string         `firestore:"moderatedBy,omitempty"`
	ModeratedAt *time.Time      `firestore:"moderatedAt,omitempty"`
	Reply       *reviewReplyDoc `firestore:"reply,omitempty"`
	CreatedAt   time.Time       `firestore:"createdAt"`
	UpdatedAt   time.Time       `firestore:"updatedAt"`
}

type reviewReplyDoc struct {
	Message   string    `firestore:"message"`
	AuthorRef string    `firestore:"authorRef"`
	Visible   bool      `firestore:"visible"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func encodeReview(review domain.Review) reviewDocument {
	doc := reviewDocument{
		OrderRef:    strings.TrimSpace(review.OrderRef),
		UserRef:     strings.TrimSpace(review.UserRef),
		Rating:      review.Rating,
		Comment:     review.Comment,
		Status:      string(review.Status),
		ModeratedBy: cloneStringPtr(review.ModeratedBy),
		ModeratedAt: cloneTimePtr(review.ModeratedAt),
		CreatedAt:   review.CreatedAt.UTC(),
		UpdatedAt:   review.UpdatedAt.UTC(),
	}
	if review.Reply != nil {
		doc.Reply = &reviewReplyDoc{
			Message:   review.Reply.Message,
			AuthorRef: review.Reply.AuthorRef,
			Visible:   review.Reply.Visible,
			CreatedAt: review.Reply.CreatedAt.UTC(),
			UpdatedAt: review.Reply.UpdatedAt.UTC(),
		}
	}
	return doc
}

func decodeReview(id string, doc reviewDocument) domain.Review {
	review := domain.Review{
		ID:          id,
		OrderRef:    doc.OrderRef,
		UserRef:     doc.UserRef,
		Rating:      doc.Rating,
		Comment:     doc.Comment,
		Status:      domain.ReviewStatus(doc.Status),
		ModeratedBy: cloneStringPtr(doc.ModeratedBy),
		ModeratedAt: cloneTimePtr(doc.ModeratedAt),
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
	if doc.Reply != nil {
		review.Reply = &domain.ReviewReply{
			Message:   doc.Reply.Message,
			AuthorRef: doc.Reply.AuthorRef,
			Visible:   doc.Reply.Visible,
			CreatedAt: doc.Reply.CreatedAt,
			UpdatedAt: doc.Reply.UpdatedAt,
		}
	}
	return review
}

var _ repositories.ReviewRepository = (*ReviewRepository)(nil)
