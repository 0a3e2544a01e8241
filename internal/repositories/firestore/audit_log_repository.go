package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/star-cafe/api/internal/domain"
	pfirestore "github.com/star-cafe/api/internal/platform/firestore"
	"github.com/star-cafe/api/internal/repositories"
)

const auditLogCollection = "auditLogs"

// AuditLogRepository appends immutable audit trail entries. Entries are never
// updated or deleted once written.
type AuditLogRepository struct {
	base *pfirestore.BaseRepository[auditLogDocument]
}

// NewAuditLogRepository constructs a Firestore-backed audit log repository.
func NewAuditLogRepository(provider *pfirestore.Provider) (*AuditLogRepository, error) {
	if provider == nil {
		return nil, errors.New("audit log repository requires firestore provider")
	}
	return &AuditLogRepository{
		base: pfirestore.NewBaseRepository[auditLogDocument](provider, auditLogCollection, nil, nil),
	}, nil
}

// Append writes the entry, failing with a conflict when the ID exists.
func (r *AuditLogRepository) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	if r == nil || r.base == nil {
		return errors.New("audit log repository not initialised")
	}
	id := strings.TrimSpace(entry.ID)
	if id == "" {
		return errors.New("audit log repository: entry id is required")
	}
	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, encodeAuditLog(entry)); err != nil {
		return pfirestore.WrapError("audit_logs.append", err)
	}
	return nil
}

// List returns entries matching the filter, newest first, with cursor
// pagination.
func (r *AuditLogRepository) List(ctx context.Context, filter repositories.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, errors.New("audit log repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := 0
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		ts, docID, err := decodeCursorToken(token)
		if err != nil {
			return domain.CursorPage[domain.AuditLogEntry]{}, fmt.Errorf("audit_logs.list: invalid page token: %w", err)
		}
		startAfter = []any{ts, docID}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if target := strings.TrimSpace(filter.TargetRef); target != "" {
			q = q.Where("targetRef", "==", target)
		}
		if actor := strings.TrimSpace(filter.Actor); actor != "" {
			q = q.Where("actor", "==", actor)
		}
		if actorType := strings.TrimSpace(filter.ActorType); actorType != "" {
			q = q.Where("actorType", "==", actorType)
		}
		if action := strings.TrimSpace(filter.Action); action != "" {
			q = q.Where("action", "==", action)
		}
		if filter.DateRange.From != nil {
			q = q.Where("createdAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil {
			q = q.Where("createdAt", "<=", filter.DateRange.To.UTC())
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
		return domain.CursorPage[domain.AuditLogEntry]{}, err
	}

	nextToken := ""
	if fetchLimit > 0 && len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		nextToken = encodeCursorToken(last.Data.CreatedAt, last.ID)
		docs = docs[:len(docs)-1]
	}

	entries := make([]domain.AuditLogEntry, 0, len(docs))
	for _, doc := range docs {
		entries = append(entries, decodeAuditLog(doc.ID, doc.Data))
	}
	return domain.CursorPage[domain.AuditLogEntry]{Items: entries, NextPageToken: nextToken}, nil
}

type auditLogDocument struct {
	Actor     string         `firestore:"actor"`
	ActorType string         `firestore:"actorType"`
	Action    string         `firestore:"action"`
	TargetRef string         `firestore:"targetRef"`
	Metadata  map[string]any `firestore:"metadata,omitempty"`
	Diff      map[string]any `firestore:"diff,omitempty"`
	IPHash    string         `firestore:"ipHash,omitempty"`
	UserAgent string         `firestore:"userAgent,omitempty"`
	Severity  string         `firestore:"severity,omitempty"`
	RequestID string         `firestore:"requestId,omitempty"`
	CreatedAt time.Time      `firestore:"createdAt"`
}

func encodeAuditLog(entry domain.AuditLogEntry) auditLogDocument {
	return auditLogDocument{
		Actor:     entry.Actor,
		ActorType: entry.ActorType,
		Action:    entry.Action,
		TargetRef: entry.TargetRef,
		Metadata:  cloneAnyMap(entry.Metadata),
		Diff:      cloneAnyMap(entry.Diff),
		IPHash:    entry.IPHash,
		UserAgent: entry.UserAgent,
		Severity:  entry.Severity,
		RequestID: entry.RequestID,
		CreatedAt: entry.CreatedAt.UTC(),
	}
}

func decodeAuditLog(id string, doc auditLogDocument) domain.AuditLogEntry {
	return domain.AuditLogEntry{
		ID:        id,
		Actor:     doc.Actor,
		ActorType: doc.ActorType,
		Action:    doc.Action,
		TargetRef: doc.TargetRef,
		Metadata:  cloneAnyMap(doc.Metadata),
		Diff:      cloneAnyMap(doc.Diff),
		IPHash:    doc.IPHash,
		UserAgent: doc.UserAgent,
		Severity:  doc.Severity,
		RequestID: doc.RequestID,
		CreatedAt: doc.CreatedAt,
	}
}

var _ repositories.AuditLogRepository = (*AuditLogRepository)(nil)
