package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/oklog/ulid/v2"

	domain "github.com/star-cafe/api/internal/domain"
	pfirestore "github.com/star-cafe/api/internal/platform/firestore"
	pstorage "github.com/star-cafe/api/internal/platform/storage"
	"github.com/star-cafe/api/internal/repositories"
)

const (
	assetsCollection         = "assets"
	defaultAssetIDPrefix     = "asset_"
	assetStatusPendingUpload = "pending_upload"
	assetStatusUploaded      = "uploaded"
	defaultAssetUploadTTL    = 15 * time.Minute
	defaultAssetDownloadTTL  = 10 * time.Minute
)

// AssetRepository persists asset metadata and coordinates signed URL issuance.
type AssetRepository struct {
	base         *pfirestore.BaseRepository[assetDocument]
	storage      *pstorage.Client
	bucket       string
	copier       *pstorage.Copier
	publicBucket string
	clock        func() time.Time
	newID        func() string
}

// AssetRepositoryOption customises the repository behaviour.
type AssetRepositoryOption func(*AssetRepository)

// WithAssetRepositoryClock overrides the clock used by the repository.
func WithAssetRepositoryClock(clock func() time.Time) AssetRepositoryOption {
	return func(r *AssetRepository) {
		if clock != nil {
			r.clock = func() time.Time { return clock().UTC() }
		}
	}
}

// WithAssetRepositoryIDGenerator overrides the ID generator used by the repository.
func WithAssetRepositoryIDGenerator(generator func() string) AssetRepositoryOption {
	return func(r *AssetRepository) {
		if generator != nil {
			r.newID = generator
		}
	}
}

// WithAssetPublicMirror copies publicly served assets into the given bucket
// once their upload completes.
func WithAssetPublicMirror(copier *pstorage.Copier, bucket string) AssetRepositoryOption {
	return func(r *AssetRepository) {
		bucket = strings.TrimSpace(bucket)
		if copier != nil && bucket != "" {
			r.copier = copier
			r.publicBucket = bucket
		}
	}
}

// publicAssetPurposes lists purposes whose objects are served from the public
// bucket rather than via per-request signed downloads.
var publicAssetPurposes = map[string]struct{}{
	"menu-photo":   {},
	"menu-hero":    {},
	"promo-banner": {},
	"page-hero":    {},
}

// NewAssetRepository constructs a Firestore-backed asset repository.
func NewAssetRepository(provider *pfirestore.Provider, storageClient *pstorage.Client, bucket string, opts ...AssetRepositoryOption) (*AssetRepository, error) {
	if provider == nil {
		return nil, errors.New("asset repository: firestore provider is required")
	}
	if storageClient == nil {
		return nil, errors.New("asset repository: storage client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("asset repository: bucket is required")
	}

	repo := &AssetRepository{
		base:    pfirestore.NewBaseRepository[assetDocument](provider, assetsCollection, nil, nil),
		storage: storageClient,
		bucket:  bucket,
		clock: func() time.Time {
			return time.Now().UTC()
		},
		newID: func() string {
			return ulid.Make().String()
		},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}

	return repo, nil
}

// CreateSignedUpload stores a pending asset record and returns an upload URL.
func (r *AssetRepository) CreateSignedUpload(ctx context.Context, cmd repositories.SignedUploadRecord) (domain.SignedAssetResponse, error) {
	if r == nil || r.base == nil || r.storage == nil {
		return domain.SignedAssetResponse{}, errors.New("asset repository: not initialised")
	}

	actorID := strings.TrimSpace(cmd.ActorID)
	if actorID == "" {
		return domain.SignedAssetResponse{}, errors.New("asset repository: actor id is required")
	}
	kind := strings.ToLower(strings.TrimSpace(cmd.Kind))
	if kind == "" {
		return domain.SignedAssetResponse{}, errors.New("asset repository: kind is required")
	}
	purpose := strings.ToLower(strings.TrimSpace(cmd.Purpose))
	if purpose == "" {
		return domain.SignedAssetResponse{}, errors.New("asset repository: purpose is required")
	}
	contentType := strings.ToLower(strings.TrimSpace(cmd.ContentType))
	if contentType == "" {
		return domain.SignedAssetResponse{}, errors.New("asset repository: content type is required")
	}
	size := cmd.SizeBytes
	if size <= 0 {
		return domain.SignedAssetResponse{}, errors.New("asset repository: size bytes must be positive")
	}

	var itemID string
	if cmd.ItemID != nil {
		itemID = strings.TrimSpace(*cmd.ItemID)
	}

	fileName := strings.TrimSpace(cmd.FileName)

	rawID := r.newID()
	assetID := ensureAssetID(rawID)
	objectID := strings.TrimPrefix(assetID, defaultAssetIDPrefix)

	// Purposes with a registered layout group related objects together.
	// Everything else lands under the flat kind prefix.
	objectPath, err := pstorage.BuildObjectPath(pstorage.AssetPurpose(purpose), pstorage.PathParams{
		ItemID:   itemID,
		UploadID: objectID,
		FileName: fileName,
	})
	if err != nil {
		objectPath = fmt.Sprintf("assets/%s/%s", kind, objectID)
	}

	signed, err := r.storage.SignedURL(ctx, r.bucket, objectPath, pstorage.SignedURLOptions{
		Upload: &pstorage.UploadOptions{
			Method:              "PUT",
			ContentType:         contentType,
			AllowedMethods:      []string{"PUT"},
			AllowedContentTypes: []string{contentType},
			MaxSize:             size,
			ExpiresIn:           defaultAssetUploadTTL,
			AdditionalHeaders: map[string]string{
				"x-goog-meta-asset-id": assetID,
			},
		},
	})
	if err != nil {
		return domain.SignedAssetResponse{}, fmt.Errorf("asset repository: sign upload url: %w", err)
	}

	now := r.clock()
	doc := assetDocument{
		OwnerUID:        actorID,
		ItemID:          itemID,
		Kind:            kind,
		Purpose:         purpose,
		Status:          assetStatusPendingUpload,
		Bucket:          r.bucket,
		ObjectPath:      objectPath,
		FileName:        fileName,
		ContentType:     contentType,
		SizeBytes:       size,
		UploadIssuedBy:  actorID,
		UploadExpiresAt: signed.ExpiresAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if _, err := r.base.Set(ctx, assetID, doc); err != nil {
		return domain.SignedAssetResponse{}, err
	}

	return domain.SignedAssetResponse{
		AssetID:   assetID,
		URL:       signed.URL,
		Method:    signed.Method,
		ExpiresAt: signed.ExpiresAt,
		Headers:   signed.Headers,
	}, nil
}

// CreateSignedDownload validates ownership and asset state before signing a
// short-lived download URL for the stored object.
func (r *AssetRepository) CreateSignedDownload(ctx context.Context, cmd repositories.SignedDownloadRecord) (domain.SignedAssetResponse, error) {
	if r == nil || r.base == nil || r.storage == nil {
		return domain.SignedAssetResponse{}, errors.New("asset repository: not initialised")
	}
	assetID := strings.TrimSpace(cmd.AssetID)
	if assetID == "" {
		return domain.SignedAssetResponse{}, errors.New("asset repository: asset id is required")
	}

	record, err := r.base.Get(ctx, assetID)
	if err != nil {
		return domain.SignedAssetResponse{}, err
	}
	doc := record.Data

	if doc.DeletedAt != nil {
		return domain.SignedAssetResponse{}, repositories.ErrAssetSoftDeleted
	}
	if doc.Status != assetStatusUploaded {
		return domain.SignedAssetResponse{}, repositories.ErrAssetNotReady
	}
	if _, err := pstorage.AuthorizeDownloadFromContext(ctx, doc.OwnerUID, false); err != nil {
		return domain.SignedAssetResponse{}, err
	}

	signed, err := r.storage.SignedURL(ctx, doc.Bucket, doc.ObjectPath, pstorage.SignedURLOptions{
		Download: &pstorage.DownloadOptions{
			Method:         "GET",
			ExpiresIn:      defaultAssetDownloadTTL,
			ResponseType:   doc.ContentType,
			OwnerID:        doc.OwnerUID,
			AllowAnonymous: true, // authorization already performed above
		},
	})
	if err != nil {
		return domain.SignedAssetResponse{}, fmt.Errorf("asset repository: sign download url: %w", err)
	}

	return domain.SignedAssetResponse{
		AssetID:   assetID,
		URL:       signed.URL,
		Method:    signed.Method,
		ExpiresAt: signed.ExpiresAt,
		Headers:   signed.Headers,
	}, nil
}

// MarkUploaded updates the asset status to uploaded and merges metadata.
func (r *AssetRepository) MarkUploaded(ctx context.Context, assetID string, actorID string, metadata map[string]any) error {
	if r == nil || r.base == nil {
		return errors.New("asset repository: not initialised")
	}
	id := strings.TrimSpace(assetID)
	if id == "" {
		return errors.New("asset repository: asset id is required")
	}

	record, err := r.base.Get(ctx, id)
	if err != nil {
		return err
	}

	now := r.clock()

	updates := []firestore.Update{
		{Path: "status", Value: assetStatusUploaded},
		{Path: "updatedAt", Value: now},
	}

	issuedBy := strings.TrimSpace(actorID)
	if issuedBy != "" {
		updates = append(updates, firestore.Update{Path: "uploadCompletedBy", Value: issuedBy})
	}
	completedAt := now
	updates = append(updates, firestore.Update{Path: "uploadCompletedAt", Value: completedAt})

	if len(metadata) > 0 {
		updates = append(updates, firestore.Update{Path: "metadata", Value: metadata})
	}

	if _, err := r.base.Update(ctx, id, updates); err != nil {
		return err
	}

	if r.copier != nil {
		doc := record.Data
		if _, ok := publicAssetPurposes[doc.Purpose]; ok {
			if err := r.copier.CopyObject(ctx, doc.Bucket, doc.ObjectPath, r.publicBucket, doc.ObjectPath); err != nil {
				return fmt.Errorf("asset repository: mirror public asset: %w", err)
			}
		}
	}
	return nil
}

type assetDocument struct {
	OwnerUID          string         `firestore:"ownerUid"`
	ItemID            string         `firestore:"itemId,omitempty"`
	Kind              string         `firestore:"kind"`
	Purpose           string         `firestore:"purpose"`
	Status            string         `firestore:"status"`
	Bucket            string         `firestore:"bucket"`
	ObjectPath        string         `firestore:"objectPath"`
	FileName          string         `firestore:"fileName,omitempty"`
	ContentType       string         `firestore:"contentType"`
	SizeBytes         int64          `firestore:"sizeBytes"`
	Metadata          map[string]any `firestore:"metadata,omitempty"`
	UploadIssuedBy    string         `firestore:"uploadIssuedBy,omitempty"`
	UploadExpiresAt   time.Time      `firestore:"uploadExpiresAt"`
	UploadCompletedBy string         `firestore:"uploadCompletedBy,omitempty"`
	UploadCompletedAt *time.Time     `firestore:"uploadCompletedAt,omitempty"`
	DeletedAt         *time.Time     `firestore:"deletedAt,omitempty"`
	CreatedAt         time.Time      `firestore:"createdAt"`
	UpdatedAt         time.Time      `firestore:"updatedAt"`
}

func ensureAssetID(candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		trimmed = ulid.Make().String()
	}
	if strings.HasPrefix(trimmed, defaultAssetIDPrefix) {
		return trimmed
	}
	return defaultAssetIDPrefix + trimmed
}
