package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	pstorage "github.com/star-cafe/api/internal/platform/storage"
	"github.com/star-cafe/api/internal/repositories"
)

const (
	defaultMaxBinaryAssetSize  = int64(25 * 1024 * 1024)  // 25 MiB
	maxMediaAssetSize          = int64(150 * 1024 * 1024) // 150 MiB
	maxStructuredAssetSize     = int64(5 * 1024 * 1024)   // 5 MiB
	assetLoggerEventValidation = "asset.upload.validate"
	assetLoggerEventIssued     = "asset.upload.issued"
	assetLoggerEventDownload   = "asset.download.issued"
)

var (
	// ErrAssetInvalidInput indicates the caller provided an invalid argument.
	ErrAssetInvalidInput = errors.New("asset: invalid input")
	// ErrAssetRepositoryUnavailable indicates the persistence layer is unavailable.
	ErrAssetRepositoryUnavailable = errors.New("asset: repository unavailable")
	// ErrAssetRepositoryFailure wraps unexpected repository failures.
	ErrAssetRepositoryFailure = errors.New("asset: repository failure")
	// ErrAssetForbidden indicates the caller lacks permission to access the asset.
	ErrAssetForbidden = errors.New("asset: forbidden")
	// ErrAssetNotFound indicates the asset does not exist or is no longer available.
	ErrAssetNotFound = errors.New("asset: not found")
	// ErrAssetUnavailable indicates the asset exists but is not ready for download.
	ErrAssetUnavailable = errors.New("asset: unavailable")
)

// AssetServiceDeps wires dependencies for the asset service implementation.
type AssetServiceDeps struct {
	Repository repositories.AssetRepository
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type assetService struct {
	repo   repositories.AssetRepository
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

// assetKindPolicy bounds what a given asset kind may contain.
type assetKindPolicy struct {
	contentTypes []string
	maxSize      int64
}

// allows reports whether the content type matches the policy. An entry of "*"
// accepts anything; "type/*" accepts any subtype.
func (p assetKindPolicy) allows(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	for _, candidate := range p.contentTypes {
		candidate = strings.ToLower(strings.TrimSpace(candidate))
		switch {
		case candidate == "":
			continue
		case candidate == "*":
			return true
		case strings.HasSuffix(candidate, "/*"):
			if strings.HasPrefix(ct, strings.TrimSuffix(candidate, "*")) {
				return true
			}
		case ct == candidate:
			return true
		}
	}
	return false
}

var (
	allowedAssetPurposes = map[string]struct{}{
		"menu-photo":   {},
		"menu-hero":    {},
		"review-photo": {},
		"promo-banner": {},
		"page-hero":    {},
		"receipt":      {},
		"avatar":       {},
		"other":        {},
	}

	assetKindPolicies = map[string]assetKindPolicy{
		"svg":  {contentTypes: []string{"image/svg+xml"}, maxSize: defaultMaxBinaryAssetSize},
		"png":  {contentTypes: []string{"image/png"}, maxSize: defaultMaxBinaryAssetSize},
		"jpg":  {contentTypes: []string{"image/jpeg", "image/jpg"}, maxSize: defaultMaxBinaryAssetSize},
		"webp": {contentTypes: []string{"image/webp"}, maxSize: defaultMaxBinaryAssetSize},
		"pdf":  {contentTypes: []string{"application/pdf"}, maxSize: defaultMaxBinaryAssetSize},
		"mp4":  {contentTypes: []string{"video/mp4"}, maxSize: maxMediaAssetSize},
		"json": {contentTypes: []string{"application/json"}, maxSize: maxStructuredAssetSize},
		"other": {
			contentTypes: []string{"*"},
			maxSize:      defaultMaxBinaryAssetSize,
		},
	}
)

// NewAssetService constructs an AssetService backed by the provided dependencies.
func NewAssetService(deps AssetServiceDeps) (AssetService, error) {
	if deps.Repository == nil {
		return nil, errors.New("asset service: repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &assetService{
		repo: deps.Repository,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *assetService) IssueSignedUpload(ctx context.Context, cmd SignedUploadCommand) (SignedAssetResponse, error) {
	spec, err := s.normalizeUpload(cmd)
	if err != nil {
		return SignedAssetResponse{}, err
	}

	s.logger(ctx, assetLoggerEventValidation, map[string]any{
		"actorId": spec.actorID,
		"kind":    spec.kind,
		"purpose": spec.purpose,
		"size":    spec.sizeBytes,
	})

	response, err := s.repo.CreateSignedUpload(ctx, repositories.SignedUploadRecord{
		ActorID:     spec.actorID,
		ItemID:      spec.itemID,
		Kind:        spec.kind,
		Purpose:     spec.purpose,
		FileName:    spec.fileName,
		ContentType: spec.contentType,
		SizeBytes:   spec.sizeBytes,
	})
	if err != nil {
		return SignedAssetResponse{}, uploadRepoError(err)
	}

	s.logger(ctx, assetLoggerEventIssued, map[string]any{
		"actorId":    spec.actorID,
		"assetId":    response.AssetID,
		"method":     response.Method,
		"expiresAt":  response.ExpiresAt,
		"uploadSize": spec.sizeBytes,
	})

	return response, nil
}

func (s *assetService) IssueSignedDownload(ctx context.Context, cmd SignedDownloadCommand) (SignedAssetResponse, error) {
	actorID := strings.TrimSpace(cmd.ActorID)
	if actorID == "" {
		return SignedAssetResponse{}, fmt.Errorf("%w: actor id is required", ErrAssetInvalidInput)
	}
	assetID := strings.TrimSpace(cmd.AssetID)
	if assetID == "" {
		return SignedAssetResponse{}, fmt.Errorf("%w: asset id is required", ErrAssetInvalidInput)
	}

	response, err := s.repo.CreateSignedDownload(ctx, repositories.SignedDownloadRecord{
		ActorID: actorID,
		AssetID: assetID,
	})
	if err != nil {
		return SignedAssetResponse{}, downloadError(err)
	}

	s.logger(ctx, assetLoggerEventDownload, map[string]any{
		"actorId":   actorID,
		"assetId":   response.AssetID,
		"expiresAt": response.ExpiresAt,
	})

	return response, nil
}

type uploadSpec struct {
	actorID     string
	itemID      *string
	kind        string
	purpose     string
	fileName    string
	contentType string
	sizeBytes   int64
}

// normalizeUpload trims and lower-cases the request and checks it against the
// kind policy table before anything touches storage.
func (s *assetService) normalizeUpload(cmd SignedUploadCommand) (uploadSpec, error) {
	spec := uploadSpec{
		actorID:     strings.TrimSpace(cmd.ActorID),
		kind:        strings.ToLower(strings.TrimSpace(cmd.Kind)),
		purpose:     strings.ToLower(strings.TrimSpace(cmd.Purpose)),
		contentType: strings.ToLower(strings.TrimSpace(cmd.ContentType)),
		fileName:    strings.TrimSpace(cmd.FileName),
		sizeBytes:   cmd.SizeBytes,
	}

	if spec.actorID == "" {
		return uploadSpec{}, fmt.Errorf("%w: actor id is required", ErrAssetInvalidInput)
	}

	if cmd.ItemID != nil {
		if trimmed := strings.TrimSpace(*cmd.ItemID); trimmed != "" {
			spec.itemID = &trimmed
		}
	}

	policy, ok := assetKindPolicies[spec.kind]
	if !ok {
		return uploadSpec{}, fmt.Errorf("%w: asset kind %q not allowed", ErrAssetInvalidInput, cmd.Kind)
	}
	if _, ok := allowedAssetPurposes[spec.purpose]; !ok {
		return uploadSpec{}, fmt.Errorf("%w: asset purpose %q not allowed", ErrAssetInvalidInput, cmd.Purpose)
	}

	if spec.contentType == "" {
		return uploadSpec{}, fmt.Errorf("%w: content_type is required", ErrAssetInvalidInput)
	}
	if !policy.allows(spec.contentType) {
		return uploadSpec{}, fmt.Errorf("%w: content_type %q not allowed for kind %q", ErrAssetInvalidInput, spec.contentType, spec.kind)
	}

	if spec.sizeBytes <= 0 {
		return uploadSpec{}, fmt.Errorf("%w: size_bytes must be positive", ErrAssetInvalidInput)
	}
	if policy.maxSize > 0 && spec.sizeBytes > policy.maxSize {
		return uploadSpec{}, fmt.Errorf("%w: size_bytes exceeds maximum (%d)", ErrAssetInvalidInput, policy.maxSize)
	}

	if spec.fileName == "" {
		spec.fileName = fmt.Sprintf("%s_%d", spec.kind, s.clock().UnixNano())
	}

	return spec, nil
}

func uploadRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
		return fmt.Errorf("%w: %v", ErrAssetRepositoryUnavailable, err)
	}
	return fmt.Errorf("%w: %v", ErrAssetRepositoryFailure, err)
}

func downloadError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, pstorage.ErrPermissionDenied):
		return ErrAssetForbidden
	case errors.Is(err, repositories.ErrAssetNotReady):
		return ErrAssetUnavailable
	case errors.Is(err, repositories.ErrAssetSoftDeleted):
		return ErrAssetNotFound
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrAssetNotFound
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrAssetRepositoryUnavailable, err)
		default:
			return fmt.Errorf("%w: %v", ErrAssetRepositoryFailure, err)
		}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return fmt.Errorf("%w: %v", ErrAssetRepositoryFailure, err)
}
