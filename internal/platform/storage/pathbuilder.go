package storage

import (
	"fmt"
	"strings"
	"sync"
)

// AssetPurpose captures high-level intent for storage layout decisions.
type AssetPurpose string

const (
	PurposeMenuPhoto   AssetPurpose = "menu-photo"
	PurposeReviewPhoto AssetPurpose = "review-photo"
	PurposeReceipt     AssetPurpose = "receipt"
)

// PathParams provide required identifiers to compose storage object keys.
type PathParams struct {
	ItemID        string
	ReviewID      string
	UploadID      string
	OrderID       string
	InvoiceNumber string
	FileName      string
}

// PathBuilder composes the object path for a given asset purpose.
type PathBuilder func(PathParams) (string, error)

var (
	pathBuilders = map[AssetPurpose]PathBuilder{
		PurposeMenuPhoto:   buildMenuPhotoPath,
		PurposeReviewPhoto: buildReviewPhotoPath,
		PurposeReceipt:     buildReceiptPath,
	}
	pathBuildersMu sync.RWMutex
)

// RegisterPathBuilder overrides or registers a builder for a specific purpose.
// A nil builder removes the registration.
func RegisterPathBuilder(purpose AssetPurpose, builder PathBuilder) {
	pathBuildersMu.Lock()
	defer pathBuildersMu.Unlock()
	if builder == nil {
		delete(pathBuilders, purpose)
		return
	}
	pathBuilders[purpose] = builder
}

// BuildObjectPath resolves the storage object path for the given purpose.
func BuildObjectPath(purpose AssetPurpose, params PathParams) (string, error) {
	pathBuildersMu.RLock()
	builder, ok := pathBuilders[purpose]
	pathBuildersMu.RUnlock()
	if !ok {
		return "", fmt.Errorf("storage: unsupported asset purpose %q", purpose)
	}
	return builder(params)
}

func buildMenuPhotoPath(params PathParams) (string, error) {
	segs, err := cleanSegments(
		pathSegment{"itemID", params.ItemID},
		pathSegment{"uploadID", params.UploadID},
		pathSegment{"fileName", params.FileName},
	)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("assets/menu/%s/photos/%s/%s", segs[0], segs[1], segs[2]), nil
}

func buildReviewPhotoPath(params PathParams) (string, error) {
	segs, err := cleanSegments(
		pathSegment{"reviewID", params.ReviewID},
		pathSegment{"uploadID", params.UploadID},
		pathSegment{"fileName", params.FileName},
	)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("assets/reviews/%s/photos/%s/%s", segs[0], segs[1], segs[2]), nil
}

func buildReceiptPath(params PathParams) (string, error) {
	// Receipts fall back to <invoice>.pdf when no explicit file name is given.
	name := strings.TrimSpace(params.FileName)
	if name == "" && params.InvoiceNumber != "" {
		name = strings.TrimSpace(params.InvoiceNumber) + ".pdf"
	}
	segs, err := cleanSegments(
		pathSegment{"orderID", params.OrderID},
		pathSegment{"fileName", name},
	)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("assets/orders/%s/receipts/%s", segs[0], segs[1]), nil
}

type pathSegment struct {
	label string
	value string
}

// cleanSegments trims and validates each segment, rejecting separators and
// traversal sequences that would escape the intended prefix.
func cleanSegments(segments ...pathSegment) ([]string, error) {
	out := make([]string, 0, len(segments))
	for _, seg := range segments {
		value := strings.TrimSpace(seg.value)
		switch {
		case value == "":
			return nil, fmt.Errorf("storage: %s is required", seg.label)
		case strings.ContainsAny(value, "/\\"):
			return nil, fmt.Errorf("storage: %s contains invalid path characters", seg.label)
		case strings.Contains(value, ".."):
			return nil, fmt.Errorf("storage: %s contains invalid traversal sequence", seg.label)
		}
		out = append(out, value)
	}
	return out, nil
}
