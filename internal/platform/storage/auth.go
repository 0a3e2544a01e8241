package storage

import (
	"context"
	"errors"

	"github.com/star-cafe/api/internal/platform/auth"
)

// ErrPermissionDenied is returned when the caller may not access the object.
var ErrPermissionDenied = errors.New("storage: permission denied")

// AuthorizeDownload decides whether identity may fetch an object owned by
// ownerID. The owner always passes, as do staff and admins. Public menu
// imagery sets allowAnonymous instead.
func AuthorizeDownload(identity *auth.Identity, ownerID string, allowAnonymous bool) error {
	switch {
	case allowAnonymous:
		return nil
	case identity == nil:
		return ErrPermissionDenied
	case ownerID != "" && identity.UID == ownerID:
		return nil
	case identity.HasAnyRole(auth.RoleStaff, auth.RoleAdmin):
		return nil
	default:
		return ErrPermissionDenied
	}
}

// AuthorizeDownloadFromContext pulls the identity off the context before
// running the same check.
func AuthorizeDownloadFromContext(ctx context.Context, ownerID string, allowAnonymous bool) (*auth.Identity, error) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok && !allowAnonymous {
		return nil, ErrPermissionDenied
	}
	if err := AuthorizeDownload(identity, ownerID, allowAnonymous); err != nil {
		return nil, err
	}
	return identity, nil
}
