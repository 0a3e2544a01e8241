package repositories

import "errors"

var (
	// ErrAssetNotReady is returned when a download is requested before the
	// upload has been finalized.
	ErrAssetNotReady = errors.New("asset repository: upload not finalized")
	// ErrAssetSoftDeleted is returned for assets that were soft deleted.
	ErrAssetSoftDeleted = errors.New("asset repository: asset deleted")
)
