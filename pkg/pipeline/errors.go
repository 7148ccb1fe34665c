package pipeline

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrStorageNil is returned when a nil queue storage is provided
	ErrStorageNil = errors.New("queue storage cannot be nil")

	// ErrAssetStoreNil is returned when a nil asset store is provided
	ErrAssetStoreNil = errors.New("asset store cannot be nil")

	// ErrTransformerNil is returned when a nil transformer is provided
	ErrTransformerNil = errors.New("transformer cannot be nil")

	// ErrAssetIDEmpty is returned when an asset ID is missing
	ErrAssetIDEmpty = errors.New("asset ID cannot be empty")

	// ErrAssetNotFound is returned when the asset record does not exist
	ErrAssetNotFound = errors.New("asset not found")

	// ErrUnknownStage is returned for a stage name outside the stage table
	ErrUnknownStage = errors.New("unknown pipeline stage")

	// ErrStageDisabled is returned when retrying a stage the asset's
	// config does not enable
	ErrStageDisabled = errors.New("stage not enabled for asset")

	// ErrContentRejected indicates the content-safety scan failed the
	// asset. Not retryable: the pipeline halts and the asset is rejected.
	ErrContentRejected = errors.New("content rejected by safety scan")

	// ErrTransient marks infrastructure failures (network, storage,
	// database). Transient errors escape handlers untouched so
	// queue-level retry with backoff applies.
	ErrTransient = errors.New("transient infrastructure error")
)

// Transient wraps err as a retryable infrastructure failure. Collaborator
// implementations wrap their network/storage errors with it; everything
// else a non-critical stage produces is recorded, not retried.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}
