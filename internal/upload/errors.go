package upload

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for upload operations.
var (
	// ErrNothingToUpload is reported by a flush that found no pending points.
	ErrNothingToUpload = errors.New("upload: nothing to upload")

	// ErrUploadFailed indicates the store rejected or could not receive a flush.
	ErrUploadFailed = errors.New("upload: upload failed")

	// ErrNoStore is returned by NewQueue when no Store is configured.
	ErrNoStore = errors.New("upload: store is required")
)

// MissingSeriesError is returned by a Store when some series of an upload
// do not exist. None of the batch was written.
type MissingSeriesError struct {
	ExternalIDs []string
}

func (e *MissingSeriesError) Error() string {
	return fmt.Sprintf("upload: %d time series do not exist: %s", len(e.ExternalIDs), strings.Join(e.ExternalIDs, ", "))
}
