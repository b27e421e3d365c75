package imageloader

import (
	"fmt"

	"github.com/rescale/rescale-gallery/internal/models"
)

// ImageFetchError is one failed tier fetch. The loader retries the same tier
// for as long as the record stays its target; these errors only reach logs
// and the OnRetry hook.
type ImageFetchError struct {
	ID      models.ListingID
	Tier    int
	Attempt int
	Err     error
}

func (e *ImageFetchError) Error() string {
	return fmt.Sprintf("fetch tier %d of %s (attempt %d): %v", e.Tier, e.ID, e.Attempt, e.Err)
}

func (e *ImageFetchError) Unwrap() error {
	return e.Err
}
