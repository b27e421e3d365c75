package viewport

import (
	"errors"
	"fmt"
)

var (
	// ErrPageOutOfRange is returned by page navigation outside [1, MaxPage].
	ErrPageOutOfRange = errors.New("page out of range")

	// ErrInvalidWindow is returned for a non-positive page or page size.
	ErrInvalidWindow = errors.New("invalid viewport window")

	// ErrNoListing is returned when the viewer has nothing to show.
	ErrNoListing = errors.New("listing is empty")
)

// RangeFetchError is a failed fetch of the records of [Start, End). The
// range stays unmaterialized until a later EnsureLoaded succeeds.
type RangeFetchError struct {
	Start int
	End   int
	IDs   int // ids the fetch was asked for
	Err   error
}

func (e *RangeFetchError) Error() string {
	return fmt.Sprintf("fetch records [%d, %d) (%d missing): %v", e.Start, e.End, e.IDs, e.Err)
}

func (e *RangeFetchError) Unwrap() error {
	return e.Err
}

// IsRangeFetchError reports whether err is (or wraps) a RangeFetchError.
func IsRangeFetchError(err error) bool {
	var rfe *RangeFetchError
	return errors.As(err, &rfe)
}
