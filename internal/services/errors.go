package services

import (
	"errors"
	"fmt"

	"github.com/rescale/rescale-gallery/internal/models"
)

// ErrMutation matches any MutationError via errors.Is.
var ErrMutation = errors.New("mutation failed")

// MutationError is the first failed item of a batch. Items before Index
// were applied and are not rolled back; items after it were not attempted.
type MutationError struct {
	ID     models.ListingID
	Action models.Action
	Index  int
	Total  int
	Err    error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("%s %s (item %d of %d): %v", e.Action, e.ID, e.Index+1, e.Total, e.Err)
}

func (e *MutationError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrMutation) match.
func (e *MutationError) Is(target error) bool {
	return target == ErrMutation
}

// Applied returns how many items succeeded before the failure.
func (e *MutationError) Applied() int {
	return e.Index
}
