package state

import (
	"errors"
	"fmt"

	"github.com/rescale/rescale-gallery/internal/models"
)

// ErrNotFound indicates an id has no materialized record.
var ErrNotFound = errors.New("record not found")

// ErrDuplicateID indicates an insert of an id already in the sequence.
var ErrDuplicateID = errors.New("id already in listing")

// NotFoundError reports a specific id that is absent from the record map,
// typically after a fetch that should have materialized it. Callers
// usually respond by evicting the id with Remove.
type NotFoundError struct {
	ID models.ListingID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("record %s not found", e.ID)
}

// Is lets errors.Is(err, ErrNotFound) match.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// IsNotFound reports whether err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
