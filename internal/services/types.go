// Package services defines the boundary contracts between the gallery
// controller and the remote media server, plus the batch helper that
// applies a mutation to a selection.
//
// Implementations live in internal/api (HTTP/JSON) and internal/cloud/thumbs
// (object storage tier sources).
package services

import (
	"context"

	"github.com/rescale/rescale-gallery/internal/models"
)

// ListingService fetches listings and record batches.
type ListingService interface {
	// FetchListing returns the full ordered id sequence of path plus a first
	// batch of records.
	FetchListing(ctx context.Context, path string, filter models.ListingFilter) (*models.Listing, error)

	// FetchRecords returns records for ids. Fewer records than ids is not
	// an error; absent ids are treated as still missing.
	FetchRecords(ctx context.Context, ids []models.ListingID) ([]models.Record, error)
}

// ThumbnailService resolves one resolution tier of a record to a
// displayable source (data URL or remote URL).
type ThumbnailService interface {
	FetchImage(ctx context.Context, ref models.RecordRef, tier int) (string, error)
}

// MutationService applies one verb to one record.
type MutationService interface {
	Apply(ctx context.Context, ref models.RecordRef, verb models.Verb) error
}

// Backend is everything the controller needs from the server.
type Backend interface {
	ListingService
	ThumbnailService
	MutationService
}

// ThumbnailFunc adapts a function to ThumbnailService.
type ThumbnailFunc func(ctx context.Context, ref models.RecordRef, tier int) (string, error)

// FetchImage calls f.
func (f ThumbnailFunc) FetchImage(ctx context.Context, ref models.RecordRef, tier int) (string, error) {
	return f(ctx, ref, tier)
}

// MutationFunc adapts a function to MutationService.
type MutationFunc func(ctx context.Context, ref models.RecordRef, verb models.Verb) error

// Apply calls f.
func (f MutationFunc) Apply(ctx context.Context, ref models.RecordRef, verb models.Verb) error {
	return f(ctx, ref, verb)
}
