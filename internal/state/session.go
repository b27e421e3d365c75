package state

import (
	"github.com/google/uuid"

	"github.com/rescale/rescale-gallery/internal/events"
	"github.com/rescale/rescale-gallery/internal/models"
)

// Session is one instance of browsing a folder, album or face group. It
// owns the ordered collection and the selection, and is passed explicitly
// to every component working on the listing so several listings (for
// example a background prefetch) can coexist.
type Session struct {
	ID     string
	Path   string
	Filter models.ListingFilter

	Store     *Collection
	Selection *Selection
	Bus       *events.EventBus
}

// NewSession creates an empty session for path. bus may be nil.
func NewSession(path string, filter models.ListingFilter, bus *events.EventBus) *Session {
	id := uuid.NewString()
	return &Session{
		ID:        id,
		Path:      path,
		Filter:    filter,
		Store:     NewCollection(),
		Selection: NewSelection(id, bus),
		Bus:       bus,
	}
}

// Load initializes the session from a listing response and clears the
// selection. Returns the number of ids in the listing.
func (s *Session) Load(listing *models.Listing) int {
	s.Store.Initialize(listing.OrderedIDs, listing.Records)
	s.Selection.Clear()
	if listing.Path != "" {
		s.Path = listing.Path
	}

	total := s.Store.Len()
	s.Bus.PublishListing(events.EventListingLoaded, s.ID, s.Path, total, nil)
	return total
}

// Evict removes ids from the listing and from the selection, publishing a
// single RecordsRemoved event.
func (s *Session) Evict(ids ...models.ListingID) int {
	removed := make([]string, 0, len(ids))
	for _, id := range ids {
		if s.Store.Remove(id) {
			removed = append(removed, string(id))
		}
	}
	if len(removed) == 0 {
		return 0
	}

	s.Selection.Drop(ids...)
	s.Bus.PublishListing(events.EventRecordsRemoved, s.ID, s.Path, s.Store.Len(), removed)
	return len(removed)
}

// ToStrings converts ids for event payloads.
func ToStrings(ids []models.ListingID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
