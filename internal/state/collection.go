// Package state holds the per-listing containers of the gallery controller:
// the ordered collection of ids with its sparse record map, the selection
// tracker and the session that ties them to an event bus.
package state

import (
	"fmt"
	"sync"

	"github.com/rescale/rescale-gallery/internal/models"
)

// Collection is the authoritative record of what exists in a listing and
// in what order, versus what has been fetched.
//
// The id sequence always has one entry per item of the listing; records
// are materialized lazily and may be absent for ids that are present.
// Records for ids not in the sequence are accepted and stay inert until
// the sequence contains them.
type Collection struct {
	mu      sync.RWMutex
	ids     []models.ListingID
	index   map[models.ListingID]int
	records map[models.ListingID]*models.Record
}

// NewCollection creates an empty collection.
func NewCollection() *Collection {
	return &Collection{
		index:   make(map[models.ListingID]int),
		records: make(map[models.ListingID]*models.Record),
	}
}

// Initialize replaces the sequence and seeds the record map, discarding
// everything materialized before. Duplicate ids keep their first position.
func (c *Collection) Initialize(orderedIDs []models.ListingID, initial []models.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ids = make([]models.ListingID, 0, len(orderedIDs))
	c.index = make(map[models.ListingID]int, len(orderedIDs))
	for _, id := range orderedIDs {
		if _, dup := c.index[id]; dup {
			continue
		}
		c.index[id] = len(c.ids)
		c.ids = append(c.ids, id)
	}

	c.records = make(map[models.ListingID]*models.Record, len(initial))
	for i := range initial {
		rec := initial[i].Clone()
		c.records[rec.ID] = &rec
	}
}

// Merge adds or overwrites records. It never removes entries. Image
// sources already resolved for a record survive the overwrite unless the
// incoming record carries its own source for the same tier.
// Returns the number of records merged.
func (c *Collection) Merge(records []models.Record) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range records {
		rec := records[i].Clone()
		if prev, ok := c.records[rec.ID]; ok && len(prev.Images) > 0 {
			if rec.Images == nil {
				rec.Images = make(models.ImageDataCache, len(prev.Images))
			}
			for tier, src := range prev.Images {
				if _, has := rec.Images[tier]; !has {
					rec.Images[tier] = src
				}
			}
		}
		c.records[rec.ID] = &rec
	}
	return len(records)
}

// Remove deletes id from both the sequence and the record map.
// Returns false if the id was in neither.
func (c *Collection) Remove(id models.ListingID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, hadRecord := c.records[id]
	delete(c.records, id)

	pos, ok := c.index[id]
	if !ok {
		return hadRecord
	}

	c.ids = append(c.ids[:pos], c.ids[pos+1:]...)
	delete(c.index, id)
	for i := pos; i < len(c.ids); i++ {
		c.index[c.ids[i]] = i
	}
	return true
}

// Insert places id at position index of the sequence, shifting later ids.
// An index past the end appends.
func (c *Collection) Insert(index int, id models.ListingID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, dup := c.index[id]; dup {
		return fmt.Errorf("insert %s: %w", id, ErrDuplicateID)
	}
	if index < 0 {
		index = 0
	}
	if index > len(c.ids) {
		index = len(c.ids)
	}

	c.ids = append(c.ids, "")
	copy(c.ids[index+1:], c.ids[index:])
	c.ids[index] = id
	for i := index; i < len(c.ids); i++ {
		c.index[c.ids[i]] = i
	}
	return nil
}

// Len returns the total item count of the listing.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ids)
}

// MaterializedCount returns the number of records held.
func (c *Collection) MaterializedCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// clampLocked clamps [start,end) to the sequence (must hold lock).
func (c *Collection) clampLocked(start, end int) (int, int) {
	if start < 0 {
		start = 0
	}
	if end > len(c.ids) {
		end = len(c.ids)
	}
	if start > end {
		start = end
	}
	return start, end
}

// Slice returns a copy of the ids in [start,end), clamped to the sequence.
func (c *Collection) Slice(start, end int) []models.ListingID {
	c.mu.RLock()
	defer c.mu.RUnlock()

	start, end = c.clampLocked(start, end)
	out := make([]models.ListingID, end-start)
	copy(out, c.ids[start:end])
	return out
}

// IDs returns a copy of the whole sequence.
func (c *Collection) IDs() []models.ListingID {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.ListingID, len(c.ids))
	copy(out, c.ids)
	return out
}

// IsRangeComplete reports whether every id of [start,end) has a record.
// Indices beyond the end of the sequence do not count against completeness.
func (c *Collection) IsRangeComplete(start, end int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	start, end = c.clampLocked(start, end)
	for _, id := range c.ids[start:end] {
		if _, ok := c.records[id]; !ok {
			return false
		}
	}
	return true
}

// Missing returns the ids of [start,end) that have no record, in sequence order.
func (c *Collection) Missing(start, end int) []models.ListingID {
	c.mu.RLock()
	defer c.mu.RUnlock()

	start, end = c.clampLocked(start, end)
	var missing []models.ListingID
	for _, id := range c.ids[start:end] {
		if _, ok := c.records[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

// Contains reports whether id is part of the sequence.
func (c *Collection) Contains(id models.ListingID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.index[id]
	return ok
}

// IndexOf returns the position of id in the sequence, or -1.
func (c *Collection) IndexOf(id models.ListingID) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if pos, ok := c.index[id]; ok {
		return pos
	}
	return -1
}

// Get returns a copy of the record for id.
func (c *Collection) Get(id models.ListingID) (models.Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok := c.records[id]
	if !ok {
		return models.Record{}, &NotFoundError{ID: id}
	}
	return rec.Clone(), nil
}

// Records returns copies of the materialized records among ids, in the
// order given. Absent ids are skipped.
func (c *Collection) Records(ids []models.ListingID) []models.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.Record, 0, len(ids))
	for _, id := range ids {
		if rec, ok := c.records[id]; ok {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// UpdateRecord applies fn to the stored record for id.
func (c *Collection) UpdateRecord(id models.ListingID, fn func(*models.Record)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[id]
	if !ok {
		return &NotFoundError{ID: id}
	}
	fn(rec)
	return nil
}

// CacheImage stores a resolved source for a tier of id's record.
// Returns false when the record is not materialized.
func (c *Collection) CacheImage(id models.ListingID, tier int, src string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[id]
	if !ok {
		return false
	}
	if rec.Images == nil {
		rec.Images = make(models.ImageDataCache)
	}
	rec.Images[tier] = src
	return true
}

// CachedImages returns a copy of id's image cache (nil when absent).
func (c *Collection) CachedImages(id models.ListingID) models.ImageDataCache {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok := c.records[id]
	if !ok {
		return nil
	}
	return rec.Images.Clone()
}
