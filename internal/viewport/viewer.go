package viewport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rescale/rescale-gallery/internal/imageloader"
	"github.com/rescale/rescale-gallery/internal/models"
	"github.com/rescale/rescale-gallery/internal/services"
)

// ErrEndOfListing is returned when the viewer steps past either end.
var ErrEndOfListing = errors.New("no more items in listing")

// Viewer shows one record at a time with a single loader that is
// re-attached on every switch. Rapid switching is safe: fetches issued for
// a record the viewer has moved away from are discarded.
type Viewer struct {
	mgr    *Manager
	loader *imageloader.Loader
	bounds imageloader.Bounds

	mu      sync.Mutex
	current models.ListingID
	opens   uint64
}

// NewViewer creates a viewer over mgr's session. bounds.Min lets the
// viewer skip placeholder tiers.
func NewViewer(mgr *Manager, fetcher services.ThumbnailService, bounds imageloader.Bounds, opts imageloader.Options) *Viewer {
	return &Viewer{
		mgr:    mgr,
		loader: imageloader.New(fetcher, mgr.sess.Store, opts),
		bounds: bounds,
	}
}

// Loader returns the viewer's image loader.
func (v *Viewer) Loader() *imageloader.Loader {
	return v.loader
}

// Current returns the id being shown.
func (v *Viewer) Current() (models.ListingID, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current, v.current != ""
}

// Open shows id, fetching its record when needed. An Open whose record
// arrives after a later Open has started is dropped.
func (v *Viewer) Open(ctx context.Context, id models.ListingID) error {
	v.mu.Lock()
	v.opens++
	tag := v.opens
	v.mu.Unlock()

	rec, err := v.mgr.Resolve(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", id, err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if tag != v.opens {
		return nil
	}
	v.current = id
	v.loader.Attach(ctx, rec, v.bounds)
	return nil
}

// Next shows the record after the current one in listing order.
func (v *Viewer) Next(ctx context.Context) error {
	return v.step(ctx, 1)
}

// Prev shows the record before the current one in listing order.
func (v *Viewer) Prev(ctx context.Context) error {
	return v.step(ctx, -1)
}

func (v *Viewer) step(ctx context.Context, delta int) error {
	store := v.mgr.sess.Store
	if store.Len() == 0 {
		return ErrNoListing
	}

	cur, ok := v.Current()
	pos := store.IndexOf(cur)
	if !ok || pos < 0 {
		pos = -delta
		if delta < 0 {
			pos = store.Len()
		}
	}

	next := pos + delta
	ids := store.Slice(next, next+1)
	if next < 0 || len(ids) == 0 {
		return ErrEndOfListing
	}
	return v.Open(ctx, ids[0])
}

// Close detaches the loader.
func (v *Viewer) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.opens++
	v.current = ""
	v.loader.Detach()
}
