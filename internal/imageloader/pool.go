package imageloader

import (
	"context"
	"sync"

	"github.com/rescale/rescale-gallery/internal/models"
	"github.com/rescale/rescale-gallery/internal/services"
	"github.com/rescale/rescale-gallery/internal/state"
)

// Pool holds one loader per rendered record. The viewport releases loaders
// for ids leaving the window before acquiring loaders for ids entering it,
// so the number of live loaders and in-flight fetches stays bounded by the
// page size.
type Pool struct {
	ctx     context.Context
	fetcher services.ThumbnailService
	store   *state.Collection
	bounds  Bounds
	opts    Options

	mu      sync.Mutex
	loaders map[models.ListingID]*Loader
	ready   []ReadyFunc
}

// NewPool creates an empty pool. Loaders run under ctx.
func NewPool(ctx context.Context, fetcher services.ThumbnailService, store *state.Collection, bounds Bounds, opts Options) *Pool {
	opts.setDefaults()
	return &Pool{
		ctx:     ctx,
		fetcher: fetcher,
		store:   store,
		bounds:  bounds,
		opts:    opts,
		loaders: make(map[models.ListingID]*Loader),
	}
}

// Acquire returns the loader for rec, creating and attaching one if needed.
// Records whose kind has no thumbnail get no loader.
func (p *Pool) Acquire(rec models.Record) *Loader {
	if !rec.Kind.HasThumbnail() {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if l, ok := p.loaders[rec.ID]; ok {
		return l
	}

	l := New(p.fetcher, p.store, p.opts)
	l.OnResolutionReady(p.fanOut)
	p.loaders[rec.ID] = l
	l.Attach(p.ctx, rec, p.bounds)
	return l
}

// Get returns the live loader for id.
func (p *Pool) Get(id models.ListingID) (*Loader, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.loaders[id]
	return l, ok
}

// Release detaches and forgets the loader for id.
func (p *Pool) Release(id models.ListingID) bool {
	p.mu.Lock()
	l, ok := p.loaders[id]
	delete(p.loaders, id)
	p.mu.Unlock()

	if ok {
		l.Detach()
	}
	return ok
}

// ReleaseAllExcept releases every loader whose id is not in keep.
// Returns the number released.
func (p *Pool) ReleaseAllExcept(keep []models.ListingID) int {
	keepSet := make(map[models.ListingID]struct{}, len(keep))
	for _, id := range keep {
		keepSet[id] = struct{}{}
	}

	p.mu.Lock()
	var released []*Loader
	for id, l := range p.loaders {
		if _, ok := keepSet[id]; !ok {
			released = append(released, l)
			delete(p.loaders, id)
		}
	}
	p.mu.Unlock()

	for _, l := range released {
		l.Detach()
	}
	return len(released)
}

// Close releases every loader.
func (p *Pool) Close() {
	p.ReleaseAllExcept(nil)
}

// Len returns the number of live loaders.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.loaders)
}

// OnResolutionReady registers a callback for every loader of the pool.
func (p *Pool) OnResolutionReady(fn ReadyFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ready = append(p.ready, fn)
}

// SetBounds changes the bounds used for loaders acquired from now on.
func (p *Pool) SetBounds(b Bounds) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bounds = b
}

// Wait blocks until every live loader is done or ctx ends.
func (p *Pool) Wait(ctx context.Context) error {
	p.mu.Lock()
	loaders := make([]*Loader, 0, len(p.loaders))
	for _, l := range p.loaders {
		loaders = append(loaders, l)
	}
	p.mu.Unlock()

	for _, l := range loaders {
		if err := l.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pool) fanOut(id models.ListingID, tier int, src string) {
	p.mu.Lock()
	callbacks := make([]ReadyFunc, len(p.ready))
	copy(callbacks, p.ready)
	p.mu.Unlock()

	for _, fn := range callbacks {
		fn(id, tier, src)
	}
}
