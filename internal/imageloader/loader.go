// Package imageloader drives progressive, tier-by-tier image loading for
// rendered records.
//
// A Loader walks a record up its resolution ladder one tier at a time. Every
// fetch is tagged with the loader's identity generation; when the loader is
// re-attached to another record (or detached) before a fetch settles, the
// result is dropped without touching the loader's state. Failed fetches are
// retried on the same tier with full-jitter backoff until the record is no
// longer the target.
package imageloader

import (
	"context"
	"sync"
	"time"

	"github.com/rescale/rescale-gallery/internal/constants"
	"github.com/rescale/rescale-gallery/internal/events"
	"github.com/rescale/rescale-gallery/internal/http"
	"github.com/rescale/rescale-gallery/internal/logging"
	"github.com/rescale/rescale-gallery/internal/models"
	"github.com/rescale/rescale-gallery/internal/services"
	"github.com/rescale/rescale-gallery/internal/state"
)

// Bounds limits the tiers a loader displays. Min is the starting tier
// (constants.NoTier shows a placeholder first); Max is the last tier loaded.
type Bounds struct {
	Min int
	Max int
}

// GridBounds are the bounds of a thumbnail box: start from nothing, stop at maxTier.
func GridBounds(maxTier int) Bounds {
	return Bounds{Min: constants.NoTier, Max: maxTier}
}

// ViewerBounds are the bounds of a viewer: minTier skips placeholder tiers.
func ViewerBounds(minTier, maxTier int) Bounds {
	return Bounds{Min: minTier, Max: maxTier}
}

// ReadyFunc receives each newly displayed tier.
type ReadyFunc func(id models.ListingID, tier int, src string)

// Options configure a Loader. The zero value is usable.
type Options struct {
	Session string
	Bus     *events.EventBus
	Logger  *logging.Logger

	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration

	// OnRetry is called for every failed fetch that will be retried.
	OnRetry func(err *ImageFetchError)
}

func (o *Options) setDefaults() {
	if o.RetryInitialDelay <= 0 {
		o.RetryInitialDelay = constants.ImageRetryInitialDelay
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = constants.ImageRetryMaxDelay
	}
	if o.Logger == nil {
		o.Logger = logging.NewNopLogger()
	}
}

var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Loader is the image state of one rendered element.
type Loader struct {
	fetcher services.ThumbnailService
	store   *state.Collection
	opts    Options

	mu       sync.Mutex
	gen      uint64
	attached bool
	target   models.Record
	bounds   Bounds
	tier     int
	cancel   context.CancelFunc
	done     chan struct{}
	ready    []ReadyFunc

	// notifyMu orders callbacks across generations: a superseded run's
	// last callback finishes before the next run's first one starts.
	notifyMu sync.Mutex
}

// New creates an idle loader. store holds the per-record image caches and
// may be nil, in which case only the attached record's own cache is used.
func New(fetcher services.ThumbnailService, store *state.Collection, opts Options) *Loader {
	opts.setDefaults()
	return &Loader{
		fetcher: fetcher,
		store:   store,
		opts:    opts,
		tier:    constants.NoTier,
		done:    closedCh,
	}
}

// Attach retargets the loader to rec and starts loading from b.Min. Any
// fetch still in flight for the previous target is discarded when it
// settles: the generation check decides that. Cancelling the previous
// run's context only stops its retry sleeps and requests early.
func (l *Loader) Attach(ctx context.Context, rec models.Record, b Bounds) {
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	l.mu.Lock()
	if l.cancel != nil {
		l.cancel()
	}
	l.gen++
	gen := l.gen
	l.attached = true
	l.target = rec.Clone()
	l.bounds = b
	l.tier = b.Min
	l.cancel = cancel
	l.done = done
	l.mu.Unlock()

	go l.run(runCtx, gen, rec.Ref(), b, done)
}

// Detach drops the target. Pending results are discarded.
func (l *Loader) Detach() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.gen++
	l.attached = false
	l.target = models.Record{}
	l.tier = constants.NoTier
	l.done = closedCh
}

// OnResolutionReady registers a callback for each newly displayed tier.
func (l *Loader) OnResolutionReady(fn ReadyFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ready = append(l.ready, fn)
}

// Tier returns the currently displayed tier (constants.NoTier before the first).
func (l *Loader) Tier() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tier
}

// Target returns the attached record id and whether one is attached.
func (l *Loader) Target() (models.ListingID, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.target.ID, l.attached
}

// Bounds returns the bounds of the current target.
func (l *Loader) Bounds() Bounds {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bounds
}

// Done is closed when the current target reaches its last tier or is
// superseded. It is already closed when nothing is attached.
func (l *Loader) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

// Wait blocks until Done or ctx ends.
func (l *Loader) Wait(ctx context.Context) error {
	select {
	case <-l.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loader) run(ctx context.Context, gen uint64, ref models.RecordRef, b Bounds, done chan struct{}) {
	defer close(done)

	if !ref.Kind.HasThumbnail() {
		return
	}

	log := l.opts.Logger
	attempt := 0
	for {
		cur, ok := l.current(gen)
		if !ok || cur >= b.Max {
			return
		}

		// Jump straight to the best cached tier, skipping the network
		cache := l.cached(ref.ID)
		if best := cache.HighestAtMost(cur, b.Max); best >= 0 {
			if !l.display(gen, ref.ID, best, cache[best], false) {
				return
			}
			attempt = 0
			continue
		}

		next := cur + 1
		src, err := l.fetcher.FetchImage(ctx, ref, next)
		if err != nil {
			if _, ok := l.current(gen); !ok {
				return
			}
			attempt++
			fetchErr := &ImageFetchError{ID: ref.ID, Tier: next, Attempt: attempt, Err: err}
			log.Debug().Err(err).Str("id", string(ref.ID)).Int("tier", next).Int("attempt", attempt).Msg("Tier fetch failed, retrying")
			if l.opts.OnRetry != nil {
				l.opts.OnRetry(fetchErr)
			}

			delay := http.CalculateBackoff(attempt, l.opts.RetryInitialDelay, l.opts.RetryMaxDelay)
			if err := http.Sleep(ctx, delay); err != nil {
				return
			}
			continue
		}

		if !l.display(gen, ref.ID, next, src, true) {
			return
		}
		attempt = 0
	}
}

// current returns the displayed tier if gen is still the loader's identity.
func (l *Loader) current(gen uint64) (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != l.gen {
		return 0, false
	}
	return l.tier, true
}

func (l *Loader) cached(id models.ListingID) models.ImageDataCache {
	if l.store != nil {
		if c := l.store.CachedImages(id); c != nil {
			return c
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.target.Images.Clone()
}

// display moves the loader to tier if gen still matches and tier is higher
// than what is shown. Fresh fetches are written to the image cache.
func (l *Loader) display(gen uint64, id models.ListingID, tier int, src string, fresh bool) bool {
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()

	l.mu.Lock()
	if gen != l.gen {
		l.mu.Unlock()
		return false
	}
	if tier <= l.tier {
		l.mu.Unlock()
		return true
	}
	l.tier = tier
	if fresh {
		if l.target.Images == nil {
			l.target.Images = make(models.ImageDataCache)
		}
		l.target.Images[tier] = src
	}
	callbacks := make([]ReadyFunc, len(l.ready))
	copy(callbacks, l.ready)
	l.mu.Unlock()

	if fresh && l.store != nil {
		l.store.CacheImage(id, tier, src)
	}

	for _, fn := range callbacks {
		fn(id, tier, src)
	}
	l.opts.Bus.PublishResolutionReady(l.opts.Session, string(id), tier, src)
	return true
}
