// Package viewport implements the page window over a listing session: it
// turns (page, pageSize) into the rendered slice of ids, fetches missing
// records on demand and keeps one image loader per rendered record.
package viewport

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/rescale/rescale-gallery/internal/constants"
	"github.com/rescale/rescale-gallery/internal/events"
	"github.com/rescale/rescale-gallery/internal/imageloader"
	"github.com/rescale/rescale-gallery/internal/logging"
	"github.com/rescale/rescale-gallery/internal/models"
	"github.com/rescale/rescale-gallery/internal/progress"
	"github.com/rescale/rescale-gallery/internal/services"
	"github.com/rescale/rescale-gallery/internal/state"
)

// Manager is the page window manager of one listing session.
type Manager struct {
	sess    *state.Session
	listing services.ListingService
	pool    *imageloader.Pool
	logger  *logging.Logger

	mu       sync.Mutex
	page     int
	pageSize int
	rendered []models.ListingID
	onRender []func([]models.ListingID)

	// renderMu serializes teardown and creation of rendered elements.
	renderMu sync.Mutex

	fetchGroup singleflight.Group
	pendingMu  sync.Mutex
	pending    map[models.ListingID]string // id -> key of the flight fetching it
	seq        uint64
}

// NewManager creates a manager on page 1 with the default page size.
// pool may be nil when no images are loaded (for example in listings
// printed by the CLI).
func NewManager(sess *state.Session, listing services.ListingService, pool *imageloader.Pool, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Manager{
		sess:     sess,
		listing:  listing,
		pool:     pool,
		logger:   logger,
		page:     1,
		pageSize: constants.DefaultPageSize,
		pending:  make(map[models.ListingID]string),
	}
}

// Session returns the listing session the manager works on.
func (m *Manager) Session() *state.Session {
	return m.sess
}

// OnRangeRendered registers a callback invoked with the rendered ids after
// every render. The same ids are published as a RangeRenderedEvent.
func (m *Manager) OnRangeRendered(fn func([]models.ListingID)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRender = append(m.onRender, fn)
}

// LoadListing fetches the session's listing, initializes the collection
// and renders the current window.
func (m *Manager) LoadListing(ctx context.Context) error {
	listing, err := m.listing.FetchListing(ctx, m.sess.Path, m.sess.Filter)
	if err != nil {
		m.sess.Bus.PublishError(m.sess.ID, "listing", err, true)
		return fmt.Errorf("failed to fetch listing %s: %w", m.sess.Path, err)
	}

	total := m.sess.Load(listing)
	m.logger.Info().
		Str("path", m.sess.Path).
		Int("items", total).
		Int("materialized", m.sess.Store.MaterializedCount()).
		Msg("Listing loaded")

	m.render()
	return nil
}

// Window returns the current page and page size.
func (m *Manager) Window() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.page, m.pageSize
}

// Range returns the current index range [start, end).
func (m *Manager) Range() (int, int) {
	page, size := m.Window()
	return windowRange(page, size)
}

func windowRange(page, pageSize int) (int, int) {
	return (page - 1) * pageSize, page * pageSize
}

// SetWindow moves the window. The window only changes when the ids it
// covers change; the current slice is re-rendered either way.
func (m *Manager) SetWindow(page, pageSize int) error {
	if page < 1 || pageSize <= 0 || pageSize > constants.MaxPageSize {
		return fmt.Errorf("%w: page %d, page size %d", ErrInvalidWindow, page, pageSize)
	}

	m.mu.Lock()
	oldIDs := m.sess.Store.Slice(windowRange(m.page, m.pageSize))
	newIDs := m.sess.Store.Slice(windowRange(page, pageSize))
	if !sameIDs(oldIDs, newIDs) {
		m.page, m.pageSize = page, pageSize
	}
	m.mu.Unlock()

	m.render()
	return nil
}

// Show moves the window, fetches its missing records and renders it.
// A fetch failure is returned after the partial window is rendered.
func (m *Manager) Show(ctx context.Context, page, pageSize int) error {
	if err := m.SetWindow(page, pageSize); err != nil {
		return err
	}
	return m.EnsureVisible(ctx)
}

// EnsureVisible fetches the records of the current window and re-renders
// when anything was missing.
func (m *Manager) EnsureVisible(ctx context.Context) error {
	start, end := m.Range()
	if m.sess.Store.IsRangeComplete(start, end) {
		return nil
	}
	err := m.EnsureLoaded(ctx, start, end)
	m.render()
	return err
}

// MaxPage returns ceil(total / pageSize), and 1 for an empty listing.
func (m *Manager) MaxPage() int {
	_, size := m.Window()
	return maxPage(m.sess.Store.Len(), size)
}

func maxPage(total, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 1
	}
	return (total + pageSize - 1) / pageSize
}

// GoToPage shows page p. Pages outside [1, MaxPage] return
// ErrPageOutOfRange and leave the window untouched.
func (m *Manager) GoToPage(ctx context.Context, p int) error {
	if last := m.MaxPage(); p < 1 || p > last {
		return fmt.Errorf("%w: %d not in [1, %d]", ErrPageOutOfRange, p, last)
	}
	_, size := m.Window()
	return m.Show(ctx, p, size)
}

// NextPage shows the page after the current one.
func (m *Manager) NextPage(ctx context.Context) error {
	page, _ := m.Window()
	return m.GoToPage(ctx, page+1)
}

// PrevPage shows the page before the current one.
func (m *Manager) PrevPage(ctx context.Context) error {
	page, _ := m.Window()
	return m.GoToPage(ctx, page-1)
}

// ClampPage clamps p to [1, MaxPage]. Used for display links only;
// navigation rejects out-of-range pages.
func (m *Manager) ClampPage(p int) int {
	if p < 1 {
		return 1
	}
	if last := m.MaxPage(); p > last {
		return last
	}
	return p
}

// PageLinks returns the pages within radius of the current page.
func (m *Manager) PageLinks(radius int) []int {
	page, _ := m.Window()
	first := m.ClampPage(page - radius)
	last := m.ClampPage(page + radius)

	links := make([]int, 0, last-first+1)
	for p := first; p <= last; p++ {
		links = append(links, p)
	}
	return links
}

// VisibleIDs returns the ids of the last render.
func (m *Manager) VisibleIDs() []models.ListingID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ListingID, len(m.rendered))
	copy(out, m.rendered)
	return out
}

// VisibleRecords returns the materialized records of the last render.
func (m *Manager) VisibleRecords() []models.Record {
	return m.sess.Store.Records(m.VisibleIDs())
}

// Refresh re-renders the current slice without fetching.
func (m *Manager) Refresh() []models.ListingID {
	return m.render()
}

// Resolve returns the record for id, fetching it when it is not
// materialized. A NotFoundError means the server no longer knows the id
// and the caller should evict it.
func (m *Manager) Resolve(ctx context.Context, id models.ListingID) (models.Record, error) {
	if rec, err := m.sess.Store.Get(id); err == nil {
		return rec, nil
	}

	pos := m.sess.Store.IndexOf(id)
	if pos < 0 {
		return models.Record{}, &state.NotFoundError{ID: id}
	}
	if err := m.EnsureLoaded(ctx, pos, pos+1); err != nil {
		return models.Record{}, err
	}
	return m.sess.Store.Get(id)
}

// EnsureLoaded fetches the records of [start, end) that are not yet
// materialized. Missing ids are fetched in a single request. Ids already
// being fetched by a concurrent call are not requested again; the call
// waits for that fetch instead. Records the server does not return stay
// missing and are not an error.
func (m *Manager) EnsureLoaded(ctx context.Context, start, end int) error {
	missing := m.sess.Store.Missing(start, end)
	if len(missing) == 0 {
		return nil
	}

	m.pendingMu.Lock()
	flights := make(map[string][]models.ListingID)
	var fresh []models.ListingID
	for _, id := range missing {
		if key, ok := m.pending[id]; ok {
			flights[key] = append(flights[key], id)
			continue
		}
		fresh = append(fresh, id)
	}
	if len(fresh) > 0 {
		m.seq++
		key := fmt.Sprintf("%d:%d-%d", m.seq, start, end)
		for _, id := range fresh {
			m.pending[id] = key
		}
		flights[key] = fresh
	}
	m.pendingMu.Unlock()

	results := make([]<-chan singleflight.Result, 0, len(flights))
	for key, ids := range flights {
		results = append(results, m.fetchGroup.DoChan(key, m.fetchFunc(ctx, key, start, end, ids)))
	}

	var firstErr error
	for _, ch := range results {
		select {
		case res := <-ch:
			if res.Err != nil && firstErr == nil {
				firstErr = res.Err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return firstErr
}

// fetchFunc fetches the still-missing records among ids. The fetch is
// shared by every caller waiting on key, so it runs detached from the
// cancellation of the caller that started it.
func (m *Manager) fetchFunc(ctx context.Context, key string, start, end int, ids []models.ListingID) func() (interface{}, error) {
	return func() (interface{}, error) {
		defer m.clearPending(key, ids)

		want := m.stillMissing(ids)
		if len(want) == 0 {
			return 0, nil
		}

		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.ListingFetchTimeout)
		defer cancel()

		records, err := m.listing.FetchRecords(fetchCtx, want)
		if err != nil {
			rfe := &RangeFetchError{Start: start, End: end, IDs: len(want), Err: err}
			m.logger.Errorf(err, "Range fetch [%d, %d) failed", start, end)
			m.sess.Bus.PublishError(m.sess.ID, "range_fetch", rfe, true)
			return nil, rfe
		}

		merged := m.sess.Store.Merge(records)
		if merged < len(want) {
			m.logger.Debug().
				Int("requested", len(want)).
				Int("returned", merged).
				Msg("Partial record fetch, remaining ids stay missing")
		}
		m.sess.Bus.PublishListing(events.EventRecordsMerged, m.sess.ID, m.sess.Path, m.sess.Store.Len(), recordIDs(records))
		return merged, nil
	}
}

func (m *Manager) stillMissing(ids []models.ListingID) []models.ListingID {
	have := make(map[models.ListingID]struct{}, len(ids))
	for _, rec := range m.sess.Store.Records(ids) {
		have[rec.ID] = struct{}{}
	}
	want := make([]models.ListingID, 0, len(ids))
	for _, id := range ids {
		if _, ok := have[id]; !ok {
			want = append(want, id)
		}
	}
	return want
}

func (m *Manager) clearPending(key string, ids []models.ListingID) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	for _, id := range ids {
		if m.pending[id] == key {
			delete(m.pending, id)
		}
	}
}

// render tears down loaders of ids that left the window, creates loaders
// for materialized ids of the window, trims the selection to the rendered
// ids and publishes the slice.
func (m *Manager) render() []models.ListingID {
	m.renderMu.Lock()
	defer m.renderMu.Unlock()

	m.mu.Lock()
	page, size := m.page, m.pageSize
	m.mu.Unlock()

	ids := m.sess.Store.Slice(windowRange(page, size))

	if m.pool != nil {
		m.pool.ReleaseAllExcept(ids)
		for _, rec := range m.sess.Store.Records(ids) {
			m.pool.Acquire(rec)
		}
	}

	m.mu.Lock()
	m.rendered = ids
	callbacks := make([]func([]models.ListingID), len(m.onRender))
	copy(callbacks, m.onRender)
	m.mu.Unlock()

	m.sess.Selection.Retain(ids)

	for _, fn := range callbacks {
		fn(ids)
	}
	m.sess.Bus.PublishRangeRendered(m.sess.ID, page, size, maxPage(m.sess.Store.Len(), size), state.ToStrings(ids))
	return ids
}

// ApplyToSelection applies verb to the selected records in listing
// order, evicts records the verb takes out of this listing, then refills
// and re-renders the window. sink defaults to bus progress events.
func (m *Manager) ApplyToSelection(ctx context.Context, svc services.MutationService, verb models.Verb, sink progress.Reporter) (int, error) {
	if sink == nil {
		sink = progress.NewBusProgress(m.sess.Bus, m.sess.ID, string(verb.Action))
	}

	refs := services.RefsFor(m.sess, m.listingOrder(m.sess.Selection.Selected()))
	applied, err := services.ApplyToSession(ctx, svc, m.sess, refs, verb, sink, m.logger)
	if applied == 0 {
		return applied, err
	}

	m.mu.Lock()
	if last := maxPage(m.sess.Store.Len(), m.pageSize); m.page > last {
		m.page = last
	}
	m.mu.Unlock()

	start, end := m.Range()
	if ferr := m.EnsureLoaded(ctx, start, end); ferr != nil {
		m.logger.Warn().Err(ferr).Msg("Failed to refill window after batch")
	}
	m.render()
	return applied, err
}

// listingOrder sorts ids by their position in the listing. Ids the
// listing no longer holds go last.
func (m *Manager) listingOrder(ids []models.ListingID) []models.ListingID {
	pos := make(map[models.ListingID]int, len(ids))
	for _, id := range ids {
		if i := m.sess.Store.IndexOf(id); i >= 0 {
			pos[id] = i
		} else {
			pos[id] = m.sess.Store.Len()
		}
	}
	slices.SortStableFunc(ids, func(a, b models.ListingID) int {
		return cmp.Compare(pos[a], pos[b])
	})
	return ids
}

func sameIDs(a, b []models.ListingID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func recordIDs(records []models.Record) []string {
	out := make([]string, len(records))
	for i := range records {
		out[i] = string(records[i].ID)
	}
	return out
}
