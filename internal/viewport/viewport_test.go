package viewport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rescale/rescale-gallery/internal/events"
	"github.com/rescale/rescale-gallery/internal/imageloader"
	"github.com/rescale/rescale-gallery/internal/models"
	"github.com/rescale/rescale-gallery/internal/progress"
	"github.com/rescale/rescale-gallery/internal/services"
	"github.com/rescale/rescale-gallery/internal/state"
)

// fakeListing serves a listing of n image ids, with the first `initial`
// records materialized in the listing response.
type fakeListing struct {
	mu      sync.Mutex
	ids     []models.ListingID
	initial int
	calls   [][]models.ListingID
	gate    chan struct{}
	err     error
	omit    map[models.ListingID]bool
}

func newFakeListing(n, initial int) *fakeListing {
	ids := make([]models.ListingID, n)
	for i := range ids {
		ids[i] = models.ListingID(fmt.Sprintf("id%03d", i))
	}
	return &fakeListing{ids: ids, initial: initial, omit: make(map[models.ListingID]bool)}
}

func record(id models.ListingID) models.Record {
	return models.Record{ID: id, Kind: models.KindImage, Name: string(id) + ".jpg"}
}

func (f *fakeListing) FetchListing(ctx context.Context, path string, filter models.ListingFilter) (*models.Listing, error) {
	recs := make([]models.Record, 0, f.initial)
	for _, id := range f.ids[:f.initial] {
		recs = append(recs, record(id))
	}
	return &models.Listing{Path: path, OrderedIDs: f.ids, TotalCount: len(f.ids), Records: recs}, nil
}

func (f *fakeListing) FetchRecords(ctx context.Context, ids []models.ListingID) ([]models.Record, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]models.ListingID(nil), ids...))
	gate, err := f.gate, f.err
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}

	recs := make([]models.Record, 0, len(ids))
	for _, id := range ids {
		if !f.omit[id] {
			recs = append(recs, record(id))
		}
	}
	return recs, nil
}

func (f *fakeListing) Calls() [][]models.ListingID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]models.ListingID(nil), f.calls...)
}

func newTestManager(t *testing.T, f *fakeListing, bus *events.EventBus) *Manager {
	t.Helper()
	sess := state.NewSession("/photos", models.ListingFilter{}, bus)
	m := NewManager(sess, f, nil, nil)
	if err := m.LoadListing(context.Background()); err != nil {
		t.Fatalf("LoadListing() error: %v", err)
	}
	return m
}

func TestVisibleSliceLength(t *testing.T) {
	f := newFakeListing(120, 0)
	m := newTestManager(t, f, nil)

	tests := []struct {
		page, pageSize, want int
	}{
		{1, 50, 50},
		{2, 50, 50},
		{3, 50, 20},
		{4, 50, 0},
		{1, 120, 120},
		{1, 500, 120},
		{12, 10, 10},
		{7, 17, 17},
		{8, 17, 1},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("page%d_size%d", tt.page, tt.pageSize), func(t *testing.T) {
			// start from a window that differs from the one under test
			if err := m.SetWindow(100, 1); err != nil {
				t.Fatal(err)
			}
			if err := m.SetWindow(tt.page, tt.pageSize); err != nil {
				t.Fatalf("SetWindow() error: %v", err)
			}
			if got := len(m.VisibleIDs()); got != tt.want {
				t.Errorf("visible = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSetWindowRejectsInvalid(t *testing.T) {
	m := newTestManager(t, newFakeListing(10, 10), nil)

	for _, w := range [][2]int{{0, 10}, {1, 0}, {-1, 5}, {1, 100000}} {
		if err := m.SetWindow(w[0], w[1]); !errors.Is(err, ErrInvalidWindow) {
			t.Errorf("SetWindow(%d, %d) = %v, want ErrInvalidWindow", w[0], w[1], err)
		}
	}
}

func TestSetWindowKeepsWindowWhenSliceUnchanged(t *testing.T) {
	bus := events.NewEventBus(16)
	defer bus.Close()
	m := newTestManager(t, newFakeListing(10, 10), bus)
	rendered := bus.Subscribe(events.EventRangeRendered)

	if err := m.SetWindow(1, 100); err != nil {
		t.Fatal(err)
	}
	if page, size := m.Window(); page != 1 || size != 50 {
		t.Errorf("Window() = %d,%d, want unchanged 1,50", page, size)
	}

	// re-render still happens
	select {
	case <-rendered:
	case <-time.After(time.Second):
		t.Fatal("no RangeRendered event")
	}
}

func TestPagination(t *testing.T) {
	m := newTestManager(t, newFakeListing(120, 0), nil)
	ctx := context.Background()

	if m.MaxPage() != 3 {
		t.Fatalf("MaxPage() = %d, want 3", m.MaxPage())
	}

	if err := m.GoToPage(ctx, 4); !errors.Is(err, ErrPageOutOfRange) {
		t.Errorf("GoToPage(4) = %v, want ErrPageOutOfRange", err)
	}
	if err := m.GoToPage(ctx, 0); !errors.Is(err, ErrPageOutOfRange) {
		t.Errorf("GoToPage(0) = %v, want ErrPageOutOfRange", err)
	}
	if page, _ := m.Window(); page != 1 {
		t.Errorf("page = %d after rejected navigation, want 1", page)
	}

	if err := m.NextPage(ctx); err != nil {
		t.Fatalf("NextPage() error: %v", err)
	}
	if err := m.NextPage(ctx); err != nil {
		t.Fatalf("NextPage() error: %v", err)
	}
	if err := m.NextPage(ctx); !errors.Is(err, ErrPageOutOfRange) {
		t.Errorf("NextPage() past end = %v", err)
	}
	if page, _ := m.Window(); page != 3 {
		t.Errorf("page = %d, want 3", page)
	}
	if err := m.PrevPage(ctx); err != nil {
		t.Fatalf("PrevPage() error: %v", err)
	}

	if m.ClampPage(99) != 3 || m.ClampPage(-2) != 1 {
		t.Error("ClampPage should clamp to [1, MaxPage]")
	}
}

func TestPageLinks(t *testing.T) {
	m := newTestManager(t, newFakeListing(100, 0), nil)
	if err := m.SetWindow(1, 10); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		page int
		want []int
	}{
		{1, []int{1, 2, 3}},
		{5, []int{3, 4, 5, 6, 7}},
		{10, []int{8, 9, 10}},
	}
	for _, tt := range tests {
		if err := m.SetWindow(tt.page, 10); err != nil {
			t.Fatal(err)
		}
		got := m.PageLinks(2)
		if fmt.Sprint(got) != fmt.Sprint(tt.want) {
			t.Errorf("PageLinks(2) on page %d = %v, want %v", tt.page, got, tt.want)
		}
	}
}

func TestEmptyListingHasOnePage(t *testing.T) {
	m := newTestManager(t, newFakeListing(0, 0), nil)
	if m.MaxPage() != 1 {
		t.Errorf("MaxPage() = %d, want 1", m.MaxPage())
	}
	if err := m.GoToPage(context.Background(), 1); err != nil {
		t.Errorf("GoToPage(1) error: %v", err)
	}
	if len(m.VisibleIDs()) != 0 {
		t.Error("nothing should be visible")
	}
}

func TestEnsureLoadedFetchesOnlyMissing(t *testing.T) {
	f := newFakeListing(120, 10)
	m := newTestManager(t, f, nil)
	ctx := context.Background()

	if m.sess.Store.IsRangeComplete(0, 50) {
		t.Fatal("range should start incomplete")
	}
	if err := m.EnsureLoaded(ctx, 0, 50); err != nil {
		t.Fatalf("EnsureLoaded() error: %v", err)
	}
	if !m.sess.Store.IsRangeComplete(0, 50) {
		t.Error("range should be complete")
	}

	calls := f.Calls()
	if len(calls) != 1 || len(calls[0]) != 40 || calls[0][0] != "id010" {
		t.Fatalf("calls = %v, want one call for id010..id049", calls)
	}

	// complete range issues nothing
	if err := m.EnsureLoaded(ctx, 10, 40); err != nil {
		t.Fatal(err)
	}
	if len(f.Calls()) != 1 {
		t.Error("complete range must not fetch")
	}
}

func TestEnsureLoadedCoalescesConcurrentCalls(t *testing.T) {
	f := newFakeListing(120, 0)
	m := newTestManager(t, f, nil)

	gate := make(chan struct{})
	f.mu.Lock()
	f.gate = gate
	f.mu.Unlock()

	ctx := context.Background()
	var wg sync.WaitGroup
	errs := make(chan error, 3)

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- m.EnsureLoaded(ctx, 0, 50)
	}()

	// wait for the first fetch to be in flight
	deadline := time.Now().Add(2 * time.Second)
	for len(f.Calls()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first fetch never started")
		}
		time.Sleep(time.Millisecond)
	}

	// same range and a subset join the pending fetch
	for _, r := range [][2]int{{0, 50}, {10, 20}} {
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			errs <- m.EnsureLoaded(ctx, start, end)
		}(r[0], r[1])
	}

	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("EnsureLoaded() error: %v", err)
		}
	}
	if calls := f.Calls(); len(calls) != 1 {
		t.Errorf("fetches = %d, want 1", len(calls))
	}
	if !m.sess.Store.IsRangeComplete(0, 50) {
		t.Error("range should be complete")
	}
}

func TestEnsureLoadedPartialResultIsNotAnError(t *testing.T) {
	f := newFakeListing(20, 0)
	f.omit["id005"] = true
	m := newTestManager(t, f, nil)

	if err := m.EnsureLoaded(context.Background(), 0, 10); err != nil {
		t.Fatalf("EnsureLoaded() error: %v", err)
	}
	missing := m.sess.Store.Missing(0, 10)
	if len(missing) != 1 || missing[0] != "id005" {
		t.Errorf("missing = %v, want [id005]", missing)
	}

	// a later call asks again for what is still missing
	delete(f.omit, "id005")
	if err := m.EnsureLoaded(context.Background(), 0, 10); err != nil {
		t.Fatal(err)
	}
	calls := f.Calls()
	if len(calls) != 2 || len(calls[1]) != 1 {
		t.Errorf("calls = %v", calls)
	}
}

func TestEnsureLoadedFailure(t *testing.T) {
	bus := events.NewEventBus(16)
	defer bus.Close()

	f := newFakeListing(20, 0)
	m := newTestManager(t, f, bus)
	errCh := bus.Subscribe(events.EventError)

	f.mu.Lock()
	f.err = errors.New("503 service unavailable")
	f.mu.Unlock()

	err := m.EnsureLoaded(context.Background(), 0, 10)
	var rfe *RangeFetchError
	if !errors.As(err, &rfe) {
		t.Fatalf("error = %v, want *RangeFetchError", err)
	}
	if rfe.Start != 0 || rfe.End != 10 || rfe.IDs != 10 {
		t.Errorf("RangeFetchError = %+v", rfe)
	}
	if !IsRangeFetchError(err) {
		t.Error("IsRangeFetchError() = false")
	}

	select {
	case e := <-errCh:
		if ev := e.(*events.ErrorEvent); !ev.Retryable || ev.Operation != "range_fetch" {
			t.Errorf("error event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no error event")
	}

	// failure leaves nothing pending; a retry fetches again
	f.mu.Lock()
	f.err = nil
	f.mu.Unlock()
	if err := m.EnsureLoaded(context.Background(), 0, 10); err != nil {
		t.Fatalf("retry error: %v", err)
	}
}

func TestResolve(t *testing.T) {
	f := newFakeListing(20, 0)
	f.omit["id003"] = true
	m := newTestManager(t, f, nil)
	ctx := context.Background()

	rec, err := m.Resolve(ctx, "id002")
	if err != nil || rec.ID != "id002" {
		t.Fatalf("Resolve(id002) = %+v, %v", rec, err)
	}
	if _, err := m.Resolve(ctx, "id003"); !state.IsNotFound(err) {
		t.Errorf("Resolve(id003) = %v, want NotFoundError", err)
	}
	if _, err := m.Resolve(ctx, "nope"); !state.IsNotFound(err) {
		t.Errorf("Resolve(nope) = %v, want NotFoundError", err)
	}
}

// End to end: 120 ids with a page size of 50.
func TestWindowSelectionEndToEnd(t *testing.T) {
	f := newFakeListing(120, 0)
	m := newTestManager(t, f, nil)
	ctx := context.Background()
	ids := f.ids

	if err := m.SetWindow(1, 50); err != nil {
		t.Fatal(err)
	}
	if err := m.EnsureLoaded(ctx, 0, 50); err != nil {
		t.Fatal(err)
	}
	calls := f.Calls()
	if len(calls) != 1 || len(calls[0]) != 50 || calls[0][0] != ids[0] || calls[0][49] != ids[49] {
		t.Fatalf("first fetch = %v, want ids[0..50)", calls)
	}

	if err := m.Show(ctx, 3, 50); err != nil {
		t.Fatal(err)
	}
	visible := m.VisibleIDs()
	if len(visible) != 20 || visible[0] != ids[100] || visible[19] != ids[119] {
		t.Fatalf("visible = %v, want ids[100..120)", visible)
	}

	m.sess.Selection.SelectAll(visible, true)
	if m.sess.Selection.Count() != 20 {
		t.Errorf("selected = %d, want 20", m.sess.Selection.Count())
	}
	for _, id := range ids[:100] {
		if m.sess.Selection.IsSelected(id) {
			t.Fatalf("%s is off-page and must not be selected", id)
		}
	}
}

func TestPageChangeTearsDownLoaders(t *testing.T) {
	f := newFakeListing(30, 30)
	sess := state.NewSession("/photos", models.ListingFilter{}, nil)
	fetcher := services.ThumbnailFunc(func(ctx context.Context, ref models.RecordRef, tier int) (string, error) {
		return fmt.Sprintf("%s@%d", ref.ID, tier), nil
	})
	pool := imageloader.NewPool(context.Background(), fetcher, sess.Store, imageloader.GridBounds(0),
		imageloader.Options{RetryInitialDelay: time.Millisecond})
	defer pool.Close()

	m := NewManager(sess, f, pool, nil)
	if err := m.LoadListing(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := m.SetWindow(1, 10); err != nil {
		t.Fatal(err)
	}
	if pool.Len() != 10 {
		t.Fatalf("live loaders = %d, want 10", pool.Len())
	}

	if err := m.SetWindow(2, 10); err != nil {
		t.Fatal(err)
	}
	if pool.Len() != 10 {
		t.Errorf("live loaders = %d, want 10", pool.Len())
	}
	if _, ok := pool.Get(f.ids[0]); ok {
		t.Error("loader for an id that left the window is still live")
	}
	if _, ok := pool.Get(f.ids[15]); !ok {
		t.Error("loader for a rendered id is missing")
	}
}

func TestPageChangeDropsStaleSelection(t *testing.T) {
	m := newTestManager(t, newFakeListing(100, 100), nil)
	if err := m.SetWindow(1, 10); err != nil {
		t.Fatal(err)
	}
	m.sess.Selection.SelectAll(m.VisibleIDs(), true)

	if err := m.SetWindow(2, 10); err != nil {
		t.Fatal(err)
	}
	if m.sess.Selection.Count() != 0 {
		t.Errorf("selection = %v, want empty after page change", m.sess.Selection.Selected())
	}
}

func TestOnRangeRendered(t *testing.T) {
	m := newTestManager(t, newFakeListing(30, 30), nil)

	var got []models.ListingID
	m.OnRangeRendered(func(ids []models.ListingID) { got = ids })

	if err := m.SetWindow(3, 10); err != nil {
		t.Fatal(err)
	}
	if len(got) != 10 || got[0] != "id020" {
		t.Errorf("rendered = %v", got)
	}
}

func TestApplyToSelectionEvictsAndRefills(t *testing.T) {
	f := newFakeListing(30, 10)
	sess := state.NewSession("/trash", models.ListingFilter{Deleted: true}, nil)
	m := NewManager(sess, f, nil, nil)
	ctx := context.Background()
	if err := m.LoadListing(ctx); err != nil {
		t.Fatal(err)
	}
	if err := m.Show(ctx, 1, 10); err != nil {
		t.Fatal(err)
	}

	visible := m.VisibleIDs()
	sess.Selection.SelectRange(visible, visible[0], visible[2])

	var applied []models.ListingID
	svc := services.MutationFunc(func(ctx context.Context, ref models.RecordRef, verb models.Verb) error {
		applied = append(applied, ref.ID)
		return nil
	})
	sink := &progress.Counter{}

	n, err := m.ApplyToSelection(ctx, svc, models.Verb{Action: models.ActionRestore}, sink)
	if err != nil || n != 3 {
		t.Fatalf("ApplyToSelection() = %d, %v", n, err)
	}
	if len(applied) != 3 || applied[0] != "id000" {
		t.Errorf("applied = %v", applied)
	}

	if sess.Store.Len() != 27 {
		t.Errorf("Len() = %d, want 27", sess.Store.Len())
	}
	visible = m.VisibleIDs()
	if len(visible) != 10 || visible[0] != "id003" {
		t.Errorf("visible = %v, want id003..id012", visible)
	}
	if !sess.Store.IsRangeComplete(0, 10) {
		t.Error("window should be refilled")
	}
	if sess.Selection.Count() != 0 {
		t.Error("evicted ids should leave the selection")
	}
}

func TestApplyToSelectionRunsInListingOrder(t *testing.T) {
	f := newFakeListing(0, 0)
	f.ids = []models.ListingID{"id9", "id10", "id2", "id1"}
	f.initial = len(f.ids)
	m := newTestManager(t, f, nil)
	ctx := context.Background()
	if err := m.Show(ctx, 1, 10); err != nil {
		t.Fatal(err)
	}
	m.Session().Selection.SelectAll(m.VisibleIDs(), true)

	var applied []models.ListingID
	svc := services.MutationFunc(func(ctx context.Context, ref models.RecordRef, verb models.Verb) error {
		applied = append(applied, ref.ID)
		if ref.ID == "id2" {
			return errors.New("server rejected id2")
		}
		return nil
	})

	n, err := m.ApplyToSelection(ctx, svc, models.Verb{Action: models.ActionStar}, &progress.Counter{})
	if err == nil {
		t.Fatal("ApplyToSelection() should report the failed item")
	}
	if n != 2 {
		t.Errorf("applied count = %d, want 2", n)
	}
	want := []models.ListingID{"id9", "id10", "id2"}
	if fmt.Sprint(applied) != fmt.Sprint(want) {
		t.Errorf("applied = %v, want %v", applied, want)
	}
}

func TestApplyToSelectionClampsPage(t *testing.T) {
	f := newFakeListing(11, 11)
	sess := state.NewSession("/photos", models.ListingFilter{}, nil)
	m := NewManager(sess, f, nil, nil)
	ctx := context.Background()
	if err := m.LoadListing(ctx); err != nil {
		t.Fatal(err)
	}
	if err := m.Show(ctx, 2, 10); err != nil {
		t.Fatal(err)
	}
	sess.Selection.Toggle("id010")

	svc := services.MutationFunc(func(ctx context.Context, ref models.RecordRef, verb models.Verb) error { return nil })
	if _, err := m.ApplyToSelection(ctx, svc, models.Verb{Action: models.ActionDelete}, progress.NewNoOpProgress()); err != nil {
		t.Fatal(err)
	}
	if page, _ := m.Window(); page != 1 {
		t.Errorf("page = %d, want 1 after the last page emptied", page)
	}
	if len(m.VisibleIDs()) != 10 {
		t.Errorf("visible = %d, want 10", len(m.VisibleIDs()))
	}
}
