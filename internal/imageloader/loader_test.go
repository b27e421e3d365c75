package imageloader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rescale/rescale-gallery/internal/events"
	"github.com/rescale/rescale-gallery/internal/models"
	"github.com/rescale/rescale-gallery/internal/state"
)

// fakeFetcher serves "<id>@<tier>" and records every request.
type fakeFetcher struct {
	mu       sync.Mutex
	requests []string
	failures map[string]int // "<id>@<tier>" -> failures left
	gates    map[models.ListingID]chan struct{}
	started  chan models.ListingID
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		failures: make(map[string]int),
		gates:    make(map[models.ListingID]chan struct{}),
		started:  make(chan models.ListingID, 16),
	}
}

func (f *fakeFetcher) FetchImage(ctx context.Context, ref models.RecordRef, tier int) (string, error) {
	key := fmt.Sprintf("%s@%d", ref.ID, tier)

	f.mu.Lock()
	f.requests = append(f.requests, key)
	gate := f.gates[ref.ID]
	fail := f.failures[key] > 0
	if fail {
		f.failures[key]--
	}
	f.mu.Unlock()

	select {
	case f.started <- ref.ID:
	default:
	}
	if gate != nil {
		<-gate
	}
	if fail {
		return "", errors.New("connection reset by peer")
	}
	return key, nil
}

func (f *fakeFetcher) Requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.requests))
	copy(out, f.requests)
	return out
}

type readyLog struct {
	mu    sync.Mutex
	tiers map[models.ListingID][]int
}

func newReadyLog() *readyLog {
	return &readyLog{tiers: make(map[models.ListingID][]int)}
}

func (r *readyLog) record(id models.ListingID, tier int, src string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tiers[id] = append(r.tiers[id], tier)
}

func (r *readyLog) get(id models.ListingID) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.tiers[id]...)
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loader did not finish")
	}
}

func storeWith(recs ...models.Record) *state.Collection {
	ids := make([]models.ListingID, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	c := state.NewCollection()
	c.Initialize(ids, recs)
	return c
}

func image(id string) models.Record {
	return models.Record{ID: models.ListingID(id), Kind: models.KindImage}
}

func equalInts(a, b []int) bool {
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

func equalStrings(a, b []string) bool {
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

func testOptions() Options {
	return Options{RetryInitialDelay: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond}
}

func TestLoaderWalksTiersMonotonically(t *testing.T) {
	f := newFakeFetcher()
	store := storeWith(image("a"))
	log := newReadyLog()

	l := New(f, store, testOptions())
	l.OnResolutionReady(log.record)
	l.Attach(context.Background(), image("a"), GridBounds(2))
	waitDone(t, l.Done())

	if got := log.get("a"); !equalInts(got, []int{0, 1, 2}) {
		t.Errorf("ready tiers = %v, want [0 1 2]", got)
	}
	if l.Tier() != 2 {
		t.Errorf("Tier() = %d, want 2", l.Tier())
	}

	cache := store.CachedImages("a")
	for tier := 0; tier <= 2; tier++ {
		if cache[tier] != fmt.Sprintf("a@%d", tier) {
			t.Errorf("cache[%d] = %q", tier, cache[tier])
		}
	}
}

func TestLoaderFirstTierWithoutCache(t *testing.T) {
	f := newFakeFetcher()
	l := New(f, storeWith(image("a")), testOptions())
	l.Attach(context.Background(), image("a"), GridBounds(0))
	waitDone(t, l.Done())

	if got := f.Requests(); !equalStrings(got, []string{"a@0"}) {
		t.Errorf("requests = %v, want [a@0]", got)
	}
}

func TestLoaderJumpsToCachedTier(t *testing.T) {
	f := newFakeFetcher()
	store := storeWith(image("a"))
	store.CacheImage("a", 1, "preloaded-medium")
	log := newReadyLog()

	l := New(f, store, testOptions())
	l.OnResolutionReady(log.record)
	l.Attach(context.Background(), image("a"), GridBounds(2))
	waitDone(t, l.Done())

	// thumbnail is skipped; only full goes to the network
	if got := f.Requests(); !equalStrings(got, []string{"a@2"}) {
		t.Errorf("requests = %v, want [a@2]", got)
	}
	if got := log.get("a"); !equalInts(got, []int{1, 2}) {
		t.Errorf("ready tiers = %v, want [1 2]", got)
	}
}

func TestLoaderUsesRecordCacheWithoutStore(t *testing.T) {
	f := newFakeFetcher()
	rec := image("a")
	rec.Images = models.ImageDataCache{0: "t", 1: "m"}

	l := New(f, nil, testOptions())
	l.Attach(context.Background(), rec, GridBounds(1))
	waitDone(t, l.Done())

	if got := f.Requests(); len(got) != 0 {
		t.Errorf("requests = %v, want none", got)
	}
	if l.Tier() != 1 {
		t.Errorf("Tier() = %d, want 1", l.Tier())
	}
}

func TestLoaderViewerBoundsSkipPlaceholders(t *testing.T) {
	f := newFakeFetcher()
	l := New(f, storeWith(image("a")), testOptions())
	l.Attach(context.Background(), image("a"), ViewerBounds(0, 2))
	waitDone(t, l.Done())

	if got := f.Requests(); !equalStrings(got, []string{"a@1", "a@2"}) {
		t.Errorf("requests = %v, want [a@1 a@2]", got)
	}
}

func TestLoaderDiscardsSupersededFetch(t *testing.T) {
	f := newFakeFetcher()
	// the gated fetch ignores ctx and succeeds after the switch, so only the
	// generation check keeps its result out
	gate := make(chan struct{})
	f.gates["a"] = gate

	store := storeWith(image("a"), image("b"))
	log := newReadyLog()

	l := New(f, store, testOptions())
	l.OnResolutionReady(log.record)

	l.Attach(context.Background(), image("a"), GridBounds(2))
	doneA := l.Done()
	if id := <-f.started; id != "a" {
		t.Fatalf("first fetch for %s, want a", id)
	}

	l.Attach(context.Background(), image("b"), GridBounds(2))
	waitDone(t, l.Done())

	close(gate)
	waitDone(t, doneA)

	if id, ok := l.Target(); !ok || id != "b" {
		t.Errorf("Target() = %s, %v, want b", id, ok)
	}
	if l.Tier() != 2 {
		t.Errorf("Tier() = %d, want 2", l.Tier())
	}
	if got := log.get("a"); len(got) != 0 {
		t.Errorf("stale tiers for a reported: %v", got)
	}
	if c := store.CachedImages("a"); len(c) != 0 {
		t.Errorf("stale result cached for a: %v", c)
	}
}

func TestLoaderRetriesSameTier(t *testing.T) {
	f := newFakeFetcher()
	f.failures["a@1"] = 2

	var mu sync.Mutex
	var retries []*ImageFetchError
	opts := testOptions()
	opts.OnRetry = func(err *ImageFetchError) {
		mu.Lock()
		retries = append(retries, err)
		mu.Unlock()
	}

	l := New(f, storeWith(image("a")), opts)
	l.Attach(context.Background(), image("a"), GridBounds(2))
	waitDone(t, l.Done())

	want := []string{"a@0", "a@1", "a@1", "a@1", "a@2"}
	if got := f.Requests(); !equalStrings(got, want) {
		t.Errorf("requests = %v, want %v", got, want)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(retries) != 2 {
		t.Fatalf("retries = %d, want 2", len(retries))
	}
	if retries[1].Tier != 1 || retries[1].Attempt != 2 {
		t.Errorf("second retry = %+v", retries[1])
	}
}

func TestLoaderDetachStopsRetrying(t *testing.T) {
	f := newFakeFetcher()
	f.failures["a@0"] = 1 << 30

	l := New(f, storeWith(image("a")), testOptions())
	l.Attach(context.Background(), image("a"), GridBounds(2))
	done := l.Done()
	<-f.started

	l.Detach()
	waitDone(t, done)

	if _, ok := l.Target(); ok {
		t.Error("Target() still attached after Detach")
	}
	if l.Tier() != -1 {
		t.Errorf("Tier() = %d, want -1", l.Tier())
	}
}

func TestLoaderSkipsKindsWithoutThumbnails(t *testing.T) {
	f := newFakeFetcher()
	l := New(f, nil, testOptions())
	l.Attach(context.Background(), models.Record{ID: "dir", Kind: models.KindFolder}, GridBounds(2))
	waitDone(t, l.Done())

	if got := f.Requests(); len(got) != 0 {
		t.Errorf("requests = %v, want none", got)
	}
}

func TestLoaderPublishesResolutionReady(t *testing.T) {
	bus := events.NewEventBus(16)
	defer bus.Close()
	ch := bus.Subscribe(events.EventResolutionReady)

	opts := testOptions()
	opts.Bus = bus
	opts.Session = "s1"

	l := New(newFakeFetcher(), nil, opts)
	l.Attach(context.Background(), image("a"), GridBounds(0))
	waitDone(t, l.Done())

	select {
	case e := <-ch:
		ev := e.(*events.ResolutionReadyEvent)
		if ev.Session != "s1" || ev.ID != "a" || ev.Tier != 0 || ev.Source != "a@0" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no ResolutionReady event")
	}
}
