package state

import (
	"sort"
	"sync"

	"github.com/rescale/rescale-gallery/internal/events"
	"github.com/rescale/rescale-gallery/internal/models"
)

// Highlighter receives membership changes for rendered elements so a
// presentation layer can update highlighting.
type Highlighter interface {
	SetHighlighted(id models.ListingID, on bool)
}

// Selection tracks which rendered items are selected.
//
// Operations that depend on document order take the rendered id list as an
// explicit parameter. Every user action ends with exactly one
// SelectionChangedEvent, never one per element.
type Selection struct {
	session     string
	eventBus    *events.EventBus
	highlighter Highlighter
	onChange    []func([]models.ListingID)

	selected map[models.ListingID]bool
	anchor   models.ListingID // "" when unset
	mode     bool             // multi-select (checkbox) mode

	mu sync.RWMutex
}

// NewSelection creates an empty selection for a session. bus may be nil.
func NewSelection(session string, bus *events.EventBus) *Selection {
	return &Selection{
		session:  session,
		eventBus: bus,
		selected: make(map[models.ListingID]bool),
	}
}

// SetHighlighter installs the element highlighter.
func (s *Selection) SetHighlighter(h Highlighter) {
	s.mu.Lock()
	s.highlighter = h
	s.mu.Unlock()
}

// OnChange registers a callback invoked after every selection change with
// the full selected set.
func (s *Selection) OnChange(fn func([]models.ListingID)) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

// change records one membership update (must hold lock).
type change struct {
	id models.ListingID
	on bool
}

func (s *Selection) setLocked(id models.ListingID, on bool, changes []change) []change {
	if s.selected[id] == on {
		return changes
	}
	if on {
		s.selected[id] = true
	} else {
		delete(s.selected, id)
	}
	return append(changes, change{id: id, on: on})
}

// Toggle flips membership of id and makes it the range anchor.
func (s *Selection) Toggle(id models.ListingID) {
	s.mu.Lock()
	changes := s.setLocked(id, !s.selected[id], nil)
	s.anchor = id
	s.mu.Unlock()

	s.notify(changes)
}

// Replace clears the selection and selects only id.
func (s *Selection) Replace(id models.ListingID) {
	s.mu.Lock()
	var changes []change
	for cur := range s.selected {
		if cur != id {
			changes = s.setLocked(cur, false, changes)
		}
	}
	changes = s.setLocked(id, true, changes)
	s.anchor = id
	s.mu.Unlock()

	s.notify(changes)
}

// SelectRange adds the contiguous run of rendered ids between anchor and
// target, inclusive, to the selection. The run is taken in rendered order,
// so SelectRange(a, b) and SelectRange(b, a) select the same set.
//
// An empty anchor means the first rendered item. An anchor that is not
// rendered selects only target, and target becomes the new anchor.
// Returns false without notifying when target is not rendered.
func (s *Selection) SelectRange(rendered []models.ListingID, anchor, target models.ListingID) bool {
	targetPos := position(rendered, target)
	if targetPos < 0 {
		return false
	}
	if anchor == "" {
		anchor = rendered[0]
	}

	s.mu.Lock()
	var changes []change
	anchorPos := position(rendered, anchor)
	if anchorPos < 0 {
		changes = s.setLocked(target, true, changes)
		s.anchor = target
	} else {
		lo, hi := anchorPos, targetPos
		if lo > hi {
			lo, hi = hi, lo
		}
		for _, id := range rendered[lo : hi+1] {
			changes = s.setLocked(id, true, changes)
		}
		s.anchor = anchor
	}
	s.mu.Unlock()

	s.notify(changes)
	return true
}

// ExtendTo selects the range from the current anchor to target.
func (s *Selection) ExtendTo(rendered []models.ListingID, target models.ListingID) bool {
	return s.SelectRange(rendered, s.Anchor(), target)
}

// SelectAll sets every rendered item's membership to value. Off-page ids
// are untouched. Deselecting while in multi-select mode leaves the mode.
func (s *Selection) SelectAll(rendered []models.ListingID, value bool) {
	s.mu.Lock()
	var changes []change
	for _, id := range rendered {
		changes = s.setLocked(id, value, changes)
	}
	modeLeft := !value && s.mode
	if modeLeft {
		s.mode = false
	}
	s.mu.Unlock()

	s.notify(changes)
	if modeLeft {
		s.eventBus.PublishSelectionMode(s.session, false)
	}
}

// Invert flips every rendered item's membership.
func (s *Selection) Invert(rendered []models.ListingID) {
	s.mu.Lock()
	var changes []change
	for _, id := range rendered {
		changes = s.setLocked(id, !s.selected[id], changes)
	}
	s.mu.Unlock()

	s.notify(changes)
}

// Retain drops every selected id that is not rendered. Used on page change,
// since selection is rebuilt from the rendered elements. Notifies only when
// something was dropped.
func (s *Selection) Retain(rendered []models.ListingID) {
	keep := make(map[models.ListingID]bool, len(rendered))
	for _, id := range rendered {
		keep[id] = true
	}

	s.mu.Lock()
	var changes []change
	for id := range s.selected {
		if !keep[id] {
			changes = s.setLocked(id, false, changes)
		}
	}
	if s.anchor != "" && !keep[s.anchor] {
		s.anchor = ""
	}
	s.mu.Unlock()

	if len(changes) > 0 {
		s.notify(changes)
	}
}

// Drop deselects the given ids, for example after they were evicted.
// Notifies only when something changed.
func (s *Selection) Drop(ids ...models.ListingID) {
	s.mu.Lock()
	var changes []change
	for _, id := range ids {
		changes = s.setLocked(id, false, changes)
		if s.anchor == id {
			s.anchor = ""
		}
	}
	s.mu.Unlock()

	if len(changes) > 0 {
		s.notify(changes)
	}
}

// Clear empties the selection and the anchor.
func (s *Selection) Clear() {
	s.mu.Lock()
	var changes []change
	for id := range s.selected {
		changes = s.setLocked(id, false, changes)
	}
	s.anchor = ""
	s.mu.Unlock()

	if len(changes) > 0 {
		s.notify(changes)
	}
}

// restore replaces the selection with the ids still contained in store.
func (s *Selection) restore(store *Collection, ids []models.ListingID, anchor models.ListingID) {
	s.mu.Lock()
	var changes []change
	want := make(map[models.ListingID]bool, len(ids))
	for _, id := range ids {
		if store.Contains(id) {
			want[id] = true
		}
	}
	for id := range s.selected {
		if !want[id] {
			changes = s.setLocked(id, false, changes)
		}
	}
	for id := range want {
		changes = s.setLocked(id, true, changes)
	}
	s.anchor = ""
	if store.Contains(anchor) {
		s.anchor = anchor
	}
	s.mu.Unlock()

	if len(changes) > 0 {
		s.notify(changes)
	}
}

// SetMode enters or leaves multi-select mode (long-press on touch input).
func (s *Selection) SetMode(enabled bool) {
	s.mu.Lock()
	changed := s.mode != enabled
	s.mode = enabled
	s.mu.Unlock()

	if changed {
		s.eventBus.PublishSelectionMode(s.session, enabled)
	}
}

// Mode reports whether multi-select mode is on.
func (s *Selection) Mode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// Anchor returns the last range anchor, or "" when unset.
func (s *Selection) Anchor() models.ListingID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.anchor
}

// IsSelected reports whether id is selected.
func (s *Selection) IsSelected(id models.ListingID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected[id]
}

// Count returns the number of selected ids.
func (s *Selection) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.selected)
}

// Selected returns the selected ids sorted lexically.
func (s *Selection) Selected() []models.ListingID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectedLocked()
}

func (s *Selection) selectedLocked() []models.ListingID {
	ids := make([]models.ListingID, 0, len(s.selected))
	for id := range s.selected {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// notify highlights the affected elements and fires one change
// notification. Called without the lock held.
func (s *Selection) notify(changes []change) {
	s.mu.RLock()
	h := s.highlighter
	callbacks := make([]func([]models.ListingID), len(s.onChange))
	copy(callbacks, s.onChange)
	ids := s.selectedLocked()
	s.mu.RUnlock()

	if h != nil {
		for _, c := range changes {
			h.SetHighlighted(c.id, c.on)
		}
	}
	for _, cb := range callbacks {
		cb(ids)
	}
	s.eventBus.PublishSelectionChanged(s.session, ToStrings(ids))
}

func position(ids []models.ListingID, id models.ListingID) int {
	for i, cur := range ids {
		if cur == id {
			return i
		}
	}
	return -1
}
