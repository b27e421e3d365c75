package models

import "fmt"

// Listing is the response to a listing request: the full ordered id
// sequence plus a first batch of materialized records.
type Listing struct {
	Path       string      `json:"path"`
	OrderedIDs []ListingID `json:"orderedIds"`
	TotalCount int         `json:"objectCount"`
	Records    []Record    `json:"records"`
}

// ListingFilter narrows a listing request.
type ListingFilter struct {
	Kinds   []RecordKind `json:"kinds,omitempty"`
	Starred bool         `json:"starred,omitempty"`
	Deleted bool         `json:"deleted,omitempty"`
	Album   string       `json:"album,omitempty"`
	Person  string       `json:"person,omitempty"`
	SortBy  string       `json:"sortBy,omitempty"` // "name", "date", "size"
	Reverse bool         `json:"reverse,omitempty"`
}

// RecordRef is the minimum a service needs to address a record.
type RecordRef struct {
	ID   ListingID  `json:"id"`
	Kind RecordKind `json:"type"`
	Name string     `json:"name,omitempty"`
}

// Ref returns the record's reference.
func (r *Record) Ref() RecordRef {
	return RecordRef{ID: r.ID, Kind: r.Kind, Name: r.Name}
}

// Verb is a mutation applied to a record.
type Verb struct {
	Action Action  `json:"action"`
	Album  string  `json:"album,omitempty"`
	Person string  `json:"person,omitempty"`
	Geotag *Geotag `json:"geotag,omitempty"`
}

// Action names a mutation.
type Action string

const (
	ActionStar         Action = "star"
	ActionUnstar       Action = "unstar"
	ActionDelete       Action = "delete"
	ActionRestore      Action = "restore"
	ActionAlbumAdd     Action = "album-add"
	ActionAlbumRemove  Action = "album-remove"
	ActionGeotag       Action = "geotag"
	ActionFaceIdentify Action = "face-identify"
	ActionFaceReject   Action = "face-reject"
)

// RemovesFromListing reports whether a successful mutation takes the record
// out of a listing of the given filter, so the caller evicts its id.
func (v Verb) RemovesFromListing(f ListingFilter) bool {
	switch v.Action {
	case ActionDelete:
		return !f.Deleted
	case ActionRestore:
		return f.Deleted
	case ActionUnstar:
		return f.Starred
	case ActionAlbumRemove:
		return f.Album != "" && f.Album == v.Album
	case ActionFaceIdentify:
		return f.Person != "" && f.Person != v.Person
	case ActionFaceReject:
		return f.Person != ""
	default:
		return false
	}
}

// ApplyVerb mirrors a successful mutation onto the local record.
func (r *Record) ApplyVerb(v Verb) {
	switch v.Action {
	case ActionStar:
		r.Starred = true
	case ActionUnstar:
		r.Starred = false
	case ActionDelete:
		r.Deleted = true
	case ActionRestore:
		r.Deleted = false
	case ActionGeotag:
		if v.Geotag != nil {
			g := *v.Geotag
			r.Geotag = &g
		} else {
			r.Geotag = nil
		}
	case ActionAlbumAdd, ActionAlbumRemove, ActionFaceIdentify, ActionFaceReject:
		// membership lives server-side; RemovesFromListing handles eviction
	}
}

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionStar, ActionUnstar, ActionDelete, ActionRestore, ActionAlbumAdd,
		ActionAlbumRemove, ActionGeotag, ActionFaceIdentify, ActionFaceReject:
		return a, nil
	default:
		return "", fmt.Errorf("unknown action: %q", s)
	}
}

// Validate checks the verb carries the arguments its action needs.
func (v Verb) Validate() error {
	if _, err := ParseAction(string(v.Action)); err != nil {
		return err
	}
	switch v.Action {
	case ActionAlbumAdd, ActionAlbumRemove:
		if v.Album == "" {
			return fmt.Errorf("%s requires an album", v.Action)
		}
	case ActionFaceIdentify:
		if v.Person == "" {
			return fmt.Errorf("%s requires a person", v.Action)
		}
	case ActionGeotag:
		if v.Geotag != nil && (v.Geotag.Latitude < -90 || v.Geotag.Latitude > 90 ||
			v.Geotag.Longitude < -180 || v.Geotag.Longitude > 180) {
			return fmt.Errorf("geotag out of range: %v,%v", v.Geotag.Latitude, v.Geotag.Longitude)
		}
	}
	return nil
}
