// Package models defines the data types shared by the gallery controller,
// its services and the API adapter.
package models

import (
	"fmt"
	"time"
)

// ListingID identifies a file, folder or face within one listing.
type ListingID string

// RecordKind is the closed set of record variants a listing can contain.
type RecordKind int

const (
	KindFile RecordKind = iota
	KindFolder
	KindImage
	KindVideo
	KindFace
)

// String returns the wire name of the kind.
func (k RecordKind) String() string {
	switch k {
	case KindFolder:
		return "folder"
	case KindImage:
		return "image"
	case KindVideo:
		return "video"
	case KindFace:
		return "face"
	case KindFile:
		return "file"
	default:
		return "unknown"
	}
}

// ParseRecordKind maps a wire name to a RecordKind.
func ParseRecordKind(s string) (RecordKind, error) {
	switch s {
	case "folder":
		return KindFolder, nil
	case "image":
		return KindImage, nil
	case "video":
		return KindVideo, nil
	case "face":
		return KindFace, nil
	case "file", "":
		return KindFile, nil
	default:
		return KindFile, fmt.Errorf("unknown record kind: %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k RecordKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *RecordKind) UnmarshalText(b []byte) error {
	parsed, err := ParseRecordKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// HasThumbnail reports whether records of this kind have an image ladder.
func (k RecordKind) HasThumbnail() bool {
	switch k {
	case KindImage, KindVideo, KindFace:
		return true
	case KindFolder, KindFile:
		return false
	default:
		return false
	}
}

// Icon returns the placeholder icon name shown before any tier loads.
func (k RecordKind) Icon() string {
	switch k {
	case KindFolder:
		return "folder"
	case KindImage:
		return "image"
	case KindVideo:
		return "movie"
	case KindFace:
		return "face"
	case KindFile:
		return "file"
	default:
		return "file"
	}
}

// Geotag is a WGS84 coordinate attached to a record.
type Geotag struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// Record is a materialized listing entry.
type Record struct {
	ID          ListingID  `json:"id"`
	Kind        RecordKind `json:"type"`
	Name        string     `json:"name"`
	Size        int64      `json:"size"`
	Width       int        `json:"width,omitempty"`
	Height      int        `json:"height,omitempty"`
	Starred     bool       `json:"starred"`
	Deleted     bool       `json:"deleted"`
	Geotag      *Geotag    `json:"geotag,omitempty"`
	Orientation int        `json:"orientation,omitempty"` // EXIF orientation 1..8
	ModTime     time.Time  `json:"modTime"`

	// Images holds already-resolved sources keyed by tier index.
	Images ImageDataCache `json:"-"`
}

// Rotated reports whether the EXIF orientation swaps width and height.
func (r *Record) Rotated() bool {
	return r.Orientation >= 5 && r.Orientation <= 8
}

// DisplaySize returns the box dimensions for the record scaled to fit a
// square of side boxSize.
func (r *Record) DisplaySize(boxSize int) (int, int) {
	switch r.Kind {
	case KindImage, KindVideo:
		w, h := r.Width, r.Height
		if r.Rotated() {
			w, h = h, w
		}
		if w <= 0 || h <= 0 {
			return boxSize, boxSize
		}
		if w >= h {
			return boxSize, boxSize * h / w
		}
		return boxSize * w / h, boxSize
	case KindFace:
		return boxSize, boxSize
	case KindFolder, KindFile:
		return boxSize, boxSize
	default:
		return boxSize, boxSize
	}
}

// Clone returns a copy of the record with its own image cache.
func (r Record) Clone() Record {
	r.Images = r.Images.Clone()
	if r.Geotag != nil {
		g := *r.Geotag
		r.Geotag = &g
	}
	return r
}

// ImageDataCache maps tier index to an already-resolved image source
// (data URL or remote URL).
type ImageDataCache map[int]string

// Get returns the cached source for tier.
func (c ImageDataCache) Get(tier int) (string, bool) {
	src, ok := c[tier]
	return src, ok
}

// HighestAtMost returns the highest cached tier that is above floor and at
// most ceiling, or -1 when no such tier is cached.
func (c ImageDataCache) HighestAtMost(floor, ceiling int) int {
	best := -1
	for tier := range c {
		if tier > floor && tier <= ceiling && tier > best {
			best = tier
		}
	}
	return best
}

// Clone returns a shallow copy of the cache.
func (c ImageDataCache) Clone() ImageDataCache {
	if c == nil {
		return nil
	}
	out := make(ImageDataCache, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
