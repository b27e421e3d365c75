// Package thumbs serves resolution tiers straight from object storage. Tier
// images live under "<prefix>/_thumbs/<tier>/<id>"; a source hands out a
// short-lived URL for the object instead of proxying the bytes through the
// media server.
package thumbs

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/rescale/rescale-gallery/internal/constants"
	"github.com/rescale/rescale-gallery/internal/models"
	"github.com/rescale/rescale-gallery/internal/validation"
)

var (
	// ErrThumbnailMissing indicates the tier object does not exist.
	ErrThumbnailMissing = errors.New("thumbnail object missing")

	// ErrUnknownTier indicates a tier index outside the configured ladder.
	ErrUnknownTier = errors.New("unknown tier")
)

// ObjectKey returns the storage key of one tier of id.
func ObjectKey(prefix, tier string, id models.ListingID) string {
	key := path.Join(constants.ThumbPrefix, tier, strings.TrimPrefix(string(id), "/"))
	if prefix = strings.Trim(prefix, "/"); prefix != "" {
		key = prefix + "/" + key
	}
	return key
}

// tierKey validates id and tier and returns the object key.
func tierKey(prefix string, tiers []string, tier int, id models.ListingID) (string, error) {
	if tier < 0 || tier >= len(tiers) {
		return "", fmt.Errorf("%w: %d", ErrUnknownTier, tier)
	}
	if err := validation.ObjectName(string(id)); err != nil {
		return "", err
	}
	return ObjectKey(prefix, tiers[tier], id), nil
}
