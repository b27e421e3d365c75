package thumbs

import (
	"context"
	"fmt"

	"github.com/rescale/rescale-gallery/internal/config"
	"github.com/rescale/rescale-gallery/internal/services"
)

// NewThumbnailService returns the tier source selected by
// cfg.Thumbnails.Source. The "api" source (and an empty value) serves tiers
// through the media server itself.
func NewThumbnailService(ctx context.Context, cfg *config.Config, server services.ThumbnailService) (services.ThumbnailService, error) {
	switch cfg.Thumbnails.Source {
	case "", config.SourceAPI:
		if server == nil {
			return nil, fmt.Errorf("thumbnail source %q needs a server connection", config.SourceAPI)
		}
		return server, nil
	case config.SourceS3:
		return NewS3Source(ctx, cfg)
	case config.SourceAzure:
		return NewAzureSource(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidSource, cfg.Thumbnails.Source)
	}
}
