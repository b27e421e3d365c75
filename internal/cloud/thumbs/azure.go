package thumbs

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/rescale/rescale-gallery/internal/config"
	"github.com/rescale/rescale-gallery/internal/http"
	"github.com/rescale/rescale-gallery/internal/models"
)

// AzureSource resolves tiers to blob URLs under a container SAS URL.
// The SAS query string carries over to every blob URL.
type AzureSource struct {
	client *container.Client
	prefix string
	tiers  []string
	verify bool
	retry  http.Config
}

// NewAzureSource creates an Azure source from the [thumbnails] config.
func NewAzureSource(cfg *config.Config) (*AzureSource, error) {
	th := cfg.Thumbnails
	if th.ContainerURL == "" {
		return nil, config.ErrMissingContainerURL
	}

	httpClient, err := http.NewImageClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	client, err := container.NewClientWithNoCredential(th.ContainerURL, &container.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Transport: httpClient,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure container client: %w", err)
	}

	return &AzureSource{
		client: client,
		prefix: th.Prefix,
		tiers:  cfg.Viewport.Tiers,
		verify: th.Verify,
		retry:  http.DefaultConfig(),
	}, nil
}

// FetchImage returns the blob URL for one tier of ref.
func (s *AzureSource) FetchImage(ctx context.Context, ref models.RecordRef, tier int) (string, error) {
	key, err := tierKey(s.prefix, s.tiers, tier, ref.ID)
	if err != nil {
		return "", err
	}
	blob := s.client.NewBlobClient(key)

	if s.verify {
		err := http.ExecuteWithRetry(ctx, s.retry, func() error {
			_, err := blob.GetProperties(ctx, nil)
			return err
		})
		if err != nil {
			if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
				return "", fmt.Errorf("%w: %s", ErrThumbnailMissing, key)
			}
			return "", fmt.Errorf("failed to check blob %s: %w", key, err)
		}
	}

	return blob.URL(), nil
}
