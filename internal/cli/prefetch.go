package cli

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/rescale/rescale-gallery/internal/imageloader"
	"github.com/rescale/rescale-gallery/internal/models"
	"github.com/rescale/rescale-gallery/internal/progress"
	"github.com/rescale/rescale-gallery/internal/timing"
)

// newPrefetchCmd creates the 'prefetch' command.
func newPrefetchCmd() *cobra.Command {
	var lf listingFlags
	var tierName string
	var window int

	cmd := &cobra.Command{
		Use:   "prefetch [path]",
		Short: "Walk a listing and load its resolution tiers",
		Long: `Walk a listing page by page and load every resolution tier up to --tier
for each image, video and face, so the server has them ready.

The walk uses its own page window (prefetch_concurrency records at a
time) and leaves the remembered page and selection alone.

Examples:
  rescale-gallery prefetch /trips
  rescale-gallery prefetch /trips --tier medium`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				lf.path = args[0]
			}
			ctx := GetContext()
			log := GetLogger()

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			maxTier := cfg.MaxTier()
			if tierName != "" {
				if maxTier = cfg.TierIndex(tierName); maxTier < 0 {
					return fmt.Errorf("unknown tier %q (tiers: %v)", tierName, cfg.Viewport.Tiers)
				}
			}
			if window <= 0 {
				window = cfg.Viewport.PrefetchConcurrency
			}

			var ui *progress.PrefetchUI
			var retries, loaded atomic.Int64
			bounds := imageloader.GridBounds(maxTier)

			g, err := openGallery(ctx, &lf, galleryOptions{
				images: true,
				bounds: &bounds,
				walk:   true,
				loader: imageloader.Options{
					OnRetry: func(ferr *imageloader.ImageFetchError) {
						retries.Add(1)
						if ui != nil {
							ui.Tier(ferr.Tier).Retry()
						}
					},
				},
			})
			if err != nil {
				return err
			}
			defer g.close()

			total := g.sess.Store.Len()
			ui = progress.NewPrefetchUI(cfg.Viewport.Tiers[:maxTier+1], total)
			log.SetOutput(ui.Writer())

			g.pool.OnResolutionReady(func(id models.ListingID, tier int, src string) {
				ui.Tier(tier).Increment()
				loaded.Add(1)
			})

			pages := (total + window - 1) / window
			pt := timing.NewPageTimer(ui.Writer(), "Prefetch "+g.sess.Path, pages)
			for p := 1; p <= pages; p++ {
				start := time.Now()
				if err := g.mgr.Show(ctx, p, window); err != nil {
					ui.Finish()
					return err
				}
				if err := g.pool.Wait(ctx); err != nil {
					ui.Finish()
					return err
				}
				pt.RecordPage(p, time.Since(start), int(loaded.Swap(0)))
				log.Debug().Int("page", p).Int("pages", pages).Msg("Prefetched page")
			}

			pt.Summary()
			ui.Finish()
			log.SetOutput(os.Stderr)
			log.Info().
				Str("path", g.sess.Path).
				Int("records", total).
				Int64("retries", retries.Load()).
				Msg("Prefetch complete")
			return nil
		},
	}

	lf.register(cmd, false)
	cmd.Flags().StringVar(&tierName, "tier", "", "Highest tier to load (default: the largest)")
	cmd.Flags().IntVar(&window, "window", 0, "Records loaded at a time (default: prefetch_concurrency)")

	return cmd
}
