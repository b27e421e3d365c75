package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rescale/rescale-gallery/internal/imageloader"
	"github.com/rescale/rescale-gallery/internal/models"
	"github.com/rescale/rescale-gallery/internal/viewport"
)

// newListCmd creates the 'list' command.
func newListCmd() *cobra.Command {
	var lf listingFlags
	var images bool

	cmd := &cobra.Command{
		Use:   "list [path]",
		Short: "Show one page of a listing",
		Long: `Show one page of a folder, album or face listing.

Without --page the page last shown for this listing is shown again.

Examples:
  rescale-gallery list /trips
  rescale-gallery list /trips --page 3 --page-size 20
  rescale-gallery list --starred --kind image
  rescale-gallery list --trash`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				lf.path = args[0]
			}
			ctx := GetContext()

			g, err := openGallery(ctx, &lf, galleryOptions{images: images})
			if err != nil {
				return err
			}
			defer g.close()

			if images {
				if err := g.pool.Wait(ctx); err != nil {
					return err
				}
			}

			g.printWindow(cmd.OutOrStdout())
			return g.save()
		},
	}

	lf.register(cmd, true)
	cmd.Flags().BoolVar(&images, "images", false, "Load grid thumbnails for the page before printing")

	return cmd
}

// newPageCmd creates the 'page' command.
func newPageCmd() *cobra.Command {
	var lf listingFlags

	cmd := &cobra.Command{
		Use:   "page <next|prev|first|last|N>",
		Short: "Move the page window of a listing",
		Long: `Move the page window of a listing and show the new page.

Examples:
  rescale-gallery page next --path /trips
  rescale-gallery page 4 --path /trips`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()

			g, err := openGallery(ctx, &lf, galleryOptions{})
			if err != nil {
				return err
			}
			defer g.close()

			if err := navigate(ctx, g.mgr, args[0]); err != nil {
				return err
			}

			g.printWindow(cmd.OutOrStdout())
			return g.save()
		},
	}

	lf.register(cmd, false)
	cmd.Flags().IntVar(&lf.pageSize, "page-size", 0, "Records per page (default: from config)")

	return cmd
}

// navigate moves mgr according to a page argument.
func navigate(ctx context.Context, mgr *viewport.Manager, target string) error {
	var err error
	switch target {
	case "next":
		err = mgr.NextPage(ctx)
	case "prev":
		err = mgr.PrevPage(ctx)
	case "first":
		err = mgr.GoToPage(ctx, 1)
	case "last":
		err = mgr.GoToPage(ctx, mgr.MaxPage())
	default:
		p, perr := strconv.Atoi(target)
		if perr != nil {
			return fmt.Errorf("invalid page %q: want next, prev, first, last or a number", target)
		}
		err = mgr.GoToPage(ctx, p)
	}

	if errors.Is(err, viewport.ErrPageOutOfRange) {
		return fmt.Errorf("%w (listing has %d pages)", err, mgr.MaxPage())
	}
	return err
}

// newSelectCmd creates the 'select' command.
func newSelectCmd() *cobra.Command {
	var lf listingFlags
	var (
		replace  bool
		rangeTo  bool
		all      bool
		none     bool
		invert   bool
		clearAll bool
	)

	cmd := &cobra.Command{
		Use:   "select [id...]",
		Short: "Change the selection on the current page",
		Long: `Change the selection on the current page of a listing.

Ids are toggled by default. The selection is remembered for the next
command on the same listing and is trimmed to the page shown.

Examples:
  rescale-gallery select a.jpg b.jpg          # toggle
  rescale-gallery select --replace c.jpg      # select only c.jpg
  rescale-gallery select --range f.jpg        # anchor..f.jpg
  rescale-gallery select --all
  rescale-gallery select --invert`,
		RunE: func(cmd *cobra.Command, args []string) error {
			modes := 0
			for _, on := range []bool{replace, rangeTo, all, none, invert, clearAll} {
				if on {
					modes++
				}
			}
			if modes > 1 {
				return fmt.Errorf("use only one of --replace, --range, --all, --none, --invert, --clear")
			}
			if (replace || rangeTo) && len(args) != 1 {
				return fmt.Errorf("--replace and --range take exactly one id")
			}

			ctx := GetContext()
			g, err := openGallery(ctx, &lf, galleryOptions{})
			if err != nil {
				return err
			}
			defer g.close()

			sel := g.sess.Selection
			rendered := g.mgr.VisibleIDs()

			for _, a := range args {
				if !containsID(rendered, models.ListingID(a)) {
					return fmt.Errorf("%s is not on the current page", a)
				}
			}

			switch {
			case replace:
				sel.Replace(models.ListingID(args[0]))
			case rangeTo:
				sel.ExtendTo(rendered, models.ListingID(args[0]))
			case all:
				sel.SelectAll(rendered, true)
			case none:
				sel.SelectAll(rendered, false)
			case invert:
				sel.Invert(rendered)
			case clearAll:
				sel.Clear()
			default:
				for _, a := range args {
					sel.Toggle(models.ListingID(a))
				}
			}

			g.printWindow(cmd.OutOrStdout())
			return g.save()
		},
	}

	lf.register(cmd, true)
	cmd.Flags().BoolVar(&replace, "replace", false, "Select only the given id")
	cmd.Flags().BoolVar(&rangeTo, "range", false, "Select from the anchor to the given id")
	cmd.Flags().BoolVar(&all, "all", false, "Select every record on the page")
	cmd.Flags().BoolVar(&none, "none", false, "Deselect every record on the page")
	cmd.Flags().BoolVar(&invert, "invert", false, "Invert the selection on the page")
	cmd.Flags().BoolVar(&clearAll, "clear", false, "Clear the selection")

	return cmd
}

func containsID(ids []models.ListingID, id models.ListingID) bool {
	for _, cur := range ids {
		if cur == id {
			return true
		}
	}
	return false
}

// newViewCmd creates the 'view' command.
func newViewCmd() *cobra.Command {
	var lf listingFlags
	var step string

	cmd := &cobra.Command{
		Use:   "view <id>",
		Short: "Load the viewer tiers of one record",
		Long: `Open one record in the viewer and print every resolution tier as it
becomes ready, up to the full-size image.

Examples:
  rescale-gallery view a.jpg --path /trips
  rescale-gallery view a.jpg --step next`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()
			out := cmd.OutOrStdout()

			g, err := openGallery(ctx, &lf, galleryOptions{})
			if err != nil {
				return err
			}
			defer g.close()

			bounds := imageloader.ViewerBounds(g.cfg.Viewport.ViewerMinTier, g.cfg.MaxTier())
			viewer := viewport.NewViewer(g.mgr, g.thumbs, bounds, imageloader.Options{
				Session: g.sess.ID,
				Logger:  g.logger.Named("viewer"),
			})
			defer viewer.Close()

			tiers := g.cfg.Viewport.Tiers
			viewer.Loader().OnResolutionReady(func(id models.ListingID, tier int, src string) {
				fmt.Fprintf(out, "%s  %-10s %s\n", id, tiers[tier], src)
			})

			id := models.ListingID(args[0])
			if step != "" {
				if id, err = neighbour(g, id, step); err != nil {
					return err
				}
			}

			if err := viewer.Open(ctx, id); err != nil {
				return err
			}

			if err := viewer.Loader().Wait(ctx); err != nil {
				return err
			}

			if rec, err := g.sess.Store.Get(id); err == nil && !rec.Kind.HasThumbnail() {
				fmt.Fprintf(out, "%s  %s has no preview\n", id, rec.Kind)
			}
			return nil
		},
	}

	lf.register(cmd, false)
	cmd.Flags().StringVar(&step, "step", "", "Show the record after (next) or before (prev) the given id")

	return cmd
}

// neighbour returns the id after (next) or before (prev) id in listing order.
func neighbour(g *gallery, id models.ListingID, step string) (models.ListingID, error) {
	var delta int
	switch step {
	case "next":
		delta = 1
	case "prev":
		delta = -1
	default:
		return "", fmt.Errorf("--step must be next or prev, got %q", step)
	}

	pos := g.sess.Store.IndexOf(id)
	if pos < 0 {
		return "", fmt.Errorf("%s is not part of %s", id, g.sess.Path)
	}
	next := pos + delta
	ids := g.sess.Store.Slice(next, next+1)
	if next < 0 || len(ids) == 0 {
		return "", viewport.ErrEndOfListing
	}
	return ids[0], nil
}
