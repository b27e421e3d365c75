package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rescale/rescale-gallery/internal/api"
	"github.com/rescale/rescale-gallery/internal/cloud/thumbs"
	"github.com/rescale/rescale-gallery/internal/config"
	"github.com/rescale/rescale-gallery/internal/imageloader"
	"github.com/rescale/rescale-gallery/internal/logging"
	"github.com/rescale/rescale-gallery/internal/models"
	"github.com/rescale/rescale-gallery/internal/services"
	"github.com/rescale/rescale-gallery/internal/state"
	"github.com/rescale/rescale-gallery/internal/timing"
	"github.com/rescale/rescale-gallery/internal/validation"
	"github.com/rescale/rescale-gallery/internal/viewport"
)

// bookmarkPath locates the bookmark file; tests point it at a temp dir.
var bookmarkPath = config.BookmarkPath

// loadConfig loads the config file and applies flag overrides.
// Priority: flags > environment > config file > defaults
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		cfg.APIKey = apiKey
	}
	if apiBaseURL != "" {
		cfg.APIBaseURL = apiBaseURL
	}
	if !verbose {
		logging.SetGlobalLevel(logging.ParseLevel(cfg.LogLevel))
	}
	return cfg, nil
}

// getAPIClient loads configuration and creates an API client.
func getAPIClient() (*config.Config, *api.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create API client: %w", err)
	}
	client.SetLogger(GetLogger().Named("api"))
	return cfg, client, nil
}

// listingFlags select the listing and window a command works on.
type listingFlags struct {
	path     string
	kinds    []string
	starred  bool
	deleted  bool
	album    string
	person   string
	sortBy   string
	reverse  bool
	page     int
	pageSize int
}

func (f *listingFlags) register(cmd *cobra.Command, withWindow bool) {
	flags := cmd.Flags()
	flags.StringVarP(&f.path, "path", "p", "/", "Folder path to list")
	flags.StringSliceVar(&f.kinds, "kind", nil, "Only list these kinds (folder, image, video, face, file)")
	flags.BoolVar(&f.starred, "starred", false, "Only starred records")
	flags.BoolVar(&f.deleted, "trash", false, "List the trash instead of live records")
	flags.StringVar(&f.album, "album", "", "Only records in this album")
	flags.StringVar(&f.person, "person", "", "Only faces of this person")
	flags.StringVar(&f.sortBy, "sort", "", "Sort by name, date or size")
	flags.BoolVar(&f.reverse, "reverse", false, "Reverse the sort order")
	if withWindow {
		flags.IntVar(&f.page, "page", 0, "Page to show (default: last page shown for this listing)")
		flags.IntVar(&f.pageSize, "page-size", 0, "Records per page (default: from config)")
	}
}

// filter canonicalizes the path and builds the listing filter.
func (f *listingFlags) filter() (models.ListingFilter, error) {
	p, err := validation.ListingPath(f.path)
	if err != nil {
		return models.ListingFilter{}, err
	}
	f.path = p

	filter := models.ListingFilter{
		Starred: f.starred,
		Deleted: f.deleted,
		Album:   f.album,
		Person:  f.person,
		SortBy:  f.sortBy,
		Reverse: f.reverse,
	}
	for _, k := range f.kinds {
		kind, err := models.ParseRecordKind(k)
		if err != nil {
			return filter, err
		}
		filter.Kinds = append(filter.Kinds, kind)
	}
	switch f.sortBy {
	case "", "name", "date", "size":
	default:
		return filter, fmt.Errorf("--sort must be one of name, date, size, got %q", f.sortBy)
	}
	return filter, nil
}

// bookmarkKey identifies a listing for the bookmark store. Two filters of
// the same folder are different listings.
func bookmarkKey(path string, filter models.ListingFilter) string {
	var parts []string
	for _, k := range filter.Kinds {
		parts = append(parts, "kind="+k.String())
	}
	if filter.Starred {
		parts = append(parts, "starred")
	}
	if filter.Deleted {
		parts = append(parts, "trash")
	}
	if filter.Album != "" {
		parts = append(parts, "album="+filter.Album)
	}
	if filter.Person != "" {
		parts = append(parts, "person="+filter.Person)
	}
	if filter.SortBy != "" {
		parts = append(parts, "sort="+filter.SortBy)
	}
	if filter.Reverse {
		parts = append(parts, "reverse")
	}
	if len(parts) == 0 {
		return path
	}
	return path + "?" + strings.Join(parts, "&")
}

// gallery is one CLI invocation's view of a listing: the session, its
// page window and the remembered selection.
type gallery struct {
	cfg       *config.Config
	client    *api.Client
	thumbs    services.ThumbnailService
	sess      *state.Session
	mgr       *viewport.Manager
	pool      *imageloader.Pool
	bookmarks *state.BookmarkStore
	key       string
	logger    *logging.Logger

	// size is the page size asked for by flags or the bookmark.
	size int
}

// galleryOptions tune openGallery.
type galleryOptions struct {
	// images starts grid loaders for the rendered window.
	images bool
	// bounds overrides the grid tier bounds when images is set.
	bounds *imageloader.Bounds
	// loader options for the pool.
	loader imageloader.Options
	// walk skips the bookmark and the initial render; the caller drives
	// the window.
	walk bool
}

// openGallery loads the listing chosen by lf, restores the bookmarked
// window and selection and renders the window.
func openGallery(ctx context.Context, lf *listingFlags, opts galleryOptions) (*gallery, error) {
	log := GetLogger()

	filter, err := lf.filter()
	if err != nil {
		return nil, err
	}

	cfg, client, err := getAPIClient()
	if err != nil {
		return nil, err
	}

	thumbSvc, err := thumbs.NewThumbnailService(ctx, cfg, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create thumbnail source: %w", err)
	}

	bookmarks, err := state.NewBookmarkStore(bookmarkPath())
	if err != nil {
		return nil, err
	}

	sess := state.NewSession(lf.path, filter, nil)

	var pool *imageloader.Pool
	if opts.images {
		bounds := imageloader.GridBounds(cfg.Viewport.GridMaxTier)
		if opts.bounds != nil {
			bounds = *opts.bounds
		}
		lo := opts.loader
		lo.Session = sess.ID
		if lo.Logger == nil {
			lo.Logger = log.Named("images")
		}
		pool = imageloader.NewPool(ctx, thumbSvc, sess.Store, bounds, lo)
	}

	g := &gallery{
		cfg:       cfg,
		client:    client,
		thumbs:    thumbSvc,
		sess:      sess,
		mgr:       viewport.NewManager(sess, client, pool, log.Named("viewport")),
		pool:      pool,
		bookmarks: bookmarks,
		key:       bookmarkKey(lf.path, filter),
		logger:    log,
	}

	timer := timing.Start(nil, "Listing load "+lf.path)
	if err := g.mgr.LoadListing(ctx); err != nil {
		return nil, err
	}
	timer.StopWithMessage("%d records", sess.Store.Len())

	if opts.walk {
		return g, nil
	}

	mark, err := bookmarks.Get(g.key)
	if err != nil {
		log.Warn().Err(err).Str("path", bookmarks.Path()).Msg("Ignoring unreadable bookmarks")
		mark = nil
	}

	page, size := 1, cfg.Viewport.PageSize
	if mark != nil {
		page, size = mark.Page, mark.PageSize
	}
	if lf.page > 0 {
		page = lf.page
	}
	if lf.pageSize > 0 {
		size = lf.pageSize
	}
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = cfg.Viewport.PageSize
	}
	if last := lastPage(sess.Store.Len(), size); lf.page > last {
		return nil, fmt.Errorf("%w: page %d (listing has %d pages)", viewport.ErrPageOutOfRange, lf.page, last)
	}
	page = clampPage(page, sess.Store.Len(), size)
	g.size = size

	if err := g.mgr.Show(ctx, page, size); err != nil {
		return nil, err
	}

	state.Restore(sess, mark)
	sess.Selection.Retain(g.mgr.VisibleIDs())

	log.Debug().
		Str("path", sess.Path).
		Int("total", sess.Store.Len()).
		Int("page", page).
		Int("page_size", size).
		Int("selected", sess.Selection.Count()).
		Msg("Listing opened")

	return g, nil
}

func lastPage(total, size int) int {
	if last := (total + size - 1) / size; last > 1 {
		return last
	}
	return 1
}

// clampPage clamps a remembered page to the listing, which may have
// shrunk since the bookmark was written.
func clampPage(page, total, size int) int {
	if last := lastPage(total, size); page > last {
		return last
	}
	return page
}

// window returns the window to report and remember. The manager keeps its
// old page size when a new size covers the same ids, so the requested size
// wins whenever the rendered slice starts on one of its page boundaries.
func (g *gallery) window() (int, int) {
	page, size := g.mgr.Window()
	if g.size > 0 && g.size != size {
		if start, _ := g.mgr.Range(); start%g.size == 0 {
			return start/g.size + 1, g.size
		}
	}
	return page, size
}

// save remembers the current window and selection.
func (g *gallery) save() error {
	page, size := g.window()
	mark := state.Capture(g.sess, page, size)
	mark.Path = g.key
	if err := g.bookmarks.Put(mark); err != nil {
		return fmt.Errorf("failed to save bookmark: %w", err)
	}
	return nil
}

// close stops image loaders.
func (g *gallery) close() {
	if g.pool != nil {
		g.pool.Close()
	}
}

// printWindow prints the rendered window, marking selected records.
func (g *gallery) printWindow(w io.Writer) {
	page, size := g.window()
	start, end := g.mgr.Range()
	total := g.sess.Store.Len()
	if end > total {
		end = total
	}

	if total == 0 {
		fmt.Fprintf(w, "%s is empty\n", g.sess.Path)
		return
	}

	fmt.Fprintf(w, "%s  page %d/%d  (%d-%d of %d, %d per page, %d selected)\n",
		g.sess.Path, page, lastPage(total, size), start+1, end, total, size, g.sess.Selection.Count())
	fmt.Fprintf(w, "  %-5s %-24s %-7s %-6s %s\n", "#", "ID", "KIND", "STAR", "NAME")

	for i, id := range g.mgr.VisibleIDs() {
		mark := " "
		if g.sess.Selection.IsSelected(id) {
			mark = "*"
		}

		rec, err := g.sess.Store.Get(id)
		if err != nil {
			fmt.Fprintf(w, "%s %-5d %-24s %-7s %-6s %s\n", mark, start+i+1, id, "?", "", "(not loaded)")
			continue
		}

		star := ""
		if rec.Starred {
			star = "yes"
		}
		fmt.Fprintf(w, "%s %-5d %-24s %-7s %-6s %s\n", mark, start+i+1, id, rec.Kind, star, rec.Name)
	}

	if links := g.mgr.PageLinks(2); len(links) > 1 {
		fmt.Fprintf(w, "  pages: %s\n", formatPageLinks(links, page))
	}
}

func formatPageLinks(links []int, current int) string {
	parts := make([]string, len(links))
	for i, p := range links {
		if p == current {
			parts[i] = fmt.Sprintf("[%d]", p)
		} else {
			parts[i] = fmt.Sprintf("%d", p)
		}
	}
	return strings.Join(parts, " ")
}
