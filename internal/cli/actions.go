package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rescale/rescale-gallery/internal/models"
	"github.com/rescale/rescale-gallery/internal/progress"
)

// actionDef describes one bulk action command.
type actionDef struct {
	action  models.Action
	use     string
	short   string
	args    cobra.PositionalArgs
	confirm bool
	verb    func(args []string) (models.Verb, error)
}

func simpleVerb(a models.Action) func([]string) (models.Verb, error) {
	return func([]string) (models.Verb, error) {
		return models.Verb{Action: a}, nil
	}
}

var actionDefs = []actionDef{
	{action: models.ActionStar, use: "star", short: "Star the selected records", args: cobra.NoArgs, verb: simpleVerb(models.ActionStar)},
	{action: models.ActionUnstar, use: "unstar", short: "Unstar the selected records", args: cobra.NoArgs, verb: simpleVerb(models.ActionUnstar)},
	{action: models.ActionDelete, use: "delete", short: "Move the selected records to the trash", args: cobra.NoArgs, confirm: true, verb: simpleVerb(models.ActionDelete)},
	{action: models.ActionRestore, use: "restore", short: "Restore the selected records from the trash", args: cobra.NoArgs, verb: simpleVerb(models.ActionRestore)},
	{
		action: models.ActionAlbumAdd, use: "album-add <album>", short: "Add the selected records to an album",
		args: cobra.ExactArgs(1),
		verb: func(args []string) (models.Verb, error) {
			return models.Verb{Action: models.ActionAlbumAdd, Album: args[0]}, nil
		},
	},
	{
		action: models.ActionAlbumRemove, use: "album-remove <album>", short: "Remove the selected records from an album",
		args: cobra.ExactArgs(1),
		verb: func(args []string) (models.Verb, error) {
			return models.Verb{Action: models.ActionAlbumRemove, Album: args[0]}, nil
		},
	},
	{
		action: models.ActionGeotag, use: "geotag [<lat> <lng>]", short: "Set or clear the geotag of the selected records",
		args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return fmt.Errorf("geotag takes a latitude and a longitude, or nothing to clear")
			}
			return nil
		},
		verb: func(args []string) (models.Verb, error) {
			v := models.Verb{Action: models.ActionGeotag}
			if len(args) == 0 {
				return v, nil
			}
			lat, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return v, fmt.Errorf("invalid latitude %q: %w", args[0], err)
			}
			lng, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return v, fmt.Errorf("invalid longitude %q: %w", args[1], err)
			}
			v.Geotag = &models.Geotag{Latitude: lat, Longitude: lng}
			return v, nil
		},
	},
	{
		action: models.ActionFaceIdentify, use: "face-identify <person>", short: "Assign the selected faces to a person",
		args: cobra.ExactArgs(1),
		verb: func(args []string) (models.Verb, error) {
			return models.Verb{Action: models.ActionFaceIdentify, Person: args[0]}, nil
		},
	},
	{action: models.ActionFaceReject, use: "face-reject", short: "Reject the selected face matches", args: cobra.NoArgs, verb: simpleVerb(models.ActionFaceReject)},
}

// newActionCmds creates one command per bulk action.
func newActionCmds() []*cobra.Command {
	cmds := make([]*cobra.Command, 0, len(actionDefs))
	for _, def := range actionDefs {
		cmds = append(cmds, newActionCmd(def))
	}
	return cmds
}

// newActionCmd creates a command applying def to the selection.
func newActionCmd(def actionDef) *cobra.Command {
	var lf listingFlags
	var ids []string
	var yes bool

	cmd := &cobra.Command{
		Use:   def.use,
		Short: def.short,
		Long: def.short + `.

The action applies to the selection of the current page (see "select"),
or to --ids. Items are processed in order; the first failure stops the
batch and items already processed stay changed. Records the action takes
out of the listing are removed and the page is refilled.`,
		Args: def.args,
		RunE: func(cmd *cobra.Command, args []string) error {
			verb, err := def.verb(args)
			if err != nil {
				return err
			}
			if err := verb.Validate(); err != nil {
				return err
			}

			ctx := GetContext()
			out := cmd.OutOrStdout()
			log := GetLogger()

			g, err := openGallery(ctx, &lf, galleryOptions{})
			if err != nil {
				return err
			}
			defer g.close()

			sel := g.sess.Selection
			if len(ids) > 0 {
				rendered := g.mgr.VisibleIDs()
				sel.Clear()
				for _, id := range ids {
					if !containsID(rendered, models.ListingID(id)) {
						return fmt.Errorf("%s is not on the current page", id)
					}
					sel.Toggle(models.ListingID(id))
				}
			}

			count := sel.Count()
			if count == 0 {
				return fmt.Errorf("nothing selected: use 'select' or --ids")
			}

			if def.confirm && !yes {
				ok, err := promptConfirm(cmd.InOrStdin(), out,
					fmt.Sprintf("%s %d record(s) in %s?", def.action, count, g.sess.Path))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(out, "Cancelled")
					return nil
				}
			}

			sink := progress.NewCLIProgressTo(cmd.ErrOrStderr())
			applied, err := g.mgr.ApplyToSelection(ctx, g.client, verb, sink)

			log.Info().
				Str("action", string(def.action)).
				Int("applied", applied).
				Int("selected", count).
				Msg("Batch finished")

			fmt.Fprintf(out, "%s: %d of %d applied\n", def.action, applied, count)
			g.printWindow(out)

			if serr := g.save(); serr != nil {
				log.Warn().Err(serr).Msg("Failed to save bookmark")
			}
			return err
		},
	}

	lf.register(cmd, true)
	cmd.Flags().StringSliceVar(&ids, "ids", nil, "Apply to these ids of the current page instead of the selection")
	if def.confirm {
		cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	}

	return cmd
}
