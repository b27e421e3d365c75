package services

import (
	"context"
	"fmt"

	"github.com/rescale/rescale-gallery/internal/logging"
	"github.com/rescale/rescale-gallery/internal/models"
	"github.com/rescale/rescale-gallery/internal/progress"
	"github.com/rescale/rescale-gallery/internal/state"
)

// BatchStep reports one settled item of a batch.
type BatchStep struct {
	Index int
	Ref   models.RecordRef
	Done  int // items applied so far, including this one when Err is nil
	Total int
	Err   error // *MutationError; the last step of an aborted batch
}

// IterateBatch applies verb to refs one at a time, in order, and yields a
// step per settled item. The first failure is yielded as the final step and
// the remaining items are not attempted. The channel is closed when the
// batch ends. Once ctx is done the next item fails with ctx.Err().
//
// The channel is buffered for every step, so a consumer that stops reading
// early does not leak the goroutine.
func IterateBatch(ctx context.Context, svc MutationService, refs []models.RecordRef, verb models.Verb) <-chan BatchStep {
	steps := make(chan BatchStep, len(refs))

	go func() {
		defer close(steps)

		total := len(refs)
		for i, ref := range refs {
			err := ctx.Err()
			if err == nil {
				err = svc.Apply(ctx, ref, verb)
			}

			step := BatchStep{Index: i, Ref: ref, Done: i + 1, Total: total}
			if err != nil {
				step.Done = i
				step.Err = &MutationError{ID: ref.ID, Action: verb.Action, Index: i, Total: total, Err: err}
			}

			steps <- step
			if step.Err != nil {
				return
			}
		}
	}()

	return steps
}

// ApplyToSelection runs verb over refs sequentially, reporting done/total to
// sink after every item. It stops at the first failure and returns it as a
// *MutationError; already-applied items stay applied.
//
// Returns the number of items applied.
func ApplyToSelection(ctx context.Context, svc MutationService, refs []models.RecordRef, verb models.Verb, sink progress.Reporter) (int, error) {
	if sink == nil {
		sink = progress.NewNoOpProgress()
	}
	if err := verb.Validate(); err != nil {
		return 0, err
	}

	sink.Start(int64(len(refs)), string(verb.Action))
	items, _ := sink.(progress.ItemReporter)

	applied := 0
	for step := range IterateBatch(ctx, svc, refs, verb) {
		if step.Err != nil {
			sink.Error(step.Err)
			return applied, step.Err
		}
		applied = step.Done
		if items != nil {
			items.SetItem(string(step.Ref.ID))
		}
		sink.SetDescription(fmt.Sprintf("%s %s", verb.Action, displayName(step.Ref)))
		sink.Update(int64(step.Done))
	}

	sink.Finish()
	return applied, nil
}

// ApplyToSession runs ApplyToSelection and mirrors each applied item onto
// the session: the local record is updated, and items the verb takes out of
// the current listing are evicted. The selection is cleared of evicted ids.
func ApplyToSession(ctx context.Context, svc MutationService, sess *state.Session, refs []models.RecordRef, verb models.Verb, sink progress.Reporter, logger *logging.Logger) (int, error) {
	applied, err := ApplyToSelection(ctx, svc, refs, verb, sink)

	evict := verb.RemovesFromListing(sess.Filter)
	var gone []models.ListingID
	for _, ref := range refs[:applied] {
		_ = sess.Store.UpdateRecord(ref.ID, func(r *models.Record) { r.ApplyVerb(verb) })
		if evict {
			gone = append(gone, ref.ID)
		}
	}
	if len(gone) > 0 {
		sess.Evict(gone...)
	}

	if err != nil && logger != nil {
		logger.Errorf(err, "%s aborted after %d of %d items", verb.Action, applied, len(refs))
	} else if logger != nil {
		logger.Info().Str("action", string(verb.Action)).Int("items", applied).Int("evicted", len(gone)).Msg("Batch applied")
	}

	return applied, err
}

// RefsFor builds record refs for ids in the order given, using the
// session's materialized records for kind and name where available.
func RefsFor(sess *state.Session, ids []models.ListingID) []models.RecordRef {
	refs := make([]models.RecordRef, 0, len(ids))
	for _, id := range ids {
		if rec, err := sess.Store.Get(id); err == nil {
			refs = append(refs, rec.Ref())
			continue
		}
		refs = append(refs, models.RecordRef{ID: id})
	}
	return refs
}

func displayName(ref models.RecordRef) string {
	if ref.Name != "" {
		return ref.Name
	}
	return string(ref.ID)
}
