package reconcile

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/nged-substations/internal/errors"
)

// Outcome pairs a batch result with the error Run returned for it
type Outcome struct {
	Result *Result
	Err    error
}

// RunAll reconciles independent pairs concurrently, at most limit at a time
// (limit <= 0 means unbounded). Outcomes are returned in input order.
//
// Integrity errors stay attached to their outcome; only input, store or
// coverage failures cancel the remaining work.
func (r *Reconciler) RunAll(ctx context.Context, inputs []Input, limit int) ([]Outcome, error) {
	outcomes := make([]Outcome, len(inputs))

	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, in := range inputs {
		i, in := i, in
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := r.Run(ctx, in)
			outcomes[i] = Outcome{Result: res, Err: err}
			if res == nil && err != nil {
				return fmt.Errorf("failed to reconcile %s against %s: %w", in.Live.Source, in.Reference.Source, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

// Errs joins the non-nil outcome errors
func Errs(outcomes []Outcome) error {
	var errs []error
	for _, o := range outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errors.Join(errs...)
}
