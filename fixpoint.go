package ghostmap

import (
	"context"
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ExecuteFunc runs the program from entry up to the next merge point and
// returns the states reaching it. entry must not be modified.
type ExecuteFunc func(ctx context.Context, entry *State) ([]*State, error)

// Driver alternates execution and merging until the entry states stop
// changing.
type Driver struct {
	// Runs one iteration from an entry state. Required.
	Execute ExecuteFunc

	// Merges successors. Defaults to an engine using Config.
	Engine *Engine

	Config  Config
	Logger  zerolog.Logger
	Metrics *Metrics
}

// NewDriver returns a new instance of Driver.
func NewDriver(execute ExecuteFunc, config Config) *Driver {
	return &Driver{
		Execute: execute,
		Engine:  NewEngine(config),
		Config:  config,
		Logger:  zerolog.Nop(),
	}
}

// Run executes and merges every entry state until a fixed point is reached
// and returns the successors of the last iteration. The fixed point is
// reached when no merge weakened an invariant and every entry inferred the
// same facts as in the previous iteration.
//
// An entry whose execution or merge fails is dropped and the others keep
// iterating. The failures are returned together with the successors of the
// remaining entries. If every entry fails, no states are returned.
//
// Returns ErrNotConverged if Config.MaxIterations is reached first.
func (d *Driver) Run(ctx context.Context, entries []*State) ([]*State, error) {
	if d.Engine == nil {
		d.Engine = NewEngine(d.Config)
	}

	var failed error
	prev := make([][]string, len(entries))
	for iteration := 1; ; iteration++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		} else if d.Config.MaxIterations > 0 && iteration > d.Config.MaxIterations {
			return nil, errors.Wrapf(ErrNotConverged, "after %d iterations", d.Config.MaxIterations)
		}
		d.Metrics.setIterations(iteration)

		var successors []*State
		var next []*State
		var nextPrev [][]string
		converged := true
		nfacts := 0
		for i, entry := range entries {
			states, err := d.Execute(ctx, entry)
			if err != nil {
				failed = d.drop(failed, errors.Wrapf(err, "execute state #%d", entry.ID()), iteration)
				continue
			}

			r, err := d.Engine.Merge(ctx, entry, states)
			if err != nil {
				failed = d.drop(failed, errors.Wrapf(err, "merge state #%d", entry.ID()), iteration)
				continue
			}

			keys := factKeys(r.Facts)
			if r.Changed || !equalStrings(keys, prev[i]) {
				converged = false
			}
			next, nextPrev = append(next, r.State), append(nextPrev, keys)
			successors = append(successors, states...)
			nfacts += len(r.Facts)
		}
		if len(next) == 0 {
			return nil, failed
		}

		d.Logger.Info().
			Int("iteration", iteration).
			Int("entries", len(next)).
			Int("states", len(successors)).
			Int("facts", nfacts).
			Bool("converged", converged).
			Msg("fixpoint iteration")

		if converged {
			return successors, failed
		}
		entries, prev = next, nextPrev
	}
}

// drop logs the failure of one entry state and adds it to failed.
func (d *Driver) drop(failed, err error, iteration int) error {
	d.Logger.Warn().Err(err).Int("iteration", iteration).Msg("drop entry state")
	return multierror.Append(failed, err)
}

// factKeys returns the sorted keys of facts.
func factKeys(facts []*Fact) []string {
	keys := make([]string, len(facts))
	for i, f := range facts {
		keys[i] = f.Key()
	}
	sort.Strings(keys)
	return keys
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
