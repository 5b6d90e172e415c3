package ghostmap

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Engine merges the successor states of an entry state into a new entry
// state. Inference results are cached across calls so an Engine should be
// reused for every iteration over the same maps.
type Engine struct {
	inferrer *Inferrer

	Config  Config
	Logger  zerolog.Logger
	Metrics *Metrics
}

// NewEngine returns a new instance of Engine.
func NewEngine(config Config) *Engine {
	return &Engine{
		inferrer: NewInferrer(config),
		Config:   config,
		Logger:   zerolog.Nop(),
	}
}

// MergeResult is the outcome of a merge.
type MergeResult struct {
	// New entry state.
	State *State

	// True if the invariants of any map were weakened.
	Changed bool

	// Facts inferred across the successors, in application order.
	Facts []*Fact
}

// Merge folds successors, which all descend from ancestor, into a copy of
// ancestor. Every map of ancestor is merged on its own, then the facts
// inferred across maps are applied. Neither ancestor nor successors are
// modified.
func (e *Engine) Merge(ctx context.Context, ancestor *State, successors []*State) (*MergeResult, error) {
	e.Metrics.merge()
	e.inferrer.Config, e.inferrer.Logger, e.inferrer.Metrics = e.Config, e.Logger, e.Metrics

	merged := ancestor.Clone()
	recording := merged.Recording()
	merged.SetRecording(false)
	defer merged.SetRecording(recording)

	var changed bool
	for _, h := range ancestor.Handles() {
		m, ok, err := MergeOne(ancestor, successors, h)
		if err != nil {
			return nil, errors.Wrapf(err, "merge map #%d", h)
		}
		merged.setMap(h, m)
		changed = changed || ok
	}

	facts, err := e.inferrer.Infer(ctx, ancestor, successors)
	if err != nil {
		return nil, errors.Wrap(err, "infer")
	}
	sortFacts(facts)

	for _, f := range facts {
		e.Logger.Debug().Stringer("fact", f).Msg("apply")
		if err := f.Apply(merged); err != nil {
			return nil, err
		}
	}

	e.Logger.Info().
		Int64("state", ancestor.ID()).
		Int("successors", len(successors)).
		Bool("changed", changed).
		Int("facts", len(facts)).
		Msg("merge")

	return &MergeResult{State: merged, Changed: changed, Facts: facts}, nil
}
