package ghostmap_test

import (
	"context"
	"testing"

	"github.com/benbjohnson/ghostmap"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// loopBody returns an ExecuteFunc for a loop that either inserts key 5 into
// h or leaves it alone. calls counts invocations.
func loopBody(h ghostmap.Handle, calls *int) ghostmap.ExecuteFunc {
	return func(ctx context.Context, entry *ghostmap.State) ([]*ghostmap.State, error) {
		*calls++
		s1, s2 := entry.Clone(), entry.Clone()
		if err := s1.Set(h, c32(5), c32(1)); err != nil {
			return nil, err
		}
		return []*ghostmap.State{s1, s2}, nil
	}
}

// crossBody returns an ExecuteFunc for a loop that either inserts key 5 into
// both a and b or leaves them alone.
func crossBody(a, b ghostmap.Handle) ghostmap.ExecuteFunc {
	return func(ctx context.Context, entry *ghostmap.State) ([]*ghostmap.State, error) {
		s1, s2 := entry.Clone(), entry.Clone()
		if err := s1.Set(a, c32(5), c32(1)); err != nil {
			return nil, err
		} else if err := s1.Set(b, c32(5), c32(2)); err != nil {
			return nil, err
		}
		return []*ghostmap.State{s1, s2}, nil
	}
}

func TestDriver_Run(t *testing.T) {
	t.Run("OK", func(t *testing.T) {
		entry := NewState(t)
		h := MustAllocate(t, entry, "m", 32, 32)

		reg := prometheus.NewRegistry()
		var calls int
		d := ghostmap.NewDriver(loopBody(h, &calls), entry.Config())
		d.Logger = zerolog.New(zerolog.NewTestWriter(t))
		d.Metrics = ghostmap.NewMetrics(reg)

		states, err := d.Run(context.Background(), []*ghostmap.State{entry})
		require.NoError(t, err)
		require.Equal(t, 2, calls)
		require.Len(t, states, 2)

		// The fixed point allows any length but keeps the stored value.
		s := states[1]
		MustBeUndecided(t, s, ghostmap.Eq(MustLength(t, s, h), c64(0)))
		value, present := MustGet(t, s, h, c32(5))
		MustBeUndecided(t, s, present)
		MustBeTrue(t, s, ghostmap.Implies(present, ghostmap.Eq(value, c32(1))))
		_, present = MustGet(t, s, h, c32(6))
		MustBeFalse(t, s, present)

		families, err := reg.Gather()
		require.NoError(t, err)
		var iterations float64
		for _, mf := range families {
			if mf.GetName() == "ghostmap_fixpoint_iterations" {
				iterations = mf.GetMetric()[0].GetGauge().GetValue()
			}
		}
		require.Equal(t, float64(2), iterations)
	})

	t.Run("ErrNotConverged", func(t *testing.T) {
		entry := NewState(t)
		h := MustAllocate(t, entry, "m", 32, 32)

		config := entry.Config()
		config.MaxIterations = 1
		var calls int
		_, err := ghostmap.NewDriver(loopBody(h, &calls), config).Run(context.Background(), []*ghostmap.State{entry})
		require.ErrorIs(t, err, ghostmap.ErrNotConverged)
		require.Equal(t, 1, calls)
	})

	t.Run("Canceled", func(t *testing.T) {
		entry := NewState(t)
		h := MustAllocate(t, entry, "m", 32, 32)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		var calls int
		_, err := ghostmap.NewDriver(loopBody(h, &calls), entry.Config()).Run(ctx, []*ghostmap.State{entry})
		require.ErrorIs(t, err, context.Canceled)
		require.Zero(t, calls)
	})

	t.Run("ErrExecute", func(t *testing.T) {
		errBoom := errors.New("boom")
		execute := func(ctx context.Context, entry *ghostmap.State) ([]*ghostmap.State, error) {
			return nil, errBoom
		}

		_, err := ghostmap.NewDriver(execute, ghostmap.DefaultConfig()).Run(context.Background(), []*ghostmap.State{NewState(t), NewState(t)})
		require.ErrorIs(t, err, errBoom)

		var merr *multierror.Error
		require.ErrorAs(t, err, &merr)
		require.Len(t, merr.Errors, 2)
	})

	// Only the failing entry is dropped.
	t.Run("ErrExecuteOneEntry", func(t *testing.T) {
		errBoom := errors.New("boom")
		e1, e2 := NewState(t), NewState(t)
		h1 := MustAllocate(t, e1, "m", 32, 32)
		MustAllocate(t, e2, "m", 32, 32)

		var calls int
		execute := func(ctx context.Context, entry *ghostmap.State) ([]*ghostmap.State, error) {
			if entry.Handles()[0] == h1 {
				return loopBody(h1, &calls)(ctx, entry)
			}
			return nil, errBoom
		}

		d := ghostmap.NewDriver(execute, ghostmap.DefaultConfig())
		d.Logger = zerolog.New(zerolog.NewTestWriter(t))
		states, err := d.Run(context.Background(), []*ghostmap.State{e1, e2})
		require.ErrorIs(t, err, errBoom)
		var merr *multierror.Error
		require.ErrorAs(t, err, &merr)
		require.Len(t, merr.Errors, 1)

		require.Equal(t, 2, calls)
		require.Len(t, states, 2)
		for _, s := range states {
			require.Equal(t, []ghostmap.Handle{h1}, s.Handles())
		}
	})

	// Relations inferred between maps hold on the related map in every
	// state of the fixed point, including the one where the loop changed
	// both maps again.
	t.Run("Cross", func(t *testing.T) {
		entry := NewState(t)
		a := MustAllocate(t, entry, "a", 32, 32)
		b := MustAllocate(t, entry, "b", 32, 32)

		states, err := ghostmap.NewDriver(crossBody(a, b), entry.Config()).Run(context.Background(), []*ghostmap.State{entry})
		require.NoError(t, err)
		require.Len(t, states, 2)

		for _, s := range states {
			require.Equal(t, []ghostmap.Handle{a, b}, s.Handles())

			k := ghostmap.NewSymbol("k", 32)
			_, pa := MustGet(t, s, a, k)
			vb, pb := MustGet(t, s, b, k)
			MustBeTrue(t, s, ghostmap.Implies(pa, ghostmap.And(pb, ghostmap.Eq(vb, c32(2)))))
		}
	})

	// Entries that reach a fixed point independently still iterate together.
	t.Run("MultipleEntries", func(t *testing.T) {
		e1, e2 := NewState(t), NewState(t)
		h1 := MustAllocate(t, e1, "m", 32, 32)
		MustAllocate(t, e2, "m", 32, 32)

		var calls int
		execute := func(ctx context.Context, entry *ghostmap.State) ([]*ghostmap.State, error) {
			if entry.Handles()[0] == h1 {
				return loopBody(h1, &calls)(ctx, entry)
			}
			return []*ghostmap.State{entry.Clone()}, nil
		}

		states, err := ghostmap.NewDriver(execute, ghostmap.DefaultConfig()).Run(context.Background(), []*ghostmap.State{e1, e2})
		require.NoError(t, err)
		require.Equal(t, 2, calls)
		require.Len(t, states, 3)
	})
}
