package ghostmap

import (
	"context"
	"fmt"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Inferrer searches for facts that hold across a set of merged states.
// Search results for each map pair are memoized and reused by later calls.
type Inferrer struct {
	Config  Config
	Logger  zerolog.Logger
	Metrics *Metrics

	cache cmap.ConcurrentMap[string, memo]
}

// memo is a cached search result. guards is only set for guard searches.
type memo struct {
	fn     *candidate
	guards []Expr
}

// NewInferrer returns a new Inferrer with an empty cache.
func NewInferrer(config Config) *Inferrer {
	return &Inferrer{
		Config: config,
		Logger: zerolog.Nop(),
		cache:  cmap.New[memo](),
	}
}

func cacheKey(o1, o2 Handle, op string) string {
	return fmt.Sprintf("%d:%d:%s", o1, o2, op)
}

// pairSearch holds what every pair search of one Infer call shares.
// It is read-only once created.
type pairSearch struct {
	inf          *Inferrer
	ancestor     *State
	ancestorVars map[uint64]*Array
}

// Infer returns the facts that hold in every state of states, which all
// descend from ancestor. Facts are returned in discovery order: cross
// facts, then length facts.
func (inf *Inferrer) Infer(ctx context.Context, ancestor *State, states []*State) ([]*Fact, error) {
	handles := ancestor.Handles()

	// Maps set once by an external actor never relate to others.
	skip := true
	for _, h := range handles {
		m, err := ancestor.Map(h)
		if err != nil {
			return nil, err
		} else if !m.everHavoced && !m.meta.IsFractions() {
			skip = false
			break
		}
	}
	if skip {
		return nil, nil
	}

	var lengths []*Fact
	for _, h := range handles {
		fact, err := lengthVariance(ancestor, states, h)
		if err != nil {
			return nil, err
		} else if fact != nil {
			inf.Logger.Debug().Uint64("map", uint64(h)).Msg("length changed")
			lengths = append(lengths, fact)
		}
	}

	p := &pairSearch{
		inf:          inf,
		ancestor:     ancestor,
		ancestorVars: FreeVariables(ancestor.Constraints()...),
	}

	var pairs [][2]Handle
	for _, o1 := range handles {
		for _, o2 := range handles {
			if o1 != o2 {
				pairs = append(pairs, [2]Handle{o1, o2})
			}
		}
	}

	results := make([][]*Fact, len(pairs))
	g, ctx := errgroup.WithContext(ctx)
	workers := inf.Config.Workers
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)
	for i, pair := range pairs {
		i, pair := i, pair
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			facts, err := p.search(cloneStates(states), pair[0], pair[1])
			if errors.Is(err, ErrContradiction) {
				inf.Logger.Warn().Err(err).Uint64("from", uint64(pair[0])).Uint64("to", uint64(pair[1])).Msg("pair abandoned")
				inf.Metrics.pairAbandoned()
				return nil
			} else if err != nil {
				return errors.Wrapf(err, "map #%d to #%d", pair[0], pair[1])
			}
			results[i] = facts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var cross []*Fact
	for _, facts := range results {
		for _, f := range facts {
			if f.Kind.IsCross() {
				cross = append(cross, f)
			} else {
				lengths = append(lengths, f)
			}
		}
	}

	cross, err := p.prune(cross, append(cloneStates(states), ancestor.Clone()))
	if err != nil {
		return nil, err
	}
	facts := append(cross, lengths...)
	for _, f := range facts {
		inf.Metrics.fact(f.Kind)
	}
	return facts, nil
}

// lengthVariance returns a LENGTH_VAR fact if the length of h can differ
// from the ancestor's in any state.
func lengthVariance(ancestor *State, states []*State, h Handle) (*Fact, error) {
	am, err := ancestor.Map(h)
	if err != nil {
		return nil, err
	}
	for _, s := range states {
		m, err := s.Map(h)
		if err != nil {
			return nil, err
		}
		if ok, err := s.CanBeFalse(Eq(m.length, am.length)); err != nil {
			return nil, err
		} else if ok {
			return &Fact{Kind: LengthVar, Handles: []Handle{h}}, nil
		}
	}
	return nil, nil
}

// search looks for length ordering and entry relations from o1 to o2.
// states are private to the call.
func (p *pairSearch) search(states []*State, o1, o2 Handle) ([]*Fact, error) {
	a1, err := p.ancestor.Map(o1)
	if err != nil {
		return nil, err
	}
	a2, err := p.ancestor.Map(o2)
	if err != nil {
		return nil, err
	}

	// Only states that changed both maps say anything about them.
	var changed []*State
	for _, s := range states {
		m1, err := s.Map(o1)
		if err != nil {
			return nil, err
		}
		m2, err := s.Map(o2)
		if err != nil {
			return nil, err
		}
		if !m1.Equal(a1) && !m2.Equal(a2) {
			changed = append(changed, s)
		}
	}
	if len(changed) == 0 {
		return nil, nil
	}
	p.inf.Metrics.pairSearched()

	var facts []*Fact
	lte := true
	for _, s := range changed {
		m1, _ := s.Map(o1)
		m2, _ := s.Map(o2)
		if ok, err := s.DefinitelyTrue(Ule(m1.length, m2.length)); err != nil {
			return nil, err
		} else if !ok {
			lte = false
			break
		}
	}
	if lte {
		facts = append(facts, &Fact{Kind: LengthLTE, Handles: []Handle{o1, o2}})
	}

	fk, err := p.cached(o1, o2, "k", func() (*candidate, error) {
		return p.findEither(changed, o1, o2, selectKey)
	})
	if err != nil {
		return nil, err
	} else if fk == nil {
		return facts, nil
	}

	guards, err := p.guards(changed, o1, o2)
	if err != nil {
		return nil, err
	}

	meta := a1.meta
	for _, guard := range guards {
		trial := cloneStates(changed)
		if ok, err := holdsEverywhere(trial, o1, crossPredicate(meta, o2, guard, fk.fn, nil)); err != nil {
			return nil, err
		} else if !ok {
			continue
		}
		p.inf.cache.Set(cacheKey(o1, o2, "p"), memo{guards: []Expr{guard}})

		fact := &Fact{
			Kind:    CrossKey,
			Handles: append([]Handle{o1, o2}, fk.handles...),
			Guard:   guard,
			KeyFunc: fk.fn,
		}

		fv, err := p.cached(o1, o2, "v", func() (*candidate, error) {
			return p.findEither(trial, o1, o2, selectValue)
		})
		if err != nil {
			return nil, err
		}
		if fv != nil {
			if ok, err := holdsEverywhere(cloneStates(changed), o1, crossPredicate(meta, o2, guard, fk.fn, fv.fn)); err != nil {
				return nil, err
			} else if ok {
				fact.Kind = CrossVal
				fact.ValueFunc = fv.fn
				fact.Handles = append(fact.Handles, fv.handles...)
			}
		}

		p.inf.Logger.Info().Str("kind", fact.Kind.String()).Str("from", a1.meta.Name).Str("to", a2.meta.Name).
			Stringer("guard", guard).Stringer("key", fk.fn).Msg("inferred")
		return append(facts, fact), nil
	}

	p.inf.cache.Set(cacheKey(o1, o2, "p"), memo{guards: []Expr{}})
	return facts, nil
}

// cached returns the memoized function for op, computing it with fn on a miss.
func (p *pairSearch) cached(o1, o2 Handle, op string, fn func() (*candidate, error)) (*candidate, error) {
	key := cacheKey(o1, o2, op)
	if m, ok := p.inf.cache.Get(key); ok {
		return m.fn, nil
	}
	c, err := fn()
	if err != nil {
		return nil, err
	}
	p.inf.cache.Set(key, memo{fn: c})
	return c, nil
}

// guards returns the memoized presence guards of the pair or finds them.
func (p *pairSearch) guards(states []*State, o1, o2 Handle) ([]Expr, error) {
	if m, ok := p.inf.cache.Get(cacheKey(o1, o2, "p")); ok {
		return m.guards, nil
	}
	return p.findGuards(states, o1)
}

// findEither finds a function from the key of o1 to sel2 of o2, falling
// back to one from the value of o1.
func (p *pairSearch) findEither(states []*State, o1, o2 Handle, sel2 selector) (*candidate, error) {
	c, err := p.find(states, o1, o2, selectKey, sel2)
	if err != nil || c != nil {
		return c, err
	}
	return p.find(states, o1, o2, selectValue, sel2)
}

// find looks for a function f such that in every state, f maps sel1 of
// each present item of o1 to sel2 of a distinct present item of o2. The
// first candidate proposed is kept; if it fails validation there is no
// function.
func (p *pairSearch) find(states []*State, o1, o2 Handle, sel1, sel2 selector) (*candidate, error) {
	var c *candidate
	for _, s := range states {
		items1, err := presentItems(s, o1)
		if err != nil {
			return nil, err
		}
		items2, err := presentItems(s, o2)
		if err != nil {
			return nil, err
		}

		switch {
		case len(items1) == 0:
			continue
		case len(items1) > len(items2):
			return nil, nil
		case len(items1) < len(items2):
			return nil, errors.Wrapf(ErrUnsupportedPigeonhole, "map #%d has %d present items, map #%d has %d", o1, len(items1), o2, len(items2))
		}

		if c != nil {
			if ok, err := p.validate(s, o1, items1, items2, sel2, c); err != nil || !ok {
				return nil, err
			}
			continue
		}

		if c, err = p.propose(s, o1, o2, sel1, sel2, items1, items2); err != nil || c == nil {
			return nil, err
		}
	}
	return c, nil
}

// propose finds a candidate relating the first item of items1 to some item
// of items2 and validates it on the remaining items.
func (p *pairSearch) propose(s *State, o1, o2 Handle, sel1, sel2 selector, items1, items2 []MapItem) (*candidate, error) {
	it1 := items1[0]
	for j, it2 := range items2 {
		for _, finder := range p.finders() {
			c, err := finder(s, o1, o2, sel1, sel2, it1, it2)
			if err != nil {
				return nil, err
			} else if c == nil {
				continue
			}

			rest := append(append([]MapItem(nil), items2[:j]...), items2[j+1:]...)
			if ok, err := p.validate(s, o1, items1[1:], rest, sel2, c); err != nil || !ok {
				return nil, err
			}
			return c, nil
		}
	}
	return nil, nil
}

// validate returns true if c maps each item of items1 to the item at the
// same position in items2.
func (p *pairSearch) validate(s *State, o1 Handle, items1, items2 []MapItem, sel2 selector, c *candidate) (bool, error) {
	m1, err := s.Map(o1)
	if err != nil {
		return false, err
	}
	for i, it1 := range items1 {
		x, err := s.EvalMapExpr(bindCandidate(m1.meta, c.fn, it1.Key, it1.Value))
		if err != nil {
			return false, err
		}
		if ok, err := s.CanBeFalse(Eq(sel2.of(items2[i]), x)); err != nil || ok {
			return false, err
		}
	}
	return true, nil
}

// holdsEverywhere returns true if pred holds on every entry of h in every
// state. Forall may strengthen invariants so states must be private.
func holdsEverywhere(states []*State, h Handle, pred Predicate) (bool, error) {
	for _, s := range states {
		result, err := s.forall(h, pred)
		if err != nil {
			return false, err
		}
		if ok, err := s.DefinitelyTrue(result); err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// prune drops cross facts implied by others. For two maps with equal key
// widths and as many outgoing facts, where every key of o1 is in o2,
// relations using o2 are dropped where o1 has the same relation.
func (p *pairSearch) prune(cross []*Fact, states []*State) ([]*Fact, error) {
	handles := p.ancestor.Handles()
	for i, o1 := range handles {
		for _, o2 := range handles[i+1:] {
			m1, err := p.ancestor.Map(o1)
			if err != nil {
				return nil, err
			}
			m2, err := p.ancestor.Map(o2)
			if err != nil {
				return nil, err
			}
			if m1.meta.KeyWidth != m2.meta.KeyWidth || countFrom(cross, o1) != countFrom(cross, o2) {
				continue
			}

			pred := func(key, value Expr) Expr { return NewMapHasExpr(o2, key, nil) }
			if ok, err := holdsEverywhere(cloneStates(states), o1, pred); err != nil {
				return nil, err
			} else if !ok {
				continue
			}

			var kept []*Fact
			for _, r := range cross {
				redundant := false
				for _, r2 := range cross {
					if r.to() == o2 && r2.to() == o1 && r2.from() == r.from() {
						redundant = true
					} else if r.from() == o2 && r2.from() == o1 && r2.to() == r.to() {
						redundant = true
					}
				}
				if redundant {
					p.inf.Logger.Debug().Stringer("fact", r).Msg("discard redundant fact")
					continue
				}
				kept = append(kept, r)
			}
			cross = kept
		}
	}
	return cross, nil
}

func (f *Fact) from() Handle { return f.Handles[0] }
func (f *Fact) to() Handle   { return f.Handles[1] }

func countFrom(facts []*Fact, h Handle) int {
	n := 0
	for _, f := range facts {
		if f.from() == h {
			n++
		}
	}
	return n
}

// cloneStates returns a private copy of each state.
func cloneStates(states []*State) []*State {
	other := make([]*State, len(states))
	for i, s := range states {
		other[i] = s.Clone()
	}
	return other
}
