package ghostmap

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Map operations as they appear in the trail.
const (
	OpNew      = "new"
	OpNewArray = "new_array"
	OpLength   = "length"
	OpGet      = "get"
	OpSet      = "set"
	OpRemove   = "remove"
	OpForall   = "forall"
	OpHavoc    = "havoc"
)

// Record is one map operation performed on a state.
//
// For forall, Args holds the predicate instantiated on two fresh symbols
// followed by those symbols.
type Record struct {
	Op      string
	Handle  Handle
	Args    []Expr
	Results []Expr
}

// String returns the string representation of the record.
func (r Record) String() string {
	return fmt.Sprintf("%s #%d (%s) -> (%s)", r.Op, r.Handle, joinExprs(r.Args), joinExprs(r.Results))
}

func joinExprs(a []Expr) string {
	s := make([]string, len(a))
	for i, expr := range a {
		if expr == nil {
			s[i] = "_"
		} else {
			s[i] = expr.String()
		}
	}
	return strings.Join(s, ", ")
}

// record appends r to the trail if recording is enabled.
func (s *State) record(r Record) {
	if s.recording {
		s.trail = s.trail.Append(r)
	}
}

// Recording returns true if map operations are being recorded.
func (s *State) Recording() bool { return s.recording }

// SetRecording enables or disables recording of map operations.
func (s *State) SetRecording(v bool) { s.recording = v }

// Trail returns the recorded map operations in order.
func (s *State) Trail() []Record {
	a := make([]Record, 0, s.trail.Len())
	itr := s.trail.Iterator()
	for !itr.Done() {
		_, v := itr.Next()
		a = append(a, v.(Record))
	}
	return a
}

// ReplayError is returned when a replayed call does not match the trail.
type ReplayError struct {
	Expected Record
	Actual   *Record // nil past the end of the trail
}

// Error returns the error as a string.
func (e *ReplayError) Error() string {
	if e.Actual == nil {
		return fmt.Sprintf("replay: expected %s but trail is exhausted", e.Expected)
	}
	return fmt.Sprintf("replay: expected %s but got %s", e.Expected, e.Actual)
}

// Cause returns ErrReplayMismatch.
func (e *ReplayError) Cause() error { return ErrReplayMismatch }

// Unwrap returns ErrReplayMismatch.
func (e *ReplayError) Unwrap() error { return ErrReplayMismatch }

// Replayer answers map operations from a recorded trail instead of
// computing them. Calls must arrive in the recorded order; recorded gets
// that are not asked for are skipped.
type Replayer struct {
	trail []Record
	index int
	metas map[Handle][2]uint
}

// NewReplayer returns a Replayer over trail.
func NewReplayer(trail []Record) *Replayer {
	return &Replayer{trail: trail, metas: make(map[Handle][2]uint)}
}

// Remaining returns the number of records not consumed yet.
func (r *Replayer) Remaining() int { return len(r.trail) - r.index }

// expect consumes records up to the first one matching want. Nil fields of
// want match anything.
func (r *Replayer) expect(want Record) (Record, error) {
	for r.index < len(r.trail) {
		got := r.trail[r.index]
		r.index++
		if matchRecord(want, got) {
			return got, nil
		} else if got.Op != OpGet {
			return Record{}, &ReplayError{Expected: want, Actual: &got}
		}
	}
	return Record{}, &ReplayError{Expected: want}
}

func matchRecord(want, got Record) bool {
	if want.Op != got.Op {
		return false
	} else if want.Handle != 0 && want.Handle != got.Handle {
		return false
	}
	return matchExprs(want.Args, got.Args) && matchExprs(want.Results, got.Results)
}

func matchExprs(want, got []Expr) bool {
	for i, w := range want {
		if w == nil {
			continue
		} else if i >= len(got) || got[i] == nil || w.String() != got[i].String() {
			return false
		}
	}
	return true
}

// Allocate replays a map allocation and returns the recorded handle.
func (r *Replayer) Allocate(keyWidth, valueWidth Expr) (Handle, error) {
	rec, err := r.expect(Record{Op: OpNew, Args: []Expr{keyWidth, valueWidth}})
	if err != nil {
		return 0, err
	}
	r.remember(rec.Handle, keyWidth, valueWidth)
	return rec.Handle, nil
}

// AllocateArray replays an array allocation and returns the recorded handle.
func (r *Replayer) AllocateArray(keyWidth, valueWidth, length Expr) (Handle, error) {
	rec, err := r.expect(Record{Op: OpNewArray, Args: []Expr{keyWidth, valueWidth, length}})
	if err != nil {
		return 0, err
	}
	r.remember(rec.Handle, keyWidth, valueWidth)
	return rec.Handle, nil
}

func (r *Replayer) remember(h Handle, keyWidth, valueWidth Expr) {
	var w [2]uint
	if c, ok := keyWidth.(*ConstantExpr); ok {
		w[0] = uint(c.Value)
	}
	if c, ok := valueWidth.(*ConstantExpr); ok {
		w[1] = uint(c.Value)
	}
	r.metas[h] = w
}

// KeyWidth returns the key width of a replayed allocation.
func (r *Replayer) KeyWidth(h Handle) (uint, error) {
	w, ok := r.metas[h]
	if !ok {
		return 0, errors.Wrapf(ErrMapNotFound, "handle #%d", h)
	}
	return w[0], nil
}

// ValueWidth returns the value width of a replayed allocation.
func (r *Replayer) ValueWidth(h Handle) (uint, error) {
	w, ok := r.metas[h]
	if !ok {
		return 0, errors.Wrapf(ErrMapNotFound, "handle #%d", h)
	}
	return w[1], nil
}

// Length replays a length query.
func (r *Replayer) Length(h Handle) (Expr, error) {
	rec, err := r.expect(Record{Op: OpLength, Handle: h})
	if err != nil {
		return nil, err
	}
	return rec.Results[0], nil
}

// Get replays a get.
func (r *Replayer) Get(h Handle, key Expr) (value, present Expr, err error) {
	rec, err := r.expect(Record{Op: OpGet, Handle: h, Args: []Expr{key}})
	if err != nil {
		return nil, nil, err
	}
	return rec.Results[0], rec.Results[1], nil
}

// Set replays a set.
func (r *Replayer) Set(h Handle, key, value Expr) error {
	_, err := r.expect(Record{Op: OpSet, Handle: h, Args: []Expr{key, value}})
	return err
}

// Remove replays a remove.
func (r *Replayer) Remove(h Handle, key Expr) error {
	_, err := r.expect(Record{Op: OpRemove, Handle: h, Args: []Expr{key}})
	return err
}

// Forall replays a forall. pred must produce the recorded predicate when
// applied to the recorded symbols.
func (r *Replayer) Forall(h Handle, pred Predicate) (Expr, error) {
	rec, err := r.expect(Record{Op: OpForall, Handle: h})
	if err != nil {
		return nil, err
	}
	if len(rec.Args) != 3 {
		return nil, &ReplayError{Expected: Record{Op: OpForall, Handle: h}, Actual: &rec}
	}
	if got := pred(rec.Args[1], rec.Args[2]); got.String() != rec.Args[0].String() {
		want := Record{Op: OpForall, Handle: h, Args: []Expr{got, rec.Args[1], rec.Args[2]}}
		return nil, &ReplayError{Expected: want, Actual: &rec}
	}
	return rec.Results[0], nil
}

// Havoc replays a havoc.
func (r *Replayer) Havoc(h Handle, maxLength Expr, isArray bool) error {
	_, err := r.expect(Record{Op: OpHavoc, Handle: h, Args: []Expr{maxLength, NewBoolConstantExpr(isArray)}})
	return err
}
