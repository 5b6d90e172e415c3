package ghostmap

import (
	"fmt"
	"sync/atomic"
)

// Handle is an opaque reference to a logical map within a State.
type Handle uint64

var handleID uint64

func nextHandle() Handle {
	return Handle(atomic.AddUint64(&handleID, 1))
}

var versionID uint64

func nextVersion() uint64 {
	return atomic.AddUint64(&versionID, 1)
}

// MapMeta is the identity of a logical map. It is shared, unchanged, by
// every version of the map.
type MapMeta struct {
	Name       string
	KeyWidth   uint
	ValueWidth uint

	// Placeholders that invariants are written over.
	Key     Expr
	Value   Expr
	Present Expr

	// Fractions maps record the map that owns them and the owner's value
	// size in bytes. Owner is zero otherwise.
	Owner     Handle
	OwnerSize uint
}

var mapNameID uint64

func newMapMeta(name string, keyWidth, valueWidth uint) *MapMeta {
	return &MapMeta{
		Name:       fmt.Sprintf("%s_%d", name, atomic.AddUint64(&mapNameID, 1)-1),
		KeyWidth:   keyWidth,
		ValueWidth: valueWidth,
		Key:        NewSymbol("KEY", keyWidth),
		Value:      NewSymbol("VALUE", valueWidth),
		Present:    NewBoolSymbol("PRESENT"),
	}
}

// IsFractions returns true if the map is the fractions map of another map.
func (m *MapMeta) IsFractions() bool { return m.Owner != 0 }

// MapItem is a single entry triple.
type MapItem struct {
	Key     Expr
	Value   Expr
	Present Expr
}

// String returns the string representation of the item.
func (i MapItem) String() string {
	return fmt.Sprintf("(%s -> %s, %s)", i.Key, i.Value, i.Present)
}

// Map is one immutable version of a symbolic map.
//
// A version is either a base node holding all of its known items, or a
// layer over a parent version that overrides a single key. Ancestor items
// seen through a layer are rewritten so they agree with the override.
//
// Refining a version with newly discovered items keeps its id. A flattened
// version keeps the version it materializes as its origin so references to
// older versions still resolve through it.
type Map struct {
	id          uint64
	meta        *MapMeta
	length      Expr
	invariants  []Invariant
	items       []MapItem
	layer       *mapLayer
	origin      *Map
	everHavoced bool
}

// mapLayer overrides key with (value, present) on top of parent.
type mapLayer struct {
	parent  *Map
	key     Expr
	value   Expr
	present Expr
}

// transform rewrites an ancestor item as seen through the layer. Items whose
// key is structurally the overridden key are dropped.
func (l *mapLayer) transform(item MapItem) (MapItem, bool) {
	if CompareExpr(item.Key, l.key) == 0 {
		return MapItem{}, false
	}
	same := Eq(item.Key, l.key)
	return MapItem{
		Key:     item.Key,
		Value:   Ite(same, l.value, item.Value),
		Present: Ite(same, l.present, item.Present),
	}, true
}

// newMap returns a base map with a length and the given invariants.
func newMap(meta *MapMeta, length Expr, invariants ...Invariant) *Map {
	assert(ExprWidth(length) == LengthWidth, "map length must be %d bits", LengthWidth)
	return &Map{id: nextVersion(), meta: meta, length: length, invariants: invariants}
}

// clone returns a shallow copy that can be mutated without affecting m.
func (m *Map) clone() *Map {
	other := *m
	other.invariants = append([]Invariant(nil), m.invariants...)
	other.items = append([]MapItem(nil), m.items...)
	return &other
}

// Meta returns the identity of the map.
func (m *Map) Meta() *MapMeta { return m.meta }

// Version returns the id of the version. It is unchanged by gets.
func (m *Map) Version() uint64 { return m.id }

// Length returns the symbolic number of present entries.
func (m *Map) Length() Expr { return m.length }

// EverHavoced returns true if the contents were ever replaced wholesale.
func (m *Map) EverHavoced() bool { return m.everHavoced }

// Parent returns the version this one is layered on, if any.
func (m *Map) Parent() *Map {
	if m.layer == nil {
		return nil
	}
	return m.layer.parent
}

// KnownItems returns the effective known items: the version's own items
// followed by the rewritten items of every ancestor.
func (m *Map) KnownItems() []MapItem {
	items := append([]MapItem(nil), m.items...)
	if m.layer != nil {
		for _, item := range m.layer.parent.KnownItems() {
			if item, ok := m.layer.transform(item); ok {
				items = append(items, item)
			}
		}
	}
	return items
}

// Invariants returns every invariant conjunction governing unknown entries.
func (m *Map) Invariants() []Invariant {
	invs := append([]Invariant(nil), m.invariants...)
	if m.layer != nil {
		invs = append(invs, m.layer.parent.Invariants()...)
	}
	return invs
}

// Flatten returns a base version with the same length, invariants and
// materialized known items.
func (m *Map) Flatten() *Map {
	return &Map{
		id:          nextVersion(),
		meta:        m.meta,
		length:      m.length,
		invariants:  m.Invariants(),
		items:       m.KnownItems(),
		origin:      m,
		everHavoced: m.everHavoced,
	}
}

// WithInvariants returns a copy of m with its invariants replaced by invs.
// m must be a base version.
func (m *Map) WithInvariants(invs []Invariant) *Map {
	assert(m.layer == nil, "with invariants: layered map")
	other := m.clone()
	other.id, other.origin = nextVersion(), nil
	other.invariants = append([]Invariant(nil), invs...)
	return other
}

// withLayer returns a version over m that overrides key.
func (m *Map) withLayer(key, value, present, lengthChange Expr) *Map {
	return &Map{
		id:          nextVersion(),
		meta:        m.meta,
		length:      Add(m.length, lengthChange),
		items:       []MapItem{{Key: key, Value: value, Present: present}},
		layer:       &mapLayer{parent: m, key: key, value: value, present: present},
		everHavoced: m.everHavoced,
	}
}

// lookup returns the version of m with the given id, searching layers and
// the versions flattened ones were built from. Returns nil if not found.
func (m *Map) lookup(id uint64) *Map {
	for v := m; v != nil; {
		if v.id == id {
			return v
		} else if v.layer != nil {
			v = v.layer.parent
		} else {
			v = v.origin
		}
	}
	return nil
}

// refine returns a copy of m in which the version with the given id also
// knows item. Every version between m and that one sees the item rewritten
// through its layers. Returns false if the version is not found.
func (m *Map) refine(id uint64, item MapItem) (*Map, bool) {
	other, _, _, found := m.refineItem(id, item)
	return other, found
}

// refineItem is refine that also returns the item as seen by m. visible is
// false if a layer overrides the item's key.
func (m *Map) refineItem(id uint64, item MapItem) (other *Map, seen MapItem, visible, found bool) {
	switch {
	case m.id == id:
		other = m.clone()
		other.items = append(other.items, item)
		return other, item, true, true

	case m.layer != nil:
		parent, seen, visible, found := m.layer.parent.refineItem(id, item)
		if !found {
			return m, MapItem{}, false, false
		}
		other = m.clone()
		layer := *m.layer
		layer.parent = parent
		other.layer = &layer
		if visible {
			seen, visible = layer.transform(seen)
		}
		return other, seen, visible, true

	case m.origin != nil:
		origin, seen, visible, found := m.origin.refineItem(id, item)
		if !found {
			return m, MapItem{}, false, false
		}
		other = m.clone()
		other.origin = origin
		if visible {
			other.items = append(other.items, seen)
		}
		return other, seen, visible, true
	}
	return m, MapItem{}, false, false
}

// isEmpty returns true if the length is statically zero.
func (m *Map) isEmpty() bool {
	return CompareExpr(m.length, NewConstantExpr(0, LengthWidth)) == 0
}

// knownLength returns the number of present known items with distinct keys.
func (m *Map) knownLength() Expr {
	one, zero := NewConstantExpr(1, LengthWidth), NewConstantExpr(0, LengthWidth)

	var result Expr = zero
	var keys []Expr
	for _, item := range m.KnownItems() {
		conds := []Expr{item.Present}
		for _, k := range keys {
			conds = append(conds, Ne(item.Key, k))
		}
		keys = append(keys, item.Key)
		result = Add(result, Ite(And(conds...), one, zero))
	}
	return result
}

// Equal returns true if m and other are structurally the same version.
func (m *Map) Equal(other *Map) bool {
	if m == other {
		return true
	} else if m == nil || other == nil || m.meta != other.meta || m.everHavoced != other.everHavoced {
		return false
	} else if CompareExpr(m.length, other.length) != 0 {
		return false
	}

	a, b := m.KnownItems(), other.KnownItems()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if CompareExpr(a[i].Key, b[i].Key) != 0 ||
			CompareExpr(a[i].Value, b[i].Value) != 0 ||
			CompareExpr(a[i].Present, b[i].Present) != 0 {
			return false
		}
	}

	x, y := m.Invariants(), other.Invariants()
	if len(x) != len(y) {
		return false
	}
	for i := range x {
		if CompareExpr(x[i].Expr, y[i].Expr) != 0 {
			return false
		}
	}
	return true
}

// String returns a short description of the version.
func (m *Map) String() string {
	v := 0
	for p := m.Parent(); p != nil; p = p.Parent() {
		v++
	}
	return fmt.Sprintf("[Map %s v%d]", m.meta.Name, v)
}
