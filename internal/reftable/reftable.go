// Package reftable implements the RefTable: a growable dense vector of
// Value slots, a free-list of reclaimed indices, and an alias index
// keyed by slot that tracks every variable-binding and array-entry
// backref pointing at that slot.
//
// The alias index is a hand-rolled chained hash table, not a Go map,
// specifically so its rehash-at-load-factor-1/3 policy is a real,
// observable mechanism rather than something Go's builtin map hides.
package reftable

import (
	"phlang/internal/frame"
	"phlang/internal/value"
)

// VarBackref is a variable-name binding in some frame that aliases a slot.
type VarBackref struct {
	Frame *frame.Frame
	Name  string
}

// ArrayBackref is an array position that aliases a slot.
type ArrayBackref struct {
	Map *value.Hashmap
	Key value.Key
}

// record is the alias-index entry for one live slot.
type record struct {
	slot    int
	pinned  bool
	varRefs []VarBackref
	arrRefs []ArrayBackref
	next    *record // chaining within a bucket
}

const initialBuckets = 8
const loadFactorNumerator = 1
const loadFactorDenominator = 3

// RefTable is the shared value pool backing every scalar, array and
// object a running VM can reach.
type RefTable struct {
	slots    []value.Value
	live     []bool
	freeList []int

	buckets []*record
	count   int
}

// New returns an empty RefTable.
func New() *RefTable {
	return &RefTable{
		slots:   make([]value.Value, 0, 256),
		live:    make([]bool, 0, 256),
		buckets: make([]*record, initialBuckets),
	}
}

// Reserve allocates a slot, reusing a freed one when available, and
// returns its index.
func (rt *RefTable) Reserve() int {
	if n := len(rt.freeList); n > 0 {
		idx := rt.freeList[n-1]
		rt.freeList = rt.freeList[:n-1]
		rt.live[idx] = true
		rt.slots[idx] = value.Null().WithIndex(idx)
		return idx
	}
	idx := len(rt.slots)
	rt.slots = append(rt.slots, value.Null().WithIndex(idx))
	rt.live = append(rt.live, true)
	return idx
}

// Get returns the value currently stored at slot.
func (rt *RefTable) Get(slot int) value.Value {
	if slot < 0 || slot >= len(rt.slots) || !rt.live[slot] {
		return value.Null()
	}
	return rt.slots[slot]
}

// Set overwrites slot's value via deep-assign (Store), preserving slot
// identity.
func (rt *RefTable) Set(slot int, v value.Value) {
	if slot < 0 || slot >= len(rt.slots) {
		return
	}
	cur := rt.slots[slot]
	value.Store(&cur, v)
	rt.slots[slot] = cur.WithIndex(slot)
}

// Extract returns the raw value at slot and whether the slot is live.
func (rt *RefTable) Extract(slot int) (value.Value, bool) {
	if slot < 0 || slot >= len(rt.slots) || !rt.live[slot] {
		return value.Null(), false
	}
	return rt.slots[slot], true
}

// bucketFor locates (or lazily creates) the alias record for slot.
func (rt *RefTable) bucketFor(slot int, create bool) *record {
	idx := slot % len(rt.buckets)
	for r := rt.buckets[idx]; r != nil; r = r.next {
		if r.slot == slot {
			return r
		}
	}
	if !create {
		return nil
	}
	r := &record{slot: slot}
	r.next = rt.buckets[idx]
	rt.buckets[idx] = r
	rt.count++
	rt.maybeRehash()
	return r
}

func (rt *RefTable) maybeRehash() {
	if rt.count*loadFactorDenominator <= len(rt.buckets)*loadFactorNumerator {
		return
	}
	newBuckets := make([]*record, len(rt.buckets)*2)
	for _, head := range rt.buckets {
		for r := head; r != nil; {
			next := r.next
			idx := r.slot % len(newBuckets)
			r.next = newBuckets[idx]
			newBuckets[idx] = r
			r = next
		}
	}
	rt.buckets = newBuckets
}

// InstallVarRef registers a variable-name binding as a backref of slot,
// optionally pinning the slot (static attributes, superglobals).
func (rt *RefTable) InstallVarRef(slot int, ref VarBackref, pin bool) {
	r := rt.bucketFor(slot, true)
	r.varRefs = append(r.varRefs, ref)
	if pin {
		r.pinned = true
	}
}

// InstallArrayRef registers an array-node binding as a backref of slot.
func (rt *RefTable) InstallArrayRef(slot int, ref ArrayBackref) {
	r := rt.bucketFor(slot, true)
	r.arrRefs = append(r.arrRefs, ref)
}

// RemoveVarRef removes exactly the matching variable backref from the
// slot's list; the list is compacted (no null placeholder is left) and
// the remaining backrefs keep their order.
func (rt *RefTable) RemoveVarRef(slot int, ref VarBackref) {
	r := rt.bucketFor(slot, false)
	if r == nil {
		return
	}
	for i, v := range r.varRefs {
		if v.Frame == ref.Frame && v.Name == ref.Name {
			r.varRefs = append(r.varRefs[:i], r.varRefs[i+1:]...)
			return
		}
	}
}

// RemoveArrayRef removes exactly the matching array backref, compacting
// the list the same way RemoveVarRef does.
func (rt *RefTable) RemoveArrayRef(slot int, ref ArrayBackref) {
	r := rt.bucketFor(slot, false)
	if r == nil {
		return
	}
	for i, a := range r.arrRefs {
		if a.Map == ref.Map && a.Key == ref.Key {
			r.arrRefs = append(r.arrRefs[:i], r.arrRefs[i+1:]...)
			return
		}
	}
}

// Pin marks slot's record as kept even when its last backref disappears
// (static attributes, superglobals).
func (rt *RefTable) Pin(slot int) {
	rt.bucketFor(slot, true).pinned = true
}

// BackrefCount reports how many variable and array backrefs currently
// alias slot — used by the slot-conservation and alias-coherence tests.
func (rt *RefTable) BackrefCount(slot int) int {
	r := rt.bucketFor(slot, false)
	if r == nil {
		return 0
	}
	return len(r.varRefs) + len(r.arrRefs)
}

// Release breaks every backref of slot — every variable-binding and
// array-entry that referenced it is unlinked — and returns the slot to
// the free-list. Only a pinned slot released with force false is kept
// (nothing is unlinked and false is returned); remaining backrefs do not
// prevent release.
func (rt *RefTable) Release(slot int, force bool) bool {
	if slot < 0 || slot >= len(rt.slots) || !rt.live[slot] {
		return false
	}
	r := rt.bucketFor(slot, false)
	if r != nil {
		if r.pinned && !force {
			return false
		}
		for _, v := range r.varRefs {
			delete(v.Frame.Locals, v.Name)
		}
		for _, a := range r.arrRefs {
			a.Map.Unset(a.Key)
		}
		rt.deleteBucket(slot)
	}

	cur := rt.slots[slot]
	cur.Release()
	rt.live[slot] = false
	rt.slots[slot] = value.Null()
	rt.freeList = append(rt.freeList, slot)
	return true
}

func (rt *RefTable) deleteBucket(slot int) {
	idx := slot % len(rt.buckets)
	var prev *record
	for r := rt.buckets[idx]; r != nil; r = r.next {
		if r.slot == slot {
			if prev == nil {
				rt.buckets[idx] = r.next
			} else {
				prev.next = r.next
			}
			rt.count--
			return
		}
		prev = r
	}
}

// ReservedCount reports how many slots have ever been reserved (for the
// slot-conservation testable property).
func (rt *RefTable) ReservedCount() int { return len(rt.slots) }

// FreeCount reports how many slots are currently on the free-list.
func (rt *RefTable) FreeCount() int { return len(rt.freeList) }

// LiveCount reports len(reserved) - len(free).
func (rt *RefTable) LiveCount() int { return len(rt.slots) - len(rt.freeList) }
