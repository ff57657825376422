// Package value implements the dynamic value model: a tagged sum type
// holding one canonical representation, plus the two container payloads a
// value can point at (Hashmap for arrays, and the Objecter interface
// implemented by class instances living in the classreg package). Value,
// Hashmap and their coercions are kept in one package rather than
// splitting mutually recursive runtime types across packages for their
// own sake.
package value

import "math"

// Kind is a value's most-recently-assigned representation: a value's
// declared type is whatever representation was assigned to it last.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindReal
	KindString
	KindArray
	KindObject
	KindResource
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindReal:
		return "real"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	case KindResource:
		return "resource"
	default:
		return "unknown"
	}
}

// Flag is a bitmask of representations valid on a Value. Each
// constructor sets only the flag of its own representation; coercions
// (ToString, ToInt, ...) return converted results and do not cache them
// or add bits to the receiver.
type Flag uint16

const (
	FlagBool Flag = 1 << iota
	FlagInt
	FlagReal
	FlagString
	FlagArray
	FlagObject
	FlagResource
)

// NoIndex marks a Value as non-addressable for aliasing: literals and
// method return values that were never bound to a variable.
const NoIndex = -1

// Objecter is implemented by class instances (internal/classreg.Instance)
// so that this package never imports classreg — breaking what would
// otherwise be a Value↔Instance↔Class import cycle.
type Objecter interface {
	ClassName() string
}

// Resource is an opaque host-managed handle (a file descriptor, a stream,
// a DB connection) threaded through the VM as a Value.
type Resource struct {
	Kind string
	Data any
}

// Value is the tagged dynamic value every variable, array slot, and
// attribute holds.
type Value struct {
	kind  Kind
	flags Flag

	i int64
	r float64
	s []byte

	arr *Hashmap
	obj Objecter
	res *Resource

	index int // RefTable slot, or NoIndex
}

// Null is the canonical unaddressable null literal.
func Null() Value { return Value{kind: KindNull, index: NoIndex} }

// InitFromNull returns an unaddressable null (callers that want to keep
// a destination's RefTable slot should use Store, not re-assign the
// returned Value).
func InitFromNull() Value { return Null() }

// InitFromBool builds an unaddressable bool literal.
func InitFromBool(b bool) Value {
	i := int64(0)
	if b {
		i = 1
	}
	return Value{kind: KindBool, flags: FlagBool, i: i, index: NoIndex}
}

// InitFromInt builds an unaddressable int literal.
func InitFromInt(n int64) Value {
	return Value{kind: KindInt, flags: FlagInt, i: n, index: NoIndex}
}

// InitFromReal builds an unaddressable real literal.
func InitFromReal(f float64) Value {
	return Value{kind: KindReal, flags: FlagReal, r: f, index: NoIndex}
}

// InitFromString builds an unaddressable string literal.
func InitFromString(s string) Value {
	return Value{kind: KindString, flags: FlagString, s: []byte(s), index: NoIndex}
}

// InitFromArray wraps a Hashmap as an array value.
func InitFromArray(h *Hashmap) Value {
	return Value{kind: KindArray, flags: FlagArray, arr: h, index: NoIndex}
}

// InitFromObject wraps a class instance as an object value.
func InitFromObject(o Objecter) Value {
	return Value{kind: KindObject, flags: FlagObject, obj: o, index: NoIndex}
}

// InitFromResource wraps a host handle as a resource value.
func InitFromResource(r *Resource) Value {
	return Value{kind: KindResource, flags: FlagResource, res: r, index: NoIndex}
}

// Kind reports the value's declared type.
func (v Value) Kind() Kind { return v.kind }

// Index returns the RefTable slot this value is bound to, or NoIndex.
func (v Value) Index() int { return v.index }

// WithIndex returns a copy of v bound to the given RefTable slot — used by
// LOAD to record, on the pushed value, which slot it came from.
func (v Value) WithIndex(idx int) Value {
	v.index = idx
	return v
}

// Addressable reports whether this value may be the target of an alias:
// a sentinel index marks non-addressable values.
func (v Value) Addressable() bool { return v.index != NoIndex }

func (v Value) RawInt() int64       { return v.i }
func (v Value) RawReal() float64    { return v.r }
func (v Value) RawBytes() []byte    { return v.s }
func (v Value) RawArray() *Hashmap  { return v.arr }
func (v Value) RawObject() Objecter { return v.obj }
func (v Value) RawResource() *Resource { return v.res }

// Release drops this value's references to heap payloads. Array/Object
// refcounting is handled by the RefTable on slot release, not here: Value
// itself carries no finalizer, keeping a single canonical representation
// with lazy conversion.
func (v *Value) Release() {
	if v.arr != nil {
		v.arr.release()
	}
	*v = Value{index: NoIndex}
}

// Store performs a deep-assign: dst takes on src's representation and
// payload while keeping dst's own RefTable slot identity. This is what
// the STORE opcode uses to write a new value into a bound
// variable without disturbing its aliasing.
func Store(dst *Value, src Value) {
	keepIndex := dst.index
	if dst.arr != nil && dst.arr != src.arr {
		dst.arr.release()
	}
	if src.arr != nil {
		src.arr.retain()
	}
	*dst = src
	dst.index = keepIndex
}

// Load performs an alias-copy: every representation flag and payload of
// src is copied onto the returned value, including src's own slot index,
// which the LOAD opcode then records on the value it pushes.
func Load(src Value) Value {
	if src.arr != nil {
		src.arr.retain()
	}
	return src
}

// invalidateDerived clears representation flags that are no longer valid
// once a value's canonical kind changes via assignment.
func (v *Value) invalidateDerived() {
	v.flags = 0
}

// isIntegral reports whether f has no fractional part and fits an int64
// exactly.
func isIntegral(f float64) bool {
	return f == math.Trunc(f) && !math.IsInf(f, 0) && f >= math.MinInt64 && f <= math.MaxInt64
}
