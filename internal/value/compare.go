package value

import "bytes"

// looksNumeric reports whether s parses entirely (ignoring surrounding
// whitespace) as a number, for the "numeric-like strings compare
// numerically" rule.
func looksNumeric(s string) (float64, bool) {
	f, _, consumed, ok := parseNumericPrefix(s)
	if !ok {
		return 0, false
	}
	rest := s[consumed:]
	for i := 0; i < len(rest); i++ {
		if !isSpace(rest[i]) {
			return 0, false
		}
	}
	return f, true
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// Compare(a, b, strict) returns negative/zero/positive. Non-strict
// numeric-like strings compare
// numerically; arrays compare by size then entry-wise; strict mode
// requires identical Kind.
func Compare(a, b Value, strict bool) int {
	if strict {
		if a.kind != b.kind {
			return -2 // types differ; any nonzero result signals "not equal"
		}
		return compareSameKind(a, b)
	}

	if a.kind == KindArray || b.kind == KindArray {
		return compareArrayLike(a, b)
	}
	if a.kind == KindNull && b.kind == KindNull {
		return 0
	}
	if a.kind == KindBool || b.kind == KindBool || a.kind == KindNull || b.kind == KindNull {
		ab, bb := a.ToBool(), b.ToBool()
		return boolCompare(ab, bb)
	}
	if a.kind == KindString && b.kind == KindString {
		as, bs := string(a.s), string(b.s)
		afn, aok := looksNumeric(as)
		bfn, bok := looksNumeric(bs)
		if aok && bok {
			return realCompare(afn, bfn)
		}
		return bytes.Compare(a.s, b.s)
	}
	// Numeric vs string, or numeric vs numeric: compare numerically.
	return realCompare(a.ToReal(), b.ToReal())
}

func compareSameKind(a, b Value) int {
	switch a.kind {
	case KindNull:
		return 0
	case KindBool:
		return boolCompare(a.i != 0, b.i != 0)
	case KindInt:
		if a.i == b.i {
			return 0
		} else if a.i < b.i {
			return -1
		}
		return 1
	case KindReal:
		return realCompare(a.r, b.r)
	case KindString:
		return bytes.Compare(a.s, b.s)
	case KindArray:
		return compareArrayLike(a, b)
	case KindObject:
		if a.obj == b.obj {
			return 0
		}
		return -2
	default:
		return -2
	}
}

// ResolveSlot indirects a RefTable slot lookup so entry-wise array
// comparison can reach the values a Hashmap's nodes only store by slot
// index. This package cannot import reftable directly (reftable holds
// Value, so that would be a cycle), so vmcore.New wires this once at
// startup instead. A nil resolver (package used standalone, outside any
// VM) falls back to comparing keys only.
var ResolveSlot func(slot int) Value

func compareArrayLike(a, b Value) int {
	if a.kind != KindArray || b.kind != KindArray {
		// Arrays are always "greater" than non-arrays in PHP's ordering.
		if a.kind == KindArray {
			return 1
		}
		return -1
	}
	if a.arr.Len() != b.arr.Len() {
		if a.arr.Len() < b.arr.Len() {
			return -1
		}
		return 1
	}
	for _, k := range a.arr.Keys() {
		sa, ok := a.arr.Get(k)
		if !ok {
			return -2
		}
		sb, ok := b.arr.Get(k)
		if !ok {
			return -2
		}
		if ResolveSlot == nil {
			continue
		}
		if Compare(ResolveSlot(sa), ResolveSlot(sb), false) != 0 {
			return -2
		}
	}
	return 0
}

func boolCompare(a, b bool) int {
	if a == b {
		return 0
	}
	if !a && b {
		return -1
	}
	return 1
}

func realCompare(a, b float64) int {
	if a == b {
		return 0
	} else if a < b {
		return -1
	}
	return 1
}

// StrictEqual implements TEQ/SEQ-family helpers: identical type and value.
func StrictEqual(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	return compareSameKind(a, b) == 0
}

// LooseEqual implements EQ/NEQ.
func LooseEqual(a, b Value) bool {
	return Compare(a, b, false) == 0
}
