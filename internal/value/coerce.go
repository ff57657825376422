package value

import (
	"strconv"
	"strings"
)

// ToBool applies the truthiness rule: false, 0, 0.0, "", "0", null, and
// the empty array are false; everything else is true.
func (v Value) ToBool() bool {
	switch v.kind {
	case KindNull:
		return false
	case KindBool:
		return v.i != 0
	case KindInt:
		return v.i != 0
	case KindReal:
		return v.r != 0
	case KindString:
		s := string(v.s)
		return s != "" && s != "0"
	case KindArray:
		return v.arr != nil && v.arr.Len() > 0
	case KindObject, KindResource:
		return true
	default:
		return false
	}
}

// parseNumericPrefix consumes a leading optional sign, a run of digits, an
// optional '.' fractional part, and an optional e/E exponent. It returns
// the parsed value, whether the literal had a fractional
// or exponent part (hence is "real"), how many leading bytes of s (after
// skipping whitespace) were consumed by the match, and whether anything
// numeric was found at all.
func parseNumericPrefix(s string) (f float64, isReal bool, consumed int, ok bool) {
	i := 0
	n := len(s)
	for i < n && isSpace(s[i]) {
		i++
	}
	start := i
	if i < n && (s[i] == '+' || s[i] == '-') {
		i++
	}
	digitsStart := i
	for i < n && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	hasIntDigits := i > digitsStart
	hasFrac := false
	if i < n && s[i] == '.' {
		j := i + 1
		k := j
		for k < n && s[k] >= '0' && s[k] <= '9' {
			k++
		}
		if k > j || hasIntDigits {
			hasFrac = true
			i = k
		}
	}
	if !hasIntDigits && !hasFrac {
		return 0, false, 0, false
	}
	hasExp := false
	if i < n && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < n && (s[j] == '+' || s[j] == '-') {
			j++
		}
		k := j
		for k < n && s[k] >= '0' && s[k] <= '9' {
			k++
		}
		if k > j {
			hasExp = true
			i = k
		}
	}
	lit := s[start:i]
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return 0, false, 0, false
	}
	return f, hasFrac || hasExp, i, true
}

// ToNumeric coerces to either an Int or a Real value, following the
// leading-numeric-prefix parse rule. Non-numeric strings coerce to 0 (int).
func (v Value) ToNumeric() Value {
	switch v.kind {
	case KindInt, KindReal:
		return v
	case KindBool:
		return InitFromInt(v.i)
	case KindNull:
		return InitFromInt(0)
	case KindString:
		f, isReal, _, ok := parseNumericPrefix(string(v.s))
		if !ok {
			return InitFromInt(0)
		}
		if isReal {
			return InitFromReal(f)
		}
		return InitFromInt(int64(f))
	case KindArray:
		if v.arr.Len() == 0 {
			return InitFromInt(0)
		}
		return InitFromInt(1)
	default:
		return InitFromInt(0)
	}
}

// ToInt coerces to an integer.
func (v Value) ToInt() int64 {
	switch v.kind {
	case KindInt:
		return v.i
	case KindReal:
		return int64(v.r)
	default:
		return v.ToNumeric().i
	}
}

// ToReal coerces to a float64.
func (v Value) ToReal() float64 {
	switch v.kind {
	case KindReal:
		return v.r
	case KindInt:
		return float64(v.i)
	default:
		n := v.ToNumeric()
		if n.kind == KindReal {
			return n.r
		}
		return float64(n.i)
	}
}

// ToString coerces to a string.
func (v Value) ToString() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindBool:
		if v.i != 0 {
			return "1"
		}
		return ""
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindReal:
		return formatReal(v.r)
	case KindString:
		return string(v.s)
	case KindArray:
		return "Array"
	case KindObject:
		return "Object(" + v.obj.ClassName() + ")"
	case KindResource:
		return "Resource"
	default:
		return ""
	}
}

func formatReal(f float64) string {
	s := strconv.FormatFloat(f, 'G', -1, 64)
	// PHP renders the exponent marker uppercase with an explicit sign.
	if i := strings.IndexAny(s, "E"); i >= 0 {
		mantissa, exp := s[:i], s[i+1:]
		if !strings.HasPrefix(exp, "+") && !strings.HasPrefix(exp, "-") {
			exp = "+" + exp
		}
		s = mantissa + "E" + exp
	}
	return s
}

// ReserveSlot allocates a fresh RefTable slot holding v and returns its
// index, for casts like ToHashmap that need to place a value somewhere a
// Hashmap node can point at. This package cannot import reftable
// directly (reftable holds Value, so that would be a cycle), so
// vmcore.New wires this once at startup, the same way it wires
// ResolveSlot.
var ReserveSlot func(v Value) int

// ToHashmap coerces a non-array value into a single-element array
// (PHP's `(array)$scalar` cast); arrays return themselves.
func (v Value) ToHashmap() *Hashmap {
	if v.kind == KindArray {
		return v.arr
	}
	h := NewHashmap()
	if v.kind != KindNull && ReserveSlot != nil {
		h.Insert(IntKey(0), ReserveSlot(v))
	}
	return h
}

// ToObject reports the value's Objecter payload, or nil if it has none.
// Scalar-to-object casting (stdClass-style) is an embedder concern above
// this package.
func (v Value) ToObject() Objecter {
	if v.kind == KindObject {
		return v.obj
	}
	return nil
}
