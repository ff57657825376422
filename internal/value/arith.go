package value

// Add: if either operand is a hashmap, the result is a hashmap union
// (keys from dst win); otherwise arithmetic with
// real-promotion (if either operand is Real, the result is Real).
// swapped indicates dst is the right-hand operand of a non-commutative
// expression the caller is re-associating (the dispatcher's `*_STORE`
// opcodes read back through the slot on the left, so swapped lets Add
// serve both `$a + $b` and `$b =+ $a`-style call sites without the caller
// re-deriving which side is canonical).
func Add(dst Value, other Value, swapped bool) Value {
	if dst.kind == KindArray || other.kind == KindArray {
		left, right := dst.ToHashmap(), other.ToHashmap()
		if swapped {
			left, right = right, left
		}
		return InitFromArray(Union(left, right))
	}
	a, b := dst.ToNumeric(), other.ToNumeric()
	if swapped {
		a, b = b, a
	}
	if a.kind == KindReal || b.kind == KindReal {
		return InitFromReal(a.ToReal() + b.ToReal())
	}
	return InitFromInt(a.i + b.i)
}
