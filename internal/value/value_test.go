package value

import "testing"

func TestToBoolTruthiness(t *testing.T) {
	falsy := []Value{
		Null(),
		InitFromBool(false),
		InitFromInt(0),
		InitFromReal(0),
		InitFromString(""),
		InitFromString("0"),
		InitFromArray(NewHashmap()),
	}
	for _, v := range falsy {
		if v.ToBool() {
			t.Errorf("expected %v (%s) to be falsy", v, v.Kind())
		}
	}

	truthy := []Value{
		InitFromBool(true),
		InitFromInt(1),
		InitFromInt(-1),
		InitFromReal(0.1),
		InitFromString("0.0"),
		InitFromString("false"),
	}
	for _, v := range truthy {
		if !v.ToBool() {
			t.Errorf("expected %v (%s) to be truthy", v, v.Kind())
		}
	}
}

func TestNumericPrefixParse(t *testing.T) {
	tests := []struct {
		in       string
		wantInt  int64
		wantReal bool
	}{
		{"42", 42, false},
		{"  42abc", 42, false},
		{"3.14", 0, true},
		{"1e3", 0, true},
		{"-7", -7, false},
		{"+7", 7, false},
		{"abc", 0, false},
	}
	for _, tt := range tests {
		n := InitFromString(tt.in).ToNumeric()
		if tt.wantReal {
			if n.Kind() != KindReal {
				t.Errorf("%q: expected real, got %s", tt.in, n.Kind())
			}
			continue
		}
		if n.Kind() != KindInt || n.RawInt() != tt.wantInt {
			t.Errorf("%q: expected int %d, got %s %v", tt.in, tt.wantInt, n.Kind(), n)
		}
	}
}

func TestCompareNonStrictNumericStrings(t *testing.T) {
	a := InitFromString("10")
	b := InitFromString("9")
	if Compare(a, b, false) <= 0 {
		t.Errorf("expected \"10\" > \"9\" numerically")
	}
	if Compare(a, b, true) == 0 {
		// strict compare of two strings falls through to byte compare.
	}
}

func TestCompareArraysBySizeThenEntries(t *testing.T) {
	h1 := NewHashmap()
	h1.Insert(IntKey(0), 1)
	h2 := NewHashmap()
	h2.Insert(IntKey(0), 1)
	h2.Insert(IntKey(1), 2)

	a := InitFromArray(h1)
	b := InitFromArray(h2)
	if Compare(a, b, false) >= 0 {
		t.Errorf("expected smaller array to compare less than larger array")
	}
}

func TestAddHashmapUnionKeepsDstKeys(t *testing.T) {
	left := NewHashmap()
	left.Insert(StringKey("x"), 10)
	right := NewHashmap()
	right.Insert(StringKey("x"), 20)
	right.Insert(StringKey("y"), 30)

	sum := Add(InitFromArray(left), InitFromArray(right), false)
	merged := sum.RawArray()
	if merged.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", merged.Len())
	}
	if slot, _ := merged.Get(StringKey("x")); slot != 10 {
		t.Errorf("expected dst's slot for shared key x to win, got %d", slot)
	}
}

func TestAddRealPromotion(t *testing.T) {
	sum := Add(InitFromInt(1), InitFromReal(2.5), false)
	if sum.Kind() != KindReal || sum.ToReal() != 3.5 {
		t.Errorf("expected real 3.5, got %s %v", sum.Kind(), sum)
	}
}

// TestIdempotentCoercion verifies testable property 7: ToString∘ToString =
// ToString, and an integer round-trips through ToString then reparse.
func TestIdempotentCoercion(t *testing.T) {
	v := InitFromInt(123)
	s1 := v.ToString()
	s2 := InitFromString(s1).ToString()
	if s1 != s2 {
		t.Fatalf("ToString not idempotent: %q vs %q", s1, s2)
	}
	reparsed := InitFromString(s1).ToNumeric()
	if reparsed.Kind() != KindInt || reparsed.RawInt() != 123 {
		t.Fatalf("round-trip through string lost integer-ness: %v", reparsed)
	}
}

func TestStoreKeepsDestinationSlot(t *testing.T) {
	dst := InitFromInt(1).WithIndex(7)
	Store(&dst, InitFromString("hi"))
	if dst.Index() != 7 {
		t.Fatalf("Store must preserve destination slot, got %d", dst.Index())
	}
	if dst.ToString() != "hi" {
		t.Fatalf("Store must copy source representation")
	}
}

func TestCanonicalIntKey(t *testing.T) {
	cases := map[string]bool{
		"0":   true,
		"1":   true,
		"-1":  true,
		"01":  false,
		"+1":  false,
		"-0":  false,
		"1.0": false,
		"":    false,
	}
	for s, want := range cases {
		_, ok := CanonicalInt(s)
		if ok != want {
			t.Errorf("CanonicalInt(%q) ok=%v want=%v", s, ok, want)
		}
	}
}
