package funcreg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverloadChainPrepends(t *testing.T) {
	r := New()
	r.DefineUser(&UserFunction{Name: "f", Signature: "i;"})
	r.DefineUser(&UserFunction{Name: "f", Signature: "s;"})

	head, ok := r.Lookup("f")
	require.True(t, ok, "expected f to be registered")
	assert.Equal(t, "s;", head.Signature, "expected most recently registered at head")
	require.NotNil(t, head.Next, "expected earlier overload in the chain")
	assert.Equal(t, "i;", head.Next.Signature)
}

func TestResolveOverloadByArity(t *testing.T) {
	r := New()
	r.DefineUser(&UserFunction{Name: "f", Params: []Arg{{Name: "x"}}, Signature: "i;"})
	r.DefineUser(&UserFunction{Name: "f", Params: []Arg{{Name: "x"}, {Name: "y"}}, Signature: "i;i;"})

	head, _ := r.Lookup("f")
	got := ResolveOverload(head, []string{"int", "int"})
	require.NotNil(t, got)
	assert.Equal(t, "i;i;", got.Signature, "expected 2-arg overload selected")
}

func TestResolveOverloadLongestCommonPrefix(t *testing.T) {
	r := New()
	r.DefineUser(&UserFunction{Name: "f", Params: []Arg{{Name: "x"}}, Signature: "i;"})
	r.DefineUser(&UserFunction{Name: "f", Params: []Arg{{Name: "x"}}, Signature: "s;"})

	head, _ := r.Lookup("f")

	got := ResolveOverload(head, []string{"int"})
	assert.Equal(t, "i;", got.Signature, "expected int overload for int arg")

	got = ResolveOverload(head, []string{"string"})
	assert.Equal(t, "s;", got.Signature, "expected string overload for string arg")
}

// TestOverloadStability checks that resolving the same argument types
// repeatedly always selects the same overload.
func TestOverloadStability(t *testing.T) {
	r := New()
	r.DefineUser(&UserFunction{Name: "f", Params: []Arg{{Name: "x"}}, Signature: "i;"})
	r.DefineUser(&UserFunction{Name: "f", Params: []Arg{{Name: "x"}}, Signature: "s;"})
	head, _ := r.Lookup("f")

	first := ResolveOverload(head, []string{"int"})
	for i := 0; i < 20; i++ {
		again := ResolveOverload(head, []string{"int"})
		assert.Same(t, first, again, "overload resolution is not stable across calls")
	}
}

func TestResolveOverloadTieBreaksToEarliestRegistered(t *testing.T) {
	r := New()
	r.DefineUser(&UserFunction{Name: "f", Params: []Arg{{Name: "x"}}, Signature: "x;"})
	r.DefineUser(&UserFunction{Name: "f", Params: []Arg{{Name: "x"}}, Signature: "x;"})
	head, _ := r.Lookup("f")

	got := ResolveOverload(head, []string{"bool"})
	// Both candidates share an identical signature prefix with the call
	// site; the earliest-registered (chain tail) must win.
	assert.Same(t, head.Next, got, "expected earliest-registered candidate to win a tie")
}
