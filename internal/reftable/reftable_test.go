package reftable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phlang/internal/frame"
	"phlang/internal/value"
)

func TestSlotConservation(t *testing.T) {
	rt := New()
	var slots []int
	for i := 0; i < 50; i++ {
		slots = append(slots, rt.Reserve())
	}
	for _, s := range slots {
		rt.Release(s, true)
	}
	require.Equal(t, 0, rt.LiveCount(), "expected 0 live slots after releasing all")
	require.Equal(t, rt.ReservedCount(), rt.FreeCount(), "every reserved slot should be freed")
}

func TestAliasCoherence(t *testing.T) {
	rt := New()
	slot := rt.Reserve()
	rt.Set(slot, value.InitFromInt(42))

	f1 := frame.New(nil)
	f1.Bind("a", slot)
	f2 := frame.New(nil)
	f2.Bind("b", slot)

	rt.InstallVarRef(slot, VarBackref{Frame: f1, Name: "a"}, false)
	rt.InstallVarRef(slot, VarBackref{Frame: f2, Name: "b"}, false)

	rt.Set(slot, value.InitFromInt(99))

	va, _ := rt.Extract(f1.Locals["a"])
	vb, _ := rt.Extract(f2.Locals["b"])
	assert.Equal(t, int64(99), va.ToInt(), "alias a diverged")
	assert.Equal(t, int64(99), vb.ToInt(), "alias b diverged")
}

func TestUnsetPropagation(t *testing.T) {
	rt := New()
	slot := rt.Reserve()
	rt.Set(slot, value.InitFromInt(5))

	fa := frame.New(nil)
	fa.Bind("x", slot)
	fb := frame.New(nil)
	fb.Bind("y", slot)

	rt.InstallVarRef(slot, VarBackref{Frame: fa, Name: "x"}, false)
	rt.InstallVarRef(slot, VarBackref{Frame: fb, Name: "y"}, false)

	require.True(t, rt.Release(slot, false), "expected unpinned slot to release")

	_, xOK := fa.Locals["x"]
	_, yOK := fb.Locals["y"]
	assert.False(t, xOK, "expected x's binding to be unlinked")
	assert.False(t, yOK, "expected y's binding to be unlinked")
	assert.Equal(t, 1, rt.FreeCount(), "expected the slot to return to the free-list")
}

func TestPinnedSlotSurvivesLastBackref(t *testing.T) {
	rt := New()
	slot := rt.Reserve()
	rt.Pin(slot)

	f := frame.New(nil)
	f.Bind("s", slot)
	rt.InstallVarRef(slot, VarBackref{Frame: f, Name: "s"}, true)
	rt.RemoveVarRef(slot, VarBackref{Frame: f, Name: "s"})

	require.False(t, rt.Release(slot, false), "pinned slot must not release without force")
	require.True(t, rt.Release(slot, true), "force release must still succeed on a pinned slot")
}

func TestRehashPreservesBackrefs(t *testing.T) {
	rt := New()
	f := frame.New(nil)
	var slots []int
	for i := 0; i < 100; i++ {
		s := rt.Reserve()
		slots = append(slots, s)
		name := string(rune('a' + i%26))
		f.Bind(name, s)
		rt.InstallVarRef(s, VarBackref{Frame: f, Name: name}, false)
	}
	for _, s := range slots {
		require.Equal(t, 1, rt.BackrefCount(s), "slot %d lost its backref across rehash", s)
	}
}

func TestArrayBackrefUnsetOnRelease(t *testing.T) {
	rt := New()
	slot := rt.Reserve()
	rt.Set(slot, value.InitFromInt(1))

	h := value.NewHashmap()
	h.Insert(value.IntKey(0), slot)
	rt.InstallArrayRef(slot, ArrayBackref{Map: h, Key: value.IntKey(0)})

	rt.Release(slot, false)

	_, ok := h.Get(value.IntKey(0))
	assert.False(t, ok, "expected array entry to be unset when its slot released")
}
