package classreg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phlang/internal/reftable"
	"phlang/internal/value"
)

func TestIsInstanceOfAncestorsAndInterfaces(t *testing.T) {
	throwable := NewClass("Throwable")
	base := NewClass("Exception")
	base.Interfaces["Throwable"] = true
	child := NewClass("MyException")
	child.Parent = base

	assert.True(t, IsInstanceOf(child, base), "expected MyException instanceof Exception")
	assert.True(t, IsInstanceOf(child, throwable), "expected MyException instanceof Throwable via ancestor's interface")
	unrelated := NewClass("Other")
	assert.False(t, IsInstanceOf(child, unrelated), "expected MyException not instanceof Other")
}

func TestCheckVisibility(t *testing.T) {
	a := NewClass("A")
	b := NewClass("B")
	b.Parent = a
	c := NewClass("C")

	assert.True(t, CheckVisibility(Public, a, c), "public should always be permitted")
	assert.False(t, CheckVisibility(Private, a, b), "private should require identical class")
	assert.True(t, CheckVisibility(Private, a, a), "private should permit the declaring class itself")
	assert.True(t, CheckVisibility(Protected, a, b), "protected should permit a derived class")
	assert.True(t, CheckVisibility(Protected, b, a), "protected should permit the ancestor too (either direction)")
	assert.False(t, CheckVisibility(Protected, a, c), "protected should forbid an unrelated class")
}

func TestLookupMethodWalksAncestors(t *testing.T) {
	base := NewClass("Base")
	base.Methods["greet"] = &Method{DeclClass: base}
	child := NewClass("Child")
	child.Parent = base

	m, ok := LookupMethod(child, "greet")
	require.True(t, ok, "expected inherited method lookup to find Base.greet")
	assert.Equal(t, base, m.DeclClass)
}

func TestInstantiateReservesAttributeSlots(t *testing.T) {
	rt := reftable.New()
	base := NewClass("Base")
	base.Attrs["count"] = &AttrDef{Name: "count", Kind: AttrInstance, Default: value.InitFromInt(0)}
	child := NewClass("Child")
	child.Parent = base
	child.Attrs["name"] = &AttrDef{Name: "name", Kind: AttrInstance, Default: value.InitFromString("x")}

	inst := Instantiate(rt, child)
	require.Len(t, inst.Attrs, 2)
	v := rt.Get(inst.Attrs["count"])
	assert.Equal(t, int64(0), v.ToInt(), "expected inherited default for count")
}

func TestChildAttributeShadowsParent(t *testing.T) {
	rt := reftable.New()
	base := NewClass("Base")
	base.Attrs["x"] = &AttrDef{Name: "x", Kind: AttrInstance, Default: value.InitFromInt(1)}
	child := NewClass("Child")
	child.Parent = base
	child.Attrs["x"] = &AttrDef{Name: "x", Kind: AttrInstance, Default: value.InitFromInt(2)}

	inst := Instantiate(rt, child)
	require.Len(t, inst.Attrs, 1, "expected shadowed attribute to collapse to one slot")
	assert.Equal(t, int64(2), rt.Get(inst.Attrs["x"]).ToInt(), "expected child's default to win over parent's")
}
